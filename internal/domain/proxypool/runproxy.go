package proxypool

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/agenshield/shieldd/internal/domain/netguard"
	"github.com/agenshield/shieldd/internal/domain/policy"
)

// runProxy is the Per-Run Proxy (C7) bound to one kernel-assigned port. It
// is owned exclusively by the pool entry that created it.
type runProxy struct {
	execID        string
	listener      net.Listener
	urlPolicies   URLPolicyGetter
	defaultAction DefaultActionGetter
	onActivity    func()
	deny          DenyNotifier
	logger        *slog.Logger

	dialer     *net.Dialer
	httpClient *http.Client
}

func newRunProxy(execID string, urlPolicies URLPolicyGetter, defaultAction DefaultActionGetter, onActivity func(), deny DenyNotifier, logger *slog.Logger) (*runProxy, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("proxypool: listen: %w", err)
	}
	p := &runProxy{
		execID:        execID,
		listener:      ln,
		urlPolicies:   urlPolicies,
		defaultAction: defaultAction,
		onActivity:    onActivity,
		deny:          deny,
		logger:        logger,
		dialer:        &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second},
	}
	p.httpClient = &http.Client{Transport: &http.Transport{DialContext: p.safeDialContext}}
	return p, nil
}

func (p *runProxy) port() int {
	return p.listener.Addr().(*net.TCPAddr).Port
}

// serve runs the proxy's accept loop until the listener is closed.
func (p *runProxy) serve() {
	srv := &http.Server{Handler: p}
	_ = srv.Serve(p.listener)
}

func (p *runProxy) close() error {
	return p.listener.Close()
}

func (p *runProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.onActivity()

	if r.Method == http.MethodConnect {
		p.handleConnect(w, r)
		return
	}
	p.handlePlain(w, r)
}

// targetURL implements §4.7 step 2: the full URL used for policy matching.
func (p *runProxy) targetURL(r *http.Request) string {
	if r.Method == http.MethodConnect {
		// A trailing slash gives CONNECT's path-free target a root path,
		// so domain-wide allow patterns like "https://host/**" still match.
		return "https://" + r.Host + "/"
	}
	if r.URL.IsAbs() {
		return r.URL.String()
	}
	return "http://" + r.Host + r.URL.RequestURI()
}

func (p *runProxy) decide(r *http.Request) (policy.Decision, string) {
	target := p.targetURL(r)
	policies := p.urlPolicies()
	decision, _ := policy.Decide(policies, policy.OpHTTPRequest, target, p.defaultAction())
	return decision, target
}

func (p *runProxy) handlePlain(w http.ResponseWriter, r *http.Request) {
	decision, target := p.decide(r)
	if !decision.Allowed {
		p.deny.NotifyDeny(p.execID, target, decision.Reason)
		http.Error(w, "forbidden: "+decision.Reason, http.StatusForbidden)
		return
	}

	outReq := r.Clone(r.Context())
	outReq.RequestURI = ""
	if !outReq.URL.IsAbs() {
		outReq.URL.Scheme = "http"
		outReq.URL.Host = r.Host
	}

	resp, err := p.httpClient.Do(outReq)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (p *runProxy) handleConnect(w http.ResponseWriter, r *http.Request) {
	decision, target := p.decide(r)
	if !decision.Allowed {
		p.deny.NotifyDeny(p.execID, target, decision.Reason)
		w.WriteHeader(http.StatusForbidden)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "proxy does not support hijacking", http.StatusInternalServerError)
		return
	}

	upstream, err := p.safeDialContext(r.Context(), "tcp", r.Host)
	if err != nil {
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	client, _, err := hijacker.Hijack()
	if err != nil {
		_ = upstream.Close()
		return
	}

	_, _ = client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))
	go p.splice(client, upstream)
}

func (p *runProxy) splice(client, upstream net.Conn) {
	defer client.Close()
	defer upstream.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(upstream, client)
		if tc, ok := upstream.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(client, upstream)
		if tc, ok := client.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
	}()
	wg.Wait()
}

// safeDialContext delegates to netguard's shared SSRF/DNS-rebinding guard.
func (p *runProxy) safeDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return netguard.SafeDialContext(ctx, p.dialer, network, addr)
}
