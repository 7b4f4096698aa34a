package proxypool

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/agenshield/shieldd/internal/domain/netguard"
	"github.com/agenshield/shieldd/internal/domain/policy"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func allowAllPolicies() []*policy.Policy {
	return []*policy.Policy{
		{ID: "allow-all", Enabled: true, Action: policy.ActionAllow, Target: policy.TargetURL, Patterns: []string{"https://*/**"}},
	}
}

func denyAllGetter() []*policy.Policy { return nil }
func denyDefault() policy.Action      { return policy.ActionDeny }
func allowDefault() policy.Action     { return policy.ActionAllow }

func TestPool_AcquireReturnsDistinctPorts(t *testing.T) {
	t.Parallel()

	p := New(testLogger())
	defer p.Shutdown()

	port1, err := p.Acquire("exec-1", "curl", allowAllPolicies, allowDefault)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	port2, err := p.Acquire("exec-2", "curl", allowAllPolicies, allowDefault)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if port1 == 0 || port2 == 0 {
		t.Fatalf("expected nonzero ports, got %d and %d", port1, port2)
	}
	if port1 == port2 {
		t.Errorf("expected distinct ports, got %d for both", port1)
	}
	if p.Size() != 2 {
		t.Errorf("Size() = %d, want 2", p.Size())
	}
}

func TestPool_AcquireSameExecIDIsIdempotent(t *testing.T) {
	t.Parallel()

	p := New(testLogger())
	defer p.Shutdown()

	port1, err := p.Acquire("exec-1", "curl", allowAllPolicies, allowDefault)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	port2, err := p.Acquire("exec-1", "curl", allowAllPolicies, allowDefault)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if port1 != port2 {
		t.Errorf("port changed across repeated acquire for same execId: %d != %d", port1, port2)
	}
	if p.Size() != 1 {
		t.Errorf("Size() = %d, want 1 (at most one proxy per execId)", p.Size())
	}
}

func TestPool_ReleaseRemovesEntry(t *testing.T) {
	t.Parallel()

	p := New(testLogger())
	defer p.Shutdown()

	_, err := p.Acquire("exec-1", "curl", allowAllPolicies, allowDefault)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	p.Release("exec-1")
	if p.Size() != 0 {
		t.Errorf("Size() = %d, want 0 after Release", p.Size())
	}

	p.Release("never-acquired")
}

func TestPool_EvictsOldestWhenAtCapacity(t *testing.T) {
	t.Parallel()

	p := New(testLogger(), WithMaxConcurrent(1))
	defer p.Shutdown()

	if _, err := p.Acquire("exec-1", "curl", allowAllPolicies, allowDefault); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if _, err := p.Acquire("exec-2", "curl", allowAllPolicies, allowDefault); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	if p.Size() != 1 {
		t.Fatalf("Size() = %d, want 1 after eviction", p.Size())
	}
	if _, ok := p.entries["exec-1"]; ok {
		t.Error("exec-1 still present, want evicted as oldest")
	}
	if _, ok := p.entries["exec-2"]; !ok {
		t.Error("exec-2 missing, want retained")
	}
}

func TestPool_IdleTimeoutReapsEntry(t *testing.T) {
	t.Parallel()

	p := New(testLogger(), WithIdleTimeout(20*time.Millisecond))
	defer p.Shutdown()

	if _, err := p.Acquire("exec-1", "curl", allowAllPolicies, allowDefault); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.Size() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("entry was not idle-reaped within deadline")
}

func TestPool_AcquireResetsIdleTimer(t *testing.T) {
	t.Parallel()

	p := New(testLogger(), WithIdleTimeout(200*time.Millisecond))
	defer p.Shutdown()

	if _, err := p.Acquire("exec-1", "curl", allowAllPolicies, allowDefault); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	time.Sleep(120 * time.Millisecond)
	if _, err := p.Acquire("exec-1", "curl", allowAllPolicies, allowDefault); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	time.Sleep(120 * time.Millisecond)

	if p.Size() != 1 {
		t.Error("entry reaped despite being re-acquired before its idle timeout elapsed")
	}
}

func TestPool_ShutdownReleasesEverything(t *testing.T) {
	t.Parallel()

	p := New(testLogger())
	if _, err := p.Acquire("exec-1", "curl", allowAllPolicies, allowDefault); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if _, err := p.Acquire("exec-2", "curl", allowAllPolicies, allowDefault); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	p.Shutdown()
	if p.Size() != 0 {
		t.Errorf("Size() = %d, want 0 after Shutdown", p.Size())
	}
	p.Shutdown() // must not panic on a second call
}

func TestRunProxy_PlainHTTP_AllowedButPrivateIPBlockedBySSRFGuard(t *testing.T) {
	t.Parallel()

	// The loopback upstream stands in for an attacker-controlled or internal
	// target: the policy decision allows it, but safeDialContext refuses
	// the dial regardless, proving the SSRF guard is independent of policy.
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("should not be reachable"))
	}))
	defer upstream.Close()

	allowUpstream := func() []*policy.Policy {
		return []*policy.Policy{
			{ID: "allow-upstream", Enabled: true, Action: policy.ActionAllow, Target: policy.TargetURL, Patterns: []string{upstream.URL + "/**"}},
		}
	}

	p := New(testLogger())
	defer p.Shutdown()

	port, err := p.Acquire("exec-1", "curl", allowUpstream, denyDefault)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	proxyURL, _ := url.Parse("http://127.0.0.1:" + strconv.Itoa(port))
	client := &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}

	resp, err := client.Get(upstream.URL)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502 (SSRF guard blocks the private-IP dial)", resp.StatusCode)
	}
}

func TestRunProxy_Connect_DenyReturns403(t *testing.T) {
	t.Parallel()

	p := New(testLogger())
	defer p.Shutdown()

	port, err := p.Acquire("exec-1", "curl", denyAllGetter, denyDefault)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n"); err != nil {
		t.Fatalf("Fprintf() error: %v", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), &http.Request{Method: http.MethodConnect})
	if err != nil {
		t.Fatalf("ReadResponse() error: %v", err)
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestIsPrivateIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"172.16.0.5", true},
		{"192.168.1.1", true},
		{"169.254.169.254", true},
		{"::1", true},
		{"93.184.216.34", false},
		{"8.8.8.8", false},
	}
	for _, tt := range tests {
		got := netguard.IsPrivateIP(parseIP(t, tt.ip))
		if got != tt.want {
			t.Errorf("IsPrivateIP(%q) = %v, want %v", tt.ip, got, tt.want)
		}
	}
}

func parseIP(t *testing.T, s string) net.IP {
	t.Helper()
	ip := net.ParseIP(s)
	if ip == nil {
		t.Fatalf("net.ParseIP(%q) returned nil", s)
	}
	return ip
}

func TestRunProxy_PlainHTTP_DenyReturns403(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("should not reach here"))
	}))
	defer upstream.Close()

	p := New(testLogger())
	defer p.Shutdown()

	port, err := p.Acquire("exec-1", "curl", denyAllGetter, denyDefault)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	proxyURL, _ := url.Parse("http://127.0.0.1:" + strconv.Itoa(port))
	client := &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}

	resp, err := client.Get(upstream.URL)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

