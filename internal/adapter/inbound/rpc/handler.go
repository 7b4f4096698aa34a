package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agenshield/shieldd/internal/domain/activity"
	"github.com/agenshield/shieldd/internal/domain/netguard"
	"github.com/agenshield/shieldd/internal/domain/policy"
	"github.com/agenshield/shieldd/internal/domain/proxypool"
	"github.com/agenshield/shieldd/internal/domain/sandbox"
	"github.com/agenshield/shieldd/internal/service"
)

const (
	headerBrokerToken = "x-shield-broker-token"
	headerProfileID   = "x-shield-profile-id"
)

// Handler serves the JSON-RPC 2.0 endpoint (§4.8) at POST /rpc.
type Handler struct {
	decisions *service.DecisionService
	profiles  *ProfileCache
	activity  *activity.Channel
	execs     *ExecTracker
	pool      *proxypool.Pool
	metrics   *Metrics
	logger    *slog.Logger

	fetchClient *http.Client
}

// SetMetrics wires m into the handler so every dispatched request is
// recorded against it. Optional: a Handler with no metrics set simply skips
// recording, matching the admin API handler's SetResponseScanController
// late-wiring pattern for dependencies that are not required at construction.
func (h *Handler) SetMetrics(m *Metrics) { h.metrics = m }

// NewHandler wires a Handler over its collaborators.
func NewHandler(decisions *service.DecisionService, profiles *ProfileCache, ch *activity.Channel, execs *ExecTracker, pool *proxypool.Pool, logger *slog.Logger) *Handler {
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	return &Handler{
		decisions: decisions,
		profiles:  profiles,
		activity:  ch,
		execs:     execs,
		pool:      pool,
		logger:    logger,
		fetchClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					return netguard.SafeDialContext(ctx, dialer, network, addr)
				},
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	body, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
	if err != nil {
		h.writeResponse(w, errorResponse(nil, CodeInvalidRequest, "failed to read request body"))
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeResponse(w, errorResponse(nil, CodeInvalidRequest, "malformed JSON-RPC request: "+err.Error()))
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		h.writeResponse(w, errorResponse(req.ID, CodeInvalidRequest, "not a JSON-RPC 2.0 request"))
		return
	}

	start := time.Now()
	resp := h.dispatch(r, req)
	h.recordMetrics(req.Method, resp, time.Since(start))
	h.writeResponse(w, resp)
}

func (h *Handler) recordMetrics(method string, resp Response, elapsed time.Duration) {
	if h.metrics == nil {
		return
	}
	status := "ok"
	if resp.Error != nil {
		status = "error"
	}
	h.metrics.RequestsTotal.WithLabelValues(method, status).Inc()
	h.metrics.RequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// dispatch never lets a panic escape: every exception a method handler
// raises is converted to a -32000 internal error (§4.8).
func (h *Handler) dispatch(r *http.Request, req Request) (resp Response) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("rpc: handler panicked", "method", req.Method, "recovered", rec)
			resp = errorResponse(req.ID, CodeInternalError, "internal error")
		}
	}()

	if req.Method == "ping" {
		return resultResponse(req.ID, pingResult{Status: "ok"})
	}

	profileID, err := h.resolveProfile(r)
	if err != nil {
		return errorResponse(req.ID, CodeBadToken, err.Error())
	}

	switch req.Method {
	case "policy_check":
		return h.handlePolicyCheck(r.Context(), req, profileID)
	case "events_batch":
		return h.handleEventsBatch(req)
	case "http_request":
		return h.handleHTTPRequest(r.Context(), req, profileID)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, "unknown method: "+req.Method)
	}
}

// resolveProfile implements the §6 caller profile resolution: a broker
// token is authoritative; an explicit profile id header is a lower-
// precedence fallback used only when no token is presented.
func (h *Handler) resolveProfile(r *http.Request) (string, error) {
	if token := r.Header.Get(headerBrokerToken); token != "" {
		return h.profiles.Resolve(r.Context(), token)
	}
	if profileID := r.Header.Get(headerProfileID); profileID != "" {
		return profileID, nil
	}
	return "", fmt.Errorf("missing %s or %s header", headerBrokerToken, headerProfileID)
}

func (h *Handler) handlePolicyCheck(ctx context.Context, req Request, profileID string) Response {
	var params policyCheckParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid policy_check params: "+err.Error())
	}

	op := policy.Operation(params.Operation)
	execCtx := toExecutionContext(params.Context, profileID)

	result, err := h.decisions.Evaluate(ctx, op, params.Target, execCtx, processIDFor(execCtx))
	if err != nil {
		return errorResponse(req.ID, CodeInternalError, "policy_check failed: "+err.Error())
	}

	h.publishDecision(op, params.Target, result.Decision)
	if op == policy.OpExec {
		h.trackExec(execCtx, result.Decision)
	}

	if op == policy.OpExec && result.NetworkMode == sandbox.NetworkModeProxy && result.Specification != nil {
		if err := h.assignProxy(execCtx, params.Target, result); err != nil {
			return errorResponse(req.ID, CodeInternalError, "acquiring per-run proxy failed: "+err.Error())
		}
	}

	out := policyCheckResult{
		Allowed:          result.Decision.Allowed,
		PolicyID:         result.Decision.PolicyID,
		Reason:           result.Decision.Reason,
		ExecutionContext: fromExecutionContext(execCtx),
	}
	if result.Specification != nil {
		sb := toSandboxWire(result.Specification)
		out.Sandbox = &sb
	}
	return resultResponse(req.ID, out)
}

// assignProxy implements sandbox.Build's rule-10 contract for a
// NetworkModeProxy result: it acquires a per-run proxy from the pool and
// injects the resulting port into the specification's environment (§4.5
// rule 10, §4.6). The exec id is opaque and exists only to key the pool's
// acquire/release pair and the env var the sandboxed process reads back.
func (h *Handler) assignProxy(execCtx *policy.ExecutionContext, target string, result service.Result) error {
	execID := uuid.NewString()
	port, err := h.pool.Acquire(execID, target, h.decisions.URLPolicyGetter(execCtx, result.GrantedNetworkPatterns), h.decisions.DefaultActionGetter())
	if err != nil {
		return err
	}
	sandbox.ApplyProxyAssignment(result.Specification, execID, port)
	if h.metrics != nil {
		h.metrics.ProxyPoolSize.Set(float64(h.pool.Size()))
	}
	return nil
}

func (h *Handler) publishDecision(op policy.Operation, target string, d policy.Decision) {
	tag := activity.TagAllowed
	result := "allow"
	if !d.Allowed {
		tag = activity.TagDenied
		result = "deny"
	}
	h.activity.Publish(activity.NewEvent(tag, map[string]any{
		"operation": string(op),
		"target":    target,
		"policy_id": d.PolicyID,
		"reason":    d.Reason,
	}))
	if h.metrics != nil {
		h.metrics.PolicyEvaluations.WithLabelValues(string(op), result).Inc()
	}
}

func (h *Handler) trackExec(execCtx *policy.ExecutionContext, d policy.Decision) {
	if !d.Allowed {
		h.activity.Publish(activity.NewEvent(activity.TagExecDenied, map[string]any{
			"session_id": execCtx.SessionID,
			"reason":     d.Reason,
		}))
		return
	}
	h.activity.Publish(activity.NewEvent(activity.TagExecMonitored, map[string]any{
		"session_id": execCtx.SessionID,
	}))
	if h.execs.RecordExec(execCtx.SessionID) {
		h.activity.Publish(activity.NewEvent(activity.TagSecurityWarning, map[string]any{
			"session_id": execCtx.SessionID,
			"reason":     "rapid exec chain: more than 10 execs within 1s",
		}))
	}
}

func (h *Handler) handleEventsBatch(req Request) Response {
	var params eventsBatchParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid events_batch params: "+err.Error())
	}
	for _, e := range params.Events {
		h.activity.Publish(activity.NewEvent(activity.Tag(e.Tag), e.Fields))
	}
	return resultResponse(req.ID, eventsBatchResult{Accepted: len(params.Events)})
}

func (h *Handler) handleHTTPRequest(ctx context.Context, req Request, profileID string) Response {
	var params httpRequestParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid http_request params: "+err.Error())
	}

	execCtx := toExecutionContext(params.Context, profileID)
	decision, err := h.decisions.Evaluate(ctx, policy.OpHTTPRequest, params.URL, execCtx, processIDFor(execCtx))
	if err != nil {
		return errorResponse(req.ID, CodeInternalError, "policy_check failed: "+err.Error())
	}
	h.publishDecision(policy.OpHTTPRequest, params.URL, decision.Decision)
	if !decision.Decision.Allowed {
		return errorResponse(req.ID, CodeInternalError, "denied: "+decision.Decision.Reason)
	}

	method := params.Method
	if method == "" {
		method = http.MethodGet
	}
	upstreamReq, err := http.NewRequestWithContext(ctx, method, params.URL, strings.NewReader(params.Body))
	if err != nil {
		return errorResponse(req.ID, CodeInternalError, "bad request: "+err.Error())
	}
	for k, v := range params.Headers {
		upstreamReq.Header.Set(k, v)
	}

	resp, err := h.fetchClient.Do(upstreamReq)
	if err != nil {
		return errorResponse(req.ID, CodeInternalError, "fetch failed: "+err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return errorResponse(req.ID, CodeInternalError, "reading response body failed: "+err.Error())
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return resultResponse(req.ID, httpRequestResult{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Headers:    headers,
		Body:       string(respBody),
	})
}

func (h *Handler) writeResponse(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	if resp.Error != nil {
		switch resp.Error.Code {
		case CodeBadToken:
			w.WriteHeader(http.StatusUnauthorized)
		case CodeInvalidRequest, CodeInvalidParams, CodeParseError:
			w.WriteHeader(http.StatusBadRequest)
		case CodeMethodNotFound:
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusOK) // JSON-RPC errors ride inside a 200 envelope by convention, except auth/malformed
		}
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("rpc: failed to encode response", "error", err)
	}
}

func toExecutionContext(w executionContextWire, profileID string) *policy.ExecutionContext {
	return &policy.ExecutionContext{
		CallerType:  policy.CallerType(w.CallerType),
		SkillSlug:   w.SkillSlug,
		Depth:       w.Depth,
		PID:         w.PID,
		PPID:        w.PPID,
		SessionID:   w.SessionID,
		User:        w.User,
		SourceLayer: w.SourceLayer,
		ProfileID:   profileID,
	}
}

func fromExecutionContext(c *policy.ExecutionContext) executionContextWire {
	return executionContextWire{
		CallerType:  string(c.CallerType),
		SkillSlug:   c.SkillSlug,
		Depth:       c.Depth,
		PID:         c.PID,
		PPID:        c.PPID,
		SessionID:   c.SessionID,
		User:        c.User,
		SourceLayer: c.SourceLayer,
		ProfileID:   c.ProfileID,
	}
}

func toSandboxWire(s *sandbox.Specification) sandboxWire {
	return sandboxWire{
		Enabled:           true,
		AllowedReadPaths:  s.AllowedReadPaths,
		AllowedWritePaths: s.AllowedWritePaths,
		DeniedPaths:       s.DeniedPaths,
		NetworkAllowed:    s.NetworkAllowed,
		AllowedHosts:      s.AllowedHosts,
		AllowedPorts:      s.AllowedPorts,
		AllowedBinaries:   s.AllowedBinaries,
		DeniedBinaries:    s.DeniedBinaries,
		EnvInjection:      s.EnvInjection,
		EnvDeny:           s.EnvDeny,
		EnvAllow:          s.EnvAllow,
		BrokerHTTPPort:    s.BrokerHTTPPort,
	}
}

// processIDFor derives the Policy Graph activation scope from the execution
// context: the OS pid when known, falling back to the session id so
// graph-scoped activations are still distinguishable per caller.
func processIDFor(c *policy.ExecutionContext) string {
	if c.PID != 0 {
		return strconv.Itoa(c.PID)
	}
	return c.SessionID
}
