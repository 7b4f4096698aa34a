package rpc

// executionContextWire is the wire form of policy.ExecutionContext (§6).
// ProfileID is never trusted from the wire: the handler always overwrites
// it with the profile resolved from the caller's broker token or explicit
// profile-id header before the context reaches the decision engine.
type executionContextWire struct {
	CallerType  string `json:"callerType,omitempty"`
	SkillSlug   string `json:"skillSlug,omitempty"`
	Depth       int    `json:"depth,omitempty"`
	PID         int    `json:"pid,omitempty"`
	PPID        int    `json:"ppid,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
	User        string `json:"user,omitempty"`
	SourceLayer string `json:"sourceLayer,omitempty"`
	ProfileID   string `json:"profileId,omitempty"`
}

// sandboxWire is the wire form of the Sandbox Specification (§6).
type sandboxWire struct {
	Enabled           bool              `json:"enabled"`
	AllowedReadPaths  []string          `json:"allowedReadPaths"`
	AllowedWritePaths []string          `json:"allowedWritePaths"`
	DeniedPaths       []string          `json:"deniedPaths"`
	NetworkAllowed    bool              `json:"networkAllowed"`
	AllowedHosts      []string          `json:"allowedHosts"`
	AllowedPorts      []int             `json:"allowedPorts"`
	AllowedBinaries   []string          `json:"allowedBinaries"`
	DeniedBinaries    []string          `json:"deniedBinaries"`
	EnvInjection      map[string]string `json:"envInjection"`
	EnvDeny           []string          `json:"envDeny"`
	EnvAllow          []string          `json:"envAllow"`
	BrokerHTTPPort    int               `json:"brokerHttpPort,omitempty"`
}

type policyCheckParams struct {
	Operation string                `json:"operation"`
	Target    string                `json:"target"`
	Context   executionContextWire  `json:"context"`
}

type policyCheckResult struct {
	Allowed          bool                 `json:"allowed"`
	PolicyID         string               `json:"policyId,omitempty"`
	Reason           string               `json:"reason,omitempty"`
	Sandbox          *sandboxWire         `json:"sandbox,omitempty"`
	ExecutionContext executionContextWire `json:"executionContext"`
}

type eventWire struct {
	Tag       string         `json:"tag"`
	Timestamp string         `json:"timestamp,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

type eventsBatchParams struct {
	Events []eventWire `json:"events"`
}

type eventsBatchResult struct {
	Accepted int `json:"accepted"`
}

type httpRequestParams struct {
	URL     string               `json:"url"`
	Method  string               `json:"method"`
	Headers map[string]string    `json:"headers"`
	Body    string               `json:"body"`
	Context executionContextWire `json:"context"`
}

type httpRequestResult struct {
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

type pingResult struct {
	Status string `json:"status"`
}
