// Package sandbox implements the Sandbox Specification Builder (C5): it
// translates an allowed exec decision, accumulated Policy Graph effects,
// and the execution context into a host-independent sandbox specification.
package sandbox

// NetworkMode is the network posture assigned to a sandboxed process.
type NetworkMode string

const (
	NetworkModeNone   NetworkMode = "none"
	NetworkModeProxy  NetworkMode = "proxy"
	NetworkModeDirect NetworkMode = "direct"
)

// knownNetworkCommands is the fixed fallback set used when neither the
// graph nor the matched policy settles the network mode (§4.5 rule 9).
var knownNetworkCommands = map[string]bool{
	"curl": true, "wget": true, "git": true, "npm": true, "npx": true,
	"yarn": true, "pnpm": true, "pip": true, "pip3": true, "brew": true,
	"apt": true, "ssh": true, "scp": true, "rsync": true, "fetch": true,
	"http": true, "nc": true, "ncat": true, "node": true, "deno": true,
	"bun": true,
}

// Specification is the host-independent sandbox contract the core hands to
// a platform-specific executor (§4.5, §6). Every field is always
// populated, possibly with a zero value.
type Specification struct {
	AllowedReadPaths  []string
	AllowedWritePaths []string
	DeniedPaths       []string

	AllowedBinaries []string
	DeniedBinaries  []string

	NetworkAllowed bool
	AllowedHosts   []string
	AllowedPorts   []int

	EnvInjection map[string]string
	EnvDeny      []string
	EnvAllow     []string

	BrokerHTTPPort int
}
