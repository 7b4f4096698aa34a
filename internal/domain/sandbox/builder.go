package sandbox

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/agenshield/shieldd/internal/domain/graph"
	"github.com/agenshield/shieldd/internal/domain/policy"
)

// agentMetadataDirName is the per-agent-home directory carrying shield
// bookkeeping state; its workspace subdirectory is allowed back for reads.
const agentMetadataDirName = ".openclaw"

// Config is the builder's environment input: paths that depend on where
// the daemon and the agent are installed, not on any single decision.
type Config struct {
	AgentHome       string
	ShieldBinaryDir string
	BrewBinDir      string
	NvmBinDir       string
	UserBinDir      string
	BrokerHTTPPort  int
}

// Build constructs a Specification for an exec decision (§4.5). policies is
// the full effective policy set (used to gather deny/allow filesystem
// patterns scoped to the command), matched is the policy that decided the
// exec (nil for a default-action allow), target is the raw exec target
// string, and effects are the accumulated Policy Graph effects for the
// matched policy (zero value when matched has no graph node).
//
// Build does not acquire a per-run proxy; it only decides the NetworkMode.
// Callers that get NetworkModeProxy back are expected to acquire a proxy and then
// call ApplyProxyAssignment to complete rule 10's env injection.
func Build(cfg Config, policies []*policy.Policy, matched *policy.Policy, ctx *policy.ExecutionContext, target string, effects graph.Effects) (*Specification, NetworkMode) {
	spec := &Specification{
		EnvInjection:   make(map[string]string),
		BrokerHTTPPort: cfg.BrokerHTTPPort,
	}

	// Rule 1.
	spec.EnvDeny = append(spec.EnvDeny, "NODE_OPTIONS")

	// Rule 2.
	basename := policy.CommandBasename(target)
	scoped := policy.AggregateCommandScoped(policies, basename)

	// Rule 3.
	spec.DeniedPaths = append(spec.DeniedPaths, policy.ExtractConcretePaths(denyFSPatterns(scoped))...)

	// Rule 4.
	readPatterns, writePatterns := allowFSPatterns(scoped)
	spec.AllowedReadPaths = append(spec.AllowedReadPaths, readPatterns...)
	spec.AllowedWritePaths = append(spec.AllowedWritePaths, writePatterns...)

	// Rule 5.
	addResolvedBinary(spec, target)

	// Rule 6.
	addAgentHomeAllowances(spec, cfg)

	// Rule 7.
	addMetadataDirectoryRule(spec, cfg.AgentHome)

	// Rule 8.
	spec.AllowedReadPaths = append(spec.AllowedReadPaths, effects.GrantedFSPaths.Read...)
	spec.AllowedWritePaths = append(spec.AllowedWritePaths, effects.GrantedFSPaths.Write...)
	for name, value := range effects.InjectedSecrets {
		spec.EnvInjection[name] = value
	}

	// Rule 9.
	mode := determineNetworkMode(effects, matched, basename)

	// Rule 10 (network posture only; proxy env vars are applied by the
	// caller once a port has been acquired).
	switch mode {
	case NetworkModeNone:
		spec.NetworkAllowed = false
	case NetworkModeDirect:
		spec.NetworkAllowed = true
	case NetworkModeProxy:
		spec.NetworkAllowed = true
		spec.AllowedHosts = append(spec.AllowedHosts, "localhost")
	}

	return spec, mode
}

// ApplyProxyAssignment completes rule 10 for NetworkModeProxy: it injects
// the proxy environment variables pointing at the acquired port and the
// opaque exec id used to correlate proxy-side denials back to this run.
func ApplyProxyAssignment(spec *Specification, execID string, port int) {
	addr := "http://127.0.0.1:" + strconv.Itoa(port)
	for _, name := range []string{"HTTP_PROXY", "http_proxy", "HTTPS_PROXY", "https_proxy", "ALL_PROXY", "all_proxy"} {
		spec.EnvInjection[name] = addr
	}
	spec.EnvInjection["AGENSHIELD_EXEC_ID"] = execID
	spec.EnvInjection["NO_PROXY"] = ""
	spec.EnvInjection["no_proxy"] = ""
}

// hasFSOperation reports whether p declares at least one of the
// filesystem-shaped operations (file_read, file_write, file_list), the
// condition rule 3/4 use to pull a command-target policy into the
// filesystem allowance set alongside filesystem-target policies.
func hasFSOperation(p *policy.Policy) bool {
	return p.HasOperation(policy.OpFileRead) || p.HasOperation(policy.OpFileWrite) || p.HasOperation(policy.OpFileList)
}

func isFSContributor(p *policy.Policy) bool {
	if p.Target == policy.TargetFilesystem {
		return true
	}
	return p.Target == policy.TargetCommand && hasFSOperation(p)
}

func denyFSPatterns(scoped []*policy.Policy) []string {
	var out []string
	for _, p := range scoped {
		if !p.Enabled || p.Action != policy.ActionDeny || !isFSContributor(p) {
			continue
		}
		out = append(out, p.Patterns...)
	}
	return out
}

func allowFSPatterns(scoped []*policy.Policy) (read []string, write []string) {
	for _, p := range scoped {
		if !p.Enabled || p.Action != policy.ActionAllow || !isFSContributor(p) {
			continue
		}
		if p.HasOperation(policy.OpFileRead) || p.HasOperation(policy.OpFileList) {
			read = append(read, p.Patterns...)
		}
		if p.HasOperation(policy.OpFileWrite) {
			write = append(write, p.Patterns...)
		}
	}
	return read, write
}

func addResolvedBinary(spec *Specification, target string) {
	fields := splitFirstToken(target)
	if fields == "" || !filepath.IsAbs(fields) {
		return
	}
	spec.AllowedBinaries = append(spec.AllowedBinaries, fields)

	real, err := filepath.EvalSymlinks(fields)
	if err == nil && real != fields {
		spec.AllowedBinaries = append(spec.AllowedBinaries, real)
	}
}

func splitFirstToken(target string) string {
	target = strings.TrimPrefix(strings.TrimSpace(target), "fork:")
	fields := strings.Fields(target)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func addAgentHomeAllowances(spec *Specification, cfg Config) {
	if cfg.AgentHome != "" {
		spec.AllowedWritePaths = append(spec.AllowedWritePaths, cfg.AgentHome)
	}
	for _, dir := range []string{cfg.ShieldBinaryDir, cfg.BrewBinDir, cfg.NvmBinDir, cfg.UserBinDir} {
		if dir != "" {
			spec.AllowedBinaries = append(spec.AllowedBinaries, dir)
		}
	}
}

func addMetadataDirectoryRule(spec *Specification, agentHome string) {
	if agentHome == "" {
		return
	}
	metaDir := filepath.Join(agentHome, agentMetadataDirName)
	spec.DeniedPaths = append(spec.DeniedPaths, metaDir)
	spec.AllowedReadPaths = append(spec.AllowedReadPaths, filepath.Join(metaDir, "workspace"))
}

func determineNetworkMode(effects graph.Effects, matched *policy.Policy, basename string) NetworkMode {
	if len(effects.GrantedNetworkPatterns) > 0 {
		return NetworkModeProxy
	}
	if matched != nil && matched.NetworkAccess != "" {
		switch matched.NetworkAccess {
		case policy.NetworkNone:
			return NetworkModeNone
		case policy.NetworkProxy:
			return NetworkModeProxy
		case policy.NetworkDirect:
			return NetworkModeDirect
		}
	}
	if knownNetworkCommands[basename] {
		return NetworkModeProxy
	}
	return NetworkModeNone
}
