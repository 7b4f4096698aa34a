// Package policy implements the Policy Decision Engine's data model, pattern
// matchers, and scope resolution (C1-C3).
package policy

import "time"

// Action is the terminal effect of a matched policy.
type Action string

const (
	ActionAllow    Action = "allow"
	ActionDeny     Action = "deny"
	ActionApproval Action = "approval" // reserved; treated as deny today
)

// TargetType names the kind of pattern a policy's Patterns field holds.
type TargetType string

const (
	TargetURL        TargetType = "url"
	TargetCommand    TargetType = "command"
	TargetFilesystem TargetType = "filesystem"
	TargetSkill      TargetType = "skill"
)

// Operation is a guarded daemon operation. Operations map to target types:
// http_request/open_url -> url, exec -> command, file_* -> filesystem.
type Operation string

const (
	OpHTTPRequest  Operation = "http_request"
	OpExec         Operation = "exec"
	OpFileRead     Operation = "file_read"
	OpFileWrite    Operation = "file_write"
	OpFileList     Operation = "file_list"
	OpOpenURL      Operation = "open_url"
	OpSecretInject Operation = "secret_inject"
)

// TargetTypeForOperation maps an operation to the target type it is
// evaluated against (§4.3).
func TargetTypeForOperation(op Operation) TargetType {
	switch op {
	case OpHTTPRequest, OpOpenURL:
		return TargetURL
	case OpExec:
		return TargetCommand
	case OpFileRead, OpFileWrite, OpFileList:
		return TargetFilesystem
	default:
		return TargetFilesystem
	}
}

// NetworkAccess is the exec-only network hint a policy may carry.
type NetworkAccess string

const (
	NetworkNone   NetworkAccess = "none"
	NetworkProxy  NetworkAccess = "proxy"
	NetworkDirect NetworkAccess = "direct"
)

// Policy is the fundamental decision record (§3).
type Policy struct {
	ID       string
	Name     string
	Action   Action
	Target   TargetType
	Patterns []string
	// Operations restricts a command/filesystem policy to specific
	// operations. Empty means "applies to all operations of this target type".
	Operations []Operation
	Enabled    bool
	// Priority: higher evaluated first; ties resolve by insertion order.
	Priority int
	// Scope: "" (universal), "agent", "skill", "skill:<slug>", "command:<basename>".
	Scope string
	// NetworkAccess is exec-only; empty means "infer from command basename".
	NetworkAccess NetworkAccess
	// GraphNodeID, if set, links this policy to a Policy Graph node (§3, §4.4).
	GraphNodeID string
	// ProfileID scopes a policy to a single profile. Empty means global,
	// applying to every profile's effective set.
	ProfileID string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasOperation reports whether the policy's operations filter includes op.
// An empty filter matches every operation of the policy's target type.
func (p *Policy) HasOperation(op Operation) bool {
	if len(p.Operations) == 0 {
		return true
	}
	for _, o := range p.Operations {
		if o == op {
			return true
		}
	}
	return false
}

// Decision is the result of evaluating an operation against the effective
// policy set.
type Decision struct {
	Allowed  bool
	PolicyID string
	Reason   string
}
