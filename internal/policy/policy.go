// Package policy implements the security gate for command execution. Every
// shell command an agent wants to run is evaluated against an ordered set of
// pattern lists: blocklist first, then approval patterns, then the allowlist.
// A command no list claims falls through to the policy default.
package policy

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Action is the outcome of evaluating a command.
type Action string

const (
	// Allowed runs without operator involvement.
	Allowed Action = "allowed"
	// RequiresApproval suspends the run until an operator responds.
	RequiresApproval Action = "requires_approval"
	// Blocked is rejected outright and never reaches an operator.
	Blocked Action = "blocked"
)

// Decision carries the action plus the pattern and reason that produced it.
type Decision struct {
	Action  Action
	Pattern string
	Reason  string
}

// DefaultApprovalTimeout is how long a suspended run waits for an operator
// before the request is treated as denied.
const DefaultApprovalTimeout = 5 * time.Minute

// builtinBlocklist is always enforced regardless of the configured policy.
// An operator cannot approve their way past these.
var builtinBlocklist = []string{
	"rm -rf /*",
	"rm -rf ~/*",
	":(){ :|:& };:",
	"mkfs*",
	"dd if=* of=/dev/*",
	"curl * | bash",
	"curl * | sh",
	"wget * | bash",
	"wget * | sh",
	"chmod -R 777 /*",
}

// Policy is the configurable command gate for one deployment. Zero value is
// not usable; start from Default() or LoadFile.
type Policy struct {
	Blocklist       []string      `yaml:"blocklist"`
	ApprovalList    []string      `yaml:"approval_list"`
	Allowlist       []string      `yaml:"allowlist"`
	DefaultAction   Action   `yaml:"default_action"`
	ApprovalTimeout Duration `yaml:"approval_timeout"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// AsDuration returns the value as a time.Duration.
func (d Duration) AsDuration() time.Duration { return time.Duration(d) }

// Default returns the shipped policy: read-only inspection commands are
// allowed, mutating commands need approval, destructive ones are blocked.
func Default() *Policy {
	return &Policy{
		ApprovalList: []string{
			"rm *",
			"sudo *",
			"chmod *",
			"chown *",
			"git push*",
			"git reset*",
			"git checkout*",
			"git merge*",
			"git rebase*",
			"npm publish*",
			"cargo publish*",
			"mv *",
			"cp -r *",
		},
		Allowlist: []string{
			"ls", "ls *",
			"cat *",
			"head *", "tail *",
			"pwd",
			"echo *",
			"which *",
			"env",
			"whoami",
			"date", "date *",
			"wc *",
			"grep *",
			"find *",
			"tree", "tree *",
			"git status*",
			"git log*",
			"git diff*",
			"git branch*",
			"git show*",
			"git remote*",
		},
		DefaultAction:   RequiresApproval,
		ApprovalTimeout: Duration(DefaultApprovalTimeout),
	}
}

// LoadFile reads a YAML policy file and validates it.
func LoadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	p := Default()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the policy configuration.
func (p *Policy) Validate() error {
	switch p.DefaultAction {
	case Allowed, RequiresApproval, Blocked:
	case "":
		p.DefaultAction = RequiresApproval
	default:
		return fmt.Errorf("unknown default action: %q", p.DefaultAction)
	}
	if p.ApprovalTimeout <= 0 {
		p.ApprovalTimeout = Duration(DefaultApprovalTimeout)
	}
	return nil
}

// Evaluate decides what happens to a command. Evaluation order is fixed:
// builtin blocklist, configured blocklist, compound-construct check,
// approval patterns, allowlist, then the policy default. Blocklist entries
// win over everything, so "rm -rf /" stays blocked even when "rm *" appears
// in the allowlist.
func (p *Policy) Evaluate(command string) Decision {
	command = strings.TrimSpace(command)
	if command == "" {
		return Decision{Action: Blocked, Reason: "empty command"}
	}

	for _, pat := range builtinBlocklist {
		if Match(command, pat) {
			return Decision{Action: Blocked, Pattern: pat, Reason: "matches builtin blocklist"}
		}
	}
	for _, pat := range p.Blocklist {
		if Match(command, pat) {
			return Decision{Action: Blocked, Pattern: pat, Reason: "matches blocklist"}
		}
	}

	// Compound commands hide their parts from pattern matching, so any
	// chaining, piping, redirection, or substitution escalates to approval.
	if construct := compoundConstruct(command); construct != "" {
		return Decision{
			Action:  RequiresApproval,
			Reason:  fmt.Sprintf("compound shell construct %q", construct),
			Pattern: construct,
		}
	}

	for _, pat := range p.ApprovalList {
		if Match(command, pat) {
			return Decision{Action: RequiresApproval, Pattern: pat, Reason: "matches approval list"}
		}
	}
	for _, pat := range p.Allowlist {
		if Match(command, pat) {
			return Decision{Action: Allowed, Pattern: pat, Reason: "matches allowlist"}
		}
	}

	return Decision{Action: p.DefaultAction, Reason: "no pattern matched"}
}
