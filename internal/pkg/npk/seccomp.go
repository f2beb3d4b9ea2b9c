package npk

import "fmt"

// SyscallRule is the manifest-level allow-list entry for one syscall
// (spec.md §3/§4.D.1): either unconditional ("any"), or a set of positional
// argument predicates that must ALL match (AND within a rule). Seccomp.Allow
// maps each syscall name to exactly one rule; several alternative rules for
// the same syscall cannot be expressed.
type SyscallRule struct {
	Any   bool              `yaml:"-"`
	Index map[uint]ArgMatch `yaml:"-"`
}

// ArgMatch is one positional-argument predicate: either an exact equality
// or a mask-equality test (arg & Mask == Value).
type ArgMatch struct {
	Value uint64 `yaml:"value"`
	Mask  *uint64 `yaml:"mask,omitempty"`
}

// Matches reports whether the observed syscall argument satisfies this
// predicate.
func (a ArgMatch) Matches(arg uint64) bool {
	if a.Mask == nil {
		return arg == a.Value
	}
	return arg&*a.Mask == a.Value
}

// UnmarshalYAML accepts either the literal string "any" or a mapping from
// argument index to an ArgMatch, mirroring the original manifest's
// SyscallRule dialect (spec.md §3).
func (r *SyscallRule) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var tag string
	if err := unmarshal(&tag); err == nil {
		if tag != "any" {
			return fmt.Errorf("invalid seccomp rule %q, expected \"any\" or a predicate map", tag)
		}
		r.Any = true
		return nil
	}

	var predicates map[uint]ArgMatch
	if err := unmarshal(&predicates); err != nil {
		return fmt.Errorf("invalid seccomp rule: %w", err)
	}
	r.Index = predicates
	return nil
}

// MarshalYAML re-encodes a rule to its "any" or predicate-map form.
func (r SyscallRule) MarshalYAML() (interface{}, error) {
	if r.Any {
		return "any", nil
	}
	return r.Index, nil
}

// Seccomp is the manifest's seccomp-BPF configuration (spec.md §3/§4.D.1).
// Profile names a built-in filter shipped with the runtime; Allow is the
// manifest's own syscall allow-list. Both may be set; validation only
// checks the shapes the launcher will compile.
type Seccomp struct {
	Profile *string                `yaml:"profile,omitempty"`
	Allow   map[string]SyscallRule `yaml:"allow,omitempty"`
}

// Validate rejects empty syscall names; argument predicate syntax is
// already enforced by UnmarshalYAML at decode time.
func (s *Seccomp) Validate() error {
	for name := range s.Allow {
		if name == "" {
			return fmt.Errorf("seccomp allow-list has an empty syscall name")
		}
	}
	return nil
}
