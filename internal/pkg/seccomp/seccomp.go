// Package seccomp compiles a container's manifest allow-list (npk.Seccomp)
// into a BPF filter and installs it on the calling thread, adapted from
// internal/pkg/security/seccomp's OCI-driven LoadSeccompConfig for
// Northstar's own manifest shape (spec.md §4.D.1).
package seccomp

import (
	"fmt"

	lseccomp "github.com/seccomp/libseccomp-golang"

	"github.com/ceigel/northstar/internal/pkg/npk"
)

// defaultAction is the filter's fallback verdict for any syscall not
// matched by an allow rule: deliver SIGSYS (signal 31) to the caller,
// per spec.md §4.D.1 "Default action: signal with SIGSYS".
const defaultAction = lseccomp.ActTrap

// Compile builds a loadable filter from a manifest seccomp configuration.
// An "any" rule becomes an unconditional allow; a predicate rule is
// compiled into one ScmpCondition list, ANDed within a single
// AddRuleConditional call. Each syscall carries exactly one rule, so no
// OR across alternative rules for the same syscall is built.
func Compile(cfg *npk.Seccomp) (*lseccomp.ScmpFilter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("empty seccomp config passed")
	}

	filter, err := lseccomp.NewFilter(defaultAction)
	if err != nil {
		return nil, fmt.Errorf("error creating seccomp filter: %w", err)
	}
	if err := filter.SetNoNewPrivsBit(true); err != nil {
		filter.Release()
		return nil, fmt.Errorf("failed to set no new priv flag: %w", err)
	}

	for name, rule := range cfg.Allow {
		sysNr, err := lseccomp.GetSyscallFromName(name)
		if err != nil {
			// Unknown to this kernel/arch: skip rather than fail the whole
			// container, mirroring isUnrecognizedSyscall's tolerance in
			// internal/pkg/security/seccomp/seccomp_supported.go.
			continue
		}
		if err := addSyscallRule(filter, sysNr, rule); err != nil {
			filter.Release()
			return nil, fmt.Errorf("failed adding seccomp rule for syscall %s: %w", name, err)
		}
	}

	return filter, nil
}

func addSyscallRule(filter *lseccomp.ScmpFilter, sysNr lseccomp.ScmpSyscall, rule npk.SyscallRule) error {
	if rule.Any || len(rule.Index) == 0 {
		return filter.AddRule(sysNr, lseccomp.ActAllow)
	}

	conditions := make([]lseccomp.ScmpCondition, 0, len(rule.Index))
	for index, match := range rule.Index {
		var cond lseccomp.ScmpCondition
		var err error
		if match.Mask == nil {
			cond, err = lseccomp.MakeCondition(index, lseccomp.CompareEqual, match.Value)
		} else {
			cond, err = lseccomp.MakeCondition(index, lseccomp.CompareMaskedEqual, *match.Mask, match.Value)
		}
		if err != nil {
			return fmt.Errorf("error making syscall rule condition: %w", err)
		}
		conditions = append(conditions, cond)
	}

	return filter.AddRuleConditional(sysNr, lseccomp.ActAllow, conditions)
}

// Install compiles cfg and loads it onto the calling thread. It must run
// after the final setuid/setgid calls in the launcher's init stage
// (spec.md §4.D.5.h), since a loaded filter cannot be loosened afterwards.
func Install(cfg *npk.Seccomp) error {
	filter, err := Compile(cfg)
	if err != nil {
		return err
	}
	defer filter.Release()

	if err := filter.Load(); err != nil {
		return fmt.Errorf("failed loading seccomp filter: %w", err)
	}
	return nil
}
