// Package rlimit applies the manifest's per-container resource limits
// (spec.md §4.D.5.e) via the standard getrlimit/setrlimit syscalls.
package rlimit

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// resources maps the manifest's RLIMIT_* names to the kernel resource
// numbers accepted by getrlimit(2)/setrlimit(2).
var resources = map[string]int{
	"RLIMIT_CPU":        unix.RLIMIT_CPU,
	"RLIMIT_FSIZE":      unix.RLIMIT_FSIZE,
	"RLIMIT_DATA":       unix.RLIMIT_DATA,
	"RLIMIT_STACK":      unix.RLIMIT_STACK,
	"RLIMIT_CORE":       unix.RLIMIT_CORE,
	"RLIMIT_RSS":        unix.RLIMIT_RSS,
	"RLIMIT_NPROC":      unix.RLIMIT_NPROC,
	"RLIMIT_NOFILE":     unix.RLIMIT_NOFILE,
	"RLIMIT_MEMLOCK":    unix.RLIMIT_MEMLOCK,
	"RLIMIT_AS":         unix.RLIMIT_AS,
	"RLIMIT_LOCKS":      unix.RLIMIT_LOCKS,
	"RLIMIT_SIGPENDING": unix.RLIMIT_SIGPENDING,
	"RLIMIT_MSGQUEUE":   unix.RLIMIT_MSGQUEUE,
	"RLIMIT_NICE":       unix.RLIMIT_NICE,
	"RLIMIT_RTPRIO":     unix.RLIMIT_RTPRIO,
	"RLIMIT_RTTIME":     unix.RLIMIT_RTTIME,
}

// Get returns the current soft and hard limit for name.
func Get(name string) (cur, max uint64, err error) {
	resource, ok := resources[name]
	if !ok {
		return 0, 0, fmt.Errorf("unknown resource limit %q", name)
	}
	var rlim unix.Rlimit
	if err := unix.Getrlimit(resource, &rlim); err != nil {
		return 0, 0, fmt.Errorf("while getting %s: %w", name, err)
	}
	return rlim.Cur, rlim.Max, nil
}

// Set applies cur/max as the soft/hard limit for name.
func Set(name string, cur, max uint64) error {
	resource, ok := resources[name]
	if !ok {
		return fmt.Errorf("unknown resource limit %q", name)
	}
	rlim := unix.Rlimit{Cur: cur, Max: max}
	if err := unix.Setrlimit(resource, &rlim); err != nil {
		return fmt.Errorf("while setting %s: %w", name, err)
	}
	return nil
}
