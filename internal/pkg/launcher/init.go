package launcher

import (
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ceigel/northstar/internal/pkg/npk"
	"github.com/ceigel/northstar/internal/pkg/seccomp"
	"github.com/ceigel/northstar/internal/pkg/selinux"
	"github.com/ceigel/northstar/pkg/util/capabilities"
	"github.com/ceigel/northstar/pkg/util/rlimit"
)

// bootstrapFD is fixed by Launch's ExtraFiles ordering: the bootstrap
// socket is always the first file handed to the re-exec'd process, which
// os/exec places at fd 3 (stdin/stdout/stderr occupy 0-2).
const bootstrapFD = 3

// RunInit is the entry point northstard dispatches to when re-exec'd with
// ReexecArg as argv[1] (spec.md §4.D.5, steps a-k). It runs as PID 1 of a
// freshly unshared pid/mount/ipc/uts/user(/net) namespace, created by the
// Cloneflags on the exec.Cmd that started it — so by the time this
// function runs, the namespaces already exist; everything below happens
// inside them.
//
// Any error here is reported on the bootstrap socket and ends the process
// with reservedStartFailureExitCode; nothing here ever returns control to
// a caller on the success path, since step k replaces this process image
// entirely via execve.
func RunInit() {
	conn := os.NewFile(bootstrapFD, "bootstrap")

	cfg, err := recvInitConfig(conn)
	if err != nil {
		// The parent isn't listening for a failure report yet if the read
		// itself failed, so there is nothing more useful to do than exit.
		os.Exit(reservedStartFailureExitCode)
	}

	if err := runInit(cfg); err != nil {
		reportFailure(conn, err)
		os.Exit(reservedStartFailureExitCode)
	}

	// unreachable: runInit either execve's (replacing this process image)
	// or returns a non-nil error.
}

func runInit(cfg *initConfig) error {
	conn := os.NewFile(bootstrapFD, "bootstrap")

	// step a is implicit: recvInitConfig already blocked on the socket.

	// step b: private propagation, apply the manifest's mount plan, pivot.
	if err := unix.Mount("", "/", "", unix.MS_PRIVATE|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("making / private: %w", err)
	}
	if err := applyMounts(cfg.Root, cfg.Mounts, int(cfg.UID), int(cfg.GID)); err != nil {
		return fmt.Errorf("applying mounts: %w", err)
	}

	// step c: /proc always, read-only; /sys only if the manifest asked
	// for it, which applyMounts already handled as an ordinary bind/mount
	// target if present in cfg.Mounts.
	procTarget := filepath.Join(cfg.Root, "proc")
	if err := os.MkdirAll(procTarget, 0o555); err != nil {
		return fmt.Errorf("creating /proc mountpoint: %w", err)
	}
	if err := unix.Mount("proc", procTarget, "proc", unix.MS_NOSUID|unix.MS_NODEV|unix.MS_NOEXEC, ""); err != nil {
		return fmt.Errorf("mounting /proc: %w", err)
	}
	if err := unix.Mount("", procTarget, "", unix.MS_RDONLY|unix.MS_REMOUNT|unix.MS_BIND, ""); err != nil {
		return fmt.Errorf("remounting /proc read-only: %w", err)
	}

	// step d: pivot_root via the self-pivot idiom (no temporary directory
	// needed), lifted from the engine's own rpc server.
	if err := pivotRoot(cfg.Root); err != nil {
		return fmt.Errorf("pivot_root: %w", err)
	}

	// step e: rlimits, then supplementary groups, gid, uid, in that order
	// so the process still has CAP_SETUID/CAP_SETGID when it needs them.
	if err := applyRLimits(cfg.RLimits); err != nil {
		return fmt.Errorf("applying rlimits: %w", err)
	}
	groups, err := resolveSupplGroups(cfg.SupplGroups)
	if err != nil {
		return err
	}
	if len(groups) > 0 {
		if err := unix.Setgroups(groups); err != nil {
			return fmt.Errorf("setgroups: %w", err)
		}
	}

	// PR_SET_KEEPCAPS must be set before the uid transition below, or the
	// kernel clears the permitted set the moment euid leaves 0 — and
	// spec.md orders capability narrowing (step f) after the uid/gid
	// transition (step e), so the set has to survive across it.
	if err := unix.Prctl(unix.PR_SET_KEEPCAPS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("PR_SET_KEEPCAPS: %w", err)
	}

	if err := unix.Setgid(int(cfg.GID)); err != nil {
		return fmt.Errorf("setgid: %w", err)
	}
	if err := unix.Setuid(int(cfg.UID)); err != nil {
		return fmt.Errorf("setuid: %w", err)
	}

	// step f: drop every capability not on the manifest's list, then set
	// the bounding set's survivors as effective/permitted/inheritable and
	// ambient (ambient is what lets them actually take effect post-exec
	// for a non-root uid) before locking further privilege gain.
	keep, err := capabilities.FromNames(cfg.Capabilities)
	if err != nil {
		return fmt.Errorf("resolving capabilities: %w", err)
	}
	if err := capabilities.DropBoundingExcept(keep); err != nil {
		return fmt.Errorf("dropping bounding capabilities: %w", err)
	}
	if err := capabilities.SetProcessFull(keep, keep, keep); err != nil {
		return fmt.Errorf("narrowing process capabilities: %w", err)
	}
	if err := capabilities.SetAmbient(keep); err != nil {
		return fmt.Errorf("setting ambient capabilities: %w", err)
	}
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("PR_SET_NO_NEW_PRIVS: %w", err)
	}

	// step g: SELinux exec label, if the manifest requested one.
	if cfg.SELinux != "" {
		if err := selinux.SetExecLabel(cfg.SELinux); err != nil {
			return fmt.Errorf("applying selinux label: %w", err)
		}
	}

	// step h: seccomp filter install, last of all the narrowing steps so
	// it can't itself be bypassed by anything still to come.
	if cfg.Seccomp != nil {
		if err := seccomp.Install(cfg.Seccomp); err != nil {
			return fmt.Errorf("installing seccomp filter: %w", err)
		}
	}

	// step i: stdio wiring.
	if err := wireStdio(cfg); err != nil {
		return fmt.Errorf("wiring stdio: %w", err)
	}

	// step j: process name and environment.
	setProcessName(cfg.Name)
	env := buildEnv(cfg)

	// step k: execve, or report failure and exit with the reserved code.
	argv := append([]string{cfg.Init}, cfg.Args...)
	reportSuccess(conn)
	if err := unix.Exec(cfg.Init, argv, env); err != nil {
		// execve failed: the bootstrap socket is already closed, so there
		// is no channel left to report on. RunInit's caller will see this
		// process simply exit with the reserved code.
		os.Exit(reservedStartFailureExitCode)
	}
	return nil
}

func applyRLimits(limits map[string]npk.RLimit) error {
	for name, lim := range limits {
		cur, max, err := rlimit.Get(name)
		if err != nil {
			return err
		}
		if lim.Soft != nil {
			cur = *lim.Soft
		}
		if lim.Hard != nil {
			max = *lim.Hard
		}
		if err := rlimit.Set(name, cur, max); err != nil {
			return err
		}
	}
	return nil
}

func setProcessName(name string) {
	const commMax = 15 // Linux's TASK_COMM_LEN, minus the trailing NUL
	if len(name) > commMax {
		name = name[:commMax]
	}
	_ = unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(&append([]byte(name), 0)[0])), 0, 0, 0)
}

func buildEnv(cfg *initConfig) []string {
	env := make([]string, 0, len(cfg.Env)+4)
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}
	env = append(env,
		"NORTHSTAR_NAME="+cfg.Name,
		"NORTHSTAR_VERSION="+cfg.Version,
		"NORTHSTAR_CONTAINER="+cfg.Name+":"+cfg.Version,
	)
	if cfg.ConsoleFD >= 0 {
		env = append(env, fmt.Sprintf("NORTHSTAR_CONSOLE=%d", cfg.ConsoleFD))
	}
	return env
}
