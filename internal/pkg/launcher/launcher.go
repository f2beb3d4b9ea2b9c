// Package launcher forks, namespaces, and execs a container's init process
// (spec.md §4.D). It is the runtime's hardest and highest-weighted
// component: fork-with-namespace-flags, mount-inside-new-root, pivot_root,
// capability/rlimit/SELinux/seccomp application, and execve all happen
// here, inside the re-exec'd helper driven by RunInit.
//
// The pivot_root dance in init.go is lifted near-verbatim from the
// self-pivot trick in
// internal/pkg/runtime/engine/apptainer/rpc/server/server_linux.go ("idea
// taken from libcontainer... to avoid creation of a temporary directory").
// The re-exec-via-/proc/self/exe + SysProcAttr uid/gid mapping approach
// mirrors how github.com/opencontainers/runc/libcontainer (already a
// dependency via internal/pkg/cgroup) drives its own nsenter stage —
// Go's os/exec performs the mapping writes itself during cmd.Start() when
// Cloneflags includes CLONE_NEWUSER, so no hand-rolled clone(2)/write(2)
// pair is needed for that step.
package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/ceigel/northstar/internal/pkg/cgroup"
	"github.com/ceigel/northstar/internal/pkg/container"
	"github.com/ceigel/northstar/internal/pkg/mount"
	"github.com/ceigel/northstar/internal/pkg/northstarerr"
	"github.com/ceigel/northstar/internal/pkg/npk"
	"github.com/ceigel/northstar/pkg/util/namespaces"
)

// ReexecArg is the argv[1] northstard recognizes to dispatch into RunInit
// instead of starting the daemon event loop (spec.md §4.D step 3's
// "fork with namespace flags" implemented as a Go self re-exec).
const ReexecArg = "northstar-init"

// reservedStartFailureExitCode is the exit status RunInit uses for any
// failure up to and including execve, which the supervisor treats as a
// start failure rather than a container exit (spec.md §4.D.5.k).
const reservedStartFailureExitCode = 111

// Options carries everything Launch needs beyond the manifest itself: the
// mounted rootfs handle, resolved resource-mount sources (the supervisor's
// job per spec.md §4.E "resource dependency tracking"), and the
// directories/parent cgroup the runtime config supplies.
type Options struct {
	Container     container.Container
	Manifest      *npk.Manifest
	Handle        *mount.Handle
	ResourceRoots map[string]string // resource name -> mounted root dir
	DataDir       string            // persist-mount host base, matches internal/pkg/mount.Options.DataDir
	CgroupParent  string
	ConsoleSock   *os.File // non-nil if manifest.io wants a console fd
}

// ExitStatus is the terminal state of a launched init process (spec.md
// §4.E "Returns the final ExitStatus").
type ExitStatus struct {
	Code   *int
	Signal *int
}

func (s ExitStatus) String() string {
	if s.Code != nil {
		return fmt.Sprintf("Exit{%d}", *s.Code)
	}
	if s.Signal != nil {
		return fmt.Sprintf("Signalled{%d}", *s.Signal)
	}
	return "unknown"
}

// Process is a running container init: a pid the supervisor tracks, the
// cgroup that pid was placed in, and an exit channel it learns the
// terminal status from (spec.md §7 "after execve the supervisor tracks
// only a PID and lets the exit path clean up").
type Process struct {
	PID    int
	Cgroup *cgroup.Manager
	proc   *os.Process
	exited chan ExitStatus
}

// Signal delivers sig to the container's init, the primitive the
// supervisor's stop protocol (spec.md §4.E) is built on.
func (p *Process) Signal(sig syscall.Signal) error {
	return syscall.Kill(p.PID, sig)
}

// Exited returns the channel Launch's reaper goroutine posts the final
// ExitStatus to exactly once.
func (p *Process) Exited() <-chan ExitStatus {
	return p.exited
}

// Launch runs spec.md §4.D's full sequence: cgroup setup, bootstrap
// socketpair, clone-with-namespace-flags via a self re-exec, uid/gid
// mapping (handled by Go's os/exec for CLONE_NEWUSER), and the
// parent-side half of the bootstrap handshake. The child's half — mount,
// pivot_root, capability/rlimit/seccomp/SELinux narrowing, and execve — is
// RunInit, running inside the re-exec'd process.
func Launch(ctx context.Context, opts Options) (proc *Process, err error) {
	// The full-range 0->0 uid/gid mapping below needs CAP_SYS_ADMIN in the
	// host's own user namespace; an unprivileged daemon can request
	// CLONE_NEWUSER but the mapping write will simply fail deep inside
	// cmd.Start(), so check up front and report a clearer cause.
	if namespaces.IsUnprivileged() {
		return nil, northstarerr.StartContainerFailed(opts.Container.Name(), fmt.Errorf("northstard must run as the host's real root to create container namespaces"))
	}

	cfg, extraFiles, consoleFD, err := buildInitConfig(opts)
	if err != nil {
		return nil, fmt.Errorf("building init config: %w", err)
	}

	bootstrapParent, bootstrapChild, err := socketpair("northstar-bootstrap")
	if err != nil {
		return nil, fmt.Errorf("creating bootstrap socketpair: %w", err)
	}
	defer bootstrapChild.Close()
	defer func() {
		if err != nil {
			bootstrapParent.Close()
		}
	}()

	// bootstrapChild always occupies fd 3 in the child; any console/stdio
	// pipe ends the caller wants follow it, and buildInitConfig already
	// recorded the fd numbers it assigned into cfg.
	files := append([]*os.File{bootstrapChild}, extraFiles...)

	cloneFlags := uintptr(unix.CLONE_NEWNS | unix.CLONE_NEWPID | unix.CLONE_NEWIPC | unix.CLONE_NEWUTS | unix.CLONE_NEWUSER)
	if opts.Manifest.Network == nil {
		cloneFlags |= unix.CLONE_NEWNET
	}

	cmd := exec.CommandContext(ctx, "/proc/self/exe", ReexecArg)
	cmd.Stdin = nil
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = files
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: cloneFlags,
		UidMappings: []syscall.SysProcIDMap{
			{ContainerID: 0, HostID: 0, Size: 4294967295},
		},
		GidMappings: []syscall.SysProcIDMap{
			{ContainerID: 0, HostID: 0, Size: 4294967295},
		},
		GidMappingsEnableSetgroups: false,
	}

	if err = cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting init process: %w", err)
	}
	pid := cmd.Process.Pid
	defer func() {
		if err != nil {
			_ = cmd.Process.Kill()
			_, _ = cmd.Process.Wait()
		}
	}()

	// cgroup.New both creates the cgroup and places pid in it: spec.md
	// §4.D steps 1 and 4's cgroup.procs write are merged here since no
	// consumer needs the cgroup to exist before the child's pid is known.
	mgr, err := cgroup.New(opts.CgroupParent, opts.Container.Name(), opts.Container.Version().String(), pid, opts.Manifest.CGroups)
	if err != nil {
		err = fmt.Errorf("cgroup setup: %w", err)
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = mgr.Remove()
		}
	}()

	if sendErr := sendInitConfig(bootstrapParent, cfg); sendErr != nil {
		err = fmt.Errorf("sending init config: %w", sendErr)
		return nil, err
	}

	if hsErr := awaitHandshake(bootstrapParent); hsErr != nil {
		err = northstarerr.StartContainerFailed(opts.Container.Name(), hsErr)
		return nil, err
	}

	if consoleFD != nil {
		consoleFD.Close() // parent's copy; the child's dup lives on in its fd table
	}

	exited := make(chan ExitStatus, 1)
	go func() {
		state, _ := cmd.Process.Wait()
		exited <- translateExit(state)
	}()

	return &Process{PID: pid, Cgroup: mgr, proc: cmd.Process, exited: exited}, nil
}

func translateExit(state *os.ProcessState) ExitStatus {
	if state == nil {
		code := reservedStartFailureExitCode
		return ExitStatus{Code: &code}
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		code := state.ExitCode()
		return ExitStatus{Code: &code}
	}
	if ws.Signaled() {
		sig := int(ws.Signal())
		return ExitStatus{Signal: &sig}
	}
	code := ws.ExitStatus()
	return ExitStatus{Code: &code}
}

func socketpair(name string) (parent, child *os.File, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, err
	}
	return os.NewFile(uintptr(fds[0]), name+"-parent"), os.NewFile(uintptr(fds[1]), name+"-child"), nil
}
