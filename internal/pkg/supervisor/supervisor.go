package supervisor

import (
	"context"
	"fmt"
	"io"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ceigel/northstar/internal/pkg/container"
	"github.com/ceigel/northstar/internal/pkg/launcher"
	"github.com/ceigel/northstar/internal/pkg/mount"
	"github.com/ceigel/northstar/internal/pkg/northstarerr"
	"github.com/ceigel/northstar/internal/pkg/npk"
	"github.com/ceigel/northstar/internal/pkg/repository"
)

// Options carries the directories and timeouts the supervisor needs beyond
// the repository and mount engine options northstard already owns.
type Options struct {
	MountOpts    mount.Options
	CgroupParent string
	StopTimeout  time.Duration // SIGTERM grace period before SIGKILL (spec.md §4.E)
}

// CriticalExit is delivered to OnCritical when an autostart=critical
// container exits non-zero or signalled (spec.md §4.E "critical exit
// policy").
type CriticalExit struct {
	Container container.Container
	Status    launcher.ExitStatus
}

// Supervisor owns every installed container's lifecycle state and
// resource-dependency bookkeeping (spec.md §4.E). It is grounded on
// original_source/northstar-runtime/src/runtime/state.rs's
// state-machine-plus-registry shape, collapsed from async Rust's
// actor-per-container model into one mutex-guarded map, since the
// runtime's single event loop (internal/pkg/northstard) already serializes
// every request that touches it.
type Supervisor struct {
	repo repository.Repository
	opts Options

	mu         sync.Mutex
	containers map[container.Container]*containerState

	// OnCritical is invoked (without the supervisor's lock held) whenever
	// a critical container exits abnormally; northstard wires this to its
	// own shutdown trigger.
	OnCritical func(CriticalExit)
}

// New creates a Supervisor over every package already present in repo,
// each starting in StateInstalled.
func New(repo repository.Repository, opts Options) *Supervisor {
	s := &Supervisor{repo: repo, opts: opts, containers: map[container.Container]*containerState{}}
	for _, e := range repo.List() {
		c, err := e.Package.Manifest.Container()
		if err != nil {
			continue
		}
		s.containers[c] = &containerState{Container: c, Manifest: e.Package.Manifest, State: StateInstalled}
	}
	return s
}

// Install streams r into the repository and registers the new container in
// StateInstalled.
func (s *Supervisor) Install(r io.Reader) (container.Container, error) {
	c, err := s.repo.Insert(r)
	if err != nil {
		return container.Container{}, err
	}
	entry := s.repo.Get(c)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.containers[c] = &containerState{Container: c, Manifest: entry.Package.Manifest, State: StateInstalled}
	logrus.WithFields(logrus.Fields{"container": c.String()}).Info("installed")
	return c, nil
}

// Uninstall removes a container from the repository. It must be Installed
// (i.e. not mounted) first.
func (s *Supervisor) Uninstall(c container.Container) error {
	s.mu.Lock()
	cs, ok := s.containers[c]
	if !ok {
		s.mu.Unlock()
		return northstarerr.InvalidContainer(c.String())
	}
	if cs.State != StateInstalled {
		s.mu.Unlock()
		return fmt.Errorf("%s: must be unmounted before uninstall", c)
	}
	delete(s.containers, c)
	s.mu.Unlock()

	if err := s.repo.Remove(c); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"container": c.String()}).Info("uninstalled")
	return nil
}

// Mount attaches the package's rootfs (spec.md §4.C), transitioning
// Installed -> Mounted.
func (s *Supervisor) Mount(ctx context.Context, c container.Container) error {
	s.mu.Lock()
	cs, ok := s.containers[c]
	if !ok {
		s.mu.Unlock()
		return northstarerr.InvalidContainer(c.String())
	}
	if err := checkTransition(c.String(), cs.State, StateMounted); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	entry := s.repo.Get(c)
	if entry == nil {
		return northstarerr.InvalidContainer(c.String())
	}
	handle, err := mount.Mount(ctx, entry.File, entry.Package, c, s.opts.MountOpts)
	if err != nil {
		return northstarerr.Unexpected(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cs.Handle = handle
	cs.State = StateMounted
	logrus.WithFields(logrus.Fields{"container": c.String(), "from": StateInstalled, "to": StateMounted}).Info("transitioned")
	return nil
}

// Umount releases a container's rootfs, refusing while any other
// container still depends on it as a resource (spec.md §4.E "UmountBusy
// if use-count > 0").
func (s *Supervisor) Umount(c container.Container) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.containers[c]
	if !ok {
		return northstarerr.InvalidContainer(c.String())
	}
	if cs.UseCount > 0 {
		return northstarerr.UmountBusy(c.String())
	}
	if err := checkTransition(c.String(), cs.State, StateInstalled); err != nil {
		return err
	}
	if err := mount.Umount(cs.Handle); err != nil {
		return northstarerr.Unexpected(err)
	}
	cs.Handle = nil
	cs.State = StateInstalled
	logrus.WithFields(logrus.Fields{"container": c.String(), "from": StateMounted, "to": StateInstalled}).Info("transitioned")
	return nil
}

// List returns a point-in-time snapshot of every supervised container.
func (s *Supervisor) List() []containerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]containerState, 0, len(s.containers))
	for _, cs := range s.containers {
		out = append(out, *cs)
	}
	return out
}

// Get returns a snapshot of one container's state, or ok=false if unknown.
func (s *Supervisor) Get(c container.Container) (containerState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.containers[c]
	if !ok {
		return containerState{}, false
	}
	return *cs, true
}

// Start launches a mounted, non-resource container (spec.md §4.D/§4.E
// "Mounted --start--> Starting --(init ok)--> Running(pid)"). It resolves
// the manifest's resource mounts against currently-mounted resource
// containers before launching, so a missing dependency fails fast without
// forking anything.
func (s *Supervisor) Start(ctx context.Context, c container.Container) (*launcher.Process, error) {
	s.mu.Lock()
	cs, ok := s.containers[c]
	if !ok {
		s.mu.Unlock()
		return nil, northstarerr.InvalidContainer(c.String())
	}
	if cs.Manifest.IsResource() {
		s.mu.Unlock()
		return nil, northstarerr.StartContainerResource(c.String())
	}
	if cs.State == StateStarting || cs.State == StateRunning {
		s.mu.Unlock()
		return nil, northstarerr.StartContainerStarted(c.String())
	}
	if err := checkTransition(c.String(), cs.State, StateStarting); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	cs.State = StateStarting
	s.mu.Unlock()

	refs := resourceRefs(cs.Manifest)
	roots, err := s.resourceRoots(refs)
	if err != nil {
		s.mu.Lock()
		cs.State = StateMounted
		s.mu.Unlock()
		return nil, northstarerr.StartContainerMissingResource(c.String())
	}
	depNames := make([]string, 0, len(roots))
	for name := range refs {
		depNames = append(depNames, refs[name].Name)
	}

	proc, err := launcher.Launch(ctx, launcher.Options{
		Container:     cs.Container,
		Manifest:      cs.Manifest,
		Handle:        cs.Handle,
		ResourceRoots: roots,
		DataDir:       s.opts.MountOpts.DataDir,
		CgroupParent:  s.opts.CgroupParent,
	})
	if err != nil {
		s.releaseResourceRoots(depNames)
		s.mu.Lock()
		cs.State = StateMounted
		s.mu.Unlock()
		return nil, err
	}

	s.mu.Lock()
	cs.Process = proc
	cs.resourceDeps = depNames
	cs.State = StateRunning
	logrus.WithFields(logrus.Fields{"container": c.String(), "pid": proc.PID}).Info("started")
	s.mu.Unlock()

	go s.watch(c, cs, proc)

	return proc, nil
}

// watch consumes a launched process's exit, applies the critical-autostart
// policy, and returns the container to Mounted (spec.md §4.E).
func (s *Supervisor) watch(c container.Container, cs *containerState, proc *launcher.Process) {
	status := <-proc.Exited()

	s.mu.Lock()
	cs.Process = nil
	deps := cs.resourceDeps
	cs.resourceDeps = nil
	cs.State = StateMounted
	s.mu.Unlock()

	s.releaseResourceRoots(deps)

	logrus.WithFields(logrus.Fields{"container": c.String(), "status": status.String()}).Info("exited")

	if cs.Manifest.Autostart == npk.AutostartCritical && isAbnormalExit(status) {
		if s.OnCritical != nil {
			s.OnCritical(CriticalExit{Container: c, Status: status})
		}
	}
}

func isAbnormalExit(status launcher.ExitStatus) bool {
	if status.Signal != nil {
		return true
	}
	return status.Code != nil && *status.Code != 0
}

// Stop implements the stop protocol (spec.md §4.E): SIGTERM, wait up to
// timeout, SIGKILL, wait indefinitely. It returns once watch has fully
// processed the exit and the container is back in StateMounted. A
// non-positive timeout falls back to Options.StopTimeout, so callers that
// don't care about per-request overrides (e.g. critical-exit teardown) can
// pass zero.
func (s *Supervisor) Stop(c container.Container, timeout time.Duration) (launcher.ExitStatus, error) {
	if timeout <= 0 {
		timeout = s.opts.StopTimeout
	}

	s.mu.Lock()
	cs, ok := s.containers[c]
	if !ok {
		s.mu.Unlock()
		return launcher.ExitStatus{}, northstarerr.InvalidContainer(c.String())
	}
	if cs.State != StateRunning {
		s.mu.Unlock()
		return launcher.ExitStatus{}, northstarerr.StopContainerNotStarted(c.String())
	}
	if err := checkTransition(c.String(), cs.State, StateStopping); err != nil {
		s.mu.Unlock()
		return launcher.ExitStatus{}, err
	}
	proc := cs.Process
	cs.State = StateStopping
	s.mu.Unlock()

	exited := proc.Exited()

	if err := proc.Signal(syscall.SIGTERM); err != nil && err != syscall.ESRCH {
		return launcher.ExitStatus{}, northstarerr.Unexpected(err)
	}

	var status launcher.ExitStatus
	select {
	case status = <-exited:
	case <-time.After(timeout):
		if err := proc.Signal(syscall.SIGKILL); err != nil && err != syscall.ESRCH {
			return launcher.ExitStatus{}, northstarerr.Unexpected(err)
		}
		status = <-exited
	}
	return status, nil
}

func resourceRefs(m *npk.Manifest) map[string]mountResourceRef {
	refs := map[string]mountResourceRef{}
	for target, mnt := range m.Mounts {
		if mnt.Type == npk.MountResource {
			refs[target] = mountResourceRef{Name: mnt.Name, VersionReq: mnt.VersionReq}
		}
	}
	return refs
}
