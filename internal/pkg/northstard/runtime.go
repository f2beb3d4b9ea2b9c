// Package northstard wires the repository, supervisor, and console packages
// into the single-threaded runtime described by spec.md §4.F/§5: one
// process owning the console listener, the SIGCHLD/signal stream, and every
// container's lifecycle, started from cmd/northstard.
package northstard

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ceigel/northstar/internal/pkg/config"
	"github.com/ceigel/northstar/internal/pkg/console"
	"github.com/ceigel/northstar/internal/pkg/container"
	"github.com/ceigel/northstar/internal/pkg/mount"
	"github.com/ceigel/northstar/internal/pkg/northstarerr"
	"github.com/ceigel/northstar/internal/pkg/repository"
	"github.com/ceigel/northstar/internal/pkg/supervisor"
)

// Runtime fronts one Supervisor per configured repository (spec.md §4.B
// "a repository is a named set of NPKs") and satisfies console.Backend by
// routing each request to the repository that owns the named container,
// since the wire protocol itself is repository-agnostic once installed.
type Runtime struct {
	cfg *config.Config

	byRepo      map[string]*supervisor.Supervisor
	broadcaster *console.Broadcaster

	shutdown context.CancelFunc
}

// New constructs every configured repository and its Supervisor, loading
// already-installed packages into StateInstalled (spec.md §4.B).
func New(cfg *config.Config, broadcaster *console.Broadcaster) (*Runtime, error) {
	rt := &Runtime{cfg: cfg, byRepo: map[string]*supervisor.Supervisor{}, broadcaster: broadcaster}

	mountOpts := mount.Options{
		RunDir:                    cfg.RunDir,
		DataDir:                   cfg.DataDir,
		DeviceMapperDeviceTimeout: cfg.DeviceMapperDeviceTimeout.AsDuration(),
	}

	for name, rc := range cfg.Repositories {
		repo, err := openRepository(rc)
		if err != nil {
			return nil, fmt.Errorf("repository %q: %w", name, err)
		}

		sv := supervisor.New(repo, supervisor.Options{
			MountOpts:    mountOpts,
			CgroupParent: cfg.Cgroup,
			StopTimeout:  5 * time.Second,
		})
		sv.OnCritical = rt.onCritical
		rt.byRepo[name] = sv
	}

	return rt, nil
}

func openRepository(rc config.RepositoryConfig) (repository.Repository, error) {
	var key ed25519.PublicKey
	if rc.Key != "" {
		k, err := os.ReadFile(rc.Key)
		if err != nil {
			return nil, fmt.Errorf("reading trust key: %w", err)
		}
		key = ed25519.PublicKey(k)
	}

	switch rc.Type {
	case config.RepositoryTypeFS:
		return repository.NewFSRepository(rc.Dir, key)
	case config.RepositoryTypeMemory:
		return repository.NewMemRepository(key), nil
	default:
		return nil, fmt.Errorf("unknown repository type %q", rc.Type)
	}
}

// MountOnStart mounts (and, for relaxed/critical autostart manifests,
// starts) every container in a repository configured with
// mount_on_start=true (spec.md §4.E "autostart policy").
func (rt *Runtime) MountOnStart(ctx context.Context) {
	for name, rc := range rt.cfg.Repositories {
		if !rc.MountOnStart {
			continue
		}
		sv := rt.byRepo[name]
		for _, cs := range sv.List() {
			if err := sv.Mount(ctx, cs.Container); err != nil {
				logrus.WithError(err).WithField("container", cs.Container.String()).Warn("mount_on_start failed")
				continue
			}
			rt.broadcaster.Publish(console.NotificationPayload{Event: "mount", Container: cs.Container.String()})
			if cs.Manifest.Autostart == "relaxed" || cs.Manifest.Autostart == "critical" {
				if _, err := sv.Start(ctx, cs.Container); err != nil {
					logrus.WithError(err).WithField("container", cs.Container.String()).Warn("autostart failed")
					continue
				}
				rt.broadcaster.Publish(console.NotificationPayload{Event: "start", Container: cs.Container.String()})
			}
		}
	}
}

func (rt *Runtime) onCritical(exit supervisor.CriticalExit) {
	logrus.WithFields(logrus.Fields{
		"container": exit.Container.String(),
		"status":    exit.Status.String(),
	}).Error("critical container exited abnormally")
	rt.broadcaster.Publish(console.NotificationPayload{
		Event:     "exit",
		Container: exit.Container.String(),
		Status:    exit.Status.String(),
	})
	if rt.shutdown != nil {
		rt.shutdown()
	}
}

// SetShutdownTrigger wires the cancellation the event loop should invoke
// when a critical container dies (spec.md §4.E, §5 "Shutdown cancels
// subscribers, then stops every running container").
func (rt *Runtime) SetShutdownTrigger(cancel context.CancelFunc) { rt.shutdown = cancel }

func (rt *Runtime) find(c container.Container) (*supervisor.Supervisor, bool) {
	for _, sv := range rt.byRepo {
		if _, ok := sv.Get(c); ok {
			return sv, true
		}
	}
	return nil, false
}

// Install implements console.Backend.
func (rt *Runtime) Install(repo string, r io.Reader) (container.Container, error) {
	sv, ok := rt.byRepo[repo]
	if !ok {
		return container.Container{}, northstarerr.InvalidRepository(repo)
	}
	c, err := sv.Install(r)
	if err != nil {
		return container.Container{}, err
	}
	rt.broadcaster.Publish(console.NotificationPayload{Event: "install", Container: c.String()})
	return c, nil
}

// Uninstall implements console.Backend.
func (rt *Runtime) Uninstall(c container.Container) error {
	sv, ok := rt.find(c)
	if !ok {
		return northstarerr.InvalidContainer(c.String())
	}
	if err := sv.Uninstall(c); err != nil {
		return err
	}
	rt.broadcaster.Publish(console.NotificationPayload{Event: "uninstall", Container: c.String()})
	return nil
}

// Mount implements console.Backend.
func (rt *Runtime) Mount(ctx context.Context, c container.Container) error {
	sv, ok := rt.find(c)
	if !ok {
		return northstarerr.InvalidContainer(c.String())
	}
	if err := sv.Mount(ctx, c); err != nil {
		return err
	}
	rt.broadcaster.Publish(console.NotificationPayload{Event: "mount", Container: c.String()})
	return nil
}

// Umount implements console.Backend.
func (rt *Runtime) Umount(c container.Container) error {
	sv, ok := rt.find(c)
	if !ok {
		return northstarerr.InvalidContainer(c.String())
	}
	if err := sv.Umount(c); err != nil {
		return err
	}
	rt.broadcaster.Publish(console.NotificationPayload{Event: "umount", Container: c.String()})
	return nil
}

// Start implements console.Backend.
func (rt *Runtime) Start(ctx context.Context, c container.Container) error {
	sv, ok := rt.find(c)
	if !ok {
		return northstarerr.InvalidContainer(c.String())
	}
	if _, err := sv.Start(ctx, c); err != nil {
		return err
	}
	rt.broadcaster.Publish(console.NotificationPayload{Event: "start", Container: c.String()})
	return nil
}

// Stop implements console.Backend.
func (rt *Runtime) Stop(c container.Container, timeout time.Duration) (string, error) {
	sv, ok := rt.find(c)
	if !ok {
		return "", northstarerr.InvalidContainer(c.String())
	}
	status, err := sv.Stop(c, timeout)
	if err != nil {
		return "", err
	}
	rt.broadcaster.Publish(console.NotificationPayload{Event: "exit", Container: c.String(), Status: status.String()})
	return status.String(), nil
}

// List implements console.Backend.
func (rt *Runtime) List() []console.ContainerInfo {
	var out []console.ContainerInfo
	for _, sv := range rt.byRepo {
		for _, cs := range sv.List() {
			info := console.ContainerInfo{
				Name:     cs.Container.Name(),
				Version:  cs.Container.Version().String(),
				State:    string(cs.State),
				UseCount: cs.UseCount,
			}
			if cs.Process != nil {
				info.PID = cs.Process.PID
			}
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Repositories implements console.Backend.
func (rt *Runtime) Repositories() []string {
	names := make([]string, 0, len(rt.byRepo))
	for name := range rt.byRepo {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Shutdown implements console.Backend.
func (rt *Runtime) Shutdown() {
	if rt.shutdown != nil {
		rt.shutdown()
	}
}

// StopAllRunning signals and waits on every currently running container
// across every repository, used during the shutdown sequence (spec.md §5
// "Shutdown... stops every running container with a bounded timeout").
func (rt *Runtime) StopAllRunning(timeout time.Duration) {
	for _, sv := range rt.byRepo {
		for _, cs := range sv.List() {
			if cs.State != supervisor.StateRunning {
				continue
			}
			if _, err := sv.Stop(cs.Container, timeout); err != nil {
				logrus.WithError(err).WithField("container", cs.Container.String()).Warn("stop during shutdown failed")
			}
		}
	}
}

// UmountAllMounted tears down every mounted container, the last step of
// the shutdown sequence.
func (rt *Runtime) UmountAllMounted() {
	for _, sv := range rt.byRepo {
		for _, cs := range sv.List() {
			if cs.State != supervisor.StateMounted {
				continue
			}
			if err := sv.Umount(cs.Container); err != nil {
				logrus.WithError(err).WithField("container", cs.Container.String()).Warn("umount during shutdown failed")
			}
		}
	}
}

