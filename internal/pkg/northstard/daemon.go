package northstard

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ceigel/northstar/internal/pkg/config"
	"github.com/ceigel/northstar/internal/pkg/console"
)

// ExitReason distinguishes the three process exit codes spec.md §6
// assigns the daemon: 0 clean shutdown, 1 fatal configuration error, 2 a
// critical container's abnormal exit.
type ExitReason int

const (
	ExitClean ExitReason = iota
	ExitConfigError
	ExitCriticalContainer
)

// Run owns the runtime's single cooperative event loop (spec.md §5): it
// starts the console listener, subscribes to the process's terminating
// signals, drives the shutdown sequence, and blocks until the process
// should exit, returning the code the caller should pass to os.Exit.
func Run(ctx context.Context, cfg *config.Config) int {
	broadcaster := console.NewBroadcaster(cfg.NotificationBufferSize)

	rt, err := New(cfg, broadcaster)
	if err != nil {
		logrus.WithError(err).Error("failed to initialize runtime")
		return int(ExitConfigError)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	reason := ExitClean
	var reasonSet bool
	triggerShutdown := func(r ExitReason) func() {
		return func() {
			if !reasonSet {
				reason = r
				reasonSet = true
			}
			cancel()
		}
	}
	rt.SetShutdownTrigger(triggerShutdown(ExitCriticalContainer))

	rt.MountOnStart(runCtx)

	ln, err := listen(cfg.Debug)
	if err != nil {
		logrus.WithError(err).Error("failed to start console listener")
		return int(ExitConfigError)
	}

	server := console.NewServer(rt, broadcaster)
	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- server.Serve(runCtx, ln) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logrus.WithField("signal", sig.String()).Info("received shutdown signal")
	case <-runCtx.Done():
		logrus.Info("shutdown triggered by critical container exit")
	case err := <-serveErrCh:
		if err != nil {
			logrus.WithError(err).Error("console listener stopped unexpectedly")
		}
	}

	cancel()
	shutdown(rt, broadcaster)

	if reasonSet {
		return int(reason)
	}
	return int(ExitClean)
}

// shutdown stops every running container, then tears down every mounted
// container. Each step is unconditional so a slow or failing container
// never leaves a later step skipped. Notification subscribers are not
// cancelled or closed here.
func shutdown(rt *Runtime, broadcaster *console.Broadcaster) {
	rt.StopAllRunning(5 * time.Second)
	rt.UmountAllMounted()
}

func listen(dbg *config.Debug) (net.Listener, error) {
	if dbg == nil || dbg.Console == "" {
		return nil, fmt.Errorf("debug.console must be configured to start the console listener")
	}
	u, err := url.Parse(dbg.Console)
	if err != nil {
		return nil, fmt.Errorf("parsing console url: %w", err)
	}
	switch u.Scheme {
	case "tcp":
		return net.Listen("tcp", u.Host)
	case "unix":
		path := u.Path
		_ = os.Remove(path)
		return net.Listen("unix", path)
	default:
		return nil, fmt.Errorf("console scheme must be tcp or unix, got %q", u.Scheme)
	}
}
