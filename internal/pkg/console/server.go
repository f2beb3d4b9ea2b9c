package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ceigel/northstar/internal/pkg/container"
	"github.com/ceigel/northstar/internal/pkg/northstarerr"
)

// Backend is everything the console needs from the supervisor(s) it
// fronts, kept narrow so this package never imports internal/pkg/supervisor
// directly (northstard wires the concrete type in).
type Backend interface {
	Install(repository string, r io.Reader) (container.Container, error)
	Uninstall(c container.Container) error
	Mount(ctx context.Context, c container.Container) error
	Umount(c container.Container) error
	Start(ctx context.Context, c container.Container) error
	Stop(c container.Container, timeout time.Duration) (status string, err error)
	List() []ContainerInfo
	Repositories() []string
	// Shutdown begins the runtime's cancellation sequence (spec.md §5
	// "Shutdown cancels subscribers, then stops every running container
	// with a bounded timeout, then drives teardown of every mounted
	// container").
	Shutdown()
}

// Server accepts console connections on a single listener (spec.md §4.F
// "a single cooperative loop owns the console listener"). Each connection
// is handled on its own goroutine but requests on one connection are
// processed strictly in order, so "response precedes same-connection
// notifications" holds without extra bookkeeping.
type Server struct {
	backend     Backend
	broadcaster *Broadcaster
}

// NewServer wires a Backend and notification Broadcaster into a console
// Server.
func NewServer(backend Backend, broadcaster *Broadcaster) *Server {
	return &Server{backend: backend, broadcaster: broadcaster}
}

// Serve accepts connections on ln until ctx is cancelled or ln is closed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	var unsubscribe func()
	defer func() {
		if unsubscribe != nil {
			unsubscribe()
		}
	}()

	for {
		req, err := readRequest(conn)
		if err != nil {
			if err != io.EOF {
				logrus.WithError(err).Debug("console connection closed")
			}
			return
		}

		if req.Kind == KindNotifications {
			ch, unsub := s.broadcaster.Subscribe()
			unsubscribe = unsub
			_ = writeResponse(conn, Response{ID: req.ID, Kind: KindOk})
			for notif := range ch {
				if err := writeResponse(conn, notif); err != nil {
					return
				}
			}
			return
		}

		resp := s.dispatch(ctx, conn, req)
		if err := writeResponse(conn, resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, conn net.Conn, req *Request) Response {
	switch req.Kind {
	case KindInstall:
		return s.handleInstall(conn, req)
	case KindUninstall:
		return s.handleContainerOp(req, func(c container.Container) error { return s.backend.Uninstall(c) })
	case KindMount:
		return s.handleContainerOp(req, func(c container.Container) error { return s.backend.Mount(ctx, c) })
	case KindUmount:
		return s.handleContainerOp(req, func(c container.Container) error { return s.backend.Umount(c) })
	case KindStart:
		return s.handleContainerOp(req, func(c container.Container) error { return s.backend.Start(ctx, c) })
	case KindStop:
		return s.handleStop(req)
	case KindList:
		return Response{ID: req.ID, Kind: KindContainers, Payload: marshal(ContainersPayload{Containers: s.backend.List()})}
	case KindRepositories:
		return Response{ID: req.ID, Kind: KindReposResult, Payload: marshal(RepositoriesPayload{Repositories: s.backend.Repositories()})}
	case KindShutdown:
		s.backend.Shutdown()
		return Response{ID: req.ID, Kind: KindOk}
	default:
		return errResponse(req.ID, northstarerr.InvalidArguments(fmt.Errorf("unknown request kind %q", req.Kind)))
	}
}

func (s *Server) handleContainerOp(req *Request, op func(container.Container) error) Response {
	var payload ContainerRequest
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return errResponse(req.ID, northstarerr.InvalidArguments(err))
	}
	c, err := container.Parse(payload.Container)
	if err != nil {
		return errResponse(req.ID, northstarerr.InvalidArguments(err))
	}
	if err := op(c); err != nil {
		return errResponse(req.ID, err)
	}
	return Response{ID: req.ID, Kind: KindOk}
}

func (s *Server) handleStop(req *Request) Response {
	var payload StopRequest
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return errResponse(req.ID, northstarerr.InvalidArguments(err))
	}
	c, err := container.Parse(payload.Container)
	if err != nil {
		return errResponse(req.ID, northstarerr.InvalidArguments(err))
	}
	status, err := s.backend.Stop(c, time.Duration(payload.TimeoutSeconds)*time.Second)
	if err != nil {
		return errResponse(req.ID, err)
	}
	return Response{ID: req.ID, Kind: KindUmountResult, Payload: marshal(UmountResultPayload{Container: status})}
}

func (s *Server) handleInstall(conn net.Conn, req *Request) Response {
	var payload InstallRequest
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return errResponse(req.ID, northstarerr.InvalidArguments(err))
	}

	pr, pw := io.Pipe()
	go func() {
		remaining := payload.Size
		for remaining > 0 {
			chunk, err := readFrame(conn)
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			remaining -= int64(len(chunk))
			if _, err := pw.Write(chunk); err != nil {
				return
			}
		}
		pw.Close()
	}()

	c, err := s.backend.Install(payload.Repository, pr)
	if err != nil {
		return errResponse(req.ID, err)
	}
	return Response{ID: req.ID, Kind: KindContainer, Payload: marshal(ContainerInfo{Name: c.Name(), Version: c.Version().String()})}
}

func errResponse(id string, err error) Response {
	e, ok := northstarerr.As(err)
	if !ok {
		e = &northstarerr.Error{Kind: northstarerr.KindUnexpected, Message: err.Error()}
	}
	return Response{ID: id, Kind: KindErr, Payload: marshal(ErrPayload{
		Kind:      string(e.Kind),
		Container: e.Container,
		Status:    e.Status,
		Message:   e.Error(),
	})}
}
