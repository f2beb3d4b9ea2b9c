// Package northstarerr declares the error taxonomy surfaced verbatim to
// console clients, per spec.md §7. Every error the runtime returns on a
// request/response frame is one of these types, so a client can switch on
// Kind without string matching.
package northstarerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies a taxonomy member for JSON encoding on the console wire
// protocol (internal/pkg/console).
type Kind string

const (
	KindConfiguration               Kind = "configuration"
	KindDuplicateContainer          Kind = "duplicate_container"
	KindInstallDuplicate             Kind = "install_duplicate"
	KindInvalidContainer            Kind = "invalid_container"
	KindInvalidArguments             Kind = "invalid_arguments"
	KindMountBusy                    Kind = "mount_busy"
	KindUmountBusy                   Kind = "umount_busy"
	KindStartContainerStarted        Kind = "start_container_started"
	KindStartContainerResource       Kind = "start_container_resource"
	KindStartContainerMissingResource Kind = "start_container_missing_resource"
	KindStartContainerFailed         Kind = "start_container_failed"
	KindStopContainerNotStarted      Kind = "stop_container_not_started"
	KindInvalidRepository            Kind = "invalid_repository"
	KindCriticalContainer            Kind = "critical_container"
	KindUnexpected                   Kind = "unexpected"
)

// Error is the concrete error type returned by every core component.
// Container and Status are populated only for the kinds that carry them;
// Cause holds the wrapped underlying error, if any.
type Error struct {
	Kind      Kind
	Container string
	Status    string
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

func Configuration(context string) error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf("configuration: %s", context)}
}

func DuplicateContainer(container string) error {
	return &Error{Kind: KindDuplicateContainer, Container: container, Message: fmt.Sprintf("duplicate container %s", container)}
}

func InstallDuplicate(container string) error {
	return &Error{Kind: KindInstallDuplicate, Container: container, Message: fmt.Sprintf("%s already installed", container)}
}

func InvalidContainer(container string) error {
	return &Error{Kind: KindInvalidContainer, Container: container, Message: fmt.Sprintf("unknown container %s", container)}
}

func InvalidArguments(cause error) error {
	return &Error{Kind: KindInvalidArguments, Cause: cause, Message: fmt.Sprintf("invalid arguments: %s", cause)}
}

func MountBusy(container string) error {
	return &Error{Kind: KindMountBusy, Container: container, Message: fmt.Sprintf("%s is busy", container)}
}

func UmountBusy(container string) error {
	return &Error{Kind: KindUmountBusy, Container: container, Message: fmt.Sprintf("%s is busy", container)}
}

func StartContainerStarted(container string) error {
	return &Error{Kind: KindStartContainerStarted, Container: container, Message: fmt.Sprintf("%s already started", container)}
}

func StartContainerResource(container string) error {
	return &Error{Kind: KindStartContainerResource, Container: container, Message: fmt.Sprintf("%s is a resource container and cannot be started", container)}
}

func StartContainerMissingResource(container string) error {
	return &Error{Kind: KindStartContainerMissingResource, Container: container, Message: fmt.Sprintf("%s: missing resource dependency", container)}
}

func StartContainerFailed(container string, cause error) error {
	return &Error{Kind: KindStartContainerFailed, Container: container, Cause: cause, Message: fmt.Sprintf("%s failed to start: %s", container, cause)}
}

func StopContainerNotStarted(container string) error {
	return &Error{Kind: KindStopContainerNotStarted, Container: container, Message: fmt.Sprintf("%s is not started", container)}
}

func InvalidRepository(repository string) error {
	return &Error{Kind: KindInvalidRepository, Message: fmt.Sprintf("unknown repository %s", repository)}
}

func CriticalContainer(container string, status string) error {
	return &Error{Kind: KindCriticalContainer, Container: container, Status: status, Message: fmt.Sprintf("critical container %s exited: %s", container, status)}
}

// Unexpected wraps any error not otherwise classified. It keeps the
// underlying stack trace via github.com/pkg/errors so daemon logs retain a
// trace even though the console response only carries the flattened string.
func Unexpected(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindUnexpected, Cause: errors.WithStack(err), Message: err.Error()}
}

// As is a thin wrapper around errors.As for the single *Error type, kept here
// so callers don't need to import both packages.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
