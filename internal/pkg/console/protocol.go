// Package console implements the runtime's external control protocol
// (spec.md §6): length-prefixed JSON request/response frames plus
// unsolicited notification frames, served over a TCP or Unix listener.
// It is grounded on the console wire description in
// original_source/northstar-runtime/src/runtime/console and on the
// teacher's own habit of a thin framing layer plus typed payloads
// (cf. internal/pkg/runtime/launcher's rpc client/server pairing), adapted
// from the original's serde-tagged enum wire shape to a Go
// kind-string-plus-json.RawMessage discriminated union, the same idiom
// npk.SyscallRule uses for its own "any" vs. predicate-map tag.
package console

import "encoding/json"

// RequestKind tags the payload carried by a Request frame.
type RequestKind string

const (
	KindInstall       RequestKind = "install"
	KindUninstall     RequestKind = "uninstall"
	KindMount         RequestKind = "mount"
	KindUmount        RequestKind = "umount"
	KindStart         RequestKind = "start"
	KindStop          RequestKind = "stop"
	KindList          RequestKind = "list"
	KindRepositories  RequestKind = "repositories"
	KindShutdown      RequestKind = "shutdown"
	KindNotifications RequestKind = "notifications"
)

// Request is one client-to-server frame (spec.md §6: "requests containing
// id, payload one of Install/Uninstall/...").
type Request struct {
	ID      string          `json:"id"`
	Kind    RequestKind     `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// InstallRequest is KindInstall's payload. The NPK body follows as Size
// bytes of raw frames on the same connection (spec.md §6 "Install
// streaming").
type InstallRequest struct {
	Repository string `json:"repository"`
	Size       int64  `json:"size"`
}

// ContainerRequest names a container by its "name:version" identity; it is
// the payload shape for Uninstall/Mount/Umount/Start.
type ContainerRequest struct {
	Container string `json:"container"`
}

// StopRequest carries the grace period before SIGKILL, specified in
// seconds on the wire (spec.md §9 open question: "Specify seconds in the
// wire protocol").
type StopRequest struct {
	Container      string `json:"container"`
	TimeoutSeconds int64  `json:"timeout_seconds"`
}

// ResponseKind tags the payload carried by a Response or Notification frame.
type ResponseKind string

const (
	KindOk           ResponseKind = "ok"
	KindErr          ResponseKind = "err"
	KindContainer    ResponseKind = "container"
	KindContainers   ResponseKind = "containers"
	KindReposResult  ResponseKind = "repositories"
	KindMountResult  ResponseKind = "mount_result"
	KindUmountResult ResponseKind = "umount_result"
	KindNotification ResponseKind = "notification"
)

// Response is one server-to-client frame answering a Request (same ID).
// Notification frames reuse this shape with an empty ID (spec.md §6:
// "Notifications are unsolicited frames with no id").
type Response struct {
	ID      string          `json:"id,omitempty"`
	Kind    ResponseKind    `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrPayload mirrors northstarerr.Error's client-visible fields (spec.md
// §7 "Error taxonomy... surfaced to clients verbatim").
type ErrPayload struct {
	Kind      string `json:"kind"`
	Container string `json:"container,omitempty"`
	Status    string `json:"status,omitempty"`
	Message   string `json:"message"`
}

// ContainerInfo is one entry of a Containers/List response.
type ContainerInfo struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	State    string `json:"state"`
	PID      int    `json:"pid,omitempty"`
	UseCount int    `json:"use_count"`
}

// ContainersPayload is KindContainers' payload.
type ContainersPayload struct {
	Containers []ContainerInfo `json:"containers"`
}

// RepositoriesPayload is KindReposResult's payload.
type RepositoriesPayload struct {
	Repositories []string `json:"repositories"`
}

// MountResultPayload/UmountResultPayload carry the affected identity back
// so a client can correlate the response without re-parsing the request.
type MountResultPayload struct {
	Container string `json:"container"`
}

type UmountResultPayload struct {
	Container string `json:"container"`
}

// NotificationPayload is the body of a KindNotification frame: one
// lifecycle event, distinguished by Event.
type NotificationPayload struct {
	Event     string `json:"event"` // "exit" | "install" | "uninstall" | "mount" | "umount" | "start"
	Container string `json:"container"`
	Status    string `json:"status,omitempty"`
}

func marshal(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// Every payload type here is a plain struct of strings/ints;
		// a marshal failure would mean a programming error, not a runtime
		// condition worth propagating through every caller's error path.
		panic(err)
	}
	return b
}
