package supervisor

import (
	"github.com/ceigel/northstar/internal/pkg/container"
	"github.com/ceigel/northstar/internal/pkg/launcher"
	"github.com/ceigel/northstar/internal/pkg/mount"
	"github.com/ceigel/northstar/internal/pkg/npk"
)

// containerState is one container's full supervised record: its identity,
// manifest, current State, and whichever of Handle/Process are populated
// for that state. UseCount tracks how many other containers currently
// depend on this one as a mounted resource (spec.md §4.E); Umount refuses
// while UseCount > 0.
type containerState struct {
	Container container.Container
	Manifest  *npk.Manifest

	State State

	Handle  *mount.Handle
	Process *launcher.Process

	UseCount int

	// resourceDeps lists the resource names this container's own mounts
	// bumped the use-count of, released together on Umount/teardown.
	resourceDeps []string
}
