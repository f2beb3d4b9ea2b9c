package supervisor

import (
	"fmt"

	"github.com/blang/semver/v4"
)

// resolveResource picks the highest installed version of a resource
// container named `name` that satisfies versionReq (spec.md §4.E
// "resolve Resource{name,version_req} to the highest-version satisfying
// installed resource container"). An empty versionReq matches any
// version. Every container in s.containers is searched; only entries
// whose manifest reports IsResource() are eligible, mounted or not.
func (s *Supervisor) resolveResource(name, versionReq string) (*containerState, error) {
	var rng semver.Range
	if versionReq != "" {
		r, err := semver.ParseRange(versionReq)
		if err != nil {
			return nil, fmt.Errorf("resource %q: invalid version requirement %q: %w", name, versionReq, err)
		}
		rng = r
	}

	var best *containerState
	for _, st := range s.containers {
		if st.Container.Name() != name || !st.Manifest.IsResource() {
			continue
		}
		if rng != nil && !rng(st.Container.Version()) {
			continue
		}
		if best == nil || st.Container.Version().GT(best.Container.Version()) {
			best = st
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no installed resource satisfies %s %s", name, versionReq)
	}
	return best, nil
}

// resourceRoots resolves every Resource-typed mount in m and returns a
// name -> mounted-root map, the shape internal/pkg/launcher.Options wants,
// bumping each resolved resource's use-count as a side effect of a
// successful resolution — the caller is expected to call this only once
// it has committed to starting (or remounting a dependency of) the
// container that needs these roots.
func (s *Supervisor) resourceRoots(m map[string]mountResourceRef) (map[string]string, error) {
	roots := make(map[string]string, len(m))
	var resolved []*containerState
	for name, ref := range m {
		st, err := s.resolveResource(ref.Name, ref.VersionReq)
		if err != nil {
			for _, r := range resolved {
				r.UseCount--
			}
			return nil, err
		}
		if st.State != StateMounted && st.State != StateRunning {
			for _, r := range resolved {
				r.UseCount--
			}
			return nil, fmt.Errorf("resource %s is not mounted", st.Container)
		}
		roots[name] = st.Handle.Root
		st.UseCount++
		resolved = append(resolved, st)
	}
	return roots, nil
}

// mountResourceRef is the subset of npk.Mount a resource dependency lookup
// needs, decoupled from the mount package's own Mount type so this package
// doesn't need to import npk's full mount union just to read two fields.
type mountResourceRef struct {
	Name       string
	VersionReq string
}

// releaseResourceRoots drops the use-count bump resourceRoots applied,
// called when the container that depended on them stops or is torn down.
func (s *Supervisor) releaseResourceRoots(names []string) {
	for _, name := range names {
		for _, st := range s.containers {
			if st.Container.Name() == name {
				if st.UseCount > 0 {
					st.UseCount--
				}
				break
			}
		}
	}
}
