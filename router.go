package ocirun

import "strings"

// Router selects a backend tag for a container using an ordered chain:
// explicit flag > config default > ID-prefix heuristic.
type Router struct {
	Backends       map[BackendTag]Backend
	DefaultRuntime string
}

// NewRouter wires up a Router over the given backend implementations.
func NewRouter(backends map[BackendTag]Backend, defaultRuntime string) *Router {
	return &Router{Backends: backends, DefaultRuntime: defaultRuntime}
}

// normalizeRuntimeFlag maps the CLI's --runtime aliases onto backend tags.
func normalizeRuntimeFlag(flag string) (BackendTag, bool) {
	switch strings.ToLower(flag) {
	case "crun", "runc":
		return BackendOCILib, true
	case "lxc", "proxmox-lxc":
		return BackendLXC, true
	case "vm":
		return BackendVM, true
	default:
		return "", false
	}
}

// SelectForCreate picks the backend tag to use at create time: this is the
// only point where the heuristic chain runs. Once a container is created,
// the tag recorded on it must be reused (SelectForExisting).
func (rt *Router) SelectForCreate(flag string, id string) (BackendTag, error) {
	if flag != "" {
		tag, ok := normalizeRuntimeFlag(flag)
		if !ok {
			return "", validationErr("runtime", "unknown --runtime value "+flag)
		}
		return tag, nil
	}
	if rt.DefaultRuntime != "" {
		tag, ok := normalizeRuntimeFlag(rt.DefaultRuntime)
		if ok {
			return tag, nil
		}
	}
	return HintFromID(id).Tag, nil
}

// Backend returns the Backend implementation for tag.
func (rt *Router) Backend(tag BackendTag) (Backend, error) {
	b, ok := rt.Backends[tag]
	if !ok {
		return nil, &Error{Kind: KindNotInstalled, Op: "router_backend", Message: "no backend wired for tag " + string(tag)}
	}
	return b, nil
}

// SelectForExisting loads the backend tag recorded on an existing
// container; subsequent operations MUST use it regardless of current
// flags.
func (rt *Router) SelectForExisting(store *StateStore, id string) (BackendTag, error) {
	r, err := store.Load(id)
	if err != nil {
		return "", err
	}
	return r.BackendTag, nil
}
