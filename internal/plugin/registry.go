package plugin

import (
	"fmt"
	"log/slog"
	"sync"
)

// key identifies a plugin by its (kind, platform) pair — unique across the
// registry (§3 Plugin Descriptor).
type key struct {
	kind     Kind
	platform string
}

// Registry is the single-writer, mutex-serialized home for every
// registered plugin (§9: "global mutable state ... owned by a single
// component instance with serialized mutation"). It is populated once at
// startup and is immutable thereafter from the caller's point of view —
// Register is not meant to be called again once Init has returned.
type Registry struct {
	mu      sync.RWMutex
	byKey   map[key]Plugin
	byKind  map[Kind][]Plugin
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byKey:  make(map[key]Plugin),
		byKind: make(map[Kind][]Plugin),
	}
}

// Register adds p under (kind, platform). A duplicate pair is a fatal
// configuration error (§4.1) — callers should treat a non-nil error from
// Register as unrecoverable, not something to retry or ignore.
func (r *Registry) Register(kind Kind, platform string, p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{kind: kind, platform: platform}
	if _, exists := r.byKey[k]; exists {
		return fmt.Errorf("plugin: duplicate registration for kind=%s platform=%s", kind, platform)
	}

	r.byKey[k] = p
	r.byKind[kind] = append(r.byKind[kind], p)
	return nil
}

// Init registers every plugin in initializers, grouped by kind and run in
// RegistrationOrder. A single initializer failing is logged and skipped —
// it must never abort initialization of the remainder (§4.1) — except for
// a duplicate-key collision, which is a fatal configuration error and is
// returned immediately.
type Initializer struct {
	Kind     Kind
	Platform string
	Build    func() (Plugin, error)
}

func (r *Registry) Init(initializers []Initializer) error {
	byKind := make(map[Kind][]Initializer, len(RegistrationOrder))
	for _, init := range initializers {
		byKind[init.Kind] = append(byKind[init.Kind], init)
	}

	for _, kind := range RegistrationOrder {
		for _, init := range byKind[kind] {
			p, err := init.Build()
			if err != nil {
				slog.Error("plugin: skipping failed registration",
					"kind", init.Kind, "platform", init.Platform, "error", err)
				continue
			}

			if err := r.Register(init.Kind, init.Platform, p); err != nil {
				return err
			}
		}
	}
	return nil
}

// Get looks up the plugin registered for (kind, platform).
func (r *Registry) Get(kind Kind, platform string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byKey[key{kind: kind, platform: platform}]
	return p, ok
}

// Supports reports whether a plugin is registered for (kind, platform).
func (r *Registry) Supports(kind Kind, platform string) bool {
	_, ok := r.Get(kind, platform)
	return ok
}

// ListPlatforms lists every platform with a plugin registered for kind. If
// kind is empty, every platform across every kind is listed (deduplicated).
func (r *Registry) ListPlatforms(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string

	add := func(k key) {
		if kind != "" && k.kind != kind {
			return
		}
		if _, ok := seen[k.platform]; ok {
			return
		}
		seen[k.platform] = struct{}{}
		out = append(out, k.platform)
	}

	for k := range r.byKey {
		add(k)
	}
	return out
}

// GetByKind returns every plugin registered under kind, in registration
// order.
func (r *Registry) GetByKind(kind Kind) []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Plugin, len(r.byKind[kind]))
	copy(out, r.byKind[kind])
	return out
}

// Typed accessors — the registry stores Plugin values; callers that need a
// specific capability interface go through these instead of repeating the
// type assertion at every call site.

func (r *Registry) GetUpload(platform string) (UploadPlugin, bool) {
	p, ok := r.Get(KindUpload, platform)
	if !ok {
		return nil, false
	}
	up, ok := p.(UploadPlugin)
	return up, ok
}

func (r *Registry) GetLogin(platform string) (LoginPlugin, bool) {
	p, ok := r.Get(KindLogin, platform)
	if !ok {
		return nil, false
	}
	lp, ok := p.(LoginPlugin)
	return lp, ok
}

func (r *Registry) GetLoginProcessor(platform string) (LoginProcessorPlugin, bool) {
	// Login processors register under KindLogin alongside the
	// synchronous-start plugin; a platform's LOGIN entry may implement
	// both interfaces on one type, or two distinct registrations keyed by
	// the same platform are not possible (duplicate-key rule), so in
	// practice one plugin value implements both.
	p, ok := r.Get(KindLogin, platform)
	if !ok {
		return nil, false
	}
	lp, ok := p.(LoginProcessorPlugin)
	return lp, ok
}

func (r *Registry) GetValidate(platform string) (ValidatePlugin, bool) {
	p, ok := r.Get(KindValidate, platform)
	if !ok {
		return nil, false
	}
	vp, ok := p.(ValidatePlugin)
	return vp, ok
}

func (r *Registry) GetMessage(platform string) (MessagePlugin, bool) {
	p, ok := r.Get(KindMessage, platform)
	if !ok {
		return nil, false
	}
	mp, ok := p.(MessagePlugin)
	return mp, ok
}
