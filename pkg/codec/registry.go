// ABOUTME: Codec registry mapping names and MIME types to engine factories
// ABOUTME: Creates engines and sessions by codec name or by MIME type
package codec

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a fresh engine instance
type Factory func() (Engine, error)

// Registration describes one available codec
type Registration struct {
	Name string // unique codec name, e.g. "opus-decoder"
	Mime string // e.g. "audio/opus"
	Kind Kind
	New  Factory
}

// Registry holds codec registrations. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Registration
}

// DefaultRegistry is the process-wide registry
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Registration)}
}

// Register adds a codec. Names must be unique.
func (r *Registry) Register(reg Registration) error {
	if reg.Name == "" || reg.Mime == "" || reg.New == nil {
		return newError("register", ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[reg.Name]; exists {
		return fmt.Errorf("codec %q already registered: %w", reg.Name, ErrInvalidArgument)
	}
	r.byName[reg.Name] = reg
	return nil
}

// Lookup returns the registration for name
func (r *Registry) Lookup(name string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byName[name]
	return reg, ok
}

// LookupMime returns the first registration, by name order, handling mime
// in the requested direction
func (r *Registry) LookupMime(mime string, encoder bool) (Registration, bool) {
	for _, name := range r.Names() {
		reg, ok := r.Lookup(name)
		if ok && reg.Mime == mime && reg.Kind.IsEncoder() == encoder {
			return reg, true
		}
	}
	return Registration{}, false
}

// Names returns every registered codec name, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateByName builds a session around a new instance of the named codec
func (r *Registry) CreateByName(name string, opts ...Option) (*Session, error) {
	reg, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("codec %q: %w", name, ErrUnsupported)
	}
	return reg.session(opts)
}

// CreateByMime builds a session around a new encoder or decoder for mime
func (r *Registry) CreateByMime(mime string, encoder bool, opts ...Option) (*Session, error) {
	reg, ok := r.LookupMime(mime, encoder)
	if !ok {
		return nil, fmt.Errorf("no %s for %q: %w", direction(encoder), mime, ErrUnsupported)
	}
	return reg.session(opts)
}

func (reg Registration) session(opts []Option) (*Session, error) {
	engine, err := reg.New()
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", reg.Name, err)
	}
	opts = append([]Option{WithName(reg.Name)}, opts...)
	return NewSession(reg.Kind, engine, opts...)
}

func direction(encoder bool) string {
	if encoder {
		return "encoder"
	}
	return "decoder"
}
