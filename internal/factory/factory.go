// Package factory is the type-name registry that constructs connector
// instances, injecting a logger from the configured provider (spec.md
// §4.2). It is owned by the Controller rather than kept as process-wide
// global state, per spec.md §9's re-architecture note.
package factory

import (
	"fmt"
	"sync"

	"github.com/mbocsi/edgegateway/internal/connector"
	"github.com/mbocsi/edgegateway/internal/logging"
)

type Kind string

const (
	KindInvalidType Kind = "InvalidType"
	KindInvalidID   Kind = "InvalidId"
	KindUnknownType Kind = "UnknownType"
)

type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }

func newErr(k Kind, msg string) *Error { return &Error{Kind: k, Message: msg} }

// Constructor builds a fresh connector instance for id. Registered per
// type name.
type Constructor func(id string) connector.Connector

// Registry is a type-name -> Constructor table plus an injected logger
// provider, matching the source's init(typeMap, loggerProvider).
type Registry struct {
	mu       sync.RWMutex
	typeMap  map[string]Constructor
	provider logging.Provider
}

// New builds an empty registry. provider may be nil (treated as Nop).
func New(provider logging.Provider) *Registry {
	if provider == nil {
		provider = logging.NopProvider{}
	}
	return &Registry{typeMap: make(map[string]Constructor), provider: provider}
}

// Init replaces the registry's type table with a deep copy of typeMap,
// matching "a fresh init deep-copies the provided map" (spec.md §4.2).
func (r *Registry) Init(typeMap map[string]Constructor, provider logging.Provider) {
	cp := make(map[string]Constructor, len(typeMap))
	for k, v := range typeMap {
		cp[k] = v
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typeMap = cp
	if provider != nil {
		r.provider = provider
	}
}

// Register binds a single type name, replacing any existing binding for it
// and leaving the other names as they are.
func (r *Registry) Register(typeName string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typeMap[typeName] = ctor
}

// Registered lists currently bound type names, for introspection.
func (r *Registry) Registered() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.typeMap))
	for k := range r.typeMap {
		names = append(names, k)
	}
	return names
}

// Create constructs a connector of typeName with the given id, attaching a
// logger from the provider if one is configured.
func (r *Registry) Create(typeName, id string) (connector.Connector, error) {
	if typeName == "" {
		return nil, newErr(KindInvalidType, "type name must not be empty")
	}
	if id == "" {
		return nil, newErr(KindInvalidID, "id must not be empty")
	}
	r.mu.RLock()
	ctor, ok := r.typeMap[typeName]
	provider := r.provider
	r.mu.RUnlock()
	if !ok {
		return nil, newErr(KindUnknownType, fmt.Sprintf("unknown connector type %q", typeName))
	}
	inst := ctor(id)
	if provider != nil {
		inst.SetLogger(provider.GetLogger(id))
	}
	return inst, nil
}
