// Package handler provides entity handlers: reversible value transforms applied
// when an entity is written to (Encode) and read from (Decode) the primary store.
//
// Every ObjectType and FactType names its handler and an optional parameter;
// managers look the handler up through a Factory.
package handler

import (
	"sync"

	"github.com/mr-tron/base58"

	"github.com/teranos/factgraph/errors"
)

// Built-in handler names.
const (
	Identity = "IdentityHandler"
	Base58   = "Base58Handler"
)

// EntityHandler transforms entity values on their way into and out of storage.
// Implementations must be safe for concurrent use.
type EntityHandler interface {
	Encode(value string) (string, error)
	Decode(value string) (string, error)
}

// Constructor builds a handler from its configured parameter.
type Constructor func(parameter string) (EntityHandler, error)

// Factory maps handler names to constructors.
type Factory struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewFactory returns a factory with the built-in handlers registered.
func NewFactory() *Factory {
	f := &Factory{constructors: make(map[string]Constructor)}
	f.Register(Identity, func(string) (EntityHandler, error) { return IdentityHandler{}, nil })
	f.Register(Base58, func(string) (EntityHandler, error) { return Base58Handler{}, nil })
	return f
}

// Register adds or replaces a constructor.
func (f *Factory) Register(name string, c Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = c
}

// Has reports whether name is registered.
func (f *Factory) Has(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.constructors[name]
	return ok
}

// Get returns the handler registered under name, configured with parameter.
func (f *Factory) Get(name, parameter string) (EntityHandler, error) {
	f.mu.RLock()
	c, ok := f.constructors[name]
	f.mu.RUnlock()
	if !ok {
		return nil, errors.WithStack(errors.NewInvalidArgumentError(
			"Entity handler does not exist.", "entity.handler.not.exist", "entityHandler", name))
	}
	h, err := c(parameter)
	if err != nil {
		return nil, errors.Wrapf(err, "construct entity handler %s", name)
	}
	return h, nil
}

// IdentityHandler stores values unchanged.
type IdentityHandler struct{}

func (IdentityHandler) Encode(value string) (string, error) { return value, nil }
func (IdentityHandler) Decode(value string) (string, error) { return value, nil }

// Base58Handler stores values base58-encoded so raw indicators never appear
// verbatim in the table.
type Base58Handler struct{}

func (Base58Handler) Encode(value string) (string, error) {
	return base58.Encode([]byte(value)), nil
}

func (Base58Handler) Decode(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	raw, err := base58.Decode(value)
	if err != nil {
		return "", errors.Wrap(err, "decode base58 value")
	}
	return string(raw), nil
}
