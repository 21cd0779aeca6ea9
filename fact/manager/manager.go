// Package manager holds the cache managers that mediate every read and write
// of the primary store.
//
// Each manager owns one cache per lookup key. A write never updates a cached
// entry: it evicts it, so the next read reloads from the store and callers
// see a fresh instance. Values are passed through the type's entity handler,
// encoded on the way in and decoded on the way out.
package manager

import (
	"time"

	"go.uber.org/zap"

	"github.com/teranos/factgraph/fact/handler"
	"github.com/teranos/factgraph/logger"
)

// Clock returns the current time. Refresh and creation timestamps come from it.
type Clock func() time.Time

// Options configures a manager.
type Options struct {
	// CacheEnabled turns the in-memory caches on. Disabled caches read through.
	CacheEnabled bool
	// MaxEntries bounds each cache; <= 0 means unbounded.
	MaxEntries int
	// Handlers resolves entity handlers. Defaults to handler.NewFactory().
	Handlers *handler.Factory
	// Clock defaults to time.Now.
	Clock Clock
	Logger *zap.SugaredLogger
}

// DefaultOptions returns caching on, unbounded, real clock.
func DefaultOptions() Options {
	return Options{CacheEnabled: true}
}

func (o Options) withDefaults() Options {
	if o.Handlers == nil {
		o.Handlers = handler.NewFactory()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	o.Logger = logger.OrNop(o.Logger)
	return o
}

// encodeValue runs value through the named handler.
func encodeValue(handlers *handler.Factory, name, parameter, value string) (string, error) {
	h, err := handlers.Get(name, parameter)
	if err != nil {
		return "", err
	}
	return h.Encode(value)
}

// decodeValue reverses encodeValue.
func decodeValue(handlers *handler.Factory, name, parameter, value string) (string, error) {
	h, err := handlers.Get(name, parameter)
	if err != nil {
		return "", err
	}
	return h.Decode(value)
}
