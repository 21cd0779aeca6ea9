package trigger

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/factgraph/errors"
	"github.com/teranos/factgraph/logger"
)

// Config sizes a Dispatcher.
type Config struct {
	Workers   int
	QueueSize int
	// MaxEventsPerSecond limits delivery to each sink. <= 0 means unlimited.
	MaxEventsPerSecond float64
}

// DefaultConfig returns two workers, a 256-event queue and no rate limit.
func DefaultConfig() Config {
	return Config{Workers: 2, QueueSize: 256}
}

type limitedSink struct {
	sink    Sink
	limiter *rate.Limiter
}

// Dispatcher fans events out to sinks from a bounded queue.
//
// Thread Safety: Emit may be called concurrently with itself and with Stop.
type Dispatcher struct {
	sinks  []limitedSink
	queue  chan Event
	logger *zap.SugaredLogger

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher starts cfg.Workers delivery goroutines. Stop must be called
// to release them.
func NewDispatcher(cfg Config, log *zap.SugaredLogger, sinks ...Sink) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	limit := rate.Inf
	if cfg.MaxEventsPerSecond > 0 {
		limit = rate.Limit(cfg.MaxEventsPerSecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		queue:  make(chan Event, cfg.QueueSize),
		logger: logger.OrNop(log).Named("trigger"),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, s := range sinks {
		d.sinks = append(d.sinks, limitedSink{sink: s, limiter: rate.NewLimiter(limit, 1)})
	}

	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

// Emit enqueues event. A full queue or a stopped dispatcher drops the event
// with a warning.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warnw("Dropping trigger event after stop", logger.FieldEvent, event.Name)
		return
	}
	select {
	case d.queue <- event:
	default:
		logger.FromContext(ctx, d.logger).Warnw("Trigger queue full, dropping event",
			logger.FieldEvent, event.Name,
			logger.FieldOrganizationID, event.OrganizationID,
		)
	}
}

// Stop stops accepting events and waits for queued ones to be delivered.
// If ctx ends first, pending rate-limit waits are aborted, the remaining
// events are dropped and ctx's error is returned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for event := range d.queue {
		for _, s := range d.sinks {
			d.deliver(s, event)
		}
	}
}

func (d *Dispatcher) deliver(s limitedSink, event Event) {
	if err := s.limiter.Wait(d.ctx); err != nil {
		d.logger.Debugw("Trigger delivery aborted", logger.FieldEvent, event.Name, logger.FieldError, err)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorw("Trigger sink panicked", logger.FieldEvent, event.Name, "panic", r)
		}
	}()

	if err := s.sink.RegisterTriggerEvent(d.ctx, event); err != nil {
		d.logger.Warnw("Trigger sink failed",
			logger.FieldEvent, event.Name,
			logger.FieldError, errors.Wrap(err, "register trigger event"),
		)
	}
}

// LoggingSink writes every event to a logger.
type LoggingSink struct {
	Logger *zap.SugaredLogger
}

func (s LoggingSink) RegisterTriggerEvent(_ context.Context, event Event) error {
	logger.OrNop(s.Logger).Infow("Trigger event",
		logger.FieldEvent, event.Name,
		logger.FieldOrganizationID, event.OrganizationID,
		logger.FieldAccessMode, event.AccessMode.String(),
		logger.FieldCount, len(event.Parameters),
	)
	return nil
}
