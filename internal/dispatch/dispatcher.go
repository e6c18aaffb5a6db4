package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/beacon-fence-core/internal/beacon"
)

var (
	// ErrDeliveryDropped wraps the reason an item was abandoned without delivery.
	ErrDeliveryDropped = errors.New("dispatch: delivery dropped")

	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("dispatch: dispatcher closed")
)

// Environment creates execution contexts for callback delivery.
//
// CreateContext must not block on readiness: it returns as soon as the context
// exists and calls onReady once it becomes ready (possibly before returning).
type Environment interface {
	CreateContext(onReady func()) (ExecutionContext, error)
}

// ExecutionContext runs callbacks. Deliver must call done exactly once, from
// any goroutine, when the environment has finished with the item.
type ExecutionContext interface {
	IsReady() bool
	Deliver(item beacon.DispatchItem, done func(error))
	Destroy()
}

// DropFunc is told about every item that was not delivered: items abandoned
// when no context could be created, and items whose delivery failed.
type DropFunc func(item beacon.DispatchItem, err error)

// Logger defines the logging interface used by the Dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Stats is a point-in-time view of dispatcher activity.
type Stats struct {
	Enqueued        uint64 `json:"enqueued"`
	Delivered       uint64 `json:"delivered"`
	Failed          uint64 `json:"failed"`
	Dropped         uint64 `json:"dropped"`
	ContextsCreated uint64 `json:"contexts_created"`
	Pending         int    `json:"pending"`
	Active          bool   `json:"active"`
}

// instance is one lifetime of an execution context, from lazy creation to
// teardown. A closed instance is never reused.
type instance struct {
	items      []beacon.DispatchItem
	ectx       ExecutionContext
	creating   bool
	ready      bool
	delivering bool
	closed     bool
}

// Dispatcher delivers items strictly one at a time, in enqueue order, to an
// execution context it creates on demand and destroys once the queue drains.
//
// All state lives behind one mutex. Context creation, delivery and teardown
// run outside the lock and re-enter it with their results.
type Dispatcher struct {
	env    Environment
	logger Logger
	onDrop DropFunc

	mu       sync.Mutex
	current  *instance
	idle     chan struct{}
	shutdown bool
	stats    Stats

	destroying sync.WaitGroup
}

// New creates a dispatcher over env.
func New(env Environment) *Dispatcher {
	idle := make(chan struct{})
	close(idle)
	return &Dispatcher{
		env:    env,
		logger: noopLogger{},
		idle:   idle,
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// SetDropHandler registers fn to observe abandoned items. Call before use.
func (d *Dispatcher) SetDropHandler(fn DropFunc) {
	d.onDrop = fn
}

// Enqueue appends item and starts a context if none exists.
// It never waits for delivery.
func (d *Dispatcher) Enqueue(item beacon.DispatchItem) error {
	d.mu.Lock()
	if d.shutdown {
		d.mu.Unlock()
		return ErrClosed
	}

	inst := d.current
	if inst == nil || inst.closed {
		inst = &instance{}
		d.current = inst
		d.idle = make(chan struct{})
	}
	inst.items = append(inst.items, item)
	d.stats.Enqueued++

	create := inst.ectx == nil && !inst.creating
	if create {
		inst.creating = true
	}
	d.mu.Unlock()

	if create {
		d.createContext(inst)
		return nil
	}
	d.advance(inst)
	return nil
}

func (d *Dispatcher) createContext(inst *instance) {
	onReady := func() {
		d.mu.Lock()
		inst.ready = true
		d.mu.Unlock()
		d.advance(inst)
	}

	ectx, err := d.env.CreateContext(onReady)

	d.mu.Lock()
	inst.creating = false
	if err != nil {
		dropped := inst.items
		inst.items = nil
		d.closeLocked(inst)
		d.stats.Dropped += uint64(len(dropped))
		d.mu.Unlock()

		d.logger.Error("creating execution context failed", "error", err, "dropped", len(dropped))
		for _, item := range dropped {
			d.drop(item, fmt.Errorf("%w: %w", ErrDeliveryDropped, err))
		}
		return
	}
	inst.ectx = ectx
	d.stats.ContextsCreated++
	d.mu.Unlock()

	d.logger.Debug("execution context created")
	if ectx.IsReady() {
		d.mu.Lock()
		inst.ready = true
		d.mu.Unlock()
	}
	d.advance(inst)
}

// advance starts the next delivery when the instance is able to take one,
// or tears the context down when the queue is empty.
func (d *Dispatcher) advance(inst *instance) {
	d.mu.Lock()
	if inst.closed || inst.ectx == nil || !inst.ready || inst.delivering {
		d.mu.Unlock()
		return
	}
	if len(inst.items) == 0 {
		ectx := d.teardownLocked(inst)
		d.mu.Unlock()
		d.destroy(ectx)
		return
	}
	item, ectx := d.popLocked(inst)
	d.mu.Unlock()

	go d.deliver(inst, ectx, item)
}

func (d *Dispatcher) deliver(inst *instance, ectx ExecutionContext, item beacon.DispatchItem) {
	var once sync.Once
	ectx.Deliver(item, func(err error) {
		once.Do(func() { d.complete(inst, item, err) })
	})
}

func (d *Dispatcher) complete(inst *instance, item beacon.DispatchItem, err error) {
	if err != nil {
		// No retry: a failed delivery is a drop.
		d.drop(item, fmt.Errorf("%w: %w", ErrDeliveryDropped, err))
	} else {
		d.logger.Debug("callback delivered", "region_id", item.RegionID, "event", item.Kind.String())
	}

	d.mu.Lock()
	if err != nil {
		d.stats.Failed++
	} else {
		d.stats.Delivered++
	}
	inst.delivering = false

	// Re-check under the lock: an Enqueue that raced with this completion
	// is either already in inst.items or will see inst.closed and start afresh.
	if len(inst.items) > 0 {
		next, ectx := d.popLocked(inst)
		d.mu.Unlock()
		go d.deliver(inst, ectx, next)
		return
	}
	ectx := d.teardownLocked(inst)
	d.mu.Unlock()
	d.destroy(ectx)
}

func (d *Dispatcher) popLocked(inst *instance) (beacon.DispatchItem, ExecutionContext) {
	item := inst.items[0]
	inst.items[0] = beacon.DispatchItem{}
	inst.items = inst.items[1:]
	inst.delivering = true
	return item, inst.ectx
}

// teardownLocked closes inst and hands back its context for destruction.
func (d *Dispatcher) teardownLocked(inst *instance) ExecutionContext {
	ectx := inst.ectx
	inst.ectx = nil
	if ectx != nil {
		// Counted before closeLocked wakes WaitIdle, so Close always waits for it.
		d.destroying.Add(1)
	}
	d.closeLocked(inst)
	return ectx
}

func (d *Dispatcher) closeLocked(inst *instance) {
	if inst.closed {
		return
	}
	inst.closed = true
	if d.current == inst {
		d.current = nil
		close(d.idle)
	}
}

func (d *Dispatcher) destroy(ectx ExecutionContext) {
	if ectx == nil {
		return
	}
	defer d.destroying.Done()
	ectx.Destroy()
	d.logger.Debug("execution context destroyed")
}

func (d *Dispatcher) drop(item beacon.DispatchItem, err error) {
	d.logger.Warn("dropping callback delivery", "region_id", item.RegionID, "event", item.Kind.String(), "error", err)
	if d.onDrop != nil {
		d.onDrop(item, err)
	}
}

// Stats returns current counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	if d.current != nil && !d.current.closed {
		s.Active = true
		s.Pending = len(d.current.items)
	}
	return s
}

// WaitIdle blocks until no instance is active or ctx is done.
func (d *Dispatcher) WaitIdle(ctx context.Context) error {
	d.mu.Lock()
	idle := d.idle
	d.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting items, waits for the queue to drain and for the last
// context to be destroyed. Items still queued when ctx expires are left to the
// running context.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.shutdown = true
	d.mu.Unlock()

	if err := d.WaitIdle(ctx); err != nil {
		return fmt.Errorf("waiting for dispatch queue to drain: %w", err)
	}

	destroyed := make(chan struct{})
	go func() {
		d.destroying.Wait()
		close(destroyed)
	}()
	select {
	case <-destroyed:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for execution context teardown: %w", ctx.Err())
	}
}
