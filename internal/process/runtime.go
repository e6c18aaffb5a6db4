package process

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/beacon-fence-core/internal/beacon"
	"github.com/nerrad567/beacon-fence-core/internal/dispatch"
)

// HandleEnv carries the registered dispatcher handle into the callback runtime.
const HandleEnv = "BEACONFENCE_DISPATCHER_HANDLE"

// handleLookupTimeout bounds the store read in CreateContext.
const handleLookupTimeout = 5 * time.Second

var (
	// ErrNoDispatcherHandle is returned when Initialize has never been called.
	ErrNoDispatcherHandle = errors.New("process: callback dispatcher handle not registered")

	// ErrNoBinary is returned when no callback runtime is configured.
	ErrNoBinary = errors.New("process: callback runtime binary not configured")

	// ErrProcessExited completes deliveries outstanding when the runtime exits.
	ErrProcessExited = errors.New("process: callback runtime exited")

	// ErrNotReady is used when the runtime does not report ready in time.
	ErrNotReady = errors.New("process: callback runtime not ready")

	// ErrDeliveryTimeout completes a delivery the runtime did not acknowledge in time.
	ErrDeliveryTimeout = errors.New("process: callback delivery timed out")

	// ErrCallbackFailed wraps a failure reported by the runtime itself.
	ErrCallbackFailed = errors.New("process: callback failed")
)

// Message types exchanged with the runtime, one JSON object per line.
const (
	msgReady           = "ready"
	msgBeaconTriggered = "beacon_triggered"
	msgDone            = "done"
)

type request struct {
	Type string              `json:"type"`
	ID   uint64              `json:"id"`
	Item beacon.DispatchItem `json:"item"`
}

type reply struct {
	Type  string `json:"type"`
	ID    uint64 `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// HandleSource yields the persisted dispatcher handle.
type HandleSource interface {
	DispatcherHandle(ctx context.Context) (int64, bool, error)
}

// RuntimeConfig describes how to launch the callback runtime.
type RuntimeConfig struct {
	Binary  string
	Args    []string
	Env     []string
	WorkDir string

	// ReadyTimeout is how long a fresh runtime has to print "ready". 0 waits forever.
	ReadyTimeout time.Duration

	// DeliveryTimeout bounds each delivery. 0 waits forever.
	DeliveryTimeout time.Duration

	// GracefulTimeout is the SIGTERM to SIGKILL grace period on destroy.
	GracefulTimeout time.Duration
}

// Runtime is a dispatch.Environment backed by a subprocess. Each execution
// context is one process lifetime.
type Runtime struct {
	cfg     RuntimeConfig
	handles HandleSource
	logger  Logger
}

// NewRuntime creates a runtime that launches cfg.Binary with the handle read from handles.
func NewRuntime(cfg RuntimeConfig, handles HandleSource) *Runtime {
	return &Runtime{
		cfg:     cfg,
		handles: handles,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the runtime and the processes it starts.
func (r *Runtime) SetLogger(logger Logger) {
	r.logger = logger
}

// CreateContext starts a runtime process. It does not wait for readiness.
func (r *Runtime) CreateContext(onReady func()) (dispatch.ExecutionContext, error) {
	if r.cfg.Binary == "" {
		return nil, ErrNoBinary
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleLookupTimeout)
	handle, ok, err := r.handles.DispatcherHandle(ctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("reading dispatcher handle: %w", err)
	}
	if !ok {
		return nil, ErrNoDispatcherHandle
	}

	c := &callbackContext{
		logger:          r.logger,
		onReady:         onReady,
		deliveryTimeout: r.cfg.DeliveryTimeout,
		pending:         make(map[uint64]*pendingDelivery),
	}

	env := make([]string, 0, len(r.cfg.Env)+1)
	env = append(env, r.cfg.Env...)
	env = append(env, HandleEnv+"="+strconv.FormatInt(handle, 10))

	c.mgr = NewManager(Config{
		Name:            "callback-runtime",
		Binary:          r.cfg.Binary,
		Args:            r.cfg.Args,
		Env:             env,
		WorkDir:         r.cfg.WorkDir,
		GracefulTimeout: r.cfg.GracefulTimeout,
		OnOutput:        c.handleLine,
		OnExit:          c.handleExit,
	})
	c.mgr.SetLogger(r.logger)

	// The timer is armed before Start so a fast "ready" can always stop it.
	if r.cfg.ReadyTimeout > 0 {
		c.mu.Lock()
		c.readyTimer = time.AfterFunc(r.cfg.ReadyTimeout, func() {
			c.fail(fmt.Errorf("%w after %s", ErrNotReady, r.cfg.ReadyTimeout))
		})
		c.mu.Unlock()
	}

	if err := c.mgr.Start(context.Background()); err != nil {
		c.stopReadyTimer()
		return nil, err
	}
	return c, nil
}

type pendingDelivery struct {
	done  func(error)
	timer *time.Timer
}

// callbackContext is one running runtime process.
//
// Once failed is set the context reports ready and completes every delivery
// with that error, so a queue waiting on it drains and tears it down.
type callbackContext struct {
	mgr             *Manager
	logger          Logger
	onReady         func()
	deliveryTimeout time.Duration
	readyOnce       sync.Once

	mu         sync.Mutex
	ready      bool
	failed     error
	nextID     uint64
	pending    map[uint64]*pendingDelivery
	readyTimer *time.Timer
}

func (c *callbackContext) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready || c.failed != nil
}

func (c *callbackContext) Deliver(item beacon.DispatchItem, done func(error)) {
	c.mu.Lock()
	if c.failed != nil {
		err := c.failed
		c.mu.Unlock()
		done(err)
		return
	}
	c.nextID++
	id := c.nextID
	p := &pendingDelivery{done: done}
	if c.deliveryTimeout > 0 {
		p.timer = time.AfterFunc(c.deliveryTimeout, func() {
			c.finish(id, fmt.Errorf("%w: id %d after %s", ErrDeliveryTimeout, id, c.deliveryTimeout))
		})
	}
	c.pending[id] = p
	c.mu.Unlock()

	line, err := json.Marshal(request{Type: msgBeaconTriggered, ID: id, Item: item})
	if err == nil {
		err = c.mgr.WriteLine(line)
	}
	if err != nil {
		c.finish(id, fmt.Errorf("sending delivery: %w", err))
	}
}

func (c *callbackContext) Destroy() {
	c.stopReadyTimer()
	if err := c.mgr.Stop(); err != nil {
		c.logger.Warn("stopping callback runtime", "error", err)
	}
}

// finish completes delivery id at most once.
func (c *callbackContext) finish(id uint64, err error) {
	c.mu.Lock()
	p, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()

	if !ok {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.done(err)
}

func (c *callbackContext) markReady() {
	c.mu.Lock()
	c.ready = true
	c.mu.Unlock()
	c.stopReadyTimer()
	c.readyOnce.Do(c.onReady)
}

// fail marks the context unusable and completes every outstanding delivery.
func (c *callbackContext) fail(err error) {
	c.mu.Lock()
	if c.failed == nil {
		c.failed = err
	}
	pending := c.pending
	c.pending = make(map[uint64]*pendingDelivery)
	c.mu.Unlock()

	c.stopReadyTimer()
	for _, p := range pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.done(err)
	}
	c.readyOnce.Do(c.onReady)
}

func (c *callbackContext) stopReadyTimer() {
	c.mu.Lock()
	t := c.readyTimer
	c.readyTimer = nil
	c.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

func (c *callbackContext) handleLine(line string) {
	var msg reply
	if err := json.Unmarshal([]byte(line), &msg); err != nil || msg.Type == "" {
		c.logger.Debug("callback runtime output", "output", line)
		return
	}

	// Completions leave the reader goroutine: Destroy waits for output to drain.
	switch msg.Type {
	case msgReady:
		go c.markReady()
	case msgDone:
		var err error
		if !msg.OK {
			err = fmt.Errorf("%w: %s", ErrCallbackFailed, msg.Error)
		}
		c.mu.Lock()
		_, known := c.pending[msg.ID]
		c.mu.Unlock()
		if !known {
			c.logger.Debug("completion for unknown delivery", "id", msg.ID)
			return
		}
		go c.finish(msg.ID, err)
	default:
		c.logger.Debug("unknown callback runtime message", "type", msg.Type)
	}
}

func (c *callbackContext) handleExit(err error) {
	if err != nil {
		c.fail(fmt.Errorf("%w: %w", ErrProcessExited, err))
		return
	}
	c.fail(ErrProcessExited)
}
