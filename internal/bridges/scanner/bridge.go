package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/beacon-fence-core/internal/beacon"
	"github.com/nerrad567/beacon-fence-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/beacon-fence-core/internal/monitor"
)

const (
	// defaultQoS is used for commands and subscriptions.
	defaultQoS = 1

	// workQueueSize bounds notifications waiting for the listener.
	workQueueSize = 256
)

// MQTTClient is the subset of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// RegionListener receives scanner notifications. *monitor.StateMachine implements it.
type RegionListener interface {
	OnRegionState(region beacon.Region, state monitor.RegionState)
	OnRanged(region beacon.Region, samples []monitor.Sample)
}

// Logger defines the logging interface used by the bridge.
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

// Status is a point-in-time view of the scanner as seen by the bridge.
type Status struct {
	Connected           bool      `json:"connected"`
	Bound               bool      `json:"bound"`
	BluetoothPermission bool      `json:"bluetooth_permission"`
	MonitoredRegions    int       `json:"monitored_regions"`
	LastStatusAt        time.Time `json:"last_status_at,omitzero"`
}

type registration struct {
	region beacon.Region
	opts   beacon.MonitorOptions
}

// Bridge translates between the fence service and a beacon scanner on MQTT.
//
// It implements fence.Scanner and monitor.Ranger for the outbound side, feeds
// region notifications to a RegionListener, and mirrors dispatched items to
// the event topic as a fence.Observer.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	mqtt   MQTTClient
	logger Logger
	topics mqtt.Topics

	mu         sync.RWMutex
	listener   RegionListener
	monitored  map[string]registration
	bound      bool
	permission bool
	lastStatus time.Time
	onBound    func()

	// Notifications are handed to the listener in arrival order on one
	// goroutine, off the MQTT client's router.
	work     chan func()
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewBridge creates a bridge over client. Call Start to subscribe.
func NewBridge(client MQTTClient) (*Bridge, error) {
	if client == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	return &Bridge{
		mqtt:      client,
		logger:    noopLogger{},
		monitored: make(map[string]registration),
		work:      make(chan func(), workQueueSize),
		done:      make(chan struct{}),
	}, nil
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.logger = logger
}

// SetListener sets where region notifications are delivered.
func (b *Bridge) SetListener(l RegionListener) {
	b.mu.Lock()
	b.listener = l
	b.mu.Unlock()
}

// SetOnBound registers fn to run whenever the scanner transitions to bound.
// It runs after the bridge has re-sent its monitored regions.
func (b *Bridge) SetOnBound(fn func()) {
	b.mu.Lock()
	b.onBound = fn
	b.mu.Unlock()
}

// Start subscribes to scanner status and region notifications.
func (b *Bridge) Start(_ context.Context) error {
	b.wg.Add(1)
	go b.run()

	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{b.topics.ScannerStatus(), b.handleStatus},
		{b.topics.AllRegionStates(), b.handleRegion},
		{b.topics.AllRegionRanged(), b.handleRegion},
	}
	for _, s := range subs {
		if err := b.mqtt.Subscribe(s.topic, defaultQoS, s.handler); err != nil {
			return fmt.Errorf("subscribe to %s: %w", s.topic, err)
		}
		b.logger.Debug("subscribed", "topic", s.topic)
	}
	b.logger.Info("scanner bridge started")
	return nil
}

// Stop unsubscribes from scanner topics and waits for the worker to finish.
// Monitored regions are kept.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		for _, topic := range []string{b.topics.ScannerStatus(), b.topics.AllRegionStates(), b.topics.AllRegionRanged()} {
			if err := b.mqtt.Unsubscribe(topic); err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
				b.logger.Warn("unsubscribe failed", "topic", topic, "error", err)
			}
		}
		close(b.done)
		b.wg.Wait()
		b.logger.Info("scanner bridge stopped")
	})
}

func (b *Bridge) run() {
	defer b.wg.Done()
	for {
		select {
		case fn := <-b.work:
			fn()
		case <-b.done:
			return
		}
	}
}

// enqueue hands fn to the worker, blocking while the queue is full.
func (b *Bridge) enqueue(fn func()) {
	select {
	case b.work <- fn:
	case <-b.done:
	}
}

// StartMonitoring registers region with the scanner.
func (b *Bridge) StartMonitoring(_ context.Context, region beacon.Region, opts beacon.MonitorOptions) error {
	if err := b.ready(); err != nil {
		return err
	}
	if err := b.send(NewCommand(CommandStartMonitoring, region, &opts)); err != nil {
		return err
	}
	b.mu.Lock()
	b.monitored[region.ID] = registration{region: region, opts: opts}
	b.mu.Unlock()
	return nil
}

// StopMonitoring unregisters region. The local registration is dropped even
// if the command cannot be sent.
func (b *Bridge) StopMonitoring(_ context.Context, region beacon.Region) error {
	b.mu.Lock()
	delete(b.monitored, region.ID)
	b.mu.Unlock()
	return b.send(NewCommand(CommandStopMonitoring, region, nil))
}

// StartRanging asks the scanner for ranging samples in region.
func (b *Bridge) StartRanging(region beacon.Region) error {
	if err := b.ready(); err != nil {
		return err
	}
	return b.send(NewCommand(CommandStartRanging, region, nil))
}

// StopRanging ends ranging for region.
func (b *Bridge) StopRanging(region beacon.Region) error {
	return b.send(NewCommand(CommandStopRanging, region, nil))
}

// ApplySettings publishes settings retained so a scanner binding later still
// receives them. It only needs the broker.
func (b *Bridge) ApplySettings(_ context.Context, settings beacon.ScannerSettings) error {
	payload, err := json.Marshal(NewSettingsMessage(settings))
	if err != nil {
		return fmt.Errorf("encoding scanner settings: %w", err)
	}
	if err := b.mqtt.Publish(b.topics.ScannerSettings(), payload, defaultQoS, true); err != nil {
		return fmt.Errorf("%w: publishing scanner settings: %w", beacon.ErrServiceUnavailable, err)
	}
	return nil
}

// BeaconTriggered mirrors a dispatched item to beaconfence/event/{id}.
func (b *Bridge) BeaconTriggered(item beacon.DispatchItem) {
	payload, err := json.Marshal(EventMessage{
		RegionID:  item.RegionID,
		Event:     item.Kind.String(),
		RSSI:      item.RSSI,
		Beacon:    item.Beacon,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		b.logger.Warn("encoding event mirror failed", "region_id", item.RegionID, "error", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.Event(item.RegionID), payload, defaultQoS, false); err != nil {
		b.logger.Debug("event mirror not published", "region_id", item.RegionID, "error", err)
	}
}

// Status returns the current scanner status.
func (b *Bridge) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Status{
		Connected:           b.mqtt.IsConnected(),
		Bound:               b.bound,
		BluetoothPermission: b.permission,
		MonitoredRegions:    len(b.monitored),
		LastStatusAt:        b.lastStatus,
	}
}

// ready checks that a command needing a live scanner can be sent.
func (b *Bridge) ready() error {
	if !b.mqtt.IsConnected() {
		return fmt.Errorf("%w: broker not connected", beacon.ErrServiceUnavailable)
	}
	b.mu.RLock()
	bound, permission := b.bound, b.permission
	b.mu.RUnlock()
	if !bound {
		return fmt.Errorf("%w: scanner not bound", beacon.ErrServiceUnavailable)
	}
	if !permission {
		return fmt.Errorf("%w: bluetooth permission not granted", beacon.ErrPermissionDenied)
	}
	return nil
}

func (b *Bridge) send(cmd CommandMessage) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encoding %s command: %w", cmd.Command, err)
	}
	if err := b.mqtt.Publish(b.topics.ScannerCommand(), payload, defaultQoS, false); err != nil {
		return fmt.Errorf("%w: %s %q: %w", beacon.ErrServiceUnavailable, cmd.Command, cmd.Region.ID, err)
	}
	b.logger.Debug("scanner command sent", "command", cmd.Command, "region_id", cmd.Region.ID, "command_id", cmd.ID)
	return nil
}

func (b *Bridge) handleStatus(_ string, payload []byte) error {
	var msg StatusMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("parsing scanner status: %w", err)
	}

	b.mu.Lock()
	wasBound := b.bound
	b.bound = msg.Bound
	b.permission = msg.Bluetooth == PermissionGranted
	b.lastStatus = msg.Timestamp
	if b.lastStatus.IsZero() {
		b.lastStatus = time.Now().UTC()
	}
	regs := make([]registration, 0, len(b.monitored))
	for _, r := range b.monitored {
		regs = append(regs, r)
	}
	onBound := b.onBound
	b.mu.Unlock()

	b.logger.Info("scanner status", "bound", msg.Bound, "bluetooth", msg.Bluetooth)

	if msg.Bound && !wasBound {
		b.enqueue(func() { b.rebind(regs, onBound) })
	}
	return nil
}

// rebind replays registrations to a freshly bound scanner, which starts empty.
func (b *Bridge) rebind(regs []registration, onBound func()) {
	for _, r := range regs {
		opts := r.opts
		if err := b.send(NewCommand(CommandStartMonitoring, r.region, &opts)); err != nil {
			b.logger.Warn("re-registering region failed", "region_id", r.region.ID, "error", err)
		}
	}
	if onBound != nil {
		onBound()
	}
}

func (b *Bridge) handleRegion(topic string, payload []byte) error {
	id, kind, ok := mqtt.ParseRegionTopic(topic)
	if !ok {
		return fmt.Errorf("unexpected region topic %q", topic)
	}

	b.mu.RLock()
	reg, known := b.monitored[id]
	listener := b.listener
	b.mu.RUnlock()

	if !known {
		b.logger.Debug("dropping notification for unmonitored region", "region_id", id, "kind", kind)
		return nil
	}
	if listener == nil {
		return nil
	}

	switch kind {
	case mqtt.RegionKindState:
		var msg RegionStateMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("parsing region state for %q: %w", id, err)
		}
		state := monitor.ParseRegionState(msg.State)
		if state == monitor.RegionUnknown {
			b.logger.Debug("ignoring unknown region state", "region_id", id, "state", msg.State)
			return nil
		}
		b.enqueue(func() { listener.OnRegionState(reg.region, state) })
	case mqtt.RegionKindRanged:
		var msg RangedMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("parsing ranging sample for %q: %w", id, err)
		}
		b.enqueue(func() { listener.OnRanged(reg.region, msg.Beacons) })
	}
	return nil
}
