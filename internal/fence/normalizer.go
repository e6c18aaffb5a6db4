package fence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/beacon-fence-core/internal/beacon"
)

// lookupTimeout bounds the store read for each canonical event.
const lookupTimeout = 5 * time.Second

// BeaconReader is the read side of the region store used for enrichment.
type BeaconReader interface {
	GetBeacon(ctx context.Context, id string) (beacon.Definition, error)
}

// Queue accepts items for delivery.
type Queue interface {
	Enqueue(item beacon.DispatchItem) error
}

// Observer is told about every item handed to the queue.
// Implementations must not block.
type Observer interface {
	BeaconTriggered(item beacon.DispatchItem)
}

// Normalizer joins canonical events with their stored definition and hands
// subscribed ones to the queue. Its Handle method is the state machine's emit
// function.
type Normalizer struct {
	store  BeaconReader
	queue  Queue
	logger Logger

	mu        sync.RWMutex
	lastRSSI  map[string]int
	observers []Observer
}

// NewNormalizer creates a normalizer reading from store and feeding queue.
func NewNormalizer(store BeaconReader, queue Queue) *Normalizer {
	return &Normalizer{
		store:    store,
		queue:    queue,
		logger:   noopLogger{},
		lastRSSI: make(map[string]int),
	}
}

// SetLogger sets the logger for the normalizer.
func (n *Normalizer) SetLogger(logger Logger) {
	n.logger = logger
}

// AddObserver registers o for every enqueued item.
func (n *Normalizer) AddObserver(o Observer) {
	n.mu.Lock()
	n.observers = append(n.observers, o)
	n.mu.Unlock()
}

// Handle processes one canonical event. Drops are logged, never returned.
func (n *Normalizer) Handle(ev beacon.CanonicalEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	def, err := n.store.GetBeacon(ctx, ev.RegionID)
	if err != nil {
		if errors.Is(err, beacon.ErrNotFound) {
			n.logger.Debug("dropping event for unknown region", "region_id", ev.RegionID, "event", ev.Kind.String())
			return
		}
		n.logger.Error("loading region for event", "region_id", ev.RegionID, "event", ev.Kind.String(), "error", err)
		return
	}

	if ev.RSSI != nil {
		n.mu.Lock()
		n.lastRSSI[ev.RegionID] = *ev.RSSI
		n.mu.Unlock()
	}

	if !def.HasTrigger(ev.Kind) {
		n.logger.Debug("dropping unsubscribed event", "region_id", ev.RegionID, "event", ev.Kind.String())
		return
	}

	item := beacon.DispatchItem{
		RegionID:   def.ID,
		Kind:       ev.Kind,
		RSSI:       ev.RSSI,
		CallbackID: def.CallbackID,
		Beacon:     def.Active(ev.RSSI),
	}
	if err := n.queue.Enqueue(item); err != nil {
		n.logger.Warn("enqueue failed", "region_id", ev.RegionID, "event", ev.Kind.String(), "error", err)
		return
	}

	n.mu.RLock()
	observers := n.observers
	n.mu.RUnlock()
	for _, o := range observers {
		o.BeaconTriggered(item)
	}
}

// LastRSSI returns the most recent ranging RSSI for id, or nil if none was seen.
func (n *Normalizer) LastRSSI(id string) *int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	v, ok := n.lastRSSI[id]
	if !ok {
		return nil
	}
	return &v
}

// Forget discards the remembered RSSI for id.
func (n *Normalizer) Forget(id string) {
	n.mu.Lock()
	delete(n.lastRSSI, id)
	n.mu.Unlock()
}
