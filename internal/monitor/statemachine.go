// Package monitor turns raw scanner notifications into at most one ENTER per
// physical entry and one EXIT per exit.
//
// A region moves Unknown → Outside ⇄ Ranging → InsideStable. ENTER is only
// emitted after the first ranging sample past an inside report, because that
// sample carries the signal strength the callback wants; ranging is stopped
// immediately afterwards so later samples cannot produce duplicates.
package monitor

import (
	"sync"

	"github.com/nerrad567/beacon-fence-core/internal/beacon"
)

// State is the tracked condition of a single region.
type State int

const (
	StateUnknown State = iota
	StateOutside
	StateRanging
	StateInsideStable
)

func (s State) String() string {
	switch s {
	case StateOutside:
		return "outside"
	case StateRanging:
		return "ranging"
	case StateInsideStable:
		return "inside"
	default:
		return "unknown"
	}
}

// RegionState is the scanner's report for a monitored region.
type RegionState int

const (
	RegionUnknown RegionState = iota
	RegionInside
	RegionOutside
)

// ParseRegionState maps the scanner's wire names. Anything unrecognised is RegionUnknown.
func ParseRegionState(s string) RegionState {
	switch s {
	case "inside", "INSIDE", "enter":
		return RegionInside
	case "outside", "OUTSIDE", "exit":
		return RegionOutside
	default:
		return RegionUnknown
	}
}

func (s RegionState) String() string {
	switch s {
	case RegionInside:
		return "inside"
	case RegionOutside:
		return "outside"
	default:
		return "unknown"
	}
}

// Sample is one beacon seen during ranging.
// RSSI 0 means the scanner had no reading.
type Sample struct {
	UUID  string `json:"uuid"`
	Major uint16 `json:"major"`
	Minor uint16 `json:"minor"`
	RSSI  int    `json:"rssi"`
}

// Ranger starts and stops per-region ranging on the scanner.
type Ranger interface {
	StartRanging(region beacon.Region) error
	StopRanging(region beacon.Region) error
}

// EmitFunc receives every canonical event the machine produces.
type EmitFunc func(beacon.CanonicalEvent)

// Logger defines the logging interface used by the StateMachine.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

type entry struct {
	state   State
	ranging bool

	// calls orders Ranger and emit calls for one region so they happen in
	// the same order as its transitions.
	calls sync.Mutex
}

// StateMachine tracks every region independently in a map keyed by region id.
//
// Notifications may arrive from any goroutine. State transitions happen under
// the mutex. Ranger and emit calls happen outside it, serialized per region.
type StateMachine struct {
	ranger Ranger
	emit   EmitFunc
	logger Logger

	mu      sync.Mutex
	regions map[string]*entry
}

// New creates a state machine that drives ranger and reports to emit.
func New(ranger Ranger, emit EmitFunc) *StateMachine {
	return &StateMachine{
		ranger:  ranger,
		emit:    emit,
		logger:  noopLogger{},
		regions: make(map[string]*entry),
	}
}

// SetLogger sets the logger for the state machine.
func (m *StateMachine) SetLogger(logger Logger) {
	m.logger = logger
}

// OnRegionState handles an inside/outside report for region.
func (m *StateMachine) OnRegionState(region beacon.Region, state RegionState) {
	switch state {
	case RegionInside:
		m.onInside(region)
	case RegionOutside:
		m.onOutside(region)
	default:
		m.logger.Debug("ignoring region state", "region_id", region.ID, "state", state.String())
	}
}

// lockRegion returns the entry for id with its call lock held.
func (m *StateMachine) lockRegion(id string) *entry {
	m.mu.Lock()
	e := m.entryLocked(id)
	m.mu.Unlock()
	e.calls.Lock()
	return e
}

func (m *StateMachine) onInside(region beacon.Region) {
	e := m.lockRegion(region.ID)
	defer e.calls.Unlock()

	m.mu.Lock()
	if e.ranging || e.state == StateInsideStable {
		// Already ranging, or repeated inside report after ENTER.
		m.mu.Unlock()
		return
	}
	e.ranging = true
	e.state = StateRanging
	m.mu.Unlock()

	if err := m.ranger.StartRanging(region); err != nil {
		m.logger.Warn("start ranging failed", "region_id", region.ID, "error", err)
		m.mu.Lock()
		if e.state == StateRanging {
			e.ranging = false
			e.state = StateUnknown
		}
		m.mu.Unlock()
	}
}

// OnRanged handles a ranging sample burst for region.
func (m *StateMachine) OnRanged(region beacon.Region, samples []Sample) {
	if len(samples) == 0 {
		return
	}

	m.mu.Lock()
	e, ok := m.regions[region.ID]
	m.mu.Unlock()
	if !ok {
		m.logger.Debug("dropping ranging sample for untracked region", "region_id", region.ID)
		return
	}

	e.calls.Lock()
	defer e.calls.Unlock()

	m.mu.Lock()
	if !e.ranging {
		m.mu.Unlock()
		m.logger.Debug("dropping ranging sample outside a ranging window", "region_id", region.ID)
		return
	}
	e.ranging = false
	e.state = StateInsideStable
	m.mu.Unlock()

	rssi := strongestRSSI(samples)
	if err := m.ranger.StopRanging(region); err != nil {
		m.logger.Warn("stop ranging failed", "region_id", region.ID, "error", err)
	}
	m.emit(beacon.CanonicalEvent{RegionID: region.ID, Kind: beacon.EventEnter, RSSI: rssi})
}

func (m *StateMachine) onOutside(region beacon.Region) {
	e := m.lockRegion(region.ID)
	defer e.calls.Unlock()

	m.mu.Lock()
	e.ranging = false
	e.state = StateOutside
	m.mu.Unlock()

	if err := m.ranger.StopRanging(region); err != nil {
		m.logger.Warn("stop ranging failed", "region_id", region.ID, "error", err)
	}
	m.emit(beacon.CanonicalEvent{RegionID: region.ID, Kind: beacon.EventExit})
}

// Forget drops all state for a region. Called after the region is removed.
func (m *StateMachine) Forget(id string) {
	m.mu.Lock()
	delete(m.regions, id)
	m.mu.Unlock()
}

// Reset drops every tracked region.
func (m *StateMachine) Reset() {
	m.mu.Lock()
	m.regions = make(map[string]*entry)
	m.mu.Unlock()
}

// Snapshot returns the current state of a region and whether ranging is active.
func (m *StateMachine) Snapshot(id string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.regions[id]
	if !ok {
		return StateUnknown, false
	}
	return e.state, e.ranging
}

func (m *StateMachine) entryLocked(id string) *entry {
	e, ok := m.regions[id]
	if !ok {
		e = &entry{state: StateUnknown}
		m.regions[id] = e
	}
	return e
}

// strongestRSSI picks the strongest non-zero reading, falling back to the
// first sample's value when every reading is zero.
func strongestRSSI(samples []Sample) *int {
	best, found := 0, false
	for _, s := range samples {
		if s.RSSI == 0 {
			continue
		}
		if !found || s.RSSI > best {
			best, found = s.RSSI, true
		}
	}
	if !found {
		best = samples[0].RSSI
	}
	return &best
}
