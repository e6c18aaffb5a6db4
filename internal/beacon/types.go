package beacon

import (
	"slices"
	"time"
)

// Event is the kind of fence transition delivered to callbacks.
// The integer values match the wire encoding used by the callback runtime.
type Event int

const (
	// EventEnter is emitted once per physical entry, after the first ranging sample.
	EventEnter Event = 0

	// EventExit is emitted when the scanner reports the device outside the region.
	EventExit Event = 1
)

// String returns the lower-case name of the event.
func (e Event) String() string {
	switch e {
	case EventEnter:
		return "enter"
	case EventExit:
		return "exit"
	default:
		return "unknown"
	}
}

// ParseEvent converts "enter"/"exit" into an Event.
func ParseEvent(s string) (Event, bool) {
	switch s {
	case "enter", "ENTER":
		return EventEnter, true
	case "exit", "EXIT":
		return EventExit, true
	default:
		return 0, false
	}
}

// Valid reports whether e is a known event kind.
func (e Event) Valid() bool {
	return e == EventEnter || e == EventExit
}

// Region is the identity pattern a scanner monitors.
// Nil Major or Minor acts as a wildcard.
type Region struct {
	ID    string  `json:"id"`
	UUID  string  `json:"uuid"`
	Major *uint16 `json:"major,omitempty"`
	Minor *uint16 `json:"minor,omitempty"`
}

// Platform names the target of a PlatformSettings variant.
type Platform string

const (
	PlatformNone    Platform = ""
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
)

// PlatformSettings is a closed variant: AndroidSettings, IOSSettings, or nil for none.
type PlatformSettings interface {
	Platform() Platform
}

// AndroidSettings carries per-region options for Android scanners.
type AndroidSettings struct {
	// InitialTriggers lists events to fire immediately if the device is
	// already in that state when the region is registered.
	InitialTriggers []Event
}

// Platform implements PlatformSettings.
func (AndroidSettings) Platform() Platform { return PlatformAndroid }

// IOSSettings carries per-region options for iOS scanners.
type IOSSettings struct {
	// InitialTrigger requests the current region state right after registration.
	InitialTrigger bool

	// NotifyEntryStateOnDisplay re-notifies the region state whenever the display wakes.
	NotifyEntryStateOnDisplay bool
}

// Platform implements PlatformSettings.
func (IOSSettings) Platform() Platform { return PlatformIOS }

// Definition is a registered beacon fence.
// It is replaced as a whole on update; there is no partial mutation.
type Definition struct {
	ID         string
	UUID       string
	Major      *uint16
	Minor      *uint16
	Triggers   []Event
	CallbackID int64
	Platform   PlatformSettings
}

// Region returns the scanner identity of the definition.
func (d Definition) Region() Region {
	return Region{
		ID:    d.ID,
		UUID:  d.UUID,
		Major: copyUint16(d.Major),
		Minor: copyUint16(d.Minor),
	}
}

// HasTrigger reports whether the definition subscribes to e.
func (d Definition) HasTrigger(e Event) bool {
	return slices.Contains(d.Triggers, e)
}

// MonitorOptions derives the scanner registration options from the
// definition's triggers and platform settings.
func (d Definition) MonitorOptions() MonitorOptions {
	opts := MonitorOptions{
		NotifyOnEntry: d.HasTrigger(EventEnter),
		NotifyOnExit:  d.HasTrigger(EventExit),
	}
	switch p := d.Platform.(type) {
	case IOSSettings:
		opts.RequestInitialState = p.InitialTrigger
		opts.NotifyEntryStateOnDisplay = p.NotifyEntryStateOnDisplay
	case AndroidSettings:
		opts.RequestInitialState = len(p.InitialTriggers) > 0
	}
	return opts
}

// DeepCopy returns a copy that shares no pointers or slices with d.
func (d Definition) DeepCopy() Definition {
	c := d
	c.Major = copyUint16(d.Major)
	c.Minor = copyUint16(d.Minor)
	c.Triggers = slices.Clone(d.Triggers)
	if a, ok := d.Platform.(AndroidSettings); ok {
		a.InitialTriggers = slices.Clone(a.InitialTriggers)
		c.Platform = a
	}
	return c
}

// MonitorOptions tunes how a scanner reports a region.
type MonitorOptions struct {
	NotifyOnEntry             bool `json:"notify_on_entry"`
	NotifyOnExit              bool `json:"notify_on_exit"`
	RequestInitialState       bool `json:"request_initial_state"`
	NotifyEntryStateOnDisplay bool `json:"notify_entry_state_on_display"`
}

// ActiveBeacon is the read view of a Definition plus the last observed RSSI.
type ActiveBeacon struct {
	ID       string           `json:"id"`
	UUID     string           `json:"uuid"`
	Major    *uint16          `json:"major,omitempty"`
	Minor    *uint16          `json:"minor,omitempty"`
	RSSI     *int             `json:"rssi,omitempty"`
	Triggers []Event          `json:"triggers"`
	Platform PlatformSettings `json:"-"`
}

// Active builds the read view of d with the given RSSI (nil when never ranged).
func (d Definition) Active(rssi *int) ActiveBeacon {
	return ActiveBeacon{
		ID:       d.ID,
		UUID:     d.UUID,
		Major:    copyUint16(d.Major),
		Minor:    copyUint16(d.Minor),
		RSSI:     copyInt(rssi),
		Triggers: slices.Clone(d.Triggers),
		Platform: d.DeepCopy().Platform,
	}
}

// CanonicalEvent is the normalized output of the region state machine.
type CanonicalEvent struct {
	RegionID string
	Kind     Event
	RSSI     *int
}

// DispatchItem is the unit of work handed to the callback runtime.
type DispatchItem struct {
	RegionID   string       `json:"region_id"`
	Kind       Event        `json:"event"`
	RSSI       *int         `json:"rssi"`
	CallbackID int64        `json:"callback_handle"`
	Beacon     ActiveBeacon `json:"beacon"`
}

// NotificationSettings is the text of the scanner's foreground-service notification.
type NotificationSettings struct {
	Title   string
	Content string
}

// DefaultNotification is used when settings carry no notification text.
var DefaultNotification = NotificationSettings{
	Title:   "Listening for sessions",
	Content: "We will keep you updated",
}

// ScannerSettings is the process-wide scanner configuration.
type ScannerSettings struct {
	ForegroundScanPeriod        time.Duration
	ForegroundBetweenScanPeriod time.Duration
	BackgroundScanPeriod        time.Duration
	BackgroundBetweenScanPeriod time.Duration
	UseForegroundService        bool
	Notification                NotificationSettings
}

// DefaultScannerSettings mirrors the stock AltBeacon scan cycle.
func DefaultScannerSettings() ScannerSettings {
	return ScannerSettings{
		ForegroundScanPeriod:        1100 * time.Millisecond,
		ForegroundBetweenScanPeriod: 0,
		BackgroundScanPeriod:        10 * time.Second,
		BackgroundBetweenScanPeriod: 5 * time.Minute,
		Notification:                DefaultNotification,
	}
}

func copyUint16(v *uint16) *uint16 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Uint16 returns a pointer to v. Handy for building definitions.
func Uint16(v uint16) *uint16 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
