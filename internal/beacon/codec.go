package beacon

import (
	"encoding/json"
	"fmt"
	"time"
)

// recordVersion is written into every persisted record as "v".
// Records carrying any other version decode as ErrStorageCorrupt.
const recordVersion = 1

type definitionRecord struct {
	V          int             `json:"v"`
	ID         string          `json:"id"`
	UUID       string          `json:"uuid"`
	Major      *uint16         `json:"major,omitempty"`
	Minor      *uint16         `json:"minor,omitempty"`
	Triggers   []string        `json:"triggers"`
	CallbackID int64           `json:"callback_id"`
	Platform   *platformRecord `json:"platform,omitempty"`
}

type platformRecord struct {
	Kind                      Platform `json:"kind"`
	InitialTriggers           []string `json:"initial_triggers,omitempty"`
	InitialTrigger            bool     `json:"initial_trigger,omitempty"`
	NotifyEntryStateOnDisplay bool     `json:"notify_entry_state_on_display,omitempty"`
}

// settingsRecord stores periods in nanoseconds so every time.Duration
// survives a round trip.
type settingsRecord struct {
	V                             int           `json:"v"`
	ForegroundScanPeriodNS        time.Duration `json:"foreground_scan_period_ns"`
	ForegroundBetweenScanPeriodNS time.Duration `json:"foreground_between_scan_period_ns"`
	BackgroundScanPeriodNS        time.Duration `json:"background_scan_period_ns"`
	BackgroundBetweenScanPeriodNS time.Duration `json:"background_between_scan_period_ns"`
	UseForegroundService          bool          `json:"use_foreground_service"`
	NotificationTitle             string        `json:"notification_title"`
	NotificationContent           string        `json:"notification_content"`
}

type idsRecord struct {
	V   int      `json:"v"`
	IDs []string `json:"ids"`
}

type handleRecord struct {
	V      int   `json:"v"`
	Handle int64 `json:"handle"`
}

// EncodeDefinition serialises a definition for storage.
func EncodeDefinition(d Definition) ([]byte, error) {
	rec := definitionRecord{
		V:          recordVersion,
		ID:         d.ID,
		UUID:       d.UUID,
		Major:      d.Major,
		Minor:      d.Minor,
		Triggers:   eventNames(d.Triggers),
		CallbackID: d.CallbackID,
	}
	switch p := d.Platform.(type) {
	case nil:
	case AndroidSettings:
		rec.Platform = &platformRecord{Kind: PlatformAndroid, InitialTriggers: eventNames(p.InitialTriggers)}
	case IOSSettings:
		rec.Platform = &platformRecord{
			Kind:                      PlatformIOS,
			InitialTrigger:            p.InitialTrigger,
			NotifyEntryStateOnDisplay: p.NotifyEntryStateOnDisplay,
		}
	default:
		return nil, fmt.Errorf("encoding definition %q: unsupported platform %T", d.ID, d.Platform)
	}
	return json.Marshal(rec)
}

// DecodeDefinition parses a stored definition. Malformed input wraps ErrStorageCorrupt.
func DecodeDefinition(data []byte) (Definition, error) {
	var rec definitionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Definition{}, fmt.Errorf("%w: definition: %v", ErrStorageCorrupt, err)
	}
	if rec.V != recordVersion {
		return Definition{}, fmt.Errorf("%w: definition version %d", ErrStorageCorrupt, rec.V)
	}
	if rec.ID == "" {
		return Definition{}, fmt.Errorf("%w: definition has no id", ErrStorageCorrupt)
	}
	triggers, err := parseEventNames(rec.Triggers)
	if err != nil {
		return Definition{}, fmt.Errorf("%w: definition %q triggers: %v", ErrStorageCorrupt, rec.ID, err)
	}
	d := Definition{
		ID:         rec.ID,
		UUID:       rec.UUID,
		Major:      rec.Major,
		Minor:      rec.Minor,
		Triggers:   triggers,
		CallbackID: rec.CallbackID,
	}
	if rec.Platform != nil {
		switch rec.Platform.Kind {
		case PlatformAndroid:
			initial, err := parseEventNames(rec.Platform.InitialTriggers)
			if err != nil {
				return Definition{}, fmt.Errorf("%w: definition %q initial triggers: %v", ErrStorageCorrupt, rec.ID, err)
			}
			d.Platform = AndroidSettings{InitialTriggers: initial}
		case PlatformIOS:
			d.Platform = IOSSettings{
				InitialTrigger:            rec.Platform.InitialTrigger,
				NotifyEntryStateOnDisplay: rec.Platform.NotifyEntryStateOnDisplay,
			}
		default:
			return Definition{}, fmt.Errorf("%w: definition %q platform %q", ErrStorageCorrupt, rec.ID, rec.Platform.Kind)
		}
	}
	return d, nil
}

// EncodeScannerSettings serialises scanner settings for storage.
func EncodeScannerSettings(s ScannerSettings) ([]byte, error) {
	return json.Marshal(settingsRecord{
		V:                             recordVersion,
		ForegroundScanPeriodNS:        s.ForegroundScanPeriod,
		ForegroundBetweenScanPeriodNS: s.ForegroundBetweenScanPeriod,
		BackgroundScanPeriodNS:        s.BackgroundScanPeriod,
		BackgroundBetweenScanPeriodNS: s.BackgroundBetweenScanPeriod,
		UseForegroundService:          s.UseForegroundService,
		NotificationTitle:             s.Notification.Title,
		NotificationContent:           s.Notification.Content,
	})
}

// DecodeScannerSettings parses stored scanner settings.
func DecodeScannerSettings(data []byte) (ScannerSettings, error) {
	var rec settingsRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return ScannerSettings{}, fmt.Errorf("%w: scanner settings: %v", ErrStorageCorrupt, err)
	}
	if rec.V != recordVersion {
		return ScannerSettings{}, fmt.Errorf("%w: scanner settings version %d", ErrStorageCorrupt, rec.V)
	}
	return ScannerSettings{
		ForegroundScanPeriod:        rec.ForegroundScanPeriodNS,
		ForegroundBetweenScanPeriod: rec.ForegroundBetweenScanPeriodNS,
		BackgroundScanPeriod:        rec.BackgroundScanPeriodNS,
		BackgroundBetweenScanPeriod: rec.BackgroundBetweenScanPeriodNS,
		UseForegroundService:        rec.UseForegroundService,
		Notification: NotificationSettings{
			Title:   rec.NotificationTitle,
			Content: rec.NotificationContent,
		},
	}, nil
}

func encodeIDs(ids []string) ([]byte, error) {
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(idsRecord{V: recordVersion, IDs: ids})
}

func decodeIDs(data []byte) ([]string, error) {
	var rec idsRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: id set: %v", ErrStorageCorrupt, err)
	}
	if rec.V != recordVersion {
		return nil, fmt.Errorf("%w: id set version %d", ErrStorageCorrupt, rec.V)
	}
	return rec.IDs, nil
}

func encodeHandle(h int64) ([]byte, error) {
	return json.Marshal(handleRecord{V: recordVersion, Handle: h})
}

func decodeHandle(data []byte) (int64, error) {
	var rec handleRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0, fmt.Errorf("%w: dispatcher handle: %v", ErrStorageCorrupt, err)
	}
	if rec.V != recordVersion {
		return 0, fmt.Errorf("%w: dispatcher handle version %d", ErrStorageCorrupt, rec.V)
	}
	return rec.Handle, nil
}

func eventNames(events []Event) []string {
	if len(events) == 0 {
		return nil
	}
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = e.String()
	}
	return names
}

func parseEventNames(names []string) ([]Event, error) {
	if len(names) == 0 {
		return nil, nil
	}
	events := make([]Event, len(names))
	for i, n := range names {
		e, ok := ParseEvent(n)
		if !ok {
			return nil, fmt.Errorf("unknown event %q", n)
		}
		events[i] = e
	}
	return events, nil
}
