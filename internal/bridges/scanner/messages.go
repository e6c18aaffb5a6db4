package scanner

import (
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/beacon-fence-core/internal/beacon"
	"github.com/nerrad567/beacon-fence-core/internal/monitor"
)

// Command names understood by the scanner.
const (
	CommandStartMonitoring = "start_monitoring"
	CommandStopMonitoring  = "stop_monitoring"
	CommandStartRanging    = "start_ranging"
	CommandStopRanging     = "stop_ranging"
)

// Bluetooth permission values reported in StatusMessage.
const (
	PermissionGranted = "granted"
	PermissionDenied  = "denied"
)

// CommandMessage is published to beaconfence/scanner/command.
type CommandMessage struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Command   string                 `json:"command"`
	Region    beacon.Region          `json:"region"`
	Options   *beacon.MonitorOptions `json:"options,omitempty"`
}

// NewCommand builds a command with a fresh correlation id.
func NewCommand(command string, region beacon.Region, opts *beacon.MonitorOptions) CommandMessage {
	return CommandMessage{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Command:   command,
		Region:    region,
		Options:   opts,
	}
}

// SettingsMessage is published retained to beaconfence/scanner/settings.
type SettingsMessage struct {
	ForegroundScanPeriodMS        int64  `json:"foreground_scan_period_ms"`
	ForegroundBetweenScanPeriodMS int64  `json:"foreground_between_scan_period_ms"`
	BackgroundScanPeriodMS        int64  `json:"background_scan_period_ms"`
	BackgroundBetweenScanPeriodMS int64  `json:"background_between_scan_period_ms"`
	UseForegroundService          bool   `json:"use_foreground_service"`
	NotificationTitle             string `json:"notification_title"`
	NotificationContent           string `json:"notification_content"`
}

// NewSettingsMessage converts s to its wire form.
func NewSettingsMessage(s beacon.ScannerSettings) SettingsMessage {
	return SettingsMessage{
		ForegroundScanPeriodMS:        s.ForegroundScanPeriod.Milliseconds(),
		ForegroundBetweenScanPeriodMS: s.ForegroundBetweenScanPeriod.Milliseconds(),
		BackgroundScanPeriodMS:        s.BackgroundScanPeriod.Milliseconds(),
		BackgroundBetweenScanPeriodMS: s.BackgroundBetweenScanPeriod.Milliseconds(),
		UseForegroundService:          s.UseForegroundService,
		NotificationTitle:             s.Notification.Title,
		NotificationContent:           s.Notification.Content,
	}
}

// StatusMessage is what the scanner publishes retained on beaconfence/scanner/status.
type StatusMessage struct {
	Bound     bool      `json:"bound"`
	Bluetooth string    `json:"bluetooth"`
	Timestamp time.Time `json:"timestamp"`
}

// RegionStateMessage arrives on beaconfence/scanner/region/{id}/state.
type RegionStateMessage struct {
	State string `json:"state"`
}

// RangedMessage arrives on beaconfence/scanner/region/{id}/ranged.
type RangedMessage struct {
	Beacons []monitor.Sample `json:"beacons"`
}

// EventMessage mirrors a dispatched item on beaconfence/event/{id}.
type EventMessage struct {
	RegionID  string              `json:"region_id"`
	Event     string              `json:"event"`
	RSSI      *int                `json:"rssi"`
	Beacon    beacon.ActiveBeacon `json:"beacon"`
	Timestamp time.Time           `json:"timestamp"`
}
