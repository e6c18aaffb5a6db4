package fence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/beacon-fence-core/internal/beacon"
)

// RegionStore is the persistence the controller depends on.
// *beacon.Store implements it.
type RegionStore interface {
	BeaconReader
	SaveBeacon(ctx context.Context, d beacon.Definition) error
	ListBeaconIDs(ctx context.Context) ([]string, error)
	ListBeacons(ctx context.Context) ([]beacon.Definition, error)
	RemoveBeacon(ctx context.Context, id string) error
	RemoveAllBeacons(ctx context.Context) ([]string, error)
	SaveScannerSettings(ctx context.Context, s beacon.ScannerSettings) error
	LoadScannerSettings(ctx context.Context) (beacon.ScannerSettings, bool, error)
	SetDispatcherHandle(ctx context.Context, handle int64) error
	DispatcherHandle(ctx context.Context) (int64, bool, error)
}

// Scanner is the beacon scanning service as the controller sees it.
// Failures should wrap beacon.ErrPermissionDenied or beacon.ErrServiceUnavailable.
type Scanner interface {
	StartMonitoring(ctx context.Context, region beacon.Region, opts beacon.MonitorOptions) error
	StopMonitoring(ctx context.Context, region beacon.Region) error
	StopRanging(region beacon.Region) error
	ApplySettings(ctx context.Context, settings beacon.ScannerSettings) error
}

// RSSILookup supplies the last observed RSSI for the ActiveBeacon view.
type RSSILookup interface {
	LastRSSI(id string) *int
}

// Tracker holds per-region runtime state that must be cleared on removal.
type Tracker interface {
	Forget(id string)
}

// Logger defines the logging interface used by this package.
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

type noRSSI struct{}

func (noRSSI) LastRSSI(string) *int { return nil }

// RebootReport summarises a ReCreateAfterReboot pass.
type RebootReport struct {
	Restored []string
	Failed   map[string]error
}

// Controller is the public face of the fence service. Every mutating
// operation is serialised; reads go straight to the store.
type Controller struct {
	store    RegionStore
	scanner  Scanner
	rssi     RSSILookup
	trackers []Tracker
	defaults beacon.ScannerSettings
	logger   Logger

	mu sync.Mutex
}

// NewController creates a controller over store and scanner.
func NewController(store RegionStore, scanner Scanner) *Controller {
	return &Controller{
		store:    store,
		scanner:  scanner,
		rssi:     noRSSI{},
		defaults: beacon.DefaultScannerSettings(),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the controller.
func (c *Controller) SetLogger(logger Logger) {
	c.logger = logger
}

// SetRSSILookup sets where Beacons reads the last observed RSSI from.
func (c *Controller) SetRSSILookup(l RSSILookup) {
	c.rssi = l
}

// AddTracker registers state to clear when a region is removed.
func (c *Controller) AddTracker(t Tracker) {
	c.trackers = append(c.trackers, t)
}

// SetDefaultScannerSettings sets what RestoreScannerSettings applies when nothing is persisted.
func (c *Controller) SetDefaultScannerSettings(s beacon.ScannerSettings) {
	c.defaults = s
}

// Initialize persists the handle the callback runtime uses to locate its
// dispatcher and re-applies the scanner settings.
func (c *Controller) Initialize(ctx context.Context, dispatcherHandle int64) error {
	if dispatcherHandle == 0 {
		return ErrInvalidHandle
	}
	c.mu.Lock()
	err := c.store.SetDispatcherHandle(ctx, dispatcherHandle)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("initializing: %w", err)
	}
	c.logger.Info("callback dispatcher registered")
	return c.RestoreScannerSettings(ctx)
}

// CreateBeacon validates def, registers it with the scanner and persists it.
// Calling it again for the same id replaces the registration.
func (c *Controller) CreateBeacon(ctx context.Context, def beacon.Definition) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createLocked(ctx, def)
}

func (c *Controller) createLocked(ctx context.Context, def beacon.Definition) error {
	if err := beacon.ValidateDefinition(def); err != nil {
		return err
	}
	def = beacon.Normalize(def)
	region := def.Region()

	// A new identity under an existing id is a different region: the old
	// one is unregistered and its runtime state cleared.
	prev, err := c.store.GetBeacon(ctx, def.ID)
	replaced := err == nil && !sameIdentity(prev.Region(), region)
	if replaced {
		c.unregister(ctx, prev.Region())
		c.forget(def.ID)
	}

	if err := c.scanner.StartMonitoring(ctx, region, def.MonitorOptions()); err != nil {
		if replaced {
			if restoreErr := c.scanner.StartMonitoring(ctx, prev.Region(), prev.MonitorOptions()); restoreErr != nil {
				c.logger.Warn("restoring previous region failed", "region_id", def.ID, "error", restoreErr)
			}
		}
		return fmt.Errorf("registering region %q: %w", def.ID, err)
	}

	if err := c.store.SaveBeacon(ctx, def); err != nil {
		if stopErr := c.scanner.StopMonitoring(ctx, region); stopErr != nil {
			c.logger.Warn("rolling back monitoring failed", "region_id", def.ID, "error", stopErr)
		}
		return fmt.Errorf("persisting region %q: %w", def.ID, err)
	}

	c.logger.Info("beacon registered", "region_id", def.ID, "uuid", def.UUID)
	return nil
}

// RemoveBeaconByID unregisters and deletes one region.
// Returns beacon.ErrNotFound if the id is unknown.
func (c *Controller) RemoveBeaconByID(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	region := beacon.Region{ID: id}
	def, err := c.store.GetBeacon(ctx, id)
	switch {
	case errors.Is(err, beacon.ErrNotFound):
		return err
	case errors.Is(err, beacon.ErrStorageCorrupt):
		// The id is still registered; unregister by id alone.
		c.logger.Warn("removing region with unreadable record", "region_id", id, "error", err)
	case err != nil:
		return fmt.Errorf("removing region %q: %w", id, err)
	default:
		region = def.Region()
	}

	c.unregister(ctx, region)
	if err := c.store.RemoveBeacon(ctx, id); err != nil {
		return fmt.Errorf("removing region %q: %w", id, err)
	}
	c.forget(id)

	c.logger.Info("beacon removed", "region_id", id)
	return nil
}

// RemoveAllBeacons unregisters and deletes every region.
func (c *Controller) RemoveAllBeacons(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	defs, err := c.store.ListBeacons(ctx)
	if err != nil {
		return fmt.Errorf("removing all regions: %w", err)
	}
	for _, def := range defs {
		c.unregister(ctx, def.Region())
	}

	removed, err := c.store.RemoveAllBeacons(ctx)
	if err != nil {
		return fmt.Errorf("removing all regions: %w", err)
	}
	known := make(map[string]bool, len(defs))
	for _, def := range defs {
		known[def.ID] = true
	}
	for _, id := range removed {
		if !known[id] {
			// Corrupt record: listed by id only.
			c.unregister(ctx, beacon.Region{ID: id})
		}
		c.forget(id)
	}

	c.logger.Info("all beacons removed", "count", len(removed))
	return nil
}

// unregister stops ranging and monitoring. Scanner failures are logged: the
// record is deleted regardless, so it is never replayed after a reboot.
func (c *Controller) unregister(ctx context.Context, region beacon.Region) {
	if err := c.scanner.StopRanging(region); err != nil {
		c.logger.Warn("stop ranging failed", "region_id", region.ID, "error", err)
	}
	if err := c.scanner.StopMonitoring(ctx, region); err != nil {
		c.logger.Warn("stop monitoring failed", "region_id", region.ID, "error", err)
	}
}

func sameIdentity(a, b beacon.Region) bool {
	return a.UUID == b.UUID && sameUint16(a.Major, b.Major) && sameUint16(a.Minor, b.Minor)
}

func sameUint16(a, b *uint16) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (c *Controller) forget(id string) {
	for _, t := range c.trackers {
		t.Forget(id)
	}
}

// BeaconIDs returns the registered ids in sorted order.
func (c *Controller) BeaconIDs(ctx context.Context) ([]string, error) {
	return c.store.ListBeaconIDs(ctx)
}

// Beacons returns the ActiveBeacon view of every readable definition.
func (c *Controller) Beacons(ctx context.Context) ([]beacon.ActiveBeacon, error) {
	defs, err := c.store.ListBeacons(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]beacon.ActiveBeacon, len(defs))
	for i, def := range defs {
		out[i] = def.Active(c.rssi.LastRSSI(def.ID))
	}
	return out, nil
}

// ConfigureScanner persists settings and applies them to the scanner.
// A failure to apply is logged only; the persisted value is applied on the next bind.
func (c *Controller) ConfigureScanner(ctx context.Context, settings beacon.ScannerSettings) error {
	if err := validateSettings(settings); err != nil {
		return err
	}
	settings = withDefaultNotification(settings)

	c.mu.Lock()
	err := c.store.SaveScannerSettings(ctx, settings)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("configuring scanner: %w", err)
	}

	if err := c.scanner.ApplySettings(ctx, settings); err != nil {
		c.logger.Warn("applying scanner settings deferred", "error", err)
	}
	return nil
}

// RestoreScannerSettings applies the persisted settings, or the defaults when none exist.
func (c *Controller) RestoreScannerSettings(ctx context.Context) error {
	settings, ok, err := c.store.LoadScannerSettings(ctx)
	if err != nil {
		if !errors.Is(err, beacon.ErrStorageCorrupt) {
			return fmt.Errorf("restoring scanner settings: %w", err)
		}
		c.logger.Warn("persisted scanner settings unreadable, using defaults", "error", err)
	}
	if !ok {
		settings = c.defaults
	}
	settings = withDefaultNotification(settings)

	if err := c.scanner.ApplySettings(ctx, settings); err != nil {
		c.logger.Warn("applying scanner settings deferred", "error", err)
	}
	return nil
}

// ReCreateAfterReboot re-registers every persisted definition. Individual
// failures are logged and reported; they never abort the pass.
func (c *Controller) ReCreateAfterReboot(ctx context.Context) RebootReport {
	report := RebootReport{Failed: make(map[string]error)}

	c.mu.Lock()
	defer c.mu.Unlock()

	ids, err := c.store.ListBeaconIDs(ctx)
	if err != nil {
		c.logger.Error("listing persisted regions", "error", err)
		return report
	}

	for _, id := range ids {
		def, err := c.store.GetBeacon(ctx, id)
		if err == nil {
			err = c.createLocked(ctx, def)
		}
		if err != nil {
			c.logger.Error("re-creating region after reboot", "region_id", id, "error", err)
			report.Failed[id] = err
			continue
		}
		report.Restored = append(report.Restored, id)
	}

	c.logger.Info("regions re-created after reboot",
		"restored", len(report.Restored), "failed", len(report.Failed))
	return report
}

// validateSettings rejects periods the scanner cannot honour. The scanner
// works in whole milliseconds.
func validateSettings(s beacon.ScannerSettings) error {
	for _, d := range []time.Duration{
		s.ForegroundScanPeriod, s.ForegroundBetweenScanPeriod,
		s.BackgroundScanPeriod, s.BackgroundBetweenScanPeriod,
	} {
		if d < 0 {
			return fmt.Errorf("%w: scan periods must not be negative", ErrInvalidSettings)
		}
		if d%time.Millisecond != 0 {
			return fmt.Errorf("%w: scan period %v is not a whole number of milliseconds", ErrInvalidSettings, d)
		}
	}
	return nil
}

func withDefaultNotification(s beacon.ScannerSettings) beacon.ScannerSettings {
	if s.Notification.Title == "" {
		s.Notification.Title = beacon.DefaultNotification.Title
	}
	if s.Notification.Content == "" {
		s.Notification.Content = beacon.DefaultNotification.Content
	}
	return s
}
