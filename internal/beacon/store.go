package beacon

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Storage keys. The layout is logical; each backend maps a key onto its own namespace.
const (
	KeyBeaconIDs        = "persistent_beacons_ids"
	KeyBeaconPrefix     = "persistent_beacon/"
	KeyScannerSettings  = "persistent_scanner_settings"
	KeyDispatcherHandle = "beacon_callback_dispatch_handler"
)

// BeaconKey returns the storage key of a single definition.
func BeaconKey(id string) string {
	return KeyBeaconPrefix + id
}

// Batch is a set of writes applied atomically by a Backend.
type Batch struct {
	Puts    map[string][]byte
	Deletes []string
}

func (b *Batch) put(key string, value []byte) {
	if b.Puts == nil {
		b.Puts = make(map[string][]byte)
	}
	b.Puts[key] = value
}

// Backend is an atomic key/value store.
// Apply must commit every put and delete of a batch or none of them.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Apply(ctx context.Context, batch Batch) error
}

// Logger defines the logging interface used by the Store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Store persists beacon definitions, scanner settings and the callback
// dispatcher handle on top of a Backend.
//
// Every read-modify-write (the id set plus the record it indexes) runs under
// one mutex and lands in one batch, so a completed write is visible to every
// later read and a crash never leaves an id without its record.
//
// All public methods are thread-safe.
type Store struct {
	backend Backend
	mu      sync.Mutex
	logger  Logger
}

// NewStore creates a store over the given backend.
func NewStore(backend Backend) *Store {
	return &Store{
		backend: backend,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// SaveBeacon inserts or fully replaces a definition.
func (s *Store) SaveBeacon(ctx context.Context, d Definition) error {
	data, err := EncodeDefinition(d)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.readIDs(ctx)
	if err != nil {
		return err
	}

	var batch Batch
	batch.put(BeaconKey(d.ID), data)
	if !slices.Contains(ids, d.ID) {
		ids = append(ids, d.ID)
		idData, err := encodeIDs(ids)
		if err != nil {
			return err
		}
		batch.put(KeyBeaconIDs, idData)
	}

	if err := s.backend.Apply(ctx, batch); err != nil {
		return fmt.Errorf("saving beacon %q: %w", d.ID, err)
	}
	return nil
}

// GetBeacon returns the definition registered under id.
// Returns ErrNotFound if it does not exist and ErrStorageCorrupt if it cannot be decoded.
func (s *Store) GetBeacon(ctx context.Context, id string) (Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readBeacon(ctx, id)
}

// ListBeaconIDs returns the registered ids in sorted order.
func (s *Store) ListBeaconIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.readIDs(ctx)
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)
	return ids, nil
}

// ListBeacons returns every decodable definition, sorted by id.
// Missing or corrupt records are logged and skipped.
func (s *Store) ListBeacons(ctx context.Context) ([]Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.readIDs(ctx)
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)

	defs := make([]Definition, 0, len(ids))
	for _, id := range ids {
		d, err := s.readBeacon(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStorageCorrupt) {
				s.logger.Warn("skipping unreadable beacon record", "id", id, "error", err)
				continue
			}
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, nil
}

// RemoveBeacon deletes a definition and its id.
// Returns ErrNotFound if the id is not registered.
func (s *Store) RemoveBeacon(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.readIDs(ctx)
	if err != nil {
		return err
	}
	idx := slices.Index(ids, id)
	if idx < 0 {
		return ErrNotFound
	}
	ids = slices.Delete(ids, idx, idx+1)

	idData, err := encodeIDs(ids)
	if err != nil {
		return err
	}
	var batch Batch
	batch.put(KeyBeaconIDs, idData)
	batch.Deletes = []string{BeaconKey(id)}

	if err := s.backend.Apply(ctx, batch); err != nil {
		return fmt.Errorf("removing beacon %q: %w", id, err)
	}
	return nil
}

// RemoveAllBeacons deletes every definition and returns the ids that were removed.
func (s *Store) RemoveAllBeacons(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.readIDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	batch := Batch{Deletes: []string{KeyBeaconIDs}}
	for _, id := range ids {
		batch.Deletes = append(batch.Deletes, BeaconKey(id))
	}
	if err := s.backend.Apply(ctx, batch); err != nil {
		return nil, fmt.Errorf("removing all beacons: %w", err)
	}
	slices.Sort(ids)
	return ids, nil
}

// SaveScannerSettings replaces the persisted scanner settings.
func (s *Store) SaveScannerSettings(ctx context.Context, settings ScannerSettings) error {
	data, err := EncodeScannerSettings(settings)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var batch Batch
	batch.put(KeyScannerSettings, data)
	if err := s.backend.Apply(ctx, batch); err != nil {
		return fmt.Errorf("saving scanner settings: %w", err)
	}
	return nil
}

// LoadScannerSettings returns the persisted settings; ok is false when none were saved.
func (s *Store) LoadScannerSettings(ctx context.Context) (settings ScannerSettings, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, found, err := s.backend.Get(ctx, KeyScannerSettings)
	if err != nil {
		return ScannerSettings{}, false, fmt.Errorf("loading scanner settings: %w", err)
	}
	if !found {
		return ScannerSettings{}, false, nil
	}
	settings, err = DecodeScannerSettings(data)
	if err != nil {
		return ScannerSettings{}, false, err
	}
	return settings, true, nil
}

// SetDispatcherHandle persists the handle the callback runtime uses to find its dispatcher.
func (s *Store) SetDispatcherHandle(ctx context.Context, handle int64) error {
	data, err := encodeHandle(handle)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var batch Batch
	batch.put(KeyDispatcherHandle, data)
	if err := s.backend.Apply(ctx, batch); err != nil {
		return fmt.Errorf("saving dispatcher handle: %w", err)
	}
	return nil
}

// DispatcherHandle returns the persisted dispatcher handle; ok is false when none was set.
func (s *Store) DispatcherHandle(ctx context.Context) (handle int64, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, found, err := s.backend.Get(ctx, KeyDispatcherHandle)
	if err != nil {
		return 0, false, fmt.Errorf("loading dispatcher handle: %w", err)
	}
	if !found {
		return 0, false, nil
	}
	handle, err = decodeHandle(data)
	if err != nil {
		return 0, false, err
	}
	return handle, true, nil
}

// readIDs must be called with s.mu held.
func (s *Store) readIDs(ctx context.Context) ([]string, error) {
	data, found, err := s.backend.Get(ctx, KeyBeaconIDs)
	if err != nil {
		return nil, fmt.Errorf("loading beacon ids: %w", err)
	}
	if !found {
		return nil, nil
	}
	return decodeIDs(data)
}

// readBeacon must be called with s.mu held.
func (s *Store) readBeacon(ctx context.Context, id string) (Definition, error) {
	data, found, err := s.backend.Get(ctx, BeaconKey(id))
	if err != nil {
		return Definition{}, fmt.Errorf("loading beacon %q: %w", id, err)
	}
	if !found {
		return Definition{}, ErrNotFound
	}
	return DecodeDefinition(data)
}
