package beacon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/go-cmp/cmp"

	"github.com/nerrad567/beacon-fence-core/internal/infrastructure/database"
	"github.com/nerrad567/beacon-fence-core/migrations"
)

func newSQLiteBackend(t *testing.T) Backend {
	t.Helper()
	db, err := database.Open(context.Background(), database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteBackend(db.DB)
}

func newRedisBackend(t *testing.T) Backend {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return NewRedisBackend(client, "beaconfence:")
}

func forEachBackend(t *testing.T, fn func(t *testing.T, backend Backend)) {
	backends := map[string]func(t *testing.T) Backend{
		"memory": func(*testing.T) Backend { return NewMemoryBackend() },
		"sqlite": newSQLiteBackend,
		"redis":  newRedisBackend,
	}
	for name, mk := range backends {
		t.Run(name, func(t *testing.T) {
			fn(t, mk(t))
		})
	}
}

func sampleDefinition(id string) Definition {
	return Definition{
		ID:         id,
		UUID:       "2f234454-cf6d-4a0f-adf2-f4911ba9ffa6",
		Major:      Uint16(10),
		Triggers:   []Event{EventEnter, EventExit},
		CallbackID: 77,
		Platform:   IOSSettings{InitialTrigger: true},
	}
}

func TestStoreBeaconLifecycle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		ctx := context.Background()
		s := NewStore(backend)

		if _, err := s.GetBeacon(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("GetBeacon(missing) error = %v, want ErrNotFound", err)
		}

		for _, id := range []string{"zeta", "alpha", "mid"} {
			if err := s.SaveBeacon(ctx, sampleDefinition(id)); err != nil {
				t.Fatalf("SaveBeacon(%s) error = %v", id, err)
			}
		}

		ids, err := s.ListBeaconIDs(ctx)
		if err != nil {
			t.Fatalf("ListBeaconIDs() error = %v", err)
		}
		if diff := cmp.Diff([]string{"alpha", "mid", "zeta"}, ids); diff != "" {
			t.Errorf("ListBeaconIDs() mismatch (-want +got):\n%s", diff)
		}

		got, err := s.GetBeacon(ctx, "mid")
		if err != nil {
			t.Fatalf("GetBeacon() error = %v", err)
		}
		if diff := cmp.Diff(sampleDefinition("mid"), got); diff != "" {
			t.Errorf("GetBeacon() mismatch (-want +got):\n%s", diff)
		}

		// Full replacement keeps one id entry.
		replaced := sampleDefinition("mid")
		replaced.Triggers = []Event{EventExit}
		replaced.Major = nil
		replaced.Platform = nil
		if err := s.SaveBeacon(ctx, replaced); err != nil {
			t.Fatalf("SaveBeacon(replace) error = %v", err)
		}
		got, _ = s.GetBeacon(ctx, "mid")
		if diff := cmp.Diff(replaced, got); diff != "" {
			t.Errorf("replaced definition mismatch (-want +got):\n%s", diff)
		}
		ids, _ = s.ListBeaconIDs(ctx)
		if len(ids) != 3 {
			t.Errorf("ids after replace = %v, want 3 entries", ids)
		}

		if err := s.RemoveBeacon(ctx, "mid"); err != nil {
			t.Fatalf("RemoveBeacon() error = %v", err)
		}
		if err := s.RemoveBeacon(ctx, "mid"); !errors.Is(err, ErrNotFound) {
			t.Errorf("second RemoveBeacon() error = %v, want ErrNotFound", err)
		}
		if _, err := s.GetBeacon(ctx, "mid"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetBeacon(removed) error = %v, want ErrNotFound", err)
		}

		removed, err := s.RemoveAllBeacons(ctx)
		if err != nil {
			t.Fatalf("RemoveAllBeacons() error = %v", err)
		}
		if diff := cmp.Diff([]string{"alpha", "zeta"}, removed); diff != "" {
			t.Errorf("RemoveAllBeacons() mismatch (-want +got):\n%s", diff)
		}
		ids, _ = s.ListBeaconIDs(ctx)
		if len(ids) != 0 {
			t.Errorf("ids after RemoveAll = %v, want none", ids)
		}
		defs, _ := s.ListBeacons(ctx)
		if len(defs) != 0 {
			t.Errorf("ListBeacons() after RemoveAll = %v, want none", defs)
		}
	})
}

func TestStoreScannerSettingsAndHandle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		ctx := context.Background()
		s := NewStore(backend)

		if _, ok, err := s.LoadScannerSettings(ctx); ok || err != nil {
			t.Fatalf("LoadScannerSettings() on empty store = %v, %v", ok, err)
		}
		settings := DefaultScannerSettings()
		settings.UseForegroundService = true
		if err := s.SaveScannerSettings(ctx, settings); err != nil {
			t.Fatalf("SaveScannerSettings() error = %v", err)
		}
		settings.BackgroundScanPeriod *= 2
		if err := s.SaveScannerSettings(ctx, settings); err != nil {
			t.Fatalf("SaveScannerSettings() error = %v", err)
		}
		got, ok, err := s.LoadScannerSettings(ctx)
		if err != nil || !ok {
			t.Fatalf("LoadScannerSettings() = %v, %v", ok, err)
		}
		if diff := cmp.Diff(settings, got); diff != "" {
			t.Errorf("last write should win (-want +got):\n%s", diff)
		}

		if _, ok, _ := s.DispatcherHandle(ctx); ok {
			t.Error("DispatcherHandle() should be unset")
		}
		if err := s.SetDispatcherHandle(ctx, 9001); err != nil {
			t.Fatalf("SetDispatcherHandle() error = %v", err)
		}
		h, ok, err := s.DispatcherHandle(ctx)
		if err != nil || !ok || h != 9001 {
			t.Errorf("DispatcherHandle() = %d, %v, %v", h, ok, err)
		}
	})
}

func TestStoreSkipsCorruptRecords(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	s := NewStore(backend)

	for _, id := range []string{"a", "b", "c"} {
		if err := s.SaveBeacon(ctx, sampleDefinition(id)); err != nil {
			t.Fatalf("SaveBeacon() error = %v", err)
		}
	}
	backend.Set(BeaconKey("b"), []byte(`{"v":1,"id":"b","triggers":["???"]}`))

	defs, err := s.ListBeacons(ctx)
	if err != nil {
		t.Fatalf("ListBeacons() error = %v", err)
	}
	if len(defs) != 2 || defs[0].ID != "a" || defs[1].ID != "c" {
		t.Errorf("ListBeacons() = %+v, want a and c", defs)
	}
	if _, err := s.GetBeacon(ctx, "b"); !errors.Is(err, ErrStorageCorrupt) {
		t.Errorf("GetBeacon(corrupt) error = %v, want ErrStorageCorrupt", err)
	}
}

func TestStoreConcurrentSaves(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		ctx := context.Background()
		s := NewStore(backend)

		const n = 20
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if err := s.SaveBeacon(ctx, sampleDefinition(fmt.Sprintf("b%02d", i))); err != nil {
					t.Errorf("SaveBeacon() error = %v", err)
				}
			}(i)
		}
		wg.Wait()

		ids, err := s.ListBeaconIDs(ctx)
		if err != nil {
			t.Fatalf("ListBeaconIDs() error = %v", err)
		}
		if len(ids) != n {
			t.Errorf("ListBeaconIDs() len = %d, want %d (lost update)", len(ids), n)
		}
	})
}

type failingBackend struct {
	*MemoryBackend
	applyErr error
}

func (f *failingBackend) Apply(ctx context.Context, b Batch) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	return f.MemoryBackend.Apply(ctx, b)
}

func TestStoreBackendFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk full")
	backend := &failingBackend{MemoryBackend: NewMemoryBackend(), applyErr: boom}
	s := NewStore(backend)

	if err := s.SaveBeacon(ctx, sampleDefinition("x")); !errors.Is(err, boom) {
		t.Fatalf("SaveBeacon() error = %v, want wrapped %v", err, boom)
	}
	ids, _ := s.ListBeaconIDs(ctx)
	if len(ids) != 0 {
		t.Errorf("failed batch must not leave ids behind, got %v", ids)
	}
}
