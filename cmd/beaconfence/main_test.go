package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"

	"github.com/nerrad567/beacon-fence-core/internal/auth"
	"github.com/nerrad567/beacon-fence-core/internal/beacon"
	"github.com/nerrad567/beacon-fence-core/internal/infrastructure/config"
	"github.com/nerrad567/beacon-fence-core/internal/infrastructure/database"
)

const testSecret = "test-secret-for-development-only-0123456789"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, "/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_InvalidStorageBackend verifies config validation stops startup.
func TestRun_InvalidStorageBackend(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: etcd
`)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, path)
	if err == nil {
		t.Fatal("run() should fail with an unknown storage backend")
	}
	if !strings.Contains(err.Error(), "storage.backend") {
		t.Errorf("error = %v, want mention of storage.backend", err)
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("BEACONFENCE_CONFIG", "/etc/beaconfence/env.yaml")

	if got := resolveConfigPath("/from/flag.yaml"); got != "/from/flag.yaml" {
		t.Errorf("flag: got %q", got)
	}
	if got := resolveConfigPath(""); got != "/etc/beaconfence/env.yaml" {
		t.Errorf("env: got %q", got)
	}

	t.Setenv("BEACONFENCE_CONFIG", "")
	// The test runs in cmd/beaconfence, where configs/config.yaml does not exist.
	if got := resolveConfigPath(""); got != "" {
		t.Errorf("fallback: got %q, want built-in defaults", got)
	}
}

func TestEnvList(t *testing.T) {
	got := envList(map[string]string{"TZ": "UTC", "APP_MODE": "fence", "HOME": "/var/lib/app"})
	want := []string{"APP_MODE=fence", "HOME=/var/lib/app", "TZ=UTC"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("envList() mismatch (-want +got):\n%s", diff)
	}
	if envList(nil) != nil {
		t.Error("envList(nil) should be nil so the runtime inherits the parent environment")
	}
}

func TestRuntimeConfig(t *testing.T) {
	rc := runtimeConfig(config.CallbackConfig{
		Binary:          "/usr/bin/handler",
		Args:            []string{"--fence"},
		WorkingDir:      "/tmp",
		ReadyTimeout:    10,
		DeliveryTimeout: 30,
		GracefulTimeout: 5,
	})
	if rc.Binary != "/usr/bin/handler" || rc.WorkDir != "/tmp" {
		t.Errorf("unexpected runtime config: %+v", rc)
	}
	if rc.ReadyTimeout != 10*time.Second || rc.DeliveryTimeout != 30*time.Second || rc.GracefulTimeout != 5*time.Second {
		t.Errorf("timeouts = %v/%v/%v", rc.ReadyTimeout, rc.DeliveryTimeout, rc.GracefulTimeout)
	}
}

func TestScannerSettings(t *testing.T) {
	got := scannerSettings(config.ScannerDefaults{
		ForegroundScanPeriodMS:        1100,
		BackgroundScanPeriodMS:        10000,
		BackgroundBetweenScanPeriodMS: 300000,
		UseForegroundService:          true,
		NotificationTitle:             "Listening",
		NotificationContent:           "Scanning for beacons",
	})
	want := beacon.ScannerSettings{
		ForegroundScanPeriod:        1100 * time.Millisecond,
		BackgroundScanPeriod:        10 * time.Second,
		BackgroundBetweenScanPeriod: 5 * time.Minute,
		UseForegroundService:        true,
		Notification:                beacon.NotificationSettings{Title: "Listening", Content: "Scanning for beacons"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("scannerSettings() mismatch (-want +got):\n%s", diff)
	}
}

func testDefinition(id string) beacon.Definition {
	return beacon.Definition{
		ID:       id,
		UUID:     "2f234454-cf6d-4a0f-adf2-f4911ba9ffa6",
		Major:    beacon.Uint16(7),
		Triggers: []beacon.Event{beacon.EventEnter, beacon.EventExit},
		Platform: beacon.AndroidSettings{},
	}
}

func TestOpenStore_Backends(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name string
		cfg  func(*config.Config)
	}{
		{"memory", func(c *config.Config) { c.Storage.Backend = config.StorageMemory }},
		{"sqlite", func(c *config.Config) {
			c.Storage.Backend = config.StorageSQLite
			c.Database.Path = database.MemoryPath
		}},
		{"redis", func(c *config.Config) {
			c.Storage.Backend = config.StorageRedis
			c.Storage.Redis.Addr = mr.Addr()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.cfg(cfg)

			ctx := context.Background()
			store, closeStore, err := openStore(ctx, cfg)
			if err != nil {
				t.Fatalf("openStore() error = %v", err)
			}
			defer closeStore() //nolint:errcheck

			if err := store.SaveBeacon(ctx, testDefinition("lobby")); err != nil {
				t.Fatalf("SaveBeacon() error = %v", err)
			}
			ids, err := store.ListBeaconIDs(ctx)
			if err != nil {
				t.Fatalf("ListBeaconIDs() error = %v", err)
			}
			if diff := cmp.Diff([]string{"lobby"}, ids); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestOpenStore_RedisUnreachable(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = config.StorageRedis
	cfg.Storage.Redis.Addr = "127.0.0.1:1"

	if _, _, err := openStore(context.Background(), cfg); err == nil {
		t.Fatal("openStore() should fail when redis is unreachable")
	}
}

func TestBeaconsCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fences.db")
	path := writeConfig(t, "database:\n  path: "+dbPath+"\n")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	store, closeStore, err := openStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openStore() error = %v", err)
	}
	if err := store.SaveBeacon(context.Background(), testDefinition("meeting-room")); err != nil {
		t.Fatalf("SaveBeacon() error = %v", err)
	}
	if err := closeStore(); err != nil {
		t.Fatalf("close error = %v", err)
	}

	out, err := execute(t, "beacons", "--config", path)
	if err != nil {
		t.Fatalf("beacons command error = %v", err)
	}
	for _, want := range []string{"ID", "meeting-room", "2f234454-cf6d-4a0f-adf2-f4911ba9ffa6", "android"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestTokenCommand(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: memory
security:
  jwt:
    secret: "`+testSecret+`"
    access_token_ttl: 15
`)

	out, err := execute(t, "token", "-c", path, "--subject", "dashboard", "--role", "viewer")
	if err != nil {
		t.Fatalf("token command error = %v", err)
	}

	claims, err := auth.ParseToken(strings.TrimSpace(out), testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "dashboard" || claims.Role != auth.RoleViewer {
		t.Errorf("claims = %s/%s, want dashboard/viewer", claims.Subject, claims.Role)
	}
	if ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time); ttl != 15*time.Minute {
		t.Errorf("ttl = %v, want 15m", ttl)
	}
}

func TestTokenCommand_Errors(t *testing.T) {
	noSecret := writeConfig(t, "storage:\n  backend: memory\n")
	if _, err := execute(t, "token", "-c", noSecret); err == nil {
		t.Error("token should fail without a configured secret")
	}

	withSecret := writeConfig(t, "storage:\n  backend: memory\nsecurity:\n  jwt:\n    secret: \""+testSecret+"\"\n")
	if _, err := execute(t, "token", "-c", withSecret, "--role", "superuser"); err == nil {
		t.Error("token should reject an unknown role")
	}
}
