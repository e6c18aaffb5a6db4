// Beacon Fence Core - iBeacon geofencing service
//
// This is the main entry point. The serve command wires the region store,
// the scanner bridge, the monitor state machine, the event normaliser, the
// callback dispatcher and the HTTP API together and runs until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/beacon-fence-core/internal/api"
	"github.com/nerrad567/beacon-fence-core/internal/beacon"
	"github.com/nerrad567/beacon-fence-core/internal/bridges/scanner"
	"github.com/nerrad567/beacon-fence-core/internal/dispatch"
	"github.com/nerrad567/beacon-fence-core/internal/fence"
	"github.com/nerrad567/beacon-fence-core/internal/infrastructure/config"
	"github.com/nerrad567/beacon-fence-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/beacon-fence-core/internal/infrastructure/logging"
	"github.com/nerrad567/beacon-fence-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/beacon-fence-core/internal/monitor"
	"github.com/nerrad567/beacon-fence-core/internal/process"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path, used only when it exists.
const defaultConfigPath = "configs/config.yaml"

// shutdownTimeout bounds draining the dispatcher on exit.
const shutdownTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the service itself, separated from main for testability.
// It returns nil on a clean shutdown once ctx is cancelled.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting Beacon Fence Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Region store
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing region store")
		if closeErr := closeStore(); closeErr != nil {
			log.Error("error closing region store", "error", closeErr)
		}
	}()
	store.SetLogger(log.With("component", "store"))
	log.Info("region store ready", "backend", cfg.Storage.Backend)

	// MQTT transport to the scanner
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.With("component", "mqtt"))
	mqttClient.SetPublishTimeout(config.Seconds(cfg.Scanner.CommandTimeout))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// InfluxDB (optional)
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
		influxClient = nil
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	// Callback delivery
	if cfg.Callback.Binary == "" {
		log.Warn("callback.binary not set, triggered events will be dropped")
	}
	runtime := process.NewRuntime(runtimeConfig(cfg.Callback), store)
	runtime.SetLogger(log.With("component", "callback"))

	dispatcher := dispatch.New(runtime)
	dispatcher.SetLogger(log.With("component", "dispatcher"))
	// The dispatcher logs drops itself; history records them.
	if influxClient != nil {
		dispatcher.SetDropHandler(influxClient.WriteDispatchOutcome)
	}
	defer func() {
		log.Info("draining dispatcher")
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if closeErr := dispatcher.Close(drainCtx); closeErr != nil {
			log.Error("error closing dispatcher", "error", closeErr)
		}
	}()

	// Scanner bridge and event pipeline
	bridge, err := scanner.NewBridge(mqttClient)
	if err != nil {
		return fmt.Errorf("creating scanner bridge: %w", err)
	}
	bridge.SetLogger(log.With("component", "scanner"))

	hub := api.NewHub(cfg.WebSocket, log.With("component", "websocket"))
	go hub.Run(ctx)

	normalizer := fence.NewNormalizer(store, dispatcher)
	normalizer.SetLogger(log.With("component", "normalizer"))
	normalizer.AddObserver(bridge)
	normalizer.AddObserver(hub)
	if influxClient != nil {
		normalizer.AddObserver(influxClient)
	}

	machine := monitor.New(bridge, normalizer.Handle)
	machine.SetLogger(log.With("component", "monitor"))
	bridge.SetListener(machine)

	controller := fence.NewController(store, bridge)
	controller.SetLogger(log.With("component", "fence"))
	controller.SetRSSILookup(normalizer)
	controller.AddTracker(machine)
	controller.AddTracker(normalizer)
	controller.SetDefaultScannerSettings(scannerSettings(cfg.Scanner.Defaults))

	// A (re)bound scanner has lost its registrations.
	bridge.SetOnBound(func() {
		restore(ctx, log, controller)
	})

	if startErr := bridge.Start(ctx); startErr != nil {
		return fmt.Errorf("starting scanner bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping scanner bridge")
		bridge.Stop()
	}()
	log.Info("scanner bridge started")

	if restoreErr := controller.RestoreScannerSettings(ctx); restoreErr != nil {
		log.Warn("failed to restore scanner settings", "error", restoreErr)
	}

	// HTTP API
	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log.With("component", "api"),
			Fences:   controller,
			Scanner:  bridge,
			Dispatch: dispatcher,
			Hub:      hub,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		log.Info("API server started", "addr", server.Addr())
	} else {
		log.Info("API server disabled")
	}

	log.Info("Beacon Fence Core started successfully")

	<-ctx.Done()

	log.Info("shutdown signal received, stopping services")
	return nil
}

// restore pushes settings and re-registers every persisted fence.
func restore(ctx context.Context, log *logging.Logger, controller *fence.Controller) {
	if err := controller.RestoreScannerSettings(ctx); err != nil {
		log.Warn("failed to restore scanner settings", "error", err)
	}

	report := controller.ReCreateAfterReboot(ctx)
	for id, err := range report.Failed {
		log.Error("failed to restore fence", "id", id, "error", err)
	}
	log.Info("fences restored",
		"restored", len(report.Restored),
		"failed", len(report.Failed),
	)
}

// runtimeConfig maps configuration onto the callback runtime launcher.
func runtimeConfig(cfg config.CallbackConfig) process.RuntimeConfig {
	return process.RuntimeConfig{
		Binary:          cfg.Binary,
		Args:            cfg.Args,
		Env:             envList(cfg.Env),
		WorkDir:         cfg.WorkingDir,
		ReadyTimeout:    config.Seconds(cfg.ReadyTimeout),
		DeliveryTimeout: config.Seconds(cfg.DeliveryTimeout),
		GracefulTimeout: config.Seconds(cfg.GracefulTimeout),
	}
}

// envList renders env as sorted KEY=VALUE pairs.
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func scannerSettings(d config.ScannerDefaults) beacon.ScannerSettings {
	return beacon.ScannerSettings{
		ForegroundScanPeriod:        time.Duration(d.ForegroundScanPeriodMS) * time.Millisecond,
		ForegroundBetweenScanPeriod: time.Duration(d.ForegroundBetweenScanPeriodMS) * time.Millisecond,
		BackgroundScanPeriod:        time.Duration(d.BackgroundScanPeriodMS) * time.Millisecond,
		BackgroundBetweenScanPeriod: time.Duration(d.BackgroundBetweenScanPeriodMS) * time.Millisecond,
		UseForegroundService:        d.UseForegroundService,
		Notification: beacon.NotificationSettings{
			Title:   d.NotificationTitle,
			Content: d.NotificationContent,
		},
	}
}

// resolveConfigPath picks the flag, then BEACONFENCE_CONFIG, then the
// default path when present. An empty result means built-in defaults.
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv("BEACONFENCE_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

func newRootCmd() *cobra.Command {
	var configFlag string

	root := &cobra.Command{
		Use:           "beaconfence",
		Short:         "iBeacon geofencing service",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), resolveConfigPath(configFlag))
		},
	}
	root.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "path to config file (env BEACONFENCE_CONFIG)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the fence service until interrupted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd.Context(), resolveConfigPath(configFlag))
			},
		},
		newBeaconsCmd(&configFlag),
		newTokenCmd(&configFlag),
	)
	return root
}
