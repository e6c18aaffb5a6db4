package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/nerrad567/beacon-fence-core/internal/auth"
	"github.com/nerrad567/beacon-fence-core/internal/beacon"
	"github.com/nerrad567/beacon-fence-core/internal/infrastructure/config"
	"github.com/nerrad567/beacon-fence-core/internal/infrastructure/database"
	"github.com/nerrad567/beacon-fence-core/migrations"
)

// openStore builds the region store on the configured backend. The
// returned func releases the backend.
func openStore(ctx context.Context, cfg *config.Config) (*beacon.Store, func() error, error) {
	switch cfg.Storage.Backend {
	case config.StorageSQLite:
		db, err := database.Open(ctx, database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("opening database: %w", err)
		}
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			db.Close() //nolint:errcheck // Already failing
			return nil, nil, fmt.Errorf("running migrations: %w", err)
		}
		return beacon.NewStore(beacon.NewSQLiteBackend(db.DB)), db.Close, nil

	case config.StorageRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		backend := beacon.NewRedisBackend(client, cfg.Storage.Redis.KeyPrefix)
		if err := backend.Ping(ctx); err != nil {
			client.Close() //nolint:errcheck // Already failing
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return beacon.NewStore(backend), client.Close, nil

	case config.StorageMemory:
		return beacon.NewStore(beacon.NewMemoryBackend()), func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

func newBeaconsCmd(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "beacons",
		Short: "List persisted fences without starting the service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(resolveConfigPath(*configFlag))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			store, closeStore, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStore() //nolint:errcheck // Read-only use

			defs, err := store.ListBeacons(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing beacons: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUUID\tMAJOR\tMINOR\tTRIGGERS\tPLATFORM")
			for _, d := range defs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					d.ID, d.UUID, optional(d.Major), optional(d.Minor),
					triggerList(d.Triggers), platformName(d.Platform))
			}
			return w.Flush()
		},
	}
}

func newTokenCmd(configFlag *string) *cobra.Command {
	var (
		subject string
		role    string
		ttl     int
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API access token signed with the configured secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(resolveConfigPath(*configFlag))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.Security.JWT.Secret == "" {
				return fmt.Errorf("security.jwt.secret is not set, the API runs unauthenticated")
			}
			if ttl <= 0 {
				ttl = cfg.Security.JWT.AccessTokenTTL
			}
			token, err := auth.GenerateAccessToken(subject, auth.Role(role), cfg.Security.JWT.Secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleOperator), "viewer, operator or admin")
	cmd.Flags().IntVar(&ttl, "ttl", 0, "lifetime in minutes (default security.jwt.access_token_ttl)")
	return cmd
}

func optional(v *uint16) string {
	if v == nil {
		return "*"
	}
	return strconv.Itoa(int(*v))
}

func triggerList(events []beacon.Event) string {
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = e.String()
	}
	return strings.Join(names, ",")
}

func platformName(p beacon.PlatformSettings) string {
	if p == nil {
		return "-"
	}
	return string(p.Platform())
}
