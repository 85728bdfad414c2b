// keygate gates a single protected payload and privileged real-time actions
// behind short-lived, revocable credentials.
//
// Usage:
//
//	keygate [serve] [--config path]
//	keygate user add <username> <role> --password <password>
//	keygate version
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nerrad567/keygate/internal/api"
	"github.com/nerrad567/keygate/internal/audit"
	"github.com/nerrad567/keygate/internal/auth"
	"github.com/nerrad567/keygate/internal/infrastructure/config"
	"github.com/nerrad567/keygate/internal/infrastructure/database"
	"github.com/nerrad567/keygate/internal/infrastructure/influxdb"
	"github.com/nerrad567/keygate/internal/infrastructure/logging"
	"github.com/nerrad567/keygate/internal/infrastructure/mqtt"
	"github.com/nerrad567/keygate/internal/presence"
	"github.com/nerrad567/keygate/internal/vault"
	"github.com/nerrad567/keygate/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path. It is only read when it exists.
const defaultConfigPath = "configs/config.yaml"

// requestBodyOverhead is added to the payload cap to size request bodies,
// leaving room for JSON framing and escaping.
const requestBodyOverhead = 1 << 20

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "keygate",
		Short:         "Gate protected content behind short-lived, revocable credentials.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadDotEnv(".env")
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), resolveConfigPath(configPath))
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $KEYGATE_CONFIG or "+defaultConfigPath+")")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP and WebSocket server (default).",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd.Context(), resolveConfigPath(configPath))
			},
		},
		newUserCmd(&configPath),
		&cobra.Command{
			Use:   "version",
			Short: "Print build information.",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "keygate %s (commit %s, built %s)\n", version, commit, date)
			},
		},
	)
	return root
}

func newUserCmd(configPath *string) *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts offline.",
	}

	var password string
	add := &cobra.Command{
		Use:     "add <username> <role>",
		Short:   "Create an account directly in the database.",
		Example: "keygate user add alice moderator --password 'correct horse battery'",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return addUser(cmd.Context(), resolveConfigPath(*configPath), cmd.OutOrStdout(), auth.NewUser{
				Username: args[0],
				Role:     args[1],
				Password: password,
			})
		},
	}
	add.Flags().StringVarP(&password, "password", "p", "", "password for the new account (min 8 characters)")
	_ = add.MarkFlagRequired("password")

	userCmd.AddCommand(add)
	return userCmd
}

// loadDotEnv loads KEY=value pairs from path into the environment. A missing
// file is not an error; variables already set win.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// resolveConfigPath picks the config file: the flag, then KEYGATE_CONFIG,
// then the default path if it exists. "" means defaults plus environment.
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv("KEYGATE_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

// openStore opens and migrates the database.
func openStore(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck,gosec // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// run starts the server and blocks until ctx is cancelled.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting keygate",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath)

	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database ready", "path", cfg.Database.Path)

	users := auth.NewUserRepository(db.DB)
	if _, err := auth.SeedOwner(ctx, users, log.Logger); err != nil {
		return fmt.Errorf("seeding owner: %w", err)
	}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, log.With("component", "mqtt"))
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT event mirror connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		)
	} else {
		log.Info("MQTT event mirror disabled")
	}

	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB telemetry disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	sessions := auth.NewSessionStore(cfg.Security.JWT.Secret, cfg.Security.SessionTTL(), nil)
	srv, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Presence:    cfg.Presence,
		Logger:      log,
		Auth:        auth.NewService(users, sessions, nil),
		Registry:    presence.NewRegistry(nil),
		Vault:       vault.New(vault.ConfigFrom(cfg.Vault), nil),
		AuditRepo:   audit.NewSQLiteRepository(db.DB),
		DB:          db,
		MQTT:        mqttClient,
		Influx:      influxClient,
		Version:     version,
		MaxBodySize: int64(cfg.Vault.MaxPayloadSize) + requestBodyOverhead,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// addUser creates an account without going through the API and records it
// in the audit trail.
func addUser(ctx context.Context, configPath string, out io.Writer, req auth.NewUser) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // CLI exit

	sessions := auth.NewSessionStore(cfg.Security.JWT.Secret, cfg.Security.SessionTTL(), nil)
	svc := auth.NewService(auth.NewUserRepository(db.DB), sessions, nil)
	u, err := svc.BootstrapUser(ctx, req)
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}

	entry := &audit.Entry{
		Action:     audit.ActionUserCreate,
		EntityType: audit.EntityUser,
		EntityID:   u.Username,
		Source:     audit.SourceCLI,
		Details:    map[string]any{"role": u.Role},
	}
	if err := audit.NewSQLiteRepository(db.DB).Create(ctx, entry); err != nil {
		return fmt.Errorf("recording audit entry: %w", err)
	}

	fmt.Fprintf(out, "created %s (%s) with id %s\n", u.Username, u.Role, u.ID)
	return nil
}

// healthCheck verifies the infrastructure connections. mqttClient and
// influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
