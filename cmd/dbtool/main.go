package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/PortNumber53/membermouse-kit-bridge/internal/config"
	"github.com/PortNumber53/membermouse-kit-bridge/internal/logging"
	"github.com/PortNumber53/membermouse-kit-bridge/internal/migrations"
	"github.com/PortNumber53/membermouse-kit-bridge/internal/settings"
	"github.com/PortNumber53/membermouse-kit-bridge/internal/store"
)

// openDB is swapped out in tests.
var openDB = func(ctx context.Context) (*sql.DB, error) {
	cfg, err := config.LoadDatabase()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

var showSecrets bool

var rootCmd = &cobra.Command{
	Use:           "dbtool",
	Short:         "Database maintenance for the MemberMouse to Kit bridge",
	Long:          `Apply schema migrations, repair a dirty schema and inspect stored settings. Runs migrate when no subcommand is given.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runMigrate,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

var fixCmd = &cobra.Command{
	Use:   "fix",
	Short: "Clear a dirty schema version and re-apply migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(db *sql.DB) error {
			log.Info().Msg("attempting to fix dirty database")
			if err := migrations.FixDirtyDatabase(db); err != nil {
				return fmt.Errorf("fix dirty database: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "database fixed successfully")
			return nil
		})
	},
}

var forceCmd = &cobra.Command{
	Use:   "force <version>",
	Short: "Record a schema version without running migrations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version number: %s", args[0])
		}
		return withDB(cmd, func(db *sql.DB) error {
			if err := migrations.ForceVersion(db, uint(v)); err != nil {
				return fmt.Errorf("force version: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "database version forced to %d\n", v)
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(db *sql.DB) error {
			version, dirty, err := migrations.Status(db)
			if err != nil {
				return fmt.Errorf("read migration status: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", version, dirty)
			return nil
		})
	},
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Inspect or change stored bridge settings",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Print stored settings, or a single key",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(st *store.Store) error {
			values, err := st.LoadSettings(cmd.Context())
			if err != nil {
				return err
			}
			if !showSecrets {
				values = settings.MaskSecrets(values)
			}

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				value, ok := values[args[0]]
				if !ok {
					return fmt.Errorf("setting %q is not set", args[0])
				}
				fmt.Fprintln(out, value)
				return nil
			}

			keys := make([]string, 0, len(values))
			for key := range values {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				fmt.Fprintf(out, "%s=%s\n", key, values[key])
			}
			return nil
		})
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write a single setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(st *store.Store) error {
			if err := st.SaveSettings(cmd.Context(), map[string]string{args[0]: args[1]}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s updated\n", args[0])
			return nil
		})
	},
}

func init() {
	settingsGetCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print credentials unmasked")
	settingsCmd.AddCommand(settingsGetCmd, settingsSetCmd)
	rootCmd.AddCommand(migrateCmd, fixCmd, forceCmd, statusCmd, settingsCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	return withDB(cmd, func(db *sql.DB) error {
		log.Info().Msg("applying migrations")
		if err := migrations.Up(db); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied successfully")
		return nil
	})
}

func withDB(cmd *cobra.Command, fn func(db *sql.DB) error) error {
	db, err := openDB(cmd.Context())
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func withStore(cmd *cobra.Command, fn func(st *store.Store) error) error {
	return withDB(cmd, func(db *sql.DB) error {
		st, err := store.New(db)
		if err != nil {
			return err
		}
		return fn(st)
	})
}

func main() {
	// Load environment variables
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	logging.Init(logging.Config{Format: os.Getenv("LOG_FORMAT"), Level: os.Getenv("LOG_LEVEL"), Component: "dbtool"})

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("dbtool failed")
		os.Exit(1)
	}
}
