package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"attendance/internal/config"
	"attendance/internal/repository/sqlstore"
)

var rootCmd = &cobra.Command{
	Use:   "attendancectl",
	Short: "Administer the attendance database",
	Long: `attendancectl manages the attendance database used by the server:
schema migration, enrolled users and attendance reports.

Connection settings come from the same environment variables and .env file
as the server (DB_DRIVER, DB_DSN).`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().String("driver", "", "Database driver (sqlite3, mysql, postgres); overrides DB_DRIVER")
	rootCmd.PersistentFlags().String("dsn", "", "Database DSN; overrides DB_DSN")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// openDB connects using the server configuration and migrates the schema so
// every command works against a fresh database.
func openDB(ctx context.Context, cmd *cobra.Command) (*sqlstore.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	driver, dsn := cfg.DBDriver, cfg.DBDSN
	if v := mustGetString(cmd, "driver"); v != "" {
		driver = v
	}
	if v := mustGetString(cmd, "dsn"); v != "" {
		dsn = v
	}

	db, err := sqlstore.New(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// mustGetString gets a string flag value or panics if the flag doesn't exist.
func mustGetString(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// mustGetBool gets a bool flag value or panics if the flag doesn't exist.
func mustGetBool(cmd *cobra.Command, name string) bool {
	val, err := cmd.Flags().GetBool(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}
