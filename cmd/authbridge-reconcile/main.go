package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/campuslink/authbridge/internal/config"
	"github.com/campuslink/authbridge/internal/credstore"
	"github.com/campuslink/authbridge/internal/database"
	"github.com/campuslink/authbridge/internal/directory"
	"github.com/campuslink/authbridge/internal/logging"
	"github.com/campuslink/authbridge/internal/reconcile"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
)

// errFailuresRecorded makes the process exit non-zero after the full summary
// has been printed.
var errFailuresRecorded = errors.New("reconciliation finished with failures")

func main() {
	rootCmd := &cobra.Command{
		Use:           "authbridge-reconcile",
		Short:         "Backfill identity provider accounts from the legacy credential tables",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errFailuresRecorded) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("provider-url", defaults.GetString("provider.url"), "Identity provider base URL")
	cmd.PersistentFlags().String("provider-service-key", "", "Identity provider service key (overrides env)")
	cmd.PersistentFlags().Int("page-size", defaults.GetInt("provider.page_size"), "Account list page size")
	cmd.PersistentFlags().Bool("dry-run", defaults.GetBool("reconcile.dry_run"), "Report what would be created without creating anything")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "provider.url", "provider-url")
	bindFlag(cmd, "provider.service_key", "provider-service-key")
	bindFlag(cmd, "provider.page_size", "page-size")
	bindFlag(cmd, "reconcile.dry_run", "dry-run")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runReconcile(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("usage: %w", err)
	}
	if strings.TrimSpace(appConfig.ProviderServiceKey) == "" {
		return fmt.Errorf("usage: provider.service_key is required")
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := credstore.NewStore(db)
	if err != nil {
		return err
	}

	directoryClient, err := directory.NewClient(directory.ClientConfig{
		BaseURL:    appConfig.ProviderURL,
		ServiceKey: appConfig.ProviderServiceKey,
		Timeout:    appConfig.ProviderTimeout,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	job, err := reconcile.NewJob(reconcile.JobConfig{
		Directory:   directoryClient,
		Credentials: store,
		PageSize:    appConfig.ListPageSize,
		DryRun:      appConfig.DryRun,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	summary, err := job.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Print(summary.Render())
	if summary.HasFailures() {
		return errFailuresRecorded
	}
	return nil
}
