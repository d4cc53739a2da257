package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/campuslink/authbridge/internal/config"
	"github.com/campuslink/authbridge/internal/credstore"
	"github.com/campuslink/authbridge/internal/database"
	"github.com/campuslink/authbridge/internal/directory"
	"github.com/campuslink/authbridge/internal/logging"
	"github.com/campuslink/authbridge/internal/provision"
	"github.com/campuslink/authbridge/internal/resolver"
	"github.com/campuslink/authbridge/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "authbridge-api",
		Short: "Login-resolver and account-provisioning service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("provider-url", defaults.GetString("provider.url"), "Identity provider base URL")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("provider-service-key", "", "Identity provider service key (overrides env)")
	cmd.PersistentFlags().String("provider-jwt-secret", "", "Identity provider JWT secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "provider.url", "provider-url")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "provider.service_key", "provider-service-key")
	bindFlag(cmd, "provider.jwt_secret", "provider-jwt-secret")
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

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
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
		AnonKey:    appConfig.ProviderAnonKey,
		ServiceKey: appConfig.ProviderServiceKey,
		Timeout:    appConfig.ProviderTimeout,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	tokenValidator, err := directory.NewTokenValidator(directory.TokenValidatorConfig{
		Secret:   []byte(appConfig.ProviderJWTSecret),
		Audience: "authenticated",
	})
	if err != nil {
		return err
	}

	resolverService, err := resolver.NewService(resolver.ServiceConfig{
		Credentials: store,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	provisionService, err := provision.NewService(provision.ServiceConfig{
		Directory:    directoryClient,
		ListPageSize: appConfig.ListPageSize,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Resolver:    resolverService,
		Provisioner: provisionService,
		Tokens:      tokenValidator,
		Credentials: store,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
