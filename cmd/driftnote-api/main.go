package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/driftnote-app/driftnote/backend/internal/auth"
	"github.com/driftnote-app/driftnote/backend/internal/broadcast"
	"github.com/driftnote-app/driftnote/backend/internal/config"
	"github.com/driftnote-app/driftnote/backend/internal/database"
	"github.com/driftnote-app/driftnote/backend/internal/docs"
	"github.com/driftnote-app/driftnote/backend/internal/logging"
	"github.com/driftnote-app/driftnote/backend/internal/markdown"
	"github.com/driftnote-app/driftnote/backend/internal/server"
	"github.com/driftnote-app/driftnote/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "driftnote-api",
		Short: "Driftnote collaborative notes backend service",
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
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Backend token TTL in minutes")
	cmd.PersistentFlags().String("identity-issuer", defaults.GetString("auth.identity_issuer"), "Trusted identity token issuer")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Int("max-versions", defaults.GetInt("versions.max_retained"), "Retention cap for document versions")
	cmd.PersistentFlags().Int("version-page-size", defaults.GetInt("versions.page_size"), "Default page size for version listings")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")
	cmd.PersistentFlags().String("identity-secret", "", "Identity provider shared secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "auth.identity_issuer", "identity-issuer")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "versions.max_retained", "max-versions")
	bindFlag(cmd, "versions.page_size", "version-page-size")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.identity_secret", "identity-secret")
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

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "driftnote-auth",
		Audience:      "driftnote-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	identityVerifier, err := auth.NewIdentityVerifier(auth.IdentityVerifierConfig{
		SharedSecret: []byte(appConfig.IdentitySecret),
		Issuer:       appConfig.IdentityIssuer,
	})
	if err != nil {
		return err
	}

	broadcaster := broadcast.NewBroadcaster()
	defer broadcaster.Close()

	versionStore, err := docs.NewVersionStore(docs.VersionStoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: docs.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	repository, err := docs.NewRepository(docs.RepositoryConfig{
		Database:    db,
		Versions:    versionStore,
		Clock:       time.Now,
		IDProvider:  docs.NewUUIDProvider(),
		Publisher:   broadcaster,
		Logger:      logger,
		MaxVersions: appConfig.MaxVersions,
	})
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Clock:    time.Now,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		IdentityVerifier: identityVerifier,
		TokenManager:     tokenManager,
		Repository:       repository,
		Versions:         versionStore,
		Users:            userService,
		Broadcaster:      broadcaster,
		Renderer:         markdown.NewRenderer(),
		Logger:           logger,
		VersionPageSize:  appConfig.VersionPageSize,
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
