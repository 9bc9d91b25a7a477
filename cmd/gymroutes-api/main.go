package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/gymroutes/internal/auth"
	"github.com/MarcoPoloResearchLab/gymroutes/internal/config"
	"github.com/MarcoPoloResearchLab/gymroutes/internal/database"
	"github.com/MarcoPoloResearchLab/gymroutes/internal/gym"
	"github.com/MarcoPoloResearchLab/gymroutes/internal/logging"
	"github.com/MarcoPoloResearchLab/gymroutes/internal/server"
	"github.com/MarcoPoloResearchLab/gymroutes/internal/storage"
	"github.com/MarcoPoloResearchLab/gymroutes/internal/users"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gymroutes-api",
		Short: "Climbing gym route tracker backend service",
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
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before configuration")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "PostgreSQL connection string")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Access token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.PersistentFlags().StringSlice("admin-emails", nil, "Emails granted the setter role at sign up")
	cmd.PersistentFlags().StringSlice("walls", defaults.GetStringSlice("gym.walls"), "Wall identifiers of the gym")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.admin_emails", "admin-emails")
	bindFlag(cmd, "gym.walls", "walls")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

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

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(database.Options{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	idProvider := gym.NewUUIDProvider()
	dispatcher := server.NewRealtimeDispatcher(logger)

	gymService, err := gym.NewService(gym.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
		Walls:      appConfig.Walls,
		Publisher:  dispatcher,
	})
	if err != nil {
		return err
	}

	profiles, err := users.NewService(users.ServiceConfig{
		Database:      db,
		Clock:         time.Now,
		IDProvider:    idProvider,
		Logger:        logger,
		AdminEmails:   appConfig.AdminEmails,
		AdminCacheTTL: appConfig.AdminCacheTTL,
	})
	if err != nil {
		return err
	}

	var photos storage.PhotoStore
	if appConfig.Storage.Enabled() {
		store, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          appConfig.Storage.Bucket,
			Region:          appConfig.Storage.Region,
			Endpoint:        appConfig.Storage.Endpoint,
			AccessKeyID:     appConfig.Storage.AccessKeyID,
			SecretAccessKey: appConfig.Storage.SecretAccessKey,
			PublicBaseURL:   appConfig.Storage.PublicBaseURL,
			Logger:          logger,
		})
		if err != nil {
			return err
		}
		photos = store
	} else {
		logger.Info("photo storage disabled")
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		GymService:     gymService,
		Profiles:       profiles,
		TokenManager:   tokenManager,
		Realtime:       dispatcher,
		Photos:         photos,
		IDProvider:     idProvider,
		Logger:         logger,
		AllowedOrigins: appConfig.CORSAllowedOrigins,
		MaxPhotoBytes:  appConfig.Storage.MaxPhotoBytes,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress), zap.Strings("walls", appConfig.Walls))
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
