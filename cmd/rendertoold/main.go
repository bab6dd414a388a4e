package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vutlhe160502tb/ToolAI-Render/internal/backend"
	"github.com/vutlhe160502tb/ToolAI-Render/internal/store/gormstore"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagListenAddr     = "listen-addr"
	flagDatabaseURL    = "database-url"
	flagAllowedOrigins = "allowed-origins"
	flagBankName       = "bank-name"
	flagBankID         = "bank-id"
	flagAccountNumber  = "account-number"
	flagAccountName    = "account-name"
	flagWebhookSecret  = "webhook-secret"
	flagGoogleClientID = "google-client-id"
	envPrefix          = "RENDERTOOL"
	defaultDatabaseURL = "sqlite:///tmp/rendertool.db"
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "rendertoold: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := backend.Config{}
	cmd := &cobra.Command{
		Use:           "rendertoold",
		Short:         "Payment and account backend for RenderTool credits",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagListenAddr, "", "HTTP listen address")
	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "database connection string (sqlite:// path or postgres:// DSN)")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagBankName, "", "receiving bank display name")
	cmd.Flags().String(flagBankID, "", "VietQR bank code")
	cmd.Flags().String(flagAccountNumber, "", "receiving account number")
	cmd.Flags().String(flagAccountName, "", "receiving account holder name")
	cmd.Flags().String(flagWebhookSecret, "", "shared secret expected in X-Webhook-Secret")
	cmd.Flags().String(flagGoogleClientID, "", "Google OAuth client id (empty skips ID-token verification)")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *backend.Config) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range []string{flagListenAddr, flagDatabaseURL, flagAllowedOrigins, flagBankName, flagBankID, flagAccountNumber, flagAccountName, flagWebhookSecret, flagGoogleClientID} {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.AllowedOrigins = backend.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.BankName = strings.TrimSpace(v.GetString(flagBankName))
	cfg.BankID = strings.TrimSpace(v.GetString(flagBankID))
	cfg.AccountNumber = strings.TrimSpace(v.GetString(flagAccountNumber))
	cfg.AccountName = strings.TrimSpace(v.GetString(flagAccountName))
	cfg.WebhookSecret = v.GetString(flagWebhookSecret)
	cfg.GoogleClientID = strings.TrimSpace(v.GetString(flagGoogleClientID))

	return cfg.Validate()
}

func runServer(ctx context.Context, cfg backend.Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	store := gormstore.New(gormDB)
	clock := func() time.Time { return time.Now().UTC() }

	paymentService, err := backend.NewPaymentService(store, cfg.Bank(), clock, logger)
	if err != nil {
		return fmt.Errorf("payment service init: %w", err)
	}

	var verifier backend.GoogleTokenVerifier
	if cfg.GoogleClientID != "" {
		idTokenVerifier, err := backend.NewIDTokenVerifier(cfg.GoogleClientID)
		if err != nil {
			return fmt.Errorf("token verifier init: %w", err)
		}
		verifier = idTokenVerifier
	} else {
		logger.Warn("google client id not set, skipping ID-token verification")
	}
	authService, err := backend.NewAuthService(store, verifier, logger)
	if err != nil {
		return fmt.Errorf("auth service init: %w", err)
	}

	return backend.NewServer(cfg, paymentService, authService, logger).Run(ctx)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), &gorm.Config{})
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "rendertool.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := db.AutoMigrate(gormstore.Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
