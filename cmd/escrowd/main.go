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

	"github.com/MarkoPoloResearchLab/escrow/internal/audit"
	"github.com/MarkoPoloResearchLab/escrow/internal/httpserver"
	"github.com/MarkoPoloResearchLab/escrow/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/escrow/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/escrow/internal/tokenbank"
	"github.com/MarkoPoloResearchLab/escrow/pkg/escrow"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL      = "database-url"
	flagTokenDatabaseURL = "token-database-url"
	flagListenAddr       = "listen-addr"
	flagAdminAddress     = "admin-address"
	flagCustodyAddress   = "custody-address"
	flagSigningKey       = "token-signing-key"
	flagTokenIssuer      = "token-issuer"
	flagAllowedOrigins   = "allowed-origins"

	configKeyDatabaseURL      = "database_url"
	configKeyTokenDatabaseURL = "token_database_url"
	configKeyListenAddr       = "listen_addr"
	configKeyAdminAddress     = "admin_address"
	configKeyCustodyAddress   = "custody_address"
	configKeySigningKey       = "token_signing_key"
	configKeyTokenIssuer      = "token_issuer"
	configKeyAllowedOrigins   = "allowed_origins"

	defaultDatabaseURL      = "sqlite:///tmp/escrow.db"
	defaultTokenDatabaseURL = "sqlite:///tmp/escrow-tokens.db"
	defaultListenAddr       = ":8080"
)

type runtimeConfig struct {
	DatabaseURL      string
	TokenDatabaseURL string
	ListenAddr       string
	AdminAddress     string
	CustodyAddress   string
	SigningKey       string
	TokenIssuer      string
	AllowedOrigins   []string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "escrowd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "escrowd",
		Short:         "Hotel booking escrow HTTP server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "escrow database connection string")
	cmd.Flags().String(flagTokenDatabaseURL, defaultTokenDatabaseURL, "token bank database connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAdminAddress, "", "administrator address")
	cmd.Flags().String(flagCustodyAddress, "", "custody pool address")
	cmd.Flags().String(flagSigningKey, "", "HS256 signing key for bearer tokens")
	cmd.Flags().String(flagTokenIssuer, "", "expected issuer of bearer tokens")
	cmd.Flags().StringSlice(flagAllowedOrigins, nil, "allowed CORS origins")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	envBindings := map[string]string{
		configKeyDatabaseURL:      "DATABASE_URL",
		configKeyTokenDatabaseURL: "TOKEN_DATABASE_URL",
		configKeyListenAddr:       "LISTEN_ADDR",
		configKeyAdminAddress:     "ADMIN_ADDRESS",
		configKeyCustodyAddress:   "CUSTODY_ADDRESS",
		configKeySigningKey:       "TOKEN_SIGNING_KEY",
		configKeyTokenIssuer:      "TOKEN_ISSUER",
		configKeyAllowedOrigins:   "ALLOWED_ORIGINS",
	}
	for configKey, envName := range envBindings {
		if err := viper.BindEnv(configKey, envName); err != nil {
			return err
		}
	}

	flagBindings := map[string]string{
		configKeyDatabaseURL:      flagDatabaseURL,
		configKeyTokenDatabaseURL: flagTokenDatabaseURL,
		configKeyListenAddr:       flagListenAddr,
		configKeyAdminAddress:     flagAdminAddress,
		configKeyCustodyAddress:   flagCustodyAddress,
		configKeySigningKey:       flagSigningKey,
		configKeyTokenIssuer:      flagTokenIssuer,
		configKeyAllowedOrigins:   flagAllowedOrigins,
	}
	for configKey, flagName := range flagBindings {
		if err := viper.BindPFlag(configKey, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	cfg.TokenDatabaseURL = viper.GetString(configKeyTokenDatabaseURL)
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	cfg.AdminAddress = viper.GetString(configKeyAdminAddress)
	cfg.CustodyAddress = viper.GetString(configKeyCustodyAddress)
	cfg.SigningKey = viper.GetString(configKeySigningKey)
	cfg.TokenIssuer = viper.GetString(configKeyTokenIssuer)
	cfg.AllowedOrigins = viper.GetStringSlice(configKeyAllowedOrigins)

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	if cfg.TokenDatabaseURL == "" {
		cfg.TokenDatabaseURL = defaultTokenDatabaseURL
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.AdminAddress == "" {
		return fmt.Errorf("admin address is required")
	}
	if cfg.CustodyAddress == "" {
		return fmt.Errorf("custody address is required")
	}
	if cfg.SigningKey == "" {
		return fmt.Errorf("token signing key is required")
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	administrator, err := escrow.NewAddress(cfg.AdminAddress)
	if err != nil {
		return fmt.Errorf("admin address: %w", err)
	}
	custody, err := escrow.NewAddress(cfg.CustodyAddress)
	if err != nil {
		return fmt.Errorf("custody address: %w", err)
	}

	store, storeCleanup, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("escrow database open: %w", err)
	}
	defer func() { _ = storeCleanup() }()

	bank, bankCleanup, err := openTokenBank(ctx, cfg.TokenDatabaseURL, custody)
	if err != nil {
		return fmt.Errorf("token database open: %w", err)
	}
	defer func() { _ = bankCleanup() }()

	clock := func() int64 { return time.Now().UTC().Unix() }
	service, err := escrow.NewService(store, bank, administrator, custody, clock,
		escrow.WithOperationLogger(audit.NewLogger(logger)))
	if err != nil {
		return fmt.Errorf("escrow service init: %w", err)
	}

	return httpserver.Run(ctx, httpserver.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
		SigningKey:     []byte(cfg.SigningKey),
		TokenIssuer:    cfg.TokenIssuer,
	}, service, logger)
}

func openStore(ctx context.Context, dsn string) (escrow.Store, func() error, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, err
	}
	switch driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		if err := pgstore.Prepare(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		cleanup := func() error {
			pool.Close()
			return nil
		}
		return pgstore.New(pool), cleanup, nil
	case "sqlite":
		db, cleanup, err := openGormSQLite(ctx, sqlitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := gormstore.Migrate(db); err != nil {
			_ = cleanup()
			return nil, nil, err
		}
		return gormstore.New(db), cleanup, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
}

// openTokenBank keeps the value-transfer ledger in its own database so bank
// transactions never contend with an open booking transaction.
func openTokenBank(ctx context.Context, dsn string, custody escrow.Address) (*tokenbank.Bank, func() error, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, err
	}
	var (
		db      *gorm.DB
		cleanup func() error
	)
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			return nil, nil, err
		}
		sqlDB, dbErr := db.DB()
		if dbErr != nil {
			return nil, nil, dbErr
		}
		cleanup = sqlDB.Close
		db = db.WithContext(ctx)
	case "sqlite":
		db, cleanup, err = openGormSQLite(ctx, sqlitePath)
		if err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err := tokenbank.Migrate(db); err != nil {
		_ = cleanup()
		return nil, nil, err
	}
	bank, err := tokenbank.New(db, custody)
	if err != nil {
		_ = cleanup()
		return nil, nil, err
	}
	return bank, cleanup, nil
}

func openGormSQLite(ctx context.Context, path string) (*gorm.DB, func() error, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db.WithContext(ctx), sqlDB.Close, nil
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
			path = "escrow.db"
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
