package app

import (
	"context"
	"fmt"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/andy/tallybook/internal/config"
	"github.com/andy/tallybook/internal/crypto"
	"github.com/andy/tallybook/internal/db"
	"github.com/andy/tallybook/internal/lock"
	"github.com/andy/tallybook/internal/logger"
	"github.com/andy/tallybook/internal/repository"
	"github.com/andy/tallybook/internal/service"
)

// lockNamespace prefixes every Redis lock key of this application
const lockNamespace = "tallybook"

// App is the dependency injection container for all application components
type App struct {
	Config *config.Config
	DB     *db.DB
	Log    zerolog.Logger

	// Repositories
	ClientRepo  repository.ClientRepository
	CounterRepo repository.CounterRepository
	InvoiceRepo repository.InvoiceRepository
	PaymentRepo repository.PaymentRepository
	ChangeRepo  repository.NumberChangeRepository
	AuditRepo   repository.AuditRepository

	// Serialises resequencing; Redis-backed when configured
	Locker lock.Locker
	redis  *redis.Client

	// Services
	NumberingService service.NumberingService
	InvoiceService   service.InvoiceService
	PaymentService   service.PaymentService
	ReportService    service.ReportService
}

// New creates a new App instance, initializing all dependencies
// It handles:
// 1. Loading config and setting up logging
// 2. Getting encryption key from keyring
// 3. Opening database and running migrations
// 4. Creating repositories, the resequence locker and services
// 5. Provisioning missing numbering counters
func New(ctx context.Context) (*App, error) {
	cfg, err := config.LoadDefault()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return NewWithConfig(ctx, cfg)
}

// NewWithConfig creates an App with a provided config (useful for testing)
func NewWithConfig(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := logger.Setup(cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	log := logger.WithComponent("app")

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	keyring := crypto.NewKeyring()

	password, err := keyring.GetKey()
	if err != nil {
		fmt.Println("Setting up database encryption for the first time...")
		password, err = promptForPassword()
		if err != nil {
			return nil, fmt.Errorf("failed to set password: %w", err)
		}

		if err := keyring.SetKey(password); err != nil {
			return nil, fmt.Errorf("failed to store encryption key: %w", err)
		}
	}

	database, err := db.Open(cfg.Database.Path, password)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := database.RunMigrations(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	a := &App{
		Config:      cfg,
		DB:          database,
		Log:         log,
		ClientRepo:  repository.NewClientRepo(database),
		CounterRepo: repository.NewCounterRepo(database),
		InvoiceRepo: repository.NewInvoiceRepo(database),
		PaymentRepo: repository.NewPaymentRepo(database),
		ChangeRepo:  repository.NewNumberChangeRepo(database),
		AuditRepo:   repository.NewAuditRepo(database),
	}

	if err := a.setupLocker(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.wireServices()

	if cfg.Numbering.AutoProvision {
		created, err := a.NumberingService.Provision(ctx, cfg.Actor)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to provision numbering counters: %w", err)
		}
		if len(created) > 0 {
			log.Info().Int("lines", len(created)).Msg("numbering counters provisioned")
		}
	}

	return a, nil
}

func (a *App) setupLocker(ctx context.Context) error {
	rc := a.Config.Redis
	if rc.Addr == "" {
		a.Locker = lock.NewLocal()
		return nil
	}

	locker, client, err := lock.Connect(ctx, rc.Addr, rc.Password, rc.DB, lockNamespace, rc.LockTTL)
	if err != nil {
		return err
	}
	a.Locker = locker
	a.redis = client
	a.Log.Debug().Str("addr", rc.Addr).Msg("using redis resequence lock")
	return nil
}

func (a *App) wireServices() {
	prefixes := a.Config.Prefixes()
	policy := a.Config.DomainPolicy()

	a.NumberingService = service.NewNumberingService(
		a.CounterRepo, a.InvoiceRepo, a.AuditRepo, a.Locker, prefixes,
		logger.WithComponent("numbering"),
	)
	a.InvoiceService = service.NewInvoiceService(
		a.InvoiceRepo, a.ClientRepo, a.PaymentRepo, a.ChangeRepo, a.AuditRepo,
		policy, prefixes, logger.WithComponent("invoices"),
	)
	a.PaymentService = service.NewPaymentService(a.PaymentRepo, policy, logger.WithComponent("payments"))
	a.ReportService = service.NewReportService(a.InvoiceRepo, a.ChangeRepo, prefixes)
}

// Reset wipes the database, audit trails included, and provisions fresh
// counters
func (a *App) Reset(ctx context.Context) error {
	if err := a.DB.Reset(); err != nil {
		return err
	}
	a.Log.Warn().Str("actor", a.Config.Actor).Msg("database reset")

	_, err := a.NumberingService.Provision(ctx, a.Config.Actor)
	return err
}

// Close cleanly shuts down the application
func (a *App) Close() error {
	if a.redis != nil {
		a.redis.Close()
	}
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}

// promptForPassword prompts user for a new database password (first run)
// This should be called when keyring has no stored key
func promptForPassword() (string, error) {
	fmt.Println()
	fmt.Println("Your invoice book will be encrypted with a password.")
	fmt.Println("This password will be stored securely in your system keyring.")
	fmt.Printf("Set %s to supply it without a keyring.\n", crypto.EnvKey)
	fmt.Println()
	fmt.Print("Enter a password for database encryption: ")

	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	if len(password) == 0 {
		return "", fmt.Errorf("password cannot be empty")
	}

	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}

	if string(password) != string(confirm) {
		return "", fmt.Errorf("passwords do not match")
	}

	fmt.Println()
	fmt.Println("✓ Database encryption configured successfully")
	fmt.Println()

	return string(password), nil
}

// SaveConfig saves the current configuration to disk
func (a *App) SaveConfig() error {
	return a.Config.Save(config.DefaultConfigPath())
}
