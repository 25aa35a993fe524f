package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/andy/tallybook/internal/domain"
	"github.com/andy/tallybook/internal/logger"
)

// EnvPrefix is the prefix of every environment override
const EnvPrefix = "TALLYBOOK_"

type Config struct {
	// Database settings
	Database DatabaseConfig `yaml:"database"`

	// Numbering lines and their prefixes
	Numbering NumberingConfig `yaml:"numbering"`

	// Business-rule toggles
	Policy PolicyConfig `yaml:"policy"`

	// Invoice defaults
	Invoice InvoiceConfig `yaml:"invoice"`

	// Optional Redis used to serialise resequencing across processes
	Redis RedisConfig `yaml:"redis"`

	Logging logger.LogConfig `yaml:"logging"`

	// Actor recorded in audit trails when none is given
	Actor string `yaml:"actor"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"` // Path to SQLite database
}

type NumberingConfig struct {
	TaxablePrefix  string `yaml:"taxable_prefix"`
	ExemptPrefix   string `yaml:"exempt_prefix"`
	WriteOffPrefix string `yaml:"write_off_prefix"`
	AutoProvision  bool   `yaml:"auto_provision"` // Provision missing counters on startup
}

type PolicyConfig struct {
	AllowManualPaidWithoutBalance bool `yaml:"allow_manual_paid_without_balance"`
	AllowOverpayment              bool `yaml:"allow_overpayment"`
}

type InvoiceConfig struct {
	DefaultTaxRate string `yaml:"default_tax_rate"` // Tax rate as decimal fraction ("0.19" = 19%)
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"` // Empty disables Redis
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

// Dir returns ~/.config/tallybook
func Dir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home dir unavailable
		return filepath.Join(".", ".config", "tallybook")
	}
	return filepath.Join(homeDir, ".config", "tallybook")
}

// DefaultConfigPath returns ~/.config/tallybook/config.yaml
func DefaultConfigPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	policy := domain.DefaultPolicy()

	return &Config{
		Database: DatabaseConfig{
			Path: filepath.Join(Dir(), "tallybook.db"),
		},
		Numbering: NumberingConfig{
			TaxablePrefix:  "INV",
			ExemptPrefix:   "EX",
			WriteOffPrefix: "WO",
			AutoProvision:  true,
		},
		Policy: PolicyConfig{
			AllowManualPaidWithoutBalance: policy.AllowManualPaidWithoutBalance,
			AllowOverpayment:              policy.AllowOverpayment,
		},
		Invoice: InvoiceConfig{
			DefaultTaxRate: "0",
		},
		Logging: logger.DefaultConfig(),
		Actor:   currentUser(),
	}
}

// Load loads config from the given path, or returns defaults if the file
// doesn't exist. A .env file in the working directory and TALLYBOOK_*
// variables are applied on top.
func Load(path string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDefault loads from the default config path
func LoadDefault() (*Config, error) {
	return Load(DefaultConfigPath())
}

// applyEnv overrides fields from TALLYBOOK_* variables
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) error {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = b
		}
		return nil
	}

	str("DB_PATH", &c.Database.Path)
	str("TAXABLE_PREFIX", &c.Numbering.TaxablePrefix)
	str("EXEMPT_PREFIX", &c.Numbering.ExemptPrefix)
	str("WRITE_OFF_PREFIX", &c.Numbering.WriteOffPrefix)
	str("DEFAULT_TAX_RATE", &c.Invoice.DefaultTaxRate)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("LOG_OUTPUT", &c.Logging.Output)
	str("ACTOR", &c.Actor)

	if err := boolean("AUTO_PROVISION", &c.Numbering.AutoProvision); err != nil {
		return err
	}
	if err := boolean("ALLOW_MANUAL_PAID", &c.Policy.AllowManualPaidWithoutBalance); err != nil {
		return err
	}
	if err := boolean("ALLOW_OVERPAYMENT", &c.Policy.AllowOverpayment); err != nil {
		return err
	}

	if v, ok := lookup(EnvPrefix + "REDIS_DB"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sREDIS_DB: %w", EnvPrefix, err)
		}
		c.Redis.DB = n
	}

	return nil
}

// Validate checks that the numbering lines are distinguishable
func (c *Config) Validate() error {
	seen := make(map[string]domain.Line)
	for line, prefix := range c.Prefixes() {
		prefix = strings.TrimSpace(prefix)
		if prefix == "" {
			return fmt.Errorf("numbering prefix for line %s is empty", line)
		}
		if strings.ContainsAny(prefix, " \t") {
			return fmt.Errorf("numbering prefix %q must not contain whitespace", prefix)
		}
		if other, dup := seen[prefix]; dup {
			return fmt.Errorf("numbering lines %s and %s share prefix %q", other, line, prefix)
		}
		seen[prefix] = line
	}
	return nil
}

// Prefixes maps every numbering line to its configured prefix
func (c *Config) Prefixes() map[domain.Line]string {
	return map[domain.Line]string{
		domain.LineTaxable:  c.Numbering.TaxablePrefix,
		domain.LineExempt:   c.Numbering.ExemptPrefix,
		domain.LineWriteOff: c.Numbering.WriteOffPrefix,
	}
}

// DomainPolicy converts the toggles into a domain.Policy
func (c *Config) DomainPolicy() domain.Policy {
	return domain.Policy{
		AllowManualPaidWithoutBalance: c.Policy.AllowManualPaidWithoutBalance,
		AllowOverpayment:              c.Policy.AllowOverpayment,
	}
}

// Save writes the config to the given path
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// EnsureDirectories creates the database directory
func (c *Config) EnsureDirectories() error {
	return os.MkdirAll(filepath.Dir(c.Database.Path), 0700)
}

func currentUser() string {
	for _, name := range []string{"USER", "USERNAME"} {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return "unknown"
}
