package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andy/tallybook/internal/domain"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "INV", cfg.Numbering.TaxablePrefix)
	assert.Equal(t, "EX", cfg.Numbering.ExemptPrefix)
	assert.Equal(t, "WO", cfg.Numbering.WriteOffPrefix)
	assert.True(t, cfg.Numbering.AutoProvision)
	assert.Equal(t, domain.DefaultPolicy(), cfg.DomainPolicy())
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
numbering:
  taxable_prefix: FAC
policy:
  allow_overpayment: false
redis:
  addr: localhost:6379
  lock_ttl: 2m
`), 0600))

	t.Setenv("TALLYBOOK_EXEMPT_PREFIX", "EXO")
	t.Setenv("TALLYBOOK_ALLOW_MANUAL_PAID", "false")
	t.Setenv("TALLYBOOK_REDIS_DB", "3")

	cfg, err := Load(path)
	require.NoError(t, err)

	prefixes := cfg.Prefixes()
	assert.Equal(t, "FAC", prefixes[domain.LineTaxable])
	assert.Equal(t, "EXO", prefixes[domain.LineExempt])
	assert.Equal(t, "WO", prefixes[domain.LineWriteOff])

	policy := cfg.DomainPolicy()
	assert.False(t, policy.AllowOverpayment)
	assert.False(t, policy.AllowManualPaidWithoutBalance)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, "2m0s", cfg.Redis.LockTTL.String())
}

func TestLoad_InvalidEnvironment(t *testing.T) {
	t.Setenv("TALLYBOOK_ALLOW_OVERPAYMENT", "sometimes")
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"empty prefix", func(c *Config) { c.Numbering.ExemptPrefix = "" }, true},
		{"shared prefix", func(c *Config) { c.Numbering.WriteOffPrefix = "INV" }, true},
		{"whitespace", func(c *Config) { c.Numbering.TaxablePrefix = "IN V" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Numbering.TaxablePrefix = "A"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "A", loaded.Numbering.TaxablePrefix)
}
