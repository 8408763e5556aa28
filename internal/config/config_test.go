package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)

	assert.Equal(t, 0.75, cfg.Matcher.HighThreshold)
	assert.Equal(t, 0.55, cfg.Matcher.MediumThreshold)
	assert.Equal(t, 2, cfg.Walker.ProbeThreshold)
	assert.Equal(t, "page", cfg.Walker.PageParam)
	assert.Equal(t, 24*time.Hour, cfg.App.SupplierCacheMaxAge)
	assert.Equal(t, "file", cfg.Store.Backend)
	assert.False(t, cfg.Fees.VATRegistered)
}

func TestLoad_DurationsAndDefaultsFill(t *testing.T) {
	path := writeConfig(t, `{
		"app": {"supplier_cache_max_age": "6h", "save_interval": 5},
		"browser": {"page_timeout": "15s", "max_tabs": 2},
		"supplier": {"name": "shop.example", "auth_cooldown": "90s"},
		"matcher": {"listing_ttl": "1h", "high_threshold": 0.8}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 6*time.Hour, cfg.App.SupplierCacheMaxAge)
	assert.Equal(t, 5, cfg.App.SaveInterval)
	assert.Equal(t, 15*time.Second, cfg.Browser.PageTimeout)
	assert.Equal(t, 2, cfg.Browser.MaxTabs)
	assert.Equal(t, 90*time.Second, cfg.Supplier.AuthCooldown)
	assert.Equal(t, time.Hour, cfg.Matcher.ListingTTL)
	assert.Equal(t, 0.8, cfg.Matcher.HighThreshold)
	assert.Equal(t, 0.55, cfg.Matcher.MediumThreshold, "unset thresholds take defaults")
	assert.Equal(t, 0.4, cfg.Matcher.BrandWeight)
	assert.Equal(t, "rod", cfg.Browser.Driver)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `{"browser": {"page_timeout": "soon"}}`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page_timeout")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("APP_FORCE_REFRESH", "true")
	t.Setenv("APP_SAVE_INTERVAL", "3")
	t.Setenv("BROWSER_MAX_TABS", "7")
	t.Setenv("SUPPLIER_NAME", "env.example")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("LIMITS_MIN_ROI", "45.5")
	t.Setenv("APP_SUPPLIER_CACHE_MAX_AGE", "2h")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)

	assert.True(t, cfg.App.ForceRefresh)
	assert.Equal(t, 3, cfg.App.SaveInterval)
	assert.Equal(t, 7, cfg.Browser.MaxTabs)
	assert.Equal(t, "env.example", cfg.Supplier.Name)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 45.5, cfg.Limits.MinROI)
	assert.Equal(t, 2*time.Hour, cfg.App.SupplierCacheMaxAge)
}

func TestLoad_DSNFromEnvParts(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "3307")
	t.Setenv("DB_USER", "reporter")
	t.Setenv("DB_PASSWORD", "s3cret")
	t.Setenv("DB_NAME", "reports")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)

	parsed := parseMySQLDSN(cfg.Report.MySQLDSN)
	assert.Equal(t, "db.internal:3307", parsed.Addr)
	assert.Equal(t, "reporter", parsed.User)
	assert.Equal(t, "s3cret", parsed.Passwd)
	assert.Equal(t, "reports", parsed.DBName)
	assert.True(t, parsed.ParseTime)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "thresholds inverted", mutate: func(c *Config) { c.Matcher.HighThreshold = 0.5 }, want: "high_threshold"},
		{name: "unknown driver", mutate: func(c *Config) { c.Browser.Driver = "selenium" }, want: "browser.driver"},
		{name: "redis backend without addr", mutate: func(c *Config) { c.Store.Backend = "redis" }, want: "redis.addr"},
		{name: "price range inverted", mutate: func(c *Config) { c.Limits.MinPrice, c.Limits.MaxPrice = 50, 10 }, want: "min_price"},
		{name: "no tabs", mutate: func(c *Config) { c.Browser.MaxTabs = 0 }, want: "max_tabs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	require.NoError(t, getDefaultConfig().Validate())
}
