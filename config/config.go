// Package config loads the citycache yaml configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/rorycl/citycache/internal/partition"
)

// WebhookEnv overrides bitrix.webhook_url when set in the environment or a .env
// file.
const WebhookEnv = "BITRIX_WEBHOOK_URL"

// appName names the default data directory.
const appName = "citycache"

// Config represents the entire application configuration.
type Config struct {
	ListenAddress   string            `yaml:"listen_address"`
	DevelopmentMode bool              `yaml:"development_mode"`
	SQLDir          string            `yaml:"sql_dir"`
	LogLevel        string            `yaml:"log_level"`
	SyncTimeoutStr  string            `yaml:"sync_timeout"`
	Partitions      []PartitionConfig `yaml:"partitions"`
	Bitrix          BitrixConfig      `yaml:"bitrix"`
	SyncTimeout     time.Duration     // Parsed from SyncTimeoutStr
}

// PartitionConfig names a city and the path of its database.
type PartitionConfig struct {
	City         string `yaml:"city"`
	DatabasePath string `yaml:"database_path"`
}

// BitrixConfig holds the CRM settings. Either webhook_url or the OAuth application
// settings (portal_url, client_id, client_secret, token_file_path) are required.
type BitrixConfig struct {
	WebhookURL             string          `yaml:"webhook_url"`
	PortalURL              string          `yaml:"portal_url"`
	ClientID               string          `yaml:"client_id"`
	ClientSecret           string          `yaml:"client_secret"`
	TokenFilePath          string          `yaml:"token_file_path"`
	CityFieldTitle         string          `yaml:"city_field_title"`
	DescriptionPlaceholder string          `yaml:"description_placeholder"`
	ExcludedDealStage      string          `yaml:"excluded_deal_stage"`
	DealFields             DealFieldConfig `yaml:"deal_fields"`
}

// DealFieldConfig holds the labels of the deal user fields.
type DealFieldConfig struct {
	WeddingDate string `yaml:"wedding_date"`
	Prepayment  string `yaml:"prepayment"`
	Postpayment string `yaml:"postpayment"`
}

// UseOAuth reports whether the CRM is reached as an OAuth application rather than
// through a webhook.
func (b BitrixConfig) UseOAuth() bool {
	return b.WebhookURL == ""
}

// Load loads and validates the configuration from the given file path. A .env file
// beside the configuration file, or in the working directory, is loaded first.
func Load(filePath string) (*Config, error) {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", filePath)
	}

	configFile, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	loadEnvFiles(filepath.Dir(filePath))

	var cfg Config
	err = yaml.Unmarshal(configFile, &cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to parse YAML config file: %w", err)
	}

	if err := validateAndPrepare(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadEnvFiles loads .env files without overriding variables already set.
func loadEnvFiles(dir string) {
	for _, envFile := range []string{filepath.Join(dir, ".env"), ".env"} {
		_ = godotenv.Load(envFile)
	}
}

// DefaultDatabasePath returns the database path of a city under the XDG data
// directory.
func DefaultDatabasePath(city string) string {
	return filepath.Join(xdg.DataHome, appName, partition.Normalize(city), "database.db")
}

// validateAndPrepare checks for required fields and sets up derived values.
func validateAndPrepare(c *Config) error {
	// General
	if c.ListenAddress == "" {
		c.ListenAddress = "127.0.0.1:4800"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.SyncTimeout = 20 * time.Minute
	if c.SyncTimeoutStr != "" {
		d, err := time.ParseDuration(c.SyncTimeoutStr)
		if err != nil {
			return fmt.Errorf("invalid sync_timeout: %w", err)
		}
		if d <= 0 {
			return errors.New("sync_timeout must be positive")
		}
		c.SyncTimeout = d
	}

	// Partitions
	if len(c.Partitions) < 1 {
		return errors.New("at least one partition should be supplied")
	}
	seen := map[string]bool{}
	for i := range c.Partitions {
		p := &c.Partitions[i]
		p.City = strings.TrimSpace(p.City)
		if p.City == "" {
			return fmt.Errorf("partitions[%d].city is missing", i)
		}
		key := partition.Normalize(p.City)
		if seen[key] {
			return fmt.Errorf("partition %q is declared more than once", p.City)
		}
		seen[key] = true
		if p.DatabasePath == "" {
			p.DatabasePath = DefaultDatabasePath(p.City)
		}
	}

	// Bitrix
	bc := &c.Bitrix
	if v := os.Getenv(WebhookEnv); v != "" {
		bc.WebhookURL = v
	}
	if bc.UseOAuth() {
		if bc.PortalURL == "" {
			return errors.New("bitrix.webhook_url or bitrix.portal_url is missing")
		}
		if bc.ClientID == "" {
			return errors.New("bitrix.client_id is missing")
		}
		if bc.ClientSecret == "" {
			return errors.New("bitrix.client_secret is missing")
		}
		if bc.TokenFilePath == "" {
			bc.TokenFilePath = filepath.Join(xdg.DataHome, appName, "bitrix_token.json")
		}
	}
	for name, raw := range map[string]string{"webhook_url": bc.WebhookURL, "portal_url": bc.PortalURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("bitrix.%s %q is not an absolute url", name, raw)
		}
	}
	if bc.CityFieldTitle == "" {
		bc.CityFieldTitle = "город"
	}
	if bc.DescriptionPlaceholder == "" {
		bc.DescriptionPlaceholder = "Тут будет описание"
	}
	if bc.ExcludedDealStage == "" {
		bc.ExcludedDealStage = "PREPAYMENT_INVOICE"
	}
	if bc.DealFields == (DealFieldConfig{}) {
		bc.DealFields = DealFieldConfig{
			WeddingDate: "Дата свадьбы",
			Prepayment:  "Сумма предоплаты",
			Postpayment: "Постоплата",
		}
	}

	return nil
}
