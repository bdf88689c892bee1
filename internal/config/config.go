package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Database       DatabaseConfig       `yaml:"database"`
	Server         ServerConfig         `yaml:"server"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
	Marketplace    MarketplaceConfig    `yaml:"marketplace"`
	Moderation     ModerationConfig     `yaml:"moderation"`
	Auth           AuthConfig           `yaml:"auth"`
	Discord        DiscordConfig        `yaml:"discord"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	DBName       string `yaml:"dbname"`
	SSLMode      string `yaml:"sslmode"`
	Driver       string `yaml:"driver"` // "postgres" or "memory"
	MaxOpenConns int    `yaml:"max_open_conns"`
	AutoMigrate  bool   `yaml:"auto_migrate"`
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
}

// LeaderElectionConfig holds Kubernetes leader election settings.
type LeaderElectionConfig struct {
	Enabled bool `yaml:"enabled"`
	// Identity names this replica in the lease. Empty means POD_NAME, then
	// the hostname.
	Identity       string        `yaml:"identity"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// MarketplaceConfig holds the business inputs of the listing and escrow engines.
type MarketplaceConfig struct {
	CommissionRateValue  float64       `yaml:"commission_rate"`
	AuctionQuotaPerMonth int           `yaml:"auction_quota_per_month"`
	DefaultAuctionHours  int           `yaml:"default_auction_hours"`
	SweepInterval        time.Duration `yaml:"sweep_interval"`
	CardPaymentsEnabled  bool          `yaml:"card_payments_enabled"`
}

// CommissionRate returns the configured rate as a decimal fraction.
func (m MarketplaceConfig) CommissionRate() decimal.Decimal {
	return decimal.NewFromFloat(m.CommissionRateValue)
}

// DefaultAuctionDuration is used when a seller gives no auction end.
func (m MarketplaceConfig) DefaultAuctionDuration() time.Duration {
	return time.Duration(m.DefaultAuctionHours) * time.Hour
}

// ModerationConfig holds the admin allowlist and removal rules.
type ModerationConfig struct {
	AdminEmails      []string `yaml:"admin_emails"`
	MinRemovalReason int      `yaml:"min_removal_reason"`
}

// AuthConfig holds API caller identity settings.
type AuthConfig struct {
	// JWTSecret signs bearer tokens. Empty means the X-User-ID header is trusted.
	JWTSecret string `yaml:"jwt_secret"`
}

// DiscordConfig holds the moderation console bot settings.
type DiscordConfig struct {
	Enabled             bool   `yaml:"enabled"`
	Token               string `yaml:"token"`
	GuildID             string `yaml:"guild_id"`
	ModerationChannelID string `yaml:"moderation_channel_id"`
	ActingAdminID       string `yaml:"acting_admin_id"`
}

// Defaults returns a Config populated with default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:         "localhost",
			Port:         5432,
			SSLMode:      "disable",
			Driver:       "postgres",
			MaxOpenConns: 10,
			AutoMigrate:  true,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "tsuswap",
			ServiceVersion: "0.1.0",
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "tsuswap-sweeper",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
		Marketplace: MarketplaceConfig{
			CommissionRateValue:  0.05,
			AuctionQuotaPerMonth: 2,
			DefaultAuctionHours:  72,
			SweepInterval:        5 * time.Minute,
		},
		Moderation: ModerationConfig{
			MinRemovalReason: 10,
		},
	}
}

// Load reads a YAML configuration file from the given path. ${VAR}
// references are expanded from the environment, which is first overlaid
// with a .env file in the working directory when one exists.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"postgres\" or \"memory\"", c.Database.Driver)
	}

	m := c.Marketplace
	if m.CommissionRateValue < 0 || m.CommissionRateValue >= 1 {
		return fmt.Errorf("marketplace.commission_rate must be in [0, 1), got %v", m.CommissionRateValue)
	}
	if m.AuctionQuotaPerMonth < 0 {
		return fmt.Errorf("marketplace.auction_quota_per_month must not be negative")
	}
	if m.DefaultAuctionHours <= 0 {
		return fmt.Errorf("marketplace.default_auction_hours must be positive")
	}
	if m.SweepInterval <= 0 {
		return fmt.Errorf("marketplace.sweep_interval must be positive")
	}

	if c.Moderation.MinRemovalReason < 1 {
		return fmt.Errorf("moderation.min_removal_reason must be at least 1")
	}
	for i, e := range c.Moderation.AdminEmails {
		c.Moderation.AdminEmails[i] = strings.TrimSpace(e)
	}

	if c.Discord.Enabled && c.Discord.Token == "" {
		return fmt.Errorf("discord.token is required when discord is enabled")
	}
	if c.Discord.Enabled && c.Discord.ActingAdminID == "" {
		return fmt.Errorf("discord.acting_admin_id is required when discord is enabled")
	}
	return nil
}
