// Package config loads the control plane's configuration from a YAML/JSON
// file with environment-variable overrides, grounded on the teacher's
// pkg/config.New: struct-of-structs, environment overrides applied last,
// sane defaults when no file and no env var is present.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration tree for rangectl and its subcommands.
type Config struct {
	Runtime      RuntimeConfig       `json:"runtime" yaml:"runtime"`
	Database     DatabaseConfig      `json:"database" yaml:"database"`
	Registry     RegistryConfig      `json:"registry" yaml:"registry"`
	Logging      LoggingConfig       `json:"logging" yaml:"logging"`
	OnPrem       []OnPremConfig      `json:"onprem" yaml:"onprem"`
	CloudCompute []CloudComputeConfig `json:"cloud_compute" yaml:"cloud_compute"`
	AzureCompute []AzureComputeConfig `json:"azure_compute" yaml:"azure_compute"`
}

// RuntimeConfig tunes the control plane's own operational parameters: the
// knobs spec.md §6 and §9 call out by name (tick periods, grace multipliers,
// lease cooldown, VLAN pool bounds, concurrency caps, deadlines).
type RuntimeConfig struct {
	Tier1PollInterval   time.Duration `json:"tier1_poll_interval" yaml:"tier1_poll_interval" env:"RUNTIME_TIER1_POLL_INTERVAL"`
	Tier2PollInterval   time.Duration `json:"tier2_poll_interval" yaml:"tier2_poll_interval" env:"RUNTIME_TIER2_POLL_INTERVAL"`
	Tier3PollInterval   time.Duration `json:"tier3_poll_interval" yaml:"tier3_poll_interval" env:"RUNTIME_TIER3_POLL_INTERVAL"`
	MissingGraceFactor  int           `json:"missing_grace_factor" yaml:"missing_grace_factor" env:"RUNTIME_MISSING_GRACE_FACTOR"`
	LeaseCooldown       time.Duration `json:"lease_cooldown" yaml:"lease_cooldown" env:"RUNTIME_LEASE_COOLDOWN"`
	VLANRangeStart      int           `json:"vlan_range_start" yaml:"vlan_range_start" env:"RUNTIME_VLAN_RANGE_START"`
	VLANRangeEnd        int           `json:"vlan_range_end" yaml:"vlan_range_end" env:"RUNTIME_VLAN_RANGE_END"`
	CIDRBlock           string        `json:"cidr_block" yaml:"cidr_block" env:"RUNTIME_CIDR_BLOCK"`
	CIDRPrefixPerLab    int           `json:"cidr_prefix_per_lab" yaml:"cidr_prefix_per_lab" env:"RUNTIME_CIDR_PREFIX_PER_LAB"`
	MaxConcurrentClones int           `json:"max_concurrent_clones" yaml:"max_concurrent_clones" env:"RUNTIME_MAX_CONCURRENT_CLONES"`
	DeployDeadline      time.Duration `json:"deploy_deadline" yaml:"deploy_deadline" env:"RUNTIME_DEPLOY_DEADLINE"`
	MissionStepDeadline time.Duration `json:"mission_step_deadline" yaml:"mission_step_deadline" env:"RUNTIME_MISSION_STEP_DEADLINE"`
	ProbeDeadline       time.Duration `json:"probe_deadline" yaml:"probe_deadline" env:"RUNTIME_PROBE_DEADLINE"`
}

// DatabaseConfig configures the Postgres-backed Persisted Store.
type DatabaseConfig struct {
	Driver          string        `json:"driver" yaml:"driver" env:"DATABASE_DRIVER"`
	DSN             string        `json:"dsn" yaml:"dsn" env:"DATABASE_URL"`
	Host            string        `json:"host" yaml:"host" env:"DATABASE_HOST"`
	Port            int           `json:"port" yaml:"port" env:"DATABASE_PORT"`
	User            string        `json:"user" yaml:"user" env:"DATABASE_USER"`
	Password        string        `json:"password" yaml:"password" env:"DATABASE_PASSWORD"`
	Name            string        `json:"name" yaml:"name" env:"DATABASE_NAME"`
	SSLMode         string        `json:"sslmode" yaml:"sslmode" env:"DATABASE_SSLMODE"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
}

// ConnectionString renders a libpq-style DSN from discrete fields; if DSN is
// already set directly, callers should prefer that instead.
func (c DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// DSNOrDefault returns DSN if explicitly set, otherwise the discrete-field
// connection string. cmd/rangectl uses this rather than reading DSN
// directly so a config file that only sets host/user/etc. still connects.
func (c DatabaseConfig) DSNOrDefault() string {
	if c.DSN != "" {
		return c.DSN
	}
	return c.ConnectionString()
}

// RegistryConfig selects the Lab Registry's storage backend: in-memory for
// a single-process control plane, Redis for a multi-process one.
type RegistryConfig struct {
	Backend  string `json:"backend" yaml:"backend" env:"REGISTRY_BACKEND"` // memory|redis
	RedisURL string `json:"redis_url" yaml:"redis_url" env:"REGISTRY_REDIS_URL"`
}

// LoggingConfig controls the logger's level and format.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format string `json:"format" yaml:"format" env:"LOG_FORMAT"`
}

// OnPremConfig is one configured on-prem hypervisor adapter instance.
type OnPremConfig struct {
	Instance    string            `json:"instance" yaml:"instance"`
	Host        string            `json:"host" yaml:"host"`
	User        string            `json:"user" yaml:"user"`
	Token       string            `json:"token" yaml:"token"`
	VerifyTLS   bool              `json:"verify_tls" yaml:"verify_tls"`
	TemplateMap map[string]string `json:"template_map" yaml:"template_map"`
	StoragePool string            `json:"storage_pool" yaml:"storage_pool"`
	NodeName    string            `json:"node_name" yaml:"node_name"`
	MaxConcurrent int             `json:"max_concurrent" yaml:"max_concurrent"`
}

// CloudComputeConfig is one configured cloud IaaS A (Compute Engine-style)
// adapter instance.
type CloudComputeConfig struct {
	Instance             string `json:"instance" yaml:"instance"`
	Project              string `json:"project" yaml:"project"`
	Region               string `json:"region" yaml:"region"`
	Zone                 string `json:"zone" yaml:"zone"`
	CredentialsFile      string `json:"credentials_file" yaml:"credentials_file"`
	AccessKey            string `json:"access_key" yaml:"access_key"`
	SecretKey             string `json:"secret_key" yaml:"secret_key"`
	DefaultSubnet        string `json:"default_subnet" yaml:"default_subnet"`
	DefaultSecurityGroup string `json:"default_security_group" yaml:"default_security_group"`
	MaxConcurrent        int    `json:"max_concurrent" yaml:"max_concurrent"`
}

// AzureComputeConfig is one configured cloud IaaS B (Azure) adapter
// instance.
type AzureComputeConfig struct {
	Instance       string `json:"instance" yaml:"instance"`
	TenantID       string `json:"tenant_id" yaml:"tenant_id"`
	SubscriptionID string `json:"subscription_id" yaml:"subscription_id"`
	ClientID       string `json:"client_id" yaml:"client_id"`
	ClientSecret   string `json:"client_secret" yaml:"client_secret"`
	ResourceGroup  string `json:"resource_group" yaml:"resource_group"`
	Location       string `json:"location" yaml:"location"`
	VNet           string `json:"vnet" yaml:"vnet"`
	Subnet         string `json:"subnet" yaml:"subnet"`
	NSG            string `json:"nsg" yaml:"nsg"`
	MaxConcurrent  int    `json:"max_concurrent" yaml:"max_concurrent"`
}

// defaults returns a Config with every default value set, matching what
// envdecode would produce for an empty environment.
func defaults() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			Tier1PollInterval:   10 * time.Second,
			Tier2PollInterval:   60 * time.Second,
			Tier3PollInterval:   15 * time.Second,
			MissingGraceFactor:  3,
			LeaseCooldown:       3 * time.Minute,
			VLANRangeStart:      100,
			VLANRangeEnd:        255,
			CIDRBlock:           "10.200.0.0/16",
			CIDRPrefixPerLab:    24,
			MaxConcurrentClones: 8,
			DeployDeadline:      20 * time.Minute,
			MissionStepDeadline: 10 * time.Minute,
			ProbeDeadline:       30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            5432,
			Name:            "cyberrange",
			SSLMode:         "disable",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Registry: RegistryConfig{Backend: "memory"},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
}

// New returns a Config populated with defaults only.
func New() *Config {
	return defaults()
}

// LoadFile reads path (YAML) and overlays it onto defaults. A missing file
// is not an error; callers get defaults back.
func LoadFile(path string) (*Config, error) {
	cfg := defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads path as JSON and overlays it onto defaults, then applies
// the DATABASE_URL override. It exists alongside LoadFile because some
// deployments ship JSON and some ship YAML. Unlike LoadFile, it fails on a
// missing file and applies the DATABASE_URL override; neither applies the
// other environment overrides that Load decodes.
func LoadConfig(path string) (*Config, error) {
	cfg := defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	applyDatabaseURLOverride(cfg)
	return cfg, nil
}

// Load is the process entrypoint: it optionally loads a `.env` file, reads
// CONFIG_FILE (YAML) if set, then applies typed environment overrides via
// envdecode, matching the teacher's precedence (file, then env).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		loaded, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode errors when none of its tagged fields were set in the
		// environment; treat that as "no overrides" so local runs work
		// without exporting anything.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode environment overrides: %w", err)
		}
	}
	applyDatabaseURLOverride(cfg)
	return cfg, nil
}

func applyDatabaseURLOverride(cfg *Config) {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.DSN = url
	}
}

// Validate checks cross-field invariants the zero value can't express.
func (c *Config) Validate() error {
	if c.Runtime.VLANRangeStart >= c.Runtime.VLANRangeEnd {
		return fmt.Errorf("vlan_range_start must be less than vlan_range_end")
	}
	if c.Registry.Backend == "redis" && c.Registry.RedisURL == "" {
		return fmt.Errorf("registry.redis_url is required when registry.backend is redis")
	}
	return nil
}
