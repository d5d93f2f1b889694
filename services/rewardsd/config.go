package rewardsd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for rewardsd.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	Environment   string          `yaml:"env"`
	DataDir       string          `yaml:"data_dir"`
	Operator      string          `yaml:"operator"`
	Admins        []string        `yaml:"admins"`
	PollInterval  Duration        `yaml:"poll_interval"`
	BootstrapPath string          `yaml:"bootstrap"`
	LedgerPath    string          `yaml:"ledger"`
	Journal       JournalConfig   `yaml:"journal"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Log           LogConfig       `yaml:"log"`
}

// JournalConfig selects the SQL database receiving the event journal.
type JournalConfig struct {
	DSN string `yaml:"dsn"`
}

// AuthConfig controls JWT verification on the admin API.
type AuthConfig struct {
	HMACSecret     string   `yaml:"hmac_secret"`
	HMACSecretFile string   `yaml:"hmac_secret_file"`
	Issuer         string   `yaml:"issuer"`
	Audience       string   `yaml:"audience"`
	AddressClaim   string   `yaml:"address_claim"`
	ClockSkew      Duration `yaml:"clock_skew"`
}

// RateLimitConfig bounds admin requests per caller.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// LogConfig configures level and optional rotating file output.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// LoadConfig reads configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Auth.normalise(); err != nil {
		return cfg, fmt.Errorf("admin auth: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data/rewardsd"
	}
	if cfg.PollInterval.Duration == 0 {
		cfg.PollInterval.Duration = time.Minute
	}
	if cfg.LedgerPath == "" {
		cfg.LedgerPath = filepath.Join(cfg.DataDir, "deployments.json")
	}
	if cfg.Journal.DSN == "" {
		cfg.Journal.DSN = filepath.Join(cfg.DataDir, "journal.db")
	}
	if cfg.Auth.AddressClaim == "" {
		cfg.Auth.AddressClaim = "addr"
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 20
	}
}

func (a *AuthConfig) normalise() error {
	if strings.TrimSpace(a.HMACSecret) != "" || strings.TrimSpace(a.HMACSecretFile) == "" {
		a.HMACSecret = strings.TrimSpace(a.HMACSecret)
		return nil
	}
	data, err := os.ReadFile(strings.TrimSpace(a.HMACSecretFile))
	if err != nil {
		return fmt.Errorf("read hmac secret: %w", err)
	}
	a.HMACSecret = strings.TrimSpace(string(data))
	return nil
}

func validateConfig(cfg Config) error {
	if !common.IsHexAddress(strings.TrimSpace(cfg.Operator)) {
		return fmt.Errorf("operator must be a hex address")
	}
	for _, admin := range cfg.Admins {
		if !common.IsHexAddress(strings.TrimSpace(admin)) {
			return fmt.Errorf("admin %q is not a hex address", admin)
		}
	}
	if cfg.PollInterval.Duration < time.Second {
		return fmt.Errorf("poll_interval must be at least 1s")
	}
	if len(cfg.Auth.HMACSecret) < 32 {
		return fmt.Errorf("auth hmac secret must be at least 32 bytes")
	}
	return nil
}

// OperatorAddress returns the parsed operator address.
func (c Config) OperatorAddress() common.Address {
	return common.HexToAddress(strings.TrimSpace(c.Operator))
}

// AdminAddresses returns the parsed admin list.
func (c Config) AdminAddresses() []common.Address {
	out := make([]common.Address, 0, len(c.Admins))
	for _, admin := range c.Admins {
		out = append(out, common.HexToAddress(strings.TrimSpace(admin)))
	}
	return out
}
