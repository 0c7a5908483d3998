package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the factoryd runtime configuration.
type Config struct {
	ListenAddress       string   `toml:"ListenAddress"`
	DataDir             string   `toml:"DataDir"`
	AuditDSN            string   `toml:"AuditDSN"`
	IdempotencyPath     string   `toml:"IdempotencyPath"`
	IdempotencyTTLHours uint32   `toml:"IdempotencyTTLHours"`
	ManifestPath        string   `toml:"ManifestPath"`
	Environment         string   `toml:"Environment"`
	LogLevel            string   `toml:"LogLevel"`
	Admins              []string `toml:"Admins"`

	Factory   FactoryConfig   `toml:"factory"`
	Custody   CustodyConfig   `toml:"custody"`
	Auth      AuthConfig      `toml:"auth"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	LogFile   LogFileConfig   `toml:"log_file"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// FactoryConfig tunes the conversion engine.
type FactoryConfig struct {
	StableAsset         string `toml:"StableAsset"`
	StableDecimals      uint16 `toml:"StableDecimals"`
	OracleMaxAgeSeconds uint64 `toml:"OracleMaxAgeSeconds"`
}

// IdempotencyTTL returns how long conversion responses are replayed.
func (c *Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLHours) * time.Hour
}

// OracleMaxAge returns the staleness bound as a duration. Zero disables it.
func (f FactoryConfig) OracleMaxAge() time.Duration {
	return time.Duration(f.OracleMaxAgeSeconds) * time.Second
}

// CustodyConfig locates the custodial signer key.
type CustodyConfig struct {
	KeystorePath  string `toml:"KeystorePath"`
	PassphraseEnv string `toml:"PassphraseEnv"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	HMACSecret       string `toml:"HMACSecret"`
	HMACSecretEnv    string `toml:"HMACSecretEnv"`
	Issuer           string `toml:"Issuer"`
	Audience         string `toml:"Audience"`
	ClockSkewSeconds uint32 `toml:"ClockSkewSeconds"`
}

// Secret resolves the HMAC secret, preferring the environment variable.
func (a AuthConfig) Secret() string {
	if env := strings.TrimSpace(a.HMACSecretEnv); env != "" {
		if value := strings.TrimSpace(os.Getenv(env)); value != "" {
			return value
		}
	}
	return strings.TrimSpace(a.HMACSecret)
}

// ClockSkew returns the tolerated token clock drift.
func (a AuthConfig) ClockSkew() time.Duration {
	return time.Duration(a.ClockSkewSeconds) * time.Second
}

// RateLimitConfig bounds request rates per caller.
type RateLimitConfig struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// LogFileConfig enables rotating file output in addition to stdout.
type LogFileConfig struct {
	Path       string `toml:"Path"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
	Compress   bool   `toml:"Compress"`
}

// TelemetryConfig wires the OTLP exporters.
type TelemetryConfig struct {
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Headers     string  `toml:"Headers"`
	Traces      bool    `toml:"Traces"`
	Metrics     bool    `toml:"Metrics"`
	SampleRatio float64 `toml:"SampleRatio"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0].String())
	}

	applyDefaults(path, cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(path string, cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":7080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./factory-data"
	}
	if strings.TrimSpace(cfg.AuditDSN) == "" {
		cfg.AuditDSN = filepath.Join(cfg.DataDir, "audit.sqlite")
	}
	if strings.TrimSpace(cfg.IdempotencyPath) == "" {
		cfg.IdempotencyPath = filepath.Join(cfg.DataDir, "idempotency.db")
	}
	if cfg.IdempotencyTTLHours == 0 {
		cfg.IdempotencyTTLHours = 24
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Admins == nil {
		cfg.Admins = []string{}
	}
	if cfg.Factory.StableDecimals == 0 {
		cfg.Factory.StableDecimals = 6
	}
	if strings.TrimSpace(cfg.Custody.KeystorePath) == "" {
		cfg.Custody.KeystorePath = defaultKeystorePath(path)
	}
	if cfg.Auth.ClockSkewSeconds == 0 {
		cfg.Auth.ClockSkewSeconds = 120
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.Telemetry.SampleRatio == 0 {
		cfg.Telemetry.SampleRatio = 1
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress: ":7080",
		DataDir:       "./factory-data",
		Environment:   "dev",
		Factory: FactoryConfig{
			StableAsset:         "USDX",
			StableDecimals:      6,
			OracleMaxAgeSeconds: 3600,
		},
		Custody: CustodyConfig{PassphraseEnv: "FACTORY_CUSTODY_PASSPHRASE"},
		Auth: AuthConfig{
			HMACSecretEnv: "FACTORY_JWT_SECRET",
			Issuer:        "stablefactory",
		},
	}
	applyDefaults(path, cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "custody.keystore")
}
