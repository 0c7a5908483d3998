package config

import (
	"errors"
	"fmt"
	"strings"

	"stablefactory/crypto"
)

// MaxDecimals bounds configured precisions so 10^d fits in 64 bits.
const MaxDecimals = 19

// Validate checks the runtime configuration before any component starts.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil configuration")
	}
	if strings.TrimSpace(cfg.Factory.StableAsset) == "" {
		return fmt.Errorf("factory: StableAsset required")
	}
	if cfg.Factory.StableDecimals > MaxDecimals {
		return fmt.Errorf("factory: StableDecimals %d exceeds %d", cfg.Factory.StableDecimals, MaxDecimals)
	}
	for _, admin := range cfg.Admins {
		if _, err := crypto.ParseAccount(admin); err != nil {
			return fmt.Errorf("admins: %q: %w", admin, err)
		}
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within [0,1]")
	}
	if cfg.LogFile.MaxSizeMB < 0 || cfg.LogFile.MaxBackups < 0 || cfg.LogFile.MaxAgeDays < 0 {
		return fmt.Errorf("log_file: rotation limits must not be negative")
	}
	return nil
}

// AdminAddresses decodes the configured administrator addresses.
func (c *Config) AdminAddresses() ([][20]byte, error) {
	out := make([][20]byte, 0, len(c.Admins))
	for _, admin := range c.Admins {
		addr, err := crypto.ParseAccount(admin)
		if err != nil {
			return nil, fmt.Errorf("admin %q: %w", admin, err)
		}
		out = append(out, addr)
	}
	return out, nil
}
