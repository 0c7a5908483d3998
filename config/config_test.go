package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"stablefactory/crypto"
)

var testAdmin = func() string {
	var addr [20]byte
	addr[0] = 0x42
	addr[len(addr)-1] = 0x24
	return crypto.FromRaw(addr).String()
}()

func TestLoadParsesSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "factoryd.toml")
	contents := fmt.Sprintf(`ListenAddress = "127.0.0.1:9000"
DataDir = "/var/lib/factory"
AuditDSN = "postgres://factory@db/audit"
ManifestPath = "manifest.yaml"
Environment = "prod"
LogLevel = "debug"
Admins = ["%s"]

[factory]
StableAsset = "USDX"
StableDecimals = 8
OracleMaxAgeSeconds = 600

[custody]
KeystorePath = "/secrets/custody.keystore"
PassphraseEnv = "CUSTODY_PASS"

[auth]
HMACSecret = "inline"
Issuer = "issuer"
Audience = "factoryd"
ClockSkewSeconds = 30

[rate_limit]
RequestsPerMinute = 30.5
Burst = 4

[log_file]
Path = "/var/log/factoryd.log"
MaxSizeMB = 50
Compress = true

[telemetry]
Endpoint = "otel:4318"
Traces = true
SampleRatio = 0.25
`, testAdmin)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != "127.0.0.1:9000" || cfg.AuditDSN != "postgres://factory@db/audit" {
		t.Fatalf("unexpected top-level settings: %+v", cfg)
	}
	if cfg.Factory.StableDecimals != 8 || cfg.Factory.OracleMaxAge().Minutes() != 10 {
		t.Fatalf("unexpected factory settings: %+v", cfg.Factory)
	}
	if cfg.Custody.KeystorePath != "/secrets/custody.keystore" {
		t.Fatalf("unexpected keystore path %q", cfg.Custody.KeystorePath)
	}
	if cfg.Auth.Secret() != "inline" || cfg.Auth.ClockSkew().Seconds() != 30 {
		t.Fatalf("unexpected auth settings: %+v", cfg.Auth)
	}
	if cfg.RateLimit.RequestsPerMinute != 30.5 || cfg.RateLimit.Burst != 4 {
		t.Fatalf("unexpected rate limit: %+v", cfg.RateLimit)
	}
	if !cfg.LogFile.Compress || cfg.LogFile.MaxSizeMB != 50 {
		t.Fatalf("unexpected log file: %+v", cfg.LogFile)
	}
	if cfg.Telemetry.SampleRatio != 0.25 {
		t.Fatalf("unexpected sample ratio %v", cfg.Telemetry.SampleRatio)
	}
	admins, err := cfg.AdminAddresses()
	if err != nil || len(admins) != 1 || admins[0][0] != 0x42 {
		t.Fatalf("admin addresses: %v %v", admins, err)
	}
}

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "factoryd.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Factory.StableAsset != "USDX" || cfg.Factory.StableDecimals != 6 {
		t.Fatalf("unexpected defaults: %+v", cfg.Factory)
	}
	if cfg.Custody.KeystorePath != filepath.Join(dir, "nested", "custody.keystore") {
		t.Fatalf("unexpected keystore path %q", cfg.Custody.KeystorePath)
	}
	if cfg.IdempotencyTTL() != 24*time.Hour || filepath.Base(cfg.IdempotencyPath) != "idempotency.db" {
		t.Fatalf("unexpected idempotency defaults: %q %s", cfg.IdempotencyPath, cfg.IdempotencyTTL())
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not persisted: %v", err)
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.ListenAddress != cfg.ListenAddress || reloaded.Auth.HMACSecretEnv != "FACTORY_JWT_SECRET" {
		t.Fatalf("reloaded config differs: %+v", reloaded)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"unknown key":     "Bogus = 1\n[factory]\nStableAsset = \"USDX\"\n",
		"bad admin":       "Admins = [\"sfx1qqqq\"]\n[factory]\nStableAsset = \"USDX\"\n",
		"decimals":        "[factory]\nStableAsset = \"USDX\"\nStableDecimals = 20\n",
		"missing stable":  "ListenAddress = \":1\"\n",
		"negative burst":  "[factory]\nStableAsset = \"USDX\"\n[rate_limit]\nBurst = -1\n",
		"sample too high": "[factory]\nStableAsset = \"USDX\"\n[telemetry]\nSampleRatio = 1.5\n",
	}
	for name, contents := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "factoryd.toml")
			if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestAuthSecretPrefersEnvironment(t *testing.T) {
	t.Setenv("FACTORY_TEST_SECRET", " from-env ")
	auth := AuthConfig{HMACSecret: "inline", HMACSecretEnv: "FACTORY_TEST_SECRET"}
	if got := auth.Secret(); got != "from-env" {
		t.Fatalf("secret = %q", got)
	}
	t.Setenv("FACTORY_TEST_SECRET", "")
	if got := auth.Secret(); got != "inline" {
		t.Fatalf("secret fallback = %q", got)
	}
}

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	contents := strings.Join([]string{
		"rolling_period_hours: 12",
		"assets:",
		"  - id: USDX",
		"    decimals: 6",
		"  - id: GOLD",
		"    decimals: 8",
		"    authority: " + testAdmin,
		"feeds:",
		"  - id: gold-usd",
		"    decimals: 2",
		"    answer: 200000",
		"  - id: silver-usd",
		"    decimals: 2",
		"accounts:",
		"  - id: custody-GOLD",
		"    owner: custody",
		"    asset: GOLD",
		"mint_channels:",
		"  - path: gold",
		"    active: true",
		"    fee_bps: 30",
		"    lifetime_cap: 1000000",
		"    period_cap: 1000",
		"    basket:",
		"      - asset: GOLD",
		"        decimals: 8",
		"        weight_bps: 10000",
		"        price_feed: gold-usd",
		"  - path: legacy",
		"    assets: [A, B]",
		"    decimals: [6, 6]",
		"    weights_bps: [5000, 5000]",
		"    price_feeds: [\"\", \"\"]",
		"burn_channels:",
		"  - path: gold-out",
		"    active: true",
		"    output_asset: GOLD",
		"    output_decimals: 8",
		"    output_feed: gold-usd",
		"    period_cap: 10",
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	manifest, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if manifest.RollingPeriodHours != 12 || len(manifest.Assets) != 2 || len(manifest.Feeds) != 2 {
		t.Fatalf("unexpected manifest: %+v", manifest)
	}
	if manifest.Feeds[0].Answer == nil || *manifest.Feeds[0].Answer != 200000 || manifest.Feeds[1].Answer != nil {
		t.Fatalf("unexpected feed answers: %+v", manifest.Feeds)
	}
	gold := manifest.MintChannels[0]
	if gold.UsesLegacyBasket() || len(gold.Basket) != 1 || gold.Limits.PeriodCap != 1000 {
		t.Fatalf("unexpected gold channel: %+v", gold)
	}
	legacy := manifest.MintChannels[1]
	if !legacy.UsesLegacyBasket() || len(legacy.WeightsBps) != 2 {
		t.Fatalf("unexpected legacy channel: %+v", legacy)
	}
	if manifest.BurnChannels[0].Limits.PeriodCap != 10 || manifest.Accounts[0].Owner != CustodyOwner {
		t.Fatalf("unexpected burn/account entries: %+v %+v", manifest.BurnChannels, manifest.Accounts)
	}
}

func TestLoadManifestRejectsMixedBasket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	contents := "mint_channels:\n  - path: x\n    assets: [A]\n    basket:\n      - asset: A\n        weight_bps: 10000\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if _, err := LoadManifest(path); err == nil {
		t.Fatalf("expected mixed basket rejection")
	}
	empty, err := LoadManifest("")
	if err != nil || len(empty.MintChannels) != 0 {
		t.Fatalf("empty manifest path: %+v %v", empty, err)
	}
}
