package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"stablefactory/cmd/internal/passphrase"
	"stablefactory/config"
	"stablefactory/core/events"
	"stablefactory/core/state"
	"stablefactory/crypto"
	"stablefactory/native/factory"
	"stablefactory/observability/logging"
	telemetry "stablefactory/observability/otel"
	"stablefactory/services/factoryd/audit"
	"stablefactory/services/factoryd/bootstrap"
	"stablefactory/services/factoryd/idempotency"
	"stablefactory/services/factoryd/server"
	"stablefactory/storage"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("factoryd: %v", err)
	}
}

func run() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./factoryd.toml", "path to factoryd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.Setup("factoryd", cfg.Environment,
		logging.WithLevel(logging.ParseLevel(cfg.LogLevel)),
		logging.WithFile(logging.FileConfig{
			Path:       cfg.LogFile.Path,
			MaxSizeMB:  cfg.LogFile.MaxSizeMB,
			MaxBackups: cfg.LogFile.MaxBackups,
			MaxAgeDays: cfg.LogFile.MaxAgeDays,
			Compress:   cfg.LogFile.Compress,
		}),
	)

	logger.Info("factoryd starting",
		logging.MaskField("listen", cfg.ListenAddress),
		slog.String("audit_dsn", logging.MaskDSN(cfg.AuditDSN)),
		logging.MaskField("jwt_secret_env", cfg.Auth.HMACSecretEnv),
		logging.MaskField("keystore", cfg.Custody.KeystorePath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Traces || cfg.Telemetry.Metrics {
		shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName: "factoryd",
			Environment: cfg.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
			SampleRatio: cfg.Telemetry.SampleRatio,
			Attributes:  map[string]string{"factory.stable_asset": cfg.Factory.StableAsset},
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() { _ = shutdownTelemetry(context.Background()) }()
	}

	admins, err := cfg.AdminAddresses()
	if err != nil {
		return err
	}
	if len(admins) == 0 {
		return errors.New("at least one admin address required")
	}

	var promptOpts []passphrase.Option
	if _, err := os.Stat(cfg.Custody.KeystorePath); errors.Is(err, fs.ErrNotExist) {
		promptOpts = append(promptOpts, passphrase.WithConfirmation())
	}
	secret, err := passphrase.NewSource(cfg.Custody.PassphraseEnv, promptOpts...).Get()
	if err != nil {
		return err
	}
	key, created, err := crypto.LoadOrCreateKeystore(cfg.Custody.KeystorePath, secret)
	if err != nil {
		return fmt.Errorf("custody keystore: %w", err)
	}
	custody := key.PubKey().Address()
	if created {
		logger.Info("generated custody key", "keystore", cfg.Custody.KeystorePath, "address", custody.String())
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer db.Close()

	engine, err := factory.NewEngine(state.NewManager(db), factory.NewAccessControl(admins), factory.Config{
		StableAsset:    cfg.Factory.StableAsset,
		StableDecimals: cfg.Factory.StableDecimals,
		OracleMaxAge:   cfg.Factory.OracleMaxAge(),
	}, factory.WithLogger(logger))
	if err != nil {
		return err
	}

	auditStore, err := audit.Open(cfg.AuditDSN, logger)
	if err != nil {
		return err
	}
	defer func() { _ = auditStore.Close() }()

	responses, err := idempotency.Open(cfg.IdempotencyPath, cfg.IdempotencyTTL())
	if err != nil {
		return fmt.Errorf("open idempotency store: %w", err)
	}
	defer func() { _ = responses.Close() }()
	if removed, err := responses.Prune(); err != nil {
		logger.Warn("prune idempotency store", "error", err)
	} else if removed > 0 {
		logger.Info("pruned expired idempotency entries", "removed", removed)
	}

	hub := server.NewHub(0, logger)
	reporter := server.NewReporter(engine, logger)
	engine.SetEmitter(events.MultiEmitter{auditStore, hub, reporter})

	if err := provision(ctx, engine, admins[0], custody.Raw(), cfg.ManifestPath, logger); err != nil {
		return err
	}
	if err := reporter.Refresh(ctx); err != nil {
		logger.Warn("initial channel gauges", "error", err)
	}

	srv, err := server.New(engine, server.Config{
		ListenAddress: cfg.ListenAddress,
		Auth: server.AuthConfig{
			HMACSecret: cfg.Auth.Secret(),
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew(),
		},
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		Audit:       auditStore,
		Idempotency: responses,
		Hub:         hub,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

// provision creates the app config and stable asset on first start, then
// replays the channel manifest when one is configured.
func provision(ctx context.Context, engine *factory.Engine, operator, custody [20]byte, manifestPath string, logger *slog.Logger) error {
	applier, err := bootstrap.New(engine, operator, logger)
	if err != nil {
		return err
	}
	if _, err := applier.EnsureAppConfig(ctx, custody); err != nil {
		return fmt.Errorf("app config: %w", err)
	}
	if err := applier.EnsureStableAsset(ctx); err != nil {
		return fmt.Errorf("stable asset: %w", err)
	}
	if strings.TrimSpace(manifestPath) == "" {
		return nil
	}
	if _, err := os.Stat(manifestPath); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	manifest, err := config.LoadManifest(manifestPath)
	if err != nil {
		return err
	}
	result, err := applier.Apply(ctx, manifest)
	if err != nil {
		return fmt.Errorf("apply manifest: %w", err)
	}
	logger.Info("manifest applied", "created", len(result.Created), "skipped", len(result.Skipped))
	return nil
}
