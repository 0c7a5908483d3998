package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"stablefactory/config"
	"stablefactory/crypto"
	"stablefactory/native/bank"
	"stablefactory/native/factory"
	"stablefactory/native/feeds"
)

// Result lists what a manifest pass created and what it found in place.
type Result struct {
	Created []string
	Skipped []string
}

func (r *Result) created(kind, id string) { r.Created = append(r.Created, kind+"/"+id) }
func (r *Result) skipped(kind, id string) { r.Skipped = append(r.Skipped, kind+"/"+id) }

// Applier replays a manifest against the engine as the operator.
type Applier struct {
	engine   *factory.Engine
	operator [20]byte
	logger   *slog.Logger
}

// New constructs an applier. The operator must be an administrator.
func New(engine *factory.Engine, operator [20]byte, logger *slog.Logger) (*Applier, error) {
	if engine == nil {
		return nil, errors.New("bootstrap: engine required")
	}
	if operator == ([20]byte{}) {
		return nil, errors.New("bootstrap: operator address required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{engine: engine, operator: operator, logger: logger.With("component", "bootstrap")}, nil
}

// EnsureAppConfig creates the singleton configuration when absent and returns
// the stored one.
func (a *Applier) EnsureAppConfig(ctx context.Context, custody [20]byte) (*factory.AppConfig, error) {
	cfg, err := a.engine.GetAppConfig(ctx)
	if err == nil {
		if cfg.CustodialSigner != custody {
			a.logger.Warn("stored custodial signer differs from keystore",
				"stored", crypto.FromRaw(cfg.CustodialSigner).String(),
				"keystore", crypto.FromRaw(custody).String())
		}
		return cfg, nil
	}
	if !errors.Is(err, factory.ErrUnavailable) {
		return nil, err
	}
	return a.engine.CreateAppConfig(ctx, a.operator, custody)
}

// EnsureStableAsset registers the engine's stable asset under the custodial
// signer when absent.
func (a *Applier) EnsureStableAsset(ctx context.Context) error {
	cfg := a.engine.Config()
	_, err := a.engine.CreateAsset(ctx, a.operator, cfg.StableAsset, cfg.StableDecimals, [20]byte{})
	if err != nil && !errors.Is(err, bank.ErrAssetExists) {
		return fmt.Errorf("bootstrap: stable asset %s: %w", cfg.StableAsset, err)
	}
	return nil
}

// Apply creates every manifest entry that does not exist yet. Existing
// entries are never modified.
func (a *Applier) Apply(ctx context.Context, manifest *config.Manifest) (*Result, error) {
	result := &Result{}
	if manifest == nil {
		return result, nil
	}
	cfg, err := a.engine.GetAppConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	if hours := manifest.RollingPeriodHours; hours != 0 && hours != cfg.RollingPeriodHours {
		if _, err := a.engine.SetAppConfig(ctx, a.operator, hours); err != nil {
			return nil, fmt.Errorf("bootstrap: rolling period: %w", err)
		}
		result.created("app_config", fmt.Sprintf("%dh", hours))
	}
	if err := a.applyAssets(ctx, manifest.Assets, cfg.CustodialSigner, result); err != nil {
		return nil, err
	}
	if err := a.applyFeeds(ctx, manifest.Feeds, result); err != nil {
		return nil, err
	}
	if err := a.applyAccounts(ctx, manifest.Accounts, cfg.CustodialSigner, result); err != nil {
		return nil, err
	}
	for _, spec := range manifest.MintChannels {
		if err := a.applyMintChannel(ctx, spec, result); err != nil {
			return nil, err
		}
	}
	for _, spec := range manifest.BurnChannels {
		if err := a.applyBurnChannel(ctx, spec, result); err != nil {
			return nil, err
		}
	}
	a.logger.Info("manifest applied", "created", len(result.Created), "skipped", len(result.Skipped))
	return result, nil
}

func resolveOwner(raw string, custody [20]byte) ([20]byte, error) {
	trimmed := strings.TrimSpace(raw)
	switch trimmed {
	case "":
		return [20]byte{}, nil
	case config.CustodyOwner:
		return custody, nil
	}
	return crypto.ParseAccount(trimmed)
}

func (a *Applier) applyAssets(ctx context.Context, assets []config.ManifestAsset, custody [20]byte, result *Result) error {
	for _, spec := range assets {
		authority, err := resolveOwner(spec.Authority, custody)
		if err != nil {
			return fmt.Errorf("bootstrap: asset %s authority: %w", spec.ID, err)
		}
		_, err = a.engine.CreateAsset(ctx, a.operator, spec.ID, spec.Decimals, authority)
		switch {
		case err == nil:
			result.created("asset", spec.ID)
		case errors.Is(err, bank.ErrAssetExists):
			result.skipped("asset", spec.ID)
		default:
			return fmt.Errorf("bootstrap: asset %s: %w", spec.ID, err)
		}
	}
	return nil
}

func (a *Applier) applyFeeds(ctx context.Context, list []config.ManifestFeed, result *Result) error {
	for _, spec := range list {
		_, err := a.engine.CreateFeed(ctx, a.operator, spec.ID, spec.Description, spec.Decimals)
		switch {
		case err == nil:
			result.created("feed", spec.ID)
		case errors.Is(err, feeds.ErrFeedExists):
			result.skipped("feed", spec.ID)
			continue
		default:
			return fmt.Errorf("bootstrap: feed %s: %w", spec.ID, err)
		}
		if spec.Answer == nil {
			continue
		}
		if _, err := a.engine.SubmitRound(ctx, a.operator, spec.ID, *spec.Answer); err != nil {
			return fmt.Errorf("bootstrap: feed %s opening round: %w", spec.ID, err)
		}
	}
	return nil
}

func (a *Applier) applyAccounts(ctx context.Context, accounts []config.ManifestAccount, custody [20]byte, result *Result) error {
	for _, spec := range accounts {
		owner, err := resolveOwner(spec.Owner, custody)
		if err != nil {
			return fmt.Errorf("bootstrap: account %s owner: %w", spec.ID, err)
		}
		_, err = a.engine.OpenAccount(ctx, owner, spec.ID, spec.Asset)
		switch {
		case err == nil:
			result.created("account", spec.ID)
		case errors.Is(err, bank.ErrAccountExists):
			result.skipped("account", spec.ID)
		default:
			return fmt.Errorf("bootstrap: account %s: %w", spec.ID, err)
		}
	}
	return nil
}

// MintParams converts a manifest channel into engine parameters.
func MintParams(spec config.MintChannelSpec) (factory.MintChannelParams, error) {
	params := factory.MintChannelParams{
		Active: spec.Active,
		FeeBps: spec.FeeBps,
		Limits: limits(spec.Limits),
	}
	if spec.UsesLegacyBasket() {
		legs, err := factory.LegacyBasket{
			Assets:     spec.Assets,
			Decimals:   spec.AssetDecimals,
			WeightsBps: spec.WeightsBps,
			PriceFeeds: spec.PriceFeeds,
		}.Legs()
		if err != nil {
			return params, err
		}
		params.Basket = legs
		return params, nil
	}
	params.Basket = make([]factory.BasketLeg, len(spec.Basket))
	for i, leg := range spec.Basket {
		params.Basket[i] = factory.BasketLeg{
			Asset:     leg.Asset,
			Decimals:  leg.Decimals,
			WeightBps: leg.WeightBps,
			PriceFeed: factory.FeedID(leg.PriceFeed),
		}
	}
	return params, nil
}

// BurnParams converts a manifest burn channel into engine parameters.
func BurnParams(spec config.BurnChannelSpec) factory.BurnChannelParams {
	return factory.BurnChannelParams{
		Active:         spec.Active,
		OutputAsset:    spec.OutputAsset,
		OutputDecimals: spec.OutputDecimals,
		OutputFeed:     factory.FeedID(spec.OutputFeed),
		FeeBps:         spec.FeeBps,
		Limits:         limits(spec.Limits),
	}
}

func limits(l config.ChannelLimits) factory.Limits {
	return factory.Limits{
		LifetimeCap:      l.LifetimeCap,
		PeriodCap:        l.PeriodCap,
		MinRequestAmount: l.MinRequestAmount,
	}
}

func (a *Applier) applyMintChannel(ctx context.Context, spec config.MintChannelSpec, result *Result) error {
	path := strings.TrimSpace(spec.Path)
	id := factory.DeriveChannelID(factory.KindMint, path)
	if _, err := a.engine.GetMintChannel(ctx, id); err == nil {
		result.skipped("mint", path)
		return nil
	} else if !errors.Is(err, factory.ErrUnavailable) {
		return fmt.Errorf("bootstrap: mint channel %s: %w", path, err)
	}
	params, err := MintParams(spec)
	if err != nil {
		return fmt.Errorf("bootstrap: mint channel %s: %w", path, err)
	}
	if _, err := a.engine.CreateMintChannel(ctx, a.operator, path, spec.Capacity); err != nil {
		return fmt.Errorf("bootstrap: create mint channel %s: %w", path, err)
	}
	if _, err := a.engine.SetMintChannel(ctx, a.operator, id, params); err != nil {
		return fmt.Errorf("bootstrap: configure mint channel %s: %w", path, err)
	}
	result.created("mint", path)
	return nil
}

func (a *Applier) applyBurnChannel(ctx context.Context, spec config.BurnChannelSpec, result *Result) error {
	path := strings.TrimSpace(spec.Path)
	id := factory.DeriveChannelID(factory.KindBurn, path)
	if _, err := a.engine.GetBurnChannel(ctx, id); err == nil {
		result.skipped("burn", path)
		return nil
	} else if !errors.Is(err, factory.ErrUnavailable) {
		return fmt.Errorf("bootstrap: burn channel %s: %w", path, err)
	}
	if _, err := a.engine.CreateBurnChannel(ctx, a.operator, path); err != nil {
		return fmt.Errorf("bootstrap: create burn channel %s: %w", path, err)
	}
	if _, err := a.engine.SetBurnChannel(ctx, a.operator, id, BurnParams(spec)); err != nil {
		return fmt.Errorf("bootstrap: configure burn channel %s: %w", path, err)
	}
	result.created("burn", path)
	return nil
}
