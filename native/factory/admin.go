package factory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"stablefactory/core/events"
	"stablefactory/native/bank"
	"stablefactory/native/feeds"
)

// CreateAppConfig creates the singleton configuration with the default
// rolling period.
func (e *Engine) CreateAppConfig(ctx context.Context, caller [20]byte, custodialSigner [20]byte) (*AppConfig, error) {
	if err := e.access.Authorize(caller); err != nil {
		return nil, err
	}
	var result *AppConfig
	err := e.execute(ctx, "create_app_config", nil, func(ctx context.Context, tc *txContext) ([]events.Event, error) {
		if custodialSigner == ([20]byte{}) {
			return nil, fmt.Errorf("%w: custodial signer required", ErrInvalidInput)
		}
		_, ok, err := tc.ledger.AppConfig()
		if err != nil {
			return nil, err
		}
		if ok {
			return nil, fmt.Errorf("%w: app config already exists", ErrInvalidInput)
		}
		cfg := &AppConfig{RollingPeriodHours: DefaultRollingPeriodHours, CustodialSigner: custodialSigner}
		if err := tc.ledger.PutAppConfig(cfg); err != nil {
			return nil, err
		}
		result = cfg
		return []events.Event{events.AppConfigSet{
			RollingPeriodHours: cfg.RollingPeriodHours,
			CustodialSigner:    cfg.CustodialSigner,
			Created:            true,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("app config created", "rollingPeriodHours", result.RollingPeriodHours)
	return result, nil
}

// SetAppConfig changes the rolling period length.
func (e *Engine) SetAppConfig(ctx context.Context, caller [20]byte, rollingPeriodHours uint32) (*AppConfig, error) {
	if err := e.access.Authorize(caller); err != nil {
		return nil, err
	}
	var result *AppConfig
	attrs := []attribute.KeyValue{attribute.Int64("rolling_period_hours", int64(rollingPeriodHours))}
	err := e.execute(ctx, "set_app_config", attrs, func(ctx context.Context, tc *txContext) ([]events.Event, error) {
		if rollingPeriodHours == 0 {
			return nil, fmt.Errorf("%w: rolling period must be at least one hour", ErrInvalidInput)
		}
		cfg, err := tc.appConfig()
		if err != nil {
			return nil, err
		}
		cfg.RollingPeriodHours = rollingPeriodHours
		if err := tc.ledger.PutAppConfig(cfg); err != nil {
			return nil, err
		}
		result = cfg
		return []events.Event{events.AppConfigSet{
			RollingPeriodHours: cfg.RollingPeriodHours,
			CustodialSigner:    cfg.CustodialSigner,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("app config updated", "rollingPeriodHours", result.RollingPeriodHours)
	return result, nil
}

// CreateMintChannel allocates an inert mint channel. A zero capacity reserves
// DefaultBasketCapacity legs.
func (e *Engine) CreateMintChannel(ctx context.Context, caller [20]byte, path string, capacity uint16) (*MintChannel, error) {
	if err := e.access.Authorize(caller); err != nil {
		return nil, err
	}
	var result *MintChannel
	err := e.execute(ctx, "create_mint_channel", []attribute.KeyValue{attribute.String("channel.path", path)}, func(ctx context.Context, tc *txContext) ([]events.Event, error) {
		trimmed, err := validatePath(path)
		if err != nil {
			return nil, err
		}
		if _, err := tc.appConfig(); err != nil {
			return nil, err
		}
		if capacity == 0 {
			capacity = DefaultBasketCapacity
		}
		id := DeriveChannelID(KindMint, trimmed)
		_, exists, err := tc.ledger.MintChannel(id)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("%w: mint channel %s already exists", ErrInvalidInput, id)
		}
		channel := &MintChannel{ID: id, Path: trimmed, Capacity: capacity, Basket: []BasketLeg{}}
		if err := tc.ledger.PutMintChannel(channel); err != nil {
			return nil, err
		}
		result = channel
		return []events.Event{events.MintChannelCreated{Channel: id.String(), Path: trimmed, Capacity: capacity}}, nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("mint channel created", "channel", result.ID.String(), "path", result.Path)
	return result, nil
}

// SetMintChannel replaces a mint channel's configuration. Issuance counters
// carry over.
func (e *Engine) SetMintChannel(ctx context.Context, caller [20]byte, id ChannelID, params MintChannelParams) (*MintChannel, error) {
	if err := e.access.Authorize(caller); err != nil {
		return nil, err
	}
	var result *MintChannel
	err := e.execute(ctx, "set_mint_channel", []attribute.KeyValue{attribute.String("channel.id", id.String())}, func(ctx context.Context, tc *txContext) ([]events.Event, error) {
		cfg, err := tc.appConfig()
		if err != nil {
			return nil, err
		}
		channel, ok, err := tc.ledger.MintChannel(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: unknown mint channel %s", ErrInvalidInput, id)
		}
		basket := make([]BasketLeg, len(params.Basket))
		for i, leg := range params.Basket {
			leg.Asset = strings.TrimSpace(leg.Asset)
			leg.PriceFeed = FeedID(strings.TrimSpace(string(leg.PriceFeed)))
			basket[i] = leg
		}
		params.Basket = basket
		if err := validateMintParams(params, channel.Capacity); err != nil {
			return nil, err
		}
		if err := validateCapsAgainstCounters(channel.Counters, params.Limits, cfg, tc.now); err != nil {
			return nil, err
		}
		channel.Active = params.Active
		channel.Basket = basket
		channel.FeeBps = params.FeeBps
		channel.MinRequestAmount = params.MinRequestAmount
		channel.LifetimeCap = params.LifetimeCap
		channel.PeriodCap = params.PeriodCap
		if err := tc.ledger.PutMintChannel(channel); err != nil {
			return nil, err
		}
		result = channel
		assets := make([]string, len(basket))
		weights := make([]uint64, len(basket))
		for i, leg := range basket {
			assets[i] = leg.Asset
			weights[i] = uint64(leg.WeightBps)
		}
		return []events.Event{events.MintChannelSet{
			Channel:          id.String(),
			Active:           channel.Active,
			Assets:           assets,
			WeightsBps:       weights,
			FeeBps:           channel.FeeBps,
			LifetimeCap:      channel.LifetimeCap,
			PeriodCap:        channel.PeriodCap,
			MinRequestAmount: channel.MinRequestAmount,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("mint channel configured", "channel", id.String(), "active", result.Active, "legs", len(result.Basket))
	return result, nil
}

// CreateBurnChannel allocates an inert burn channel.
func (e *Engine) CreateBurnChannel(ctx context.Context, caller [20]byte, path string) (*BurnChannel, error) {
	if err := e.access.Authorize(caller); err != nil {
		return nil, err
	}
	var result *BurnChannel
	err := e.execute(ctx, "create_burn_channel", []attribute.KeyValue{attribute.String("channel.path", path)}, func(ctx context.Context, tc *txContext) ([]events.Event, error) {
		trimmed, err := validatePath(path)
		if err != nil {
			return nil, err
		}
		if _, err := tc.appConfig(); err != nil {
			return nil, err
		}
		id := DeriveChannelID(KindBurn, trimmed)
		_, exists, err := tc.ledger.BurnChannel(id)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("%w: burn channel %s already exists", ErrInvalidInput, id)
		}
		channel := &BurnChannel{ID: id, Path: trimmed}
		if err := tc.ledger.PutBurnChannel(channel); err != nil {
			return nil, err
		}
		result = channel
		return []events.Event{events.BurnChannelCreated{Channel: id.String(), Path: trimmed}}, nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("burn channel created", "channel", result.ID.String(), "path", result.Path)
	return result, nil
}

// SetBurnChannel replaces a burn channel's configuration. Issuance counters
// carry over.
func (e *Engine) SetBurnChannel(ctx context.Context, caller [20]byte, id ChannelID, params BurnChannelParams) (*BurnChannel, error) {
	if err := e.access.Authorize(caller); err != nil {
		return nil, err
	}
	var result *BurnChannel
	err := e.execute(ctx, "set_burn_channel", []attribute.KeyValue{attribute.String("channel.id", id.String())}, func(ctx context.Context, tc *txContext) ([]events.Event, error) {
		cfg, err := tc.appConfig()
		if err != nil {
			return nil, err
		}
		channel, ok, err := tc.ledger.BurnChannel(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: unknown burn channel %s", ErrInvalidInput, id)
		}
		params.OutputAsset = strings.TrimSpace(params.OutputAsset)
		params.OutputFeed = FeedID(strings.TrimSpace(string(params.OutputFeed)))
		if err := validateBurnParams(params); err != nil {
			return nil, err
		}
		if err := validateCapsAgainstCounters(channel.Counters, params.Limits, cfg, tc.now); err != nil {
			return nil, err
		}
		channel.Active = params.Active
		channel.OutputAsset = params.OutputAsset
		channel.OutputDecimals = params.OutputDecimals
		channel.OutputFeed = params.OutputFeed
		channel.FeeBps = params.FeeBps
		channel.MinRequestAmount = params.MinRequestAmount
		channel.LifetimeCap = params.LifetimeCap
		channel.PeriodCap = params.PeriodCap
		if err := tc.ledger.PutBurnChannel(channel); err != nil {
			return nil, err
		}
		result = channel
		return []events.Event{events.BurnChannelSet{
			Channel:          id.String(),
			Active:           channel.Active,
			OutputAsset:      channel.OutputAsset,
			OutputFeed:       string(channel.OutputFeed),
			FeeBps:           channel.FeeBps,
			LifetimeCap:      channel.LifetimeCap,
			PeriodCap:        channel.PeriodCap,
			MinRequestAmount: channel.MinRequestAmount,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("burn channel configured", "channel", id.String(), "active", result.Active, "output", result.OutputAsset)
	return result, nil
}

// validateCapsAgainstCounters refuses caps that would already be exceeded by
// recorded issuance.
func validateCapsAgainstCounters(counters Counters, limits Limits, cfg *AppConfig, now time.Time) error {
	if limits.LifetimeCap < counters.LifetimeIssued {
		return fmt.Errorf("%w: lifetime cap %d below issued %d", ErrInvalidInput, limits.LifetimeCap, counters.LifetimeIssued)
	}
	snap := snapshotWindow(counters, cfg.RollingPeriodHours, now)
	if limits.PeriodCap < snap.issued {
		return fmt.Errorf("%w: period cap %d below issued %d", ErrInvalidInput, limits.PeriodCap, snap.issued)
	}
	return nil
}

// FeeWithdrawal describes a completed custody sweep.
type FeeWithdrawal struct {
	Source      string
	Destination string
	Asset       string
	Amount      uint64
}

// WithdrawFee moves amount out of a custody account via the custodial signer.
// Accumulated fee counters are reporting figures and are not decremented.
func (e *Engine) WithdrawFee(ctx context.Context, caller [20]byte, source, destination string, amount uint64) (*FeeWithdrawal, error) {
	if err := e.access.Authorize(caller); err != nil {
		return nil, err
	}
	var result *FeeWithdrawal
	attrs := []attribute.KeyValue{attribute.String("source", source), attribute.String("destination", destination)}
	err := e.execute(ctx, "withdraw_fee", attrs, func(ctx context.Context, tc *txContext) ([]events.Event, error) {
		if amount == 0 {
			return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
		}
		cfg, err := tc.appConfig()
		if err != nil {
			return nil, err
		}
		src, err := tc.bank.Account(source)
		if err != nil {
			return nil, fmt.Errorf("source account: %w", accountError(err))
		}
		if src.Owner != cfg.CustodialSigner {
			return nil, fmt.Errorf("%w: source account %s is not custodial", ErrInvalidAccount, src.ID)
		}
		if _, err := requireAccount(tc.bank, "destination", destination, src.Asset, nil); err != nil {
			return nil, err
		}
		if err := tc.bank.Transfer(cfg.CustodialSigner, src.ID, destination, amount); err != nil {
			return nil, accountError(err)
		}
		result = &FeeWithdrawal{Source: src.ID, Destination: destination, Asset: src.Asset, Amount: amount}
		return []events.Event{events.FeeWithdrawn{
			Source:      src.ID,
			Destination: destination,
			Asset:       src.Asset,
			Amount:      amount,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("custody withdrawal", "asset", result.Asset, "amount", result.Amount)
	return result, nil
}

// ReleaseAssetCustody hands asset issuance from the custodial signer to
// newAuthority. The engine cannot reclaim it afterwards.
func (e *Engine) ReleaseAssetCustody(ctx context.Context, caller [20]byte, asset string, newAuthority [20]byte) error {
	if err := e.access.Authorize(caller); err != nil {
		return err
	}
	asset = strings.TrimSpace(asset)
	err := e.execute(ctx, "release_asset_custody", []attribute.KeyValue{attribute.String("asset", asset)}, func(ctx context.Context, tc *txContext) ([]events.Event, error) {
		if asset == "" {
			return nil, fmt.Errorf("%w: asset required", ErrInvalidInput)
		}
		if newAuthority == ([20]byte{}) {
			return nil, fmt.Errorf("%w: new authority required", ErrInvalidInput)
		}
		cfg, err := tc.appConfig()
		if err != nil {
			return nil, err
		}
		if err := tc.bank.SetMintAuthority(cfg.CustodialSigner, asset, newAuthority); err != nil {
			if errors.Is(err, bank.ErrAssetNotFound) {
				return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
			}
			return nil, accountError(err)
		}
		return []events.Event{events.CustodyReleased{Asset: asset, NewAuthority: newAuthority}}, nil
	})
	if err != nil {
		return err
	}
	e.logger.Info("asset custody released", "asset", asset)
	return nil
}

// CreateAsset registers a token whose issuance authority is the custodial
// signer unless authority is supplied.
func (e *Engine) CreateAsset(ctx context.Context, caller [20]byte, id string, decimals uint16, authority [20]byte) (*bank.Asset, error) {
	if err := e.access.Authorize(caller); err != nil {
		return nil, err
	}
	var result *bank.Asset
	err := e.execute(ctx, "create_asset", []attribute.KeyValue{attribute.String("asset", id)}, func(ctx context.Context, tc *txContext) ([]events.Event, error) {
		if err := validateDecimals(decimals); err != nil {
			return nil, err
		}
		if authority == ([20]byte{}) {
			cfg, err := tc.appConfig()
			if err != nil {
				return nil, err
			}
			authority = cfg.CustodialSigner
		}
		asset, err := tc.bank.CreateAsset(id, decimals, authority)
		if err != nil {
			if errors.Is(err, bank.ErrAssetExists) {
				return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
			}
			return nil, err
		}
		result = asset
		return []events.Event{events.AssetCreated{Asset: asset.ID, Decimals: asset.Decimals, Authority: asset.MintAuthority}}, nil
	})
	return result, err
}

// CreateFeed registers a price feed.
func (e *Engine) CreateFeed(ctx context.Context, caller [20]byte, id, description string, decimals uint8) (*feeds.Feed, error) {
	if err := e.access.Authorize(caller); err != nil {
		return nil, err
	}
	var result *feeds.Feed
	err := e.execute(ctx, "create_feed", []attribute.KeyValue{attribute.String("feed.id", id)}, func(ctx context.Context, tc *txContext) ([]events.Event, error) {
		feed, err := tc.feeds.CreateFeed(id, description, decimals)
		if err != nil {
			if errors.Is(err, feeds.ErrInvalidFeed) || errors.Is(err, feeds.ErrFeedExists) {
				return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
			}
			return nil, err
		}
		result = feed
		return []events.Event{events.FeedCreated{Feed: feed.ID, Description: feed.Description, Decimals: feed.Decimals}}, nil
	})
	return result, err
}

// SubmitRound publishes a new answer for a feed, timestamped by the engine clock.
func (e *Engine) SubmitRound(ctx context.Context, caller [20]byte, id string, answer int64) (*feeds.Round, error) {
	if err := e.access.Authorize(caller); err != nil {
		return nil, err
	}
	var result *feeds.Round
	err := e.execute(ctx, "submit_round", []attribute.KeyValue{attribute.String("feed.id", id)}, func(ctx context.Context, tc *txContext) ([]events.Event, error) {
		round, err := tc.feeds.SubmitRound(id, answer, tc.now)
		if err != nil {
			if errors.Is(err, feeds.ErrFeedNotFound) || errors.Is(err, feeds.ErrStaleRound) || errors.Is(err, feeds.ErrInvalidFeed) {
				return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
			}
			return nil, err
		}
		result = round
		return []events.Event{events.FeedRound{Feed: strings.TrimSpace(id), Round: round.ID, Answer: round.Answer, UpdatedAt: round.UpdatedAt.Unix()}}, nil
	})
	return result, err
}
