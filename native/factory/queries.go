package factory

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"stablefactory/core/events"
	"stablefactory/native/bank"
	"stablefactory/native/feeds"
)

// MintChannelStatus pairs a channel with the issuance still available now.
type MintChannelStatus struct {
	*MintChannel
	Remaining uint64
}

// BurnChannelStatus pairs a channel with the redemption still available now.
type BurnChannelStatus struct {
	*BurnChannel
	Remaining uint64
}

// GetAppConfig returns the singleton configuration.
func (e *Engine) GetAppConfig(ctx context.Context) (*AppConfig, error) {
	var out *AppConfig
	err := e.view(ctx, "get_app_config", func(ctx context.Context, tc *txContext) error {
		cfg, err := tc.appConfig()
		out = cfg
		return err
	})
	return out, err
}

// rollingHours returns the configured period, or zero before the app config
// exists.
func (tc *txContext) rollingHours() (uint32, error) {
	cfg, ok, err := tc.ledger.AppConfig()
	if err != nil {
		return 0, fmt.Errorf("load app config: %w", err)
	}
	if !ok {
		return 0, nil
	}
	return cfg.RollingPeriodHours, nil
}

// GetMintChannel returns a mint channel and its remaining headroom.
func (e *Engine) GetMintChannel(ctx context.Context, id ChannelID) (*MintChannelStatus, error) {
	var out *MintChannelStatus
	err := e.view(ctx, "get_mint_channel", func(ctx context.Context, tc *txContext) error {
		channel, ok, err := tc.ledger.MintChannel(id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: unknown mint channel %s", ErrUnavailable, id)
		}
		hours, err := tc.rollingHours()
		if err != nil {
			return err
		}
		out = &MintChannelStatus{MintChannel: channel, Remaining: windowRemaining(channel.Counters, hours, tc.now)}
		return nil
	})
	return out, err
}

// GetBurnChannel returns a burn channel and its remaining headroom.
func (e *Engine) GetBurnChannel(ctx context.Context, id ChannelID) (*BurnChannelStatus, error) {
	var out *BurnChannelStatus
	err := e.view(ctx, "get_burn_channel", func(ctx context.Context, tc *txContext) error {
		channel, ok, err := tc.ledger.BurnChannel(id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: unknown burn channel %s", ErrUnavailable, id)
		}
		hours, err := tc.rollingHours()
		if err != nil {
			return err
		}
		out = &BurnChannelStatus{BurnChannel: channel, Remaining: windowRemaining(channel.Counters, hours, tc.now)}
		return nil
	})
	return out, err
}

// ListMintChannels returns every mint channel in creation order.
func (e *Engine) ListMintChannels(ctx context.Context) ([]*MintChannelStatus, error) {
	var out []*MintChannelStatus
	err := e.view(ctx, "list_mint_channels", func(ctx context.Context, tc *txContext) error {
		channels, err := tc.ledger.MintChannels()
		if err != nil {
			return err
		}
		hours, err := tc.rollingHours()
		if err != nil {
			return err
		}
		out = make([]*MintChannelStatus, len(channels))
		for i, channel := range channels {
			out[i] = &MintChannelStatus{MintChannel: channel, Remaining: windowRemaining(channel.Counters, hours, tc.now)}
		}
		return nil
	})
	return out, err
}

// ListBurnChannels returns every burn channel in creation order.
func (e *Engine) ListBurnChannels(ctx context.Context) ([]*BurnChannelStatus, error) {
	var out []*BurnChannelStatus
	err := e.view(ctx, "list_burn_channels", func(ctx context.Context, tc *txContext) error {
		channels, err := tc.ledger.BurnChannels()
		if err != nil {
			return err
		}
		hours, err := tc.rollingHours()
		if err != nil {
			return err
		}
		out = make([]*BurnChannelStatus, len(channels))
		for i, channel := range channels {
			out[i] = &BurnChannelStatus{BurnChannel: channel, Remaining: windowRemaining(channel.Counters, hours, tc.now)}
		}
		return nil
	})
	return out, err
}

// OpenAccount creates an empty account owned by owner.
func (e *Engine) OpenAccount(ctx context.Context, owner [20]byte, id, asset string) (*bank.Account, error) {
	if owner == ([20]byte{}) {
		return nil, fmt.Errorf("%w: owner required", ErrInvalidInput)
	}
	var out *bank.Account
	err := e.execute(ctx, "open_account", []attribute.KeyValue{attribute.String("asset", asset)}, func(ctx context.Context, tc *txContext) ([]events.Event, error) {
		account, err := tc.bank.OpenAccount(id, owner, asset)
		if err != nil {
			if errors.Is(err, bank.ErrAssetNotFound) || errors.Is(err, bank.ErrAccountExists) {
				return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
			}
			return nil, err
		}
		out = account
		return []events.Event{events.AccountOpened{Account: account.ID, Owner: account.Owner, Asset: account.Asset}}, nil
	})
	return out, err
}

// Account loads a bank account.
func (e *Engine) Account(ctx context.Context, id string) (*bank.Account, error) {
	var out *bank.Account
	err := e.view(ctx, "get_account", func(ctx context.Context, tc *txContext) error {
		account, err := tc.bank.Account(id)
		if err != nil {
			return accountError(err)
		}
		out = account
		return nil
	})
	return out, err
}

// AccountsByOwner lists the accounts held by owner.
func (e *Engine) AccountsByOwner(ctx context.Context, owner [20]byte) ([]*bank.Account, error) {
	var out []*bank.Account
	err := e.view(ctx, "list_accounts", func(ctx context.Context, tc *txContext) error {
		accounts, err := tc.bank.AccountsByOwner(owner)
		out = accounts
		return err
	})
	return out, err
}

// ListFeeds returns every registered feed with its latest round.
func (e *Engine) ListFeeds(ctx context.Context) ([]*feeds.Feed, error) {
	var out []*feeds.Feed
	err := e.view(ctx, "list_feeds", func(ctx context.Context, tc *txContext) error {
		list, err := tc.feeds.List()
		out = list
		return err
	})
	return out, err
}
