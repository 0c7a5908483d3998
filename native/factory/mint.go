package factory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"stablefactory/core/events"
)

// legAmount converts the stable-denominated share of amount owed by leg into
// the leg asset's base units.
func (e *Engine) legAmount(amount uint64, leg BasketLeg, price Price) (uint64, error) {
	value, err := MultiplyFraction(amount, uint64(leg.WeightBps), BasisPoints)
	if err != nil {
		return 0, err
	}
	converted, err := MultiplyFraction(value, price.Precision, price.Value)
	if err != nil {
		return 0, err
	}
	legScale, err := Pow10(leg.Decimals)
	if err != nil {
		return 0, err
	}
	stableScale, err := Pow10(e.cfg.StableDecimals)
	if err != nil {
		return 0, err
	}
	out, err := MultiplyFraction(converted, legScale, stableScale)
	if err != nil {
		return 0, err
	}
	if out == 0 && leg.WeightBps > 0 {
		return 0, fmt.Errorf("%w: amount %d too small for leg %s", ErrInvalidInput, amount, leg.Asset)
	}
	return out, nil
}

func splitFee(amount uint64, feeBps uint16) (fee, payout uint64, err error) {
	fee, err = MultiplyFraction(amount, uint64(feeBps), BasisPoints)
	if err != nil {
		return 0, 0, err
	}
	payout, err = CheckedSub(amount, fee)
	if err != nil {
		return 0, 0, err
	}
	return fee, payout, nil
}

func (tc *txContext) activeMintChannel(id ChannelID) (*MintChannel, error) {
	channel, ok, err := tc.ledger.MintChannel(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: unknown mint channel %s", ErrUnavailable, id)
	}
	if !channel.Active {
		return nil, fmt.Errorf("%w: mint channel %s is inactive", ErrChannelInactive, id)
	}
	return channel, nil
}

func checkRequestAmount(amount, min uint64) error {
	if amount == 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if amount < min {
		return fmt.Errorf("%w: amount %d below minimum %d", ErrInvalidInput, amount, min)
	}
	return nil
}

// Mint pulls the basket collateral for amount stable units from the requester
// into custody and issues amount minus the channel fee to the recipient.
func (e *Engine) Mint(ctx context.Context, req MintRequest) (*MintReceipt, error) {
	var receipt *MintReceipt
	attrs := []attribute.KeyValue{
		attribute.String("channel.id", req.Channel.String()),
		attribute.Int64("amount", int64(req.Amount)),
	}
	err := e.execute(ctx, "mint", attrs, func(ctx context.Context, tc *txContext) ([]events.Event, error) {
		cfg, err := tc.appConfig()
		if err != nil {
			return nil, err
		}
		channel, err := tc.activeMintChannel(req.Channel)
		if err != nil {
			return nil, err
		}
		if err := checkRequestAmount(req.Amount, channel.MinRequestAmount); err != nil {
			return nil, err
		}
		if len(channel.Basket) == 0 {
			return nil, fmt.Errorf("%w: mint channel %s has no basket", ErrUnavailable, req.Channel)
		}
		routes, err := matchRoutes(channel.Basket, req.Legs)
		if err != nil {
			return nil, err
		}

		window := snapshotWindow(channel.Counters, cfg.RollingPeriodHours, tc.now)
		if err := window.checkCaps(channel.Counters, req.Amount); err != nil {
			return nil, err
		}

		custodian := cfg.CustodialSigner
		requester := req.Requester
		legs := make([]LegTransfer, len(channel.Basket))
		for i, leg := range channel.Basket {
			route := routes[i]
			price, err := tc.oracle.ReadPrice(ctx, leg.PriceFeed, route.Feed)
			if err != nil {
				return nil, fmt.Errorf("leg %s: %w", leg.Asset, err)
			}
			amount, err := e.legAmount(req.Amount, leg, price)
			if err != nil {
				return nil, err
			}
			if _, err := requireAccount(tc.bank, "source", route.Source, leg.Asset, &requester); err != nil {
				return nil, err
			}
			if _, err := requireAccount(tc.bank, "custody", route.Destination, leg.Asset, &custodian); err != nil {
				return nil, err
			}
			legs[i] = LegTransfer{Asset: leg.Asset, Source: route.Source, Destination: route.Destination, Amount: amount, Price: price}
		}
		if _, err := requireAccount(tc.bank, "recipient", req.Recipient, e.cfg.StableAsset, nil); err != nil {
			return nil, err
		}
		fee, payout, err := splitFee(req.Amount, channel.FeeBps)
		if err != nil {
			return nil, err
		}
		accumulated, err := CheckedAdd(channel.AccumulatedFee, fee)
		if err != nil {
			return nil, err
		}

		for _, leg := range legs {
			if err := tc.bank.Transfer(requester, leg.Source, leg.Destination, leg.Amount); err != nil {
				return nil, fmt.Errorf("leg %s transfer: %w", leg.Asset, accountError(err))
			}
		}
		reset, err := window.apply(&channel.Counters, req.Amount)
		if err != nil {
			return nil, err
		}
		channel.AccumulatedFee = accumulated
		if err := tc.bank.MintTo(custodian, req.Recipient, payout); err != nil {
			return nil, fmt.Errorf("issue stable: %w", accountError(err))
		}
		if err := tc.ledger.PutMintChannel(channel); err != nil {
			return nil, err
		}

		receipt = &MintReceipt{
			ID:          uuid.NewString(),
			Channel:     req.Channel,
			Requester:   requester,
			Recipient:   req.Recipient,
			Amount:      req.Amount,
			Fee:         fee,
			Payout:      payout,
			Legs:        legs,
			WindowReset: reset,
			Timestamp:   tc.now,
		}
		assets := make([]string, len(legs))
		amounts := make([]uint64, len(legs))
		for i, leg := range legs {
			assets[i] = leg.Asset
			amounts[i] = leg.Amount
		}
		return []events.Event{events.Minted{
			ReceiptID:  receipt.ID,
			Channel:    req.Channel.String(),
			Requester:  requester,
			Recipient:  req.Recipient,
			Amount:     req.Amount,
			Fee:        fee,
			Payout:     payout,
			LegAssets:  assets,
			LegAmounts: amounts,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	e.metrics.RecordConversion(string(KindMint), req.Channel.String(), receipt.Amount, receipt.Fee)
	return receipt, nil
}

// QuoteMint previews the collateral and payout of a mint without touching
// state. Prices come from the channel's configured feeds.
func (e *Engine) QuoteMint(ctx context.Context, id ChannelID, amount uint64) (*MintQuote, error) {
	var quote *MintQuote
	err := e.view(ctx, "quote_mint", func(ctx context.Context, tc *txContext) error {
		cfg, err := tc.appConfig()
		if err != nil {
			return err
		}
		channel, err := tc.activeMintChannel(id)
		if err != nil {
			return err
		}
		if err := checkRequestAmount(amount, channel.MinRequestAmount); err != nil {
			return err
		}
		window := snapshotWindow(channel.Counters, cfg.RollingPeriodHours, tc.now)
		if err := window.checkCaps(channel.Counters, amount); err != nil {
			return err
		}
		legs := make([]LegTransfer, len(channel.Basket))
		for i, leg := range channel.Basket {
			price, err := tc.oracle.ReadPrice(ctx, leg.PriceFeed, leg.PriceFeed)
			if err != nil {
				return fmt.Errorf("leg %s: %w", leg.Asset, err)
			}
			legAmount, err := e.legAmount(amount, leg, price)
			if err != nil {
				return err
			}
			legs[i] = LegTransfer{Asset: leg.Asset, Amount: legAmount, Price: price}
		}
		fee, payout, err := splitFee(amount, channel.FeeBps)
		if err != nil {
			return err
		}
		quote = &MintQuote{Channel: id, Amount: amount, Fee: fee, Payout: payout, Legs: legs}
		return nil
	})
	return quote, err
}
