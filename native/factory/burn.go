package factory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"stablefactory/core/events"
)

// stableCost prices out units of an output asset in stable base units.
func (e *Engine) stableCost(out uint64, outputDecimals uint16, price Price) (uint64, error) {
	valued, err := MultiplyFraction(out, price.Value, price.Precision)
	if err != nil {
		return 0, err
	}
	stableScale, err := Pow10(e.cfg.StableDecimals)
	if err != nil {
		return 0, err
	}
	outputScale, err := Pow10(outputDecimals)
	if err != nil {
		return 0, err
	}
	cost, err := MultiplyFraction(valued, stableScale, outputScale)
	if err != nil {
		return 0, err
	}
	if cost == 0 {
		return 0, fmt.Errorf("%w: output amount %d too small", ErrInvalidInput, out)
	}
	return cost, nil
}

func (tc *txContext) activeBurnChannel(id ChannelID) (*BurnChannel, error) {
	channel, ok, err := tc.ledger.BurnChannel(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: unknown burn channel %s", ErrUnavailable, id)
	}
	if !channel.Active {
		return nil, fmt.Errorf("%w: burn channel %s is inactive", ErrChannelInactive, id)
	}
	return channel, nil
}

// Burn takes the stable cost of req.Amount output units from the requester,
// destroys it, and pays out the output asset minus the channel fee.
func (e *Engine) Burn(ctx context.Context, req BurnRequest) (*BurnReceipt, error) {
	var receipt *BurnReceipt
	attrs := []attribute.KeyValue{
		attribute.String("channel.id", req.Channel.String()),
		attribute.Int64("amount", int64(req.Amount)),
	}
	err := e.execute(ctx, "burn", attrs, func(ctx context.Context, tc *txContext) ([]events.Event, error) {
		cfg, err := tc.appConfig()
		if err != nil {
			return nil, err
		}
		channel, err := tc.activeBurnChannel(req.Channel)
		if err != nil {
			return nil, err
		}
		if err := checkRequestAmount(req.Amount, channel.MinRequestAmount); err != nil {
			return nil, err
		}

		custodian := cfg.CustodialSigner
		requester := req.Requester
		route := req.Route
		stable := e.cfg.StableAsset
		if _, err := requireAccount(tc.bank, "stable source", route.StableSource, stable, &requester); err != nil {
			return nil, err
		}
		if _, err := requireAccount(tc.bank, "stable custody", route.StableCustody, stable, &custodian); err != nil {
			return nil, err
		}
		if _, err := requireAccount(tc.bank, "output custody", route.OutputSource, channel.OutputAsset, &custodian); err != nil {
			return nil, err
		}
		if _, err := requireAccount(tc.bank, "output destination", route.OutputDestination, channel.OutputAsset, nil); err != nil {
			return nil, err
		}

		window := snapshotWindow(channel.Counters, cfg.RollingPeriodHours, tc.now)
		price, err := tc.oracle.ReadPrice(ctx, channel.OutputFeed, route.Feed)
		if err != nil {
			return nil, err
		}
		cost, err := e.stableCost(req.Amount, channel.OutputDecimals, price)
		if err != nil {
			return nil, err
		}
		if err := window.checkCaps(channel.Counters, cost); err != nil {
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

		if err := tc.bank.Transfer(requester, route.StableSource, route.StableCustody, cost); err != nil {
			return nil, fmt.Errorf("collect stable: %w", accountError(err))
		}
		if err := tc.bank.Burn(custodian, route.StableCustody, cost); err != nil {
			return nil, fmt.Errorf("burn stable: %w", accountError(err))
		}
		reset, err := window.apply(&channel.Counters, cost)
		if err != nil {
			return nil, err
		}
		if err := tc.bank.Transfer(custodian, route.OutputSource, route.OutputDestination, payout); err != nil {
			return nil, fmt.Errorf("pay out %s: %w", channel.OutputAsset, accountError(err))
		}
		channel.AccumulatedFee = accumulated
		if err := tc.ledger.PutBurnChannel(channel); err != nil {
			return nil, err
		}

		receipt = &BurnReceipt{
			ID:          uuid.NewString(),
			Channel:     req.Channel,
			Requester:   requester,
			OutputAsset: channel.OutputAsset,
			Amount:      req.Amount,
			StableCost:  cost,
			Fee:         fee,
			Payout:      payout,
			Price:       price,
			WindowReset: reset,
			Timestamp:   tc.now,
		}
		return []events.Event{events.Burned{
			ReceiptID:   receipt.ID,
			Channel:     req.Channel.String(),
			Requester:   requester,
			OutputAsset: channel.OutputAsset,
			Amount:      req.Amount,
			StableCost:  cost,
			Fee:         fee,
			Payout:      payout,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	e.metrics.RecordConversion(string(KindBurn), req.Channel.String(), receipt.StableCost, receipt.Fee)
	return receipt, nil
}

// QuoteBurn previews the stable cost and payout of a burn without touching
// state.
func (e *Engine) QuoteBurn(ctx context.Context, id ChannelID, amount uint64) (*BurnQuote, error) {
	var quote *BurnQuote
	err := e.view(ctx, "quote_burn", func(ctx context.Context, tc *txContext) error {
		cfg, err := tc.appConfig()
		if err != nil {
			return err
		}
		channel, err := tc.activeBurnChannel(id)
		if err != nil {
			return err
		}
		if err := checkRequestAmount(amount, channel.MinRequestAmount); err != nil {
			return err
		}
		price, err := tc.oracle.ReadPrice(ctx, channel.OutputFeed, channel.OutputFeed)
		if err != nil {
			return err
		}
		cost, err := e.stableCost(amount, channel.OutputDecimals, price)
		if err != nil {
			return err
		}
		window := snapshotWindow(channel.Counters, cfg.RollingPeriodHours, tc.now)
		if err := window.checkCaps(channel.Counters, cost); err != nil {
			return err
		}
		fee, payout, err := splitFee(amount, channel.FeeBps)
		if err != nil {
			return err
		}
		quote = &BurnQuote{Channel: id, Amount: amount, StableCost: cost, Fee: fee, Payout: payout, Price: price}
		return nil
	})
	return quote, err
}
