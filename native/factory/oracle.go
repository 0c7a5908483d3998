package factory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"stablefactory/native/feeds"
)

// Price is a feed answer together with the scale it is expressed in.
type Price struct {
	Value     uint64
	Precision uint64
}

// IdentityPrice converts one-to-one.
var IdentityPrice = Price{Value: 1, Precision: 1}

// FeedReader exposes the latest round of a price feed.
type FeedReader interface {
	LatestRound(id string) (*feeds.Round, error)
}

// Oracle reads live prices for conversions. It holds no cache: each call
// reads the feed again.
type Oracle struct {
	feeds  FeedReader
	maxAge time.Duration
	now    func() time.Time
}

// NewOracle binds an oracle to a feed reader. A zero maxAge disables the
// staleness check.
func NewOracle(reader FeedReader, maxAge time.Duration, now func() time.Time) *Oracle {
	if now == nil {
		now = time.Now
	}
	return &Oracle{feeds: reader, maxAge: maxAge, now: now}
}

// ReadPrice returns the price of the configured feed after checking that the
// caller supplied the same feed. An empty configured feed prices at identity.
func (o *Oracle) ReadPrice(ctx context.Context, configured, supplied FeedID) (Price, error) {
	configured = FeedID(strings.TrimSpace(string(configured)))
	supplied = FeedID(strings.TrimSpace(string(supplied)))
	if supplied != configured {
		return Price{}, fmt.Errorf("%w: expected feed %q, got %q", ErrOracleMismatch, configured, supplied)
	}
	if configured == "" {
		return IdentityPrice, nil
	}
	if o == nil || o.feeds == nil {
		return Price{}, fmt.Errorf("%w: no feed reader", ErrOracleUnavailable)
	}
	round, err := o.feeds.LatestRound(string(configured))
	if err != nil {
		return Price{}, fmt.Errorf("%w: %s: %v", ErrOracleUnavailable, configured, err)
	}
	if round == nil || round.Answer <= 0 {
		return Price{}, fmt.Errorf("%w: %s: non-positive answer", ErrOracleUnavailable, configured)
	}
	if o.maxAge > 0 && o.now().Sub(round.UpdatedAt) > o.maxAge {
		return Price{}, fmt.Errorf("%w: %s: round from %s is stale", ErrOracleUnavailable, configured, round.UpdatedAt.UTC().Format(time.RFC3339))
	}
	precision, err := Pow10(uint16(round.Decimals))
	if err != nil {
		return Price{}, fmt.Errorf("%w: %s: %v", ErrOracleUnavailable, configured, err)
	}
	trace.SpanFromContext(ctx).AddEvent("oracle.read", trace.WithAttributes(
		attribute.String("feed.id", string(configured)),
		attribute.Int64("feed.answer", round.Answer),
		attribute.Int64("feed.round", int64(round.ID)),
	))
	return Price{Value: uint64(round.Answer), Precision: precision}, nil
}
