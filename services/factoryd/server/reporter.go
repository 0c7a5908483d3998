package server

import (
	"context"
	"log/slog"

	"stablefactory/core/events"
	"stablefactory/native/factory"
	"stablefactory/observability"
	"stablefactory/observability/metrics"
)

// Reporter keeps the per-channel gauges in step with committed events.
type Reporter struct {
	engine  *factory.Engine
	metrics *metrics.ChannelMetrics
	logger  *slog.Logger
}

// NewReporter constructs a reporter over the engine's read operations.
func NewReporter(engine *factory.Engine, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{engine: engine, metrics: metrics.Channels(), logger: logger.With("component", "reporter")}
}

// Emit implements events.Emitter.
func (r *Reporter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	observability.Events().RecordEvent(evt.EventType())
	ctx := context.Background()
	switch e := evt.(type) {
	case events.MintChannelCreated:
		r.refreshMint(ctx, e.Channel)
	case events.MintChannelSet:
		r.refreshMint(ctx, e.Channel)
	case events.Minted:
		r.refreshMint(ctx, e.Channel)
	case events.BurnChannelCreated:
		r.refreshBurn(ctx, e.Channel)
	case events.BurnChannelSet:
		r.refreshBurn(ctx, e.Channel)
	case events.Burned:
		r.refreshBurn(ctx, e.Channel)
	case events.AppConfigSet:
		if err := r.Refresh(ctx); err != nil {
			r.logger.Warn("refresh channel gauges", "error", err)
		}
	}
}

// Refresh republishes every channel.
func (r *Reporter) Refresh(ctx context.Context) error {
	mints, err := r.engine.ListMintChannels(ctx)
	if err != nil {
		return err
	}
	for _, status := range mints {
		r.observeMint(status)
	}
	burns, err := r.engine.ListBurnChannels(ctx)
	if err != nil {
		return err
	}
	for _, status := range burns {
		r.observeBurn(status)
	}
	return nil
}

func (r *Reporter) refreshMint(ctx context.Context, raw string) {
	id, err := factory.ParseChannelID(raw)
	if err != nil {
		return
	}
	status, err := r.engine.GetMintChannel(ctx, id)
	if err != nil {
		r.logger.Debug("mint channel gauge skipped", "channel", raw, "error", err)
		return
	}
	r.observeMint(status)
}

func (r *Reporter) refreshBurn(ctx context.Context, raw string) {
	id, err := factory.ParseChannelID(raw)
	if err != nil {
		return
	}
	status, err := r.engine.GetBurnChannel(ctx, id)
	if err != nil {
		r.logger.Debug("burn channel gauge skipped", "channel", raw, "error", err)
		return
	}
	r.observeBurn(status)
}

func (r *Reporter) observeMint(status *factory.MintChannelStatus) {
	r.metrics.Observe(metrics.ChannelSnapshot{
		Kind:           string(factory.KindMint),
		Channel:        status.Path,
		Active:         status.Active,
		LifetimeIssued: status.LifetimeIssued,
		Remaining:      status.Remaining,
		AccumulatedFee: status.AccumulatedFee,
	})
}

func (r *Reporter) observeBurn(status *factory.BurnChannelStatus) {
	r.metrics.Observe(metrics.ChannelSnapshot{
		Kind:           string(factory.KindBurn),
		Channel:        status.Path,
		Active:         status.Active,
		LifetimeIssued: status.LifetimeIssued,
		Remaining:      status.Remaining,
		AccumulatedFee: status.AccumulatedFee,
	})
}
