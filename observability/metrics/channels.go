package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ChannelMetrics exposes per-channel issuance gauges.
type ChannelMetrics struct {
	lifetimeIssued *prometheus.GaugeVec
	remaining      *prometheus.GaugeVec
	accumulatedFee *prometheus.GaugeVec
	active         *prometheus.GaugeVec
}

var (
	channelOnce     sync.Once
	channelRegistry *ChannelMetrics
)

func Channels() *ChannelMetrics {
	channelOnce.Do(func() {
		channelRegistry = &ChannelMetrics{
			lifetimeIssued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "stablefactory_channel_lifetime_issued",
				Help: "Stable units issued or redeemed over the life of a channel.",
			}, []string{"kind", "channel"}),
			remaining: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "stablefactory_channel_remaining",
				Help: "Stable units still available under the channel caps.",
			}, []string{"kind", "channel"}),
			accumulatedFee: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "stablefactory_channel_accumulated_fee",
				Help: "Fees accrued by the channel in base units.",
			}, []string{"kind", "channel"}),
			active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "stablefactory_channel_active",
				Help: "1 when the channel accepts conversions.",
			}, []string{"kind", "channel"}),
		}
		prometheus.MustRegister(
			channelRegistry.lifetimeIssued,
			channelRegistry.remaining,
			channelRegistry.accumulatedFee,
			channelRegistry.active,
		)
	})
	return channelRegistry
}

// ChannelSnapshot is the reportable state of one channel.
type ChannelSnapshot struct {
	Kind           string
	Channel        string
	Active         bool
	LifetimeIssued uint64
	Remaining      uint64
	AccumulatedFee uint64
}

func (m *ChannelMetrics) Observe(snapshot ChannelSnapshot) {
	if m == nil {
		return
	}
	kind := snapshot.Kind
	if kind == "" {
		kind = "unknown"
	}
	active := 0.0
	if snapshot.Active {
		active = 1
	}
	m.lifetimeIssued.WithLabelValues(kind, snapshot.Channel).Set(float64(snapshot.LifetimeIssued))
	m.remaining.WithLabelValues(kind, snapshot.Channel).Set(float64(snapshot.Remaining))
	m.accumulatedFee.WithLabelValues(kind, snapshot.Channel).Set(float64(snapshot.AccumulatedFee))
	m.active.WithLabelValues(kind, snapshot.Channel).Set(active)
}
