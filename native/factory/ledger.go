package factory

import (
	"fmt"
)

// Storage abstracts the subset of state manager functionality required by the
// channel ledger.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

var (
	appConfigKey      = []byte("factory/app-config")
	mintChannelPrefix = []byte("factory/mint/")
	burnChannelPrefix = []byte("factory/burn/")
	mintIndexKey      = []byte("factory/index/mint")
	burnIndexKey      = []byte("factory/index/burn")
)

func mintChannelKey(id ChannelID) []byte {
	return append(append([]byte(nil), mintChannelPrefix...), id[:]...)
}

func burnChannelKey(id ChannelID) []byte {
	return append(append([]byte(nil), burnChannelPrefix...), id[:]...)
}

type storedAppConfig struct {
	RollingPeriodHours uint32
	CustodialSigner    [20]byte
}

type storedLeg struct {
	Asset     string
	Decimals  uint16
	WeightBps uint16
	PriceFeed string
}

type storedCounters struct {
	LifetimeIssued uint64
	LifetimeCap    uint64
	PeriodIssued   uint64
	PeriodCap      uint64
	PeriodAnchor   uint64
	AccumulatedFee uint64
}

type storedMintChannel struct {
	ID               ChannelID
	Path             string
	Active           bool
	Capacity         uint16
	Basket           []storedLeg
	FeeBps           uint16
	MinRequestAmount uint64
	Counters         storedCounters
}

type storedBurnChannel struct {
	ID               ChannelID
	Path             string
	Active           bool
	OutputAsset      string
	OutputDecimals   uint16
	OutputFeed       string
	FeeBps           uint16
	MinRequestAmount uint64
	Counters         storedCounters
}

func newStoredCounters(c Counters) storedCounters {
	anchor := uint64(0)
	if c.PeriodAnchor > 0 {
		anchor = uint64(c.PeriodAnchor)
	}
	return storedCounters{
		LifetimeIssued: c.LifetimeIssued,
		LifetimeCap:    c.LifetimeCap,
		PeriodIssued:   c.PeriodIssued,
		PeriodCap:      c.PeriodCap,
		PeriodAnchor:   anchor,
		AccumulatedFee: c.AccumulatedFee,
	}
}

func (s storedCounters) toCounters() Counters {
	return Counters{
		LifetimeIssued: s.LifetimeIssued,
		LifetimeCap:    s.LifetimeCap,
		PeriodIssued:   s.PeriodIssued,
		PeriodCap:      s.PeriodCap,
		PeriodAnchor:   int64(s.PeriodAnchor),
		AccumulatedFee: s.AccumulatedFee,
	}
}

func newStoredMintChannel(c *MintChannel) *storedMintChannel {
	basket := make([]storedLeg, len(c.Basket))
	for i, leg := range c.Basket {
		basket[i] = storedLeg{Asset: leg.Asset, Decimals: leg.Decimals, WeightBps: leg.WeightBps, PriceFeed: string(leg.PriceFeed)}
	}
	return &storedMintChannel{
		ID:               c.ID,
		Path:             c.Path,
		Active:           c.Active,
		Capacity:         c.Capacity,
		Basket:           basket,
		FeeBps:           c.FeeBps,
		MinRequestAmount: c.MinRequestAmount,
		Counters:         newStoredCounters(c.Counters),
	}
}

func (s *storedMintChannel) toChannel() *MintChannel {
	basket := make([]BasketLeg, len(s.Basket))
	for i, leg := range s.Basket {
		basket[i] = BasketLeg{Asset: leg.Asset, Decimals: leg.Decimals, WeightBps: leg.WeightBps, PriceFeed: FeedID(leg.PriceFeed)}
	}
	return &MintChannel{
		ID:               s.ID,
		Path:             s.Path,
		Active:           s.Active,
		Capacity:         s.Capacity,
		Basket:           basket,
		FeeBps:           s.FeeBps,
		MinRequestAmount: s.MinRequestAmount,
		Counters:         s.Counters.toCounters(),
	}
}

func newStoredBurnChannel(c *BurnChannel) *storedBurnChannel {
	return &storedBurnChannel{
		ID:               c.ID,
		Path:             c.Path,
		Active:           c.Active,
		OutputAsset:      c.OutputAsset,
		OutputDecimals:   c.OutputDecimals,
		OutputFeed:       string(c.OutputFeed),
		FeeBps:           c.FeeBps,
		MinRequestAmount: c.MinRequestAmount,
		Counters:         newStoredCounters(c.Counters),
	}
}

func (s *storedBurnChannel) toChannel() *BurnChannel {
	return &BurnChannel{
		ID:               s.ID,
		Path:             s.Path,
		Active:           s.Active,
		OutputAsset:      s.OutputAsset,
		OutputDecimals:   s.OutputDecimals,
		OutputFeed:       FeedID(s.OutputFeed),
		FeeBps:           s.FeeBps,
		MinRequestAmount: s.MinRequestAmount,
		Counters:         s.Counters.toCounters(),
	}
}

// Ledger persists the app configuration and channel records.
type Ledger struct {
	store Storage
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store Storage) *Ledger {
	return &Ledger{store: store}
}

func (l *Ledger) ready() error {
	if l == nil || l.store == nil {
		return fmt.Errorf("factory: ledger not initialised")
	}
	return nil
}

// AppConfig returns the singleton configuration if it exists.
func (l *Ledger) AppConfig() (*AppConfig, bool, error) {
	if err := l.ready(); err != nil {
		return nil, false, err
	}
	var stored storedAppConfig
	ok, err := l.store.KVGet(appConfigKey, &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &AppConfig{RollingPeriodHours: stored.RollingPeriodHours, CustodialSigner: stored.CustodialSigner}, true, nil
}

// PutAppConfig stores the singleton configuration.
func (l *Ledger) PutAppConfig(cfg *AppConfig) error {
	if err := l.ready(); err != nil {
		return err
	}
	if cfg == nil {
		return fmt.Errorf("factory: app config must not be nil")
	}
	return l.store.KVPut(appConfigKey, &storedAppConfig{
		RollingPeriodHours: cfg.RollingPeriodHours,
		CustodialSigner:    cfg.CustodialSigner,
	})
}

// MintChannel loads a mint channel by identifier.
func (l *Ledger) MintChannel(id ChannelID) (*MintChannel, bool, error) {
	if err := l.ready(); err != nil {
		return nil, false, err
	}
	var stored storedMintChannel
	ok, err := l.store.KVGet(mintChannelKey(id), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return stored.toChannel(), true, nil
}

// PutMintChannel stores a mint channel and records it in the listing index.
func (l *Ledger) PutMintChannel(channel *MintChannel) error {
	if err := l.ready(); err != nil {
		return err
	}
	if channel == nil || channel.ID.IsZero() {
		return fmt.Errorf("factory: mint channel id required")
	}
	if err := l.store.KVPut(mintChannelKey(channel.ID), newStoredMintChannel(channel)); err != nil {
		return err
	}
	return l.store.KVAppend(mintIndexKey, channel.ID[:])
}

// MintChannels lists every mint channel in creation order.
func (l *Ledger) MintChannels() ([]*MintChannel, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	var index [][]byte
	if err := l.store.KVGetList(mintIndexKey, &index); err != nil {
		return nil, err
	}
	out := make([]*MintChannel, 0, len(index))
	for _, raw := range index {
		var id ChannelID
		copy(id[:], raw)
		channel, ok, err := l.MintChannel(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, channel)
		}
	}
	return out, nil
}

// BurnChannel loads a burn channel by identifier.
func (l *Ledger) BurnChannel(id ChannelID) (*BurnChannel, bool, error) {
	if err := l.ready(); err != nil {
		return nil, false, err
	}
	var stored storedBurnChannel
	ok, err := l.store.KVGet(burnChannelKey(id), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return stored.toChannel(), true, nil
}

// PutBurnChannel stores a burn channel and records it in the listing index.
func (l *Ledger) PutBurnChannel(channel *BurnChannel) error {
	if err := l.ready(); err != nil {
		return err
	}
	if channel == nil || channel.ID.IsZero() {
		return fmt.Errorf("factory: burn channel id required")
	}
	if err := l.store.KVPut(burnChannelKey(channel.ID), newStoredBurnChannel(channel)); err != nil {
		return err
	}
	return l.store.KVAppend(burnIndexKey, channel.ID[:])
}

// BurnChannels lists every burn channel in creation order.
func (l *Ledger) BurnChannels() ([]*BurnChannel, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	var index [][]byte
	if err := l.store.KVGetList(burnIndexKey, &index); err != nil {
		return nil, err
	}
	out := make([]*BurnChannel, 0, len(index))
	for _, raw := range index {
		var id ChannelID
		copy(id[:], raw)
		channel, ok, err := l.BurnChannel(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, channel)
		}
	}
	return out, nil
}
