package bootstrap

import (
	"context"
	"testing"

	"stablefactory/config"
	"stablefactory/core/state"
	"stablefactory/native/factory"
	"stablefactory/storage"
)

func address(b byte) [20]byte {
	var out [20]byte
	out[0] = 0x11
	out[19] = b
	return out
}

var (
	operator = address(1)
	custody  = address(2)
)

func newApplier(t *testing.T) (*Applier, *factory.Engine) {
	t.Helper()
	engine, err := factory.NewEngine(state.NewManager(storage.NewMemDB()),
		factory.NewAccessControl([][20]byte{operator}),
		factory.Config{StableAsset: "USDX"})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	applier, err := New(engine, operator, nil)
	if err != nil {
		t.Fatalf("new applier: %v", err)
	}
	return applier, engine
}

func int64Ptr(v int64) *int64 { return &v }

func testManifest() *config.Manifest {
	return &config.Manifest{
		RollingPeriodHours: 12,
		Assets: []config.ManifestAsset{
			{ID: "GOLD", Decimals: 8},
		},
		Feeds: []config.ManifestFeed{
			{ID: "gold-usd", Decimals: 2, Answer: int64Ptr(200000)},
		},
		Accounts: []config.ManifestAccount{
			{ID: "custody-GOLD", Owner: config.CustodyOwner, Asset: "GOLD"},
			{ID: "custody-USDX", Owner: config.CustodyOwner, Asset: "USDX"},
		},
		MintChannels: []config.MintChannelSpec{
			{
				Path:   "gold",
				Active: true,
				FeeBps: 30,
				Limits: config.ChannelLimits{LifetimeCap: 1_000_000, PeriodCap: 1_000},
				Basket: []config.ManifestLeg{{Asset: "GOLD", Decimals: 8, WeightBps: 10_000, PriceFeed: "gold-usd"}},
			},
			{
				Path:          "legacy",
				Assets:        []string{"GOLD"},
				AssetDecimals: []uint16{8},
				WeightsBps:    []uint16{10_000},
				PriceFeeds:    []string{"gold-usd"},
			},
		},
		BurnChannels: []config.BurnChannelSpec{
			{Path: "gold-out", Active: true, OutputAsset: "GOLD", OutputDecimals: 8, OutputFeed: "gold-usd", Limits: config.ChannelLimits{PeriodCap: 10}},
		},
	}
}

func TestApplyCreatesManifestEntries(t *testing.T) {
	applier, engine := newApplier(t)
	ctx := context.Background()
	if _, err := applier.EnsureAppConfig(ctx, custody); err != nil {
		t.Fatalf("ensure app config: %v", err)
	}
	if err := applier.EnsureStableAsset(ctx); err != nil {
		t.Fatalf("ensure stable asset: %v", err)
	}
	result, err := applier.Apply(ctx, testManifest())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(result.Created) != 8 || len(result.Skipped) != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	cfg, err := engine.GetAppConfig(ctx)
	if err != nil || cfg.RollingPeriodHours != 12 || cfg.CustodialSigner != custody {
		t.Fatalf("app config: %+v %v", cfg, err)
	}
	account, err := engine.Account(ctx, "custody-GOLD")
	if err != nil || account.Owner != custody {
		t.Fatalf("custody account: %+v %v", account, err)
	}
	gold, err := engine.GetMintChannel(ctx, factory.DeriveChannelID(factory.KindMint, "gold"))
	if err != nil {
		t.Fatalf("gold channel: %v", err)
	}
	if !gold.Active || gold.FeeBps != 30 || gold.PeriodCap != 1_000 || len(gold.Basket) != 1 || gold.Basket[0].PriceFeed != "gold-usd" {
		t.Fatalf("unexpected gold channel: %+v", gold.MintChannel)
	}
	legacy, err := engine.GetMintChannel(ctx, factory.DeriveChannelID(factory.KindMint, "legacy"))
	if err != nil || legacy.Active || len(legacy.Basket) != 1 {
		t.Fatalf("legacy channel: %+v %v", legacy, err)
	}
	burn, err := engine.GetBurnChannel(ctx, factory.DeriveChannelID(factory.KindBurn, "gold-out"))
	if err != nil || burn.OutputAsset != "GOLD" || burn.PeriodCap != 10 {
		t.Fatalf("burn channel: %+v %v", burn, err)
	}
	feedList, err := engine.ListFeeds(ctx)
	if err != nil || len(feedList) != 1 || feedList[0].Latest == nil || feedList[0].Latest.Answer != 200000 {
		t.Fatalf("feeds: %+v %v", feedList, err)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	applier, engine := newApplier(t)
	ctx := context.Background()
	if _, err := applier.EnsureAppConfig(ctx, custody); err != nil {
		t.Fatalf("ensure app config: %v", err)
	}
	if err := applier.EnsureStableAsset(ctx); err != nil {
		t.Fatalf("ensure stable asset: %v", err)
	}
	if _, err := applier.Apply(ctx, testManifest()); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	id := factory.DeriveChannelID(factory.KindMint, "gold")
	if _, err := engine.SetMintChannel(ctx, operator, id, factory.MintChannelParams{FeeBps: 5}); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}

	if _, err := applier.EnsureAppConfig(ctx, custody); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if err := applier.EnsureStableAsset(ctx); err != nil {
		t.Fatalf("second stable asset: %v", err)
	}
	result, err := applier.Apply(ctx, testManifest())
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if len(result.Created) != 0 || len(result.Skipped) != 7 {
		t.Fatalf("unexpected second result: %+v", result)
	}
	gold, err := engine.GetMintChannel(ctx, id)
	if err != nil || gold.FeeBps != 5 || gold.Active {
		t.Fatalf("existing channel was modified: %+v %v", gold, err)
	}
}

func TestApplyRejectsBadLegacyBasket(t *testing.T) {
	applier, _ := newApplier(t)
	ctx := context.Background()
	if _, err := applier.EnsureAppConfig(ctx, custody); err != nil {
		t.Fatalf("ensure app config: %v", err)
	}
	manifest := &config.Manifest{MintChannels: []config.MintChannelSpec{{
		Path:       "broken",
		Assets:     []string{"A", "B"},
		WeightsBps: []uint16{10_000},
	}}}
	if _, err := applier.Apply(ctx, manifest); err == nil {
		t.Fatalf("expected mismatched arrays to fail")
	}
}

func TestNewRequiresOperator(t *testing.T) {
	if _, err := New(nil, operator, nil); err == nil {
		t.Fatalf("expected engine requirement")
	}
	_, engine := newApplier(t)
	if _, err := New(engine, [20]byte{}, nil); err == nil {
		t.Fatalf("expected operator requirement")
	}
}
