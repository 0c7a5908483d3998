package factory

import (
	"errors"
	"testing"

	"stablefactory/core/events"
)

func TestAdminOperationsRequireAdministrator(t *testing.T) {
	h := newHarness(t)
	before := len(h.recorder.Events())
	id := DeriveChannelID(KindMint, "m")
	checks := map[string]error{}
	_, checks["create app config"] = h.engine.CreateAppConfig(h.ctx, outsider, custodyAddr)
	_, checks["set app config"] = h.engine.SetAppConfig(h.ctx, outsider, 12)
	_, checks["create mint"] = h.engine.CreateMintChannel(h.ctx, outsider, "m", 0)
	_, checks["set mint"] = h.engine.SetMintChannel(h.ctx, outsider, id, MintChannelParams{})
	_, checks["create burn"] = h.engine.CreateBurnChannel(h.ctx, outsider, "b")
	_, checks["set burn"] = h.engine.SetBurnChannel(h.ctx, outsider, id, BurnChannelParams{})
	_, checks["withdraw"] = h.engine.WithdrawFee(h.ctx, outsider, "a", "b", 1)
	checks["release"] = h.engine.ReleaseAssetCustody(h.ctx, outsider, stableAsset, outsider)
	_, checks["create asset"] = h.engine.CreateAsset(h.ctx, outsider, "X", 6, [20]byte{})
	_, checks["create feed"] = h.engine.CreateFeed(h.ctx, outsider, "f", "", 8)
	_, checks["submit round"] = h.engine.SubmitRound(h.ctx, outsider, "f", 1)
	for name, err := range checks {
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("%s: expected ErrUnauthorized, got %v", name, err)
		}
	}
	if n := len(h.recorder.Events()); n != before {
		t.Fatalf("unauthorized calls emitted events: %d", n-before)
	}
}

func TestAppConfigLifecycle(t *testing.T) {
	h := newHarness(t)
	cfg, err := h.engine.GetAppConfig(h.ctx)
	if err != nil {
		t.Fatalf("get app config: %v", err)
	}
	if cfg.RollingPeriodHours != DefaultRollingPeriodHours || cfg.CustodialSigner != custodyAddr {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if _, err := h.engine.CreateAppConfig(h.ctx, adminAddr, custodyAddr); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput on second create, got %v", err)
	}
	if _, err := h.engine.SetAppConfig(h.ctx, adminAddr, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero period, got %v", err)
	}
	updated, err := h.engine.SetAppConfig(h.ctx, adminAddr, 6)
	if err != nil {
		t.Fatalf("set app config: %v", err)
	}
	if updated.RollingPeriodHours != 6 || updated.CustodialSigner != custodyAddr {
		t.Fatalf("unexpected update: %+v", updated)
	}
	if h.eventCount(events.TypeAppConfigSet) != 2 {
		t.Fatalf("expected create and set events")
	}
}

func TestCreateAppConfigRejectsZeroSigner(t *testing.T) {
	h := newHarness(t)
	fresh, err := NewEngine(h.mgr, NewAccessControl([][20]byte{adminAddr}), Config{StableAsset: "OTHER"})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if _, err := fresh.CreateAppConfig(h.ctx, adminAddr, [20]byte{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCreateMintChannel(t *testing.T) {
	h := newHarness(t)
	channel, err := h.engine.CreateMintChannel(h.ctx, adminAddr, "  basket  ", 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if channel.Path != "basket" || channel.Capacity != DefaultBasketCapacity || channel.Active {
		t.Fatalf("unexpected channel: %+v", channel)
	}
	if channel.ID != DeriveChannelID(KindMint, "basket") {
		t.Fatalf("channel id not derived from path")
	}
	if _, err := h.engine.CreateMintChannel(h.ctx, adminAddr, "basket", 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
	if _, err := h.engine.CreateMintChannel(h.ctx, adminAddr, "   ", 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected empty path rejection, got %v", err)
	}
	// The same path names distinct mint and burn channels.
	burn, err := h.engine.CreateBurnChannel(h.ctx, adminAddr, "basket")
	if err != nil {
		t.Fatalf("create burn: %v", err)
	}
	if burn.ID == channel.ID {
		t.Fatalf("mint and burn channel ids collide")
	}
	list, err := h.engine.ListMintChannels(h.ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("list mint channels: %v (%d)", err, len(list))
	}
	if h.eventCount(events.TypeMintChannelCreated) != 1 || h.eventCount(events.TypeBurnChannelCreated) != 1 {
		t.Fatalf("expected one created event per channel")
	}
}

func TestSetMintChannelValidation(t *testing.T) {
	h := newHarness(t)
	channel, err := h.engine.CreateMintChannel(h.ctx, adminAddr, "basket", 2)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	leg := func(asset string, weight uint16) BasketLeg {
		return BasketLeg{Asset: asset, Decimals: 6, WeightBps: weight}
	}
	tests := []struct {
		name   string
		params MintChannelParams
	}{
		{"weights below total", MintChannelParams{Active: true, Basket: []BasketLeg{leg("A", 5000), leg("B", 4000)}}},
		{"weights above total", MintChannelParams{Active: true, Basket: []BasketLeg{leg("A", 6000), leg("B", 6000)}}},
		{"capacity exceeded", MintChannelParams{Active: true, Basket: []BasketLeg{leg("A", 4000), leg("B", 3000), leg("C", 3000)}}},
		{"fee too high", MintChannelParams{Active: true, Basket: []BasketLeg{leg("A", 10_000)}, FeeBps: MaxFeeBps + 1}},
		{"duplicate asset", MintChannelParams{Active: true, Basket: []BasketLeg{leg("A", 5000), leg("A", 5000)}}},
		{"active without basket", MintChannelParams{Active: true}},
		{"decimals too large", MintChannelParams{Active: true, Basket: []BasketLeg{{Asset: "A", Decimals: 20, WeightBps: 10_000}}}},
		{"blank asset", MintChannelParams{Active: true, Basket: []BasketLeg{leg(" ", 10_000)}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := h.engine.SetMintChannel(h.ctx, adminAddr, channel.ID, tc.params); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
	if _, err := h.engine.SetMintChannel(h.ctx, adminAddr, DeriveChannelID(KindMint, "missing"), MintChannelParams{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown channel, got %v", err)
	}

	set, err := h.engine.SetMintChannel(h.ctx, adminAddr, channel.ID, MintChannelParams{
		Active: true,
		Basket: []BasketLeg{leg(" A ", 2500), leg("B", 7500)},
		FeeBps: MaxFeeBps,
		Limits: Limits{LifetimeCap: 10, PeriodCap: 5, MinRequestAmount: 1},
	})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if set.Basket[0].Asset != "A" || set.FeeBps != MaxFeeBps || set.PeriodCap != 5 {
		t.Fatalf("unexpected channel: %+v", set)
	}
	if h.eventCount(events.TypeMintChannelSet) != 1 {
		t.Fatalf("rejected updates emitted events")
	}
}

func TestLegacyBasketLengthMismatch(t *testing.T) {
	basket := LegacyBasket{
		Assets:     []string{"A", "B"},
		Decimals:   []uint16{6, 6},
		WeightsBps: []uint16{5000},
		PriceFeeds: []string{"", ""},
	}
	if _, err := basket.Legs(); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	basket.WeightsBps = []uint16{5000, 5000}
	legs, err := basket.Legs()
	if err != nil {
		t.Fatalf("legs: %v", err)
	}
	if len(legs) != 2 || legs[1].Asset != "B" || legs[1].WeightBps != 5000 {
		t.Fatalf("unexpected legs: %+v", legs)
	}
}

func TestSetCapsBelowIssuedRejected(t *testing.T) {
	f := newMintFixture(t, []BasketLeg{{Asset: "AAA", Decimals: 6, WeightBps: 10_000}}, 0,
		Limits{LifetimeCap: 1_000, PeriodCap: 500})
	if _, err := f.engine.Mint(f.ctx, f.request(300)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	params := func(lifetime, period uint64) MintChannelParams {
		return MintChannelParams{
			Active: true,
			Basket: []BasketLeg{{Asset: "AAA", Decimals: 6, WeightBps: 10_000}},
			Limits: Limits{LifetimeCap: lifetime, PeriodCap: period},
		}
	}
	if _, err := f.engine.SetMintChannel(f.ctx, adminAddr, f.channel, params(299, 500)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected lifetime cap rejection, got %v", err)
	}
	if _, err := f.engine.SetMintChannel(f.ctx, adminAddr, f.channel, params(1_000, 299)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected period cap rejection, got %v", err)
	}
	updated, err := f.engine.SetMintChannel(f.ctx, adminAddr, f.channel, params(300, 300))
	if err != nil {
		t.Fatalf("caps equal to issuance: %v", err)
	}
	if updated.LifetimeIssued != 300 || updated.PeriodIssued != 300 {
		t.Fatalf("counters not carried over: %+v", updated.Counters)
	}
}

func TestSetBurnChannelValidation(t *testing.T) {
	h := newHarness(t)
	channel, err := h.engine.CreateBurnChannel(h.ctx, adminAddr, "out")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	bad := []BurnChannelParams{
		{Active: true},
		{Active: true, OutputAsset: "GOLD", FeeBps: MaxFeeBps + 1},
		{Active: true, OutputAsset: "GOLD", OutputDecimals: 20},
	}
	for i, params := range bad {
		if _, err := h.engine.SetBurnChannel(h.ctx, adminAddr, channel.ID, params); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
	set, err := h.engine.SetBurnChannel(h.ctx, adminAddr, channel.ID, BurnChannelParams{
		Active:      true,
		OutputAsset: " GOLD ",
		OutputFeed:  " gold-usd ",
		Limits:      Limits{LifetimeCap: 1, PeriodCap: 1},
	})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if set.OutputAsset != "GOLD" || set.OutputFeed != "gold-usd" {
		t.Fatalf("unexpected channel: %+v", set)
	}
}

func TestWithdrawFee(t *testing.T) {
	f := newMintFixture(t, []BasketLeg{{Asset: "AAA", Decimals: 6, WeightBps: 10_000}}, 100, wideLimits())
	f.account("treasury-AAA", issuerAddr, "AAA")
	if _, err := f.engine.Mint(f.ctx, f.request(1_000_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if _, err := f.engine.WithdrawFee(f.ctx, adminAddr, "custody-AAA", "treasury-AAA", 1_000_001); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if _, err := f.engine.WithdrawFee(f.ctx, adminAddr, "user-AAA", "treasury-AAA", 1); !errors.Is(err, ErrInvalidAccount) {
		t.Fatalf("expected ErrInvalidAccount for non-custodial source, got %v", err)
	}
	if _, err := f.engine.WithdrawFee(f.ctx, adminAddr, "custody-AAA", "user-"+stableAsset, 1); !errors.Is(err, ErrInvalidAccount) {
		t.Fatalf("expected ErrInvalidAccount for asset mismatch, got %v", err)
	}
	if _, err := f.engine.WithdrawFee(f.ctx, adminAddr, "custody-AAA", "treasury-AAA", 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero amount, got %v", err)
	}

	withdrawal, err := f.engine.WithdrawFee(f.ctx, adminAddr, "custody-AAA", "treasury-AAA", 10_000)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if withdrawal.Asset != "AAA" || withdrawal.Amount != 10_000 {
		t.Fatalf("unexpected withdrawal: %+v", withdrawal)
	}
	if got := f.balance("treasury-AAA"); got != 10_000 {
		t.Fatalf("treasury = %d", got)
	}
	if got := f.balance("custody-AAA"); got != 990_000 {
		t.Fatalf("custody = %d", got)
	}
	if got := f.mintChannel(f.channel).AccumulatedFee; got != 10_000 {
		t.Fatalf("accumulated fee changed by withdrawal: %d", got)
	}
	if f.eventCount(events.TypeFeeWithdrawn) != 1 {
		t.Fatalf("expected one withdrawal event")
	}
}

func TestReleaseAssetCustodyStopsMinting(t *testing.T) {
	f := newMintFixture(t, []BasketLeg{{Asset: "AAA", Decimals: 6, WeightBps: 10_000}}, 0, wideLimits())
	if err := f.engine.ReleaseAssetCustody(f.ctx, adminAddr, "missing", issuerAddr); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown asset, got %v", err)
	}
	if err := f.engine.ReleaseAssetCustody(f.ctx, adminAddr, stableAsset, [20]byte{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero authority, got %v", err)
	}
	if err := f.engine.ReleaseAssetCustody(f.ctx, adminAddr, stableAsset, issuerAddr); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := f.engine.ReleaseAssetCustody(f.ctx, adminAddr, stableAsset, custodyAddr); !errors.Is(err, ErrInvalidAccount) {
		t.Fatalf("expected second release to fail, got %v", err)
	}
	_, err := f.engine.Mint(f.ctx, f.request(100))
	if !errors.Is(err, ErrInvalidAccount) {
		t.Fatalf("expected mint to fail without issuance authority, got %v", err)
	}
	if got := f.balance("custody-AAA"); got != 0 {
		t.Fatalf("collateral moved despite failed mint: %d", got)
	}
	if f.eventCount(events.TypeCustodyReleased) != 1 {
		t.Fatalf("expected one custody released event")
	}
}

func TestCreateAssetAndFeed(t *testing.T) {
	h := newHarness(t)
	if got := h.eventCount(events.TypeAssetCreated); got != 1 {
		t.Fatalf("stable asset creation emitted %d events, want 1", got)
	}
	if _, err := h.engine.CreateAsset(h.ctx, adminAddr, stableAsset, 6, [20]byte{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected duplicate asset rejection, got %v", err)
	}
	if _, err := h.engine.CreateAsset(h.ctx, adminAddr, "BIG", 20, [20]byte{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected decimals rejection, got %v", err)
	}
	if _, err := h.engine.CreateFeed(h.ctx, adminAddr, "f", "", 8); err != nil {
		t.Fatalf("create feed: %v", err)
	}
	if _, err := h.engine.CreateFeed(h.ctx, adminAddr, "f", "", 8); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected duplicate feed rejection, got %v", err)
	}
	if _, err := h.engine.SubmitRound(h.ctx, adminAddr, "nope", 1); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected unknown feed rejection, got %v", err)
	}
	round, err := h.engine.SubmitRound(h.ctx, adminAddr, "f", 42)
	if err != nil {
		t.Fatalf("submit round: %v", err)
	}
	if !round.UpdatedAt.Equal(h.clock.Now()) {
		t.Fatalf("round not stamped with engine clock: %s", round.UpdatedAt)
	}
	list, err := h.engine.ListFeeds(h.ctx)
	if err != nil || len(list) != 1 || list[0].Latest == nil || list[0].Latest.Answer != 42 {
		t.Fatalf("unexpected feeds: %v %+v", err, list)
	}
	if _, err := h.engine.CreateAsset(h.ctx, adminAddr, "GOLD", 8, issuerAddr); err != nil {
		t.Fatalf("create asset: %v", err)
	}

	if got := h.eventCount(events.TypeAssetCreated); got != 2 {
		t.Fatalf("asset events = %d, want 2", got)
	}
	if got := h.eventCount(events.TypeFeedCreated); got != 1 {
		t.Fatalf("feed events = %d, want 1", got)
	}
	if got := h.eventCount(events.TypeFeedRound); got != 1 {
		t.Fatalf("round events = %d, want 1", got)
	}
	recorded := h.recorder.Events()
	var sawRound, sawGold bool
	for _, evt := range recorded {
		switch e := evt.(type) {
		case events.FeedRound:
			sawRound = e.Feed == "f" && e.Round == 1 && e.Answer == 42 && e.UpdatedAt == h.clock.Now().Unix()
		case events.AssetCreated:
			if e.Asset == "GOLD" {
				sawGold = e.Decimals == 8 && e.Authority == issuerAddr
			}
		}
	}
	if !sawRound || !sawGold {
		t.Fatalf("unexpected event payloads: %+v", recorded)
	}
}

func TestOpenAccountValidation(t *testing.T) {
	h := newHarness(t)
	if _, err := h.engine.OpenAccount(h.ctx, [20]byte{}, "a", stableAsset); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero owner, got %v", err)
	}
	if _, err := h.engine.OpenAccount(h.ctx, userAddr, "a", "missing"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown asset, got %v", err)
	}
	if got := h.eventCount(events.TypeAccountOpened); got != 0 {
		t.Fatalf("failed opens emitted %d events", got)
	}
	generated, err := h.engine.OpenAccount(h.ctx, userAddr, "", stableAsset)
	if err != nil {
		t.Fatalf("open account: %v", err)
	}
	if generated.ID == "" {
		t.Fatalf("expected generated account id")
	}
	opened := h.recorder.Events()
	last, ok := opened[len(opened)-1].(events.AccountOpened)
	if !ok || last.Account != generated.ID || last.Owner != userAddr || last.Asset != stableAsset {
		t.Fatalf("unexpected account event: %+v", opened[len(opened)-1])
	}
	h.account("a", userAddr, stableAsset)
	if _, err := h.engine.OpenAccount(h.ctx, userAddr, "a", stableAsset); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for existing account, got %v", err)
	}
	owned, err := h.engine.AccountsByOwner(h.ctx, userAddr)
	if err != nil || len(owned) != 2 {
		t.Fatalf("accounts by owner: %v (%d)", err, len(owned))
	}
	if _, err := h.engine.Account(h.ctx, "missing"); !errors.Is(err, ErrInvalidAccount) {
		t.Fatalf("expected ErrInvalidAccount, got %v", err)
	}
}
