package events

import (
	"strconv"
	"strings"

	"stablefactory/core/types"
	"stablefactory/crypto"
)

const (
	// TypeMintChannelCreated is emitted when an inert mint channel is allocated.
	TypeMintChannelCreated = "factory.mint_channel.created"
	// TypeMintChannelSet is emitted when a mint channel is reconfigured.
	TypeMintChannelSet = "factory.mint_channel.set"
	// TypeBurnChannelCreated is emitted when an inert burn channel is allocated.
	TypeBurnChannelCreated = "factory.burn_channel.created"
	// TypeBurnChannelSet is emitted when a burn channel is reconfigured.
	TypeBurnChannelSet = "factory.burn_channel.set"
	// TypeAppConfigSet is emitted when the global configuration is created or changed.
	TypeAppConfigSet = "factory.app_config.set"
	// TypeMinted is emitted after stable units were issued.
	TypeMinted = "factory.minted"
	// TypeBurned is emitted after stable units were redeemed.
	TypeBurned = "factory.burned"
	// TypeFeeWithdrawn is emitted when custody funds are swept out.
	TypeFeeWithdrawn = "factory.fee.withdrawn"
	// TypeCustodyReleased is emitted when issuance authority leaves the custodial signer.
	TypeCustodyReleased = "factory.custody.released"
	// TypeAssetCreated is emitted when a token is registered with the bank.
	TypeAssetCreated = "factory.asset.created"
	// TypeFeedCreated is emitted when a price feed is registered.
	TypeFeedCreated = "factory.feed.created"
	// TypeFeedRound is emitted when a feed publishes a new answer.
	TypeFeedRound = "factory.feed.round"
	// TypeAccountOpened is emitted when a bank account is opened.
	TypeAccountOpened = "factory.account.opened"
)

func formatOwner(owner [20]byte) string {
	if owner == ([20]byte{}) {
		return ""
	}
	return crypto.FromRaw(owner).String()
}

func formatUint(v uint64) string { return strconv.FormatUint(v, 10) }

func joinUints(values []uint64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = formatUint(v)
	}
	return strings.Join(parts, ",")
}

// MintChannelCreated announces a freshly allocated mint channel.
type MintChannelCreated struct {
	Channel  string
	Path     string
	Capacity uint16
}

func (MintChannelCreated) EventType() string { return TypeMintChannelCreated }

func (e MintChannelCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeMintChannelCreated,
		Attributes: map[string]string{
			"channel":  e.Channel,
			"path":     strings.TrimSpace(e.Path),
			"capacity": strconv.FormatUint(uint64(e.Capacity), 10),
		},
	}
}

// MintChannelSet carries the final parameters of a mint channel update.
type MintChannelSet struct {
	Channel          string
	Active           bool
	Assets           []string
	WeightsBps       []uint64
	FeeBps           uint16
	LifetimeCap      uint64
	PeriodCap        uint64
	MinRequestAmount uint64
}

func (MintChannelSet) EventType() string { return TypeMintChannelSet }

func (e MintChannelSet) Event() *types.Event {
	return &types.Event{
		Type: TypeMintChannelSet,
		Attributes: map[string]string{
			"channel":          e.Channel,
			"active":           strconv.FormatBool(e.Active),
			"assets":           strings.Join(e.Assets, ","),
			"weightsBps":       joinUints(e.WeightsBps),
			"feeBps":           strconv.FormatUint(uint64(e.FeeBps), 10),
			"lifetimeCap":      formatUint(e.LifetimeCap),
			"periodCap":        formatUint(e.PeriodCap),
			"minRequestAmount": formatUint(e.MinRequestAmount),
		},
	}
}

// BurnChannelCreated announces a freshly allocated burn channel.
type BurnChannelCreated struct {
	Channel string
	Path    string
}

func (BurnChannelCreated) EventType() string { return TypeBurnChannelCreated }

func (e BurnChannelCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeBurnChannelCreated,
		Attributes: map[string]string{
			"channel": e.Channel,
			"path":    strings.TrimSpace(e.Path),
		},
	}
}

// BurnChannelSet carries the final parameters of a burn channel update.
type BurnChannelSet struct {
	Channel          string
	Active           bool
	OutputAsset      string
	OutputFeed       string
	FeeBps           uint16
	LifetimeCap      uint64
	PeriodCap        uint64
	MinRequestAmount uint64
}

func (BurnChannelSet) EventType() string { return TypeBurnChannelSet }

func (e BurnChannelSet) Event() *types.Event {
	attrs := map[string]string{
		"channel":          e.Channel,
		"active":           strconv.FormatBool(e.Active),
		"outputAsset":      e.OutputAsset,
		"feeBps":           strconv.FormatUint(uint64(e.FeeBps), 10),
		"lifetimeCap":      formatUint(e.LifetimeCap),
		"periodCap":        formatUint(e.PeriodCap),
		"minRequestAmount": formatUint(e.MinRequestAmount),
	}
	if feed := strings.TrimSpace(e.OutputFeed); feed != "" {
		attrs["outputFeed"] = feed
	}
	return &types.Event{Type: TypeBurnChannelSet, Attributes: attrs}
}

// AppConfigSet reports the global configuration after a create or update.
type AppConfigSet struct {
	RollingPeriodHours uint32
	CustodialSigner    [20]byte
	Created            bool
}

func (AppConfigSet) EventType() string { return TypeAppConfigSet }

func (e AppConfigSet) Event() *types.Event {
	return &types.Event{
		Type: TypeAppConfigSet,
		Attributes: map[string]string{
			"rollingPeriodHours": strconv.FormatUint(uint64(e.RollingPeriodHours), 10),
			"custodialSigner":    formatOwner(e.CustodialSigner),
			"created":            strconv.FormatBool(e.Created),
		},
	}
}

// Minted summarises a completed mint.
type Minted struct {
	ReceiptID  string
	Channel    string
	Requester  [20]byte
	Recipient  string
	Amount     uint64
	Fee        uint64
	Payout     uint64
	LegAssets  []string
	LegAmounts []uint64
}

func (Minted) EventType() string { return TypeMinted }

func (e Minted) Event() *types.Event {
	return &types.Event{
		Type: TypeMinted,
		Attributes: map[string]string{
			"receipt":    e.ReceiptID,
			"channel":    e.Channel,
			"requester":  formatOwner(e.Requester),
			"recipient":  e.Recipient,
			"amount":     formatUint(e.Amount),
			"fee":        formatUint(e.Fee),
			"payout":     formatUint(e.Payout),
			"legAssets":  strings.Join(e.LegAssets, ","),
			"legAmounts": joinUints(e.LegAmounts),
		},
	}
}

// Burned summarises a completed burn.
type Burned struct {
	ReceiptID   string
	Channel     string
	Requester   [20]byte
	OutputAsset string
	Amount      uint64
	StableCost  uint64
	Fee         uint64
	Payout      uint64
}

func (Burned) EventType() string { return TypeBurned }

func (e Burned) Event() *types.Event {
	return &types.Event{
		Type: TypeBurned,
		Attributes: map[string]string{
			"receipt":     e.ReceiptID,
			"channel":     e.Channel,
			"requester":   formatOwner(e.Requester),
			"outputAsset": e.OutputAsset,
			"amount":      formatUint(e.Amount),
			"stableCost":  formatUint(e.StableCost),
			"fee":         formatUint(e.Fee),
			"payout":      formatUint(e.Payout),
		},
	}
}

// FeeWithdrawn records a sweep out of a custody account.
type FeeWithdrawn struct {
	Source      string
	Destination string
	Asset       string
	Amount      uint64
}

func (FeeWithdrawn) EventType() string { return TypeFeeWithdrawn }

func (e FeeWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeFeeWithdrawn,
		Attributes: map[string]string{
			"source":      e.Source,
			"destination": e.Destination,
			"asset":       e.Asset,
			"amount":      formatUint(e.Amount),
		},
	}
}

// CustodyReleased records the hand-off of an asset's issuance authority.
type CustodyReleased struct {
	Asset        string
	NewAuthority [20]byte
}

func (CustodyReleased) EventType() string { return TypeCustodyReleased }

func (e CustodyReleased) Event() *types.Event {
	return &types.Event{
		Type: TypeCustodyReleased,
		Attributes: map[string]string{
			"asset":        e.Asset,
			"newAuthority": formatOwner(e.NewAuthority),
		},
	}
}

// AssetCreated records a new token and its issuance authority.
type AssetCreated struct {
	Asset     string
	Decimals  uint16
	Authority [20]byte
}

func (AssetCreated) EventType() string { return TypeAssetCreated }

func (e AssetCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeAssetCreated,
		Attributes: map[string]string{
			"asset":     e.Asset,
			"decimals":  formatUint(uint64(e.Decimals)),
			"authority": formatOwner(e.Authority),
		},
	}
}

// FeedCreated records a new price feed.
type FeedCreated struct {
	Feed        string
	Description string
	Decimals    uint8
}

func (FeedCreated) EventType() string { return TypeFeedCreated }

func (e FeedCreated) Event() *types.Event {
	attrs := map[string]string{
		"feed":     e.Feed,
		"decimals": formatUint(uint64(e.Decimals)),
	}
	if e.Description != "" {
		attrs["description"] = e.Description
	}
	return &types.Event{Type: TypeFeedCreated, Attributes: attrs}
}

// FeedRound records an answer published to a feed.
type FeedRound struct {
	Feed      string
	Round     uint64
	Answer    int64
	UpdatedAt int64
}

func (FeedRound) EventType() string { return TypeFeedRound }

func (e FeedRound) Event() *types.Event {
	return &types.Event{
		Type: TypeFeedRound,
		Attributes: map[string]string{
			"feed":      e.Feed,
			"round":     formatUint(e.Round),
			"answer":    strconv.FormatInt(e.Answer, 10),
			"updatedAt": strconv.FormatInt(e.UpdatedAt, 10),
		},
	}
}

// AccountOpened records a new bank account.
type AccountOpened struct {
	Account string
	Owner   [20]byte
	Asset   string
}

func (AccountOpened) EventType() string { return TypeAccountOpened }

func (e AccountOpened) Event() *types.Event {
	return &types.Event{
		Type: TypeAccountOpened,
		Attributes: map[string]string{
			"account": e.Account,
			"owner":   formatOwner(e.Owner),
			"asset":   e.Asset,
		},
	}
}
