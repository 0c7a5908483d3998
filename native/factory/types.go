package factory

import (
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcutil/base58"
	"lukechampine.com/blake3"
)

// ChannelKind distinguishes mint and burn channels in identifiers and keys.
type ChannelKind string

const (
	KindMint ChannelKind = "mint"
	KindBurn ChannelKind = "burn"
)

// DefaultBasketCapacity is the basket cardinality reserved when no capacity is requested.
const DefaultBasketCapacity = 8

// MaxFeeBps caps every channel fee.
const MaxFeeBps = 2_000

// DefaultRollingPeriodHours is the window length assigned by CreateAppConfig.
const DefaultRollingPeriodHours = 24

// DefaultStableDecimals is the precision of the stable unit.
const DefaultStableDecimals = 6

// ChannelID is the content hash of a channel's kind and creation path.
type ChannelID [32]byte

// DeriveChannelID hashes kind||path into a channel identifier.
func DeriveChannelID(kind ChannelKind, path string) ChannelID {
	buf := make([]byte, 0, len(kind)+len(path))
	buf = append(buf, []byte(kind)...)
	buf = append(buf, []byte(path)...)
	return ChannelID(blake3.Sum256(buf))
}

// String renders the identifier in base58.
func (id ChannelID) String() string {
	return base58.Encode(id[:])
}

// IsZero reports whether the identifier is unset.
func (id ChannelID) IsZero() bool {
	return id == ChannelID{}
}

// ParseChannelID decodes a base58 channel identifier.
func ParseChannelID(raw string) (ChannelID, error) {
	var id ChannelID
	decoded := base58.Decode(strings.TrimSpace(raw))
	if len(decoded) != len(id) {
		return id, fmt.Errorf("%w: malformed channel id %q", ErrInvalidInput, raw)
	}
	copy(id[:], decoded)
	return id, nil
}

// FeedID names a price feed. The empty value means identity pricing.
type FeedID string

// BasketLeg is one collateral component of a mint channel.
type BasketLeg struct {
	Asset     string
	Decimals  uint16
	WeightBps uint16
	PriceFeed FeedID
}

// AppConfig holds deployment-wide parameters.
type AppConfig struct {
	RollingPeriodHours uint32
	CustodialSigner    [20]byte
}

// Window returns the rolling period as a duration.
func (c AppConfig) Window() time.Duration {
	return time.Duration(c.RollingPeriodHours) * time.Hour
}

// Counters tracks issuance for a channel.
type Counters struct {
	LifetimeIssued uint64
	LifetimeCap    uint64
	PeriodIssued   uint64
	PeriodCap      uint64
	PeriodAnchor   int64
	AccumulatedFee uint64
}

// Limits is the administrator-controlled part of Counters.
type Limits struct {
	LifetimeCap      uint64
	PeriodCap        uint64
	MinRequestAmount uint64
}

// MintChannel accepts a weighted basket of collateral and issues stable units.
type MintChannel struct {
	ID               ChannelID
	Path             string
	Active           bool
	Capacity         uint16
	Basket           []BasketLeg
	FeeBps           uint16
	MinRequestAmount uint64
	Counters
}

// Clone returns a deep copy.
func (c *MintChannel) Clone() *MintChannel {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Basket = append([]BasketLeg(nil), c.Basket...)
	return &clone
}

// BurnChannel accepts stable units and redeems a single output asset.
type BurnChannel struct {
	ID               ChannelID
	Path             string
	Active           bool
	OutputAsset      string
	OutputDecimals   uint16
	OutputFeed       FeedID
	FeeBps           uint16
	MinRequestAmount uint64
	Counters
}

// Clone returns a copy.
func (c *BurnChannel) Clone() *BurnChannel {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// MintChannelParams replaces a mint channel's configuration wholesale.
type MintChannelParams struct {
	Active bool
	Basket []BasketLeg
	FeeBps uint16
	Limits
}

// LegacyBasket is the parallel-array basket encoding accepted on the wire.
type LegacyBasket struct {
	Assets     []string
	Decimals   []uint16
	WeightsBps []uint16
	PriceFeeds []string
}

// Legs converts the parallel arrays into basket legs, rejecting length mismatches.
func (b LegacyBasket) Legs() ([]BasketLeg, error) {
	n := len(b.Assets)
	if len(b.Decimals) != n || len(b.WeightsBps) != n || len(b.PriceFeeds) != n {
		return nil, fmt.Errorf("%w: basket arrays differ in length (%d/%d/%d/%d)",
			ErrInvalidInput, n, len(b.Decimals), len(b.WeightsBps), len(b.PriceFeeds))
	}
	legs := make([]BasketLeg, n)
	for i := range legs {
		legs[i] = BasketLeg{
			Asset:     strings.TrimSpace(b.Assets[i]),
			Decimals:  b.Decimals[i],
			WeightBps: b.WeightsBps[i],
			PriceFeed: FeedID(strings.TrimSpace(b.PriceFeeds[i])),
		}
	}
	return legs, nil
}

// BurnChannelParams replaces a burn channel's configuration wholesale.
type BurnChannelParams struct {
	Active         bool
	OutputAsset    string
	OutputDecimals uint16
	OutputFeed     FeedID
	FeeBps         uint16
	Limits
}

// LegRoute names the accounts and feed a requester supplies for one basket leg.
type LegRoute struct {
	Asset       string
	Source      string
	Destination string
	Feed        FeedID
}

// MintRequest is a transient mint instruction.
type MintRequest struct {
	Channel   ChannelID
	Requester [20]byte
	Amount    uint64
	Legs      []LegRoute
	Recipient string
}

// BurnRoute names the accounts and feed a requester supplies for a burn.
type BurnRoute struct {
	StableSource      string
	StableCustody     string
	OutputSource      string
	OutputDestination string
	Feed              FeedID
}

// BurnRequest is a transient burn instruction.
type BurnRequest struct {
	Channel   ChannelID
	Requester [20]byte
	Amount    uint64
	Route     BurnRoute
}

// LegTransfer records the collateral moved for one basket leg.
type LegTransfer struct {
	Asset       string
	Source      string
	Destination string
	Amount      uint64
	Price       Price
}

// MintReceipt describes a completed mint.
type MintReceipt struct {
	ID          string
	Channel     ChannelID
	Requester   [20]byte
	Recipient   string
	Amount      uint64
	Fee         uint64
	Payout      uint64
	Legs        []LegTransfer
	WindowReset bool
	Timestamp   time.Time
}

// BurnReceipt describes a completed burn.
type BurnReceipt struct {
	ID          string
	Channel     ChannelID
	Requester   [20]byte
	OutputAsset string
	Amount      uint64
	StableCost  uint64
	Fee         uint64
	Payout      uint64
	Price       Price
	WindowReset bool
	Timestamp   time.Time
}

// MintQuote previews the collateral a mint would pull.
type MintQuote struct {
	Channel ChannelID
	Amount  uint64
	Fee     uint64
	Payout  uint64
	Legs    []LegTransfer
}

// BurnQuote previews the stable cost of a burn.
type BurnQuote struct {
	Channel    ChannelID
	Amount     uint64
	StableCost uint64
	Fee        uint64
	Payout     uint64
	Price      Price
}
