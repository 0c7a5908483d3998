package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"stablefactory/crypto"
	"stablefactory/native/bank"
	"stablefactory/native/factory"
	"stablefactory/native/feeds"
)

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, out interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if err == io.EOF {
			return fmt.Errorf("%w: request body required", factory.ErrInvalidInput)
		}
		return fmt.Errorf("%w: %v", factory.ErrInvalidInput, err)
	}
	return nil
}

func formatAddress(addr [20]byte) string {
	if addr == ([20]byte{}) {
		return ""
	}
	return crypto.FromRaw(addr).String()
}

// parseAddress decodes an optional bech32 address. Empty input yields the
// zero address.
func parseAddress(field, raw string) ([20]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return [20]byte{}, nil
	}
	addr, err := crypto.ParseAccount(trimmed)
	if err != nil {
		return addr, fmt.Errorf("%w: %s: %v", factory.ErrInvalidInput, field, err)
	}
	return addr, nil
}

type appConfigView struct {
	RollingPeriodHours uint32 `json:"rollingPeriodHours"`
	CustodialSigner    string `json:"custodialSigner"`
}

func newAppConfigView(cfg *factory.AppConfig) appConfigView {
	return appConfigView{RollingPeriodHours: cfg.RollingPeriodHours, CustodialSigner: formatAddress(cfg.CustodialSigner)}
}

type legJSON struct {
	Asset     string `json:"asset"`
	Decimals  uint16 `json:"decimals"`
	WeightBps uint16 `json:"weightBps"`
	PriceFeed string `json:"priceFeed,omitempty"`
}

type countersView struct {
	LifetimeIssued uint64 `json:"lifetimeIssued"`
	LifetimeCap    uint64 `json:"lifetimeCap"`
	PeriodIssued   uint64 `json:"periodIssued"`
	PeriodCap      uint64 `json:"periodCap"`
	PeriodAnchor   int64  `json:"periodAnchor"`
	AccumulatedFee uint64 `json:"accumulatedFee"`
	Remaining      uint64 `json:"remaining"`
}

func newCountersView(c factory.Counters, remaining uint64) countersView {
	return countersView{
		LifetimeIssued: c.LifetimeIssued,
		LifetimeCap:    c.LifetimeCap,
		PeriodIssued:   c.PeriodIssued,
		PeriodCap:      c.PeriodCap,
		PeriodAnchor:   c.PeriodAnchor,
		AccumulatedFee: c.AccumulatedFee,
		Remaining:      remaining,
	}
}

type mintChannelView struct {
	ID               string       `json:"id"`
	Path             string       `json:"path"`
	Active           bool         `json:"active"`
	Capacity         uint16       `json:"capacity"`
	Basket           []legJSON    `json:"basket"`
	FeeBps           uint16       `json:"feeBps"`
	MinRequestAmount uint64       `json:"minRequestAmount"`
	Counters         countersView `json:"counters"`
}

func newMintChannelView(c *factory.MintChannel, remaining uint64) mintChannelView {
	basket := make([]legJSON, len(c.Basket))
	for i, leg := range c.Basket {
		basket[i] = legJSON{Asset: leg.Asset, Decimals: leg.Decimals, WeightBps: leg.WeightBps, PriceFeed: string(leg.PriceFeed)}
	}
	return mintChannelView{
		ID:               c.ID.String(),
		Path:             c.Path,
		Active:           c.Active,
		Capacity:         c.Capacity,
		Basket:           basket,
		FeeBps:           c.FeeBps,
		MinRequestAmount: c.MinRequestAmount,
		Counters:         newCountersView(c.Counters, remaining),
	}
}

type burnChannelView struct {
	ID               string       `json:"id"`
	Path             string       `json:"path"`
	Active           bool         `json:"active"`
	OutputAsset      string       `json:"outputAsset"`
	OutputDecimals   uint16       `json:"outputDecimals"`
	OutputFeed       string       `json:"outputFeed,omitempty"`
	FeeBps           uint16       `json:"feeBps"`
	MinRequestAmount uint64       `json:"minRequestAmount"`
	Counters         countersView `json:"counters"`
}

func newBurnChannelView(c *factory.BurnChannel, remaining uint64) burnChannelView {
	return burnChannelView{
		ID:               c.ID.String(),
		Path:             c.Path,
		Active:           c.Active,
		OutputAsset:      c.OutputAsset,
		OutputDecimals:   c.OutputDecimals,
		OutputFeed:       string(c.OutputFeed),
		FeeBps:           c.FeeBps,
		MinRequestAmount: c.MinRequestAmount,
		Counters:         newCountersView(c.Counters, remaining),
	}
}

type limitsJSON struct {
	LifetimeCap      uint64 `json:"lifetimeCap"`
	PeriodCap        uint64 `json:"periodCap"`
	MinRequestAmount uint64 `json:"minRequestAmount"`
}

func (l limitsJSON) limits() factory.Limits {
	return factory.Limits{LifetimeCap: l.LifetimeCap, PeriodCap: l.PeriodCap, MinRequestAmount: l.MinRequestAmount}
}

type priceView struct {
	Value     uint64 `json:"value"`
	Precision uint64 `json:"precision"`
}

type legTransferView struct {
	Asset       string    `json:"asset"`
	Source      string    `json:"source,omitempty"`
	Destination string    `json:"destination,omitempty"`
	Amount      uint64    `json:"amount"`
	Price       priceView `json:"price"`
}

func newLegTransferViews(legs []factory.LegTransfer) []legTransferView {
	out := make([]legTransferView, len(legs))
	for i, leg := range legs {
		out[i] = legTransferView{
			Asset:       leg.Asset,
			Source:      leg.Source,
			Destination: leg.Destination,
			Amount:      leg.Amount,
			Price:       priceView{Value: leg.Price.Value, Precision: leg.Price.Precision},
		}
	}
	return out
}

type mintReceiptView struct {
	ID          string            `json:"id"`
	Channel     string            `json:"channel"`
	Requester   string            `json:"requester"`
	Recipient   string            `json:"recipient"`
	Amount      uint64            `json:"amount"`
	Fee         uint64            `json:"fee"`
	Payout      uint64            `json:"payout"`
	Legs        []legTransferView `json:"legs"`
	WindowReset bool              `json:"windowReset"`
	Timestamp   time.Time         `json:"timestamp"`
}

func newMintReceiptView(r *factory.MintReceipt) mintReceiptView {
	return mintReceiptView{
		ID:          r.ID,
		Channel:     r.Channel.String(),
		Requester:   formatAddress(r.Requester),
		Recipient:   r.Recipient,
		Amount:      r.Amount,
		Fee:         r.Fee,
		Payout:      r.Payout,
		Legs:        newLegTransferViews(r.Legs),
		WindowReset: r.WindowReset,
		Timestamp:   r.Timestamp,
	}
}

type burnReceiptView struct {
	ID          string    `json:"id"`
	Channel     string    `json:"channel"`
	Requester   string    `json:"requester"`
	OutputAsset string    `json:"outputAsset"`
	Amount      uint64    `json:"amount"`
	StableCost  uint64    `json:"stableCost"`
	Fee         uint64    `json:"fee"`
	Payout      uint64    `json:"payout"`
	Price       priceView `json:"price"`
	WindowReset bool      `json:"windowReset"`
	Timestamp   time.Time `json:"timestamp"`
}

func newBurnReceiptView(r *factory.BurnReceipt) burnReceiptView {
	return burnReceiptView{
		ID:          r.ID,
		Channel:     r.Channel.String(),
		Requester:   formatAddress(r.Requester),
		OutputAsset: r.OutputAsset,
		Amount:      r.Amount,
		StableCost:  r.StableCost,
		Fee:         r.Fee,
		Payout:      r.Payout,
		Price:       priceView{Value: r.Price.Value, Precision: r.Price.Precision},
		WindowReset: r.WindowReset,
		Timestamp:   r.Timestamp,
	}
}

type mintQuoteView struct {
	Channel string            `json:"channel"`
	Amount  uint64            `json:"amount"`
	Fee     uint64            `json:"fee"`
	Payout  uint64            `json:"payout"`
	Legs    []legTransferView `json:"legs"`
}

type burnQuoteView struct {
	Channel    string    `json:"channel"`
	Amount     uint64    `json:"amount"`
	StableCost uint64    `json:"stableCost"`
	Fee        uint64    `json:"fee"`
	Payout     uint64    `json:"payout"`
	Price      priceView `json:"price"`
}

type accountView struct {
	ID      string `json:"id"`
	Owner   string `json:"owner"`
	Asset   string `json:"asset"`
	Balance uint64 `json:"balance"`
}

func newAccountView(a *bank.Account) accountView {
	return accountView{ID: a.ID, Owner: formatAddress(a.Owner), Asset: a.Asset, Balance: a.Balance}
}

type assetView struct {
	ID            string `json:"id"`
	Decimals      uint16 `json:"decimals"`
	MintAuthority string `json:"mintAuthority"`
	Supply        uint64 `json:"supply"`
}

type roundView struct {
	ID        uint64    `json:"id"`
	Answer    int64     `json:"answer"`
	Decimals  uint8     `json:"decimals"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func newRoundView(r *feeds.Round) *roundView {
	if r == nil {
		return nil
	}
	return &roundView{ID: r.ID, Answer: r.Answer, Decimals: r.Decimals, UpdatedAt: r.UpdatedAt}
}

type feedView struct {
	ID          string     `json:"id"`
	Description string     `json:"description,omitempty"`
	Decimals    uint8      `json:"decimals"`
	Latest      *roundView `json:"latest,omitempty"`
}

func newFeedView(f *feeds.Feed) feedView {
	return feedView{ID: f.ID, Description: f.Description, Decimals: f.Decimals, Latest: newRoundView(f.Latest)}
}
