package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"stablefactory/native/factory"
)

func (s *Server) caller(w http.ResponseWriter, r *http.Request) ([20]byte, bool) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeProblem(w, http.StatusUnauthorized, "unauthenticated", "missing caller identity")
	}
	return caller, ok
}

func channelParam(r *http.Request) (factory.ChannelID, error) {
	return factory.ParseChannelID(chi.URLParam(r, "id"))
}

func (s *Server) handleGetAppConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.engine.GetAppConfig(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAppConfigView(cfg))
}

func (s *Server) handleCreateAppConfig(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		CustodialSigner string `json:"custodialSigner"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	signer, err := parseAddress("custodialSigner", req.CustodialSigner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg, err := s.engine.CreateAppConfig(r.Context(), caller, signer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAppConfigView(cfg))
}

func (s *Server) handleSetAppConfig(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		RollingPeriodHours uint32 `json:"rollingPeriodHours"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg, err := s.engine.SetAppConfig(r.Context(), caller, req.RollingPeriodHours)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAppConfigView(cfg))
}

func (s *Server) handleCreateMintChannel(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Path     string `json:"path"`
		Capacity uint16 `json:"capacity"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	channel, err := s.engine.CreateMintChannel(r.Context(), caller, req.Path, req.Capacity)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newMintChannelView(channel, 0))
}

// setMintChannelRequest accepts the basket either as legs or as the
// parallel arrays older clients send.
type setMintChannelRequest struct {
	Active bool      `json:"active"`
	FeeBps uint16    `json:"feeBps"`
	Basket []legJSON `json:"basket"`
	limitsJSON

	Assets     []string `json:"assets"`
	Decimals   []uint16 `json:"decimals"`
	WeightsBps []uint16 `json:"weightsBps"`
	PriceFeeds []string `json:"priceFeeds"`
}

func (req setMintChannelRequest) usesArrays() bool {
	return req.Assets != nil || req.Decimals != nil || req.WeightsBps != nil || req.PriceFeeds != nil
}

func (req setMintChannelRequest) params() (factory.MintChannelParams, error) {
	params := factory.MintChannelParams{Active: req.Active, FeeBps: req.FeeBps, Limits: req.limits()}
	if req.usesArrays() {
		if len(req.Basket) > 0 {
			return params, fmt.Errorf("%w: basket given both as legs and arrays", factory.ErrInvalidInput)
		}
		legs, err := factory.LegacyBasket{
			Assets:     req.Assets,
			Decimals:   req.Decimals,
			WeightsBps: req.WeightsBps,
			PriceFeeds: req.PriceFeeds,
		}.Legs()
		if err != nil {
			return params, err
		}
		params.Basket = legs
		return params, nil
	}
	params.Basket = make([]factory.BasketLeg, len(req.Basket))
	for i, leg := range req.Basket {
		params.Basket[i] = factory.BasketLeg{
			Asset:     leg.Asset,
			Decimals:  leg.Decimals,
			WeightBps: leg.WeightBps,
			PriceFeed: factory.FeedID(leg.PriceFeed),
		}
	}
	return params, nil
}

func (s *Server) handleSetMintChannel(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, err := channelParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req setMintChannelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	params, err := req.params()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	channel, err := s.engine.SetMintChannel(r.Context(), caller, id, params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status, err := s.engine.GetMintChannel(r.Context(), channel.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newMintChannelView(status.MintChannel, status.Remaining))
}

func (s *Server) handleCreateBurnChannel(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Path string `json:"path"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	channel, err := s.engine.CreateBurnChannel(r.Context(), caller, req.Path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newBurnChannelView(channel, 0))
}

func (s *Server) handleSetBurnChannel(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, err := channelParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Active         bool   `json:"active"`
		OutputAsset    string `json:"outputAsset"`
		OutputDecimals uint16 `json:"outputDecimals"`
		OutputFeed     string `json:"outputFeed"`
		FeeBps         uint16 `json:"feeBps"`
		limitsJSON
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	channel, err := s.engine.SetBurnChannel(r.Context(), caller, id, factory.BurnChannelParams{
		Active:         req.Active,
		OutputAsset:    req.OutputAsset,
		OutputDecimals: req.OutputDecimals,
		OutputFeed:     factory.FeedID(req.OutputFeed),
		FeeBps:         req.FeeBps,
		Limits:         req.limits(),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status, err := s.engine.GetBurnChannel(r.Context(), channel.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBurnChannelView(status.BurnChannel, status.Remaining))
}

func (s *Server) handleWithdrawFee(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Source      string `json:"source"`
		Destination string `json:"destination"`
		Amount      uint64 `json:"amount"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	withdrawal, err := s.engine.WithdrawFee(r.Context(), caller, req.Source, req.Destination, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"source":      withdrawal.Source,
		"destination": withdrawal.Destination,
		"asset":       withdrawal.Asset,
		"amount":      withdrawal.Amount,
	})
}

func (s *Server) handleCreateAsset(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		ID        string `json:"id"`
		Decimals  uint16 `json:"decimals"`
		Authority string `json:"authority"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	authority, err := parseAddress("authority", req.Authority)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	asset, err := s.engine.CreateAsset(r.Context(), caller, req.ID, req.Decimals, authority)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, assetView{
		ID:            asset.ID,
		Decimals:      asset.Decimals,
		MintAuthority: formatAddress(asset.MintAuthority),
		Supply:        asset.Supply,
	})
}

func (s *Server) handleReleaseCustody(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		NewAuthority string `json:"newAuthority"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	authority, err := parseAddress("newAuthority", req.NewAuthority)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	asset := strings.TrimSpace(chi.URLParam(r, "id"))
	if err := s.engine.ReleaseAssetCustody(r.Context(), caller, asset, authority); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset": asset, "newAuthority": formatAddress(authority)})
}

func (s *Server) handleCreateFeed(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		ID          string `json:"id"`
		Description string `json:"description"`
		Decimals    uint8  `json:"decimals"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	feed, err := s.engine.CreateFeed(r.Context(), caller, req.ID, req.Description, req.Decimals)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newFeedView(feed))
}

func (s *Server) handleSubmitRound(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Answer int64 `json:"answer"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	round, err := s.engine.SubmitRound(r.Context(), caller, chi.URLParam(r, "id"), req.Answer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newRoundView(round))
}
