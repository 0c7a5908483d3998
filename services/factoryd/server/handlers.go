package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"stablefactory/native/factory"
	"stablefactory/services/factoryd/audit"
)

func (s *Server) handleListMintChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.engine.ListMintChannels(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]mintChannelView, len(channels))
	for i, status := range channels {
		out[i] = newMintChannelView(status.MintChannel, status.Remaining)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetMintChannel(w http.ResponseWriter, r *http.Request) {
	id, err := channelParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status, err := s.engine.GetMintChannel(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newMintChannelView(status.MintChannel, status.Remaining))
}

func (s *Server) handleListBurnChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.engine.ListBurnChannels(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]burnChannelView, len(channels))
	for i, status := range channels {
		out[i] = newBurnChannelView(status.BurnChannel, status.Remaining)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetBurnChannel(w http.ResponseWriter, r *http.Request) {
	id, err := channelParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status, err := s.engine.GetBurnChannel(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBurnChannelView(status.BurnChannel, status.Remaining))
}

type quoteRequest struct {
	Amount uint64 `json:"amount"`
}

func (s *Server) handleQuoteMint(w http.ResponseWriter, r *http.Request) {
	id, err := channelParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req quoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	quote, err := s.engine.QuoteMint(r.Context(), id, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mintQuoteView{
		Channel: quote.Channel.String(),
		Amount:  quote.Amount,
		Fee:     quote.Fee,
		Payout:  quote.Payout,
		Legs:    newLegTransferViews(quote.Legs),
	})
}

func (s *Server) handleQuoteBurn(w http.ResponseWriter, r *http.Request) {
	id, err := channelParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req quoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	quote, err := s.engine.QuoteBurn(r.Context(), id, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, burnQuoteView{
		Channel:    quote.Channel.String(),
		Amount:     quote.Amount,
		StableCost: quote.StableCost,
		Fee:        quote.Fee,
		Payout:     quote.Payout,
		Price:      priceView{Value: quote.Price.Value, Precision: quote.Price.Precision},
	})
}

type legRouteJSON struct {
	Asset       string `json:"asset"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Feed        string `json:"feed"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
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
		Amount    uint64         `json:"amount"`
		Recipient string         `json:"recipient"`
		Legs      []legRouteJSON `json:"legs"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	legs := make([]factory.LegRoute, len(req.Legs))
	for i, leg := range req.Legs {
		legs[i] = factory.LegRoute{
			Asset:       leg.Asset,
			Source:      leg.Source,
			Destination: leg.Destination,
			Feed:        factory.FeedID(leg.Feed),
		}
	}
	receipt, err := s.engine.Mint(r.Context(), factory.MintRequest{
		Channel:   id,
		Requester: caller,
		Amount:    req.Amount,
		Legs:      legs,
		Recipient: req.Recipient,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newMintReceiptView(receipt))
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
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
		Amount uint64 `json:"amount"`
		Route  struct {
			StableSource      string `json:"stableSource"`
			StableCustody     string `json:"stableCustody"`
			OutputSource      string `json:"outputSource"`
			OutputDestination string `json:"outputDestination"`
			Feed              string `json:"feed"`
		} `json:"route"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	receipt, err := s.engine.Burn(r.Context(), factory.BurnRequest{
		Channel:   id,
		Requester: caller,
		Amount:    req.Amount,
		Route: factory.BurnRoute{
			StableSource:      req.Route.StableSource,
			StableCustody:     req.Route.StableCustody,
			OutputSource:      req.Route.OutputSource,
			OutputDestination: req.Route.OutputDestination,
			Feed:              factory.FeedID(req.Route.Feed),
		},
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBurnReceiptView(receipt))
}

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.ListFeeds(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]feedView, len(list))
	for i, feed := range list {
		out[i] = newFeedView(feed)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		ID    string `json:"id"`
		Asset string `json:"asset"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	account, err := s.engine.OpenAccount(r.Context(), caller, req.ID, req.Asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAccountView(account))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.engine.Account(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountView(account))
}

// handleListAccounts lists the caller's accounts, or another owner's when
// the owner query parameter is set.
func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	owner := caller
	if raw := strings.TrimSpace(r.URL.Query().Get("owner")); raw != "" {
		parsed, err := parseAddress("owner", raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		owner = parsed
	}
	accounts, err := s.engine.AccountsByOwner(r.Context(), owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]accountView, len(accounts))
	for i, account := range accounts {
		out[i] = newAccountView(account)
	}
	writeJSON(w, http.StatusOK, out)
}

type auditRecordView struct {
	audit.Record
	Attributes map[string]string `json:"attributes"`
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeProblem(w, http.StatusServiceUnavailable, factory.CodeUnavailable, "audit log not configured")
		return
	}
	query := audit.Query{
		Type:    r.URL.Query().Get("type"),
		Channel: r.URL.Query().Get("channel"),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeProblem(w, http.StatusBadRequest, factory.CodeInvalidInput, "limit must be a non-negative integer")
			return
		}
		query.Limit = limit
	}
	records, err := s.audit.Recent(r.Context(), query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]auditRecordView, 0, len(records))
	for _, record := range records {
		attrs, err := record.Decode()
		if err != nil {
			s.logger.Warn("undecodable audit record", "id", record.ID.String(), "error", err)
			continue
		}
		out = append(out, auditRecordView{Record: record, Attributes: attrs})
	}
	writeJSON(w, http.StatusOK, out)
}
