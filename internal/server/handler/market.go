package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/crowdsignal/internal/domain"
	"github.com/alanyoungcy/crowdsignal/internal/market"
	"github.com/alanyoungcy/crowdsignal/internal/service"
)

// MarketService is the subset of the service layer the market handler needs.
type MarketService interface {
	List(userID, category string) service.MarketList
	Get(id, userID string) (service.MarketView, error)
	Create(ctx context.Context, in market.NewMarket, userID string) (service.MarketView, error)
	Vote(ctx context.Context, id, userID, ballot string) (service.MarketView, error)
	Resolve(ctx context.Context, id, outcome, userID string) (service.MarketView, error)
	Delete(ctx context.Context, id, confirm string) error
	History(ctx context.Context, limit int) ([]domain.AuditEntry, error)
}

// MarketHandler serves the market endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger.With(slog.String("handler", "market")),
	}
}

// createMarketRequest accepts expiry_days as a JSON number or string.
type createMarketRequest struct {
	Question   string     `json:"question"`
	Category   string     `json:"category"`
	ExpiryDays expiryDays `json:"expiry_days"`
}

// expiryDays keeps the raw text of the expiry field so the store can apply
// its own lenient integer parsing.
type expiryDays string

func (e *expiryDays) UnmarshalJSON(b []byte) error {
	if s, err := strconv.Unquote(string(b)); err == nil {
		*e = expiryDays(s)
		return nil
	}
	if string(b) == "null" {
		*e = ""
		return nil
	}
	*e = expiryDays(b)
	return nil
}

type voteRequest struct {
	Ballot string `json:"ballot"`
}

type resolveRequest struct {
	Outcome string `json:"outcome"`
}

type deleteRequest struct {
	Confirm string `json:"confirm"`
}

// ListMarkets returns the markets, optionally filtered by category.
// GET /api/markets?category=Tech
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.markets.List(userID(r), r.URL.Query().Get("category")))
}

// GetMarket returns one market.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	v, err := h.markets.Get(pathParam(r, "id"), userID(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// CreateMarket adds a market.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	v, err := h.markets.Create(r.Context(), market.NewMarket{
		Question:   req.Question,
		Category:   req.Category,
		ExpiryDays: string(req.ExpiryDays),
	}, userID(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// Vote casts or toggles the caller's ballot.
// POST /api/markets/{id}/vote
func (h *MarketHandler) Vote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	v, err := h.markets.Vote(r.Context(), pathParam(r, "id"), userID(r), req.Ballot)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Resolve records a market's outcome.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	v, err := h.markets.Resolve(r.Context(), pathParam(r, "id"), req.Outcome, userID(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// DeleteMarket removes a market. The confirmation word comes from ?confirm=
// or the JSON body.
// DELETE /api/markets/{id}
func (h *MarketHandler) DeleteMarket(w http.ResponseWriter, r *http.Request) {
	confirm := r.URL.Query().Get("confirm")
	if confirm == "" {
		var req deleteRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		confirm = req.Confirm
	}

	id := pathParam(r, "id")
	if err := h.markets.Delete(r.Context(), id, confirm); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// ListEvents returns the most recent market events from the audit log.
// GET /api/events?limit=50
func (h *MarketHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	entries, err := h.markets.History(r.Context(), parseLimit(r, 50))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": entries})
}
