package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Jrooker06/ORB-Scanner-Sockets-live/cmd/relay/internal/polygon"
	"github.com/Jrooker06/ORB-Scanner-Sockets-live/pkg/models"
)

const defaultLimit = 20

// GainersService computes the ranked top-movers list.
type GainersService interface {
	ComputeGainers(ctx context.Context, limit int) (*models.GainersResponse, error)
}

// MarketAPI is the slice of the upstream REST client the passthrough
// endpoints use.
type MarketAPI interface {
	PrevClose(ctx context.Context, symbol string) (*polygon.Bar, error)
	Range(ctx context.Context, symbol string, multiplier int, timespan, from, to string) ([]polygon.Bar, error)
}

type Handler struct {
	gainers GainersService
	market  MarketAPI
	logger  *zap.Logger
}

func NewHandler(gainers GainersService, market MarketAPI, logger *zap.Logger) *Handler {
	return &Handler{gainers: gainers, market: market, logger: logger}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/gainers", h.Gainers)
	mux.HandleFunc("GET /api/v1/stocks/{symbol}/prev-close", h.PrevClose)
	mux.HandleFunc("GET /api/v1/stocks/{symbol}/range", h.Range)
}

// Gainers returns {date, source, results}. Partial upstream failure still
// yields a well-formed envelope; only both strategies failing produces an
// error payload.
func (h *Handler) Gainers(w http.ResponseWriter, r *http.Request) {
	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "limit must be an integer"})
			return
		}
		limit = parsed
	}

	resp, err := h.gainers.ComputeGainers(r.Context(), limit)
	if err != nil {
		h.logger.Error("Gainers computation failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, models.ErrorResponse{Error: "market data unavailable"})
		return
	}

	// Empty results still serialize as [], not null.
	if resp.Results == nil {
		resp.Results = []models.GainerRow{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) PrevClose(w http.ResponseWriter, r *http.Request) {
	symbol := normalizeSymbol(r.PathValue("symbol"))
	if symbol == "" {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "symbol is required"})
		return
	}

	bar, err := h.market.PrevClose(r.Context(), symbol)
	if errors.Is(err, polygon.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "no data for " + symbol})
		return
	}
	if err != nil {
		h.logger.Error("Prev close lookup failed", zap.String("symbol", symbol), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, models.ErrorResponse{Error: "market data unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, bar)
}

func (h *Handler) Range(w http.ResponseWriter, r *http.Request) {
	symbol := normalizeSymbol(r.PathValue("symbol"))
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	if symbol == "" || from == "" || to == "" {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "symbol, from and to are required"})
		return
	}

	multiplier := 1
	if raw := q.Get("multiplier"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "multiplier must be a positive integer"})
			return
		}
		multiplier = parsed
	}
	timespan := q.Get("timespan")
	if timespan == "" {
		timespan = "day"
	}

	bars, err := h.market.Range(r.Context(), symbol, multiplier, timespan, from, to)
	if err != nil {
		h.logger.Error("Range lookup failed", zap.String("symbol", symbol), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, models.ErrorResponse{Error: "market data unavailable"})
		return
	}
	if bars == nil {
		bars = []polygon.Bar{}
	}
	writeJSON(w, http.StatusOK, bars)
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
