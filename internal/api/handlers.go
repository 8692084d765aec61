package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"duel/internal/match"
	"duel/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a refusal to its HTTP status. Anything that is not a
// match.Error is logged and reported as internal_error.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch match.KindOf(err) {
	case match.KindValidation:
		status = http.StatusBadRequest
	case match.KindNotFound:
		status = http.StatusNotFound
	case match.KindStateConflict, match.KindInsufficientFunds, match.KindInsufficientHolding:
		status = http.StatusConflict
	case match.KindNotAuthorized:
		status = http.StatusForbidden
	default:
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, status, errorResponse{Code: "internal_error", Message: "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Code: match.CodeOf(err), Message: err.Error()})
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.archive != nil {
		if err := s.archive.Ping(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "archive": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleOpenMatches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.GetOpenMatches())
}

func (s *Server) handleActiveMatches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.GetActiveMatches())
}

func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.GetMatch(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handlePlayerMatches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.GetMatchesForPlayer(chi.URLParam(r, "address")))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.prices.Current())
}

type historyResponse struct {
	Matches []store.MatchRecord `json:"matches"`
	Totals  *store.Totals       `json:"totals"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	matches, err := s.archive.GetRecentMatches(limitParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	totals, err := s.archive.GetTotals()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Matches: matches, Totals: totals})
}

type archivedMatchResponse struct {
	*store.MatchRecord
	Trades []store.TradeRecord `json:"trades"`
}

func (s *Server) handleHistoryMatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.archive.GetMatch(id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, r, match.ErrMatchNotFound)
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	trades, err := s.archive.GetMatchTrades(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, archivedMatchResponse{MatchRecord: rec, Trades: trades})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.archive.GetLeaderboard(limitParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handlePlayerRecord(w http.ResponseWriter, r *http.Request) {
	player, err := NormalizeAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.archive.GetPlayerRecord(player)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
