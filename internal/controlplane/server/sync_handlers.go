package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/anthonyr0ux/trading-journal-macos/internal/exchange"
	"github.com/anthonyr0ux/trading-journal-macos/internal/ledger"
	"github.com/anthonyr0ux/trading-journal-macos/internal/services"
)

// syncNowRequest is the optional body of a manual sync. Omitted fields
// mean incremental sync from the cursor with dedup on.
type syncNowRequest struct {
	StartTime      int64 `json:"start_time"`
	EndTime        int64 `json:"end_time"`
	SkipDuplicates *bool `json:"skip_duplicates"`
}

func (s *Server) handleSyncNow(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "credentialID")

	var req syncNowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, 400, "invalid request body")
		return
	}
	opts := services.DefaultSyncOptions()
	opts.StartTime = req.StartTime
	opts.EndTime = req.EndTime
	if req.SkipDuplicates != nil {
		opts.SkipDuplicates = *req.SkipDuplicates
	}

	res, err := s.syncer.SyncNow(r.Context(), id, ledger.TriggerManual, opts)
	if err != nil {
		if errors.Is(err, ledger.ErrCredentialNotFound) {
			writeError(w, 404, "credential not found")
			return
		}
		writeError(w, 502, err.Error())
		return
	}
	writeJSON(w, 200, res)
}

func (s *Server) handleOpenOrders(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "credentialID")
	client, _, err := s.creds.Client(r.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrCredentialNotFound) {
			writeError(w, 404, "credential not found")
			return
		}
		writeError(w, 500, err.Error())
		return
	}
	orders, err := client.OpenOrders(r.Context(), r.URL.Query().Get("symbol"))
	if err != nil {
		writeError(w, 502, err.Error())
		return
	}
	if orders == nil {
		orders = []exchange.OpenOrder{}
	}
	writeJSON(w, 200, orders)
}

func (s *Server) handleSyncHistory(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "credentialID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	hist, err := s.ledger.ListSyncHistory(r.Context(), id, limit)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	if hist == nil {
		hist = []ledger.SyncRecord{}
	}
	writeJSON(w, 200, hist)
}

func (s *Server) handleTradesList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	trades, err := s.ledger.ListTrades(r.Context(), limit)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	if trades == nil {
		trades = []ledger.Trade{}
	}
	writeJSON(w, 200, trades)
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	tasks := s.scheduler.ActiveTasks()
	if tasks == nil {
		tasks = []string{}
	}
	writeJSON(w, 200, map[string]any{"active_tasks": tasks})
}

func (s *Server) handleSchedulerReload(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.Reload(r.Context()); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	tasks := s.scheduler.ActiveTasks()
	if tasks == nil {
		tasks = []string{}
	}
	writeJSON(w, 200, map[string]any{"ok": true, "active_tasks": tasks})
}

func (s *Server) handleDebugTradeCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.ledger.CountTrades(r.Context())
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, counts)
}

func (s *Server) handleDebugRestoreTrades(w http.ResponseWriter, r *http.Request) {
	n, err := s.ledger.RestoreDeletedTrades(r.Context())
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true, "restored": n})
}
