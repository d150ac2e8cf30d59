package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/anthonyr0ux/trading-journal-macos/internal/ledger"
	"github.com/anthonyr0ux/trading-journal-macos/internal/services"
)

func (s *Server) handleCredentialsList(w http.ResponseWriter, r *http.Request) {
	views, err := s.creds.List(r.Context())
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	if views == nil {
		views = []services.CredentialView{}
	}
	writeJSON(w, 200, views)
}

func (s *Server) handleCredentialsCreate(w http.ResponseWriter, r *http.Request) {
	var req services.SaveCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid json body")
		return
	}
	req.Exchange = strings.ToLower(strings.TrimSpace(req.Exchange))
	req.Label = strings.TrimSpace(req.Label)
	if req.Exchange == "" {
		writeError(w, 400, "exchange is required")
		return
	}
	if req.Label == "" {
		req.Label = req.Exchange
	}

	cred, err := s.creds.Save(r.Context(), req)
	if err != nil {
		writeError(w, 400, err.Error())
		return
	}
	writeJSON(w, 201, cred)
}

func (s *Server) handleCredentialDelete(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "credentialID")
	if err := s.creds.Delete(r.Context(), id); err != nil {
		if errors.Is(err, ledger.ErrCredentialNotFound) {
			writeError(w, 404, "credential not found")
			return
		}
		writeError(w, 500, err.Error())
		return
	}
	// A deleted credential must not keep mirroring.
	_ = s.mirror.Stop(id)
	writeJSON(w, 200, map[string]any{"ok": true})
}

func (s *Server) handleCredentialTest(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "credentialID")
	ok, err := s.creds.Test(r.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrCredentialNotFound) {
			writeError(w, 404, "credential not found")
			return
		}
		writeJSON(w, 200, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, 200, map[string]any{"ok": ok})
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

func (s *Server) handleCredentialSetActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid json body")
		return
	}
	id := pathParam(r, "credentialID")
	if err := s.ledger.SetCredentialActive(r.Context(), id, req.Active); err != nil {
		if errors.Is(err, ledger.ErrCredentialNotFound) {
			writeError(w, 404, "credential not found")
			return
		}
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true})
}

type setAutoSyncRequest struct {
	Enabled     bool  `json:"enabled"`
	IntervalSec int64 `json:"interval_sec"`
}

func (s *Server) handleCredentialSetAutoSync(w http.ResponseWriter, r *http.Request) {
	var req setAutoSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid json body")
		return
	}
	id := pathParam(r, "credentialID")
	if err := s.ledger.SetCredentialAutoSync(r.Context(), id, req.Enabled, req.IntervalSec); err != nil {
		if errors.Is(err, ledger.ErrCredentialNotFound) {
			writeError(w, 404, "credential not found")
			return
		}
		writeError(w, 500, err.Error())
		return
	}
	// Timers follow the database immediately.
	if err := s.scheduler.Reload(r.Context()); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true})
}

type setLiveMirrorRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleCredentialSetLiveMirror(w http.ResponseWriter, r *http.Request) {
	var req setLiveMirrorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid json body")
		return
	}
	id := pathParam(r, "credentialID")
	if err := s.ledger.SetCredentialLiveMirror(r.Context(), id, req.Enabled); err != nil {
		if errors.Is(err, ledger.ErrCredentialNotFound) {
			writeError(w, 404, "credential not found")
			return
		}
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true})
}
