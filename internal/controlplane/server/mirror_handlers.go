package server

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/anthonyr0ux/trading-journal-macos/internal/ledger"
	"github.com/anthonyr0ux/trading-journal-macos/internal/services"
	"github.com/anthonyr0ux/trading-journal-macos/pkg/logger"
)

func (s *Server) handleMirrorStatus(w http.ResponseWriter, r *http.Request) {
	status := s.mirror.Status()
	if status == nil {
		status = []services.MirrorStatus{}
	}
	writeJSON(w, 200, status)
}

func (s *Server) handleMirrorStart(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "credentialID")
	if err := s.mirror.Start(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, ledger.ErrCredentialNotFound):
			writeError(w, 404, "credential not found")
		case errors.Is(err, services.ErrMirrorAlreadyRunning):
			writeError(w, 409, "mirror already running")
		default:
			writeError(w, 500, err.Error())
		}
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true})
}

func (s *Server) handleMirrorStop(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "credentialID")
	if err := s.mirror.Stop(id); err != nil {
		if errors.Is(err, services.ErrMirrorNotRunning) {
			writeError(w, 409, "mirror not running")
			return
		}
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true})
}

func (s *Server) handleMirrorPoll(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "credentialID")
	if err := s.mirror.Nudge(id); err != nil {
		writeError(w, 409, "mirror not running")
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true})
}

// Local-only daemon; the UI connects from a file:// or app origin.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEvents streams journal events over a websocket until the client
// goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("events upgrade: %v", err)
		return
	}
	defer conn.Close()

	ch, cancel := s.hub.Subscribe()
	defer cancel()

	// Reader goroutine notices the client closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case data := <-ch:
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
