package httpserver

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/miguelbaldi/krust/internal/utils"
)

var wsUpgrader = websocket.Upgrader{
	// TODO: tighten CORS/origin as needed. For now allow all to simplify local usage.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsSessionProgress upgrades to WebSocket and streams progress events for
// the session until it reaches a terminal status or the client disconnects.
func (s *Server) wsSessionProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	events, err := s.sessionService.Subscribe(id)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		utils.Logger.Error("websocket upgrade failed", "session", id, "err", err)
		http.Error(w, "websocket upgrade failed", http.StatusBadRequest)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetCloseHandler(func(code int, text string) error {
		utils.Logger.Info("websocket close handler triggered", "session", id, "code", code)
		cancel()
		return nil
	})

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				utils.Logger.Info("websocket client disconnected", "session", id, "err", err)
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				utils.Logger.Info("progress stream finished", "session", id)
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				utils.Logger.Info("websocket write failed, stopping stream", "session", id, "err", err)
				return
			}
		}
	}
}
