// Package httpserver exposes the engine over a JSON API: connection
// profiles, topic browsing, session lifecycle, cached-message paging, CSV
// export and a WebSocket progress stream.
package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/miguelbaldi/krust/internal/application"
	"github.com/miguelbaldi/krust/internal/utils"
)

// Server provides the HTTP API endpoints.
type Server struct {
	profileService *application.ProfileService
	sessionService *application.SessionService
}

// New creates a new HTTP server instance.
func New(profileService *application.ProfileService, sessionService *application.SessionService) *Server {
	return &Server{
		profileService: profileService,
		sessionService: sessionService,
	}
}

// Run starts the HTTP server on the given address.
func (s *Server) Run(addr string) error {
	utils.Logger.Info("HTTP server listening", "addr", addr)
	return http.ListenAndServe(addr, s.routes())
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			dur := time.Since(start)
			utils.Logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", dur.String(),
			)
		})
	})

	r.Get("/api/profiles", s.apiListProfiles)
	r.Post("/api/profiles", s.apiAddProfile)
	r.Put("/api/profiles/{profileName}", s.apiUpdateProfile)
	r.Delete("/api/profiles/{profileName}", s.apiDeleteProfile)
	r.Get("/api/profiles/{profileName}/status", s.apiProfileStatus)
	r.Get("/api/profiles/{profileName}/topics", s.apiListTopics)
	r.Get("/api/profiles/{profileName}/topics/{topicName}", s.apiDescribeTopic)

	r.Post("/api/sessions", s.apiOpenSession)
	r.Get("/api/sessions", s.apiListSessions)
	r.Get("/api/sessions/{sessionID}", s.apiSessionStatus)
	r.Post("/api/sessions/{sessionID}/cancel", s.apiCancelSession)
	r.Post("/api/sessions/{sessionID}/resume", s.apiResumeSession)
	r.Delete("/api/sessions/{sessionID}", s.apiCloseSession)
	r.Get("/api/sessions/{sessionID}/messages", s.apiPageMessages)
	r.Get("/api/sessions/{sessionID}/count", s.apiCountMessages)
	r.Get("/api/sessions/{sessionID}/export", s.apiExportSession)
	r.Get("/api/sessions/{sessionID}/ws", s.wsSessionProgress)

	return r
}
