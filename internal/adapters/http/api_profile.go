package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/miguelbaldi/krust/internal/application"
	"github.com/miguelbaldi/krust/internal/config"
	"github.com/miguelbaldi/krust/internal/domain"
	"github.com/miguelbaldi/krust/internal/utils"
)

func (s *Server) apiListProfiles(w http.ResponseWriter, r *http.Request) {
	_ = r
	profiles := s.profileService.ListProfiles()
	utils.Logger.Debug("api list profiles", "count", len(profiles))
	writeJSON(w, profiles)
}

func (s *Server) apiAddProfile(w http.ResponseWriter, r *http.Request) {
	var p config.ConnectionProfile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		utils.Logger.Warn("api add profile bad request", "err", err)
		http.Error(w, err.Error(), 400)
		return
	}
	if err := s.profileService.AddProfile(p); err != nil {
		utils.Logger.Error("api add profile failed", "profile", p.Name, "err", err)
		if errors.Is(err, config.ErrInvalidProfile) {
			http.Error(w, err.Error(), 400)
		} else {
			http.Error(w, err.Error(), 500)
		}
		return
	}
	utils.Logger.Info("profile added", "profile", p.Name)
	w.WriteHeader(201)
}

func (s *Server) apiUpdateProfile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "profileName")
	var p config.ConnectionProfile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		utils.Logger.Warn("api update profile bad request", "profile", name, "err", err)
		http.Error(w, err.Error(), 400)
		return
	}
	if err := s.profileService.UpdateProfile(name, p); err != nil {
		utils.Logger.Error("api update profile failed", "profile", name, "err", err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	utils.Logger.Info("profile updated", "profile", name)
	w.WriteHeader(204)
}

func (s *Server) apiDeleteProfile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "profileName")
	if err := s.profileService.DeleteProfile(name); err != nil {
		utils.Logger.Error("api delete profile failed", "profile", name, "err", err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	utils.Logger.Info("profile deleted", "profile", name)
	w.WriteHeader(204)
}

func (s *Server) apiProfileStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "profileName")
	online, err := s.profileService.IsOnline(name)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, map[string]bool{"online": online})
}

func (s *Server) apiListTopics(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "profileName")
	showInternal := r.URL.Query().Get("internal") == "true"
	topics, err := s.profileService.ListTopics(r.Context(), name, showInternal)
	if err != nil {
		utils.Logger.Error("api list topics failed", "profile", name, "err", err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, topics)
}

func (s *Server) apiDescribeTopic(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "profileName")
	topic := chi.URLParam(r, "topicName")
	td, err := s.profileService.DescribeTopic(r.Context(), name, topic)
	if err != nil {
		utils.Logger.Error("api describe topic failed", "profile", name, "topic", topic, "err", err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, td)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		utils.Logger.Error("encode response failed", "err", err)
	}
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, application.ErrProfileNotFound),
		errors.Is(err, application.ErrSessionNotFound):
		return 404
	case errors.Is(err, application.ErrSessionNotTerminal):
		return 409
	case errors.Is(err, config.ErrInvalidProfile):
		return 400
	}
	switch domain.KindOf(err) {
	case domain.ErrorInvalidRequest:
		return 400
	case domain.ErrorAuthenticationFailed:
		return 401
	case domain.ErrorTopicNotFound:
		return 404
	case domain.ErrorBrokerUnreachable:
		return 502
	default:
		return 500
	}
}
