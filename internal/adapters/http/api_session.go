package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/miguelbaldi/krust/internal/domain"
	"github.com/miguelbaldi/krust/internal/utils"
)

// openSessionRequest is the JSON body for POST /api/sessions.
type openSessionRequest struct {
	Profile    string    `json:"profile"`
	Topic      string    `json:"topic"`
	Partitions []int32   `json:"partitions,omitempty"`
	Mode       string    `json:"mode"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
	Offset     int64     `json:"offset,omitempty"`
	MaxPerPart int64     `json:"max_per_part,omitempty"`
}

func (s *Server) apiOpenSession(w http.ResponseWriter, r *http.Request) {
	var body openSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.Logger.Warn("api open session bad request", "err", err)
		http.Error(w, err.Error(), 400)
		return
	}

	req := domain.ConsumptionRequest{
		Topic:      body.Topic,
		Partitions: body.Partitions,
		Mode:       domain.SelectionMode(body.Mode),
		Timestamp:  body.Timestamp,
		Offset:     body.Offset,
		MaxPerPart: body.MaxPerPart,
	}
	id, err := s.sessionService.OpenSession(r.Context(), body.Profile, req)
	if err != nil {
		utils.Logger.Error("api open session failed", "profile", body.Profile, "topic", body.Topic, "err", err)
		if id == "" {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		// The session exists but failed to start; report both.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusFor(err))
		_ = json.NewEncoder(w).Encode(map[string]string{"id": id, "error": err.Error()})
		return
	}
	utils.Logger.Info("session opened", "session", id, "profile", body.Profile, "topic", body.Topic)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(201)
	_ = json.NewEncoder(w).Encode(map[string]string{"id": id})
}

func (s *Server) apiListSessions(w http.ResponseWriter, r *http.Request) {
	_ = r
	writeJSON(w, s.sessionService.ListSessions())
}

func (s *Server) apiSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	st, err := s.sessionService.Status(id)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, st)
}

func (s *Server) apiCancelSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := s.sessionService.CancelSession(id); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	utils.Logger.Info("session cancel requested", "session", id)
	w.WriteHeader(202)
}

func (s *Server) apiResumeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := s.sessionService.ResumeSession(r.Context(), id); err != nil {
		utils.Logger.Error("api resume session failed", "session", id, "err", err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	utils.Logger.Info("session resumed", "session", id)
	w.WriteHeader(202)
}

func (s *Server) apiCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := s.sessionService.CloseSession(r.Context(), id); err != nil {
		utils.Logger.Error("api close session failed", "session", id, "err", err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	utils.Logger.Info("session closed", "session", id)
	w.WriteHeader(204)
}

func (s *Server) apiPageMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	q := r.URL.Query()

	pageSize := 0
	if raw := q.Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid page_size", 400)
			return
		}
		pageSize = n
	}

	filter, err := filterFromQuery(q)
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	page, err := s.sessionService.Page(r.Context(), id, q.Get("cursor"), pageSize, filter, domain.SortOrder(q.Get("order")))
	if err != nil {
		utils.Logger.Error("api page messages failed", "session", id, "err", err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, page)
}

func (s *Server) apiCountMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	filter, err := filterFromQuery(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	n, err := s.sessionService.Count(r.Context(), id, filter)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, map[string]int64{"count": n})
}

func (s *Server) apiExportSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	filter, err := filterFromQuery(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if _, err := s.sessionService.Status(id); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.csv"`)
	if _, err := s.sessionService.ExportSync(r.Context(), id, filter, w); err != nil {
		// Headers are gone; all we can do is log and stop the stream.
		utils.Logger.Error("api export failed mid-stream", "session", id, "err", err)
	}
}

// filterFromQuery builds the cache filter from query parameters. Timestamps
// accept RFC 3339.
func filterFromQuery(q map[string][]string) (*domain.Filter, error) {
	get := func(k string) string {
		if vs := q[k]; len(vs) > 0 {
			return vs[0]
		}
		return ""
	}

	f := &domain.Filter{Query: get("query"), Regex: get("regex")}
	if raw := get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, domain.Errorf(domain.ErrorInvalidRequest, "api.filter", "invalid from timestamp %q", raw)
		}
		f.From = t
	}
	if raw := get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, domain.Errorf(domain.ErrorInvalidRequest, "api.filter", "invalid to timestamp %q", raw)
		}
		f.To = t
	}
	if f.IsZero() {
		return nil, nil
	}
	return f, nil
}
