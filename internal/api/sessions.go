package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/user/deskmate/internal/session"
	"github.com/user/deskmate/internal/state"
	"github.com/user/deskmate/internal/types"
)

type pendingResponse struct {
	Intent   string `json:"intent"`
	Slot     string `json:"slot"`
	Question string `json:"question"`
	Retries  int    `json:"retries"`
}

type sessionResponse struct {
	UserID     types.UserID     `json:"user_id"`
	Turns      int              `json:"turns"`
	Pending    *pendingResponse `json:"pending,omitempty"`
	TimeZone   string           `json:"time_zone,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	EventCount int64            `json:"event_count"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUpload)).Decode(v)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessions, err := s.sessions.List(ctx)
	if err != nil {
		slog.Error("list sessions failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	result := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		count, err := s.events.Count(ctx, sess.UserID)
		if err != nil {
			slog.Warn("count events failed", "user_id", sess.UserID, "error", err)
		}
		item := sessionResponse{
			UserID:     sess.UserID,
			Turns:      len(sess.Turns),
			TimeZone:   sess.TimeZone,
			CreatedAt:  sess.CreatedAt,
			UpdatedAt:  sess.UpdatedAt,
			EventCount: count,
		}
		if p := sess.Pending; p != nil {
			item.Pending = &pendingResponse{
				Intent:   string(p.Intent.Kind),
				Slot:     string(p.Slot),
				Question: p.Question,
				Retries:  p.Retries,
			}
		}
		result = append(result, item)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	JSON(w, http.StatusOK, result)
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	userID := types.UserID(chi.URLParam(r, "userID"))
	ctx := r.Context()

	if _, err := s.sessions.Get(ctx, userID); errors.Is(err, session.ErrNotFound) {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	if err := s.sessions.Reset(ctx, userID); err != nil {
		slog.Error("reset session failed", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err := s.events.Reset(ctx, userID); err != nil {
		slog.Warn("reset journal failed", "user_id", userID, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	userID := types.UserID(chi.URLParam(r, "userID"))

	limit := defaultEventLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := s.events.Tail(r.Context(), userID, limit)
	if err != nil {
		slog.Error("tail events failed", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if events == nil {
		events = []*types.Event{}
	}
	JSON(w, http.StatusOK, events)
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	id := types.ArtifactID(chi.URLParam(r, "id"))
	data, meta, err := s.artifacts.Get(r.Context(), id)
	if errors.Is(err, state.ErrArtifactNotFound) {
		Error(w, http.StatusNotFound, "artifact not found")
		return
	}
	if err != nil {
		slog.Error("read artifact failed", "artifact_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	mimeType := meta.MimeType
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}
