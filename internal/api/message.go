package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/user/deskmate/internal/gateway"
	"github.com/user/deskmate/internal/types"
)

type messageRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
	// Image is base64 in JSON.
	Image         []byte `json:"image,omitempty"`
	ImageMimeType string `json:"image_mime_type,omitempty"`
	AudioReply    bool   `json:"audio_reply,omitempty"`
}

type imageResponse struct {
	ArtifactID types.ArtifactID `json:"artifact_id,omitempty"`
	URL        string           `json:"url,omitempty"`
	MimeType   string           `json:"mime_type,omitempty"`
}

type messageResponse struct {
	UserID      types.UserID    `json:"user_id"`
	Text        string          `json:"text"`
	Images      []imageResponse `json:"images,omitempty"`
	Audio       []byte          `json:"audio,omitempty"`
	AudioFormat string          `json:"audio_format,omitempty"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		Error(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if strings.TrimSpace(req.Text) == "" && len(req.Image) == 0 {
		Error(w, http.StatusBadRequest, "text or image is required")
		return
	}

	event := &types.InboundEvent{
		Source:             Source,
		UserID:             types.NewUserID(Source, req.UserID),
		Text:               req.Text,
		Timestamp:          time.Now(),
		RequestsAudioReply: req.AudioReply,
	}
	if len(req.Image) > 0 {
		mimeType := req.ImageMimeType
		if mimeType == "" {
			mimeType = http.DetectContentType(req.Image)
		}
		event.Image = &types.Attachment{Data: req.Image, MimeType: mimeType}
	}
	s.ask(w, r, event)
}

// handleAudioMessage accepts a multipart form with a user_id field and an
// audio file. The reply carries synthesized speech.
func (s *Server) handleAudioMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	userID := strings.TrimSpace(r.FormValue("user_id"))
	if userID == "" {
		Error(w, http.StatusBadRequest, "user_id is required")
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		Error(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil || len(data) == 0 {
		Error(w, http.StatusBadRequest, "audio file is empty")
		return
	}

	format := r.FormValue("format")
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
	}
	if format == "" {
		format = "wav"
	}

	event := &types.InboundEvent{
		Source:             Source,
		UserID:             types.NewUserID(Source, userID),
		Text:               r.FormValue("text"),
		Audio:              &types.Audio{Data: data, Format: format},
		Timestamp:          time.Now(),
		RequestsAudioReply: true,
	}
	s.ask(w, r, event)
}

func (s *Server) ask(w http.ResponseWriter, r *http.Request, event *types.InboundEvent) {
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.ReplyTimeout)
	defer cancel()

	reply, err := s.asker.Ask(ctx, event)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		slog.Warn("reply timed out", "user_id", event.UserID)
		Error(w, http.StatusGatewayTimeout, "timed out waiting for a reply")
		return
	case errors.Is(err, gateway.ErrQueueStopped), errors.Is(err, gateway.ErrQueueFull):
		Error(w, http.StatusServiceUnavailable, err.Error())
		return
	default:
		slog.Error("ask failed", "user_id", event.UserID, "error", err)
		Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := messageResponse{UserID: event.UserID, Text: reply.Text}
	for _, img := range reply.Images {
		resp.Images = append(resp.Images, imageResponse{ArtifactID: img.ArtifactID, URL: img.URL, MimeType: img.MimeType})
	}
	if reply.Audio != nil {
		resp.Audio = reply.Audio.Data
		resp.AudioFormat = reply.Audio.Format
	}
	JSON(w, http.StatusOK, resp)
}
