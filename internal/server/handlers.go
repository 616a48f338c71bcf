package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"strconv"

	"github.com/MrWong99/facesync/internal/observe"
	"github.com/MrWong99/facesync/pkg/audio"
	"github.com/MrWong99/facesync/pkg/lipsync"
	"github.com/MrWong99/facesync/pkg/viseme"
)

// speakRequest is the body of POST /api/avatars/{name}/speak. It matches the
// response of the text-to-speech backend: base64 audio plus the estimated
// viseme timeline.
type speakRequest struct {
	Text        string          `json:"text"`
	AudioBase64 string          `json:"audio_base64"`
	Visemes     viseme.Timeline `json:"visemes"`
}

type speakResponse struct {
	SessionID string `json:"session_id"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"avatars": s.svc.Avatars()})
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, err := s.svc.Status(name); err != nil {
		s.fail(w, r, err)
		return
	}
	if !s.allow(name) {
		respondError(w, http.StatusTooManyRequests, "rate_limited", "too many speech submissions for "+name)
		return
	}

	var req speakRequest
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := decodeJSON(r, &req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			respondError(w, http.StatusRequestEntityTooLarge, "body_too_large", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	payload, err := base64.StdEncoding.DecodeString(req.AudioBase64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_audio", fmt.Sprintf("audio_base64: %v", err))
		return
	}
	for i, ev := range req.Visemes {
		if !ev.Class.Valid() {
			respondError(w, http.StatusBadRequest, "invalid_viseme", fmt.Sprintf("visemes[%d]: unknown class %d", i, int(ev.Class)))
			return
		}
	}

	id, err := s.svc.Submit(r.Context(), name, lipsync.SpeechRequest{
		Text:     req.Text,
		Audio:    payload,
		Timeline: req.Visemes,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	observe.Logger(r.Context(), s.logger).Debug("speech accepted", "avatar", name, "session_id", id, "events", len(req.Visemes))
	respondJSON(w, http.StatusAccepted, speakResponse{SessionID: id})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.svc.Stop(name); err != nil {
		s.fail(w, r, err)
		return
	}
	st, err := s.svc.Status(name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.PathValue("name"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	surface, err := s.svc.Surface(r.PathValue("name"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	version := surface.Version()
	img, id, ok := surface.Snapshot()
	if !ok {
		respondError(w, http.StatusNotFound, "no_frame", "nothing drawn yet")
		return
	}
	etag := `"` + strconv.FormatUint(version, 10) + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Frame-ID", strconv.Itoa(int(id)))
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// fail maps service errors to HTTP responses.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrUnknownAvatar):
		respondError(w, http.StatusNotFound, "unknown_avatar", err.Error())
	case errors.Is(err, lipsync.ErrEmptyAudio), errors.Is(err, audio.ErrEmptyPayload):
		respondError(w, http.StatusBadRequest, "empty_audio", err.Error())
	case errors.Is(err, lipsync.ErrClosed):
		respondError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		observe.Logger(r.Context(), s.logger).Error("request failed", "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
