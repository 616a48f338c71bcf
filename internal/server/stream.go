package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/facesync/pkg/audio"
)

// writeTimeout bounds a single WebSocket write; a client that cannot keep up
// for this long is disconnected.
const writeTimeout = 5 * time.Second

// audioFormat is sent as a text message before the first binary chunk and
// whenever the PCM format changes.
type audioFormat struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
}

// handleStream pushes every status change of an avatar as a JSON text message.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	updates, cancel, err := s.svc.Subscribe(name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer cancel()

	conn, err := s.accept(w, r)
	if err != nil {
		s.logger.Debug("status stream: accept failed", "avatar", name, "error", err)
		return
	}
	defer conn.CloseNow()
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "avatar unloaded")
				return
			}
			if err := write(ctx, func(ctx context.Context) error { return wsjson.Write(ctx, conn, st) }); err != nil {
				s.logDisconnect("status stream", name, err)
				return
			}
		}
	}
}

// handleAudio forwards the avatar's PCM output as binary messages.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	chunks, cancel, err := s.svc.SubscribeAudio(name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer cancel()

	conn, err := s.accept(w, r)
	if err != nil {
		s.logger.Debug("audio stream: accept failed", "avatar", name, "error", err)
		return
	}
	defer conn.CloseNow()
	ctx := conn.CloseRead(r.Context())

	var format audioFormat
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-chunks:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "avatar unloaded")
				return
			}
			if f.SampleRate != format.SampleRate || f.Channels != format.Channels {
				format = audioFormat{Type: "format", SampleRate: f.SampleRate, Channels: f.Channels}
				if err := write(ctx, func(ctx context.Context) error { return wsjson.Write(ctx, conn, format) }); err != nil {
					s.logDisconnect("audio stream", name, err)
					return
				}
			}
			if err := write(ctx, binaryWriter(conn, f)); err != nil {
				s.logDisconnect("audio stream", name, err)
				return
			}
		}
	}
}

func binaryWriter(conn *websocket.Conn, f audio.AudioFrame) func(context.Context) error {
	return func(ctx context.Context) error {
		return conn.Write(ctx, websocket.MessageBinary, f.Data)
	}
}

func write(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return fn(ctx)
}

func (s *Server) logDisconnect(stream, avatar string, err error) {
	if errors.Is(err, context.Canceled) || websocket.CloseStatus(err) != -1 {
		s.logger.Debug(stream+": client gone", "avatar", avatar)
		return
	}
	s.logger.Warn(stream+": write failed", "avatar", avatar, "error", err)
}
