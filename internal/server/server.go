// Package server exposes the avatar service over HTTP.
//
// Routes:
//
//	POST /api/avatars/{name}/speak     submit speech, returns 202 {session_id}
//	POST /api/avatars/{name}/stop      stop the active session
//	GET  /api/avatars/{name}/status    current playback status
//	GET  /api/avatars/{name}/frame.png snapshot of the render surface
//	GET  /api/avatars/{name}/stream    WebSocket feed of status changes
//	GET  /api/avatars/{name}/audio     WebSocket feed of binary PCM chunks
//	GET  /api/avatars                  configured avatars and asset readiness
//
// plus /healthz, /readyz and /metrics when the corresponding handlers are
// configured. Every route is wrapped in [observe.Middleware].
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/MrWong99/facesync/internal/health"
	"github.com/MrWong99/facesync/internal/observe"
	"github.com/MrWong99/facesync/pkg/audio"
	"github.com/MrWong99/facesync/pkg/frames"
	"github.com/MrWong99/facesync/pkg/lipsync"
	"github.com/MrWong99/facesync/pkg/render"
)

// ErrUnknownAvatar is returned by a [Service] for a name that is not
// configured. Handlers map it to 404.
var ErrUnknownAvatar = errors.New("server: unknown avatar")

// AvatarInfo summarises one configured avatar for the listing endpoint.
type AvatarInfo struct {
	Name     string           `json:"name"`
	Ready    bool             `json:"ready"`
	Frames   int              `json:"frames"`
	Missing  []frames.FrameID `json:"missing,omitempty"`
	State    lipsync.State    `json:"state"`
	Selector string           `json:"selector"`
}

// Service is the avatar runtime the HTTP layer drives. Methods taking an
// avatar name return [ErrUnknownAvatar] for names that are not configured.
type Service interface {
	Avatars() []AvatarInfo
	Submit(ctx context.Context, avatar string, req lipsync.SpeechRequest) (string, error)
	Stop(avatar string) error
	Status(avatar string) (lipsync.Status, error)
	Subscribe(avatar string) (<-chan lipsync.Status, func(), error)
	SubscribeAudio(avatar string) (<-chan audio.AudioFrame, func(), error)
	Surface(avatar string) (*render.Surface, error)
}

// Server holds the HTTP handlers. Create one with [New].
type Server struct {
	svc     Service
	health  *health.Handler
	metrics *observe.Metrics
	prom    http.Handler
	logger  *slog.Logger

	// maxBody bounds speak request bodies.
	maxBody int64

	limitMu  sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter

	// origins lists extra WebSocket origin patterns; same-origin is always allowed.
	origins []string
}

// Option configures a [Server].
type Option func(*Server)

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics sets the metrics used by the request middleware. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithPrometheus mounts h at /metrics.
func WithPrometheus(h http.Handler) Option {
	return func(s *Server) { s.prom = h }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithSubmitLimit throttles speak requests per avatar to r per second with
// the given burst. r <= 0 disables throttling.
func WithSubmitLimit(r float64, burst int) Option {
	return func(s *Server) {
		if r <= 0 {
			s.limit = rate.Inf
			return
		}
		s.limit = rate.Limit(r)
		s.burst = max(burst, 1)
	}
}

// WithMaxBody bounds the size of a speak request body in bytes.
func WithMaxBody(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithOriginPatterns allows cross-origin WebSocket clients matching the
// given host patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = append(s.origins, patterns...) }
}

// defaultMaxBody leaves room for a minute of base64 encoded WAV audio.
const defaultMaxBody = 16 << 20

// New creates a Server for svc.
func New(svc Service, opts ...Option) *Server {
	s := &Server{
		svc:      svc,
		logger:   slog.Default(),
		maxBody:  defaultMaxBody,
		limit:    rate.Inf,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the root handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/avatars", s.handleList)
	mux.HandleFunc("POST /api/avatars/{name}/speak", s.handleSpeak)
	mux.HandleFunc("POST /api/avatars/{name}/stop", s.handleStop)
	mux.HandleFunc("GET /api/avatars/{name}/status", s.handleStatus)
	mux.HandleFunc("GET /api/avatars/{name}/frame.png", s.handleFrame)
	mux.HandleFunc("GET /api/avatars/{name}/stream", s.handleStream)
	mux.HandleFunc("GET /api/avatars/{name}/audio", s.handleAudio)

	if s.health != nil {
		s.health.Register(mux)
	}
	if s.prom != nil {
		mux.Handle("GET /metrics", s.prom)
	}
	return observe.Middleware(s.metrics)(mux)
}

// allow reports whether another submission for avatar may proceed now.
func (s *Server) allow(avatar string) bool {
	if s.limit == rate.Inf {
		return true
	}
	s.limitMu.Lock()
	l, ok := s.limiters[avatar]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[avatar] = l
	}
	s.limitMu.Unlock()
	return l.Allow()
}
