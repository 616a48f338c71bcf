// Package assets loads and caches the still-image frames of an avatar.
//
// Frames live in a [Store] under "<avatar>/frame-<id>.png". [DirStore] reads
// them from the local filesystem, [HTTPStore] fetches them from a static file
// server and [MapStore] keeps them in memory for tests and embedded builds.
//
// A [Cache] belongs to one avatar instance. It preloads frames concurrently
// and serves decoded images to the renderer without blocking; frames that are
// still loading or failed to load are simply reported as missing.
package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/facesync/pkg/frames"
)

// ErrNotFound is returned by a [Store] when the requested frame does not exist.
var ErrNotFound = errors.New("assets: frame not found")

// Store opens the encoded image of a single avatar frame.
//
// Implementations must be safe for concurrent use.
type Store interface {
	Open(ctx context.Context, avatar string, id frames.FrameID) (io.ReadCloser, error)
}

// FrameName returns the file name of frame id, e.g. "frame-7.png".
func FrameName(id frames.FrameID) string {
	return fmt.Sprintf("frame-%d.png", id)
}

// ── Filesystem ───────────────────────────────────────────────────────────────

// DirStore reads frames from Root/<avatar>/frame-<id>.png.
type DirStore struct {
	Root string
}

var _ Store = DirStore{}

// Open implements [Store].
func (d DirStore) Open(ctx context.Context, avatar string, id frames.FrameID) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := filepath.Join(d.Root, filepath.FromSlash(avatar), FrameName(id))
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return nil, fmt.Errorf("assets: open %s: %w", p, err)
	}
	return f, nil
}

// ── HTTP ─────────────────────────────────────────────────────────────────────

// HTTPStore fetches frames from BaseURL/<avatar>/frame-<id>.png.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

var _ Store = (*HTTPStore)(nil)

// HTTPOption configures an [HTTPStore].
type HTTPOption func(*HTTPStore)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPStore) { s.client = c }
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) HTTPOption {
	return func(s *HTTPStore) {
		if d > 0 {
			s.client = &http.Client{Timeout: d}
		}
	}
}

// NewHTTPStore creates an HTTPStore rooted at baseURL
// (for example "http://localhost:5173/models").
func NewHTTPStore(baseURL string, opts ...HTTPOption) *HTTPStore {
	s := &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// URL returns the address of frame id for avatar.
func (s *HTTPStore) URL(avatar string, id frames.FrameID) string {
	return s.baseURL + "/" + url.PathEscape(avatar) + "/" + FrameName(id)
}

// Open implements [Store].
func (s *HTTPStore) Open(ctx context.Context, avatar string, id frames.FrameID) (io.ReadCloser, error) {
	u := s.URL(avatar, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("assets: build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("assets: fetch %s: %w", u, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, u)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		resp.Body.Close()
		return nil, fmt.Errorf("assets: fetch %s: unexpected status %s", u, resp.Status)
	}
	return resp.Body, nil
}

// ── In-memory ────────────────────────────────────────────────────────────────

// MapStore is an in-memory [Store] keyed by "<avatar>/frame-<id>.png".
// The zero value is ready to use.
type MapStore struct {
	mu    sync.RWMutex
	files map[string][]byte
}

var _ Store = (*MapStore)(nil)

// Put stores the encoded image data for a frame, replacing any previous value.
func (m *MapStore) Put(avatar string, id frames.FrameID, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files == nil {
		m.files = make(map[string][]byte)
	}
	m.files[path.Join(avatar, FrameName(id))] = data
}

// Open implements [Store].
func (m *MapStore) Open(ctx context.Context, avatar string, id frames.FrameID) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := path.Join(avatar, FrameName(id))
	m.mu.RLock()
	data, ok := m.files[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
