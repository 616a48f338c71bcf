// Package app wires all facesync subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds one avatar instance per
// configured avatar (loading its frames), Run serves the HTTP API until the
// context ends, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithPlayerFactory,
// WithControllerOptions). Everything else comes from [Dependencies].
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/facesync/internal/config"
	"github.com/MrWong99/facesync/internal/health"
	"github.com/MrWong99/facesync/internal/observe"
	"github.com/MrWong99/facesync/internal/resilience"
	"github.com/MrWong99/facesync/internal/server"
	"github.com/MrWong99/facesync/pkg/assets"
	"github.com/MrWong99/facesync/pkg/audio"
	"github.com/MrWong99/facesync/pkg/lipsync"
	"github.com/MrWong99/facesync/pkg/render"
)

// Dependencies holds what main builds from configuration before the App
// exists.
type Dependencies struct {
	// Registry creates frame selectors by policy name.
	Registry *config.Registry

	// Store serves frame images for every avatar.
	Store assets.Store

	// Metrics receives all measurements. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Prometheus, when set, is mounted at /metrics.
	Prometheus http.Handler

	// LogLevel, when set, is adjusted on configuration reloads.
	LogLevel *slog.LevelVar
}

// App owns all avatar lifetimes and the HTTP server.
type App struct {
	cfg  *config.Config
	deps Dependencies

	logger      *slog.Logger
	newPlayer   func(output func(audio.AudioFrame)) audio.Player
	ctrlOpts    []lipsync.Option
	configPath  string
	tick        time.Duration
	concurrency int
	serverCfg   config.ServerConfig
	output      config.OutputConfig

	mu      sync.Mutex
	slots   map[string]*slot
	order   []string
	loading map[string]struct{}

	handler    http.Handler
	httpServer *http.Server
	watcher    *config.Watcher

	// reloadMu serialises Reload calls.
	reloadMu sync.Mutex

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithPlayerFactory replaces the PCM player built for each avatar. output is
// the avatar's audio fan-out sink.
func WithPlayerFactory(f func(output func(audio.AudioFrame)) audio.Player) Option {
	return func(a *App) { a.newPlayer = f }
}

// WithControllerOptions appends options to every lip-sync controller.
func WithControllerOptions(opts ...lipsync.Option) Option {
	return func(a *App) { a.ctrlOpts = append(a.ctrlOpts, opts...) }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithConfigWatch reloads avatars and the log level whenever the file at
// path changes.
func WithConfigWatch(path string) Option {
	return func(a *App) { a.configPath = path }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App and builds every configured avatar. Frame loading for
// all avatars runs concurrently; New returns once every cache has been
// loaded (individual missing frames are not an error).
func New(ctx context.Context, cfg *config.Config, deps Dependencies, opts ...Option) (*App, error) {
	if deps.Registry == nil {
		return nil, errors.New("app: dependencies: registry is required")
	}
	if deps.Store == nil {
		return nil, errors.New("app: dependencies: asset store is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}

	a := &App{
		cfg:         cfg,
		deps:        deps,
		logger:      slog.Default(),
		tick:        cfg.Playback.TickInterval(),
		concurrency: cfg.Assets.Concurrency,
		serverCfg:   cfg.Server,
		output:      cfg.Playback.Output,
		slots:       make(map[string]*slot),
		loading:     make(map[string]struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.newPlayer == nil {
		a.newPlayer = a.pcmPlayer
	}

	// ── 1. Avatars ──────────────────────────────────────────────────────
	if err := a.initAvatars(ctx); err != nil {
		a.closeAvatars()
		return nil, err
	}

	// ── 2. HTTP handler ─────────────────────────────────────────────────
	a.handler = a.buildHandler()

	// ── 3. Config watcher ───────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, func(_, next *config.Config) {
			if err := a.Reload(context.Background(), next); err != nil {
				a.logger.Error("config reload failed", "error", err)
			}
		})
		if err != nil {
			a.closeAvatars()
			return nil, fmt.Errorf("app: watch config: %w", err)
		}
		a.watcher = w
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) pcmPlayer(output func(audio.AudioFrame)) audio.Player {
	out := a.output
	opts := []audio.PlayerOption{
		audio.WithChunk(out.Chunk),
		audio.WithLogger(a.logger),
	}
	if out.SampleRate > 0 {
		channels := out.Channels
		if channels == 0 {
			channels = 1
		}
		opts = append(opts, audio.WithFormat(audio.Format{SampleRate: out.SampleRate, Channels: channels}))
	}
	return audio.NewPlayer(output, opts...)
}

// initAvatars builds all configured avatars concurrently.
func (a *App) initAvatars(ctx context.Context) error {
	built := make([]*slot, len(a.cfg.Avatars))
	g, gctx := errgroup.WithContext(ctx)
	for i, av := range a.cfg.Avatars {
		s := a.newSlot(av.Name)
		built[i] = s
		g.Go(func() error {
			inst, err := a.buildInstance(gctx, s, av, nil)
			if err != nil {
				return err
			}
			a.activate(s, inst)
			s.current = inst
			return nil
		})
	}
	err := g.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range built {
		a.slots[s.name] = s
		a.order = append(a.order, s.name)
	}
	if err != nil {
		return err
	}
	for _, s := range built {
		a.logger.Info("avatar ready",
			"avatar", s.name,
			"selector", s.current.cfg.Policy(),
			"frames", s.current.cache.Len(),
			"missing", len(s.current.cache.Failures()),
		)
	}
	return nil
}

func (a *App) buildHandler() http.Handler {
	checkers := []health.Checker{
		health.AllReady("assets", a.readiness),
	}
	if fb, ok := a.deps.Store.(*resilience.AssetFallback); ok {
		checkers = append(checkers, health.BreakersAvailable("stores", fb.Breakers))
	}
	opts := []server.Option{
		server.WithHealth(health.New(checkers...)),
		server.WithMetrics(a.deps.Metrics),
		server.WithLogger(a.logger),
		server.WithSubmitLimit(a.serverCfg.SubmitRate, a.serverCfg.SubmitBurst),
	}
	if len(a.serverCfg.AllowedOrigins) > 0 {
		opts = append(opts, server.WithOriginPatterns(a.serverCfg.AllowedOrigins...))
	}
	if a.deps.Prometheus != nil {
		opts = append(opts, server.WithPrometheus(a.deps.Prometheus))
	}
	return server.New(a, opts...).Handler()
}

// readiness lists every avatar cache plus the avatars still being built.
func (a *App) readiness() map[string]health.Readiness {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]health.Readiness, len(a.slots)+len(a.loading))
	for name, s := range a.slots {
		if s.current != nil {
			out[name] = s.current.cache
		}
	}
	for name := range a.loading {
		out[name] = notReady{}
	}
	return out
}

type notReady struct{}

func (notReady) Ready() bool { return false }

// Handler returns the HTTP API. Useful for tests that serve it with
// httptest instead of calling Run.
func (a *App) Handler() http.Handler { return a.handler }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API on the configured address until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	srvCfg := a.serverCfg
	srv := &http.Server{
		Addr:              srvCfg.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	a.mu.Lock()
	a.httpServer = srv
	a.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if srvCfg.TLS != nil {
			err = srv.ListenAndServeTLS(srvCfg.TLS.CertFile, srvCfg.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	a.logger.Info("app running", "listen_addr", srvCfg.ListenAddr)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("app: serve http: %w", err)
		}
		return nil
	}
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the runtime-adjustable parts of next: the log level and the
// avatar list. Added avatars are built immediately. Modified avatars are
// rebuilt in the background and swapped in on their next submission, so
// playback in progress is not interrupted. Removed avatars stop at once.
// Changes to the server, assets or playback sections are logged and need a
// restart.
func (a *App) Reload(ctx context.Context, next *config.Config) error {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	a.mu.Lock()
	prev := a.cfg
	a.mu.Unlock()

	d := config.Diff(prev, next)
	if d.LogLevelChanged && a.deps.LogLevel != nil {
		a.deps.LogLevel.Set(d.NewLogLevel.SlogLevel())
		a.logger.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.NeedsRestart() {
		a.logger.Warn("configuration changes require a restart",
			"server", d.ServerChanged,
			"assets", d.AssetsChanged,
			"playback", d.PlaybackChanged,
		)
	}

	a.mu.Lock()
	a.cfg = next
	a.order = a.order[:0]
	for _, av := range next.Avatars {
		a.order = append(a.order, av.Name)
	}
	a.mu.Unlock()

	if slices.ContainsFunc(d.AvatarChanges, loadsFrames) {
		a.resetStores()
	}

	var errs []error
	for _, change := range d.AvatarChanges {
		if change.Removed {
			a.removeAvatar(change.Name)
			continue
		}
		av, _ := next.Avatar(change.Name)
		if err := a.rebuildAvatar(ctx, av, change); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// loadsFrames reports whether applying change fetches frames from the store.
func loadsFrames(change config.AvatarDiff) bool {
	return !change.Removed && change.NeedsReload()
}

// resetStores closes the asset store circuits so frames loaded for a reload
// try the primary store again.
func (a *App) resetStores() {
	if fb, ok := a.deps.Store.(*resilience.AssetFallback); ok {
		fb.Reset()
		a.logger.Debug("asset store circuits reset")
	}
}

func (a *App) removeAvatar(name string) {
	a.mu.Lock()
	s, ok := a.slots[name]
	delete(a.slots, name)
	a.mu.Unlock()
	if !ok {
		return
	}
	retire(s.pending, s.current)
	retire(s.current, nil)
	s.hub.Close()
	a.logger.Info("avatar removed", "avatar", name)
}

func (a *App) rebuildAvatar(ctx context.Context, av config.AvatarConfig, change config.AvatarDiff) error {
	a.mu.Lock()
	s, exists := a.slots[av.Name]
	var reuse *assets.Cache
	if exists && !change.NeedsReload() && s.current != nil {
		reuse = s.current.cache
	}
	if !exists {
		s = a.newSlot(av.Name)
		a.loading[av.Name] = struct{}{}
	}
	a.mu.Unlock()

	inst, err := a.buildInstance(ctx, s, av, reuse)

	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.loading, av.Name)
	if err != nil {
		return err
	}
	if !exists {
		a.activate(s, inst)
		s.current = inst
		a.slots[av.Name] = s
		a.logger.Info("avatar added", "avatar", av.Name, "frames", inst.cache.Len())
		return nil
	}
	if a.slots[av.Name] != s {
		// Removed while building.
		retire(inst, nil)
		return nil
	}
	retire(s.pending, s.current)
	s.pending = inst
	a.logger.Info("avatar reconfigured, applies on next submission",
		"avatar", av.Name,
		"frames_changed", change.FramesChanged,
		"selector_changed", change.SelectorChanged,
		"render_changed", change.RenderChanged,
	)
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the config watcher, drains the HTTP server and closes every
// avatar. It respects the context deadline for the HTTP drain.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down")

		if a.watcher != nil {
			a.watcher.Stop()
		}
		a.mu.Lock()
		srv := a.httpServer
		a.mu.Unlock()
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				a.logger.Warn("http shutdown error", "error", err)
				shutdownErr = err
			}
		}
		a.closeAvatars()

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) closeAvatars() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for name, s := range a.slots {
		if s.current != nil {
			retire(s.pending, s.current)
			retire(s.current, nil)
		}
		s.hub.Close()
		delete(a.slots, name)
	}
}

// ─── server.Service ──────────────────────────────────────────────────────────

var _ server.Service = (*App)(nil)

func (a *App) slot(name string) (*slot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.slots[name]
	if !ok || s.current == nil {
		return nil, fmt.Errorf("%w: %q", server.ErrUnknownAvatar, name)
	}
	return s, nil
}

func (a *App) controller(name string) (*lipsync.Controller, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.slots[name]
	if !ok || s.current == nil {
		return nil, fmt.Errorf("%w: %q", server.ErrUnknownAvatar, name)
	}
	return s.current.ctrl, nil
}

// Avatars implements [server.Service]. Avatars are listed in configuration
// order; ones still being built are reported as not ready.
func (a *App) Avatars() []server.AvatarInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]server.AvatarInfo, 0, len(a.order))
	for _, name := range a.order {
		s, ok := a.slots[name]
		if !ok || s.current == nil {
			out = append(out, server.AvatarInfo{Name: name, State: lipsync.StateIdle})
			continue
		}
		out = append(out, s.current.info())
	}
	return out
}

// Submit implements [server.Service]. A pending reconfiguration of the
// avatar takes effect here, before the new session starts. A controller
// retired by a concurrent submission is replaced by its successor.
func (a *App) Submit(ctx context.Context, avatar string, req lipsync.SpeechRequest) (string, error) {
	for {
		ctrl, err := a.applyPending(avatar)
		if err != nil {
			return "", err
		}
		id, err := ctrl.Submit(ctx, req)
		if errors.Is(err, lipsync.ErrClosed) && a.superseded(avatar, ctrl) {
			continue
		}
		return id, err
	}
}

// applyPending swaps in the avatar's pending instance, if any, and returns
// the current controller.
func (a *App) applyPending(avatar string) (*lipsync.Controller, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.slots[avatar]
	if !ok || s.current == nil {
		return nil, fmt.Errorf("%w: %q", server.ErrUnknownAvatar, avatar)
	}
	if s.pending != nil {
		old := s.current
		s.current, s.pending = s.pending, nil
		retire(old, s.current)
		a.activate(s, s.current)
		a.logger.Info("avatar configuration applied", "avatar", avatar)
	}
	return s.current.ctrl, nil
}

// superseded reports whether ctrl is no longer the avatar's controller.
func (a *App) superseded(avatar string, ctrl *lipsync.Controller) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.slots[avatar]
	return !ok || s.current == nil || s.current.ctrl != ctrl
}

// Stop implements [server.Service].
func (a *App) Stop(avatar string) error {
	ctrl, err := a.controller(avatar)
	if err != nil {
		return err
	}
	ctrl.Stop()
	return nil
}

// Status implements [server.Service].
func (a *App) Status(avatar string) (lipsync.Status, error) {
	ctrl, err := a.controller(avatar)
	if err != nil {
		return lipsync.Status{}, err
	}
	return ctrl.Status(), nil
}

// Subscribe implements [server.Service]. The channel closes when the avatar
// is reconfigured or removed; clients reconnect to follow the new instance.
func (a *App) Subscribe(avatar string) (<-chan lipsync.Status, func(), error) {
	ctrl, err := a.controller(avatar)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := ctrl.Subscribe()
	return ch, cancel, nil
}

// SubscribeAudio implements [server.Service].
func (a *App) SubscribeAudio(avatar string) (<-chan audio.AudioFrame, func(), error) {
	s, err := a.slot(avatar)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := s.hub.Subscribe()
	return ch, cancel, nil
}

// Surface implements [server.Service].
func (a *App) Surface(avatar string) (*render.Surface, error) {
	s, err := a.slot(avatar)
	if err != nil {
		return nil, err
	}
	return s.surface, nil
}
