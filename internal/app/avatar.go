package app

import (
	"context"
	"fmt"
	"slices"

	"github.com/MrWong99/facesync/internal/config"
	"github.com/MrWong99/facesync/internal/server"
	"github.com/MrWong99/facesync/pkg/assets"
	"github.com/MrWong99/facesync/pkg/audio"
	"github.com/MrWong99/facesync/pkg/frames"
	"github.com/MrWong99/facesync/pkg/lipsync"
	"github.com/MrWong99/facesync/pkg/render"
)

// slot is the long-lived part of an avatar: its surface, audio output and
// player survive configuration reloads, while the instance behind them is
// rebuilt.
type slot struct {
	name    string
	surface *render.Surface
	hub     *audioHub
	player  audio.Player

	current *instance
	// pending replaces current on the next submission.
	pending *instance
}

// instance is one configured generation of an avatar. ctrl is nil until the
// instance is activated, so a pending instance never draws on the shared
// surface.
type instance struct {
	cfg      config.AvatarConfig
	cache    *assets.Cache
	selector frames.Selector
	renderer *render.Renderer
	ctrl     *lipsync.Controller
}

func (a *App) newSlot(name string) *slot {
	s := &slot{
		name:    name,
		surface: render.NewSurface(),
		hub:     newAudioHub(),
	}
	s.player = a.newPlayer(s.hub.Publish)
	return s
}

// buildInstance creates the selector, frame cache and renderer for av. When
// reuse is non-nil its frames are kept instead of loading a new cache.
func (a *App) buildInstance(ctx context.Context, s *slot, av config.AvatarConfig, reuse *assets.Cache) (*instance, error) {
	set, err := av.FrameSet()
	if err != nil {
		return nil, fmt.Errorf("app: avatar %q: %w", av.Name, err)
	}
	sel, err := a.deps.Registry.CreateSelector(av)
	if err != nil {
		return nil, fmt.Errorf("app: avatar %q: %w", av.Name, err)
	}

	cache := reuse
	if cache == nil {
		cache = assets.NewCache(a.deps.Store, av.AssetDir(),
			assets.WithConcurrency(a.concurrency),
			assets.WithLogger(a.logger),
			assets.WithRecorder(a.deps.Metrics),
		)
		if err := cache.Load(ctx, set.IDs()); err != nil {
			return nil, fmt.Errorf("app: avatar %q: %w", av.Name, err)
		}
	}

	rend := render.New(cache, av.RenderOptions(),
		render.WithSurface(s.surface),
		render.WithLogger(a.logger),
		render.WithRecorder(a.deps.Metrics),
	)
	return &instance{
		cfg:      av,
		cache:    cache,
		selector: sel,
		renderer: rend,
	}, nil
}

// activate creates the instance's controller, which draws the rest frame.
func (a *App) activate(s *slot, inst *instance) {
	opts := append([]lipsync.Option{
		lipsync.WithAvatar(inst.cfg.Name),
		lipsync.WithTickInterval(a.tick),
		lipsync.WithLogger(a.logger),
		lipsync.WithMetrics(a.deps.Metrics),
	}, a.ctrlOpts...)
	inst.ctrl = lipsync.New(s.player, inst.selector, inst.renderer, opts...)
}

// retire closes inst and drops its composites. Its cache is released unless
// keep still uses it.
func retire(inst, keep *instance) {
	if inst == nil {
		return
	}
	if inst.ctrl != nil {
		_ = inst.ctrl.Close()
	}
	inst.renderer.Forget()
	if keep == nil || keep.cache != inst.cache {
		inst.cache.Release()
	}
}

func (inst *instance) info() server.AvatarInfo {
	var missing []frames.FrameID
	for id := range inst.cache.Failures() {
		missing = append(missing, id)
	}
	slices.Sort(missing)
	return server.AvatarInfo{
		Name:     inst.cfg.Name,
		Ready:    inst.cache.Ready(),
		Frames:   inst.cache.Len(),
		Missing:  missing,
		State:    inst.ctrl.Status().State,
		Selector: string(inst.cfg.Policy()),
	}
}
