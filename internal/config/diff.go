package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Avatar and log level changes can be applied without a restart; the other
// flags only tell the caller that a restart is needed to pick them up.
type ConfigDiff struct {
	AvatarsChanged  bool         // true if any avatar was added, removed or modified
	AvatarChanges   []AvatarDiff // per-avatar diffs
	LogLevelChanged bool
	NewLogLevel     LogLevel

	AssetsChanged   bool
	PlaybackChanged bool
	ServerChanged   bool
}

// NeedsRestart reports whether the diff contains changes that are not applied
// at runtime.
func (d ConfigDiff) NeedsRestart() bool {
	return d.AssetsChanged || d.PlaybackChanged || d.ServerChanged
}

// AvatarDiff describes what changed for a single avatar between two configs.
type AvatarDiff struct {
	Name            string
	FramesChanged   bool // frame pools or rest frame
	SelectorChanged bool // policy or cadence
	RenderChanged   bool // crop, bounds or chroma key
	AssetDirChanged bool
	Added           bool
	Removed         bool
}

// Changed reports whether anything changed for the avatar.
func (d AvatarDiff) Changed() bool {
	return d.FramesChanged || d.SelectorChanged || d.RenderChanged || d.AssetDirChanged || d.Added || d.Removed
}

// NeedsReload reports whether the avatar's frame cache must be rebuilt.
func (d AvatarDiff) NeedsReload() bool {
	return d.FramesChanged || d.AssetDirChanged || d.Added
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Restart-only sections.
	oldSrv, newSrv := old.Server, new.Server
	oldSrv.LogLevel, newSrv.LogLevel = "", ""
	d.ServerChanged = !serverEqual(oldSrv, newSrv)
	d.AssetsChanged = old.Assets != new.Assets
	d.PlaybackChanged = old.Playback != new.Playback

	// Build avatar lookup maps keyed by name.
	oldAvatars := make(map[string]*AvatarConfig, len(old.Avatars))
	for i := range old.Avatars {
		oldAvatars[old.Avatars[i].Name] = &old.Avatars[i]
	}
	newAvatars := make(map[string]*AvatarConfig, len(new.Avatars))
	for i := range new.Avatars {
		newAvatars[new.Avatars[i].Name] = &new.Avatars[i]
	}

	// Detect modified and removed avatars, in old config order.
	for i := range old.Avatars {
		name := old.Avatars[i].Name
		newAv, exists := newAvatars[name]
		if !exists {
			d.AvatarChanges = append(d.AvatarChanges, AvatarDiff{Name: name, Removed: true})
			d.AvatarsChanged = true
			continue
		}
		ad := diffAvatar(name, oldAvatars[name], newAv)
		if ad.Changed() {
			d.AvatarChanges = append(d.AvatarChanges, ad)
			d.AvatarsChanged = true
		}
	}

	// Detect added avatars, in new config order.
	for i := range new.Avatars {
		name := new.Avatars[i].Name
		if _, exists := oldAvatars[name]; !exists {
			d.AvatarChanges = append(d.AvatarChanges, AvatarDiff{Name: name, Added: true})
			d.AvatarsChanged = true
		}
	}

	return d
}

// diffAvatar compares two avatar configs with the same name.
func diffAvatar(name string, old, new *AvatarConfig) AvatarDiff {
	ad := AvatarDiff{Name: name}

	if !framesEqual(old.Frames, new.Frames) || !restEqual(old.RestFrame, new.RestFrame) {
		ad.FramesChanged = true
	}
	if old.Policy() != new.Policy() || old.Cadence != new.Cadence {
		ad.SelectorChanged = true
	}
	if old.Crop != new.Crop || old.Bounds != new.Bounds || old.ChromaKey != new.ChromaKey {
		ad.RenderChanged = true
	}
	if old.AssetDir() != new.AssetDir() {
		ad.AssetDirChanged = true
	}

	return ad
}

func serverEqual(a, b ServerConfig) bool {
	tlsEqual := (a.TLS == nil && b.TLS == nil) ||
		(a.TLS != nil && b.TLS != nil && *a.TLS == *b.TLS)
	originsEqual := slices.Equal(a.AllowedOrigins, b.AllowedOrigins)
	a.TLS, b.TLS = nil, nil
	a.AllowedOrigins, b.AllowedOrigins = nil, nil
	return tlsEqual && originsEqual && reflect.DeepEqual(a, b)
}
