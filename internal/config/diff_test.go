package config_test

import (
	"testing"

	"github.com/MrWong99/facesync/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo},
		Assets: config.AssetsConfig{Root: "assets"},
		Avatars: []config.AvatarConfig{
			{
				Name:     "lateman",
				Selector: "cyclic",
				Cadence:  0.5,
				Frames:   map[string][]int{"silence": {1}, "open": {2, 3}},
				Crop:     config.CropConfig{Right: 0.03},
			},
			{
				Name:     "oldman",
				Selector: "stochastic",
				Frames:   map[string][]int{"silence": {1, 2}},
			},
		},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	d := config.Diff(baseConfig(), baseConfig())
	if d.AvatarsChanged || d.LogLevelChanged || d.NeedsRestart() {
		t.Errorf("Diff of identical configs = %+v", d)
	}
	if len(d.AvatarChanges) != 0 {
		t.Errorf("AvatarChanges = %+v", d.AvatarChanges)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()

	next := baseConfig()
	next.Server.LogLevel = config.LogDebug
	d := config.Diff(baseConfig(), next)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("LogLevelChanged/NewLogLevel = %v/%q", d.LogLevelChanged, d.NewLogLevel)
	}
	if d.ServerChanged {
		t.Error("log level alone should not flag the server section")
	}
}

func TestDiff_Avatars(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   config.AvatarDiff
	}{
		{
			name:   "frames",
			mutate: func(c *config.Config) { c.Avatars[0].Frames["open"] = []int{2, 3, 4} },
			want:   config.AvatarDiff{Name: "lateman", FramesChanged: true},
		},
		{
			name: "rest frame",
			mutate: func(c *config.Config) {
				r := 2
				c.Avatars[1].RestFrame = &r
			},
			want: config.AvatarDiff{Name: "oldman", FramesChanged: true},
		},
		{
			name:   "cadence",
			mutate: func(c *config.Config) { c.Avatars[0].Cadence = 1 },
			want:   config.AvatarDiff{Name: "lateman", SelectorChanged: true},
		},
		{
			name:   "crop",
			mutate: func(c *config.Config) { c.Avatars[0].Crop.Top = 0.1 },
			want:   config.AvatarDiff{Name: "lateman", RenderChanged: true},
		},
		{
			name:   "chroma key",
			mutate: func(c *config.Config) { c.Avatars[1].ChromaKey.Enabled = true },
			want:   config.AvatarDiff{Name: "oldman", RenderChanged: true},
		},
		{
			name:   "dir",
			mutate: func(c *config.Config) { c.Avatars[0].Dir = "Lateman" },
			want:   config.AvatarDiff{Name: "lateman", AssetDirChanged: true},
		},
		{
			name:   "removed",
			mutate: func(c *config.Config) { c.Avatars = c.Avatars[:1] },
			want:   config.AvatarDiff{Name: "oldman", Removed: true},
		},
		{
			name: "added",
			mutate: func(c *config.Config) {
				c.Avatars = append(c.Avatars, config.AvatarConfig{Name: "newbie", Frames: map[string][]int{"silence": {1}}})
			},
			want: config.AvatarDiff{Name: "newbie", Added: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			next := baseConfig()
			tt.mutate(next)
			d := config.Diff(baseConfig(), next)
			if !d.AvatarsChanged {
				t.Fatal("AvatarsChanged = false")
			}
			if len(d.AvatarChanges) != 1 {
				t.Fatalf("AvatarChanges = %+v, want one", d.AvatarChanges)
			}
			if got := d.AvatarChanges[0]; got != tt.want {
				t.Errorf("AvatarDiff = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAvatarDiff_NeedsReload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		d    config.AvatarDiff
		want bool
	}{
		{config.AvatarDiff{FramesChanged: true}, true},
		{config.AvatarDiff{AssetDirChanged: true}, true},
		{config.AvatarDiff{Added: true}, true},
		{config.AvatarDiff{SelectorChanged: true}, false},
		{config.AvatarDiff{RenderChanged: true}, false},
		{config.AvatarDiff{Removed: true}, false},
	}
	for _, tt := range tests {
		if got := tt.d.NeedsReload(); got != tt.want {
			t.Errorf("%+v.NeedsReload() = %v, want %v", tt.d, got, tt.want)
		}
	}
}

func TestDiff_RestartSections(t *testing.T) {
	t.Parallel()

	next := baseConfig()
	next.Assets.Concurrency = 2
	next.Playback.TickRate = 30
	next.Server.TLS = &config.TLSConfig{CertFile: "c", KeyFile: "k"}
	d := config.Diff(baseConfig(), next)
	if !d.AssetsChanged || !d.PlaybackChanged || !d.ServerChanged {
		t.Errorf("restart flags = %+v", d)
	}
	if !d.NeedsRestart() {
		t.Error("NeedsRestart() = false")
	}
}

func TestDiff_AllowedOrigins(t *testing.T) {
	t.Parallel()

	old := baseConfig()
	old.Server.AllowedOrigins = []string{"localhost:3000"}
	same := baseConfig()
	same.Server.AllowedOrigins = []string{"localhost:3000"}
	if d := config.Diff(old, same); d.ServerChanged {
		t.Error("equal origin lists flagged as changed")
	}

	next := baseConfig()
	next.Server.AllowedOrigins = []string{"localhost:3000", "*.example.com"}
	if d := config.Diff(old, next); !d.ServerChanged {
		t.Error("changed origin list not flagged")
	}
}
