// Package config provides the configuration schema, loader, watcher and
// factory registry for the facesync avatar service.
package config

import (
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/MrWong99/facesync/pkg/frames"
	"github.com/MrWong99/facesync/pkg/render"
)

// LogLevel controls log verbosity for the facesync server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to the matching [slog.Level]. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogFormat selects the slog handler used by the server.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// Asset store kinds understood by the built-in registrations.
const (
	StoreDir      = "dir"
	StoreHTTP     = "http"
	StoreFallback = "fallback"
)

// Defaults applied by [LoadFromReader] to fields left empty.
const (
	DefaultListenAddr  = ":8080"
	DefaultTickRate    = 60.0
	DefaultAssetRoot   = "assets"
	DefaultServiceName = "facesync"
)

// Config is the root configuration structure for facesync.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Assets    AssetsConfig    `yaml:"assets"`
	Avatars   []AvatarConfig  `yaml:"avatars"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP API listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects text or JSON log output. Defaults to text.
	LogFormat LogFormat `yaml:"log_format"`

	// SubmitRate limits speak requests per second per avatar. 0 disables
	// limiting.
	SubmitRate float64 `yaml:"submit_rate"`

	// SubmitBurst is the burst size paired with SubmitRate. Defaults to 1.
	SubmitBurst int `yaml:"submit_burst"`

	// AllowedOrigins are host patterns accepted for cross-origin WebSocket
	// connections (e.g., "localhost:3000", "*.example.com").
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// PlaybackConfig controls the tick loop and the audio output format.
type PlaybackConfig struct {
	// TickRate is the render tick frequency in Hz.
	TickRate float64 `yaml:"tick_rate"`

	Output OutputConfig `yaml:"output"`
}

// TickInterval converts TickRate to a tick period.
func (p PlaybackConfig) TickInterval() time.Duration {
	if p.TickRate <= 0 {
		rate := DefaultTickRate
		return time.Duration(float64(time.Second) / rate)
	}
	return time.Duration(float64(time.Second) / p.TickRate)
}

// OutputConfig is the PCM format audio is converted to before it is paced out
// to listeners. Zero values select the player defaults.
type OutputConfig struct {
	SampleRate int           `yaml:"sample_rate"`
	Channels   int           `yaml:"channels"`
	Chunk      time.Duration `yaml:"chunk"`
}

// AssetsConfig locates avatar frame images.
type AssetsConfig struct {
	// Store selects the registered asset store kind. When empty it is derived
	// from the other fields: fallback when both BaseURL and FallbackRoot are
	// set, http when only BaseURL is set, dir otherwise.
	Store string `yaml:"store"`

	// Root is the directory holding one sub-directory per avatar.
	Root string `yaml:"root"`

	// BaseURL serves <base_url>/<avatar>/frame-<n>.png.
	BaseURL string `yaml:"base_url"`

	// FallbackRoot is a local directory consulted when BaseURL fails.
	FallbackRoot string `yaml:"fallback_root"`

	// Timeout bounds a single HTTP fetch.
	Timeout time.Duration `yaml:"timeout"`

	// Concurrency bounds parallel frame loads per avatar.
	Concurrency int `yaml:"concurrency"`
}

// StoreKind returns the effective store kind.
func (a AssetsConfig) StoreKind() string {
	switch {
	case a.Store != "":
		return a.Store
	case a.BaseURL != "" && a.FallbackRoot != "":
		return StoreFallback
	case a.BaseURL != "":
		return StoreHTTP
	default:
		return StoreDir
	}
}

// AvatarConfig describes one avatar variant.
type AvatarConfig struct {
	// Name identifies the avatar in the API (e.g., "lateman").
	Name string `yaml:"name"`

	// Dir is the asset sub-directory. Defaults to Name.
	Dir string `yaml:"dir"`

	// Selector is the frame selection policy: "cyclic" or "stochastic".
	Selector string `yaml:"selector"`

	// Cadence is the cyclic advance rate in frames per second.
	Cadence float64 `yaml:"cadence"`

	// RestFrame is shown while idle. Defaults to the first silence frame.
	RestFrame *int `yaml:"rest_frame"`

	// Frames maps viseme class names (or indices) to frame pools.
	Frames map[string][]int `yaml:"frames"`

	Crop      CropConfig      `yaml:"crop"`
	Bounds    BoundsConfig    `yaml:"bounds"`
	ChromaKey ChromaKeyConfig `yaml:"chroma_key"`
}

// CropConfig holds edge margins as fractions of the source image.
type CropConfig struct {
	Left   float64 `yaml:"left"`
	Right  float64 `yaml:"right"`
	Top    float64 `yaml:"top"`
	Bottom float64 `yaml:"bottom"`
}

// BoundsConfig is the maximum display size. Zero means unbounded.
type BoundsConfig struct {
	MaxWidth  int `yaml:"max_width"`
	MaxHeight int `yaml:"max_height"`
}

// ChromaKeyConfig configures green-screen removal. Zero thresholds take the
// defaults of [render.DefaultChromaKey].
type ChromaKeyConfig struct {
	Enabled  bool `yaml:"enabled"`
	GreenMin int  `yaml:"green_min"`
	RedMax   int  `yaml:"red_max"`
	BlueMax  int  `yaml:"blue_max"`
}

// TelemetryConfig configures the OpenTelemetry resource.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`
}

// AssetDir returns the asset sub-directory for the avatar.
func (a AvatarConfig) AssetDir() string {
	if a.Dir != "" {
		return a.Dir
	}
	return a.Name
}

// FrameSet parses and validates the frame pools.
func (a AvatarConfig) FrameSet() (frames.Set, error) {
	return frames.ParseSet(a.Frames)
}

// Policy returns the configured frame selection policy.
func (a AvatarConfig) Policy() frames.Policy {
	if a.Selector == "" {
		return frames.PolicyCyclic
	}
	return frames.Policy(a.Selector)
}

// SelectorOptions translates cadence and rest frame into selector options.
func (a AvatarConfig) SelectorOptions() []frames.Option {
	var opts []frames.Option
	if a.Cadence > 0 {
		opts = append(opts, frames.WithCadence(a.Cadence))
	}
	if a.RestFrame != nil {
		opts = append(opts, frames.WithRest(frames.FrameID(*a.RestFrame)))
	}
	return opts
}

// RenderOptions translates crop, bounds and chroma key into compositing
// options.
func (a AvatarConfig) RenderOptions() render.Options {
	ck := render.DefaultChromaKey()
	ck.Enabled = a.ChromaKey.Enabled
	if a.ChromaKey.GreenMin > 0 {
		ck.GreenMin = uint8(a.ChromaKey.GreenMin)
	}
	if a.ChromaKey.RedMax > 0 {
		ck.RedMax = uint8(a.ChromaKey.RedMax)
	}
	if a.ChromaKey.BlueMax > 0 {
		ck.BlueMax = uint8(a.ChromaKey.BlueMax)
	}
	return render.Options{
		Crop: render.Crop{
			Left:   a.Crop.Left,
			Right:  a.Crop.Right,
			Top:    a.Crop.Top,
			Bottom: a.Crop.Bottom,
		},
		Bounds: render.Bounds{
			MaxWidth:  a.Bounds.MaxWidth,
			MaxHeight: a.Bounds.MaxHeight,
		},
		ChromaKey: ck,
	}
}

// Equal reports whether two avatar configs describe the same avatar.
func (a AvatarConfig) Equal(b AvatarConfig) bool {
	return a.Name == b.Name &&
		a.AssetDir() == b.AssetDir() &&
		a.Policy() == b.Policy() &&
		a.Cadence == b.Cadence &&
		restEqual(a.RestFrame, b.RestFrame) &&
		framesEqual(a.Frames, b.Frames) &&
		a.Crop == b.Crop &&
		a.Bounds == b.Bounds &&
		a.ChromaKey == b.ChromaKey
}

// Avatar returns the avatar named name.
func (c *Config) Avatar(name string) (AvatarConfig, bool) {
	i := slices.IndexFunc(c.Avatars, func(a AvatarConfig) bool { return a.Name == name })
	if i < 0 {
		return AvatarConfig{}, false
	}
	return c.Avatars[i], true
}

// applyDefaults fills empty fields with their defaults.
func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = LogFormatText
	}
	if c.Server.SubmitRate > 0 && c.Server.SubmitBurst <= 0 {
		c.Server.SubmitBurst = 1
	}
	if c.Playback.TickRate == 0 {
		c.Playback.TickRate = DefaultTickRate
	}
	if c.Assets.Root == "" && c.Assets.BaseURL == "" {
		c.Assets.Root = DefaultAssetRoot
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
}

func restEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func framesEqual(a, b map[string][]int) bool {
	return maps.EqualFunc(a, b, slices.Equal)
}
