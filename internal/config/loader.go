package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/facesync/pkg/audio"
	"github.com/MrWong99/facesync/pkg/frames"
)

// ValidSelectorNames lists the built-in frame selection policies.
var ValidSelectorNames = []string{string(frames.PolicyCyclic), string(frames.PolicyStochastic)}

// ValidStoreNames lists the built-in asset store kinds. Used by [Validate] to
// warn about unrecognised store kinds, which may still be registered by the
// embedding program.
var ValidStoreNames = []string{StoreDir, StoreHTTP, StoreFallback}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if cfg.Server.SubmitRate < 0 {
		errs = append(errs, fmt.Errorf("server.submit_rate %.2f must not be negative", cfg.Server.SubmitRate))
	}
	if cfg.Server.TLS != nil && (cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Playback
	if cfg.Playback.TickRate < 0 || cfg.Playback.TickRate > 1000 {
		errs = append(errs, fmt.Errorf("playback.tick_rate %.2f is out of range (0, 1000]", cfg.Playback.TickRate))
	}
	out := cfg.Playback.Output
	if out.SampleRate != 0 || out.Channels != 0 {
		f := audio.Format{SampleRate: out.SampleRate, Channels: out.Channels}
		if err := f.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("playback.output: %w", err))
		}
	}
	if out.Chunk < 0 {
		errs = append(errs, fmt.Errorf("playback.output.chunk %s must not be negative", out.Chunk))
	}

	// Assets
	errs = append(errs, validateAssets(cfg.Assets)...)

	// Avatars
	if len(cfg.Avatars) == 0 {
		slog.Warn("no avatars configured; the service will reject every speak request")
	}
	seen := make(map[string]int, len(cfg.Avatars))
	for i, av := range cfg.Avatars {
		prefix := fmt.Sprintf("avatars[%d]", i)
		if av.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[av.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of avatars[%d]", prefix, av.Name, prev))
			}
			seen[av.Name] = i
		}
		errs = append(errs, validateAvatar(prefix, av)...)
	}

	return errors.Join(errs...)
}

func validateAssets(a AssetsConfig) []error {
	var errs []error
	kind := a.StoreKind()
	if !slices.Contains(ValidStoreNames, kind) {
		slog.Warn("unknown asset store kind; may be a typo or a custom registration",
			"store", kind,
			"known", ValidStoreNames,
		)
	}
	switch kind {
	case StoreDir:
		if a.Root == "" {
			errs = append(errs, errors.New("assets.root is required for the dir store"))
		}
	case StoreHTTP:
		if a.BaseURL == "" {
			errs = append(errs, errors.New("assets.base_url is required for the http store"))
		}
	case StoreFallback:
		if a.BaseURL == "" {
			errs = append(errs, errors.New("assets.base_url is required for the fallback store"))
		}
		if a.FallbackRoot == "" && a.Root == "" {
			errs = append(errs, errors.New("assets.fallback_root or assets.root is required for the fallback store"))
		}
	}
	if a.BaseURL != "" {
		if u, err := url.Parse(a.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("assets.base_url %q is not an absolute URL", a.BaseURL))
		}
	}
	if a.Timeout < 0 {
		errs = append(errs, fmt.Errorf("assets.timeout %s must not be negative", a.Timeout))
	}
	if a.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("assets.concurrency %d must not be negative", a.Concurrency))
	}
	return errs
}

func validateAvatar(prefix string, av AvatarConfig) []error {
	var errs []error
	if av.Selector != "" && !slices.Contains(ValidSelectorNames, av.Selector) {
		errs = append(errs, fmt.Errorf("%s.selector %q is invalid; valid values: cyclic, stochastic", prefix, av.Selector))
	}
	if av.Cadence < 0 {
		errs = append(errs, fmt.Errorf("%s.cadence %.2f must not be negative", prefix, av.Cadence))
	}
	if av.Cadence > 0 && av.Policy() == frames.PolicyStochastic {
		slog.Warn("cadence has no effect with the stochastic selector", "avatar", av.Name)
	}

	set, err := av.FrameSet()
	if err != nil {
		errs = append(errs, fmt.Errorf("%s.frames: %w", prefix, err))
	} else if av.RestFrame != nil && !slices.Contains(set.IDs(), frames.FrameID(*av.RestFrame)) {
		errs = append(errs, fmt.Errorf("%s.rest_frame %d is not in any frame pool", prefix, *av.RestFrame))
	}

	if err := av.RenderOptions().Crop.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%s.crop: %w", prefix, err))
	}
	if av.Bounds.MaxWidth < 0 || av.Bounds.MaxHeight < 0 {
		errs = append(errs, fmt.Errorf("%s.bounds must not be negative", prefix))
	}
	for _, th := range []struct {
		name string
		v    int
	}{
		{"green_min", av.ChromaKey.GreenMin},
		{"red_max", av.ChromaKey.RedMax},
		{"blue_max", av.ChromaKey.BlueMax},
	} {
		if th.v < 0 || th.v > 255 {
			errs = append(errs, fmt.Errorf("%s.chroma_key.%s %d is out of range [0, 255]", prefix, th.name, th.v))
		}
	}
	return errs
}
