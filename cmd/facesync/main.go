// Command facesync is the main entry point for the facesync avatar
// animation server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/facesync/internal/app"
	"github.com/MrWong99/facesync/internal/config"
	"github.com/MrWong99/facesync/internal/observe"
	"github.com/MrWong99/facesync/internal/resilience"
	"github.com/MrWong99/facesync/pkg/assets"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	noWatch := flag.Bool("no-watch", false, "disable hot reload of the configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "facesync: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "facesync: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(newLogger(os.Stderr, cfg.Server.LogFormat, level))

	slog.Info("facesync starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observe.InitProvider(ctx, cfg.Telemetry.ServiceName)
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Registry ──────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	reg.RegisterBuiltinSelectors()
	registerBuiltinStores(reg)

	store, err := reg.CreateStore(cfg.Assets)
	if err != nil {
		slog.Error("failed to build asset store", "store", cfg.Assets.StoreKind(), "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	opts := []app.Option{app.WithLogger(slog.Default())}
	if !*noWatch {
		opts = append(opts, app.WithConfigWatch(*configPath))
	}
	application, err := app.New(ctx, cfg, app.Dependencies{
		Registry:   reg,
		Store:      store,
		Metrics:    observe.DefaultMetrics(),
		Prometheus: promhttp.Handler(),
		LogLevel:   level,
	}, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		_ = application.Shutdown(context.Background())
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Store wiring ──────────────────────────────────────────────────────────────

// registerBuiltinStores wires the asset store kinds that ship with facesync
// into reg.
func registerBuiltinStores(reg *config.Registry) {
	reg.RegisterStore(config.StoreDir, func(cfg config.AssetsConfig) (assets.Store, error) {
		return assets.DirStore{Root: cfg.Root}, nil
	})

	reg.RegisterStore(config.StoreHTTP, func(cfg config.AssetsConfig) (assets.Store, error) {
		return newHTTPStore(cfg), nil
	})

	// fallback serves from the HTTP store and falls through to a local
	// directory when the remote is missing a frame or its circuit is open.
	reg.RegisterStore(config.StoreFallback, func(cfg config.AssetsConfig) (assets.Store, error) {
		root := cfg.FallbackRoot
		if root == "" {
			root = cfg.Root
		}
		fb := resilience.NewAssetFallback(newHTTPStore(cfg), "http", resilience.FallbackConfig{},
			resilience.WithLogger(slog.Default()),
			resilience.WithRecorder(observe.DefaultMetrics()),
		)
		fb.AddFallback("dir", assets.DirStore{Root: root})
		return fb, nil
	})

	for _, name := range config.ValidStoreNames {
		slog.Debug("registered asset store", "kind", name)
	}
}

func newHTTPStore(cfg config.AssetsConfig) *assets.HTTPStore {
	var opts []assets.HTTPOption
	if cfg.Timeout > 0 {
		opts = append(opts, assets.WithTimeout(cfg.Timeout))
	}
	return assets.NewHTTPStore(cfg.BaseURL, opts...)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       facesync startup summary        ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Listen addr", cfg.Server.ListenAddr)
	printRow("Asset store", cfg.Assets.StoreKind())
	printRow("Tick rate", fmt.Sprintf("%.0f Hz", cfg.Playback.TickRate))
	if cfg.Server.TLS != nil {
		printRow("TLS", "enabled")
	} else {
		printRow("TLS", "(disabled)")
	}
	fmt.Printf("║  Avatars         : %-19d ║\n", len(cfg.Avatars))
	for _, av := range cfg.Avatars {
		printRow("  "+av.Name, string(av.Policy()))
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-15s : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, format config.LogFormat, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
