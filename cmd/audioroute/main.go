// Command audioroute is the audio device-routing daemon. It arbitrates the
// output and input routes of concurrent audio sessions and serves the control
// API. Run with --mock to use a simulated gateway (no sound card required).
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/micro-nova/audioroute/internal/api"
	"github.com/micro-nova/audioroute/internal/auth"
	"github.com/micro-nova/audioroute/internal/config"
	"github.com/micro-nova/audioroute/internal/events"
	"github.com/micro-nova/audioroute/internal/hardware"
	"github.com/micro-nova/audioroute/internal/hotplug"
	"github.com/micro-nova/audioroute/internal/metrics"
	"github.com/micro-nova/audioroute/internal/router"
	"github.com/micro-nova/audioroute/internal/zeroconf"
)

func main() {
	var (
		mock    = flag.Bool("mock", false, "use the mock hardware gateway (no sound card required)")
		addr    = flag.String("addr", "", "HTTP listen address (overrides config)")
		cfgPath = flag.String("config", "", "path to a YAML config file")
		debug   = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	if *mock {
		cfg.Mock = true
	}
	if *debug {
		cfg.Debug = true
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	// Configure logging
	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	cat, err := cfg.Catalog()
	if err != nil {
		slog.Error("route catalog load failed", "err", err)
		os.Exit(1)
	}
	slog.Info("route catalog", "variant", cat.Variant(), "routes", len(cat.Routes()))

	// Graceful shutdown context
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Hardware gateway
	var gw hardware.Gateway
	if cfg.Mock {
		gw = hardware.NewMock()
	} else {
		alsa := hardware.NewALSA(cat, cfg.Gateway.MixerCmd, cfg.Gateway.OpsPerSecond)
		for profile, path := range cfg.Gateway.Paths {
			alsa.SetPath(profile, path)
		}
		for profile, node := range cfg.Gateway.Devices {
			alsa.SetDevice(profile, node)
		}
		gw = alsa
	}
	slog.Info("hardware gateway ready", "real", gw.IsReal(), "mixer", cfg.Gateway.MixerCmd,
		"paths", len(cfg.Gateway.Paths), "devices", len(cfg.Gateway.Devices))

	bus := events.NewBus()
	m := metrics.New()
	opts := []router.Option{
		router.WithBus(bus),
		router.WithMetrics(m),
		router.WithRetryPolicy(cfg.OpenRetry.Policy()),
	}
	if !cfg.StrictRefcount {
		opts = append(opts, router.Lenient())
	}
	eng := router.New(cat, gw, opts...)

	// Hot-plug sources
	var sup *hotplug.Supervisor
	if cfg.Hotplug.WatcherCmd != "" {
		sup = hotplug.CommandSupervisor(cfg.Hotplug.WatcherCmd, eng)
		if err := sup.Start(ctx); err != nil {
			slog.Error("hotplug watcher start failed", "err", err)
			os.Exit(1)
		}
	}
	if cfg.Hotplug.StateDir != "" {
		dw, err := hotplug.NewDirWatcher(cfg.Hotplug.StateDir, eng)
		if err != nil {
			slog.Error("hotplug state dir failed", "err", err)
			os.Exit(1)
		}
		defer dw.Close()
		go dw.Run(ctx)
	}
	if cfg.Hotplug.Bluez {
		go hotplug.NewBluezWatcher(eng).Run(ctx)
	}
	if cfg.Hotplug.JackPin != "" {
		jw, err := hotplug.NewJackWatcher(cfg.Hotplug.JackPin, eng)
		if err != nil {
			slog.Warn("jack detect unavailable", "pin", cfg.Hotplug.JackPin, "err", err)
		} else {
			go jw.Run(ctx)
		}
	}

	// Zeroconf mDNS registration
	if cfg.MDNS {
		hostname, _ := os.Hostname()
		zc := zeroconf.New(hostname, listenPort(cfg.Addr), cat.Variant())
		zc.Update(eng.Snapshot())
		ch := bus.Subscribe("zeroconf")
		go zc.Follow(ctx, ch)
		go func() {
			if err := zc.Start(ctx); err != nil {
				slog.Warn("zeroconf failed", "err", err)
			}
		}()
		defer bus.Unsubscribe("zeroconf")
	}

	// API access control
	var guards []func(http.Handler) http.Handler
	if cfg.Auth.KeysFile != "" {
		authSvc, err := auth.NewService(cfg.Auth.KeysFile)
		if err != nil {
			slog.Error("auth service initialization failed", "err", err)
			os.Exit(1)
		}
		defer authSvc.Close()
		guards = append(guards, authSvc.Middleware)
		slog.Info("API access control enabled", "keys", cfg.Auth.KeysFile, "open", authSvc.IsOpenMode())
	}

	// HTTP server
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      api.NewRouter(eng, bus, m.Handler(), guards...),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // 0 = no timeout (needed for SSE and drains)
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("audioroute listening", "addr", cfg.Addr, "mock", cfg.Mock, "variant", cat.Variant())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			cancel()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()

	if err := srv.Shutdown(shutCtx); err != nil {
		slog.Warn("server shutdown error", "err", err)
	}
	if sup != nil {
		if err := sup.Stop(); err != nil {
			slog.Warn("hotplug watcher stop error", "err", err)
		}
	}
	if err := eng.Shutdown(shutCtx); err != nil {
		slog.Warn("engine shutdown error", "err", err)
	}

	slog.Info("shutdown complete")
}

// listenPort extracts the port of a listen address, defaulting to 80.
func listenPort(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 80
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return 80
	}
	return n
}
