package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/fastnote/notelive/internal/admin"
	"github.com/fastnote/notelive/internal/auth"
	"github.com/fastnote/notelive/internal/config"
	"github.com/fastnote/notelive/internal/gateway"
	"github.com/fastnote/notelive/internal/health"
	"github.com/fastnote/notelive/internal/logging"
	"github.com/fastnote/notelive/internal/logring"
	"github.com/fastnote/notelive/internal/metrics"
	"github.com/fastnote/notelive/internal/notify"
	"github.com/fastnote/notelive/internal/security"

	"golang.org/x/time/rate"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "notelive",
		Short: "Real-time WebSocket notification service for the FastNote backend",
	}

	var configPath string
	var verbose bool

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the notification service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(configPath, verbose)
		},
	}
	startCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	startCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version and build info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("NoteLive %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config without starting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config validation failed: %w", err)
			}
			fmt.Printf("Configuration is valid.\n")
			fmt.Printf("  Listen: %s\n", cfg.Server.ListenAddress)
			fmt.Printf("  WebSocket path: %s\n", cfg.Server.WSPath)
			fmt.Printf("  Health: %s\n", cfg.Health.ListenAddress)
			fmt.Printf("  Admin token set: %v\n", cfg.Security.AdminToken != "")
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check health (exit 0 if healthy, 1 if not)",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _ := cmd.Flags().GetString("url")
			return checkHealth(url)
		},
	}
	healthCmd.Flags().String("url", "http://127.0.0.1:8091/health", "Health endpoint URL")

	systemdCmd := &cobra.Command{
		Use:   "systemd",
		Short: "Generate systemd service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			printFlag, _ := cmd.Flags().GetBool("print")
			if printFlag {
				printSystemdUnit()
			}
			return nil
		},
	}
	systemdCmd.Flags().Bool("print", false, "Print systemd unit to stdout")

	rootCmd.AddCommand(startCmd, versionCmd, validateCmd, healthCmd, systemdCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(configPath string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if verbose {
		cfg.Logging.Level = "debug"
	}

	// Logging, with a ring buffer behind the admin log endpoint
	ring := logring.NewRingBuffer(cfg.Logging.RingSize)
	lj := logging.Setup(
		cfg.Logging.Level,
		cfg.Logging.Format,
		cfg.Logging.File,
		cfg.Logging.MaxSizeMB,
		cfg.Logging.MaxBackups,
		cfg.Logging.MaxAgeDays,
		cfg.Logging.Compress,
		ring,
	)
	if lj != nil {
		defer lj.Close()
	}

	slog.Info("starting NoteLive",
		"version", Version,
		"listen", cfg.Server.ListenAddress,
		"ws_path", cfg.Server.WSPath,
		"health", cfg.Health.ListenAddress,
	)

	// Optional Prometheus metrics
	var m *metrics.Metrics
	if cfg.Monitoring.MetricsEnabled {
		m = metrics.New(prometheus.DefaultRegisterer)
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Monitoring.MetricsEndpoint)
	}

	// Delivery core
	registry := notify.NewRegistry()
	bus := notify.NewBus(cfg.Notify.BusCapacity)
	service := notify.NewService(registry, bus, m)
	notifyHandler := notify.NewHandler(registry, bus, m, notify.HandlerOptions{
		MailboxSize:  cfg.Notify.MailboxSize,
		WriteTimeout: cfg.Server.WriteTimeout,
		PingInterval: cfg.Notify.PingInterval,
		PongTimeout:  cfg.Notify.PongTimeout,
	})

	// Background reaper for registry entries that missed their deregister
	reaperCtx, reaperCancel := context.WithCancel(context.Background())
	defer reaperCancel()
	go service.RunReaper(reaperCtx, cfg.Notify.ReaperInterval)

	var rl *security.RateLimiter
	if cfg.Security.RateLimit.Enabled {
		r := rate.Limit(float64(cfg.Security.RateLimit.ConnectionsPerMinute) / 60.0)
		rl = security.NewRateLimiter(r, cfg.Security.RateLimit.ConnectionsPerMinute)
		defer rl.Stop()
		slog.Info("rate limiting enabled",
			"connections_per_minute", cfg.Security.RateLimit.ConnectionsPerMinute,
		)
	}

	// Gateway (WebSocket upgrade endpoint)
	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	verifier := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Leeway)
	tracker := gateway.NewTracker()
	gw := gateway.NewHandler(cfg, verifier, notifyHandler, tracker, rl, m, shutdownCtx)

	// Admin API shares the gateway listener, under /api/v1/
	adminAPI := admin.New(admin.Dependencies{
		Service:    service,
		RingBuffer: ring,
		GetConfig:  gw.GetConfig,
	})

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.WSPath, gw)
	mux.Handle("/api/v1/", adminAPI.Handler())

	wsServer := &http.Server{
		Addr:    cfg.Server.ListenAddress,
		Handler: mux,
	}

	// Health server on its own loopback listener
	var healthServer *http.Server
	if cfg.Health.Enabled {
		healthHandler := health.NewHandler(service, tracker, Version, cfg.Health.Detailed)
		healthMux := http.NewServeMux()
		healthMux.Handle(cfg.Health.Endpoint, healthHandler)
		if cfg.Monitoring.MetricsEnabled {
			healthMux.Handle(cfg.Monitoring.MetricsEndpoint, promhttp.Handler())
		}
		healthServer = &http.Server{
			Addr:    cfg.Health.ListenAddress,
			Handler: healthMux,
		}
	}

	if healthServer != nil {
		go func() {
			slog.Info("health endpoint listening", "address", cfg.Health.ListenAddress)
			if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("health server error", "error", err)
			}
		}()
	}

	go func() {
		slog.Info("websocket endpoint listening", "address", cfg.Server.ListenAddress, "path", cfg.Server.WSPath)
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
		}
	}()

	// Notify systemd that we're ready
	daemon.SdNotify(false, daemon.SdNotifyReady)

	// Watchdog heartbeat (send every 15s for 30s WatchdogSec)
	watchdogCtx, watchdogCancel := context.WithCancel(context.Background())
	defer watchdogCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sent, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				if err != nil {
					slog.Warn("failed to notify watchdog", "error", err)
				} else if sent {
					slog.Debug("watchdog keepalive sent")
				}
			case <-watchdogCtx.Done():
				return
			}
		}
	}()

	// Signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for sig := range sigChan {
		switch sig {
		case syscall.SIGHUP:
			slog.Info("received SIGHUP, reloading config")
			newCfg, err := config.Load(configPath)
			if err != nil {
				slog.Error("config reload failed", "error", err)
				continue
			}

			for _, w := range config.IsReloadSafe(cfg, newCfg) {
				slog.Warn("config reload warning", "warning", w)
			}

			cfg = cfg.ApplyReloadableFields(newCfg)
			gw.UpdateConfig(cfg)

			if cfg.Security.RateLimit.Enabled && rl != nil {
				r := rate.Limit(float64(cfg.Security.RateLimit.ConnectionsPerMinute) / 60.0)
				rl.UpdateRate(r, cfg.Security.RateLimit.ConnectionsPerMinute)
			}

			logging.Setup(
				cfg.Logging.Level,
				cfg.Logging.Format,
				cfg.Logging.File,
				cfg.Logging.MaxSizeMB,
				cfg.Logging.MaxBackups,
				cfg.Logging.MaxAgeDays,
				cfg.Logging.Compress,
				ring,
			)

			slog.Info("config reloaded successfully")

		case syscall.SIGTERM, syscall.SIGINT:
			slog.Info("received shutdown signal, draining connections",
				"signal", sig.String(),
				"drain_timeout", cfg.Server.DrainTimeout.String(),
			)

			watchdogCancel()
			daemon.SdNotify(false, daemon.SdNotifyStopping)

			// Send close frames to active connections, then stop listeners
			gw.StartDrain()
			reaperCancel()

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.DrainTimeout)
			defer cancel()

			var wg sync.WaitGroup
			if healthServer != nil {
				wg.Add(1)
				go func() {
					defer wg.Done()
					healthServer.Shutdown(ctx)
				}()
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				wsServer.Shutdown(ctx)
			}()
			wg.Wait()

			shutdownCancel()
			slog.Info("shutdown complete")
			return nil
		}
	}

	return nil
}

func checkHealth(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		fmt.Println("healthy")
		return nil
	}
	fmt.Fprintf(os.Stderr, "unhealthy (status: %d)\n", resp.StatusCode)
	os.Exit(1)
	return nil
}

func printSystemdUnit() {
	fmt.Print(`[Unit]
Description=NoteLive - Real-time Notification Service
Documentation=https://github.com/fastnote/notelive
After=network-online.target
Wants=network-online.target

[Service]
Type=notify
User=notelive
Group=notelive
ExecStartPre=/usr/local/bin/notelive validate --config /etc/notelive/config.yaml
ExecStart=/usr/local/bin/notelive start --config /etc/notelive/config.yaml
ExecReload=/bin/kill -HUP $MAINPID
Restart=on-failure
RestartSec=5s
WatchdogSec=30s

# Security hardening
ProtectSystem=strict
ProtectHome=true
NoNewPrivileges=true
PrivateTmp=true
ReadOnlyPaths=/etc/notelive
LogsDirectory=notelive
StateDirectory=notelive
LimitNOFILE=65535

# Logging
StandardOutput=journal
StandardError=journal
SyslogIdentifier=notelive

[Install]
WantedBy=multi-user.target
`)
}
