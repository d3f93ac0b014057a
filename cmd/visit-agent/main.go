package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TGOO-Worldwide/siliviat-app/internal/cache"
	"github.com/TGOO-Worldwide/siliviat-app/internal/client"
	"github.com/TGOO-Worldwide/siliviat-app/internal/config"
	"github.com/TGOO-Worldwide/siliviat-app/internal/connectivity"
	"github.com/TGOO-Worldwide/siliviat-app/internal/controller"
	"github.com/TGOO-Worldwide/siliviat-app/internal/database"
	"github.com/TGOO-Worldwide/siliviat-app/internal/device"
	"github.com/TGOO-Worldwide/siliviat-app/internal/geo"
	"github.com/TGOO-Worldwide/siliviat-app/internal/logger"
	"github.com/TGOO-Worldwide/siliviat-app/internal/notify"
	"github.com/TGOO-Worldwide/siliviat-app/internal/queue"
	"github.com/TGOO-Worldwide/siliviat-app/internal/server"
	"github.com/TGOO-Worldwide/siliviat-app/internal/store"
	"github.com/TGOO-Worldwide/siliviat-app/internal/syncer"

	"go.uber.org/zap"
)

const (
	shutdownTimeout  = 5 * time.Second
	staleEventMaxAge = 7 * 24 * time.Hour
)

func main() {
	configPath := flag.String("config", "config/agent.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadAgentConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting visit agent",
		zap.String("env", cfg.Env),
		zap.String("config_path", *configPath),
	)

	db, err := database.New(cfg.StoragePath, log.Logger)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Failed to close database", zap.Error(err))
		}
	}()

	ctx := context.Background()
	kv := store.NewKV(db.DB, log.Logger)
	eventQueue := queue.NewEventQueue(db.DB, log.Logger)

	deviceID, err := device.NewManager(kv, log.Logger).Resolve(ctx, cfg.Device.ID)
	if err != nil {
		log.Fatal("Failed to resolve device ID", zap.Error(err))
	}

	apiClient := client.NewAPIClient(cfg.Backend.BaseURL, cfg.Backend.Token, cfg.Backend.Timeout, log.Logger)
	apiClient.SetDeviceID(deviceID)

	bus := notify.NewBus(log.Logger)

	monitor := connectivity.NewMonitor(apiClient, cfg.Connectivity.ProbeInterval, cfg.Connectivity.ProbeTimeout, log.Logger)
	unsubscribeConnectivity := monitor.Subscribe(func(online bool) {
		bus.Publish(notify.Event{
			Kind: notify.KindConnectivity,
			Data: map[string]bool{"online": online},
			At:   time.Now(),
		})
	})
	defer unsubscribeConnectivity()

	engine := syncer.NewEngine(eventQueue, apiClient, bus, syncer.Options{
		MaxRetries:      cfg.Sync.MaxRetries,
		RetryRejections: cfg.Sync.RetryRejections,
	}, log.Logger)
	syncLoop := syncer.NewLoop(engine, eventQueue, monitor, cfg.Sync.Interval, cfg.Sync.MaxBackoff, log.Logger)

	opts := []controller.Option{controller.WithRefreshInterval(cfg.Sync.RefreshInterval)}
	if cfg.Geolocation.Enabled {
		opts = append(opts, controller.WithLocator(geo.Fixed(cfg.Geolocation.Latitude, cfg.Geolocation.Longitude)))
	}
	ctrl := controller.New(
		apiClient,
		eventQueue,
		monitor,
		geo.NewAcquirer(cfg.Geolocation.Timeout, log.Logger),
		kv,
		bus,
		log.Logger,
		opts...,
	)
	if err := ctrl.Load(ctx); err != nil {
		log.Warn("Failed to restore visit state, starting clean", zap.Error(err))
	}

	shellClient := client.NewAPIClient(cfg.Cache.Origin, "", cfg.Backend.Timeout, log.Logger)
	cacheLayer := cache.NewLayer(shellClient, apiClient, kv, cfg.Cache.ShellRoutes, log.Logger)

	hub := server.NewHub(log.Logger)
	detachHub := hub.Attach(bus)

	localServer := server.NewLocalServer(server.Deps{
		Controller:   ctrl,
		Syncer:       engine,
		Connectivity: monitor,
		Queue:        eventQueue,
		Cache:        cacheLayer.Handler(),
		Hub:          hub,
	}, log.Logger)

	addr := fmt.Sprintf("localhost:%d", cfg.Server.Port)
	httpServer := &http.Server{
		Addr:        addr,
		Handler:     localServer.Routes(),
		ReadTimeout: 15 * time.Second,
		// geolocation and a backend round trip can outlast a short write timeout
		WriteTimeout: cfg.Geolocation.Timeout + cfg.Backend.Timeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	monitor.Start()
	ctrl.Start()
	syncLoop.Start()

	go func() {
		precacheCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		n := cacheLayer.Precache(precacheCtx)
		log.Info("Shell precache finished",
			zap.Int("cached", n),
			zap.Int("routes", len(cfg.Cache.ShellRoutes)),
		)
	}()

	go func() {
		log.Info("Starting local server", zap.String("address", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Local server error", zap.Error(err))
		}
	}()

	log.Info("Visit agent started",
		zap.String("device_id", deviceID),
		zap.String("device_name", cfg.Device.Name),
		zap.String("backend_url", cfg.Backend.BaseURL),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("Local server shutdown error", zap.Error(err))
	}
	hub.Close()
	detachHub()

	syncLoop.Stop()
	engine.Close()
	ctrl.Stop()
	monitor.Stop()

	if _, err := eventQueue.CleanupOldEvents(shutdownCtx, staleEventMaxAge, cfg.Sync.MaxRetries); err != nil {
		log.Error("Failed to cleanup old events", zap.Error(err))
	}

	log.Info("Visit agent stopped")
}
