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

	"github.com/TGOO-Worldwide/siliviat-app/internal/auth"
	"github.com/TGOO-Worldwide/siliviat-app/internal/config"
	"github.com/TGOO-Worldwide/siliviat-app/internal/database"
	"github.com/TGOO-Worldwide/siliviat-app/internal/handler"
	"github.com/TGOO-Worldwide/siliviat-app/internal/idempotency"
	"github.com/TGOO-Worldwide/siliviat-app/internal/logger"
	"github.com/TGOO-Worldwide/siliviat-app/internal/models"
	"github.com/TGOO-Worldwide/siliviat-app/internal/repository"
	"github.com/TGOO-Worldwide/siliviat-app/internal/router"
	"github.com/TGOO-Worldwide/siliviat-app/internal/service"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	mintToken := flag.Bool("mint-token", false, "Print a bearer token for -user and -role, then exit")
	userID := flag.String("user", "", "User id for -mint-token")
	role := flag.String("role", string(models.RoleSales), "Role for -mint-token (SALES or ADMIN)")
	flag.Parse()

	cfg, err := config.LoadServerConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	if *mintToken {
		if err := printToken(tokens, *userID, models.Role(*role)); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting visit server",
		zap.String("env", cfg.Env),
		zap.String("config_path", *configPath),
		zap.String("database_driver", cfg.Database.Driver),
	)

	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN, database.ServerSchema, log.Logger)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Failed to close database", zap.Error(err))
		}
	}()

	store, closeStore := idempotencyStore(cfg, log.Logger)
	defer closeStore()

	visits := repository.NewVisitRepository(db)
	companies := repository.NewCompanyRepository(db)
	technologies := repository.NewTechnologyRepository(db)
	audit := repository.NewAuditRepository(db)

	handlers := router.Handlers{
		Visits: handler.NewVisitHandler(
			service.NewVisitService(db, visits, companies, audit, log.Logger), log.Logger),
		Companies: handler.NewCompanyHandler(
			service.NewCompanyService(companies, audit, log.Logger), log.Logger),
		Sales: handler.NewSaleHandler(
			service.NewSaleService(repository.NewSaleRepository(db), companies, technologies, visits, audit, log.Logger), log.Logger),
		Technologies: handler.NewTechnologyHandler(
			service.NewTechnologyService(technologies, audit, log.Logger), log.Logger),
	}

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router.New(handlers, tokens, store, log.Logger),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info("Starting HTTP server", zap.String("address", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("Visit server stopped")
}

// idempotencyStore returns the Redis store when enabled and reachable,
// otherwise the in-memory one.
func idempotencyStore(cfg *config.ServerConfig, log *zap.Logger) (idempotency.Store, func()) {
	if cfg.Redis.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		rs, err := idempotency.NewRedisStore(ctx, &redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Idempotency.TTL)
		if err == nil {
			log.Info("Using Redis idempotency store", zap.String("addr", cfg.Redis.Addr))
			return rs, func() {
				if err := rs.Close(); err != nil {
					log.Warn("Failed to close Redis client", zap.Error(err))
				}
			}
		}
		log.Warn("Redis unavailable, falling back to in-memory idempotency store", zap.Error(err))
	}

	ms := idempotency.NewMemoryStore(cfg.Idempotency.TTL, time.Minute, log)
	return ms, ms.Stop
}

func printToken(tokens *auth.TokenManager, userID string, role models.Role) error {
	if userID == "" {
		return errors.New("-user is required with -mint-token")
	}
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}
	token, err := tokens.GenerateToken(userID, role)
	if err != nil {
		return fmt.Errorf("failed to mint token: %w", err)
	}
	fmt.Println(token)
	return nil
}
