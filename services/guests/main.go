package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-co-op/gocron/v2"
	"golang.org/x/time/rate"

	"github.com/aetherhome/aether/pkg/config"
	"github.com/aetherhome/aether/pkg/database"
	"github.com/aetherhome/aether/pkg/events"
	"github.com/aetherhome/aether/pkg/logger"
	mw "github.com/aetherhome/aether/pkg/middleware"
	"github.com/aetherhome/aether/services/guests/internal/handlers"
	"github.com/aetherhome/aether/services/guests/internal/repository"
	"github.com/aetherhome/aether/services/guests/internal/service"
)

func main() {
	cfg := config.Load()
	logger.Configure(cfg.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := repository.Migrate(ctx, pool); err != nil {
		logger.Error("Failed to apply schema", "error", err)
		os.Exit(1)
	}

	var eventBus events.Publisher = events.LogPublisher{}
	if cfg.NATS.Enabled {
		bus, err := events.NewNATSEventBus(cfg.NATS.URL)
		if err != nil {
			logger.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		eventBus = bus
	}
	defer eventBus.Close()

	ownerRepo := repository.NewOwnerRepository(pool)
	roomRepo := repository.NewRoomRepository(pool)
	guestRepo := repository.NewGuestRepository(pool)
	rateLimitRepo := repository.NewRateLimitRepository(pool)

	authService := service.NewAuthService(ownerRepo, cfg)
	guestService := service.NewGuestService(ownerRepo, roomRepo, guestRepo, rateLimitRepo, eventBus, cfg)

	scheduler, err := startSweeper(ctx, guestService, cfg.Guests.SweepInterval)
	if err != nil {
		logger.Error("Failed to start draft sweeper", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			logger.Error("Sweeper shutdown error", "error", err)
		}
	}()

	loginLimiter := mw.NewRateLimiter(rate.Limit(cfg.Guests.LoginRPS), cfg.Guests.LoginBurst)
	go loginLimiter.Cleanup(ctx)

	h := handlers.New(authService, guestService, cfg)

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("guests"))
	r.Use(mw.Logging)
	r.Use(mw.Recover)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(mw.Health(pool.Ping))
	r.Mount("/", h.Routes(loginLimiter.Middleware))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down guests service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Guests service shutdown error", "error", err)
		}
	}()

	logger.Info("Starting guests service", "port", cfg.Server.Port, "nats", cfg.NATS.Enabled)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Guests service error", "error", err)
		os.Exit(1)
	}
}

// startSweeper runs guestService.Sweep every interval.
func startSweeper(ctx context.Context, guests service.GuestService, interval time.Duration) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if _, err := guests.Sweep(ctx); err != nil {
				logger.Error("Draft sweep failed", "error", err)
			}
		}),
		gocron.WithName("stale-guest-drafts"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, err
	}

	s.Start()
	return s, nil
}
