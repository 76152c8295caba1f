package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/pongarena/tournament-engine/brackets"
	"github.com/pongarena/tournament-engine/config"
	"github.com/pongarena/tournament-engine/db"
	"github.com/pongarena/tournament-engine/handlers"
	"github.com/pongarena/tournament-engine/metrics"
	"github.com/pongarena/tournament-engine/middleware"
	"github.com/pongarena/tournament-engine/repositories"
	api "github.com/pongarena/tournament-engine/routes"
	"github.com/pongarena/tournament-engine/services"
	"github.com/pongarena/tournament-engine/storage"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("application failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("application exited")
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded",
		slog.Int("port", cfg.ServerPort),
		slog.Duration("ready_up_window", cfg.ReadyUpWindow),
		slog.Bool("archive_enabled", cfg.ArchiveEnabled()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbConn, err := db.Connect(cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		} else {
			logger.Info("database connection closed")
		}
	}()
	if err := db.CreateSchema(ctx, dbConn); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	logger.Info("database connection established")

	var store storage.ObjectStore
	if cfg.ArchiveEnabled() {
		store, err = storage.NewR2Store(ctx, storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicBaseURL:   cfg.R2PublicBaseURL,
			Endpoint:        cfg.R2Endpoint,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize R2 store: %w", err)
		}
		logger.Info("R2 archive store initialized", slog.String("bucket", cfg.R2BucketName))
	} else {
		store = storage.NewMemoryStore(cfg.R2PublicBaseURL)
		logger.Warn("R2 is not configured, bracket archives are kept in memory")
	}

	wsHub := brackets.NewHub(logger)
	m := metrics.New()

	tournamentRepo := repositories.NewPostgresTournamentRepository(dbConn)
	membershipRepo := repositories.NewPostgresMembershipRepository(dbConn)
	matchRepo := repositories.NewPostgresMatchRepository(dbConn)
	recordRepo := repositories.NewPostgresMatchRecordRepository(dbConn)

	scheduler, err := services.NewReadyUpScheduler(nil, m, logger)
	if err != nil {
		return err
	}

	engine := services.NewEngine(services.Deps{
		DB:            dbConn,
		Tournaments:   tournamentRepo,
		Memberships:   membershipRepo,
		Matches:       matchRepo,
		MatchRecords:  recordRepo,
		Generator:     brackets.NewSingleEliminationGenerator(brackets.NewRandomShuffler(), logger),
		Notifier:      wsHub,
		Broadcaster:   wsHub,
		Scheduler:     scheduler,
		Archiver:      services.NewBracketArchiver(store, tournamentRepo, matchRepo, recordRepo, logger),
		Metrics:       m,
		Logger:        logger,
		ReadyUpWindow: cfg.ReadyUpWindow,
	})

	scheduler.SetExpiryHandler(engine.Matches.ExpireReadyWindow)
	scheduler.Start()
	if _, err := engine.Tournaments.RecoverReadyWindows(ctx); err != nil {
		logger.Error("failed to recover ready-up windows", slog.Any("error", err))
	}

	router := chi.NewRouter()
	api.SetupRoutes(router, api.Handlers{
		Tournaments: handlers.NewTournamentHandler(engine.Tournaments, engine.Memberships),
		Matches:     handlers.NewMatchHandler(engine.Matches),
		WebSocket:   handlers.NewWebSocketHandler(wsHub, cfg.AllowedOrigins, logger),
		Health:      handlers.NewHealthHandler(dbConn),
		Metrics:     m.Handler(),
	}, api.Options{
		Auth:             middleware.NewAuthenticator(cfg.JWTSecretKey, logger),
		GameServiceToken: cfg.GameServiceToken,
		AllowedOrigins:   cfg.AllowedOrigins,
	})
	logger.Info("routes configured")

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return wsHub.Run(gCtx)
	})
	g.Go(func() error {
		logger.Info("starting server", slog.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down server", slog.Duration("timeout", shutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("graceful shutdown failed: %w", err))
			_ = server.Close()
		}
		if err := scheduler.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("scheduler shutdown failed: %w", err))
		}
		engine.Wait()
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
