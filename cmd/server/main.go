// Command server runs the attendance reconciliation service: the polling,
// folding, gap-backfill, stale-close, and validation tasks plus the HTTP
// read-model and ops API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/mfarhanz/go-attendance-core/internal/config"
	httpapi "github.com/mfarhanz/go-attendance-core/internal/http"
	"github.com/mfarhanz/go-attendance-core/internal/observability"
	"github.com/mfarhanz/go-attendance-core/internal/registry"
	"github.com/mfarhanz/go-attendance-core/internal/repo"
	"github.com/mfarhanz/go-attendance-core/internal/services"
	"github.com/mfarhanz/go-attendance-core/internal/sysutil"
	"github.com/mfarhanz/go-attendance-core/internal/upstream"
)

const version = "1.0.0"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.SetupLogging(cfg.LogLevel, cfg.LogPretty)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			log.Warn().Err(err).Msg("db tracing not enabled")
		}
	}

	reg := registry.FromConfig(cfg.Registry)
	client := upstream.NewClient(cfg.Upstream)
	feed := services.NewFeed()

	p := cfg.Pipeline
	poller := services.NewPoller(db, client, p.PollInterval, p.PollOverlap, p.ExtendedAfter, p.ExtendedWindow)
	folder := services.NewFoldingEngine(db, reg, feed, p.SessionMaxHours, p.FoldBatchSize)
	gaps := services.NewGapAgent(db, client, p.GapMaxAttempts, p.GapRetryBackoff)
	scorer := services.NewTerminalScorer(db, p.OnsiteTerminals)
	closer := services.NewStaleCloser(db, reg, scorer, feed,
		p.StaleAfter, p.SessionMaxHours, p.PenaltyMissingOut, p.PenaltyOffsite, p.PenaltyLowSignal,
		p.ConfidenceFloor)
	validator := services.NewValidator(db, p.BaselineWeeks, p.QualityFloor)

	runner := services.NewRunner()
	runner.Add(services.TaskPoll, p.PollInterval, poller.RunCycle)
	runner.Add(services.TaskFold, p.FoldInterval, func(ctx context.Context) error {
		_, err := folder.RunCycle(ctx)
		return err
	})
	runner.Add(services.TaskGapScan, p.GapScanInterval, gaps.RunCycle)
	runner.Add(services.TaskSweep, p.SweepInterval, func(ctx context.Context) error {
		_, err := closer.RunCycle(ctx)
		return err
	})
	runner.Add(services.TaskValidate, p.ValidatorInterval, validator.RunCycle)
	runner.Start(ctx)

	engine := gin.New()
	httpapi.RegisterRoutes(engine, db, runner, poller, validator, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	// Stop taking requests, then wait for in-flight task cycles.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	runner.Wait()
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown failed")
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("bye")
}
