package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/codexam/internal/cache"
	"github.com/stemsi/codexam/internal/clock"
	"github.com/stemsi/codexam/internal/config"
	"github.com/stemsi/codexam/internal/database"
	"github.com/stemsi/codexam/internal/executor"
	"github.com/stemsi/codexam/internal/grading"
	"github.com/stemsi/codexam/internal/handler"
	"github.com/stemsi/codexam/internal/integrity"
	"github.com/stemsi/codexam/internal/logger"
	"github.com/stemsi/codexam/internal/repository"
	"github.com/stemsi/codexam/internal/router"
	"github.com/stemsi/codexam/internal/service"
	"github.com/stemsi/codexam/internal/session"
	"github.com/stemsi/codexam/internal/validator"
	"github.com/stemsi/codexam/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("executor", cfg.Executor).
		Msg("Starting Codexam")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Code Execution ────────────────────────────────────────────────
	exec, closeExec, err := newExecutor(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise code executor")
	}
	defer closeExec()

	// ─── Initialize Repositories ───────────────────────────────────────
	store := repository.NewStore(pool)
	adminRepo := repository.NewAdminRepository(pool)
	eventRepo := repository.NewIntegrityRepository(pool)

	// ─── Session Engine ────────────────────────────────────────────────
	notifier := integrity.NewRedisNotifier(rdb)
	orch := session.NewOrchestrator(session.Deps{
		Store: store,
		Grader: grading.NewEngine(exec, grading.Config{
			TestTimeout: cfg.TestTimeout,
			Parallelism: cfg.GradingParallelism,
		}, log),
		Monitor: integrity.NewMonitor(notifier, integrity.NewRedisEventLog(rdb), cfg.WarningThreshold, log),
		Clock:   clock.Real{},
		Backlog: worker.NewSessionBacklog(rdb),
		Locker:  cache.NewStartLock(rdb, cfg.StartLockTTL, log),
	}, session.Policy{
		CodingQuestions: cfg.CodingQuestionCount,
		MCQQuestions:    cfg.MCQQuestionCount,
		MCQGracePeriod:  cfg.MCQGracePeriod,
	}, log)

	// Adopt sessions left running by a previous process before taking traffic,
	// so their timers fire even if the student never comes back.
	if _, err := orch.Recover(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to recover active sessions")
	}

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	examService := service.NewExamService(orch, store, authService)
	adminService := service.NewAdminService(adminRepo, store.Results, store.ClassSections, store.Sessions, eventRepo, orch.Snapshot)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:    handler.NewAuthHandler(authService, adminService),
		Exam:    handler.NewExamHandler(examService, orch, log),
		WS:      handler.NewWSHandler(orch, notifier, log, cfg.AllowedOrigins),
		Admin:   handler.NewAdminHandler(adminService, log),
		Monitor: handler.NewMonitorHandler(adminService, notifier, log),
		System:  handler.NewSystemHandler(pool, rdb, orch.ActiveCount, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	integrityWorker := worker.NewIntegrityWorker(eventRepo, rdb, log)
	syncWorker := worker.NewSessionSyncWorker(store, rdb, log)

	workers.Add(2)
	go func() { defer workers.Done(); integrityWorker.Start(workerCtx) }()
	go func() { defer workers.Done(); syncWorker.Start(workerCtx) }()

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests. Coding submissions run test cases,
	// so in-flight requests get longer than a plain API would.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop session goroutines and timers. Sessions stay in the store and
	// the next process recovers them.
	orch.Close()

	// 3. Stop background workers and wait for their buffers to drain.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// newExecutor builds the executor selected by EXECUTOR.
func newExecutor(cfg *config.Config, log zerolog.Logger) (executor.Executor, func(), error) {
	switch cfg.Executor {
	case config.ExecutorProcess:
		log.Warn().Msg("Process executor gives no isolation; use it for development only")
		e, err := executor.NewProcessExecutor(executor.ProcessConfig{
			Interpreter:   cfg.ExecutorPython,
			Timeout:       cfg.TestTimeout,
			WorkspaceRoot: cfg.ExecutorWorkspace,
			Logger:        log,
		})
		return e, func() {}, err
	default:
		e, err := executor.NewDockerExecutor(executor.DockerConfig{
			Host:          cfg.ExecutorHost,
			Image:         cfg.ExecutorImage,
			Timeout:       cfg.TestTimeout,
			MemoryLimitMB: cfg.ExecutorMemoryMB,
			CPUShares:     cfg.ExecutorCPUShares,
			WorkspaceRoot: cfg.ExecutorWorkspace,
			Logger:        log,
		})
		if err != nil {
			return nil, nil, err
		}
		return e, func() { _ = e.Close() }, nil
	}
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
