package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/codexam/internal/config"
)

const healthTimeout = 2 * time.Second

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemHandler reports liveness of the service and its dependencies.
type SystemHandler struct {
	db        Pinger
	rdb       *redis.Client
	active    func() int
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler. active reports the number of
// sessions running in this process.
func NewSystemHandler(db Pinger, rdb *redis.Client, active func() int, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		db:        db,
		rdb:       rdb,
		active:    active,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type healthReport struct {
	Status         string           `json:"status"`
	Postgres       string           `json:"postgres"`
	Redis          string           `json:"redis"`
	Uptime         string           `json:"uptime"`
	ActiveSessions int              `json:"active_sessions"`
	Goroutines     int              `json:"goroutines"`
	Queues         map[string]int64 `json:"queues"`
}

// Health godoc
// GET /health
// Returns 200 when Postgres and Redis answer, 503 otherwise. Live sessions keep
// running from memory while the database is down, so this is a readiness
// signal, not a liveness one.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	rep := healthReport{
		Status:     "ok",
		Postgres:   "ok",
		Redis:      "ok",
		Uptime:     time.Since(h.startTime).Truncate(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		Queues:     map[string]int64{},
	}
	if h.active != nil {
		rep.ActiveSessions = h.active()
	}

	if err := h.db.Ping(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Postgres health check failed")
		rep.Postgres, rep.Status = "down", "degraded"
	}

	pipe := h.rdb.Pipeline()
	integrity := pipe.LLen(ctx, config.WorkerKey.PersistIntegrityQueue)
	sessions := pipe.LLen(ctx, config.WorkerKey.PersistSessionsQueue)
	if _, err := pipe.Exec(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Redis health check failed")
		rep.Redis, rep.Status = "down", "degraded"
	} else {
		rep.Queues[config.WorkerKey.PersistIntegrityQueue] = integrity.Val()
		rep.Queues[config.WorkerKey.PersistSessionsQueue] = sessions.Val()
	}

	status := http.StatusOK
	if rep.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, rep)
}
