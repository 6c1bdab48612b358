package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/codexam/internal/model"
	"github.com/stemsi/codexam/internal/response"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // keeps a slow query from stalling the stream
)

// SessionLister lists every session of a class.
type SessionLister interface {
	ListSessions(ctx context.Context, class string) ([]model.ExamResult, error)
}

// ClassSubscriber opens a class's proctoring channel.
type ClassSubscriber interface {
	SubscribeClass(ctx context.Context, class string) *redis.PubSub
}

// MonitorHandler streams a live view of a class to proctors over SSE.
type MonitorHandler struct {
	sessions SessionLister
	events   ClassSubscriber
	log      zerolog.Logger
}

func NewMonitorHandler(sessions SessionLister, events ClassSubscriber, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		sessions: sessions,
		events:   events,
		log:      log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorClassSSE godoc
// GET /api/v1/admin/classes/:class/monitor
// Sends a snapshot of every session in the class, then integrity notifications
// as they happen and a fresh snapshot every refreshInterval.
func (h *MonitorHandler) MonitorClassSSE(c *gin.Context) {
	class := c.Param("class")
	reqCtx := c.Request.Context()

	sessions, err := h.snapshot(reqCtx, class)
	if err != nil {
		h.log.Error().Err(err).Str("class", class).Msg("Initial monitor snapshot failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.send(c, "snapshot", gin.H{"class": class, "sessions": sessions})

	pubsub := h.events.SubscribeClass(reqCtx, class)
	defer pubsub.Close()
	ch := pubsub.Channel()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	refresh := time.NewTicker(refreshInterval)
	defer refresh.Stop()

	h.log.Info().Str("class", class).Msg("Proctor attached to class monitor")

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("class", class).Msg("Proctor detached from class monitor")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Payload is already JSON.
			c.Writer.Write([]byte("event: integrity\ndata: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()

		case <-refresh.C:
			sessions, err := h.snapshot(reqCtx, class)
			if err != nil {
				h.log.Warn().Err(err).Str("class", class).Msg("Monitor refresh failed")
				continue
			}
			h.send(c, "snapshot", gin.H{"class": class, "sessions": sessions})

		case <-keepAlive.C:
			c.Writer.Write([]byte(": ping\n\n"))
			c.Writer.Flush()
		}
	}
}

func (h *MonitorHandler) snapshot(ctx context.Context, class string) ([]model.ExamResult, error) {
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()
	sessions, err := h.sessions.ListSessions(ctx, class)
	if sessions == nil {
		sessions = []model.ExamResult{}
	}
	return sessions, err
}

func (h *MonitorHandler) send(c *gin.Context, event string, data interface{}) {
	c.SSEvent(event, data)
	c.Writer.Flush()
}
