package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/codexam/internal/middleware"
	"github.com/stemsi/codexam/internal/response"
	"github.com/stemsi/codexam/internal/validator"
	ws "github.com/stemsi/codexam/internal/websocket"
)

// SessionSubscriber opens the notification channel of one session.
type SessionSubscriber interface {
	Subscribe(ctx context.Context, sessionID uuid.UUID) *redis.PubSub
}

// WSHandler serves the exam over a WebSocket: the same actions as the REST
// endpoints plus pushed session events such as integrity warnings.
type WSHandler struct {
	engine   SessionEngine
	events   SessionSubscriber
	log      zerolog.Logger
	upgrader *websocket.Upgrader
}

// NewWSHandler creates a new WSHandler. events may be nil, in which case no
// events are pushed.
func NewWSHandler(engine SessionEngine, events SessionSubscriber, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		engine:   engine,
		events:   events,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: ws.NewUpgrader(allowedOrigins),
	}
}

// conn serialises writes; gorilla allows one concurrent writer.
type conn struct {
	mu sync.Mutex
	c  *websocket.Conn
}

func (w *conn) reply(r ws.Reply) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return ws.WriteReply(w.c, r)
}

func (w *conn) fail(ref string, err error) error {
	_, code := classify(err)
	return w.failCode(ref, code)
}

func (w *conn) failCode(ref string, code response.ErrCode) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return ws.WriteError(w.c, ref, string(code), response.GetMessage(code))
}

// ExamStream godoc
// WS /ws/v1/exam/sessions/:id/stream
func (h *WSHandler) ExamStream(c *gin.Context) {
	sessionID := middleware.SessionID(c)

	st, err := h.engine.State(c.Request.Context(), sessionID)
	if err != nil {
		failSession(c, h.log, err)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer raw.Close()
	wc := &conn{c: raw}

	wsLog := h.log.With().Str("session_id", sessionID.String()).Logger()
	wsLog.Info().Msg("Student connected")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	if h.events != nil {
		pubsub := h.events.Subscribe(ctx, sessionID)
		defer pubsub.Close()
		go h.forward(ctx, wc, pubsub, wsLog)
	}

	if err := wc.reply(ws.Reply{Event: ws.EventConnection, Data: st}); err != nil {
		return
	}

	for {
		var msg ws.RequestEnvelope
		if err := ws.ReadJSON(raw, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}
		if err := h.dispatch(ctx, wc, sessionID, &msg); err != nil {
			wsLog.Debug().Err(err).Msg("Write failed, dropping connection")
			return
		}
	}
}

// forward relays session notifications until ctx ends.
func (h *WSHandler) forward(ctx context.Context, wc *conn, pubsub *redis.PubSub, log zerolog.Logger) {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := wc.reply(ws.Reply{Event: ws.EventBroadcast, Data: json.RawMessage(msg.Payload)}); err != nil {
				log.Debug().Err(err).Msg("Forward failed")
				return
			}
		}
	}
}

func (h *WSHandler) dispatch(ctx context.Context, wc *conn, sessionID uuid.UUID, msg *ws.RequestEnvelope) error {
	switch msg.Action {
	case ws.ActionPing:
		return wc.reply(ws.Reply{Event: ws.EventPong, Ref: msg.Ref})

	case ws.ActionAnswer:
		var req ws.AnswerRequest
		if err := decode(wc, msg, &req); err != nil {
			return ignoreInvalid(err)
		}
		ack, err := h.engine.SubmitAnswer(ctx, sessionID, uuid.MustParse(req.QuestionID), req.Code)
		return h.respond(wc, msg.Ref, ws.EventAck, ack, ack.Persisted, err)

	case ws.ActionMCQAnswer:
		var req ws.MCQAnswerRequest
		if err := decode(wc, msg, &req); err != nil {
			return ignoreInvalid(err)
		}
		ack, err := h.engine.SubmitMCQAnswer(ctx, sessionID, uuid.MustParse(req.QuestionID), *req.OptionIndex)
		return h.respond(wc, msg.Ref, ws.EventAck, ack, ack.Persisted, err)

	case ws.ActionIntegrity:
		var req ws.IntegrityRequest
		if err := decode(wc, msg, &req); err != nil {
			return ignoreInvalid(err)
		}
		ack, err := h.engine.ReportIntegrityEvent(ctx, sessionID, req.Kind, req.Detail)
		return h.respond(wc, msg.Ref, ws.EventIntegrity, ack, ack.Persisted, err)

	case ws.ActionSubmitCoding:
		out, err := h.engine.SubmitCodingSection(ctx, sessionID)
		return h.respond(wc, msg.Ref, ws.EventCoding, out, out.Persisted, err)

	case ws.ActionSubmitMCQ:
		out, err := h.engine.SubmitMCQSection(ctx, sessionID)
		return h.respond(wc, msg.Ref, ws.EventCompleted, out, out.Persisted, err)

	default:
		h.log.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
		return wc.failCode(msg.Ref, response.ErrInvalidPayload)
	}
}

func (h *WSHandler) respond(wc *conn, ref string, event ws.Event, data interface{}, persisted bool, err error) error {
	if err != nil {
		if status, _ := classify(err); status >= http.StatusInternalServerError {
			h.log.Error().Err(err).Str("event", string(event)).Msg("Exam action failed")
		}
		return wc.fail(ref, err)
	}
	r := ws.Reply{Event: event, Ref: ref, Data: data}
	if !persisted {
		r.Warning = response.GetMessage(response.ErrNotPersisted)
	}
	return wc.reply(r)
}

// errInvalid marks a frame that was rejected and already answered with an error.
type errInvalid struct{ write error }

func (e errInvalid) Error() string { return "invalid frame" }

// ignoreInvalid keeps the connection open after a rejected frame unless the
// error reply itself could not be written.
func ignoreInvalid(err error) error {
	if e, ok := err.(errInvalid); ok {
		return e.write
	}
	return err
}

// decode unpacks and validates an action's data, replying with an error when it is malformed.
func decode(wc *conn, msg *ws.RequestEnvelope, dst interface{}) error {
	if len(msg.Data) == 0 || json.Unmarshal(msg.Data, dst) != nil {
		return errInvalid{wc.failCode(msg.Ref, response.ErrInvalidPayload)}
	}
	if fields := validator.Struct(dst); fields != nil {
		wc.mu.Lock()
		defer wc.mu.Unlock()
		return errInvalid{ws.WriteError(wc.c, msg.Ref, string(response.ErrValidation), validator.FirstMessage(fields))}
	}
	return nil
}
