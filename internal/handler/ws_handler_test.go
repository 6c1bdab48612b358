package handler

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/codexam/internal/middleware"
	"github.com/stemsi/codexam/internal/model"
	"github.com/stemsi/codexam/internal/session"
	ws "github.com/stemsi/codexam/internal/websocket"
	"github.com/stretchr/testify/require"
)

type reply struct {
	Event   ws.Event        `json:"event"`
	Ref     string          `json:"ref"`
	Data    json.RawMessage `json:"data"`
	Warning string          `json:"warning"`
	Error   *ws.ErrorBody   `json:"error"`
}

func dialStream(t *testing.T, h *harness) *websocket.Conn {
	t.Helper()
	wsh := NewWSHandler(h.engine, nil, zerolog.Nop(), nil)
	r := gin.New()
	r.GET("/ws/sessions/:id/stream", middleware.RequireSessionJWT(h.auth), middleware.RequireSessionOwner(), wsh.ExamStream)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sessions/" + h.sessionID.String() + "/stream?token=" + h.token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	first := read(t, conn)
	require.Equal(t, ws.EventConnection, first.Event)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) reply {
	t.Helper()
	var r reply
	require.NoError(t, conn.ReadJSON(&r))
	return r
}

func send(t *testing.T, conn *websocket.Conn, action ws.Action, ref string, data interface{}) {
	t.Helper()
	msg := map[string]interface{}{"action": action, "ref": ref}
	if data != nil {
		msg["data"] = data
	}
	require.NoError(t, conn.WriteJSON(msg))
}

func TestStreamPingAndAnswer(t *testing.T) {
	h := newHarness(t)
	h.engine.state = session.State{SessionID: h.sessionID, Phase: model.PhaseCoding}
	h.engine.ack = session.Ack{Persisted: true}
	conn := dialStream(t, h)

	send(t, conn, ws.ActionPing, "p1", nil)
	r := read(t, conn)
	require.Equal(t, ws.EventPong, r.Event)
	require.Equal(t, "p1", r.Ref)

	send(t, conn, ws.ActionAnswer, "a1", map[string]string{"question_id": uuid.NewString(), "code": "print(2)"})
	r = read(t, conn)
	require.Equal(t, ws.EventAck, r.Event)
	require.Equal(t, "a1", r.Ref)
	require.Empty(t, r.Warning)
	h.engine.set(func(e *stubEngine) { require.Equal(t, "print(2)", e.gotCode) })
}

func TestStreamRejectsBadFramesWithoutClosing(t *testing.T) {
	h := newHarness(t)
	h.engine.state = session.State{SessionID: h.sessionID, Phase: model.PhaseCoding}
	conn := dialStream(t, h)

	send(t, conn, ws.ActionMCQAnswer, "m1", map[string]string{"question_id": "not-a-uuid"})
	r := read(t, conn)
	require.Equal(t, ws.EventError, r.Event)
	require.Equal(t, "m1", r.Ref)
	require.Equal(t, "VALIDATION_ERROR", r.Error.Code)

	send(t, conn, "teleport", "x1", nil)
	r = read(t, conn)
	require.Equal(t, "INVALID_PAYLOAD", r.Error.Code)

	send(t, conn, ws.ActionPing, "p2", nil)
	require.Equal(t, ws.EventPong, read(t, conn).Event)
}

func TestStreamReportsOrchestratorErrorsAndWarnings(t *testing.T) {
	h := newHarness(t)
	h.engine.state = session.State{SessionID: h.sessionID, Phase: model.PhaseMCQ}
	conn := dialStream(t, h)

	h.engine.set(func(e *stubEngine) { e.mcq = session.MCQOutcome{TotalScore: 76, Persisted: false} })
	send(t, conn, ws.ActionSubmitMCQ, "s1", nil)
	r := read(t, conn)
	require.Equal(t, ws.EventCompleted, r.Event)
	require.NotEmpty(t, r.Warning)

	h.engine.set(func(e *stubEngine) { e.opErr = session.ErrInvalidPhase })
	send(t, conn, ws.ActionSubmitCoding, "s2", nil)
	r = read(t, conn)
	require.Equal(t, ws.EventError, r.Event)
	require.Equal(t, "INVALID_PHASE", r.Error.Code)
}
