package websocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// readWait is how long a silent client is kept before the socket is dropped.
	readWait = 5 * time.Minute
)

// NewUpgrader builds an upgrader that accepts the given origins, or any origin
// when the list is empty.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			_, ok := allowed[r.Header.Get("Origin")]
			return ok
		},
	}
}

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// WriteReply stamps and sends a Reply.
func WriteReply(conn *websocket.Conn, r Reply) error {
	r.SentAt = time.Now().UTC()
	return WriteTyped(conn, r)
}

// WriteError sends an error Reply.
func WriteError(conn *websocket.Conn, ref, code, msg string) error {
	return WriteReply(conn, Reply{
		Event: EventError,
		Ref:   ref,
		Error: &ErrorBody{Code: code, Message: msg},
	})
}

// ReadJSON reads and decodes a message into the provided structure.
// It sets a read deadline.
func ReadJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetReadDeadline(time.Now().Add(readWait))
	return conn.ReadJSON(v)
}
