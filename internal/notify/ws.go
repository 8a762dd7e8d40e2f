package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"callpilot/internal/calls"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// RecordSource reads the current state of a call. The orchestrator
// satisfies it; its Get also runs the lazy stale check, so a stream for a
// stuck call starts with the settled record.
type RecordSource interface {
	Get(ctx context.Context, id string) (calls.CallRecord, error)
}

// StreamHandler streams a call's updates over a websocket: the current
// record first, then every change until the call settles or the client
// disconnects.
type StreamHandler struct {
	rdb    *redis.Client
	source RecordSource
	log    *slog.Logger

	upgrader websocket.Upgrader
}

func NewStreamHandler(rdb *redis.Client, source RecordSource, log *slog.Logger) *StreamHandler {
	return &StreamHandler{
		rdb:    rdb,
		source: source,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Callers authenticate with a bearer token before the upgrade;
			// browser origin is not part of the trust model here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *StreamHandler) Handle(c *gin.Context) {
	id := c.Param("id")

	rec, err := h.source.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sub := h.rdb.Subscribe(ctx, callChannel(id))
	defer sub.Close()

	if err := h.writeRecord(conn, rec); err != nil {
		return
	}
	if rec.Status.Terminal() {
		h.closeGracefully(conn)
		return
	}

	// Reads are discarded; their only job is noticing the disconnect.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	events := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				return
			}
			var update calls.CallRecord
			if err := json.Unmarshal([]byte(msg.Payload), &update); err == nil && update.Status.Terminal() {
				h.closeGracefully(conn)
				return
			}
		}
	}
}

func (h *StreamHandler) writeRecord(conn *websocket.Conn, rec calls.CallRecord) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(rec)
}

// closeGracefully tells the client the stream is complete, as opposed to
// dropping the TCP connection.
func (h *StreamHandler) closeGracefully(conn *websocket.Conn) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "call settled"))
}
