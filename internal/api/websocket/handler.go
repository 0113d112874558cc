// Package websocket implements the live-update ingest stream. Peers push
// JSON batches of timeline points; malformed points are dropped individually
// and valid ones flow into the cache write path. Reconnect and backoff are
// the peer's responsibility.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/geowatch/timeline-cache/internal/models"
	"github.com/geowatch/timeline-cache/internal/pkg/metrics"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy enforced by the CORS layer in front
	},
}

// Ingestor is the slice of the cache manager the ingest stream needs.
type Ingestor interface {
	StoreLiveUpdate(ctx context.Context, points []models.TimelineDataPoint) error
}

// Handler handles live-update WebSocket connections
type Handler struct {
	cache Ingestor
	log   *slog.Logger
}

// NewHandler creates a new WebSocket ingest handler
func NewHandler(cache Ingestor, log *slog.Logger) *Handler {
	return &Handler{cache: cache, log: log}
}

// ingestAck reports per-batch outcomes back to the pushing peer.
type ingestAck struct {
	Accepted int    `json:"accepted"`
	Dropped  int    `json:"dropped"`
	Error    string `json:"error,omitempty"`
}

// ServeWS handles websocket ingest connections. Each text message is a JSON
// array of timeline points; every batch is acknowledged.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}

	peerID := uuid.New().String()
	h.log.Info("live ingest peer connected", "peer_id", peerID, "remote", r.RemoteAddr)
	metrics.WebSocketConnectionsActive.Inc()
	defer func() {
		metrics.WebSocketConnectionsActive.Dec()
		conn.Close()
		h.log.Info("live ingest peer disconnected", "peer_id", peerID)
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go h.pingLoop(conn, done)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				h.log.Warn("live ingest read error", "peer_id", peerID, "error", err)
			}
			return
		}

		ack := h.ingestBatch(r.Context(), message)
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ack); err != nil {
			h.log.Warn("live ingest ack failed", "peer_id", peerID, "error", err)
			return
		}
	}
}

// ingestBatch decodes one message and hands the decodable points to the
// cache. Points the decoder rejects are counted, not fatal; a message that
// is not a JSON array is rejected whole.
func (h *Handler) ingestBatch(ctx context.Context, message []byte) ingestAck {
	var raws []json.RawMessage
	if err := json.Unmarshal(message, &raws); err != nil {
		return ingestAck{Error: "message must be a JSON array of timeline points"}
	}

	points := make([]models.TimelineDataPoint, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		var p models.TimelineDataPoint
		if err := json.Unmarshal(raw, &p); err != nil {
			dropped++
			metrics.LivePointsDroppedTotal.Inc()
			continue
		}
		points = append(points, p)
	}

	if err := h.cache.StoreLiveUpdate(ctx, points); err != nil {
		return ingestAck{Dropped: dropped + len(points), Error: err.Error()}
	}
	// StoreLiveUpdate drops malformed-but-decodable points itself; the ack
	// reports only what this layer saw.
	return ingestAck{Accepted: len(points), Dropped: dropped}
}

func (h *Handler) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
