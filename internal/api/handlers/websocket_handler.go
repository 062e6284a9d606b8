package handlers

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/legisync/backend/internal/storage/sqlite"
	"github.com/legisync/backend/pkg/logger"
)

// WebSocketHandler streams the most recent sync run to connected clients
// so an operator dashboard can watch a run progress without polling.
type WebSocketHandler struct {
	store    *sqlite.Client
	interval time.Duration
}

func NewWebSocketHandler(store *sqlite.Client) *WebSocketHandler {
	return &WebSocketHandler{
		store:    store,
		interval: 3 * time.Second,
	}
}

// streamConn is the slice of the websocket connection the run stream
// uses, narrowed so the loop can be exercised without a live socket.
type streamConn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v interface{}) error
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("Run status stream connected")

	defer func() {
		c.Close()
		logger.Info("Run status stream closed")
	}()

	h.stream(c)
}

// stream pushes run updates until the write fails or the peer goes away.
// The read pump exists only to notice a closed connection: with no new
// runs every tick is suppressed, so a write error would never surface and
// the loop would otherwise outlive the client indefinitely.
func (h *WebSocketHandler) stream(c streamConn) {
	peerGone := make(chan struct{})
	go func() {
		defer close(peerGone)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var lastSent string
	for {
		select {
		case <-peerGone:
			return
		case <-ticker.C:
		}

		runs, err := h.store.ListSyncRuns(context.Background(), 1)
		if err != nil {
			logger.Warn("Failed to load latest run for stream", zap.Error(err))
			continue
		}
		if len(runs) == 0 {
			continue
		}

		run := runs[0]
		key := run.ID + string(run.Status) + run.ErrorSamples
		if key == lastSent {
			continue
		}

		if err := c.WriteJSON(run); err != nil {
			return
		}
		lastSent = key
	}
}
