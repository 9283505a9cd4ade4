package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/youtoss/ledger/internal/domain"
	"github.com/youtoss/ledger/internal/service"
)

// SnapshotMessage is pushed to watchers on every change of the active
// session. Session is nil while the group has no active session.
type SnapshotMessage struct {
	Type    string          `json:"type"`
	Session *domain.Session `json:"session"`
}

// WatchHandler streams active session snapshots over a websocket.
type WatchHandler struct {
	client       *service.Client
	writeTimeout time.Duration
	origins      []string
}

// NewWatchHandler creates a new WatchHandler. origins are extra host
// patterns allowed to open cross-origin connections.
func NewWatchHandler(client *service.Client, writeTimeout time.Duration, origins []string) *WatchHandler {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &WatchHandler{client: client, writeTimeout: writeTimeout, origins: origins}
}

// Watch upgrades the request and sends the current snapshot followed by one
// message per change until either side goes away.
func (h *WatchHandler) Watch(w http.ResponseWriter, r *http.Request) {
	// Holds at most the newest snapshot not yet written.
	out := make(chan *domain.Session, 1)
	push := func(s *domain.Session) {
		for {
			select {
			case out <- s:
				return
			default:
			}
			select {
			case <-out:
			default:
			}
		}
	}

	// Subscribe before upgrading so membership errors are plain HTTP
	// responses.
	subCtx, cancel := context.WithCancel(r.Context())
	defer cancel()
	handle, err := h.client.WatchActiveSession(subCtx, chi.URLParam(r, "groupID"), push)
	if err != nil {
		handleError(w, err)
		return
	}
	defer handle.Close()

	// The server's write timeout would otherwise cut long-lived watchers.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	// Watchers never send; CloseRead handles control frames and cancels ctx
	// once the peer closes.
	ctx := conn.CloseRead(subCtx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-handle.Done():
			conn.Close(websocket.StatusGoingAway, "subscription closed")
			return
		case s := <-out:
			writeCtx, writeCancel := context.WithTimeout(ctx, h.writeTimeout)
			err := wsjson.Write(writeCtx, conn, SnapshotMessage{Type: "snapshot", Session: s})
			writeCancel()
			if err != nil {
				slog.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}
