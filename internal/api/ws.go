package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/klabs/labelqueue/internal/api/middleware"
	"github.com/klabs/labelqueue/internal/core"
)

// Hub fans queue_stats deltas out to every dashboard connected to a queue's websocket feed
// (SPEC_FULL.md's live queue-stats feed). Each subscriber gets its own buffered channel so one
// slow reader cannot block broadcasts to the others.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan core.QueueStats]struct{}
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]map[chan core.QueueStats]struct{})}
}

func (h *Hub) subscribe(tenant, queueID string) chan core.QueueStats {
	ch := make(chan core.QueueStats, 8)
	key := tenant + "/" + queueID
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscribers[key] == nil {
		h.subscribers[key] = make(map[chan core.QueueStats]struct{})
	}
	h.subscribers[key][ch] = struct{}{}
	return ch
}

func (h *Hub) unsubscribe(tenant, queueID string, ch chan core.QueueStats) {
	key := tenant + "/" + queueID
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribers[key], ch)
	close(ch)
}

// Broadcast pushes stats to every subscriber of tenant/queueID, dropping the update for any
// subscriber whose buffer is full rather than blocking the caller.
func (h *Hub) Broadcast(tenant, queueID string, stats core.QueueStats) {
	key := tenant + "/" + queueID
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subscribers[key] {
		select {
		case ch <- stats:
		default:
		}
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// QueueStatsFeed upgrades the connection and streams queue_stats deltas until the client
// disconnects or the server shuts down.
func (h *Handlers) QueueStatsFeed(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.GetTenant(r.Context())
	queueID := mux.Vars(r)["queue_id"]

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if stats, err := h.Store.Queues().Stats(r.Context(), tenantID, queueID); err == nil {
		_ = conn.WriteJSON(stats)
	}

	ch := h.Hub.subscribe(tenantID, queueID)
	defer h.Hub.unsubscribe(tenantID, queueID, ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case stats, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(stats); err != nil {
				return
			}
		}
	}
}

// broadcastStats re-reads and publishes queue stats after a state change; failures are logged
// and otherwise ignored since the feed is best-effort.
func (h *Handlers) broadcastStats(ctx context.Context, tenant, queueID string) {
	if h.Hub == nil {
		return
	}
	stats, err := h.Store.Queues().Stats(ctx, tenant, queueID)
	if err != nil {
		return
	}
	h.Hub.Broadcast(tenant, queueID, stats)
}
