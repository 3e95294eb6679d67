package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"logs-distributor/config"
	"logs-distributor/dispatch"
	"logs-distributor/emitter"
	"logs-distributor/models"
	"logs-distributor/queue"
	"logs-distributor/registry"
)

// upgrader accepts connections from any origin — the distributor's
// metrics push channel has no cookie-based session to protect.
// Grounded on other_examples' Hiroki-org-network-sandbox load-balancer
// websocket.Upgrader usage.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// hub tracks every live /ws/metrics subscriber. Grounded on the same
// file's wsClients map + BroadcastStatus/StartBroadcast pair, adapted
// from a single global broadcaster to a per-Handler hub instance.
type hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]bool)}
}

func (h *hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
}

func (h *hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
	conn.Close()
}

// broadcast marshals one snapshot and writes it to every subscriber,
// dropping any connection that errors on write.
func (h *hub) broadcast(snapshot models.MetricsSnapshot) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

// wsMetrics upgrades the connection and registers it with the hub; the
// push loop started in StartMetricsBroadcast does the writing, so this
// handler's only job is to keep the connection open until the peer
// disconnects.
func (h *Handler) wsMetrics(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	h.hub.add(conn)
	defer h.hub.remove(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// StartMetricsBroadcast runs the push loop described in spec.md's metrics
// push channel: one MetricsSnapshot per tick to every connected client.
// Grounded on the same Hiroki-org-network-sandbox file's StartBroadcast
// ticker loop.
func (h *Handler) StartMetricsBroadcast(done <-chan struct{}, reg *registry.Registry, q *queue.Queue, emitters *emitter.Controller, pool *dispatch.Pool) {
	ticker := time.NewTicker(config.MetricsSnapshotInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.hub.broadcast(models.MetricsSnapshot{
					Timestamp:  models.MarshalTimestamp(time.Now()),
					QueueDepth: q.Len(),
					Analyzers:  reg.ListSnapshot(),
					Emitters:   emitters.ListSnapshot(),
					PacketsRX:  pool.Received(),
				})
			case <-done:
				return
			}
		}
	}()
}
