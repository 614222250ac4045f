// -----------------------------------------------------------------------
// WebSocket - Worker connection endpoints
// -----------------------------------------------------------------------

package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/onero/internal/common"
	"github.com/ternarybob/onero/internal/models"
	"github.com/ternarybob/onero/internal/registry"
	"github.com/ternarybob/onero/internal/scheduler"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // workers connect from arbitrary hosts
	},
}

// Hub upgrades worker connections, registers them, and pumps their messages
// into the scheduler inbox. One endpoint per worker population.
type Hub struct {
	logger    arbor.ILogger
	config    *common.WebSocketConfig
	registry  *registry.Registry
	scheduler *scheduler.Scheduler
}

// NewHub creates the worker connection hub.
func NewHub(logger arbor.ILogger, config *common.WebSocketConfig, reg *registry.Registry, sched *scheduler.Scheduler) *Hub {
	return &Hub{
		logger:    logger,
		config:    config,
		registry:  reg,
		scheduler: sched,
	}
}

// HandleLoadClient accepts a load client connection on /ws/client.
func (h *Hub) HandleLoadClient(w http.ResponseWriter, r *http.Request) {
	h.handleWorker(w, r, models.ClientKindLoad)
}

// HandleMonitorClient accepts a resource monitor connection on /ws/monitor.
func (h *Hub) HandleMonitorClient(w http.ResponseWriter, r *http.Request) {
	h.handleWorker(w, r, models.ClientKindMonitor)
}

// HandleManager accepts a client manager connection on /ws/manager.
func (h *Hub) HandleManager(w http.ResponseWriter, r *http.Request) {
	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Manager upgrade failed")
		return
	}

	hello, ok := h.readHello(sock)
	if !ok {
		sock.Close()
		return
	}

	id := hello.ClientID
	if id == "" {
		id = uuid.New().String()
	}

	conn := &wsManagerConn{wsConn: newWSConn(id, sock, h.config)}
	if err := h.registry.RegisterManager(conn, hello.MaxClients); err != nil {
		_ = conn.send(Command{Type: commandError, Message: err.Error()})
		sock.Close()
		return
	}
	_ = conn.send(Command{Type: commandRegistered, ClientID: id})

	h.readLoop(sock, id)
	h.registry.Unregister(id)
	sock.Close()
}

// handleWorker is the shared accept path for load and monitor clients.
func (h *Hub) handleWorker(w http.ResponseWriter, r *http.Request, kind models.ClientKind) {
	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Worker upgrade failed")
		return
	}

	hello, ok := h.readHello(sock)
	if !ok {
		sock.Close()
		return
	}

	id := hello.ClientID
	if id == "" {
		id = uuid.New().String()
	}

	conn := &wsClientConn{wsConn: newWSConn(id, sock, h.config), kind: kind}
	if err := h.registry.RegisterClient(conn); err != nil {
		_ = conn.send(Command{Type: commandError, Message: err.Error()})
		sock.Close()
		return
	}
	_ = conn.send(Command{Type: commandRegistered, ClientID: id})
	h.scheduler.Inbox(models.ClientEvent{Type: models.ClientEventRegistered, ClientID: id, Kind: kind})

	h.readLoop(sock, id)

	// the scheduler owns the disconnect consequences (job failure, cleanup)
	h.scheduler.Inbox(models.ClientEvent{Type: models.ClientEventDisconnected, ClientID: id, Kind: kind})
	sock.Close()
}

// readHello waits briefly for the worker's identification frame.
func (h *Hub) readHello(sock *websocket.Conn) (*WorkerMessage, bool) {
	if h.config.ReadLimit > 0 {
		sock.SetReadLimit(h.config.ReadLimit)
	}
	_ = sock.SetReadDeadline(time.Now().Add(10 * time.Second))

	var hello WorkerMessage
	if err := sock.ReadJSON(&hello); err != nil || hello.Type != messageHello {
		h.logger.Warn().Err(err).Msg("Worker did not identify itself")
		return nil, false
	}
	_ = sock.SetReadDeadline(time.Time{})
	return &hello, true
}

// readLoop consumes worker frames until the connection drops. Keepalive pings
// run alongside; a missed pong surfaces as a read error.
func (h *Hub) readLoop(sock *websocket.Conn, clientID string) {
	pingInterval := durationOr(h.config.PingInterval, 30*time.Second)
	writeTimeout := durationOr(h.config.WriteTimeout, 10*time.Second)

	_ = sock.SetReadDeadline(time.Now().Add(2 * pingInterval))
	sock.SetPongHandler(func(string) error {
		return sock.SetReadDeadline(time.Now().Add(2 * pingInterval))
	})

	done := make(chan struct{})
	defer close(done)
	common.SafeGo(h.logger, "ws-ping", func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := sock.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
					return
				}
			}
		}
	})

	for {
		var msg WorkerMessage
		if err := sock.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug().Err(err).Str("client_id", clientID).Msg("Worker connection dropped")
			}
			return
		}
		_ = sock.SetReadDeadline(time.Now().Add(2 * pingInterval))

		switch msg.Type {
		case messageStats:
			h.scheduler.Inbox(models.ClientEvent{
				Type:     models.ClientEventStatsChunk,
				ClientID: clientID,
				JobID:    msg.JobID,
				Stats: &models.ClientStats{
					ClientID:    clientID,
					JobID:       msg.JobID,
					Metrics:     msg.Metrics,
					CollectedAt: time.Now(),
					Partial:     msg.Partial,
				},
			})
		case messageJobComplete:
			ev := models.ClientEvent{
				Type:     models.ClientEventCompleted,
				ClientID: clientID,
				JobID:    msg.JobID,
				Success:  msg.Success,
				Message:  msg.Message,
			}
			if len(msg.Metrics) > 0 {
				ev.Stats = &models.ClientStats{
					ClientID:    clientID,
					JobID:       msg.JobID,
					Metrics:     msg.Metrics,
					CollectedAt: time.Now(),
				}
			}
			h.scheduler.Inbox(ev)
		case messageGoodbye:
			return
		default:
			h.logger.Warn().Str("client_id", clientID).Str("type", msg.Type).Msg("Unknown worker message")
		}
	}
}

// wsConn is the shared write side of a worker connection. Writes are
// serialized; gorilla connections allow only one concurrent writer.
type wsConn struct {
	id           string
	addr         string
	sock         *websocket.Conn
	mu           sync.Mutex
	writeTimeout time.Duration
}

func newWSConn(id string, sock *websocket.Conn, config *common.WebSocketConfig) *wsConn {
	return &wsConn{
		id:           id,
		addr:         sock.RemoteAddr().String(),
		sock:         sock,
		writeTimeout: durationOr(config.WriteTimeout, 10*time.Second),
	}
}

func (c *wsConn) Address() string { return c.addr }

func (c *wsConn) send(cmd Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.sock.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.sock.WriteJSON(cmd)
}

func (c *wsConn) disconnect(force bool) error {
	err := c.send(Command{Type: commandDisconnect, Force: force})
	if force {
		return c.sock.Close()
	}
	return err
}

// wsClientConn adapts a socket to the load/monitor client transport contract.
type wsClientConn struct {
	*wsConn
	kind models.ClientKind
}

func (c *wsClientConn) ID() string              { return c.id }
func (c *wsClientConn) Kind() models.ClientKind { return c.kind }

func (c *wsClientConn) StartJob(ctx context.Context, job *models.Job, threads int) error {
	return c.send(Command{
		Type: commandStartJob,
		Job: &JobPayload{
			ID:                        job.ID,
			JobClassName:              job.JobClassName,
			Threads:                   threads,
			ThreadStartupDelayMs:      job.ThreadStartupDelayMs,
			DurationSeconds:           int(job.Duration.Seconds()),
			CollectionIntervalSeconds: job.CollectionIntervalSeconds,
			Parameters:                job.ParameterValues,
		},
	})
}

func (c *wsClientConn) StopJob(ctx context.Context, jobID string, reason string) error {
	return c.send(Command{Type: commandStopJob, JobID: jobID, Reason: reason})
}

func (c *wsClientConn) Disconnect(ctx context.Context, force bool) error {
	return c.disconnect(force)
}

// wsManagerConn adapts a socket to the client manager transport contract.
type wsManagerConn struct {
	*wsConn
}

func (c *wsManagerConn) ID() string { return c.id }

func (c *wsManagerConn) StartClients(ctx context.Context, count int) error {
	return c.send(Command{Type: commandStartClients, Count: count})
}

func (c *wsManagerConn) StopClients(ctx context.Context, count int) error {
	return c.send(Command{Type: commandStopClients, Count: count})
}

func (c *wsManagerConn) Disconnect(ctx context.Context, force bool) error {
	return c.disconnect(force)
}

func durationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
