package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"UsdnLedger/internal/event"
	"UsdnLedger/internal/observability"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	filter map[string]bool // event type names; empty means all
}

func (c *wsClient) wants(eventType string) bool {
	return len(c.filter) == 0 || c.filter[eventType]
}

type wsMessage struct {
	eventType string
	data      []byte
}

// EventHub streams engine events to WebSocket clients. It is an event.Sink;
// Emit never blocks the engine, and clients that cannot keep up are
// disconnected.
type EventHub struct {
	clients    map[*wsClient]struct{}
	broadcast  chan wsMessage
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

var _ event.Sink = (*EventHub)(nil)

func NewEventHub(buffer int, metrics *observability.Metrics, logger zerolog.Logger) *EventHub {
	return &EventHub{
		clients:    make(map[*wsClient]struct{}),
		broadcast:  make(chan wsMessage, buffer),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		metrics:    metrics,
		logger:     logger,
	}
}

func (h *EventHub) Emit(evt event.Event) {
	env, err := event.Wrap(evt)
	if err != nil {
		h.logger.Error().Err(err).Msg("wrap event for websocket")
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal event envelope")
		return
	}
	select {
	case h.broadcast <- wsMessage{eventType: env.EventType, data: data}:
	default:
		if h.metrics != nil {
			h.metrics.PublishErrors.WithLabelValues("ws").Inc()
		}
	}
}

func (h *EventHub) setGauge() {
	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(len(h.clients)))
	}
}

func (h *EventHub) drop(c *wsClient) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.setGauge()
	}
}

// Run owns the client set until ctx is cancelled.
func (h *EventHub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return nil

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.setGauge()
			h.logger.Debug().Int("total", len(h.clients)).Msg("ws client connected")

		case c := <-h.unregister:
			h.drop(c)

		case msg := <-h.broadcast:
			for c := range h.clients {
				if !c.wants(msg.eventType) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn().Str("remote", c.conn.RemoteAddr().String()).Msg("dropping slow ws client")
					h.drop(c)
				}
			}
		}
	}
}

// HandleWS upgrades GET /api/v1/ws. The optional types query parameter is
// a comma separated list of event type names to receive.
func (h *EventHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer), filter: make(map[string]bool)}
	for _, name := range strings.Split(r.URL.Query().Get("types"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			c.filter[name] = true
		}
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

func (h *EventHub) readPump(c *wsClient) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *EventHub) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
