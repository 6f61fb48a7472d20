// Package ws bridges the trading event bus to WebSocket dashboard clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ritcapital/etfarb/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must stay below pongWait
	maxFrameSize   = 4096
	sendBufferSize = 256
)

// defaultChannels are the event bus channels the hub mirrors to clients.
var defaultChannels = []string{
	"ch:slice",
	"ch:unwind",
	"ch:tender",
	"ch:arb",
	"ch:status",
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The dashboard runs on the operator's own machine.
		return true
	},
}

// event is a bus payload tagged with the channel it arrived on.
type event struct {
	channel string
	data    []byte
}

// session is one connected dashboard client and its channel filter.
type session struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]bool
}

// subscribeMsg is the JSON frame a client sends to manage its channels.
type subscribeMsg struct {
	Subscribe   []string `json:"subscribe"`
	Unsubscribe []string `json:"unsubscribe"`
}

// Hub fans events from the bus out to connected clients, filtered per
// client by channel subscription.
type Hub struct {
	bus       domain.EventBus
	logger    *slog.Logger
	mode      string
	startedAt time.Time

	events chan event
	attach chan *session
	detach chan *session

	mu       sync.RWMutex
	sessions map[*session]struct{}
}

// NewHub creates a hub bridging the event bus to WebSocket clients.
func NewHub(bus domain.EventBus, mode string, logger *slog.Logger) *Hub {
	return &Hub{
		bus:       bus,
		logger:    logger.With(slog.String("component", "ws")),
		mode:      mode,
		startedAt: time.Now().UTC(),
		events:    make(chan event, 256),
		attach:    make(chan *session),
		detach:    make(chan *session),
		sessions:  make(map[*session]struct{}),
	}
}

// Run drives registration, unregistration and broadcasting until the
// context ends. Call it in a goroutine.
func (h *Hub) Run(ctx context.Context) error {
	for _, ch := range defaultChannels {
		go h.pump(ctx, ch)
	}

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case s := <-h.attach:
			h.add(s)
		case s := <-h.detach:
			h.remove(s)
		case ev := <-h.events:
			h.fanOut(ev)
		}
	}
}

// pump forwards one bus channel into the event loop.
func (h *Hub) pump(ctx context.Context, channel string) {
	msgCh, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("channel subscribe failed",
			slog.String("channel", channel),
			slog.String("err", err.Error()))
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				return
			}
			h.events <- event{channel: channel, data: data}
		}
	}
}

func (h *Hub) add(s *session) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	n := len(h.sessions)
	h.mu.Unlock()
	h.logger.Info("client connected", slog.Int("total", n))
}

func (h *Hub) remove(s *session) {
	h.mu.Lock()
	if _, ok := h.sessions[s]; ok {
		delete(h.sessions, s)
		close(s.send)
	}
	n := len(h.sessions)
	h.mu.Unlock()
	h.logger.Info("client disconnected", slog.Int("total", n))
}

func (h *Hub) fanOut(ev event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions {
		if !s.wants(ev.channel) {
			continue
		}
		select {
		case s.send <- ev.data:
		default:
			h.logger.Warn("dropping message for slow client")
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.sessions {
		close(s.send)
		delete(h.sessions, s)
	}
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("err", err.Error()))
		return
	}

	s := &session{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool, len(defaultChannels)),
	}
	for _, ch := range defaultChannels {
		s.subs[ch] = true
	}

	h.attach <- s
	s.sendHello()

	go s.writePump()
	go s.readPump()
}

// readPump reads subscription management frames until the connection dies.
func (s *session) readPump() {
	defer func() {
		s.hub.detach <- s
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxFrameSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Warn("unexpected close", slog.String("err", err.Error()))
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(frame, &sub); err == nil {
			s.applySubscription(sub)
		}
	}
}

func (s *session) applySubscription(msg subscribeMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range msg.Subscribe {
		s.subs[ch] = true
	}
	for _, ch := range msg.Unsubscribe {
		delete(s.subs, ch)
	}
}

func (s *session) wants(channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subs[channel]
}

// sendHello pushes a small status envelope so clients can mark the
// connection healthy before any market events flow.
func (s *session) sendHello() {
	uptime := int64(time.Since(s.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	msg, err := json.Marshal(map[string]any{
		"type": "hello",
		"payload": map[string]any{
			"mode":           s.hub.mode,
			"uptime_seconds": uptime,
		},
	})
	if err != nil {
		return
	}
	select {
	case s.send <- msg:
	default:
	}
}

// writePump sends data frames and keepalive pings.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
