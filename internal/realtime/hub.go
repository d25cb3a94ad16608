// Package realtime pushes instance and subscription events to dashboards
// over websockets. Every API replica subscribes to the broker and delivers
// to the clients it holds, so publishers never need to know where a client
// is connected.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/wa-connector/internal/model"
	"github.com/jwalitptl/wa-connector/pkg/messaging"
	"github.com/jwalitptl/wa-connector/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
	lookupTimeout  = 5 * time.Second
)

var errForbidden = errors.New("forbidden")

// Patterns are the broker channels the hub relays.
var Patterns = []string{"instance-*", "subaccount-*"}

// InstanceLookup resolves the subaccount an instance belongs to.
type InstanceLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*model.WhatsappInstance, error)
}

type claimsKey struct{}

// WithClaims attaches the authenticated session to a websocket request.
func WithClaims(ctx context.Context, claims *model.SessionClaims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

func claimsFrom(ctx context.Context) (*model.SessionClaims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*model.SessionClaims)
	return claims, ok && claims != nil
}

type Hub struct {
	broker    messaging.Broker
	instances InstanceLookup
	upgrader  websocket.Upgrader
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

func NewHub(broker messaging.Broker, instances InstanceLookup, allowedOrigins []string, m *metrics.Metrics, logger zerolog.Logger) *Hub {
	return &Hub{
		broker:    broker,
		instances: instances,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		metrics: m,
		logger:  logger.With().Str("component", "realtime").Logger(),
		rooms:   make(map[string]map[*Client]struct{}),
	}
}

// Start subscribes to the broker and relays until ctx is done. It returns
// once the subscriptions are in place.
func (h *Hub) Start(ctx context.Context) error {
	for _, pattern := range Patterns {
		ch, err := h.broker.PSubscribe(ctx, pattern)
		if err != nil {
			return err
		}
		go func(ch <-chan messaging.Message) {
			for msg := range ch {
				h.Broadcast(msg.Channel, msg.Payload)
			}
		}(ch)
	}
	return nil
}

// Broadcast writes payload to every client in room and returns how many
// received it. Clients whose buffers are full are disconnected.
func (h *Hub) Broadcast(room string, payload []byte) int {
	h.mu.RLock()
	var slow []*Client
	delivered := 0
	for c := range h.rooms[room] {
		select {
		case c.send <- payload:
			delivered++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn().Str("room", room).Msg("dropping slow client")
		c.close()
	}
	return delivered
}

// ServeHTTP upgrades the request and serves the client until it leaves.
// The request must carry session claims, see WithClaims.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &Client{
		hub:    h,
		conn:   conn,
		claims: claims,
		send:   make(chan []byte, sendBuffer),
		rooms:  make(map[string]struct{}),
		done:   make(chan struct{}),
	}
	if h.metrics != nil {
		h.metrics.RealtimeClients.Inc()
	}

	go c.writePump()
	c.readPump(r.Context())
}

// authorize reports whether claims may watch the command's room.
func (h *Hub) authorize(ctx context.Context, claims *model.SessionClaims, cmd Command) error {
	if claims.Role.IsAdmin() {
		return nil
	}
	if id, err := uuid.Parse(cmd.InstanceID); err == nil {
		if h.instances == nil {
			return errForbidden
		}
		ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
		defer cancel()
		inst, err := h.instances.Get(ctx, id)
		if err != nil {
			return err
		}
		if !claims.CanAccess(inst.SubaccountID) {
			return errForbidden
		}
		return nil
	}
	if id, err := uuid.Parse(cmd.SubaccountID); err == nil && claims.CanAccess(id) {
		return nil
	}
	return errForbidden
}

func (h *Hub) join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) leaveLocked(c *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.RealtimeClients.Dec()
	}
}

// RoomSize is the number of local clients in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Command is what clients send.
type Command struct {
	Event        string `json:"event"`
	InstanceID   string `json:"instanceId,omitempty"`
	SubaccountID string `json:"subaccountId,omitempty"`
}

// room resolves the command's target room.
func (cmd Command) room() (string, bool) {
	if id, err := uuid.Parse(cmd.InstanceID); err == nil {
		return model.InstanceRoom(id), true
	}
	if id, err := uuid.Parse(cmd.SubaccountID); err == nil {
		return model.SubaccountRoom(id), true
	}
	return "", false
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	claims *model.SessionClaims
	send   chan []byte
	rooms  map[string]struct{} // guarded by hub.mu

	once sync.Once
	done chan struct{}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.remove(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug().Err(err).Msg("websocket closed")
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.reply("error", map[string]string{"message": "invalid message"})
			continue
		}
		room, ok := cmd.room()
		if !ok {
			c.reply("error", map[string]string{"message": "instanceId or subaccountId required"})
			continue
		}

		switch cmd.Event {
		case "subscribe":
			if err := c.hub.authorize(ctx, c.claims, cmd); err != nil {
				if !errors.Is(err, errForbidden) {
					c.hub.logger.Debug().Err(err).Str("room", room).Msg("subscribe lookup failed")
				}
				// Unknown instances look the same as foreign ones.
				c.reply("error", map[string]string{"message": "forbidden", "room": room})
				continue
			}
			c.hub.join(c, room)
			c.reply("subscribed", map[string]string{"room": room})
		case "unsubscribe":
			c.hub.leave(c, room)
			c.reply("unsubscribed", map[string]string{"room": room})
		default:
			c.reply("error", map[string]string{"message": "unknown event"})
		}
	}
}

func (c *Client) reply(event string, data interface{}) {
	payload, err := json.Marshal(messaging.Envelope{Event: event, Data: data})
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(r *http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
