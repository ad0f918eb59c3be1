package devstore

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeTimeout   = 10 * time.Second
	readTimeout    = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 4096
)

// clientMessage is a subscription command from a realtime client.
type clientMessage struct {
	Op         string `json:"op"` // "subscribe" or "unsubscribe"
	SubID      string `json:"sub_id"`
	Collection string `json:"collection,omitempty"`
	RecordID   string `json:"record_id,omitempty"`
	Filter     string `json:"filter,omitempty"`
}

// eventMessage is one change event (or subscription ack) pushed to a
// client, tagged with the subscription that matched it.
type eventMessage struct {
	SubID  string          `json:"sub_id"`
	Action string          `json:"action"`
	Record json.RawMessage `json:"record,omitempty"`
}

// subscription is one active filter registered by a connection.
type subscription struct {
	id         string
	collection string
	recordID   string
	filter     *Filter
}

func (s *subscription) matches(collection string, record map[string]any) bool {
	if s.collection != collection {
		return false
	}
	if s.recordID != "" && s.recordID != "*" {
		id, _ := record["id"].(string)
		return id == s.recordID
	}
	if s.filter != nil {
		return s.filter.Matches(record)
	}
	return true
}

// Hub owns the realtime connections and fans change events out to every
// subscription they registered.
type Hub struct {
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[*conn]bool
}

// conn is one websocket client. Its subs map is guarded by the hub mutex
// so Broadcast can walk all subscriptions under a single read lock.
type conn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	hub  *Hub
	subs map[string]*subscription
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Development store, all origins welcome.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*conn]bool),
	}
}

// HandleRealtime upgrades the request and starts the connection pumps.
func (h *Hub) HandleRealtime(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &conn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, 256),
		hub:  h,
		subs: make(map[string]*subscription),
	}

	h.mu.Lock()
	h.conns[c] = true
	h.mu.Unlock()

	go c.writePump()
	go c.readPump()

	log.Debug().Str("conn_id", c.id).Msg("realtime connection established")
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conns[c] {
		delete(h.conns, c)
		close(c.send)
		log.Debug().Str("conn_id", c.id).Msg("realtime connection closed")
	}
}

// Broadcast delivers one change event to every matching subscription.
// Slow consumers get dropped rather than stalling the store.
func (h *Hub) Broadcast(collection, action string, record map[string]any) {
	raw, err := json.Marshal(record)
	if err != nil {
		log.Error().Err(err).Str("collection", collection).Msg("broadcast encode failed")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.conns {
		for _, sub := range c.subs {
			if !sub.matches(collection, record) {
				continue
			}
			msg, err := json.Marshal(eventMessage{SubID: sub.id, Action: action, Record: raw})
			if err != nil {
				continue
			}
			select {
			case c.send <- msg:
			default:
				log.Warn().Str("conn_id", c.id).Msg("send buffer full, dropping event")
			}
		}
	}
}

func (c *conn) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		var msg clientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("conn_id", c.id).Msg("realtime read failed")
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(readTimeout))

		switch msg.Op {
		case "subscribe":
			c.handleSubscribe(msg)
		case "unsubscribe":
			c.hub.mu.Lock()
			delete(c.subs, msg.SubID)
			c.hub.mu.Unlock()
		default:
			log.Warn().Str("conn_id", c.id).Str("op", msg.Op).Msg("unknown realtime op")
		}
	}
}

func (c *conn) handleSubscribe(msg clientMessage) {
	filter, err := ParseFilter(msg.Filter)
	if err != nil {
		log.Warn().Err(err).Str("conn_id", c.id).Msg("rejecting subscription")
		return
	}

	c.hub.mu.Lock()
	c.subs[msg.SubID] = &subscription{
		id:         msg.SubID,
		collection: msg.Collection,
		recordID:   msg.RecordID,
		filter:     filter,
	}
	c.hub.mu.Unlock()

	// Ack after registration so the client knows the filter is live. The
	// ack travels through the same send channel as events, so it is
	// ordered before anything the subscription matches.
	ack, err := json.Marshal(eventMessage{SubID: msg.SubID, Action: "subscribed"})
	if err != nil {
		return
	}
	select {
	case c.send <- ack:
	default:
		log.Warn().Str("conn_id", c.id).Msg("send buffer full, dropping ack")
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
		c.hub.unregister(c)
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
