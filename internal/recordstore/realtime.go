package recordstore

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ackTimeout bounds how long Subscribe waits for the store to confirm a
// subscription.
const ackTimeout = 10 * time.Second

// actionSubscribed is the store's acknowledgement that a subscription is
// registered and its filter active. It never reaches event handlers.
const actionSubscribed Action = "subscribed"

// clientMessage is what we send on the realtime socket.
type clientMessage struct {
	Op         string `json:"op"` // "subscribe" or "unsubscribe"
	SubID      string `json:"sub_id"`
	Collection string `json:"collection,omitempty"`
	RecordID   string `json:"record_id,omitempty"`
	Filter     string `json:"filter,omitempty"`
}

// serverMessage is one message pushed by the store, tagged with the
// subscription it belongs to.
type serverMessage struct {
	SubID  string          `json:"sub_id"`
	Action Action          `json:"action"`
	Record json.RawMessage `json:"record"`
}

// Realtime is a change-stream connection to the store. A single read loop
// dispatches events to registered handlers, so all handlers on one
// connection run serially and events for a given record are observed in
// mutation order.
type Realtime struct {
	conn *websocket.Conn

	writeMu sync.Mutex // gorilla permits one concurrent writer

	mu       sync.Mutex
	handlers map[string]EventHandler
	acks     map[string]chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

// DialRealtime opens the store's realtime websocket endpoint.
func (c *Client) DialRealtime(ctx context.Context) (*Realtime, error) {
	wsURL := httpToWS(c.baseURL) + "/api/realtime"

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, &TransportError{Op: "dial realtime", Err: err}
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	rt := &Realtime{
		conn:     conn,
		handlers: make(map[string]EventHandler),
		acks:     make(map[string]chan struct{}),
		done:     make(chan struct{}),
	}
	go rt.readLoop()
	return rt, nil
}

func httpToWS(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

// Subscribe registers a change subscription and waits for the store to
// acknowledge it, so events emitted after Subscribe returns are guaranteed
// to be matched against it. recordID narrows the stream to one record;
// pass "*" with a filter for a server-filtered collection stream. The
// returned handle releases exactly this subscription.
func (rt *Realtime) Subscribe(collection, recordID, filter string, handler EventHandler) (SubscriptionHandle, error) {
	subID := uuid.NewString()
	ack := make(chan struct{})

	rt.mu.Lock()
	rt.handlers[subID] = handler
	rt.acks[subID] = ack
	rt.mu.Unlock()

	msg := clientMessage{
		Op:         "subscribe",
		SubID:      subID,
		Collection: collection,
		RecordID:   recordID,
		Filter:     filter,
	}
	if err := rt.write(msg); err != nil {
		rt.drop(subID)
		return nil, &TransportError{Op: "subscribe " + collection, Err: err}
	}

	select {
	case <-ack:
	case <-rt.done:
		rt.drop(subID)
		return nil, &TransportError{Op: "subscribe " + collection, Err: errConnClosed}
	case <-time.After(ackTimeout):
		rt.drop(subID)
		return nil, &TransportError{Op: "subscribe " + collection, Err: errAckTimeout}
	}

	return &subscription{rt: rt, id: subID}, nil
}

func (rt *Realtime) drop(subID string) {
	rt.mu.Lock()
	delete(rt.handlers, subID)
	delete(rt.acks, subID)
	rt.mu.Unlock()
}

type subscription struct {
	rt   *Realtime
	id   string
	once sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.rt.drop(s.id)

		// Best effort: the socket may already be gone, and a dropped
		// unsubscribe only costs the server a dangling filter.
		if err := s.rt.write(clientMessage{Op: "unsubscribe", SubID: s.id}); err != nil {
			log.Debug().Err(err).Str("sub_id", s.id).Msg("unsubscribe write failed")
		}
	})
}

func (rt *Realtime) write(msg clientMessage) error {
	rt.writeMu.Lock()
	defer rt.writeMu.Unlock()
	return rt.conn.WriteJSON(msg)
}

func (rt *Realtime) readLoop() {
	defer close(rt.done)

	for {
		var msg serverMessage
		if err := rt.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("realtime connection lost")
			}
			return
		}

		if msg.Action == actionSubscribed {
			rt.mu.Lock()
			ack := rt.acks[msg.SubID]
			delete(rt.acks, msg.SubID)
			rt.mu.Unlock()
			if ack != nil {
				close(ack)
			}
			continue
		}

		rt.mu.Lock()
		handler := rt.handlers[msg.SubID]
		rt.mu.Unlock()
		if handler == nil {
			// Event for a subscription released moments ago.
			continue
		}

		handler(Event{Action: msg.Action, Record: msg.Record})
	}
}

// Close tears down the connection. All handlers stop receiving events.
func (rt *Realtime) Close() {
	rt.closeOnce.Do(func() {
		rt.conn.Close()
		<-rt.done
	})
}
