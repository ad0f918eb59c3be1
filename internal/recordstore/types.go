package recordstore

import (
	"encoding/json"
)

// Action tags a change-stream event. Delivery is at-least-once, so all
// three tags must be applied idempotently by consumers.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Event is one change-stream notification for a single record. Events for
// a given record arrive in actual mutation order; no ordering is guaranteed
// across records or collections.
type Event struct {
	Action Action          `json:"action"`
	Record json.RawMessage `json:"record"`
}

// EventHandler consumes change-stream events. Handlers for one realtime
// connection are invoked serially from its read loop.
type EventHandler func(Event)

// SubscriptionHandle releases a single change subscription. Unsubscribe is
// idempotent and safe after the connection is gone.
type SubscriptionHandle interface {
	Unsubscribe()
}

// listResponse is the store's envelope for list queries.
type listResponse struct {
	Items []json.RawMessage `json:"items"`
}
