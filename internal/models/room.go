package models

import (
	"time"
)

// RoomStatus defines the voting lifecycle state of a room.
type RoomStatus string

const (
	RoomStatusVoting   RoomStatus = "voting"
	RoomStatusRevealed RoomStatus = "revealed"
)

// Room is one shared estimation session, addressed by a short
// human-shareable code. The store assigns the record id; the code is the
// business key clients look rooms up by.
type Room struct {
	ID           string     `json:"id"`
	RoomCode     string     `json:"room_code"`
	HostID       string     `json:"host_id"`
	Topic        string     `json:"topic,omitempty"`
	Status       RoomStatus `json:"status"`
	RoundNo      int        `json:"round_no"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`
	ExpiredAt    *time.Time `json:"expired_at,omitempty"`
}

// Expired reports whether the room's advisory expiry has passed. Expiry is
// checked client-side; the store never deletes rooms on our behalf.
func (r *Room) Expired(now time.Time) bool {
	return r.ExpiredAt != nil && r.ExpiredAt.Before(now)
}

// RecordID returns the store-assigned record id.
func (r Room) RecordID() string { return r.ID }
