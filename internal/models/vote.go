package models

import (
	"time"
)

// Vote is one participant's estimate for a single round. Point is a
// free-form token: usually numeric-like ("5", "13"), sometimes symbolic
// ("?", a break symbol). Votes from earlier rounds are retained for history
// and become invisible to the current round once RoundNo advances.
type Vote struct {
	ID            string    `json:"id"`
	RoomID        string    `json:"room_id"`
	ParticipantID string    `json:"participant_id"`
	RoundNo       int       `json:"round_no"`
	Point         string    `json:"point"`
	VotedAt       time.Time `json:"voted_at"`
}

// RecordID returns the store-assigned record id.
func (v Vote) RecordID() string { return v.ID }
