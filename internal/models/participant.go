package models

import (
	"time"
)

// Role defines the team role a participant can pick when joining.
type Role string

const (
	RoleScrumMaster  Role = "SM"
	RoleProductOwner Role = "PO"
	RoleDeveloper    Role = "DEV"
	RoleQA           Role = "QA"
	RoleUIUX         Role = "UI/UX"
)

// Participant is one client's presence in a room. ClientID is the stable
// per-device identity; a client that rejoins is matched by it, not by the
// record id.
type Participant struct {
	ID          string     `json:"id"`
	RoomID      string     `json:"room_id"`
	ClientID    string     `json:"client_id"`
	Nickname    string     `json:"nickname"`
	Role        Role       `json:"role,omitempty"`
	IsSpectator bool       `json:"is_spectator,omitempty"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`
}

// RecordID returns the store-assigned record id.
func (p Participant) RecordID() string { return p.ID }
