package models

// UserPreferences holds the last-used join choices, persisted locally so
// the join form can be prefilled across rooms.
type UserPreferences struct {
	Nickname    string `json:"nickname"`
	Role        Role   `json:"role"`
	IsSpectator bool   `json:"isSpectator"`
}
