package identity

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sprintpoker/internal/models"
)

const (
	clientIDKey    = "agile_poker_client_id"
	preferencesKey = "agile_poker_user_prefs"
	nicknamePrefix = "nickname:"
)

// Store derives and persists the stable anonymous client identity plus the
// last-used nickname and role preferences. Storage failures degrade to
// "treat as first use" rather than failing the caller: the engine must be
// able to run with a fresh identity even when the backend is broken.
type Store struct {
	backend Backend

	mu       sync.Mutex
	clientID string
}

// NewStore creates an identity store over the given backend.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

// ClientID returns the persisted anonymous client identity, generating and
// persisting a fresh one on first use. The returned value is stable for the
// lifetime of this Store even if the backend refuses the write.
func (s *Store) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clientID != "" {
		return s.clientID
	}

	stored, ok, err := s.backend.Get(clientIDKey)
	if err != nil {
		log.Warn().Err(err).Msg("identity storage unavailable, generating throwaway client id")
	}
	if ok && stored != "" {
		s.clientID = stored
		return s.clientID
	}

	s.clientID = uuid.NewString()
	if err := s.backend.Set(clientIDKey, s.clientID); err != nil {
		log.Warn().Err(err).Msg("could not persist client id")
	}
	return s.clientID
}

// StoredNickname returns the nickname last used for the given room code, if
// one was stored. It enables silent auto-rejoin.
func (s *Store) StoredNickname(roomCode string) (string, bool) {
	nick, ok, err := s.backend.Get(nicknamePrefix + roomCode)
	if err != nil {
		log.Warn().Err(err).Str("room_code", roomCode).Msg("could not read stored nickname")
		return "", false
	}
	return nick, ok && nick != ""
}

// SetStoredNickname remembers the nickname used for a room code.
func (s *Store) SetStoredNickname(roomCode, nickname string) {
	if err := s.backend.Set(nicknamePrefix+roomCode, nickname); err != nil {
		log.Warn().Err(err).Str("room_code", roomCode).Msg("could not persist nickname")
	}
}

// Preferences returns the last-used global join preferences, if any.
func (s *Store) Preferences() (*models.UserPreferences, bool) {
	raw, ok, err := s.backend.Get(preferencesKey)
	if err != nil {
		log.Warn().Err(err).Msg("could not read preferences")
		return nil, false
	}
	if !ok || raw == "" {
		return nil, false
	}

	var prefs models.UserPreferences
	if err := json.Unmarshal([]byte(raw), &prefs); err != nil {
		log.Warn().Err(err).Msg("stored preferences are malformed, ignoring")
		return nil, false
	}
	return &prefs, true
}

// SetPreferences persists the global join preferences.
func (s *Store) SetPreferences(prefs models.UserPreferences) {
	raw, err := json.Marshal(prefs)
	if err != nil {
		log.Warn().Err(err).Msg("could not encode preferences")
		return
	}
	if err := s.backend.Set(preferencesKey, string(raw)); err != nil {
		log.Warn().Err(err).Msg("could not persist preferences")
	}
}
