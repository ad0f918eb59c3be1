package roomsync

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sprintpoker/internal/models"
	"github.com/mcdev12/sprintpoker/internal/recordstore"
)

// RoomGateway defines what the synchronizer needs from the room data
// gateway.
type RoomGateway interface {
	GetRoom(ctx context.Context, code string) (*models.Room, error)
	GetParticipants(ctx context.Context, roomID string) ([]models.Participant, error)
	GetVotes(ctx context.Context, roomID string) ([]models.Vote, error)
	JoinRoom(ctx context.Context, roomID, clientID, nickname string, role models.Role, isSpectator bool) (*models.Participant, error)
	SubscribeRoom(roomID string, onChange func(models.Room)) (recordstore.SubscriptionHandle, error)
	SubscribeParticipants(roomID string, onEvent func(recordstore.Action, models.Participant)) (recordstore.SubscriptionHandle, error)
	SubscribeVotes(roomID string, onEvent func(recordstore.Action, models.Vote)) (recordstore.SubscriptionHandle, error)
}

// Identity defines what the synchronizer needs from the identity store.
type Identity interface {
	ClientID() string
	StoredNickname(roomCode string) (string, bool)
}

// Engine owns room-viewing sessions. At most one session is current per
// engine; activating a new one invalidates the previous session's pending
// continuations and releases its subscriptions.
type Engine struct {
	gateway  RoomGateway
	identity Identity
	clock    clockwork.Clock

	// generation is the currency token. Every asynchronous continuation
	// belonging to a session compares its own generation against this
	// before mutating state, so a stale session's late results are
	// discarded instead of corrupting a newer session.
	generation atomic.Uint64

	mu     sync.Mutex
	active *Session
}

// NewEngine creates a synchronizer engine.
func NewEngine(gateway RoomGateway, identity Identity, clock clockwork.Clock) *Engine {
	return &Engine{gateway: gateway, identity: identity, clock: clock}
}

// Activate starts a session for the given room code: it fetches the room,
// participant, and vote snapshots, reconciles an auto-join attempt, and
// opens the three change subscriptions. Any previously active session is
// deactivated first.
//
// On success the returned session is in StateSyncing. An expired room
// yields ErrRoomExpired with no subscriptions opened; fetch failures
// surface as the session's terminal error. If a concurrent Activate
// supersedes this one mid-load, ErrSessionReplaced is returned and no
// state of the winning session is touched.
func (e *Engine) Activate(ctx context.Context, roomCode string) (*Session, error) {
	code := strings.ToUpper(roomCode)

	e.mu.Lock()
	prev := e.active
	gen := e.generation.Add(1)
	s := &Session{engine: e, gen: gen, code: code, state: StateLoading}
	e.active = s
	e.mu.Unlock()

	if prev != nil {
		prev.close()
	}

	log.Info().Str("room_code", code).Uint64("session", gen).Msg("activating room session")

	if err := s.load(ctx); err != nil {
		if errors.Is(err, ErrSessionReplaced) {
			return nil, err
		}
		s.fail(err)
		return nil, err
	}
	return s, nil
}

// ActiveSession returns the currently active session, if any.
func (e *Engine) ActiveSession() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

func (e *Engine) deactivate(s *Session) {
	e.mu.Lock()
	if e.active == s {
		e.active = nil
		// Flip the currency token so every pending continuation of this
		// session becomes a no-op.
		e.generation.Add(1)
	}
	e.mu.Unlock()
	s.close()
}
