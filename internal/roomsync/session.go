package roomsync

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sprintpoker/internal/models"
	"github.com/mcdev12/sprintpoker/internal/recordstore"
)

// State is the lifecycle state of a room-viewing session.
type State string

const (
	StateLoading  State = "loading"
	StateSyncing  State = "syncing"
	StateError    State = "error"
	StateInactive State = "inactive"
)

// Session is one room-viewing session: the in-memory room, participant,
// and vote collections kept converged with the store while the room is
// being viewed. All snapshot results and stream events funnel through the
// same id-keyed merge, and every asynchronous continuation is gated on the
// engine's currency token.
type Session struct {
	engine *Engine
	gen    uint64
	code   string

	mu           sync.Mutex
	state        State
	err          error
	room         *models.Room
	participants []models.Participant
	votes        []models.Vote
	self         *models.Participant
	subs         []recordstore.SubscriptionHandle
	onChange     func()
}

// current reports whether this session is still the engine's live one.
// Checked before every state mutation scheduled from an asynchronous
// continuation.
func (s *Session) current() bool {
	return s.engine.generation.Load() == s.gen
}

// load runs the sequential fetch pipeline and opens the subscriptions.
func (s *Session) load(ctx context.Context) error {
	e := s.engine
	clientID := e.identity.ClientID()
	logger := log.With().Str("room_code", s.code).Uint64("session", s.gen).Logger()

	room, err := e.gateway.GetRoom(ctx, s.code)
	if err != nil {
		return err
	}
	if !s.current() {
		return ErrSessionReplaced
	}
	if room.Expired(e.clock.Now()) {
		logger.Info().Str("room_id", room.ID).Msg("room is past its expiry")
		return ErrRoomExpired
	}
	s.mu.Lock()
	s.room = room
	s.mu.Unlock()

	participants, err := e.gateway.GetParticipants(ctx, room.ID)
	if err != nil {
		return err
	}
	if !s.current() {
		return ErrSessionReplaced
	}

	var self *models.Participant
	for i := range participants {
		if participants[i].ClientID == clientID {
			self = &participants[i]
			break
		}
	}

	if self == nil {
		if nickname, ok := e.identity.StoredNickname(s.code); ok {
			joined, joinErr := e.gateway.JoinRoom(ctx, room.ID, clientID, nickname, "", false)
			if !s.current() {
				return ErrSessionReplaced
			}
			if joinErr != nil {
				// Auto-join is a best-effort convenience. The user can
				// still join manually, so the failure is logged, not
				// surfaced.
				logger.Warn().Err(joinErr).Msg("auto-join failed")
			} else {
				self = joined
				participants = applyEvent(participants, recordstore.ActionCreate, *joined)
			}
		}
	}

	votes, err := e.gateway.GetVotes(ctx, room.ID)
	if err != nil {
		return err
	}
	if !s.current() {
		return ErrSessionReplaced
	}

	s.mu.Lock()
	s.participants = participants
	s.votes = votes
	if self != nil {
		cp := *self
		s.self = &cp
	}
	s.mu.Unlock()

	roomSub, err := e.gateway.SubscribeRoom(room.ID, s.onRoomChange)
	if err != nil {
		return err
	}
	participantSub, err := e.gateway.SubscribeParticipants(room.ID, s.onParticipantEvent)
	if err != nil {
		roomSub.Unsubscribe()
		return err
	}
	voteSub, err := e.gateway.SubscribeVotes(room.ID, s.onVoteEvent)
	if err != nil {
		roomSub.Unsubscribe()
		participantSub.Unsubscribe()
		return err
	}

	s.mu.Lock()
	s.subs = []recordstore.SubscriptionHandle{roomSub, participantSub, voteSub}
	s.state = StateSyncing
	s.mu.Unlock()

	// A Deactivate racing the subscription setup drained an empty handle
	// list; re-check and release the streams it could not see.
	if !s.current() {
		s.close()
		return ErrSessionReplaced
	}

	logger.Info().
		Str("room_id", room.ID).
		Int("participants", len(participants)).
		Int("votes", len(votes)).
		Bool("joined", self != nil).
		Msg("room session syncing")
	s.notify()
	return nil
}

// Deactivate ends the session: pending continuations become no-ops and the
// change subscriptions are released. Safe to call more than once, and safe
// to call on a session that a newer activation has already replaced.
func (s *Session) Deactivate() {
	s.engine.deactivate(s)
}

func (s *Session) close() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	if s.state != StateError {
		s.state = StateInactive
	}
	s.mu.Unlock()

	for _, handle := range subs {
		handle.Unsubscribe()
	}
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.state = StateError
	s.err = err
	s.mu.Unlock()
	s.notify()
}

func (s *Session) onRoomChange(room models.Room) {
	if !s.current() {
		return
	}
	s.mu.Lock()
	// The pushed record replaces the local copy verbatim; the store wins.
	s.room = &room
	s.mu.Unlock()
	s.notify()
}

func (s *Session) onParticipantEvent(action recordstore.Action, p models.Participant) {
	if !s.current() {
		return
	}
	s.mu.Lock()
	s.participants = applyEvent(s.participants, action, p)
	if action == recordstore.ActionUpdate && s.self != nil && p.ID == s.self.ID {
		cp := p
		s.self = &cp
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Session) onVoteEvent(action recordstore.Action, v models.Vote) {
	if !s.current() {
		return
	}
	s.mu.Lock()
	s.votes = applyEvent(s.votes, action, v)
	s.mu.Unlock()
	s.notify()
}

// AdoptSelf records a freshly created participant as this client's own,
// without waiting for its create event to arrive on the stream. The merge
// makes the eventual event a harmless duplicate.
func (s *Session) AdoptSelf(p models.Participant) {
	if !s.current() {
		return
	}
	s.mu.Lock()
	cp := p
	s.self = &cp
	s.participants = applyEvent(s.participants, recordstore.ActionCreate, p)
	s.mu.Unlock()
	s.notify()
}

// SetOnChange registers a callback invoked after every applied mutation,
// so a presentation layer can re-render.
func (s *Session) SetOnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Session) notify() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// RoomCode returns the uppercased code this session was activated with.
func (s *Session) RoomCode() string { return s.code }

// State returns the session's lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the terminal error for a session in StateError.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Room returns a copy of the current room record, or nil before the
// snapshot lands.
func (s *Session) Room() *models.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return nil
	}
	cp := *s.room
	return &cp
}

// Participants returns a copy of the participant collection.
func (s *Session) Participants() []models.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Participant, len(s.participants))
	copy(out, s.participants)
	return out
}

// Votes returns a copy of the vote collection, all rounds included.
func (s *Session) Votes() []models.Vote {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Vote, len(s.votes))
	copy(out, s.votes)
	return out
}

// Self returns a copy of this client's participant record, or nil when the
// client has not joined the room.
func (s *Session) Self() *models.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.self == nil {
		return nil
	}
	cp := *s.self
	return &cp
}
