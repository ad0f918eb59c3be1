package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sprintpoker/internal/models"
	"github.com/mcdev12/sprintpoker/internal/recordstore"
)

// Collection names in the record store.
const (
	collectionRooms        = "rooms"
	collectionParticipants = "participants"
	collectionVotes        = "votes"
)

// roomTTL is the advisory lifetime stamped onto new rooms. Expiry is
// checked client-side at fetch time; nothing deletes the record.
const roomTTL = 24 * time.Hour

const defaultTopic = "Unnamed Estimation"

// Store defines what the gateway needs from the record-store client.
type Store interface {
	Create(ctx context.Context, collection string, body, out any) error
	Update(ctx context.Context, collection, id string, body, out any) error
	GetFirstListItem(ctx context.Context, collection, filter string, out any) error
	GetFullList(ctx context.Context, collection, filter string, out any) error
}

// RealtimeStore defines the change-subscription primitive the gateway
// subscribes through.
type RealtimeStore interface {
	Subscribe(collection, recordID, filter string, handler recordstore.EventHandler) (recordstore.SubscriptionHandle, error)
}

// RoomGateway exposes validated, typed operations for the three entity
// kinds against the record store. All inputs that reach a filter expression
// or URL are validated or escaped here, before any network call.
type RoomGateway struct {
	store Store
	rt    RealtimeStore
	clock clockwork.Clock

	mu   sync.Mutex
	subs []recordstore.SubscriptionHandle
}

// NewRoomGateway creates a gateway over the given store and realtime
// connection.
func NewRoomGateway(store Store, rt RealtimeStore, clock clockwork.Clock) *RoomGateway {
	return &RoomGateway{store: store, rt: rt, clock: clock}
}

type createRoomRequest struct {
	RoomCode     string            `json:"room_code"`
	HostID       string            `json:"host_id"`
	Topic        string            `json:"topic"`
	Status       models.RoomStatus `json:"status"`
	RoundNo      int               `json:"round_no"`
	LastActiveAt time.Time         `json:"last_active_at"`
	ExpiredAt    time.Time         `json:"expired_at"`
}

// CreateRoom creates a room with status=voting, round 1, and an advisory
// 24h expiry. An empty topic gets a placeholder.
func (g *RoomGateway) CreateRoom(ctx context.Context, code, hostID, topic string) (*models.Room, error) {
	validCode, err := ValidateRoomCode(code)
	if err != nil {
		return nil, err
	}
	if topic == "" {
		topic = defaultTopic
	}

	now := g.clock.Now().UTC()
	req := createRoomRequest{
		RoomCode:     validCode,
		HostID:       hostID,
		Topic:        topic,
		Status:       models.RoomStatusVoting,
		RoundNo:      1,
		LastActiveAt: now,
		ExpiredAt:    now.Add(roomTTL),
	}

	var room models.Room
	if err := g.store.Create(ctx, collectionRooms, req, &room); err != nil {
		return nil, fmt.Errorf("create room %s: %w", validCode, err)
	}
	return &room, nil
}

// GetRoom looks a room up by its business key. Returns
// recordstore.ErrNotFound (wrapped) when no room carries the code.
func (g *RoomGateway) GetRoom(ctx context.Context, code string) (*models.Room, error) {
	validCode, err := ValidateRoomCode(code)
	if err != nil {
		return nil, err
	}

	var room models.Room
	if err := g.store.GetFirstListItem(ctx, collectionRooms, equalsFilter("room_code", validCode), &room); err != nil {
		return nil, fmt.Errorf("get room %s: %w", validCode, err)
	}
	return &room, nil
}

// RoomStatusUpdate is a partial update of a room's lifecycle fields. Zero
// fields are left untouched by the store.
type RoomStatusUpdate struct {
	Status       models.RoomStatus `json:"status,omitempty"`
	RoundNo      int               `json:"round_no,omitempty"`
	LastActiveAt *time.Time        `json:"last_active_at,omitempty"`
}

// UpdateRoomStatus applies a partial update to a room record.
func (g *RoomGateway) UpdateRoomStatus(ctx context.Context, roomID string, update RoomStatusUpdate) (*models.Room, error) {
	validID, err := validateRecordID(roomID)
	if err != nil {
		return nil, err
	}

	var room models.Room
	if err := g.store.Update(ctx, collectionRooms, validID, update, &room); err != nil {
		return nil, fmt.Errorf("update room %s: %w", validID, err)
	}
	return &room, nil
}

// GetParticipants returns the full participant snapshot for a room.
func (g *RoomGateway) GetParticipants(ctx context.Context, roomID string) ([]models.Participant, error) {
	validID, err := validateRecordID(roomID)
	if err != nil {
		return nil, err
	}

	var participants []models.Participant
	if err := g.store.GetFullList(ctx, collectionParticipants, equalsFilter("room_id", validID), &participants); err != nil {
		return nil, fmt.Errorf("list participants of room %s: %w", validID, err)
	}
	return participants, nil
}

// GetVotes returns the full vote snapshot for a room, all rounds included.
func (g *RoomGateway) GetVotes(ctx context.Context, roomID string) ([]models.Vote, error) {
	validID, err := validateRecordID(roomID)
	if err != nil {
		return nil, err
	}

	var votes []models.Vote
	if err := g.store.GetFullList(ctx, collectionVotes, equalsFilter("room_id", validID), &votes); err != nil {
		return nil, fmt.Errorf("list votes of room %s: %w", validID, err)
	}
	return votes, nil
}

type joinRoomRequest struct {
	RoomID      string      `json:"room_id"`
	ClientID    string      `json:"client_id"`
	Nickname    string      `json:"nickname"`
	Role        models.Role `json:"role,omitempty"`
	IsSpectator bool        `json:"is_spectator,omitempty"`
	LastSeenAt  time.Time   `json:"last_seen_at"`
}

// JoinRoom creates a participant record. Creation is not idempotent: a
// client that already holds a record and joins again creates a duplicate,
// which the synchronizer's id-keyed merge tolerates.
func (g *RoomGateway) JoinRoom(ctx context.Context, roomID, clientID, nickname string, role models.Role, isSpectator bool) (*models.Participant, error) {
	validID, err := validateRecordID(roomID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(nickname) == "" {
		return nil, fmt.Errorf("%w: nickname is required", ErrInvalidInput)
	}

	req := joinRoomRequest{
		RoomID:      validID,
		ClientID:    clientID,
		Nickname:    nickname,
		Role:        role,
		IsSpectator: isSpectator,
		LastSeenAt:  g.clock.Now().UTC(),
	}

	var participant models.Participant
	if err := g.store.Create(ctx, collectionParticipants, req, &participant); err != nil {
		return nil, fmt.Errorf("join room %s: %w", validID, err)
	}
	return &participant, nil
}

type submitVoteRequest struct {
	RoomID        string    `json:"room_id"`
	ParticipantID string    `json:"participant_id"`
	RoundNo       int       `json:"round_no"`
	Point         string    `json:"point"`
	VotedAt       time.Time `json:"voted_at"`
}

// SubmitVote creates a vote, or updates it in place when existingVoteID is
// given. The update-in-place path is what keeps one vote per (participant,
// round); the store itself enforces no such constraint.
func (g *RoomGateway) SubmitVote(ctx context.Context, roomID, participantID string, roundNo int, point, existingVoteID string) (*models.Vote, error) {
	validRoomID, err := validateRecordID(roomID)
	if err != nil {
		return nil, err
	}
	validParticipantID, err := validateRecordID(participantID)
	if err != nil {
		return nil, err
	}

	req := submitVoteRequest{
		RoomID:        validRoomID,
		ParticipantID: validParticipantID,
		RoundNo:       roundNo,
		Point:         point,
		VotedAt:       g.clock.Now().UTC(),
	}

	var vote models.Vote
	if existingVoteID != "" {
		validVoteID, err := validateRecordID(existingVoteID)
		if err != nil {
			return nil, err
		}
		if err := g.store.Update(ctx, collectionVotes, validVoteID, req, &vote); err != nil {
			return nil, fmt.Errorf("update vote %s: %w", validVoteID, err)
		}
		return &vote, nil
	}

	if err := g.store.Create(ctx, collectionVotes, req, &vote); err != nil {
		return nil, fmt.Errorf("create vote in room %s: %w", validRoomID, err)
	}
	return &vote, nil
}

// SubscribeRoom subscribes to changes of exactly one room record. The
// handler receives the pushed record verbatim; last write wins.
func (g *RoomGateway) SubscribeRoom(roomID string, onChange func(models.Room)) (recordstore.SubscriptionHandle, error) {
	validID, err := validateRecordID(roomID)
	if err != nil {
		return nil, err
	}

	handle, err := g.rt.Subscribe(collectionRooms, validID, "", func(event recordstore.Event) {
		var room models.Room
		if err := json.Unmarshal(event.Record, &room); err != nil {
			log.Warn().Err(err).Str("room_id", validID).Msg("dropping undecodable room event")
			return
		}
		onChange(room)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to room %s: %w", validID, err)
	}
	g.track(handle)
	return handle, nil
}

// SubscribeParticipants subscribes to the participant stream filtered to a
// room. The room id is re-checked client-side before forwarding, in case
// the server-side filter passes through non-matching records.
func (g *RoomGateway) SubscribeParticipants(roomID string, onEvent func(recordstore.Action, models.Participant)) (recordstore.SubscriptionHandle, error) {
	validID, err := validateRecordID(roomID)
	if err != nil {
		return nil, err
	}

	handle, err := g.rt.Subscribe(collectionParticipants, "*", equalsFilter("room_id", validID), func(event recordstore.Event) {
		var participant models.Participant
		if err := json.Unmarshal(event.Record, &participant); err != nil {
			log.Warn().Err(err).Str("room_id", validID).Msg("dropping undecodable participant event")
			return
		}
		if participant.RoomID != validID {
			return
		}
		onEvent(event.Action, participant)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to participants of room %s: %w", validID, err)
	}
	g.track(handle)
	return handle, nil
}

// SubscribeVotes subscribes to the vote stream filtered to a room, with the
// same client-side room-id recheck as SubscribeParticipants.
func (g *RoomGateway) SubscribeVotes(roomID string, onEvent func(recordstore.Action, models.Vote)) (recordstore.SubscriptionHandle, error) {
	validID, err := validateRecordID(roomID)
	if err != nil {
		return nil, err
	}

	handle, err := g.rt.Subscribe(collectionVotes, "*", equalsFilter("room_id", validID), func(event recordstore.Event) {
		var vote models.Vote
		if err := json.Unmarshal(event.Record, &vote); err != nil {
			log.Warn().Err(err).Str("room_id", validID).Msg("dropping undecodable vote event")
			return
		}
		if vote.RoomID != validID {
			return
		}
		onEvent(event.Action, vote)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to votes of room %s: %w", validID, err)
	}
	g.track(handle)
	return handle, nil
}

func (g *RoomGateway) track(handle recordstore.SubscriptionHandle) {
	g.mu.Lock()
	g.subs = append(g.subs, handle)
	g.mu.Unlock()
}

// Unsubscribe releases every stream this gateway has opened. Idempotent and
// safe with none active. Callers that need finer control release the
// per-subscription handles instead.
func (g *RoomGateway) Unsubscribe() {
	g.mu.Lock()
	subs := g.subs
	g.subs = nil
	g.mu.Unlock()

	for _, handle := range subs {
		handle.Unsubscribe()
	}
}
