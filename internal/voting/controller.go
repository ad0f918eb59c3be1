package voting

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sprintpoker/internal/gateway"
	"github.com/mcdev12/sprintpoker/internal/models"
	"github.com/mcdev12/sprintpoker/internal/roomsync"
)

// Gateway defines the write operations the controller issues.
type Gateway interface {
	UpdateRoomStatus(ctx context.Context, roomID string, update gateway.RoomStatusUpdate) (*models.Room, error)
	SubmitVote(ctx context.Context, roomID, participantID string, roundNo int, point, existingVoteID string) (*models.Vote, error)
	JoinRoom(ctx context.Context, roomID, clientID, nickname string, role models.Role, isSpectator bool) (*models.Participant, error)
}

// Identity defines what the controller needs from the identity store.
type Identity interface {
	ClientID() string
	SetStoredNickname(roomCode, nickname string)
}

// Controller drives the room's two-state voting lifecycle on top of a
// syncing session: it derives the current round's votes, upserts this
// client's vote, and issues the reveal and next-round transitions.
type Controller struct {
	session  *roomsync.Session
	gateway  Gateway
	identity Identity
	clock    clockwork.Clock
}

// NewController creates a lifecycle controller for a session.
func NewController(session *roomsync.Session, gw Gateway, identity Identity, clock clockwork.Clock) *Controller {
	return &Controller{session: session, gateway: gw, identity: identity, clock: clock}
}

// CurrentRoundVotes returns the votes whose round number equals the room's
// current round. Recomputed from the session on every call.
func (c *Controller) CurrentRoundVotes() []models.Vote {
	room := c.session.Room()
	if room == nil {
		return nil
	}
	var out []models.Vote
	for _, v := range c.session.Votes() {
		if v.RoundNo == room.RoundNo {
			out = append(out, v)
		}
	}
	return out
}

// SelfVote returns this client's vote for the current round, if any.
func (c *Controller) SelfVote() *models.Vote {
	self := c.session.Self()
	if self == nil {
		return nil
	}
	for _, v := range c.CurrentRoundVotes() {
		if v.ParticipantID == self.ID {
			cp := v
			return &cp
		}
	}
	return nil
}

// SubmitVote upserts this client's vote for the current round: a prior
// vote for the round is updated in place, otherwise one is created. A
// silent no-op without an active room or a joined participant.
func (c *Controller) SubmitVote(ctx context.Context, point string) error {
	room := c.session.Room()
	self := c.session.Self()
	if room == nil || self == nil {
		log.Debug().Str("point", point).Msg("ignoring vote without an active room or joined participant")
		return nil
	}

	existingID := ""
	if v := c.SelfVote(); v != nil {
		existingID = v.ID
	}

	if _, err := c.gateway.SubmitVote(ctx, room.ID, self.ID, room.RoundNo, point, existingID); err != nil {
		return fmt.Errorf("submit vote: %w", err)
	}
	return nil
}

// Reveal makes the current round's votes visible by setting the room's
// status to revealed. Intended for the host; the check is the caller's to
// make, the store enforces nothing.
func (c *Controller) Reveal(ctx context.Context) error {
	room := c.session.Room()
	if room == nil {
		return nil
	}
	now := c.clock.Now().UTC()
	_, err := c.gateway.UpdateRoomStatus(ctx, room.ID, gateway.RoomStatusUpdate{
		Status:       models.RoomStatusRevealed,
		LastActiveAt: &now,
	})
	if err != nil {
		return fmt.Errorf("reveal votes: %w", err)
	}
	return nil
}

// NextRound starts a fresh voting round: status back to voting, round
// number incremented. Prior-round votes are retained for history.
func (c *Controller) NextRound(ctx context.Context) error {
	room := c.session.Room()
	if room == nil {
		return nil
	}
	now := c.clock.Now().UTC()
	_, err := c.gateway.UpdateRoomStatus(ctx, room.ID, gateway.RoomStatusUpdate{
		Status:       models.RoomStatusVoting,
		RoundNo:      room.RoundNo + 1,
		LastActiveAt: &now,
	})
	if err != nil {
		return fmt.Errorf("advance round: %w", err)
	}
	return nil
}

// Join creates this client's participant record, remembers the nickname
// for auto-rejoin, and adopts the record as self without waiting for the
// stream.
func (c *Controller) Join(ctx context.Context, nickname string, role models.Role, isSpectator bool) (*models.Participant, error) {
	room := c.session.Room()
	if room == nil {
		return nil, fmt.Errorf("join: no active room")
	}

	participant, err := c.gateway.JoinRoom(ctx, room.ID, c.identity.ClientID(), nickname, role, isSpectator)
	if err != nil {
		return nil, err
	}

	c.identity.SetStoredNickname(room.RoomCode, nickname)
	c.session.AdoptSelf(*participant)
	return participant, nil
}

// IsHost reports whether this client created the room. A display and
// affordance hint only, derived client-side from the room's host identity.
func (c *Controller) IsHost() bool {
	room := c.session.Room()
	return room != nil && room.HostID == c.identity.ClientID()
}

// Stats summarizes the current round.
type Stats struct {
	// Average is the mean of the points that parse as numbers; zero when
	// none do.
	Average float64
	// NumericCount is how many votes entered the average.
	NumericCount int
	// Participation counts every current-round vote, symbolic tokens like
	// "?" included.
	Participation int
}

// Stats computes the current round's aggregate statistics.
func (c *Controller) Stats() Stats {
	votes := c.CurrentRoundVotes()
	stats := Stats{Participation: len(votes)}

	var sum float64
	for _, v := range votes {
		n, err := strconv.ParseFloat(strings.TrimSpace(v.Point), 64)
		if err != nil {
			continue
		}
		sum += n
		stats.NumericCount++
	}
	if stats.NumericCount > 0 {
		stats.Average = sum / float64(stats.NumericCount)
	}
	return stats
}
