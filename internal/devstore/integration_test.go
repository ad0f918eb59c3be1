package devstore

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/sprintpoker/internal/gateway"
	"github.com/mcdev12/sprintpoker/internal/identity"
	"github.com/mcdev12/sprintpoker/internal/models"
	"github.com/mcdev12/sprintpoker/internal/recordstore"
	"github.com/mcdev12/sprintpoker/internal/roomsync"
	"github.com/mcdev12/sprintpoker/internal/voting"
)

// client bundles one full client-side stack wired against the test server.
type client struct {
	engine   *roomsync.Engine
	gateway  *gateway.RoomGateway
	identity *identity.Store
	clock    clockwork.Clock
}

func startServer(t *testing.T) *httptest.Server {
	t.Helper()

	store, err := OpenStore(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	srv := httptest.NewServer(NewServer(store).Handler())
	t.Cleanup(func() {
		srv.Close()
		store.Close()
	})
	return srv
}

func newClient(t *testing.T, baseURL string) *client {
	t.Helper()

	rc := recordstore.NewClient(baseURL)
	if err := rc.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}

	rt, err := rc.DialRealtime(context.Background())
	if err != nil {
		t.Fatalf("DialRealtime: %v", err)
	}
	t.Cleanup(rt.Close)

	clock := clockwork.NewRealClock()
	gw := gateway.NewRoomGateway(rc, rt, clock)
	ident := identity.NewStore(identity.NewMemoryBackend())

	return &client{
		engine:   roomsync.NewEngine(gw, ident, clock),
		gateway:  gw,
		identity: ident,
		clock:    clock,
	}
}

// waitFor polls until cond holds. Store events arrive asynchronously, so
// every assertion about synchronized state goes through here.
func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func TestEstimationFlowEndToEnd(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()

	host := newClient(t, srv.URL)

	room, err := host.gateway.CreateRoom(ctx, "ABC123", host.identity.ClientID(), "Sprint 5")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if room.Status != models.RoomStatusVoting || room.RoundNo != 1 {
		t.Fatalf("new room = status %q round %d, want voting round 1", room.Status, room.RoundNo)
	}

	session, err := host.engine.Activate(ctx, "abc123")
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if session.State() != roomsync.StateSyncing {
		t.Fatalf("session state = %v, want syncing", session.State())
	}

	ctrl := voting.NewController(session, host.gateway, host.identity, host.clock)

	if _, err := ctrl.Join(ctx, "Alice", models.RoleDeveloper, false); err != nil {
		t.Fatalf("Join: %v", err)
	}
	waitFor(t, "host participant visible", func() bool {
		self := session.Self()
		return self != nil && self.Nickname == "Alice"
	})
	if !ctrl.IsHost() {
		t.Error("room creator should be the host")
	}

	// First vote creates a record; re-voting must replace it in place.
	if err := ctrl.SubmitVote(ctx, "5"); err != nil {
		t.Fatalf("SubmitVote: %v", err)
	}
	waitFor(t, "first vote synchronized", func() bool {
		v := ctrl.SelfVote()
		return v != nil && v.Point == "5"
	})

	if err := ctrl.SubmitVote(ctx, "8"); err != nil {
		t.Fatalf("SubmitVote (revised): %v", err)
	}
	waitFor(t, "revised vote synchronized", func() bool {
		v := ctrl.SelfVote()
		return v != nil && v.Point == "8"
	})
	if votes := session.Votes(); len(votes) != 1 {
		t.Errorf("after revising, %d vote records exist, want 1", len(votes))
	}

	if err := ctrl.Reveal(ctx); err != nil {
		t.Fatalf("Reveal: %v", err)
	}
	waitFor(t, "revealed status synchronized", func() bool {
		r := session.Room()
		return r != nil && r.Status == models.RoomStatusRevealed
	})

	if err := ctrl.NextRound(ctx); err != nil {
		t.Fatalf("NextRound: %v", err)
	}
	waitFor(t, "next round synchronized", func() bool {
		r := session.Room()
		return r != nil && r.Status == models.RoomStatusVoting && r.RoundNo == 2
	})

	// The round-one vote record survives but no longer counts.
	if votes := session.Votes(); len(votes) != 1 {
		t.Errorf("round-one vote records = %d, want 1", len(votes))
	}
	if current := ctrl.CurrentRoundVotes(); len(current) != 0 {
		t.Errorf("round-two votes = %d, want 0", len(current))
	}

	session.Deactivate()
	if session.State() != roomsync.StateInactive {
		t.Errorf("state after deactivate = %v, want inactive", session.State())
	}
}

func TestTwoClientsObserveEachOther(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()

	host := newClient(t, srv.URL)
	guest := newClient(t, srv.URL)

	if _, err := host.gateway.CreateRoom(ctx, "XYZ789", host.identity.ClientID(), "Sprint 6"); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	hostSession, err := host.engine.Activate(ctx, "XYZ789")
	if err != nil {
		t.Fatalf("host Activate: %v", err)
	}
	hostCtrl := voting.NewController(hostSession, host.gateway, host.identity, host.clock)
	if _, err := hostCtrl.Join(ctx, "Alice", models.RoleScrumMaster, false); err != nil {
		t.Fatalf("host Join: %v", err)
	}

	guestSession, err := guest.engine.Activate(ctx, "XYZ789")
	if err != nil {
		t.Fatalf("guest Activate: %v", err)
	}
	guestCtrl := voting.NewController(guestSession, guest.gateway, guest.identity, guest.clock)
	if _, err := guestCtrl.Join(ctx, "Bob", models.RoleQA, false); err != nil {
		t.Fatalf("guest Join: %v", err)
	}

	waitFor(t, "host sees both participants", func() bool {
		return len(hostSession.Participants()) == 2
	})
	waitFor(t, "guest sees both participants", func() bool {
		return len(guestSession.Participants()) == 2
	})

	if err := guestCtrl.SubmitVote(ctx, "3"); err != nil {
		t.Fatalf("guest SubmitVote: %v", err)
	}
	if err := hostCtrl.SubmitVote(ctx, "5"); err != nil {
		t.Fatalf("host SubmitVote: %v", err)
	}

	waitFor(t, "host sees both votes", func() bool {
		return len(hostCtrl.CurrentRoundVotes()) == 2
	})
	stats := hostCtrl.Stats()
	if stats.Average != 4.0 || stats.NumericCount != 2 || stats.Participation != 2 {
		t.Errorf("stats = %+v, want average 4 over 2 numeric votes", stats)
	}

	// The guest leaving must not disturb the host's stream.
	guestSession.Deactivate()
	if err := hostCtrl.SubmitVote(ctx, "8"); err != nil {
		t.Fatalf("host re-vote: %v", err)
	}
	waitFor(t, "host sees the revised vote", func() bool {
		v := hostCtrl.SelfVote()
		return v != nil && v.Point == "8"
	})
}

func TestRejoinRecoversIdentity(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()

	user := newClient(t, srv.URL)

	if _, err := user.gateway.CreateRoom(ctx, "QWE456", user.identity.ClientID(), ""); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	first, err := user.engine.Activate(ctx, "QWE456")
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	ctrl := voting.NewController(first, user.gateway, user.identity, user.clock)
	if _, err := ctrl.Join(ctx, "Carol", models.RoleProductOwner, true); err != nil {
		t.Fatalf("Join: %v", err)
	}
	waitFor(t, "participant synchronized", func() bool { return first.Self() != nil })

	first.Deactivate()

	// Back into the same room: the snapshot already holds this client's
	// participant, so activation recognizes it without creating another.
	second, err := user.engine.Activate(ctx, "QWE456")
	if err != nil {
		t.Fatalf("re-Activate: %v", err)
	}
	self := second.Self()
	if self == nil {
		t.Fatal("rejoin did not recover the existing participant")
	}
	if self.Nickname != "Carol" || !self.IsSpectator {
		t.Errorf("recovered participant = %+v, want spectator Carol", self)
	}
	if got := len(second.Participants()); got != 1 {
		t.Errorf("participants after rejoin = %d, want 1", got)
	}

	room := second.Room()
	if room == nil || room.Topic != "Unnamed Estimation" {
		t.Errorf("room topic = %v, want the placeholder topic", room)
	}
}
