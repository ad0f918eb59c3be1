package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sprintpoker/internal/gateway"
	"github.com/mcdev12/sprintpoker/internal/identity"
	"github.com/mcdev12/sprintpoker/internal/models"
	"github.com/mcdev12/sprintpoker/internal/recordstore"
	"github.com/mcdev12/sprintpoker/internal/roomsync"
	"github.com/mcdev12/sprintpoker/internal/voting"
)

const usage = `usage: sprintpoker <command> [args]

commands:
  create <nickname> [topic]   create a room, join it as host
  join <code> <nickname>      join an existing room

environment:
  STORE_URL   record store base URL (default http://localhost:8090)
  POKER_DB    identity database path (default poker.db)
`

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err := run(os.Args[1], os.Args[2:]); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func run(command string, args []string) error {
	storeURL := getEnv("STORE_URL", "http://localhost:8090")
	dbPath := getEnv("POKER_DB", "poker.db")

	backend, err := identity.OpenSQLite(dbPath)
	if err != nil {
		return fmt.Errorf("open identity db: %w", err)
	}
	defer backend.Close()
	ident := identity.NewStore(backend)

	rc := recordstore.NewClient(storeURL)
	ctx := context.Background()
	if err := rc.Health(ctx); err != nil {
		return fmt.Errorf("record store unreachable at %s: %w", storeURL, err)
	}

	rt, err := rc.DialRealtime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	clock := clockwork.NewRealClock()
	gw := gateway.NewRoomGateway(rc, rt, clock)
	engine := roomsync.NewEngine(gw, ident, clock)

	switch command {
	case "create":
		if len(args) < 1 {
			return fmt.Errorf("create needs a nickname")
		}
		topic := ""
		if len(args) > 1 {
			topic = strings.Join(args[1:], " ")
		}
		code := gateway.GenerateRoomCode()
		if _, err := gw.CreateRoom(ctx, code, ident.ClientID(), topic); err != nil {
			return err
		}
		fmt.Printf("room created: %s\n", code)
		return enterRoom(ctx, engine, gw, ident, clock, code, args[0])

	case "join":
		if len(args) < 2 {
			return fmt.Errorf("join needs a room code and a nickname")
		}
		return enterRoom(ctx, engine, gw, ident, clock, args[0], args[1])

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func enterRoom(ctx context.Context, engine *roomsync.Engine, gw *gateway.RoomGateway, ident *identity.Store, clock clockwork.Clock, code, nickname string) error {
	session, err := engine.Activate(ctx, code)
	if err != nil {
		return err
	}
	defer session.Deactivate()

	ctrl := voting.NewController(session, gw, ident, clock)
	if session.Self() == nil {
		if _, err := ctrl.Join(ctx, nickname, models.RoleDeveloper, false); err != nil {
			return err
		}
	}

	session.SetOnChange(func() { printRoom(session, ctrl) })
	printRoom(session, ctrl)

	fmt.Println(`commands: vote <point> | reveal | next | quit`)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "vote":
			if len(fields) != 2 {
				fmt.Println("usage: vote <point>")
				continue
			}
			err = ctrl.SubmitVote(ctx, fields[1])
		case "reveal":
			err = ctrl.Reveal(ctx)
		case "next":
			err = ctrl.NextRound(ctx)
		case "quit":
			return nil
		default:
			fmt.Printf("unknown command %q\n", fields[0])
			continue
		}
		if err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
	return scanner.Err()
}

func printRoom(session *roomsync.Session, ctrl *voting.Controller) {
	room := session.Room()
	if room == nil {
		return
	}

	fmt.Printf("\n[%s] %s  round %d  (%s)\n", room.RoomCode, room.Topic, room.RoundNo, room.Status)

	voted := make(map[string]string)
	for _, v := range ctrl.CurrentRoundVotes() {
		voted[v.ParticipantID] = v.Point
	}
	for _, p := range session.Participants() {
		marker := " "
		if point, ok := voted[p.ID]; ok {
			marker = "*"
			if room.Status == models.RoomStatusRevealed {
				marker = point
			}
		}
		fmt.Printf("  %-16s %-5s [%s]\n", p.Nickname, p.Role, marker)
	}

	if room.Status == models.RoomStatusRevealed {
		stats := ctrl.Stats()
		fmt.Printf("  average %.1f over %d numeric votes (%d voted)\n",
			stats.Average, stats.NumericCount, stats.Participation)
	}
	fmt.Print("> ")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
