package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"

	"github.com/scrum-poker/scrumpoker/internal/roomsync"
	"github.com/scrum-poker/scrumpoker/internal/session"
	"github.com/scrum-poker/scrumpoker/internal/tui"
	"github.com/scrum-poker/scrumpoker/pkg/client"
	"github.com/scrum-poker/scrumpoker/pkg/domain"
	"github.com/scrum-poker/scrumpoker/pkg/realtime"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

const requestTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "version", "-v":
			fmt.Println("scrumpoker " + version)
			return nil
		case "help", "--help", "-h":
			printHelp()
			return nil
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogger(os.Stderr, cfg.LogLevel, false)

	api := client.New(cfg.APIURL)
	store := session.New(cfg.Home)
	ctx := context.Background()

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "create":
			if len(os.Args) != 4 {
				return errors.New("usage: scrumpoker create <room name> <your name>")
			}
			sess, err := createRoom(ctx, api, store, os.Args[2], os.Args[3])
			if err != nil {
				return err
			}
			return launch(ctx, cfg, api, store, sess)
		case "join":
			if len(os.Args) != 4 {
				return errors.New("usage: scrumpoker join <room id> <your name>")
			}
			sess, err := joinRoom(ctx, api, store, os.Args[2], os.Args[3])
			if err != nil {
				return err
			}
			return launch(ctx, cfg, api, store, sess)
		case "leave":
			return runLeave(ctx, api, store)
		case "status":
			return runStatus(ctx, cfg, api, store)
		default:
			printHelp()
			return fmt.Errorf("unknown command %q", os.Args[1])
		}
	}

	sess, ok, err := resume(ctx, api, store)
	if err != nil {
		return err
	}
	if !ok {
		printWelcome()
		return nil
	}
	return launch(ctx, cfg, api, store, sess)
}

// createRoom creates a room with the caller as scrum master and saves the
// resulting identity.
func createRoom(ctx context.Context, api *client.Client, store *session.Store, roomName, userName string) (domain.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	room, err := api.CreateRoom(ctx, roomName, userName)
	if err != nil {
		return domain.Session{}, err
	}
	sess := domain.Session{UserID: room.ScrumMasterID, UserName: userName, RoomID: room.ID}
	return openSession(ctx, api, store, sess)
}

// joinRoom adds the caller to an existing room and saves the identity.
func joinRoom(ctx context.Context, api *client.Client, store *session.Store, roomID, userName string) (domain.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	res, err := api.JoinRoom(ctx, roomID, userName)
	if err != nil {
		if client.IsNotFound(err) {
			return domain.Session{}, fmt.Errorf("room %s does not exist", roomID)
		}
		return domain.Session{}, err
	}
	name := res.User.Name
	if name == "" {
		name = userName
	}
	sess := domain.Session{UserID: res.User.ID, UserName: name, RoomID: res.Room.ID}
	if sess.RoomID == "" {
		sess.RoomID = roomID
	}
	return openSession(ctx, api, store, sess)
}

func openSession(ctx context.Context, api *client.Client, store *session.Store, sess domain.Session) (domain.Session, error) {
	if !sess.Complete() {
		return domain.Session{}, errors.New("server response is missing the user or room id")
	}
	// The server session only speeds up resuming; the identity alone is enough.
	sid, err := api.CreateSession(ctx, sess.UserID, sess.RoomID)
	if err != nil {
		log.Warn().Err(err).Str("room_id", sess.RoomID).Msg("could not create server session")
	}
	sess.ServerSessionID = sid
	if err := store.Save(sess); err != nil {
		return domain.Session{}, err
	}
	return sess, nil
}

// resume loads the saved identity. ok is false when there is nothing to
// resume, including a server session the backend no longer knows.
func resume(ctx context.Context, api *client.Client, store *session.Store) (domain.Session, bool, error) {
	sess, err := store.Load()
	if err != nil {
		return domain.Session{}, false, err
	}
	if !sess.Complete() {
		return domain.Session{}, false, nil
	}
	if sess.ServerSessionID == "" {
		return sess, true, nil
	}

	api.SetSessionID(sess.ServerSessionID)
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	lookup, err := api.GetSession(ctx, sess.RoomID)
	switch {
	case client.IsNotFound(err), client.IsStatus(err, http.StatusForbidden):
		log.Info().Str("room_id", sess.RoomID).Msg("saved session expired")
		if err := store.Clear(); err != nil {
			return domain.Session{}, false, err
		}
		return domain.Session{}, false, nil
	case err != nil:
		// Network or server trouble: start anyway, the connection retries.
		log.Warn().Err(err).Msg("could not verify saved session")
	case lookup.User.Name != "" && lookup.User.Name != sess.UserName:
		sess.UserName = lookup.User.Name
		if err := store.Save(sess); err != nil {
			return domain.Session{}, false, err
		}
	}
	return sess, true, nil
}

// launch runs the room TUI until the user quits or leaves.
func launch(ctx context.Context, cfg config, api *client.Client, store *session.Store, sess domain.Session) error {
	closeLog, err := logToFile(cfg.Home, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer closeLog()

	rtCfg := realtime.DefaultConfig(cfg.WSURL, sess.RoomID, sess.UserID)
	rtCfg.UserParam = cfg.WSUserParam

	var room *roomsync.Room
	mgr := realtime.NewManager(rtCfg,
		realtime.WithMessageHandler(func(m domain.Message) { room.HandleMessage(m) }),
		realtime.WithStatusHandler(func(s realtime.Status) { room.HandleStatus(s) }),
	)
	defer mgr.Close()
	room = roomsync.New(api, mgr, sess.RoomID, sess.UserID)

	if err := room.Load(ctx); err != nil {
		if client.IsNotFound(err) {
			store.Clear() //nolint:errcheck
			return fmt.Errorf("room %s no longer exists", sess.RoomID)
		}
		return err
	}

	p := tea.NewProgram(tui.NewApp(room, cfg.roomLink(sess.RoomID), version), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("tui error: %w", err)
	}

	if app, ok := final.(tui.App); ok && app.Left() {
		if err := leaveSession(ctx, api, store); err != nil {
			return err
		}
		printLeft(sess)
	}
	return nil
}

func runLeave(ctx context.Context, api *client.Client, store *session.Store) error {
	sess, err := store.Load()
	if err != nil {
		return err
	}
	if !sess.Complete() {
		fmt.Println("Not in a room.")
		return nil
	}
	if sess.ServerSessionID != "" {
		api.SetSessionID(sess.ServerSessionID)
	}
	if err := leaveSession(ctx, api, store); err != nil {
		return err
	}
	printLeft(sess)
	return nil
}

// leaveSession drops the server session (best effort) and the saved identity.
func leaveSession(ctx context.Context, api *client.Client, store *session.Store) error {
	if api.SessionID() != "" {
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		if err := api.DeleteSession(ctx); err != nil {
			log.Warn().Err(err).Msg("could not delete server session")
		}
	}
	return store.Clear()
}

func runStatus(ctx context.Context, cfg config, api *client.Client, store *session.Store) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	healthErr := api.Health(ctx)
	sess, err := store.Load()
	if err != nil {
		return err
	}
	printStatus(cfg, sess, healthErr)
	return nil
}
