// Package roomsync keeps one participant's view of a room current. It owns
// the room snapshot, applies inbound actions through the dispatcher and
// turns user intents into outbound actions.
package roomsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/scrum-poker/scrumpoker/pkg/dispatch"
	"github.com/scrum-poker/scrumpoker/pkg/domain"
	"github.com/scrum-poker/scrumpoker/pkg/realtime"
)

var (
	ErrNotLoaded       = errors.New("room not loaded")
	ErrInvalidVote     = errors.New("invalid vote")
	ErrNotScrumMaster  = errors.New("only the scrum master can do that")
	ErrInvalidTransfer = errors.New("invalid transfer target")
	ErrEmptyName       = errors.New("name is required")
)

const refetchTimeout = 10 * time.Second

// RoomFetcher loads a full room snapshot. *client.Client satisfies it.
type RoomFetcher interface {
	GetRoom(ctx context.Context, roomID string) (*domain.Room, error)
}

// Conn is the live session to the room. *realtime.Manager satisfies it.
type Conn interface {
	Connect()
	Disconnect()
	SendMessage(action domain.ActionKind, payload any) bool
}

// Update is published after every visible change. Room and Selected are
// always the current values; Notice is set only for join/leave events.
type Update struct {
	Room     *domain.Room
	Selected string
	Notice   string
	Status   realtime.Status
}

// Room coordinates a single joined room.
type Room struct {
	api    RoomFetcher
	conn   Conn
	roomID string
	userID string
	log    zerolog.Logger

	updates chan Update

	mu        sync.Mutex
	ctx       context.Context
	snap      *domain.Room
	selected  string
	status    realtime.Status
	connected bool // a session has been up at least once
	down      bool // the session dropped since it was last up
}

// New returns a coordinator for roomID as userID. Wire the Conn's status
// and message handlers to HandleStatus and HandleMessage.
func New(api RoomFetcher, conn Conn, roomID, userID string) *Room {
	return &Room{
		api:     api,
		conn:    conn,
		roomID:  roomID,
		userID:  userID,
		log:     log.With().Str("room_id", roomID).Str("user_id", userID).Logger(),
		updates: make(chan Update, 128),
		ctx:     context.Background(),
	}
}

// Updates returns the channel updates are published on.
func (r *Room) Updates() <-chan Update {
	return r.updates
}

// Snapshot returns the current room snapshot, nil before Load.
func (r *Room) Snapshot() *domain.Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

// SelectedVote returns the caller's locally selected card, "" for none.
func (r *Room) SelectedVote() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selected
}

// UserID returns the participant this coordinator acts as.
func (r *Room) UserID() string {
	return r.userID
}

// Status returns the last connection status seen.
func (r *Room) Status() realtime.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Load fetches the room, seeds the selected card from the caller's own vote
// when the server reports it, then connects. ctx also bounds later refetches.
func (r *Room) Load(ctx context.Context) error {
	room, err := r.api.GetRoom(ctx, r.roomID)
	if err != nil {
		return fmt.Errorf("roomsync.Load: %w", err)
	}

	r.mu.Lock()
	r.ctx = ctx
	r.snap = room
	if v, ok := room.Vote(r.userID); ok && domain.ValidVote(v) {
		r.selected = v
	}
	r.publishLocked("")
	r.mu.Unlock()

	r.conn.Connect()
	return nil
}

// HandleMessage applies one inbound room action. Protocol faults are logged
// and leave the snapshot untouched.
func (r *Room) HandleMessage(msg domain.Message) {
	r.mu.Lock()
	if r.snap == nil {
		r.mu.Unlock()
		r.log.Warn().Str("action", string(msg.Action)).Msg("message before room loaded, dropping")
		return
	}
	next, eff, err := dispatch.ApplyMessage(r.snap, msg)
	if err != nil {
		r.mu.Unlock()
		r.log.Warn().Err(err).Str("action", string(msg.Action)).Msg("ignoring message")
		return
	}
	r.snap = next
	if eff.ClearSelection {
		r.selected = ""
	}
	r.publishLocked(eff.Notice)
	r.mu.Unlock()
}

// HandleStatus records a connection status. A session coming back up after
// a drop triggers a full refetch, since deltas sent during the gap are lost.
func (r *Room) HandleStatus(s realtime.Status) {
	r.mu.Lock()
	r.status = s
	refetch := false
	switch s.State {
	case realtime.StateConnected:
		refetch = r.connected && r.down
		r.connected = true
		r.down = false
	case realtime.StateDisconnected, realtime.StateReconnecting, realtime.StateError, realtime.StateMaxRetries:
		if r.connected {
			r.down = true
		}
	}
	ctx := r.ctx
	r.publishLocked("")
	r.mu.Unlock()

	if refetch {
		go r.refetch(ctx)
	}
}

func (r *Room) refetch(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, refetchTimeout)
	defer cancel()

	room, err := r.api.GetRoom(ctx, r.roomID)
	if err != nil {
		r.log.Warn().Err(err).Msg("refetch after reconnect failed")
		return
	}
	r.log.Info().Int("participants", len(room.Participants)).Msg("room refetched after reconnect")

	r.mu.Lock()
	r.snap = room
	if v, ok := room.Vote(r.userID); ok && domain.ValidVote(v) {
		r.selected = v
	} else if !room.HasVoted(r.userID) {
		r.selected = ""
	}
	r.publishLocked("")
	r.mu.Unlock()
}

// Vote selects value, or clears the vote when value is already selected.
func (r *Room) Vote(value string) error {
	if !domain.ValidVote(value) {
		return fmt.Errorf("%w: %q", ErrInvalidVote, value)
	}

	r.mu.Lock()
	if r.snap == nil {
		r.mu.Unlock()
		return ErrNotLoaded
	}
	next := value
	if r.selected == value {
		next = ""
	}
	r.selected = next
	r.publishLocked("")
	r.mu.Unlock()

	r.send(domain.ActionSubmit, domain.SubmitPayload{UserID: r.userID, Vote: next})
	return nil
}

// Reveal asks the server to show every vote.
func (r *Room) Reveal() error {
	if err := r.requireScrumMaster(); err != nil {
		return err
	}
	r.send(domain.ActionReveal, domain.UserPayload{UserID: r.userID})
	return nil
}

// Reset starts a new round and clears the local selection.
func (r *Room) Reset() error {
	if err := r.requireScrumMaster(); err != nil {
		return err
	}
	r.mu.Lock()
	r.selected = ""
	r.publishLocked("")
	r.mu.Unlock()

	r.send(domain.ActionReset, domain.UserPayload{UserID: r.userID})
	return nil
}

// Transfer hands the scrum master role to another participant.
func (r *Room) Transfer(newID string) error {
	if err := r.requireScrumMaster(); err != nil {
		return err
	}
	r.mu.Lock()
	_, ok := r.snap.Participant(newID)
	r.mu.Unlock()
	if !ok || newID == r.userID {
		return fmt.Errorf("%w: %q", ErrInvalidTransfer, newID)
	}
	r.send(domain.ActionTransfer, domain.TransferPayload{UserID: r.userID, NewScrumMasterID: newID})
	return nil
}

// Rename changes the caller's display name.
func (r *Room) Rename(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	r.send(domain.ActionRename, domain.RenamePayload{UserID: r.userID, Name: name})
	return nil
}

// Leave announces the departure and closes the session.
func (r *Room) Leave() {
	r.send(domain.ActionLeave, domain.UserPayload{UserID: r.userID})
	r.conn.Disconnect()
}

func (r *Room) requireScrumMaster() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap == nil {
		return ErrNotLoaded
	}
	if !r.snap.IsScrumMaster(r.userID) {
		return ErrNotScrumMaster
	}
	return nil
}

func (r *Room) send(action domain.ActionKind, payload any) {
	if !r.conn.SendMessage(action, payload) {
		r.log.Debug().Str("action", string(action)).Msg("not connected, message queued")
	}
}

// publishLocked queues the current state. Callers hold mu, so updates leave
// in the order the state changed. It never blocks: on a full channel the
// oldest queued update is discarded to make room.
func (r *Room) publishLocked(notice string) {
	u := Update{Room: r.snap, Selected: r.selected, Notice: notice, Status: r.status}
	select {
	case r.updates <- u:
		return
	default:
	}
	select {
	case <-r.updates:
		r.log.Warn().Msg("update channel full, dropping oldest update")
	default:
	}
	// mu makes this the only sender, so a slot is free now.
	r.updates <- u
}
