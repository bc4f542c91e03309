// Package dispatch applies realtime room events to room snapshots.
//
// Apply is pure: it never mutates the snapshot it is given and returns a
// new *domain.Room for every successful transition, so callers can detect
// changes by pointer comparison.
package dispatch

import (
	"errors"
	"fmt"

	"github.com/scrum-poker/scrumpoker/pkg/domain"
)

// ErrUnknownParticipant is returned when an event names a participant the
// snapshot does not contain.
var ErrUnknownParticipant = errors.New("unknown participant")

// Effect carries the side channel of a transition.
type Effect struct {
	// Notice is a human readable line for the view ("Bob joined the room").
	Notice string
	// ClearSelection asks the caller to drop its locally selected vote.
	ClearSelection bool
}

// ApplyMessage decodes msg and applies it to room. On any protocol fault the
// original room is returned unchanged together with the error.
func ApplyMessage(room *domain.Room, msg domain.Message) (*domain.Room, Effect, error) {
	ev, err := domain.DecodeEvent(msg)
	if err != nil {
		return room, Effect{}, err
	}
	return Apply(room, ev)
}

// Apply returns the snapshot that results from ev.
func Apply(room *domain.Room, ev domain.Event) (*domain.Room, Effect, error) {
	switch ev := ev.(type) {
	case domain.JoinEvent:
		next := room.Clone()
		next.Participants[ev.ID] = domain.Participant{ID: ev.ID, Name: ev.Name, IsOnline: ev.IsOnline}
		return next, Effect{Notice: ev.Name + " joined the room"}, nil

	case domain.OfflineEvent:
		return updateParticipant(room, ev.UserID, func(p *domain.Participant) { p.IsOnline = false })

	case domain.OnlineEvent:
		return updateParticipant(room, ev.UserID, func(p *domain.Participant) { p.IsOnline = true })

	case domain.LeaveEvent:
		name := "Someone"
		if p, ok := room.Participants[ev.UserID]; ok && p.Name != "" {
			name = p.Name
		}
		next := room.Clone()
		delete(next.Participants, ev.UserID)
		delete(next.Votes, ev.UserID)
		return next, Effect{Notice: name + " left the room"}, nil

	case domain.RenameEvent:
		return updateParticipant(room, ev.UserID, func(p *domain.Participant) { p.Name = ev.Name })

	case domain.SubmitEvent:
		next := room.Clone()
		if ev.Vote == "" {
			delete(next.Votes, ev.UserID)
		} else {
			next.Votes[ev.UserID] = ev.Vote
		}
		return next, Effect{}, nil

	case domain.RevealEvent:
		next := room.Clone()
		next.Votes = make(map[string]string, len(ev.Votes))
		for id, v := range ev.Votes {
			next.Votes[id] = v
		}
		next.VotesRevealed = true
		return next, Effect{}, nil

	case domain.ResetEvent:
		next := room.Clone()
		next.Votes = make(map[string]string)
		next.VotesRevealed = false
		return next, Effect{ClearSelection: true}, nil

	case domain.TransferEvent:
		next := room.Clone()
		next.ScrumMasterID = ev.NewScrumMasterID
		return next, Effect{}, nil

	default:
		return room, Effect{}, fmt.Errorf("%w: %T", domain.ErrUnknownAction, ev)
	}
}

func updateParticipant(room *domain.Room, id string, fn func(p *domain.Participant)) (*domain.Room, Effect, error) {
	p, ok := room.Participants[id]
	if !ok {
		return room, Effect{}, fmt.Errorf("%w: %q", ErrUnknownParticipant, id)
	}
	next := room.Clone()
	fn(&p)
	next.Participants[id] = p
	return next, Effect{}, nil
}
