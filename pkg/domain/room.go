package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Participant is one person in a room.
type Participant struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsOnline bool   `json:"isOnline"`
}

// UnmarshalJSON accepts both the realtime shape (isOnline) and the REST
// shapes (is_online, is_active).
func (p *Participant) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		IsOnline *bool  `json:"isOnline"`
		OnlineSn *bool  `json:"is_online"`
		IsActive *bool  `json:"is_active"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.ID = raw.ID
	p.Name = raw.Name
	p.IsOnline = firstBool(raw.IsOnline, raw.OnlineSn, raw.IsActive)
	return nil
}

// Room is one consistent snapshot of a room's state. A published Room is
// never modified; every change produces a new value (see Clone).
type Room struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	ScrumMasterID string                 `json:"scrumMaster"`
	Participants  map[string]Participant `json:"participants"`
	Votes         map[string]string      `json:"votes"`
	VotesRevealed bool                   `json:"votesRevealed"`
}

// NewRoom returns an empty room with initialized maps.
func NewRoom(id, name, scrumMasterID string) *Room {
	return &Room{
		ID:            id,
		Name:          name,
		ScrumMasterID: scrumMasterID,
		Participants:  make(map[string]Participant),
		Votes:         make(map[string]string),
	}
}

// UnmarshalJSON tolerates both API generations: camelCase
// (scrumMaster, votesRevealed) and snake_case (scrum_master, votes_revealed).
func (r *Room) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID              string                 `json:"id"`
		Name            string                 `json:"name"`
		ScrumMaster     *string                `json:"scrumMaster"`
		ScrumMasterSn   *string                `json:"scrum_master"`
		Participants    map[string]Participant `json:"participants"`
		Votes           map[string]string      `json:"votes"`
		VotesRevealed   *bool                  `json:"votesRevealed"`
		VotesRevealedSn *bool                  `json:"votes_revealed"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.ID = raw.ID
	r.Name = raw.Name
	r.ScrumMasterID = firstString(raw.ScrumMaster, raw.ScrumMasterSn)
	r.VotesRevealed = firstBool(raw.VotesRevealed, raw.VotesRevealedSn)
	r.Participants = raw.Participants
	if r.Participants == nil {
		r.Participants = make(map[string]Participant)
	}
	// Participants keyed by id; fill a missing inner id from the key.
	for id, p := range r.Participants {
		if p.ID == "" {
			p.ID = id
			r.Participants[id] = p
		}
	}
	r.Votes = raw.Votes
	if r.Votes == nil {
		r.Votes = make(map[string]string)
	}
	return nil
}

// Clone returns a deep copy of the room.
func (r *Room) Clone() *Room {
	c := *r
	c.Participants = make(map[string]Participant, len(r.Participants))
	for id, p := range r.Participants {
		c.Participants[id] = p
	}
	c.Votes = make(map[string]string, len(r.Votes))
	for id, v := range r.Votes {
		c.Votes[id] = v
	}
	return &c
}

// IsScrumMaster reports whether userID holds moderator rights.
func (r *Room) IsScrumMaster(userID string) bool {
	return userID != "" && r.ScrumMasterID == userID
}

// HasVoted reports whether userID has a non-empty vote.
func (r *Room) HasVoted(userID string) bool {
	return r.Votes[userID] != ""
}

// Vote returns userID's vote. The boolean is false when there is none.
func (r *Room) Vote(userID string) (string, bool) {
	v, ok := r.Votes[userID]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Participant looks up a participant by id.
func (r *Room) Participant(id string) (Participant, bool) {
	p, ok := r.Participants[id]
	return p, ok
}

// SortedParticipants returns participants in display order: by name, then id.
func (r *Room) SortedParticipants() []Participant {
	out := make([]Participant, 0, len(r.Participants))
	for _, p := range r.Participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// OnlineCount returns the number of participants currently online.
func (r *Room) OnlineCount() int {
	n := 0
	for _, p := range r.Participants {
		if p.IsOnline {
			n++
		}
	}
	return n
}

// ErrInvalidRoom is returned by Validate.
var ErrInvalidRoom = errors.New("invalid room")

// Validate checks the snapshot invariants: the scrum master is a participant
// and every vote is a deck card, empty, or the server's hidden marker.
func (r *Room) Validate() error {
	if r.ScrumMasterID != "" {
		if _, ok := r.Participants[r.ScrumMasterID]; !ok {
			return fmt.Errorf("%w: scrum master %q is not a participant", ErrInvalidRoom, r.ScrumMasterID)
		}
	}
	for id, v := range r.Votes {
		if v == "" || v == HiddenVote || ValidVote(v) {
			continue
		}
		return fmt.Errorf("%w: vote %q of %q is not a card", ErrInvalidRoom, v, id)
	}
	return nil
}

func firstString(vals ...*string) string {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return ""
}

func firstBool(vals ...*bool) bool {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return false
}
