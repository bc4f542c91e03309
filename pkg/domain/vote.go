package domain

import (
	"math"
	"strconv"
)

// VoteOption is one card of the estimation deck.
type VoteOption struct {
	Value string
	Color string
}

// HiddenVote is what the server reports in place of a vote before reveal.
const HiddenVote = "voted"

// The deck, in display order.
var voteOptions = []VoteOption{
	{Value: "1", Color: "#3498db"},
	{Value: "2", Color: "#2980b9"},
	{Value: "3", Color: "#16a085"},
	{Value: "5", Color: "#27ae60"},
	{Value: "8", Color: "#f39c12"},
	{Value: "13", Color: "#e67e22"},
	{Value: "21", Color: "#e74c3c"},
	{Value: "34", Color: "#9b59b6"},
	{Value: "?", Color: "#95a5a6"},
}

var voteOptionSet = func() map[string]VoteOption {
	m := make(map[string]VoteOption, len(voteOptions))
	for _, o := range voteOptions {
		m[o.Value] = o
	}
	return m
}()

// VoteOptions returns the deck in display order.
func VoteOptions() []VoteOption {
	out := make([]VoteOption, len(voteOptions))
	copy(out, voteOptions)
	return out
}

// LookupVoteOption returns the catalog entry for value. The boolean is false
// when the value is not part of the deck.
func LookupVoteOption(value string) (VoteOption, bool) {
	o, ok := voteOptionSet[value]
	return o, ok
}

// ValidVote returns true if value is a card of the deck.
func ValidVote(value string) bool {
	_, ok := voteOptionSet[value]
	return ok
}

// VoteValues returns every card value in display order.
func VoteValues() []string {
	out := make([]string, 0, len(voteOptions))
	for _, o := range voteOptions {
		out = append(out, o.Value)
	}
	return out
}

// NumericVoteValues returns the card values that carry a number ("?" excluded).
func NumericVoteValues() []string {
	out := make([]string, 0, len(voteOptions))
	for _, o := range voteOptions {
		if _, err := strconv.Atoi(o.Value); err == nil {
			out = append(out, o.Value)
		}
	}
	return out
}

// VoteCount is the number of participants that picked one card.
type VoteCount struct {
	Option VoteOption
	Count  int
}

// VoteSummary is the outcome of a revealed round.
type VoteSummary struct {
	Counts     []VoteCount // deck order, only cards with at least one vote
	Total      int         // non-empty votes
	Average    float64
	Nearest    string // numeric card closest to Average
	HasAverage bool   // false when no numeric vote was cast
}

// Summarize tallies votes against the deck. Values outside the deck count
// toward Total but get no VoteCount entry.
func Summarize(votes map[string]string) VoteSummary {
	var s VoteSummary
	tally := make(map[string]int, len(voteOptions))
	var sum float64
	var numeric int
	for _, v := range votes {
		if v == "" {
			continue
		}
		s.Total++
		tally[v]++
		if n, err := strconv.Atoi(v); err == nil {
			sum += float64(n)
			numeric++
		}
	}

	for _, o := range voteOptions {
		if c := tally[o.Value]; c > 0 {
			s.Counts = append(s.Counts, VoteCount{Option: o, Count: c})
		}
	}

	if numeric == 0 {
		return s
	}
	s.Average = sum / float64(numeric)
	s.HasAverage = true
	s.Nearest = nearestCard(s.Average)
	return s
}

// nearestCard returns the numeric card closest to avg; ties go to the lower card.
func nearestCard(avg float64) string {
	best := ""
	bestDist := math.Inf(1)
	for _, v := range NumericVoteValues() {
		n, _ := strconv.Atoi(v) //nolint:errcheck // numeric by construction
		if d := math.Abs(float64(n) - avg); d < bestDist {
			best, bestDist = v, d
		}
	}
	return best
}
