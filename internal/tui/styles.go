package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/scrum-poker/scrumpoker/pkg/domain"
	"github.com/scrum-poker/scrumpoker/pkg/realtime"
)

var (
	// Base styles, neutral palette
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8890a0"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#e4e4ec")).
			Bold(true)

	normalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#c0c4d0"))

	metaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#505868"))

	// Help bar
	helpKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8890a0"))

	helpLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#505868"))

	accentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#34d474"))

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#e4e4ec")).
			Bold(true)

	sectionHeaderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#8890a0")).
				Bold(true)

	scrumMasterStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#d4a844")).
				Bold(true)

	onlineDotStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ade80"))

	offlineDotStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#505868"))

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#22d3ee")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ef4444"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#f59e0b"))

	inputPromptStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#4ade80")).
				Bold(true)

	inputPlaceholderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#505868")).
				Italic(true)

	cardBaseStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1).
			Align(lipgloss.Center).
			Width(4)
)

// cardStyle returns the style for a vote card. Selected cards are filled
// with the card's colour; the cursor card gets a bright border.
func cardStyle(opt domain.VoteOption, selected, cursor bool) lipgloss.Style {
	c := lipgloss.Color(opt.Color)
	s := cardBaseStyle.BorderForeground(c).Foreground(c)
	if selected {
		s = s.Background(c).Foreground(lipgloss.Color("#ffffff")).Bold(true)
	}
	if cursor {
		s = s.BorderForeground(lipgloss.Color("#e4e4ec"))
	}
	return s
}

// voteStyle colours a revealed vote value; unknown values fall back to dim.
func voteStyle(value string) lipgloss.Style {
	opt, ok := domain.LookupVoteOption(value)
	if !ok {
		return dimStyle
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(opt.Color)).Bold(true)
}

// statusStyle picks a colour for the connection status line.
func statusStyle(s realtime.Status) lipgloss.Style {
	switch s.State {
	case realtime.StateConnected:
		return accentStyle
	case realtime.StateConnecting, realtime.StateReconnecting:
		return warnStyle
	case realtime.StateError, realtime.StateMaxRetries, realtime.StateMissingIdentity:
		return errorStyle
	default:
		return dimStyle
	}
}

// helpEntry renders a single "key label" pair for help bars.
func helpEntry(key, label string) string {
	return helpKeyStyle.Render(key) + " " + helpLabelStyle.Render(label)
}

// helpView renders the key reference overlay.
func helpView(isScrumMaster bool) string {
	cmdStyle := lipgloss.NewStyle().Bold(true)
	descStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	keys := []struct{ key, desc string }{
		{"←/→", "pick a card"},
		{"enter", "vote, or take the vote back"},
		{"j/k", "move through participants"},
		{"n", "change your name"},
		{"c", "copy the room link"},
		{"o", "open the room in a browser"},
		{"L", "leave the room"},
		{"q", "quit (stay in the room)"},
	}
	if isScrumMaster {
		keys = append(keys,
			struct{ key, desc string }{"r", "reveal votes"},
			struct{ key, desc string }{"x", "start a new round"},
			struct{ key, desc string }{"t", "make the selected participant scrum master"},
		)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n  %s\n\n", titleStyle.Render("S C R U M   P O K E R"))
	fmt.Fprintf(&b, "  %s\n", sectionHeaderStyle.Render("Keys"))
	for _, k := range keys {
		fmt.Fprintf(&b, "    %s  %s\n", cmdStyle.Render(fmt.Sprintf("%-8s", k.key)), descStyle.Render(k.desc))
	}
	return b.String()
}
