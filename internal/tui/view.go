package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/scrum-poker/scrumpoker/pkg/domain"
)

const nameWidth = 20

func (a App) View() string {
	if a.room == nil {
		return "\n" + center(dimStyle.Render("loading room…"), a.width) + "\n"
	}

	var b strings.Builder
	b.WriteString(a.headerView())
	b.WriteString("\n\n")
	b.WriteString(a.participantsView())
	b.WriteString("\n")
	b.WriteString(a.cardsView())
	b.WriteString("\n")
	if a.room.VotesRevealed {
		b.WriteString(resultsView(a.room.Votes))
		b.WriteString("\n")
	}
	for _, n := range a.notices {
		b.WriteString("  " + noticeStyle.Render(n) + "\n")
	}

	body := b.String()
	if a.helpOpen {
		body = helpView(a.isScrumMaster())
	}

	footer := a.footerView()
	// Chrome: footer (flash/input + help) = 2 lines
	body = strings.TrimRight(truncateToHeight(body, a.height-2), "\n")
	return body + "\n" + footer
}

func (a App) headerView() string {
	title := " " + titleStyle.Render(a.room.Name) + metaStyle.Render("  · room "+a.room.ID)
	status := statusStyle(a.status).Render(a.status.String())
	gap := a.width - lipgloss.Width(title) - lipgloss.Width(status) - 1
	if gap < 2 {
		gap = 2
	}
	return title + strings.Repeat(" ", gap) + status
}

func (a App) participantsView() string {
	ps := a.room.SortedParticipants()
	var b strings.Builder
	header := fmt.Sprintf("PARTICIPANTS  %d/%d online", a.room.OnlineCount(), len(ps))
	fmt.Fprintf(&b, "  %s\n", sectionHeaderStyle.Render(header))

	for i, p := range ps {
		prefix := "    "
		if i == a.partCursor {
			prefix = "  " + accentStyle.Render(">") + " "
		}

		dot := offlineDotStyle.Render("○")
		if p.IsOnline {
			dot = onlineDotStyle.Render("●")
		}

		name := fmt.Sprintf("%-*s", nameWidth, truncStr(p.Name, nameWidth))
		if p.ID == a.userID {
			name = selectedStyle.Render(name)
		} else {
			name = normalStyle.Render(name)
		}

		role := "    "
		if a.room.IsScrumMaster(p.ID) {
			role = scrumMasterStyle.Render("★ SM")
		}

		fmt.Fprintf(&b, "%s%s %s %s  %s\n", prefix, dot, name, role, a.voteCell(p.ID))
	}
	return b.String()
}

// voteCell shows a vote once revealed, otherwise only whether one was cast.
func (a App) voteCell(id string) string {
	v, ok := a.room.Vote(id)
	if !ok {
		return dimStyle.Render("…")
	}
	if a.room.VotesRevealed {
		return voteStyle(v).Render(v)
	}
	return accentStyle.Render("✓ voted")
}

func (a App) cardsView() string {
	cards := domain.VoteOptions()
	rendered := make([]string, 0, len(cards))
	for i, c := range cards {
		rendered = append(rendered, cardStyle(c, c.Value == a.selected, i == a.cardCursor).Render(c.Value))
	}
	row := lipgloss.JoinHorizontal(lipgloss.Top, rendered...)

	label := "  " + sectionHeaderStyle.Render("YOUR VOTE")
	if a.selected != "" {
		label += "  " + voteStyle(a.selected).Render(a.selected)
	}

	var b strings.Builder
	b.WriteString(label + "\n")
	for _, line := range strings.Split(row, "\n") {
		b.WriteString("  " + line + "\n")
	}
	return b.String()
}

// resultsView renders the revealed round: a bar per card plus the average.
func resultsView(votes map[string]string) string {
	s := domain.Summarize(votes)
	var b strings.Builder
	fmt.Fprintf(&b, "  %s\n", sectionHeaderStyle.Render(fmt.Sprintf("RESULTS  %d votes", s.Total)))
	if s.Total == 0 {
		b.WriteString("  " + dimStyle.Render("nobody voted") + "\n")
		return b.String()
	}
	for _, c := range s.Counts {
		bar := lipgloss.NewStyle().Foreground(lipgloss.Color(c.Option.Color)).Render(strings.Repeat("█", c.Count*2))
		fmt.Fprintf(&b, "  %3s %s %d\n", c.Option.Value, bar, c.Count)
	}
	if s.HasAverage {
		fmt.Fprintf(&b, "  %s %s  %s %s\n",
			dimStyle.Render("average"), selectedStyle.Render(fmt.Sprintf("%.1f", s.Average)),
			dimStyle.Render("nearest card"), voteStyle(s.Nearest).Render(s.Nearest))
	}
	return b.String()
}

func (a App) footerView() string {
	var top string
	switch {
	case a.renaming:
		top = renderNameInput(a.renameInput, a.frame)
	case a.flash != "" && a.flashErr:
		top = " " + errorStyle.Render(a.flash)
	case a.flash != "":
		top = " " + accentStyle.Render(a.flash)
	case a.latest != "":
		top = " " + dimStyle.Render(fmt.Sprintf("%s available (running %s)", a.latest, a.version))
	}

	var help string
	switch {
	case a.helpOpen:
		help = " " + helpEntry("esc", "close")
	case a.renaming:
		help = " " + helpEntry("enter", "save") + "  " + helpEntry("esc", "cancel")
	default:
		entries := []string{
			helpEntry("←/→", "card"),
			helpEntry("enter", "vote"),
		}
		if a.isScrumMaster() {
			entries = append(entries, helpEntry("r", "reveal"), helpEntry("x", "reset"), helpEntry("t", "make SM"))
		}
		entries = append(entries, helpEntry("c", "copy link"), helpEntry("?", "help"), helpEntry("q", "quit"))
		help = " " + strings.Join(entries, "  ")
	}
	return top + "\n" + help
}
