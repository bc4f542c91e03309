package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"

	"github.com/scrum-poker/scrumpoker/pkg/domain"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ade80")).
			Bold(true)
	cmdStyle  = lipgloss.NewStyle().Bold(true)
	descStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#34d474"))
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ef4444"))
)

func printHelp() {
	commands := []struct{ cmd, desc string }{
		{"scrumpoker", "Rejoin your last room"},
		{"scrumpoker create <room> <name>", "Create a room and run it as scrum master"},
		{"scrumpoker join <room id> <name>", "Join an existing room"},
		{"scrumpoker leave", "Leave the saved room"},
		{"scrumpoker status", "Show the saved room and server health"},
		{"scrumpoker version", "Show version"},
		{"scrumpoker help", "You are here"},
	}

	fmt.Printf("\n  %s\n\n  Commands:\n", titleStyle.Render("S C R U M   P O K E R"))
	for _, c := range commands {
		fmt.Printf("    %s  %s\n", cmdStyle.Render(fmt.Sprintf("%-34s", c.cmd)), descStyle.Render(c.desc))
	}
	fmt.Printf("\n  %s\n\n", descStyle.Render("Config: SCRUMPOKER_API_URL, SCRUMPOKER_WS_URL, SCRUMPOKER_WEB_URL, SCRUMPOKER_HOME, SCRUMPOKER_WS_USER_PARAM"))
}

func printWelcome() {
	hint := descStyle.Render("Start one: scrumpoker create \"Sprint 12\" Alice\nor join:   scrumpoker join <room id> Bob")
	fmt.Printf("\n%s\n\n%s\n\n%s\n\n", titleStyle.Render("SCRUM POKER"), "You are not in a room yet.", hint)
}

func printLeft(sess domain.Session) {
	fmt.Printf("Left room %s.\n", sess.RoomID)
}

func printStatus(cfg config, sess domain.Session, healthErr error) {
	writeStatus(os.Stdout, cfg, sess, healthErr)
}

func writeStatus(w io.Writer, cfg config, sess domain.Session, healthErr error) {
	health := okStyle.Render("ok")
	if healthErr != nil {
		health = errStyle.Render("unreachable: " + healthErr.Error())
	}
	fmt.Fprintf(w, "  %s %s (%s)\n", cmdStyle.Render(fmt.Sprintf("%-8s", "server")), cfg.APIURL, health)

	if !sess.Complete() {
		fmt.Fprintf(w, "  %s %s\n", cmdStyle.Render(fmt.Sprintf("%-8s", "room")), descStyle.Render("none"))
		return
	}
	fmt.Fprintf(w, "  %s %s\n", cmdStyle.Render(fmt.Sprintf("%-8s", "room")), sess.RoomID)
	fmt.Fprintf(w, "  %s %s (%s)\n", cmdStyle.Render(fmt.Sprintf("%-8s", "name")), sess.UserName, sess.UserID)
	fmt.Fprintf(w, "  %s %s\n", cmdStyle.Render(fmt.Sprintf("%-8s", "link")), cfg.roomLink(sess.RoomID))
}
