package tui

import (
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/scrum-poker/scrumpoker/internal/browser"
	"github.com/scrum-poker/scrumpoker/internal/roomsync"
	"github.com/scrum-poker/scrumpoker/pkg/domain"
	"github.com/scrum-poker/scrumpoker/pkg/realtime"
)

// maxNotices is how many join/leave notices stay on screen.
const maxNotices = 4

// Session is the room the TUI drives. *roomsync.Room satisfies it.
type Session interface {
	Snapshot() *domain.Room
	SelectedVote() string
	Status() realtime.Status
	UserID() string
	Updates() <-chan roomsync.Update
	Vote(value string) error
	Reveal() error
	Reset() error
	Transfer(newID string) error
	Rename(name string) error
	Leave()
}

// roomUpdateMsg wraps a roomsync update for the bubbletea loop.
type roomUpdateMsg roomsync.Update

// copyResultMsg carries the result of a clipboard write.
type copyResultMsg struct {
	err error
}

// openResultMsg carries the result of opening the room link.
type openResultMsg struct {
	err error
}

// blinkTickMsg drives the cursor blink while renaming.
type blinkTickMsg time.Time

func blinkTickCmd() tea.Cmd {
	return tea.Tick(120*time.Millisecond, func(t time.Time) tea.Msg {
		return blinkTickMsg(t)
	})
}

// App is the root Bubbletea model: one room, seen by one participant.
type App struct {
	session Session
	link    string
	version string
	userID  string

	room     *domain.Room
	selected string
	status   realtime.Status
	notices  []string
	flash    string
	flashErr bool

	cardCursor int
	partCursor int

	renaming    bool
	renameInput string
	helpOpen    bool
	left        bool
	latest      string // newer release, if any

	width  int
	height int
	frame  int
}

// NewApp creates the room view. link is the shareable room URL.
func NewApp(s Session, link, version string) App {
	return App{
		session:  s,
		link:     link,
		version:  version,
		userID:   s.UserID(),
		room:     s.Snapshot(),
		selected: s.SelectedVote(),
		status:   s.Status(),
	}
}

// Left reports whether the user left the room (as opposed to quitting).
func (a App) Left() bool {
	return a.left
}

func (a App) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(a.session.Updates()), checkVersion(a.version))
}

func waitForUpdate(ch <-chan roomsync.Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-ch
		if !ok {
			return nil
		}
		return roomUpdateMsg(u)
	}
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case roomUpdateMsg:
		if msg.Room != nil {
			a.room = msg.Room
		}
		a.selected = msg.Selected
		a.status = msg.Status
		if msg.Notice != "" {
			a.notices = append(a.notices, msg.Notice)
			if len(a.notices) > maxNotices {
				a.notices = a.notices[len(a.notices)-maxNotices:]
			}
		}
		a.clampCursors()
		return a, waitForUpdate(a.session.Updates())

	case copyResultMsg:
		if msg.err != nil {
			a.setFlash("copy failed: "+msg.err.Error(), true)
		} else {
			a.setFlash("room link copied", false)
		}
		return a, nil

	case openResultMsg:
		if msg.err != nil {
			a.setFlash("open failed: "+msg.err.Error(), true)
		}
		return a, nil

	case versionCheckMsg:
		if msg.hasUpdate {
			a.latest = msg.latestVersion
		}
		return a, nil

	case blinkTickMsg:
		if !a.renaming {
			return a, nil
		}
		a.frame++
		return a, blinkTickCmd()

	case tea.KeyMsg:
		return a.handleKey(msg)
	}
	return a, nil
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if a.helpOpen {
		switch key {
		case "?", "esc":
			a.helpOpen = false
		case "q", "ctrl+c":
			return a, tea.Quit
		}
		return a, nil
	}

	if a.renaming {
		switch key {
		case "enter":
			a.renaming = false
			if err := a.session.Rename(a.renameInput); err != nil {
				a.setFlash(err.Error(), true)
			}
			a.renameInput = ""
		case "esc":
			a.renaming = false
			a.renameInput = ""
		case "ctrl+c":
			return a, tea.Quit
		default:
			a.renameInput = editRune(a.renameInput, key)
		}
		return a, nil
	}

	a.flash = ""
	cards := domain.VoteOptions()

	switch key {
	case "q", "ctrl+c":
		return a, tea.Quit
	case "?":
		a.helpOpen = true
	case "left", "h":
		if a.cardCursor > 0 {
			a.cardCursor--
		}
	case "right", "l":
		if a.cardCursor < len(cards)-1 {
			a.cardCursor++
		}
	case "enter", " ":
		if err := a.session.Vote(cards[a.cardCursor].Value); err != nil {
			a.setFlash(err.Error(), true)
		}
	case "j", "down":
		if a.room != nil && a.partCursor < len(a.room.Participants)-1 {
			a.partCursor++
		}
	case "k", "up":
		if a.partCursor > 0 {
			a.partCursor--
		}
	case "r":
		if err := a.session.Reveal(); err != nil {
			a.setFlash(err.Error(), true)
		}
	case "x":
		if err := a.session.Reset(); err != nil {
			a.setFlash(err.Error(), true)
		}
	case "t":
		if p, ok := a.cursorParticipant(); ok {
			if err := a.session.Transfer(p.ID); err != nil {
				a.setFlash(err.Error(), true)
			}
		}
	case "n":
		a.renaming = true
		a.renameInput = ""
		return a, blinkTickCmd()
	case "c":
		link := a.link
		return a, func() tea.Msg {
			return copyResultMsg{err: clipboard.WriteAll(link)}
		}
	case "o":
		link := a.link
		return a, func() tea.Msg {
			return openResultMsg{err: browser.Open(link)}
		}
	case "L":
		a.session.Leave()
		a.left = true
		return a, tea.Quit
	}
	return a, nil
}

func (a *App) setFlash(text string, isErr bool) {
	a.flash = text
	a.flashErr = isErr
}

func (a *App) clampCursors() {
	if a.room == nil {
		a.partCursor = 0
		return
	}
	if n := len(a.room.Participants); a.partCursor >= n {
		a.partCursor = max(n-1, 0)
	}
}

func (a App) cursorParticipant() (domain.Participant, bool) {
	if a.room == nil {
		return domain.Participant{}, false
	}
	ps := a.room.SortedParticipants()
	if a.partCursor >= len(ps) {
		return domain.Participant{}, false
	}
	return ps[a.partCursor], true
}

func (a App) isScrumMaster() bool {
	return a.room != nil && a.room.IsScrumMaster(a.userID)
}
