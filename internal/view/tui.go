package view

import (
	"context"
	"errors"
	"time"

	"ShopChat/entity"
	"ShopChat/internal/composer"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const actionTimeout = 15 * time.Second

// Source is the chat core as seen by the terminal program.
type Source interface {
	Role() entity.Role
	Conversations(query string) []entity.Conversation
	Messages(conv entity.ID) []entity.Message
	LastSeen(conv entity.ID) (entity.ID, bool)
	Active() entity.ID
	OpenPanel(ctx context.Context) (entity.ID, error)
	ClosePanel(ctx context.Context)
	OpenConversation(ctx context.Context, conv entity.ID) error
	Send(ctx context.Context, text string) (composer.Delivery, error)
	Refresh(ctx context.Context) error
	BadgeCount() int
	PanelOpen() bool
}

type screen int

const (
	screenClosed screen = iota
	screenInbox
	screenConversation
)

type (
	// changedMsg re-renders after a Store or badge change.
	changedMsg struct{}
	actionMsg  struct {
		status string
		err    error
		screen *screen
	}
)

// Model is the bubbletea program over the chat surfaces.
type Model struct {
	src     Source
	changes <-chan struct{}
	now     func() time.Time

	screen   screen
	width    int
	height   int
	input    string
	query    string
	selected int
	status   string
}

// NewModel builds the program. changes is signalled whenever the Store or
// the badge changes; it may be nil.
func NewModel(src Source, changes <-chan struct{}) Model {
	return Model{
		src:     src,
		changes: changes,
		now:     time.Now,
		width:   80,
	}
}

func (m Model) Init() tea.Cmd {
	return m.waitForChange()
}

func (m Model) waitForChange() tea.Cmd {
	if m.changes == nil {
		return nil
	}
	ch := m.changes
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return changedMsg{}
	}
}

func (m Model) run(status string, next screen, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{status: status, screen: &next}
	}
}

func (m Model) rows() []entity.Conversation {
	return m.src.Conversations(m.query)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case changedMsg:
		return m, m.waitForChange()

	case actionMsg:
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			return m, nil
		}
		m.status = msg.status
		if msg.screen != nil {
			m.screen = *msg.screen
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		src := m.src
		return m, tea.Sequence(func() tea.Msg {
			if src.PanelOpen() {
				src.ClosePanel(context.Background())
			}
			return nil
		}, tea.Quit)
	case "ctrl+r":
		return m, m.run("Refreshed", m.screen, m.src.Refresh)
	}

	switch m.screen {
	case screenClosed:
		if msg.String() == "enter" {
			next := screenConversation
			if m.src.Role().IsAgent() {
				next = screenInbox
			}
			return m, m.run("", next, func(ctx context.Context) error {
				_, err := m.src.OpenPanel(ctx)
				return err
			})
		}

	case screenInbox:
		switch msg.Type {
		case tea.KeyEsc:
			return m.closePanel()
		case tea.KeyUp:
			if m.selected > 0 {
				m.selected--
			}
		case tea.KeyDown:
			if m.selected < len(m.rows())-1 {
				m.selected++
			}
		case tea.KeyEnter:
			rows := m.rows()
			if m.selected < len(rows) {
				conv := rows[m.selected].ID
				return m, m.run("", screenConversation, func(ctx context.Context) error {
					return m.src.OpenConversation(ctx, conv)
				})
			}
		case tea.KeyBackspace:
			m.query = dropLast(m.query)
			m.selected = 0
		case tea.KeyRunes, tea.KeySpace:
			m.query += string(msg.Runes)
			m.selected = 0
		}

	case screenConversation:
		switch msg.Type {
		case tea.KeyEsc:
			if m.src.Role().IsAgent() {
				m.screen = screenInbox
				return m, nil
			}
			return m.closePanel()
		case tea.KeyEnter:
			text := m.input
			// the input clears once delivery is dispatched
			m.input = ""
			return m, m.run("", screenConversation, func(ctx context.Context) error {
				delivery, err := m.src.Send(ctx, text)
				if err == nil && delivery == composer.DeliveryNone {
					return errNothingToSend
				}
				return err
			})
		case tea.KeyBackspace:
			m.input = dropLast(m.input)
		case tea.KeyRunes, tea.KeySpace:
			m.input += string(msg.Runes)
		}
	}
	return m, nil
}

var errNothingToSend = errors.New("nothing to send")

func (m Model) closePanel() (tea.Model, tea.Cmd) {
	return m, m.run("", screenClosed, func(ctx context.Context) error {
		m.src.ClosePanel(ctx)
		return nil
	})
}

func (m Model) View() string {
	now := m.now()
	var body string
	switch m.screen {
	case screenClosed:
		body = lipgloss.PlaceHorizontal(m.width, lipgloss.Right, FloatingButton(m.src.BadgeCount()))
	case screenInbox:
		rows := m.rows()
		selected := entity.ID("")
		if m.selected < len(rows) {
			selected = rows[m.selected].ID
		}
		body = InboxView{Width: m.width, Query: m.query, Rows: rows, Selected: selected, Now: now}.Render()
	case screenConversation:
		body = m.conversationView(now)
	}
	if m.status != "" {
		body += "\n" + mutedStyle.Render(m.status)
	}
	return body
}

func (m Model) conversationView(now time.Time) string {
	conv := m.src.Active()
	seen, _ := m.src.LastSeen(conv)
	transcript := Transcript{Messages: m.src.Messages(conv), LastSeenID: seen, Now: now}

	if m.src.Role().IsAgent() {
		row := entity.Conversation{ID: conv}
		for _, c := range m.src.Conversations("") {
			if c.ID == conv {
				row = c
				break
			}
		}
		return ConversationView{Width: m.width, Conversation: row, Input: m.input, Transcript: transcript}.Render()
	}
	return ChatPanel{Width: m.width, Input: m.input, Transcript: transcript}.Render()
}

func dropLast(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	return string(r[:len(r)-1])
}

// Run starts the terminal program and blocks until it exits.
func Run(src Source, changes <-chan struct{}) error {
	_, err := tea.NewProgram(NewModel(src, changes), tea.WithAltScreen()).Run()
	return err
}
