package view

import (
	"fmt"
	"strings"
	"time"

	"ShopChat/entity"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	seenStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("33")).Italic(true)
	dayStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Bold(true)
	buttonStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 2).
			Bold(true)
	badgeStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("196")).
			Foreground(lipgloss.Color("231")).
			Bold(true).
			Padding(0, 1)
	ownBubble = lipgloss.NewStyle().
			Background(lipgloss.Color("25")).
			Foreground(lipgloss.Color("231")).
			Padding(0, 1).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("25"))
	counterpartyBubble = lipgloss.NewStyle().
				Background(lipgloss.Color("236")).
				Foreground(lipgloss.Color("252")).
				Padding(0, 1).
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240"))
	inputStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238"))
	selectedRow = lipgloss.NewStyle().Background(lipgloss.Color("237")).Bold(true)
	avatarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("63")).
			Foreground(lipgloss.Color("231")).
			Bold(true).
			Width(4).
			Align(lipgloss.Center)
)

// FloatingButton renders the closed-state chat launcher with its badge.
func FloatingButton(unread int) string {
	label := buttonStyle.Render("Chat")
	if badge := BadgeLabel(unread); badge != "" {
		label = lipgloss.JoinHorizontal(lipgloss.Top, label, badgeStyle.Render(badge))
	}
	return label
}

// Transcript is what the message surfaces need from the Store.
type Transcript struct {
	Messages   []entity.Message
	LastSeenID entity.ID
	Now        time.Time
}

// renderMessages lays out bubbles grouped by day. Own messages sit on the
// right, the counter-party's on the left, and the newest own message the
// counter-party has read carries "Seen".
func renderMessages(t Transcript, width int) string {
	if len(t.Messages) == 0 {
		return mutedStyle.Render("No messages yet")
	}
	if t.Now.IsZero() {
		t.Now = time.Now()
	}
	bubbleWidth := width * 2 / 3
	if bubbleWidth < 12 {
		bubbleWidth = width
	}

	var lines []string
	day := ""
	for _, m := range t.Messages {
		if label := DayLabel(m.CreatedAt, t.Now); label != day {
			day = label
			lines = append(lines, lipgloss.PlaceHorizontal(width, lipgloss.Center, dayStyle.Render(day)))
		}

		style, align := ownBubble, lipgloss.Right
		if m.SenderIsCounterparty {
			style, align = counterpartyBubble, lipgloss.Left
		}
		body := m.Content + "\n" + mutedStyle.Render(FormatTime(m.CreatedAt, t.Now))
		bubble := style.MaxWidth(bubbleWidth).Render(wrap(body, bubbleWidth-4))
		lines = append(lines, lipgloss.PlaceHorizontal(width, align, bubble))

		if !m.SenderIsCounterparty && !t.LastSeenID.IsZero() && m.ID == t.LastSeenID {
			lines = append(lines, lipgloss.PlaceHorizontal(width, lipgloss.Right, seenStyle.Render("Seen")))
		}
	}
	return strings.Join(lines, "\n")
}

// ChatPanel is the customer's open chat.
type ChatPanel struct {
	Width      int
	Title      string
	Connection string
	Input      string
	Transcript Transcript
}

func (p ChatPanel) Render() string {
	width := p.Width
	if width <= 0 {
		width = 60
	}
	title := p.Title
	if title == "" {
		title = "Support chat"
	}
	header := titleStyle.Render(title)
	if p.Connection != "" {
		header += " " + mutedStyle.Render("("+p.Connection+")")
	}
	input := inputStyle.Width(width - 2).Render("> " + p.Input)
	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		renderMessages(p.Transcript, width),
		input,
	)
}

// ConversationView is the agent's view of one conversation, with the
// customer details above the transcript.
type ConversationView struct {
	Width        int
	Conversation entity.Conversation
	Input        string
	Transcript   Transcript
}

func (v ConversationView) Render() string {
	width := v.Width
	if width <= 0 {
		width = 60
	}
	c := v.Conversation
	details := []string{c.Status}
	if c.CustomerEmail != "" && c.CustomerName != "" {
		details = append(details, c.CustomerEmail)
	}
	if c.AssignedTo != nil {
		details = append(details, "assigned to "+c.AssignedTo.String())
	}
	header := lipgloss.JoinHorizontal(lipgloss.Center,
		avatarStyle.Render(c.Initials()),
		" ",
		titleStyle.Render(c.DisplayName()),
		" ",
		mutedStyle.Render(strings.Join(nonEmpty(details), " · ")),
	)
	input := inputStyle.Width(width - 2).Render("> " + v.Input)
	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		renderMessages(v.Transcript, width),
		input,
	)
}

// InboxView is the agent's list of conversations.
type InboxView struct {
	Width    int
	Query    string
	Rows     []entity.Conversation
	Selected entity.ID
	Now      time.Time
}

func (v InboxView) Render() string {
	width := v.Width
	if width <= 0 {
		width = 60
	}
	now := v.Now
	if now.IsZero() {
		now = time.Now()
	}

	lines := []string{
		titleStyle.Render("Inbox"),
		inputStyle.Width(width - 2).Render("Search: " + v.Query),
	}
	if len(v.Rows) == 0 {
		lines = append(lines, mutedStyle.Render("No conversations"))
		return strings.Join(lines, "\n")
	}
	for _, c := range v.Rows {
		lines = append(lines, v.row(c, width, now))
	}
	return strings.Join(lines, "\n")
}

func (v InboxView) row(c entity.Conversation, width int, now time.Time) string {
	preview := ""
	if c.LastMessage != nil {
		preview = c.LastMessage.Content
	}
	right := FormatTime(c.LastMessageAt, now)
	if c.UnreadCount > 0 {
		right += " " + badgeStyle.Render(fmt.Sprint(c.UnreadCount))
	}
	// avatar, two spaces, right column
	room := width - 6 - lipgloss.Width(right)
	text := truncate(c.DisplayName()+"  "+preview, room)

	line := avatarStyle.Render(c.Initials()) + " " + text
	if gap := width - lipgloss.Width(line) - lipgloss.Width(right); gap > 0 {
		line += strings.Repeat(" ", gap)
	}
	line += right
	if c.ID == v.Selected {
		return selectedRow.Render(line)
	}
	return line
}

func nonEmpty(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func wrap(s string, width int) string {
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	return lipgloss.NewStyle().Width(width).Render(s)
}
