// Package view renders the chat surfaces: the floating button, the customer
// chat panel, the admin conversation view and the admin inbox. Every surface
// is a pure function of Store state.
package view

import (
	"strconv"
	"time"
)

const maxBadge = 9

// BadgeLabel is the text on the floating button. Zero hides the badge.
func BadgeLabel(n int) string {
	switch {
	case n <= 0:
		return ""
	case n > maxBadge:
		return strconv.Itoa(maxBadge) + "+"
	default:
		return strconv.Itoa(n)
	}
}

// FormatTime shows a bare clock time for messages from today and the date
// otherwise. Both times are compared in now's location.
func FormatTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.In(now.Location())
	if sameDay(t, now) {
		return t.Format("15:04")
	}
	if t.Year() == now.Year() {
		return t.Format("Jan 2 15:04")
	}
	return t.Format("Jan 2 2006")
}

// DayLabel names the group a message falls in.
func DayLabel(t, now time.Time) string {
	t = t.In(now.Location())
	switch {
	case sameDay(t, now):
		return "Today"
	case sameDay(t, now.AddDate(0, 0, -1)):
		return "Yesterday"
	case t.Year() == now.Year():
		return t.Format("Mon, Jan 2")
	default:
		return t.Format("Jan 2, 2006")
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}
