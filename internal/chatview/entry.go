// Package chatview is the client side of a chat turn: optimistic entries,
// reconciliation against server-confirmed messages, the session sidebar
// and modal state. Nothing here does I/O; callers act on returned Effects.
package chatview

import (
	"cmp"
	"slices"
	"time"

	"github.com/suPer8Hu/companion-chat/internal/protocol"
)

// Entry is either Optimistic or Confirmed.
type Entry interface {
	EntryID() string
	isEntry()
}

// Optimistic is a client-synthesized message awaiting confirmation.
type Optimistic struct {
	TempID  string
	Role    string
	Content string
	Order   int64
}

// Confirmed is a message the server has persisted.
type Confirmed struct {
	Message protocol.Message
}

func (o *Optimistic) EntryID() string { return o.TempID }
func (c Confirmed) EntryID() string   { return c.Message.ID }

func (*Optimistic) isEntry() {}
func (Confirmed) isEntry()   {}

// Role and Content read through either variant.
func Role(e Entry) string {
	switch v := e.(type) {
	case *Optimistic:
		return v.Role
	case Confirmed:
		return v.Message.Role
	}
	return ""
}

func Content(e Entry) string {
	switch v := e.(type) {
	case *Optimistic:
		return v.Content
	case Confirmed:
		return v.Message.Content
	}
	return ""
}

// Merge renders confirmed messages overlaid with optimistic ones. An
// optimistic entry replaces a confirmed one with the same id. Entries
// with an order sort after those without; ordered entries by order,
// the rest by timestamp, ties by id. The result depends only on the
// inputs, so merging the same state twice yields the same slice.
func Merge(confirmed []protocol.Message, optimistic []*Optimistic) []Entry {
	byID := make(map[string]Entry, len(confirmed)+len(optimistic))
	for _, m := range confirmed {
		byID[m.ID] = Confirmed{Message: m}
	}
	for _, o := range optimistic {
		byID[o.TempID] = o
	}

	out := make([]Entry, 0, len(byID))
	for _, e := range byID {
		out = append(out, e)
	}
	slices.SortFunc(out, compareEntries)
	return out
}

func compareEntries(a, b Entry) int {
	ao, aHas := orderOf(a)
	bo, bHas := orderOf(b)
	switch {
	case aHas && !bHas:
		return 1
	case !aHas && bHas:
		return -1
	case aHas && bHas:
		if c := cmp.Compare(ao, bo); c != 0 {
			return c
		}
	default:
		if c := timestampOf(a).Compare(timestampOf(b)); c != 0 {
			return c
		}
	}
	return cmp.Compare(a.EntryID(), b.EntryID())
}

func orderOf(e Entry) (int64, bool) {
	if o, ok := e.(*Optimistic); ok {
		return o.Order, true
	}
	return 0, false
}

func timestampOf(e Entry) time.Time {
	if c, ok := e.(Confirmed); ok {
		return c.Message.Timestamp
	}
	return time.Time{}
}
