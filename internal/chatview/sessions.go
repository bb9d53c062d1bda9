package chatview

import "time"

type SessionItem struct {
	SessionID      string
	Title          string
	LastActivityAt time.Time
	Skeleton       bool
}

// SessionList is the sidebar. Skeletons stand in for sessions whose
// title the server has not produced yet.
type SessionList struct {
	skeletons []string
	items     []SessionItem
}

func NewSessionList() *SessionList { return &SessionList{} }

// AddSkeleton reports whether a new skeleton was added.
func (l *SessionList) AddSkeleton(sessionID string) bool {
	for _, id := range l.skeletons {
		if id == sessionID {
			return false
		}
	}
	l.skeletons = append(l.skeletons, sessionID)
	return true
}

func (l *SessionList) RemoveSkeleton(sessionID string) {
	for i, id := range l.skeletons {
		if id == sessionID {
			l.skeletons = append(l.skeletons[:i], l.skeletons[i+1:]...)
			return
		}
	}
}

// Replace installs the server's list. A skeleton is dropped once the
// server lists its session with a title, since title_updated is not
// guaranteed to arrive.
func (l *SessionList) Replace(items []SessionItem) {
	l.items = append(l.items[:0:0], items...)
	titled := make(map[string]bool, len(items))
	for _, it := range items {
		if it.Title != "" {
			titled[it.SessionID] = true
		}
	}
	kept := l.skeletons[:0]
	for _, id := range l.skeletons {
		if !titled[id] {
			kept = append(kept, id)
		}
	}
	l.skeletons = kept
}

// Items lists skeletons newest first, then server sessions in server
// order. A skeleton hides an untitled server row with the same id.
func (l *SessionList) Items() []SessionItem {
	out := make([]SessionItem, 0, len(l.skeletons)+len(l.items))
	shadow := make(map[string]bool, len(l.skeletons))
	for i := len(l.skeletons) - 1; i >= 0; i-- {
		id := l.skeletons[i]
		shadow[id] = true
		out = append(out, SessionItem{SessionID: id, Title: "New chat", Skeleton: true})
	}
	for _, it := range l.items {
		if !shadow[it.SessionID] {
			out = append(out, it)
		}
	}
	return out
}
