package chatview

import (
	"errors"
	"fmt"

	"github.com/suPer8Hu/companion-chat/internal/protocol"
)

type State int

const (
	Idle State = iota
	Sending
	StreamingTokens
	Reconciled
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sending:
		return "sending"
	case StreamingTokens:
		return "streaming"
	case Reconciled:
		return "reconciled"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var ErrBusy = errors.New("chatview: a turn is already in flight")

// Effect is an instruction for the caller: refetch, show a modal or
// surface an error.
type Effect interface{ isEffect() }

type InvalidateSessions struct{}

type InvalidateMessages struct{ SessionID string }

type OpenModal struct {
	Modal   ModalID
	Message string
}

type ShowError struct{ Message string }

func (InvalidateSessions) isEffect() {}
func (InvalidateMessages) isEffect() {}
func (OpenModal) isEffect()          {}
func (ShowError) isEffect()          {}

type pendingTurn struct {
	user      *Optimistic
	assistant *Optimistic
	skeleton  bool
}

// View holds one session's messages as the user sees them.
type View struct {
	SessionID string

	state     State
	confirmed []protocol.Message
	pending   *pendingTurn
	nextOrder int64
	turns     int
	resources []protocol.Resource
	riskLevel string
	lastErr   string

	sessions *SessionList
}

// NewView binds a view to sessionID. sessions may be nil when there is
// no sidebar.
func NewView(sessionID string, sessions *SessionList) *View {
	return &View{SessionID: sessionID, sessions: sessions}
}

func (v *View) State() State { return v.state }

func (v *View) LastError() string { return v.lastErr }

func (v *View) Resources() []protocol.Resource { return v.resources }

func (v *View) RiskLevel() string { return v.riskLevel }

// Entries is the merged render list.
func (v *View) Entries() []Entry {
	var opt []*Optimistic
	if v.pending != nil {
		opt = []*Optimistic{v.pending.user, v.pending.assistant}
	}
	return Merge(v.confirmed, opt)
}

// Load replaces the server-confirmed messages, typically after an
// InvalidateMessages refetch. The in-flight turn is kept.
func (v *View) Load(msgs []protocol.Message) {
	v.confirmed = append(v.confirmed[:0:0], msgs...)
}

// Submit starts a turn. isFirst also places a skeleton session in the
// sidebar.
func (v *View) Submit(text string, isFirst bool) error {
	if v.state == Sending || v.state == StreamingTokens {
		return ErrBusy
	}
	v.turns++
	v.nextOrder++
	user := &Optimistic{TempID: fmt.Sprintf("temp-user-%d", v.turns), Role: "user", Content: text, Order: v.nextOrder}
	v.nextOrder++
	asst := &Optimistic{TempID: fmt.Sprintf("temp-assistant-%d", v.turns), Role: "assistant", Order: v.nextOrder}

	v.pending = &pendingTurn{user: user, assistant: asst}
	if isFirst && v.sessions != nil {
		v.pending.skeleton = v.sessions.AddSkeleton(v.SessionID)
	}
	v.state = Sending
	v.lastErr = ""
	v.resources = nil
	v.riskLevel = ""
	return nil
}

// Apply folds one stream event into the view.
func (v *View) Apply(ev protocol.Event) []Effect {
	switch ev.Type {
	case protocol.EventToken:
		if v.pending == nil {
			return nil
		}
		v.state = StreamingTokens
		v.pending.assistant.Content += ev.Content
		return nil

	case protocol.EventRiskAssessment:
		v.riskLevel = ev.RiskLevel
		return nil

	case protocol.EventResources:
		v.resources = ev.Resources
		return nil

	case protocol.EventCrisisAlert:
		return []Effect{OpenModal{Modal: ModalCrisis, Message: ev.Message}}

	case protocol.EventTitleUpdated:
		if v.sessions != nil {
			v.sessions.RemoveSkeleton(v.SessionID)
		}
		if v.pending != nil {
			v.pending.skeleton = false
		}
		return []Effect{InvalidateSessions{}}

	case protocol.EventDone:
		return v.reconcile(ev)

	case protocol.EventError:
		return v.Fail(errors.New(ev.Error))
	}
	return nil
}

func (v *View) reconcile(ev protocol.Event) []Effect {
	if ev.UserMessage == nil || ev.AssistantMessage == nil {
		return v.Fail(errors.New("incomplete done event"))
	}
	if v.pending == nil {
		// already reconciled; upsert keeps ids unique
		v.upsert(*ev.UserMessage)
		v.upsert(*ev.AssistantMessage)
		return nil
	}
	v.upsert(*ev.UserMessage)
	v.upsert(*ev.AssistantMessage)
	v.pending = nil
	v.state = Reconciled
	return []Effect{InvalidateSessions{}, InvalidateMessages{SessionID: v.SessionID}}
}

func (v *View) upsert(m protocol.Message) {
	for i := range v.confirmed {
		if v.confirmed[i].ID == m.ID {
			v.confirmed[i] = m
			return
		}
	}
	v.confirmed = append(v.confirmed, m)
}

// Fail drops the in-flight turn. Used for error events and transport
// failures alike.
func (v *View) Fail(err error) []Effect {
	if v.pending != nil && v.pending.skeleton && v.sessions != nil {
		v.sessions.RemoveSkeleton(v.SessionID)
	}
	v.pending = nil
	v.state = Failed
	v.lastErr = "Something went wrong. Please try again."
	if err != nil && err.Error() != "" {
		v.lastErr = err.Error()
	}
	return []Effect{ShowError{Message: v.lastErr}}
}
