package chatview

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/suPer8Hu/companion-chat/internal/protocol"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func msg(id, role, content string, at time.Time) protocol.Message {
	return protocol.Message{ID: id, SessionID: "s1", Role: role, Content: content, Timestamp: at}
}

func ids(es []Entry) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.EntryID()
	}
	return out
}

func doneEvent() protocol.Event {
	return protocol.Done(
		msg("u-1", "user", "hello", t0.Add(time.Minute)),
		msg("a-1", "assistant", "Hi there", t0.Add(time.Minute+time.Millisecond)),
		9,
	)
}

func TestSubmitStreamDone(t *testing.T) {
	list := NewSessionList()
	v := NewView("s1", list)
	if err := v.Submit("hello", true); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if v.State() != Sending {
		t.Fatalf("expected sending, got %s", v.State())
	}
	if items := list.Items(); len(items) != 1 || !items[0].Skeleton {
		t.Fatalf("expected skeleton, got %+v", items)
	}

	es := v.Entries()
	if !reflect.DeepEqual(ids(es), []string{"temp-user-1", "temp-assistant-1"}) {
		t.Fatalf("unexpected optimistic entries %v", ids(es))
	}
	asst := es[1].(*Optimistic)

	v.Apply(protocol.Token("Hi"))
	v.Apply(protocol.Token(" there"))
	if v.State() != StreamingTokens {
		t.Fatalf("expected streaming, got %s", v.State())
	}
	if es2 := v.Entries(); es2[1] != Entry(asst) || asst.Content != "Hi there" {
		t.Fatalf("placeholder must be updated in place, got %q", asst.Content)
	}

	effs := v.Apply(protocol.TitleUpdated("Greeting"))
	if len(effs) != 1 || effs[0] != (InvalidateSessions{}) {
		t.Fatalf("unexpected title effects %+v", effs)
	}
	if len(list.Items()) != 0 {
		t.Fatalf("skeleton should be gone after title_updated")
	}

	effs = v.Apply(doneEvent())
	if v.State() != Reconciled {
		t.Fatalf("expected reconciled, got %s", v.State())
	}
	if len(effs) != 2 {
		t.Fatalf("expected session and message invalidation, got %+v", effs)
	}
	es = v.Entries()
	if !reflect.DeepEqual(ids(es), []string{"u-1", "a-1"}) {
		t.Fatalf("unexpected reconciled entries %v", ids(es))
	}
	for _, e := range es {
		if _, ok := e.(Confirmed); !ok {
			t.Fatalf("expected confirmed entry, got %T", e)
		}
	}
}

func TestDoneTwiceIsNoop(t *testing.T) {
	v := NewView("s1", nil)
	_ = v.Submit("hello", false)
	v.Apply(protocol.Token("Hi there"))
	v.Apply(doneEvent())
	before := v.Entries()

	if effs := v.Apply(doneEvent()); effs != nil {
		t.Fatalf("second done should produce no effects, got %+v", effs)
	}
	if after := v.Entries(); !reflect.DeepEqual(before, after) {
		t.Fatalf("second done changed state:\n%v\n%v", ids(before), ids(after))
	}
}

func TestDoneMatchesByTempIDNotContent(t *testing.T) {
	v := NewView("s1", nil)
	v.Load([]protocol.Message{msg("old-u", "user", "hello", t0), msg("old-a", "assistant", "earlier", t0.Add(time.Second))})
	_ = v.Submit("hello", false)
	v.Apply(protocol.Token("Hi there"))
	v.Apply(doneEvent())

	got := ids(v.Entries())
	if !reflect.DeepEqual(got, []string{"old-u", "old-a", "u-1", "a-1"}) {
		t.Fatalf("same-content history must not be replaced, got %v", got)
	}
}

func TestErrorDiscardsOptimisticState(t *testing.T) {
	list := NewSessionList()
	list.Replace([]SessionItem{{SessionID: "other", Title: "Older chat"}})
	v := NewView("s1", list)
	_ = v.Submit("hello", true)
	v.Apply(protocol.Token("one"))
	v.Apply(protocol.Token("two"))

	effs := v.Apply(protocol.Error("Assistant is unavailable"))
	if v.State() != Failed {
		t.Fatalf("expected failed, got %s", v.State())
	}
	if len(effs) != 1 || effs[0] != (ShowError{Message: "Assistant is unavailable"}) {
		t.Fatalf("unexpected effects %+v", effs)
	}
	if len(v.Entries()) != 0 {
		t.Fatalf("optimistic entries should be gone, got %v", ids(v.Entries()))
	}
	if items := list.Items(); len(items) != 1 || items[0].SessionID != "other" {
		t.Fatalf("skeleton should be removed, got %+v", items)
	}

	// retry is allowed and numbering keeps increasing
	if err := v.Submit("hello again", false); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := ids(v.Entries()); got[0] != "temp-user-2" {
		t.Fatalf("unexpected retry ids %v", got)
	}
}

func TestTransportFailure(t *testing.T) {
	v := NewView("s1", nil)
	_ = v.Submit("hello", false)
	effs := v.Fail(errors.New("connection reset"))
	if v.State() != Failed || v.LastError() != "connection reset" || len(effs) != 1 {
		t.Fatalf("unexpected failure handling: %s %q %+v", v.State(), v.LastError(), effs)
	}
}

func TestSubmitWhileBusy(t *testing.T) {
	v := NewView("s1", nil)
	_ = v.Submit("a", false)
	if err := v.Submit("b", false); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestCrisisAlertOpensModal(t *testing.T) {
	v := NewView("s1", nil)
	_ = v.Submit("help", false)
	v.Apply(protocol.RiskAssessment("high"))
	v.Apply(protocol.Resources([]protocol.Resource{{Title: "Find a helpline"}}, "high"))
	effs := v.Apply(protocol.CrisisAlert("You are not alone"))

	var m Modals
	m = m.Reduce(effs)
	if !m.IsOpen(ModalCrisis) {
		t.Fatalf("crisis modal should be open")
	}
	if v.RiskLevel() != "high" || len(v.Resources()) != 1 {
		t.Fatalf("risk state not recorded: %q %v", v.RiskLevel(), v.Resources())
	}
}
