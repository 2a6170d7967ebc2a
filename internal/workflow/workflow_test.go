package workflow

import (
	"testing"

	"github.com/interbank/interbank_gateway/internal/logging"
)

func TestTerminalStates(t *testing.T) {
	for _, s := range []State{StateSettled, StateReverted, StateUnconfirmed} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []State{StateDraft, StateAwaitingOtp, StateAuthorizing, StateSubmitting, StateAwaitingReceipt, StateProcessing} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

func TestObserversReceiveEventsInOrder(t *testing.T) {
	obs := NewObservers(logging.Discard())
	var got []State
	obs.Subscribe(func(ev Event) { got = append(got, ev.To) })

	obs.Publish(Event{Workflow: "transfer", From: StateDraft, To: StateAwaitingOtp})
	obs.Publish(Event{Workflow: "transfer", From: StateAwaitingOtp, To: StateAuthorizing})

	if len(got) != 2 || got[0] != StateAwaitingOtp || got[1] != StateAuthorizing {
		t.Fatalf("unexpected events %v", got)
	}
}
