package workflow

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State is a step of a transfer or withdrawal state machine.
type State string

const (
	StateDraft           State = "draft"
	StateAwaitingOtp     State = "awaiting_otp"
	StateAuthorizing     State = "authorizing"
	StateSubmitting      State = "submitting"
	StateAwaitingReceipt State = "awaiting_receipt"
	StateProcessing      State = "processing"
	StateSettled         State = "settled"
	StateReverted        State = "reverted"
	StateUnconfirmed     State = "unconfirmed"
)

// Terminal reports whether the instance has finished.
func (s State) Terminal() bool {
	switch s {
	case StateSettled, StateReverted, StateUnconfirmed:
		return true
	}
	return false
}

var (
	// ErrInvalidInput rejects a request before any state transition.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound means the instance or record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState means the instance is not in a state accepting the call.
	ErrInvalidState = errors.New("invalid workflow state")
	// ErrOTPMismatch means the code did not verify; the instance keeps waiting.
	ErrOTPMismatch = errors.New("one-time code rejected")
)

// Outcome is the tagged result of running an instance to a terminal state.
// Money-movement failures are reported here, not as Go errors.
type Outcome struct {
	InstanceID    string  `json:"instance_id,omitempty"`
	State         State   `json:"state"`
	ReferenceCode string  `json:"reference_code,omitempty"`
	TxHash        string  `json:"tx_hash,omitempty"`
	BlockNumber   *uint64 `json:"block_number,omitempty"`
	Balance       *int64  `json:"balance,omitempty"`
	Reason        string  `json:"reason,omitempty"`
	Cause         error   `json:"-"`
}

// Event is published on every state transition.
type Event struct {
	Workflow      string
	InstanceID    string
	ReferenceCode string
	From          State
	To            State
	At            time.Time
}

// Observer receives transition events. Observers run synchronously and must not block.
type Observer func(Event)

// Observers fans events out to registered observers and logs each transition.
type Observers struct {
	logger *slog.Logger

	mu   sync.RWMutex
	list []Observer
}

// NewObservers constructs an empty observer set.
func NewObservers(logger *slog.Logger) *Observers {
	return &Observers{logger: logger}
}

// Subscribe registers o for every future event.
func (o *Observers) Subscribe(obs Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.list = append(o.list, obs)
}

// Publish logs ev and hands it to every observer.
func (o *Observers) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	o.logger.Info("workflow transition",
		slog.String("workflow", ev.Workflow),
		slog.String("instance_id", ev.InstanceID),
		slog.String("reference_code", ev.ReferenceCode),
		slog.String("from_state", string(ev.From)),
		slog.String("to_state", string(ev.To)))

	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, obs := range o.list {
		obs(ev)
	}
}
