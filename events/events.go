// Package events carries the engine's audit trail. The engine buffers events for the
// duration of a call and hands them to an Emitter only after the call has committed, so
// a reverted call never produces an event.
package events

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudx-io/crossbid/currency"
)

// Type names an observable engine event.
type Type string

const (
	AuctionCreated      Type = "auction_created"
	BidAccepted         Type = "bid_accepted"
	AuctionEnded        Type = "auction_ended"
	WithdrawalCompleted Type = "withdrawal_completed"
	CurrencyFeedSet     Type = "currency_feed_set"
	Upgraded            Type = "upgraded"
)

// Event is one audit record. Amount is raw currency units; Value is canonical units.
// Fields that do not apply to a Type are left zero.
type Event struct {
	ID        uuid.UUID          `json:"id"`
	Type      Type               `json:"type"`
	AuctionID uint64             `json:"auction_id,omitempty"`
	Account   string             `json:"account,omitempty"`
	Currency  *currency.Currency `json:"currency,omitempty"`
	Amount    *big.Int           `json:"amount,omitempty"`
	Value     *big.Int           `json:"value,omitempty"`
	Detail    string             `json:"detail,omitempty"`
	At        time.Time          `json:"at"`
}

// New creates an event of type typ stamped with a fresh id.
func New(typ Type, at time.Time) Event {
	return Event{ID: uuid.New(), Type: typ, At: at}
}

// WithCurrency sets the event currency.
func (e Event) WithCurrency(c currency.Currency) Event {
	e.Currency = &c
	return e
}

// Subject is the routing key used by broker publishers.
func (e Event) Subject(prefix string) string {
	if prefix == "" {
		return "auction." + string(e.Type)
	}
	return prefix + "." + string(e.Type)
}

// Emitter receives committed events.
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

// Recorder keeps every emitted event in memory.
type Recorder struct {
	mu     sync.RWMutex
	events []Event
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Emit(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the history, oldest first.
func (r *Recorder) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Event(nil), r.events...)
}

// OfType filters the history by type.
func (r *Recorder) OfType(typ Type) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// ForAuction filters the history by auction id.
func (r *Recorder) ForAuction(id uint64) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Event
	for _, ev := range r.events {
		if ev.AuctionID == id {
			out = append(out, ev)
		}
	}
	return out
}

// Multi fans an event out to every emitter, attempting all of them.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, ev Event) error {
	var errs []error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
