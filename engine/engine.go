// Package engine runs the cross-currency auction: the auction registry and its state
// machine, bid acceptance, the pull-based refund ledger, settlement, and the upgrade
// controller that swaps behavior code while keeping one durable storage layout.
//
// Every public operation of Proxy runs as a single transaction. Storage and the
// in-memory custody collaborators record undo actions in a shared journal, and any
// failure rewinds all of them. Within a transaction state is always mutated before value
// leaves the engine, refunds are credited to the ledger and never pushed, and the only
// pushed payment is the settlement payout to the seller.
package engine

import (
	"context"
	"crypto/ecdsa"
	"log/slog"
	"math/big"
	"time"

	"github.com/cloudx-io/crossbid/core"
	"github.com/cloudx-io/crossbid/custody"
	"github.com/cloudx-io/crossbid/events"
	"github.com/cloudx-io/crossbid/journal"
	"github.com/cloudx-io/crossbid/oracle"
	"github.com/cloudx-io/crossbid/storage"
)

// Config holds engine settings.
type Config struct {
	// MaxDuration is the longest auction a seller may create.
	MaxDuration time.Duration
	// MaxPriceAge rejects feed readings older than this. Zero disables the check.
	MaxPriceAge time.Duration
	// EngineAccount is the custody account holding escrowed assets and bids.
	EngineAccount string
	// Log receives transaction logs. Defaults to slog.Default().
	Log *slog.Logger
	// Backend, when set, receives the encoded layout before every commit.
	Backend storage.Backend
	// Events receives committed events.
	Events events.Emitter
	// ManifestKey verifies signed upgrade manifests. Nil disables UpgradeWithManifest.
	ManifestKey *ecdsa.PublicKey
	Clock       core.Clock
}

// DefaultConfig returns the settings used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		MaxDuration:   30 * 24 * time.Hour,
		MaxPriceAge:   time.Hour,
		EngineAccount: "engine",
		Log:           slog.Default(),
		Clock:         core.SystemClock,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxDuration == 0 {
		c.MaxDuration = d.MaxDuration
	}
	if c.EngineAccount == "" {
		c.EngineAccount = d.EngineAccount
	}
	if c.Log == nil {
		c.Log = d.Log
	}
	if c.Clock == nil {
		c.Clock = d.Clock
	}
	return c
}

// Deps are the collaborators the engine operates on. Journal must be the journal the
// in-memory custody collaborators were created with so their transfers revert together
// with engine storage.
type Deps struct {
	Journal *journal.Journal
	Custody *custody.Directory
	Feeds   oracle.Resolver
}

// Msg identifies the caller of an operation and the native value attached to it.
type Msg struct {
	Sender string
	Value  *big.Int
}

func (m Msg) hasValue() bool {
	return m.Value != nil && m.Value.Sign() != 0
}

// Tx is the context a behavior operates in for a single call.
type Tx struct {
	ctx        context.Context
	Msg        Msg
	Now        time.Time
	State      *storage.State
	Custody    *custody.Directory
	Normalizer *core.Normalizer
	cfg        *Config
	frame      *frame
}

// Context carries the live call frame. Collaborator transfers must be called with it so
// hooks re-entering the engine join this transaction.
func (tx *Tx) Context() context.Context { return tx.ctx }

// Engine is the custody account of the engine.
func (tx *Tx) Engine() string { return tx.cfg.EngineAccount }

// MaxDuration is the configured auction length limit.
func (tx *Tx) MaxDuration() time.Duration { return tx.cfg.MaxDuration }

// Emit buffers an event. It is dropped if the call reverts.
func (tx *Tx) Emit(ev events.Event) {
	tx.frame.events = append(tx.frame.events, ev)
}

func (tx *Tx) event(typ events.Type) events.Event {
	return events.New(typ, tx.Now)
}
