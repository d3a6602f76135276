package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/cloudx-io/crossbid/core"
	"github.com/cloudx-io/crossbid/currency"
	"github.com/cloudx-io/crossbid/events"
	"github.com/cloudx-io/crossbid/journal"
	"github.com/cloudx-io/crossbid/manifest"
	"github.com/cloudx-io/crossbid/storage"
)

// Proxy is the upgrade controller and the engine's public surface. It owns the durable
// storage and delegates every operation to the current Behavior.
//
// Calls are serialized by a mutex. A collaborator hook that re-enters the engine during a
// call does so with the context it was handed; the proxy recognizes the live call frame
// in it and runs the nested call inside the outer transaction without locking again. A
// failing nested call reverts only its own changes.
type Proxy struct {
	mu         sync.Mutex
	cfg        Config
	journal    *journal.Journal
	state      *storage.State
	deps       Deps
	normalizer *core.Normalizer
	behavior   Behavior
}

type frameKey struct{}

// frame is shared by a top-level call and every call nested in it.
type frame struct {
	p      *Proxy
	events []events.Event
}

// New creates an engine with empty storage laid out for behavior.
func New(cfg Config, deps Deps, behavior Behavior) (*Proxy, error) {
	if behavior == nil {
		return nil, fmt.Errorf("engine: behavior is required")
	}
	layout := storage.NewLayout()
	layout.Schema = behavior.Schema()
	return newProxy(cfg, deps, behavior, layout)
}

// Open restores the engine from cfg.Backend. Without a stored snapshot it behaves like
// New with initial. With one, the behavior matching the stored schema is installed.
func Open(ctx context.Context, cfg Config, deps Deps, initial Behavior) (*Proxy, error) {
	if cfg.Backend == nil {
		return New(cfg, deps, initial)
	}
	data, err := cfg.Backend.Load(ctx)
	if errors.Is(err, storage.ErrNoSnapshot) {
		return New(cfg, deps, initial)
	}
	if err != nil {
		return nil, fmt.Errorf("engine: load snapshot: %w", err)
	}
	layout, err := storage.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	behavior, ok := behaviorFor(layout.Schema)
	if !ok {
		return nil, fmt.Errorf("engine: no behavior for stored schema %s: %w", layout.Schema, core.ErrIncompatibleImplementation)
	}
	return newProxy(cfg, deps, behavior, layout)
}

func behaviorFor(schema storage.Schema) (Behavior, bool) {
	for _, b := range Behaviors() {
		s := b.Schema()
		if s.Version == schema.Version && s.Extends(schema) && schema.Extends(s) {
			return b, true
		}
	}
	return nil, false
}

func newProxy(cfg Config, deps Deps, behavior Behavior, layout *storage.Layout) (*Proxy, error) {
	if deps.Custody == nil {
		return nil, fmt.Errorf("engine: custody directory is required")
	}
	if deps.Journal == nil {
		deps.Journal = journal.New()
	}
	cfg = cfg.withDefaults()
	return &Proxy{
		cfg:        cfg,
		journal:    deps.Journal,
		state:      storage.NewState(layout, deps.Journal),
		deps:       deps,
		normalizer: &core.Normalizer{Feeds: deps.Feeds, MaxAge: cfg.MaxPriceAge, Clock: cfg.Clock},
		behavior:   behavior,
	}, nil
}

// call runs fn as a transaction. payable calls accept attached native value, which is
// moved into engine custody before fn runs.
func (p *Proxy) call(ctx context.Context, op string, msg Msg, payable bool, fn func(tx *Tx) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if f, ok := ctx.Value(frameKey{}).(*frame); ok && f.p == p {
		return p.exec(ctx, f, op, msg, payable, fn)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	f := &frame{p: p}
	mark := p.journal.Snapshot()
	if err := p.exec(ctx, f, op, msg, payable, fn); err != nil {
		return err
	}
	if err := p.persist(ctx); err != nil {
		p.journal.RevertTo(mark)
		p.cfg.Log.Info("engine call reverted", "op", op, "sender", msg.Sender, "error", err)
		return err
	}
	p.journal.Commit()
	p.cfg.Log.Debug("engine call committed", "op", op, "sender", msg.Sender, "events", len(f.events))
	p.publish(ctx, f.events)
	return nil
}

func (p *Proxy) exec(ctx context.Context, f *frame, op string, msg Msg, payable bool, fn func(tx *Tx) error) (err error) {
	mark := p.journal.Snapshot()
	evMark := len(f.events)
	defer func() {
		if r := recover(); r != nil {
			p.journal.RevertTo(mark)
			f.events = f.events[:evMark]
			p.cfg.Log.Error("engine call aborted", "op", op, "sender", msg.Sender, "panic", r)
			panic(r)
		}
		if err != nil {
			p.journal.RevertTo(mark)
			f.events = f.events[:evMark]
			p.cfg.Log.Info("engine call reverted", "op", op, "sender", msg.Sender, "code", core.CodeOf(err), "error", err)
		}
	}()

	tx := &Tx{
		ctx:        context.WithValue(ctx, frameKey{}, f),
		Msg:        msg,
		Now:        p.cfg.Clock.Now(),
		State:      p.state,
		Custody:    p.deps.Custody,
		Normalizer: p.normalizer,
		cfg:        &p.cfg,
		frame:      f,
	}

	if msg.hasValue() {
		if !payable {
			return fmt.Errorf("%s does not accept value: %w", op, core.ErrValueNotAccepted)
		}
		if msg.Value.Sign() < 0 || msg.Value.BitLen() > core.MaxAmountBits {
			return fmt.Errorf("attached value out of range: %w", core.ErrAmountTooLarge)
		}
		native, err := tx.Custody.Fungible(currency.Native())
		if err != nil {
			return err
		}
		if err := native.TransferIn(tx.ctx, msg.Sender, tx.Engine(), msg.Value); err != nil {
			return fmt.Errorf("attach value: %w", err)
		}
	}

	return fn(tx)
}

func (p *Proxy) persist(ctx context.Context) error {
	if p.cfg.Backend == nil {
		return nil
	}
	data, err := storage.Encode(p.state.Layout())
	if err != nil {
		return err
	}
	if err := p.cfg.Backend.Save(ctx, data); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}
	return nil
}

func (p *Proxy) publish(ctx context.Context, evs []events.Event) {
	if p.cfg.Events == nil {
		return
	}
	for _, ev := range evs {
		if err := p.cfg.Events.Emit(ctx, ev); err != nil {
			p.cfg.Log.Error("event publish failed", "type", ev.Type, "id", ev.ID, "error", err)
		}
	}
}

func (p *Proxy) requireInitialized(tx *Tx) error {
	if !tx.State.Initialized() {
		return fmt.Errorf("engine has no owner: %w", core.ErrNotInitialized)
	}
	return nil
}

// Initialize installs msg.Sender as owner and, when nativeFeedRef is set, binds the
// native currency to that feed. It can run once.
func (p *Proxy) Initialize(ctx context.Context, msg Msg, nativeFeedRef string) error {
	return p.call(ctx, "initialize", msg, false, func(tx *Tx) error {
		if tx.State.Initialized() {
			return fmt.Errorf("owner is %s: %w", tx.State.Owner(), core.ErrAlreadyInitialized)
		}
		if msg.Sender == "" {
			return fmt.Errorf("empty owner: %w", core.ErrNotOwner)
		}
		tx.State.SetOwner(msg.Sender)
		if nativeFeedRef == "" {
			return nil
		}
		return p.behavior.SetCurrencyFeed(tx, currency.Native(), nativeFeedRef)
	})
}

func (p *Proxy) CreateAuction(ctx context.Context, msg Msg, assetRef string, assetID, minAcceptedValue *big.Int, duration time.Duration) (uint64, error) {
	var id uint64
	err := p.call(ctx, "create_auction", msg, false, func(tx *Tx) error {
		if err := p.requireInitialized(tx); err != nil {
			return err
		}
		var err error
		id, err = p.behavior.CreateAuction(tx, assetRef, assetID, minAcceptedValue, duration)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// BidNative bids msg.Value of the native currency.
func (p *Proxy) BidNative(ctx context.Context, msg Msg, auctionID uint64) error {
	return p.call(ctx, "bid_native", msg, true, func(tx *Tx) error {
		if err := p.requireInitialized(tx); err != nil {
			return err
		}
		return p.behavior.BidNative(tx, auctionID)
	})
}

// BidToken bids amount of a token the sender approved the engine to pull.
func (p *Proxy) BidToken(ctx context.Context, msg Msg, auctionID uint64, tokenRef string, amount *big.Int) error {
	return p.call(ctx, "bid_token", msg, false, func(tx *Tx) error {
		if err := p.requireInitialized(tx); err != nil {
			return err
		}
		return p.behavior.BidToken(tx, auctionID, tokenRef, amount)
	})
}

func (p *Proxy) EndAuction(ctx context.Context, msg Msg, auctionID uint64) error {
	return p.call(ctx, "end_auction", msg, false, func(tx *Tx) error {
		return p.behavior.EndAuction(tx, auctionID)
	})
}

// Withdraw pays out the caller's pending return in c and returns the amount.
func (p *Proxy) Withdraw(ctx context.Context, msg Msg, c currency.Currency) (*big.Int, error) {
	var amount *big.Int
	err := p.call(ctx, "withdraw", msg, false, func(tx *Tx) error {
		var err error
		amount, err = p.behavior.Withdraw(tx, c)
		return err
	})
	if err != nil {
		return nil, err
	}
	return amount, nil
}

func (p *Proxy) SetCurrencyFeed(ctx context.Context, msg Msg, c currency.Currency, feedRef string) error {
	return p.call(ctx, "set_currency_feed", msg, false, func(tx *Tx) error {
		if err := p.requireInitialized(tx); err != nil {
			return err
		}
		return p.behavior.SetCurrencyFeed(tx, c, feedRef)
	})
}

// External runs fn, a change made directly to the custody collaborators, as a
// transaction of its own. It is serialized with engine calls and reverted if fn fails.
func (p *Proxy) External(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return p.call(ctx, op, Msg{}, false, func(tx *Tx) error {
		return fn(tx.Context())
	})
}

// UpgradeTo replaces the behavior. Only the owner may upgrade, and only to a behavior
// whose schema extends the stored one.
func (p *Proxy) UpgradeTo(ctx context.Context, msg Msg, next Behavior) error {
	return p.call(ctx, "upgrade", msg, false, func(tx *Tx) error {
		return p.upgrade(tx, next)
	})
}

// UpgradeWithManifest is UpgradeTo gated on an owner-signed manifest naming next.
func (p *Proxy) UpgradeWithManifest(ctx context.Context, msg Msg, signed []byte, next Behavior) error {
	return p.call(ctx, "upgrade_with_manifest", msg, false, func(tx *Tx) error {
		if p.cfg.ManifestKey == nil {
			return fmt.Errorf("no manifest key configured: %w", core.ErrInvalidManifest)
		}
		if next == nil {
			return fmt.Errorf("no behavior: %w", core.ErrIncompatibleImplementation)
		}
		m, err := manifest.Verify(signed, p.cfg.ManifestKey)
		if err != nil {
			return fmt.Errorf("%v: %w", err, core.ErrInvalidManifest)
		}
		schema := next.Schema()
		if m.Version != next.Version() || m.SchemaVersion != schema.Version || m.FieldCount != len(schema.Fields) {
			return fmt.Errorf("manifest %s/v%d/%d does not describe %s: %w",
				m.Version, m.SchemaVersion, m.FieldCount, next.Version(), core.ErrInvalidManifest)
		}
		return p.upgrade(tx, next)
	})
}

func (p *Proxy) upgrade(tx *Tx, next Behavior) error {
	if !tx.State.Initialized() || tx.Msg.Sender != tx.State.Owner() {
		return fmt.Errorf("%s may not upgrade: %w", tx.Msg.Sender, core.ErrNotOwner)
	}
	if next == nil {
		return fmt.Errorf("no behavior: %w", core.ErrIncompatibleImplementation)
	}
	current := tx.State.Schema()
	schema := next.Schema()
	if !schema.Extends(current) {
		return fmt.Errorf("%s layout %s does not extend %s: %w", next.Version(), schema, current, core.ErrIncompatibleImplementation)
	}

	prev := p.behavior
	tx.State.SetSchema(schema)
	p.behavior = next
	p.journal.Record(func() { p.behavior = prev })

	ev := tx.event(events.Upgraded)
	ev.Account = tx.Msg.Sender
	ev.Detail = prev.Version() + "->" + next.Version()
	tx.Emit(ev)
	return nil
}

// view runs fn under the call lock, or directly when ctx carries a live frame.
func (p *Proxy) view(ctx context.Context, fn func()) {
	if ctx != nil {
		if f, ok := ctx.Value(frameKey{}).(*frame); ok && f.p == p {
			fn()
			return
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fn()
}

// Auction returns a copy of the auction record.
func (p *Proxy) Auction(ctx context.Context, id uint64) (*core.AuctionRecord, error) {
	var (
		rec *core.AuctionRecord
		ok  bool
	)
	p.view(ctx, func() { rec, ok = p.state.Auction(id) })
	if !ok {
		return nil, fmt.Errorf("auction %d: %w", id, core.ErrAuctionNotFound)
	}
	return rec, nil
}

// AuctionIDs lists every auction id.
func (p *Proxy) AuctionIDs(ctx context.Context) []uint64 {
	var ids []uint64
	p.view(ctx, func() { ids = p.state.AuctionIDs() })
	return ids
}

// PendingReturn is the amount bidder can withdraw in c.
func (p *Proxy) PendingReturn(ctx context.Context, bidder string, c currency.Currency) *big.Int {
	var amount *big.Int
	p.view(ctx, func() { amount = p.state.Pending(bidder, c) })
	return amount
}

func (p *Proxy) Owner(ctx context.Context) string {
	var owner string
	p.view(ctx, func() { owner = p.state.Owner() })
	return owner
}

// Implementation is the version of the installed behavior.
func (p *Proxy) Implementation(ctx context.Context) string {
	var v string
	p.view(ctx, func() { v = p.behavior.Version() })
	return v
}

func (p *Proxy) Schema(ctx context.Context) storage.Schema {
	var s storage.Schema
	p.view(ctx, func() { s = p.state.Schema() })
	return s
}

// BidCount is the number of accepted bids on an auction. It needs a layout with bid
// counters.
func (p *Proxy) BidCount(ctx context.Context, id uint64) (uint64, error) {
	var (
		n   uint64
		err error
	)
	p.view(ctx, func() {
		if !p.state.Schema().Has("bid_counts") {
			err = fmt.Errorf("layout %s has no bid counters: %w", p.state.Schema(), core.ErrUnsupportedCall)
			return
		}
		if _, ok := p.state.Auction(id); !ok {
			err = fmt.Errorf("auction %d: %w", id, core.ErrAuctionNotFound)
			return
		}
		n = p.state.BidCount(id)
	})
	return n, err
}

// Greeting answers the behavior's greeting, if it has one.
func (p *Proxy) Greeting(ctx context.Context) (string, error) {
	var (
		g  Greeter
		ok bool
	)
	p.view(ctx, func() { g, ok = p.behavior.(Greeter) })
	if !ok {
		return "", fmt.Errorf("behavior %s has no greeting: %w", p.Implementation(ctx), core.ErrUnsupportedCall)
	}
	return g.Greeting(), nil
}

// Now is the engine clock.
func (p *Proxy) Now() time.Time { return p.cfg.Clock.Now() }

// Snapshot encodes the current layout.
func (p *Proxy) Snapshot(ctx context.Context) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	p.view(ctx, func() { data, err = storage.Encode(p.state.Layout()) })
	return data, err
}

// Balances reports the engine custody balance of every configured currency, keyed by
// currency id.
func (p *Proxy) Balances(ctx context.Context) map[string]*big.Int {
	out := make(map[string]*big.Int)
	p.view(ctx, func() {
		for _, c := range p.deps.Custody.Currencies() {
			f, err := p.deps.Custody.Fungible(c)
			if err != nil {
				continue
			}
			out[c.ID()] = f.BalanceOf(p.cfg.EngineAccount)
		}
	})
	return out
}
