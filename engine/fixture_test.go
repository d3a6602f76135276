package engine

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"

	"github.com/cloudx-io/crossbid/currency"
	"github.com/cloudx-io/crossbid/custody"
	"github.com/cloudx-io/crossbid/events"
	"github.com/cloudx-io/crossbid/journal"
	"github.com/cloudx-io/crossbid/oracle"
	"github.com/cloudx-io/crossbid/validation"
)

const (
	owner  = "owner"
	seller = "seller"
	alice  = "alice"
	bob    = "bob"
	carol  = "carol"
	usdt   = "usdt"
	nftRef = "demo"
)

var (
	native    = currency.Native()
	usdtToken = currency.Token(usdt)
	start     = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	clock    *fakeClock
	j        *journal.Journal
	bank     *custody.Bank
	token    *custody.Token
	nft      *custody.Collection
	ethFeed  *oracle.StaticFeed
	usdtFeed *oracle.StaticFeed
	recorder *events.Recorder
	deps     Deps
	cfg      Config
	proxy    *Proxy
}

// units parses a human amount with the given decimals.
func units(amount string, decimals uint8) *big.Int {
	return currency.MustParseUnits(amount, decimals)
}

func canonical(amount string) *big.Int { return units(amount, 18) }

func eth(amount string) *big.Int { return units(amount, 18) }

func tokens(amount string) *big.Int { return units(amount, 6) }

// newFixture builds an initialized V1 engine: native coin priced at 2000, a six
// decimal token priced at 2, both with eight decimal feeds, and funded bidders.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{now: start}
	j := journal.New()

	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		clock:    clock,
		j:        j,
		bank:     custody.NewBank(j, 18),
		token:    custody.NewToken(j, usdt, 6),
		nft:      custody.NewCollection(j, nftRef),
		ethFeed:  oracle.NewStaticFeed(units("2000", 8), 8, start),
		usdtFeed: oracle.NewStaticFeed(units("2", 8), 8, start),
		recorder: events.NewRecorder(),
	}
	f.deps = Deps{
		Journal: j,
		Custody: &custody.Directory{
			Native: f.bank,
			Tokens: map[string]custody.Fungible{usdt: f.token},
			Assets: map[string]custody.NFT{nftRef: f.nft},
		},
		Feeds: oracle.NewDirectory(map[string]oracle.Feed{"eth-usd": f.ethFeed, "usdt-usd": f.usdtFeed}),
	}
	f.cfg = Config{
		MaxDuration:   7 * 24 * time.Hour,
		MaxPriceAge:   time.Hour,
		EngineAccount: "engine",
		Log:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		Events:        f.recorder,
		Clock:         clock,
	}

	for _, who := range []string{alice, bob, carol} {
		f.bank.Mint(who, eth("10"))
		f.token.Mint(who, tokens("10000"))
	}
	for id := int64(1); id <= 5; id++ {
		assert.NoError(t, f.nft.Mint(seller, big.NewInt(id)))
	}
	f.nft.SetApprovalForAll(seller, "engine", true)
	j.Commit()

	p, err := New(f.cfg, f.deps, V1{})
	assert.NoError(t, err)
	f.proxy = p

	assert.NoError(t, p.Initialize(f.ctx, Msg{Sender: owner}, "eth-usd"))
	assert.NoError(t, p.SetCurrencyFeed(f.ctx, Msg{Sender: owner}, usdtToken, "usdt-usd"))
	return f
}

func from(sender string) Msg { return Msg{Sender: sender} }

func withValue(sender string, value *big.Int) Msg { return Msg{Sender: sender, Value: value} }

// list creates an auction for asset id with a reserve of reserve canonical units.
func (f *fixture) list(id int64, reserve string, d time.Duration) uint64 {
	f.t.Helper()
	auctionID, err := f.proxy.CreateAuction(f.ctx, from(seller), nftRef, big.NewInt(id), canonical(reserve), d)
	assert.NoError(f.t, err)
	return auctionID
}

func (f *fixture) bidToken(bidder string, auctionID uint64, amount *big.Int) error {
	f.token.Approve(bidder, "engine", amount)
	f.j.Commit()
	return f.proxy.BidToken(f.ctx, from(bidder), auctionID, usdt, amount)
}

func (f *fixture) pending(bidder string, c currency.Currency) string {
	return f.proxy.PendingReturn(f.ctx, bidder, c).String()
}

func (f *fixture) assetOwner(id int64) string {
	f.t.Helper()
	who, err := f.nft.OwnerOf(big.NewInt(id))
	assert.NoError(f.t, err)
	return who
}

// refreshFeeds restamps both feeds at their starting prices with the current time.
func (f *fixture) refreshFeeds() {
	f.ethFeed.Set(units("2000", 8), f.clock.Now())
	f.usdtFeed.Set(units("2", 8), f.clock.Now())
}

// checkInvariants audits the layout and the custody conservation law.
func (f *fixture) checkInvariants() {
	f.t.Helper()
	layoutResult, err := validation.ValidateLayout(f.proxy.state.Layout())
	assert.NoError(f.t, err)
	if !layoutResult.IsValid() {
		f.t.Fatalf("layout invalid: %v", layoutResult.ValidationDetails)
	}
	conservation, err := validation.CheckConservation(f.proxy.state.Layout(), f.proxy.Balances(f.ctx))
	assert.NoError(f.t, err)
	if !conservation.IsValid() {
		f.t.Fatalf("conservation violated: %v", conservation.ValidationDetails)
	}
}
