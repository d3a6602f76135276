package engine

import (
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/crossbid/core"
	"github.com/cloudx-io/crossbid/storage"
)

func TestSaveFailureRevertsCall(t *testing.T) {
	f := newFixture(t)
	id := f.list(1, "1", time.Hour)
	backend := storage.NewMemoryBackend()
	f.proxy.cfg.Backend = backend
	backend.FailSave = errors.New("disk full")

	err := f.proxy.BidNative(f.ctx, withValue(alice, eth("0.5")), id)
	check.Error(t, err)
	rec, err := f.proxy.Auction(f.ctx, id)
	assert.NoError(t, err)
	check.False(t, rec.HasBid())
	check.Equal(t, eth("10").String(), f.bank.BalanceOf(alice).String())
	check.Equal(t, 1, len(f.recorder.ForAuction(id)))

	backend.FailSave = nil
	assert.NoError(t, f.proxy.BidNative(f.ctx, withValue(alice, eth("0.5")), id))
	data, err := backend.Load(f.ctx)
	assert.NoError(t, err)
	snapshot, err := f.proxy.Snapshot(f.ctx)
	assert.NoError(t, err)
	check.Equal(t, snapshot, data)
	f.checkInvariants()
}

// reopen builds a second engine over the same collaborators, restored from backend.
func reopen(t *testing.T, f *fixture, backend storage.Backend) *Proxy {
	t.Helper()
	cfg := f.cfg
	cfg.Backend = backend
	p, err := Open(f.ctx, cfg, f.deps, V1{})
	assert.NoError(t, err)
	return p
}

func TestOpenRestoresState(t *testing.T) {
	tests := []struct {
		name    string
		backend func(t *testing.T) storage.Backend
	}{
		{
			name:    "memory",
			backend: func(t *testing.T) storage.Backend { return storage.NewMemoryBackend() },
		},
		{
			name: "file",
			backend: func(t *testing.T) storage.Backend {
				return storage.NewFileBackend(filepath.Join(t.TempDir(), "engine.snapshot"))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			backend := tt.backend(t)
			f.proxy.cfg.Backend = backend

			ids := populate(t, f)
			hashes := recordHashes(t, f, ids)
			pendingHash := core.ComputePendingHash(f.proxy.state.Layout().Pending)

			restored := reopen(t, f, backend)
			check.Equal(t, "v1", restored.Implementation(f.ctx))
			check.Equal(t, owner, restored.Owner(f.ctx))
			check.Equal(t, ids, restored.AuctionIDs(f.ctx))
			check.Equal(t, pendingHash, core.ComputePendingHash(restored.state.Layout().Pending))
			for i, id := range ids {
				rec, err := restored.Auction(f.ctx, id)
				assert.NoError(t, err)
				check.Equal(t, hashes[i], core.ComputeRecordHash(rec))
			}

			next, err := restored.CreateAuction(f.ctx, from(seller), nftRef, big.NewInt(4), canonical("1"), time.Hour)
			assert.NoError(t, err)
			check.Equal(t, ids[len(ids)-1]+1, next)
		})
	}
}

func TestOpenAfterUpgradeInstallsV2(t *testing.T) {
	f := newFixture(t)
	backend := storage.NewMemoryBackend()
	f.proxy.cfg.Backend = backend
	ids := populate(t, f)
	assert.NoError(t, f.proxy.UpgradeTo(f.ctx, from(owner), V2{}))
	assert.NoError(t, f.proxy.BidNative(f.ctx, withValue(carol, eth("1")), ids[0]))

	restored := reopen(t, f, backend)
	check.Equal(t, "v2", restored.Implementation(f.ctx))
	check.Equal(t, storage.SchemaV2, restored.Schema(f.ctx))
	n, err := restored.BidCount(f.ctx, ids[0])
	assert.NoError(t, err)
	check.Equal(t, uint64(1), n)
}

func TestOpenWithoutSnapshot(t *testing.T) {
	f := newFixture(t)
	p := reopen(t, f, storage.NewMemoryBackend())
	check.Equal(t, "v1", p.Implementation(f.ctx))
	check.Equal(t, "", p.Owner(f.ctx))
	check.Equal(t, 0, len(p.AuctionIDs(f.ctx)))
}

func TestOpenRejectsUnknownSchema(t *testing.T) {
	f := newFixture(t)
	l := storage.NewLayout()
	l.Schema = storage.Schema{Version: 9, Fields: append(append([]storage.Field{}, storage.SchemaV2.Fields...), storage.Field{Key: 9, Name: "extra"})}
	data, err := storage.Encode(l)
	assert.NoError(t, err)
	backend := storage.NewMemoryBackend()
	assert.NoError(t, backend.Save(f.ctx, data))

	cfg := f.cfg
	cfg.Backend = backend
	_, err = Open(f.ctx, cfg, f.deps, V1{})
	check.Error(t, err)
}
