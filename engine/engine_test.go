package engine

import (
	"context"
	"encoding/hex"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openspv/spv-engine-go/chain"
	"github.com/openspv/spv-engine-go/datastore"
	"github.com/openspv/spv-engine-go/keys"
	"github.com/openspv/spv-engine-go/paymail"
	"github.com/openspv/spv-engine-go/script"
	"github.com/openspv/spv-engine-go/spv"
	"github.com/openspv/spv-engine-go/tx"
)

const (
	// BIP32 test vector 1 master keys; external index 5 derives
	// fixtureAddr.
	fixtureXPrv = "xprv9s21ZrQH143K3QTDL4LXw2F7HEK3wJUD2nW2nRk4stbPy6cq3jPPqjiChkVvvNKmPGJxWUtg6LnF5kejMRNNU3TGtRBeJgk33yuGBxrMPHi"
	fixtureXPub = "xpub661MyMwAqRbcFtXgS5sYJABqqG9YLmC4Q1Rdap9gSE8NqtwybGhePY2gZ29ESFjqJoCu1Rupje8YtGqsefD265TMg7usUDFdp6W1EGMcet8"
	fixtureAddr = "1K6rDJZ54hn4XouChMSp1zcZN5vniP2fzw"

	// Compact Merkle path fixture at height 818000 proving minedTxID
	// against minedRoot.
	minedTxID    = "8165a5d828c32612b4b205e25170cca0ebfb4e9b77fdf180e8b1fbb2fda7dc32"
	minedRoot    = "a9763fb5b17271dab5c5cb228a1a80a529d760b80b1e32c84ae4ebb1bc9b2d66"
	minedPathHex = "507b0c0002020000af3a119e6f3fc9bf57ca46933c10f2b8c98095a484ccec58fe90cb24dd660873010232dca7fdb2fbb1e880f1fd779b4efbeba0cc7051e205b2b41226c328d8a56581010100ec59a52268f027802dc444c4f78dd97f7108f984a27b5a63d351da4449c3a338"

	fundingTxID = "e68a7320b18bdd8a5581b087796a33544d17d40d61c9c62a3012fcdefa569794"
)

type stubChain struct {
	mu             sync.Mutex
	feeUnit        tx.FeeUnit
	broadcastInfo  *chain.TXInfo
	broadcastErr   error
	broadcastCalls []string
	statusInfo     map[string]*chain.TXInfo
	validRoots     map[string]uint32
}

func newStubChain() *stubChain {
	return &stubChain{
		feeUnit:      tx.FeeUnit{Satoshis: 1, Bytes: 1000},
		broadcastErr: chain.ErrUnreachable,
		statusInfo:   map[string]*chain.TXInfo{},
		validRoots:   map[string]uint32{},
	}
}

func (s *stubChain) Broadcast(_ context.Context, rawTxHex string) (*chain.TXInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastCalls = append(s.broadcastCalls, rawTxHex)
	return s.broadcastInfo, s.broadcastErr
}

func (s *stubChain) QueryStatus(_ context.Context, txid string) (*chain.TXInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if info, ok := s.statusInfo[txid]; ok {
		return info, nil
	}
	return nil, chain.ErrTxNotFound
}

func (s *stubChain) FeeUnit(context.Context) tx.FeeUnit {
	return s.feeUnit
}

func (s *stubChain) IsValidRootForHeight(_ context.Context, merkleRoot string, blockHeight uint32) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.validRoots[merkleRoot]
	return ok && h == blockHeight, nil
}

func (s *stubChain) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.broadcastCalls)
}

type stubResolver struct {
	dst *paymail.Destination
	err error
}

func (s *stubResolver) ResolveDestination(context.Context, string, uint64) (*paymail.Destination, error) {
	return s.dst, s.err
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestEngine(t *testing.T, chainSvc ChainService, opts Options) (*Engine, datastore.Store) {
	t.Helper()
	store, err := datastore.OpenBoltStore(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	e, err := New(store, chainSvc, nil, opts, testLogger(), nil)
	require.NoError(t, err)
	return e, store
}

// fundIdentity registers the fixture identity and seeds one spendable
// output paying the fixture address.
func fundIdentity(t *testing.T, e *Engine, store datastore.Store, satoshis uint64) *datastore.UTXO {
	t.Helper()
	_, err := e.RegisterXPub(fixtureXPub)
	require.NoError(t, err)

	row, err := e.store.GetXPub(keys.XPubID(fixtureXPub))
	require.NoError(t, err)
	row.NextExternal = 5
	require.NoError(t, store.PutXPub(row))

	dst, err := e.NewDestination(fixtureXPub, false)
	require.NoError(t, err)
	require.Equal(t, fixtureAddr, dst.Address)

	u := &datastore.UTXO{
		TxID:          fundingTxID,
		Vout:          0,
		Satoshis:      satoshis,
		LockingScript: dst.LockingScript,
		XPubID:        dst.XPubID,
		DestinationID: dst.ID,
		Bucket:        datastore.BucketFor(satoshis),
	}
	require.NoError(t, store.PutUTXO(u))
	return u
}

func TestRegisterXPub(t *testing.T) {
	e, _ := newTestEngine(t, newStubChain(), Options{})

	fromPub, err := e.RegisterXPub(fixtureXPub)
	require.NoError(t, err)
	assert.Equal(t, keys.XPubID(fixtureXPub), fromPub.ID)

	// A private key neuters to the same identity.
	fromPriv, err := e.RegisterXPub(fixtureXPrv)
	require.NoError(t, err)
	assert.Equal(t, fromPub.ID, fromPriv.ID)

	_, err = e.RegisterXPub("garbage")
	assert.ErrorIs(t, err, keys.ErrInvalidKey)
}

func TestNewDestination(t *testing.T) {
	e, store := newTestEngine(t, newStubChain(), Options{})
	fundIdentity(t, e, store, 10000)

	// fundIdentity consumed external index 5; the counter moved on.
	row, err := store.GetXPub(keys.XPubID(fixtureXPub))
	require.NoError(t, err)
	assert.Equal(t, uint32(6), row.NextExternal)

	internal, err := e.NewDestination(fixtureXPub, true)
	require.NoError(t, err)
	assert.Equal(t, keys.InternalBranch, internal.Branch)
	assert.Equal(t, uint32(0), internal.Index)
	assert.True(t, keys.ValidateAddress(internal.Address))

	wantScript, err := script.LockAddress(internal.Address)
	require.NoError(t, err)
	assert.True(t, script.Equal(wantScript, internal.LockingScript))
}

func TestNewDraft(t *testing.T) {
	e, store := newTestEngine(t, newStubChain(), Options{})
	u := fundIdentity(t, e, store, 10000)

	draft, err := e.NewDraft(context.Background(), fixtureXPub, []datastore.DraftOutput{
		{Address: fixtureAddr, Satoshis: 2000},
	})
	require.NoError(t, err)
	assert.Equal(t, datastore.DraftPending, draft.Status)
	assert.Equal(t, uint64(1), draft.Fee)
	assert.Equal(t, uint64(7999), draft.Change)
	assert.Equal(t, []string{u.ID()}, draft.ReservedIDs)

	reserved, err := store.GetUTXO(u.TxID, u.Vout)
	require.NoError(t, err)
	assert.Equal(t, draft.ID, reserved.DraftID)

	template, err := tx.FromHex(draft.TemplateHex)
	require.NoError(t, err)
	require.Len(t, template.Inputs, 1)
	require.Len(t, template.Outputs, 2)
	assert.Equal(t, u.TxID, template.Inputs[0].SourceTxIDHex())
	assert.Equal(t, uint64(2000), template.Outputs[0].Satoshis)
	assert.Equal(t, uint64(7999), template.Outputs[1].Satoshis)

	// The change script is a registered internal destination.
	changeDst, err := store.GetDestinationByScript(template.Outputs[1].LockingScript)
	require.NoError(t, err)
	assert.Equal(t, keys.InternalBranch, changeDst.Branch)
}

func TestNewDraftInsufficientFunds(t *testing.T) {
	e, store := newTestEngine(t, newStubChain(), Options{})
	fundIdentity(t, e, store, 1000)

	_, err := e.NewDraft(context.Background(), fixtureXPub, []datastore.DraftOutput{
		{Address: fixtureAddr, Satoshis: 5000},
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// Nothing persisted, nothing reserved.
	drafts, err := store.ListDraftsByStatus(datastore.DraftPending)
	require.NoError(t, err)
	assert.Empty(t, drafts)

	u, err := store.GetUTXO(fundingTxID, 0)
	require.NoError(t, err)
	assert.True(t, u.Spendable(time.Now()))
}

func TestNewDraftUnknownDestination(t *testing.T) {
	e, store := newTestEngine(t, newStubChain(), Options{})
	fundIdentity(t, e, store, 10000)

	_, err := e.NewDraft(context.Background(), fixtureXPub, []datastore.DraftOutput{
		{Handle: "payee@example.com", Satoshis: 2000},
	})
	assert.ErrorIs(t, err, ErrUnknownDestination)

	_, err = e.NewDraft(context.Background(), fixtureXPub, []datastore.DraftOutput{
		{Satoshis: 2000},
	})
	assert.ErrorIs(t, err, ErrUnknownDestination)
}

func TestNewDraftEmptyResolution(t *testing.T) {
	store, err := datastore.OpenBoltStore(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	// A resolver answering with no outputs must fail the draft before
	// anything gets reserved.
	resolver := &stubResolver{dst: &paymail.Destination{Reference: "ref-1"}}
	e, err := New(store, newStubChain(), resolver, Options{}, testLogger(), nil)
	require.NoError(t, err)
	fundIdentity(t, e, store, 10000)

	_, err = e.NewDraft(context.Background(), fixtureXPub, []datastore.DraftOutput{
		{Handle: "payee@example.com", Satoshis: 2000},
	})
	assert.ErrorIs(t, err, ErrUnknownDestination)

	u, err := store.GetUTXO(fundingTxID, 0)
	require.NoError(t, err)
	assert.True(t, u.Spendable(time.Now()))
}

func TestNewDestinationConcurrent(t *testing.T) {
	e, store := newTestEngine(t, newStubChain(), Options{})
	_, err := e.RegisterXPub(fixtureXPub)
	require.NoError(t, err)

	const workers = 8
	indices := make(chan uint32, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dst, err := e.NewDestination(fixtureXPub, false)
			if assert.NoError(t, err) {
				indices <- dst.Index
			}
		}()
	}
	wg.Wait()
	close(indices)

	seen := make(map[uint32]bool, workers)
	for idx := range indices {
		assert.False(t, seen[idx], "index %d derived twice", idx)
		seen[idx] = true
	}
	assert.Len(t, seen, workers)

	row, err := store.GetXPub(keys.XPubID(fixtureXPub))
	require.NoError(t, err)
	assert.Equal(t, uint32(workers), row.NextExternal)
}

func TestCancelDraft(t *testing.T) {
	e, store := newTestEngine(t, newStubChain(), Options{})
	u := fundIdentity(t, e, store, 10000)

	draft, err := e.NewDraft(context.Background(), fixtureXPub, []datastore.DraftOutput{
		{Address: fixtureAddr, Satoshis: 2000},
	})
	require.NoError(t, err)

	require.NoError(t, e.CancelDraft(draft.ID))

	got, err := store.GetDraft(draft.ID)
	require.NoError(t, err)
	assert.Equal(t, datastore.DraftCanceled, got.Status)

	released, err := store.GetUTXO(u.TxID, u.Vout)
	require.NoError(t, err)
	assert.True(t, released.Spendable(time.Now()))

	// Cancel is not repeatable.
	assert.ErrorIs(t, e.CancelDraft(draft.ID), ErrDraftNotPending)
}

func TestRecord(t *testing.T) {
	stub := newStubChain()
	e, store := newTestEngine(t, stub, Options{})
	u := fundIdentity(t, e, store, 10000)

	draft, err := e.NewDraft(context.Background(), fixtureXPub, []datastore.DraftOutput{
		{Address: fixtureAddr, Satoshis: 2000},
	})
	require.NoError(t, err)

	record, err := e.Record(context.Background(), fixtureXPub, draft.TemplateHex, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, datastore.StateRecorded, record.State)
	assert.Equal(t, uint64(1), record.Fee)

	spent, err := store.GetUTXO(u.TxID, u.Vout)
	require.NoError(t, err)
	assert.Equal(t, record.TxID, spent.SpendingTxID)

	// Both outputs pay registered destinations, so both become owned
	// UTXOs.
	unspent, err := store.ListUTXOs(keys.XPubID(fixtureXPub))
	require.NoError(t, err)
	assert.Len(t, unspent, 2)

	completed, err := store.GetDraft(draft.ID)
	require.NoError(t, err)
	assert.Equal(t, datastore.DraftComplete, completed.Status)

	// Broadcast is fire-and-forget; wait for the detached submission.
	assert.Eventually(t, func() bool { return stub.calls() == 1 }, time.Second, 5*time.Millisecond)

	// Broadcast failure never unwinds the committed record.
	got, err := store.GetTransaction(record.TxID)
	require.NoError(t, err)
	assert.Equal(t, datastore.StateRecorded, got.State)
}

func TestRecordIdempotent(t *testing.T) {
	stub := newStubChain()
	e, store := newTestEngine(t, stub, Options{})
	fundIdentity(t, e, store, 10000)

	draft, err := e.NewDraft(context.Background(), fixtureXPub, []datastore.DraftOutput{
		{Address: fixtureAddr, Satoshis: 2000},
	})
	require.NoError(t, err)

	first, err := e.Record(context.Background(), fixtureXPub, draft.TemplateHex, draft.ID)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return stub.calls() == 1 }, time.Second, 5*time.Millisecond)

	again, err := e.Record(context.Background(), fixtureXPub, draft.TemplateHex, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, first.TxID, again.TxID)
	assert.True(t, first.CreatedAt.Equal(again.CreatedAt))

	// No duplicate rows, no second broadcast.
	unspent, err := store.ListUTXOs(keys.XPubID(fixtureXPub))
	require.NoError(t, err)
	assert.Len(t, unspent, 2)
	assert.Equal(t, 1, stub.calls())
}

func TestRecordUnknownInput(t *testing.T) {
	e, store := newTestEngine(t, newStubChain(), Options{})
	fundIdentity(t, e, store, 10000)

	phantom := strings.Repeat("ab", 32)
	sourceTxID, err := hex.DecodeString(phantom)
	require.NoError(t, err)

	lockingScript, err := script.LockAddress(fixtureAddr)
	require.NoError(t, err)
	unsigned := tx.NewTransaction().
		AddInput(&tx.Input{SourceTxID: sourceTxID, SourceTxOut: 0, Sequence: 0xffffffff}).
		AddOutput(&tx.Output{Satoshis: 500, LockingScript: lockingScript})

	_, err = e.Record(context.Background(), fixtureXPub, unsigned.Hex(), "")
	assert.ErrorIs(t, err, datastore.ErrNotFound)
}

func TestRecordDoubleSpend(t *testing.T) {
	e, store := newTestEngine(t, newStubChain(), Options{})
	u := fundIdentity(t, e, store, 10000)

	lockingScript, err := script.LockAddress(fixtureAddr)
	require.NoError(t, err)
	sourceTxID, err := hex.DecodeString(u.TxID)
	require.NoError(t, err)
	for i, j := 0, len(sourceTxID)-1; i < j; i, j = i+1, j-1 {
		sourceTxID[i], sourceTxID[j] = sourceTxID[j], sourceTxID[i]
	}

	spend := func(satoshis uint64) string {
		return tx.NewTransaction().
			AddInput(&tx.Input{SourceTxID: sourceTxID, SourceTxOut: u.Vout, Sequence: 0xffffffff}).
			AddOutput(&tx.Output{Satoshis: satoshis, LockingScript: lockingScript}).
			Hex()
	}

	_, err = e.Record(context.Background(), fixtureXPub, spend(9000), "")
	require.NoError(t, err)

	_, err = e.Record(context.Background(), fixtureXPub, spend(8000), "")
	assert.ErrorIs(t, err, datastore.ErrUtxoConflict)
}

func TestApplyStatusMonotonic(t *testing.T) {
	e, store := newTestEngine(t, newStubChain(), Options{})
	require.NoError(t, store.PutTransaction(&datastore.TransactionRecord{
		TxID:  minedTxID,
		State: datastore.StateBroadcast,
	}))

	require.NoError(t, e.ApplyStatus(context.Background(), &chain.TXInfo{
		TxID: minedTxID, TxStatus: chain.StatusSeenOnNetwork,
	}))
	got, err := store.GetTransaction(minedTxID)
	require.NoError(t, err)
	assert.Equal(t, datastore.StateSeenOnNetwork, got.State)

	// A stale projection arriving late is dropped, not applied.
	require.NoError(t, e.ApplyStatus(context.Background(), &chain.TXInfo{
		TxID: minedTxID, TxStatus: chain.StatusQueued,
	}))
	got, err = store.GetTransaction(minedTxID)
	require.NoError(t, err)
	assert.Equal(t, datastore.StateSeenOnNetwork, got.State)
}

func TestApplyStatusMined(t *testing.T) {
	stub := newStubChain()
	e, store := newTestEngine(t, stub, Options{})
	require.NoError(t, store.PutTransaction(&datastore.TransactionRecord{
		TxID:  minedTxID,
		State: datastore.StateSeenOnNetwork,
	}))

	mined := &chain.TXInfo{
		TxID:        minedTxID,
		TxStatus:    chain.StatusMined,
		BlockHash:   "00000000000000000123",
		BlockHeight: 818000,
		MerklePath:  minedPathHex,
	}

	// No vouched root yet: promotion is blocked, state unchanged.
	err := e.ApplyStatus(context.Background(), mined)
	require.ErrorIs(t, err, spv.ErrRootMismatch)
	got, err := store.GetTransaction(minedTxID)
	require.NoError(t, err)
	assert.Equal(t, datastore.StateSeenOnNetwork, got.State)

	// A mined projection without a path is rejected outright.
	err = e.ApplyStatus(context.Background(), &chain.TXInfo{
		TxID: minedTxID, TxStatus: chain.StatusMined,
	})
	assert.Error(t, err)

	stub.mu.Lock()
	stub.validRoots[minedRoot] = 818000
	stub.mu.Unlock()

	require.NoError(t, e.ApplyStatus(context.Background(), mined))
	got, err = store.GetTransaction(minedTxID)
	require.NoError(t, err)
	assert.Equal(t, datastore.StateMined, got.State)
	assert.Equal(t, uint64(818000), got.BlockHeight)
	assert.Equal(t, minedPathHex, got.MerklePath)

	// Mined is as far forward as the lifecycle goes.
	require.NoError(t, e.ApplyStatus(context.Background(), &chain.TXInfo{
		TxID: minedTxID, TxStatus: chain.StatusSeenOnNetwork,
	}))
	got, err = store.GetTransaction(minedTxID)
	require.NoError(t, err)
	assert.Equal(t, datastore.StateMined, got.State)
}

func TestApplyStatusRejected(t *testing.T) {
	for _, release := range []bool{true, false} {
		name := "keep spent"
		if release {
			name = "release inputs"
		}
		t.Run(name, func(t *testing.T) {
			e, store := newTestEngine(t, newStubChain(), Options{ReleaseUtxosOnReject: release})
			u := fundIdentity(t, e, store, 10000)

			draft, err := e.NewDraft(context.Background(), fixtureXPub, []datastore.DraftOutput{
				{Address: fixtureAddr, Satoshis: 2000},
			})
			require.NoError(t, err)
			record, err := e.Record(context.Background(), fixtureXPub, draft.TemplateHex, draft.ID)
			require.NoError(t, err)

			require.NoError(t, e.ApplyStatus(context.Background(), &chain.TXInfo{
				TxID: record.TxID, TxStatus: chain.StatusRejected,
			}))

			got, err := store.GetTransaction(record.TxID)
			require.NoError(t, err)
			assert.Equal(t, datastore.StateRejected, got.State)

			input, err := store.GetUTXO(u.TxID, u.Vout)
			require.NoError(t, err)
			assert.Equal(t, release, input.Spendable(time.Now()))

			// Terminal: nothing supersedes rejected.
			require.NoError(t, e.ApplyStatus(context.Background(), &chain.TXInfo{
				TxID: record.TxID, TxStatus: chain.StatusSeenOnNetwork,
			}))
			got, err = store.GetTransaction(record.TxID)
			require.NoError(t, err)
			assert.Equal(t, datastore.StateRejected, got.State)
		})
	}
}

func TestApplyStatusConcurrentRejection(t *testing.T) {
	e, store := newTestEngine(t, newStubChain(), Options{})
	require.NoError(t, store.PutTransaction(&datastore.TransactionRecord{
		TxID:  minedTxID,
		State: datastore.StateBroadcast,
	}))

	// Competing projections race the terminal rejection; whatever the
	// interleaving, rejected must stand once applied.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		status := chain.StatusSeenOnNetwork
		if i%2 == 0 {
			status = chain.StatusRejected
		}
		wg.Add(1)
		go func(s chain.TxStatus) {
			defer wg.Done()
			assert.NoError(t, e.ApplyStatus(context.Background(), &chain.TXInfo{
				TxID: minedTxID, TxStatus: s,
			}))
		}(status)
	}
	wg.Wait()

	got, err := store.GetTransaction(minedTxID)
	require.NoError(t, err)
	assert.Equal(t, datastore.StateRejected, got.State)
}

func TestSyncPending(t *testing.T) {
	stub := newStubChain()
	e, store := newTestEngine(t, stub, Options{SyncAfter: time.Minute})
	fundIdentity(t, e, store, 10000)

	draft, err := e.NewDraft(context.Background(), fixtureXPub, []datastore.DraftOutput{
		{Address: fixtureAddr, Satoshis: 2000},
	})
	require.NoError(t, err)
	record, err := e.Record(context.Background(), fixtureXPub, draft.TemplateHex, draft.ID)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return stub.calls() == 1 }, time.Second, 5*time.Millisecond)

	stub.mu.Lock()
	stub.statusInfo[record.TxID] = &chain.TXInfo{
		TxID: record.TxID, TxStatus: chain.StatusSeenOnNetwork,
	}
	stub.mu.Unlock()

	// Too fresh to reconcile.
	require.NoError(t, e.SyncPending(context.Background()))
	got, err := store.GetTransaction(record.TxID)
	require.NoError(t, err)
	assert.Equal(t, datastore.StateRecorded, got.State)

	// Past the threshold the broadcaster is polled and the projection
	// applied.
	e.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	require.NoError(t, e.SyncPending(context.Background()))
	got, err = store.GetTransaction(record.TxID)
	require.NoError(t, err)
	assert.Equal(t, datastore.StateSeenOnNetwork, got.State)
}

func TestSyncPendingRebroadcast(t *testing.T) {
	stub := newStubChain()
	e, store := newTestEngine(t, stub, Options{SyncAfter: time.Minute})
	fundIdentity(t, e, store, 10000)

	draft, err := e.NewDraft(context.Background(), fixtureXPub, []datastore.DraftOutput{
		{Address: fixtureAddr, Satoshis: 2000},
	})
	require.NoError(t, err)
	record, err := e.Record(context.Background(), fixtureXPub, draft.TemplateHex, draft.ID)
	require.NoError(t, err)

	// The detached submission failed (stub default is unreachable), so
	// the broadcaster has no trace of the transaction.
	assert.Eventually(t, func() bool { return stub.calls() == 1 }, time.Second, 5*time.Millisecond)

	// The broadcaster recovers before the next reconcile.
	stub.mu.Lock()
	stub.broadcastErr = nil
	stub.broadcastInfo = &chain.TXInfo{
		TxID: record.TxID, TxStatus: chain.StatusSeenOnNetwork,
	}
	stub.mu.Unlock()

	e.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	require.NoError(t, e.SyncPending(context.Background()))

	// The lost submission was retried, not just polled forever.
	assert.Equal(t, 2, stub.calls())
	got, err := store.GetTransaction(record.TxID)
	require.NoError(t, err)
	assert.Equal(t, datastore.StateSeenOnNetwork, got.State)
}

func TestExpireDrafts(t *testing.T) {
	e, store := newTestEngine(t, newStubChain(), Options{DraftExpiry: time.Minute})
	u := fundIdentity(t, e, store, 10000)

	draft, err := e.NewDraft(context.Background(), fixtureXPub, []datastore.DraftOutput{
		{Address: fixtureAddr, Satoshis: 2000},
	})
	require.NoError(t, err)

	// Still live: nothing expires.
	require.NoError(t, e.ExpireDrafts())
	got, err := store.GetDraft(draft.ID)
	require.NoError(t, err)
	assert.Equal(t, datastore.DraftPending, got.Status)

	e.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	require.NoError(t, e.ExpireDrafts())

	got, err = store.GetDraft(draft.ID)
	require.NoError(t, err)
	assert.Equal(t, datastore.DraftExpired, got.Status)

	released, err := store.GetUTXO(u.TxID, u.Vout)
	require.NoError(t, err)
	assert.True(t, released.Spendable(time.Now()))
}

func TestBalance(t *testing.T) {
	e, store := newTestEngine(t, newStubChain(), Options{})
	u := fundIdentity(t, e, store, 10000)

	balance, err := e.Balance(keys.XPubID(fixtureXPub))
	require.NoError(t, err)
	assert.Equal(t, uint64(10000), balance)

	require.NoError(t, store.ReserveUTXOs("draft-1", time.Now().Add(time.Minute), []string{u.ID()}))
	balance, err = e.Balance(keys.XPubID(fixtureXPub))
	require.NoError(t, err)
	assert.Zero(t, balance)
}
