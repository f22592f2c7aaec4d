package datastore

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := OpenBoltStore(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testUTXO(txid string, vout uint32, satoshis uint64) *UTXO {
	return &UTXO{
		TxID:          txid,
		Vout:          vout,
		Satoshis:      satoshis,
		LockingScript: []byte{0x76, 0xa9},
		XPubID:        "xpub-1",
		Bucket:        BucketFor(satoshis),
	}
}

func TestXPubRoundTrip(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.PutXPub(&XPub{ID: "xpub-1", NextExternal: 3}))

	got, err := store.GetXPub("xpub-1")
	require.NoError(t, err)
	assert.Equal(t, uint32(3), got.NextExternal)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = store.GetXPub("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDestinationByScript(t *testing.T) {
	store := newTestStore(t)

	script := []byte{0x76, 0xa9, 0x14, 0x01, 0x02}
	require.NoError(t, store.PutDestination(&Destination{
		XPubID:        "xpub-1",
		LockingScript: script,
		Address:       "1K6rDJZ54hn4XouChMSp1zcZN5vniP2fzw",
	}))

	got, err := store.GetDestinationByScript(script)
	require.NoError(t, err)
	assert.Equal(t, "1K6rDJZ54hn4XouChMSp1zcZN5vniP2fzw", got.Address)
	assert.Equal(t, DestinationID(script), got.ID)

	list, err := store.ListDestinations("xpub-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestReserveUTXOs(t *testing.T) {
	store := newTestStore(t)
	until := time.Now().Add(time.Minute)

	require.NoError(t, store.PutUTXO(testUTXO("aa", 0, 2000)))
	require.NoError(t, store.PutUTXO(testUTXO("bb", 1, 5000)))

	ids := []string{UTXOID("aa", 0), UTXOID("bb", 1)}
	require.NoError(t, store.ReserveUTXOs("draft-1", until, ids))

	got, err := store.GetUTXO("aa", 0)
	require.NoError(t, err)
	assert.Equal(t, "draft-1", got.DraftID)
	assert.False(t, got.Spendable(time.Now()))

	// Same draft may re-reserve its own holdings.
	require.NoError(t, store.ReserveUTXOs("draft-1", until, ids))

	err = store.ReserveUTXOs("draft-2", until, ids)
	assert.ErrorIs(t, err, ErrUtxoConflict)
}

func TestReserveUTXOsAtomic(t *testing.T) {
	store := newTestStore(t)
	until := time.Now().Add(time.Minute)

	require.NoError(t, store.PutUTXO(testUTXO("aa", 0, 2000)))
	require.NoError(t, store.PutUTXO(testUTXO("bb", 0, 3000)))
	require.NoError(t, store.ReserveUTXOs("draft-1", until, []string{UTXOID("bb", 0)}))

	// Second candidate conflicts, so the first must stay free too.
	err := store.ReserveUTXOs("draft-2", until, []string{UTXOID("aa", 0), UTXOID("bb", 0)})
	require.ErrorIs(t, err, ErrUtxoConflict)

	got, err := store.GetUTXO("aa", 0)
	require.NoError(t, err)
	assert.Empty(t, got.DraftID)
	assert.True(t, got.Spendable(time.Now()))
}

func TestReserveUTXOsExpiredReservation(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.PutUTXO(testUTXO("aa", 0, 2000)))
	ids := []string{UTXOID("aa", 0)}

	require.NoError(t, store.ReserveUTXOs("draft-1", time.Now().Add(-time.Second), ids))

	// A lapsed reservation is reclaimable by a new draft.
	require.NoError(t, store.ReserveUTXOs("draft-2", time.Now().Add(time.Minute), ids))

	got, err := store.GetUTXO("aa", 0)
	require.NoError(t, err)
	assert.Equal(t, "draft-2", got.DraftID)
}

func TestReleaseUTXOs(t *testing.T) {
	store := newTestStore(t)
	until := time.Now().Add(time.Minute)

	require.NoError(t, store.PutUTXO(testUTXO("aa", 0, 2000)))
	require.NoError(t, store.ReserveUTXOs("draft-1", until, []string{UTXOID("aa", 0)}))
	require.NoError(t, store.ReleaseUTXOs("draft-1"))

	got, err := store.GetUTXO("aa", 0)
	require.NoError(t, err)
	assert.Empty(t, got.DraftID)
	assert.True(t, got.ReservedUntil.IsZero())
}

func TestDraftRoundTrip(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.PutDraft(&Draft{
		ID:     "draft-1",
		XPubID: "xpub-1",
		Status: DraftPending,
		Outputs: []DraftOutput{
			{Address: "1K6rDJZ54hn4XouChMSp1zcZN5vniP2fzw", Satoshis: 900},
		},
	}))

	got, err := store.GetDraft("draft-1")
	require.NoError(t, err)
	assert.Equal(t, DraftPending, got.Status)
	require.Len(t, got.Outputs, 1)
	assert.Equal(t, uint64(900), got.Outputs[0].Satoshis)

	pending, err := store.ListDraftsByStatus(DraftPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	canceled, err := store.ListDraftsByStatus(DraftCanceled)
	require.NoError(t, err)
	assert.Empty(t, canceled)
}

func TestApplyRecord(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.PutUTXO(testUTXO("aa", 0, 2000)))

	mutation := &RecordMutation{
		Record: &TransactionRecord{
			TxID:   "cc",
			XPubID: "xpub-1",
			State:  StateRecorded,
		},
		SpendIDs:    []string{UTXOID("aa", 0)},
		CreateUTXOs: []*UTXO{testUTXO("cc", 1, 1500)},
	}

	record, applied, err := store.ApplyRecord(mutation)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, StateRecorded, record.State)

	spent, err := store.GetUTXO("aa", 0)
	require.NoError(t, err)
	assert.Equal(t, "cc", spent.SpendingTxID)
	assert.Empty(t, spent.DraftID)

	change, err := store.GetUTXO("cc", 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1500), change.Satoshis)

	// The spent output disappears from listings.
	unspent, err := store.ListUTXOs("xpub-1")
	require.NoError(t, err)
	require.Len(t, unspent, 1)
	assert.Equal(t, "cc", unspent[0].TxID)
}

func TestApplyRecordIdempotent(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.PutUTXO(testUTXO("aa", 0, 2000)))

	mutation := &RecordMutation{
		Record:   &TransactionRecord{TxID: "cc", State: StateRecorded},
		SpendIDs: []string{UTXOID("aa", 0)},
	}

	first, applied, err := store.ApplyRecord(mutation)
	require.NoError(t, err)
	assert.True(t, applied)

	again, applied, err := store.ApplyRecord(mutation)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, first.TxID, again.TxID)
	assert.True(t, first.CreatedAt.Equal(again.CreatedAt))
}

func TestApplyRecordDoubleSpendConflict(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.PutUTXO(testUTXO("aa", 0, 2000)))

	_, _, err := store.ApplyRecord(&RecordMutation{
		Record:   &TransactionRecord{TxID: "cc", State: StateRecorded},
		SpendIDs: []string{UTXOID("aa", 0)},
	})
	require.NoError(t, err)

	_, _, err = store.ApplyRecord(&RecordMutation{
		Record:   &TransactionRecord{TxID: "dd", State: StateRecorded},
		SpendIDs: []string{UTXOID("aa", 0)},
	})
	assert.ErrorIs(t, err, ErrUtxoConflict)

	_, err = store.GetTransaction("dd")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransactionState(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.PutTransaction(&TransactionRecord{TxID: "cc", State: StateBroadcast}))

	list, err := store.ListTransactionsByState(StateBroadcast)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "cc", list[0].TxID)

	list[0].State = StateMined
	require.NoError(t, store.PutTransaction(list[0]))

	got, err := store.GetTransaction("cc")
	require.NoError(t, err)
	assert.Equal(t, StateMined, got.State)
}

func TestNextDestinationIndex(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.PutXPub(&XPub{ID: "xpub-1", NextExternal: 5}))

	idx, err := store.NextDestinationIndex("xpub-1", false)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), idx)

	idx, err = store.NextDestinationIndex("xpub-1", false)
	require.NoError(t, err)
	assert.Equal(t, uint32(6), idx)

	idx, err = store.NextDestinationIndex("xpub-1", true)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), idx)

	got, err := store.GetXPub("xpub-1")
	require.NoError(t, err)
	assert.Equal(t, uint32(7), got.NextExternal)
	assert.Equal(t, uint32(1), got.NextInternal)

	_, err = store.NextDestinationIndex("missing", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNextDestinationIndexConcurrent(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.PutXPub(&XPub{ID: "xpub-1"}))

	const workers = 20
	indices := make(chan uint32, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			idx, err := store.NextDestinationIndex("xpub-1", false)
			assert.NoError(t, err)
			indices <- idx
		}()
	}
	wg.Wait()
	close(indices)

	seen := make(map[uint32]bool, workers)
	for idx := range indices {
		assert.False(t, seen[idx], "index %d allocated twice", idx)
		seen[idx] = true
	}
	assert.Len(t, seen, workers)
}

func TestAdvanceTransactionState(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.PutTransaction(&TransactionRecord{TxID: "cc", State: StateBroadcast}))

	record, advanced, err := store.AdvanceTransactionState("cc", StateMined, func(r *TransactionRecord) {
		r.BlockHeight = 818000
	})
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.Equal(t, StateMined, record.State)
	assert.Equal(t, uint64(818000), record.BlockHeight)

	// A stale projection leaves the record untouched.
	record, advanced, err = store.AdvanceTransactionState("cc", StateBroadcast, nil)
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.Equal(t, StateMined, record.State)

	_, _, err = store.AdvanceTransactionState("missing", StateMined, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAdvanceTransactionStateConcurrent(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.PutTransaction(&TransactionRecord{TxID: "cc", State: StateBroadcast}))

	// A terminal rejection racing a seen_on_network projection must win
	// regardless of which writer commits first.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		next := StateSeenOnNetwork
		if i%2 == 0 {
			next = StateRejected
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := store.AdvanceTransactionState("cc", next, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.GetTransaction("cc")
	require.NoError(t, err)
	assert.Equal(t, StateRejected, got.State)
}

func TestSupersedes(t *testing.T) {
	tests := []struct {
		name string
		prev TxState
		next TxState
		want bool
	}{
		{"forward recorded to broadcast", StateRecorded, StateBroadcast, true},
		{"forward broadcast to mined", StateBroadcast, StateMined, true},
		{"backward mined to broadcast", StateMined, StateBroadcast, false},
		{"same state", StateBroadcast, StateBroadcast, false},
		{"rejection from any live state", StateSeenOnNetwork, StateRejected, true},
		{"nothing leaves rejected", StateRejected, StateMined, false},
		{"nothing leaves expired", StateExpired, StateBroadcast, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.next.Supersedes(tt.prev))
		})
	}
}

func TestBucketFor(t *testing.T) {
	tests := []struct {
		satoshis uint64
		want     int
	}{
		{1, 0},
		{1000, 0},
		{1001, 1},
		{10000, 1},
		{10001, 2},
		{100001, 3},
		{1000001, 4},
		{1000000000, 4},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, BucketFor(tt.satoshis), "satoshis %d", tt.satoshis)
	}
}
