package datastore

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketXPubs        = []byte("xpubs")
	bucketDestinations = []byte("destinations")
	bucketUTXOs        = []byte("utxos")
	bucketDrafts       = []byte("drafts")
	bucketTransactions = []byte("transactions")
)

// BoltStore is the bbolt-backed Store. bbolt's single-writer update
// transactions provide the atomicity the reservation and record
// operations require.
type BoltStore struct {
	db  *bbolt.DB
	now func() time.Time
}

var _ Store = (*BoltStore)(nil)

// OpenBoltStore opens or creates the database at dbPath, creating the
// parent directory if needed.
func OpenBoltStore(dbPath string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("datastore: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("datastore: open bolt db: %w", err)
	}

	err = db.Update(func(btx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketXPubs, bucketDestinations, bucketUTXOs, bucketDrafts, bucketTransactions} {
			if _, err := btx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: create buckets: %w", err)
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error { return s.db.Close() }

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func putGob(btx *bbolt.Tx, bucket []byte, key string, v interface{}) error {
	data, err := encodeGob(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return btx.Bucket(bucket).Put([]byte(key), data)
}

func getGob(btx *bbolt.Tx, bucket []byte, key string, v interface{}) error {
	data := btx.Bucket(bucket).Get([]byte(key))
	if data == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return decodeGob(data, v)
}

// PutXPub implements Store.
func (s *BoltStore) PutXPub(x *XPub) error {
	if x == nil {
		return fmt.Errorf("%w: xpub", ErrNilParam)
	}
	if x.CreatedAt.IsZero() {
		x.CreatedAt = s.now()
	}
	return s.db.Update(func(btx *bbolt.Tx) error {
		return putGob(btx, bucketXPubs, x.ID, x)
	})
}

// GetXPub implements Store.
func (s *BoltStore) GetXPub(id string) (*XPub, error) {
	var x XPub
	err := s.db.View(func(btx *bbolt.Tx) error {
		return getGob(btx, bucketXPubs, id, &x)
	})
	if err != nil {
		return nil, err
	}
	return &x, nil
}

// PutDestination implements Store.
func (s *BoltStore) PutDestination(d *Destination) error {
	if d == nil {
		return fmt.Errorf("%w: destination", ErrNilParam)
	}
	if d.ID == "" {
		d.ID = DestinationID(d.LockingScript)
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	return s.db.Update(func(btx *bbolt.Tx) error {
		return putGob(btx, bucketDestinations, d.ID, d)
	})
}

// GetDestination implements Store.
func (s *BoltStore) GetDestination(id string) (*Destination, error) {
	var d Destination
	err := s.db.View(func(btx *bbolt.Tx) error {
		return getGob(btx, bucketDestinations, id, &d)
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDestinationByScript implements Store.
func (s *BoltStore) GetDestinationByScript(lockingScript []byte) (*Destination, error) {
	return s.GetDestination(DestinationID(lockingScript))
}

// ListDestinations implements Store.
func (s *BoltStore) ListDestinations(xpubID string) ([]*Destination, error) {
	var out []*Destination
	err := s.db.View(func(btx *bbolt.Tx) error {
		return btx.Bucket(bucketDestinations).ForEach(func(_, data []byte) error {
			var d Destination
			if err := decodeGob(data, &d); err != nil {
				return err
			}
			if d.XPubID == xpubID {
				out = append(out, &d)
			}
			return nil
		})
	})
	return out, err
}

// PutUTXO implements Store.
func (s *BoltStore) PutUTXO(u *UTXO) error {
	if u == nil {
		return fmt.Errorf("%w: utxo", ErrNilParam)
	}
	now := s.now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	return s.db.Update(func(btx *bbolt.Tx) error {
		return putGob(btx, bucketUTXOs, u.ID(), u)
	})
}

// GetUTXO implements Store.
func (s *BoltStore) GetUTXO(txid string, vout uint32) (*UTXO, error) {
	var u UTXO
	err := s.db.View(func(btx *bbolt.Tx) error {
		return getGob(btx, bucketUTXOs, UTXOID(txid, vout), &u)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUTXOs implements Store.
func (s *BoltStore) ListUTXOs(xpubID string) ([]*UTXO, error) {
	var out []*UTXO
	err := s.db.View(func(btx *bbolt.Tx) error {
		return btx.Bucket(bucketUTXOs).ForEach(func(_, data []byte) error {
			var u UTXO
			if err := decodeGob(data, &u); err != nil {
				return err
			}
			if u.XPubID == xpubID && !u.Spent() {
				out = append(out, &u)
			}
			return nil
		})
	})
	return out, err
}

// ReserveUTXOs implements Store. The whole reservation happens in one
// update transaction: either every candidate is marked or none is.
func (s *BoltStore) ReserveUTXOs(draftID string, until time.Time, utxoIDs []string) error {
	now := s.now()
	return s.db.Update(func(btx *bbolt.Tx) error {
		for _, id := range utxoIDs {
			var u UTXO
			if err := getGob(btx, bucketUTXOs, id, &u); err != nil {
				return err
			}
			if u.Spent() {
				return fmt.Errorf("%w: %s already spent by %s", ErrUtxoConflict, id, u.SpendingTxID)
			}
			if u.Reserved(now) && u.DraftID != draftID {
				return fmt.Errorf("%w: %s reserved by draft %s", ErrUtxoConflict, id, u.DraftID)
			}
			u.DraftID = draftID
			u.ReservedUntil = until
			u.UpdatedAt = now
			if err := putGob(btx, bucketUTXOs, id, &u); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReleaseUTXOs implements Store.
func (s *BoltStore) ReleaseUTXOs(draftID string) error {
	now := s.now()
	return s.db.Update(func(btx *bbolt.Tx) error {
		bucket := btx.Bucket(bucketUTXOs)
		var release []*UTXO
		err := bucket.ForEach(func(_, data []byte) error {
			var u UTXO
			if err := decodeGob(data, &u); err != nil {
				return err
			}
			if u.DraftID == draftID {
				release = append(release, &u)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, u := range release {
			u.DraftID = ""
			u.ReservedUntil = time.Time{}
			u.UpdatedAt = now
			if err := putGob(btx, bucketUTXOs, u.ID(), u); err != nil {
				return err
			}
		}
		return nil
	})
}

// PutDraft implements Store.
func (s *BoltStore) PutDraft(d *Draft) error {
	if d == nil {
		return fmt.Errorf("%w: draft", ErrNilParam)
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	return s.db.Update(func(btx *bbolt.Tx) error {
		return putGob(btx, bucketDrafts, d.ID, d)
	})
}

// GetDraft implements Store.
func (s *BoltStore) GetDraft(id string) (*Draft, error) {
	var d Draft
	err := s.db.View(func(btx *bbolt.Tx) error {
		return getGob(btx, bucketDrafts, id, &d)
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDraftsByStatus implements Store.
func (s *BoltStore) ListDraftsByStatus(status DraftStatus) ([]*Draft, error) {
	var out []*Draft
	err := s.db.View(func(btx *bbolt.Tx) error {
		return btx.Bucket(bucketDrafts).ForEach(func(_, data []byte) error {
			var d Draft
			if err := decodeGob(data, &d); err != nil {
				return err
			}
			if d.Status == status {
				out = append(out, &d)
			}
			return nil
		})
	})
	return out, err
}

// ApplyRecord implements Store. The returned bool is false when the
// txid was already recorded and nothing was mutated.
func (s *BoltStore) ApplyRecord(m *RecordMutation) (*TransactionRecord, bool, error) {
	if m == nil || m.Record == nil {
		return nil, false, fmt.Errorf("%w: record mutation", ErrNilParam)
	}
	now := s.now()

	var result *TransactionRecord
	applied := false
	err := s.db.Update(func(btx *bbolt.Tx) error {
		var existing TransactionRecord
		if err := getGob(btx, bucketTransactions, m.Record.TxID, &existing); err == nil {
			result = &existing
			return nil
		}

		for _, id := range m.SpendIDs {
			var u UTXO
			if err := getGob(btx, bucketUTXOs, id, &u); err != nil {
				return err
			}
			if u.Spent() && u.SpendingTxID != m.Record.TxID {
				return fmt.Errorf("%w: %s already spent by %s", ErrUtxoConflict, id, u.SpendingTxID)
			}
			u.SpendingTxID = m.Record.TxID
			u.DraftID = ""
			u.ReservedUntil = time.Time{}
			u.UpdatedAt = now
			if err := putGob(btx, bucketUTXOs, id, &u); err != nil {
				return err
			}
		}

		for _, u := range m.CreateUTXOs {
			if u.CreatedAt.IsZero() {
				u.CreatedAt = now
			}
			u.UpdatedAt = now
			if err := putGob(btx, bucketUTXOs, u.ID(), u); err != nil {
				return err
			}
		}

		record := *m.Record
		if record.CreatedAt.IsZero() {
			record.CreatedAt = now
		}
		record.UpdatedAt = now
		if err := putGob(btx, bucketTransactions, record.TxID, &record); err != nil {
			return err
		}
		result = &record
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, applied, nil
}

// NextDestinationIndex implements Store. The read-increment-write runs
// in one update transaction, so concurrent allocations serialize.
func (s *BoltStore) NextDestinationIndex(xpubID string, internal bool) (uint32, error) {
	var index uint32
	err := s.db.Update(func(btx *bbolt.Tx) error {
		var x XPub
		if err := getGob(btx, bucketXPubs, xpubID, &x); err != nil {
			return err
		}
		if internal {
			index = x.NextInternal
			x.NextInternal++
		} else {
			index = x.NextExternal
			x.NextExternal++
		}
		return putGob(btx, bucketXPubs, xpubID, &x)
	})
	if err != nil {
		return 0, err
	}
	return index, nil
}

// AdvanceTransactionState implements Store. The Supersedes check runs
// inside the update transaction, so a stale projection can never
// overwrite a state another writer committed concurrently.
func (s *BoltStore) AdvanceTransactionState(txid string, next TxState, mutate func(*TransactionRecord)) (*TransactionRecord, bool, error) {
	var record TransactionRecord
	advanced := false
	err := s.db.Update(func(btx *bbolt.Tx) error {
		if err := getGob(btx, bucketTransactions, txid, &record); err != nil {
			return err
		}
		if !next.Supersedes(record.State) {
			return nil
		}
		record.State = next
		if mutate != nil {
			mutate(&record)
		}
		record.UpdatedAt = s.now()
		if err := putGob(btx, bucketTransactions, txid, &record); err != nil {
			return err
		}
		advanced = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &record, advanced, nil
}

// PutTransaction implements Store.
func (s *BoltStore) PutTransaction(r *TransactionRecord) error {
	if r == nil {
		return fmt.Errorf("%w: transaction record", ErrNilParam)
	}
	r.UpdatedAt = s.now()
	return s.db.Update(func(btx *bbolt.Tx) error {
		return putGob(btx, bucketTransactions, r.TxID, r)
	})
}

// GetTransaction implements Store.
func (s *BoltStore) GetTransaction(txid string) (*TransactionRecord, error) {
	var r TransactionRecord
	err := s.db.View(func(btx *bbolt.Tx) error {
		return getGob(btx, bucketTransactions, txid, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListTransactionsByState implements Store.
func (s *BoltStore) ListTransactionsByState(state TxState) ([]*TransactionRecord, error) {
	var out []*TransactionRecord
	err := s.db.View(func(btx *bbolt.Tx) error {
		return btx.Bucket(bucketTransactions).ForEach(func(_, data []byte) error {
			var r TransactionRecord
			if err := decodeGob(data, &r); err != nil {
				return err
			}
			if r.State == state {
				out = append(out, &r)
			}
			return nil
		})
	})
	return out, err
}
