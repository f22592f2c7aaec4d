// Package engine manages the transaction lifecycle: draft creation
// with atomic UTXO reservation, idempotent recording of signed
// transactions, asynchronous broadcast, and ordering-guarded
// application of network status projections.
package engine

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/openspv/spv-engine-go/chain"
	"github.com/openspv/spv-engine-go/datastore"
	"github.com/openspv/spv-engine-go/keys"
	"github.com/openspv/spv-engine-go/metrics"
	"github.com/openspv/spv-engine-go/paymail"
	"github.com/openspv/spv-engine-go/script"
	"github.com/openspv/spv-engine-go/spv"
	"github.com/openspv/spv-engine-go/tx"
)

// ChainService is the slice of the chain layer the engine consumes.
// *chain.Service satisfies it.
type ChainService interface {
	Broadcast(ctx context.Context, rawTxHex string) (*chain.TXInfo, error)
	QueryStatus(ctx context.Context, txid string) (*chain.TXInfo, error)
	FeeUnit(ctx context.Context) tx.FeeUnit
	IsValidRootForHeight(ctx context.Context, merkleRoot string, blockHeight uint32) (bool, error)
}

// DestinationResolver turns a human-readable handle into locking
// scripts. *paymail.Client satisfies it.
type DestinationResolver interface {
	ResolveDestination(ctx context.Context, handle string, satoshis uint64) (*paymail.Destination, error)
}

// Options tunes lifecycle behavior.
type Options struct {
	// DraftExpiry bounds how long a pending draft holds its UTXO
	// reservations.
	DraftExpiry time.Duration

	// SyncAfter is how long a transaction may sit in recorded or
	// broadcast before reconciliation polls the broadcaster for it.
	SyncAfter time.Duration

	// BroadcastTimeout bounds each asynchronous submission attempt.
	BroadcastTimeout time.Duration

	// ReleaseUtxosOnReject returns the inputs of a rejected transaction
	// to the spendable pool. Off by default: a rejection may race a
	// competing spend and releasing automatically can double-promise
	// funds.
	ReleaseUtxosOnReject bool

	// Testnet selects testnet address versions for derived
	// destinations.
	Testnet bool
}

const (
	defaultDraftExpiry      = 20 * time.Second
	defaultSyncAfter        = time.Minute
	defaultBroadcastTimeout = 30 * time.Second
)

// Engine is the lifecycle manager.
type Engine struct {
	store    datastore.Store
	chain    ChainService
	resolver DestinationResolver
	opts     Options
	log      *logrus.Entry
	stats    *metrics.Metrics
	now      func() time.Time
}

// New wires the engine. resolver and stats may be nil: without a
// resolver handle outputs fail with ErrUnknownDestination, without
// stats instrumentation is skipped.
func New(store datastore.Store, chainSvc ChainService, resolver DestinationResolver, opts Options, log *logrus.Entry, stats *metrics.Metrics) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store", ErrNilParam)
	}
	if chainSvc == nil {
		return nil, fmt.Errorf("%w: chain service", ErrNilParam)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.DraftExpiry <= 0 {
		opts.DraftExpiry = defaultDraftExpiry
	}
	if opts.SyncAfter <= 0 {
		opts.SyncAfter = defaultSyncAfter
	}
	if opts.BroadcastTimeout <= 0 {
		opts.BroadcastTimeout = defaultBroadcastTimeout
	}
	return &Engine{
		store:    store,
		chain:    chainSvc,
		resolver: resolver,
		opts:     opts,
		log:      log,
		stats:    stats,
		now:      time.Now,
	}, nil
}

// RegisterXPub registers an identity from its extended public key and
// returns the stored row. Private keys are neutered before hashing so
// the identity never depends on secret material.
func (e *Engine) RegisterXPub(xpub string) (*datastore.XPub, error) {
	key, err := keys.FromString(xpub)
	if err != nil {
		return nil, err
	}
	id := keys.XPubID(key.Neuter().String())

	if existing, err := e.store.GetXPub(id); err == nil {
		return existing, nil
	}

	row := &datastore.XPub{ID: id}
	if err := e.store.PutXPub(row); err != nil {
		return nil, err
	}
	return row, nil
}

// NewDestination derives the identity's next unused address on the
// external branch (or the internal branch for change) and registers
// its locking script for incoming-output recognition.
func (e *Engine) NewDestination(xpub string, internal bool) (*datastore.Destination, error) {
	key, err := keys.FromString(xpub)
	if err != nil {
		return nil, err
	}
	pub := key.Neuter()
	id := keys.XPubID(pub.String())

	// The counter increment commits before the destination row exists;
	// a failure below burns the index, which derivation tolerates.
	index, err := e.store.NextDestinationIndex(id, internal)
	if err != nil {
		return nil, err
	}
	branch := keys.ExternalBranch
	if internal {
		branch = keys.InternalBranch
	}

	child, err := pub.Derive(branch, index)
	if err != nil {
		return nil, err
	}
	address := keys.AddressFromPubKey(child.PublicKeyBytes(), e.opts.Testnet)
	lockingScript, err := script.LockAddress(address)
	if err != nil {
		return nil, err
	}

	dst := &datastore.Destination{
		XPubID:        id,
		LockingScript: lockingScript,
		Address:       address,
		Branch:        branch,
		Index:         index,
	}
	if err := e.store.PutDestination(dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// NewDraft resolves the requested outputs, selects and atomically
// reserves funding UTXOs, and stores a pending draft holding the
// unsigned template. Reservations lapse at the draft's expiry.
func (e *Engine) NewDraft(ctx context.Context, xpub string, outputs []datastore.DraftOutput) (*datastore.Draft, error) {
	if len(outputs) == 0 {
		return nil, ErrNoOutputs
	}
	key, err := keys.FromString(xpub)
	if err != nil {
		return nil, err
	}
	xpubID := keys.XPubID(key.Neuter().String())
	if _, err := e.store.GetXPub(xpubID); err != nil {
		return nil, err
	}

	target := uint64(0)
	numOutputs := 0
	for i := range outputs {
		if err := e.resolveOutput(ctx, &outputs[i]); err != nil {
			return nil, err
		}
		target += outputs[i].Satoshis
		numOutputs += len(outputs[i].LockingScripts)
	}

	feeUnit := e.chain.FeeUnit(ctx)
	candidates, err := e.store.ListUTXOs(xpubID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	sel, err := selectUTXOs(candidates, target, feeUnit, numOutputs, now)
	if err != nil {
		return nil, err
	}

	draftID := uuid.NewString()
	expiresAt := now.Add(e.opts.DraftExpiry)
	reservedIDs := make([]string, len(sel.utxos))
	for i, u := range sel.utxos {
		reservedIDs[i] = u.ID()
	}
	if err := e.store.ReserveUTXOs(draftID, expiresAt, reservedIDs); err != nil {
		return nil, err
	}

	template, err := e.buildTemplate(xpub, sel, outputs)
	if err != nil {
		_ = e.store.ReleaseUTXOs(draftID)
		return nil, err
	}

	draft := &datastore.Draft{
		ID:          draftID,
		XPubID:      xpubID,
		Status:      datastore.DraftPending,
		Outputs:     outputs,
		ReservedIDs: reservedIDs,
		TemplateHex: template.Hex(),
		Fee:         sel.fee,
		Change:      sel.change,
		ExpiresAt:   expiresAt,
	}
	if err := e.store.PutDraft(draft); err != nil {
		_ = e.store.ReleaseUTXOs(draftID)
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"draft_id": draftID,
		"xpub_id":  xpubID,
		"inputs":   len(reservedIDs),
		"fee":      sel.fee,
		"change":   sel.change,
	}).Debug("draft created")
	return draft, nil
}

// resolveOutput fills in LockingScripts for whichever of Script,
// Address, or Handle the caller supplied.
func (e *Engine) resolveOutput(ctx context.Context, out *datastore.DraftOutput) error {
	switch {
	case len(out.Script) > 0:
		out.LockingScripts = [][]byte{out.Script}
	case out.Address != "":
		lockingScript, err := script.LockAddress(out.Address)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrUnknownDestination, out.Address, err)
		}
		out.LockingScripts = [][]byte{lockingScript}
	case out.Handle != "":
		if e.resolver == nil {
			return fmt.Errorf("%w: no resolver for handle %s", ErrUnknownDestination, out.Handle)
		}
		dst, err := e.resolver.ResolveDestination(ctx, out.Handle, out.Satoshis)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrUnknownDestination, out.Handle, err)
		}
		if len(dst.Outputs) == 0 {
			return fmt.Errorf("%w: %s resolved to no outputs", ErrUnknownDestination, out.Handle)
		}
		for _, o := range dst.Outputs {
			out.LockingScripts = append(out.LockingScripts, o.LockingScript)
		}
		out.Reference = dst.Reference
	default:
		return fmt.Errorf("%w: output names no script, address, or handle", ErrUnknownDestination)
	}
	return nil
}

// buildTemplate assembles the unsigned transaction for a selection.
func (e *Engine) buildTemplate(xpub string, sel *selection, outputs []datastore.DraftOutput) (*tx.Transaction, error) {
	template := tx.NewTransaction()
	for _, u := range sel.utxos {
		sourceTxID, err := txidToBytes(u.TxID)
		if err != nil {
			return nil, err
		}
		satoshis := u.Satoshis
		template.AddInput(&tx.Input{
			SourceTxID:          sourceTxID,
			SourceTxOut:         u.Vout,
			Sequence:            0xffffffff,
			SourceSatoshis:      &satoshis,
			SourceLockingScript: u.LockingScript,
		})
	}
	for _, out := range outputs {
		// Paymail splits a payment across scripts; spread the amount
		// evenly with the remainder on the first.
		n := uint64(len(out.LockingScripts))
		each := out.Satoshis / n
		first := out.Satoshis - each*(n-1)
		for i, lockingScript := range out.LockingScripts {
			satoshis := each
			if i == 0 {
				satoshis = first
			}
			template.AddOutput(&tx.Output{Satoshis: satoshis, LockingScript: lockingScript})
		}
	}
	if sel.change > 0 {
		changeDst, err := e.NewDestination(xpub, true)
		if err != nil {
			return nil, err
		}
		template.AddOutput(&tx.Output{Satoshis: sel.change, LockingScript: changeDst.LockingScript})
	}
	return template, nil
}

// CancelDraft releases a pending draft's reservations and marks it
// canceled.
func (e *Engine) CancelDraft(draftID string) error {
	draft, err := e.store.GetDraft(draftID)
	if err != nil {
		return err
	}
	if draft.Status != datastore.DraftPending {
		return fmt.Errorf("%w: %s is %s", ErrDraftNotPending, draftID, draft.Status)
	}
	draft.Status = datastore.DraftCanceled
	if err := e.store.PutDraft(draft); err != nil {
		return err
	}
	return e.store.ReleaseUTXOs(draftID)
}

// Record accepts a signed transaction in raw, extended, or envelope
// hex, validates its inputs against the identity's reserved UTXOs, and
// commits the spend atomically. Re-recording a known txid returns the
// existing record with no further mutation. Broadcast happens
// asynchronously and never unwinds the committed state.
func (e *Engine) Record(ctx context.Context, xpub, signedHex, draftID string) (*datastore.TransactionRecord, error) {
	key, err := keys.FromString(xpub)
	if err != nil {
		return nil, err
	}
	xpubID := keys.XPubID(key.Neuter().String())

	transaction, err := decodeSigned(signedHex)
	if err != nil {
		return nil, err
	}
	txid := transaction.TxIDHex()

	totalIn := uint64(0)
	spendIDs := make([]string, 0, len(transaction.Inputs))
	for _, in := range transaction.Inputs {
		u, err := e.store.GetUTXO(in.SourceTxIDHex(), in.SourceTxOut)
		if err != nil {
			return nil, fmt.Errorf("input %s:%d: %w", in.SourceTxIDHex(), in.SourceTxOut, err)
		}
		if u.XPubID != xpubID {
			return nil, fmt.Errorf("%w: input %s not owned by identity", datastore.ErrUtxoConflict, u.ID())
		}
		if u.Spent() && u.SpendingTxID != txid {
			return nil, fmt.Errorf("%w: input %s already spent by %s", datastore.ErrUtxoConflict, u.ID(), u.SpendingTxID)
		}
		if u.Reserved(e.now()) && draftID != "" && u.DraftID != draftID {
			return nil, fmt.Errorf("%w: input %s reserved by draft %s", datastore.ErrUtxoConflict, u.ID(), u.DraftID)
		}
		totalIn += u.Satoshis
		spendIDs = append(spendIDs, u.ID())
	}

	createUTXOs := e.ownedOutputs(transaction, txid)

	fee := uint64(0)
	if totalOut := transaction.TotalOutputSatoshis(); totalIn > totalOut {
		fee = totalIn - totalOut
	}

	record, applied, err := e.store.ApplyRecord(&datastore.RecordMutation{
		Record: &datastore.TransactionRecord{
			TxID:    txid,
			XPubID:  xpubID,
			Hex:     transaction.Hex(),
			State:   datastore.StateRecorded,
			DraftID: draftID,
			Fee:     fee,
		},
		SpendIDs:    spendIDs,
		CreateUTXOs: createUTXOs,
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return record, nil
	}

	if draftID != "" {
		if draft, err := e.store.GetDraft(draftID); err == nil {
			draft.Status = datastore.DraftComplete
			if err := e.store.PutDraft(draft); err != nil {
				e.log.WithError(err).WithField("draft_id", draftID).Warn("failed to complete draft")
			}
		}
	}

	e.stats.TxRecorded()
	e.log.WithFields(logrus.Fields{"txid": txid, "xpub_id": xpubID, "fee": fee}).Info("transaction recorded")

	go e.broadcast(txid, transaction.Hex())
	return record, nil
}

// ownedOutputs maps a transaction's outputs onto registered
// destinations, producing the UTXO rows the record creates.
func (e *Engine) ownedOutputs(transaction *tx.Transaction, txid string) []*datastore.UTXO {
	var created []*datastore.UTXO
	for vout, out := range transaction.Outputs {
		dst, err := e.store.GetDestinationByScript(out.LockingScript)
		if err != nil {
			continue
		}
		created = append(created, &datastore.UTXO{
			TxID:          txid,
			Vout:          uint32(vout),
			Satoshis:      out.Satoshis,
			LockingScript: out.LockingScript,
			XPubID:        dst.XPubID,
			DestinationID: dst.ID,
			Bucket:        datastore.BucketFor(out.Satoshis),
		})
	}
	return created
}

// broadcast submits a committed transaction to the chain service. It
// runs detached from the recording caller; failures are logged and
// left for reconciliation.
func (e *Engine) broadcast(txid, rawHex string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.BroadcastTimeout)
	defer cancel()

	start := e.now()
	info, err := e.chain.Broadcast(ctx, rawHex)
	e.stats.ObserveBroadcast(e.now().Sub(start).Seconds())
	if err != nil {
		e.stats.BroadcastFailed()
		e.log.WithError(err).WithField("txid", txid).Warn("broadcast failed, leaving for reconciliation")
		return
	}
	if err := e.ApplyStatus(ctx, info); err != nil {
		e.log.WithError(err).WithField("txid", txid).Warn("failed to apply broadcast response")
	}
}

// ApplyStatus projects a broadcaster status onto the local lifecycle.
// Only forward progress is applied; stale or duplicate projections are
// dropped, so arrival order does not matter. Promotion to mined
// requires the attached Merkle path to verify against a trusted root.
func (e *Engine) ApplyStatus(ctx context.Context, info *chain.TXInfo) error {
	if info == nil {
		return fmt.Errorf("%w: tx info", ErrNilParam)
	}
	current, err := e.store.GetTransaction(info.TxID)
	if err != nil {
		return err
	}

	next := lifecycleState(info.TxStatus)
	if next == "" || !next.Supersedes(current.State) {
		e.log.WithFields(logrus.Fields{
			"txid":   info.TxID,
			"status": info.TxStatus,
			"state":  current.State,
		}).Debug("dropping stale status projection")
		return nil
	}

	// Path verification runs outside the store transaction; the ordering
	// guard is re-checked inside it, so a concurrent projection cannot
	// overwrite a terminal state between the read above and the write.
	if next == datastore.StateMined {
		if err := e.verifyMined(ctx, info); err != nil {
			return err
		}
	}

	record, advanced, err := e.store.AdvanceTransactionState(info.TxID, next, func(r *datastore.TransactionRecord) {
		if next == datastore.StateMined {
			r.BlockHash = info.BlockHash
			r.BlockHeight = info.BlockHeight
			r.MerklePath = info.MerklePath
		}
	})
	if err != nil {
		return err
	}
	if !advanced {
		e.log.WithFields(logrus.Fields{
			"txid":   info.TxID,
			"status": info.TxStatus,
			"state":  record.State,
		}).Debug("dropping stale status projection")
		return nil
	}

	if next == datastore.StateRejected && e.opts.ReleaseUtxosOnReject {
		if err := e.releaseSpentInputs(record); err != nil {
			return err
		}
	}

	e.stats.CallbackApplied(string(next))
	e.log.WithFields(logrus.Fields{"txid": info.TxID, "state": next}).Info("transaction state advanced")
	return nil
}

// verifyMined checks the projection's Merkle path: the path must prove
// the txid and fold to a root the header service vouches for.
func (e *Engine) verifyMined(ctx context.Context, info *chain.TXInfo) error {
	if info.MerklePath == "" {
		return fmt.Errorf("%w: mined status for %s carries no merkle path", spv.ErrMalformedPath, info.TxID)
	}
	path, err := spv.NewMerklePathFromHex(info.MerklePath)
	if err != nil {
		return err
	}
	return spv.Verify(ctx, path, info.TxID, e.chain)
}

// releaseSpentInputs returns a rejected transaction's inputs to the
// spendable pool.
func (e *Engine) releaseSpentInputs(record *datastore.TransactionRecord) error {
	transaction, err := tx.FromHex(record.Hex)
	if err != nil {
		return err
	}
	for _, in := range transaction.Inputs {
		u, err := e.store.GetUTXO(in.SourceTxIDHex(), in.SourceTxOut)
		if err != nil {
			continue
		}
		if u.SpendingTxID != record.TxID {
			continue
		}
		u.SpendingTxID = ""
		if err := e.store.PutUTXO(u); err != nil {
			return err
		}
	}
	return nil
}

// SyncPending reconciles transactions stuck in recorded or broadcast
// past the sync threshold by polling the broadcaster and applying the
// result. Per-transaction failures are logged and skipped.
func (e *Engine) SyncPending(ctx context.Context) error {
	cutoff := e.now().Add(-e.opts.SyncAfter)
	for _, state := range []datastore.TxState{datastore.StateRecorded, datastore.StateBroadcast} {
		records, err := e.store.ListTransactionsByState(state)
		if err != nil {
			return err
		}
		for _, record := range records {
			if record.UpdatedAt.After(cutoff) {
				continue
			}
			info, err := e.chain.QueryStatus(ctx, record.TxID)
			if errors.Is(err, chain.ErrTxNotFound) {
				// The broadcaster never saw it: the original submission
				// was lost, so submit again instead of polling forever.
				e.log.WithField("txid", record.TxID).Info("broadcaster has no record, resubmitting")
				info, err = e.chain.Broadcast(ctx, record.Hex)
			}
			if err != nil {
				e.log.WithError(err).WithField("txid", record.TxID).Warn("reconciliation query failed")
				continue
			}
			if err := e.ApplyStatus(ctx, info); err != nil {
				e.log.WithError(err).WithField("txid", record.TxID).Warn("reconciliation apply failed")
			}
		}
	}
	return nil
}

// ExpireDrafts marks lapsed pending drafts expired and releases their
// reservations.
func (e *Engine) ExpireDrafts() error {
	drafts, err := e.store.ListDraftsByStatus(datastore.DraftPending)
	if err != nil {
		return err
	}
	now := e.now()
	for _, draft := range drafts {
		if draft.ExpiresAt.After(now) {
			continue
		}
		draft.Status = datastore.DraftExpired
		if err := e.store.PutDraft(draft); err != nil {
			return err
		}
		if err := e.store.ReleaseUTXOs(draft.ID); err != nil {
			return err
		}
		e.log.WithField("draft_id", draft.ID).Debug("draft expired")
	}
	return nil
}

// Balance sums the identity's currently spendable satoshis.
func (e *Engine) Balance(xpubID string) (uint64, error) {
	utxos, err := e.store.ListUTXOs(xpubID)
	if err != nil {
		return 0, err
	}
	now := e.now()
	total := uint64(0)
	for _, u := range utxos {
		if u.Spendable(now) {
			total += u.Satoshis
		}
	}
	return total, nil
}

// lifecycleState maps a broadcaster status onto the local lifecycle.
// Unknown statuses map to the empty state and are dropped.
func lifecycleState(status chain.TxStatus) datastore.TxState {
	switch status {
	case chain.StatusQueued, chain.StatusReceived, chain.StatusStored,
		chain.StatusAnnounced, chain.StatusRequestedByNet,
		chain.StatusSentToNetwork, chain.StatusAcceptedByNetwork:
		return datastore.StateBroadcast
	case chain.StatusSeenOnNetwork:
		return datastore.StateSeenOnNetwork
	case chain.StatusMined, chain.StatusConfirmed:
		return datastore.StateMined
	case chain.StatusRejected:
		return datastore.StateRejected
	default:
		return ""
	}
}

// decodeSigned accepts raw, extended, or envelope hex and returns the
// subject transaction.
func decodeSigned(signedHex string) (*tx.Transaction, error) {
	b, err := hex.DecodeString(signedHex)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex: %w", tx.ErrMalformedTransaction, err)
	}
	switch {
	case tx.IsEF(b):
		return tx.FromEFBytes(b)
	case tx.IsBEEF(b):
		envelope, err := tx.FromBEEFBytes(b)
		if err != nil {
			return nil, err
		}
		target := envelope.Target()
		if target == nil {
			return nil, fmt.Errorf("%w: envelope holds no transactions", tx.ErrMalformedEnvelope)
		}
		return target, nil
	default:
		return tx.FromBytes(b)
	}
}

// txidToBytes converts a display-order txid into internal byte order.
func txidToBytes(txid string) ([]byte, error) {
	b, err := hex.DecodeString(txid)
	if err != nil || len(b) != 32 {
		return nil, fmt.Errorf("%w: bad txid %q", tx.ErrMalformedTransaction, txid)
	}
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return b, nil
}
