package withdrawfinalizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/blobstore"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/dedup"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/eth"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/metrics"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/notify"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/proofclient"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/withdrawal"
	"github.com/ethereum/go-ethereum/common"
)

var ErrInvalidConfig = errors.New("withdrawfinalizer: invalid config")

const (
	DefaultReceiptTimeout     = 5 * time.Minute
	DefaultAbandonAfter       = 30 * time.Minute
	DefaultAlertAfterAttempts = 720
	DefaultAlertAfterAge      = 24 * time.Hour
	DefaultAlertRepeat        = 6 * time.Hour
)

// Finality sources, used in logs, metrics and events.
const (
	viaReceipt        = "receipt"
	viaAlreadyRelayed = "already_relayed"
	viaOnchainCheck   = "onchain_check"
)

// Store is the part of dedup.Store the engine mutates.
type Store interface {
	Contains(ctx context.Context, set dedup.Set, id withdrawal.ID) (bool, error)
	Add(ctx context.Context, set dedup.Set, id withdrawal.ID) error
	Remove(ctx context.Context, set dedup.Set, id withdrawal.ID) error
}

// L1 is the finalization side of eth.L1Client.
type L1 interface {
	IsRelayed(ctx context.Context, claim withdrawal.Claim, bridge common.Address) (bool, error)
	SubmitFinalization(ctx context.Context, claim withdrawal.Claim, bridge common.Address) (eth.Submission, error)
	ReplaceFinalization(ctx context.Context, prev eth.Submission) (eth.Submission, error)
	ReceiptStatus(ctx context.Context, txHash common.Hash) (eth.Receipt, bool, error)
	WaitForReceipt(ctx context.Context, txHash common.Hash, timeout time.Duration) (eth.Receipt, error)
	RevertReason(ctx context.Context, sub eth.Submission, block *big.Int) error
}

type Outcome uint8

const (
	// OutcomeSkipped: the id was already processed.
	OutcomeSkipped Outcome = iota + 1
	// OutcomePending: no proof yet, or the attempt failed; the id stays pending.
	OutcomePending
	// OutcomeSubmitted: a finalization transaction is outstanding without a receipt.
	OutcomeSubmitted
	// OutcomeFinalized: the id moved to processed.
	OutcomeFinalized
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return metrics.OutcomeSkipped
	case OutcomePending:
		return metrics.OutcomePending
	case OutcomeSubmitted:
		return metrics.OutcomeSubmitted
	case OutcomeFinalized:
		return metrics.OutcomeFinalized
	default:
		return "unknown"
	}
}

type Config struct {
	// L1Bridges maps each asset kind to the L1 gateway passed as the relay target.
	L1Bridges map[withdrawal.Kind]common.Address

	// ReceiptTimeout bounds the in-cycle receipt wait. A transaction still unmined after it stays
	// outstanding and is re-checked by hash on later attempts.
	ReceiptTimeout time.Duration
	// AbandonAfter is how long an outstanding transaction may stay unmined before it is replaced at the
	// same nonce with a higher gas price.
	AbandonAfter time.Duration

	// Stuck alerting. A negative value disables that trigger.
	AlertAfterAttempts int
	AlertAfterAge      time.Duration
	AlertRepeat        time.Duration

	Now func() time.Time
}

// Status is the engine's in-memory view of a withdrawal it has not yet finalized.
type Status struct {
	ID        withdrawal.ID
	Kind      withdrawal.Kind
	State     withdrawal.State
	Attempts  int
	FirstSeen time.Time
	LastError string
	L1TxHash  common.Hash
}

type record struct {
	kind      withdrawal.Kind
	state     withdrawal.State
	attempts  int
	firstSeen time.Time
	lastError string
	lastAlert time.Time
	sub       *eth.Submission
}

// Finalizer drives a withdrawal from discovery to processed. Relay calls are serialized so at most one
// finalization transaction is being prepared at a time.
type Finalizer struct {
	cfg Config

	store  Store
	oracle proofclient.Client
	l1     L1

	blobStore blobstore.Store
	notifier  notify.Notifier
	metrics   *metrics.Relayer

	log *slog.Logger

	relayMu sync.Mutex

	mu      sync.Mutex
	records map[withdrawal.ID]*record
}

func New(cfg Config, store Store, oracle proofclient.Client, l1 L1, log *slog.Logger) (*Finalizer, error) {
	if store == nil || oracle == nil || l1 == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidConfig)
	}
	if len(cfg.L1Bridges) == 0 {
		return nil, fmt.Errorf("%w: no L1 bridges configured", ErrInvalidConfig)
	}
	for kind, addr := range cfg.L1Bridges {
		if !kind.Valid() {
			return nil, fmt.Errorf("%w: invalid kind %d", ErrInvalidConfig, kind)
		}
		if (addr == common.Address{}) {
			return nil, fmt.Errorf("%w: zero L1 bridge for %s", ErrInvalidConfig, kind)
		}
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = DefaultReceiptTimeout
	}
	if cfg.AbandonAfter <= 0 {
		cfg.AbandonAfter = DefaultAbandonAfter
	}
	if cfg.AbandonAfter < cfg.ReceiptTimeout {
		return nil, fmt.Errorf("%w: AbandonAfter must be >= ReceiptTimeout", ErrInvalidConfig)
	}
	if cfg.AlertAfterAttempts == 0 {
		cfg.AlertAfterAttempts = DefaultAlertAfterAttempts
	}
	if cfg.AlertAfterAge == 0 {
		cfg.AlertAfterAge = DefaultAlertAfterAge
	}
	if cfg.AlertRepeat <= 0 {
		cfg.AlertRepeat = DefaultAlertRepeat
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	bridges := make(map[withdrawal.Kind]common.Address, len(cfg.L1Bridges))
	for k, v := range cfg.L1Bridges {
		bridges[k] = v
	}
	cfg.L1Bridges = bridges

	return &Finalizer{
		cfg:      cfg,
		store:    store,
		oracle:   oracle,
		l1:       l1,
		notifier: notify.Nop{},
		log:      log,
		records:  make(map[withdrawal.ID]*record),
	}, nil
}

// WithBlobStore enables claim and submission artifacts.
func (f *Finalizer) WithBlobStore(store blobstore.Store) *Finalizer {
	f.blobStore = store
	return f
}

func (f *Finalizer) WithNotifier(n notify.Notifier) *Finalizer {
	if n == nil {
		n = notify.Nop{}
	}
	f.notifier = n
	return f
}

func (f *Finalizer) WithMetrics(m *metrics.Relayer) *Finalizer {
	f.metrics = m
	return f
}

// Status reports transient state for a withdrawal the engine has attempted but not finalized.
func (f *Finalizer) Status(id withdrawal.ID) (Status, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return Status{}, false
	}
	st := Status{
		ID:        id,
		Kind:      r.kind,
		State:     r.state,
		Attempts:  r.attempts,
		FirstSeen: r.firstSeen,
		LastError: r.lastError,
	}
	if r.sub != nil {
		st.L1TxHash = r.sub.TxHash
	}
	return st, true
}

// Relay makes one attempt at finalizing w. Oracle, RPC and transaction failures are logged and reported as
// OutcomePending; the returned error is reserved for invalid input, dedup store failures and cancellation.
func (f *Finalizer) Relay(ctx context.Context, w withdrawal.Withdrawal) (Outcome, error) {
	id, err := withdrawal.ParseID(string(w.ID))
	if err != nil {
		return 0, err
	}
	if !w.Kind.Valid() {
		return 0, fmt.Errorf("%w: %d", withdrawal.ErrInvalidKind, w.Kind)
	}
	bridge, ok := f.cfg.L1Bridges[w.Kind]
	if !ok {
		return 0, fmt.Errorf("%w: no L1 bridge for %s", ErrInvalidConfig, w.Kind)
	}
	pendingSet, err := dedup.PendingSet(w.Kind)
	if err != nil {
		return 0, err
	}

	f.relayMu.Lock()
	defer f.relayMu.Unlock()

	a := &attempt{f: f, id: id, kind: w.Kind, bridge: bridge, pendingSet: pendingSet,
		log: f.log.With("id", id.String(), "kind", w.Kind.String())}
	out, err := a.run(ctx)
	if err != nil {
		f.metrics.Attempt(w.Kind.String(), metrics.OutcomeError)
		return out, err
	}
	f.metrics.Attempt(w.Kind.String(), out.String())
	return out, nil
}

type attempt struct {
	f          *Finalizer
	id         withdrawal.ID
	kind       withdrawal.Kind
	bridge     common.Address
	pendingSet dedup.Set
	log        *slog.Logger
}

func (a *attempt) run(ctx context.Context) (Outcome, error) {
	f := a.f

	done, err := f.store.Contains(ctx, dedup.SetProcessed, a.id)
	if err != nil {
		return 0, fmt.Errorf("withdrawfinalizer: check processed: %w", err)
	}
	if done {
		// Residue from a crash between the processed add and the pending remove.
		if err := f.store.Remove(ctx, a.pendingSet, a.id); err != nil {
			a.log.Warn("remove stale pending entry", "err", err)
		}
		f.forget(a.id)
		a.log.Debug("already processed")
		return OutcomeSkipped, nil
	}

	// Write-ahead: the id is pending before anything is broadcast, so a crash never loses it.
	if err := f.store.Add(ctx, a.pendingSet, a.id); err != nil {
		return 0, fmt.Errorf("withdrawfinalizer: add pending: %w", err)
	}
	rec := f.touch(a.id, a.kind)

	if rec.sub != nil {
		out, resolved, err := a.recheck(ctx, *rec.sub)
		if err != nil || resolved {
			return out, err
		}
	}

	f.setState(a.id, withdrawal.StateAwaitingProof, "")
	claim, err := f.oracle.FetchClaim(ctx, a.id)
	if err != nil {
		if ctx.Err() != nil {
			return OutcomePending, ctx.Err()
		}
		if errors.Is(err, proofclient.ErrNotReady) {
			a.log.Info("claim not ready")
		} else {
			f.metrics.OracleError()
			a.log.Error("proof oracle", "err", err)
		}
		f.setState(a.id, withdrawal.StateAwaitingProof, err.Error())
		a.escalate(ctx)
		return OutcomePending, nil
	}
	f.setState(a.id, withdrawal.StateClaimable, "")
	a.saveClaim(ctx, claim)

	relayed, err := f.l1.IsRelayed(ctx, claim, a.bridge)
	switch {
	case err != nil:
		a.log.Warn("isL2MessageExecuted check failed; submitting anyway", "err", err)
	case relayed:
		return a.finalize(ctx, viaOnchainCheck, common.Hash{})
	}

	sub, err := f.l1.SubmitFinalization(ctx, claim, a.bridge)
	if err != nil {
		switch {
		case eth.IsAlreadyRelayed(err):
			a.log.Info("message already relayed", "err", err)
			return a.finalize(ctx, viaAlreadyRelayed, common.Hash{})
		case ctx.Err() != nil:
			return OutcomePending, ctx.Err()
		case eth.IsNonceConflict(err):
			a.log.Warn("nonce conflict, retrying next cycle", "err", err)
			f.setState(a.id, withdrawal.StateAwaitingProof, err.Error())
			return OutcomePending, nil
		default:
			a.log.Error("submit finalization", "err", err)
			f.setState(a.id, withdrawal.StateAwaitingProof, err.Error())
			a.escalate(ctx)
			return OutcomePending, nil
		}
	}
	a.log.Info("submitted finalization", "tx", sub.TxHash.Hex(), "nonce", sub.Nonce, "gas_price", sub.GasPrice.String())
	return a.track(ctx, sub)
}

// track records a broadcast transaction and waits a bounded time for it to mine.
func (a *attempt) track(ctx context.Context, sub eth.Submission) (Outcome, error) {
	f := a.f
	f.setSubmission(a.id, &sub)
	f.metrics.Submitted(a.kind.String())
	a.saveSubmission(ctx, sub)

	receipt, err := f.l1.WaitForReceipt(ctx, sub.TxHash, f.cfg.ReceiptTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return OutcomeSubmitted, ctx.Err()
		}
		a.log.Warn("receipt not available yet", "tx", sub.TxHash.Hex(), "err", err)
		f.setState(a.id, withdrawal.StateSubmitted, err.Error())
		return OutcomeSubmitted, nil
	}
	f.metrics.ReceiptWait(f.cfg.Now().Sub(sub.SentAt).Seconds())
	return a.settle(ctx, sub, receipt)
}

// recheck resolves an outstanding submission. Every transaction sent at its nonce is checked, since an
// earlier one may mine after being replaced. A submission unmined past AbandonAfter is replaced at the same
// nonce. resolved is false only when the nonce was consumed without any of those transactions mining, and
// the caller should go on to fetch a claim and submit afresh.
func (a *attempt) recheck(ctx context.Context, sub eth.Submission) (Outcome, bool, error) {
	f := a.f
	var lookupErr error
	for _, h := range sub.Hashes() {
		receipt, mined, err := f.l1.ReceiptStatus(ctx, h)
		if err != nil {
			if ctx.Err() != nil {
				return OutcomeSubmitted, true, ctx.Err()
			}
			lookupErr = err
			continue
		}
		if mined {
			settled := sub
			settled.TxHash = h
			out, err := a.settle(ctx, settled, receipt)
			return out, true, err
		}
	}

	age := f.cfg.Now().Sub(sub.SentAt)
	if age < f.cfg.AbandonAfter || lookupErr != nil {
		if lookupErr != nil {
			a.log.Warn("receipt lookup failed", "tx", sub.TxHash.Hex(), "err", lookupErr)
		} else {
			a.log.Info("finalization still outstanding", "tx", sub.TxHash.Hex(), "age", age.Round(time.Second))
		}
		return OutcomeSubmitted, true, nil
	}

	replacement, err := f.l1.ReplaceFinalization(ctx, sub)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return OutcomeSubmitted, true, ctx.Err()
		case eth.IsNonceTooLow(err):
			// Something else mined at this nonce. The caller's isL2MessageExecuted check covers a
			// replaced transaction that mined after the receipt lookups above.
			a.log.Warn("nonce consumed by another transaction; submitting afresh", "tx", sub.TxHash.Hex(), "nonce", sub.Nonce)
			f.setSubmission(a.id, nil)
			return 0, false, nil
		default:
			a.log.Error("replace stuck finalization", "tx", sub.TxHash.Hex(), "nonce", sub.Nonce, "err", err)
			f.setState(a.id, withdrawal.StateSubmitted, err.Error())
			a.escalate(ctx)
			return OutcomeSubmitted, true, nil
		}
	}
	a.log.Warn("replaced stuck finalization",
		"tx", replacement.TxHash.Hex(),
		"replaces", sub.TxHash.Hex(),
		"nonce", replacement.Nonce,
		"gas_price", replacement.GasPrice.String(),
		"age", age.Round(time.Second),
	)
	out, err := a.track(ctx, replacement)
	return out, true, err
}

// settle acts on a mined receipt.
func (a *attempt) settle(ctx context.Context, sub eth.Submission, receipt eth.Receipt) (Outcome, error) {
	f := a.f
	if receipt.Success {
		return a.finalize(ctx, viaReceipt, sub.TxHash)
	}

	reason := f.l1.RevertReason(ctx, sub, receipt.BlockNumber)
	if eth.IsAlreadyRelayed(reason) {
		a.log.Info("finalization reverted as already relayed", "tx", sub.TxHash.Hex())
		return a.finalize(ctx, viaAlreadyRelayed, sub.TxHash)
	}
	msg := "reverted"
	if reason != nil {
		msg = "reverted: " + reason.Error()
	}
	a.log.Error("finalization reverted", "tx", sub.TxHash.Hex(), "block", receipt.BlockNumber, "reason", reason)
	f.setSubmission(a.id, nil)
	f.setState(a.id, withdrawal.StateAwaitingProof, msg)
	a.escalate(ctx)
	return OutcomePending, nil
}

// finalize records the id as processed, then drops it from its pending set. The order matters: a crash in
// between leaves processed authoritative.
func (a *attempt) finalize(ctx context.Context, via string, txHash common.Hash) (Outcome, error) {
	f := a.f
	if err := f.store.Add(ctx, dedup.SetProcessed, a.id); err != nil {
		return OutcomePending, fmt.Errorf("withdrawfinalizer: add processed: %w", err)
	}
	if err := f.store.Remove(ctx, a.pendingSet, a.id); err != nil {
		a.log.Warn("remove pending after finalize", "err", err)
	}
	f.forget(a.id)
	f.metrics.Finalized(a.kind.String(), via)

	args := []any{"via", via}
	if (txHash != common.Hash{}) {
		args = append(args, "tx", txHash.Hex())
	}
	a.log.Info("finalized", args...)

	ev := notify.FinalizedEvent{ID: a.id.String(), Kind: a.kind.String(), Via: via, At: f.cfg.Now().UTC()}
	if (txHash != common.Hash{}) {
		ev.L1TxHash = txHash.Hex()
	}
	if err := f.notifier.Finalized(ctx, ev); err != nil {
		a.log.Warn("publish finalized event", "err", err)
	}
	return OutcomeFinalized, nil
}

// escalate raises a stuck alert once the attempt count or age crosses its threshold, at most once per
// AlertRepeat.
func (a *attempt) escalate(ctx context.Context) {
	f := a.f
	now := f.cfg.Now()

	f.mu.Lock()
	r, ok := f.records[a.id]
	if !ok {
		f.mu.Unlock()
		return
	}
	age := now.Sub(r.firstSeen)
	overAttempts := f.cfg.AlertAfterAttempts > 0 && r.attempts >= f.cfg.AlertAfterAttempts
	overAge := f.cfg.AlertAfterAge > 0 && age >= f.cfg.AlertAfterAge
	due := r.lastAlert.IsZero() || now.Sub(r.lastAlert) >= f.cfg.AlertRepeat
	if !(overAttempts || overAge) || !due {
		f.mu.Unlock()
		return
	}
	r.lastAlert = now
	ev := notify.StuckEvent{
		ID:        a.id.String(),
		Kind:      a.kind.String(),
		Attempts:  r.attempts,
		FirstSeen: r.firstSeen.UTC(),
		LastError: r.lastError,
		At:        now.UTC(),
	}
	f.mu.Unlock()

	a.log.Error("withdrawal stuck", "attempts", ev.Attempts, "age", age.Round(time.Second), "last_error", ev.LastError)
	f.metrics.Stuck(a.kind.String())
	if err := f.notifier.Stuck(ctx, ev); err != nil {
		a.log.Warn("publish stuck event", "err", err)
	}
}

func (f *Finalizer) touch(id withdrawal.ID, kind withdrawal.Kind) record {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		r = &record{kind: kind, state: withdrawal.StateDiscovered, firstSeen: f.cfg.Now()}
		f.records[id] = r
	}
	r.attempts++
	out := *r
	if r.sub != nil {
		sub := *r.sub
		out.sub = &sub
	}
	return out
}

func (f *Finalizer) setState(id withdrawal.ID, state withdrawal.State, lastError string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.records[id]; ok {
		r.state = state
		if lastError != "" {
			r.lastError = lastError
		}
	}
}

func (f *Finalizer) setSubmission(id withdrawal.ID, sub *eth.Submission) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.records[id]; ok {
		r.sub = sub
		if sub != nil {
			r.state = withdrawal.StateSubmitted
		}
	}
}

func (f *Finalizer) forget(id withdrawal.ID) {
	f.mu.Lock()
	delete(f.records, id)
	f.mu.Unlock()
}
