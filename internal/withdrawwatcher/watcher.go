package withdrawwatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/dedup"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/eth"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/metrics"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/withdrawal"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/withdrawfinalizer"
)

var ErrInvalidConfig = errors.New("withdrawwatcher: invalid config")

const (
	DefaultInterval      = 30 * time.Second
	DefaultErrorInterval = 60 * time.Second
	DefaultMaxBlockRange = 2000
)

type Relayer interface {
	Relay(ctx context.Context, w withdrawal.Withdrawal) (withdrawfinalizer.Outcome, error)
}

// Chain is the L2 side of the relayer.
type Chain interface {
	CurrentBlockHeight(ctx context.Context) (uint64, error)
	WithdrawEvents(ctx context.Context, from, to uint64) ([]eth.WithdrawEvent, error)
}

type Store interface {
	Load(ctx context.Context) (dedup.Snapshot, error)
	Cursor(ctx context.Context) (uint64, bool, error)
	SetCursor(ctx context.Context, block uint64) error
}

type Config struct {
	// MaxBlockRange caps one eth_getLogs window.
	MaxBlockRange uint64
	// StartBlock is where scanning begins when no cursor is stored. Zero starts at the current head.
	StartBlock uint64
	// Confirmations keeps the scan this many blocks behind head.
	Confirmations uint64

	Interval      time.Duration
	ErrorInterval time.Duration

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// CycleStats summarizes one Cycle.
type CycleStats struct {
	Retried    int
	Discovered int
	Finalized  int
	Submitted  int
	Pending    int
	Skipped    int
	Failed     int

	ScannedFrom uint64
	ScannedTo   uint64
	Scanned     bool
}

type Watcher struct {
	cfg     Config
	store   Store
	chain   Chain
	relayer Relayer
	metrics *metrics.Relayer
	log     *slog.Logger
}

func New(cfg Config, store Store, chain Chain, relayer Relayer, log *slog.Logger) (*Watcher, error) {
	if store == nil || chain == nil || relayer == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidConfig)
	}
	if cfg.MaxBlockRange == 0 {
		cfg.MaxBlockRange = DefaultMaxBlockRange
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ErrorInterval <= 0 {
		cfg.ErrorInterval = DefaultErrorInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Watcher{cfg: cfg, store: store, chain: chain, relayer: relayer, log: log}, nil
}

func (w *Watcher) WithMetrics(m *metrics.Relayer) *Watcher {
	w.metrics = m
	return w
}

// Run repeats Cycle until ctx is cancelled, pausing Interval after a clean cycle and ErrorInterval after a
// failed one.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		start := w.cfg.Now()
		stats, err := w.Cycle(ctx)
		if ctx.Err() != nil {
			return nil
		}
		w.metrics.Cycle(w.cfg.Now().Sub(start).Seconds(), err != nil)

		wait := w.cfg.Interval
		if err != nil {
			wait = w.cfg.ErrorInterval
			w.log.Error("poll cycle failed", "err", err, "retry_in", wait)
		} else {
			w.log.Info("poll cycle",
				"retried", stats.Retried,
				"discovered", stats.Discovered,
				"finalized", stats.Finalized,
				"submitted", stats.Submitted,
				"pending", stats.Pending,
				"failed", stats.Failed,
				"scanned_to", stats.ScannedTo,
			)
		}
		if err := w.cfg.Sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

// Cycle retries every pending withdrawal once, then scans L2 blocks past the cursor for new withdrawals.
// A failure on one pending id is logged and does not stop the others. A failure while handling a newly
// discovered withdrawal aborts the scan before the cursor passes it, so the event is seen again.
func (w *Watcher) Cycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats

	snap, err := w.store.Load(ctx)
	if err != nil {
		return stats, fmt.Errorf("withdrawwatcher: load store: %w", err)
	}
	pendingSizes := make(map[string]int, 2)
	for _, kind := range withdrawal.Kinds() {
		pendingSizes[kind.String()] = len(snap.Pending(kind))
	}
	w.metrics.SetSetSizes(snap.Len(dedup.SetProcessed), pendingSizes)

	attempted := make(map[withdrawal.ID]struct{})
	for _, kind := range withdrawal.Kinds() {
		for _, id := range snap.Pending(kind) {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			attempted[id] = struct{}{}
			stats.Retried++
			if err := w.relayOne(ctx, withdrawal.Withdrawal{ID: id, Kind: kind}, &stats); err != nil {
				if ctx.Err() != nil {
					return stats, ctx.Err()
				}
				w.log.Error("relay pending withdrawal", "id", id.String(), "kind", kind.String(), "err", err)
			}
		}
	}

	if err := w.scan(ctx, snap, attempted, &stats); err != nil {
		return stats, err
	}
	return stats, nil
}

func (w *Watcher) scan(ctx context.Context, snap dedup.Snapshot, attempted map[withdrawal.ID]struct{}, stats *CycleStats) error {
	head, err := w.chain.CurrentBlockHeight(ctx)
	if err != nil {
		return fmt.Errorf("withdrawwatcher: l2 head: %w", err)
	}
	if head < w.cfg.Confirmations {
		return nil
	}
	target := head - w.cfg.Confirmations

	cursor, ok, err := w.store.Cursor(ctx)
	if err != nil {
		return fmt.Errorf("withdrawwatcher: read cursor: %w", err)
	}
	var from uint64
	switch {
	case ok:
		from = cursor + 1
	case w.cfg.StartBlock > 0:
		from = w.cfg.StartBlock
	default:
		// First run with no start block: history is skipped, the head block itself is scanned.
		from = target
		w.log.Info("starting scan at head", "block", target)
	}
	if from > target {
		return nil
	}

	stats.Scanned = true
	stats.ScannedFrom = from
	for from <= target {
		to := target
		if to-from+1 > w.cfg.MaxBlockRange {
			to = from + w.cfg.MaxBlockRange - 1
		}
		events, err := w.chain.WithdrawEvents(ctx, from, to)
		if err != nil {
			return fmt.Errorf("withdrawwatcher: withdraw events [%d,%d]: %w", from, to, err)
		}
		for _, ev := range events {
			if _, done := attempted[ev.ID]; done || snap.IsProcessed(ev.ID) || snap.IsPending(ev.ID) {
				continue
			}
			attempted[ev.ID] = struct{}{}
			stats.Discovered++
			w.log.Info("withdrawal discovered", "id", ev.ID.String(), "kind", ev.Kind.String(), "block", ev.BlockNumber)
			if err := w.relayOne(ctx, withdrawal.Withdrawal{ID: ev.ID, Kind: ev.Kind}, stats); err != nil {
				return fmt.Errorf("withdrawwatcher: relay %s at block %d: %w", ev.ID, ev.BlockNumber, err)
			}
		}
		if err := w.store.SetCursor(ctx, to); err != nil {
			return fmt.Errorf("withdrawwatcher: save cursor: %w", err)
		}
		stats.ScannedTo = to
		w.metrics.ScannedBlock(to)
		from = to + 1
	}
	return nil
}

// relayOne contains panics from a single withdrawal so the rest of the cycle continues.
func (w *Watcher) relayOne(ctx context.Context, wd withdrawal.Withdrawal, stats *CycleStats) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("withdrawwatcher: panic relaying %s: %v", wd.ID, r)
		}
		if err != nil {
			stats.Failed++
		}
	}()

	out, err := w.relayer.Relay(ctx, wd)
	if err != nil {
		return err
	}
	switch out {
	case withdrawfinalizer.OutcomeFinalized:
		stats.Finalized++
	case withdrawfinalizer.OutcomeSubmitted:
		stats.Submitted++
	case withdrawfinalizer.OutcomePending:
		stats.Pending++
	case withdrawfinalizer.OutcomeSkipped:
		stats.Skipped++
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
