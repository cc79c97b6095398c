package withdrawwatcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/dedup"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/eth"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/proofclient"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/withdrawal"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/withdrawfinalizer"
	"github.com/ethereum/go-ethereum/common"
)

var (
	engineTokenBridge = common.HexToAddress("0x00000000000000000000000000000000000e7b02")
	engineETHBridge   = common.HexToAddress("0x00000000000000000000000000000000000e7b01")
)

// queuedOracle reports not-ready until notReady answers are used up, then a complete claim.
type queuedOracle struct {
	notReady int
	calls    int
}

func (o *queuedOracle) FetchClaim(_ context.Context, _ withdrawal.ID) (withdrawal.Claim, error) {
	o.calls++
	if o.notReady > 0 {
		o.notReady--
		return withdrawal.Claim{}, fmt.Errorf("%w: not claimable", proofclient.ErrNotReady)
	}
	return withdrawal.Claim{
		From:         common.HexToAddress("0x0000000000000000000000000000000000000aaa"),
		Value:        big.NewInt(10),
		MessageNonce: big.NewInt(3),
		Message:      []byte{0x01},
		BatchIndex:   big.NewInt(9),
		MerkleProof:  []byte{0x02},
	}, nil
}

// minedL1 mines every submission immediately; revertWith makes it revert with that reason instead.
type minedL1 struct {
	revertWith error
	submits    []common.Address
}

func (l *minedL1) IsRelayed(context.Context, withdrawal.Claim, common.Address) (bool, error) {
	return false, nil
}

func (l *minedL1) SubmitFinalization(_ context.Context, _ withdrawal.Claim, bridge common.Address) (eth.Submission, error) {
	l.submits = append(l.submits, bridge)
	return eth.Submission{
		TxHash:   common.BigToHash(big.NewInt(int64(len(l.submits)))),
		Bridge:   bridge,
		Nonce:    uint64(len(l.submits)),
		GasPrice: big.NewInt(100),
		SentAt:   time.Now(),
	}, nil
}

func (l *minedL1) ReplaceFinalization(context.Context, eth.Submission) (eth.Submission, error) {
	return eth.Submission{}, errors.New("unexpected replacement")
}

func (l *minedL1) receipt(h common.Hash) eth.Receipt {
	return eth.Receipt{TxHash: h, Success: l.revertWith == nil, BlockNumber: big.NewInt(200)}
}

func (l *minedL1) ReceiptStatus(_ context.Context, h common.Hash) (eth.Receipt, bool, error) {
	return l.receipt(h), true, nil
}

func (l *minedL1) WaitForReceipt(_ context.Context, h common.Hash, _ time.Duration) (eth.Receipt, error) {
	return l.receipt(h), nil
}

func (l *minedL1) RevertReason(context.Context, eth.Submission, *big.Int) error {
	return l.revertWith
}

type engineSetup struct {
	store  *dedup.MemoryStore
	chain  *fakeChain
	oracle *queuedOracle
	l1     *minedL1
	w      *Watcher
}

// newEngineSetup wires the real engine under the watcher, with a token withdrawal emitted at block 100.
func newEngineSetup(t *testing.T, id withdrawal.ID) *engineSetup {
	t.Helper()
	s := &engineSetup{
		store: dedup.NewMemoryStore(),
		chain: &fakeChain{head: 100, events: []eth.WithdrawEvent{
			{ID: id, Kind: withdrawal.KindToken, BlockNumber: 100},
		}},
		oracle: &queuedOracle{},
		l1:     &minedL1{},
	}
	if err := s.store.SetCursor(context.Background(), 99); err != nil {
		t.Fatalf("SetCursor: %v", err)
	}
	f, err := withdrawfinalizer.New(withdrawfinalizer.Config{
		L1Bridges: map[withdrawal.Kind]common.Address{
			withdrawal.KindETH:   engineETHBridge,
			withdrawal.KindToken: engineTokenBridge,
		},
	}, s.store, s.oracle, s.l1, nil)
	if err != nil {
		t.Fatalf("withdrawfinalizer.New: %v", err)
	}
	s.w, err = New(Config{}, s.store, s.chain, f, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func (s *engineSetup) cycle(t *testing.T) CycleStats {
	t.Helper()
	stats, err := s.w.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	return stats
}

func (s *engineSetup) in(t *testing.T, set dedup.Set, id withdrawal.ID) bool {
	t.Helper()
	ok, err := s.store.Contains(context.Background(), set, id)
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	return ok
}

func TestCycleWithEngine_HappyPath(t *testing.T) {
	t.Parallel()

	id := testID(0xabc)
	s := newEngineSetup(t, id)

	stats := s.cycle(t)
	if stats.Discovered != 1 || stats.Finalized != 1 {
		t.Fatalf("stats: %+v", stats)
	}
	if !s.in(t, dedup.SetProcessed, id) || s.in(t, dedup.SetPendingToken, id) {
		t.Fatalf("id should be processed and not pending-token")
	}
	if len(s.l1.submits) != 1 || s.l1.submits[0] != engineTokenBridge {
		t.Fatalf("submits: %v", s.l1.submits)
	}

	// Processed ids are never submitted again.
	s.chain.head = 101
	s.cycle(t)
	if len(s.l1.submits) != 1 {
		t.Fatalf("resubmitted a processed id: %d", len(s.l1.submits))
	}
}

func TestCycleWithEngine_DelayedProof(t *testing.T) {
	t.Parallel()

	id := testID(0xabc)
	s := newEngineSetup(t, id)
	s.oracle.notReady = 3

	for i := 1; i <= 3; i++ {
		s.cycle(t)
		if !s.in(t, dedup.SetPendingToken, id) || s.in(t, dedup.SetProcessed, id) {
			t.Fatalf("cycle %d: id should still be pending-token", i)
		}
		if len(s.l1.submits) != 0 {
			t.Fatalf("cycle %d: submitted without a proof", i)
		}
	}

	s.cycle(t)
	if !s.in(t, dedup.SetProcessed, id) || s.in(t, dedup.SetPendingToken, id) {
		t.Fatalf("cycle 4: id should be processed")
	}
	if len(s.l1.submits) != 1 || s.oracle.calls != 4 {
		t.Fatalf("submits=%d oracle calls=%d", len(s.l1.submits), s.oracle.calls)
	}
}

func TestCycleWithEngine_AlreadyRelayedRevert(t *testing.T) {
	t.Parallel()

	id := testID(0xabc)
	s := newEngineSetup(t, id)
	s.l1.revertWith = errors.New("execution reverted: Message was already successfully executed")

	s.cycle(t)
	if !s.in(t, dedup.SetProcessed, id) || s.in(t, dedup.SetPendingToken, id) {
		t.Fatalf("already-relayed revert should finalize")
	}
}
