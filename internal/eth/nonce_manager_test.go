package eth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type fakeNoncer struct {
	mu    sync.Mutex
	nonce uint64
	err   error
	calls int
}

func (f *fakeNoncer) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.nonce, f.err
}

func TestNonceManager_Reserve_ReadsChainEveryTime(t *testing.T) {
	ctx := context.Background()
	addr := common.HexToAddress("0x1234567890abcdef1234567890abcdef12345678")
	backend := &fakeNoncer{nonce: 5}

	m := NewNonceManager(backend, addr)

	n, release, err := m.Reserve(ctx)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if n != 5 {
		t.Fatalf("nonce: got %d want %d", n, 5)
	}
	release()
	release() // idempotent

	// A dropped transaction lowers the pending count; the manager follows the chain.
	backend.mu.Lock()
	backend.nonce = 4
	backend.mu.Unlock()

	n, release, err = m.Reserve(ctx)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	release()
	if n != 4 {
		t.Fatalf("nonce: got %d want %d", n, 4)
	}
	if backend.calls != 2 {
		t.Fatalf("backend calls: got %d want %d", backend.calls, 2)
	}
}

func TestNonceManager_Reserve_SerializesHolders(t *testing.T) {
	ctx := context.Background()
	m := NewNonceManager(&fakeNoncer{nonce: 1}, common.Address{})

	_, release, err := m.Reserve(ctx)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		_, r2, err := m.Reserve(ctx)
		if err == nil {
			r2()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatalf("second reservation did not wait for release")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatalf("second reservation never acquired")
	}
}

func TestNonceManager_Reserve_ReleasesOnBackendError(t *testing.T) {
	ctx := context.Background()
	backend := &fakeNoncer{err: errors.New("boom")}
	m := NewNonceManager(backend, common.Address{})

	if _, _, err := m.Reserve(ctx); err == nil {
		t.Fatalf("expected error")
	}

	backend.mu.Lock()
	backend.err = nil
	backend.mu.Unlock()

	_, release, err := m.Reserve(ctx)
	if err != nil {
		t.Fatalf("Reserve after error: %v", err)
	}
	release()
}

func TestNonceManager_Hold_BlocksReserveWithoutReading(t *testing.T) {
	ctx := context.Background()
	backend := &fakeNoncer{nonce: 7}
	m := NewNonceManager(backend, common.Address{})

	release := m.Hold()
	backend.mu.Lock()
	calls := backend.calls
	backend.mu.Unlock()
	if calls != 0 {
		t.Fatalf("Hold read the chain: %d calls", calls)
	}

	acquired := make(chan struct{})
	go func() {
		_, r2, err := m.Reserve(ctx)
		if err == nil {
			r2()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatalf("reservation did not wait for Hold release")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	release()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatalf("reservation never acquired")
	}
}
