package eth

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type PendingNoncer interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager serializes transaction submission for a single EVM account.
//
// Every reservation reads the account's pending nonce from the chain, so a transaction that was dropped or
// replaced outside this process never leaves a gap. The manager stays held until the caller releases it,
// which keeps two submissions from racing for the same nonce.
type NonceManager struct {
	backend PendingNoncer
	addr    common.Address

	mu sync.Mutex
}

func NewNonceManager(backend PendingNoncer, addr common.Address) *NonceManager {
	return &NonceManager{
		backend: backend,
		addr:    addr,
	}
}

// Reserve blocks until no other reservation is outstanding, then returns the chain's pending nonce.
// release must be called exactly once, after the transaction was broadcast or abandoned.
func (m *NonceManager) Reserve(ctx context.Context) (nonce uint64, release func(), err error) {
	m.mu.Lock()

	n, err := m.backend.PendingNonceAt(ctx, m.addr)
	if err != nil {
		m.mu.Unlock()
		return 0, nil, err
	}

	var once sync.Once
	return n, func() { once.Do(m.mu.Unlock) }, nil
}

// Hold takes the same lock as Reserve without reading the chain. It serializes a same-nonce replacement
// with new submissions.
func (m *NonceManager) Hold() (release func()) {
	m.mu.Lock()
	var once sync.Once
	return func() { once.Do(m.mu.Unlock) }
}
