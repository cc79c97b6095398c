package eth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/bridgeabi"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/withdrawal"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var ErrInvalidL1Config = errors.New("eth: invalid l1 config")

const (
	DefaultFinalizeGasLimit      uint64 = 2_000_000
	DefaultGasPriceMarginPercent        = 20
	DefaultReceiptPollInterval          = 3 * time.Second
	DefaultReplacementBumpPercent       = 15
)

// L1Backend is the subset of ethclient.Client the L1 adapter needs.
type L1Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type L1Config struct {
	ChainID *big.Int

	// GasLimit is fixed rather than estimated. Defaults to 2,000,000.
	GasLimit uint64
	// GasPriceMarginPercent is added on top of the suggested gas price. Defaults to 20; negative disables it.
	GasPriceMarginPercent int
	// MaxGasPrice caps the computed gas price when set.
	MaxGasPrice *big.Int

	// ReplacementBumpPercent raises the previous gas price of a same-nonce replacement. Defaults to 15;
	// must be at least MinReplacementBumpPercent.
	ReplacementBumpPercent int
	// MinReplacementBump is an optional absolute floor on the replacement increase, in wei.
	MinReplacementBump *big.Int

	// Preflight simulates relayMessageWithProof with eth_call before broadcasting, so reverting claims cost
	// no gas.
	Preflight bool

	ReceiptPollInterval time.Duration

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// L1Client finalizes withdrawals against the L1 messenger contracts.
type L1Client struct {
	backend L1Backend
	signer  Signer
	cfg     L1Config
	nonces  *NonceManager

	mu         sync.Mutex
	messengers map[common.Address]common.Address
}

// Submission describes a broadcast finalization transaction.
type Submission struct {
	TxHash    common.Hash
	From      common.Address
	Nonce     uint64
	Bridge    common.Address
	Messenger common.Address
	Data      []byte
	GasPrice  *big.Int
	SentAt    time.Time

	// Replaces lists earlier transactions at the same nonce, oldest first. Any one of them may still be the
	// one that mines.
	Replaces []common.Hash
}

// Hashes returns every transaction hash that can settle this submission, newest first.
func (s Submission) Hashes() []common.Hash {
	out := make([]common.Hash, 0, len(s.Replaces)+1)
	out = append(out, s.TxHash)
	for i := len(s.Replaces) - 1; i >= 0; i-- {
		out = append(out, s.Replaces[i])
	}
	return out
}

// Receipt is the outcome of a mined transaction.
type Receipt struct {
	TxHash      common.Hash
	Success     bool
	BlockNumber *big.Int
	GasUsed     uint64
}

func NewL1Client(backend L1Backend, signer Signer, cfg L1Config) (*L1Client, error) {
	if backend == nil || signer == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidL1Config)
	}
	if (signer.Address() == common.Address{}) {
		return nil, fmt.Errorf("%w: signer has zero address", ErrInvalidL1Config)
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("%w: chain id must be > 0", ErrInvalidL1Config)
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = DefaultFinalizeGasLimit
	}
	if cfg.GasPriceMarginPercent == 0 {
		cfg.GasPriceMarginPercent = DefaultGasPriceMarginPercent
	}
	if cfg.GasPriceMarginPercent < 0 {
		cfg.GasPriceMarginPercent = 0
	}
	if cfg.MaxGasPrice != nil && cfg.MaxGasPrice.Sign() <= 0 {
		return nil, fmt.Errorf("%w: max gas price must be > 0", ErrInvalidL1Config)
	}
	if cfg.ReplacementBumpPercent == 0 {
		cfg.ReplacementBumpPercent = DefaultReplacementBumpPercent
	}
	if cfg.ReplacementBumpPercent < MinReplacementBumpPercent {
		return nil, fmt.Errorf("%w: replacement bump must be >= %d%%", ErrInvalidL1Config, MinReplacementBumpPercent)
	}
	if cfg.MinReplacementBump != nil && cfg.MinReplacementBump.Sign() < 0 {
		return nil, fmt.Errorf("%w: min replacement bump must be >= 0", ErrInvalidL1Config)
	}
	if cfg.ReceiptPollInterval <= 0 {
		cfg.ReceiptPollInterval = DefaultReceiptPollInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}

	return &L1Client{
		backend:    backend,
		signer:     signer,
		cfg:        cfg,
		nonces:     NewNonceManager(backend, signer.Address()),
		messengers: make(map[common.Address]common.Address),
	}, nil
}

// Address is the relayer account paying for finalization.
func (c *L1Client) Address() common.Address { return c.signer.Address() }

// ResolveMessenger reads bridge.messenger() once and caches the answer for the life of the client.
func (c *L1Client) ResolveMessenger(ctx context.Context, bridge common.Address) (common.Address, error) {
	c.mu.Lock()
	if m, ok := c.messengers[bridge]; ok {
		c.mu.Unlock()
		return m, nil
	}
	c.mu.Unlock()

	data, err := bridgeabi.PackMessengerCalldata()
	if err != nil {
		return common.Address{}, err
	}
	ret, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &bridge, Data: data}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("eth: call messenger() on %s: %w", bridge, err)
	}
	m, err := bridgeabi.UnpackMessenger(ret)
	if err != nil {
		return common.Address{}, err
	}
	if (m == common.Address{}) {
		return common.Address{}, fmt.Errorf("eth: bridge %s returned zero messenger", bridge)
	}

	c.mu.Lock()
	c.messengers[bridge] = m
	c.mu.Unlock()
	return m, nil
}

// IsRelayed asks the messenger whether the claim's cross-domain message was already executed on L1.
func (c *L1Client) IsRelayed(ctx context.Context, claim withdrawal.Claim, bridge common.Address) (bool, error) {
	messenger, err := c.ResolveMessenger(ctx, bridge)
	if err != nil {
		return false, err
	}
	h, err := bridgeabi.MessageHash(relayMessage(claim, bridge))
	if err != nil {
		return false, err
	}
	data, err := bridgeabi.PackIsL2MessageExecutedCalldata(h)
	if err != nil {
		return false, err
	}
	ret, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &messenger, Data: data}, nil)
	if err != nil {
		return false, fmt.Errorf("eth: call isL2MessageExecuted: %w", err)
	}
	return bridgeabi.UnpackIsL2MessageExecuted(ret)
}

// SubmitFinalization signs and broadcasts relayMessageWithProof(from, bridge, value, nonce, message, proof)
// against the bridge's messenger. It returns once the transaction is accepted by the node; it does not wait
// for inclusion.
func (c *L1Client) SubmitFinalization(ctx context.Context, claim withdrawal.Claim, bridge common.Address) (Submission, error) {
	if err := claim.Validate(); err != nil {
		return Submission{}, err
	}
	messenger, err := c.ResolveMessenger(ctx, bridge)
	if err != nil {
		return Submission{}, err
	}
	data, err := bridgeabi.PackRelayMessageWithProofCalldata(relayMessage(claim, bridge), bridgeabi.L2MessageProof{
		BatchIndex:  claim.BatchIndex,
		MerkleProof: claim.MerkleProof,
	})
	if err != nil {
		return Submission{}, err
	}

	from := c.signer.Address()
	if c.cfg.Preflight {
		if _, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: from, To: &messenger, Data: data}, nil); err != nil {
			return Submission{}, fmt.Errorf("%w: preflight: %w", ErrReverted, err)
		}
	}

	suggested, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return Submission{}, fmt.Errorf("eth: suggest gas price: %w", err)
	}
	gasPrice, err := LegacyGasPrice(suggested, c.cfg.GasPriceMarginPercent, c.cfg.MaxGasPrice)
	if err != nil {
		return Submission{}, err
	}

	nonce, release, err := c.nonces.Reserve(ctx)
	if err != nil {
		return Submission{}, fmt.Errorf("eth: pending nonce: %w", err)
	}
	defer release()

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      c.cfg.GasLimit,
		To:       &messenger,
		Value:    big.NewInt(0),
		Data:     data,
	})
	signed, err := c.signer.SignTx(tx, c.cfg.ChainID)
	if err != nil {
		return Submission{}, err
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return Submission{}, fmt.Errorf("eth: send transaction: %w", err)
	}

	return Submission{
		TxHash:    signed.Hash(),
		From:      from,
		Nonce:     nonce,
		Bridge:    bridge,
		Messenger: messenger,
		Data:      data,
		GasPrice:  gasPrice,
		SentAt:    c.cfg.Now(),
	}, nil
}

// ReplaceFinalization re-signs prev's calldata at prev's nonce with a higher gas price, so a stuck
// transaction is replaced in the mempool instead of queued behind. The price is the larger of the bumped
// previous price and the current market price with margin. Preflight is skipped: the replacement must be
// sent even if it would revert, since mining it is what frees the nonce.
func (c *L1Client) ReplaceFinalization(ctx context.Context, prev Submission) (Submission, error) {
	if prev.GasPrice == nil || len(prev.Data) == 0 || (prev.Messenger == common.Address{}) {
		return Submission{}, fmt.Errorf("eth: replace %s: incomplete submission", prev.TxHash)
	}

	minPrice, err := BumpLegacyGasPrice(prev.GasPrice, c.cfg.ReplacementBumpPercent, c.cfg.MinReplacementBump)
	if err != nil {
		return Submission{}, err
	}
	suggested, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return Submission{}, fmt.Errorf("eth: suggest gas price: %w", err)
	}
	market, err := LegacyGasPrice(suggested, c.cfg.GasPriceMarginPercent, nil)
	if err != nil {
		return Submission{}, err
	}
	gasPrice := minPrice
	if market.Cmp(gasPrice) > 0 {
		gasPrice = market
	}
	if limit := c.cfg.MaxGasPrice; limit != nil && gasPrice.Cmp(limit) > 0 {
		if minPrice.Cmp(limit) > 0 {
			return Submission{}, fmt.Errorf("%w: need %s, cap %s", ErrReplacementCapped, minPrice, limit)
		}
		gasPrice = new(big.Int).Set(limit)
	}

	release := c.nonces.Hold()
	defer release()

	messenger := prev.Messenger
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    prev.Nonce,
		GasPrice: gasPrice,
		Gas:      c.cfg.GasLimit,
		To:       &messenger,
		Value:    big.NewInt(0),
		Data:     prev.Data,
	})
	signed, err := c.signer.SignTx(tx, c.cfg.ChainID)
	if err != nil {
		return Submission{}, err
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return Submission{}, fmt.Errorf("eth: send replacement: %w", err)
	}

	replaces := make([]common.Hash, 0, len(prev.Replaces)+1)
	replaces = append(replaces, prev.Replaces...)
	replaces = append(replaces, prev.TxHash)
	return Submission{
		TxHash:    signed.Hash(),
		From:      c.signer.Address(),
		Nonce:     prev.Nonce,
		Bridge:    prev.Bridge,
		Messenger: messenger,
		Data:      prev.Data,
		GasPrice:  gasPrice,
		SentAt:    c.cfg.Now(),
		Replaces:  replaces,
	}, nil
}

// ReceiptStatus checks for a receipt once. ok is false while the transaction is unmined.
func (c *L1Client) ReceiptStatus(ctx context.Context, txHash common.Hash) (Receipt, bool, error) {
	r, err := c.backend.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return Receipt{}, false, nil
		}
		return Receipt{}, false, err
	}
	if r == nil {
		return Receipt{}, false, nil
	}
	return Receipt{
		TxHash:      txHash,
		Success:     r.Status == types.ReceiptStatusSuccessful,
		BlockNumber: r.BlockNumber,
		GasUsed:     r.GasUsed,
	}, true, nil
}

// WaitForReceipt polls until the transaction is mined or timeout elapses. On timeout it returns
// ErrReceiptTimeout and the transaction may still be mined later; callers re-check it by hash.
func (c *L1Client) WaitForReceipt(ctx context.Context, txHash common.Hash, timeout time.Duration) (Receipt, error) {
	start := c.cfg.Now()
	for {
		r, ok, err := c.ReceiptStatus(ctx, txHash)
		if err != nil {
			return Receipt{}, err
		}
		if ok {
			return r, nil
		}
		if timeout > 0 && c.cfg.Now().Sub(start) >= timeout {
			return Receipt{}, fmt.Errorf("%w: %s after %s", ErrReceiptTimeout, txHash, timeout)
		}
		if err := c.cfg.Sleep(ctx, c.cfg.ReceiptPollInterval); err != nil {
			return Receipt{}, err
		}
	}
}

// RevertReason replays a reverted submission as eth_call at the block it was mined in and returns the
// node's revert error. A nil result means the replay did not revert and the reason is unknown.
func (c *L1Client) RevertReason(ctx context.Context, sub Submission, block *big.Int) error {
	messenger := sub.Messenger
	_, err := c.backend.CallContract(ctx, ethereum.CallMsg{
		From:     sub.From,
		To:       &messenger,
		Gas:      c.cfg.GasLimit,
		GasPrice: sub.GasPrice,
		Data:     sub.Data,
	}, block)
	return err
}

func relayMessage(claim withdrawal.Claim, bridge common.Address) bridgeabi.RelayMessage {
	return bridgeabi.RelayMessage{
		Sender: claim.From,
		Target: bridge,
		Value:  claim.Value,
		Nonce:  claim.MessageNonce,
		Data:   claim.Message,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
