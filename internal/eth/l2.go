package eth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/bridgeabi"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/withdrawal"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var ErrInvalidL2Config = errors.New("eth: invalid l2 config")

// L2Backend is the subset of ethclient.Client the L2 adapter needs.
type L2Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// EventSource is one contract event that marks a withdrawal of the given kind.
type EventSource struct {
	Kind      withdrawal.Kind
	Contract  common.Address
	Signature string
}

// DefaultEventSources returns the standard gateway withdraw events for the given L2 bridges.
// A zero address skips that kind.
func DefaultEventSources(ethBridge, tokenBridge common.Address) []EventSource {
	var out []EventSource
	if (ethBridge != common.Address{}) {
		out = append(out, EventSource{Kind: withdrawal.KindETH, Contract: ethBridge, Signature: bridgeabi.WithdrawETHSignature})
	}
	if (tokenBridge != common.Address{}) {
		out = append(out, EventSource{Kind: withdrawal.KindToken, Contract: tokenBridge, Signature: bridgeabi.WithdrawERC20Signature})
	}
	return out
}

// WithdrawEvent is a withdrawal observed on L2. ID is the hash of the emitting transaction.
type WithdrawEvent struct {
	ID          withdrawal.ID
	Kind        withdrawal.Kind
	Contract    common.Address
	BlockNumber uint64
	LogIndex    uint
}

type resolvedSource struct {
	EventSource
	topic common.Hash
}

type L2Client struct {
	backend L2Backend
	sources []resolvedSource
}

func NewL2Client(backend L2Backend, sources []EventSource) (*L2Client, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: nil backend", ErrInvalidL2Config)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no event sources", ErrInvalidL2Config)
	}
	resolved := make([]resolvedSource, 0, len(sources))
	for i, s := range sources {
		if !s.Kind.Valid() {
			return nil, fmt.Errorf("%w: source %d has invalid kind", ErrInvalidL2Config, i)
		}
		if (s.Contract == common.Address{}) {
			return nil, fmt.Errorf("%w: source %d has zero contract", ErrInvalidL2Config, i)
		}
		topic, err := bridgeabi.EventTopic(s.Signature)
		if err != nil {
			return nil, fmt.Errorf("%w: source %d: %v", ErrInvalidL2Config, i, err)
		}
		resolved = append(resolved, resolvedSource{EventSource: s, topic: topic})
	}
	return &L2Client{backend: backend, sources: resolved}, nil
}

func (c *L2Client) CurrentBlockHeight(ctx context.Context) (uint64, error) {
	n, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("eth: l2 block number: %w", err)
	}
	return n, nil
}

// Events returns the logs of one source in [from, to], in chain order. from > to yields nothing.
func (c *L2Client) Events(ctx context.Context, from, to uint64, source EventSource) ([]WithdrawEvent, error) {
	if from > to {
		return nil, nil
	}
	topic, err := bridgeabi.EventTopic(source.Signature)
	if err != nil {
		return nil, err
	}
	logs, err := c.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{source.Contract},
		Topics:    [][]common.Hash{{topic}},
	})
	if err != nil {
		return nil, fmt.Errorf("eth: filter %s logs [%d,%d]: %w", source.Kind, from, to, err)
	}

	out := make([]WithdrawEvent, 0, len(logs))
	for _, l := range logs {
		if l.Removed || len(l.Topics) == 0 || l.Topics[0] != topic || l.Address != source.Contract {
			continue
		}
		out = append(out, WithdrawEvent{
			ID:          withdrawal.IDFromHash(l.TxHash),
			Kind:        source.Kind,
			Contract:    l.Address,
			BlockNumber: l.BlockNumber,
			LogIndex:    l.Index,
		})
	}
	sortEvents(out)
	return out, nil
}

// WithdrawEvents merges every configured source over [from, to]. A transaction that emits several matching
// logs is reported once, at its first log.
func (c *L2Client) WithdrawEvents(ctx context.Context, from, to uint64) ([]WithdrawEvent, error) {
	if from > to {
		return nil, nil
	}
	var all []WithdrawEvent
	for _, s := range c.sources {
		evs, err := c.Events(ctx, from, to, s.EventSource)
		if err != nil {
			return nil, err
		}
		all = append(all, evs...)
	}
	sortEvents(all)

	seen := make(map[withdrawal.ID]struct{}, len(all))
	out := all[:0]
	for _, ev := range all {
		if _, dup := seen[ev.ID]; dup {
			continue
		}
		seen[ev.ID] = struct{}{}
		out = append(out, ev)
	}
	return out, nil
}

func sortEvents(evs []WithdrawEvent) {
	sort.SliceStable(evs, func(i, j int) bool {
		if evs[i].BlockNumber != evs[j].BlockNumber {
			return evs[i].BlockNumber < evs[j].BlockNumber
		}
		return evs[i].LogIndex < evs[j].LogIndex
	})
}
