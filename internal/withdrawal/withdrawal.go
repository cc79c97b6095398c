package withdrawal

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidID    = errors.New("withdrawal: invalid id")
	ErrInvalidKind  = errors.New("withdrawal: invalid kind")
	ErrInvalidClaim = errors.New("withdrawal: invalid claim")
)

// ID is the canonical form of an L2 withdrawal transaction hash: "0x" followed by 64 lower-case hex digits.
type ID string

// ParseID normalizes s into canonical form. Surrounding whitespace, upper-case hex and a missing 0x prefix
// are accepted.
func ParseID(s string) (ID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 64 {
		return "", fmt.Errorf("%w: want 32 bytes hex, got %d chars", ErrInvalidID, len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("%w: not hex", ErrInvalidID)
	}
	return ID("0x" + s), nil
}

func IDFromHash(h common.Hash) ID {
	return ID("0x" + hex.EncodeToString(h[:]))
}

func (id ID) Hash() common.Hash {
	return common.HexToHash(string(id))
}

func (id ID) String() string { return string(id) }

// Kind is the asset class of a withdrawal. Each kind has its own L1 bridge and its own pending set.
type Kind uint8

const (
	KindETH Kind = iota + 1
	KindToken
)

func (k Kind) String() string {
	switch k {
	case KindETH:
		return "eth"
	case KindToken:
		return "token"
	default:
		return "unknown"
	}
}

func (k Kind) Valid() bool {
	return k == KindETH || k == KindToken
}

// Kinds lists every supported kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindETH, KindToken}
}

// State is the in-process lifecycle position of a withdrawal.
//
// Only Finalized is durable (the processed set); everything before it is reconstructed from the pending
// sets on restart.
type State uint8

const (
	StateDiscovered State = iota + 1
	StateAwaitingProof
	StateClaimable
	StateSubmitted
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateAwaitingProof:
		return "awaiting_proof"
	case StateClaimable:
		return "claimable"
	case StateSubmitted:
		return "submitted"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Withdrawal identifies one L2→L1 withdrawal awaiting finalization.
type Withdrawal struct {
	ID   ID
	Kind Kind
}

// Claim is the proof bundle the oracle returns once a withdrawal's batch is finalized on L1.
type Claim struct {
	From         common.Address
	Value        *big.Int
	MessageNonce *big.Int
	Message      []byte
	BatchIndex   *big.Int
	MerkleProof  []byte
}

func (c Claim) Validate() error {
	if c.Value == nil || c.Value.Sign() < 0 {
		return fmt.Errorf("%w: value", ErrInvalidClaim)
	}
	if c.MessageNonce == nil || c.MessageNonce.Sign() < 0 {
		return fmt.Errorf("%w: nonce", ErrInvalidClaim)
	}
	if c.BatchIndex == nil || c.BatchIndex.Sign() < 0 {
		return fmt.Errorf("%w: batch index", ErrInvalidClaim)
	}
	if len(c.MerkleProof) == 0 {
		return fmt.Errorf("%w: empty merkle proof", ErrInvalidClaim)
	}
	return nil
}
