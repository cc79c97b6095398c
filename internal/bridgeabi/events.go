package bridgeabi

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Default L2 gateway withdrawal events.
const (
	WithdrawERC20Signature = "WithdrawERC20(address,address,address,address,uint256,bytes)"
	WithdrawETHSignature   = "WithdrawETH(address,address,uint256,bytes)"
)

// EventTopic returns topic0 for a canonical event signature such as "Transfer(address,address,uint256)".
func EventTopic(signature string) (common.Hash, error) {
	sig := strings.ReplaceAll(strings.TrimSpace(signature), " ", "")
	open := strings.IndexByte(sig, '(')
	if open <= 0 || !strings.HasSuffix(sig, ")") {
		return common.Hash{}, fmt.Errorf("%w: malformed event signature %q", ErrInvalidInput, signature)
	}
	return crypto.Keccak256Hash([]byte(sig)), nil
}
