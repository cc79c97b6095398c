package bridgeabi

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

var ErrInvalidInput = errors.New("bridgeabi: invalid input")

// L2MessageProof mirrors IL1ScrollMessenger.L2MessageProof.
type L2MessageProof struct {
	BatchIndex  *big.Int
	MerkleProof []byte
}

// RelayMessage is the cross-domain message being finalized on L1.
type RelayMessage struct {
	Sender common.Address
	Target common.Address
	Value  *big.Int
	Nonce  *big.Int
	Data   []byte
}

var (
	initOnce sync.Once
	initErr  error

	messengerABI abi.ABI
	bridgeABI    abi.ABI
	xDomainABI   abi.ABI
)

func initABI() error {
	initOnce.Do(func() {
		var err error

		messengerABI, err = abi.JSON(strings.NewReader(messengerABIJSON))
		if err != nil {
			initErr = fmt.Errorf("bridgeabi: parse messenger ABI: %w", err)
			return
		}
		bridgeABI, err = abi.JSON(strings.NewReader(bridgeABIJSON))
		if err != nil {
			initErr = fmt.Errorf("bridgeabi: parse bridge ABI: %w", err)
			return
		}
		xDomainABI, err = abi.JSON(strings.NewReader(xDomainABIJSON))
		if err != nil {
			initErr = fmt.Errorf("bridgeabi: parse relayMessage ABI: %w", err)
			return
		}
	})
	return initErr
}

func (m RelayMessage) validate() error {
	if m.Value == nil || m.Value.Sign() < 0 {
		return fmt.Errorf("%w: value must be >= 0", ErrInvalidInput)
	}
	if m.Nonce == nil || m.Nonce.Sign() < 0 {
		return fmt.Errorf("%w: nonce must be >= 0", ErrInvalidInput)
	}
	if (m.Target == common.Address{}) {
		return fmt.Errorf("%w: target must be non-zero", ErrInvalidInput)
	}
	return nil
}

// PackRelayMessageWithProofCalldata encodes L1ScrollMessenger.relayMessageWithProof.
func PackRelayMessageWithProofCalldata(msg RelayMessage, proof L2MessageProof) ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	if err := msg.validate(); err != nil {
		return nil, err
	}
	if proof.BatchIndex == nil || proof.BatchIndex.Sign() < 0 {
		return nil, fmt.Errorf("%w: batch index must be >= 0", ErrInvalidInput)
	}
	if len(proof.MerkleProof) == 0 {
		return nil, fmt.Errorf("%w: empty merkle proof", ErrInvalidInput)
	}

	data := msg.Data
	if data == nil {
		data = []byte{}
	}
	return messengerABI.Pack("relayMessageWithProof", msg.Sender, msg.Target, msg.Value, msg.Nonce, data, proof)
}

// PackIsL2MessageExecutedCalldata encodes L1ScrollMessenger.isL2MessageExecuted(bytes32).
func PackIsL2MessageExecutedCalldata(messageHash common.Hash) ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	return messengerABI.Pack("isL2MessageExecuted", messageHash)
}

func UnpackIsL2MessageExecuted(ret []byte) (bool, error) {
	if err := initABI(); err != nil {
		return false, err
	}
	vals, err := messengerABI.Unpack("isL2MessageExecuted", ret)
	if err != nil {
		return false, fmt.Errorf("bridgeabi: unpack isL2MessageExecuted: %w", err)
	}
	if len(vals) != 1 {
		return false, fmt.Errorf("bridgeabi: unpack isL2MessageExecuted: got %d values", len(vals))
	}
	v, ok := vals[0].(bool)
	if !ok {
		return false, fmt.Errorf("bridgeabi: unpack isL2MessageExecuted: unexpected type %T", vals[0])
	}
	return v, nil
}

// PackMessengerCalldata encodes the bridge's messenger() view.
func PackMessengerCalldata() ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	return bridgeABI.Pack("messenger")
}

func UnpackMessenger(ret []byte) (common.Address, error) {
	if err := initABI(); err != nil {
		return common.Address{}, err
	}
	vals, err := bridgeABI.Unpack("messenger", ret)
	if err != nil {
		return common.Address{}, fmt.Errorf("bridgeabi: unpack messenger: %w", err)
	}
	if len(vals) != 1 {
		return common.Address{}, fmt.Errorf("bridgeabi: unpack messenger: got %d values", len(vals))
	}
	addr, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("bridgeabi: unpack messenger: unexpected type %T", vals[0])
	}
	return addr, nil
}

// MessageHash is the cross-domain message hash the L1 messenger records once a message is relayed:
// keccak256 of relayMessage(sender, target, value, nonce, data) calldata.
func MessageHash(msg RelayMessage) (common.Hash, error) {
	if err := initABI(); err != nil {
		return common.Hash{}, err
	}
	if err := msg.validate(); err != nil {
		return common.Hash{}, err
	}
	data := msg.Data
	if data == nil {
		data = []byte{}
	}
	encoded, err := xDomainABI.Pack("relayMessage", msg.Sender, msg.Target, msg.Value, msg.Nonce, data)
	if err != nil {
		return common.Hash{}, fmt.Errorf("bridgeabi: encode relayMessage: %w", err)
	}

	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(encoded)
	var out common.Hash
	copy(out[:], h.Sum(nil))
	return out, nil
}

const messengerABIJSON = `[
  {
    "inputs": [
      {"internalType":"address","name":"_from","type":"address"},
      {"internalType":"address","name":"_to","type":"address"},
      {"internalType":"uint256","name":"_value","type":"uint256"},
      {"internalType":"uint256","name":"_nonce","type":"uint256"},
      {"internalType":"bytes","name":"_message","type":"bytes"},
      {
        "components": [
          {"internalType":"uint256","name":"batchIndex","type":"uint256"},
          {"internalType":"bytes","name":"merkleProof","type":"bytes"}
        ],
        "internalType":"struct IL1ScrollMessenger.L2MessageProof",
        "name":"_proof",
        "type":"tuple"
      }
    ],
    "name":"relayMessageWithProof",
    "outputs":[],
    "stateMutability":"nonpayable",
    "type":"function"
  },
  {
    "inputs":[{"internalType":"bytes32","name":"","type":"bytes32"}],
    "name":"isL2MessageExecuted",
    "outputs":[{"internalType":"bool","name":"","type":"bool"}],
    "stateMutability":"view",
    "type":"function"
  }
]`

const bridgeABIJSON = `[
  {
    "inputs":[],
    "name":"messenger",
    "outputs":[{"internalType":"address","name":"","type":"address"}],
    "stateMutability":"view",
    "type":"function"
  }
]`

const xDomainABIJSON = `[
  {
    "inputs": [
      {"internalType":"address","name":"_from","type":"address"},
      {"internalType":"address","name":"_to","type":"address"},
      {"internalType":"uint256","name":"_value","type":"uint256"},
      {"internalType":"uint256","name":"_nonce","type":"uint256"},
      {"internalType":"bytes","name":"_message","type":"bytes"}
    ],
    "name":"relayMessage",
    "outputs":[],
    "stateMutability":"nonpayable",
    "type":"function"
  }
]`
