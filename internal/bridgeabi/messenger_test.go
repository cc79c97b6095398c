package bridgeabi

import (
	"bytes"
	"errors"
	"math/big"
	"reflect"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func testMessage() RelayMessage {
	return RelayMessage{
		Sender: common.HexToAddress("0x0000000000000000000000000000000000000aaa"),
		Target: common.HexToAddress("0x0000000000000000000000000000000000000bbb"),
		Value:  big.NewInt(1000),
		Nonce:  big.NewInt(7),
		Data:   []byte{0xde, 0xad, 0xbe, 0xef},
	}
}

func TestPackRelayMessageWithProofCalldata_UnpackMatches(t *testing.T) {
	t.Parallel()

	msg := testMessage()
	proof := L2MessageProof{BatchIndex: big.NewInt(42), MerkleProof: bytes.Repeat([]byte{0x11}, 64)}

	calldata, err := PackRelayMessageWithProofCalldata(msg, proof)
	if err != nil {
		t.Fatalf("PackRelayMessageWithProofCalldata: %v", err)
	}

	wantSel := crypto.Keccak256([]byte("relayMessageWithProof(address,address,uint256,uint256,bytes,(uint256,bytes))"))[:4]
	if !bytes.Equal(calldata[:4], wantSel) {
		t.Fatalf("selector mismatch: got %x want %x", calldata[:4], wantSel)
	}

	a, err := abi.JSON(strings.NewReader(messengerABIJSON))
	if err != nil {
		t.Fatalf("parse abi json: %v", err)
	}
	vals, err := a.Methods["relayMessageWithProof"].Inputs.Unpack(calldata[4:])
	if err != nil {
		t.Fatalf("unpack calldata: %v", err)
	}
	if len(vals) != 6 {
		t.Fatalf("unpack len: got %d want %d", len(vals), 6)
	}
	if got := vals[0].(common.Address); got != msg.Sender {
		t.Fatalf("sender: got %s want %s", got, msg.Sender)
	}
	if got := vals[1].(common.Address); got != msg.Target {
		t.Fatalf("target: got %s want %s", got, msg.Target)
	}
	if got := vals[3].(*big.Int); got.Cmp(msg.Nonce) != 0 {
		t.Fatalf("nonce: got %s want %s", got, msg.Nonce)
	}
	if got := vals[4].([]byte); !bytes.Equal(got, msg.Data) {
		t.Fatalf("message mismatch")
	}

	p := reflect.ValueOf(vals[5])
	if got := p.FieldByName("BatchIndex").Interface().(*big.Int); got.Cmp(proof.BatchIndex) != 0 {
		t.Fatalf("batch index: got %s want %s", got, proof.BatchIndex)
	}
	if got := p.FieldByName("MerkleProof").Interface().([]byte); !bytes.Equal(got, proof.MerkleProof) {
		t.Fatalf("merkle proof mismatch")
	}
}

func TestPackRelayMessageWithProofCalldata_RejectsBadInput(t *testing.T) {
	t.Parallel()

	msg := testMessage()
	if _, err := PackRelayMessageWithProofCalldata(msg, L2MessageProof{BatchIndex: big.NewInt(1)}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty proof: expected ErrInvalidInput, got %v", err)
	}
	if _, err := PackRelayMessageWithProofCalldata(msg, L2MessageProof{MerkleProof: []byte{1}}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("nil batch: expected ErrInvalidInput, got %v", err)
	}
	msg.Target = common.Address{}
	if _, err := PackRelayMessageWithProofCalldata(msg, L2MessageProof{BatchIndex: big.NewInt(1), MerkleProof: []byte{1}}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero target: expected ErrInvalidInput, got %v", err)
	}
}

func TestMessageHash_MatchesRelayMessageEncoding(t *testing.T) {
	t.Parallel()

	msg := testMessage()
	got, err := MessageHash(msg)
	if err != nil {
		t.Fatalf("MessageHash: %v", err)
	}

	// abi.encodeWithSignature("relayMessage(address,address,uint256,uint256,bytes)", ...)
	addrT, _ := abi.NewType("address", "", nil)
	uintT, _ := abi.NewType("uint256", "", nil)
	bytesT, _ := abi.NewType("bytes", "", nil)
	args := abi.Arguments{{Type: addrT}, {Type: addrT}, {Type: uintT}, {Type: uintT}, {Type: bytesT}}
	enc, err := args.Pack(msg.Sender, msg.Target, msg.Value, msg.Nonce, msg.Data)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	sel := crypto.Keccak256([]byte("relayMessage(address,address,uint256,uint256,bytes)"))[:4]
	want := crypto.Keccak256Hash(append(append([]byte{}, sel...), enc...))
	if got != want {
		t.Fatalf("hash mismatch: got %s want %s", got, want)
	}

	other := msg
	other.Nonce = big.NewInt(8)
	h2, err := MessageHash(other)
	if err != nil {
		t.Fatalf("MessageHash: %v", err)
	}
	if h2 == got {
		t.Fatalf("nonce did not affect hash")
	}
}

func TestIsL2MessageExecuted_RoundTrip(t *testing.T) {
	t.Parallel()

	h := common.HexToHash("0x01")
	calldata, err := PackIsL2MessageExecutedCalldata(h)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	wantSel := crypto.Keccak256([]byte("isL2MessageExecuted(bytes32)"))[:4]
	if !bytes.Equal(calldata[:4], wantSel) {
		t.Fatalf("selector mismatch: got %x", calldata[:4])
	}

	ret := common.LeftPadBytes([]byte{1}, 32)
	ok, err := UnpackIsL2MessageExecuted(ret)
	if err != nil || !ok {
		t.Fatalf("Unpack true: %v %v", ok, err)
	}
	ok, err = UnpackIsL2MessageExecuted(make([]byte, 32))
	if err != nil || ok {
		t.Fatalf("Unpack false: %v %v", ok, err)
	}
}

func TestMessenger_RoundTrip(t *testing.T) {
	t.Parallel()

	calldata, err := PackMessengerCalldata()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if !bytes.Equal(calldata, crypto.Keccak256([]byte("messenger()"))[:4]) {
		t.Fatalf("selector mismatch: got %x", calldata)
	}

	want := common.HexToAddress("0x6774Bcbd5ceCeF1336b5300fb5186a12DDD8b367")
	got, err := UnpackMessenger(common.LeftPadBytes(want.Bytes(), 32))
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if got != want {
		t.Fatalf("messenger: got %s want %s", got, want)
	}
	if _, err := UnpackMessenger(nil); err == nil {
		t.Fatalf("expected error on empty return data")
	}
}

func TestEventTopic(t *testing.T) {
	t.Parallel()

	got, err := EventTopic(" WithdrawETH(address, address, uint256, bytes) ")
	if err != nil {
		t.Fatalf("EventTopic: %v", err)
	}
	if want := crypto.Keccak256Hash([]byte(WithdrawETHSignature)); got != want {
		t.Fatalf("topic: got %s want %s", got, want)
	}
	for _, bad := range []string{"", "WithdrawETH", "(address)", "WithdrawETH(address"} {
		if _, err := EventTopic(bad); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("EventTopic(%q): expected ErrInvalidInput, got %v", bad, err)
		}
	}
}
