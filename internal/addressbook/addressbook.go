// Package addressbook loads bridge deployment addresses from an addresses.json file.
//
// The layout is the one the deployment scripts write:
//
//	{
//	  "l1":  {"bridge": "0x…", "token": "0x…"},
//	  "l2":  {"bridge": "0x…", "token": "0x…"},
//	  "eth": {"l1": {"bridge": "0x…"}, "l2": {"bridge": "0x…"}}
//	}
//
// The top-level l1/l2 bridges carry token withdrawals; eth.l1/eth.l2 carry ETH withdrawals.
package addressbook

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/withdrawal"
	"github.com/ethereum/go-ethereum/common"
)

var ErrInvalidBook = errors.New("addressbook: invalid address book")

// Pair is one asset kind's bridge on each chain.
type Pair struct {
	L1Bridge common.Address
	L2Bridge common.Address
}

func (p Pair) Empty() bool {
	return p.L1Bridge == (common.Address{}) && p.L2Bridge == (common.Address{})
}

type Book struct {
	Token Pair
	ETH   Pair

	L1Token common.Address
	L2Token common.Address
}

type endpoint struct {
	Bridge string `json:"bridge"`
	Token  string `json:"token,omitempty"`
}

type fileLayout struct {
	L1  endpoint `json:"l1"`
	L2  endpoint `json:"l2"`
	ETH struct {
		L1 endpoint `json:"l1"`
		L2 endpoint `json:"l2"`
	} `json:"eth"`
}

func Load(path string) (Book, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Book{}, fmt.Errorf("addressbook: read %s: %w", path, err)
	}
	book, err := Parse(b)
	if err != nil {
		return Book{}, fmt.Errorf("%w (%s)", err, path)
	}
	return book, nil
}

func Parse(b []byte) (Book, error) {
	var f fileLayout
	if err := json.Unmarshal(b, &f); err != nil {
		return Book{}, fmt.Errorf("%w: %v", ErrInvalidBook, err)
	}

	var book Book
	fields := []struct {
		name string
		raw  string
		dst  *common.Address
	}{
		{"l1.bridge", f.L1.Bridge, &book.Token.L1Bridge},
		{"l2.bridge", f.L2.Bridge, &book.Token.L2Bridge},
		{"l1.token", f.L1.Token, &book.L1Token},
		{"l2.token", f.L2.Token, &book.L2Token},
		{"eth.l1.bridge", f.ETH.L1.Bridge, &book.ETH.L1Bridge},
		{"eth.l2.bridge", f.ETH.L2.Bridge, &book.ETH.L2Bridge},
	}
	for _, fld := range fields {
		a, err := ParseAddress(fld.raw)
		if err != nil {
			return Book{}, fmt.Errorf("%w: %s: %v", ErrInvalidBook, fld.name, err)
		}
		*fld.dst = a
	}

	for _, kind := range withdrawal.Kinds() {
		p := book.Pair(kind)
		if p.Empty() {
			continue
		}
		if p.L1Bridge == (common.Address{}) || p.L2Bridge == (common.Address{}) {
			return Book{}, fmt.Errorf("%w: %s bridge must be set on both chains", ErrInvalidBook, kind)
		}
	}
	if book.Token.Empty() && book.ETH.Empty() {
		return Book{}, fmt.Errorf("%w: no bridges", ErrInvalidBook)
	}
	return book, nil
}

// ParseAddress accepts an empty string as the zero address.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("not a hex address: %q", s)
	}
	return common.HexToAddress(s), nil
}

func (b Book) Pair(kind withdrawal.Kind) Pair {
	switch kind {
	case withdrawal.KindETH:
		return b.ETH
	case withdrawal.KindToken:
		return b.Token
	default:
		return Pair{}
	}
}

// L1Bridges maps each configured kind to its L1 gateway.
func (b Book) L1Bridges() map[withdrawal.Kind]common.Address {
	out := make(map[withdrawal.Kind]common.Address, 2)
	for _, kind := range withdrawal.Kinds() {
		if a := b.Pair(kind).L1Bridge; a != (common.Address{}) {
			out[kind] = a
		}
	}
	return out
}

// Override replaces every non-zero field of o into b. Flags take precedence over the file this way.
func (b Book) Override(o Book) Book {
	set := func(dst *common.Address, src common.Address) {
		if src != (common.Address{}) {
			*dst = src
		}
	}
	set(&b.Token.L1Bridge, o.Token.L1Bridge)
	set(&b.Token.L2Bridge, o.Token.L2Bridge)
	set(&b.ETH.L1Bridge, o.ETH.L1Bridge)
	set(&b.ETH.L2Bridge, o.ETH.L2Bridge)
	set(&b.L1Token, o.L1Token)
	set(&b.L2Token, o.L2Token)
	return b
}
