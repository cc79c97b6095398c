package eth

import (
	"errors"
	"strings"
)

var (
	ErrReceiptTimeout = errors.New("eth: receipt wait timed out")
	ErrReverted       = errors.New("eth: transaction reverted")

	// ErrReplacementCapped means the minimum replacement price is above the configured gas price cap.
	ErrReplacementCapped = errors.New("eth: replacement price above cap")
)

// Node and contract error text, matched case-insensitively. Geth, erigon and most hosted RPCs share these.
var (
	nonceConflictMarkers = []string{
		"replacement transaction underpriced",
		"nonce too low",
		"already known",
		"known transaction",
	}
	nonceTooLowMarkers = []string{
		"nonce too low",
	}
	alreadyRelayedMarkers = []string{
		"message was already successfully executed",
		"already successfully executed",
		"already relayed",
		"already executed",
	}
)

// IsNonceConflict reports whether err means another transaction already occupies the chosen nonce.
func IsNonceConflict(err error) bool {
	return containsAny(err, nonceConflictMarkers)
}

// IsNonceTooLow reports whether err means the nonce was already mined, by this transaction or another.
func IsNonceTooLow(err error) bool {
	return containsAny(err, nonceTooLowMarkers)
}

// IsAlreadyRelayed reports whether err is the messenger refusing a message it already executed.
func IsAlreadyRelayed(err error) bool {
	return containsAny(err, alreadyRelayedMarkers)
}

func containsAny(err error, markers []string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range markers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
