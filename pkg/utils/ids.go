package utils

import (
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
)

// GenerateID generates a random ID for broadcasts and requests
func GenerateID() string {
	return uuid.NewString()
}

// NormalizeTxID normalizes a transaction id to lowercase with 0x prefix
func NormalizeTxID(txID string) string {
	txID = strings.TrimSpace(txID)
	if !strings.HasPrefix(txID, "0x") && !strings.HasPrefix(txID, "0X") {
		txID = "0x" + txID
	}
	return strings.ToLower(txID)
}

// IsValidTxID reports whether txID is a 0x-prefixed 32-byte hex string
func IsValidTxID(txID string) bool {
	raw, err := hexutil.Decode(txID)
	if err != nil {
		return false
	}
	return len(raw) == 32
}
