package core

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// IsAccountAddress reports whether s is a 0x-prefixed 20-byte hex address.
func IsAccountAddress(s string) bool {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return false
	}
	return common.IsHexAddress(s)
}

// IsTransactionHash reports whether s is a 0x-prefixed 32-byte hex digest.
func IsTransactionHash(s string) bool {
	if len(s) != 2+2*common.HashLength {
		return false
	}
	b, err := hexutil.Decode(s)
	return err == nil && len(b) == common.HashLength
}

// NormalizeAccount returns the lower-case form used as a map key.
func NormalizeAccount(account string) string {
	return strings.ToLower(account)
}
