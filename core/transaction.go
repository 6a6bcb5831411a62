package core

import (
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// TransactionType tags the business operation a transaction performs.
type TransactionType string

const (
	TxTypeBuy             TransactionType = "buy"
	TxTypeSell            TransactionType = "sell"
	TxTypeAddLiquidity    TransactionType = "add_liquidity"
	TxTypeRemoveLiquidity TransactionType = "remove_liquidity"
	TxTypeCreateMarket    TransactionType = "create_market"
	TxTypeResolveMarket   TransactionType = "resolve_market"
	TxTypeClaim           TransactionType = "claim"
	TxTypeApprove         TransactionType = "approve"
)

var allowedTransactionTypes = map[TransactionType]struct{}{
	TxTypeBuy:             {},
	TxTypeSell:            {},
	TxTypeAddLiquidity:    {},
	TxTypeRemoveLiquidity: {},
	TxTypeCreateMarket:    {},
	TxTypeResolveMarket:   {},
	TxTypeClaim:           {},
	TxTypeApprove:         {},
}

// Allowed reports whether the type is on the allow-list.
func (t TransactionType) Allowed() bool {
	_, ok := allowedTransactionTypes[t]
	return ok
}

// TransactionMetadata describes one attempted transaction. It is built once by
// the caller and must not be mutated after it is handed to the validator.
type TransactionMetadata struct {
	Hash            string            // 0x-prefixed 32-byte digest
	Account         string            // 0x-prefixed 20-byte address
	Nonce           *uint256.Int      // issued by the nonce manager
	Timestamp       time.Time         // creation time
	ExpirationTime  time.Time         // zero when not declared
	SessionID       string
	TransactionType TransactionType
	ContractAddress string
	Amount          decimal.Decimal
	BusinessContext map[string]any
}

// NonceRecord is the per-account nonce bookkeeping.
type NonceRecord struct {
	Account      string
	CurrentNonce *uint256.Int
	UsedNonces   map[uint256.Int]struct{}
	LastUpdated  time.Time
}

// SessionInfo is a time-boxed association between an account and a session id.
type SessionInfo struct {
	SessionID  string
	Account    string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	UsedTokens map[string]struct{}
	IsActive   bool
}

// ValidationEvent is emitted for every validation decision.
type ValidationEvent struct {
	TransactionHash string          `json:"transaction_hash"`
	Account         string          `json:"account"`
	SessionID       string          `json:"session_id,omitempty"`
	TransactionType TransactionType `json:"transaction_type"`
	Valid           bool            `json:"valid"`
	ErrorCode       ErrorCode       `json:"error_code,omitempty"`
	LargeAmount     bool            `json:"large_amount,omitempty"`
	ExpiringSoon    bool            `json:"expiring_soon,omitempty"`
	OccurredAt      time.Time       `json:"occurred_at"`
}
