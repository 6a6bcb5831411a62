package core

// ErrorCode is a stable tag identifying why a validation failed.
type ErrorCode string

const (
	CodeNonceRecordNotFound         ErrorCode = "NONCE_RECORD_NOT_FOUND"
	CodeNonceAlreadyUsed            ErrorCode = "NONCE_ALREADY_USED"
	CodeNonceTooHigh                ErrorCode = "NONCE_TOO_HIGH"
	CodeTransactionExpired          ErrorCode = "TRANSACTION_EXPIRED"
	CodeInvalidTimestamp            ErrorCode = "INVALID_TIMESTAMP"
	CodeSessionNotFound             ErrorCode = "SESSION_NOT_FOUND"
	CodeSessionMismatch             ErrorCode = "SESSION_MISMATCH"
	CodeSessionInactive             ErrorCode = "SESSION_INACTIVE"
	CodeSessionExpired              ErrorCode = "SESSION_EXPIRED"
	CodeInvalidTokenFormat          ErrorCode = "INVALID_TOKEN_FORMAT"
	CodeTokenNotIssued              ErrorCode = "TOKEN_NOT_ISSUED"
	CodeTokenAlreadyUsed            ErrorCode = "TOKEN_ALREADY_USED"
	CodeRateLimitExceeded           ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeMissingRequiredFields       ErrorCode = "MISSING_REQUIRED_FIELDS"
	CodeInvalidUserAddress          ErrorCode = "INVALID_USER_ADDRESS"
	CodeInvalidTransactionHash      ErrorCode = "INVALID_TRANSACTION_HASH"
	CodeInvalidAmount               ErrorCode = "INVALID_AMOUNT"
	CodeInvalidTransactionType      ErrorCode = "INVALID_TRANSACTION_TYPE"
	CodeTransactionAlreadyProcessed ErrorCode = "TRANSACTION_ALREADY_PROCESSED"
	CodeReplayLedgerUnavailable     ErrorCode = "REPLAY_LEDGER_UNAVAILABLE"
)

// ValidationResult is the outcome of a single check or of a full validation run.
// Expected failures are reported here rather than as Go errors so that callers
// can render Error and Suggestion directly.
type ValidationResult struct {
	IsValid    bool      `json:"isValid"`
	Error      string    `json:"error,omitempty"`
	ErrorCode  ErrorCode `json:"errorCode,omitempty"`
	Suggestion string    `json:"suggestion,omitempty"`
}

// Valid returns a passing result.
func Valid() ValidationResult {
	return ValidationResult{IsValid: true}
}

// Invalid returns a failing result carrying the given code, message and hint.
func Invalid(code ErrorCode, message, suggestion string) ValidationResult {
	return ValidationResult{
		IsValid:    false,
		Error:      message,
		ErrorCode:  code,
		Suggestion: suggestion,
	}
}
