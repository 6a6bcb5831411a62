package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/layer-3/txguard/core"
	"github.com/layer-3/txguard/ports"
	"github.com/layer-3/txguard/service"
)

// Handlers contains HTTP handlers for the validator endpoints
type Handlers struct {
	validator *service.Validator
	tokenizer ports.Tokenizer
}

// NewHandlers creates new handlers
func NewHandlers(validator *service.Validator, tokenizer ports.Tokenizer) *Handlers {
	return &Handlers{
		validator: validator,
		tokenizer: tokenizer,
	}
}

// MetadataRequest is the wire form of core.TransactionMetadata. Times are Unix
// milliseconds and the nonce is a decimal string.
type MetadataRequest struct {
	Hash            string          `json:"hash"`
	Account         string          `json:"account"`
	Nonce           string          `json:"nonce"`
	Timestamp       int64           `json:"timestamp"`
	ExpirationTime  int64           `json:"expiration_time"`
	SessionID       string          `json:"session_id"`
	TransactionType string          `json:"transaction_type"`
	ContractAddress string          `json:"contract_address"`
	Amount          decimal.Decimal `json:"amount"`
	BusinessContext map[string]any  `json:"business_context"`
}

// ValidateRequest is the body of POST /transactions/validate
type ValidateRequest struct {
	Metadata     MetadataRequest `json:"metadata"`
	OneTimeToken string          `json:"one_time_token"`
}

// CreateSession handles the session request
func (h *Handlers) CreateSession(c *gin.Context) {
	var req struct {
		Account string `json:"account" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	sessionID, err := h.validator.CreateSession(req.Account)
	if err != nil {
		if errors.Is(err, core.ErrInvalidAccount) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid wallet address"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}

	info, ok := h.validator.Session(sessionID)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}

	token, err := h.tokenizer.SessionToToken(&info)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session token"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session_id":    sessionID,
		"session_token": token,
		"token_type":    "Bearer",
		"expires_at":    info.ExpiresAt.UnixMilli(),
	})
}

// EndSession deactivates the caller's session, or every session of the
// caller's account with ?all=true
func (h *Handlers) EndSession(c *gin.Context) {
	if c.Query("all") == "true" {
		n := h.validator.EndAccountSessions(c.GetString(ctxAccount))
		c.JSON(http.StatusOK, gin.H{"message": "Sessions ended", "count": n})
		return
	}

	h.validator.EndSession(c.GetString(ctxSessionID))
	c.JSON(http.StatusOK, gin.H{"message": "Session ended", "count": 1})
}

// NextNonce issues a nonce for the caller's account
func (h *Handlers) NextNonce(c *gin.Context) {
	n, err := h.validator.GetNextNonce(c.GetString(ctxAccount))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue nonce"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"nonce":           n.Dec(),
		"expiration_time": h.validator.ExpirationTime().UnixMilli(),
	})
}

// OneTimeToken issues a one-time token bound to the caller's session
func (h *Handlers) OneTimeToken(c *gin.Context) {
	var req struct {
		Context map[string]any `json:"context"`
	}
	// the body is optional
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
	}

	token, err := h.validator.GenerateOneTimeToken(c.GetString(ctxSessionID), req.Context)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrSessionNotFound), errors.Is(err, core.ErrSessionInactive):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Session is no longer active"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

// ValidateTransaction runs the full validation pipeline
func (h *Handlers) ValidateTransaction(c *gin.Context) {
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	md, err := req.Metadata.toCore()
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, core.Invalid(core.CodeMissingRequiredFields,
			"Transaction nonce is not a valid number",
			"Request a new nonce and rebuild the transaction"))
		return
	}

	if md.SessionID == "" {
		md.SessionID = c.GetString(ctxSessionID)
	}
	if md.SessionID != c.GetString(ctxSessionID) ||
		(md.Account != "" && core.NormalizeAccount(md.Account) != c.GetString(ctxAccount)) {
		c.JSON(http.StatusUnprocessableEntity, core.Invalid(core.CodeSessionMismatch,
			"Session does not belong to this account",
			"Reconnect your wallet to start a new session"))
		return
	}

	res := h.validator.ValidateTransaction(c.Request.Context(), md, req.OneTimeToken)
	if !res.IsValid {
		c.JSON(http.StatusUnprocessableEntity, res)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (r MetadataRequest) toCore() (core.TransactionMetadata, error) {
	md := core.TransactionMetadata{
		Hash:            r.Hash,
		Account:         r.Account,
		SessionID:       r.SessionID,
		TransactionType: core.TransactionType(r.TransactionType),
		ContractAddress: r.ContractAddress,
		Amount:          r.Amount,
		BusinessContext: r.BusinessContext,
	}
	if r.Nonce != "" {
		n, err := uint256.FromDecimal(r.Nonce)
		if err != nil {
			return core.TransactionMetadata{}, err
		}
		md.Nonce = n
	}
	if r.Timestamp > 0 {
		md.Timestamp = time.UnixMilli(r.Timestamp)
	}
	if r.ExpirationTime > 0 {
		md.ExpirationTime = time.UnixMilli(r.ExpirationTime)
	}
	return md, nil
}
