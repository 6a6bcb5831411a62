package http

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/txguard/adapters/tokenizer"
	"github.com/layer-3/txguard/core"
	"github.com/layer-3/txguard/expiry"
	"github.com/layer-3/txguard/nonce"
	"github.com/layer-3/txguard/service"
	"github.com/layer-3/txguard/session"
)

const account = "0xde709f2102306220921060314715629080e2fb77"

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	sessions, err := session.NewManager(nil)
	require.NoError(t, err)

	v := service.NewValidator(service.DefaultConfig(), nonce.NewManager(nil), sessions, expiry.NewValidator(0, 0, 0), nil)
	t.Cleanup(func() { _ = v.Close() })

	return SetupRouter(v, tokenizer.NewJWTTokenizer(key))
}

func doJSON(t *testing.T, r http.Handler, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

type sessionResponse struct {
	SessionID    string `json:"session_id"`
	SessionToken string `json:"session_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

func openSession(t *testing.T, r http.Handler) sessionResponse {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/sessions", "", gin.H{"account": account})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[sessionResponse](t, w)
}

func nextNonce(t *testing.T, r http.Handler, bearer string) string {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/nonces", bearer, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[struct {
		Nonce string `json:"nonce"`
	}](t, w).Nonce
}

func txHash(t *testing.T) string {
	t.Helper()
	b := make([]byte, 32)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return "0x" + hex.EncodeToString(b)
}

func TestCreateSessionRejectsBadAccount(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/sessions", "", gin.H{"account": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/sessions", "", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	r := newTestRouter(t)

	assert.Equal(t, http.StatusUnauthorized, doJSON(t, r, http.MethodPost, "/nonces", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, doJSON(t, r, http.MethodPost, "/nonces", "garbage", nil).Code)
}

func TestValidateTransactionFlow(t *testing.T) {
	r := newTestRouter(t)
	sess := openSession(t, r)

	w := doJSON(t, r, http.MethodPost, "/tokens", sess.SessionToken, gin.H{"context": gin.H{"action": "buy"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	token := decode[struct {
		Token string `json:"token"`
	}](t, w).Token

	body := ValidateRequest{
		Metadata: MetadataRequest{
			Hash:            txHash(t),
			Account:         account,
			Nonce:           nextNonce(t, r, sess.SessionToken),
			Timestamp:       time.Now().UnixMilli(),
			TransactionType: "buy",
			Amount:          mustDecimal(t, "100"),
		},
		OneTimeToken: token,
	}

	w = doJSON(t, r, http.MethodPost, "/transactions/validate", sess.SessionToken, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[core.ValidationResult](t, w).IsValid)

	body.OneTimeToken = ""
	w = doJSON(t, r, http.MethodPost, "/transactions/validate", sess.SessionToken, body)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	res := decode[core.ValidationResult](t, w)
	assert.False(t, res.IsValid)
	assert.Equal(t, core.CodeNonceAlreadyUsed, res.ErrorCode)
}

func TestValidateTransactionAccountMismatch(t *testing.T) {
	r := newTestRouter(t)
	sess := openSession(t, r)

	body := ValidateRequest{Metadata: MetadataRequest{
		Hash:            txHash(t),
		Account:         "0x52908400098527886e0f7030069857d2e4169ee7",
		Nonce:           nextNonce(t, r, sess.SessionToken),
		Timestamp:       time.Now().UnixMilli(),
		TransactionType: "buy",
	}}

	w := doJSON(t, r, http.MethodPost, "/transactions/validate", sess.SessionToken, body)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, core.CodeSessionMismatch, decode[core.ValidationResult](t, w).ErrorCode)
}

func TestValidateTransactionBadNonce(t *testing.T) {
	r := newTestRouter(t)
	sess := openSession(t, r)

	body := ValidateRequest{Metadata: MetadataRequest{Account: account, Nonce: "not-a-number"}}
	w := doJSON(t, r, http.MethodPost, "/transactions/validate", sess.SessionToken, body)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	res := decode[core.ValidationResult](t, w)
	assert.False(t, res.IsValid)
	assert.Equal(t, core.CodeMissingRequiredFields, res.ErrorCode)
	assert.NotEmpty(t, res.Suggestion)
}

func TestEndSession(t *testing.T) {
	r := newTestRouter(t)
	sess := openSession(t, r)

	w := doJSON(t, r, http.MethodDelete, "/sessions", sess.SessionToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPost, "/nonces", sess.SessionToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, core.CodeSessionInactive, decode[core.ValidationResult](t, w).ErrorCode)
}

func TestEndAllAccountSessions(t *testing.T) {
	r := newTestRouter(t)
	first := openSession(t, r)
	second := openSession(t, r)

	w := doJSON(t, r, http.MethodDelete, "/sessions?all=true", first.SessionToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 2, decode[struct {
		Count int `json:"count"`
	}](t, w).Count)

	for _, sess := range []sessionResponse{first, second} {
		w = doJSON(t, r, http.MethodPost, "/nonces", sess.SessionToken, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, core.CodeSessionInactive, decode[core.ValidationResult](t, w).ErrorCode)
	}
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}
