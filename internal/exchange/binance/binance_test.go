package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "arb_bot/pkg/errors"
	httpclient "arb_bot/pkg/http"
	"arb_bot/pkg/logging"
)

func newTestAdapter() *Adapter {
	return NewAdapter(Config{
		APIKey:    "test-key",
		SecretKey: "test-secret",
	}, logging.NewTestLogger())
}

func apiError(body string) error {
	return &httpclient.APIError{StatusCode: 400, Body: []byte(body)}
}

func TestMapErrorCodes(t *testing.T) {
	a := newTestAdapter()

	cases := []struct {
		name string
		body string
		want error
	}{
		{"rate limit", `{"code":-1003,"msg":"Too many requests."}`, apperrors.ErrRateLimitExceeded},
		{"insufficient balance", `{"code":-2010,"msg":"Account has insufficient balance for requested action."}`, apperrors.ErrInsufficientBalance},
		{"post-only rejection", `{"code":-2010,"msg":"Order would immediately match and take."}`, apperrors.ErrOrderRejected},
		{"unknown order", `{"code":-2011,"msg":"Unknown order sent."}`, apperrors.ErrOrderNotFound},
		{"no such order", `{"code":-2013,"msg":"Order does not exist."}`, apperrors.ErrOrderNotFound},
		{"bad credentials", `{"code":-2015,"msg":"Invalid API-key, IP, or permissions for action."}`, apperrors.ErrAuthenticationFailed},
		{"bad symbol", `{"code":-1121,"msg":"Invalid symbol."}`, apperrors.ErrInvalidSymbol},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, a.mapError(apiError(tc.body)), tc.want)
		})
	}
}

func TestMapErrorUnknownCodePassesThrough(t *testing.T) {
	a := newTestAdapter()

	err := a.mapError(apiError(`{"code":-9999,"msg":"something new"}`))
	assert.NotErrorIs(t, err, apperrors.ErrNetwork)
	assert.Contains(t, err.Error(), "-9999")
}

func TestMapErrorNonAPIErrorIsNetwork(t *testing.T) {
	a := newTestAdapter()

	err := a.mapError(errors.New("dial tcp: connection refused"))
	assert.ErrorIs(t, err, apperrors.ErrNetwork)
}

func TestParseLevels(t *testing.T) {
	levels, err := parseLevels([][2]string{
		{"1.0500", "120.5"},
		{"1.0499", "80"},
	})
	require.NoError(t, err)
	require.Len(t, levels, 2)
	assert.True(t, levels[0].Price.Equal(decimal.RequireFromString("1.05")))
	assert.True(t, levels[0].Size.Equal(decimal.RequireFromString("120.5")))
	assert.True(t, levels[1].Size.Equal(decimal.NewFromInt(80)))

	_, err = parseLevels([][2]string{{"oops", "1"}})
	assert.Error(t, err)
}

func TestSignerSignsQueryAndSetsHeader(t *testing.T) {
	s := &signer{apiKey: "test-key", secretKey: "test-secret"}

	req, err := http.NewRequest(http.MethodGet,
		"https://api.binance.com/api/v3/order?symbol=ARBUSDT&orderId=42&timestamp=1756000000000", nil)
	require.NoError(t, err)
	require.NoError(t, s.SignRequest(req))

	assert.Equal(t, "test-key", req.Header.Get("X-MBX-APIKEY"))

	q, err := url.ParseQuery(req.URL.RawQuery)
	require.NoError(t, err)

	// The signature covers the sorted query without the signature itself.
	unsigned := url.Values{}
	for k, vs := range q {
		if k == "signature" {
			continue
		}
		unsigned[k] = vs
	}
	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte(unsigned.Encode()))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), q.Get("signature"))
}

func TestSignerAddsTimestamp(t *testing.T) {
	s := &signer{apiKey: "k", secretKey: "s"}

	req, err := http.NewRequest(http.MethodGet, "https://api.binance.com/api/v3/account", nil)
	require.NoError(t, err)
	require.NoError(t, s.SignRequest(req))

	q, err := url.ParseQuery(req.URL.RawQuery)
	require.NoError(t, err)
	assert.NotEmpty(t, q.Get("timestamp"))
	assert.NotEmpty(t, q.Get("signature"))
}
