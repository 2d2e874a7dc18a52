package recovery

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "arb_bot/pkg/errors"
)

func TestClassifySentinels(t *testing.T) {
	c := Classifier{}

	cases := []struct {
		err  error
		want FailureKind
	}{
		{apperrors.ErrRateLimitExceeded, KindRateLimit},
		{fmt.Errorf("fetch book: %w", apperrors.ErrNetwork), KindNetwork},
		{apperrors.ErrInsufficientBalance, KindPermanent},
		{apperrors.ErrOrderRejected, KindPermanent},
		{apperrors.ErrAuthenticationFailed, KindPermanent},
		{apperrors.ErrSwapReverted, KindPermanent},
		{apperrors.ErrNonceTooLow, KindPermanent},
		{apperrors.ErrLegTimeout, KindTransient},
		{context.DeadlineExceeded, KindTransient},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, c.Classify(tc.err), "error: %v", tc.err)
	}
}

func TestClassifyMessagePatterns(t *testing.T) {
	c := Classifier{}

	cases := []struct {
		msg  string
		want FailureKind
	}{
		{"HTTP 429 too many requests", KindRateLimit},
		{"dial tcp: connection refused", KindNetwork},
		{"execution reverted by pool", KindPermanent},
		{"request timed out waiting for receipt", KindTransient},
		{"something entirely novel", KindUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, c.Classify(errors.New(tc.msg)), "message: %s", tc.msg)
	}
}

func TestClassifyNil(t *testing.T) {
	assert.Equal(t, KindUnknown, Classifier{}.Classify(nil))
}

func TestRetryable(t *testing.T) {
	c := Classifier{}

	assert.True(t, c.Retryable(KindTransient))
	assert.True(t, c.Retryable(KindRateLimit))
	assert.True(t, c.Retryable(KindNetwork))
	assert.True(t, c.Retryable(KindUnknown))
	assert.False(t, c.Retryable(KindPermanent))
}
