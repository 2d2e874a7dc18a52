// Package recovery implements the admission and failure-handling plane:
// failure classification, circuit breaking, replay protection and the
// final safety gate.
package recovery

import (
	"context"
	"errors"
	"strings"

	apperrors "arb_bot/pkg/errors"
)

// FailureKind buckets adapter and executor errors for retry and breaker
// decisions.
type FailureKind int

const (
	KindTransient FailureKind = iota
	KindPermanent
	KindRateLimit
	KindNetwork
	KindUnknown
)

func (k FailureKind) String() string {
	switch k {
	case KindTransient:
		return "TRANSIENT"
	case KindPermanent:
		return "PERMANENT"
	case KindRateLimit:
		return "RATE_LIMIT"
	case KindNetwork:
		return "NETWORK"
	default:
		return "UNKNOWN"
	}
}

// patternRule maps message fragments to a kind. Rules are checked in
// order; the first match wins.
type patternRule struct {
	fragments []string
	kind      FailureKind
}

var messageRules = []patternRule{
	{[]string{"rate limit", "too many requests", "429"}, KindRateLimit},
	{[]string{"connection refused", "connection reset", "no such host", "dns", "broken pipe", "network"}, KindNetwork},
	{[]string{"insufficient", "invalid", "revert", "nonce too low", "rejected", "unauthorized"}, KindPermanent},
	{[]string{"timeout", "timed out", "temporar", "transient", "deadline exceeded"}, KindTransient},
}

// Classifier maps errors onto the failure taxonomy. Sentinel matches take
// precedence over message patterns; anything unmatched is UNKNOWN, which
// retries like TRANSIENT but still counts toward the breaker.
type Classifier struct{}

// Classify buckets an error.
func (Classifier) Classify(err error) FailureKind {
	if err == nil {
		return KindUnknown
	}

	switch {
	case errors.Is(err, apperrors.ErrRateLimitExceeded):
		return KindRateLimit
	case errors.Is(err, apperrors.ErrNetwork):
		return KindNetwork
	case errors.Is(err, apperrors.ErrInsufficientBalance),
		errors.Is(err, apperrors.ErrOrderRejected),
		errors.Is(err, apperrors.ErrInvalidSymbol),
		errors.Is(err, apperrors.ErrAuthenticationFailed),
		errors.Is(err, apperrors.ErrDuplicateOrder),
		errors.Is(err, apperrors.ErrSwapReverted),
		errors.Is(err, apperrors.ErrNonceTooLow):
		return KindPermanent
	case errors.Is(err, apperrors.ErrLegTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range messageRules {
		for _, frag := range rule.fragments {
			if strings.Contains(msg, frag) {
				return rule.kind
			}
		}
	}
	return KindUnknown
}

// Retryable reports whether a kind should be retried within a leg budget.
func (Classifier) Retryable(kind FailureKind) bool {
	switch kind {
	case KindTransient, KindRateLimit, KindNetwork, KindUnknown:
		return true
	default:
		return false
	}
}
