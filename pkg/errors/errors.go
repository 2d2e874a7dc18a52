package apperrors

import "errors"

// Standardized venue adapter errors
var (
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrOrderRejected        = errors.New("order rejected")
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrNetwork              = errors.New("network error")
	ErrInvalidSymbol        = errors.New("invalid symbol")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrOrderNotFound        = errors.New("order not found")
	ErrDuplicateOrder       = errors.New("duplicate order")
	ErrLegTimeout           = errors.New("leg timeout")
	ErrQuoteUnavailable     = errors.New("quote unavailable")
	ErrSwapReverted         = errors.New("swap reverted")
	ErrNonceTooLow          = errors.New("nonce too low")
)

// Admission and execution errors
var (
	ErrBreakerOpen            = errors.New("breaker open")
	ErrReplayRejected         = errors.New("replay rejected")
	ErrStaleSignal            = errors.New("stale signal")
	ErrSafetyViolation        = errors.New("safety violation")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrUnwindFailed           = errors.New("unwind failed")
	ErrKillSwitchActive       = errors.New("kill switch active")
)
