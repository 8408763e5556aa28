package model

import (
	"context"
	"errors"
)

// 错误分类。调用方通过 errors.Is 判断，ErrorKind 用于计数与 metrics 标签。
var (
	ErrExtractionIncomplete  = errors.New("extraction incomplete")
	ErrSessionUnavailable    = errors.New("browser session unavailable")
	ErrNetworkTransient      = errors.New("transient network failure")
	ErrMatchingAmbiguous     = errors.New("identifier search ambiguous")
	ErrStateCorruption       = errors.New("state corruption")
	ErrAuthenticationFailure = errors.New("supplier authentication failure")
	ErrCircuitOpen           = errors.New("circuit breaker open")
	ErrNotFound              = errors.New("not found")
)

// ErrorKind 返回错误对应的分类标签。
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrExtractionIncomplete):
		return "extraction_incomplete"
	case errors.Is(err, ErrSessionUnavailable):
		return "session_unavailable"
	case errors.Is(err, ErrAuthenticationFailure):
		return "authentication_failure"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrNetworkTransient):
		return "network_transient"
	case errors.Is(err, ErrMatchingAmbiguous):
		return "matching_ambiguous"
	case errors.Is(err, ErrStateCorruption):
		return "state_corruption"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "unknown"
	}
}
