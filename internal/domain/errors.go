package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is the closed taxonomy of broker failures. HTTP responses are
// mapped onto it exactly once, at each adapter's request boundary.
type ErrorCode string

const (
	ErrInsufficientFunds    ErrorCode = "INSUFFICIENT_FUNDS"
	ErrInvalidSymbol        ErrorCode = "INVALID_SYMBOL"
	ErrMarketClosed         ErrorCode = "MARKET_CLOSED"
	ErrOrderRejected        ErrorCode = "ORDER_REJECTED"
	ErrRateLimited          ErrorCode = "RATE_LIMITED"
	ErrAuthenticationFailed ErrorCode = "AUTHENTICATION_FAILED"
	ErrConnectionError      ErrorCode = "CONNECTION_ERROR"
	ErrInvalidOrder         ErrorCode = "INVALID_ORDER"
	ErrPositionNotFound     ErrorCode = "POSITION_NOT_FOUND"
	ErrUnknown              ErrorCode = "UNKNOWN_ERROR"
)

// BrokerError is the one concrete error type adapters surface. It always
// carries the originating broker so multi-broker callers can attribute
// failures.
type BrokerError struct {
	Code    ErrorCode
	Message string
	Broker  BrokerType
	Cause   error
}

// NewBrokerError constructs a BrokerError without an underlying cause.
func NewBrokerError(broker BrokerType, code ErrorCode, message string) *BrokerError {
	return &BrokerError{Code: code, Message: message, Broker: broker}
}

// WrapBrokerError constructs a BrokerError around an underlying cause.
func WrapBrokerError(broker BrokerType, code ErrorCode, message string, cause error) *BrokerError {
	return &BrokerError{Code: code, Message: message, Broker: broker, Cause: cause}
}

// Error implements the error interface.
func (e *BrokerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Broker, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Broker, e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *BrokerError) Unwrap() error {
	return e.Cause
}

// AsBrokerError extracts a BrokerError from an error chain.
func AsBrokerError(err error) (*BrokerError, bool) {
	var be *BrokerError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// CodeFromHTTPStatus maps an HTTP status code to the error taxonomy. 2xx
// statuses never reach this function.
func CodeFromHTTPStatus(status int) ErrorCode {
	switch status {
	case http.StatusUnauthorized:
		return ErrAuthenticationFailed
	case http.StatusForbidden:
		return ErrInsufficientFunds
	case http.StatusNotFound:
		return ErrInvalidSymbol
	case http.StatusUnprocessableEntity:
		return ErrInvalidOrder
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return ErrUnknown
	}
}

// ErrorFromHTTPStatus builds a BrokerError for a non-2xx response, folding
// the broker's response body into the message.
func ErrorFromHTTPStatus(broker BrokerType, status int, body string) *BrokerError {
	msg := fmt.Sprintf("HTTP %d", status)
	if body != "" {
		msg = fmt.Sprintf("HTTP %d: %s", status, body)
	}
	return NewBrokerError(broker, CodeFromHTTPStatus(status), msg)
}
