package loqed

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

// ErrorKind classifies gateway failures.
type ErrorKind string

const (
	KindNetwork  ErrorKind = "network"
	KindAuth     ErrorKind = "auth"
	KindRejected ErrorKind = "rejected"
)

// GatewayError wraps any failure talking to the lock API.
type GatewayError struct {
	Op     string
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *GatewayError) Error() string {
	if e == nil {
		return "gateway error"
	}
	if e.Status > 0 {
		return fmt.Sprintf("loqed %s: %s (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("loqed %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *GatewayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsGatewayError reports whether err carries a GatewayError.
func IsGatewayError(err error) bool {
	var gerr *GatewayError
	return errors.As(err, &gerr)
}

// KindOf returns the gateway error kind, or "" for other errors.
func KindOf(err error) ErrorKind {
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return ""
}

func statusError(op string, status int, body string) *GatewayError {
	kind := KindRejected
	if status == 401 || status == 403 {
		kind = KindAuth
	}
	body = strings.TrimSpace(body)
	if body == "" {
		body = "empty response"
	}
	return &GatewayError{Op: op, Kind: kind, Status: status, Err: errors.New(body)}
}

func networkError(op string, err error) *GatewayError {
	return &GatewayError{Op: op, Kind: KindNetwork, Err: err}
}

// IsRetryable reports whether a later attempt might succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		switch gerr.Kind {
		case KindAuth:
			return false
		case KindRejected:
			return gerr.Status >= 500 || gerr.Status == 429
		}
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "connection reset") ||
		strings.Contains(message, "connection refused") ||
		strings.Contains(message, "timeout")
}
