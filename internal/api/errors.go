package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// ErrorKind classifies transport failures.
type ErrorKind string

const (
	KindTimeout ErrorKind = "TIMEOUT_ERROR"
	KindNetwork ErrorKind = "NETWORK_ERROR"
	KindAPI     ErrorKind = "API_ERROR"
	KindNoBody  ErrorKind = "NO_BODY"
)

// Error is a structured transport error. Cancellation is never an
// Error; it propagates as context.Canceled.
type Error struct {
	Kind    ErrorKind
	Status  int             // HTTP status, KindAPI only
	Code    string          // server-supplied machine code, if any
	Detail  json.RawMessage // raw response body when it parsed as JSON
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Kind == KindAPI {
		if e.Code != "" {
			return fmt.Sprintf("api error %d [%s]: %s", e.Status, e.Code, e.Message)
		}
		return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// IsKind reports whether err is a transport Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// classifyTransportError maps a failed request to the error taxonomy.
// Context cancellation passes through untouched so callers can tell
// a user abort apart from a real failure.
func classifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: "request timed out", cause: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return &Error{Kind: KindTimeout, Message: "request timed out", cause: err}
	}
	return &Error{Kind: KindNetwork, Message: "network failure", cause: err}
}
