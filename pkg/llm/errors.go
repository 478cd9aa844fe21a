package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies why a generative call failed.
type ErrorKind string

const (
	KindTransport         ErrorKind = "transport"
	KindTimeout           ErrorKind = "timeout"
	KindRateLimit         ErrorKind = "rate_limit"
	KindMalformedResponse ErrorKind = "malformed_response"
)

// ErrEmptyResponse is returned when the model answers with no choices.
var ErrEmptyResponse = errors.New("no response from LLM")

// GenerationError reports a failed call to the generative capability.
type GenerationError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// IsGenerationError reports whether err wraps a *GenerationError.
func IsGenerationError(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge)
}

func newGenerationError(op string, err error) *GenerationError {
	return &GenerationError{Op: op, Kind: classify(err), Err: err}
}

func classify(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, ErrEmptyResponse) {
		return KindMalformedResponse
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "quota"):
		return KindRateLimit
	case strings.Contains(msg, "unmarshal"),
		strings.Contains(msg, "invalid character"),
		strings.Contains(msg, "unexpected end of json"):
		return KindMalformedResponse
	}
	return KindTransport
}
