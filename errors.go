package bluebonnet

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP is a non-2xx response from a provider or store endpoint.
// RetryAfter carries the parsed Retry-After header, 0 when absent.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ParseRetryAfter parses a Retry-After header value, accepting both
// delta-seconds and HTTP-date forms. Returns 0 for empty or unparseable input.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// ErrInvalidArgument reports a malformed request field. Never retried;
// the HTTP layer maps it to 400.
type ErrInvalidArgument struct {
	Field  string
	Reason string
}

func (e *ErrInvalidArgument) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ErrUpstream wraps a store or provider failure that survived the client's
// retries. The HTTP layer maps it to 503.
type ErrUpstream struct {
	Component string // "store", "llm", "embedding", "websearch"
	Err       error
}

func (e *ErrUpstream) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Component, e.Err)
}

func (e *ErrUpstream) Unwrap() error { return e.Err }

// ErrParse reports structured LLM output that still failed validation after
// the schema-reminder retry. Components with a fallback (reranker, intent
// classifier) absorb it; elsewhere the HTTP layer maps it to 502.
type ErrParse struct {
	Component string
	Raw       string // offending response text
	Err       error
}

func (e *ErrParse) Error() string {
	return fmt.Sprintf("%s: parse response: %v", e.Component, e.Err)
}

func (e *ErrParse) Unwrap() error { return e.Err }

// ErrConfigMismatch reports an evaluation resume whose checkpoint was written
// under a different citation mode than the current configuration.
type ErrConfigMismatch struct {
	Stored  string
	Current string
}

func (e *ErrConfigMismatch) Error() string {
	return fmt.Sprintf("checkpoint citation mode %q does not match current %q: align the config or delete the checkpoint",
		e.Stored, e.Current)
}
