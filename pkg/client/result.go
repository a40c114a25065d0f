package client

import (
	"net/http"
)

// ErrorClass represents a classification of failed fetches.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassUnexpected represents 1xx and 3xx statuses that carry no report.
	ErrorClassUnexpected ErrorClass = "unexpected"

	// ErrorClassNetwork represents transport faults: refused connections,
	// timeouts, DNS failures, malformed or truncated responses.
	ErrorClassNetwork ErrorClass = "network"
)

// Result is the outcome of one fetch.
// A Result is either a success carrying the raw response body, or empty.
type Result struct {
	// Payload is the response body, unmodified. Nil for empty results.
	Payload []byte

	// Status is the HTTP status code, or 0 when no response arrived.
	Status int

	// Class is empty for successes.
	Class ErrorClass

	// Err is the transport fault behind a network-class result.
	// It is informational only and never propagated.
	Err error
}

// Success builds a successful result (for fetcher stubs).
func Success(payload []byte) Result {
	return Result{Payload: payload, Status: http.StatusOK}
}

// Empty builds an empty result with the given status (for fetcher stubs).
func Empty(status int) Result {
	class := classifyStatus(status)
	if status == 0 {
		class = ErrorClassNetwork
	}
	return Result{Status: status, Class: class}
}

// OK reports whether the result carries a payload to persist.
func (r Result) OK() bool {
	return r.Class == "" && r.Status >= 200 && r.Status < 300
}

// classifyStatus returns the error class for a status code, or "" for 2xx.
func classifyStatus(status int) ErrorClass {
	switch {
	case status >= 200 && status < 300:
		return ""
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassUnexpected
	}
}
