// Package apierror classifies failures of a generation and maps them to
// HTTP responses and user-facing messages.
package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
)

// Kind is the failure class of a generation.
type Kind int

const (
	Internal Kind = iota
	InvalidRequest
	Misconfigured
	UpstreamTransport
	MalformedUpstreamPayload
	ClientAbort
	Unavailable
)

func (k Kind) String() string {
	switch k {
	case InvalidRequest:
		return "invalid_request"
	case Misconfigured:
		return "misconfigured"
	case UpstreamTransport:
		return "upstream_error"
	case MalformedUpstreamPayload:
		return "malformed_upstream_payload"
	case ClientAbort:
		return "client_abort"
	case Unavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Error is a classified failure. Message is safe to show to users.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus returns the status used when the error is reported before a
// stream has started.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case InvalidRequest:
		return http.StatusBadRequest
	case Unavailable:
		return http.StatusServiceUnavailable
	case ClientAbort:
		// nginx convention; never actually written since the client is gone
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// New returns an Error of kind k.
func New(k Kind, msg string) *Error { return &Error{Kind: k, Message: msg} }

// Wrap returns an Error of kind k carrying err.
func Wrap(k Kind, msg string, err error) *Error { return &Error{Kind: k, Message: msg, Err: err} }

// KindOf reports the Kind of err. Context cancellation is a ClientAbort and
// unclassified errors are Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return ClientAbort
	}
	return Internal
}

// WriteJSON writes err as {"error": message} with the matching status.
func WriteJSON(w http.ResponseWriter, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = Wrap(Internal, "Internal server error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus())
	_ = json.NewEncoder(w).Encode(map[string]string{"error": e.Error()})
}

// Error codes used for user-facing messages.
const (
	CodeTimeout    = "TIMEOUT_ERROR"
	CodeNetwork    = "NETWORK_ERROR"
	CodeAPI        = "API_ERROR"
	CodeGeneration = "GENERATION_ERROR"
	CodeValidation = "VALIDATION_ERROR"
	CodeUnknown    = "UNKNOWN_ERROR"
)

var friendly = map[string]string{
	CodeTimeout:    "Request timed out. Please try again.",
	CodeNetwork:    "Network error. Please check your connection.",
	CodeAPI:        "Server error. Please try again later.",
	CodeGeneration: "Failed to generate code. Please try again with a different prompt.",
	CodeValidation: "Please check your input and try again.",
	CodeUnknown:    "An unexpected error occurred. Please try again.",
}

// FriendlyMessage returns the user message for code, falling back to the
// generic message for unknown codes.
func FriendlyMessage(code string) string {
	if m, ok := friendly[code]; ok {
		return m
	}
	return friendly[CodeUnknown]
}

// Classify maps err to one of the Code constants.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return CodeTimeout
		}
		return CodeNetwork
	}
	switch KindOf(err) {
	case InvalidRequest:
		return CodeValidation
	case UpstreamTransport, Misconfigured:
		return CodeAPI
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return CodeTimeout
	case strings.Contains(msg, "network"), strings.Contains(msg, "connection"):
		return CodeNetwork
	case strings.Contains(msg, "api"):
		return CodeAPI
	case strings.Contains(msg, "generat"):
		return CodeGeneration
	}
	return CodeUnknown
}
