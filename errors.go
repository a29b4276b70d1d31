package esclient

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Configuration errors
var (
	ErrEmptyClusters          = errors.New("clusters map is empty")
	ErrNoDefaultCluster       = errors.New("default cluster name not specified")
	ErrDefaultClusterNotFound = errors.New("default cluster not found in clusters map")
	ErrEmptyClusterName       = errors.New("cluster name is empty")
)

// ErrMalformedRequest is matched by every *MalformedRequestError.
var ErrMalformedRequest = errors.New("malformed request")

// ErrEmptyClusterAddresses returns error for cluster with no addresses.
func ErrEmptyClusterAddresses(clusterName string) error {
	return fmt.Errorf("cluster %q has no addresses", clusterName)
}

// ErrInvalidESVersion returns error for unsupported ES version.
func ErrInvalidESVersion(clusterName string, version int) error {
	return fmt.Errorf("cluster %q has invalid ES version %d (must be 8 or 9)", clusterName, version)
}

// ErrClusterNotFound returns error when cluster is not found in registry.
func ErrClusterNotFound(clusterName string) error {
	return fmt.Errorf("cluster %q not found in registry", clusterName)
}

// ErrInvalidBaseURL returns error for invalid cluster base URL.
func ErrInvalidBaseURL(clusterName, address string) error {
	return fmt.Errorf("cluster %q has invalid base URL %q (must be absolute URL)", clusterName, address)
}

// StatusError is returned when the engine answers with a status the
// operation has no typed outcome for.
type StatusError struct {
	Op         string
	StatusCode int
	Cause      *EngineError
}

func (e *StatusError) Error() string {
	var msg string
	if e.Op == "" {
		msg = fmt.Sprintf("elasticsearch returned status %d", e.StatusCode)
	} else {
		msg = fmt.Sprintf("%s returned status code %d", e.Op, e.StatusCode)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// TransportError wraps a failure of the underlying transport. The original
// error stays reachable through errors.Is / errors.As.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError reports a response body that does not match the schema
// expected for the request kind. Field is a dotted path to the offending
// value, e.g. "aggregations.terms#by_name.buckets".
type DecodeError struct {
	Op     string
	Field  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString("decode response")
	if e.Field != "" {
		fmt.Fprintf(&b, " field %q", e.Field)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErrorf(field, format string, args ...any) *DecodeError {
	return &DecodeError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// MalformedRequestError is a local precondition violation detected while
// mapping a request. It is a programmer error and never retried.
type MalformedRequestError struct {
	Kind   Kind
	Field  string
	Reason string
}

func (e *MalformedRequestError) Error() string {
	return fmt.Sprintf("malformed %s request: %s: %s", e.Kind, e.Field, e.Reason)
}

func (e *MalformedRequestError) Is(target error) bool {
	return target == ErrMalformedRequest
}

func malformed(kind Kind, field, reason string) error {
	return &MalformedRequestError{Kind: kind, Field: field, Reason: reason}
}

// EngineError is the structured error object Elasticsearch puts under
// "error" in failed responses and failed bulk items.
type EngineError struct {
	Type      string        `json:"type"`
	Reason    string        `json:"reason"`
	Index     string        `json:"index,omitempty"`
	Shard     string        `json:"shard,omitempty"`
	CausedBy  *EngineError  `json:"caused_by,omitempty"`
	RootCause []EngineError `json:"root_cause,omitempty"`
}

func (e *EngineError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Reason)
	if e.CausedBy != nil {
		msg += " (caused by " + e.CausedBy.Error() + ")"
	}
	return msg
}
