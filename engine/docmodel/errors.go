// Package docmodel defines the indexed document shape, its invariants, and
// the error-kind taxonomy that drives retry/DLQ/ack policy across the
// worker runtime, backfill scanner, and DLQ triage.
package docmodel

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Wrap one of these with Wrap to attach an operation name;
// Classify recovers the Kind from an arbitrary error via errors.Is/As plus
// string heuristics for errors arriving from the AWS SDK or OpenSearch client
// that were never wrapped at the source.
var (
	ErrUnsupportedFormat  = errors.New("unsupported file format")
	ErrPermission         = errors.New("permission denied")
	ErrNotFound           = errors.New("source object not found")
	ErrCorruptInput       = errors.New("corrupt or empty input")
	ErrValidation         = errors.New("validation failed")
	ErrTimeout            = errors.New("operation timed out")
	ErrNetwork            = errors.New("network error")
	ErrThrottled          = errors.New("throttled")
	ErrResourceExhaustion = errors.New("resource exhausted")
	ErrIndexUnavailable   = errors.New("index cluster unavailable")
	ErrProcessingFailure  = errors.New("processing failure")
	ErrUnknown            = errors.New("unknown error")
)

// Kind categorizes a failure for retry/DLQ/ack policy purposes (§7).
type Kind int

const (
	KindUnsupportedFormat Kind = iota
	KindPermission
	KindNotFound
	KindCorruptInput
	KindValidation
	KindTimeout
	KindNetwork
	KindThrottled
	KindResourceExhaustion
	KindIndexUnavailable
	KindProcessingFailure
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindUnsupportedFormat:
		return "unsupported_format"
	case KindPermission:
		return "permission"
	case KindNotFound:
		return "not_found"
	case KindCorruptInput:
		return "corrupt_input"
	case KindValidation:
		return "validation"
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindThrottled:
		return "throttled"
	case KindResourceExhaustion:
		return "resource_exhaustion"
	case KindIndexUnavailable:
		return "index_unavailable"
	case KindProcessingFailure:
		return "processing_failure"
	default:
		return "unknown"
	}
}

// Retryable reports whether a worker should DLQ-and-let-triage-replay (true)
// versus drop the message outright (false, §4.3 "not supported" routing).
func (k Kind) Retryable() bool {
	switch k {
	case KindUnsupportedFormat:
		return false
	default:
		return true
	}
}

// DropSilently reports whether the message should be deleted without a DLQ
// entry — only unsupported-format messages per §4.6 step 3.
func (k Kind) DropSilently() bool {
	return k == KindUnsupportedFormat
}

// Priority orders DLQ triage attention; lower values are serviced first.
// Index unavailability is the highest priority per §7 (search cluster is a
// hard dependency); unknown errors sit at the lowest priority.
func (k Kind) Priority() int {
	switch k {
	case KindIndexUnavailable:
		return 0
	case KindThrottled, KindNetwork, KindTimeout, KindResourceExhaustion:
		return 1
	case KindProcessingFailure:
		return 2
	case KindUnknown:
		return 3
	default:
		return 2
	}
}

// ProcessingError pairs a Kind with the underlying cause and the operation
// that failed, mirroring the teacher's ValidationError wrapper shape.
type ProcessingError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *ProcessingError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// Wrap attaches a Kind and operation name to an underlying error.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &ProcessingError{Kind: kind, Op: op, Err: err}
}

// sentinelKinds maps each sentinel to its Kind for errors.Is lookups.
var sentinelKinds = []struct {
	sentinel error
	kind     Kind
}{
	{ErrUnsupportedFormat, KindUnsupportedFormat},
	{ErrPermission, KindPermission},
	{ErrNotFound, KindNotFound},
	{ErrCorruptInput, KindCorruptInput},
	{ErrValidation, KindValidation},
	{ErrTimeout, KindTimeout},
	{ErrNetwork, KindNetwork},
	{ErrThrottled, KindThrottled},
	{ErrResourceExhaustion, KindResourceExhaustion},
	{ErrIndexUnavailable, KindIndexUnavailable},
	{ErrProcessingFailure, KindProcessingFailure},
}

// Classify recovers a Kind from an arbitrary error. It first checks for a
// *ProcessingError or a wrapped sentinel via errors.Is, then falls back to
// substring heuristics for errors that arrive unwrapped from the AWS SDK or
// the OpenSearch client (throttling, timeouts, connection resets).
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	for _, sk := range sentinelKinds {
		if errors.Is(err, sk.sentinel) {
			return sk.kind
		}
	}
	return classifyByMessage(err.Error())
}

func classifyByMessage(msg string) Kind {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "throttl") || strings.Contains(lower, "rate exceeded") || strings.Contains(lower, "toomanyrequests"):
		return KindThrottled
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded") || strings.Contains(lower, "context canceled"):
		return KindTimeout
	case strings.Contains(lower, "opensearch") || strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host") || strings.Contains(lower, "index") && strings.Contains(lower, "unavailable"):
		return KindIndexUnavailable
	case strings.Contains(lower, "access denied") || strings.Contains(lower, "forbidden") || strings.Contains(lower, "permission"):
		return KindPermission
	case strings.Contains(lower, "not found") || strings.Contains(lower, "nosuchkey") || strings.Contains(lower, "404"):
		return KindNotFound
	case strings.Contains(lower, "connection reset") || strings.Contains(lower, "eof") || strings.Contains(lower, "network"):
		return KindNetwork
	case strings.Contains(lower, "memory") || strings.Contains(lower, "disk") || strings.Contains(lower, "too large"):
		return KindResourceExhaustion
	case strings.Contains(lower, "unsupported"):
		return KindUnsupportedFormat
	default:
		return KindUnknown
	}
}
