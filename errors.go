package taskforce

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the engine's per-kind reactions. The set is
// closed: tool-level kinds are recovered inside the pack loop, while
// KindRecruitError and KindLLMTransport abort the run.
type Kind string

const (
	KindPermission          Kind = "permission"
	KindInvalidArgs         Kind = "invalid_args"
	KindIOError             Kind = "io_error"
	KindUnexpected          Kind = "unexpected"
	KindFinishMissingFields Kind = "finish_missing_fields"
	KindFinishNoPriorWork   Kind = "finish_no_prior_work"
	KindQualityGateFailed   Kind = "quality_gate_failed"
	KindFallbackTrigger     Kind = "fallback_trigger"
	KindRecruitError        Kind = "recruit_error"
	KindLLMTransport        Kind = "llm_transport"
)

// Error is a classified error. All errors crossing a component boundary in
// this package carry a Kind so the engine can react without string matching.
type Error struct {
	Kind    Kind
	Message string
	Err     error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Errf creates a classified error with a formatted message.
func Errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapErr classifies an existing error, preserving it as the cause.
func WrapErr(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from an error chain. Unclassified errors report
// KindUnexpected; callers check ctx.Err() before classifying so cancellation
// is never swallowed into a tool error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}

// ErrHTTP is a transport-level HTTP failure from an LLM backend.
// Chat clients wrap it with KindLLMTransport before it reaches the engine.
type ErrHTTP struct {
	Status int
	Body   string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}
