// Package errors provides the structured error type used across the
// server. Every failure is classified by a Kind that clients and the
// trace log can dispatch on.
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a failure.
type Kind string

const (
	KindSessionNotFound       Kind = "session_not_found"
	KindDocumentNotFound      Kind = "document_not_found"
	KindSpanNotFound          Kind = "span_not_found"
	KindArtifactNotFound      Kind = "artifact_not_found"
	KindCrossSessionReference Kind = "cross_session_reference"
	KindBudgetExceeded        Kind = "budget_exceeded"
	KindInvalidStrategy       Kind = "invalid_strategy"
	KindUnknownSource         Kind = "unknown_source"
	KindOversizeSource        Kind = "oversize_source"
	KindContentMissing        Kind = "content_missing"
	KindAlreadyClosed         Kind = "already_closed"
	KindSecretsBlocked        Kind = "secrets_blocked"
	KindIndexCorrupted        Kind = "index_corrupted"
	KindPersistenceFailed     Kind = "persistence_failed"
	KindInvalidInput          Kind = "invalid_input"
	KindStorage               Kind = "storage"
	KindInternal              Kind = "internal"
)

// Error is the structured error type for the server.
type Error struct {
	// Kind is the failure classification.
	Kind Kind

	// Message is the human-readable error message.
	Message string

	// Details contains identifying context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if len(e.Details) == 0 {
		return msg
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+e.Details[k])
	}
	return msg + " (" + strings.Join(parts, ", ") + ")"
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// WithDetail adds a key-value detail and returns the error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates an Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error from an existing error, keeping it as the cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the kind from an error chain.
// Returns KindInternal for non-structured errors, "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// SessionNotFound builds the canonical session lookup failure.
func SessionNotFound(sessionID string) *Error {
	return Newf(KindSessionNotFound,
		"session %q not found. It may have been closed or never existed", sessionID).
		WithDetail("session_id", sessionID)
}

// DocumentNotFound builds the canonical document lookup failure.
func DocumentNotFound(docID string) *Error {
	return Newf(KindDocumentNotFound, "document %q not found", docID).
		WithDetail("doc_id", docID)
}

// SpanNotFound builds the canonical span lookup failure.
func SpanNotFound(spanID string) *Error {
	return Newf(KindSpanNotFound, "span %q not found. It may have been deleted or never created", spanID).
		WithDetail("span_id", spanID)
}

// ArtifactNotFound builds the canonical artifact lookup failure.
func ArtifactNotFound(artifactID string) *Error {
	return Newf(KindArtifactNotFound, "artifact %q not found", artifactID).
		WithDetail("artifact_id", artifactID)
}

// CrossSession builds the failure for a reference that resolves outside
// the caller's session.
func CrossSession(what, id, sessionID string) *Error {
	return Newf(KindCrossSessionReference, "%s %q does not belong to session %q", what, id, sessionID).
		WithDetail("session_id", sessionID)
}

// BudgetExceeded builds the failure for an exhausted tool-call budget.
func BudgetExceeded(sessionID string, used, limit int) *Error {
	return Newf(KindBudgetExceeded,
		"tool call budget exceeded: %d/%d calls used. Close this session or create a new one with a higher max_tool_calls",
		used, limit).
		WithDetail("session_id", sessionID).
		WithDetail("used", fmt.Sprintf("%d", used)).
		WithDetail("limit", fmt.Sprintf("%d", limit))
}

// ContentMissing builds the failure for a blob that is not in the store.
func ContentMissing(contentHash string) *Error {
	return New(KindContentMissing, "content not found in blob store. The blob may have been pruned").
		WithDetail("content_hash", contentHash)
}

// AlreadyClosed builds the failure for closing a non-active session.
func AlreadyClosed(sessionID string) *Error {
	return Newf(KindAlreadyClosed, "session already closed: %s", sessionID).
		WithDetail("session_id", sessionID)
}
