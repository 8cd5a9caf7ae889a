package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures along the resolution ladder.
type ErrorKind string

const (
	KindValidation               ErrorKind = "validation"
	KindSchemaUnavailable        ErrorKind = "schema_unavailable"
	KindEmbeddingUnavailable     ErrorKind = "embedding_unavailable"
	KindCacheUnavailable         ErrorKind = "cache_unavailable"
	KindPatternExecutionFailed   ErrorKind = "pattern_execution_failed"
	KindLLMUnavailable           ErrorKind = "llm_unavailable"
	KindLLMInvalidResponse       ErrorKind = "llm_invalid_response"
	KindStatementExecutionFailed ErrorKind = "statement_execution_failed"
	KindInternal                 ErrorKind = "internal"
)

// DomainError carries a kind along with a message and the wrapped cause.
type DomainError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewError creates a new domain error.
func NewError(kind ErrorKind, message string, err error) *DomainError {
	return &DomainError{Kind: kind, Message: message, Err: err}
}

func ValidationError(message string, err error) *DomainError {
	return NewError(KindValidation, message, err)
}

func SchemaUnavailable(message string, err error) *DomainError {
	return NewError(KindSchemaUnavailable, message, err)
}

func EmbeddingUnavailable(message string, err error) *DomainError {
	return NewError(KindEmbeddingUnavailable, message, err)
}

func CacheUnavailable(message string, err error) *DomainError {
	return NewError(KindCacheUnavailable, message, err)
}

func PatternExecutionFailed(message string, err error) *DomainError {
	return NewError(KindPatternExecutionFailed, message, err)
}

func LLMUnavailable(message string, err error) *DomainError {
	return NewError(KindLLMUnavailable, message, err)
}

func LLMInvalidResponse(message string, err error) *DomainError {
	return NewError(KindLLMInvalidResponse, message, err)
}

func StatementExecutionFailed(message string, err error) *DomainError {
	return NewError(KindStatementExecutionFailed, message, err)
}

// KindOf returns the kind of the first DomainError in err's chain, or
// KindInternal when there is none.
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
