package errors

import (
	stderrors "errors"
	"fmt"
)

// Sentinel conditions that are reported to callers as states, not failures.
var (
	// ErrEmptyCorpus indicates that no source has been indexed yet.
	ErrEmptyCorpus = stderrors.New("no documents indexed")
	// ErrNoKeywordIndex indicates the keyword index has not been built.
	ErrNoKeywordIndex = stderrors.New("keyword index not built")
)

// DocError is the structured error type used across docsearch.
type DocError struct {
	// Code is the unique error code (e.g., "ERR_502_EMBEDDING_FAILED").
	Code string

	Message  string
	Category Category
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	Cause     error
	Retryable bool

	// Suggestion is an actionable hint for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *DocError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *DocError) Unwrap() error {
	return e.Cause
}

// Is matches another DocError by code so errors.Is works against code templates.
func (e *DocError) Is(target error) bool {
	if t, ok := target.(*DocError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *DocError) WithDetail(key, value string) *DocError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *DocError) WithSuggestion(suggestion string) *DocError {
	e.Suggestion = suggestion
	return e
}

// New creates a DocError. Category, severity and the retryable flag are derived from the code.
func New(code string, message string, cause error) *DocError {
	return &DocError{
		Code:       code,
		Message:    message,
		Category:   categoryFromCode(code),
		Severity:   severityFromCode(code),
		Cause:      cause,
		Retryable:  isRetryableCode(code),
		Suggestion: defaultSuggestion(code),
	}
}

// Wrap creates a DocError from an existing error, using its message.
// Callers must not pass a nil error.
func Wrap(code string, err error) *DocError {
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration error.
func ConfigError(message string, cause error) *DocError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// CredentialsError reports a missing API key environment variable.
func CredentialsError(envVar string) *DocError {
	return New(ErrCodeMissingCredentials, "API key not found in environment variable: "+envVar, nil).
		WithDetail("env", envVar).
		WithSuggestion(fmt.Sprintf("export %s=<key> or add it to a .env file", envVar))
}

// StorageError creates a storage error.
func StorageError(message string, cause error) *DocError {
	return New(ErrCodeFileNotFound, message, cause)
}

// ValidationError creates an input validation error.
func ValidationError(message string, cause error) *DocError {
	return New(ErrCodeInvalidInput, message, cause)
}

// CollaboratorError wraps a failed call to the embedding or LLM provider.
func CollaboratorError(op string, cause error) *DocError {
	return New(ErrCodeCollaboratorFailed, op+" failed", cause).WithDetail("op", op)
}

// IsRetryable reports whether err carries the retryable flag.
func IsRetryable(err error) bool {
	var de *DocError
	if stderrors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// IsFatal reports whether err has fatal severity.
func IsFatal(err error) bool {
	var de *DocError
	if stderrors.As(err, &de) {
		return de.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code, or "" for non-DocErrors.
func GetCode(err error) string {
	var de *DocError
	if stderrors.As(err, &de) {
		return de.Code
	}
	return ""
}

func defaultSuggestion(code string) string {
	switch code {
	case ErrCodeMissingCredentials:
		return "configure the embedding provider credentials"
	case ErrCodeCorruptIndex:
		return "rebuild the index with 'docsearch keyword rebuild' or re-run 'docsearch index --force'"
	case ErrCodeStoreLocked:
		return "another docsearch process is writing to the store; retry when it finishes"
	case ErrCodeMigrationFailed:
		return "inspect the store directory or re-index from scratch"
	default:
		return ""
	}
}
