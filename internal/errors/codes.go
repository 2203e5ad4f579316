// Package errors provides structured error handling for docsearch.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors
//   - 3XX: Collaborator (network) errors
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	CategoryConfig     Category = "CONFIG"
	CategoryStorage    Category = "STORAGE"
	CategoryNetwork    Category = "NETWORK"
	CategoryValidation Category = "VALIDATION"
	CategoryInternal   Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal aborts the current operation.
	SeverityFatal Severity = "FATAL"
	// SeverityError means the operation failed but the process can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning means a degraded result was produced.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	ErrCodeConfigNotFound     = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid      = "ERR_102_CONFIG_INVALID"
	ErrCodeMissingCredentials = "ERR_103_MISSING_CREDENTIALS"

	ErrCodeFileNotFound = "ERR_201_FILE_NOT_FOUND"
	ErrCodeCorruptIndex = "ERR_205_CORRUPT_INDEX"
	ErrCodeStoreLocked  = "ERR_207_STORE_LOCKED"

	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_302_NETWORK_UNAVAILABLE"
	ErrCodeCollaboratorFailed = "ERR_304_COLLABORATOR_FAILED"

	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeQueryEmpty        = "ERR_404_QUERY_EMPTY"

	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed    = "ERR_503_SEARCH_FAILED"
	ErrCodeMigrationFailed = "ERR_506_MIGRATION_FAILED"
)

// categoryFromCode extracts the category from the numeric part of a code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeMissingCredentials, ErrCodeMigrationFailed:
		return SeverityFatal
	}
	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable, ErrCodeStoreLocked:
		return true
	default:
		return false
	}
}
