// Package errors provides enhanced error types with helpful context and suggestions
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/seanankenbruck/mongo-query-bot/internal/querytext"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Question processing errors
	ErrCodeEmbeddingGeneration ErrorCode = "EMBEDDING_GENERATION_FAILED"
	ErrCodeQueryGeneration     ErrorCode = "QUERY_GENERATION_FAILED"
	ErrCodeLLMUnavailable      ErrorCode = "LLM_UNAVAILABLE"

	// Query text errors
	ErrCodeQueryParse        ErrorCode = "QUERY_PARSE_FAILED"
	ErrCodeInvalidQueryShape ErrorCode = "INVALID_QUERY_SHAPE"
	ErrCodeUnsupportedVerb   ErrorCode = "UNSUPPORTED_VERB"

	// Safety check errors
	ErrCodeForbiddenField    ErrorCode = "FORBIDDEN_FIELD"
	ErrCodeForbiddenOperator ErrorCode = "FORBIDDEN_OPERATOR"
	ErrCodeQueryTooComplex   ErrorCode = "QUERY_TOO_COMPLEX"

	// Database errors
	ErrCodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeDatabaseQuery      ErrorCode = "DATABASE_QUERY_FAILED"
	ErrCodeQueryExecution     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeCollectionNotFound ErrorCode = "COLLECTION_NOT_FOUND"

	// Authentication errors
	ErrCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeTokenCreation      ErrorCode = "TOKEN_CREATION_FAILED"
	ErrCodeNotAuthenticated   ErrorCode = "NOT_AUTHENTICATED"
	ErrCodeInsufficientPerms  ErrorCode = "INSUFFICIENT_PERMISSIONS"
	ErrCodeRateLimited        ErrorCode = "RATE_LIMITED"
	ErrCodeQuotaExceeded      ErrorCode = "QUOTA_EXCEEDED"

	// Input validation errors
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED_FIELD"

	ErrCodeInternal ErrorCode = "INTERNAL"
)

// EnhancedError represents an error with additional context and helpful information
type EnhancedError struct {
	Code          ErrorCode              `json:"code"`
	Message       string                 `json:"message"`
	Details       string                 `json:"details,omitempty"`
	Suggestion    string                 `json:"suggestion,omitempty"`
	Documentation string                 `json:"documentation,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Cause         error                  `json:"-"`
}

// Error implements the error interface
func (e *EnhancedError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))
	if e.Details != "" {
		sb.WriteString(fmt.Sprintf(": %s", e.Details))
	}
	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf(" (cause: %v)", e.Cause))
	}
	return sb.String()
}

// Unwrap returns the underlying error for error chain unwrapping
func (e *EnhancedError) Unwrap() error {
	return e.Cause
}

// Is matches another EnhancedError by code.
func (e *EnhancedError) Is(target error) bool {
	t, ok := target.(*EnhancedError)
	return ok && t.Code == e.Code
}

// UserMessage returns a user-friendly error message with suggestions
func (e *EnhancedError) UserMessage() string {
	var sb strings.Builder
	sb.WriteString(e.Message)

	if e.Details != "" {
		sb.WriteString(fmt.Sprintf("\n\nDetails: %s", e.Details))
	}
	if e.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("\n\nSuggestion: %s", e.Suggestion))
	}
	if e.Documentation != "" {
		sb.WriteString(fmt.Sprintf("\n\nLearn more: %s", e.Documentation))
	}

	return sb.String()
}

// Retryable reports whether the error was marked as transient.
func (e *EnhancedError) Retryable() bool {
	v, ok := e.Metadata["retryable"].(bool)
	return ok && v
}

// New creates a new EnhancedError
func New(code ErrorCode, message string) *EnhancedError {
	return &EnhancedError{
		Code:     code,
		Message:  message,
		Metadata: make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with enhanced context
func Wrap(err error, code ErrorCode, message string) *EnhancedError {
	return &EnhancedError{
		Code:     code,
		Message:  message,
		Cause:    err,
		Metadata: make(map[string]interface{}),
	}
}

// WithDetails adds detailed information about the error
func (e *EnhancedError) WithDetails(details string) *EnhancedError {
	e.Details = details
	return e
}

// WithSuggestion adds a suggestion on how to fix the error
func (e *EnhancedError) WithSuggestion(suggestion string) *EnhancedError {
	e.Suggestion = suggestion
	return e
}

// WithMetadata adds additional metadata to the error
func (e *EnhancedError) WithMetadata(key string, value interface{}) *EnhancedError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// As returns err as an *EnhancedError if one is in its chain.
func As(err error) (*EnhancedError, bool) {
	var enhanced *EnhancedError
	if stderrors.As(err, &enhanced) {
		return enhanced, true
	}
	return nil, false
}

// HTTPStatus maps an error code to the status returned by the API.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeInvalidInput, ErrCodeMissingRequired:
		return http.StatusBadRequest
	case ErrCodeQueryParse, ErrCodeInvalidQueryShape, ErrCodeUnsupportedVerb:
		return http.StatusUnprocessableEntity
	case ErrCodeForbiddenField, ErrCodeForbiddenOperator, ErrCodeQueryTooComplex, ErrCodeInsufficientPerms:
		return http.StatusForbidden
	case ErrCodeNotAuthenticated, ErrCodeInvalidCredentials:
		return http.StatusUnauthorized
	case ErrCodeRateLimited, ErrCodeQuotaExceeded:
		return http.StatusTooManyRequests
	case ErrCodeCollectionNotFound:
		return http.StatusNotFound
	case ErrCodeLLMUnavailable, ErrCodeDatabaseConnection:
		return http.StatusServiceUnavailable
	case ErrCodeQueryGeneration, ErrCodeQueryExecution, ErrCodeEmbeddingGeneration:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Response returns the status code and JSON body for err. Errors that are
// not EnhancedErrors are reported as internal without their text.
func Response(err error) (int, map[string]interface{}) {
	enhanced, ok := As(err)
	if !ok {
		return http.StatusInternalServerError, map[string]interface{}{
			"error": map[string]interface{}{
				"code":    ErrCodeInternal,
				"message": "Internal server error",
			},
		}
	}

	body := map[string]interface{}{
		"code":    enhanced.Code,
		"message": enhanced.Message,
	}
	if enhanced.Details != "" {
		body["details"] = enhanced.Details
	}
	if enhanced.Suggestion != "" {
		body["suggestion"] = enhanced.Suggestion
	}
	if enhanced.Documentation != "" {
		body["documentation"] = enhanced.Documentation
	}
	if len(enhanced.Metadata) > 0 {
		body["metadata"] = enhanced.Metadata
	}
	return HTTPStatus(enhanced.Code), map[string]interface{}{"error": body}
}

// Common error constructors with pre-configured messages

// FromQueryTextError converts a querytext parse, shape or verb error into an
// EnhancedError. Other errors are returned wrapped as internal.
func FromQueryTextError(err error, text string) *EnhancedError {
	var parseErr *querytext.ParseError
	var shapeErr *querytext.InvalidQueryShapeError
	var verbErr *querytext.UnsupportedVerbError

	switch {
	case stderrors.As(err, &parseErr):
		return Wrap(err, ErrCodeQueryParse, "Could not understand the generated query").
			WithDetails(parseErr.Err.Error()).
			WithSuggestion("Try rephrasing your question. Naming the field and value you are interested in usually helps.").
			WithMetadata("query_text", text)
	case stderrors.As(err, &shapeErr):
		e := Wrap(err, ErrCodeInvalidQueryShape, "Generated query has an invalid structure").
			WithDetails(shapeErr.Error()).
			WithSuggestion("Operators like $gte or $lt must be nested under a field name. Please rephrase your question.").
			WithMetadata("query_text", text)
		if shapeErr.Key != "" {
			e.WithMetadata("operator", shapeErr.Key)
		}
		return e
	case stderrors.As(err, &verbErr):
		return Wrap(err, ErrCodeUnsupportedVerb, "Generated text is not a supported query").
			WithDetails(verbErr.Error()).
			WithSuggestion("Try rephrasing your question so it asks to find, count, list unique values or aggregate records.").
			WithMetadata("query_text", text)
	}
	return Wrap(err, ErrCodeInternal, "Unexpected query text error")
}

// NewEmbeddingGenerationError creates an error for embedding generation failures
func NewEmbeddingGenerationError(err error) *EnhancedError {
	return Wrap(err, ErrCodeEmbeddingGeneration, "Failed to generate question embedding").
		WithDetails("The AI service was unable to process your question for example lookup").
		WithSuggestion("This is typically a temporary issue. Please try your question again in a moment.").
		WithMetadata("retryable", true)
}

// NewQueryGenerationError creates an error for query generation failures
func NewQueryGenerationError(err error) *EnhancedError {
	return Wrap(err, ErrCodeQueryGeneration, "Failed to generate MongoDB query").
		WithDetails("The AI was unable to convert your question to a MongoDB query").
		WithSuggestion("Try simplifying your question or naming the fields you want to filter on.").
		WithMetadata("retryable", true)
}

// NewLLMUnavailableError is returned while the model circuit is open.
func NewLLMUnavailableError(err error) *EnhancedError {
	return Wrap(err, ErrCodeLLMUnavailable, "Language model is temporarily unavailable").
		WithSuggestion("The service is recovering from repeated model failures. Please try again shortly.").
		WithMetadata("retryable", true)
}

// NewForbiddenFieldError creates an error for forbidden field access
func NewForbiddenFieldError(field, pattern string) *EnhancedError {
	return New(ErrCodeForbiddenField, "Query references a forbidden field").
		WithDetails(fmt.Sprintf("Field '%s' matches the forbidden pattern: %s", field, pattern)).
		WithSuggestion("Fields containing sensitive information cannot be queried. Please contact your administrator if you need access.").
		WithMetadata("field", field)
}

// NewForbiddenOperatorError creates an error for operators that run code or write data
func NewForbiddenOperatorError(operator string) *EnhancedError {
	return New(ErrCodeForbiddenOperator, "Query uses a forbidden operator").
		WithDetails(fmt.Sprintf("The operator '%s' is not allowed", operator)).
		WithSuggestion("Server-side JavaScript and write stages such as $out or $merge are disabled. Rephrase the question as a read-only query.").
		WithMetadata("operator", operator)
}

// NewQueryTooComplexError creates an error for queries above the configured limits
func NewQueryTooComplexError(reason string) *EnhancedError {
	return New(ErrCodeQueryTooComplex, "Query exceeds allowed complexity").
		WithDetails(reason).
		WithSuggestion("Ask for fewer records or split the question into smaller parts.")
}

// NewCollectionNotFoundError creates an error for unknown collections
func NewCollectionNotFoundError(name string) *EnhancedError {
	return New(ErrCodeCollectionNotFound, "Collection not found").
		WithDetails(fmt.Sprintf("No collection found with name: %s", name)).
		WithSuggestion("Use the /api/v1/collections endpoint to see all available collections.").
		WithMetadata("collection", name)
}

// NewQueryExecutionError creates an error for MongoDB operation failures
func NewQueryExecutionError(err error, query string) *EnhancedError {
	return Wrap(err, ErrCodeQueryExecution, "MongoDB query failed").
		WithDetails(fmt.Sprintf("The database rejected the query: %s", query)).
		WithSuggestion("Try rephrasing your question. If the problem persists, contact support.").
		WithMetadata("query_text", query)
}

// NewInvalidCredentialsError creates an error for authentication failures
func NewInvalidCredentialsError() *EnhancedError {
	return New(ErrCodeInvalidCredentials, "Invalid username or password").
		WithDetails("Authentication failed with the provided credentials").
		WithSuggestion("Please check your username and password and try again. If you've forgotten your password, contact your administrator.")
}

// NewTokenCreationError creates an error for token creation failures
func NewTokenCreationError(err error) *EnhancedError {
	return Wrap(err, ErrCodeTokenCreation, "Failed to create authentication token").
		WithDetails("The system was unable to generate an authentication token").
		WithSuggestion("This is an internal server error. Please try logging in again. If the problem persists, contact support.").
		WithMetadata("retryable", true)
}

// NewNotAuthenticatedError creates an error for unauthenticated requests
func NewNotAuthenticatedError() *EnhancedError {
	return New(ErrCodeNotAuthenticated, "Authentication required").
		WithDetails("This endpoint requires authentication").
		WithSuggestion("Please log in using the /api/v1/auth/login endpoint, or include a valid API key in the 'X-API-Key' header.")
}

// NewInsufficientPermissionsError creates an error for callers missing a required role
func NewInsufficientPermissionsError(roles ...string) *EnhancedError {
	return New(ErrCodeInsufficientPerms, "Insufficient permissions").
		WithDetails(fmt.Sprintf("This endpoint requires one of the roles: %s", strings.Join(roles, ", "))).
		WithMetadata("required_roles", roles)
}

// NewRateLimitedError creates an error for callers over their request rate
func NewRateLimitedError(retryAfterSeconds int) *EnhancedError {
	return New(ErrCodeRateLimited, "Rate limit exceeded").
		WithDetails(fmt.Sprintf("Too many requests. Retry after %d seconds", retryAfterSeconds)).
		WithMetadata("retry_after", retryAfterSeconds)
}

// NewQuotaExceededError creates an error for callers over their daily token quota
func NewQuotaExceededError(used, limit int64) *EnhancedError {
	return New(ErrCodeQuotaExceeded, "Daily model token quota exceeded").
		WithDetails(fmt.Sprintf("Used %d of %d tokens today", used, limit)).
		WithSuggestion("The quota resets at midnight UTC. Cached answers remain available.").
		WithMetadata("used", used).
		WithMetadata("limit", limit)
}

// NewInvalidInputError creates an error for invalid input
func NewInvalidInputError(field string, reason string) *EnhancedError {
	return New(ErrCodeInvalidInput, "Invalid input").
		WithDetails(fmt.Sprintf("Field '%s' is invalid: %s", field, reason)).
		WithSuggestion("Please check the API documentation for the expected format and try again.")
}

// NewDatabaseConnectionError creates an error for database connection failures
func NewDatabaseConnectionError(err error) *EnhancedError {
	return Wrap(err, ErrCodeDatabaseConnection, "Database connection failed").
		WithDetails("Unable to connect to the database").
		WithSuggestion("This is an internal server error. The service may be experiencing issues. Please try again in a moment.").
		WithMetadata("retryable", true)
}

// NewDatabaseQueryError creates an error for database query failures
func NewDatabaseQueryError(err error, operation string) *EnhancedError {
	return Wrap(err, ErrCodeDatabaseQuery, "Database query failed").
		WithDetails(fmt.Sprintf("Failed to execute database operation: %s", operation)).
		WithSuggestion("This is an internal server error. If the problem persists, contact support.").
		WithMetadata("retryable", true)
}
