package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a unique error code for categorizing errors
type ErrorCode string

const (
	// Connection errors (1xxx)
	ErrCodeConnectionFailed     ErrorCode = "DWH1001"
	ErrCodeAuthenticationFailed ErrorCode = "DWH1002"
	ErrCodeUnsupportedDialect   ErrorCode = "DWH1003"

	// Configuration errors (2xxx)
	ErrCodeConfigInvalid  ErrorCode = "DWH2001"
	ErrCodeConfigNotFound ErrorCode = "DWH2002"
	ErrCodeConfigMissing  ErrorCode = "DWH2003"

	// Source errors (3xxx)
	ErrCodeSourceNotFound     ErrorCode = "DWH3001"
	ErrCodeSourceAccessDenied ErrorCode = "DWH3002"
	ErrCodeMalformedRecord    ErrorCode = "DWH3003"

	// Warehouse statement errors (4xxx)
	ErrCodeSchema       ErrorCode = "DWH4001"
	ErrCodeLoad         ErrorCode = "DWH4002"
	ErrCodeTransform    ErrorCode = "DWH4003"
	ErrCodeVerification ErrorCode = "DWH4004"

	// System errors (9xxx)
	ErrCodeInternal ErrorCode = "DWH9001"
	ErrCodeCanceled ErrorCode = "DWH9002"
)

// ErrorSeverity represents the severity level of an error
type ErrorSeverity string

const (
	SeverityCritical ErrorSeverity = "CRITICAL"
	SeverityError    ErrorSeverity = "ERROR"
	SeverityWarning  ErrorSeverity = "WARNING"
	SeverityInfo     ErrorSeverity = "INFO"
)

// AppError represents a structured application error with context
type AppError struct {
	Code        ErrorCode
	Message     string
	Severity    ErrorSeverity
	Context     map[string]interface{}
	Cause       error
	Stack       string
	Timestamp   time.Time
	Suggestions []string
}

// Error implements the error interface
func (e *AppError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[%s] %s: %s", e.Code, e.Severity, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\nCaused by: %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\nSuggestions:")
		for i, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  %d. %s", i+1, suggestion))
		}
	}

	return b.String()
}

// Unwrap returns the cause of the error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AppError with the same code
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Severity:  SeverityError,
		Context:   make(map[string]interface{}),
		Stack:     captureStack(),
		Timestamp: time.Now(),
	}
}

// Wrap wraps an existing error with AppError
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}

	appErr := New(code, message)
	appErr.Cause = err

	// Inherit context from a wrapped AppError
	var ae *AppError
	if errors.As(err, &ae) {
		for k, v := range ae.Context {
			appErr.Context[k] = v
		}
	}

	return appErr
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithSeverity sets the error severity
func (e *AppError) WithSeverity(severity ErrorSeverity) *AppError {
	e.Severity = severity
	return e
}

// WithSuggestions adds recovery suggestions
func (e *AppError) WithSuggestions(suggestions ...string) *AppError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

func captureStack() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])

	var b strings.Builder
	frames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			b.WriteString(fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}

	return b.String()
}

// Common error constructors

// ConnectionError creates a connection-related error
func ConnectionError(message string, cause error) *AppError {
	return Wrap(cause, ErrCodeConnectionFailed, message).
		WithSuggestions(
			"Check your network connection",
			"Verify the warehouse endpoint is reachable",
			"Check the [CLUSTER] section of the configuration",
		)
}

// ConfigError creates a configuration-related error
func ConfigError(message string, field string) *AppError {
	return New(ErrCodeConfigInvalid, message).
		WithContext("field", field).
		WithSuggestions(
			fmt.Sprintf("Check the '%s' configuration value", field),
			"Values can be overridden with SPARKIFY_<SECTION>_<KEY> environment variables",
		)
}

// SchemaError creates an error for a failed drop or create statement
func SchemaError(statement, query string, cause error) *AppError {
	return statementError(ErrCodeSchema, "Schema statement failed", statement, query, cause).
		WithSuggestions(
			"An existing table may have an incompatible definition",
			"Run 'sparkify create-tables' to drop and recreate all tables",
		)
}

// LoadError creates an error for a failed staging load
func LoadError(statement, query string, cause error) *AppError {
	return statementError(ErrCodeLoad, "Staging load failed", statement, query, cause).
		WithSuggestions(
			"Check that the source location exists and the role can read it",
			"Check the source JSON against the staging table columns",
		)
}

// TransformError creates an error for a failed insert/transform statement
func TransformError(statement, query string, cause error) *AppError {
	return statementError(ErrCodeTransform, "Transform statement failed", statement, query, cause).
		WithSuggestions(
			"Check that the staging tables were loaded in this run",
			"Run 'sparkify verify' to inspect key uniqueness",
		)
}

func statementError(code ErrorCode, message, statement, query string, cause error) *AppError {
	err := New(code, fmt.Sprintf("%s: %s", message, statement))
	if cause != nil {
		err = Wrap(cause, code, err.Message)
	}
	err.WithContext("statement", statement)
	if query != "" {
		err.WithContext("query", truncateString(query, 200))
	}

	if cause != nil {
		lower := strings.ToLower(cause.Error())
		switch {
		case strings.Contains(lower, "permission") || strings.Contains(lower, "access denied"):
			err.WithSuggestions("Verify the role has the required privileges")
		case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
			err.WithSuggestions("Increase the statement timeout with --timeout")
		}
	}
	return err
}

// IsCode reports whether err carries the given error code
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
