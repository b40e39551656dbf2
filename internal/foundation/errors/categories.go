package errors

import "maps"

// ErrorCategory represents the broad category of an error for classification and routing.
type ErrorCategory string

const (
	// CategoryConfig represents user-facing configuration and input errors.
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"

	// Lifecycle failures reported by external collaborators.
	CategoryBuildFailed      ErrorCategory = "build_failed"
	CategoryPushFailed       ErrorCategory = "push_failed"
	CategorySubmissionFailed ErrorCategory = "submission_failed"
	CategoryDeployFailed     ErrorCategory = "deploy_failed"
	CategoryDeployTimedOut   ErrorCategory = "deploy_timed_out"
	CategoryUndeployFailed   ErrorCategory = "undeploy_failed"

	// Preconditions on persisted project state.
	CategoryNoBuildFound ErrorCategory = "no_build_found"
	CategoryStaleBuild   ErrorCategory = "stale_build"

	// Persisted state and process plumbing.
	CategoryStateCorrupt ErrorCategory = "state_corrupt"
	CategoryPersistence  ErrorCategory = "persistence"
	CategoryProcess      ErrorCategory = "process"

	// The user stopped the command before it could finish.
	CategoryInterrupted ErrorCategory = "interrupted"

	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates the impact level of an error.
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops execution completely
	SeverityError   ErrorSeverity = "error"   // Fails the current operation
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
	SeverityInfo    ErrorSeverity = "info"    // Informational, no impact
)

// RetryStrategy indicates how an error should be handled in retry scenarios.
// Nothing in the lifecycle retries automatically; the strategy is advisory
// and surfaces in logs so users know whether re-running the command can help.
type RetryStrategy string

const (
	RetryNever      RetryStrategy = "never"     // Permanent failure, don't retry
	RetryImmediate  RetryStrategy = "immediate" // Retry immediately
	RetryBackoff    RetryStrategy = "backoff"   // Retry with exponential backoff
	RetryUserAction RetryStrategy = "user"      // Requires user intervention
)

// ErrorContext provides structured context for errors.
type ErrorContext map[string]any

// Set adds or updates a context value.
func (c ErrorContext) Set(key string, value any) ErrorContext {
	if c == nil {
		c = make(ErrorContext)
	}
	c[key] = value
	return c
}

// Get retrieves a context value.
func (c ErrorContext) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	value, exists := c[key]
	return value, exists
}

// GetString retrieves a string context value.
func (c ErrorContext) GetString(key string) (string, bool) {
	if value, exists := c.Get(key); exists {
		if str, ok := value.(string); ok {
			return str, true
		}
	}
	return "", false
}

// GetInt retrieves an int context value.
func (c ErrorContext) GetInt(key string) (int, bool) {
	if value, exists := c.Get(key); exists {
		if n, ok := value.(int); ok {
			return n, true
		}
	}
	return 0, false
}

// Merge combines two contexts, with other taking precedence.
func (c ErrorContext) Merge(other ErrorContext) ErrorContext {
	if c == nil {
		return other
	}
	if other == nil {
		return c
	}
	result := make(ErrorContext)
	maps.Copy(result, c)
	maps.Copy(result, other)
	return result
}
