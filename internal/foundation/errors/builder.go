package errors

// ErrorBuilder provides a fluent API for creating ClassifiedError instances.
// This makes error creation consistent and discoverable throughout the codebase.
type ErrorBuilder struct {
	category ErrorCategory
	severity ErrorSeverity
	retry    RetryStrategy
	message  string
	cause    error
	context  ErrorContext
}

// NewError creates a new ErrorBuilder with the specified category and message.
func NewError(category ErrorCategory, message string) *ErrorBuilder {
	return &ErrorBuilder{
		category: category,
		severity: SeverityError, // Default severity
		retry:    RetryNever,    // Default to no retry
		message:  message,
		context:  make(ErrorContext),
	}
}

// WrapError creates a new ErrorBuilder that wraps an existing error.
func WrapError(err error, category ErrorCategory, message string) *ErrorBuilder {
	return NewError(category, message).WithCause(err)
}

// WithCause sets the wrapped error.
func (b *ErrorBuilder) WithCause(err error) *ErrorBuilder {
	b.cause = err
	return b
}

// WithSeverity sets the error severity.
func (b *ErrorBuilder) WithSeverity(severity ErrorSeverity) *ErrorBuilder {
	b.severity = severity
	return b
}

// WithRetry sets the retry strategy.
func (b *ErrorBuilder) WithRetry(strategy RetryStrategy) *ErrorBuilder {
	b.retry = strategy
	return b
}

// WithContext adds a context key-value pair.
func (b *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	b.context = b.context.Set(key, value)
	return b
}

// Fatal sets the severity to fatal.
func (b *ErrorBuilder) Fatal() *ErrorBuilder {
	return b.WithSeverity(SeverityFatal)
}

// Retryable sets the retry strategy to backoff.
func (b *ErrorBuilder) Retryable() *ErrorBuilder {
	return b.WithRetry(RetryBackoff)
}

// UserAction sets the retry strategy to require user action.
func (b *ErrorBuilder) UserAction() *ErrorBuilder {
	return b.WithRetry(RetryUserAction)
}

// Build creates the final ClassifiedError.
func (b *ErrorBuilder) Build() *ClassifiedError {
	return &ClassifiedError{
		category: b.category,
		severity: b.severity,
		retry:    b.retry,
		message:  b.message,
		cause:    b.cause,
		context:  b.context,
	}
}

// Convenience constructors for common error patterns

// ConfigError creates a configuration error.
func ConfigError(message string) *ErrorBuilder {
	return NewError(CategoryConfig, message).Fatal().UserAction()
}

// ValidationError creates a validation error.
func ValidationError(message string) *ErrorBuilder {
	return NewError(CategoryValidation, message).Fatal()
}

// InternalError creates an internal error.
func InternalError(message string) *ErrorBuilder {
	return NewError(CategoryInternal, message).Fatal()
}

// Interrupted reports a command stopped by SIGINT or SIGTERM before it
// produced a result.
func Interrupted(message string) *ErrorBuilder {
	return NewError(CategoryInterrupted, message).UserAction()
}

// ProcessError reports that an external command could not be started or waited on.
func ProcessError(command string) *ErrorBuilder {
	return NewError(CategoryProcess, "external command failed to run").
		WithContext(KeyCommand, command)
}

// Context keys shared by the lifecycle constructors.
const (
	KeyCommand  = "command"
	KeyExitCode = "exit_code"
	KeyStderr   = "stderr"
	KeyImage    = "image"
	KeyPath     = "path"
	KeyPhase    = "phase"
	KeyPod      = "pod"
)

// commandFailure builds the shared shape of "external command exited non-zero".
func commandFailure(category ErrorCategory, message string, exitCode int, stderr string) *ErrorBuilder {
	return NewError(category, message).
		WithContext(KeyExitCode, exitCode).
		WithContext(KeyStderr, stderr)
}

// BuildFailed reports a non-zero exit of the external image builder.
func BuildFailed(exitCode int, stderr string) *ErrorBuilder {
	return commandFailure(CategoryBuildFailed, "image build failed", exitCode, stderr).Retryable()
}

// PushFailed reports a failed tag or push of the built image.
func PushFailed(image string, exitCode int, stderr string) *ErrorBuilder {
	return commandFailure(CategoryPushFailed, "image push failed", exitCode, stderr).
		WithContext(KeyImage, image).
		Retryable()
}

// SubmissionFailed reports that the orchestration system rejected the deployment.
func SubmissionFailed(exitCode int, stderr string) *ErrorBuilder {
	return commandFailure(CategorySubmissionFailed, "deployment submission failed", exitCode, stderr)
}

// UndeployFailed reports that cluster-side resources could not be removed.
func UndeployFailed(exitCode int, stderr string) *ErrorBuilder {
	return commandFailure(CategoryUndeployFailed, "undeploy failed", exitCode, stderr).Retryable()
}

// DeployFailed reports a terminal Failed phase for the deployed pod.
func DeployFailed(pod string) *ErrorBuilder {
	return NewError(CategoryDeployFailed, "deployment reached phase Failed").
		WithContext(KeyPod, pod).
		WithContext(KeyPhase, "Failed")
}

// DeployTimedOut reports an exhausted poll budget.
func DeployTimedOut(phase string) *ErrorBuilder {
	return NewError(CategoryDeployTimedOut, "timed out waiting for deployment").
		WithContext(KeyPhase, phase).
		Retryable()
}

// NoBuildFound reports a deploy attempted before any successful build.
func NoBuildFound() *ErrorBuilder {
	return NewError(CategoryNoBuildFound, "no build found; run `mlt build` first").
		Fatal().
		UserAction()
}

// StaleBuild reports that sources changed after the last successful build.
func StaleBuild(image string) *ErrorBuilder {
	return NewError(CategoryStaleBuild, "sources changed since the last build; rebuild before deploying").
		WithContext(KeyImage, image).
		Fatal().
		UserAction()
}

// StateCorrupt reports an unreadable persisted state file. The file is never repaired.
func StateCorrupt(path string, cause error) *ErrorBuilder {
	return WrapError(cause, CategoryStateCorrupt, "state file is corrupt").
		WithContext(KeyPath, path).
		Fatal().
		UserAction()
}

// PersistenceError reports a failed state write.
func PersistenceError(path string, cause error) *ErrorBuilder {
	return WrapError(cause, CategoryPersistence, "failed to persist state").
		WithContext(KeyPath, path).
		Fatal()
}
