// Package errors provides the classified error primitives used across mlt.
//
// Every failure the lifecycle can report (a failed image build, a rejected
// submission, an exhausted poll budget, a corrupt state file) is a
// ClassifiedError with a category, a severity and structured context such as
// the external command's exit code and captured stderr. The CLI adapter maps
// categories to exit codes and renders a concise message.
//
// Example usage:
//
//	err := errors.BuildFailed(res.ExitCode, res.Stderr).
//		WithContext(errors.KeyCommand, argv[0]).
//		Build()
package errors
