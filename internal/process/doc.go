// Package process is the single gateway for external side effects: image
// builds, registry pushes, cluster submissions and cluster queries all run
// through a Runner so tests can substitute a scripted fake.
//
// Commands are argument vectors, never shell strings. A non-zero exit status
// is reported in Result.ExitCode and is not an error; errors mean the command
// could not be started, was cancelled, or was not waited for. Nothing here
// retries.
package process
