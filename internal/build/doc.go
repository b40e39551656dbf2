// Package build runs a single container image build for a project.
//
// An Executor expands the configured builder argv, runs it through a
// process.Runner with the project directory as working directory, measures
// the wall-clock duration and, on success only, replaces the persisted
// BuildRecord. A failed build leaves the previous record untouched so the
// last good image stays deployable.
package build
