// Package watch rebuilds a project whenever its sources change.
//
// Filesystem notifications are filtered and fed into a bounded channel that
// a single coordinator goroutine consumes. The coordinator owns the quiet
// window timer and the build-in-progress flag; builds run on a worker
// goroutine that reports back over a channel. Bursts of changes collapse
// into one build, at most one build runs at a time, and changes that arrive
// during a build cause exactly one follow-up build.
package watch
