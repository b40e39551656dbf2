// Package state persists the per-project lifecycle records that survive
// between mlt invocations.
//
// Two records exist, each in its own JSON file in the project directory:
//
//   - .build.json holds the BuildRecord written after every successful build.
//   - .push.json holds the DeployRecord written after every successful push.
//
// Saves replace the whole file atomically (temp file in the same directory,
// fsync, rename), so readers never observe a partial write. A file that
// exists but cannot be decoded is reported as corrupt and is never
// overwritten implicitly. There is no cross-process locking.
package state
