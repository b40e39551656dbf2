// Package cluster drives the container orchestrator through kubectl: it
// submits and removes the project's resources, lists pods to find the latest
// one, and opens interactive sessions in it.
//
// All commands run through a process.Runner, so the package never talks to
// the API server directly and is tested with scripted commands.
package cluster
