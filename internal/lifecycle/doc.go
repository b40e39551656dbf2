// Package lifecycle sequences the project commands: build, watch, deploy,
// undeploy and the read-only status and history views.
//
// A Dispatcher composes the build executor, the source watcher, the registry
// pusher, the cluster client and the deploy poller. It owns no state of its
// own beyond what the state store persists; every finished operation is also
// written to the history journal, whose failures are logged and ignored.
package lifecycle
