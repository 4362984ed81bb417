// Package shutdown coordinates graceful process termination. The first
// SIGINT/SIGTERM starts a drain: the watched context is cancelled and
// registered participants get a bounded grace period to finish. A second
// signal aborts the drain immediately.
package shutdown
