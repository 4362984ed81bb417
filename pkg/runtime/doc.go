// Package runtime assembles a conductor process. A Builder wires the
// Kubernetes client, the admin server, tracing, readiness latches and
// signal-driven drain into a Runtime that supervises the process tasks.
package runtime
