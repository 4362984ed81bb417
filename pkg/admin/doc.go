// Package admin serves the operational HTTP endpoints of a conductor
// process: liveness and readiness probes, Prometheus metrics and a JSON
// diagnostics view of every registered election participant.
package admin
