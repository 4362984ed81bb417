// Package metrics defines Prometheus metrics for the conductor runtime,
// covering lease store traffic, election outcomes, index activity, and
// requeue scheduling.
package metrics
