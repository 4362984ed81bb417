// Package requeue schedules keys for deferred re-processing. It wraps a
// client-go delaying workqueue: keys added twice while pending collapse into
// one delivery, and AddAfter wakes a consumer at the requested instant. The
// watch command uses it to re-check leases when they are due to expire.
package requeue
