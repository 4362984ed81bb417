// Package election implements lease-based leader election for controller
// replicas. An Elector runs one control loop per contended lease: it claims
// the record through a lease.Store when it is free or expired, renews it while
// leading, and stands down at its local renew deadline when renewals cannot be
// confirmed, no matter what the store says. Leadership changes are published
// as an ordered event stream and the current belief is answerable
// synchronously at any time.
//
// Coordination happens exclusively through conditional updates of the one
// shared record. Processes never signal each other; the store's
// compare-and-set is the only arbiter between racing claimants.
package election
