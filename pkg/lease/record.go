package lease

import (
	"time"
)

// Record is the process-local view of the shared lease record. It is the
// coordination medium for leader election: holders renew it, contenders watch
// it expire, and every write carries the Version observed beforehand so the
// store can reject stale writers.
type Record struct {
	// Name and Namespace identify the contended resource.
	Name      string
	Namespace string

	// Holder is the identity of the current believed leader, empty when the
	// lease is unheld.
	Holder string

	// Duration is the validity window of a renewal. A record whose RenewTime
	// plus Duration has passed may be taken over.
	Duration time.Duration

	// AcquireTime is the time of the most recent holder change.
	AcquireTime time.Time

	// RenewTime is the time of the most recent successful renewal by the
	// current holder.
	RenewTime time.Time

	// Transitions counts distinct holder changes. Renewals leave it untouched.
	Transitions int32

	// Version is the store's opaque concurrency token. Empty for records that
	// have not been written yet.
	Version string
}

// HasHolder reports whether the record names a current holder.
func (r *Record) HasHolder() bool {
	return r != nil && r.Holder != ""
}

// HeldBy reports whether the record is held by the given identity.
func (r *Record) HeldBy(identity string) bool {
	return r.HasHolder() && r.Holder == identity
}

// ExpiresAt returns the instant the current claim lapses. The zero time is
// returned for records that were never renewed.
func (r *Record) ExpiresAt() time.Time {
	if r == nil || r.RenewTime.IsZero() {
		return time.Time{}
	}
	return r.RenewTime.Add(r.Duration)
}

// Expired reports whether the record no longer protects its holder at the
// given instant. Records without a holder or without a renewal count as
// expired: they are free to claim.
func (r *Record) Expired(now time.Time) bool {
	if !r.HasHolder() || r.RenewTime.IsZero() {
		return true
	}
	return !now.Before(r.ExpiresAt())
}

// Clone returns a copy of the record. A nil receiver yields nil.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	return &out
}
