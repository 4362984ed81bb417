package election

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"

	"github.com/telekom/k8s-conductor/pkg/lease"
	"github.com/telekom/k8s-conductor/pkg/metrics"
	"github.com/telekom/k8s-conductor/pkg/system"
)

// ErrNotRunning is returned by Release when the control loop is not active.
var ErrNotRunning = errors.New("election: control loop not running")

const (
	// eventBuffer bounds transitions queued for dispatch before emit blocks.
	eventBuffer = 64

	// subscriberBuffer is the per-subscriber channel capacity. A subscriber
	// that stops draining stalls dispatch once its buffer fills; cancel
	// subscriptions that are no longer read.
	subscriberBuffer = 16
)

// Elector contends for one lease. All claim state is owned by the Run loop;
// the rest of the process observes it through Subscribe, State and Snapshot
// and steers it through Release and context cancellation.
type Elector struct {
	cfg   Config
	store lease.Store
	log   *zap.SugaredLogger
	clock clock.Clock

	running atomic.Bool

	mu       sync.Mutex
	phase    Phase
	observed *lease.Record
	deadline time.Time
	failures int
	lastErr  error

	events    chan Event
	releaseCh chan chan struct{}
	stopped   chan struct{}

	subMu      sync.Mutex
	subs       []*subscription
	subsClosed bool
}

type subscription struct {
	ch   chan Event
	done chan struct{}
}

// New validates the configuration and returns an elector ready to Run.
func New(store lease.Store, cfg Config, log *zap.SugaredLogger) (*Elector, error) {
	if store == nil {
		return nil, errors.New("election: store must not be nil")
	}
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("election config: %w", err)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Elector{
		cfg:       cfg,
		store:     store,
		log:       log.Named("election").With(system.NamespacedFields(cfg.Name, cfg.Namespace)...),
		clock:     clock.RealClock{},
		events:    make(chan Event, eventBuffer),
		releaseCh: make(chan chan struct{}),
		stopped:   make(chan struct{}),
	}, nil
}

// Config returns the effective configuration after defaulting.
func (e *Elector) Config() Config {
	return e.cfg
}

// Run drives the claim loop until ctx is cancelled or a non-retryable error
// ends contention. Cancellation aborts the wait for the next tick, performs a
// best-effort release bounded by CallTimeout, and returns nil. Run may be
// called once.
func (e *Elector) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("election: Run called twice")
	}
	defer close(e.stopped)

	dispatchDone := make(chan struct{})
	go e.dispatch(dispatchDone)
	defer func() {
		close(e.events)
		<-dispatchDone
	}()

	e.log.Infow("Starting leader election",
		"identity", e.cfg.Identity,
		"leaseDuration", e.cfg.LeaseDuration,
		"renewDeadline", e.cfg.RenewDeadline,
		"retryPeriod", e.cfg.RetryPeriod)

	for {
		if err := e.sync(ctx); err != nil {
			return err
		}
		if !e.wait(ctx) {
			e.log.Infow("Stopping leader election")
			e.releaseLease()
			return nil
		}
	}
}

// wait blocks until the next pass is due, serving release commands in place.
// A served release restarts the wait so other candidates get a window before
// this process re-enters contention. Returns false when ctx ended.
func (e *Elector) wait(ctx context.Context) bool {
	for {
		timer := e.clock.NewTimer(e.nextWait())
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case ack := <-e.releaseCh:
			timer.Stop()
			e.releaseLease()
			close(ack)
		case <-timer.C():
			return true
		}
	}
}

// Release asks the loop to give the lease up gracefully and waits for the
// stand-down to finish. The loop keeps contending afterwards; cancel the Run
// context to stop it entirely.
func (e *Elector) Release(ctx context.Context) error {
	if !e.running.Load() {
		return ErrNotRunning
	}
	ack := make(chan struct{})
	select {
	case e.releaseCh <- ack:
	case <-e.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-e.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns an ordered stream of leadership transitions and a cancel
// function releasing the subscription. The channel closes when the loop
// exits.
func (e *Elector) Subscribe() (<-chan Event, func()) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	if e.subsClosed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	sub := &subscription{
		ch:   make(chan Event, subscriberBuffer),
		done: make(chan struct{}),
	}
	e.subs = append(e.subs, sub)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(sub.done)
			e.subMu.Lock()
			for i, s := range e.subs {
				if s == sub {
					e.subs = append(e.subs[:i], e.subs[i+1:]...)
					break
				}
			}
			e.subMu.Unlock()
		})
	}
	return sub.ch, cancel
}

// State answers "does this process lead" without consuming the event stream.
func (e *Elector) State() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase.status()
}

// Snapshot is a point-in-time diagnostics view of the claim.
type Snapshot struct {
	Name                string    `json:"name"`
	Namespace           string    `json:"namespace"`
	Identity            string    `json:"identity"`
	Phase               string    `json:"phase"`
	Status              Status    `json:"status"`
	Holder              string    `json:"holder,omitempty"`
	Transitions         int32     `json:"leaseTransitions"`
	AcquireTime         time.Time `json:"acquireTime"`
	RenewTime           time.Time `json:"renewTime"`
	Expiry              time.Time `json:"expiry"`
	Deadline            time.Time `json:"renewDeadline"`
	Version             string    `json:"resourceVersion,omitempty"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastError           string    `json:"lastError,omitempty"`
}

// Snapshot returns the current claim state for diagnostics endpoints.
func (e *Elector) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Snapshot{
		Name:                e.cfg.Name,
		Namespace:           e.cfg.Namespace,
		Identity:            e.cfg.Identity,
		Phase:               e.phase.String(),
		Status:              e.phase.status(),
		Deadline:            e.deadline,
		ConsecutiveFailures: e.failures,
	}
	if e.observed != nil {
		s.Holder = e.observed.Holder
		s.Transitions = e.observed.Transitions
		s.AcquireTime = e.observed.AcquireTime
		s.RenewTime = e.observed.RenewTime
		s.Expiry = e.observed.ExpiresAt()
		s.Version = e.observed.Version
	}
	if e.lastErr != nil {
		s.LastError = e.lastErr.Error()
	}
	return s
}

// sync performs one evaluation pass. The renew-deadline fail-safe comes
// first: it depends only on the local clock and cannot be deferred by store
// backoff. The returned error is non-retryable and stops the loop.
func (e *Elector) sync(ctx context.Context) error {
	now := e.clock.Now()

	e.mu.Lock()
	phase := e.phase
	deadline := e.deadline
	e.mu.Unlock()

	if phase.leading() && !now.Before(deadline) {
		e.log.Warnw("Renew deadline passed without confirmed renewal, standing down",
			"deadline", deadline)
		e.standDown(ReasonDeadlineExpired)
		phase = PhaseLost
	}
	if phase == PhaseLost {
		e.setPhase(PhaseUnclaimed)
		phase = PhaseUnclaimed
	}

	if phase.leading() {
		return e.renew(ctx)
	}
	return e.acquire(ctx)
}

// acquire drives the unclaimed path: fetch, then create or take over. It
// re-evaluates immediately on conflicts and create races; a transient fault
// ends the pass and leaves pacing to the scheduler.
func (e *Elector) acquire(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		now := e.clock.Now()

		rec, err := e.store.Fetch(ctx)
		switch {
		case errors.Is(err, lease.ErrNotFound):
			e.setPhase(PhaseAcquiring)
			created, cerr := e.store.Create(ctx, e.freshRecord(now))
			if cerr == nil {
				e.becomeLeader(created, now)
				return nil
			}
			if errors.Is(cerr, lease.ErrAlreadyExists) {
				// Lost the create race; re-evaluate against the winner.
				continue
			}
			e.setPhase(PhaseUnclaimed)
			return e.storeFailure(cerr)
		case errors.Is(err, lease.ErrMalformedRecord):
			return e.fail(err)
		case err != nil:
			return e.storeFailure(err)
		}

		if !rec.Expired(now) && !rec.HeldBy(e.cfg.Identity) {
			e.observe(rec)
			e.setPhase(PhaseUnclaimed)
			e.log.Debugw("Lease held by another candidate",
				"holder", rec.Holder, "expires", rec.ExpiresAt())
			return nil
		}

		// Expired, or still carrying our own identity from a previous run:
		// take it over at the observed version.
		e.setPhase(PhaseAcquiring)
		stored, uerr := e.store.Update(ctx, e.claimFrom(rec, now))
		switch {
		case uerr == nil:
			e.becomeLeader(stored, now)
			return nil
		case errors.Is(uerr, lease.ErrConflict), errors.Is(uerr, lease.ErrNotFound):
			// Somebody raced us; re-evaluate.
			continue
		default:
			e.setPhase(PhaseUnclaimed)
			return e.storeFailure(uerr)
		}
	}
}

// renew writes a fresh RenewTime at the last-known version. On conflict the
// record is re-fetched: a record still held by this identity means metadata
// raced and the write is retried with the refreshed token; a changed holder
// means leadership ended.
func (e *Elector) renew(ctx context.Context) error {
	e.setPhase(PhaseRenewing)
	e.mu.Lock()
	rec := e.observed.Clone()
	e.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return nil
		}
		now := e.clock.Now()

		attempt := rec.Clone()
		attempt.Holder = e.cfg.Identity
		attempt.Duration = e.cfg.LeaseDuration
		attempt.RenewTime = now

		stored, err := e.store.Update(ctx, attempt)
		switch {
		case err == nil:
			e.becomeLeader(stored, now)
			return nil

		case errors.Is(err, lease.ErrConflict):
			fresh, ferr := e.store.Fetch(ctx)
			switch {
			case ferr == nil:
				if fresh.HeldBy(e.cfg.Identity) {
					rec = fresh
					continue
				}
				e.log.Infow("Lease taken over by another candidate", "holder", fresh.Holder)
				e.observe(fresh)
				e.standDown(ReasonSuperseded)
				return nil
			case errors.Is(ferr, lease.ErrNotFound):
				return e.recreate(ctx)
			case errors.Is(ferr, lease.ErrMalformedRecord):
				// The record was replaced with something unreadable.
				e.standDown(ReasonSuperseded)
				return e.fail(ferr)
			default:
				return e.storeFailure(ferr)
			}

		case errors.Is(err, lease.ErrNotFound):
			// Deleted externally mid-renewal: treat as a fresh race.
			return e.recreate(ctx)

		default:
			return e.storeFailure(err)
		}
	}
}

// recreate rebuilds the record after it vanished while this process was
// leading. Success keeps leadership without a duplicate Acquired event; the
// transition counter restarts with the record.
func (e *Elector) recreate(ctx context.Context) error {
	now := e.clock.Now()
	e.log.Warnw("Lease record deleted externally, recreating")

	created, err := e.store.Create(ctx, e.freshRecord(now))
	switch {
	case err == nil:
		e.becomeLeader(created, now)
		return nil
	case errors.Is(err, lease.ErrAlreadyExists):
		fresh, ferr := e.store.Fetch(ctx)
		switch {
		case ferr == nil:
			if fresh.HeldBy(e.cfg.Identity) {
				// Unexpected but harmless: next pass renews against this token.
				e.observe(fresh)
				return nil
			}
			e.log.Infow("Lease recreated by another candidate", "holder", fresh.Holder)
			e.observe(fresh)
			e.standDown(ReasonSuperseded)
			return nil
		case errors.Is(ferr, lease.ErrMalformedRecord):
			e.standDown(ReasonSuperseded)
			return e.fail(ferr)
		default:
			return e.storeFailure(ferr)
		}
	default:
		return e.storeFailure(err)
	}
}

// releaseLease performs the voluntary stand-down: a best-effort update
// clearing the holder and forcing expiry, bounded by CallTimeout on a fresh
// context so it works during shutdown. The transition counter is preserved.
func (e *Elector) releaseLease() {
	e.mu.Lock()
	wasLeading := e.phase.leading()
	rec := e.observed.Clone()
	if wasLeading {
		e.phase = PhaseReleasing
	}
	e.mu.Unlock()
	if !wasLeading {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CallTimeout)
	defer cancel()

	cleared := &lease.Record{
		Name:        e.cfg.Name,
		Namespace:   e.cfg.Namespace,
		Transitions: rec.Transitions,
		Version:     rec.Version,
	}
	if stored, err := e.store.Update(ctx, cleared); err != nil {
		e.log.Warnw("Best-effort lease release failed", "error", err)
	} else {
		e.observe(stored)
		e.log.Infow("Released lease")
	}

	e.standDown(ReasonShuttingDown)
	e.setPhase(PhaseUnclaimed)
}

// becomeLeader records a store-confirmed claim. confirmedAt is the local
// clock reading taken before the successful write; the renew deadline never
// derives from timestamps other processes wrote.
func (e *Elector) becomeLeader(stored *lease.Record, confirmedAt time.Time) {
	e.mu.Lock()
	wasLeading := e.phase.leading()
	e.phase = PhaseLeading
	e.observed = stored
	e.deadline = confirmedAt.Add(e.cfg.RenewDeadline)
	e.failures = 0
	e.lastErr = nil
	e.mu.Unlock()

	metrics.ElectionConsecutiveFailures.WithLabelValues(e.cfg.Name).Set(0)
	metrics.ElectionLeading.WithLabelValues(e.cfg.Name).Set(1)
	if wasLeading {
		e.log.Debugw("Renewed lease", "expires", stored.ExpiresAt())
		return
	}
	metrics.ElectionAcquired.WithLabelValues(e.cfg.Name).Inc()
	e.log.Infow("Acquired leadership", "identity", e.cfg.Identity, "transitions", stored.Transitions)
	e.emit(Event{
		Kind:        EventAcquired,
		Identity:    e.cfg.Identity,
		Transitions: stored.Transitions,
		At:          confirmedAt,
	})
}

// standDown ends the leadership belief and emits the Lost event exactly once
// per Leading episode. The caller decides the follow-up phase; standDown
// leaves PhaseLost behind.
func (e *Elector) standDown(reason LostReason) {
	e.mu.Lock()
	wasLeading := e.phase.leading() || e.phase == PhaseReleasing
	e.phase = PhaseLost
	e.deadline = time.Time{}
	e.mu.Unlock()
	if !wasLeading {
		return
	}

	metrics.ElectionLeading.WithLabelValues(e.cfg.Name).Set(0)
	metrics.ElectionLost.WithLabelValues(e.cfg.Name, reasonLabel(reason)).Inc()
	e.log.Infow("Lost leadership", "reason", string(reason))
	e.emit(Event{Kind: EventLost, Reason: reason, At: e.clock.Now()})
}

// fail stops contention on a non-retryable error. A leading elector stands
// down first so the Lost event precedes the loop exit.
func (e *Elector) fail(err error) error {
	e.mu.Lock()
	leading := e.phase.leading()
	e.mu.Unlock()
	if leading {
		e.standDown(ReasonPermissionDenied)
	}

	e.mu.Lock()
	e.phase = PhaseFailed
	e.lastErr = err
	e.mu.Unlock()
	e.log.Errorw("Leader election stopped on non-retryable error", "error", err)
	return err
}

// storeFailure classifies a store error ending a pass. Transient faults feed
// the backoff counter and return nil; permission failures stop the loop. A
// transient fault never ends leadership by itself, only the renew deadline
// does.
func (e *Elector) storeFailure(err error) error {
	if errors.Is(err, lease.ErrPermission) {
		return e.fail(err)
	}

	e.mu.Lock()
	e.failures++
	e.lastErr = err
	n := e.failures
	e.mu.Unlock()
	metrics.ElectionConsecutiveFailures.WithLabelValues(e.cfg.Name).Set(float64(n))
	e.log.Warnw("Store call failed, backing off", "error", err, "consecutiveFailures", n)
	return nil
}

// observe stores a successfully fetched record and clears the failure streak.
func (e *Elector) observe(rec *lease.Record) {
	e.mu.Lock()
	e.observed = rec
	e.failures = 0
	e.lastErr = nil
	e.mu.Unlock()
	metrics.ElectionConsecutiveFailures.WithLabelValues(e.cfg.Name).Set(0)
}

func (e *Elector) setPhase(p Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
}

// freshRecord is the create-path claim: a brand-new record counting
// transitions from zero.
func (e *Elector) freshRecord(now time.Time) *lease.Record {
	return &lease.Record{
		Name:        e.cfg.Name,
		Namespace:   e.cfg.Namespace,
		Holder:      e.cfg.Identity,
		Duration:    e.cfg.LeaseDuration,
		AcquireTime: now,
		RenewTime:   now,
		Transitions: 0,
	}
}

// claimFrom is the takeover claim built on an observed record. A holder
// change bumps the transition counter and resets AcquireTime; reclaiming a
// record that still carries this identity keeps both.
func (e *Elector) claimFrom(rec *lease.Record, now time.Time) *lease.Record {
	claim := rec.Clone()
	claim.Holder = e.cfg.Identity
	claim.Duration = e.cfg.LeaseDuration
	claim.RenewTime = now
	if rec.HeldBy(e.cfg.Identity) {
		if claim.AcquireTime.IsZero() {
			claim.AcquireTime = now
		}
	} else {
		claim.AcquireTime = now
		claim.Transitions = rec.Transitions + 1
	}
	return claim
}

// nextWait is the sleep before the next pass: renewal cadence while leading,
// jittered polling while unclaimed, exponential backoff capped at the retry
// period while store calls fail. A leader never sleeps past its renew
// deadline; that wake-up is unconditional.
func (e *Elector) nextWait() time.Duration {
	e.mu.Lock()
	phase := e.phase
	deadline := e.deadline
	failures := e.failures
	e.mu.Unlock()

	var d time.Duration
	switch {
	case failures > 0:
		d = e.backoffDelay(failures)
	case phase.leading():
		d = e.cfg.RetryPeriod
	default:
		d = wait.Jitter(e.cfg.RetryPeriod, e.cfg.JitterFraction)
	}

	if phase.leading() {
		if until := deadline.Sub(e.clock.Now()); until < d {
			d = until
		}
		if d < 0 {
			d = 0
		}
	}
	return d
}

// backoffDelay doubles from a quarter of the retry period per consecutive
// failure, capped at the retry period.
func (e *Elector) backoffDelay(failures int) time.Duration {
	d := e.cfg.RetryPeriod / 4
	if d <= 0 {
		return e.cfg.RetryPeriod
	}
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= e.cfg.RetryPeriod {
			return e.cfg.RetryPeriod
		}
	}
	return d
}

func (e *Elector) emit(ev Event) {
	e.events <- ev
}

// dispatch forwards queued events to every subscriber in transition order.
// It drains the queue after the loop exits, then closes all subscriptions.
func (e *Elector) dispatch(done chan struct{}) {
	defer close(done)
	for ev := range e.events {
		e.subMu.Lock()
		subs := make([]*subscription, len(e.subs))
		copy(subs, e.subs)
		e.subMu.Unlock()

		for _, sub := range subs {
			select {
			case sub.ch <- ev:
			case <-sub.done:
			}
		}
	}

	e.subMu.Lock()
	e.subsClosed = true
	for _, sub := range e.subs {
		close(sub.ch)
	}
	e.subs = nil
	e.subMu.Unlock()
}
