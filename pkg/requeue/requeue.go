package requeue

import (
	"time"

	"go.uber.org/zap"
	"k8s.io/client-go/util/workqueue"

	"github.com/telekom/k8s-conductor/pkg/metrics"
)

// Scheduler hands out keys to a consumer loop, immediately or after a delay.
// Keys are deduplicated while queued; a key re-added during processing is
// delivered again once Done is called.
type Scheduler[K comparable] struct {
	name  string
	queue workqueue.TypedDelayingInterface[K]
	log   *zap.SugaredLogger
}

// New returns a named scheduler. The name labels its metrics.
func New[K comparable](name string, log *zap.SugaredLogger) *Scheduler[K] {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Scheduler[K]{
		name: name,
		queue: workqueue.NewTypedDelayingQueueWithConfig(workqueue.TypedDelayingQueueConfig[K]{
			Name: name,
		}),
		log: log.Named("requeue").With("queue", name),
	}
}

// Add schedules a key for immediate delivery.
func (s *Scheduler[K]) Add(key K) {
	s.queue.Add(key)
	metrics.RequeueScheduled.WithLabelValues(s.name).Inc()
}

// AddAfter schedules a key for delivery once the delay elapsed. A
// non-positive delay delivers immediately.
func (s *Scheduler[K]) AddAfter(key K, delay time.Duration) {
	if delay <= 0 {
		s.Add(key)
		return
	}
	s.queue.AddAfter(key, delay)
	metrics.RequeueScheduled.WithLabelValues(s.name).Inc()
	s.log.Debugw("Deferred key", "key", key, "delay", delay)
}

// Next blocks until a key is due and returns it. It returns false once the
// scheduler is closed and the remaining queue has been handed out. Callers
// must call Done after processing.
func (s *Scheduler[K]) Next() (K, bool) {
	key, shutdown := s.queue.Get()
	return key, !shutdown
}

// Done marks a key as processed, allowing its redelivery.
func (s *Scheduler[K]) Done(key K) {
	s.queue.Done(key)
}

// Len reports the number of keys ready for delivery.
func (s *Scheduler[K]) Len() int {
	return s.queue.Len()
}

// Close stops intake. Keys already queued are still delivered; Next reports
// false once they run out.
func (s *Scheduler[K]) Close() {
	s.queue.ShutDown()
}
