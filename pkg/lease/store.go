package lease

import (
	"context"
	"time"

	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/telekom/k8s-conductor/pkg/metrics"
)

// DefaultCallTimeout bounds a single store call when no explicit timeout is
// configured.
const DefaultCallTimeout = 10 * time.Second

// Store reads and writes one named lease record. Implementations are a pure
// I/O boundary: no caching, no interpretation of holder or expiry. Every
// method is safe for use from a single election loop; calls must respect ctx
// and return within the adapter's call timeout.
//
// Error contract: absent records surface as ErrNotFound, racing creates as
// ErrAlreadyExists, stale-version updates as ErrConflict, authorization
// failures as ErrPermission, uninterpretable records as ErrMalformedRecord.
// Everything else is transient (IsTransient) and says nothing about the
// record's state.
type Store interface {
	// Fetch returns the current record including its version token.
	Fetch(ctx context.Context) (*Record, error)

	// Create writes a record that must not exist yet and returns the stored
	// copy carrying the version token assigned by the backend.
	Create(ctx context.Context, r *Record) (*Record, error)

	// Update overwrites the record if and only if r.Version still matches the
	// backend's current token, and returns the stored copy with the new token.
	Update(ctx context.Context, r *Record) (*Record, error)
}

// callContext derives the bounded per-call context every adapter uses.
func callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// observeCall records the metrics and span outcome of one store call and ends
// the span.
func observeCall(span trace.Span, backend, op string, start time.Time, err error) {
	metrics.StoreRequestDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
	metrics.StoreRequests.WithLabelValues(backend, op, resultLabel(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	span.End()
}
