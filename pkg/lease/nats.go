package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	natsBackend = "nats"

	// DefaultNATSBucket is the key-value bucket lease records live in when no
	// bucket is configured.
	DefaultNATSBucket = "conductor-leases"
)

// natsRecord is the JSON shape of a lease record in the key-value bucket.
// Field names follow the coordination.k8s.io Lease spec so records stay
// recognizable across backends.
type natsRecord struct {
	Holder          string    `json:"holderIdentity,omitempty"`
	DurationSeconds int32     `json:"leaseDurationSeconds,omitempty"`
	AcquireTime     time.Time `json:"acquireTime"`
	RenewTime       time.Time `json:"renewTime"`
	Transitions     int32     `json:"leaseTransitions"`
}

// NATSStore keeps the lease record in a NATS JetStream key-value bucket. The
// entry's revision number is the concurrency token: kv.Update carries the last
// observed revision and the server rejects stale writers.
type NATSStore struct {
	kv          jetstream.KeyValue
	name        string
	namespace   string
	key         string
	callTimeout time.Duration
	tracer      trace.Tracer
}

var _ Store = (*NATSStore)(nil)

// NewNATSStore binds a store to one record in the given bucket, creating the
// bucket when it does not exist. An empty bucket selects DefaultNATSBucket.
func NewNATSStore(ctx context.Context, js jetstream.JetStream, bucket, name, namespace string, callTimeout time.Duration) (*NATSStore, error) {
	if bucket == "" {
		bucket = DefaultNATSBucket
	}
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "conductor lease records",
	})
	if err != nil {
		return nil, fmt.Errorf("ensure bucket %q: %w", bucket, err)
	}
	return &NATSStore{
		kv:          kv,
		name:        name,
		namespace:   namespace,
		key:         namespace + "." + name,
		callTimeout: callTimeout,
		tracer:      otel.Tracer("conductor/lease"),
	}, nil
}

func (s *NATSStore) Fetch(ctx context.Context) (*Record, error) {
	ctx, cancel := callContext(ctx, s.callTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "lease.fetch", trace.WithAttributes(s.spanAttrs()...))
	start := time.Now()

	entry, err := s.kv.Get(ctx, s.key)
	var rec *Record
	switch {
	case errors.Is(err, jetstream.ErrKeyNotFound):
		err = fmt.Errorf("get key %q: %w", s.key, ErrNotFound)
	case err != nil:
		err = fmt.Errorf("get key %q: %w", s.key, err)
	default:
		rec, err = s.decode(entry.Value(), entry.Revision())
	}
	observeCall(span, natsBackend, "fetch", start, err)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *NATSStore) Create(ctx context.Context, r *Record) (*Record, error) {
	data, err := json.Marshal(encodeRecord(r))
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}

	ctx, cancel := callContext(ctx, s.callTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "lease.create", trace.WithAttributes(s.spanAttrs()...))
	start := time.Now()

	rev, err := s.kv.Create(ctx, s.key, data)
	if errors.Is(err, jetstream.ErrKeyExists) {
		err = fmt.Errorf("create key %q: %w", s.key, ErrAlreadyExists)
	} else if err != nil {
		err = fmt.Errorf("create key %q: %w", s.key, err)
	}
	observeCall(span, natsBackend, "create", start, err)
	if err != nil {
		return nil, err
	}
	stored := r.Clone()
	stored.Version = strconv.FormatUint(rev, 10)
	return stored, nil
}

func (s *NATSStore) Update(ctx context.Context, r *Record) (*Record, error) {
	expected, err := strconv.ParseUint(r.Version, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("update key %q: invalid version token %q", s.key, r.Version)
	}
	data, err := json.Marshal(encodeRecord(r))
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}

	ctx, cancel := callContext(ctx, s.callTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "lease.update", trace.WithAttributes(s.spanAttrs()...))
	start := time.Now()

	rev, err := s.kv.Update(ctx, s.key, data, expected)
	switch {
	case errors.Is(err, jetstream.ErrKeyNotFound):
		err = fmt.Errorf("update key %q: %w", s.key, ErrNotFound)
	case errors.Is(err, jetstream.ErrKeyExists):
		// Wrong last sequence: the entry moved past the expected revision.
		err = fmt.Errorf("update key %q: %w", s.key, ErrConflict)
	case err != nil:
		err = fmt.Errorf("update key %q: %w", s.key, err)
	}
	observeCall(span, natsBackend, "update", start, err)
	if err != nil {
		return nil, err
	}
	stored := r.Clone()
	stored.Version = strconv.FormatUint(rev, 10)
	return stored, nil
}

func (s *NATSStore) decode(data []byte, rev uint64) (*Record, error) {
	var nr natsRecord
	if err := json.Unmarshal(data, &nr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if nr.DurationSeconds < 0 {
		return nil, fmt.Errorf("%w: negative leaseDurationSeconds %d", ErrMalformedRecord, nr.DurationSeconds)
	}
	if nr.Transitions < 0 {
		return nil, fmt.Errorf("%w: negative leaseTransitions %d", ErrMalformedRecord, nr.Transitions)
	}
	return &Record{
		Name:        s.name,
		Namespace:   s.namespace,
		Holder:      nr.Holder,
		Duration:    time.Duration(nr.DurationSeconds) * time.Second,
		AcquireTime: nr.AcquireTime,
		RenewTime:   nr.RenewTime,
		Transitions: nr.Transitions,
		Version:     strconv.FormatUint(rev, 10),
	}, nil
}

func encodeRecord(r *Record) natsRecord {
	return natsRecord{
		Holder:          r.Holder,
		DurationSeconds: int32(r.Duration / time.Second),
		AcquireTime:     r.AcquireTime,
		RenewTime:       r.RenewTime,
		Transitions:     r.Transitions,
	}
}

func (s *NATSStore) spanAttrs() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("lease.name", s.name),
		attribute.String("lease.namespace", s.namespace),
	}
}
