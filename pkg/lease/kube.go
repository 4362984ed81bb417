package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/ptr"
)

const (
	kubeBackend = "kubernetes"

	// fieldManager identifies conductor's writes in managedFields.
	fieldManager = "conductor"
)

// KubeStore keeps the lease record in a coordination.k8s.io/v1 Lease object.
// The object's resourceVersion is the concurrency token: updates carry the
// last observed resourceVersion and the API server rejects them with a
// conflict when it moved on.
type KubeStore struct {
	client      kubernetes.Interface
	name        string
	namespace   string
	callTimeout time.Duration
	tracer      trace.Tracer
}

var _ Store = (*KubeStore)(nil)

// NewKubeStore returns a store bound to one Lease object. callTimeout bounds
// every API call; DefaultCallTimeout applies when it is zero or negative.
func NewKubeStore(client kubernetes.Interface, name, namespace string, callTimeout time.Duration) *KubeStore {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &KubeStore{
		client:      client,
		name:        name,
		namespace:   namespace,
		callTimeout: callTimeout,
		tracer:      otel.Tracer("conductor/lease"),
	}
}

func (s *KubeStore) Fetch(ctx context.Context) (*Record, error) {
	ctx, cancel := callContext(ctx, s.callTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "lease.fetch", trace.WithAttributes(s.spanAttrs()...))
	start := time.Now()

	obj, err := s.client.CoordinationV1().Leases(s.namespace).Get(ctx, s.name, metav1.GetOptions{})
	var rec *Record
	if err != nil {
		err = classifyAPIError("get lease", err)
	} else {
		rec, err = recordFromLease(obj)
	}
	observeCall(span, kubeBackend, "fetch", start, err)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *KubeStore) Create(ctx context.Context, r *Record) (*Record, error) {
	ctx, cancel := callContext(ctx, s.callTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "lease.create", trace.WithAttributes(s.spanAttrs()...))
	start := time.Now()

	obj, err := s.client.CoordinationV1().Leases(s.namespace).Create(ctx, leaseFromRecord(r), metav1.CreateOptions{FieldManager: fieldManager})
	var rec *Record
	if err != nil {
		err = classifyAPIError("create lease", err)
	} else {
		rec, err = recordFromLease(obj)
	}
	observeCall(span, kubeBackend, "create", start, err)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *KubeStore) Update(ctx context.Context, r *Record) (*Record, error) {
	if r.Version == "" {
		return nil, fmt.Errorf("update lease %s/%s: missing version token", s.namespace, s.name)
	}

	ctx, cancel := callContext(ctx, s.callTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "lease.update", trace.WithAttributes(s.spanAttrs()...))
	start := time.Now()

	obj, err := s.client.CoordinationV1().Leases(s.namespace).Update(ctx, leaseFromRecord(r), metav1.UpdateOptions{FieldManager: fieldManager})
	var rec *Record
	if err != nil {
		err = classifyAPIError("update lease", err)
	} else {
		rec, err = recordFromLease(obj)
	}
	observeCall(span, kubeBackend, "update", start, err)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *KubeStore) spanAttrs() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("lease.name", s.name),
		attribute.String("lease.namespace", s.namespace),
	}
}

// classifyAPIError maps Kubernetes API status errors onto the store error
// taxonomy. Unclassified errors pass through wrapped and count as transient.
func classifyAPIError(op string, err error) error {
	switch {
	case apierrors.IsNotFound(err):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case apierrors.IsAlreadyExists(err):
		return fmt.Errorf("%s: %w", op, ErrAlreadyExists)
	case apierrors.IsConflict(err):
		return fmt.Errorf("%s: %w", op, ErrConflict)
	case apierrors.IsForbidden(err) || apierrors.IsUnauthorized(err):
		return fmt.Errorf("%s: %w: %v", op, ErrPermission, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrPermission):
		return "permission"
	case errors.Is(err, ErrMalformedRecord):
		return "malformed"
	default:
		return "transient"
	}
}

// recordFromLease converts the API object into the local record model. A
// negative duration or transition count means the object was written by
// something conductor cannot coordinate with.
func recordFromLease(obj *coordinationv1.Lease) (*Record, error) {
	r := &Record{
		Name:      obj.Name,
		Namespace: obj.Namespace,
		Version:   obj.ResourceVersion,
	}
	spec := obj.Spec
	if spec.HolderIdentity != nil {
		r.Holder = *spec.HolderIdentity
	}
	if spec.LeaseDurationSeconds != nil {
		if *spec.LeaseDurationSeconds < 0 {
			return nil, fmt.Errorf("%w: negative leaseDurationSeconds %d", ErrMalformedRecord, *spec.LeaseDurationSeconds)
		}
		r.Duration = time.Duration(*spec.LeaseDurationSeconds) * time.Second
	}
	if spec.AcquireTime != nil {
		r.AcquireTime = spec.AcquireTime.Time
	}
	if spec.RenewTime != nil {
		r.RenewTime = spec.RenewTime.Time
	}
	if spec.LeaseTransitions != nil {
		if *spec.LeaseTransitions < 0 {
			return nil, fmt.Errorf("%w: negative leaseTransitions %d", ErrMalformedRecord, *spec.LeaseTransitions)
		}
		r.Transitions = *spec.LeaseTransitions
	}
	return r, nil
}

func leaseFromRecord(r *Record) *coordinationv1.Lease {
	spec := coordinationv1.LeaseSpec{
		LeaseTransitions: ptr.To(r.Transitions),
	}
	if r.Holder != "" {
		spec.HolderIdentity = ptr.To(r.Holder)
	}
	if r.Duration > 0 {
		spec.LeaseDurationSeconds = ptr.To(int32(r.Duration / time.Second))
	}
	if !r.AcquireTime.IsZero() {
		spec.AcquireTime = &metav1.MicroTime{Time: r.AcquireTime}
	}
	if !r.RenewTime.IsZero() {
		spec.RenewTime = &metav1.MicroTime{Time: r.RenewTime}
	}
	return &coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{
			Name:            r.Name,
			Namespace:       r.Namespace,
			ResourceVersion: r.Version,
		},
		Spec: spec,
	}
}
