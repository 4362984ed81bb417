package index

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	coordinationv1 "k8s.io/api/coordination/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/cache"

	"github.com/telekom/k8s-conductor/pkg/metrics"
)

// Handler receives cache events. Apply covers both creations and updates in
// the order the watch delivered them; Delete receives the last known state of
// the object.
type Handler interface {
	Apply(obj interface{})
	Delete(obj interface{})
}

// HandlerFuncs adapts plain functions to Handler. Nil funcs are skipped.
type HandlerFuncs struct {
	ApplyFunc  func(obj interface{})
	DeleteFunc func(obj interface{})
}

func (h HandlerFuncs) Apply(obj interface{}) {
	if h.ApplyFunc != nil {
		h.ApplyFunc(obj)
	}
}

func (h HandlerFuncs) Delete(obj interface{}) {
	if h.DeleteFunc != nil {
		h.DeleteFunc(obj)
	}
}

// Index is an informer-backed read cache for one resource kind.
type Index struct {
	resource string
	informer cache.SharedIndexInformer
	log      *zap.SugaredLogger
}

// New wraps an informer. The resource name labels log lines and metrics.
func New(resource string, informer cache.SharedIndexInformer, log *zap.SugaredLogger) *Index {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Index{
		resource: resource,
		informer: informer,
		log:      log.Named("index").With("resource", resource),
	}
}

// NewLeases builds an Index over coordination.k8s.io/v1 Leases in the given
// namespace.
func NewLeases(client kubernetes.Interface, namespace string, resync time.Duration, log *zap.SugaredLogger) *Index {
	lw := &cache.ListWatch{
		ListFunc: func(options metav1.ListOptions) (runtime.Object, error) {
			return client.CoordinationV1().Leases(namespace).List(context.Background(), options)
		},
		WatchFunc: func(options metav1.ListOptions) (watch.Interface, error) {
			return client.CoordinationV1().Leases(namespace).Watch(context.Background(), options)
		},
	}
	informer := cache.NewSharedIndexInformer(lw, &coordinationv1.Lease{}, resync, cache.Indexers{
		cache.NamespaceIndex: cache.MetaNamespaceIndexFunc,
	})
	return New("leases", informer, log)
}

// AddHandler registers h for cache events. Handlers registered before Run
// also see the initial list replayed as applies.
func (i *Index) AddHandler(h Handler) error {
	_, err := i.informer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc: func(obj interface{}) {
			metrics.IndexEvents.WithLabelValues(i.resource, "apply").Inc()
			h.Apply(obj)
		},
		UpdateFunc: func(_, newObj interface{}) {
			metrics.IndexEvents.WithLabelValues(i.resource, "apply").Inc()
			h.Apply(newObj)
		},
		DeleteFunc: func(obj interface{}) {
			// A missed delete surfaces as a tombstone carrying the last state.
			if tombstone, ok := obj.(cache.DeletedFinalStateUnknown); ok {
				obj = tombstone.Obj
			}
			metrics.IndexEvents.WithLabelValues(i.resource, "delete").Inc()
			h.Delete(obj)
		},
	})
	if err != nil {
		return fmt.Errorf("index %s: add handler: %w", i.resource, err)
	}
	return nil
}

// Run drives the informer until ctx ends.
func (i *Index) Run(ctx context.Context) {
	i.log.Debugw("Starting index")
	i.informer.Run(ctx.Done())
}

// HasSynced reports whether the initial list completed.
func (i *Index) HasSynced() bool {
	return i.informer.HasSynced()
}

// WaitForSync blocks until the cache synced or ctx ended.
func (i *Index) WaitForSync(ctx context.Context) error {
	if !cache.WaitForCacheSync(ctx.Done(), i.informer.HasSynced) {
		return fmt.Errorf("index %s: cache sync interrupted", i.resource)
	}
	return nil
}

// Get answers from the local cache. The bool reports whether the object was
// present.
func (i *Index) Get(namespace, name string) (interface{}, bool, error) {
	key := name
	if namespace != "" {
		key = namespace + "/" + name
	}
	return i.informer.GetIndexer().GetByKey(key)
}

// List returns every cached object.
func (i *Index) List() []interface{} {
	return i.informer.GetStore().List()
}
