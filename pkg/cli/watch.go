package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	coordinationv1 "k8s.io/api/coordination/v1"

	"github.com/telekom/k8s-conductor/pkg/admin"
	"github.com/telekom/k8s-conductor/pkg/index"
	"github.com/telekom/k8s-conductor/pkg/requeue"
	"github.com/telekom/k8s-conductor/pkg/runtime"
)

func newWatchCommand() *cobra.Command {
	var (
		resync    time.Duration
		adminAddr string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch leases in a namespace and report claims, releases, and expiries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRoot(cmd)
			if err != nil {
				return err
			}

			proc, err := runtime.NewBuilder().
				WithLogger(rt.log).
				WithClient(rt.clientOptions()).
				WithAdmin(admin.Options{Addr: adminAddr, Debug: rt.debug}).
				Build(cmd.Context())
			if err != nil {
				return err
			}

			idx := index.NewLeases(proc.Client(), rt.Namespace(), resync, rt.log)
			watcher := &leaseWatcher{
				log:     rt.log,
				out:     rt.Writer(),
				sched:   requeue.New[string]("lease-expiry", rt.log),
				holders: make(map[string]string),
			}
			if err := idx.AddHandler(watcher); err != nil {
				return err
			}

			synced := proc.Initialized().Latch("lease-index")
			proc.Go("lease-index", func(ctx context.Context) error {
				idx.Run(ctx)
				return nil
			})
			proc.Go("index-sync", func(ctx context.Context) error {
				if err := idx.WaitForSync(ctx); err != nil {
					return err
				}
				synced.Signal()
				rt.log.Infow("Lease index synced", "namespace", rt.Namespace())
				return nil
			})
			proc.Go("expiry-close", func(ctx context.Context) error {
				<-ctx.Done()
				watcher.sched.Close()
				return nil
			})
			proc.Go("expiry-loop", func(context.Context) error {
				watcher.expiryLoop(idx)
				return nil
			})

			rt.log.Infow("Watching leases", "namespace", rt.Namespace())
			return proc.Run()
		},
	}

	cmd.Flags().DurationVar(&resync, "resync", 10*time.Minute, "Full cache resync period")
	cmd.Flags().StringVar(&adminAddr, "admin-addr", "", "Admin server bind address (default "+admin.DefaultAddr+")")

	return cmd
}

// leaseWatcher reports holder changes from the lease index and schedules an
// expiry check per live claim. Renewals seen before the check fires simply
// re-arm it.
type leaseWatcher struct {
	log   *zap.SugaredLogger
	out   io.Writer
	sched *requeue.Scheduler[string]

	mu      sync.Mutex
	holders map[string]string
}

func (w *leaseWatcher) Apply(obj interface{}) {
	l, ok := obj.(*coordinationv1.Lease)
	if !ok {
		return
	}
	key := l.Namespace + "/" + l.Name
	holder := ""
	if l.Spec.HolderIdentity != nil {
		holder = *l.Spec.HolderIdentity
	}

	w.mu.Lock()
	prev := w.holders[key]
	w.holders[key] = holder
	w.mu.Unlock()

	if prev != holder {
		switch {
		case holder == "":
			fmt.Fprintf(w.out, "%s released by %s\n", key, prev)
		case prev == "":
			fmt.Fprintf(w.out, "%s claimed by %s\n", key, holder)
		default:
			fmt.Fprintf(w.out, "%s taken over by %s (was %s)\n", key, holder, prev)
		}
	}

	if expiry := leaseExpiry(l); holder != "" && !expiry.IsZero() {
		w.sched.AddAfter(key, time.Until(expiry))
	}
}

func (w *leaseWatcher) Delete(obj interface{}) {
	l, ok := obj.(*coordinationv1.Lease)
	if !ok {
		return
	}
	key := l.Namespace + "/" + l.Name

	w.mu.Lock()
	delete(w.holders, key)
	w.mu.Unlock()

	fmt.Fprintf(w.out, "%s deleted\n", key)
}

// expiryLoop consumes due keys until the scheduler closes. A claim renewed
// since it was scheduled is re-armed for its new expiry instead of reported.
func (w *leaseWatcher) expiryLoop(idx *index.Index) {
	for {
		key, ok := w.sched.Next()
		if !ok {
			return
		}
		w.checkExpiry(idx, key)
		w.sched.Done(key)
	}
}

func (w *leaseWatcher) checkExpiry(idx *index.Index, key string) {
	namespace, name, found := strings.Cut(key, "/")
	if !found {
		return
	}
	obj, exists, err := idx.Get(namespace, name)
	if err != nil || !exists {
		return
	}
	l, ok := obj.(*coordinationv1.Lease)
	if !ok {
		return
	}
	holder := ""
	if l.Spec.HolderIdentity != nil {
		holder = *l.Spec.HolderIdentity
	}
	if holder == "" {
		return
	}

	expiry := leaseExpiry(l)
	if expiry.IsZero() {
		return
	}
	if remaining := time.Until(expiry); remaining > 0 {
		w.log.Debugw("Claim renewed since scheduling, re-arming expiry check", "lease", key, "remaining", remaining)
		w.sched.AddAfter(key, remaining)
		return
	}
	fmt.Fprintf(w.out, "%s expired (last held by %s)\n", key, holder)
}

// leaseExpiry computes RenewTime + LeaseDurationSeconds, or the zero time
// when the claim carries neither.
func leaseExpiry(l *coordinationv1.Lease) time.Time {
	if l.Spec.RenewTime == nil || l.Spec.LeaseDurationSeconds == nil {
		return time.Time{}
	}
	return l.Spec.RenewTime.Add(time.Duration(*l.Spec.LeaseDurationSeconds) * time.Second)
}
