package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/telekom/k8s-conductor/pkg/admin"
	"github.com/telekom/k8s-conductor/pkg/client"
	"github.com/telekom/k8s-conductor/pkg/election"
	"github.com/telekom/k8s-conductor/pkg/initialized"
	"github.com/telekom/k8s-conductor/pkg/lease"
	"github.com/telekom/k8s-conductor/pkg/shutdown"
	"github.com/telekom/k8s-conductor/pkg/system"
	"github.com/telekom/k8s-conductor/pkg/telemetry"
)

// DefaultDrainGrace bounds how long Run waits for tasks after the context
// ended.
const DefaultDrainGrace = 30 * time.Second

// ErrAlreadyRunning is returned by Run when the runtime was started twice.
var ErrAlreadyRunning = errors.New("runtime: already running")

// Builder collects the process-level options. The zero value is usable; all
// With methods return the builder for chaining.
type Builder struct {
	log        *zap.SugaredLogger
	clientOpts client.Options
	clientset  kubernetes.Interface
	adminOpts  admin.Options
	telOpts    telemetry.Options
	grace      time.Duration
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithLogger sets the process logger. Defaults to the production logger.
func (b *Builder) WithLogger(log *zap.SugaredLogger) *Builder {
	b.log = log
	return b
}

// WithClient sets the Kubernetes access options.
func (b *Builder) WithClient(opts client.Options) *Builder {
	b.clientOpts = opts
	return b
}

// WithClientset injects a prebuilt clientset, skipping kubeconfig
// resolution. Intended for tests and for processes that already hold one.
func (b *Builder) WithClientset(cs kubernetes.Interface) *Builder {
	b.clientset = cs
	return b
}

// WithAdmin sets the admin server options.
func (b *Builder) WithAdmin(opts admin.Options) *Builder {
	b.adminOpts = opts
	return b
}

// WithTelemetry sets the tracing options.
func (b *Builder) WithTelemetry(opts telemetry.Options) *Builder {
	b.telOpts = opts
	return b
}

// WithDrainGrace bounds the shutdown drain. Defaults to DefaultDrainGrace.
func (b *Builder) WithDrainGrace(grace time.Duration) *Builder {
	b.grace = grace
	return b
}

// Runtime owns the shared process infrastructure and supervises tasks
// started with Go. All accessors are safe before and during Run.
type Runtime struct {
	log     *zap.SugaredLogger
	client  kubernetes.Interface
	restCfg *rest.Config
	admin   *admin.Server
	ready   *initialized.Set
	handle  *shutdown.Handle
	grace   time.Duration

	ctx         context.Context
	cancel      context.CancelFunc
	telShutdown telemetry.ShutdownFunc

	running atomic.Bool

	mu       sync.Mutex
	taskErrs []error
}

// Build wires the runtime. The returned Runtime's context ends on SIGINT,
// SIGTERM, a parent cancellation, or a failed task.
func (b *Builder) Build(ctx context.Context) (*Runtime, error) {
	log := b.log
	if log == nil {
		log = system.NewLogger(false)
	}
	grace := b.grace
	if grace == 0 {
		grace = DefaultDrainGrace
	}

	telOpts := b.telOpts
	if telOpts.Logger == nil {
		telOpts.Logger = log
	}
	_, telShutdown, err := telemetry.Init(ctx, telOpts)
	if err != nil {
		return nil, fmt.Errorf("runtime: init telemetry: %w", err)
	}

	cs := b.clientset
	var restCfg *rest.Config
	if cs == nil {
		cs, restCfg, err = client.New(b.clientOpts, log)
		if err != nil {
			_ = telShutdown(ctx)
			return nil, fmt.Errorf("runtime: build client: %w", err)
		}
	}

	runCtx, handle := shutdown.Watch(ctx, log)
	runCtx, cancel := context.WithCancel(runCtx)

	ready := initialized.NewSet()
	return &Runtime{
		log:         log,
		client:      cs,
		restCfg:     restCfg,
		admin:       admin.New(b.adminOpts, ready, log),
		ready:       ready,
		handle:      handle,
		grace:       grace,
		ctx:         runCtx,
		cancel:      cancel,
		telShutdown: telShutdown,
	}, nil
}

// Context is the run context shared by every task. It ends when shutdown
// begins.
func (r *Runtime) Context() context.Context {
	return r.ctx
}

// Client returns the shared Kubernetes clientset.
func (r *Runtime) Client() kubernetes.Interface {
	return r.client
}

// RESTConfig returns the resolved rest.Config. It is nil when the clientset
// was injected.
func (r *Runtime) RESTConfig() *rest.Config {
	return r.restCfg
}

// Admin returns the admin server.
func (r *Runtime) Admin() *admin.Server {
	return r.admin
}

// Initialized returns the readiness latch set behind /readyz.
func (r *Runtime) Initialized() *initialized.Set {
	return r.ready
}

// Shutdown returns the drain handle so components can watch for the drain
// or register as participants directly.
func (r *Runtime) Shutdown() *shutdown.Handle {
	return r.handle
}

// NewElector builds an elector on a Lease record store backed by the
// runtime's clientset and registers it for /debug/election diagnostics.
func (r *Runtime) NewElector(cfg election.Config) (*election.Elector, error) {
	cfg.Defaults()
	store := lease.NewKubeStore(r.client, cfg.Name, cfg.Namespace, cfg.CallTimeout)
	return r.newElector(store, cfg)
}

// NewElectorWithStore is NewElector over a caller-provided record store,
// such as a NATS bucket.
func (r *Runtime) NewElectorWithStore(store lease.Store, cfg election.Config) (*election.Elector, error) {
	return r.newElector(store, cfg)
}

func (r *Runtime) newElector(store lease.Store, cfg election.Config) (*election.Elector, error) {
	e, err := election.New(store, cfg, r.log)
	if err != nil {
		return nil, err
	}
	r.admin.RegisterElector(e)
	return e, nil
}

// Go runs fn under the runtime context as a drain participant. A non-nil
// error other than context.Canceled marks the task failed and begins
// shutdown; Run reports it.
func (r *Runtime) Go(name string, fn func(ctx context.Context) error) {
	release := r.handle.Register()
	go func() {
		defer release()
		err := fn(r.ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			r.log.Debugw("Task finished", "task", name)
			return
		}
		r.log.Errorw("Task failed", "task", name, "error", err)
		r.mu.Lock()
		r.taskErrs = append(r.taskErrs, fmt.Errorf("%s: %w", name, err))
		r.mu.Unlock()
		r.cancel()
	}()
}

// Run starts the admin server and blocks until the runtime context ends,
// then waits for every task to drain within the grace period. It returns
// the errors of failed tasks, if any.
func (r *Runtime) Run() error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	if err := r.admin.Start(); err != nil {
		r.cancel()
		return err
	}

	go func() {
		if err := r.ready.Wait(r.ctx); err == nil {
			r.log.Infow("All components initialized")
		}
	}()

	<-r.ctx.Done()
	r.log.Infow("Runtime stopping")

	drainErr := r.handle.WaitDrained(r.grace)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), r.grace)
	defer cancel()
	if err := r.admin.Shutdown(shutdownCtx); err != nil {
		r.log.Warnw("Admin server shutdown failed", "error", err)
	}
	if err := r.telShutdown(shutdownCtx); err != nil {
		r.log.Warnw("Tracing shutdown failed", "error", err)
	}

	r.mu.Lock()
	errs := append([]error{}, r.taskErrs...)
	r.mu.Unlock()
	if drainErr != nil {
		errs = append(errs, drainErr)
	}
	return errors.Join(errs...)
}
