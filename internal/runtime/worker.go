package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/drblury/busworker/internal/runtime/config"
	loggingpkg "github.com/drblury/busworker/internal/runtime/logging"
)

// LifecycleState is the state of a Worker. States only move forward;
// Faulted can be entered from Starting and Stopping.
type LifecycleState int

const (
	StateCreated LifecycleState = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateFaulted
)

func (s LifecycleState) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	case StateFaulted:
		return "Faulted"
	default:
		return fmt.Sprintf("LifecycleState(%d)", int(s))
	}
}

// WorkerDependencies are the collaborators of a Worker besides its
// configuration. With no modules and no registry the worker runs a bare,
// publish-only bus.
type WorkerDependencies struct {
	Modules []Module
	// Registry is used as is when set; Modules are ignored then.
	Registry *HandlerRegistry
	BusOptions
}

// Worker owns one bus for its lifetime. Start and Stop never return errors
// or panic: failures are logged and show up as state.
type Worker struct {
	conf   config.Config
	logger loggingpkg.ServiceLogger
	deps   WorkerDependencies

	mu     sync.Mutex
	state  LifecycleState
	err    error
	bus    *Bus
	desc   *BusDescriptor
	cancel context.CancelFunc

	live chan struct{}
	done chan struct{}
}

// NewWorker returns a worker in state Created.
func NewWorker(conf config.Config, logger loggingpkg.ServiceLogger, deps WorkerDependencies) *Worker {
	if logger == nil {
		logger = loggingpkg.NopLogger()
	}
	return &Worker{
		conf:   conf,
		logger: logger,
		deps:   deps,
		live:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (w *Worker) State() LifecycleState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Err returns the error that faulted the worker, if any.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Bus returns the running bus, or nil before the bus is built.
func (w *Worker) Bus() *Bus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bus
}

// Descriptor returns the bus description once Start has produced one.
func (w *Worker) Descriptor() (BusDescriptor, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.desc == nil {
		return BusDescriptor{}, false
	}
	return *w.desc, true
}

// Live is closed when the bus consumes from every endpoint.
func (w *Worker) Live() <-chan struct{} { return w.live }

// Done is closed when the bus has shut down after a successful or failed
// start. It never closes for a worker that was not started.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Start describes and builds the bus and starts it in the background. With
// WaitUntilStarted it returns once the bus is live, the start failed, or
// StartTimeout elapsed; otherwise it returns immediately.
func (w *Worker) Start() {
	defer w.recoverBoundary("start")

	w.mu.Lock()
	if w.state != StateCreated {
		state := w.state
		w.mu.Unlock()
		w.logger.Warn("Start ignored", loggingpkg.LogFields{"state": state.String()})
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.transitionLocked(StateStarting)
	w.mu.Unlock()

	go w.activate(ctx)

	if !w.conf.Worker.WaitUntilStarted {
		return
	}
	var timeout <-chan time.Time
	if d := w.conf.Worker.StartTimeout; d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-w.live:
	case <-w.done:
	case <-timeout:
		w.logger.Warn("Bus not live yet, continuing start in background", loggingpkg.LogFields{
			"timeout": w.conf.Worker.StartTimeout.String(),
		})
	}
}

// activate runs the bus until it is closed. Panics in the bus or in
// customization callbacks fault the worker instead of crashing the process.
func (w *Worker) activate(ctx context.Context) {
	defer close(w.done)

	var wg conc.WaitGroup
	wg.Go(func() { w.run(ctx) })
	if r := wg.WaitAndRecover(); r != nil {
		w.fault("Bus activation panicked", r.AsError())
		if bus := w.Bus(); bus != nil {
			_ = bus.Close()
		}
	}
}

func (w *Worker) run(ctx context.Context) {
	registry := w.deps.Registry
	if registry == nil {
		var err error
		registry, err = NewHandlerRegistry(w.deps.Modules...)
		if err != nil {
			w.fault("Failed to register handlers", err)
			return
		}
	}

	configurator := NewBusConfigurator(w.conf, registry, w.logger, w.deps.BusOptions)
	desc, err := configurator.Describe()
	if err != nil {
		w.fault("Failed to describe bus", err)
		return
	}
	w.mu.Lock()
	w.desc = &desc
	w.mu.Unlock()

	bus, err := configurator.Build(ctx, desc)
	if err != nil {
		if ctx.Err() != nil {
			// stopped while connecting
			return
		}
		w.fault("Failed to start bus", err)
		return
	}

	w.mu.Lock()
	if w.state != StateStarting {
		w.mu.Unlock()
		_ = bus.Close()
		return
	}
	w.bus = bus
	w.mu.Unlock()

	go w.awaitLive(ctx, bus)

	runErr := bus.Run(ctx)
	closeErr := bus.Close()

	w.mu.Lock()
	state := w.state
	w.mu.Unlock()

	switch {
	case state == StateStarting && runErr != nil:
		w.fault("Failed to start bus", runErr)
	case state == StateRunning:
		w.logger.Error("Bus stopped unexpectedly", runErr, nil)
		w.transition(StateRunning, StateStopping)
		w.transition(StateStopping, StateStopped)
	case closeErr != nil:
		w.logger.Warn("Bus closed with errors", loggingpkg.LogFields{"error": closeErr.Error()})
	}
}

func (w *Worker) awaitLive(ctx context.Context, bus *Bus) {
	select {
	case <-bus.Running():
	case <-ctx.Done():
		return
	}
	if w.transition(StateStarting, StateRunning) {
		close(w.live)
		w.logger.Info("Bus started", loggingpkg.LogFields{"endpoints": len(bus.Descriptor().Endpoints())})
	}
}

// Stop stops the bus within the configured StopTimeout.
func (w *Worker) Stop() bool {
	return w.StopWithTimeout(w.conf.Worker.StopTimeout)
}

// StopWithTimeout asks the bus to stop and waits at most timeout. It reports
// whether the bus stopped in time; when it did not, the worker is Faulted and
// the shutdown goes on in the background. Stop is safe in every state and
// may be called repeatedly. In-flight handlers are not interrupted.
func (w *Worker) StopWithTimeout(timeout time.Duration) (stopped bool) {
	defer w.recoverBoundary("stop")

	w.mu.Lock()
	state := w.state
	switch state {
	case StateCreated:
		w.transitionLocked(StateStopped)
		w.mu.Unlock()
		return true
	case StateStopped:
		w.mu.Unlock()
		return true
	case StateStarting, StateRunning:
		w.transitionLocked(StateStopping)
	}
	cancel := w.cancel
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.done:
	case <-timer.C:
		w.logger.Warn("Not stopped in time", loggingpkg.LogFields{"timeout": timeout.String()})
		w.transition(StateStopping, StateFaulted)
		return false
	}

	if state == StateFaulted {
		return true
	}
	if w.transition(StateStopping, StateStopped) {
		w.logger.Info("Bus stopped", nil)
	}
	return w.State() != StateFaulted
}

func (w *Worker) recoverBoundary(op string) {
	if r := recover(); r != nil {
		w.fault("Worker "+op+" panicked", fmt.Errorf("panic: %v", r))
	}
}

// fault moves the worker to Faulted unless it already stopped.
func (w *Worker) fault(msg string, err error) {
	w.logger.Error(msg, err, nil)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateStopped || w.state == StateFaulted {
		return
	}
	if w.err == nil {
		w.err = err
	}
	w.transitionLocked(StateFaulted)
}

// transition moves from one state to another and reports whether the worker
// was in from.
func (w *Worker) transition(from, to LifecycleState) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != from {
		return false
	}
	w.transitionLocked(to)
	return true
}

func (w *Worker) transitionLocked(to LifecycleState) {
	from := w.state
	w.state = to
	w.logger.Info("Worker state changed", loggingpkg.LogFields{
		"from": from.String(),
		"to":   to.String(),
	})
}

// StartWorker creates a worker, starts it and waits until the bus is live or
// ctx ends. The worker is returned even on error so the caller can Stop it.
func StartWorker(ctx context.Context, conf config.Config, logger loggingpkg.ServiceLogger, deps WorkerDependencies) (*Worker, error) {
	conf.Worker.WaitUntilStarted = false
	w := NewWorker(conf, logger, deps)
	w.Start()

	select {
	case <-w.Live():
		return w, nil
	case <-w.Done():
		if err := w.Err(); err != nil {
			return w, err
		}
		return w, fmt.Errorf("bus exited during start (state %s)", w.State())
	case <-ctx.Done():
		return w, ctx.Err()
	}
}
