// Package host runs a worker as a console process or under an operating
// system service manager. The mode is detected once, when the Host is built,
// and both modes drive the worker only through its Start and Stop.
package host

import (
	"context"

	"github.com/kardianos/service"

	loggingpkg "github.com/drblury/busworker/internal/runtime/logging"
)

// Lifecycle is the part of a worker a runner drives.
type Lifecycle interface {
	Start()
	Stop() bool
	// Done is closed once a started worker's bus has shut down.
	Done() <-chan struct{}
	// Err reports why the worker faulted.
	Err() error
}

// Runner runs one lifecycle until the process is asked to end.
type Runner interface {
	Run(ctx context.Context, construct func() Lifecycle) error
}

var (
	isInteractive = service.Interactive
	newService    = service.New
)

// Host pairs a worker constructor with the runner for the current mode.
type Host struct {
	construct   func() Lifecycle
	runner      Runner
	interactive bool
}

type options struct {
	logger  loggingpkg.ServiceLogger
	service *service.Config
	runner  Runner
}

// Option configures a Host.
type Option func(*options)

// WithLogger sets the logger both runners report to.
func WithLogger(logger loggingpkg.ServiceLogger) Option {
	return func(o *options) { o.logger = logger }
}

// WithServiceConfig names the service for the service manager.
func WithServiceConfig(conf *service.Config) Option {
	return func(o *options) { o.service = conf }
}

// WithRunner skips mode detection and uses runner.
func WithRunner(runner Runner) Option {
	return func(o *options) { o.runner = runner }
}

// New returns a Host that builds its worker with construct.
func New(construct func() Lifecycle, opts ...Option) *Host {
	o := options{
		logger:  loggingpkg.NopLogger(),
		service: &service.Config{Name: "busworker", DisplayName: "Bus worker"},
	}
	for _, opt := range opts {
		opt(&o)
	}

	h := &Host{construct: construct, interactive: isInteractive()}
	switch {
	case o.runner != nil:
		h.runner = o.runner
	case h.interactive:
		h.runner = &InteractiveRunner{Logger: o.logger}
	default:
		h.runner = &ManagedRunner{Config: o.service, Logger: o.logger}
	}
	return h
}

// Interactive reports whether the process was started from a console.
func (h *Host) Interactive() bool { return h.interactive }

// Runner returns the runner chosen for this process.
func (h *Host) Runner() Runner { return h.runner }

// Run blocks until the worker has been stopped.
func (h *Host) Run(ctx context.Context) error {
	return h.runner.Run(ctx, h.construct)
}
