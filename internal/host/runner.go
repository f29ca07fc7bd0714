package host

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/kardianos/service"

	loggingpkg "github.com/drblury/busworker/internal/runtime/logging"
)

// InteractiveRunner starts the worker and waits for SIGINT, SIGTERM, the
// end of ctx or the end of the worker's bus, then stops it.
type InteractiveRunner struct {
	Logger loggingpkg.ServiceLogger
}

func (r *InteractiveRunner) Run(ctx context.Context, construct func() Lifecycle) error {
	logger := orNop(r.Logger)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lc := construct()
	lc.Start()
	logger.Info("Worker running, press Ctrl+C to stop", nil)

	select {
	case <-ctx.Done():
		logger.Info("Shutdown requested", nil)
	case <-lc.Done():
	}

	if !lc.Stop() {
		logger.Warn("Worker did not stop in time", nil)
	}
	if err := lc.Err(); err != nil {
		return fmt.Errorf("worker faulted: %w", err)
	}
	return nil
}

// ManagedRunner hands the worker to the operating system's service manager,
// which calls Start and Stop at its own discretion.
type ManagedRunner struct {
	Config *service.Config
	Logger loggingpkg.ServiceLogger
}

func (r *ManagedRunner) Run(_ context.Context, construct func() Lifecycle) error {
	prg := &program{construct: construct, logger: orNop(r.Logger)}
	svc, err := newService(prg, r.Config)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	if err := svc.Run(); err != nil {
		return fmt.Errorf("run service: %w", err)
	}
	return nil
}

// program adapts a Lifecycle to service.Interface. The worker is built when
// the service manager starts the service.
type program struct {
	construct func() Lifecycle
	logger    loggingpkg.ServiceLogger

	mu sync.Mutex
	lc Lifecycle
}

func (p *program) Start(service.Service) error {
	p.mu.Lock()
	if p.lc != nil {
		p.mu.Unlock()
		return nil
	}
	lc := p.construct()
	p.lc = lc
	p.mu.Unlock()

	lc.Start()
	return nil
}

func (p *program) Stop(service.Service) error {
	p.mu.Lock()
	lc := p.lc
	p.mu.Unlock()

	if lc == nil {
		return nil
	}
	if !lc.Stop() {
		p.logger.Warn("Worker did not stop in time", nil)
	}
	return nil
}

func orNop(logger loggingpkg.ServiceLogger) loggingpkg.ServiceLogger {
	if logger == nil {
		return loggingpkg.NopLogger()
	}
	return logger
}
