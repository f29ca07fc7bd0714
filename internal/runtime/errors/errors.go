package errors

import sterrors "errors"

var (
	ErrRegistryRequired     = sterrors.New("busworker: handler registry is required")
	ErrHandlerRequired      = sterrors.New("busworker: handler function is required")
	ErrMessageTypeRequired  = sterrors.New("busworker: message type is required")
	ErrDuplicateHandler     = sterrors.New("busworker: message type already bound to a handler")
	ErrEndpointNameRequired = sterrors.New("busworker: endpoint name is required")
	ErrSagaNameRequired     = sterrors.New("busworker: saga name is required")
	ErrCorrelationRequired  = sterrors.New("busworker: saga correlation function is required")
	ErrModuleRequired       = sterrors.New("busworker: module is required")
	ErrPublisherRequired    = sterrors.New("busworker: publisher is required")
	ErrUnknownAddress       = sterrors.New("busworker: address must use the queue: or exchange: scheme")
	ErrSchedulerDisabled    = sterrors.New("busworker: message scheduling is disabled")
	ErrSchedulerStopped     = sterrors.New("busworker: scheduler is stopped")
	ErrBusNotRunning        = sterrors.New("busworker: bus is not running")
	ErrConfigRequired       = sterrors.New("busworker: config is required")
	ErrLoggerRequired       = sterrors.New("busworker: logger is required")
	ErrConcurrencyLimit     = sterrors.New("busworker: concurrency limit must be at least 1")
	ErrSagaVersionConflict  = sterrors.New("busworker: saga instance was modified concurrently")
)
