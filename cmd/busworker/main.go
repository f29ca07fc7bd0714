// Command busworker consumes rule engine commands from the broker. It runs in
// a console until Ctrl+C or as an operating system service.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/kardianos/service"

	"github.com/drblury/busworker"
	"github.com/drblury/busworker/contracts"
	_ "github.com/drblury/busworker/transport/transports"
)

const processingTime = 999 * time.Millisecond

// RuleEngineCommandConsumer runs one rule engine task per command. The work
// itself is simulated.
type RuleEngineCommandConsumer struct {
	logger busworker.ServiceLogger
	delay  time.Duration
}

func (c RuleEngineCommandConsumer) Consume(ctx context.Context, cc *busworker.ConsumeContext[contracts.RuleEngineCommand]) error {
	c.logger.Info("Processing", busworker.LogFields{
		"workflow_id": cc.Message.WorkflowID,
		"job_id":      cc.Message.JobID,
		"task_name":   cc.Message.TaskName,
	})

	select {
	case <-time.After(c.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func rulesModule(logger busworker.ServiceLogger, delay time.Duration) busworker.Module {
	return busworker.ModuleFunc(func(r *busworker.HandlerRegistry) error {
		return busworker.RegisterConsumer[contracts.RuleEngineCommand](r, RuleEngineCommandConsumer{logger: logger, delay: delay})
	})
}

func main() {
	logger := busworker.NewSlogServiceLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	err := busworker.WithExecutableDir(func() error {
		conf, fallbacks := busworker.LoadConfig(os.Args[1:])
		for _, f := range fallbacks {
			logger.Warn("Using default configuration value", busworker.LogFields{"reason": f.String()})
		}
		logger.Info("Configuration loaded", busworker.LogFields{"config": conf.String()})

		h := busworker.NewHost(func() busworker.HostLifecycle {
			return busworker.NewWorker(conf, logger, busworker.WorkerDependencies{
				Modules:    []busworker.Module{rulesModule(logger, processingTime)},
				BusOptions: busworker.BusOptions{Hooks: busworker.LoggingHooks(logger)},
			})
		},
			busworker.WithLogger(logger),
			busworker.WithServiceConfig(&service.Config{
				Name:        "busworker",
				DisplayName: "Rule engine worker",
				Description: "Consumes rule engine commands from the message broker.",
				Arguments:   os.Args[1:],
			}),
		)
		return h.Run(context.Background())
	})
	if err != nil {
		logger.Error("Worker exited", err, nil)
		os.Exit(1)
	}
}
