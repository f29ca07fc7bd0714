package config

import (
	"errors"
	"fmt"
	"time"
)

// Section names as they appear in settings files, environment variables and
// command-line keys.
const (
	BrokerSection = "BrokerConfig"
	WorkerSection = "WorkerConfig"
)

// Built-in defaults. They target a local development broker.
const (
	DefaultHost               = "localhost"
	DefaultPath               = "capmatix"
	DefaultUserName           = "guest"
	DefaultPassWord           = "guest"
	DefaultConcurrencyLimit   = 1
	DefaultPubSubSystem       = "rabbitmq"
	DefaultSchedulerQueueName = "scheduler"
	DefaultStartTimeout       = 30 * time.Second
	DefaultStopTimeout        = 200 * time.Millisecond
	DefaultRetryMaxRetries    = 3
	DefaultRetryInitial       = time.Second
	DefaultRetryMax           = 16 * time.Second
)

// BrokerConfig holds the broker connection settings.
type BrokerConfig struct {
	// Host is the broker server name or IP address.
	Host string `json:"Host" yaml:"Host"`
	// Path is the virtual partition (RabbitMQ virtual host) messages live in.
	Path string `json:"Path" yaml:"Path"`
	// UserName defaults to guest, which only works against localhost.
	UserName string `json:"UserName" yaml:"UserName"`
	// PassWord defaults to guest, which only works against localhost.
	PassWord string `json:"PassWord" yaml:"PassWord"`
	// ConcurrencyLimit is the number of messages handled concurrently. It
	// bounds handler invocations, not network connections.
	ConcurrencyLimit int `json:"ConcurrencyLimit" yaml:"ConcurrencyLimit"`
}

// WorkerConfig holds the bus and lifecycle switches.
type WorkerConfig struct {
	// PubSubSystem selects the registered transport ("rabbitmq", "nats",
	// "kafka" or "channel").
	PubSubSystem string
	// SchedulerQueueName names the delayed-message scheduler endpoint. A blank
	// value disables scheduling.
	SchedulerQueueName string
	// UseTransactionalBus enlists outgoing messages in the handler's unit of work.
	UseTransactionalBus bool
	// WaitUntilStarted makes Start block until the bus is live (bounded by
	// StartTimeout). When false Start fires and forgets.
	WaitUntilStarted bool
	StartTimeout     time.Duration
	// StopTimeout bounds how long Stop waits for the bus to shut down.
	StopTimeout time.Duration

	// Retry tuning for failing handlers. Exhausted messages move to the
	// endpoint's error queue.
	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration

	MetricsEnabled bool
	// MetricsPort exposes /metrics when greater than zero.
	MetricsPort int
}

// Config groups every setting the worker reads at startup.
type Config struct {
	Broker BrokerConfig
	Worker WorkerConfig
}

// DefaultBrokerConfig returns the local development broker settings.
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		Host:             DefaultHost,
		Path:             DefaultPath,
		UserName:         DefaultUserName,
		PassWord:         DefaultPassWord,
		ConcurrencyLimit: DefaultConcurrencyLimit,
	}
}

// DefaultWorkerConfig returns the default bus and lifecycle switches.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PubSubSystem:         DefaultPubSubSystem,
		SchedulerQueueName:   DefaultSchedulerQueueName,
		UseTransactionalBus:  true,
		WaitUntilStarted:     true,
		StartTimeout:         DefaultStartTimeout,
		StopTimeout:          DefaultStopTimeout,
		RetryMaxRetries:      DefaultRetryMaxRetries,
		RetryInitialInterval: DefaultRetryInitial,
		RetryMaxInterval:     DefaultRetryMax,
	}
}

// Default returns a Config populated with every built-in default.
func Default() Config {
	return Config{Broker: DefaultBrokerConfig(), Worker: DefaultWorkerConfig()}
}

// Getter methods implement transport.Config.
func (c *Config) GetPubSubSystem() string  { return c.Worker.PubSubSystem }
func (c *Config) GetHost() string          { return c.Broker.Host }
func (c *Config) GetPath() string          { return c.Broker.Path }
func (c *Config) GetUserName() string      { return c.Broker.UserName }
func (c *Config) GetPassWord() string      { return c.Broker.PassWord }
func (c *Config) GetConcurrencyLimit() int { return c.Broker.ConcurrencyLimit }

func (b BrokerConfig) String() string {
	redacted := b
	if redacted.PassWord != "" {
		redacted.PassWord = "***REDACTED***"
	}
	type brokerAlias BrokerConfig
	return fmt.Sprintf("%+v", brokerAlias(redacted))
}

func (c Config) String() string {
	return fmt.Sprintf("{Broker:%s Worker:%+v}", c.Broker, c.Worker)
}

// Validate reports settings that cannot be used as given. Resolve never
// produces an invalid Config; Validate guards hand-built ones.
func (c *Config) Validate() error {
	var errs []error

	if c.Broker.Host == "" {
		errs = append(errs, errors.New("broker: host is required"))
	}
	if c.Broker.ConcurrencyLimit < 1 {
		errs = append(errs, fmt.Errorf("broker: concurrency limit must be at least 1, got %d", c.Broker.ConcurrencyLimit))
	}
	if c.Worker.StopTimeout <= 0 {
		errs = append(errs, errors.New("worker: stop timeout must be positive"))
	}
	if c.Worker.StartTimeout < 0 {
		errs = append(errs, errors.New("worker: start timeout cannot be negative"))
	}
	errs = append(errs, c.validateRetry()...)
	if c.Worker.MetricsPort < 0 || c.Worker.MetricsPort > maxPort {
		errs = append(errs, fmt.Errorf("metrics: invalid port %d", c.Worker.MetricsPort))
	}

	return errors.Join(errs...)
}

func (c *Config) validateRetry() []error {
	var errs []error
	w := c.Worker
	if w.RetryMaxRetries < 0 {
		errs = append(errs, errors.New("retry: max retries cannot be negative"))
	}
	if w.RetryInitialInterval < 0 {
		errs = append(errs, errors.New("retry: initial interval cannot be negative"))
	}
	if w.RetryMaxInterval < 0 {
		errs = append(errs, errors.New("retry: max interval cannot be negative"))
	}
	if w.RetryMaxInterval > 0 && w.RetryInitialInterval > w.RetryMaxInterval {
		errs = append(errs, errors.New("retry: initial interval cannot exceed max interval"))
	}
	return errs
}

// ValidateConfig is a convenience function to validate a config pointer.
func ValidateConfig(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	return c.Validate()
}
