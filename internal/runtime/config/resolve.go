package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Source is one configuration layer. Keys are looked up by section and key,
// case-insensitively.
type Source interface {
	Name() string
	Lookup(section, key string) (string, bool)
}

// Fallback records a value that could not be used and was replaced by its
// default. Resolution never fails; callers decide whether to log these.
type Fallback struct {
	Section string
	Key     string
	Source  string
	Value   string
	Reason  string
}

func (f Fallback) String() string {
	if f.Key == "" {
		return fmt.Sprintf("%s: %s", f.Source, f.Reason)
	}
	return fmt.Sprintf("%s:%s from %s (%q): %s, using default", f.Section, f.Key, f.Source, f.Value, f.Reason)
}

type field struct {
	section string
	key     string
	apply   func(c *Config, raw string) error
	// blankOK marks keys where an explicit empty value is meaningful.
	blankOK bool
}

const maxPort = 65535

var fields = []field{
	{BrokerSection, "Host", func(c *Config, raw string) error { c.Broker.Host = raw; return nil }, false},
	{BrokerSection, "Path", func(c *Config, raw string) error { c.Broker.Path = raw; return nil }, false},
	{BrokerSection, "UserName", func(c *Config, raw string) error { c.Broker.UserName = raw; return nil }, false},
	{BrokerSection, "PassWord", func(c *Config, raw string) error { c.Broker.PassWord = raw; return nil }, false},
	{BrokerSection, "ConcurrencyLimit", intAtLeast(1, func(c *Config, v int) { c.Broker.ConcurrencyLimit = v }), false},

	{WorkerSection, "PubSubSystem", func(c *Config, raw string) error { c.Worker.PubSubSystem = strings.ToLower(raw); return nil }, false},
	{WorkerSection, "SchedulerQueueName", func(c *Config, raw string) error { c.Worker.SchedulerQueueName = raw; return nil }, true},
	{WorkerSection, "UseTransactionalBus", boolean(func(c *Config, v bool) { c.Worker.UseTransactionalBus = v }), false},
	{WorkerSection, "WaitUntilStarted", boolean(func(c *Config, v bool) { c.Worker.WaitUntilStarted = v }), false},
	{WorkerSection, "StartTimeout", duration(0, func(c *Config, v time.Duration) { c.Worker.StartTimeout = v }), false},
	{WorkerSection, "StopTimeout", duration(time.Millisecond, func(c *Config, v time.Duration) { c.Worker.StopTimeout = v }), false},
	{WorkerSection, "RetryMaxRetries", intAtLeast(0, func(c *Config, v int) { c.Worker.RetryMaxRetries = v }), false},
	{WorkerSection, "RetryInitialInterval", duration(0, func(c *Config, v time.Duration) { c.Worker.RetryInitialInterval = v }), false},
	{WorkerSection, "RetryMaxInterval", duration(0, func(c *Config, v time.Duration) { c.Worker.RetryMaxInterval = v }), false},
	{WorkerSection, "MetricsEnabled", boolean(func(c *Config, v bool) { c.Worker.MetricsEnabled = v }), false},
	{WorkerSection, "MetricsPort", intBetween(0, maxPort, func(c *Config, v int) { c.Worker.MetricsPort = v }), false},
}

// Resolve builds a Config from sources listed in precedence order, highest
// first. The first source that carries a non-blank value for a key decides
// it (SchedulerQueueName also accepts an explicit blank, which disables the
// scheduler); a malformed value falls back to the built-in default.
func Resolve(sources ...Source) (Config, []Fallback) {
	conf := Default()
	var fallbacks []Fallback

	for _, f := range fields {
		for _, src := range sources {
			if src == nil {
				continue
			}
			raw, ok := src.Lookup(f.section, f.key)
			if !ok {
				continue
			}
			raw = strings.TrimSpace(raw)
			if raw == "" && !f.blankOK {
				continue
			}
			if err := f.apply(&conf, raw); err != nil {
				fallbacks = append(fallbacks, Fallback{
					Section: f.section,
					Key:     f.key,
					Source:  src.Name(),
					Value:   redactValue(f.key, raw),
					Reason:  err.Error(),
				})
			}
			break
		}
	}

	if w := conf.Worker; w.RetryMaxInterval > 0 && w.RetryInitialInterval > w.RetryMaxInterval {
		fallbacks = append(fallbacks, Fallback{
			Section: WorkerSection,
			Key:     "RetryInitialInterval",
			Source:  "resolved settings",
			Value:   w.RetryInitialInterval.String(),
			Reason:  fmt.Sprintf("exceeds RetryMaxInterval %s, retry intervals reset", w.RetryMaxInterval),
		})
		conf.Worker.RetryInitialInterval = DefaultRetryInitial
		conf.Worker.RetryMaxInterval = DefaultRetryMax
	}

	return conf, fallbacks
}

// ResolveBroker is Resolve narrowed to the broker section.
func ResolveBroker(sources ...Source) (BrokerConfig, []Fallback) {
	conf, fallbacks := Resolve(sources...)
	return conf.Broker, fallbacks
}

func intAtLeast(min int, set func(*Config, int)) func(*Config, string) error {
	return intBetween(min, math.MaxInt, set)
}

func intBetween(min, max int, set func(*Config, int)) func(*Config, string) error {
	return func(c *Config, raw string) error {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("not an integer")
		}
		if v < min {
			return fmt.Errorf("must be at least %d", min)
		}
		if v > max {
			return fmt.Errorf("must be at most %d", max)
		}
		set(c, v)
		return nil
	}
}

func boolean(set func(*Config, bool)) func(*Config, string) error {
	return func(c *Config, raw string) error {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("not a boolean")
		}
		set(c, v)
		return nil
	}
}

// duration accepts Go duration strings ("250ms", "5s") and bare integers,
// which are read as milliseconds.
func duration(min time.Duration, set func(*Config, time.Duration)) func(*Config, string) error {
	return func(c *Config, raw string) error {
		var d time.Duration
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			d = time.Duration(ms) * time.Millisecond
		} else {
			parsed, perr := time.ParseDuration(raw)
			if perr != nil {
				return fmt.Errorf("not a duration")
			}
			d = parsed
		}
		if d < min {
			return fmt.Errorf("must be at least %s", min)
		}
		set(c, d)
		return nil
	}
}

func redactValue(key, raw string) string {
	if strings.EqualFold(key, "PassWord") {
		return "***REDACTED***"
	}
	return raw
}

func normalizeKey(section, key string) string {
	return strings.ToLower(section) + ":" + strings.ToLower(key)
}

// MapSource serves values from an in-memory map keyed "Section:Key".
type MapSource struct {
	name   string
	values map[string]string
}

// NewMapSource copies values into a source. Keys are "Section:Key".
func NewMapSource(name string, values map[string]string) *MapSource {
	src := &MapSource{name: name, values: make(map[string]string, len(values))}
	for k, v := range values {
		src.values[strings.ToLower(k)] = v
	}
	return src
}

func (m *MapSource) Name() string { return m.name }

func (m *MapSource) Lookup(section, key string) (string, bool) {
	v, ok := m.values[normalizeKey(section, key)]
	return v, ok
}

// ArgsSource reads "--Section:Key=value", "Section:Key=value", "/Section:Key=value"
// and "--Section:Key value" arguments. Anything else is ignored.
func ArgsSource(args []string) *MapSource {
	values := make(map[string]string)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		prefixed := strings.HasPrefix(arg, "-") || strings.HasPrefix(arg, "/")
		arg = strings.TrimLeft(arg, "-/")
		if arg == "" {
			continue
		}
		key, value, hasValue := strings.Cut(arg, "=")
		if !hasValue {
			if !prefixed || i+1 >= len(args) {
				continue
			}
			i++
			value = args[i]
		}
		if !strings.Contains(key, ":") {
			continue
		}
		values[strings.ToLower(key)] = value
	}
	return &MapSource{name: "command line", values: values}
}

// EnvSource reads "Section__Key" variables from environ (os.Environ format).
// A non-empty prefix is stripped first and variables without it are ignored.
func EnvSource(prefix string, environ []string) *MapSource {
	values := make(map[string]string)
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if prefix != "" {
			if len(name) < len(prefix) || !strings.EqualFold(name[:len(prefix)], prefix) {
				continue
			}
			name = name[len(prefix):]
		}
		section, key, ok := strings.Cut(name, "__")
		if !ok || section == "" || key == "" {
			continue
		}
		values[normalizeKey(section, key)] = value
	}
	return &MapSource{name: "environment", values: values}
}
