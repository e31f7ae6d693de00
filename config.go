package world

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Config holds tunables shared by the record store, dispatcher and streams
type Config struct {
	// Pagination
	DefaultRunPageLimit int `yaml:"default_run_page_limit"`
	DefaultPageLimit    int `yaml:"default_page_limit"`
	MaxPageLimit        int `yaml:"max_page_limit"`

	// Consumer loop
	BatchSize    int           `yaml:"batch_size"`
	PollInterval time.Duration `yaml:"poll_interval"`

	// Redelivery delay requested from the lane after a failed message
	RetryDelay    time.Duration   `yaml:"retry_delay"`
	RetryBackoff  BackoffStrategy `yaml:"retry_backoff"`
	MaxRetryDelay time.Duration   `yaml:"max_retry_delay"`
}

// BackoffStrategy defines how the redelivery delay grows with attempts
type BackoffStrategy string

const (
	BackoffLinear      BackoffStrategy = "LINEAR"
	BackoffExponential BackoffStrategy = "EXPONENTIAL"
	BackoffNone        BackoffStrategy = "NONE"
)

// DefaultConfig provides sensible defaults
var DefaultConfig = Config{
	DefaultRunPageLimit: 20,
	DefaultPageLimit:    100,
	MaxPageLimit:        1000,
	BatchSize:           10,
	PollInterval:        time.Second,
	RetryDelay:          time.Second,
	RetryBackoff:        BackoffExponential,
	MaxRetryDelay:       5 * time.Minute,
}

// withDefaults fills zero fields from DefaultConfig
func (c Config) withDefaults() Config {
	d := DefaultConfig
	if c.DefaultRunPageLimit <= 0 {
		c.DefaultRunPageLimit = d.DefaultRunPageLimit
	}
	if c.DefaultPageLimit <= 0 {
		c.DefaultPageLimit = d.DefaultPageLimit
	}
	if c.MaxPageLimit <= 0 {
		c.MaxPageLimit = d.MaxPageLimit
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.RetryBackoff == "" {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = d.MaxRetryDelay
	}
	return c
}

// Option configures the world components
type Option func(*settings)

type settings struct {
	config Config
	logger zerolog.Logger
	ids    *IDGenerator
	now    func() time.Time
	tracer trace.Tracer
}

func newSettings(opts []Option) *settings {
	// Default logger: pretty console output, Info level
	defaultLogger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger().
		Level(zerolog.InfoLevel)

	s := &settings{
		config: DefaultConfig,
		logger: defaultLogger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.config = s.config.withDefaults()
	if s.ids == nil {
		s.ids = NewIDGenerator()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	return s
}

// WithConfig sets a custom configuration
func WithConfig(config Config) Option {
	return func(s *settings) {
		s.config = config
	}
}

// WithLogger sets a custom logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithIDGenerator shares one generator between components
func WithIDGenerator(ids *IDGenerator) Option {
	return func(s *settings) {
		s.ids = ids
	}
}

// WithClock sets the time source used for record timestamps
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		s.now = now
	}
}

// WithTracer sets the tracer used for queue spans
func WithTracer(tracer trace.Tracer) Option {
	return func(s *settings) {
		s.tracer = tracer
	}
}
