// Package config loads and validates milestone tracker configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Environments recognised by app.environment.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Snapshot source kinds.
const (
	SourceFile = "file"
	SourceHTTP = "http"
	SourceGCS  = "gcs"
)

// Identity lookup kinds.
const (
	IdentityFile   = "file"
	IdentityHTTP   = "http"
	IdentityStatic = "static"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Poll      PollConfig      `mapstructure:"poll"`
	Source    SourceConfig    `mapstructure:"source"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	DB        DBConfig        `mapstructure:"db"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// AppConfig identifies the deployment.
type AppConfig struct {
	Environment string `mapstructure:"environment"`
	ServiceName string `mapstructure:"service_name"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// PollConfig governs the poll scheduler.
type PollConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	Watch        bool          `mapstructure:"watch"`
}

// SourceConfig selects where the status document is read from.
type SourceConfig struct {
	Kind      string `mapstructure:"kind"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSObject string `mapstructure:"gcs_object"`
}

// CatalogConfig points at an optional YAML milestone catalog.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// IdentityConfig selects how the builder identity is resolved.
type IdentityConfig struct {
	Kind    string        `mapstructure:"kind"`
	Path    string        `mapstructure:"path"`
	URL     string        `mapstructure:"url"`
	Name    string        `mapstructure:"name"`
	Email   string        `mapstructure:"email"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// TelemetryConfig configures the progress hub and its sinks.
type TelemetryConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
	Log            bool          `mapstructure:"log"`
	Prometheus     bool          `mapstructure:"prometheus"`
	Form           FormConfig    `mapstructure:"form"`
	PubSub         PubSubConfig  `mapstructure:"pubsub"`
}

// FormConfig configures the HTTP form submission sink.
type FormConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	NameField      string        `mapstructure:"name_field"`
	EmailField     string        `mapstructure:"email_field"`
	MilestoneField string        `mapstructure:"milestone_field"`
	TimestampField string        `mapstructure:"timestamp_field"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RPS            float64       `mapstructure:"rps"`
	Burst          int           `mapstructure:"burst"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TracingConfig toggles the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MILESTONES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", EnvDevelopment)
	v.SetDefault("app.service_name", "milestone-tracker")
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("poll.interval", 5*time.Second)
	v.SetDefault("poll.fetch_timeout", 2*time.Second)
	v.SetDefault("poll.watch", true)
	v.SetDefault("source.kind", SourceFile)
	v.SetDefault("source.path", "public/milestones.json")
	v.SetDefault("identity.kind", IdentityFile)
	v.SetDefault("identity.path", "makesomething.json")
	v.SetDefault("identity.timeout", 2*time.Second)
	v.SetDefault("telemetry.buffer_size", 256)
	v.SetDefault("telemetry.max_batch_events", 50)
	v.SetDefault("telemetry.max_batch_wait", 250*time.Millisecond)
	v.SetDefault("telemetry.sink_timeout", 10*time.Second)
	v.SetDefault("telemetry.log", true)
	v.SetDefault("telemetry.prometheus", true)
	v.SetDefault("telemetry.form.timeout", 5*time.Second)
	v.SetDefault("telemetry.form.rps", 1.0)
	v.SetDefault("telemetry.form.burst", 1)
	v.SetDefault("db.table", "milestone_events")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("logging.development", true)
	v.SetDefault("tracing.enabled", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.App.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("app.environment must be %q or %q", EnvDevelopment, EnvProduction)
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be > 0")
	}
	if c.Poll.FetchTimeout <= 0 {
		return fmt.Errorf("poll.fetch_timeout must be > 0")
	}
	switch c.Source.Kind {
	case SourceFile:
		if c.Source.Path == "" {
			return fmt.Errorf("source.path must be set when source.kind is file")
		}
	case SourceHTTP:
		if c.Source.URL == "" {
			return fmt.Errorf("source.url must be set when source.kind is http")
		}
	case SourceGCS:
		if c.Source.GCSBucket == "" || c.Source.GCSObject == "" {
			return fmt.Errorf("source.gcs_bucket and source.gcs_object must be set when source.kind is gcs")
		}
	default:
		return fmt.Errorf("source.kind %q is not supported", c.Source.Kind)
	}
	switch c.Identity.Kind {
	case IdentityFile:
		if c.Identity.Path == "" {
			return fmt.Errorf("identity.path must be set when identity.kind is file")
		}
	case IdentityHTTP:
		if c.Identity.URL == "" {
			return fmt.Errorf("identity.url must be set when identity.kind is http")
		}
	case IdentityStatic:
	default:
		return fmt.Errorf("identity.kind %q is not supported", c.Identity.Kind)
	}
	if c.Telemetry.Form.Enabled && c.Telemetry.Form.URL == "" {
		return fmt.Errorf("telemetry.form.url must be set when the form sink is enabled")
	}
	if c.Telemetry.PubSub.TopicName != "" && c.Telemetry.PubSub.ProjectID == "" {
		return fmt.Errorf("telemetry.pubsub.project_id must be set when a topic is configured")
	}
	return nil
}

// Production reports whether the deployment is a production build, where the
// tracker and its dev-only routes stay off.
func (c Config) Production() bool {
	return c.App.Environment == EnvProduction
}
