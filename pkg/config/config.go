package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/telekom/k8s-conductor/pkg/admin"
	"github.com/telekom/k8s-conductor/pkg/client"
	"github.com/telekom/k8s-conductor/pkg/election"
	"github.com/telekom/k8s-conductor/pkg/telemetry"
)

// Record store backends.
const (
	BackendKube = "kube"
	BackendNATS = "nats"
)

// DefaultPath is used when no path is given and EnvPath is unset.
const DefaultPath = "./conductor.yaml"

// EnvPath overrides the config file location.
const EnvPath = "CONDUCTOR_CONFIG_PATH"

// Lease describes the contended lease. Durations are Go duration strings
// such as "15s"; empty values fall back to the election defaults.
type Lease struct {
	Name      string `yaml:"name"`
	Namespace string `yaml:"namespace"`
	// Identity defaults to hostname plus a random suffix.
	Identity       string  `yaml:"identity"`
	LeaseDuration  string  `yaml:"leaseDuration"`
	RenewDeadline  string  `yaml:"renewDeadline"`
	RetryPeriod    string  `yaml:"retryPeriod"`
	CallTimeout    string  `yaml:"callTimeout"`
	JitterFraction float64 `yaml:"jitterFraction"`
}

// Store selects where lease records live.
type Store struct {
	// Backend is "kube" (default) or "nats".
	Backend string `yaml:"backend"`
	NATS    NATS   `yaml:"nats"`
}

// NATS configures the JetStream key-value backend.
type NATS struct {
	URL string `yaml:"url"`
	// Bucket names the KV bucket; empty selects the store default.
	Bucket string `yaml:"bucket"`
}

// Admin configures the operational HTTP server.
type Admin struct {
	ListenAddress string `yaml:"listenAddress"`
	Debug         bool   `yaml:"debug"`
}

// Client tunes Kubernetes API access. Timeout is a Go duration string.
type Client struct {
	Kubeconfig string  `yaml:"kubeconfig"`
	Context    string  `yaml:"context"`
	QPS        float32 `yaml:"qps"`
	Burst      int     `yaml:"burst"`
	Timeout    string  `yaml:"timeout"`
}

// Telemetry configures OpenTelemetry tracing.
type Telemetry struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// Config is the file configuration for `conductor run`.
type Config struct {
	Lease     Lease     `yaml:"lease"`
	Store     Store     `yaml:"store"`
	Admin     Admin     `yaml:"admin"`
	Client    Client    `yaml:"client"`
	Telemetry Telemetry `yaml:"telemetry"`
}

// Load reads the conductor configuration from a file. The path is resolved
// from the argument, then the CONDUCTOR_CONFIG_PATH environment variable,
// then DefaultPath. The loaded config has defaults applied but is not
// validated; call Validate before use.
func Load(configPath ...string) (Config, error) {
	path := DefaultPath
	switch {
	case len(configPath) > 0 && configPath[0] != "":
		path = configPath[0]
	case os.Getenv(EnvPath) != "":
		path = os.Getenv(EnvPath)
	}

	var cfg Config

	content, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading conductor config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshaling YAML %s: %w", path, err)
	}
	cfg.Defaults()
	return cfg, nil
}

// Defaults fills unset fields in place. Load applies it; configs assembled
// from flags should call it before Validate.
func (c *Config) Defaults() {
	if c.Store.Backend == "" {
		c.Store.Backend = BackendKube
	}
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case BackendKube:
	case BackendNATS:
		if c.Store.NATS.URL == "" {
			errs = append(errs, errors.New("store.nats.url must be set for the nats backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not supported: use %s or %s",
			c.Store.Backend, BackendKube, BackendNATS))
	}

	if _, err := c.ElectionConfig(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.ClientOptions(); err != nil {
		errs = append(errs, err)
	}
	if c.Client.QPS < 0 {
		errs = append(errs, errors.New("client.qps must not be negative"))
	}
	if c.Client.Burst < 0 {
		errs = append(errs, errors.New("client.burst must not be negative"))
	}

	switch c.Telemetry.Exporter {
	case "", telemetry.ExporterOTLP, telemetry.ExporterStdout, telemetry.ExporterNone:
	default:
		errs = append(errs, fmt.Errorf("telemetry.exporter %q is not supported: use otlp, stdout or none",
			c.Telemetry.Exporter))
	}
	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.samplingRate %v must be between 0 and 1", c.Telemetry.SamplingRate))
	}

	return errors.Join(errs...)
}

// ElectionConfig materializes the lease section. Identity defaulting draws a
// random suffix, so call this once per process and reuse the result.
func (c Config) ElectionConfig() (election.Config, error) {
	var errs []error
	parse := func(field, value string) time.Duration {
		if value == "" {
			return 0
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("lease.%s: %w", field, err))
		}
		return d
	}

	ec := election.Config{
		Name:           c.Lease.Name,
		Namespace:      c.Lease.Namespace,
		Identity:       c.Lease.Identity,
		LeaseDuration:  parse("leaseDuration", c.Lease.LeaseDuration),
		RenewDeadline:  parse("renewDeadline", c.Lease.RenewDeadline),
		RetryPeriod:    parse("retryPeriod", c.Lease.RetryPeriod),
		CallTimeout:    parse("callTimeout", c.Lease.CallTimeout),
		JitterFraction: c.Lease.JitterFraction,
	}
	if len(errs) > 0 {
		return ec, errors.Join(errs...)
	}

	ec.Defaults()
	if err := ec.Validate(); err != nil {
		return ec, err
	}
	return ec, nil
}

// ClientOptions materializes the client section.
func (c Config) ClientOptions() (client.Options, error) {
	opts := client.Options{
		Kubeconfig: c.Client.Kubeconfig,
		Context:    c.Client.Context,
		QPS:        c.Client.QPS,
		Burst:      c.Client.Burst,
	}
	if c.Client.Timeout != "" {
		d, err := time.ParseDuration(c.Client.Timeout)
		if err != nil {
			return opts, fmt.Errorf("client.timeout: %w", err)
		}
		opts.Timeout = d
	}
	return opts, nil
}

// AdminOptions materializes the admin section.
func (c Config) AdminOptions() admin.Options {
	return admin.Options{
		Addr:  c.Admin.ListenAddress,
		Debug: c.Admin.Debug,
	}
}

// TelemetryOptions materializes the telemetry section.
func (c Config) TelemetryOptions(log *zap.SugaredLogger) telemetry.Options {
	return telemetry.Options{
		Enabled:      c.Telemetry.Enabled,
		Exporter:     c.Telemetry.Exporter,
		Endpoint:     c.Telemetry.Endpoint,
		Insecure:     c.Telemetry.Insecure,
		SamplingRate: c.Telemetry.SamplingRate,
		Logger:       log,
	}
}
