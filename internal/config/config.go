// Package config loads and validates fleet configuration via Viper.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Metrics environments select where queue-depth samples are emitted.
const (
	EnvDev = "dev"
	EnvPro = "pro"
)

// Depth sources select where the autoscaler reads queue depth from.
const (
	SourceStore = "store"
	SourceFile  = "file"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Redis     RedisConfig     `mapstructure:"redis"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Autoscale AutoscaleConfig `mapstructure:"autoscale"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Depth     DepthConfig     `mapstructure:"depth"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Finalize  FinalizeConfig  `mapstructure:"finalize"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// RedisConfig locates the shared metrics store and job queue.
type RedisConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// Addr joins host and port.
func (r RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// QueueConfig names the job queue list.
type QueueConfig struct {
	Name string `mapstructure:"name"`
}

// AutoscaleConfig holds the scaling policy and loop timing.
type AutoscaleConfig struct {
	MinWorkers         int           `mapstructure:"min_workers"`
	MaxWorkers         int           `mapstructure:"max_workers"`
	ScaleUpThreshold   int64         `mapstructure:"scale_up_threshold"`
	ScaleDownThreshold int64         `mapstructure:"scale_down_threshold"`
	Interval           time.Duration `mapstructure:"interval"`
	SettleDelay        time.Duration `mapstructure:"settle_delay"`
	Runtime            string        `mapstructure:"runtime"`
}

// WorkerConfig describes the worker containers and the in-container pool.
type WorkerConfig struct {
	Image          string        `mapstructure:"image"`
	Network        string        `mapstructure:"network"`
	NamePrefix     string        `mapstructure:"name_prefix"`
	CPUs           float64       `mapstructure:"cpus"`
	Memory         string        `mapstructure:"memory"`
	Env            []string      `mapstructure:"env"`
	Command        []string      `mapstructure:"command"`
	InspectCommand []string      `mapstructure:"inspect_command"`
	Concurrency    int           `mapstructure:"concurrency"`
	PopTimeout     time.Duration `mapstructure:"pop_timeout"`
	StateFile      string        `mapstructure:"state_file"`
}

// DepthConfig controls the queue-depth sampler and reader.
type DepthConfig struct {
	SampleInterval time.Duration `mapstructure:"sample_interval"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	Source         string        `mapstructure:"source"`
	File           string        `mapstructure:"file"`
}

// MetricsConfig selects the emission target for queue-depth samples.
type MetricsConfig struct {
	Env            string `mapstructure:"env"`
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	PushJob        string `mapstructure:"push_job"`
}

// FinalizeConfig points the finalization chain at the reporting API.
type FinalizeConfig struct {
	APIURL    string        `mapstructure:"api_url"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	Endpoints []string      `mapstructure:"endpoints"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Topic     string        `mapstructure:"topic"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// LedgerConfig controls the batch history database.
type LedgerConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// AdminConfig controls the admin HTTP server.
type AdminConfig struct {
	Port int `mapstructure:"port"`
}

// BatchConfig tunes batch dispatch.
type BatchConfig struct {
	ChunkSize int `mapstructure:"chunk_size"`
}

// ExecutorConfig names the crawl command run for each sub-task.
type ExecutorConfig struct {
	Binary string   `mapstructure:"binary"`
	Args   []string `mapstructure:"args"`
	Dir    string   `mapstructure:"dir"`
}

// LoggingConfig toggles zap development features and file output.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FLEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Worker containers are started with the bare names.
	if err := v.BindEnv("redis.host", "FLEET_REDIS_HOST", "REDIS_HOST"); err != nil {
		return Config{}, fmt.Errorf("bind redis.host: %w", err)
	}
	if err := v.BindEnv("redis.port", "FLEET_REDIS_PORT", "REDIS_PORT"); err != nil {
		return Config{}, fmt.Errorf("bind redis.port: %w", err)
	}

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
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.connect_timeout", 30*time.Second)
	v.SetDefault("queue.name", "crawler:jobs")
	v.SetDefault("autoscale.min_workers", 1)
	v.SetDefault("autoscale.max_workers", 15)
	v.SetDefault("autoscale.scale_up_threshold", 1)
	v.SetDefault("autoscale.scale_down_threshold", 0)
	v.SetDefault("autoscale.interval", 5*time.Second)
	v.SetDefault("autoscale.settle_delay", 5*time.Second)
	v.SetDefault("autoscale.runtime", "docker")
	v.SetDefault("worker.image", "crawler-fleet:latest")
	v.SetDefault("worker.network", "crawler_net")
	v.SetDefault("worker.name_prefix", "crawler_replica_")
	v.SetDefault("worker.cpus", 0.25)
	v.SetDefault("worker.memory", "512m")
	v.SetDefault("worker.command", []string{"fleet", "work", "--concurrency", "2"})
	v.SetDefault("worker.inspect_command", []string{"fleet", "inspect"})
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.pop_timeout", 5*time.Second)
	v.SetDefault("worker.state_file", "/tmp/fleet-active-jobs.json")
	v.SetDefault("depth.sample_interval", 5*time.Second)
	v.SetDefault("depth.retry_attempts", 3)
	v.SetDefault("depth.retry_delay", 100*time.Millisecond)
	v.SetDefault("depth.source", SourceStore)
	v.SetDefault("depth.file", "metrics.json")
	v.SetDefault("metrics.env", EnvDev)
	v.SetDefault("metrics.push_job", "crawler_queue")
	v.SetDefault("finalize.endpoints", []string{"summary", "feasibility"})
	v.SetDefault("finalize.timeout", 30*time.Second)
	v.SetDefault("finalize.topic", "crawl-batches")
	v.SetDefault("ledger.table", "batch_runs")
	v.SetDefault("admin.port", 8080)
	v.SetDefault("batch.chunk_size", 100)
	v.SetDefault("executor.binary", "scrapy")
	v.SetDefault("executor.args", []string{"crawl"})
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Redis.Host == "" {
		return fmt.Errorf("redis.host must be set")
	}
	if c.Redis.Port <= 0 {
		return fmt.Errorf("redis.port must be > 0")
	}
	if c.Autoscale.MinWorkers < 0 {
		return fmt.Errorf("autoscale.min_workers must be >= 0")
	}
	if c.Autoscale.MaxWorkers < c.Autoscale.MinWorkers || c.Autoscale.MaxWorkers <= 0 {
		return fmt.Errorf("autoscale.max_workers must be > 0 and >= autoscale.min_workers")
	}
	if c.Autoscale.ScaleDownThreshold > c.Autoscale.ScaleUpThreshold {
		return fmt.Errorf("autoscale.scale_down_threshold must be <= autoscale.scale_up_threshold")
	}
	if c.Autoscale.Interval <= 0 {
		return fmt.Errorf("autoscale.interval must be > 0")
	}
	if c.Autoscale.SettleDelay < 0 {
		return fmt.Errorf("autoscale.settle_delay must be >= 0")
	}
	if c.Worker.NamePrefix == "" {
		return fmt.Errorf("worker.name_prefix must be set")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Depth.RetryAttempts <= 0 {
		return fmt.Errorf("depth.retry_attempts must be > 0")
	}
	if c.Depth.SampleInterval <= 0 {
		return fmt.Errorf("depth.sample_interval must be > 0")
	}
	switch c.Depth.Source {
	case SourceStore, SourceFile:
	default:
		return fmt.Errorf("depth.source must be %q or %q", SourceStore, SourceFile)
	}
	switch c.Metrics.Env {
	case EnvDev:
	case EnvPro:
		if c.Metrics.PushgatewayURL == "" {
			return fmt.Errorf("metrics.pushgateway_url must be set when metrics.env is %q", EnvPro)
		}
	default:
		return fmt.Errorf("metrics.env must be %q or %q", EnvDev, EnvPro)
	}
	if c.Finalize.APIURL != "" && c.Finalize.Username == "" {
		return fmt.Errorf("finalize.username must be set when finalize.api_url is set")
	}
	if c.Admin.Port <= 0 {
		return fmt.Errorf("admin.port must be > 0")
	}
	if c.Batch.ChunkSize <= 0 {
		return fmt.Errorf("batch.chunk_size must be > 0")
	}
	return nil
}
