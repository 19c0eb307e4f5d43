package config

import "time"

// EngineKind enumerates the supported relational database engines.
type EngineKind string

const (
	EnginePostgres EngineKind = "postgres"
	EngineMySQL    EngineKind = "mysql"
)

// Web holds the HTTP listener settings.
type Web struct {
	APIHost         string        `yaml:"api_host"`
	APIPort         string        `yaml:"api_port"`
	DebugHost       string        `yaml:"debug_host"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Classifiers holds the addresses and per-item timeouts for the external
// classification services.
type Classifiers struct {
	ImageURL        string        `yaml:"image_url"`
	DocumentURL     string        `yaml:"document_url"`
	ImageTimeout    time.Duration `yaml:"image_timeout"`
	DocumentTimeout time.Duration `yaml:"document_timeout"`
}

// Scan holds the tunables of the scan pipeline.
type Scan struct {
	// GroupSize is the maximum number of work items dispatched together.
	GroupSize int `yaml:"group_size"`
	// SampleLimit caps how many rows are fetched per table during a
	// database scan.
	SampleLimit int `yaml:"sample_limit"`
	// UploadDir is where incoming files are spooled until dispatch.
	UploadDir string `yaml:"upload_dir"`
}

// Database holds the result store connection settings.
type Database struct {
	Host       string `yaml:"host"`
	Name       string `yaml:"name"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	MaxConns   int    `yaml:"max_conns"`
	DisableTLS bool   `yaml:"disable_tls"`
}

// Kafka holds the settings for the scan-completed event publisher. An empty
// broker list disables publishing.
type Kafka struct {
	Brokers         []string `yaml:"brokers"`
	CompletionTopic string   `yaml:"completion_topic"`
	ClientID        string   `yaml:"client_id"`
}

// Config represents the top-level configuration.
type Config struct {
	Web         Web         `yaml:"web"`
	Classifiers Classifiers `yaml:"classifiers"`
	Scan        Scan        `yaml:"scan"`
	Database    Database    `yaml:"database"`
	Kafka       Kafka       `yaml:"kafka"`
}

// Default returns a configuration with every tunable at its default value.
// Values loaded from a file or the environment override these.
func Default() *Config {
	var cfg Config

	cfg.Web.APIHost = "0.0.0.0"
	cfg.Web.APIPort = "3000"
	cfg.Web.DebugHost = "0.0.0.0:3010"
	cfg.Web.ReadTimeout = 5 * time.Second
	cfg.Web.WriteTimeout = 10 * time.Second
	cfg.Web.IdleTimeout = 120 * time.Second
	cfg.Web.ShutdownTimeout = 20 * time.Second

	cfg.Classifiers.ImageURL = "http://localhost:6000"
	cfg.Classifiers.DocumentURL = "http://localhost:5003"
	cfg.Classifiers.ImageTimeout = 20 * time.Second
	cfg.Classifiers.DocumentTimeout = 30 * time.Second

	cfg.Scan.GroupSize = 5
	cfg.Scan.SampleLimit = 100
	cfg.Scan.UploadDir = "uploads"

	cfg.Database.Host = "localhost:5432"
	cfg.Database.Name = "pii_sentinel"
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.MaxConns = 10
	cfg.Database.DisableTLS = true

	cfg.Kafka.CompletionTopic = "scan-completions"
	cfg.Kafka.ClientID = "pii-sentinel-api"

	return &cfg
}
