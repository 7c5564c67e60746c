package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the root configuration for cbsetup. It is loaded once at startup
// and passed by value; nothing mutates it after Load returns.
type Config struct {
	Couchbase CouchbaseConfig `mapstructure:"couchbase"`
	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`
	Server    ServerConfig    `mapstructure:"server"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// CouchbaseConfig describes the target cluster and what to create in it.
type CouchbaseConfig struct {
	Host               string `mapstructure:"host"`
	AdminUsername      string `mapstructure:"admin_username"`
	AdminPassword      string `mapstructure:"admin_password"`
	Bucket             string `mapstructure:"bucket"`
	AdminPort          int    `mapstructure:"admin_port"`
	QueryPort          int    `mapstructure:"query_port"`
	Services           string `mapstructure:"services"`
	IndexerStorageMode string `mapstructure:"indexer_storage_mode"`
	BucketType         string `mapstructure:"bucket_type"`
	BucketRAMQuotaMB   int    `mapstructure:"bucket_ram_quota_mb"`
	MemoryQuotaMB      int    `mapstructure:"memory_quota_mb"`
	IndexMemoryQuotaMB int    `mapstructure:"index_memory_quota_mb"`
}

// BaseURL is the admin REST endpoint, e.g. http://localhost:8091.
func (c CouchbaseConfig) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", c.Host, c.AdminPort)
}

// QueryBaseURL is the root of the query service, e.g. http://localhost:8093.
func (c CouchbaseConfig) QueryBaseURL() string {
	return fmt.Sprintf("http://%s:%d", c.Host, c.QueryPort)
}

// QueryURL is the statement execution endpoint of the query service.
func (c CouchbaseConfig) QueryURL() string {
	return c.QueryBaseURL() + "/query/service"
}

type BootstrapConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// Timeout bounds the whole run. Zero means wait forever.
	Timeout     time.Duration `mapstructure:"timeout"`
	FailOnError bool          `mapstructure:"fail_on_error"`
}

type ServerConfig struct {
	Port             int           `mapstructure:"port"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	BootstrapOnStart bool          `mapstructure:"bootstrap_on_start"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
	ServiceName  string `mapstructure:"service_name"`
	LogLevel     string `mapstructure:"log_level"`
	LogFormat    string `mapstructure:"log_format"`
	LogFile      string `mapstructure:"log_file"`
}

// couchbaseEnv maps cluster keys to the variable names used by the
// docker-compose and Kubernetes manifests of the todo service.
var couchbaseEnv = map[string]string{
	"couchbase.host":                  "COUCHBASE_HOST",
	"couchbase.admin_username":        "COUCHBASE_ADMINISTRATOR_USERNAME",
	"couchbase.admin_password":        "COUCHBASE_ADMINISTRATOR_PASSWORD",
	"couchbase.bucket":                "COUCHBASE_BUCKET",
	"couchbase.admin_port":            "COUCHBASE_ADMIN_PORT",
	"couchbase.query_port":            "COUCHBASE_N1QL_QUERY_PORT",
	"couchbase.services":              "COUCHBASE_SERVICES",
	"couchbase.indexer_storage_mode":  "COUCHBASE_INDEXER_STORAGE_MODE",
	"couchbase.bucket_type":           "COUCHBASE_BUCKET_TYPE",
	"couchbase.bucket_ram_quota_mb":   "COUCHBASE_BUCKET_RAM_QUOTA_MB",
	"couchbase.memory_quota_mb":       "COUCHBASE_MEMORY_QUOTA_MB",
	"couchbase.index_memory_quota_mb": "COUCHBASE_INDEX_MEMORY_QUOTA_MB",
}

// Load reads config from the optional YAML file at path, then overlays
// environment variables. Cluster keys use the COUCHBASE_* names; everything
// else uses the CBSETUP_ prefix (e.g. CBSETUP_BOOTSTRAP_POLL_INTERVAL).
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("CBSETUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range couchbaseEnv {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadEnvFile exports the variables of a dotenv file into the process
// environment. Variables that are already set keep their value.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

func (c *Config) validate() error {
	switch {
	case c.Couchbase.Host == "":
		return fmt.Errorf("couchbase host must not be empty")
	case c.Couchbase.Bucket == "":
		return fmt.Errorf("couchbase bucket must not be empty")
	case c.Couchbase.AdminPort <= 0 || c.Couchbase.QueryPort <= 0:
		return fmt.Errorf("couchbase ports must be positive (admin=%d, query=%d)",
			c.Couchbase.AdminPort, c.Couchbase.QueryPort)
	case c.Bootstrap.PollInterval <= 0:
		return fmt.Errorf("bootstrap poll interval must be positive, got %s", c.Bootstrap.PollInterval)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("couchbase.host", "localhost")
	v.SetDefault("couchbase.admin_username", "Administrator")
	v.SetDefault("couchbase.admin_password", "123456")
	v.SetDefault("couchbase.bucket", "todo_list")
	v.SetDefault("couchbase.admin_port", 8091)
	v.SetDefault("couchbase.query_port", 8093)
	v.SetDefault("couchbase.services", "kv,n1ql,index,fts")
	v.SetDefault("couchbase.indexer_storage_mode", "plasma")
	v.SetDefault("couchbase.bucket_type", "couchbase")
	v.SetDefault("couchbase.bucket_ram_quota_mb", 256)
	v.SetDefault("couchbase.memory_quota_mb", 0)
	v.SetDefault("couchbase.index_memory_quota_mb", 0)

	v.SetDefault("bootstrap.poll_interval", 5*time.Second)
	v.SetDefault("bootstrap.probe_timeout", 5*time.Second)
	v.SetDefault("bootstrap.request_timeout", 10*time.Second)
	v.SetDefault("bootstrap.timeout", time.Duration(0))
	v.SetDefault("bootstrap.fail_on_error", false)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.bootstrap_on_start", true)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_insecure", true)
	v.SetDefault("telemetry.service_name", "cbsetup")
	v.SetDefault("telemetry.log_level", "info")
	v.SetDefault("telemetry.log_format", "json")
	v.SetDefault("telemetry.log_file", "")
}
