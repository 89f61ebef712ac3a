package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/logger"
)

// Config is the root application configuration.
type Config struct {
	App           AppConfig               `yaml:"app"`
	Server        ServerConfig            `yaml:"server"`
	Database      DatabaseConfig          `yaml:"database"`
	Redis         RedisConfig             `yaml:"redis"`
	Elasticsearch ElasticsearchConfig     `yaml:"elasticsearch"`
	Store         StoreConfig             `yaml:"store"`
	Minio         MinioConfig             `yaml:"minio"`
	Kramerius     KrameriusConfig         `yaml:"kramerius"`
	Engines       map[string]EngineConfig `yaml:"engines"`
	Reindex       ReindexConfig           `yaml:"reindex"`
	Logging       logger.Config           `yaml:"logging"`
}

// AppConfig holds job processing settings.
type AppConfig struct {
	MaxProcesses int           `env:"APP_MAX_PROCESSES" yaml:"max_processes"`
	WorkDir      string        `env:"APP_WORK_DIR"      yaml:"work_dir"`
	DrainTimeout time.Duration `env:"APP_DRAIN_TIMEOUT" yaml:"drain_timeout"`
	// KrameriusUser is the username recorded as owner of versions fetched from remote instances.
	KrameriusUser string `env:"APP_KRAMERIUS_USER" yaml:"kramerius_user"`
}

func (c *AppConfig) SetDefaults() {
	if c.MaxProcesses == 0 {
		c.MaxProcesses = 5
	}
	if c.WorkDir == "" {
		c.WorkDir = "/tmp/altoEditor"
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 30 * time.Second
	}
	if c.KrameriusUser == "" {
		c.KrameriusUser = "kramerius"
	}
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `env:"SERVER_HOST" yaml:"host"`
	Port            int           `env:"SERVER_PORT" yaml:"port"`
	Debug           bool          `env:"SERVER_DEBUG" yaml:"debug"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

func (c *ServerConfig) SetDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 60 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 15 * time.Second
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host            string        `env:"POSTGRES_HOST"     yaml:"host"`
	Port            int           `env:"POSTGRES_PORT"     yaml:"port"`
	User            string        `env:"POSTGRES_USER"     yaml:"user"`
	Password        string        `env:"POSTGRES_PASSWORD" yaml:"password"`
	Database        string        `env:"POSTGRES_DB"       yaml:"database"`
	SSLMode         string        `env:"POSTGRES_SSLMODE"  yaml:"sslmode"`
	MaxConnections  int           `yaml:"max_connections"`
	MaxIdleConns    int           `yaml:"max_idle_connections"`
	ConnMaxLifetime time.Duration `yaml:"connection_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return "host=" + c.Host +
		" port=" + strconv.Itoa(c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Database +
		" sslmode=" + c.SSLMode
}

func (c *DatabaseConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.Database == "" {
		c.Database = "alto_editor"
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
}

// RedisConfig configures the per-object lock backend. An empty address
// selects the in-process locker.
type RedisConfig struct {
	Address  string        `env:"REDIS_ADDRESS"  yaml:"address"`
	Password string        `env:"REDIS_PASSWORD" yaml:"password"`
	DB       int           `env:"REDIS_DB"       yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

func (c *RedisConfig) SetDefaults() {
	if c.LockTTL == 0 {
		c.LockTTL = 30 * time.Second
	}
}

// ElasticsearchConfig holds search index settings.
type ElasticsearchConfig struct {
	URL         string        `env:"ELASTICSEARCH_URL"      yaml:"url"`
	Username    string        `env:"ELASTICSEARCH_USERNAME" yaml:"username"`
	Password    string        `env:"ELASTICSEARCH_PASSWORD" yaml:"password"`
	APIKey      string        `env:"ELASTICSEARCH_API_KEY"  yaml:"api_key"`
	IndexPrefix string        `yaml:"index_prefix"`
	MaxRetries  int           `yaml:"max_retries"`
	PingTimeout time.Duration `yaml:"ping_timeout"`
}

func (c *ElasticsearchConfig) SetDefaults() {
	if c.URL == "" {
		c.URL = "http://localhost:9200"
	}
	if c.IndexPrefix == "" {
		c.IndexPrefix = "alto_editor"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = 5 * time.Second
	}
}

// Store backends.
const (
	StoreBackendFS    = "fs"
	StoreBackendMinio = "minio"
)

// StoreConfig selects and configures the datastream blob store.
type StoreConfig struct {
	Backend string `env:"STORE_BACKEND" yaml:"backend"`
	Path    string `env:"STORE_PATH"    yaml:"path"`
	// Pattern describes the hashed directory layout, e.g. "xx" or "xx/xx".
	Pattern string `env:"STORE_PATTERN" yaml:"pattern"`
}

func (c *StoreConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = StoreBackendFS
	}
	if c.Path == "" {
		c.Path = "/tmp/altoEditor/store"
	}
	if c.Pattern == "" {
		c.Pattern = "xx"
	}
}

// MinioConfig holds MinIO connection settings for the minio store backend.
type MinioConfig struct {
	Endpoint  string `env:"MINIO_ENDPOINT"   yaml:"endpoint"`
	AccessKey string `env:"MINIO_ACCESS_KEY" yaml:"access_key"`
	SecretKey string `env:"MINIO_SECRET_KEY" yaml:"secret_key"`
	UseSSL    bool   `env:"MINIO_USE_SSL"    yaml:"use_ssl"`
	Bucket    string `env:"MINIO_BUCKET"     yaml:"bucket"`
}

func (c *MinioConfig) SetDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "localhost:9000"
	}
	if c.Bucket == "" {
		c.Bucket = "alto-editor"
	}
}

// KrameriusConfig lists the remote digital-library instances.
type KrameriusConfig struct {
	Instances map[string]KrameriusInstance `yaml:"instances"`
	Auth      KrameriusAuth                `yaml:"auth"`
	Timeout   time.Duration                `yaml:"timeout"`
	// RateLimit is the per-instance request budget per second; zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
}

// KrameriusInstance describes one remote deployment.
type KrameriusInstance struct {
	Title    string `yaml:"title"`
	URL      string `yaml:"url"`
	AdminURL string `yaml:"admin_url"`
}

// TrimmedURL returns the instance URL without trailing slashes.
func (i KrameriusInstance) TrimmedURL() string {
	return strings.TrimRight(i.URL, "/")
}

// KrameriusAuth holds service credentials used for background jobs.
type KrameriusAuth struct {
	TokenURL     string `env:"KRAMERIUS_TOKEN_URL"     yaml:"token_url"`
	ClientID     string `env:"KRAMERIUS_CLIENT_ID"     yaml:"client_id"`
	ClientSecret string `env:"KRAMERIUS_CLIENT_SECRET" yaml:"client_secret"`
	Username     string `env:"KRAMERIUS_USERNAME"      yaml:"username"`
	Password     string `env:"KRAMERIUS_PASSWORD"      yaml:"password"`
}

func (c *KrameriusConfig) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
}

// Engine defaults.
const (
	DefaultInImageArg      = "-i"
	DefaultOutAltoArg      = "-oA"
	DefaultOutOcrArg       = "-oO"
	DefaultDataTripletsArg = "-t"
	DefaultEngineBatchSize = 100
	DefaultEngineTimeout   = 180 * time.Second
)

// EngineConfig is the command template of one ALTO/OCR generation engine.
type EngineConfig struct {
	Exec            string        `yaml:"exec"`
	Entry           string        `yaml:"entry"`
	InImageArg      string        `yaml:"in_image_arg"`
	OutAltoArg      string        `yaml:"out_alto_arg"`
	OutOcrArg       string        `yaml:"out_ocr_arg"`
	BatchMode       bool          `yaml:"batch_mode"`
	DataTripletsArg string        `yaml:"data_triplets_arg"`
	AdditionalArgs  []string      `yaml:"additional_args"`
	BatchSize       int           `yaml:"batch_size"`
	Timeout         time.Duration `yaml:"timeout"`
	// User is the account recorded as owner of versions this engine produces.
	User string `yaml:"user"`
}

func (c *EngineConfig) SetDefaults(name string) {
	if c.InImageArg == "" {
		c.InImageArg = DefaultInImageArg
	}
	if c.OutAltoArg == "" {
		c.OutAltoArg = DefaultOutAltoArg
	}
	if c.OutOcrArg == "" {
		c.OutOcrArg = DefaultOutOcrArg
	}
	if c.DataTripletsArg == "" {
		c.DataTripletsArg = DefaultDataTripletsArg
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultEngineBatchSize
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultEngineTimeout
	}
	if c.User == "" {
		c.User = name
	}
}

// ReindexConfig schedules periodic reindex jobs. An empty schedule disables them.
type ReindexConfig struct {
	Schedule string `env:"REINDEX_SCHEDULE" yaml:"schedule"`
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.App.SetDefaults()
	c.Server.SetDefaults()
	c.Database.SetDefaults()
	c.Redis.SetDefaults()
	c.Elasticsearch.SetDefaults()
	c.Store.SetDefaults()
	c.Minio.SetDefaults()
	c.Kramerius.SetDefaults()
	c.Logging.SetDefaults()
	for name, engine := range c.Engines {
		engine.SetDefaults(name)
		c.Engines[name] = engine
	}
}
