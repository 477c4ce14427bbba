package types

// ProjectConfig is the top-level foursight.yaml configuration.
type ProjectConfig struct {
	Environment string         `yaml:"environment" json:"environment"`
	Store       StoreConfig    `yaml:"store" json:"store"`
	Queue       QueueConfig    `yaml:"queue,omitempty" json:"queue,omitempty"`
	Portal      PortalConfig   `yaml:"portal,omitempty" json:"portal,omitempty"`
	Events      EventsConfig   `yaml:"events,omitempty" json:"events,omitempty"`
	Server      ServerConfig   `yaml:"server,omitempty" json:"server,omitempty"`
	Checks      []CheckSpec    `yaml:"checks,omitempty" json:"checks,omitempty"`
	Archive     *ArchiveConfig `yaml:"archive,omitempty" json:"archive,omitempty"`
}

// StoreConfig selects and configures the result store backend.
type StoreConfig struct {
	Backend  StoreBackend    `yaml:"backend" json:"backend"`
	S3       *S3Config       `yaml:"s3,omitempty" json:"s3,omitempty"`
	DynamoDB *DynamoDBConfig `yaml:"dynamodb,omitempty" json:"dynamodb,omitempty"`
	Redis    *RedisConfig    `yaml:"redis,omitempty" json:"redis,omitempty"`
	Postgres *PostgresConfig `yaml:"postgres,omitempty" json:"postgres,omitempty"`
	SQLite   *SQLiteConfig   `yaml:"sqlite,omitempty" json:"sqlite,omitempty"`
	Breaker  BreakerConfig   `yaml:"breaker,omitempty" json:"breaker,omitempty"`
}

// S3Config holds bucket settings for the S3 backend.
type S3Config struct {
	Bucket   string `yaml:"bucket" json:"bucket"`
	Region   string `yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	// PathStyle forces path-style addressing, needed by most local S3 emulators.
	PathStyle bool `yaml:"pathStyle,omitempty" json:"pathStyle,omitempty"`
}

// DynamoDBConfig holds table settings for the DynamoDB backend.
type DynamoDBConfig struct {
	TableName   string `yaml:"tableName" json:"tableName"`
	Region      string `yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint    string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	CreateTable bool   `yaml:"createTable,omitempty" json:"createTable,omitempty"`
}

// RedisConfig holds connection settings for the Redis backend.
type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password,omitempty" json:"password,omitempty"`
	DB        int    `yaml:"db,omitempty" json:"db,omitempty"`
	KeyPrefix string `yaml:"keyPrefix,omitempty" json:"keyPrefix,omitempty"`
}

// PostgresConfig holds connection settings for the Postgres backend.
type PostgresConfig struct {
	DSN     string `yaml:"dsn" json:"dsn"`
	Migrate bool   `yaml:"migrate,omitempty" json:"migrate,omitempty"`
}

// SQLiteConfig holds the database file for the local SQLite backend.
type SQLiteConfig struct {
	Path string `yaml:"path" json:"path"`
}

// BreakerConfig tunes the circuit breaker in front of the store backend.
type BreakerConfig struct {
	FailThreshold uint32 `yaml:"failThreshold,omitempty" json:"failThreshold,omitempty"`
	Cooldown      string `yaml:"cooldown,omitempty" json:"cooldown,omitempty"`
}

// QueueConfig holds the SQS work queue settings.
type QueueConfig struct {
	URL                string `yaml:"url" json:"url"`
	Region             string `yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint           string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	VisibilityTimeout  int32  `yaml:"visibilityTimeout,omitempty" json:"visibilityTimeout,omitempty"`
	RunnerFunctionName string `yaml:"runnerFunctionName,omitempty" json:"runnerFunctionName,omitempty"`
}

// PortalConfig points checks at the Fourfront/CGAP REST API.
type PortalConfig struct {
	URL      string `yaml:"url,omitempty" json:"url,omitempty"`
	SecretID string `yaml:"secretId,omitempty" json:"secretId,omitempty"`
	Timeout  string `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// EventsConfig configures run-completion events.
type EventsConfig struct {
	BusName string `yaml:"busName,omitempty" json:"busName,omitempty"`
}

// ArchiveConfig names a second store that results are copied into.
type ArchiveConfig struct {
	Store    StoreConfig `yaml:"store" json:"store"`
	Interval string      `yaml:"interval,omitempty" json:"interval,omitempty"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr        string `yaml:"addr,omitempty" json:"addr,omitempty"`
	APIKey      string `yaml:"apiKey,omitempty" json:"apiKey,omitempty"`
	MaxBodySize int64  `yaml:"maxBodySize,omitempty" json:"maxBodySize,omitempty"`
}

// CheckSpec enables one registered check or action and overlays its default
// kwargs. Name uses the "module/function" dispatch form.
type CheckSpec struct {
	Name     string                 `yaml:"name" json:"name"`
	Defaults map[string]interface{} `yaml:"defaults,omitempty" json:"defaults,omitempty"`
}
