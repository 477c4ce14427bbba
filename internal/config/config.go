// Package config loads foursight.yaml project configuration and the
// equivalent environment variables used by the Lambda handlers.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/4dn-dcic/foursight-sub000/pkg/types"
)

// FileName is the project configuration file looked up by Load.
const FileName = "foursight.yaml"

// Load reads and validates foursight.yaml from dir.
func Load(dir string) (*types.ProjectConfig, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile reads and validates the configuration at path.
func LoadFile(path string) (*types.ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg types.ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// FromEnv builds the configuration from environment variables. The backend
// defaults to s3 when RESULTS_BUCKET is set.
func FromEnv() (*types.ProjectConfig, error) {
	cfg := types.ProjectConfig{
		Environment: envOrDefault("FOURSIGHT_ENV", "dev"),
	}
	region := os.Getenv("AWS_REGION")

	backend := os.Getenv("STORE_BACKEND")
	if backend == "" && os.Getenv("RESULTS_BUCKET") != "" {
		backend = string(types.BackendS3)
	}
	cfg.Store.Backend = types.StoreBackend(backend)
	if v := os.Getenv("RESULTS_BUCKET"); v != "" {
		cfg.Store.S3 = &types.S3Config{Bucket: v, Region: region, Endpoint: os.Getenv("S3_ENDPOINT")}
	}
	if v := os.Getenv("TABLE_NAME"); v != "" {
		cfg.Store.DynamoDB = &types.DynamoDBConfig{TableName: v, Region: region, Endpoint: os.Getenv("DYNAMODB_ENDPOINT")}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Store.Redis = &types.RedisConfig{Addr: v, Password: os.Getenv("REDIS_PASSWORD"), KeyPrefix: os.Getenv("REDIS_KEY_PREFIX")}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Store.Postgres = &types.PostgresConfig{DSN: v}
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Store.SQLite = &types.SQLiteConfig{Path: v}
	}

	cfg.Queue = types.QueueConfig{
		URL:                os.Getenv("QUEUE_URL"),
		Region:             region,
		RunnerFunctionName: os.Getenv("RUNNER_FUNCTION_NAME"),
	}
	if v := os.Getenv("QUEUE_VISIBILITY_TIMEOUT"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("QUEUE_VISIBILITY_TIMEOUT: %w", err)
		}
		cfg.Queue.VisibilityTimeout = int32(n)
	}
	cfg.Portal = types.PortalConfig{
		URL:      os.Getenv("PORTAL_URL"),
		SecretID: os.Getenv("PORTAL_SECRET_ID"),
	}
	cfg.Events = types.EventsConfig{BusName: os.Getenv("EVENT_BUS_NAME")}

	if path := os.Getenv("CHECK_CONFIG"); path != "" {
		specs, err := LoadChecks(path)
		if err != nil {
			return nil, err
		}
		cfg.Checks = specs
	}

	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating environment config: %w", err)
	}
	return &cfg, nil
}

// LoadChecks reads a YAML file holding only a checks list.
func LoadChecks(path string) ([]types.CheckSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading check config: %w", err)
	}
	var doc struct {
		Checks []types.CheckSpec `yaml:"checks"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing check config: %w", err)
	}
	return doc.Checks, nil
}

func applyDefaults(cfg *types.ProjectConfig) {
	if cfg.Environment == "" {
		cfg.Environment = "dev"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.MaxBodySize == 0 {
		cfg.Server.MaxBodySize = 1 << 20
	}
}

// Validate checks that the selected backend has its settings and that
// durations and check names parse.
func Validate(cfg *types.ProjectConfig) error {
	if err := validateStore("store", cfg.Store); err != nil {
		return err
	}
	if a := cfg.Archive; a != nil {
		if err := validateStore("archive.store", a.Store); err != nil {
			return err
		}
		if a.Interval != "" {
			if _, err := time.ParseDuration(a.Interval); err != nil {
				return fmt.Errorf("archive.interval: %w", err)
			}
		}
	}
	if cfg.Portal.Timeout != "" {
		if _, err := time.ParseDuration(cfg.Portal.Timeout); err != nil {
			return fmt.Errorf("portal.timeout: %w", err)
		}
	}
	seen := map[string]bool{}
	for _, c := range cfg.Checks {
		module, function, ok := strings.Cut(c.Name, "/")
		if !ok || module == "" || function == "" || strings.Contains(function, "/") {
			return fmt.Errorf("check %q must be of the form module/function", c.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("check %q listed twice", c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}

func validateStore(path string, st types.StoreConfig) error {
	switch st.Backend {
	case "":
		return fmt.Errorf("%s.backend is required", path)
	case types.BackendS3:
		if st.S3 == nil || st.S3.Bucket == "" {
			return fmt.Errorf("%s.s3.bucket is required", path)
		}
	case types.BackendDynamoDB:
		if st.DynamoDB == nil || st.DynamoDB.TableName == "" {
			return fmt.Errorf("%s.dynamodb.tableName is required", path)
		}
	case types.BackendRedis:
		if st.Redis == nil || st.Redis.Addr == "" {
			return fmt.Errorf("%s.redis.addr is required", path)
		}
	case types.BackendPostgres:
		if st.Postgres == nil || st.Postgres.DSN == "" {
			return fmt.Errorf("%s.postgres.dsn is required", path)
		}
	case types.BackendSQLite:
		if st.SQLite == nil || st.SQLite.Path == "" {
			return fmt.Errorf("%s.sqlite.path is required", path)
		}
	case types.BackendMemory:
	default:
		return fmt.Errorf("%s: unknown store backend %q", path, st.Backend)
	}

	if st.Breaker.Cooldown != "" {
		if _, err := time.ParseDuration(st.Breaker.Cooldown); err != nil {
			return fmt.Errorf("%s.breaker.cooldown: %w", path, err)
		}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
