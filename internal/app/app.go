// Package app assembles the store, registry, runner and AWS collaborators
// from a project configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sfn"

	"github.com/4dn-dcic/foursight-sub000/internal/archiver"
	"github.com/4dn-dcic/foursight-sub000/internal/checks"
	"github.com/4dn-dcic/foursight-sub000/internal/connection"
	"github.com/4dn-dcic/foursight-sub000/internal/portal"
	"github.com/4dn-dcic/foursight-sub000/internal/queue"
	"github.com/4dn-dcic/foursight-sub000/internal/registry"
	"github.com/4dn-dcic/foursight-sub000/internal/runner"
	"github.com/4dn-dcic/foursight-sub000/internal/secrets"
	"github.com/4dn-dcic/foursight-sub000/internal/store"
	ddbstore "github.com/4dn-dcic/foursight-sub000/internal/store/dynamodb"
	"github.com/4dn-dcic/foursight-sub000/internal/store/memory"
	pgstore "github.com/4dn-dcic/foursight-sub000/internal/store/postgres"
	redisstore "github.com/4dn-dcic/foursight-sub000/internal/store/redis"
	s3store "github.com/4dn-dcic/foursight-sub000/internal/store/s3"
	sqlitestore "github.com/4dn-dcic/foursight-sub000/internal/store/sqlite"
	"github.com/4dn-dcic/foursight-sub000/pkg/types"
)

// OpenBackend creates the backend cfg selects. The returned close function
// releases its connections and is never nil.
func OpenBackend(ctx context.Context, cfg types.StoreConfig, logger *slog.Logger) (store.Backend, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case types.BackendS3:
		b, err := s3store.New(ctx, cfg.S3)
		if err != nil {
			return nil, nil, fmt.Errorf("creating s3 store: %w", err)
		}
		return b, noop, nil
	case types.BackendDynamoDB:
		b, err := ddbstore.New(ctx, cfg.DynamoDB, ddbstore.WithLogger(logger))
		if err != nil {
			return nil, nil, fmt.Errorf("creating dynamodb store: %w", err)
		}
		if err := b.Start(ctx); err != nil {
			return nil, nil, fmt.Errorf("starting dynamodb store: %w", err)
		}
		return b, noop, nil
	case types.BackendRedis:
		if cfg.Redis == nil {
			return nil, nil, fmt.Errorf("redis store requires store.redis")
		}
		b := redisstore.New(cfg.Redis)
		return b, b.Close, nil
	case types.BackendPostgres:
		if cfg.Postgres == nil {
			return nil, nil, fmt.Errorf("postgres store requires store.postgres")
		}
		b, err := pgstore.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Postgres.Migrate {
			if err := b.Migrate(ctx); err != nil {
				b.Close()
				return nil, nil, err
			}
		}
		return b, func() error { b.Close(); return nil }, nil
	case types.BackendSQLite:
		if cfg.SQLite == nil {
			return nil, nil, fmt.Errorf("sqlite store requires store.sqlite")
		}
		b, err := sqlitestore.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	case types.BackendMemory:
		return memory.New(), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// OpenStore opens the backend and wraps it in a Store.
func OpenStore(ctx context.Context, cfg types.StoreConfig, logger *slog.Logger) (*store.Store, func() error, error) {
	b, closeFn, err := OpenBackend(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return store.New(b, store.WithLogger(logger), store.WithBreaker(cfg.Breaker)), closeFn, nil
}

// Deps holds everything a handler, worker or command needs.
type Deps struct {
	Config   *types.ProjectConfig
	Store    *store.Store
	Registry *registry.Registry
	Runner   *runner.Runner
	Conn     *connection.Connection
	// Queue is nil when no queue URL is configured.
	Queue  *queue.Queue
	AWS    *aws.Config
	Logger *slog.Logger

	closers []func() error
}

// Option adjusts Build.
type Option func(*buildOptions)

type buildOptions struct {
	registry *registry.Registry
	backend  store.Backend
	queue    *queue.Queue
	noAWS    bool
}

// WithRegistry replaces the built-in check registry.
func WithRegistry(r *registry.Registry) Option {
	return func(o *buildOptions) { o.registry = r }
}

// WithBackend uses b instead of opening the configured backend.
func WithBackend(b store.Backend) Option {
	return func(o *buildOptions) { o.backend = b }
}

// WithQueue uses q instead of creating an SQS queue from config.
func WithQueue(q *queue.Queue) Option {
	return func(o *buildOptions) { o.queue = q }
}

// WithoutAWS skips loading AWS configuration and the clients that need it.
func WithoutAWS() Option {
	return func(o *buildOptions) { o.noAWS = true }
}

// openStore is swapped in tests to observe Build releasing the store.
var openStore = OpenStore

// Build assembles Deps from cfg. When a later step fails, the store Build
// opened is closed before the error is returned.
func Build(ctx context.Context, cfg *types.ProjectConfig, logger *slog.Logger, opts ...Option) (_ *Deps, err error) {
	var o buildOptions
	for _, fn := range opts {
		fn(&o)
	}
	d := &Deps{Config: cfg, Logger: logger}

	if o.backend != nil {
		d.Store = store.New(o.backend, store.WithLogger(logger), store.WithBreaker(cfg.Store.Breaker))
	} else {
		s, closeFn, err := openStore(ctx, cfg.Store, logger)
		if err != nil {
			return nil, err
		}
		d.Store = s
		d.closers = append(d.closers, closeFn)
	}
	defer func() {
		if err != nil {
			if cerr := d.Close(); cerr != nil {
				logger.Warn("closing store after failed build", "error", cerr)
			}
		}
	}()

	reg := o.registry
	if reg == nil {
		if reg, err = checks.Default(); err != nil {
			return nil, fmt.Errorf("registering built-in checks: %w", err)
		}
	}
	if reg, err = reg.Configure(cfg.Checks); err != nil {
		return nil, err
	}
	d.Registry = reg
	d.Runner = runner.New(reg, runner.WithLogger(logger))

	d.Conn = connection.New(cfg.Environment, d.Store)
	d.Conn.Names = reg.Names()

	if !o.noAWS {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		d.AWS = &awsCfg
		if awsCfg.Region != "" {
			d.Conn.Logs = cloudwatchlogs.NewFromConfig(awsCfg)
			d.Conn.Workflows = sfn.NewFromConfig(awsCfg)
		}
	}

	if d.Conn.Portal, err = buildPortal(ctx, cfg.Portal, d.AWS, logger); err != nil {
		return nil, err
	}

	switch {
	case o.queue != nil:
		d.Queue = o.queue
	case cfg.Queue.URL != "" && !o.noAWS:
		if d.Queue, err = queue.New(ctx, &cfg.Queue); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func buildPortal(ctx context.Context, cfg types.PortalConfig, awsCfg *aws.Config, logger *slog.Logger) (*portal.Client, error) {
	var keys portal.Keys
	if cfg.SecretID != "" {
		if awsCfg == nil {
			return nil, fmt.Errorf("portal.secretId requires AWS configuration")
		}
		var err error
		keys, err = secrets.PortalKeys(ctx, secretsmanager.NewFromConfig(*awsCfg), cfg.SecretID)
		if err != nil {
			return nil, err
		}
	}
	if cfg.URL == "" && keys.Server == "" {
		return nil, nil
	}
	opts := []portal.Option{portal.WithLogger(logger)}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("portal.timeout: %w", err)
		}
		opts = append(opts, portal.WithTimeout(d))
	}
	return portal.New(cfg.URL, keys, opts...)
}

// ErrNoArchive is returned by Archiver when the configuration has no archive section.
var ErrNoArchive = errors.New("no archive store configured")

// Archiver opens the archive store and returns an archiver copying every
// registered name from the working store into it. The archive store is
// closed with d.
func (d *Deps) Archiver(ctx context.Context) (*archiver.Archiver, error) {
	a := d.Config.Archive
	if a == nil {
		return nil, ErrNoArchive
	}
	var interval time.Duration
	if a.Interval != "" {
		v, err := time.ParseDuration(a.Interval)
		if err != nil {
			return nil, fmt.Errorf("archive.interval: %w", err)
		}
		interval = v
	}
	dest, closeFn, err := OpenStore(ctx, a.Store, d.Logger)
	if err != nil {
		return nil, fmt.Errorf("opening archive store: %w", err)
	}
	d.closers = append(d.closers, closeFn)
	return archiver.New(d.Store, dest, d.Registry.Names(), interval, d.Logger), nil
}

// Close releases the store connections.
func (d *Deps) Close() error {
	var errs []error
	for _, fn := range d.closers {
		errs = append(errs, fn())
	}
	return errors.Join(errs...)
}
