package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/rbaliyan/calllog/internal/config"
	"github.com/rbaliyan/calllog/store"
	mongostore "github.com/rbaliyan/calllog/store/mongo"
	"github.com/rbaliyan/calllog/store/postgres"
	"github.com/rbaliyan/calllog/store/sqlite"
)

// loadConfig reads the configuration named by the root flags.
func loadConfig(cmd *cli.Command) (*config.Config, *slog.Logger, error) {
	var files []string
	if path := cmd.String("env-file"); path != "" {
		files = append(files, path)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, nil, err
	}
	if cmd.Bool("debug") {
		cfg.LogLevel = "debug"
	}
	return cfg, cfg.Logger(os.Stderr), nil
}

// backend is an opened store plus whatever must be released with it.
type backend struct {
	store   store.Store
	release func(ctx context.Context) error
}

func (b *backend) close(ctx context.Context) error {
	if b.release == nil {
		return nil
	}
	return b.release(ctx)
}

// openBackend opens the configured store without connecting it.
func openBackend(cfg *config.Config, logger *slog.Logger) (*backend, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		s, err := sqlite.Open(cfg.DBPath, sqlite.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return &backend{store: s}, nil

	case config.BackendPostgres:
		db, err := sqlx.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return &backend{
			store:   postgres.New(db, postgres.WithLogger(logger)),
			release: func(context.Context) error { return db.Close() },
		}, nil

	case config.BackendMongo:
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		return &backend{
			store: mongostore.New(client,
				mongostore.WithDatabase(cfg.MongoDB),
				mongostore.WithLogger(logger),
			),
			release: client.Disconnect,
		}, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// newRedisClient returns a client for CALLLOG_REDIS_ADDR, or nil.
func newRedisClient(cfg *config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
}

func closeQuietly(logger *slog.Logger, what string, c io.Closer) {
	if err := c.Close(); err != nil {
		logger.Warn("close failed", "resource", what, "error", err)
	}
}
