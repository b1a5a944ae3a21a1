package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	_ "modernc.org/sqlite"

	"github.com/petrijr/pipehost/pkg/api"
)

// ErrUnsupportedBackend is returned by Open for an unknown backend.
var ErrUnsupportedBackend = errors.New("unsupported queue backend")

// Options selects and addresses a queue backend. Backend names match the
// instance backends.
type Options struct {
	Backend  string
	DSN      string
	Database string
	Prefix   string
	// Capacity bounds the in-memory queue.
	Capacity int
}

// Open connects to the queue described by opts. The returned close function
// releases the connection.
func Open(ctx context.Context, opts Options) (Queue, func() error, error) {
	noop := func() error { return nil }
	switch opts.Backend {
	case api.BackendMemory, "":
		capacity := opts.Capacity
		if capacity <= 0 {
			capacity = 1024
		}
		return NewInMemoryQueue(capacity), noop, nil

	case api.BackendSQLite:
		if opts.DSN == "" {
			return nil, nil, errors.New("sqlite queue dsn is required")
		}
		dsn := opts.DSN
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		}
		return openSQL(ctx, "sqlite", dsn, func(db *sql.DB) (Queue, error) { return NewSQLiteQueue(db) })

	case api.BackendPostgres:
		return openSQL(ctx, "pgx", opts.DSN, func(db *sql.DB) (Queue, error) { return NewPostgresQueue(db) })

	case api.BackendRedis:
		ropts, err := redis.ParseURL(opts.DSN)
		if err != nil {
			return nil, nil, err
		}
		client := redis.NewClient(ropts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return NewRedisQueue(client, opts.Prefix), client.Close, nil

	case api.BackendMongo:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(opts.DSN))
		if err != nil {
			return nil, nil, err
		}
		if err := client.Ping(connectCtx, nil); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, err
		}
		closeFn := func() error { return client.Disconnect(context.Background()) }
		return NewMongoQueue(client, opts.Database, ""), closeFn, nil
	}
	return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, opts.Backend)
}

func openSQL(ctx context.Context, driver, dsn string, build func(*sql.DB) (Queue, error)) (Queue, func() error, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	q, err := build(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return q, db.Close, nil
}
