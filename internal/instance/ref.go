package instance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	_ "modernc.org/sqlite"

	"github.com/petrijr/pipehost/internal/persistence"
	"github.com/petrijr/pipehost/pkg/api"
)

var (
	// ErrUnsupportedBackend is returned for an InstanceRef whose backend is
	// not known.
	ErrUnsupportedBackend = errors.New("unsupported instance backend")

	// ErrMemoryInstanceNotRegistered is returned when a memory ref names an
	// instance that was never registered in this process.
	ErrMemoryInstanceNotRegistered = errors.New("memory instance not registered")
)

// DefaultMemoryName is used for memory refs with an empty DSN.
const DefaultMemoryName = "default"

var memoryInstances = struct {
	sync.RWMutex
	byName map[string]*Instance
}{byName: make(map[string]*Instance)}

// NewMemory creates an in-memory instance and registers it under name so
// that workers in the same process can reopen it from its ref.
func NewMemory(name string, opts ...Option) *Instance {
	if name == "" {
		name = DefaultMemoryName
	}
	ref := api.InstanceRef{Backend: api.BackendMemory, DSN: name}
	inst := New(persistence.NewInMemory(), append(opts, WithRef(ref))...)

	memoryInstances.Lock()
	memoryInstances.byName[name] = inst
	memoryInstances.Unlock()
	return inst
}

// Unregister drops a named memory instance from the registry.
func Unregister(name string) {
	memoryInstances.Lock()
	delete(memoryInstances.byName, name)
	memoryInstances.Unlock()
}

// FromRef opens the instance ref points at. The caller owns the returned
// instance and must Close it; closing a memory instance is a no-op.
func FromRef(ctx context.Context, ref api.InstanceRef, opts ...Option) (*Instance, error) {
	var (
		p   *persistence.Persistence
		err error
	)
	switch ref.Backend {
	case api.BackendMemory:
		return lookupMemory(ref.DSN)
	case api.BackendSQLite:
		p, err = openSQLite(ref.DSN)
	case api.BackendPostgres:
		p, err = openPostgres(ref.DSN)
	case api.BackendRedis:
		p, err = openRedis(ctx, ref)
	case api.BackendMongo:
		p, err = openMongo(ctx, ref)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, ref.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s instance: %w", ref.Backend, err)
	}
	return New(p, append(opts, WithRef(ref))...), nil
}

func lookupMemory(name string) (*Instance, error) {
	if name == "" {
		name = DefaultMemoryName
	}
	memoryInstances.RLock()
	defer memoryInstances.RUnlock()
	inst, ok := memoryInstances.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMemoryInstanceNotRegistered, name)
	}
	return inst, nil
}

// sqliteDSN adds a busy timeout and WAL journaling to file databases so a
// controller and a worker process can share the file.
func sqliteDSN(dsn string) string {
	if dsn == "" || strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "?") {
		return dsn
	}
	return dsn + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func openSQLite(dsn string) (*persistence.Persistence, error) {
	if dsn == "" {
		return nil, errors.New("sqlite dsn is required")
	}
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, err
	}
	if strings.Contains(dsn, ":memory:") {
		// Every connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}
	p, err := persistence.NewSQLite(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func openPostgres(dsn string) (*persistence.Persistence, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	p, err := persistence.NewPostgres(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func openRedis(ctx context.Context, ref api.InstanceRef) (*persistence.Persistence, error) {
	opts, err := redis.ParseURL(ref.DSN)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return persistence.NewRedis(client, ref.Prefix), nil
}

func openMongo(ctx context.Context, ref api.InstanceRef) (*persistence.Persistence, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(ref.DSN))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return persistence.NewMongo(client, ref.Database), nil
}
