// Package testutil starts the backing services the store and queue tests
// run against. Each service is started once per test binary and shared.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const startupTimeout = 3 * time.Minute

// service is a container started on first use. Tests in the same binary
// share it; the failure of the first start is reported to every caller.
type service struct {
	once sync.Once
	addr string
	err  error

	image  string
	port   nat.Port
	env    map[string]string
	wait   wait.Strategy
	format func(endpoint string) string
}

func (s *service) address(t *testing.T) string {
	t.Helper()
	s.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		defer cancel()

		opts := []testcontainers.ContainerCustomizer{
			testcontainers.WithExposedPorts(string(s.port)),
			testcontainers.WithWaitStrategy(s.wait),
		}
		if len(s.env) > 0 {
			opts = append(opts, testcontainers.WithEnv(s.env))
		}
		c, err := testcontainers.Run(ctx, s.image, opts...)
		if err != nil {
			s.err = err
			return
		}
		// The container outlives the test that started it; Ryuk reaps it
		// when the test binary exits.
		endpoint, err := c.Endpoint(ctx, "")
		if err != nil {
			_ = c.Terminate(context.Background())
			s.err = err
			return
		}
		s.addr = s.format(endpoint)
	})

	if s.err != nil {
		t.Fatalf("start %s: %v", s.image, s.err)
	}
	return s.addr
}

const pgDSN = "postgres://pipehost:pipehost@%s/pipehost_test?sslmode=disable"

var postgres = &service{
	image: "postgres:16",
	port:  "5432/tcp",
	env: map[string]string{
		"POSTGRES_USER":     "pipehost",
		"POSTGRES_PASSWORD": "pipehost",
		"POSTGRES_DB":       "pipehost_test",
	},
	wait: wait.ForAll(
		wait.ForListeningPort("5432/tcp"),
		wait.ForLog("ready to accept connections"),
		// The log line shows up once during init too; only a query proves
		// the final server is up.
		wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
			return fmt.Sprintf(pgDSN, host+":"+port.Port())
		}).WithQuery("SELECT 1"),
	).WithDeadline(2 * time.Minute),
	format: func(endpoint string) string { return fmt.Sprintf(pgDSN, endpoint) },
}

var mongodb = &service{
	image: "mongo:7",
	port:  "27017/tcp",
	wait: wait.ForAll(
		wait.ForListeningPort("27017/tcp"),
		wait.ForLog("mongod startup complete"),
	),
	format: func(endpoint string) string { return "mongodb://" + endpoint },
}

var redisDB = &service{
	image: "redis:7",
	port:  "6379/tcp",
	wait: wait.ForAll(
		wait.ForListeningPort("6379/tcp"),
		wait.ForLog("Ready to accept connections"),
	),
	format: func(endpoint string) string { return endpoint },
}

// GetPostgresEndpoint returns a DSN for the shared Postgres instance.
func GetPostgresEndpoint(t *testing.T) string { return postgres.address(t) }

// GetMongoURI returns a connection URI for the shared MongoDB instance.
func GetMongoURI(t *testing.T) string { return mongodb.address(t) }

// GetRedisAddress returns host:port of the shared Redis instance.
func GetRedisAddress(t *testing.T) string { return redisDB.address(t) }
