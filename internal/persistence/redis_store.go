package persistence

import (
	"context"
	"errors"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/pipehost/pkg/api"
)

// RedisStore is a RunStore and EventStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>run:<id>                => CBOR-encoded runRecord
//	<prefix>idx:all                 => SET of all run IDs
//	<prefix>idx:pipeline:<name>     => SET of run IDs for a given pipeline
//	<prefix>idx:status:<status>     => SET of run IDs for a given status
//	<prefix>events:<id>             => LIST of CBOR-encoded events
//
// Every write of a run is a single MULTI/EXEC transaction.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var (
	_ RunStore   = (*RedisStore)(nil)
	_ EventStore = (*RedisStore)(nil)
)

// NewRedisStore creates a RedisStore.
// prefix is optional but recommended (e.g. "pipehost:").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "pipehost:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

// NewRedis returns a Persistence backed by client.
func NewRedis(client *redis.Client, prefix string) *Persistence {
	s := NewRedisStore(client, prefix)
	return &Persistence{Runs: s, Events: s, Close: client.Close}
}

func (s *RedisStore) keyRun(id string) string {
	return s.prefix + "run:" + id
}

func (s *RedisStore) keyAll() string {
	return s.prefix + "idx:all"
}

func (s *RedisStore) keyPipeline(name string) string {
	return s.prefix + "idx:pipeline:" + name
}

func (s *RedisStore) keyStatus(status api.RunStatus) string {
	return s.prefix + "idx:status:" + string(status)
}

func (s *RedisStore) keyEvents(id string) string {
	return s.prefix + "events:" + id
}

func (s *RedisStore) SaveRun(ctx context.Context, run *api.PipelineRun) error {
	if run == nil {
		return errNilRun
	}
	data, err := encodeRunRecord(run)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, s.keyRun(run.RunID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrRunExists
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.keyAll(), run.RunID)
	pipe.SAdd(ctx, s.keyPipeline(run.PipelineName), run.RunID)
	pipe.SAdd(ctx, s.keyStatus(run.Status), run.RunID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) UpdateRun(ctx context.Context, run *api.PipelineRun) error {
	if run == nil {
		return errNilRun
	}
	prev, err := s.GetRun(ctx, run.RunID)
	if err != nil {
		return err
	}
	data, err := encodeRunRecord(run)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keyRun(run.RunID), data, 0)
	if prev.Status != run.Status {
		pipe.SRem(ctx, s.keyStatus(prev.Status), run.RunID)
	}
	pipe.SAdd(ctx, s.keyStatus(run.Status), run.RunID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetRun(ctx context.Context, runID string) (*api.PipelineRun, error) {
	data, err := s.client.Get(ctx, s.keyRun(runID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, api.ErrRunNotFound
		}
		return nil, err
	}
	return decodeRunRecord(data)
}

func (s *RedisStore) ListRuns(ctx context.Context, filter api.RunFilter) ([]*api.PipelineRun, error) {
	var ids []string
	var err error

	switch {
	case filter.PipelineName != "" && filter.Status != "":
		ids, err = s.client.SInter(ctx,
			s.keyPipeline(filter.PipelineName),
			s.keyStatus(filter.Status),
		).Result()
	case filter.PipelineName != "":
		ids, err = s.client.SMembers(ctx, s.keyPipeline(filter.PipelineName)).Result()
	case filter.Status != "":
		ids, err = s.client.SMembers(ctx, s.keyStatus(filter.Status)).Result()
	default:
		ids, err = s.client.SMembers(ctx, s.keyAll()).Result()
	}
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*api.PipelineRun{}, nil
		}
		return nil, err
	}
	if len(ids) == 0 {
		return []*api.PipelineRun{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.keyRun(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	runs := make([]*api.PipelineRun, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		run, err := decodeRunRecord(data)
		if err != nil {
			return nil, err
		}
		// Indexes may lag the payload; the payload wins.
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		runs = append(runs, run)
	}

	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].RunID < runs[j].RunID
		}
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
	return runs, nil
}

func (s *RedisStore) AppendEvent(ctx context.Context, ev *api.EngineEvent) error {
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	return s.client.RPush(ctx, s.keyEvents(ev.RunID), data).Err()
}

func (s *RedisStore) ListEvents(ctx context.Context, runID string) ([]*api.EngineEvent, error) {
	items, err := s.client.LRange(ctx, s.keyEvents(runID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]*api.EngineEvent, 0, len(items))
	for _, item := range items {
		ev, err := decodeEvent([]byte(item))
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}
