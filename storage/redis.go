package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/songzhibin97/task-scheduler/types"
)

const (
	workflowPrefix = "workflow:"
	runPrefix      = "run:"
)

// ErrNotFound is returned when a requested resource is not found.
var ErrNotFound = errors.New("resource not found")

// RedisStorage is a Redis-backed implementation of the Storage interface.
// Workflows and run reports are stored as JSON values; task handlers do not
// survive the round trip and must be re-attached after loading.
type RedisStorage struct {
	client *redis.Client
}

// RedisOptions extends redis.Options with additional configuration.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	IdleTimeout  time.Duration
}

// NewRedisStorage creates a new RedisStorage instance with configurable options.
func NewRedisStorage(opts RedisOptions) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}

	return &RedisStorage{client: client}, nil
}

// withContextError handles context cancellation for operations that only return an error.
func withContextError(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}

// saveToRedis saves a value to Redis under the given key.
func (s *RedisStorage) saveToRedis(ctx context.Context, key string, value interface{}) error {
	return withContextError(ctx, func() error {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %v", key, err)
		}
		if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
			return fmt.Errorf("failed to set %s in Redis: %v", key, err)
		}
		return nil
	})
}

// getFromRedis retrieves and unmarshals a value from Redis under the given key.
func getFromRedis[T any](ctx context.Context, client *redis.Client, key string) (*T, error) {
	return withContext(ctx, func() (*T, error) {
		data, err := client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: key=%s", ErrNotFound, key)
		} else if err != nil {
			return nil, fmt.Errorf("failed to get %s from Redis: %v", key, err)
		}

		var result T
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %v", key, err)
		}
		return &result, nil
	})
}

// SaveWorkflow saves a workflow to Redis.
func (s *RedisStorage) SaveWorkflow(ctx context.Context, wf *types.Workflow) error {
	if wf == nil || wf.ID == "" {
		return errors.New("workflow ID cannot be empty")
	}
	return s.saveToRedis(ctx, workflowPrefix+wf.ID, wf)
}

// GetWorkflow retrieves a workflow from Redis.
func (s *RedisStorage) GetWorkflow(ctx context.Context, id string) (*types.Workflow, error) {
	return getFromRedis[types.Workflow](ctx, s.client, workflowPrefix+id)
}

// ListWorkflows returns all workflows stored in Redis.
func (s *RedisStorage) ListWorkflows(ctx context.Context) ([]*types.Workflow, error) {
	return withContext(ctx, func() ([]*types.Workflow, error) {
		keys, err := s.client.Keys(ctx, workflowPrefix+"*").Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow keys: %v", err)
		}

		out := make([]*types.Workflow, 0, len(keys))
		for _, key := range keys {
			wf, err := getFromRedis[types.Workflow](ctx, s.client, key)
			if errors.Is(err, ErrNotFound) {
				continue
			} else if err != nil {
				return nil, err
			}
			out = append(out, wf)
		}
		return out, nil
	})
}

// DeleteWorkflow removes a workflow from Redis.
func (s *RedisStorage) DeleteWorkflow(ctx context.Context, id string) (bool, error) {
	return withContext(ctx, func() (bool, error) {
		n, err := s.client.Del(ctx, workflowPrefix+id).Result()
		if err != nil {
			return false, fmt.Errorf("failed to delete %s%s: %v", workflowPrefix, id, err)
		}
		return n > 0, nil
	})
}

// SaveRun saves a run report to Redis.
func (s *RedisStorage) SaveRun(ctx context.Context, report *types.RunReport) error {
	if report == nil {
		return errors.New("report cannot be nil")
	}
	return s.saveToRedis(ctx, fmt.Sprintf("%s%d", runPrefix, report.RunID), report)
}

// GetRun retrieves a run report from Redis.
func (s *RedisStorage) GetRun(ctx context.Context, runID uint64) (*types.RunReport, error) {
	return getFromRedis[types.RunReport](ctx, s.client, fmt.Sprintf("%s%d", runPrefix, runID))
}

// ClearFinishedRuns removes run reports whose workflow finished, keeping only
// reports with no recorded finish time.
func (s *RedisStorage) ClearFinishedRuns(ctx context.Context) error {
	return withContextError(ctx, func() error {
		keys, err := s.client.Keys(ctx, runPrefix+"*").Result()
		if err != nil {
			return fmt.Errorf("failed to scan run keys: %v", err)
		}

		if len(keys) == 0 {
			return nil
		}

		pipe := s.client.Pipeline()
		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			} else if err != nil {
				return fmt.Errorf("failed to get %s: %v", key, err)
			}

			var report types.RunReport
			if err := json.Unmarshal(data, &report); err != nil {
				return fmt.Errorf("failed to unmarshal %s: %v", key, err)
			}

			if report.FinishedAt != 0 {
				pipe.Del(ctx, key)
			}
		}

		_, err = pipe.Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to execute pipeline for deletion: %v", err)
		}
		return nil
	})
}

// Close closes the Redis client connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
