package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis implementation of Store[S].
//
// Run records are stored as JSON strings under one key per run, and
// checkpoint logs as Redis lists appended with RPUSH, which preserves
// the append-only creation order the runtime relies on.
//
// Key layout (with the default prefix "stepflow:"):
//
//	stepflow:run:<runID>  - JSON-encoded run record
//	stepflow:cp:<runID>   - list of JSON-encoded checkpoints
//
// Designed for deployments that already run Redis for queues or
// caching and want run durability without a relational database.
// Retention is the operator's concern; the store never expires keys.
//
// Type parameter S is the state type to persist (must be JSON-serializable).
type RedisStore[S any] struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed store on an existing client.
//
// The prefix namespaces all keys; pass "" for the default "stepflow:".
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := NewRedisStore[MyState](client, "")
func NewRedisStore[S any](client *redis.Client, prefix string) *RedisStore[S] {
	if prefix == "" {
		prefix = "stepflow:"
	}
	return &RedisStore[S]{
		client: client,
		prefix: prefix,
	}
}

func (r *RedisStore[S]) runKey(runID string) string {
	return r.prefix + "run:" + runID
}

func (r *RedisStore[S]) checkpointKey(runID string) string {
	return r.prefix + "cp:" + runID
}

// SaveRun inserts or replaces the run record.
func (r *RedisStore[S]) SaveRun(ctx context.Context, run Run[S]) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	if err := r.client.Set(ctx, r.runKey(run.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// GetRun retrieves a run record by ID.
//
// Returns ErrNotFound if the run doesn't exist.
func (r *RedisStore[S]) GetRun(ctx context.Context, runID string) (Run[S], error) {
	var zero Run[S]

	data, err := r.client.Get(ctx, r.runKey(runID)).Bytes()
	if err == redis.Nil {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("failed to load run: %w", err)
	}

	var run Run[S]
	if err := json.Unmarshal(data, &run); err != nil {
		return zero, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return run, nil
}

// AppendCheckpoint appends a checkpoint to the run's log via RPUSH.
func (r *RedisStore[S]) AppendCheckpoint(ctx context.Context, runID string, cp Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	if err := r.client.RPush(ctx, r.checkpointKey(runID), data).Err(); err != nil {
		return fmt.Errorf("failed to append checkpoint: %w", err)
	}
	return nil
}

// ListCheckpoints returns the run's checkpoint log in creation order.
func (r *RedisStore[S]) ListCheckpoints(ctx context.Context, runID string) ([]Checkpoint, error) {
	entries, err := r.client.LRange(ctx, r.checkpointKey(runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	var result []Checkpoint
	for _, entry := range entries {
		var cp Checkpoint
		if err := json.Unmarshal([]byte(entry), &cp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
		}
		result = append(result, cp)
	}
	return result, nil
}

// LatestForStep returns the most recently appended checkpoint for a step.
//
// Returns ErrNotFound if the step has no checkpoints.
func (r *RedisStore[S]) LatestForStep(ctx context.Context, runID, stepID string) (Checkpoint, error) {
	var zero Checkpoint

	log, err := r.ListCheckpoints(ctx, runID)
	if err != nil {
		return zero, err
	}

	for i := len(log) - 1; i >= 0; i-- {
		if log[i].StepID == stepID {
			return log[i], nil
		}
	}
	return zero, ErrNotFound
}

// Ping verifies the Redis connection is alive.
func (r *RedisStore[S]) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
