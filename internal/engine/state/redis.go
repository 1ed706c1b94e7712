package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nodeflow-ai/nodeflow/internal/domain/models"
)

const (
	outputKeyPrefix = "nodeflow:state:output:"
	branchKeyPrefix = "nodeflow:state:branch:"
	statusKeyPrefix = "nodeflow:state:status:"

	// Safety net for executions that were never archived.
	stateTTL = 7 * 24 * time.Hour
)

// RedisStore persists execution state in Redis so it survives scheduler
// restarts between suspensions.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) InitExecution(ctx context.Context, execID uuid.UUID, initial map[string]interface{}) error {
	key := statusKeyPrefix + execID.String()
	ok, err := s.client.SetNX(ctx, key, string(models.ExecutionStatusPending), stateTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to init execution state: %w", err)
	}
	if !ok || len(initial) == 0 {
		return nil
	}
	return s.RecordNodeOutput(ctx, execID, "$initial", initial)
}

func (s *RedisStore) RecordNodeOutput(ctx context.Context, execID uuid.UUID, nodeID string, output map[string]interface{}) error {
	buf, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("failed to encode node output: %w", err)
	}
	key := outputKeyPrefix + execID.String()
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, nodeID, buf)
	pipe.Expire(ctx, key, stateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record node output: %w", err)
	}
	return nil
}

func (s *RedisStore) GetNodeOutput(ctx context.Context, execID uuid.UUID, nodeID string) (map[string]interface{}, bool, error) {
	raw, err := s.client.HGet(ctx, outputKeyPrefix+execID.String(), nodeID).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get node output: %w", err)
	}
	var output map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &output); err != nil {
		return nil, false, fmt.Errorf("failed to decode node output: %w", err)
	}
	return output, true, nil
}

func (s *RedisStore) RecordBranchDecision(ctx context.Context, execID uuid.UUID, nodeID string, branches []string) error {
	buf, err := json.Marshal(branches)
	if err != nil {
		return fmt.Errorf("failed to encode branch decision: %w", err)
	}
	key := branchKeyPrefix + execID.String()
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, nodeID, buf)
	pipe.Expire(ctx, key, stateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record branch decision: %w", err)
	}
	return nil
}

func (s *RedisStore) GetBranchDecision(ctx context.Context, execID uuid.UUID, nodeID string) ([]string, bool, error) {
	raw, err := s.client.HGet(ctx, branchKeyPrefix+execID.String(), nodeID).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get branch decision: %w", err)
	}
	var branches []string
	if err := json.Unmarshal([]byte(raw), &branches); err != nil {
		return nil, false, fmt.Errorf("failed to decode branch decision: %w", err)
	}
	return branches, true, nil
}

func (s *RedisStore) UpdateExecutionStatus(ctx context.Context, execID uuid.UUID, status string) error {
	if err := s.client.Set(ctx, statusKeyPrefix+execID.String(), status, stateTTL).Err(); err != nil {
		return fmt.Errorf("failed to update execution status: %w", err)
	}
	return nil
}

func (s *RedisStore) GetExecutionStatus(ctx context.Context, execID uuid.UUID) (string, bool, error) {
	raw, err := s.client.Get(ctx, statusKeyPrefix+execID.String()).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get execution status: %w", err)
	}
	return raw, true, nil
}

func (s *RedisStore) GetExecutionOutput(ctx context.Context, execID uuid.UUID) (map[string]interface{}, error) {
	all, err := s.client.HGetAll(ctx, outputKeyPrefix+execID.String()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get execution output: %w", err)
	}
	result := make(map[string]interface{}, len(all))
	for nodeID, raw := range all {
		if nodeID == "$initial" {
			continue
		}
		var output map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &output); err != nil {
			return nil, fmt.Errorf("failed to decode output for node %s: %w", nodeID, err)
		}
		result[nodeID] = output
	}
	return result, nil
}

func (s *RedisStore) CleanupExecution(ctx context.Context, execID uuid.UUID) error {
	keys := []string{
		outputKeyPrefix + execID.String(),
		branchKeyPrefix + execID.String(),
		statusKeyPrefix + execID.String(),
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to cleanup execution state: %w", err)
	}
	return nil
}
