package taskstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/you-humble/mediascribe/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type redisTaskStore struct {
	rdb redis.Cmdable
}

func NewRedisTaskStore(rdb redis.Cmdable) *redisTaskStore {
	return &redisTaskStore{rdb: rdb}
}

type CreateTaskParams struct {
	Language string
}

// CreateTask writes a new pending task row. The upload service is the
// normal caller; the worker never creates tasks.
func (s *redisTaskStore) CreateTask(ctx context.Context, p CreateTaskParams) (string, error) {
	taskID := uuid.NewString()
	now := time.Now()

	pipe := s.rdb.TxPipeline()

	pipe.HSet(ctx, taskKey(taskID), map[string]interface{}{
		"id":                        taskID,
		"status":                    string(domain.StatusPending),
		"language":                  p.Language,
		"progress":                  "",
		"result_ref":                "",
		"processing_correlation_id": "",
		"error":                     "",
		"created_at":                now.UnixNano(),
		"updated_at":                now.UnixNano(),
	})
	pipe.ZAdd(ctx, tasksByCreatedKey(), redis.Z{
		Score:  float64(now.Unix()),
		Member: taskID,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("redis pipeline CreateTask: %w", err)
	}

	return taskID, nil
}

func (s *redisTaskStore) AddChunk(ctx context.Context, c domain.Chunk) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal chunk: %w", err)
	}

	if err := s.rdb.RPush(ctx, chunksKey(c.TaskID), data).Err(); err != nil {
		return fmt.Errorf("redis RPush chunk: %w", err)
	}
	return nil
}

func (s *redisTaskStore) Task(ctx context.Context, id string) (domain.Task, error) {
	res, err := s.rdb.HGetAll(ctx, taskKey(id)).Result()
	if err != nil {
		return domain.Task{}, fmt.Errorf("redis HGetAll task: %w", err)
	}
	if len(res) == 0 {
		return domain.Task{}, domain.ErrTaskNotFound
	}

	t := domain.Task{
		ID:           id,
		Status:       domain.TaskStatus(res["status"]),
		Language:     res["language"],
		Progress:     res["progress"],
		ResultRef:    res["result_ref"],
		ProcessingID: res["processing_correlation_id"],
		Error:        res["error"],
	}

	if v := res["created_at"]; v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			t.CreatedAt = time.Unix(0, n)
		}
	}
	if v := res["updated_at"]; v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			t.UpdatedAt = time.Unix(0, n)
		}
	}

	return t, nil
}

// Chunks returns the task's chunk rows ordered by explicit index, then
// upload time.
func (s *redisTaskStore) Chunks(ctx context.Context, taskID string) ([]domain.Chunk, error) {
	raw, err := s.rdb.LRange(ctx, chunksKey(taskID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis LRange chunks: %w", err)
	}

	chunks := make([]domain.Chunk, 0, len(raw))
	for _, item := range raw {
		var c domain.Chunk
		if err := json.Unmarshal([]byte(item), &c); err != nil {
			return nil, fmt.Errorf("unmarshal chunk row: %w", err)
		}
		chunks = append(chunks, c)
	}

	domain.SortChunks(chunks)
	return chunks, nil
}

func (s *redisTaskStore) SetStatus(ctx context.Context, id string, status domain.TaskStatus) error {
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, taskKey(id), "status", string(status))
	pipe.HSet(ctx, taskKey(id), "updated_at", time.Now().UnixNano())

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis SetStatus: %w", err)
	}
	return nil
}

func (s *redisTaskStore) SetProgress(ctx context.Context, id string, progress string) error {
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, taskKey(id), "progress", progress)
	pipe.HSet(ctx, taskKey(id), "updated_at", time.Now().UnixNano())

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis SetProgress: %w", err)
	}
	return nil
}

// SetResult publishes the transcript location and flips the task to
// completed. Only the claim holder may call it.
func (s *redisTaskStore) SetResult(ctx context.Context, id string, resultURL string) error {
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, taskKey(id), "result_ref", resultURL)
	pipe.HSet(ctx, taskKey(id), "status", string(domain.StatusCompleted))
	pipe.HSet(ctx, taskKey(id), "error", "")
	pipe.HSet(ctx, taskKey(id), "updated_at", time.Now().UnixNano())

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis SetResult: %w", err)
	}
	return nil
}

// PendingTaskIDs lists tasks whose result reference is unset and which
// have at least one chunk, oldest first. Feeds the poll trigger.
func (s *redisTaskStore) PendingTaskIDs(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.ZRange(ctx, tasksByCreatedKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ZRange tasks: %w", err)
	}

	var pending []string
	for _, id := range ids {
		ref, err := s.rdb.HGet(ctx, taskKey(id), "result_ref").Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis HGet result_ref: %w", err)
		}
		if ref != "" {
			continue
		}

		n, err := s.rdb.LLen(ctx, chunksKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("redis LLen chunks: %w", err)
		}
		if n == 0 {
			continue
		}

		pending = append(pending, id)
	}

	return pending, nil
}

func (s *redisTaskStore) SaveSegmentText(ctx context.Context, id string, index, total int, text string) error {
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, textsKey(id), "total", total)
	pipe.HSet(ctx, textsKey(id), strconv.Itoa(index), text)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis SaveSegmentText: %w", err)
	}
	return nil
}

func (s *redisTaskStore) SegmentTexts(ctx context.Context, id string) (int, map[int]string, error) {
	res, err := s.rdb.HGetAll(ctx, textsKey(id)).Result()
	if err != nil {
		return 0, nil, fmt.Errorf("redis HGetAll segment texts: %w", err)
	}

	total := 0
	texts := make(map[int]string, len(res))
	for field, value := range res {
		if field == "total" {
			if n, err := strconv.Atoi(value); err == nil {
				total = n
			}
			continue
		}
		if idx, err := strconv.Atoi(field); err == nil {
			texts[idx] = value
		}
	}

	return total, texts, nil
}

func (s *redisTaskStore) DeleteSegmentTexts(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, textsKey(id)).Err(); err != nil {
		return fmt.Errorf("redis Del segment texts: %w", err)
	}
	return nil
}

func (s *redisTaskStore) DeleteChunks(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, chunksKey(id)).Err(); err != nil {
		return fmt.Errorf("redis Del chunks: %w", err)
	}
	return nil
}

func taskKey(id string) string {
	return "task:" + id
}

func chunksKey(id string) string {
	return "task:" + id + ":chunks"
}

func textsKey(id string) string {
	return "task:" + id + ":texts"
}

func tasksByCreatedKey() string {
	return "tasks:by_created"
}
