// Package redis implements fleet.TaskQueue as a Redis list of JSON sub-tasks.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/crawler-fleet/internal/fleet"
)

// deadLetterSuffix names the list that keeps payloads Pop could not decode.
const deadLetterSuffix = ":dead"

// Queue pushes with RPUSH and pops with BLPOP so tasks run in enqueue order.
type Queue struct {
	client *goredis.Client
	name   string
}

// New builds a Queue on the named list.
func New(client *goredis.Client, name string) (*Queue, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if name == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	return &Queue{client: client, name: name}, nil
}

// Push appends tasks in a single RPUSH.
func (q *Queue) Push(ctx context.Context, tasks ...fleet.SubTask) error {
	if len(tasks) == 0 {
		return nil
	}
	values := make([]any, 0, len(tasks))
	for _, task := range tasks {
		data, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("marshal task %s: %w", task.ID, err)
		}
		values = append(values, data)
	}
	if err := q.client.RPush(ctx, q.name, values...).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", q.name, err)
	}
	return nil
}

// Pop blocks up to timeout for the head of the list.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (fleet.SubTask, error) {
	res, err := q.client.BLPop(ctx, timeout, q.name).Result()
	if errors.Is(err, goredis.Nil) {
		return fleet.SubTask{}, fleet.ErrQueueEmpty
	}
	if err != nil {
		return fleet.SubTask{}, fmt.Errorf("blpop %s: %w", q.name, err)
	}
	if len(res) != 2 {
		return fleet.SubTask{}, fmt.Errorf("blpop %s: unexpected reply %v", q.name, res)
	}
	var task fleet.SubTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		if dlErr := q.client.RPush(ctx, q.DeadLetter(), res[1]).Err(); dlErr != nil {
			return fleet.SubTask{}, fmt.Errorf("decode task %q: %w: %w (dead-letter push: %v)", res[1], fleet.ErrMalformedTask, err, dlErr)
		}
		return fleet.SubTask{}, fmt.Errorf("decode task %q: %w: %w", res[1], fleet.ErrMalformedTask, err)
	}
	return task, nil
}

// DeadLetter is the list that receives undecodable payloads.
func (q *Queue) DeadLetter() string {
	return q.name + deadLetterSuffix
}

// Len returns LLEN of the list.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.name).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", q.name, err)
	}
	return n, nil
}
