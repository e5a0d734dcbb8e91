package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"alephauto/pkg/jobs/models"
)

// OverflowStreamKey is the Redis stream OverflowQueue pushes jobs onto and
// reads them back from.
const OverflowStreamKey = "alephauto:jobs:overflow"

const overflowGroup = "alephauto-dispatchers"

// OverflowQueue lets multiple dispatcher processes share backpressure via a
// Redis stream + consumer group (XAdd/XReadGroup/XAck). Engine.CreateJob
// does not use it: a full in-process queue returns a capacity error.
type OverflowQueue struct {
	client *redis.Client
}

func NewOverflowQueue(client *redis.Client) *OverflowQueue {
	return &OverflowQueue{client: client}
}

// EnsureGroup creates the consumer group if absent; BUSYGROUP is tolerated.
func (q *OverflowQueue) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, OverflowStreamKey, overflowGroup, "$").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("ensure overflow group: %w", err)
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// Push serializes job and appends it to the overflow stream.
func (q *OverflowQueue) Push(ctx context.Context, job *models.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal overflow job: %w", err)
	}
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: OverflowStreamKey,
		Values: map[string]interface{}{
			"payload": payload,
			"job_id":  job.ID,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("push to overflow stream: %w", err)
	}
	return nil
}

// Pop blocks up to 2s for the next overflow job for the given consumer
// name. Returns (nil, nil) on timeout — not an error, just nothing ready.
func (q *OverflowQueue) Pop(ctx context.Context, consumer string) (*models.Job, string, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    overflowGroup,
		Consumer: consumer,
		Streams:  []string{OverflowStreamKey, ">"},
		Count:    1,
		Block:    2 * time.Second,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("read overflow stream: %w", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, "", nil
	}

	msg := streams[0].Messages[0]
	raw, ok := msg.Values["payload"].(string)
	if !ok {
		return nil, msg.ID, fmt.Errorf("overflow message %s missing payload", msg.ID)
	}

	var job models.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, msg.ID, fmt.Errorf("unmarshal overflow job: %w", err)
	}
	return &job, msg.ID, nil
}

// Ack acknowledges the message so it is not redelivered.
func (q *OverflowQueue) Ack(ctx context.Context, messageID string) error {
	return q.client.XAck(ctx, OverflowStreamKey, overflowGroup, messageID).Err()
}
