package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/stocklane/stocklane/internal/notify"
)

// ChangeChannel is the Redis pub/sub channel change events fan out on.
const ChangeChannel = "stocklane:changes"

// ChangeDeliveryJob relays queued change events to the Redis pub/sub channel
// that realtime consumers subscribe to.
type ChangeDeliveryJob struct {
	redis  *redis.Client
	logger *slog.Logger
}

// NewChangeDeliveryJob constructs the delivery job.
func NewChangeDeliveryJob(client *redis.Client, logger *slog.Logger) *ChangeDeliveryJob {
	return &ChangeDeliveryJob{redis: client, logger: logger}
}

// Handle processes one queued change event.
func (j *ChangeDeliveryJob) Handle(ctx context.Context, task *asynq.Task) error {
	var evt notify.ChangeEvent
	if err := json.Unmarshal(task.Payload(), &evt); err != nil {
		j.logger.Error("decode change event", slog.Any("error", err))
		// Malformed payloads never succeed on retry.
		return nil
	}
	if err := j.redis.Publish(ctx, ChangeChannel, task.Payload()).Err(); err != nil {
		return err
	}
	j.logger.Info("change event delivered",
		slog.String("type", string(evt.Type)),
		slog.String("business", evt.BusinessID.String()))
	return nil
}
