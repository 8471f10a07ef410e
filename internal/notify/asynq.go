package notify

import (
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

// TaskTypeChange is the queue task type for change notification delivery.
const TaskTypeChange = "notify:change"

// AsynqSink enqueues change events for the background worker to deliver.
type AsynqSink struct {
	client *asynq.Client
	logger *slog.Logger
}

// NewAsynqSink constructs a sink backed by the given Redis options.
func NewAsynqSink(redisOpts asynq.RedisClientOpt, logger *slog.Logger) *AsynqSink {
	return &AsynqSink{client: asynq.NewClient(redisOpts), logger: logger}
}

// Publish enqueues the event. Enqueue failures are logged and swallowed.
func (s *AsynqSink) Publish(evt ChangeEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		s.logger.Error("notify: marshal event", slog.Any("error", err))
		return
	}
	if _, err := s.client.Enqueue(asynq.NewTask(TaskTypeChange, payload)); err != nil {
		s.logger.Error("notify: enqueue event",
			slog.String("type", string(evt.Type)),
			slog.Any("error", err))
	}
}

// Close releases the underlying client.
func (s *AsynqSink) Close() error {
	return s.client.Close()
}
