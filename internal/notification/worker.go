package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/habitflow/notifications/internal/resilience"
)

// Sender is the orchestrator surface the worker drives.
type Sender interface {
	Send(ctx context.Context, n *Notification) error
}

// TaskQueue re-enqueues delivery tasks for a later attempt. The broker's
// redelivered body is immutable, so the retry count has to travel in a fresh
// publish.
type TaskQueue interface {
	Publish(ctx context.Context, body []byte) error
}

// Worker consumes scheduler-produced delivery tasks from the queue and feeds
// them through the orchestrator. Delivery is at-least-once; a Redis
// idempotency key per task keeps redelivered messages from double-sending.
// Retriable failures republish the task with an incremented retry count; an
// error return dead-letters the message.
type Worker struct {
	sender Sender
	redis  *redis.Client
	tasks  TaskQueue
	logger *slog.Logger
}

const idempotencyTTL = 24 * time.Hour

func NewWorker(sender Sender, redisClient *redis.Client, tasks TaskQueue, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{sender: sender, redis: redisClient, tasks: tasks, logger: logger}
}

// ProcessTask handles one queue message. A nil return acks the message; an
// error return hands it to the dead-letter queue, so only failures no retry
// can fix (validation, permanent delivery, exhausted budget) propagate.
func (w *Worker) ProcessTask(ctx context.Context, body []byte) error {
	var task DeliveryTask
	if err := json.Unmarshal(body, &task); err != nil {
		return fmt.Errorf("unmarshal delivery task: %w", err)
	}

	if task.ID != "" && w.redis != nil {
		key := "notif:sent:" + task.ID
		exists, err := w.redis.Exists(ctx, key).Result()
		if err != nil {
			w.logger.Warn("idempotency check failed, proceeding", "task_id", task.ID, "error", err)
		} else if exists > 0 {
			w.logger.Info("task already processed, skipping", "task_id", task.ID)
			return nil
		}
	}

	n := &Notification{
		UserID:       task.UserID,
		Type:         task.Type,
		Recipient:    task.Recipient,
		Priority:     task.Priority,
		Metadata:     task.Data,
		ScheduledFor: task.ScheduledFor,
	}
	if task.TemplateID != "" {
		if n.Metadata == nil {
			n.Metadata = map[string]string{}
		}
		n.Metadata["template"] = task.TemplateID
	}

	err := w.sender.Send(ctx, n)
	switch {
	case err == nil:
		w.markProcessed(ctx, task.ID)
		return nil
	case errors.Is(err, ErrRateLimited), errors.Is(err, resilience.ErrCircuitOpen):
		// Worth another pass once the window resets or the breaker cools down.
		return w.retryLater(ctx, &task, err)
	default:
		var ve *ValidationError
		var de *DeliveryError
		if errors.As(err, &ve) || (errors.As(err, &de) && de.Permanent()) {
			// Redelivery cannot fix these; dead-letter for inspection.
			w.logger.Error("dead-lettering unprocessable task", "task_id", task.ID, "error", err)
			return err
		}
		return w.retryLater(ctx, &task, err)
	}
}

// retryLater republishes the task with an incremented retry count, or returns
// the cause to dead-letter it once the budget is spent.
func (w *Worker) retryLater(ctx context.Context, task *DeliveryTask, cause error) error {
	if task.MaxRetries > 0 && task.RetryCount+1 >= task.MaxRetries {
		w.logger.Error("task exhausted queue retries, dead-lettering",
			"task_id", task.ID, "retry_count", task.RetryCount, "error", cause)
		return cause
	}
	if w.tasks == nil {
		return cause
	}

	task.RetryCount++
	body, err := json.Marshal(task)
	if err != nil {
		return cause
	}
	if err := w.tasks.Publish(ctx, body); err != nil {
		w.logger.Warn("task republish failed, dead-lettering", "task_id", task.ID, "error", err)
		return cause
	}
	w.logger.Info("task requeued", "task_id", task.ID, "retry_count", task.RetryCount)
	return nil
}

func (w *Worker) markProcessed(ctx context.Context, taskID string) {
	if taskID == "" || w.redis == nil {
		return
	}
	if err := w.redis.Set(ctx, "notif:sent:"+taskID, "1", idempotencyTTL).Err(); err != nil {
		w.logger.Warn("idempotency mark failed", "task_id", taskID, "error", err)
	}
}
