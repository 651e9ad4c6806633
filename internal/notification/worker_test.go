package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/habitflow/notifications/internal/resilience"
)

type fakeSender struct {
	calls int
	err   error
	last  *Notification
}

func (f *fakeSender) Send(ctx context.Context, n *Notification) error {
	f.calls++
	f.last = n
	return f.err
}

type fakeTaskQueue struct {
	published [][]byte
	err       error
}

func (f *fakeTaskQueue) Publish(ctx context.Context, body []byte) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, body)
	return nil
}

func taskBody(t *testing.T, task DeliveryTask) []byte {
	t.Helper()
	b, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}
	return b
}

func TestProcessTask(t *testing.T) {
	task := DeliveryTask{
		ID:         "task-1",
		UserID:     "u1",
		Type:       TypeHabitReminder,
		Recipient:  "u1@example.com",
		Data:       map[string]string{"UserName": "Ada"},
		MaxRetries: 5,
	}

	tests := []struct {
		name          string
		sendErr       error
		task          DeliveryTask
		wantErr       bool
		wantRepublish bool
	}{
		{
			name: "success acks",
			task: task,
		},
		{
			name:          "rate limited requeues with bumped count",
			task:          task,
			sendErr:       fmt.Errorf("user u1: %w", ErrRateLimited),
			wantRepublish: true,
		},
		{
			name:          "open breaker requeues",
			task:          task,
			sendErr:       resilience.ErrCircuitOpen,
			wantRepublish: true,
		},
		{
			name:          "transient failure requeues",
			task:          task,
			sendErr:       TransientDelivery(ChannelEmail, errors.New("provider down")),
			wantRepublish: true,
		},
		{
			name:    "validation failure dead-letters",
			task:    task,
			sendErr: &ValidationError{Field: "type", Reason: "unknown"},
			wantErr: true,
		},
		{
			name:    "permanent delivery failure dead-letters",
			task:    task,
			sendErr: PermanentDelivery(ChannelEmail, errors.New("bad recipient")),
			wantErr: true,
		},
		{
			name: "exhausted retry budget dead-letters",
			task: func() DeliveryTask {
				t := task
				t.RetryCount = 4
				return t
			}(),
			sendErr: TransientDelivery(ChannelEmail, errors.New("provider down")),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{err: tt.sendErr}
			queue := &fakeTaskQueue{}
			w := NewWorker(sender, nil, queue, slog.New(slog.DiscardHandler))

			err := w.ProcessTask(context.Background(), taskBody(t, tt.task))
			if (err != nil) != tt.wantErr {
				t.Errorf("ProcessTask() error = %v, wantErr %v", err, tt.wantErr)
			}
			if sender.calls != 1 {
				t.Errorf("sender calls = %d, want 1", sender.calls)
			}
			if got := len(queue.published) > 0; got != tt.wantRepublish {
				t.Fatalf("republished = %v, want %v", got, tt.wantRepublish)
			}
			if tt.wantRepublish {
				var re DeliveryTask
				if err := json.Unmarshal(queue.published[0], &re); err != nil {
					t.Fatalf("unmarshal republished task: %v", err)
				}
				if re.RetryCount != tt.task.RetryCount+1 {
					t.Errorf("republished retry_count = %d, want %d", re.RetryCount, tt.task.RetryCount+1)
				}
			}
		})
	}
}

// The broker redelivers an immutable body, so the retry count only moves
// through republishing. The budget must be spent after MaxRetries passes.
func TestProcessTaskRetryBudgetProgresses(t *testing.T) {
	sender := &fakeSender{err: TransientDelivery(ChannelEmail, errors.New("provider down"))}
	queue := &fakeTaskQueue{}
	w := NewWorker(sender, nil, queue, slog.New(slog.DiscardHandler))

	body := taskBody(t, DeliveryTask{
		ID:         "task-1",
		UserID:     "u1",
		Type:       TypeHabitReminder,
		Recipient:  "u1@example.com",
		MaxRetries: 3,
	})

	attempts := 0
	for {
		attempts++
		if attempts > 10 {
			t.Fatal("retry budget never exhausts")
		}
		if err := w.ProcessTask(context.Background(), body); err != nil {
			break
		}
		body = queue.published[len(queue.published)-1]
	}

	if attempts != 3 {
		t.Fatalf("attempts before dead-letter = %d, want 3", attempts)
	}
	if len(queue.published) != 2 {
		t.Fatalf("republishes = %d, want 2", len(queue.published))
	}
}

func TestProcessTaskRepublishFailureDeadLetters(t *testing.T) {
	cause := TransientDelivery(ChannelEmail, errors.New("provider down"))
	sender := &fakeSender{err: cause}
	queue := &fakeTaskQueue{err: errors.New("broker unavailable")}
	w := NewWorker(sender, nil, queue, slog.New(slog.DiscardHandler))

	err := w.ProcessTask(context.Background(), taskBody(t, DeliveryTask{
		ID: "task-1", UserID: "u1", Type: TypeHabitReminder, Recipient: "u1@example.com", MaxRetries: 5,
	}))
	if !errors.Is(err, cause) {
		t.Fatalf("ProcessTask() error = %v, want the delivery cause", err)
	}
}

func TestProcessTaskWithoutQueueDeadLetters(t *testing.T) {
	sender := &fakeSender{err: TransientDelivery(ChannelEmail, errors.New("provider down"))}
	w := NewWorker(sender, nil, nil, slog.New(slog.DiscardHandler))

	err := w.ProcessTask(context.Background(), taskBody(t, DeliveryTask{
		ID: "task-1", UserID: "u1", Type: TypeHabitReminder, Recipient: "u1@example.com", MaxRetries: 5,
	}))
	if err == nil {
		t.Fatal("ProcessTask() error = nil, want dead-letter without a requeue path")
	}
}

func TestProcessTaskMalformedBody(t *testing.T) {
	sender := &fakeSender{}
	w := NewWorker(sender, nil, &fakeTaskQueue{}, slog.New(slog.DiscardHandler))

	if err := w.ProcessTask(context.Background(), []byte("{not json")); err == nil {
		t.Fatal("ProcessTask() error = nil, want unmarshal failure")
	}
	if sender.calls != 0 {
		t.Errorf("sender calls = %d, want 0", sender.calls)
	}
}

func TestProcessTaskCarriesTemplateID(t *testing.T) {
	sender := &fakeSender{}
	w := NewWorker(sender, nil, &fakeTaskQueue{}, slog.New(slog.DiscardHandler))

	body := taskBody(t, DeliveryTask{
		ID:         "task-2",
		UserID:     "u1",
		Type:       TypeStreakWarning,
		Recipient:  "u1@example.com",
		TemplateID: "streak_warning",
	})
	if err := w.ProcessTask(context.Background(), body); err != nil {
		t.Fatalf("ProcessTask() error = %v", err)
	}
	if sender.last == nil || sender.last.Metadata["template"] != "streak_warning" {
		t.Errorf("template not carried into metadata: %+v", sender.last)
	}
}
