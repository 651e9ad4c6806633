package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/habitflow/notifications/internal/ratelimit"
	"github.com/habitflow/notifications/internal/resilience"
)

var tracer = otel.Tracer("github.com/habitflow/notifications/internal/notification")

// Service orchestrates the send pipeline:
// validate -> business rate limit -> breaker -> preference gate -> channel
// dispatch -> status update -> cache invalidate. The only silently absorbed
// outcome is a preference-gate suppression, which resolves the notification to
// CANCELLED and returns nil.
type Service struct {
	store    Store
	cache    Cache
	registry *Registry
	limiter  ratelimit.Limiter
	exec     *resilience.Executor
	events   Publisher
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(store Store, cache Cache, registry *Registry, limiter ratelimit.Limiter, exec *resilience.Executor, events Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		cache:    cache,
		registry: registry,
		limiter:  limiter,
		exec:     exec,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

// Send runs one notification through the full pipeline. Returned error kinds:
// *ValidationError, ErrRateLimited, resilience.ErrCircuitOpen,
// *DeliveryError, or a wrapped persistence error.
func (s *Service) Send(ctx context.Context, n *Notification) error {
	ctx, span := tracer.Start(ctx, "notification.Send", trace.WithAttributes(
		attribute.String("notification.type", string(n.Type)),
		attribute.String("user.id", n.UserID),
	))
	defer span.End()
	timer := time.Now()
	defer func() { deliveryLatency.Observe(time.Since(timer).Seconds()) }()

	if err := validateSend(n); err != nil {
		return err
	}

	allowed, err := s.limiter.Allow(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("business rate limiter for user %s: %w", n.UserID, err)
	}
	if !allowed {
		rateLimitedTotal.Inc()
		s.logger.Warn("send rate limited", "user_id", n.UserID, "type", n.Type)
		return fmt.Errorf("user %s: %w", n.UserID, ErrRateLimited)
	}

	if n.ID == "" {
		if err := s.store.SaveNotification(ctx, n); err != nil {
			return fmt.Errorf("persist notification for user %s: %w", n.UserID, err)
		}
		s.cache.Invalidate(ctx, n.UserID)
	}

	var (
		suppressed bool
		channel    Channel
	)
	execErr := s.exec.Execute(ctx, func(ctx context.Context) error {
		pref, err := s.store.Preference(ctx, n.UserID)
		if err != nil {
			return resilience.Permanent(fmt.Errorf("load preference: %w", err))
		}
		if pref == nil {
			pref = DefaultPreference(n.UserID)
		}

		if !Permits(pref, n.Type, n.ScheduledFor) {
			suppressed = true
			return nil
		}

		ch, err := s.registry.ForType(n.Type)
		if err != nil {
			return resilience.Permanent(err)
		}
		channel = ch.Name()

		msg, err := s.buildMessage(n)
		if err != nil {
			return resilience.Permanent(fmt.Errorf("render payload: %w", err))
		}

		n.Status = StatusRetrying
		if err := ch.Deliver(ctx, n.Recipient, msg); err != nil {
			n.RetryCount++
			// The channel has already spent its own retry budget; the
			// orchestrator's executor only books the failure against the
			// business-level breaker.
			return resilience.Permanent(err)
		}
		return nil
	})

	switch {
	case suppressed:
		suppressedTotal.Inc()
		s.finish(ctx, n, StatusCancelled)
		s.publishOutcome(ctx, EventSuppressed, n, channel, nil)
		s.logger.Info("send suppressed by preferences", "user_id", n.UserID, "notification_id", n.ID, "type", n.Type)
		return nil
	case execErr == nil:
		s.finish(ctx, n, StatusSent)
		s.publishOutcome(ctx, EventSent, n, channel, nil)
		s.logger.Info("notification sent", "user_id", n.UserID, "notification_id", n.ID, "channel", channel)
		return nil
	case errors.Is(execErr, resilience.ErrCircuitOpen):
		breakerRejectedTotal.Inc()
		s.logger.Warn("send rejected by open breaker", "user_id", n.UserID, "notification_id", n.ID)
		return execErr
	default:
		failedTotal.WithLabelValues(string(channel), failureKind(execErr)).Inc()
		s.finish(ctx, n, StatusFailed)
		s.publishOutcome(ctx, EventFailed, n, channel, execErr)
		s.logger.Error("notification failed",
			"user_id", n.UserID,
			"notification_id", n.ID,
			"channel", channel,
			"retry_count", n.RetryCount,
			"error", execErr,
		)
		return fmt.Errorf("notification %s for user %s via %s: %w", n.ID, n.UserID, channel, execErr)
	}
}

// UpdatePreferences validates and persists a preference record, then drops the
// user's cached list.
func (s *Service) UpdatePreferences(ctx context.Context, p *Preference) error {
	if err := ValidatePreference(p); err != nil {
		return err
	}
	if err := s.store.SavePreference(ctx, p); err != nil {
		return fmt.Errorf("persist preference for user %s: %w", p.UserID, err)
	}
	s.cache.Invalidate(ctx, p.UserID)
	s.logger.Info("preferences updated", "user_id", p.UserID, "types", len(p.Types))
	return nil
}

// UserNotifications reads through the cache: hit returns the cached list, a
// miss loads from the store and repopulates with the cache TTL.
func (s *Service) UserNotifications(ctx context.Context, userID string) ([]*Notification, error) {
	if userID == "" {
		return nil, &ValidationError{Field: "user_id", Reason: "required"}
	}

	if list, ok := s.cache.Get(ctx, userID); ok {
		return list, nil
	}

	list, err := s.store.NotificationsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load notifications for user %s: %w", userID, err)
	}
	s.cache.Set(ctx, userID, list)
	return list, nil
}

func validateSend(n *Notification) error {
	if n == nil {
		return &ValidationError{Field: "notification", Reason: "missing"}
	}
	if n.UserID == "" {
		return &ValidationError{Field: "user_id", Reason: "required"}
	}
	if n.Type == "" {
		return &ValidationError{Field: "type", Reason: "required"}
	}
	if !n.Type.Valid() {
		return &ValidationError{Field: "type", Reason: "unknown type " + string(n.Type)}
	}
	if n.Status.Terminal() {
		return &ValidationError{Field: "status", Reason: "already terminal"}
	}
	return nil
}

// buildMessage renders the payload: an explicit Title/Message pair wins,
// otherwise the type's template is rendered with the metadata as data. A
// metadata["template"] reference overrides the default template.
func (s *Service) buildMessage(n *Notification) (Message, error) {
	if n.Title != "" || n.Message != "" {
		return Message{Subject: n.Title, Text: n.Message, HTML: n.Message}, nil
	}
	templateID := n.Metadata["template"]
	if templateID == "" {
		templateID = TemplateForType(n.Type)
	}
	return RenderTemplate(templateID, n.Metadata)
}

// finish records the terminal status and invalidates the user's cached list.
// Both happen on success and on failure.
func (s *Service) finish(ctx context.Context, n *Notification, status Status) {
	n.Status = status
	n.UpdatedAt = s.now().UTC()
	if status == StatusSent {
		sent := n.UpdatedAt
		n.SentAt = &sent
		sentTotal.WithLabelValues(string(ChannelForType(n.Type))).Inc()
	}
	if err := s.store.UpdateStatus(ctx, n.ID, status, n.RetryCount); err != nil {
		// The send outcome stands; a failed bookkeeping write is logged, not
		// surfaced over a successful delivery.
		s.logger.Error("status update failed", "notification_id", n.ID, "status", status, "error", err)
	}
	s.cache.Invalidate(ctx, n.UserID)
}

func (s *Service) publishOutcome(ctx context.Context, t EventType, n *Notification, ch Channel, cause error) {
	if s.events == nil {
		return
	}
	payload := OutcomePayload{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Type:           n.Type,
		Channel:        ch,
		RetryCount:     n.RetryCount,
		At:             s.now().UTC(),
	}
	if cause != nil {
		payload.Error = cause.Error()
	}
	event, err := NewEvent(t, payload)
	if err != nil {
		s.logger.Warn("outcome event encode failed", "notification_id", n.ID, "error", err)
		return
	}
	raw, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("outcome event encode failed", "notification_id", n.ID, "error", err)
		return
	}
	if err := s.events.Publish(ctx, n.UserID, raw); err != nil {
		s.logger.Warn("outcome event publish failed", "notification_id", n.ID, "error", err)
	}
}

func failureKind(err error) string {
	var de *DeliveryError
	if errors.As(err, &de) {
		return string(de.Kind)
	}
	return "internal"
}
