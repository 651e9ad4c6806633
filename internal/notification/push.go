package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/habitflow/notifications/internal/ratelimit"
	"github.com/habitflow/notifications/internal/resilience"
)

// PushProvider is the mobile/web push gateway (FCM, OneSignal, ...).
type PushProvider interface {
	Push(ctx context.Context, deviceToken, title, body string) error
}

// LogPushProvider stands in until a real push gateway is wired; it records the
// payload at info level and succeeds.
type LogPushProvider struct {
	Logger *slog.Logger
}

func (p *LogPushProvider) Push(ctx context.Context, deviceToken, title, body string) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("push delivered", "device", deviceToken, "title", title)
	return nil
}

// PushChannel mirrors EmailChannel for the push route: its own provider quota
// and its own executor instance.
type PushChannel struct {
	provider PushProvider
	limiter  ratelimit.Limiter
	exec     *resilience.Executor
}

func NewPushChannel(provider PushProvider, limiter ratelimit.Limiter, exec *resilience.Executor) *PushChannel {
	return &PushChannel{provider: provider, limiter: limiter, exec: exec}
}

func (c *PushChannel) Name() Channel { return ChannelPush }

func (c *PushChannel) Deliver(ctx context.Context, recipient string, msg Message) error {
	if recipient == "" {
		return PermanentDelivery(ChannelPush, fmt.Errorf("empty device token"))
	}

	ok, err := c.limiter.Allow(ctx, providerKey)
	if err != nil {
		return TransientDelivery(ChannelPush, fmt.Errorf("provider rate limiter: %w", err))
	}
	if !ok {
		return PermanentDelivery(ChannelPush, fmt.Errorf("provider quota exceeded"))
	}

	return c.exec.Execute(ctx, func(ctx context.Context) error {
		if err := c.provider.Push(ctx, recipient, msg.Subject, msg.Text); err != nil {
			return classifyProviderErr(ChannelPush, err)
		}
		return nil
	})
}
