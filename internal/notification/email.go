package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/mail"

	"github.com/resend/resend-go/v2"

	"github.com/habitflow/notifications/internal/ratelimit"
	"github.com/habitflow/notifications/internal/resilience"
)

// EmailProvider is the outbound mail API. Split from the channel so tests can
// substitute a fake for the Resend client.
type EmailProvider interface {
	Send(ctx context.Context, from, to, subject, html, text string) error
}

// ResendProvider sends through Resend.
type ResendProvider struct {
	client *resend.Client
}

func NewResendProvider(apiKey string) *ResendProvider {
	return &ResendProvider{client: resend.NewClient(apiKey)}
}

func (p *ResendProvider) Send(ctx context.Context, from, to, subject, html, text string) error {
	params := &resend.SendEmailRequest{
		From:    from,
		To:      []string{to},
		Subject: subject,
		Html:    html,
		Text:    text,
	}
	if _, err := p.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	return nil
}

// EmailChannel delivers through an EmailProvider behind its own provider-quota
// rate limiter and its own resilience executor. Breaker and limiter state here
// are fully independent of the orchestrator's.
type EmailChannel struct {
	provider EmailProvider
	from     string
	limiter  ratelimit.Limiter
	exec     *resilience.Executor
	logger   *slog.Logger
}

// providerKey scopes the provider quota; one budget for the whole channel.
const providerKey = "provider"

func NewEmailChannel(provider EmailProvider, from string, limiter ratelimit.Limiter, exec *resilience.Executor, logger *slog.Logger) *EmailChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailChannel{
		provider: provider,
		from:     from,
		limiter:  limiter,
		exec:     exec,
		logger:   logger,
	}
}

func (c *EmailChannel) Name() Channel { return ChannelEmail }

// Deliver validates the recipient, spends one unit of provider quota, then
// runs the provider call under the channel's executor. Invalid syntax and
// exhausted quota are permanent for this call; the caller may re-enqueue.
func (c *EmailChannel) Deliver(ctx context.Context, recipient string, msg Message) error {
	if _, err := mail.ParseAddress(recipient); err != nil {
		return PermanentDelivery(ChannelEmail, fmt.Errorf("invalid recipient address: %w", err))
	}

	ok, err := c.limiter.Allow(ctx, providerKey)
	if err != nil {
		return TransientDelivery(ChannelEmail, fmt.Errorf("provider rate limiter: %w", err))
	}
	if !ok {
		return PermanentDelivery(ChannelEmail, errors.New("provider quota exceeded"))
	}

	err = c.exec.Execute(ctx, func(ctx context.Context) error {
		if err := c.provider.Send(ctx, c.from, recipient, msg.Subject, msg.HTML, msg.Text); err != nil {
			return classifyProviderErr(ChannelEmail, err)
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("email delivery failed", "recipient", recipient, "error", err)
		return err
	}
	return nil
}

// classifyProviderErr maps a provider failure to transient or permanent.
// Network errors, timeouts and 5xx retry; 4xx validation rejections do not.
func classifyProviderErr(ch Channel, err error) *DeliveryError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		if pe.StatusCode >= 400 && pe.StatusCode < 500 && pe.StatusCode != 429 {
			return PermanentDelivery(ch, err)
		}
		return TransientDelivery(ch, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return TransientDelivery(ch, err)
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return TransientDelivery(ch, err)
	}

	// Unknown provider failures are treated as transient so a flaky provider
	// still gets the bounded retry budget.
	return TransientDelivery(ch, err)
}
