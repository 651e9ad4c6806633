package notification

import (
	"context"
	"fmt"
)

// Channel identifies a concrete delivery mechanism.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
)

// Message is the rendered payload handed to a channel.
type Message struct {
	Subject string
	Text    string
	HTML    string
}

// DeliveryChannel sends a rendered payload to an external provider. Each
// implementation carries its own provider-scoped rate limiter and resilience
// executor, independent of the orchestrator's.
type DeliveryChannel interface {
	Name() Channel
	Deliver(ctx context.Context, recipient string, msg Message) error
}

// defaultRoutes maps each notification type to the channel that delivers it.
var defaultRoutes = map[NotificationType]Channel{
	TypeHabitReminder:     ChannelEmail,
	TypeStreakAchievement: ChannelEmail,
	TypeWeeklySummary:     ChannelEmail,
	TypeStreakWarning:     ChannelPush,
	TypeSystemAlert:       ChannelEmail,
}

// ChannelForType returns the channel a type routes to.
func ChannelForType(t NotificationType) Channel {
	if ch, ok := defaultRoutes[t]; ok {
		return ch
	}
	return ChannelEmail
}

// Registry holds the registered delivery channels and resolves the one a
// notification type routes to. Routing is fixed at construction time.
type Registry struct {
	channels map[Channel]DeliveryChannel
}

func NewRegistry() *Registry {
	return &Registry{channels: make(map[Channel]DeliveryChannel)}
}

func (r *Registry) Register(c DeliveryChannel) {
	r.channels[c.Name()] = c
}

// ForType resolves the delivery channel for a notification type.
func (r *Registry) ForType(t NotificationType) (DeliveryChannel, error) {
	ch, ok := r.channels[ChannelForType(t)]
	if !ok {
		return nil, fmt.Errorf("no channel registered for type %s", t)
	}
	return ch, nil
}
