package messaging

import (
	"context"
)

// ChannelPublisher wraps every event in a Message and sends it to a single
// broker channel so subscribers can switch on Type.
type ChannelPublisher struct {
	broker  Broker
	channel string
}

func NewChannelPublisher(broker Broker, channel string) *ChannelPublisher {
	return &ChannelPublisher{broker: broker, channel: channel}
}

func (p *ChannelPublisher) Publish(ctx context.Context, eventType string, payload interface{}) error {
	return p.broker.Publish(ctx, p.channel, Message{
		Type:    eventType,
		Payload: payload,
	})
}
