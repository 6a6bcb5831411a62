package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/layer-3/txguard/core"
	"github.com/layer-3/txguard/ports"
)

// ValidationTopic carries one message per validation decision
const ValidationTopic = "txguard.validation"

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{
		publisher: publisher,
		topic:     ValidationTopic,
	}
}

// PublishValidation publishes a validation event
func (p *WatermillPublisher) PublishValidation(ctx context.Context, event core.ValidationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("account", event.Account)
	if event.ErrorCode != "" {
		msg.Metadata.Set("error_code", string(event.ErrorCode))
	}

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
