package ports

import (
	"context"

	"github.com/layer-3/txguard/core"
)

// EventPublisher publishes validation decisions to other services
type EventPublisher interface {
	PublishValidation(ctx context.Context, event core.ValidationEvent) error
}
