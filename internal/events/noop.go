package events

import "context"

// Noop discards every event. Used when no NATS URL is configured and as a
// test double.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(ctx context.Context, subject string, event any) error {
	return nil
}
