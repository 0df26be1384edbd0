package bus

import (
	"context"

	"github.com/spriteforge/spriteforge-backend/internal/realtime"
)

// Bus fans broadcast messages out across server instances. Delivery is
// best-effort; there is no persisted outbox.
type Bus interface {
	Publish(ctx context.Context, msg realtime.Message) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.Message)) error
	Close() error
}
