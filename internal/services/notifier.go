// internal/services/notifier.go
package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Notifier fans delivered notifications out to connected clients over Redis.
// A nil client turns every publish into a no-op.
type Notifier struct {
	rdb *redis.Client
}

func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// UserChannel returns the channel a user's notifications are published on.
func UserChannel(userID uuid.UUID) string {
	return fmt.Sprintf("notifications:user:%s", userID)
}

func (n *Notifier) PublishUser(ctx context.Context, userID uuid.UUID, payload string) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	return n.rdb.Publish(ctx, UserChannel(userID), payload).Err()
}
