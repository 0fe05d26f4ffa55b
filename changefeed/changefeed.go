// Package changefeed publishes row-level change events over pub/sub so that
// connected clients can refetch state that may have changed underneath them.
package changefeed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tahahasan7/yalla-server/cache"
	"go.uber.org/zap"
)

// Event types mirror the database operation that produced the event.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

// UsersChannel carries profile changes for all users. Clients use it to
// revalidate cached user rows (names, avatars) shown in friend lists.
const UsersChannel = "changes:users"

// Event is one row-level change notification.
type Event struct {
	EventType string      `json:"event_type"`
	Table     string      `json:"table"`
	Old       interface{} `json:"old,omitempty"`
	New       interface{} `json:"new,omitempty"`
}

// FriendshipChannel returns the per-user channel carrying friendship changes
// in which the user is either party.
func FriendshipChannel(userID int64) string {
	return fmt.Sprintf("changes:friendships:%d", userID)
}

// GoalLogChannel returns the per-user channel carrying new progress logs
// from the user's friends.
func GoalLogChannel(userID int64) string {
	return fmt.Sprintf("changes:goal_logs:%d", userID)
}

// Publisher fans out change events to interested pub/sub channels.
type Publisher struct {
	ps     cache.PubSub
	logger *zap.Logger
}

// NewPublisher creates a Publisher over the given pub/sub backend.
func NewPublisher(ps cache.PubSub, logger *zap.Logger) *Publisher {
	return &Publisher{ps: ps, logger: logger}
}

// FriendshipChanged publishes ev to both parties' friendship channels.
// Delivery is best effort; a publish failure is logged, not returned, so
// that the originating write is never rolled back over a notification.
func (p *Publisher) FriendshipChanged(ctx context.Context, userID, friendID int64, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("changefeed marshal failed", zap.Error(err))
		return
	}
	for _, ch := range []string{FriendshipChannel(userID), FriendshipChannel(friendID)} {
		if err := p.ps.Publish(ctx, ch, string(payload)); err != nil {
			p.logger.Warn("changefeed publish failed",
				zap.String("channel", ch), zap.Error(err))
		}
	}
}

// GoalLogged publishes a new progress log to each listed friend's channel.
func (p *Publisher) GoalLogged(ctx context.Context, friendIDs []int64, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("changefeed marshal failed", zap.Error(err))
		return
	}
	for _, id := range friendIDs {
		ch := GoalLogChannel(id)
		if err := p.ps.Publish(ctx, ch, string(payload)); err != nil {
			p.logger.Warn("changefeed publish failed",
				zap.String("channel", ch), zap.Error(err))
		}
	}
}

// UserChanged publishes a profile change to the shared users channel.
func (p *Publisher) UserChanged(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("changefeed marshal failed", zap.Error(err))
		return
	}
	if err := p.ps.Publish(ctx, UsersChannel, string(payload)); err != nil {
		p.logger.Warn("changefeed publish failed",
			zap.String("channel", UsersChannel), zap.Error(err))
	}
}

// Decode parses a raw pub/sub payload back into an Event.
func Decode(payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, fmt.Errorf("changefeed: decode event: %w", err)
	}
	return ev, nil
}
