// Package feed serves each user's friends-activity feed. The hot path is a
// cache list fanned out at write time; the database is the fallback and the
// source for repopulation.
package feed

import (
	"encoding/json"
	"fmt"
	"time"
)

// Item is one feed entry: a friend's progress log enriched with the fields
// the client renders directly.
type Item struct {
	LogID     int64     `json:"log_id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	GoalID    int64     `json:"goal_id"`
	GoalTitle string    `json:"goal_title"`
	GoalColor string    `json:"goal_color"`
	PhotoKey  string    `json:"photo_key"`
	Caption   string    `json:"caption"`
	CreatedAt time.Time `json:"created_at"`
}

// Key returns the cache list key holding userID's feed.
func Key(userID int64) string {
	return fmt.Sprintf("feed:%d", userID)
}

// Encode marshals an item for cache storage.
func Encode(it Item) (string, error) {
	b, err := json.Marshal(it)
	if err != nil {
		return "", fmt.Errorf("feed: encode item: %w", err)
	}
	return string(b), nil
}

// DecodeItem unmarshals a cached feed entry.
func DecodeItem(raw string) (Item, error) {
	var it Item
	if err := json.Unmarshal([]byte(raw), &it); err != nil {
		return Item{}, fmt.Errorf("feed: decode item: %w", err)
	}
	return it, nil
}
