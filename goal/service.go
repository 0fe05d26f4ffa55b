// Package goal owns goals and their photo progress logs, including the
// write-time feed fan-out and streak accounting.
package goal

import (
	"context"
	"errors"
	"strconv"

	"github.com/tahahasan7/yalla-server/cache"
	"github.com/tahahasan7/yalla-server/changefeed"
	"github.com/tahahasan7/yalla-server/feed"
	"github.com/tahahasan7/yalla-server/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when the goal does not exist or is not owned
	// by the caller.
	ErrNotFound = errors.New("goal: not found")
	// ErrInvalidCadence is returned for cadence values other than
	// daily or weekly.
	ErrInvalidCadence = errors.New("goal: cadence must be daily or weekly")
)

func validCadence(c string) bool { return c == "daily" || c == "weekly" }

// Service owns reads and writes of goals and goal logs.
type Service struct {
	db       *gorm.DB
	cache    cache.Cache
	feedPub  *changefeed.Publisher
	logger   *zap.Logger
	feedSize int
}

// NewService creates a goal Service. feedSize caps fanned-out feed lists.
func NewService(db *gorm.DB, c cache.Cache, pub *changefeed.Publisher, logger *zap.Logger, feedSize int) *Service {
	if feedSize <= 0 {
		feedSize = 50
	}
	return &Service{db: db, cache: c, feedPub: pub, logger: logger, feedSize: feedSize}
}

// Create inserts a goal owned by userID.
func (s *Service) Create(ctx context.Context, userID int64, title, description, color, cadence string) (*model.Goal, error) {
	if !validCadence(cadence) {
		return nil, ErrInvalidCadence
	}
	g := &model.Goal{
		UserID:      userID,
		Title:       title,
		Description: description,
		Color:       color,
		Cadence:     cadence,
	}
	if err := s.db.WithContext(ctx).Create(g).Error; err != nil {
		return nil, err
	}
	return g, nil
}

// List returns the user's goals, newest first.
func (s *Service) List(ctx context.Context, userID int64) ([]model.Goal, error) {
	var goals []model.Goal
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&goals).Error
	return goals, err
}

// Get returns one goal, owner-scoped.
func (s *Service) Get(ctx context.Context, userID, goalID int64) (*model.Goal, error) {
	var g model.Goal
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", goalID, userID).
		First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// Update modifies a goal's editable fields, owner-scoped.
func (s *Service) Update(ctx context.Context, userID, goalID int64, title, description, color, cadence string) (*model.Goal, error) {
	if cadence != "" && !validCadence(cadence) {
		return nil, ErrInvalidCadence
	}
	g, err := s.Get(ctx, userID, goalID)
	if err != nil {
		return nil, err
	}
	if title != "" {
		g.Title = title
	}
	if description != "" {
		g.Description = description
	}
	if color != "" {
		g.Color = color
	}
	if cadence != "" {
		g.Cadence = cadence
	}
	if err := s.db.WithContext(ctx).Save(g).Error; err != nil {
		return nil, err
	}
	return g, nil
}

// Delete removes a goal and its logs, owner-scoped.
func (s *Service) Delete(ctx context.Context, userID, goalID int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND user_id = ?", goalID, userID).Delete(&model.Goal{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("goal_id = ?", goalID).Delete(&model.GoalLog{}).Error
	})
}

// Logs returns a goal's progress logs newest first, owner-scoped.
func (s *Service) Logs(ctx context.Context, userID, goalID int64, limit int) ([]model.GoalLog, error) {
	if _, err := s.Get(ctx, userID, goalID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	var logs []model.GoalLog
	err := s.db.WithContext(ctx).
		Where("goal_id = ?", goalID).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// LogProgress records a progress log against the user's goal, fans the
// entry out to every friend's cached feed, publishes a change event, and
// updates the user's streak.
func (s *Service) LogProgress(ctx context.Context, userID, goalID int64, photoKey, caption string) (*model.GoalLog, error) {
	g, err := s.Get(ctx, userID, goalID)
	if err != nil {
		return nil, err
	}

	log := &model.GoalLog{
		GoalID:   goalID,
		UserID:   userID,
		PhotoKey: photoKey,
		Caption:  caption,
	}
	if err := s.db.WithContext(ctx).Create(log).Error; err != nil {
		return nil, err
	}

	var owner model.User
	if err := s.db.WithContext(ctx).First(&owner, userID).Error; err != nil {
		return nil, err
	}

	item := feed.Item{
		LogID:     log.ID,
		UserID:    userID,
		Username:  owner.Username,
		Name:      owner.Name,
		GoalID:    g.ID,
		GoalTitle: g.Title,
		GoalColor: g.Color,
		PhotoKey:  log.PhotoKey,
		Caption:   log.Caption,
		CreatedAt: log.CreatedAt,
	}
	friendIDs, err := s.fanOut(ctx, userID, item)
	if err != nil {
		// The log row is already durable; fan-out failures only delay
		// visibility until the next cache rebuild.
		s.logger.Warn("feed fan-out failed", zap.Int64("user_id", userID), zap.Error(err))
	}

	s.feedPub.GoalLogged(ctx, friendIDs, changefeed.Event{
		EventType: changefeed.EventInsert,
		Table:     "goal_logs",
		New:       item,
	})

	if err := s.updateStreak(ctx, userID); err != nil {
		s.logger.Warn("streak update failed", zap.Int64("user_id", userID), zap.Error(err))
	}
	return log, nil
}

// fanOut pushes the item onto each friend's cached feed list and returns
// the friend IDs for event publication.
func (s *Service) fanOut(ctx context.Context, userID int64, item feed.Item) ([]int64, error) {
	var friendIDs []int64
	err := s.db.WithContext(ctx).Model(&model.Friendship{}).
		Where("user_id = ? AND status = ?", userID, model.FriendshipAccepted).
		Pluck("friend_id", &friendIDs).Error
	if err != nil {
		return nil, err
	}

	raw, err := feed.Encode(item)
	if err != nil {
		return friendIDs, err
	}
	for _, id := range friendIDs {
		key := feed.Key(id)
		if err := s.cache.LPush(ctx, key, raw); err != nil {
			return friendIDs, err
		}
		if err := s.cache.LTrim(ctx, key, 0, int64(s.feedSize-1)); err != nil {
			return friendIDs, err
		}
	}
	return friendIDs, nil
}

func (s *Service) updateStreak(ctx context.Context, userID int64) error {
	streak, err := feed.CurrentStreak(ctx, s.db, userID)
	if err != nil {
		return err
	}
	return s.cache.ZAdd(ctx, feed.StreaksKey, float64(streak), strconv.FormatInt(userID, 10))
}
