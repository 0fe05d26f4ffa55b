package feed

import (
	"context"
	"strconv"
	"time"

	"github.com/tahahasan7/yalla-server/cache"
	"github.com/tahahasan7/yalla-server/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StreaksKey is the zset holding current streak length per user.
const StreaksKey = "streaks"

// LeaderboardEntry is one row of the streak leaderboard.
type LeaderboardEntry struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Streak   int    `json:"streak"`
}

// Service reads feeds and the streak leaderboard.
type Service struct {
	db     *gorm.DB
	cache  cache.Cache
	logger *zap.Logger
	size   int
}

// NewService creates a feed Service. size caps feed length (default 50).
func NewService(db *gorm.DB, c cache.Cache, logger *zap.Logger, size int) *Service {
	if size <= 0 {
		size = 50
	}
	return &Service{db: db, cache: c, logger: logger, size: size}
}

// Size returns the configured feed length cap.
func (s *Service) Size() int { return s.size }

// Recent returns the viewer's feed, newest first. The cache list is the hot
// path; on a miss the feed is rebuilt from friends' logs in the database and
// the cache repopulated.
func (s *Service) Recent(ctx context.Context, userID int64, limit int) ([]Item, error) {
	if limit <= 0 || limit > s.size {
		limit = s.size
	}

	raws, err := s.cache.LRange(ctx, Key(userID), 0, int64(limit-1))
	if err == nil && len(raws) > 0 {
		items := make([]Item, 0, len(raws))
		for _, raw := range raws {
			it, err := DecodeItem(raw)
			if err != nil {
				s.logger.Warn("dropping malformed feed entry", zap.Error(err))
				continue
			}
			items = append(items, it)
		}
		if len(items) > 0 {
			return items, nil
		}
	}

	items, err := s.rebuild(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(items) > limit {
		return items[:limit], nil
	}
	return items, nil
}

// rebuild reads friends' logs from the database and repopulates the cache
// list so the next read hits the hot path.
func (s *Service) rebuild(ctx context.Context, userID int64) ([]Item, error) {
	var friendIDs []int64
	err := s.db.WithContext(ctx).Model(&model.Friendship{}).
		Where("friend_id = ? AND status = ?", userID, model.FriendshipAccepted).
		Pluck("user_id", &friendIDs).Error
	if err != nil {
		return nil, err
	}
	if len(friendIDs) == 0 {
		return []Item{}, nil
	}

	type logRow struct {
		model.GoalLog
		Username  string
		Name      string
		GoalTitle string
		GoalColor string
	}
	var rows []logRow
	err = s.db.WithContext(ctx).Model(&model.GoalLog{}).
		Select("goal_logs.*, users.username, users.name, goals.title AS goal_title, goals.color AS goal_color").
		Joins("JOIN users ON users.id = goal_logs.user_id").
		Joins("JOIN goals ON goals.id = goal_logs.goal_id").
		Where("goal_logs.user_id IN ?", friendIDs).
		Order("goal_logs.created_at DESC").
		Limit(s.size).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	items := make([]Item, len(rows))
	for i, r := range rows {
		items[i] = Item{
			LogID:     r.ID,
			UserID:    r.GoalLog.UserID,
			Username:  r.Username,
			Name:      r.Name,
			GoalID:    r.GoalID,
			GoalTitle: r.GoalTitle,
			GoalColor: r.GoalColor,
			PhotoKey:  r.PhotoKey,
			Caption:   r.Caption,
			CreatedAt: r.GoalLog.CreatedAt,
		}
	}

	// Repopulate oldest-first so LPush leaves the newest at index 0.
	key := Key(userID)
	for i := len(items) - 1; i >= 0; i-- {
		raw, err := Encode(items[i])
		if err != nil {
			continue
		}
		if err := s.cache.LPush(ctx, key, raw); err != nil {
			s.logger.Warn("feed repopulation failed", zap.Error(err))
			break
		}
	}
	if err := s.cache.LTrim(ctx, key, 0, int64(s.size-1)); err != nil {
		s.logger.Warn("feed trim failed", zap.Error(err))
	}
	return items, nil
}

// Leaderboard returns the top streaks, names enriched from the database.
func (s *Service) Leaderboard(ctx context.Context, top int) ([]LeaderboardEntry, error) {
	if top <= 0 {
		top = 10
	}
	members, err := s.cache.ZRevRange(ctx, StreaksKey, 0, int64(top-1))
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return []LeaderboardEntry{}, nil
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	var users []model.User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	byID := make(map[int64]model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	entries := make([]LeaderboardEntry, 0, len(ids))
	for _, id := range ids {
		u, ok := byID[id]
		if !ok {
			continue
		}
		score, err := s.cache.ZScore(ctx, StreaksKey, strconv.FormatInt(id, 10))
		if err != nil {
			score = 0
		}
		entries = append(entries, LeaderboardEntry{
			UserID:   id,
			Username: u.Username,
			Name:     u.Name,
			Streak:   int(score),
		})
	}
	return entries, nil
}

// RebuildStreaks recomputes every active user's streak into the zset. It
// runs on a scheduler tick so streaks decay at midnight without requiring
// a new log to trigger the recount.
func (s *Service) RebuildStreaks(ctx context.Context) error {
	var userIDs []int64
	err := s.db.WithContext(ctx).Model(&model.GoalLog{}).
		Distinct("user_id").Pluck("user_id", &userIDs).Error
	if err != nil {
		return err
	}
	for _, id := range userIDs {
		streak, err := CurrentStreak(ctx, s.db, id)
		if err != nil {
			s.logger.Warn("streak recount failed", zap.Int64("user_id", id), zap.Error(err))
			continue
		}
		if err := s.cache.ZAdd(ctx, StreaksKey, float64(streak), strconv.FormatInt(id, 10)); err != nil {
			return err
		}
	}
	return nil
}

// CurrentStreak counts the run of consecutive days with at least one log,
// ending today or yesterday (a streak is not broken until a full day is
// missed).
func CurrentStreak(ctx context.Context, db *gorm.DB, userID int64) (int, error) {
	var logs []model.GoalLog
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(400).
		Find(&logs).Error
	if err != nil {
		return 0, err
	}
	if len(logs) == 0 {
		return 0, nil
	}

	days := make(map[string]bool, len(logs))
	for _, l := range logs {
		days[l.CreatedAt.Format("2006-01-02")] = true
	}

	day := time.Now()
	if !days[day.Format("2006-01-02")] {
		day = day.AddDate(0, 0, -1)
		if !days[day.Format("2006-01-02")] {
			return 0, nil
		}
	}
	streak := 0
	for days[day.Format("2006-01-02")] {
		streak++
		day = day.AddDate(0, 0, -1)
	}
	return streak, nil
}
