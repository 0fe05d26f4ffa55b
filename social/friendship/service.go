// Package friendship is the data-access layer for the friend graph:
// directed rows in the friendships table, a viewer-relative resolver, and
// the business rules for sending, accepting and declining requests.
package friendship

import (
	"context"
	"errors"
	"time"

	"github.com/tahahasan7/yalla-server/changefeed"
	"github.com/tahahasan7/yalla-server/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OnlineChecker reports whether a user currently holds an open realtime
// session. The websocket session registry implements it.
type OnlineChecker interface {
	IsOnline(userID int64) bool
}

// UserSummary is the public slice of a user row shown in friend lists and
// search results.
type UserSummary struct {
	ID            int64  `json:"id"`
	Username      string `json:"username"`
	Name          string `json:"name"`
	ProfilePicURL string `json:"profile_pic_url"`
}

// Friend is an accepted friend annotated with realtime presence.
type Friend struct {
	UserSummary
	Online bool      `json:"online"`
	Since  time.Time `json:"since"`
}

// Request is an open incoming friend request.
type Request struct {
	UserSummary
	SentAt time.Time `json:"sent_at"`
}

// SearchHit is a user search result annotated with the viewer's resolved
// relationship to that user.
type SearchHit struct {
	UserSummary
	Relationship
}

// Service owns all reads and writes of the friendships table.
type Service struct {
	db     *gorm.DB
	feed   *changefeed.Publisher
	online OnlineChecker
	logger *zap.Logger
}

// NewService creates a friendship Service. online may be nil, in which case
// every friend is reported offline.
func NewService(db *gorm.DB, feed *changefeed.Publisher, online OnlineChecker, logger *zap.Logger) *Service {
	return &Service{db: db, feed: feed, online: online, logger: logger}
}

func summarize(u model.User) UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username, Name: u.Name, ProfilePicURL: u.ProfilePicURL}
}

// Friends returns users with an accepted row in either direction, annotated
// with online status.
func (s *Service) Friends(ctx context.Context, userID int64) ([]Friend, error) {
	var rows []model.Friendship
	err := s.db.WithContext(ctx).
		Where("(user_id = ? OR friend_id = ?) AND status = ?",
			userID, userID, model.FriendshipAccepted).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	// Accepted pairs have two rows; collapse to one entry per counterpart.
	since := make(map[int64]time.Time, len(rows))
	for _, r := range rows {
		other := r.UserID
		if other == userID {
			other = r.FriendID
		}
		if t, ok := since[other]; !ok || r.UpdatedAt.Before(t) {
			since[other] = r.UpdatedAt
		}
	}
	if len(since) == 0 {
		return []Friend{}, nil
	}

	ids := make([]int64, 0, len(since))
	for id := range since {
		ids = append(ids, id)
	}
	var users []model.User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}

	friends := make([]Friend, 0, len(users))
	for _, u := range users {
		f := Friend{UserSummary: summarize(u), Since: since[u.ID]}
		if s.online != nil {
			f.Online = s.online.IsOnline(u.ID)
		}
		friends = append(friends, f)
	}
	return friends, nil
}

// IncomingRequests returns the users with an open pending request addressed
// to userID, newest first.
func (s *Service) IncomingRequests(ctx context.Context, userID int64) ([]Request, error) {
	var rows []model.Friendship
	err := s.db.WithContext(ctx).
		Where("friend_id = ? AND status = ?", userID, model.FriendshipPending).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []Request{}, nil
	}

	ids := make([]int64, len(rows))
	sentAt := make(map[int64]time.Time, len(rows))
	for i, r := range rows {
		ids[i] = r.UserID
		sentAt[r.UserID] = r.CreatedAt
	}
	var users []model.User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	byID := make(map[int64]model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	reqs := make([]Request, 0, len(rows))
	for _, r := range rows {
		u, ok := byID[r.UserID]
		if !ok {
			continue
		}
		reqs = append(reqs, Request{UserSummary: summarize(u), SentAt: sentAt[u.ID]})
	}
	return reqs, nil
}

func (s *Service) pairRows(ctx context.Context, a, b int64) ([]model.Friendship, error) {
	var rows []model.Friendship
	err := s.db.WithContext(ctx).
		Where("(user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)",
			a, b, b, a).
		Find(&rows).Error
	return rows, err
}

// Status resolves the relationship between viewer a and user b.
func (s *Service) Status(ctx context.Context, a, b int64) (Relationship, error) {
	rows, err := s.pairRows(ctx, a, b)
	if err != nil {
		return Relationship{}, err
	}
	rel := Resolve(a, rows)
	if rel.Drift {
		s.logger.Warn("drifted friendship pair",
			zap.Int64("user_a", a), zap.Int64("user_b", b))
	}
	return rel, nil
}

// SendRequest inserts a pending row from -> to.
//
// A declined row authored by `from` blocks the re-send with
// ErrPreviouslyDeclined. A declined row authored by `to` is superseded:
// deleted in the same transaction as the insert, so the earlier rejection
// never outlives the other party's change of mind.
func (s *Service) SendRequest(ctx context.Context, from, to int64) error {
	if from == to {
		return ErrSelfRequest
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []model.Friendship
		if err := tx.Where("(user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)",
			from, to, to, from).Find(&rows).Error; err != nil {
			return err
		}

		var supersede *model.Friendship
		for i, r := range rows {
			if r.Status == model.FriendshipDeclined && r.UserID == from {
				return ErrPreviouslyDeclined
			}
			if r.Status == model.FriendshipDeclined && r.UserID == to {
				supersede = &rows[i]
				continue
			}
			return ErrDuplicateRequest
		}

		if supersede != nil {
			if err := tx.Delete(supersede).Error; err != nil {
				return err
			}
		}
		return tx.Create(&model.Friendship{
			UserID:   from,
			FriendID: to,
			Status:   model.FriendshipPending,
		}).Error
	})
	if err != nil {
		return err
	}

	s.feed.FriendshipChanged(ctx, from, to, changefeed.Event{
		EventType: changefeed.EventInsert,
		Table:     "friendships",
		New:       map[string]interface{}{"user_id": from, "friend_id": to, "status": model.FriendshipPending},
	})
	return nil
}

// Accept flips the pending row from requesterID and inserts the reciprocal
// accepted row in one transaction. ErrNotFound when no pending row exists.
func (s *Service) Accept(ctx context.Context, userID, requesterID int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row model.Friendship
		err := tx.Where("user_id = ? AND friend_id = ? AND status = ?",
			requesterID, userID, model.FriendshipPending).
			First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		// Both writes must land together; a half-accepted pair would be
		// one-directional.
		row.Status = model.FriendshipAccepted
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		return tx.Create(&model.Friendship{
			UserID:   userID,
			FriendID: requesterID,
			Status:   model.FriendshipAccepted,
		}).Error
	})
	if err != nil {
		return err
	}

	s.feed.FriendshipChanged(ctx, userID, requesterID, changefeed.Event{
		EventType: changefeed.EventUpdate,
		Table:     "friendships",
		New:       map[string]interface{}{"user_id": requesterID, "friend_id": userID, "status": model.FriendshipAccepted},
	})
	return nil
}

// Decline marks the pending row from requesterID as declined. The row is
// retained so later sends from the same requester are rejected.
func (s *Service) Decline(ctx context.Context, userID, requesterID int64) error {
	res := s.db.WithContext(ctx).Model(&model.Friendship{}).
		Where("user_id = ? AND friend_id = ? AND status = ?",
			requesterID, userID, model.FriendshipPending).
		Update("status", model.FriendshipDeclined)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}

	s.feed.FriendshipChanged(ctx, userID, requesterID, changefeed.Event{
		EventType: changefeed.EventUpdate,
		Table:     "friendships",
		New:       map[string]interface{}{"user_id": requesterID, "friend_id": userID, "status": model.FriendshipDeclined},
	})
	return nil
}

// Remove deletes all rows between the pair. It serves both unfriending and
// cancelling an outbound request. ErrNotFound when nothing existed.
func (s *Service) Remove(ctx context.Context, a, b int64) error {
	res := s.db.WithContext(ctx).
		Where("(user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)",
			a, b, b, a).
		Delete(&model.Friendship{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}

	s.feed.FriendshipChanged(ctx, a, b, changefeed.Event{
		EventType: changefeed.EventDelete,
		Table:     "friendships",
		Old:       map[string]interface{}{"user_id": a, "friend_id": b},
	})
	return nil
}

// Search matches username or display name with a LIKE query, excluding the
// viewer, each hit annotated with the resolved relationship.
func (s *Service) Search(ctx context.Context, viewerID int64, query string, limit int) ([]SearchHit, error) {
	if query == "" {
		return []SearchHit{}, nil
	}
	if limit <= 0 {
		limit = 20
	}

	pattern := "%" + query + "%"
	var users []model.User
	err := s.db.WithContext(ctx).
		Where("(username LIKE ? OR name LIKE ?) AND id <> ? AND status = 1",
			pattern, pattern, viewerID).
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, 0, len(users))
	for _, u := range users {
		rows, err := s.pairRows(ctx, viewerID, u.ID)
		if err != nil {
			return nil, err
		}
		hits = append(hits, SearchHit{
			UserSummary:  summarize(u),
			Relationship: Resolve(viewerID, rows),
		})
	}
	return hits, nil
}
