// Package sync holds the per-user reconciliation store: an in-memory view
// of the user's friends, incoming requests and search results that applies
// user intents optimistically, debounces search, and converges on server
// state whenever a realtime change event arrives. All collections are
// transient and rebuildable; the database stays the source of truth.
package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"time"

	"github.com/tahahasan7/yalla-server/cache"
	"github.com/tahahasan7/yalla-server/changefeed"
	"github.com/tahahasan7/yalla-server/social/friendship"
	"go.uber.org/zap"
)

// Backend is the server-side surface the store reconciles against.
// *friendship.Service satisfies it.
type Backend interface {
	Friends(ctx context.Context, userID int64) ([]friendship.Friend, error)
	IncomingRequests(ctx context.Context, userID int64) ([]friendship.Request, error)
	Search(ctx context.Context, viewerID int64, query string, limit int) ([]friendship.SearchHit, error)
	SendRequest(ctx context.Context, from, to int64) error
	Accept(ctx context.Context, userID, requesterID int64) error
	Decline(ctx context.Context, userID, requesterID int64) error
	Remove(ctx context.Context, a, b int64) error
}

// Snapshot is a point-in-time copy of the store's collections.
type Snapshot struct {
	Friends  []friendship.Friend
	Requests []friendship.Request
	Results  []friendship.SearchHit
	Query    string
}

// Options tunes a Store.
type Options struct {
	// SearchDebounce is the idle delay before a query is issued.
	SearchDebounce time.Duration
	// SearchLimit caps search results.
	SearchLimit int
	// OnChange, when set, is called (without the store lock held) after
	// every state change. A presentation layer hangs its refresh here.
	OnChange func()
}

// Store is the reconciliation state for one user.
type Store struct {
	userID  int64
	backend Backend
	ps      cache.PubSub
	logger  *zap.Logger
	opts    Options
	search  *debouncer

	mu       stdsync.Mutex
	friends  []friendship.Friend
	requests []friendship.Request
	results  []friendship.SearchHit
	query    string

	// Monotonic issue counter. Every refetch or search is stamped when
	// issued; a response older than the last applied stamp for its
	// collection is dropped instead of overwriting newer state.
	version     uint64
	friendsVer  uint64
	requestsVer uint64
	resultsVer  uint64
}

// NewStore creates a Store for userID. Zero-value options get defaults
// (300ms debounce, 20 results).
func NewStore(userID int64, backend Backend, ps cache.PubSub, logger *zap.Logger, opts Options) *Store {
	if opts.SearchDebounce <= 0 {
		opts.SearchDebounce = 300 * time.Millisecond
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 20
	}
	return &Store{
		userID:  userID,
		backend: backend,
		ps:      ps,
		logger:  logger,
		opts:    opts,
		search:  newDebouncer(opts.SearchDebounce),
	}
}

func (s *Store) notify() {
	if s.opts.OnChange != nil {
		s.opts.OnChange()
	}
}

func (s *Store) nextVersion() uint64 {
	s.version++
	return s.version
}

// Snapshot returns a copy of the current collections.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Friends:  make([]friendship.Friend, len(s.friends)),
		Requests: make([]friendship.Request, len(s.requests)),
		Results:  make([]friendship.SearchHit, len(s.results)),
		Query:    s.query,
	}
	copy(snap.Friends, s.friends)
	copy(snap.Requests, s.requests)
	copy(snap.Results, s.results)
	return snap
}

// Refresh refetches friends and requests from the backend. Stale responses
// (issued before a newer one was applied) are dropped.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	ver := s.nextVersion()
	s.mu.Unlock()

	friends, err := s.backend.Friends(ctx, s.userID)
	if err != nil {
		return err
	}
	requests, err := s.backend.IncomingRequests(ctx, s.userID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	changed := false
	if ver > s.friendsVer {
		s.friends = friends
		s.friendsVer = ver
		changed = true
	}
	if ver > s.requestsVer {
		s.requests = requests
		s.requestsVer = ver
		changed = true
	}
	s.mu.Unlock()
	if changed {
		s.notify()
	}
	return nil
}

// SetQuery updates the search query. The actual search is issued after the
// debounce delay; every keystroke resets the timer. An empty query clears
// the results immediately.
func (s *Store) SetQuery(ctx context.Context, query string) {
	s.mu.Lock()
	s.query = query
	if query == "" {
		s.search.stop()
		s.results = nil
		s.resultsVer = s.nextVersion()
		s.mu.Unlock()
		s.notify()
		return
	}
	s.mu.Unlock()

	s.search.trigger(func() {
		if err := s.runSearch(ctx, query); err != nil {
			s.logger.Warn("search failed", zap.String("query", query), zap.Error(err))
		}
	})
}

func (s *Store) runSearch(ctx context.Context, query string) error {
	s.mu.Lock()
	if s.query != query {
		s.mu.Unlock()
		return nil
	}
	ver := s.nextVersion()
	s.mu.Unlock()

	hits, err := s.backend.Search(ctx, s.userID, query, s.opts.SearchLimit)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if ver <= s.resultsVer || s.query != query {
		s.mu.Unlock()
		return nil
	}
	s.results = s.filterRequestsLocked(hits)
	s.resultsVer = ver
	s.mu.Unlock()
	s.notify()
	return nil
}

// filterRequestsLocked drops hits that are already in the requests list so
// a user never sees an add affordance next to an open incoming request.
func (s *Store) filterRequestsLocked(hits []friendship.SearchHit) []friendship.SearchHit {
	pending := make(map[int64]bool, len(s.requests))
	for _, r := range s.requests {
		pending[r.ID] = true
	}
	out := hits[:0]
	for _, h := range hits {
		if !pending[h.ID] {
			out = append(out, h)
		}
	}
	return out
}

func (s *Store) setResultStatusLocked(userID int64, rel friendship.Relationship) {
	for i := range s.results {
		if s.results[i].ID == userID {
			s.results[i].Relationship = rel
		}
	}
}

// SendRequest optimistically marks the target as pending in the search
// results, then calls the backend. On failure the prior state is restored,
// except a previously-declined rejection, which lands the row in declined.
func (s *Store) SendRequest(ctx context.Context, to int64) error {
	s.mu.Lock()
	prior := make([]friendship.SearchHit, len(s.results))
	copy(prior, s.results)
	s.setResultStatusLocked(to, friendship.Relationship{
		Status: friendship.StatusPending, IsRequester: true,
	})
	s.mu.Unlock()
	s.notify()

	err := s.backend.SendRequest(ctx, s.userID, to)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, friendship.ErrPreviouslyDeclined):
		s.mu.Lock()
		s.setResultStatusLocked(to, friendship.Relationship{
			Status: friendship.StatusDeclined, IsRequester: true,
		})
		s.mu.Unlock()
		s.notify()
		return err
	default:
		s.mu.Lock()
		s.results = prior
		s.mu.Unlock()
		s.notify()
		return err
	}
}

// Accept optimistically moves the requester from requests to friends, then
// calls the backend; rolled back on failure.
func (s *Store) Accept(ctx context.Context, requesterID int64) error {
	s.mu.Lock()
	priorFriends := make([]friendship.Friend, len(s.friends))
	copy(priorFriends, s.friends)
	priorRequests := make([]friendship.Request, len(s.requests))
	copy(priorRequests, s.requests)

	kept := s.requests[:0]
	for _, r := range s.requests {
		if r.ID == requesterID {
			s.friends = append(s.friends, friendship.Friend{
				UserSummary: r.UserSummary,
				Since:       time.Now(),
			})
			continue
		}
		kept = append(kept, r)
	}
	s.requests = kept
	s.mu.Unlock()
	s.notify()

	if err := s.backend.Accept(ctx, s.userID, requesterID); err != nil {
		s.mu.Lock()
		s.friends = priorFriends
		s.requests = priorRequests
		s.mu.Unlock()
		s.notify()
		return err
	}
	return nil
}

// Decline optimistically removes the requester from the requests list, then
// calls the backend; rolled back on failure.
func (s *Store) Decline(ctx context.Context, requesterID int64) error {
	s.mu.Lock()
	prior := make([]friendship.Request, len(s.requests))
	copy(prior, s.requests)
	kept := s.requests[:0]
	for _, r := range s.requests {
		if r.ID != requesterID {
			kept = append(kept, r)
		}
	}
	s.requests = kept
	s.mu.Unlock()
	s.notify()

	if err := s.backend.Decline(ctx, s.userID, requesterID); err != nil {
		s.mu.Lock()
		s.requests = prior
		s.mu.Unlock()
		s.notify()
		return err
	}
	return nil
}

// Cancel withdraws the viewer's own outbound request: the search result
// reverts to none optimistically, then the backend rows are removed.
func (s *Store) Cancel(ctx context.Context, to int64) error {
	s.mu.Lock()
	prior := make([]friendship.SearchHit, len(s.results))
	copy(prior, s.results)
	s.setResultStatusLocked(to, friendship.Relationship{Status: friendship.StatusNone})
	s.mu.Unlock()
	s.notify()

	if err := s.backend.Remove(ctx, s.userID, to); err != nil {
		s.mu.Lock()
		s.results = prior
		s.mu.Unlock()
		s.notify()
		return err
	}
	return nil
}

// Unfriend optimistically drops the friend from the friends list, then
// calls the backend; rolled back on failure.
func (s *Store) Unfriend(ctx context.Context, friendID int64) error {
	s.mu.Lock()
	prior := make([]friendship.Friend, len(s.friends))
	copy(prior, s.friends)
	kept := s.friends[:0]
	for _, f := range s.friends {
		if f.ID != friendID {
			kept = append(kept, f)
		}
	}
	s.friends = kept
	s.mu.Unlock()
	s.notify()

	if err := s.backend.Remove(ctx, s.userID, friendID); err != nil {
		s.mu.Lock()
		s.friends = prior
		s.mu.Unlock()
		s.notify()
		return err
	}
	return nil
}

// Run subscribes to the user's change channels and reconciles on every
// event: friends and requests are refetched, and the displayed search
// results are revalidated against the current query. It blocks until ctx
// is cancelled; the subscription is torn down on return.
func (s *Store) Run(ctx context.Context) error {
	ch, cancel, err := s.ps.Subscribe(ctx,
		changefeed.FriendshipChannel(s.userID), changefeed.UsersChannel)
	if err != nil {
		return err
	}
	defer cancel()
	defer s.search.stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if _, err := changefeed.Decode(msg.Payload); err != nil {
				s.logger.Warn("dropping malformed change event", zap.Error(err))
				continue
			}
			// The event is a hint that server state moved; the refetch is
			// the authority over any optimistic state.
			if err := s.Refresh(ctx); err != nil {
				s.logger.Warn("refresh after change event failed", zap.Error(err))
			}
			s.mu.Lock()
			query := s.query
			s.mu.Unlock()
			if query != "" {
				if err := s.runSearch(ctx, query); err != nil {
					s.logger.Warn("search revalidation failed", zap.Error(err))
				}
			}
		}
	}
}
