package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tahahasan7/yalla-server/cache"
	"github.com/tahahasan7/yalla-server/changefeed"
	"github.com/tahahasan7/yalla-server/social/friendship"
	"go.uber.org/zap"
)

// fakeBackend is an in-memory Backend with per-call error injection.
type fakeBackend struct {
	mu       stdsync.Mutex
	friends  []friendship.Friend
	requests []friendship.Request
	hits     []friendship.SearchHit

	sendErr    error
	acceptErr  error
	declineErr error
	removeErr  error

	searchCalls int
	searchDelay time.Duration
}

func (f *fakeBackend) Friends(context.Context, int64) ([]friendship.Friend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]friendship.Friend, len(f.friends))
	copy(out, f.friends)
	return out, nil
}

func (f *fakeBackend) IncomingRequests(context.Context, int64) ([]friendship.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]friendship.Request, len(f.requests))
	copy(out, f.requests)
	return out, nil
}

func (f *fakeBackend) Search(context.Context, int64, string, int) ([]friendship.SearchHit, error) {
	f.mu.Lock()
	f.searchCalls++
	delay := f.searchDelay
	out := make([]friendship.SearchHit, len(f.hits))
	copy(out, f.hits)
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return out, nil
}

func (f *fakeBackend) SendRequest(context.Context, int64, int64) error { return f.sendErr }
func (f *fakeBackend) Accept(context.Context, int64, int64) error      { return f.acceptErr }
func (f *fakeBackend) Decline(context.Context, int64, int64) error     { return f.declineErr }
func (f *fakeBackend) Remove(context.Context, int64, int64) error      { return f.removeErr }

func (f *fakeBackend) searchCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searchCalls
}

func user(id int64, name string) friendship.UserSummary {
	return friendship.UserSummary{ID: id, Username: name, Name: name}
}

func newStoreSetup(t *testing.T, backend *fakeBackend, opts Options) (*Store, cache.PubSub) {
	t.Helper()
	ps, err := cache.NewPubSub(cache.CacheConfig{})
	require.NoError(t, err)
	return NewStore(1, backend, ps, zap.NewNop(), opts), ps
}

func TestRefresh_PopulatesCollections(t *testing.T) {
	backend := &fakeBackend{
		friends:  []friendship.Friend{{UserSummary: user(2, "bob")}},
		requests: []friendship.Request{{UserSummary: user(3, "carol")}},
	}
	store, _ := newStoreSetup(t, backend, Options{})

	require.NoError(t, store.Refresh(context.Background()))

	snap := store.Snapshot()
	require.Len(t, snap.Friends, 1)
	assert.Equal(t, "bob", snap.Friends[0].Username)
	require.Len(t, snap.Requests, 1)
	assert.Equal(t, "carol", snap.Requests[0].Username)
}

func TestSendRequest_Optimistic(t *testing.T) {
	backend := &fakeBackend{}
	store, _ := newStoreSetup(t, backend, Options{})

	store.mu.Lock()
	store.results = []friendship.SearchHit{{UserSummary: user(2, "bob")}}
	store.mu.Unlock()

	require.NoError(t, store.SendRequest(context.Background(), 2))

	snap := store.Snapshot()
	require.Len(t, snap.Results, 1)
	assert.Equal(t, friendship.StatusPending, snap.Results[0].Status)
	assert.True(t, snap.Results[0].IsRequester)
}

func TestSendRequest_RollbackOnFailure(t *testing.T) {
	backend := &fakeBackend{sendErr: errors.New("backend down")}
	store, _ := newStoreSetup(t, backend, Options{})

	store.mu.Lock()
	store.results = []friendship.SearchHit{{UserSummary: user(2, "bob")}}
	store.mu.Unlock()

	err := store.SendRequest(context.Background(), 2)
	require.Error(t, err)

	snap := store.Snapshot()
	require.Len(t, snap.Results, 1)
	assert.Equal(t, friendship.Status(""), snap.Results[0].Status)
}

func TestSendRequest_DeclinedLandsDeclined(t *testing.T) {
	backend := &fakeBackend{sendErr: friendship.ErrPreviouslyDeclined}
	store, _ := newStoreSetup(t, backend, Options{})

	store.mu.Lock()
	store.results = []friendship.SearchHit{{UserSummary: user(2, "bob")}}
	store.mu.Unlock()

	err := store.SendRequest(context.Background(), 2)
	assert.ErrorIs(t, err, friendship.ErrPreviouslyDeclined)

	snap := store.Snapshot()
	require.Len(t, snap.Results, 1)
	assert.Equal(t, friendship.StatusDeclined, snap.Results[0].Status)
}

func TestAccept_MovesRequestToFriends(t *testing.T) {
	backend := &fakeBackend{}
	store, _ := newStoreSetup(t, backend, Options{})

	store.mu.Lock()
	store.requests = []friendship.Request{
		{UserSummary: user(2, "bob")},
		{UserSummary: user(3, "carol")},
	}
	store.mu.Unlock()

	require.NoError(t, store.Accept(context.Background(), 2))

	snap := store.Snapshot()
	require.Len(t, snap.Friends, 1)
	assert.Equal(t, "bob", snap.Friends[0].Username)
	require.Len(t, snap.Requests, 1)
	assert.Equal(t, "carol", snap.Requests[0].Username)
}

func TestAccept_RollbackOnFailure(t *testing.T) {
	backend := &fakeBackend{acceptErr: errors.New("backend down")}
	store, _ := newStoreSetup(t, backend, Options{})

	store.mu.Lock()
	store.requests = []friendship.Request{{UserSummary: user(2, "bob")}}
	store.mu.Unlock()

	require.Error(t, store.Accept(context.Background(), 2))

	snap := store.Snapshot()
	assert.Empty(t, snap.Friends)
	require.Len(t, snap.Requests, 1)
	assert.Equal(t, "bob", snap.Requests[0].Username)
}

func TestDecline_RemovesRequest(t *testing.T) {
	backend := &fakeBackend{}
	store, _ := newStoreSetup(t, backend, Options{})

	store.mu.Lock()
	store.requests = []friendship.Request{{UserSummary: user(2, "bob")}}
	store.mu.Unlock()

	require.NoError(t, store.Decline(context.Background(), 2))
	assert.Empty(t, store.Snapshot().Requests)
}

func TestDecline_RollbackOnFailure(t *testing.T) {
	backend := &fakeBackend{declineErr: errors.New("backend down")}
	store, _ := newStoreSetup(t, backend, Options{})

	store.mu.Lock()
	store.requests = []friendship.Request{{UserSummary: user(2, "bob")}}
	store.mu.Unlock()

	require.Error(t, store.Decline(context.Background(), 2))
	require.Len(t, store.Snapshot().Requests, 1)
}

func TestUnfriend_RemovesFriend(t *testing.T) {
	backend := &fakeBackend{}
	store, _ := newStoreSetup(t, backend, Options{})

	store.mu.Lock()
	store.friends = []friendship.Friend{{UserSummary: user(2, "bob")}}
	store.mu.Unlock()

	require.NoError(t, store.Unfriend(context.Background(), 2))
	assert.Empty(t, store.Snapshot().Friends)
}

func TestCancel_RevertsResultToNone(t *testing.T) {
	backend := &fakeBackend{}
	store, _ := newStoreSetup(t, backend, Options{})

	store.mu.Lock()
	store.results = []friendship.SearchHit{{
		UserSummary:  user(2, "bob"),
		Relationship: friendship.Relationship{Status: friendship.StatusPending, IsRequester: true},
	}}
	store.mu.Unlock()

	require.NoError(t, store.Cancel(context.Background(), 2))

	snap := store.Snapshot()
	require.Len(t, snap.Results, 1)
	assert.Equal(t, friendship.StatusNone, snap.Results[0].Status)
}

func TestRun_RefreshesOnChangeEvent(t *testing.T) {
	backend := &fakeBackend{}
	store, ps := newStoreSetup(t, backend, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- store.Run(ctx) }()
	time.Sleep(50 * time.Millisecond) // let the subscription attach

	backend.mu.Lock()
	backend.friends = []friendship.Friend{{UserSummary: user(2, "bob")}}
	backend.mu.Unlock()

	pub := changefeed.NewPublisher(ps, zap.NewNop())
	pub.FriendshipChanged(ctx, 1, 2, changefeed.Event{
		EventType: changefeed.EventUpdate, Table: "friendships",
	})

	require.Eventually(t, func() bool {
		return len(store.Snapshot().Friends) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRun_StaleOptimisticStateOverwritten(t *testing.T) {
	// A failed mutation whose rollback raced a change event still converges:
	// the refetch wins over whatever the optimistic layer left behind.
	backend := &fakeBackend{
		requests: []friendship.Request{{UserSummary: user(2, "bob")}},
	}
	store, ps := newStoreSetup(t, backend, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go store.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	store.mu.Lock()
	store.requests = []friendship.Request{{UserSummary: user(99, "ghost")}}
	store.mu.Unlock()

	pub := changefeed.NewPublisher(ps, zap.NewNop())
	pub.FriendshipChanged(ctx, 1, 2, changefeed.Event{
		EventType: changefeed.EventInsert, Table: "friendships",
	})

	require.Eventually(t, func() bool {
		snap := store.Snapshot()
		return len(snap.Requests) == 1 && snap.Requests[0].ID == 2
	}, time.Second, 10*time.Millisecond)
}
