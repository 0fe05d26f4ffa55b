package friendship

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tahahasan7/yalla-server/cache"
	"github.com/tahahasan7/yalla-server/changefeed"
	"github.com/tahahasan7/yalla-server/model"
	"github.com/tahahasan7/yalla-server/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type alwaysOnline struct{}

func (alwaysOnline) IsOnline(int64) bool { return true }

func newServiceSetup(t *testing.T) (*Service, *gorm.DB, cache.PubSub) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	_, ps := testutil.SetupTestCache(t)
	pub := changefeed.NewPublisher(ps, zap.NewNop())
	svc := NewService(db, pub, alwaysOnline{}, zap.NewNop())
	return svc, db, ps
}

func seedUsers(t *testing.T, db *gorm.DB, usernames ...string) []int64 {
	t.Helper()
	ids := make([]int64, len(usernames))
	for i, name := range usernames {
		u := model.User{Username: name, Name: name, PasswordHash: "x"}
		require.NoError(t, db.Create(&u).Error)
		ids[i] = u.ID
	}
	return ids
}

func TestSendRequest_Self(t *testing.T) {
	svc, db, _ := newServiceSetup(t)
	ids := seedUsers(t, db, "alice")
	err := svc.SendRequest(context.Background(), ids[0], ids[0])
	assert.ErrorIs(t, err, ErrSelfRequest)
}

func TestSendRequest_ThenStatus(t *testing.T) {
	svc, db, _ := newServiceSetup(t)
	ids := seedUsers(t, db, "alice", "bob")
	ctx := context.Background()

	require.NoError(t, svc.SendRequest(ctx, ids[0], ids[1]))

	rel, err := svc.Status(ctx, ids[0], ids[1])
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rel.Status)
	assert.True(t, rel.IsRequester)

	rel, err = svc.Status(ctx, ids[1], ids[0])
	require.NoError(t, err)
	assert.Equal(t, StatusRequested, rel.Status)
	assert.False(t, rel.IsRequester)
}

func TestSendRequest_Duplicate(t *testing.T) {
	svc, db, _ := newServiceSetup(t)
	ids := seedUsers(t, db, "alice", "bob")
	ctx := context.Background()

	require.NoError(t, svc.SendRequest(ctx, ids[0], ids[1]))
	assert.ErrorIs(t, svc.SendRequest(ctx, ids[0], ids[1]), ErrDuplicateRequest)

	// Still exactly one row between the pair.
	var count int64
	db.Model(&model.Friendship{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestSendRequest_ReverseWhilePending(t *testing.T) {
	svc, db, _ := newServiceSetup(t)
	ids := seedUsers(t, db, "alice", "bob")
	ctx := context.Background()

	require.NoError(t, svc.SendRequest(ctx, ids[0], ids[1]))
	assert.ErrorIs(t, svc.SendRequest(ctx, ids[1], ids[0]), ErrDuplicateRequest)
}

func TestAccept_BothDirectionsAccepted(t *testing.T) {
	svc, db, _ := newServiceSetup(t)
	ids := seedUsers(t, db, "alice", "bob")
	ctx := context.Background()

	require.NoError(t, svc.SendRequest(ctx, ids[0], ids[1]))
	require.NoError(t, svc.Accept(ctx, ids[1], ids[0]))

	for _, viewer := range []int64{ids[0], ids[1]} {
		rel, err := svc.Status(ctx, viewer, ids[0]+ids[1]-viewer)
		require.NoError(t, err)
		assert.Equal(t, StatusAccepted, rel.Status)
		assert.False(t, rel.Drift)
	}

	// Two accepted rows exist.
	var count int64
	db.Model(&model.Friendship{}).
		Where("status = ?", model.FriendshipAccepted).Count(&count)
	assert.Equal(t, int64(2), count)
}

func TestAccept_NoPendingRow(t *testing.T) {
	svc, db, _ := newServiceSetup(t)
	ids := seedUsers(t, db, "alice", "bob")
	assert.ErrorIs(t, svc.Accept(context.Background(), ids[1], ids[0]), ErrNotFound)
}

func TestAccept_ShowsInBothFriendsLists(t *testing.T) {
	svc, db, _ := newServiceSetup(t)
	ids := seedUsers(t, db, "alice", "bob")
	ctx := context.Background()

	require.NoError(t, svc.SendRequest(ctx, ids[0], ids[1]))
	require.NoError(t, svc.Accept(ctx, ids[1], ids[0]))

	friendsA, err := svc.Friends(ctx, ids[0])
	require.NoError(t, err)
	require.Len(t, friendsA, 1)
	assert.Equal(t, "bob", friendsA[0].Username)
	assert.True(t, friendsA[0].Online)

	friendsB, err := svc.Friends(ctx, ids[1])
	require.NoError(t, err)
	require.Len(t, friendsB, 1)
	assert.Equal(t, "alice", friendsB[0].Username)
}

func TestDecline_BlocksRequesterOnly(t *testing.T) {
	svc, db, _ := newServiceSetup(t)
	ids := seedUsers(t, db, "alice", "bob")
	ctx := context.Background()

	require.NoError(t, svc.SendRequest(ctx, ids[0], ids[1]))
	require.NoError(t, svc.Decline(ctx, ids[1], ids[0]))

	// The declined requester cannot re-send.
	assert.ErrorIs(t, svc.SendRequest(ctx, ids[0], ids[1]), ErrPreviouslyDeclined)

	// The decliner can reach out; the old declined row is superseded.
	require.NoError(t, svc.SendRequest(ctx, ids[1], ids[0]))

	var rows []model.Friendship
	db.Find(&rows)
	require.Len(t, rows, 1)
	assert.Equal(t, ids[1], rows[0].UserID)
	assert.Equal(t, model.FriendshipPending, rows[0].Status)
}

func TestDecline_NoPendingRow(t *testing.T) {
	svc, db, _ := newServiceSetup(t)
	ids := seedUsers(t, db, "alice", "bob")
	assert.ErrorIs(t, svc.Decline(context.Background(), ids[1], ids[0]), ErrNotFound)
}

func TestIncomingRequests(t *testing.T) {
	svc, db, _ := newServiceSetup(t)
	ids := seedUsers(t, db, "alice", "bob", "carol")
	ctx := context.Background()

	require.NoError(t, svc.SendRequest(ctx, ids[1], ids[0]))
	require.NoError(t, svc.SendRequest(ctx, ids[2], ids[0]))

	reqs, err := svc.IncomingRequests(ctx, ids[0])
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	names := []string{reqs[0].Username, reqs[1].Username}
	assert.Contains(t, names, "bob")
	assert.Contains(t, names, "carol")

	// Accepted requests leave the list.
	require.NoError(t, svc.Accept(ctx, ids[0], ids[1]))
	reqs, err = svc.IncomingRequests(ctx, ids[0])
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "carol", reqs[0].Username)
}

func TestRemove_Unfriends(t *testing.T) {
	svc, db, _ := newServiceSetup(t)
	ids := seedUsers(t, db, "alice", "bob")
	ctx := context.Background()

	require.NoError(t, svc.SendRequest(ctx, ids[0], ids[1]))
	require.NoError(t, svc.Accept(ctx, ids[1], ids[0]))
	require.NoError(t, svc.Remove(ctx, ids[0], ids[1]))

	rel, err := svc.Status(ctx, ids[0], ids[1])
	require.NoError(t, err)
	assert.Equal(t, StatusNone, rel.Status)

	var count int64
	db.Model(&model.Friendship{}).Count(&count)
	assert.Zero(t, count)
}

func TestRemove_CancelsOutboundRequest(t *testing.T) {
	svc, db, _ := newServiceSetup(t)
	ids := seedUsers(t, db, "alice", "bob")
	ctx := context.Background()

	require.NoError(t, svc.SendRequest(ctx, ids[0], ids[1]))
	require.NoError(t, svc.Remove(ctx, ids[0], ids[1]))

	// After cancelling, a fresh send works.
	require.NoError(t, svc.SendRequest(ctx, ids[0], ids[1]))
}

func TestRemove_Nothing(t *testing.T) {
	svc, db, _ := newServiceSetup(t)
	ids := seedUsers(t, db, "alice", "bob")
	assert.ErrorIs(t, svc.Remove(context.Background(), ids[0], ids[1]), ErrNotFound)
}

func TestSearch_AnnotatesRelationship(t *testing.T) {
	svc, db, _ := newServiceSetup(t)
	ids := seedUsers(t, db, "alice", "bob", "bobby")
	ctx := context.Background()

	require.NoError(t, svc.SendRequest(ctx, ids[0], ids[1]))

	hits, err := svc.Search(ctx, ids[0], "bob", 20)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	byName := make(map[string]SearchHit, len(hits))
	for _, h := range hits {
		byName[h.Username] = h
	}
	assert.Equal(t, StatusPending, byName["bob"].Status)
	assert.True(t, byName["bob"].IsRequester)
	assert.Equal(t, StatusNone, byName["bobby"].Status)
}

func TestSearch_ExcludesViewer(t *testing.T) {
	svc, db, _ := newServiceSetup(t)
	ids := seedUsers(t, db, "bob", "bobby")

	hits, err := svc.Search(context.Background(), ids[0], "bob", 20)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "bobby", hits[0].Username)
}

func TestSearch_EmptyQuery(t *testing.T) {
	svc, db, _ := newServiceSetup(t)
	ids := seedUsers(t, db, "alice")

	hits, err := svc.Search(context.Background(), ids[0], "", 20)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMutations_PublishChangeEvents(t *testing.T) {
	svc, db, ps := newServiceSetup(t)
	ids := seedUsers(t, db, "alice", "bob")
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, changefeed.FriendshipChannel(ids[1]))
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, svc.SendRequest(ctx, ids[0], ids[1]))

	msg := <-ch
	ev, err := changefeed.Decode(msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, changefeed.EventInsert, ev.EventType)
	assert.Equal(t, "friendships", ev.Table)
}
