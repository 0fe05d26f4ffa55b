package friendship

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tahahasan7/yalla-server/model"
)

func row(from, to int64, status model.FriendshipStatus) model.Friendship {
	return model.Friendship{UserID: from, FriendID: to, Status: status}
}

func TestResolve_NoRows(t *testing.T) {
	rel := Resolve(1, nil)
	assert.Equal(t, StatusNone, rel.Status)
	assert.False(t, rel.IsRequester)
	assert.False(t, rel.Drift)
}

func TestResolve_PendingViewerIsRequester(t *testing.T) {
	rel := Resolve(1, []model.Friendship{row(1, 2, model.FriendshipPending)})
	assert.Equal(t, StatusPending, rel.Status)
	assert.True(t, rel.IsRequester)
}

func TestResolve_PendingViewerIsAddressee(t *testing.T) {
	rel := Resolve(2, []model.Friendship{row(1, 2, model.FriendshipPending)})
	assert.Equal(t, StatusRequested, rel.Status)
	assert.False(t, rel.IsRequester)
}

func TestResolve_AcceptedPair(t *testing.T) {
	rows := []model.Friendship{
		row(1, 2, model.FriendshipAccepted),
		row(2, 1, model.FriendshipAccepted),
	}
	for _, viewer := range []int64{1, 2} {
		rel := Resolve(viewer, rows)
		assert.Equal(t, StatusAccepted, rel.Status)
		assert.False(t, rel.Drift)
	}
}

func TestResolve_DeclinedViewerAuthored(t *testing.T) {
	rel := Resolve(1, []model.Friendship{row(1, 2, model.FriendshipDeclined)})
	assert.Equal(t, StatusDeclined, rel.Status)
	assert.True(t, rel.IsRequester)
}

func TestResolve_DeclinedOtherAuthored(t *testing.T) {
	rel := Resolve(2, []model.Friendship{row(1, 2, model.FriendshipDeclined)})
	assert.Equal(t, StatusDeclined, rel.Status)
	assert.False(t, rel.IsRequester)
}

func TestResolve_DriftedPair_AcceptedWins(t *testing.T) {
	// One accepted row next to a pending one: resolved as accepted, but
	// flagged so callers can see the pair disagrees.
	rows := []model.Friendship{
		row(1, 2, model.FriendshipAccepted),
		row(2, 1, model.FriendshipPending),
	}
	rel := Resolve(1, rows)
	assert.Equal(t, StatusAccepted, rel.Status)
	assert.True(t, rel.Drift)

	rel = Resolve(2, rows)
	assert.Equal(t, StatusAccepted, rel.Status)
	assert.True(t, rel.Drift)
}

func TestResolve_DriftedPair_DeclinedBeatsPending(t *testing.T) {
	rows := []model.Friendship{
		row(1, 2, model.FriendshipDeclined),
		row(2, 1, model.FriendshipPending),
	}
	rel := Resolve(2, rows)
	assert.Equal(t, StatusDeclined, rel.Status)
	assert.False(t, rel.IsRequester)
	assert.True(t, rel.Drift)
}
