package local_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tahahasan7/yalla-server/cache/local"
)

func TestPubSub_PublishSubscribe(t *testing.T) {
	ps := local.NewPubSub(16)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "changes:friendships:1")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "changes:friendships:1", `{"event_type":"INSERT"}`))

	select {
	case msg := <-ch:
		assert.Equal(t, "changes:friendships:1", msg.Channel)
		assert.Contains(t, msg.Payload, "INSERT")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestPubSub_MultipleChannels(t *testing.T) {
	ps := local.NewPubSub(16)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "changes:friendships:1", "changes:users")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "changes:users", "u"))
	require.NoError(t, ps.Publish(ctx, "changes:friendships:1", "f"))

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-ch:
			got[msg.Channel] = true
		case <-time.After(time.Second):
			t.Fatal("timed out")
		}
	}
	assert.True(t, got["changes:users"])
	assert.True(t, got["changes:friendships:1"])
}

func TestPubSub_CancelClosesChannel(t *testing.T) {
	ps := local.NewPubSub(16)
	ch, cancel, err := ps.Subscribe(context.Background(), "c")
	require.NoError(t, err)

	cancel()
	_, open := <-ch
	assert.False(t, open)

	// Publishing after cancel must not panic or deliver.
	require.NoError(t, ps.Publish(context.Background(), "c", "late"))
}
