package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisstore "github.com/gosuda/boardsync/internal/store/redis"
)

func newPubSub(t *testing.T) (*redisstore.PubSub, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	ps := redisstore.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = ps.Close() })
	return ps, mr
}

func TestChannelNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "board:42", redisstore.BoardChannel(42))
	assert.Equal(t, "presence:board:42", redisstore.PresenceKey(42))
	assert.NotEqual(t, redisstore.BoardChannel(1), redisstore.BoardChannel(2))
}

func TestNew(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	ps, err := redisstore.New(context.Background(), addr, "", 0)
	require.NoError(t, err)
	require.NoError(t, ps.Ping(context.Background()))
	require.NoError(t, ps.Close())

	mr.Close()
	_, err = redisstore.New(context.Background(), addr, "", 0)
	require.Error(t, err)
}

func TestPubSub_PublishSubscribe(t *testing.T) {
	t.Parallel()

	ps, _ := newPubSub(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, cleanup, err := ps.Subscribe(ctx, 7)
	require.NoError(t, err)
	defer cleanup()

	other, otherCleanup, err := ps.Subscribe(ctx, 8)
	require.NoError(t, err)
	defer otherCleanup()

	require.NoError(t, ps.Publish(ctx, 7, []byte(`{"type":"card.deleted","card_id":1}`)))

	select {
	case got := <-msgs:
		assert.JSONEq(t, `{"type":"card.deleted","card_id":1}`, string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	select {
	case got := <-other:
		t.Fatalf("board 8 received a board 7 message: %s", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPubSub_SubscribeStopsOnCancel(t *testing.T) {
	t.Parallel()

	ps, _ := newPubSub(t)
	ctx, cancel := context.WithCancel(context.Background())

	msgs, cleanup, err := ps.Subscribe(ctx, 1)
	require.NoError(t, err)
	defer cleanup()

	cancel()
	select {
	case _, ok := <-msgs:
		assert.False(t, ok, "channel must close after cancel")
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not stop")
	}
}

func TestPubSub_Presence(t *testing.T) {
	t.Parallel()

	ps, mr := newPubSub(t)
	ctx := context.Background()

	require.NoError(t, ps.Join(ctx, 3, "relay-a:1"))
	require.NoError(t, ps.Join(ctx, 3, "relay-b:1"))
	require.NoError(t, ps.Join(ctx, 3, "relay-a:1"))

	n, err := ps.Viewers(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	members, err := mr.ZMembers(redisstore.PresenceKey(3))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"relay-a:1", "relay-b:1"}, members)
	assert.Equal(t, redisstore.DefaultPresenceTTL, mr.TTL(redisstore.PresenceKey(3)), "the key expires with its viewers")

	require.NoError(t, ps.Leave(ctx, 3, "relay-a:1"))
	n, err = ps.Viewers(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = ps.Viewers(ctx, 99)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPubSub_PresenceExpires(t *testing.T) {
	t.Parallel()

	ps, mr := newPubSub(t)
	ps.SetPresenceTTL(100 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, ps.Join(ctx, 4, "crashed"))
	require.NoError(t, ps.Join(ctx, 4, "alive"))

	// Only "alive" keeps refreshing.
	require.Eventually(t, func() bool {
		if err := ps.Join(ctx, 4, "alive"); err != nil {
			return false
		}
		n, err := ps.Viewers(ctx, 4)
		return err == nil && n == 1
	}, 2*time.Second, 20*time.Millisecond)

	members, err := mr.ZMembers(redisstore.PresenceKey(4))
	require.NoError(t, err)
	assert.Equal(t, []string{"alive"}, members)
}
