package redis

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPresenceTTL is how long a viewer counts without a refresh.
const DefaultPresenceTTL = time.Minute

// PubSub fans board events out across relay instances and tracks who is
// watching each board.
type PubSub struct {
	client      *redis.Client
	presenceTTL atomic.Int64
}

func New(ctx context.Context, addr, password string, db int) (*PubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis.New: ping: %w", err)
	}

	return NewFromClient(client), nil
}

// NewFromClient wraps an existing client. The PubSub takes ownership.
func NewFromClient(client *redis.Client) *PubSub {
	ps := &PubSub{client: client}
	ps.presenceTTL.Store(int64(DefaultPresenceTTL))
	return ps
}

// SetPresenceTTL changes how long a viewer counts without a refresh.
func (ps *PubSub) SetPresenceTTL(d time.Duration) {
	if d > 0 {
		ps.presenceTTL.Store(int64(d))
	}
}

func (ps *PubSub) PresenceTTL() time.Duration { return time.Duration(ps.presenceTTL.Load()) }

func (ps *PubSub) Close() error {
	if err := ps.client.Close(); err != nil {
		return fmt.Errorf("redis.PubSub.Close: %w", err)
	}
	return nil
}

func (ps *PubSub) Ping(ctx context.Context) error {
	if err := ps.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis.PubSub.Ping: %w", err)
	}
	return nil
}

func (ps *PubSub) Publish(ctx context.Context, boardID int64, payload []byte) error {
	if err := ps.client.Publish(ctx, BoardChannel(boardID), payload).Err(); err != nil {
		return fmt.Errorf("redis.PubSub.Publish: %w", err)
	}
	return nil
}

// Subscribe streams every payload published for boardID until ctx ends or
// cleanup is called. The returned channel is closed when the stream stops.
func (ps *PubSub) Subscribe(ctx context.Context, boardID int64) (<-chan []byte, func(), error) {
	sub := ps.client.Subscribe(ctx, BoardChannel(boardID))

	// Wait for subscription confirmation.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis.PubSub.Subscribe: receive confirmation: %w", err)
	}

	out := make(chan []byte, 64)
	redisCh := sub.Channel()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-redisCh:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	cleanup := func() {
		_ = sub.Close()
	}

	return out, cleanup, nil
}

// Join records member as a viewer of boardID, or refreshes it. Members are
// scored by when they were last seen, so a relay that dies without calling
// Leave drops out once PresenceTTL passes.
func (ps *PubSub) Join(ctx context.Context, boardID int64, member string) error {
	key := PresenceKey(boardID)
	_, err := ps.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(time.Now().UnixMilli()), Member: member})
		pipe.Expire(ctx, key, ps.PresenceTTL())
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis.PubSub.Join: %w", err)
	}
	return nil
}

func (ps *PubSub) Leave(ctx context.Context, boardID int64, member string) error {
	if err := ps.client.ZRem(ctx, PresenceKey(boardID), member).Err(); err != nil {
		return fmt.Errorf("redis.PubSub.Leave: %w", err)
	}
	return nil
}

// Viewers returns the number of connections watching boardID on any
// instance. Members not refreshed within PresenceTTL are pruned first.
func (ps *PubSub) Viewers(ctx context.Context, boardID int64) (int64, error) {
	key := PresenceKey(boardID)
	cutoff := time.Now().Add(-ps.PresenceTTL()).UnixMilli()

	var card *redis.IntCmd
	_, err := ps.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		card = pipe.ZCard(ctx, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis.PubSub.Viewers: %w", err)
	}
	return card.Val(), nil
}

// BoardChannel returns the Redis channel name for a board.
func BoardChannel(boardID int64) string {
	return "board:" + strconv.FormatInt(boardID, 10)
}

// PresenceKey returns the Redis sorted set holding a board's viewers.
func PresenceKey(boardID int64) string {
	return "presence:board:" + strconv.FormatInt(boardID, 10)
}
