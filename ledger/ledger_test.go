package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redismock "github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestKey(t *testing.T) {
	id := uuid.MustParse("0b9c6f0e-8d2a-4f57-9a7e-2f0f1d4c2b11")
	assert.Equal(t, "event_processed_0b9c6f0e-8d2a-4f57-9a7e-2f0f1d4c2b11", Key(PrefixGroupCreated, id))
	assert.Equal(t, "forum_membership_processed_0b9c6f0e-8d2a-4f57-9a7e-2f0f1d4c2b11", Key(PrefixMembership, id))
}

func TestRedisClaimOnce(t *testing.T) {
	mr, client := newMiniredis(t)
	l := NewRedis(client)
	ctx := context.Background()
	key := Key(PrefixGroupCreated, uuid.New())

	claimed, err := l.Claim(ctx, key, DefaultTTL)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = l.Claim(ctx, key, DefaultTTL)
	require.NoError(t, err)
	assert.False(t, claimed)

	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "true", got)
	assert.Equal(t, DefaultTTL, mr.TTL(key))
}

func TestRedisClaimExpires(t *testing.T) {
	mr, client := newMiniredis(t)
	l := NewRedis(client)
	ctx := context.Background()
	key := Key(PrefixMembership, uuid.New())

	_, err := l.Claim(ctx, key, time.Minute)
	require.NoError(t, err)

	ok, err := l.IsClaimed(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Minute)

	ok, err = l.IsClaimed(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	claimed, err := l.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestRedisKeyPrefix(t *testing.T) {
	mr, client := newMiniredis(t)
	l := NewRedis(client, WithKeyPrefix("forumsync"))

	_, err := l.Claim(context.Background(), "event_processed_x", DefaultTTL)
	require.NoError(t, err)
	assert.True(t, mr.Exists("forumsync:event_processed_x"))
}

func TestRedisConcurrentClaims(t *testing.T) {
	_, client := newMiniredis(t)
	l := NewRedis(client)
	assertSingleWinner(t, l)
}

func TestMemoryConcurrentClaims(t *testing.T) {
	assertSingleWinner(t, NewMemory())
}

func assertSingleWinner(t *testing.T, l Ledger) {
	t.Helper()

	key := Key(PrefixGroupCreated, uuid.New())
	var (
		wg    sync.WaitGroup
		wins  atomic.Int32
		start = make(chan struct{})
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := l.Claim(context.Background(), key, DefaultTTL)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestRedisErrors(t *testing.T) {
	client, mock := redismock.NewClientMock()
	l := NewRedis(client)
	ctx := context.Background()
	errDown := errors.New("connection refused")

	mock.ExpectSetNX("k", "true", DefaultTTL).SetErr(errDown)
	_, err := l.Claim(ctx, "k", DefaultTTL)
	assert.ErrorIs(t, err, errDown)

	mock.ExpectExists("k").SetErr(errDown)
	_, err = l.IsClaimed(ctx, "k")
	assert.ErrorIs(t, err, errDown)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	claimed, err := m.Claim(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, _ = m.Claim(ctx, "k", time.Minute)
	assert.False(t, claimed)

	now = now.Add(time.Minute)
	ok, _ := m.IsClaimed(ctx, "k")
	assert.False(t, ok)

	m.Purge()
	assert.Equal(t, 0, m.claims.Size())

	claimed, _ = m.Claim(ctx, "k", time.Minute)
	assert.True(t, claimed)
}
