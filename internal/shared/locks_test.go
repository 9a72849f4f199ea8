package shared

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutexSerialisesSameKey(t *testing.T) {
	m := NewKeyedMutex()
	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(context.Background(), "k")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			release()
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, peak)
	require.Zero(t, m.Held())
}

func TestKeyedMutexHonoursContext(t *testing.T) {
	m := NewKeyedMutex()
	release, err := m.Acquire(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Acquire(ctx, "k")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()
	require.Zero(t, m.Held())
}

func TestRedisLockerSetsAndReleasesKey(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewRedisLocker(client, time.Minute)
	release, err := locker.Acquire(context.Background(), "tenant:SALES:1")
	require.NoError(t, err)
	require.True(t, srv.Exists(SourceLockKey("tenant:SALES:1")))

	release()
	require.False(t, srv.Exists(SourceLockKey("tenant:SALES:1")))
}

func TestRedisLockerTimesOutWhileHeldElsewhere(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, srv.Set(SourceLockKey("busy"), "other-process"))

	locker := NewRedisLocker(client, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	_, err := locker.Acquire(ctx, "busy")
	require.ErrorIs(t, err, ErrLockTimeout)

	// The foreign holder's token is left alone.
	got, err := srv.Get(SourceLockKey("busy"))
	require.NoError(t, err)
	require.Equal(t, "other-process", got)
}
