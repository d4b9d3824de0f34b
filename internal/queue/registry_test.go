package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vn.io.arda/greeting/internal/queue"
	"vn.io.arda/greeting/internal/queue/memory"
)

func TestRegistry_NotConnected_FailsImmediately(t *testing.T) {
	m := queue.NewManager(memory.New())

	done := make(chan error, 1)
	go func() {
		_, err := m.Registry().Channel(context.Background(), "greetings")
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, queue.ErrChannelCreation)
		assert.ErrorIs(t, err, queue.ErrNotConnected)
	case <-time.After(time.Second):
		t.Fatal("registry blocked without a connection")
	}
	assert.Equal(t, 0, m.Registry().Len())
}

func TestRegistry_ConcurrentFirstUse_CreatesOneChannel(t *testing.T) {
	b := &countingBroker{Broker: memory.New()}
	m := queue.NewManager(b)
	require.NoError(t, m.Connect(context.Background()))
	t.Cleanup(func() { _ = m.Close() })

	const callers = 64
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		got   = make([]queue.Channel, callers)
		errs  = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			got[i], errs[i] = m.Registry().Channel(context.Background(), "greetings")
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.True(t, got[i] == got[0], "caller %d received a different channel", i)
	}
	assert.Equal(t, int32(1), b.opened.Load())
	assert.Equal(t, 1, m.Registry().Len())
}

func TestRegistry_ReusesChannelPerQueueName(t *testing.T) {
	b := &countingBroker{Broker: memory.New()}
	m := queue.NewManager(b)
	require.NoError(t, m.Connect(context.Background()))
	t.Cleanup(func() { _ = m.Close() })

	ctx := context.Background()
	greetings1, err := m.Registry().Channel(ctx, "greetings")
	require.NoError(t, err)
	greetings2, err := m.Registry().Channel(ctx, "greetings")
	require.NoError(t, err)
	audit, err := m.Registry().Channel(ctx, "audit")
	require.NoError(t, err)

	assert.True(t, greetings1 == greetings2)
	assert.False(t, greetings1 == audit)
	assert.Equal(t, int32(2), b.opened.Load())
	assert.Equal(t, 2, m.Registry().Len())
}

func TestRegistry_ChannelRefused_IsNotCached(t *testing.T) {
	b, m := connected(t)
	b.FailChannels(errors.New("channel_max reached"))

	_, err := m.Registry().Channel(context.Background(), "greetings")
	assert.ErrorIs(t, err, queue.ErrChannelCreation)
	assert.Equal(t, 0, m.Registry().Len())

	b.FailChannels(nil)
	_, err = m.Registry().Channel(context.Background(), "greetings")
	assert.NoError(t, err)
	assert.Equal(t, 1, m.Registry().Len())
}

func TestRegistry_CancelledCallerDoesNotFailOthers(t *testing.T) {
	m := queue.NewManager(&slowBroker{Broker: memory.New(), delay: 100 * time.Millisecond})
	require.NoError(t, m.Connect(context.Background()))
	t.Cleanup(func() { _ = m.Close() })

	short, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	var (
		wg           sync.WaitGroup
		shortErr     error
		liveCh       queue.Channel
		liveErr      error
		startedShort = make(chan struct{})
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		close(startedShort)
		_, shortErr = m.Registry().Channel(short, "greetings")
	}()
	go func() {
		defer wg.Done()
		<-startedShort
		liveCh, liveErr = m.Registry().Channel(context.Background(), "greetings")
	}()
	wg.Wait()

	assert.ErrorIs(t, shortErr, queue.ErrChannelCreation)
	assert.ErrorIs(t, shortErr, context.DeadlineExceeded)

	require.NoError(t, liveErr)
	assert.NotNil(t, liveCh)
	assert.Equal(t, 1, m.Registry().Len())

	again, err := m.Registry().Channel(context.Background(), "greetings")
	require.NoError(t, err)
	assert.True(t, again == liveCh)
}
