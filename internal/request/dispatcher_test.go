package request

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/dmeise/gotalk/internal/testutil"
	"github.com/dmeise/gotalk/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestDispatcherExecutesFIFO(t *testing.T) {
	api := &MockRemoteAPI{}
	d := NewDispatcher(api, testutil.TestLogger(t), testutil.NopStats{})

	const numRequests = 10

	var (
		mu       sync.Mutex
		executed []int
	)
	for i := 0; i < numRequests; i++ {
		cursor := i
		api.On("ChatUpdate", mock.Anything, "abc", 200, cursor).
			Run(func(args mock.Arguments) {
				// jitter to surface any accidental concurrency
				time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
				mu.Lock()
				executed = append(executed, cursor)
				mu.Unlock()
			}).
			Return([]types.Message{}, nil)
	}

	var replies []<-chan MessagesResult
	for i := 0; i < numRequests; i++ {
		reply, err := d.ChatUpdate("abc", 200, i)
		require.NoError(t, err)
		replies = append(replies, reply)
	}

	d.Run()
	for _, reply := range replies {
		res := <-reply
		require.NoError(t, res.Err)
	}
	require.NoError(t, d.Shutdown(context.Background()))

	expected := make([]int, numRequests)
	for i := range expected {
		expected[i] = i
	}
	assert.Equal(t, expected, executed)
}

func TestDispatcherReplyChannelsAreOneShot(t *testing.T) {
	api := &MockRemoteAPI{}
	api.On("MarkRead", mock.Anything, "abc", 5).Return(nil)

	d := NewDispatcher(api, testutil.TestLogger(t), testutil.NopStats{})
	d.Run()

	reply, err := d.MarkRead("abc", 5)
	require.NoError(t, err)

	res, ok := <-reply
	require.True(t, ok)
	require.NoError(t, res.Err)

	// closed after the single send
	_, ok = <-reply
	assert.False(t, ok)

	require.NoError(t, d.Shutdown(context.Background()))
}

func TestDispatcherQueueFull(t *testing.T) {
	d := NewDispatcher(&MockRemoteAPI{}, testutil.TestLogger(t), testutil.NopStats{})

	// worker never started, so the queue only drains on shutdown
	for i := 0; i < queueCapacity; i++ {
		_, err := d.MarkRead("abc", i)
		require.NoError(t, err)
	}

	_, err := d.MarkRead("abc", queueCapacity)
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestDispatcherSubmitAfterShutdown(t *testing.T) {
	d := NewDispatcher(&MockRemoteAPI{}, testutil.TestLogger(t), testutil.NopStats{})
	d.Run()
	require.NoError(t, d.Shutdown(context.Background()))

	_, err := d.RoomList(0)
	assert.ErrorIs(t, err, ErrDispatcherClosed)
}

func TestDispatcherShutdownResolvesPending(t *testing.T) {
	gate := make(chan struct{})
	api := &MockRemoteAPI{}
	api.On("ChatInitial", mock.Anything, "slow", 200).
		Run(func(mock.Arguments) { <-gate }).
		Return([]types.Message{}, nil)
	api.On("MarkRead", mock.Anything, "abc", mock.Anything).Return(nil)

	d := NewDispatcher(api, testutil.TestLogger(t), testutil.NopStats{})
	d.Run()

	slow, err := d.ChatInitial("slow", 200)
	require.NoError(t, err)

	var pending []<-chan AckResult
	for i := 0; i < 3; i++ {
		reply, err := d.MarkRead("abc", i)
		require.NoError(t, err)
		pending = append(pending, reply)
	}

	done := make(chan error, 1)
	go func() { done <- d.Shutdown(context.Background()) }()

	close(gate)
	require.NoError(t, <-done)

	res := <-slow
	require.NoError(t, res.Err)

	// every queued caller gets a resolved reply, never a hang; whether
	// a given request ran or was drained depends on scheduling
	for _, reply := range pending {
		res := <-reply
		if res.Err != nil {
			assert.ErrorIs(t, res.Err, ErrDispatcherClosed)
		}
	}
}

func TestDispatcherShutdownIdempotent(t *testing.T) {
	d := NewDispatcher(&MockRemoteAPI{}, testutil.TestLogger(t), testutil.NopStats{})
	d.Run()

	require.NoError(t, d.Shutdown(context.Background()))
	require.NoError(t, d.Shutdown(context.Background()))
}

func TestDispatcherShutdownContextExpired(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)

	api := &MockRemoteAPI{}
	api.On("ChatInitial", mock.Anything, "slow", 200).
		Run(func(mock.Arguments) { <-gate }).
		Return([]types.Message{}, nil)

	d := NewDispatcher(api, testutil.TestLogger(t), testutil.NopStats{})
	d.Run()

	_, err := d.ChatInitial("slow", 200)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = d.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatcherRoomListPropagatesCursor(t *testing.T) {
	api := &MockRemoteAPI{}
	api.On("RoomList", mock.Anything, int64(0)).
		Return([]types.Room{{Token: "abc"}}, int64(1700000000), nil)

	d := NewDispatcher(api, testutil.TestLogger(t), testutil.NopStats{})
	d.Run()

	reply, err := d.RoomList(0)
	require.NoError(t, err)
	res := <-reply
	require.NoError(t, res.Err)
	assert.Equal(t, int64(1700000000), res.Cursor)
	require.Len(t, res.Rooms, 1)
	assert.Equal(t, "abc", res.Rooms[0].Token)

	require.NoError(t, d.Shutdown(context.Background()))
}

func TestDispatcherFailedCallDeliversError(t *testing.T) {
	api := &MockRemoteAPI{}
	api.On("SendMessage", mock.Anything, "abc", "hi").
		Return(types.Message{}, fmt.Errorf("boom"))

	d := NewDispatcher(api, testutil.TestLogger(t), testutil.NopStats{})
	d.Run()

	reply, err := d.SendMessage("abc", "hi")
	require.NoError(t, err)
	res := <-reply
	assert.EqualError(t, res.Err, "boom")

	require.NoError(t, d.Shutdown(context.Background()))
}
