package dataservice

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeListener struct {
	mu       sync.Mutex
	ch       chan *pq.Notification
	listened []string
	closed   bool
}

func newFakeListener() *fakeListener {
	return &fakeListener{ch: make(chan *pq.Notification, 8)}
}

func (f *fakeListener) Listen(channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listened = append(f.listened, channel)
	return nil
}

func (f *fakeListener) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeListener) NotificationChannel() <-chan *pq.Notification {
	return f.ch
}

func receive(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
		return Change{}
	}
}

func TestNotifierDeliversMatchingChanges(t *testing.T) {
	fl := newFakeListener()
	n := newNotifier(fl, "", nil)

	got := make(chan Change, 4)
	_, err := n.Subscribe("students", EventInsert, func(_ context.Context, c Change) error {
		got <- c
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, n.Start(context.Background()))
	defer n.Stop()
	assert.Equal(t, []string{"table_changes"}, fl.listened)

	fl.ch <- &pq.Notification{Channel: "table_changes", Extra: `{"table":"expenses","type":"INSERT","record":{"id":"e1"}}`}
	fl.ch <- &pq.Notification{Channel: "table_changes", Extra: `{"table":"students","type":"delete","record":{"id":"s0"}}`}
	fl.ch <- &pq.Notification{Channel: "table_changes", Extra: `not json`}
	fl.ch <- &pq.Notification{Channel: "table_changes", Extra: `{"table":"students","type":"insert","record":{"id":"s1"}}`}

	change := receive(t, got)
	assert.Equal(t, "students", change.Table)
	assert.Equal(t, EventInsert, change.Type)
	assert.JSONEq(t, `{"id":"s1"}`, string(change.Record))
}

func TestNotifierResyncsEverySubscriptionAfterReconnect(t *testing.T) {
	fl := newFakeListener()
	n := newNotifier(fl, "changes", nil)

	got := make(chan Change, 4)
	handler := func(_ context.Context, c Change) error {
		got <- c
		return nil
	}
	_, err := n.Subscribe("fee_payments", EventAll, handler)
	require.NoError(t, err)
	_, err = n.Subscribe("user_roles", EventDelete, handler)
	require.NoError(t, err)

	require.NoError(t, n.Start(context.Background()))
	defer n.Stop()

	fl.ch <- nil
	assert.Equal(t, EventResync, receive(t, got).Type)
	assert.Equal(t, EventResync, receive(t, got).Type)
}

func TestNotifierUnsubscribeStopsDelivery(t *testing.T) {
	fl := newFakeListener()
	n := newNotifier(fl, "", nil)

	var removedCalls int32
	removed, err := n.Subscribe("expenses", EventAll, func(context.Context, Change) error {
		atomic.AddInt32(&removedCalls, 1)
		return nil
	})
	require.NoError(t, err)
	kept := make(chan Change, 1)
	_, err = n.Subscribe("expenses", EventAll, func(_ context.Context, c Change) error {
		kept <- c
		return nil
	})
	require.NoError(t, err)
	n.Unsubscribe(removed)

	require.NoError(t, n.Start(context.Background()))
	fl.ch <- &pq.Notification{Extra: `{"table":"expenses","type":"UPDATE"}`}
	receive(t, kept)
	n.Stop()

	assert.Zero(t, atomic.LoadInt32(&removedCalls))
	assert.True(t, fl.closed)
}

func TestNotifierRunsHandlersOneAtATime(t *testing.T) {
	fl := newFakeListener()
	n := newNotifier(fl, "", nil)

	var active, maxActive int32
	done := make(chan Change, 3)
	_, err := n.Subscribe("students", EventAll, func(_ context.Context, c Change) error {
		cur := atomic.AddInt32(&active, 1)
		for {
			prev := atomic.LoadInt32(&maxActive)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxActive, prev, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		done <- c
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, n.Start(context.Background()))
	defer n.Stop()
	for i := 0; i < 3; i++ {
		fl.ch <- &pq.Notification{Extra: `{"table":"students","type":"UPDATE"}`}
	}
	for i := 0; i < 3; i++ {
		receive(t, done)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
}

func TestNotifierRetriesFailedHandler(t *testing.T) {
	restore := handlerRetryDelay
	handlerRetryDelay = 10 * time.Millisecond
	defer func() { handlerRetryDelay = restore }()

	fl := newFakeListener()
	n := newNotifier(fl, "", nil)

	var attempts int32
	done := make(chan struct{})
	_, err := n.Subscribe("expenses", EventAll, func(context.Context, Change) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("redis unavailable")
		}
		close(done)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	defer n.Stop()

	fl.ch <- &pq.Notification{Channel: "table_changes", Extra: `{"table":"expenses","type":"UPDATE"}`}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not retried")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestNotifierGivesUpAfterRetries(t *testing.T) {
	restore := handlerRetryDelay
	handlerRetryDelay = time.Millisecond
	defer func() { handlerRetryDelay = restore }()

	fl := newFakeListener()
	n := newNotifier(fl, "", nil)

	var attempts int32
	_, err := n.Subscribe("expenses", EventAll, func(context.Context, Change) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("redis unavailable")
	})
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	defer n.Stop()

	fl.ch <- &pq.Notification{Channel: "table_changes", Extra: `{"table":"expenses","type":"UPDATE"}`}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&attempts) == int32(handlerRetries+1) }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(handlerRetries+1), atomic.LoadInt32(&attempts))
}
