package sched

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiresDueCallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New()
	s.Start(ctx)

	fired := make(chan struct{})
	s.Schedule(time.Now().Add(10*time.Millisecond), func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}
}

func TestPastTimeFiresImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New()
	s.Start(ctx)

	fired := make(chan struct{})
	s.Schedule(time.Now().Add(-time.Minute), func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("overdue callback never fired")
	}
}

func TestFiresInTimeOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New()
	order := make(chan int, 3)
	now := time.Now()
	// Registered out of order, before the loop is running.
	s.Schedule(now.Add(60*time.Millisecond), func() { order <- 3 })
	s.Schedule(now.Add(20*time.Millisecond), func() { order <- 1 })
	s.Schedule(now.Add(40*time.Millisecond), func() { order <- 2 })
	require.Equal(t, 3, s.Len())

	s.Start(ctx)

	for want := 1; want <= 3; want++ {
		select {
		case got := <-order:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatalf("callback %d never fired", want)
		}
	}
	assert.Zero(t, s.Len())
}

func TestCancelDropsPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	s := New()
	s.Start(ctx)

	fired := make(chan struct{}, 1)
	s.Schedule(time.Now().Add(time.Hour), func() { fired <- struct{}{} })
	cancel()

	select {
	case <-fired:
		t.Fatal("callback fired after cancellation")
	case <-time.After(50 * time.Millisecond):
	}
}
