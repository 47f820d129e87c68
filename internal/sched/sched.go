// Package sched is a process-owned one-shot callback scheduler. Domain
// operations hand it (fire-at, closure) pairs for reservation-expiry and
// overtime warnings; it fires each closure once on its own goroutine.
//
// There is no cancellation. Callbacks are expected to re-check the live
// state that motivated them and do nothing if it no longer holds.
package sched

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

type entry struct {
	at time.Time
	fn func()
}

type entryQueue []entry

func (q entryQueue) Len() int            { return len(q) }
func (q entryQueue) Less(i, j int) bool  { return q[i].at.Before(q[j].at) }
func (q entryQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *entryQueue) Push(x any)         { *q = append(*q, x.(entry)) }
func (q *entryQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	*q = old[:n-1]
	return e
}

// Scheduler fires deferred callbacks. Schedule may be called before Start;
// nothing fires until the run loop is up.
type Scheduler struct {
	mu    sync.Mutex
	queue entryQueue
	wake  chan struct{}
	now   func() time.Time
}

func New() *Scheduler {
	return &Scheduler{
		wake: make(chan struct{}, 1),
		now:  time.Now,
	}
}

// Schedule registers fn to run once at the given time. A fire time in the
// past runs on the next loop iteration.
func (s *Scheduler) Schedule(at time.Time, fn func()) {
	s.mu.Lock()
	heap.Push(&s.queue, entry{at: at, fn: fn})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Len reports the number of pending callbacks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Start launches the run loop. It returns when ctx is cancelled; pending
// callbacks are dropped at that point, which is the documented durability
// level for these warnings.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		wait := s.fireDue()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// fireDue runs every callback whose time has come and returns how long to
// sleep until the next one.
func (s *Scheduler) fireDue() time.Duration {
	now := s.now()

	s.mu.Lock()
	var due []entry
	for s.queue.Len() > 0 && !s.queue[0].at.After(now) {
		due = append(due, heap.Pop(&s.queue).(entry))
	}
	wait := time.Hour
	if s.queue.Len() > 0 {
		wait = s.queue[0].at.Sub(now)
	}
	s.mu.Unlock()

	for _, e := range due {
		go e.fn()
	}
	return wait
}
