// Package concurrency holds the loop and state primitives the collector is built on.
package concurrency

import (
	"context"
	mathrand "math/rand"
	"sync"
	"time"
)

// RunLoop calls fn once immediately, whenever signal fires and every resync
// interval. A call that returns false is retried with a growing backoff capped at
// maxRetry. The loop ends when ctx is done or signal is closed.
func RunLoop(ctx context.Context, signal <-chan struct{}, resync, maxRetry time.Duration, fn func(context.Context) bool) {
	ch := make(chan struct{}, 1)
	ch <- struct{}{} // initial run

	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-signal:
				if !ok {
					return
				}
				select {
				case ch <- struct{}{}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	if resync > 0 {
		go func() {
			timer := time.NewTimer(Jitter(resync))
			defer timer.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-timer.C:
				}
				select {
				case ch <- struct{}{}:
				default:
				}
				timer.Reset(Jitter(resync))
			}
		}()
	}

	attempt := func() {
		var lastRetry time.Duration
		for ctx.Err() == nil {
			if fn(ctx) {
				return
			}

			if lastRetry == 0 {
				lastRetry = time.Millisecond * 50
			}
			lastRetry += lastRetry / 8
			if lastRetry > maxRetry {
				lastRetry = maxRetry
			}

			if !sleep(ctx, Jitter(lastRetry)) {
				return
			}
		}
	}

	for range ch {
		attempt()
		if !sleep(ctx, Jitter(time.Millisecond*100)) { // cooldown
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Jitter returns duration +/- 5%.
func Jitter(duration time.Duration) time.Duration {
	maxJitter := int64(duration) * int64(5) / 100
	if maxJitter <= 0 {
		return duration
	}
	return duration + time.Duration(mathrand.Int63n(maxJitter*2)-maxJitter)
}

// StateContainer holds the latest value of something and notifies watchers when it changes.
type StateContainer[T any] struct {
	lock     sync.Mutex
	current  T
	version  int64
	watchers map[any]chan struct{}
}

func (s *StateContainer[T]) Get() T {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.current
}

// Version is incremented by every Swap.
func (s *StateContainer[T]) Version() int64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.version
}

func (s *StateContainer[T]) Swap(val T) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.current = val
	s.version++
	s.bumpUnlocked()
}

// ReEnter notifies the watchers without changing the value.
func (s *StateContainer[T]) ReEnter() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.bumpUnlocked()
}

func (s *StateContainer[T]) bumpUnlocked() {
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Watch returns a channel that receives a notification after every change until ctx is done.
func (s *StateContainer[T]) Watch(ctx context.Context) <-chan struct{} {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.watchers == nil {
		s.watchers = map[any]chan struct{}{}
	}

	ch := make(chan struct{}, 1)
	go func() {
		<-ctx.Done()

		s.lock.Lock()
		defer s.lock.Unlock()

		delete(s.watchers, ctx)
		close(ch)
	}()

	s.watchers[ctx] = ch
	return ch
}
