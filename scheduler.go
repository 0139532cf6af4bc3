// Copyright (C) 2024  wwhai
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, see <https://www.gnu.org/licenses/>.

package modbus

import (
	"context"
	"sync"
	"time"
)

// scheduler runs jobs one at a time, in submission order, on a single
// goroutine. Each SyncClient owns one; it is never shared between
// connections.
type scheduler struct {
	jobs chan func()
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

func newScheduler() *scheduler {
	s := &scheduler{
		jobs: make(chan func()),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *scheduler) run() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			return
		case job := <-s.jobs:
			job()
		}
	}
}

// shutdown stops the worker once the running job, if any, returns. It does
// not wait for it.
func (s *scheduler) shutdown() {
	s.once.Do(func() { close(s.quit) })
}

func (s *scheduler) closed() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

type jobResult[T any] struct {
	value T
	err   error
}

// blockOnWithTimeout runs fn on s and waits for its result. With a positive
// timeout, fn races a timer: when the timer wins, fn's context is cancelled
// and ErrTimeout is returned. A value fn still produces after that is handed
// to release (when non-nil) by the job itself, so nothing it owns leaks.
//
// A zero timeout waits for as long as fn runs.
func blockOnWithTimeout[T any](s *scheduler, timeout time.Duration, fn func(ctx context.Context) (T, error), release func(T)) (T, error) {
	var zero T
	if s.closed() {
		return zero, ErrClosed
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	var (
		mu        sync.Mutex
		abandoned bool
	)
	results := make(chan jobResult[T], 1)
	job := func() {
		v, err := fn(ctx)
		mu.Lock()
		defer mu.Unlock()
		if abandoned {
			if err == nil && release != nil {
				release(v)
			}
			return
		}
		results <- jobResult[T]{value: v, err: err}
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case s.jobs <- job:
	case <-s.quit:
		return zero, ErrClosed
	case <-expired:
		return zero, ErrTimeout
	}

	select {
	case r := <-results:
		return r.value, r.err
	case <-expired:
	}

	mu.Lock()
	abandoned = true
	mu.Unlock()
	// fn sees ErrTimeout as the cause so it is logged and counted as a timeout.
	cancel(ErrTimeout)
	// The job may have finished between the timer firing and abandonment.
	select {
	case r := <-results:
		if r.err == nil && release != nil {
			release(r.value)
		}
	default:
	}
	return zero, ErrTimeout
}
