// Copyright 2019 Lanikai Labs. All rights reserved.

package ringrtc

import "time"

// actor serializes all access to Call state onto a single goroutine, the
// way ICE/DTLS state transitions are serialized onto one connection loop.
// Every public Call method enqueues a closure rather than mutating
// state directly; the frame-crypto context is the one piece of state that
// bypasses the actor, guarded by its own mutex instead (it's called
// synchronously from the media engine's capture/render thread).
type actor struct {
	jobs   chan func()
	done   chan struct{}
	ticker *time.Ticker
}

func newActor(tickInterval time.Duration) *actor {
	a := &actor{
		jobs:   make(chan func(), 64),
		done:   make(chan struct{}),
		ticker: time.NewTicker(tickInterval),
	}
	return a
}

// run consumes jobs until stop is called, invoking onTick once per tick in
// between jobs. It must be started in its own goroutine.
func (a *actor) run(onTick func()) {
	for {
		select {
		case job := <-a.jobs:
			job()
		case <-a.ticker.C:
			onTick()
		case <-a.done:
			a.ticker.Stop()
			return
		}
	}
}

// enqueue schedules job to run on the actor goroutine. Safe to call from
// any goroutine, including the actor's own (where it runs after any
// already-queued jobs).
func (a *actor) enqueue(job func()) {
	select {
	case a.jobs <- job:
	case <-a.done:
	}
}

// delay schedules job to run on the actor goroutine after d elapses. The
// returned timer can be stopped to cancel it, e.g. when a key rotation is
// superseded before its apply delay expires.
func (a *actor) delay(d time.Duration, job func()) *time.Timer {
	return time.AfterFunc(d, func() { a.enqueue(job) })
}

// stop ends the actor's run loop once its current job (if any) finishes.
// Safe to call more than once.
func (a *actor) stop() {
	select {
	case <-a.done:
	default:
		close(a.done)
	}
}
