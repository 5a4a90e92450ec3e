// Copyright 2019 Lanikai Labs. All rights reserved.

package ringrtc

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestActorRunsEnqueuedJobsInOrder(t *testing.T) {
	a := newActor(time.Hour)
	defer a.stop()
	go a.run(func() {})

	var order []int
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		i := i
		a.enqueue(func() {
			order = append(order, i)
			if i == 4 {
				close(done)
			}
		})
	}
	<-done
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestActorFiresTickCallback(t *testing.T) {
	a := newActor(5 * time.Millisecond)
	defer a.stop()
	var ticks int32
	go a.run(func() { atomic.AddInt32(&ticks, 1) })

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&ticks) > 0
	}, time.Second, time.Millisecond)
}

func TestActorDelayRunsJobOnActorGoroutine(t *testing.T) {
	a := newActor(time.Hour)
	defer a.stop()
	go a.run(func() {})

	done := make(chan struct{})
	a.delay(5*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("delayed job never ran")
	}
}

func TestActorStopEndsRunLoop(t *testing.T) {
	a := newActor(time.Hour)
	runReturned := make(chan struct{})
	go func() {
		a.run(func() {})
		close(runReturned)
	}()
	a.stop()
	select {
	case <-runReturned:
	case <-time.After(time.Second):
		t.Fatal("run did not return after stop")
	}
	a.stop() // idempotent
}
