// Copyright 2019 Lanikai Labs. All rights reserved.

package ringrtc

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TickInterval = 10 * time.Millisecond
	return cfg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, time.Millisecond)
}

func TestConnectRejectsSecondCallWhileBusy(t *testing.T) {
	atomic.StoreInt32(&processBusy, 0)
	defer atomic.StoreInt32(&processBusy, 0)

	obs1 := newFakeObserver()
	c1 := NewCall(testConfig(), obs1, newFakeSfuClient(), newFakeMediaEngine())
	require.NoError(t, c1.Connect(context.Background()))
	defer c1.Disconnect()

	obs2 := newFakeObserver()
	c2 := NewCall(testConfig(), obs2, newFakeSfuClient(), newFakeMediaEngine())
	err := c2.Connect(context.Background())
	require.Error(t, err)
	waitFor(t, func() bool { return len(obs2.endReasons) == 1 })
	require.Equal(t, EndReasonCallManagerIsBusy, obs2.endReasons[0])
}

func TestDisconnectEndsExactlyOnce(t *testing.T) {
	atomic.StoreInt32(&processBusy, 0)
	defer atomic.StoreInt32(&processBusy, 0)

	obs := newFakeObserver()
	c := NewCall(testConfig(), obs, newFakeSfuClient(), newFakeMediaEngine())
	require.NoError(t, c.Connect(context.Background()))

	c.Disconnect()
	c.Disconnect()
	c.Disconnect()

	waitFor(t, func() bool { return len(obs.endReasons) >= 1 })
	time.Sleep(20 * time.Millisecond)
	require.Len(t, obs.endReasons, 1)
	require.Equal(t, EndReasonDeviceExplicitlyDisconnected, obs.endReasons[0])
}

func TestJoinRejectedWhenAtMaxDevices(t *testing.T) {
	atomic.StoreInt32(&processBusy, 0)
	defer atomic.StoreInt32(&processBusy, 0)

	obs := newFakeObserver()
	c := NewCall(testConfig(), obs, newFakeSfuClient(), newFakeMediaEngine())
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	maxDevices := uint32(2)
	c.SetPeekResult(PeekInfo{
		Devices:    []PeekDevice{{DemuxId: 1}, {DemuxId: 2}},
		MaxDevices: &maxDevices,
	})

	c.Join(context.Background())
	waitFor(t, func() bool { return len(obs.endReasons) == 1 })
	require.Equal(t, EndReasonHasMaxDevices, obs.endReasons[0])
}

func TestJoinSucceedsAndReachesJoinedState(t *testing.T) {
	atomic.StoreInt32(&processBusy, 0)
	defer atomic.StoreInt32(&processBusy, 0)

	obs := newFakeObserver()
	sfu := newFakeSfuClient()
	sfu.joinResults = []JoinResult{{LocalDemuxId: 99}}

	c := NewCall(testConfig(), obs, sfu, newFakeMediaEngine())
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	c.Join(context.Background())

	waitFor(t, func() bool {
		for _, s := range obs.joinStates {
			if s.Kind == JoinJoined {
				return true
			}
		}
		return false
	})
}

func TestGroupRingLifecycle(t *testing.T) {
	atomic.StoreInt32(&processBusy, 0)
	defer atomic.StoreInt32(&processBusy, 0)

	obs := newFakeObserver()
	sfu := newFakeSfuClient()
	sfu.joinResults = []JoinResult{{LocalDemuxId: 1}}

	c := NewCall(testConfig(), obs, sfu, newFakeMediaEngine())
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	c.Join(context.Background())
	waitFor(t, func() bool { return len(obs.joinStates) > 0 && obs.joinStates[len(obs.joinStates)-1].Kind == JoinJoined })

	// Not yet known to be the call's creator: ring() is deferred.
	require.NoError(t, c.Ring(nil))
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, obs.groupMessages)

	c.actor.enqueue(func() {
		if intention := c.ring.onJoinedAsCreator(true, EraId("0011223344556677")); intention != nil {
			c.sendRingIntention(*intention)
		}
	})
	waitFor(t, func() bool { return len(obs.groupMessages) == 1 })

	c.Leave()
	waitFor(t, func() bool { return len(obs.groupMessages) == 2 })
}

func TestPollingScheduleThrottlesRepeatedTriggers(t *testing.T) {
	atomic.StoreInt32(&processBusy, 0)
	defer atomic.StoreInt32(&processBusy, 0)

	obs := newFakeObserver()
	sfu := newFakeSfuClient()
	sfu.peekResults = []PeekResult{{Peek: PeekInfo{EraId: eraPtr("a")}}}

	c := NewCall(testConfig(), obs, sfu, newFakeMediaEngine())
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	c.SetMembershipProof([]byte("proof"))
	waitFor(t, func() bool { return len(obs.peeks) >= 1 })

	// A second trigger right away should not issue a second concurrent
	// peek; it should instead be deduped and settle once the first
	// resolves, per the scheduler's RequestRequested.ShouldRequestAgain
	// rule.
	c.actor.enqueue(func() { c.triggerPeek() })
	time.Sleep(20 * time.Millisecond)
	require.LessOrEqual(t, len(obs.peeks), 2)
}

func eraPtr(s string) *EraId {
	e := EraId(s)
	return &e
}
