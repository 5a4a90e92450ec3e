// Copyright 2019 Lanikai Labs. All rights reserved.

package roster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bihovi584om/ringrtc/internal/ids"
)

func userId(s string) *ids.UserId {
	u := ids.UserId(s)
	return &u
}

func TestReconcileDropsLocalDemuxIdAndMarksParticipation(t *testing.T) {
	r := New(ids.DemuxId(1))
	require.False(t, r.EverParticipated())

	peek := PeekInfo{Devices: []PeekDevice{
		{DemuxId: 1, UserId: userId("me")},
		{DemuxId: 2, UserId: userId("bob")},
	}}
	result := r.Reconcile(time.Now(), peek)

	require.True(t, r.EverParticipated())
	require.Len(t, r.Devices(), 1)
	require.Equal(t, ids.DemuxId(2), r.Devices()[0].DemuxId)
	require.True(t, result.DemuxIdsChanged)
}

func TestReconcileDropsDevicesWithNoUserId(t *testing.T) {
	r := New(ids.DemuxId(1))
	peek := PeekInfo{Devices: []PeekDevice{
		{DemuxId: 2, UserId: nil},
		{DemuxId: 3, UserId: userId("carol")},
	}}
	r.Reconcile(time.Now(), peek)
	require.Len(t, r.Devices(), 1)
	require.Equal(t, ids.DemuxId(3), r.Devices()[0].DemuxId)
}

func TestReconcilePreservesExistingEntryAcrossPeeks(t *testing.T) {
	r := New(ids.DemuxId(1))
	now := time.Now()

	r.Reconcile(now, PeekInfo{Devices: []PeekDevice{{DemuxId: 2, UserId: userId("bob")}}})
	first := r.ByDemuxId(2)
	first.MediaKeysReceived = true

	result := r.Reconcile(now.Add(time.Second), PeekInfo{Devices: []PeekDevice{{DemuxId: 2, UserId: userId("bob")}}})

	require.False(t, result.DemuxIdsChanged)
	require.Same(t, first, r.ByDemuxId(2))
	require.True(t, r.ByDemuxId(2).MediaKeysReceived)
}

func TestReconcileReplacesEntryWhenUserIdChangesUnderSameDemuxId(t *testing.T) {
	r := New(ids.DemuxId(1))
	now := time.Now()

	r.Reconcile(now, PeekInfo{Devices: []PeekDevice{{DemuxId: 2, UserId: userId("bob")}}})
	r.ByDemuxId(2).MediaKeysReceived = true

	r.Reconcile(now, PeekInfo{Devices: []PeekDevice{{DemuxId: 2, UserId: userId("carol")}}})

	updated := r.ByDemuxId(2)
	require.Equal(t, ids.UserId("carol"), updated.UserId)
	require.False(t, updated.MediaKeysReceived)
}

func TestReconcileReportsNewlyAddedAndDepartedUserIds(t *testing.T) {
	r := New(ids.DemuxId(1))
	now := time.Now()

	result := r.Reconcile(now, PeekInfo{Devices: []PeekDevice{
		{DemuxId: 2, UserId: userId("bob")},
		{DemuxId: 3, UserId: userId("carol")},
	}})
	require.ElementsMatch(t, []ids.UserId{"bob", "carol"}, result.NewlyAddedUserIds)
	require.Empty(t, result.DepartedUserIds)

	result = r.Reconcile(now, PeekInfo{Devices: []PeekDevice{
		{DemuxId: 2, UserId: userId("bob")},
	}})
	require.Empty(t, result.NewlyAddedUserIds)
	require.ElementsMatch(t, []ids.UserId{"carol"}, result.DepartedUserIds)
	require.False(t, result.IsEmpty)
}

func TestReconcileReportsIsEmptyWhenNoOtherDevicesRemain(t *testing.T) {
	r := New(ids.DemuxId(1))
	result := r.Reconcile(time.Now(), PeekInfo{Devices: []PeekDevice{
		{DemuxId: 1, UserId: userId("me")},
	}})
	require.True(t, result.IsEmpty)
}

func TestPeekChangeDetectionFiresOnFirstPeek(t *testing.T) {
	r := New(ids.DemuxId(1))
	result := r.ReconcilePeekOnly(PeekInfo{Devices: []PeekDevice{{DemuxId: 2, UserId: userId("bob")}}})
	require.True(t, result.PeekChanged)
}

func TestPeekChangeDetectionIsStableWhenNothingChanges(t *testing.T) {
	r := New(ids.DemuxId(1))
	peek := PeekInfo{
		Devices:        []PeekDevice{{DemuxId: 2, UserId: userId("bob")}},
		PendingDevices: []PeekDevice{{DemuxId: 4, UserId: userId("dave")}},
	}
	first := r.ReconcilePeekOnly(peek)
	require.True(t, first.PeekChanged)

	second := r.ReconcilePeekOnly(peek)
	require.False(t, second.PeekChanged)
}

func TestPeekChangeDetectionFiresWhenOnlyPendingUsersChange(t *testing.T) {
	r := New(ids.DemuxId(1))
	peek := PeekInfo{
		Devices:        []PeekDevice{{DemuxId: 2, UserId: userId("bob")}},
		PendingDevices: []PeekDevice{{DemuxId: 4, UserId: userId("dave")}},
	}
	r.ReconcilePeekOnly(peek)

	peek.PendingDevices = []PeekDevice{{DemuxId: 5, UserId: userId("erin")}}
	result := r.ReconcilePeekOnly(peek)
	require.True(t, result.PeekChanged)
}

func TestPeekChangeDetectionFiresWhenEraIdChanges(t *testing.T) {
	r := New(ids.DemuxId(1))
	era1 := ids.EraId("era-1")
	era2 := ids.EraId("era-2")
	peek := PeekInfo{Devices: []PeekDevice{{DemuxId: 2, UserId: userId("bob")}}, EraId: &era1}
	r.ReconcilePeekOnly(peek)

	peek.EraId = &era2
	result := r.ReconcilePeekOnly(peek)
	require.True(t, result.PeekChanged)
}

func TestApplySpeakerIgnoresStaleTimestamp(t *testing.T) {
	r := New(ids.DemuxId(1))
	r.Reconcile(time.Now(), PeekInfo{Devices: []PeekDevice{{DemuxId: 2, UserId: userId("bob")}}})

	require.True(t, r.ApplySpeaker(2, 100, time.Now()))
	require.False(t, r.ApplySpeaker(2, 50, time.Now()))
}

func TestApplySpeakerIgnoresUnknownDemuxId(t *testing.T) {
	r := New(ids.DemuxId(1))
	require.False(t, r.ApplySpeaker(99, 100, time.Now()))
}

func TestSortedBySpeakerOrdersBySpeakerThenAddedThenDemuxId(t *testing.T) {
	r := New(ids.DemuxId(1))
	base := time.Now()
	r.Reconcile(base, PeekInfo{Devices: []PeekDevice{
		{DemuxId: 2, UserId: userId("bob")},
		{DemuxId: 3, UserId: userId("carol")},
		{DemuxId: 4, UserId: userId("dave")},
	}})

	r.ApplySpeaker(3, 10, base.Add(time.Second))
	r.ApplySpeaker(4, 20, base.Add(2*time.Second))

	sorted := r.SortedBySpeaker()
	require.Equal(t, []ids.DemuxId{4, 3, 2}, demuxIds(sorted))
}

func demuxIds(devices []*RemoteDeviceState) []ids.DemuxId {
	out := make([]ids.DemuxId, len(devices))
	for i, d := range devices {
		out[i] = d.DemuxId
	}
	return out
}

func TestApplyForwardingVideoTracksAllocatedHeightAndClearsOnStop(t *testing.T) {
	r := New(ids.DemuxId(1))
	r.Reconcile(time.Now(), PeekInfo{Devices: []PeekDevice{{DemuxId: 2, UserId: userId("bob")}}})

	changed := r.ApplyForwardingVideo(map[ids.DemuxId]uint32{2: 720})
	require.True(t, changed)
	require.True(t, r.ByDemuxId(2).ForwardingVideo)
	require.EqualValues(t, 720, r.ByDemuxId(2).ServerAllocatedHeight)

	r.ByDemuxId(2).ClientDecodedHeight = 480
	require.True(t, r.ByDemuxId(2).IsHigherResolutionPending())

	changed = r.ApplyForwardingVideo(map[ids.DemuxId]uint32{})
	require.True(t, changed)
	require.False(t, r.ByDemuxId(2).ForwardingVideo)
	require.False(t, r.ByDemuxId(2).IsHigherResolutionPending())
}

func TestApplyHeartbeatIgnoresStaleTimestampAndTracksStateChange(t *testing.T) {
	r := New(ids.DemuxId(1))
	r.Reconcile(time.Now(), PeekInfo{Devices: []PeekDevice{{DemuxId: 2, UserId: userId("bob")}}})

	muted := true
	known, accepted, changed, _ := r.ApplyHeartbeat(2, 100, HeartbeatState{AudioMuted: &muted})
	require.True(t, known)
	require.True(t, accepted)
	require.True(t, changed)

	known, accepted, changed, _ = r.ApplyHeartbeat(2, 50, HeartbeatState{AudioMuted: &muted})
	require.True(t, known)
	require.False(t, accepted)
	require.False(t, changed)
}

func TestApplyHeartbeatClearsDecodedHeightOnNewlyMutedVideo(t *testing.T) {
	r := New(ids.DemuxId(1))
	r.Reconcile(time.Now(), PeekInfo{Devices: []PeekDevice{{DemuxId: 2, UserId: userId("bob")}}})
	r.ByDemuxId(2).ClientDecodedHeight = 480

	videoMuted := true
	_, _, _, newlyMuted := r.ApplyHeartbeat(2, 10, HeartbeatState{VideoMuted: &videoMuted})
	require.True(t, newlyMuted)
	require.EqualValues(t, 0, r.ByDemuxId(2).ClientDecodedHeight)
}

func TestMarkMediaKeyReceivedRejectsForgedUserId(t *testing.T) {
	r := New(ids.DemuxId(1))
	r.Reconcile(time.Now(), PeekInfo{Devices: []PeekDevice{{DemuxId: 2, UserId: userId("bob")}}})

	matched, forged := r.MarkMediaKeyReceived(2, "eve")
	require.False(t, matched)
	require.True(t, forged)
	require.False(t, r.ByDemuxId(2).MediaKeysReceived)

	matched, forged = r.MarkMediaKeyReceived(2, "bob")
	require.True(t, matched)
	require.False(t, forged)
	require.True(t, r.ByDemuxId(2).MediaKeysReceived)
}

func TestSetClientDecodedHeightReportsPendingTransition(t *testing.T) {
	r := New(ids.DemuxId(1))
	r.Reconcile(time.Now(), PeekInfo{Devices: []PeekDevice{{DemuxId: 2, UserId: userId("bob")}}})
	r.ApplyForwardingVideo(map[ids.DemuxId]uint32{2: 720})

	// 720 allocated and nothing decoded is already pending; decoding 480
	// leaves it pending, so there is no transition yet.
	changed := r.SetClientDecodedHeight(2, 480)
	require.False(t, changed)

	changed = r.SetClientDecodedHeight(2, 720)
	require.True(t, changed)
	require.False(t, r.ByDemuxId(2).IsHigherResolutionPending())
}
