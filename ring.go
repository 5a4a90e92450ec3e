// Copyright 2019 Lanikai Labs. All rights reserved.

package ringrtc

// OutgoingRingStateKind tags the OutgoingRingState variant.
type OutgoingRingStateKind int

const (
	RingUnknown OutgoingRingStateKind = iota
	RingPermittedToRing
	RingWantsToRing
	RingHasSentRing
	RingNotPermittedToRing
)

// OutgoingRingState tracks whether this device is allowed to, wants to, or
// has already sent a ring for the current call, so a ring requested before
// the join response arrives is honored once permission is known, and a ring
// already sent is not silently cancelled just because others later join.
type OutgoingRingState struct {
	Kind   OutgoingRingStateKind
	RingId *RingId // valid once known, across every Kind
}

// RingIntentionKind is broadcast to the group to announce or retract a ring.
type RingIntentionKind int

const (
	RingIntentionRing RingIntentionKind = iota
	RingIntentionCancelled
)

// RingIntention is the message the Ring Coordinator asks be sent to the
// group via Observer.SendSignalingMessageToGroup.
type RingIntention struct {
	RingId RingId
	Kind   RingIntentionKind
}

// ringCoordinator implements the ring/join/roster/leave transition table.
// It holds no channel or actor reference itself; callers apply the returned
// intention.
type ringCoordinator struct {
	state OutgoingRingState
}

func newRingCoordinator() *ringCoordinator {
	return &ringCoordinator{state: OutgoingRingState{Kind: RingUnknown}}
}

// requestRing handles a caller-initiated ring() with no specific recipient.
// If permission is already known the ring may be sent immediately; if not,
// it's remembered as WantsToRing until join resolves permission.
func (c *ringCoordinator) requestRing(ringId RingId) (intention *RingIntention) {
	switch c.state.Kind {
	case RingPermittedToRing:
		c.state = OutgoingRingState{Kind: RingHasSentRing, RingId: &ringId}
		return &RingIntention{RingId: ringId, Kind: RingIntentionRing}
	default:
		c.state = OutgoingRingState{Kind: RingWantsToRing, RingId: &ringId}
		return nil
	}
}

// onJoinedAsCreator handles the join response revealing whether this device
// created the call (and is therefore permitted to ring). If a ring was
// already wanted, it's sent immediately.
func (c *ringCoordinator) onJoinedAsCreator(isCreator bool, eraId EraId) *RingIntention {
	ringId := RingIdFromEra(eraId)

	if !isCreator {
		c.state = OutgoingRingState{Kind: RingNotPermittedToRing, RingId: &ringId}
		return nil
	}

	if c.state.Kind == RingWantsToRing {
		c.state = OutgoingRingState{Kind: RingHasSentRing, RingId: &ringId}
		return &RingIntention{RingId: ringId, Kind: RingIntentionRing}
	}

	c.state = OutgoingRingState{Kind: RingPermittedToRing, RingId: &ringId}
	return nil
}

// onRosterUpdated is called whenever the roster changes while a ring is
// outstanding. Bringing other participants in while a ring has already been
// sent does not auto-cancel it; it only forecloses sending a fresh one.
func (c *ringCoordinator) onRosterUpdated(othersPresent bool) {
	if c.state.Kind == RingHasSentRing && othersPresent {
		c.state = OutgoingRingState{Kind: RingNotPermittedToRing, RingId: c.state.RingId}
	}
}

// onLeave handles a caller-initiated leave while a ring may still be
// outstanding: a ring that was already sent must be explicitly cancelled.
func (c *ringCoordinator) onLeave() *RingIntention {
	if c.state.Kind == RingHasSentRing && c.state.RingId != nil {
		intention := &RingIntention{RingId: *c.state.RingId, Kind: RingIntentionCancelled}
		c.state = OutgoingRingState{Kind: RingUnknown}
		return intention
	}
	c.state = OutgoingRingState{Kind: RingUnknown}
	return nil
}

// provideRingIdIfAbsent supplies a RingId when the caller (rather than the
// join response) is the source of truth for it, without overwriting one
// already known.
func (c *ringCoordinator) provideRingIdIfAbsent(ringId RingId) {
	if c.state.RingId == nil {
		c.state.RingId = &ringId
	}
}
