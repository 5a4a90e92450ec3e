// Copyright 2019 Lanikai Labs. All rights reserved.

package ringrtc

import "time"

// GroupKind distinguishes the two group-identity schemes a Call can be
// configured for; it only affects how membership proofs and group members
// are interpreted by the caller, not anything in the actor itself.
type GroupKind int

const (
	GroupKindManagedGroup GroupKind = iota
	GroupKindCallLink
)

// Config holds the fixed parameters of a Call, supplied to NewCall and
// never changed afterward.
type Config struct {
	GroupId   GroupId
	GroupKind GroupKind

	// LocalUserId identifies this participant, used solely to decide ring
	// permission: a peek reporting this user as Creator grants permission to
	// ring the group.
	LocalUserId UserId

	DataMode DataMode

	// TickInterval drives the actor's periodic work: heartbeat broadcast,
	// stats sampling, membership-proof refresh checks, and peek-freshness
	// checks all run off this single ticker rather than their own timers.
	TickInterval time.Duration

	HeartbeatInterval      time.Duration
	StatsInterval          time.Duration
	StatsInitialOffset     time.Duration
	AudioLevelInterval     time.Duration
	MembershipProofRefresh time.Duration
	PeekRequestTimeout     time.Duration
	PeekFailureBackoff     time.Duration
	PeriodicPeekMaxAge     time.Duration
	PostLeaveRepeekDelay   time.Duration
	KeyRotationApplyDelay  time.Duration
}

// DefaultConfig returns the parameter set used when the caller doesn't
// override a value, matching the intervals given in the polling and
// concurrency design.
func DefaultConfig() Config {
	return Config{
		DataMode:               DataModeNormal,
		TickInterval:           200 * time.Millisecond,
		HeartbeatInterval:      time.Second,
		StatsInterval:          10 * time.Second,
		StatsInitialOffset:     2 * time.Second,
		AudioLevelInterval:     200 * time.Millisecond,
		MembershipProofRefresh: 24 * time.Hour,
		PeekRequestTimeout:     5 * time.Second,
		PeekFailureBackoff:     5 * time.Second,
		PeriodicPeekMaxAge:     10 * time.Second,
		PostLeaveRepeekDelay:   2 * time.Second,
		KeyRotationApplyDelay:  3 * time.Second,
	}
}
