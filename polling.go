// Copyright 2019 Lanikai Labs. All rights reserved.

package ringrtc

import "time"

// RemoteDevicesRequestStateKind tags the RemoteDevicesRequestState variant.
type RemoteDevicesRequestStateKind int

const (
	RequestWaitingForMembershipProof RemoteDevicesRequestStateKind = iota
	RequestNeverRequested
	RequestRequested
	RequestUpdated
	RequestFailed
)

// RemoteDevicesRequestState tracks the lifecycle of the peek request that
// backs the roster, so the scheduler can dedup overlapping triggers and
// back off after a failure rather than retrying in a tight loop.
type RemoteDevicesRequestState struct {
	Kind RemoteDevicesRequestStateKind

	// At is the time the request was sent (Requested/Failed) or the peek
	// last succeeded (Updated).
	At time.Time

	// ShouldRequestAgain is valid for Kind == RequestRequested: a trigger
	// fired while a request was already in flight, so the scheduler must
	// issue one more request as soon as the in-flight one resolves.
	ShouldRequestAgain bool
}

func requestWaitingForMembershipProof() RemoteDevicesRequestState {
	return RemoteDevicesRequestState{Kind: RequestWaitingForMembershipProof}
}

func requestNeverRequested() RemoteDevicesRequestState {
	return RemoteDevicesRequestState{Kind: RequestNeverRequested}
}

// scheduler decides, for a given trigger and current RemoteDevicesRequestState,
// whether a peek request should be issued now, and what the next state is.
type scheduler struct {
	cfg Config
}

func newScheduler(cfg Config) *scheduler { return &scheduler{cfg: cfg} }

// shouldRequestNow reports whether a peek should be issued immediately for
// the given trigger, and returns the state to transition to. hasProof must
// be true once a membership proof has ever been supplied.
func (s *scheduler) shouldRequestNow(state RemoteDevicesRequestState, now time.Time, hasProof bool) (issue bool, next RemoteDevicesRequestState) {
	if !hasProof {
		return false, requestWaitingForMembershipProof()
	}

	switch state.Kind {
	case RequestWaitingForMembershipProof, RequestNeverRequested:
		return true, RemoteDevicesRequestState{Kind: RequestRequested, At: now}

	case RequestRequested:
		// A request is already in flight; dedup by marking it to retry
		// once it resolves instead of issuing a second one now.
		state.ShouldRequestAgain = true
		return false, state

	case RequestUpdated:
		if now.Sub(state.At) >= s.cfg.PeriodicPeekMaxAge {
			return true, RemoteDevicesRequestState{Kind: RequestRequested, At: now}
		}
		return false, state

	case RequestFailed:
		if now.Sub(state.At) >= s.cfg.PeekFailureBackoff {
			return true, RemoteDevicesRequestState{Kind: RequestRequested, At: now}
		}
		return false, state

	default:
		return false, state
	}
}

// onSucceeded transitions state after a peek request resolves successfully.
// If another trigger arrived while this one was in flight, the caller must
// issue another request right away (issueAgain).
func (s *scheduler) onSucceeded(state RemoteDevicesRequestState, now time.Time) (next RemoteDevicesRequestState, issueAgain bool) {
	if state.Kind == RequestRequested && state.ShouldRequestAgain {
		return RemoteDevicesRequestState{Kind: RequestRequested, At: now}, true
	}
	return RemoteDevicesRequestState{Kind: RequestUpdated, At: now}, false
}

// onFailed transitions state after a peek request resolves with an error.
func (s *scheduler) onFailed(state RemoteDevicesRequestState, now time.Time) (next RemoteDevicesRequestState, issueAgain bool) {
	if state.Kind == RequestRequested && state.ShouldRequestAgain {
		return RemoteDevicesRequestState{Kind: RequestRequested, At: now}, true
	}
	return RemoteDevicesRequestState{Kind: RequestFailed, At: now}, false
}

// membershipProofNeedsRefresh reports whether it's been at least
// MembershipProofRefresh since the proof was last requested.
func (s *scheduler) membershipProofNeedsRefresh(lastRequested time.Time, now time.Time) bool {
	return lastRequested.IsZero() || now.Sub(lastRequested) >= s.cfg.MembershipProofRefresh
}
