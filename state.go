// Copyright 2019 Lanikai Labs. All rights reserved.

package ringrtc

// ConnectionState is driven solely by ICE connectivity transitions once
// Connecting has started.
type ConnectionState int

const (
	ConnectionNotConnected ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
	ConnectionReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionNotConnected:
		return "NotConnected"
	case ConnectionConnecting:
		return "Connecting"
	case ConnectionConnected:
		return "Connected"
	case ConnectionReconnecting:
		return "Reconnecting"
	default:
		return "Unknown"
	}
}

// JoinStateKind tags the JoinState variant. JoinState is orthogonal to
// ConnectionState.
type JoinStateKind int

const (
	JoinNotJoined JoinStateKind = iota
	JoinJoining
	JoinJoined
)

// JoinState is a tagged union: NotJoined carries an optional saved RingId,
// Joined carries the SFU-assigned local DemuxId.
type JoinState struct {
	Kind         JoinStateKind
	SavedRingId  *RingId // valid only when Kind == JoinNotJoined
	LocalDemuxId DemuxId // valid only when Kind == JoinJoined
}

func NotJoined(ringId *RingId) JoinState {
	return JoinState{Kind: JoinNotJoined, SavedRingId: ringId}
}

func Joined(demuxId DemuxId) JoinState {
	return JoinState{Kind: JoinJoined, LocalDemuxId: demuxId}
}

func (s JoinState) String() string {
	switch s.Kind {
	case JoinNotJoined:
		return "NotJoined"
	case JoinJoining:
		return "Joining"
	case JoinJoined:
		return "Joined"
	default:
		return "Unknown"
	}
}

// IceConnectionState is the subset of ICE connectivity states that drive the
// ConnectionState machine. Names follow the standard ICE connection state
// enumeration.
type IceConnectionState int

const (
	IceNew IceConnectionState = iota
	IceChecking
	IceConnected
	IceCompleted
	IceDisconnected
	IceFailed
	IceClosed
)

// nextConnectionState implements the ICE transition table that drives
// ConnectionState. everConnected must be true if the call has ever reached
// ConnectionConnected before (needed to distinguish the two distinct
// Failed/Closed end reasons). ok is false when the transition should be
// ignored (fall through).
func nextConnectionState(current ConnectionState, ice IceConnectionState, everConnected bool) (next ConnectionState, end EndReason, shouldEnd bool, ok bool) {
	switch current {
	case ConnectionConnecting:
		switch ice {
		case IceConnected, IceCompleted:
			return ConnectionConnected, 0, false, true
		case IceDisconnected, IceClosed, IceFailed:
			return current, EndReasonIceFailedWhileConnecting, true, true
		}
	case ConnectionConnected:
		switch ice {
		case IceChecking, IceDisconnected:
			return ConnectionReconnecting, 0, false, true
		case IceFailed, IceClosed:
			return current, EndReasonIceFailedAfterConnected, true, true
		}
	case ConnectionReconnecting:
		switch ice {
		case IceConnected, IceCompleted:
			return ConnectionConnected, 0, false, true
		case IceFailed, IceClosed:
			return current, EndReasonIceFailedAfterConnected, true, true
		}
	}

	// The "(*, Failed|Closed) after ever being Connected" catch-all rule
	// applies outside the state-specific cases handled above (e.g. NotConnected
	// is unreachable here since ICE callbacks only arrive once Connect has
	// started the transport, but keep the rule general).
	if everConnected && (ice == IceFailed || ice == IceClosed) {
		return current, EndReasonIceFailedAfterConnected, true, true
	}

	return current, 0, false, false
}
