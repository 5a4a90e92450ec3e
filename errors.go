// Copyright 2019 Lanikai Labs. All rights reserved.

package ringrtc

import "errors"

// Sentinel errors returned by the public command surface for
// programmer-error / incompatible-state cases: the caller gets an error
// back rather than a panic, but no call state changes.
var (
	errNotImplemented  = errors.New("not implemented")
	errWrongState      = errors.New("operation not valid in current state")
	errBusy            = errors.New("call manager is busy")
	errNoRingRecipient = errors.New("ringing a specific recipient is not yet supported")
)

// EndReason explains why a Call ended. Exactly one EndReason is ever
// delivered per Call, via Observer.HandleEnded.
type EndReason int

const (
	_ EndReason = iota
	EndReasonDeviceExplicitlyDisconnected
	EndReasonServerExplicitlyDisconnected
	EndReasonDeniedRequestToJoinCall
	EndReasonRemovedFromCall
	EndReasonCallManagerIsBusy
	EndReasonSfuClientFailedToJoin
	EndReasonFailedToCreatePeerConnectionFactory
	EndReasonFailedToNegotiateSrtpKeys
	EndReasonFailedToCreatePeerConnection
	EndReasonFailedToStartPeerConnection
	EndReasonFailedToUpdatePeerConnection
	EndReasonFailedToSetMaxSendBitrate
	EndReasonIceFailedWhileConnecting
	EndReasonIceFailedAfterConnected
	EndReasonServerChangedDemuxId
	EndReasonHasMaxDevices
)

func (r EndReason) String() string {
	switch r {
	case EndReasonDeviceExplicitlyDisconnected:
		return "DeviceExplicitlyDisconnected"
	case EndReasonServerExplicitlyDisconnected:
		return "ServerExplicitlyDisconnected"
	case EndReasonDeniedRequestToJoinCall:
		return "DeniedRequestToJoinCall"
	case EndReasonRemovedFromCall:
		return "RemovedFromCall"
	case EndReasonCallManagerIsBusy:
		return "CallManagerIsBusy"
	case EndReasonSfuClientFailedToJoin:
		return "SfuClientFailedToJoin"
	case EndReasonFailedToCreatePeerConnectionFactory:
		return "FailedToCreatePeerConnectionFactory"
	case EndReasonFailedToNegotiateSrtpKeys:
		return "FailedToNegotiatedSrtpKeys"
	case EndReasonFailedToCreatePeerConnection:
		return "FailedToCreatePeerConnection"
	case EndReasonFailedToStartPeerConnection:
		return "FailedToStartPeerConnection"
	case EndReasonFailedToUpdatePeerConnection:
		return "FailedToUpdatePeerConnection"
	case EndReasonFailedToSetMaxSendBitrate:
		return "FailedToSetMaxSendBitrate"
	case EndReasonIceFailedWhileConnecting:
		return "IceFailedWhileConnecting"
	case EndReasonIceFailedAfterConnected:
		return "IceFailedAfterConnected"
	case EndReasonServerChangedDemuxId:
		return "ServerChangedDemuxId"
	case EndReasonHasMaxDevices:
		return "HasMaxDevices"
	default:
		return "Unknown"
	}
}
