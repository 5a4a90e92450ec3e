// Copyright 2019 Lanikai Labs. All rights reserved.

package ringrtc

// Urgency describes how eagerly a signaling message should be delivered.
type Urgency int

const (
	// Droppable messages may be silently discarded by the transport under
	// load (e.g. a heartbeat superseded by a newer one).
	Droppable Urgency = iota
	// HandleImmediately messages must be delivered or retried; dropping
	// one changes call semantics (e.g. a ring, a leave notification).
	HandleImmediately
)

// CallMessage is the opaque DeviceToDevice payload delivered to a specific
// group member via Observer.SendSignalingMessage.
type CallMessage struct {
	RecipientId UserId
	Payload     []byte
	Urgency     Urgency
}

// RemoteDevicesChangedReason distinguishes the many distinct triggers for
// Observer.HandleRemoteDevicesChanged, so observers that only care about a
// subset of changes don't have to diff the whole roster themselves.
type RemoteDevicesChangedReason int

const (
	RemoteDevicesChangedDemuxIdsChanged RemoteDevicesChangedReason = iota
	RemoteDevicesChangedMediaKeyReceived
	RemoteDevicesChangedSpeakerTimeChanged
	RemoteDevicesChangedHeartbeatStateChanged
	RemoteDevicesChangedForwardedVideosChanged
	RemoteDevicesChangedHigherResolutionPendingChanged
)

// Observer receives every externally-visible effect of a Call: state
// transitions, roster changes, and the signaling messages that must be
// relayed to other devices. All methods are invoked from the Call's own
// actor goroutine and must not block or re-enter the Call synchronously.
type Observer interface {
	// RequestMembershipProof asks the observer to fetch (or refresh) a
	// membership proof and deliver it back via Call.SetMembershipProof.
	RequestMembershipProof()

	// RequestGroupMembers asks the observer to fetch the current group
	// roster and deliver it back via Call.SetGroupMembers.
	RequestGroupMembers()

	HandleConnectionStateChanged(state ConnectionState)
	HandleJoinStateChanged(state JoinState)
	HandleNetworkRouteChanged()
	HandleSendRatesChanged(rates SendRates)

	// HandleRemoteDevicesChanged is fired once per distinct trigger, never
	// coalesced across unrelated reasons within the same actor tick.
	HandleRemoteDevicesChanged(devices []*RemoteDeviceState, reason RemoteDevicesChangedReason)

	HandlePeekChanged(peek PeekInfo, joinedUserIds []UserId)

	HandleIncomingVideoTrack(demuxId DemuxId)
	HandleAudioLevels(localLevel uint16, remoteLevels map[DemuxId]uint16)

	// HandleEnded is delivered exactly once per Call, and no other
	// Observer method is invoked afterward.
	HandleEnded(reason EndReason)

	// SendSignalingMessageToGroup delivers a message to every current call
	// participant (used for group call coordination messages such as
	// rings).
	SendSignalingMessageToGroup(message CallMessage)

	// SendSignalingMessage delivers a message to one specific recipient.
	SendSignalingMessage(message CallMessage)
}
