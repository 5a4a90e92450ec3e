// Copyright 2019 Lanikai Labs. All rights reserved.

package ringrtc

import (
	"context"

	"github.com/bihovi584om/ringrtc/internal/sdpbuild"
)

// IceCandidate is an ICE candidate exchanged with the media engine or
// embedded in a remote session description.
type IceCandidate = sdpbuild.IceCandidate

// RtpPacket is a single control-plane RTP packet handed to the media engine
// for transmission, or delivered by it on receipt.
type RtpPacket struct {
	PayloadType byte
	Ssrc        uint32
	Payload     []byte
}

// FrameEncryptFunc encrypts one outgoing media frame in place, returning the
// ciphertext (plus trailer) to actually send. isAudio selects how many
// leading bytes of plaintext are left unencrypted (a 1-byte Opus header vs a
// 10-byte VP8-like header), since audio and video frames need a different
// clear region for the media engine's own use.
type FrameEncryptFunc func(isAudio bool, plaintext []byte) ([]byte, error)

// FrameDecryptFunc decrypts one incoming media frame from a given sender,
// returning the recovered plaintext. isAudio must match what the sender used
// to encrypt the frame.
type FrameDecryptFunc func(senderDemuxId DemuxId, isAudio bool, ciphertext []byte) ([]byte, error)

// JoinResult is delivered on the channel returned by SfuClient.Join once the
// SFU has responded to the join request.
type JoinResult struct {
	Err error

	LocalDemuxId DemuxId
	ServerKey    [32]byte
	Candidates   []IceCandidate
	MaxDevices   uint32
}

// PeekResult is delivered on the channel returned by SfuClient.Peek.
type PeekResult struct {
	Err  error
	Peek PeekInfo
}

// GroupMember is one entry of the caller-supplied group roster, used by the
// SfuClient to validate join/ring requests against group membership.
type GroupMember struct {
	UserId UserId
}

// SfuClient is the black-box HTTP client that joins and peeks the call on
// the selection forwarding unit. Its wire protocol, transport, and retry
// behavior are entirely its own concern; the Call actor only needs the
// four operations below.
type SfuClient interface {
	// Join asks the SFU to admit this device, identified by the given ICE
	// ufrag and ephemeral DHE public key. The returned channel receives
	// exactly one JoinResult.
	Join(ctx context.Context, ufrag string, clientPublicKey [32]byte) (<-chan JoinResult, error)

	// Peek asks the SFU for the current roster without joining. The
	// returned channel receives exactly one PeekResult.
	Peek(ctx context.Context) (<-chan PeekResult, error)

	// SetMembershipProof updates the proof attached to future Join/Peek
	// calls.
	SetMembershipProof(proof []byte)

	// SetGroupMembers updates the roster of known group members used to
	// resolve UserIds during Peek.
	SetGroupMembers(members []GroupMember)
}

// MediaStats is a snapshot of the peer connection's send-rate allocation,
// polled purely for diagnostic logging rather than surfaced to Observer.
type MediaStats struct {
	TargetSendRateKbps    uint32
	IdealSendRateKbps     uint32
	AllocatedSendRateKbps uint32
}

// MediaEngine is the black-box peer-connection/media transport: ICE
// negotiation, DTLS, SRTP, and actual audio/video capture and rendering are
// entirely its concern. The Call actor treats it as an opaque collaborator
// driven through the operations below, per the external-interfaces contract.
type MediaEngine interface {
	SetLocalDescription(sdp string) error
	SetRemoteDescription(sdp string) error
	AddRemoteCandidate(candidate IceCandidate) error

	// SendRtp transmits a single control-plane RTP packet (DeviceToSfu or
	// an encrypted DeviceToDevice broadcast).
	SendRtp(packet RtpPacket) error

	SetSendBitrateKbps(min, start, max int)
	SetAudioRecordingEnabled(enabled bool)
	SetAudioPlayoutEnabled(enabled bool)
	SetOutgoingMediaEnabled(enabled bool)

	// Stats reports the current send-rate allocation, sampled periodically
	// for diagnostic logging only.
	Stats() MediaStats

	// GetAudioLevels reports the local device's outgoing audio level and
	// the most recently observed level for each remote device, sampled
	// periodically and forwarded to Observer.HandleAudioLevels.
	GetAudioLevels() (localLevel uint16, remoteLevels map[DemuxId]uint16)

	// SetEncryptFrame/SetDecryptFrame install the frame-crypto hooks the
	// media engine calls synchronously from its own capture/render thread,
	// outside the Call actor's job queue.
	SetEncryptFrame(fn FrameEncryptFunc)
	SetDecryptFrame(fn FrameDecryptFunc)
}
