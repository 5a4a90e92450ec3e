// Copyright 2019 Lanikai Labs. All rights reserved.

package rtpcontrol

import (
	"golang.org/x/xerrors"

	"github.com/bihovi584om/ringrtc/internal/ids"
	"github.com/bihovi584om/ringrtc/internal/packet"
)

// Each message type is identified by a one-byte tag followed by its fields,
// in the style of a compact rtpMsg framing. There is no further length
// prefix: the RTP payload length bounds the message.
const (
	tagVideoRequest byte = 1
	tagAdminAction  byte = 2
	tagLeaveToSfu   byte = 3

	tagSpeaker        byte = 1
	tagCurrentDevices byte = 2
	tagRemoved        byte = 3

	tagHeartbeat byte = 1
	tagLeaving   byte = 2
	tagMediaKey  byte = 3
)

const unsetHeight = ^uint32(0)

// VideoRequest is one entry of a VideoRequestMessage.
type VideoRequest struct {
	DemuxId ids.DemuxId
	Height  uint32
}

// AdminActionKind enumerates the admin actions a joined device can send to
// the SFU.
type AdminActionKind uint8

const (
	AdminApprove AdminActionKind = 1
	AdminDeny    AdminActionKind = 2
	AdminRemove  AdminActionKind = 3
	AdminBlock   AdminActionKind = 4
)

// AdminAction targets a pending or joined device by demux id.
type AdminAction struct {
	Kind    AdminActionKind
	DemuxId ids.DemuxId
}

// DeviceToSfu is the device-to-SFU control message: exactly one of
// VideoRequests/Admin/Leave is populated per message, mirroring the "union
// of message kinds" shape of a protocol-buffer `oneof`.
type DeviceToSfu struct {
	VideoRequests          []VideoRequest
	MaxKbps                uint32
	HasActiveSpeakerHeight bool
	ActiveSpeakerHeight    uint32

	Admin *AdminAction

	Leave bool
}

// MarshalVideoRequest encodes a VideoRequestMessage.
func MarshalVideoRequest(requests []VideoRequest, maxKbps uint32, activeSpeakerHeight *uint32) []byte {
	w := packet.NewWriterSize(1 + 4 + 4 + 2 + len(requests)*8)
	w.WriteByte(tagVideoRequest)
	w.WriteUint32(maxKbps)
	if activeSpeakerHeight != nil {
		w.WriteUint32(*activeSpeakerHeight)
	} else {
		w.WriteUint32(unsetHeight)
	}
	w.WriteUint16(uint16(len(requests)))
	for _, req := range requests {
		w.WriteUint32(uint32(req.DemuxId))
		w.WriteUint32(req.Height)
	}
	return w.Bytes()
}

// MarshalAdminAction encodes an AdminAction.
func MarshalAdminAction(action AdminAction) []byte {
	w := packet.NewWriterSize(1 + 1 + 4)
	w.WriteByte(tagAdminAction)
	w.WriteByte(byte(action.Kind))
	w.WriteUint32(uint32(action.DemuxId))
	return w.Bytes()
}

// MarshalLeaveToSfu encodes the empty LeaveMessage.
func MarshalLeaveToSfu() []byte {
	return []byte{tagLeaveToSfu}
}

// UnmarshalDeviceToSfu decodes any of the DeviceToSfu message kinds.
func UnmarshalDeviceToSfu(payload []byte) (DeviceToSfu, error) {
	if len(payload) == 0 {
		return DeviceToSfu{}, xerrors.Errorf("rtpcontrol: empty DeviceToSfu payload")
	}
	r := packet.NewReader(payload)
	tag := r.ReadByte()
	switch tag {
	case tagVideoRequest:
		if err := r.CheckRemaining(4 + 4 + 2); err != nil {
			return DeviceToSfu{}, xerrors.Errorf("rtpcontrol: truncated VideoRequestMessage: %w", err)
		}
		maxKbps := r.ReadUint32()
		height := r.ReadUint32()
		count := r.ReadUint16()
		if err := r.CheckRemaining(int(count) * 8); err != nil {
			return DeviceToSfu{}, xerrors.Errorf("rtpcontrol: truncated VideoRequestMessage entries: %w", err)
		}
		requests := make([]VideoRequest, 0, count)
		for i := uint16(0); i < count; i++ {
			demuxId := ids.DemuxId(r.ReadUint32())
			h := r.ReadUint32()
			requests = append(requests, VideoRequest{DemuxId: demuxId, Height: h})
		}
		msg := DeviceToSfu{VideoRequests: requests, MaxKbps: maxKbps}
		if height != unsetHeight {
			msg.HasActiveSpeakerHeight = true
			msg.ActiveSpeakerHeight = height
		}
		return msg, nil
	case tagAdminAction:
		if err := r.CheckRemaining(1 + 4); err != nil {
			return DeviceToSfu{}, xerrors.Errorf("rtpcontrol: truncated AdminAction: %w", err)
		}
		kind := AdminActionKind(r.ReadByte())
		demuxId := ids.DemuxId(r.ReadUint32())
		return DeviceToSfu{Admin: &AdminAction{Kind: kind, DemuxId: demuxId}}, nil
	case tagLeaveToSfu:
		return DeviceToSfu{Leave: true}, nil
	default:
		return DeviceToSfu{}, xerrors.Errorf("rtpcontrol: unknown DeviceToSfu tag %d", tag)
	}
}

// SfuToDevice is the SFU-to-device control message.
type SfuToDevice struct {
	Speaker *ids.DemuxId

	CurrentDevices    []VideoRequest // Height here carries the server-allocated height
	HasCurrentDevices bool

	Removed bool
}

// MarshalSpeaker encodes a Speaker notification.
func MarshalSpeaker(demuxId ids.DemuxId) []byte {
	w := packet.NewWriterSize(1 + 4)
	w.WriteByte(tagSpeaker)
	w.WriteUint32(uint32(demuxId))
	return w.Bytes()
}

// MarshalCurrentDevices encodes a CurrentDevices notification. heights maps
// demux ids currently forwarded to their server-allocated height.
func MarshalCurrentDevices(heights map[ids.DemuxId]uint32) []byte {
	w := packet.NewWriterSize(1 + 2 + len(heights)*8)
	w.WriteByte(tagCurrentDevices)
	w.WriteUint16(uint16(len(heights)))
	for demuxId, height := range heights {
		w.WriteUint32(uint32(demuxId))
		w.WriteUint32(height)
	}
	return w.Bytes()
}

// MarshalRemoved encodes the empty Removed notification.
func MarshalRemoved() []byte {
	return []byte{tagRemoved}
}

// UnmarshalSfuToDevice decodes any of the SfuToDevice message kinds.
func UnmarshalSfuToDevice(payload []byte) (SfuToDevice, error) {
	if len(payload) == 0 {
		return SfuToDevice{}, xerrors.Errorf("rtpcontrol: empty SfuToDevice payload")
	}
	r := packet.NewReader(payload)
	tag := r.ReadByte()
	switch tag {
	case tagSpeaker:
		if err := r.CheckRemaining(4); err != nil {
			return SfuToDevice{}, xerrors.Errorf("rtpcontrol: truncated Speaker: %w", err)
		}
		demuxId := ids.DemuxId(r.ReadUint32())
		return SfuToDevice{Speaker: &demuxId}, nil
	case tagCurrentDevices:
		if err := r.CheckRemaining(2); err != nil {
			return SfuToDevice{}, xerrors.Errorf("rtpcontrol: truncated CurrentDevices: %w", err)
		}
		count := r.ReadUint16()
		if err := r.CheckRemaining(int(count) * 8); err != nil {
			return SfuToDevice{}, xerrors.Errorf("rtpcontrol: truncated CurrentDevices entries: %w", err)
		}
		devices := make([]VideoRequest, 0, count)
		for i := uint16(0); i < count; i++ {
			demuxId := ids.DemuxId(r.ReadUint32())
			height := r.ReadUint32()
			devices = append(devices, VideoRequest{DemuxId: demuxId, Height: height})
		}
		return SfuToDevice{CurrentDevices: devices, HasCurrentDevices: true}, nil
	case tagRemoved:
		return SfuToDevice{Removed: true}, nil
	default:
		return SfuToDevice{}, xerrors.Errorf("rtpcontrol: unknown SfuToDevice tag %d", tag)
	}
}

// heartbeatFlag bits, packed into a single presence/value byte pair so an
// unset HeartbeatState field is never transmitted.
const (
	flagAudioMutedSet   = 1 << 0
	flagAudioMutedValue = 1 << 1
	flagVideoMutedSet   = 1 << 2
	flagVideoMutedValue = 1 << 3
	flagPresentingSet   = 1 << 4
	flagPresentingValue = 1 << 5
	flagSharingSet      = 1 << 6
	flagSharingValue    = 1 << 7
)

// Heartbeat mirrors roster.HeartbeatState's optional-flag shape without
// importing internal/roster (which would create a cycle through the root
// package); callers convert at the boundary.
type Heartbeat struct {
	AudioMuted    *bool
	VideoMuted    *bool
	Presenting    *bool
	SharingScreen *bool
}

// MediaKey carries one frame-crypto receive secret for the device identified
// by DemuxId, delivered out-of-band over signaling rather than RTP broadcast
// so it reaches a recipient reliably even before the recipient has joined.
type MediaKey struct {
	DemuxId        ids.DemuxId
	RatchetCounter uint8
	Secret         [32]byte
}

// DeviceToDevice is the device-to-device control message. Heartbeat and
// Leaving are broadcast encrypted on the sender's data SSRC; MediaKey is
// instead delivered via signaling (Observer.SendSignalingMessage /
// SendSignalingMessageToGroup), since it must reach devices that may not
// even be on the call's RTP transport yet.
type DeviceToDevice struct {
	Heartbeat *Heartbeat
	Leaving   bool
	MediaKey  *MediaKey
}

// MarshalMediaKey encodes a MediaKey message.
func MarshalMediaKey(key MediaKey) []byte {
	w := packet.NewWriterSize(1 + 4 + 1 + 32)
	w.WriteByte(tagMediaKey)
	w.WriteUint32(uint32(key.DemuxId))
	w.WriteByte(key.RatchetCounter)
	w.WriteSlice(key.Secret[:])
	return w.Bytes()
}

// MarshalHeartbeat encodes a Heartbeat.
func MarshalHeartbeat(h Heartbeat) []byte {
	var flags byte
	flags |= setBit(h.AudioMuted, flagAudioMutedSet, flagAudioMutedValue)
	flags |= setBit(h.VideoMuted, flagVideoMutedSet, flagVideoMutedValue)
	flags |= setBit(h.Presenting, flagPresentingSet, flagPresentingValue)
	flags |= setBit(h.SharingScreen, flagSharingSet, flagSharingValue)

	w := packet.NewWriterSize(2)
	w.WriteByte(tagHeartbeat)
	w.WriteByte(flags)
	return w.Bytes()
}

func setBit(v *bool, presenceBit, valueBit byte) byte {
	if v == nil {
		return 0
	}
	b := presenceBit
	if *v {
		b |= valueBit
	}
	return b
}

// MarshalLeaving encodes the empty Leaving message.
func MarshalLeaving() []byte {
	return []byte{tagLeaving}
}

// UnmarshalDeviceToDevice decodes any of the DeviceToDevice message kinds.
func UnmarshalDeviceToDevice(payload []byte) (DeviceToDevice, error) {
	if len(payload) == 0 {
		return DeviceToDevice{}, xerrors.Errorf("rtpcontrol: empty DeviceToDevice payload")
	}
	r := packet.NewReader(payload)
	tag := r.ReadByte()
	switch tag {
	case tagHeartbeat:
		if err := r.CheckRemaining(1); err != nil {
			return DeviceToDevice{}, xerrors.Errorf("rtpcontrol: truncated Heartbeat: %w", err)
		}
		flags := r.ReadByte()
		h := Heartbeat{
			AudioMuted:    readBit(flags, flagAudioMutedSet, flagAudioMutedValue),
			VideoMuted:    readBit(flags, flagVideoMutedSet, flagVideoMutedValue),
			Presenting:    readBit(flags, flagPresentingSet, flagPresentingValue),
			SharingScreen: readBit(flags, flagSharingSet, flagSharingValue),
		}
		return DeviceToDevice{Heartbeat: &h}, nil
	case tagLeaving:
		return DeviceToDevice{Leaving: true}, nil
	case tagMediaKey:
		if err := r.CheckRemaining(4 + 1 + 32); err != nil {
			return DeviceToDevice{}, xerrors.Errorf("rtpcontrol: truncated MediaKey: %w", err)
		}
		demuxId := ids.DemuxId(r.ReadUint32())
		counter := r.ReadByte()
		var secret [32]byte
		copy(secret[:], r.ReadSlice(32))
		return DeviceToDevice{MediaKey: &MediaKey{DemuxId: demuxId, RatchetCounter: counter, Secret: secret}}, nil
	default:
		return DeviceToDevice{}, xerrors.Errorf("rtpcontrol: unknown DeviceToDevice tag %d", tag)
	}
}

func readBit(flags byte, presenceBit, valueBit byte) *bool {
	if flags&presenceBit == 0 {
		return nil
	}
	v := flags&valueBit != 0
	return &v
}
