// Copyright 2019 Lanikai Labs. All rights reserved.

package ringrtc

import (
	"time"

	"github.com/bihovi584om/ringrtc/internal/rtpcontrol"
)

// rtpCounter is the single monotonic 32-bit counter this protocol reuses as
// both the RTP sequence number (its low 16 bits) and timestamp for every
// control-plane packet a device sends, rather than keeping separate
// per-purpose counters.
type rtpCounter struct {
	value uint32
}

func (c *rtpCounter) next() (seq uint16, timestamp uint32) {
	c.value++
	return uint16(c.value), c.value
}

// heartbeatPump owns the periodic broadcast of this device's own
// HeartbeatState and the rate-limited dispatch of video requests to the SFU.
type heartbeatPump struct {
	localDemuxId DemuxId
	counter      rtpCounter

	lastVideoRequestSent time.Time
	minVideoRequestGap   time.Duration
}

func newHeartbeatPump(localDemuxId DemuxId, heartbeatInterval time.Duration) *heartbeatPump {
	return &heartbeatPump{
		localDemuxId:       localDemuxId,
		minVideoRequestGap: heartbeatInterval,
	}
}

// buildHeartbeat encodes and RTP-wraps this device's current heartbeat
// state for broadcast. The returned packet is not frame-encrypted.
func (p *heartbeatPump) buildHeartbeat(state HeartbeatState) []byte {
	seq, ts := p.counter.next()
	payload := rtpcontrol.MarshalHeartbeat(rtpcontrol.Heartbeat{
		AudioMuted:    state.AudioMuted,
		VideoMuted:    state.VideoMuted,
		Presenting:    state.Presenting,
		SharingScreen: state.SharingScreen,
	})
	return rtpcontrol.WrapBroadcast(seq, ts, p.localDemuxId, payload)
}

// buildLeaving encodes and RTP-wraps the broadcast Leaving notification,
// sent once when this device leaves so peers don't wait for a heartbeat
// timeout to notice.
func (p *heartbeatPump) buildLeaving() []byte {
	seq, ts := p.counter.next()
	return rtpcontrol.WrapBroadcast(seq, ts, p.localDemuxId, rtpcontrol.MarshalLeaving())
}

// canSendVideoRequest reports whether enough time has passed since the last
// video request to send another: at most one per heartbeat interval.
func (p *heartbeatPump) canSendVideoRequest(now time.Time) bool {
	return p.lastVideoRequestSent.IsZero() || now.Sub(p.lastVideoRequestSent) >= p.minVideoRequestGap
}

// buildVideoRequest encodes and RTP-wraps a VideoRequestMessage addressed to
// the SFU. The caller must have already checked canSendVideoRequest.
func (p *heartbeatPump) buildVideoRequest(requests []VideoRequest, maxKbps uint32, activeSpeakerHeight *uint32, now time.Time) []byte {
	p.lastVideoRequestSent = now
	wire := make([]rtpcontrol.VideoRequest, len(requests))
	for i, r := range requests {
		wire[i] = rtpcontrol.VideoRequest{DemuxId: r.DemuxId, Height: r.ResolvedHeight()}
	}
	seq, ts := p.counter.next()
	payload := rtpcontrol.MarshalVideoRequest(wire, maxKbps, activeSpeakerHeight)
	return rtpcontrol.WrapToSfu(seq, ts, payload)
}

// buildAdminAction encodes and RTP-wraps an admin action (approve/deny a
// pending device, remove/block a joined one).
func (p *heartbeatPump) buildAdminAction(kind rtpcontrol.AdminActionKind, demuxId DemuxId) []byte {
	seq, ts := p.counter.next()
	payload := rtpcontrol.MarshalAdminAction(rtpcontrol.AdminAction{Kind: kind, DemuxId: demuxId})
	return rtpcontrol.WrapToSfu(seq, ts, payload)
}

// buildLeaveToSfu encodes and RTP-wraps the device-to-SFU Leave message.
func (p *heartbeatPump) buildLeaveToSfu() []byte {
	seq, ts := p.counter.next()
	return rtpcontrol.WrapToSfu(seq, ts, rtpcontrol.MarshalLeaveToSfu())
}

// heartbeatToRosterState converts a decoded wire Heartbeat into the roster
// package's HeartbeatState, the shape internal/roster.ApplyHeartbeat wants.
func heartbeatToRosterState(h rtpcontrol.Heartbeat) HeartbeatState {
	return HeartbeatState{
		AudioMuted:    h.AudioMuted,
		VideoMuted:    h.VideoMuted,
		Presenting:    h.Presenting,
		SharingScreen: h.SharingScreen,
	}
}
