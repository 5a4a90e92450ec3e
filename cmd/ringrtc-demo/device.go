package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"

	"github.com/bihovi584om/ringrtc"
)

// device is this demonstration's ringrtc.Observer, ringrtc.SfuClient, and
// ringrtc.MediaEngine all at once: a thin websocket client against the
// relay, wired to exactly one ringrtc.Call. Real applications split these
// across their own HTTP client, signaling transport, and native media
// stack; here one small struct stands in for all three so the demo stays
// readable.
type device struct {
	userId ringrtc.UserId
	label  string
	status *color.Color

	conn *websocket.Conn
	call *ringrtc.Call

	pendingJoin chan ringrtc.JoinResult
	pendingPeek chan ringrtc.PeekResult

	mu           sync.Mutex
	encryptFrame ringrtc.FrameEncryptFunc
	decryptFrame ringrtc.FrameDecryptFunc
	joined       bool
	localDemuxId ringrtc.DemuxId
}

// joinedDemuxId reports the local demux id assigned by the relay, once
// HandleJoinStateChanged has observed JoinJoined.
func (d *device) joinedDemuxId() (ringrtc.DemuxId, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.localDemuxId, d.joined
}

// ready reports whether the call has both joined and installed its
// frame-crypto hooks, so encrypt/decrypt below are safe to call. The two
// happen in the same actor turn as JoinJoined but strictly after it, so a
// caller that only waits on joinedDemuxId can still race ahead of them.
func (d *device) ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.joined && d.encryptFrame != nil && d.decryptFrame != nil
}

func (d *device) encrypt(isAudio bool, frame []byte) ([]byte, error) {
	d.mu.Lock()
	fn := d.encryptFrame
	d.mu.Unlock()
	return fn(isAudio, frame)
}

func (d *device) decrypt(senderDemuxId ringrtc.DemuxId, isAudio bool, frame []byte) ([]byte, error) {
	d.mu.Lock()
	fn := d.decryptFrame
	d.mu.Unlock()
	return fn(senderDemuxId, isAudio, frame)
}

func dialDevice(relayAddr string, userId ringrtc.UserId, label string, status *color.Color) (*device, error) {
	url := fmt.Sprintf("ws://%s/relay", relayAddr)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	d := &device{userId: userId, label: label, status: status, conn: conn}
	go d.readLoop()
	return d, nil
}

func (d *device) readLoop() {
	for {
		var env envelope
		if err := d.conn.ReadJSON(&env); err != nil {
			return
		}
		switch env.Kind {
		case "joinResult":
			var wire demoJoinResult
			_ = json.Unmarshal(env.Payload, &wire)
			var serverKey [32]byte
			copy(serverKey[:], wire.ServerKey)
			if d.pendingJoin != nil {
				d.pendingJoin <- ringrtc.JoinResult{LocalDemuxId: ringrtc.DemuxId(wire.LocalDemuxId), ServerKey: serverKey}
				close(d.pendingJoin)
				d.pendingJoin = nil
			}
		case "peekResult":
			var wire demoPeekResult
			_ = json.Unmarshal(env.Payload, &wire)
			if d.pendingPeek != nil {
				d.pendingPeek <- ringrtc.PeekResult{Peek: toPeekInfo(wire)}
				close(d.pendingPeek)
				d.pendingPeek = nil
			}
		case "signal", "groupSignal":
			if d.call != nil {
				d.call.OnSignalingMessageReceived(ringrtc.UserId(env.From), env.Payload)
			}
		}
	}
}

func toPeekInfo(wire demoPeekResult) ringrtc.PeekInfo {
	devices := make([]ringrtc.PeekDevice, 0, len(wire.Devices))
	for _, dd := range wire.Devices {
		userId := ringrtc.UserId(dd.UserId)
		devices = append(devices, ringrtc.PeekDevice{DemuxId: ringrtc.DemuxId(dd.DemuxId), UserId: &userId})
	}
	creator := ringrtc.UserId(wire.Creator)
	eraId := ringrtc.EraId(wire.EraId)
	return ringrtc.PeekInfo{Devices: devices, Creator: &creator, EraId: &eraId}
}

// --- ringrtc.SfuClient ---

func (d *device) Join(ctx context.Context, ufrag string, clientPublicKey [32]byte) (<-chan ringrtc.JoinResult, error) {
	ch := make(chan ringrtc.JoinResult, 1)
	d.pendingJoin = ch
	err := d.conn.WriteJSON(envelope{Kind: "join", From: string(d.userId)})
	return ch, err
}

func (d *device) Peek(ctx context.Context) (<-chan ringrtc.PeekResult, error) {
	ch := make(chan ringrtc.PeekResult, 1)
	d.pendingPeek = ch
	err := d.conn.WriteJSON(envelope{Kind: "peek", From: string(d.userId)})
	return ch, err
}

func (d *device) SetMembershipProof(proof []byte)          {}
func (d *device) SetGroupMembers(members []ringrtc.GroupMember) {}

// --- ringrtc.MediaEngine ---
// Only the frame-crypto hooks matter for this demonstration: everything
// else is the real media engine's own concern, so it's a no-op here.

func (d *device) SetLocalDescription(sdp string) error                      { return nil }
func (d *device) SetRemoteDescription(sdp string) error                     { return nil }
func (d *device) AddRemoteCandidate(candidate ringrtc.IceCandidate) error    { return nil }
func (d *device) SendRtp(packet ringrtc.RtpPacket) error                    { return nil }
func (d *device) SetSendBitrateKbps(min, start, max int)                    {}
func (d *device) SetAudioRecordingEnabled(enabled bool)                     {}
func (d *device) SetAudioPlayoutEnabled(enabled bool)                       {}
func (d *device) SetOutgoingMediaEnabled(enabled bool)                      {}
func (d *device) Stats() ringrtc.MediaStats                                 { return ringrtc.MediaStats{} }
func (d *device) GetAudioLevels() (uint16, map[ringrtc.DemuxId]uint16)      { return 0, nil }

func (d *device) SetEncryptFrame(fn ringrtc.FrameEncryptFunc) {
	d.mu.Lock()
	d.encryptFrame = fn
	d.mu.Unlock()
}

func (d *device) SetDecryptFrame(fn ringrtc.FrameDecryptFunc) {
	d.mu.Lock()
	d.decryptFrame = fn
	d.mu.Unlock()
}

// --- ringrtc.Observer ---

func (d *device) RequestMembershipProof() { d.call.SetMembershipProof([]byte("demo-proof")) }
func (d *device) RequestGroupMembers()    { d.call.SetGroupMembers(nil) }

func (d *device) HandleConnectionStateChanged(state ringrtc.ConnectionState) {
	d.status.Printf("[%s] connection: %s\n", d.label, state)
}

func (d *device) HandleJoinStateChanged(state ringrtc.JoinState) {
	d.status.Printf("[%s] join: %s\n", d.label, state)
	if state.Kind == ringrtc.JoinJoined {
		d.mu.Lock()
		d.joined = true
		d.localDemuxId = state.LocalDemuxId
		d.mu.Unlock()
	}
}

func (d *device) HandleNetworkRouteChanged() {}

func (d *device) HandleSendRatesChanged(rates ringrtc.SendRates) {
	d.status.Printf("[%s] send rate: %d kbps\n", d.label, rates.MaxKbps)
}

func (d *device) HandleRemoteDevicesChanged(devices []*ringrtc.RemoteDeviceState, reason ringrtc.RemoteDevicesChangedReason) {
	d.status.Printf("[%s] remote devices changed (%d devices)\n", d.label, len(devices))
}

func (d *device) HandlePeekChanged(peek ringrtc.PeekInfo, joinedUserIds []ringrtc.UserId) {
	d.status.Printf("[%s] peek: %d device(s) present\n", d.label, len(peek.Devices))
}

func (d *device) HandleIncomingVideoTrack(demuxId ringrtc.DemuxId) {}

func (d *device) HandleAudioLevels(localLevel uint16, remoteLevels map[ringrtc.DemuxId]uint16) {}

func (d *device) HandleEnded(reason ringrtc.EndReason) {
	d.status.Printf("[%s] ended: %v\n", d.label, reason)
}

func (d *device) SendSignalingMessageToGroup(message ringrtc.CallMessage) {
	_ = d.conn.WriteJSON(envelope{Kind: "groupSignal", From: string(d.userId), Payload: message.Payload})
}

func (d *device) SendSignalingMessage(message ringrtc.CallMessage) {
	_ = d.conn.WriteJSON(envelope{Kind: "signal", From: string(d.userId), To: string(message.RecipientId), Payload: message.Payload})
}
