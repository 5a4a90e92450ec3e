// Copyright 2019 Lanikai Labs. All rights reserved.

// Package ringrtc implements a client-side group-call engine: connection
// and join lifecycle, roster reconciliation, end-to-end encrypted media
// frames, a heartbeat/video-request data pump, bandwidth policy, and ring
// coordination, sitting above an application-supplied SFU client and media
// engine.
package ringrtc

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/bihovi584om/ringrtc/internal/framecrypto"
	"github.com/bihovi584om/ringrtc/internal/logging"
	"github.com/bihovi584om/ringrtc/internal/roster"
	"github.com/bihovi584om/ringrtc/internal/rtpcontrol"
	"github.com/bihovi584om/ringrtc/internal/sdpbuild"
)

var log = logging.DefaultLogger.WithTag("call")

// processBusy is the process-wide flag a Call acquires while Connecting and
// releases on Disconnect: at most one Call may be in flight at a time, the
// way a single device can only be actively connecting to one call.
var processBusy int32

func acquireBusy() bool { return atomic.CompareAndSwapInt32(&processBusy, 0, 1) }
func releaseBusy()      { atomic.StoreInt32(&processBusy, 0) }

// Call is the client-side engine for a single group call. All exported
// methods are safe to call from any goroutine; they enqueue work onto the
// Call's own actor and return immediately except where documented.
type Call struct {
	cfg      Config
	observer Observer
	sfu      SfuClient
	media    MediaEngine

	actor *actor

	ring      *ringCoordinator
	scheduler *scheduler

	// mu guards the fields below, read by public methods that need a
	// snapshot (e.g. resend_media_keys reading frameCrypto) without
	// waiting on the actor.
	mu sync.Mutex

	connectionState ConnectionState
	joinState       JoinState
	everConnected   bool

	dhe DheState

	hasMembershipProof  bool
	lastProofRequested  time.Time
	groupMembers        []GroupMember
	remoteDevicesState  RemoteDevicesRequestState

	roster   *roster.Roster
	lastPeek PeekInfo
	heartbeatPump *heartbeatPump

	sharingScreen bool
	dataMode      DataMode
	sendRates     SendRates

	outgoingAudioMuted bool
	outgoingVideoMuted bool
	presenting         bool

	lastHeartbeatSent time.Time
	nextStatsAt       time.Time // zero until Joined, cleared again on Leave
	lastAudioLevels   time.Time

	frameCrypto  *framecrypto.Context
	keyRotation  *keyRotator
	pendingMediaKeys []pendingMediaKey

	ended        bool
	endOnce      sync.Once
	acquiredBusy bool

	localSdp  sdpbuild.LocalParams
	remoteSdp []DemuxId // last demux set embedded in the built remote SDP
}

// pendingMediaKey is a media key received for a demux id not yet known to
// the roster, retried on every subsequent reconciliation pass until the
// device shows up (or the Call ends).
type pendingMediaKey struct {
	userId         UserId
	demuxId        DemuxId
	ratchetCounter uint8
	secret         [32]byte
}

// NewCall creates a Call in its initial NotConnected/NotJoined state. The
// Call does not start its actor goroutine or acquire any resources until
// Connect is called.
func NewCall(cfg Config, observer Observer, sfu SfuClient, media MediaEngine) *Call {
	c := &Call{
		cfg:                cfg,
		observer:           observer,
		sfu:                sfu,
		media:              media,
		actor:              newActor(cfg.TickInterval),
		ring:               newRingCoordinator(),
		scheduler:          newScheduler(cfg),
		connectionState:    ConnectionNotConnected,
		joinState:          NotJoined(nil),
		dhe:                dheNotYetStarted(),
		remoteDevicesState: requestNeverRequested(),
		dataMode:           cfg.DataMode,
	}
	return c
}

// Connect begins connecting to the call's transport. It fails immediately
// (without starting the actor) if another Call already holds the
// process-wide busy flag.
func (c *Call) Connect(ctx context.Context) error {
	if !acquireBusy() {
		c.endOnce.Do(func() { c.observer.HandleEnded(EndReasonCallManagerIsBusy) })
		return errBusy
	}
	c.acquiredBusy = true

	go c.actor.run(c.onTick)

	c.actor.enqueue(func() {
		c.mu.Lock()
		c.connectionState = ConnectionConnecting
		c.mu.Unlock()
		c.observer.HandleConnectionStateChanged(ConnectionConnecting)
		c.observer.RequestMembershipProof()
		c.observer.RequestGroupMembers()
	})
	return nil
}

// Join starts the join flow: generates an ephemeral DHE key pair, checks
// HasMaxDevices against the last peek, and contacts the SFU.
func (c *Call) Join(ctx context.Context) {
	c.actor.enqueue(func() {
		c.mu.Lock()
		if c.joinState.Kind != JoinNotJoined {
			c.mu.Unlock()
			return
		}
		peek := c.lastPeek
		c.mu.Unlock()

		if peek.MaxDevices != nil && peek.DeviceCount() >= int(*peek.MaxDevices) {
			c.fireEnded(EndReasonHasMaxDevices)
			return
		}

		dhe, err := startDhe()
		if err != nil {
			log.Warn("failed to generate ephemeral key pair: %v", err)
			return
		}

		c.mu.Lock()
		c.dhe = dhe
		c.joinState = JoinState{Kind: JoinJoining}
		c.mu.Unlock()
		c.observer.HandleJoinStateChanged(c.joinState)

		ufrag, err := sdpbuild.GenerateUfrag()
		if err != nil {
			log.Warn("failed to generate ufrag: %v", err)
			return
		}

		ch, err := c.sfu.Join(ctx, ufrag, dhe.KeyPair.Public)
		if err != nil {
			c.endJoinAttempt(EndReasonSfuClientFailedToJoin)
			return
		}
		go func() {
			result := <-ch
			c.actor.enqueue(func() { c.onJoinResult(result) })
		}()
	})
}

func (c *Call) onJoinResult(result JoinResult) {
	if result.Err != nil {
		c.endJoinAttempt(EndReasonSfuClientFailedToJoin)
		return
	}

	c.mu.Lock()
	if c.joinState.Kind != JoinJoining {
		c.mu.Unlock()
		return
	}
	c.joinState = Joined(result.LocalDemuxId)
	c.roster = roster.New(result.LocalDemuxId)
	c.heartbeatPump = newHeartbeatPump(result.LocalDemuxId, c.cfg.HeartbeatInterval)
	c.keyRotation = newKeyRotator()
	c.frameCrypto, _ = framecrypto.NewWithRandomSecret()
	now := time.Now()
	c.lastHeartbeatSent = time.Time{}
	c.nextStatsAt = now.Add(c.cfg.StatsInitialOffset)
	c.lastAudioLevels = time.Time{}
	priorPeek := c.lastPeek
	c.mu.Unlock()

	c.observer.HandleJoinStateChanged(c.joinState)

	dhe, err := c.dhe.completeDhe(result.ServerKey, nil)
	if err != nil {
		log.Warn("failed to negotiate signaling DHE keys: %v", err)
		c.endJoinAttempt(EndReasonFailedToNegotiateSrtpKeys)
		return
	}
	c.mu.Lock()
	c.dhe = dhe
	c.mu.Unlock()

	c.media.SetEncryptFrame(c.encryptFrame)
	c.media.SetDecryptFrame(c.decryptFrame)

	// Seed the roster from whatever peek info we already had (e.g. from a
	// lobby view) rather than waiting for the next SFU peek to arrive.
	c.applyPeek(priorPeek)
}

// endJoinAttempt reverts a failed join back to NotJoined and reports the
// reason via Ended, since a failed join without ever having been Joined
// ends the whole Call rather than leaving it in a half-joined state.
func (c *Call) endJoinAttempt(reason EndReason) {
	c.mu.Lock()
	c.joinState = NotJoined(c.joinState.SavedRingId)
	c.mu.Unlock()
	c.observer.HandleJoinStateChanged(c.joinState)
	c.fireEnded(reason)
}

// OnIceConnectionStateChanged applies one ICE connectivity transition to
// ConnectionState, notifying the observer and ending the call if the
// transition implies a fatal connection failure.
func (c *Call) OnIceConnectionStateChanged(ice IceConnectionState) {
	c.actor.enqueue(func() {
		c.mu.Lock()
		current := c.connectionState
		everConnected := c.everConnected
		c.mu.Unlock()

		next, endReason, shouldEnd, ok := nextConnectionState(current, ice, everConnected)
		if !ok {
			return
		}

		c.mu.Lock()
		c.connectionState = next
		if next == ConnectionConnected {
			c.everConnected = true
		}
		c.mu.Unlock()

		if next != current {
			c.observer.HandleConnectionStateChanged(next)
		}
		if shouldEnd {
			c.fireEnded(endReason)
		}
	})
}

// Leave leaves the call without tearing down the transport connection,
// notifying peers and the SFU and cancelling any outstanding ring.
func (c *Call) Leave() {
	c.actor.enqueue(func() {
		c.mu.Lock()
		wasJoined := c.joinState.Kind == JoinJoined
		c.mu.Unlock()
		if !wasJoined {
			return
		}

		if c.heartbeatPump != nil {
			c.media.SendRtp(RtpPacket{Payload: c.heartbeatPump.buildLeaving()})
			c.media.SendRtp(RtpPacket{Payload: c.heartbeatPump.buildLeaveToSfu()})
		}
		if intention := c.ring.onLeave(); intention != nil {
			c.sendRingIntention(*intention)
		}

		c.mu.Lock()
		c.joinState = NotJoined(c.joinState.SavedRingId)
		c.nextStatsAt = time.Time{}
		c.mu.Unlock()
		c.observer.HandleJoinStateChanged(c.joinState)

		c.actor.delay(c.cfg.PostLeaveRepeekDelay, c.triggerPeek)
	})
}

// Disconnect tears down the transport connection and ends the Call with
// EndReasonDeviceExplicitlyDisconnected. It is idempotent: calling it more
// than once, or after the Call has already ended some other way, is a
// no-op.
func (c *Call) Disconnect() {
	c.actor.enqueue(func() {
		c.fireEnded(EndReasonDeviceExplicitlyDisconnected)
	})
}

// fireEnded delivers HandleEnded exactly once per Call, releasing the
// process-wide busy flag and stopping the actor; any later call is ignored.
func (c *Call) fireEnded(reason EndReason) {
	c.endOnce.Do(func() {
		c.mu.Lock()
		c.ended = true
		acquired := c.acquiredBusy
		c.mu.Unlock()
		if acquired {
			releaseBusy()
		}
		c.observer.HandleEnded(reason)
		c.actor.stop()
	})
}

// Ring requests that the group be rung. recipient is reserved for a future
// targeted-ring feature and is currently rejected.
func (c *Call) Ring(recipient *UserId) error {
	if recipient != nil {
		return errNoRingRecipient
	}
	c.actor.enqueue(func() {
		var ringId RingId
		if c.ring.state.RingId != nil {
			ringId = *c.ring.state.RingId
		}
		if intention := c.ring.requestRing(ringId); intention != nil {
			c.sendRingIntention(*intention)
		}
	})
	return nil
}

// ProvideRingIdIfAbsent supplies a RingId for the Ring Coordinator to use
// when none is yet known from the join response.
func (c *Call) ProvideRingIdIfAbsent(ringId RingId) {
	c.actor.enqueue(func() { c.ring.provideRingIdIfAbsent(ringId) })
}

func (c *Call) sendRingIntention(intention RingIntention) {
	payload := make([]byte, 1+8)
	payload[0] = byte(intention.Kind)
	binary.BigEndian.PutUint64(payload[1:], uint64(intention.RingId))
	c.observer.SendSignalingMessageToGroup(CallMessage{Payload: payload, Urgency: HandleImmediately})
}

// SetOutgoingAudioMuted toggles this device's advertised audio-mute state,
// taking effect on the next heartbeat broadcast. The media engine's actual
// recording switch is reconciled against the bandwidth-degenerate floor by
// refreshAudioRecording rather than set here directly, since both this and
// applyBandwidthPolicy drive the same underlying switch.
func (c *Call) SetOutgoingAudioMuted(muted bool) {
	c.actor.enqueue(func() {
		c.mu.Lock()
		c.outgoingAudioMuted = muted
		c.mu.Unlock()
		c.refreshAudioRecording()
	})
}

// SetOutgoingVideoMuted toggles this device's advertised video-mute state.
// The media engine owns actual video capture; this only affects what the
// next heartbeat broadcasts.
func (c *Call) SetOutgoingVideoMuted(muted bool) {
	c.actor.enqueue(func() {
		c.mu.Lock()
		c.outgoingVideoMuted = muted
		c.mu.Unlock()
	})
}

// SetPresenting toggles whether this device is the designated presenter,
// likewise reflected only in the next broadcast HeartbeatState.
func (c *Call) SetPresenting(presenting bool) {
	c.actor.enqueue(func() {
		c.mu.Lock()
		c.presenting = presenting
		c.mu.Unlock()
	})
}

// refreshAudioRecording reconciles the user's own mute request against the
// bandwidth policy's degenerate-rate floor: recording is enabled only when
// neither wants it off. Called both when the user toggles mute and after
// applyBandwidthPolicy changes send rates, so the two never race on the
// same media engine switch.
func (c *Call) refreshAudioRecording() {
	c.mu.Lock()
	degenerate := c.sendRates.MaxKbps <= 1
	muted := c.outgoingAudioMuted
	c.mu.Unlock()
	c.media.SetAudioRecordingEnabled(!degenerate && !muted)
}

// currentHeartbeatState snapshots the fields the next heartbeat broadcast
// should carry.
func (c *Call) currentHeartbeatState() HeartbeatState {
	c.mu.Lock()
	defer c.mu.Unlock()
	audioMuted := c.outgoingAudioMuted
	videoMuted := c.outgoingVideoMuted
	presenting := c.presenting
	sharing := c.sharingScreen
	return HeartbeatState{
		AudioMuted:    &audioMuted,
		VideoMuted:    &videoMuted,
		Presenting:    &presenting,
		SharingScreen: &sharing,
	}
}

// SetSharingScreen toggles screen-sharing, which drives the bandwidth
// policy's dedicated high-bitrate tier.
func (c *Call) SetSharingScreen(sharing bool) {
	c.actor.enqueue(func() {
		c.mu.Lock()
		c.sharingScreen = sharing
		c.mu.Unlock()
		c.applyBandwidthPolicy()
	})
}

// ResendMediaKeys re-broadcasts the current send key to every roster member,
// for use when a new device may have missed the original key delivery.
func (c *Call) ResendMediaKeys() {
	c.actor.enqueue(func() {
		c.mu.Lock()
		fc := c.frameCrypto
		r := c.roster
		joinState := c.joinState
		c.mu.Unlock()
		if fc == nil || r == nil || joinState.Kind != JoinJoined {
			return
		}
		counter, secret := fc.SendState()
		c.broadcastMediaKey(r, secret, joinState.LocalDemuxId, counter)
	})
}

// SetDataMode updates the receive-bandwidth ceiling.
func (c *Call) SetDataMode(mode DataMode) {
	c.actor.enqueue(func() {
		c.mu.Lock()
		c.dataMode = mode
		c.mu.Unlock()
	})
}

// RequestVideo asks the SFU to forward video at the given per-device
// resolutions, rate-limited to at most one request per heartbeat interval.
func (c *Call) RequestVideo(requests []VideoRequest, activeSpeakerHeight *uint32) {
	c.actor.enqueue(func() {
		if c.heartbeatPump == nil {
			return
		}
		now := time.Now()
		if !c.heartbeatPump.canSendVideoRequest(now) {
			return
		}
		c.mu.Lock()
		maxKbps := uint32(maxReceiveRateKbps(c.dataMode))
		c.mu.Unlock()
		raw := c.heartbeatPump.buildVideoRequest(requests, maxKbps, activeSpeakerHeight, now)
		c.media.SendRtp(RtpPacket{Payload: raw})
	})
}

func (c *Call) adminAction(kind rtpcontrol.AdminActionKind, demuxId DemuxId) {
	c.actor.enqueue(func() {
		if c.heartbeatPump == nil {
			return
		}
		raw := c.heartbeatPump.buildAdminAction(kind, demuxId)
		c.media.SendRtp(RtpPacket{Payload: raw})
	})
}

func (c *Call) ApproveUser(demuxId DemuxId) { c.adminAction(rtpcontrol.AdminApprove, demuxId) }
func (c *Call) DenyUser(demuxId DemuxId)    { c.adminAction(rtpcontrol.AdminDeny, demuxId) }
func (c *Call) RemoveClient(demuxId DemuxId) { c.adminAction(rtpcontrol.AdminRemove, demuxId) }
func (c *Call) BlockClient(demuxId DemuxId)  { c.adminAction(rtpcontrol.AdminBlock, demuxId) }

// SetGroupMembers delivers the group roster requested via
// Observer.RequestGroupMembers.
func (c *Call) SetGroupMembers(members []GroupMember) {
	c.actor.enqueue(func() {
		c.mu.Lock()
		c.groupMembers = members
		c.mu.Unlock()
		c.sfu.SetGroupMembers(members)
	})
}

// SetMembershipProof delivers the membership proof requested via
// Observer.RequestMembershipProof.
func (c *Call) SetMembershipProof(proof []byte) {
	c.actor.enqueue(func() {
		c.mu.Lock()
		c.hasMembershipProof = true
		c.lastProofRequested = time.Now()
		c.mu.Unlock()
		c.sfu.SetMembershipProof(proof)
		c.triggerPeek()
	})
}

// SetPeekResult delivers the result of an out-of-band peek request (e.g.
// one issued before joining, to populate a lobby view).
func (c *Call) SetPeekResult(peek PeekInfo) {
	c.actor.enqueue(func() { c.applyPeek(peek) })
}

// OnSfuClientJoined is an alias retained for callers that model join
// completion as a push from the SFU client rather than reading
// SfuClient.Join's result channel directly.
func (c *Call) OnSfuClientJoined(result JoinResult) {
	c.actor.enqueue(func() { c.onJoinResult(result) })
}

// OnSignalingMessageReceived delivers a DeviceToDevice control message
// received out-of-band (over the application's own signaling transport
// rather than control-plane RTP) from senderUserId, e.g. a heartbeat relayed
// before media flow is established, or a media key. A media key is handled
// regardless of whether senderUserId already has a roster entry, since it
// must reach a recipient even before the sender is known to be on the call;
// every other message from a UserId with no roster entry is dropped.
func (c *Call) OnSignalingMessageReceived(senderUserId UserId, payload []byte) {
	c.actor.enqueue(func() {
		msg, err := rtpcontrol.UnmarshalDeviceToDevice(payload)
		if err != nil {
			log.Warn("dropping malformed DeviceToDevice message from %s: %v", senderUserId, err)
			return
		}
		if msg.MediaKey != nil {
			c.applyMediaKey(senderUserId, *msg.MediaKey)
			return
		}

		c.mu.Lock()
		r := c.roster
		c.mu.Unlock()
		if r == nil {
			return
		}

		var senderDemuxId DemuxId
		var found bool
		for _, d := range r.Devices() {
			if d.UserId == senderUserId {
				senderDemuxId, found = d.DemuxId, true
				break
			}
		}
		if !found {
			log.Warn("dropping DeviceToDevice message from unknown user %s", senderUserId)
			return
		}
		c.applyDeviceToDevice(senderDemuxId, msg, 0)
	})
}

// OnControlRtpReceived handles one inbound control-plane RTP packet from the
// media engine: an SFU-to-device notification or a peer's DeviceToDevice
// broadcast. Transport confidentiality for both is the media engine's own
// SRTP concern (keyed from the DHE-derived SrtpKeys via the local/remote
// session description); the frame-crypto ratchet in encryptFrame/decryptFrame
// is reserved for actual audio/video media frames, not control traffic.
func (c *Call) OnControlRtpReceived(raw []byte) {
	c.actor.enqueue(func() {
		env, err := rtpcontrol.Unwrap(raw)
		if err != nil {
			log.Warn("dropping malformed control packet: %v", err)
			return
		}

		c.mu.Lock()
		r := c.roster
		c.mu.Unlock()
		if r == nil {
			return
		}

		if env.Header.Ssrc == rtpcontrol.SfuControlSsrc {
			c.handleSfuToDevice(env.Payload, env.Header.Timestamp)
			return
		}

		senderDemuxId := rtpcontrol.DemuxIdForDataSsrc(env.Header.Ssrc)
		msg, err := rtpcontrol.UnmarshalDeviceToDevice(env.Payload)
		if err != nil {
			log.Warn("dropping malformed DeviceToDevice from demux %d: %v", senderDemuxId, err)
			return
		}
		c.applyDeviceToDevice(senderDemuxId, msg, env.Header.Timestamp)
	})
}

func (c *Call) handleSfuToDevice(payload []byte, rtpTimestamp uint32) {
	msg, err := rtpcontrol.UnmarshalSfuToDevice(payload)
	if err != nil {
		log.Warn("dropping malformed SfuToDevice message: %v", err)
		return
	}
	c.mu.Lock()
	r := c.roster
	c.mu.Unlock()
	if r == nil {
		return
	}

	switch {
	case msg.Speaker != nil:
		if r.ApplySpeaker(*msg.Speaker, rtpTimestamp, time.Now()) {
			c.observer.HandleRemoteDevicesChanged(r.Devices(), RemoteDevicesChangedSpeakerTimeChanged)
		}
	case msg.HasCurrentDevices:
		heights := make(map[DemuxId]uint32, len(msg.CurrentDevices))
		for _, d := range msg.CurrentDevices {
			heights[d.DemuxId] = d.Height
		}
		if r.ApplyForwardingVideo(heights) {
			c.observer.HandleRemoteDevicesChanged(r.Devices(), RemoteDevicesChangedForwardedVideosChanged)
		}
	case msg.Removed:
		if r.EverParticipated() {
			c.fireEnded(EndReasonRemovedFromCall)
		} else {
			c.fireEnded(EndReasonDeniedRequestToJoinCall)
		}
	}
}

func (c *Call) applyDeviceToDevice(senderDemuxId DemuxId, msg rtpcontrol.DeviceToDevice, ts uint32) {
	c.mu.Lock()
	r := c.roster
	c.mu.Unlock()
	if r == nil {
		return
	}
	if msg.Heartbeat != nil {
		_, _, changed, _ := r.ApplyHeartbeat(senderDemuxId, ts, heartbeatToRosterState(*msg.Heartbeat))
		if changed {
			c.observer.HandleRemoteDevicesChanged(r.Devices(), RemoteDevicesChangedHeartbeatStateChanged)
		}
	}
	if msg.Leaving {
		c.triggerPeek()
	}
}

// sendMediaKeyToUser delivers one frame-crypto send secret to a single
// recipient over signaling, out-of-band from the media/control RTP planes so
// it reaches the recipient even before they show up on the call transport.
func (c *Call) sendMediaKeyToUser(userId UserId, localDemuxId DemuxId, ratchetCounter uint8, secret [32]byte) {
	payload := rtpcontrol.MarshalMediaKey(rtpcontrol.MediaKey{
		DemuxId:        localDemuxId,
		RatchetCounter: ratchetCounter,
		Secret:         secret,
	})
	c.observer.SendSignalingMessage(CallMessage{RecipientId: userId, Payload: payload, Urgency: Droppable})
}

// broadcastMediaKey delivers one frame-crypto send secret to every distinct
// user currently in r, one signaling message per user.
func (c *Call) broadcastMediaKey(r *roster.Roster, secret [32]byte, localDemuxId DemuxId, ratchetCounter uint8) {
	sent := map[UserId]bool{}
	for _, d := range r.Devices() {
		if sent[d.UserId] {
			continue
		}
		sent[d.UserId] = true
		c.sendMediaKeyToUser(d.UserId, localDemuxId, ratchetCounter, secret)
	}
}

// rotateMediaSendKey starts (or folds into an already in-flight) a send-key
// rotation triggered by one or more users leaving the call. The new secret is
// broadcast immediately at ratchet counter 0 but not applied to the local
// send ratchet until cfg.KeyRotationApplyDelay later, so media already in
// flight to the SFU keeps decrypting for stragglers during the handoff.
func (c *Call) rotateMediaSendKey(r *roster.Roster, localDemuxId DemuxId) {
	secret, err := randomSecret()
	if err != nil {
		log.Warn("failed to generate media key rotation secret: %v", err)
		return
	}
	secretToSend, shouldSchedule := c.keyRotation.onUsersRemoved(secret)
	if !shouldSchedule {
		return
	}
	c.broadcastMediaKey(r, secretToSend, localDemuxId, 0)
	c.actor.delay(c.cfg.KeyRotationApplyDelay, c.applyPendingKeyRotation)
}

// applyPendingKeyRotation resets the local send ratchet to the secret
// broadcast by rotateMediaSendKey once the delay has elapsed, and
// immediately starts another rotation if a departure arrived while this one
// was pending.
func (c *Call) applyPendingKeyRotation() {
	c.mu.Lock()
	fc := c.frameCrypto
	r := c.roster
	joinState := c.joinState
	c.mu.Unlock()
	if fc == nil || r == nil {
		return
	}

	secret, needsAnother := c.keyRotation.onApply()
	fc.ResetSendRatchet(secret)
	if needsAnother && joinState.Kind == JoinJoined {
		c.rotateMediaSendKey(r, joinState.LocalDemuxId)
	}
}

// applyMediaKey installs a frame-crypto receive secret reported for demuxId
// by senderUserId. A demux id not yet present in the roster is buffered and
// retried on every subsequent peek reconciliation; a demux id already bound
// to a different user is dropped as a forgery attempt.
func (c *Call) applyMediaKey(senderUserId UserId, key rtpcontrol.MediaKey) {
	c.mu.Lock()
	r := c.roster
	fc := c.frameCrypto
	c.mu.Unlock()
	if r == nil || fc == nil {
		return
	}

	matched, forged := r.MarkMediaKeyReceived(key.DemuxId, senderUserId)
	if forged {
		log.Warn("dropping media key for demux %d claiming to be user %s", key.DemuxId, senderUserId)
		return
	}
	if !matched {
		c.mu.Lock()
		c.pendingMediaKeys = append(c.pendingMediaKeys, pendingMediaKey{
			userId:         senderUserId,
			demuxId:        key.DemuxId,
			ratchetCounter: key.RatchetCounter,
			secret:         key.Secret,
		})
		c.mu.Unlock()
		return
	}

	fc.AddReceiveSecret(key.DemuxId, key.RatchetCounter, key.Secret)
	c.observer.HandleRemoteDevicesChanged(r.Devices(), RemoteDevicesChangedMediaKeyReceived)
}

// retryPendingMediaKeys re-attempts every media key buffered by applyMediaKey
// for a demux id not yet known to the roster, since the roster is
// re-reconciled on every peek this call receives.
func (c *Call) retryPendingMediaKeys() {
	c.mu.Lock()
	pending := c.pendingMediaKeys
	c.pendingMediaKeys = nil
	r := c.roster
	fc := c.frameCrypto
	c.mu.Unlock()

	if r == nil {
		c.mu.Lock()
		c.pendingMediaKeys = pending
		c.mu.Unlock()
		return
	}

	var remaining []pendingMediaKey
	changed := false
	for _, p := range pending {
		matched, forged := r.MarkMediaKeyReceived(p.demuxId, p.userId)
		if forged {
			continue
		}
		if !matched {
			remaining = append(remaining, p)
			continue
		}
		if fc != nil {
			fc.AddReceiveSecret(p.demuxId, p.ratchetCounter, p.secret)
		}
		changed = true
	}
	if changed {
		c.observer.HandleRemoteDevicesChanged(r.Devices(), RemoteDevicesChangedMediaKeyReceived)
	}

	c.mu.Lock()
	c.pendingMediaKeys = append(c.pendingMediaKeys, remaining...)
	c.mu.Unlock()
}

// handleMembershipKeyEvents reacts to the roster changes from one peek
// reconciliation: a newly added user gets the current send key unicast
// directly after advancing the ratchet once, and any departure starts a
// send-key rotation so a removed participant stops being able to decrypt
// future media.
func (c *Call) handleMembershipKeyEvents(r *roster.Roster, localDemuxId DemuxId, result roster.Result) {
	c.mu.Lock()
	fc := c.frameCrypto
	c.mu.Unlock()
	if fc == nil {
		return
	}

	if len(result.NewlyAddedUserIds) > 0 {
		counter, secret := fc.AdvanceSendRatchet()
		for _, userId := range result.NewlyAddedUserIds {
			c.sendMediaKeyToUser(userId, localDemuxId, counter, secret)
		}
	}

	if len(result.DepartedUserIds) > 0 {
		c.rotateMediaSendKey(r, localDemuxId)
	}
}

// applyRingPermission decides, from a peek that reveals who created the
// call, whether this device is permitted to ring the group. It acts only
// while the ring state is undecided (RingUnknown, or RingWantsToRing with a
// ring request waiting on the decision); later peeks never change who the
// creator was.
func (c *Call) applyRingPermission(peek PeekInfo) {
	if peek.Creator == nil || peek.EraId == nil ||
		(c.ring.state.Kind != RingUnknown && c.ring.state.Kind != RingWantsToRing) {
		return
	}
	if intention := c.ring.onJoinedAsCreator(*peek.Creator == c.cfg.LocalUserId, *peek.EraId); intention != nil {
		c.sendRingIntention(*intention)
	}
}

func (c *Call) applyPeek(peek PeekInfo) {
	c.mu.Lock()
	r := c.roster
	joinState := c.joinState
	c.lastPeek = peek
	c.mu.Unlock()

	c.applyRingPermission(peek)

	if r == nil {
		// Not yet joined: there's no roster to reconcile against, but the
		// lobby view still wants to know who's present.
		c.observer.HandlePeekChanged(peek, roster.JoinedUserIds(peek.Devices, 0, false))
		return
	}

	var result roster.Result
	if joinState.Kind == JoinJoined {
		result = r.Reconcile(time.Now(), peek)
	} else {
		result = r.ReconcilePeekOnly(peek)
	}

	c.ring.onRosterUpdated(!result.IsEmpty)
	notifyRosterResult(c.observer, r.Devices(), peek, result)
	c.applyBandwidthPolicy()

	if result.DemuxIdsChanged {
		c.rebuildRemoteSdp(r.Devices())
	}
	if joinState.Kind == JoinJoined {
		c.handleMembershipKeyEvents(r, joinState.LocalDemuxId, result)
		c.retryPendingMediaKeys()
	}
}

// rebuildRemoteSdp re-describes the remote session whenever the set of
// remote demux ids changes, per the Join-flow rule that the SDP must be
// rebuilt (not merely updated in place) when devices join or leave.
func (c *Call) rebuildRemoteSdp(devices []*RemoteDeviceState) {
	demuxIds := make([]DemuxId, len(devices))
	for i, d := range devices {
		demuxIds[i] = d.DemuxId
	}

	c.mu.Lock()
	ufrag, pwd := c.localSdp.Ufrag, c.localSdp.Pwd
	c.remoteSdp = demuxIds
	c.mu.Unlock()

	session := sdpbuild.BuildRemote(sdpbuild.RemoteParams{
		Ufrag:          ufrag,
		Pwd:            pwd,
		RemoteDemuxIds: demuxIds,
	})
	if err := c.media.SetRemoteDescription((&session).String()); err != nil {
		log.Warn("failed to set remote description after roster change: %v", err)
	}
}

func (c *Call) applyBandwidthPolicy() {
	c.mu.Lock()
	r := c.roster
	sharing := c.sharingScreen
	c.mu.Unlock()
	if r == nil {
		return
	}
	count := len(r.Devices())
	rates := computeSendRates(count, sharing)

	c.mu.Lock()
	changed := rates != c.sendRates
	c.sendRates = rates
	c.mu.Unlock()
	if !changed {
		return
	}
	applySendRates(c.media, rates)
	c.refreshAudioRecording()
	c.observer.HandleSendRatesChanged(rates)
}

func (c *Call) triggerPeek() {
	c.mu.Lock()
	hasProof := c.hasMembershipProof
	state := c.remoteDevicesState
	c.mu.Unlock()

	issue, next := c.scheduler.shouldRequestNow(state, time.Now(), hasProof)
	c.mu.Lock()
	c.remoteDevicesState = next
	c.mu.Unlock()
	if !issue {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PeekRequestTimeout)
	ch, err := c.sfu.Peek(ctx)
	if err != nil {
		cancel()
		c.onPeekFailed()
		return
	}
	go func() {
		defer cancel()
		result := <-ch
		c.actor.enqueue(func() { c.onPeekResult(result) })
	}()
}

func (c *Call) onPeekResult(result PeekResult) {
	if result.Err != nil {
		c.onPeekFailed()
		return
	}

	c.mu.Lock()
	next, again := c.scheduler.onSucceeded(c.remoteDevicesState, time.Now())
	c.remoteDevicesState = next
	c.mu.Unlock()

	c.applyPeek(result.Peek)

	if again {
		c.triggerPeek()
	}
}

func (c *Call) onPeekFailed() {
	c.mu.Lock()
	next, again := c.scheduler.onFailed(c.remoteDevicesState, time.Now())
	c.remoteDevicesState = next
	c.mu.Unlock()
	if again {
		c.triggerPeek()
	}
}

// onTick runs once per cfg.TickInterval on the actor goroutine and drives
// every periodic check: membership-proof refresh, periodic re-peek,
// heartbeat broadcast, stats sampling, and audio-level sampling. triggerPeek
// is called unconditionally every tick since the scheduler itself decides
// whether a request is actually due.
func (c *Call) onTick() {
	now := time.Now()

	c.mu.Lock()
	needsProofRefresh := c.scheduler.membershipProofNeedsRefresh(c.lastProofRequested, now)
	joinState := c.joinState
	c.mu.Unlock()

	if needsProofRefresh {
		c.observer.RequestMembershipProof()
	}

	c.triggerPeek()

	if joinState.Kind != JoinJoined {
		return
	}

	c.mu.Lock()
	dueForHeartbeat := now.Sub(c.lastHeartbeatSent) >= c.cfg.HeartbeatInterval
	dueForStats := !c.nextStatsAt.IsZero() && !now.Before(c.nextStatsAt)
	dueForAudioLevels := c.cfg.AudioLevelInterval > 0 && now.Sub(c.lastAudioLevels) >= c.cfg.AudioLevelInterval
	c.mu.Unlock()

	if dueForHeartbeat {
		c.broadcastHeartbeat()
	}
	if dueForStats {
		c.sampleStats()
	}
	if dueForAudioLevels {
		c.sampleAudioLevels()
	}
}

// broadcastHeartbeat builds and sends this device's current heartbeat
// state, driven by onTick at HeartbeatInterval. The payload is not passed
// through the frame-crypto context; it goes out as a plain RTP-wrapped
// DeviceToDevice under the media engine's SRTP.
func (c *Call) broadcastHeartbeat() {
	c.mu.Lock()
	pump := c.heartbeatPump
	fc := c.frameCrypto
	c.lastHeartbeatSent = time.Now()
	c.mu.Unlock()
	if pump == nil || fc == nil {
		return
	}
	raw := pump.buildHeartbeat(c.currentHeartbeatState())
	c.media.SendRtp(RtpPacket{Payload: raw})
}

// sampleStats polls the media engine's send-rate stats purely for
// diagnostic logging, mirroring the reference implementation's log-only
// stats observer: it is not part of the Observer interface.
func (c *Call) sampleStats() {
	c.mu.Lock()
	c.nextStatsAt = time.Now().Add(c.cfg.StatsInterval)
	c.mu.Unlock()
	stats := c.media.Stats()
	log.Debug("stats: target=%dkbps ideal=%dkbps allocated=%dkbps", stats.TargetSendRateKbps, stats.IdealSendRateKbps, stats.AllocatedSendRateKbps)
}

// sampleAudioLevels polls the media engine for the local and remote audio
// levels and forwards them to the observer.
func (c *Call) sampleAudioLevels() {
	c.mu.Lock()
	c.lastAudioLevels = time.Now()
	c.mu.Unlock()
	local, remote := c.media.GetAudioLevels()
	c.observer.HandleAudioLevels(local, remote)
}

func (c *Call) encryptFrame(isAudio bool, plaintext []byte) ([]byte, error) {
	c.mu.Lock()
	fc := c.frameCrypto
	c.mu.Unlock()
	if fc == nil {
		return nil, errors.New("frame crypto not yet established")
	}
	out, _, _, err := fc.Encrypt(framecrypto.UnencryptedHeaderLen(isAudio), plaintext)
	return out, err
}

func (c *Call) decryptFrame(senderDemuxId DemuxId, isAudio bool, ciphertext []byte) ([]byte, error) {
	c.mu.Lock()
	fc := c.frameCrypto
	c.mu.Unlock()
	if fc == nil {
		return nil, errors.New("frame crypto not yet established")
	}
	return fc.Decrypt(senderDemuxId, framecrypto.UnencryptedHeaderLen(isAudio), ciphertext)
}
