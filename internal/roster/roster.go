// Copyright 2019 Lanikai Labs. All rights reserved.

// Package roster implements the participant roster reconciler for a group
// call: it merges SFU peek results, in-band SFU RTP notifications (speaker,
// forwarding video, heartbeat, removed), and peer heartbeats into a
// deterministic RemoteDeviceState list.
//
// alohartc has no notion of a multi-party roster, so there is no direct
// ancestor for this subsystem; the device list is kept as a flat sequence
// searched linearly by demux id, since call sizes stay small enough that
// this never shows up on a profile.
package roster

import (
	"time"

	"github.com/bihovi584om/ringrtc/internal/ids"
	"github.com/bihovi584om/ringrtc/internal/logging"
)

var log = logging.DefaultLogger.WithTag("roster")

// HeartbeatState holds the optional flags carried by a device-to-device
// Heartbeat message. Unset fields are never transmitted.
type HeartbeatState struct {
	AudioMuted    *bool
	VideoMuted    *bool
	Presenting    *bool
	SharingScreen *bool
}

// Equal reports whether two HeartbeatStates carry the same information,
// used to decide whether HeartbeatStateChanged should fire.
func (h HeartbeatState) Equal(o HeartbeatState) bool {
	return boolPtrEqual(h.AudioMuted, o.AudioMuted) &&
		boolPtrEqual(h.VideoMuted, o.VideoMuted) &&
		boolPtrEqual(h.Presenting, o.Presenting) &&
		boolPtrEqual(h.SharingScreen, o.SharingScreen)
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// RemoteDeviceState is the per-remote-device record maintained by the
// roster.
type RemoteDeviceState struct {
	DemuxId ids.DemuxId
	UserId  ids.UserId

	MediaKeysReceived bool

	Heartbeat HeartbeatState

	HasHeartbeatTimestamp bool
	HeartbeatRtpTimestamp uint32

	AddedTime time.Time

	HasSpeakerTime bool
	SpeakerTime    time.Time

	LeavingReceived bool

	ForwardingVideo       bool
	ServerAllocatedHeight uint32
	ClientDecodedHeight   uint32
}

// IsHigherResolutionPending holds when the SFU has allocated a higher
// resolution than the client has actually decoded yet:
// isHigherResolutionPending ⇔ serverAllocatedHeight > clientDecodedHeight.
func (d *RemoteDeviceState) IsHigherResolutionPending() bool {
	return d.ServerAllocatedHeight > d.ClientDecodedHeight
}

// PeekDevice is one entry of PeekInfo.Devices/PendingDevices.
type PeekDevice struct {
	DemuxId ids.DemuxId
	UserId  *ids.UserId // absent for devices the SFU hasn't yet resolved a user for
}

// PeekInfo is the SFU peek response.
type PeekInfo struct {
	Devices        []PeekDevice
	PendingDevices []PeekDevice
	Creator        *ids.UserId
	EraId          *ids.EraId
	MaxDevices     *uint32
}

// DeviceCount is the total participant count used by the max-devices check
// in the Join flow.
func (p PeekInfo) DeviceCount() int { return len(p.Devices) }

// Roster holds the reconciled remote device list for one Call.
type Roster struct {
	localDemuxId ids.DemuxId

	devices []*RemoteDeviceState // ordered by server response, searched linearly

	everParticipated bool

	hasLastSpeakerTimestamp bool
	lastSpeakerRtpTimestamp uint32

	hasPeeked         bool
	lastJoinedUserIds map[ids.UserId]bool
	lastEraId         *ids.EraId
	lastPendingSig    uint64
	hasPendingSig     bool
}

// New creates a Roster for a call that has been assigned localDemuxId.
func New(localDemuxId ids.DemuxId) *Roster {
	return &Roster{localDemuxId: localDemuxId}
}

// Devices returns the current remote device list, ordered by server
// response (stable addedTime ordering).
func (r *Roster) Devices() []*RemoteDeviceState { return r.devices }

// EverParticipated reports whether the local device has ever appeared in an
// SFU peek's device list, used to distinguish being Removed from being
// Denied.
func (r *Roster) EverParticipated() bool { return r.everParticipated }

// ByDemuxId searches the flat device list linearly.
func (r *Roster) ByDemuxId(id ids.DemuxId) *RemoteDeviceState {
	for _, d := range r.devices {
		if d.DemuxId == id {
			return d
		}
	}
	return nil
}

// JoinedUserIds returns the unique set of user ids among Devices(), which is
// the set reported via handle_peek_changed.
func JoinedUserIds(devices []PeekDevice, localDemuxId ids.DemuxId, excludeLocal bool) []ids.UserId {
	seen := make(map[ids.UserId]bool)
	var out []ids.UserId
	for _, d := range devices {
		if d.UserId == nil {
			continue
		}
		if excludeLocal && d.DemuxId == localDemuxId {
			continue
		}
		if seen[*d.UserId] {
			continue
		}
		seen[*d.UserId] = true
		out = append(out, *d.UserId)
	}
	return out
}

// pendingUsersSignature implements order-independent fold:
// for each unique pending user id, hash to a 64-bit value and fold by
// wrapping addition, seeded with pendingDevices.len().
func pendingUsersSignature(pending []PeekDevice) uint64 {
	seen := make(map[ids.UserId]bool)
	sig := uint64(len(pending))
	for _, d := range pending {
		if d.UserId == nil || seen[*d.UserId] {
			continue
		}
		seen[*d.UserId] = true
		sig += fnv64(string(*d.UserId))
	}
	return sig
}

func fnv64(s string) uint64 {
	const offset = uint64(14695981039346656037)
	const prime = uint64(1099511628211)
	h := offset
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	return h
}

// Result reports what changed during a Reconcile call, so the caller (the
// Call actor) can drive SDP renegotiation, key distribution, rotation, and
// observer callbacks.
type Result struct {
	// DemuxIdsChanged is true when the set of remote demux ids changed;
	// requires rebuilding the local/remote SDP.
	DemuxIdsChanged bool

	// NewlyAddedUserIds is the unique set of user ids with at least one
	// device entry newly created this reconcile pass, including a further
	// device of a user who already had one.
	NewlyAddedUserIds []ids.UserId

	// DepartedUserIds is the set of user ids present before this reconcile
	// and absent after.
	DepartedUserIds []ids.UserId

	// PeekChanged is true when handle_peek_changed should fire.
	PeekChanged bool

	// JoinedUserIds is the new value to report alongside PeekChanged.
	JoinedUserIds []ids.UserId

	// IsEmpty is true when, after this reconcile, no other devices remain in
	// the call (used by the Ring Coordinator's auto-cancel rule).
	IsEmpty bool
}

// ReconcilePeekOnly updates only the joined-members summary, for use when
// not (yet) Joined or DHE-negotiated.
func (r *Roster) ReconcilePeekOnly(peek PeekInfo) Result {
	joined := JoinedUserIds(peek.Devices, r.localDemuxId, false)
	changed := r.peekChangeDetected(peek, joined)
	r.recordPeekChangeState(peek, peek.EraId, joined)
	return Result{PeekChanged: changed, JoinedUserIds: joined}
}

// Reconcile merges a new PeekInfo into the roster: dropping unidentified and
// local devices, preserving or creating entries, and detecting demux-id-set
// and membership changes. Key distribution and pending-key re-drain are
// driven by the caller using NewlyAddedUserIds/DepartedUserIds, since those
// need the shared frame-crypto context that this package does not own.
func (r *Roster) Reconcile(now time.Time, peek PeekInfo) Result {
	joined := JoinedUserIds(peek.Devices, r.localDemuxId, false)
	peekChanged := r.peekChangeDetected(peek, joined)
	r.recordPeekChangeState(peek, peek.EraId, joined)

	// Step 1: drop devices with no user id; drop (but note) the local demux id.
	type incoming struct {
		demuxId ids.DemuxId
		userId  ids.UserId
	}
	var kept []incoming
	for _, d := range peek.Devices {
		if d.UserId == nil {
			log.Debug("dropping peeked demux %d with no resolved user id", d.DemuxId)
			continue
		}
		if d.DemuxId == r.localDemuxId {
			r.everParticipated = true
			continue
		}
		kept = append(kept, incoming{d.DemuxId, *d.UserId})
	}

	beforeUserIds := uniqueUserIds(r.devices)

	// Step 2: preserve matching entries, create new ones.
	var rebuilt []*RemoteDeviceState
	newlyAddedSeen := make(map[ids.UserId]bool)
	var newlyAdded []ids.UserId
	for _, in := range kept {
		if existing := r.ByDemuxId(in.demuxId); existing != nil && existing.UserId == in.userId {
			rebuilt = append(rebuilt, existing)
			continue
		}
		fresh := &RemoteDeviceState{
			DemuxId:   in.demuxId,
			UserId:    in.userId,
			AddedTime: now,
		}
		rebuilt = append(rebuilt, fresh)
		if !newlyAddedSeen[in.userId] {
			newlyAddedSeen[in.userId] = true
			newlyAdded = append(newlyAdded, in.userId)
		}
	}

	demuxIdsChanged := demuxSetChanged(r.devices, rebuilt)
	r.devices = rebuilt

	afterUserIds := uniqueUserIds(r.devices)
	departed := setDifference(beforeUserIds, afterUserIds)

	return Result{
		DemuxIdsChanged:   demuxIdsChanged,
		NewlyAddedUserIds: newlyAdded,
		DepartedUserIds:   departed,
		PeekChanged:       peekChanged,
		JoinedUserIds:     joined,
		IsEmpty:           len(r.devices) == 0,
	}
}

func (r *Roster) peekChangeDetected(peek PeekInfo, joined []ids.UserId) bool {
	if !r.hasPeeked {
		return true
	}
	if !userIdSetEqual(r.lastJoinedUserIds, joined) {
		return true
	}
	if !eraEqual(r.lastEraId, peek.EraId) {
		return true
	}
	sig := pendingUsersSignature(peek.PendingDevices)
	if !r.hasPendingSig || sig != r.lastPendingSig {
		return true
	}
	return false
}

func (r *Roster) recordPeekChangeState(peek PeekInfo, era *ids.EraId, joined []ids.UserId) {
	r.hasPeeked = true
	r.lastEraId = era
	r.lastJoinedUserIds = make(map[ids.UserId]bool, len(joined))
	for _, u := range joined {
		r.lastJoinedUserIds[u] = true
	}
	r.lastPendingSig = pendingUsersSignature(peek.PendingDevices)
	r.hasPendingSig = true
}

func eraEqual(a, b *ids.EraId) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func userIdSetEqual(set map[ids.UserId]bool, list []ids.UserId) bool {
	if len(set) != len(list) {
		return false
	}
	for _, u := range list {
		if !set[u] {
			return false
		}
	}
	return true
}

func uniqueUserIds(devices []*RemoteDeviceState) map[ids.UserId]bool {
	out := make(map[ids.UserId]bool, len(devices))
	for _, d := range devices {
		out[d.UserId] = true
	}
	return out
}

func setDifference(before, after map[ids.UserId]bool) []ids.UserId {
	var out []ids.UserId
	for u := range before {
		if !after[u] {
			out = append(out, u)
		}
	}
	return out
}

func demuxSetChanged(before, after []*RemoteDeviceState) bool {
	if len(before) != len(after) {
		return true
	}
	b := make(map[ids.DemuxId]bool, len(before))
	for _, d := range before {
		b[d.DemuxId] = true
	}
	for _, d := range after {
		if !b[d.DemuxId] {
			return true
		}
	}
	return false
}

// ApplySpeaker processes an in-band RTP Speaker notification. It returns
// true if the remote device list's speaker ordering should be reported as
// changed.
func (r *Roster) ApplySpeaker(demuxId ids.DemuxId, rtpTimestamp uint32, now time.Time) bool {
	if r.hasLastSpeakerTimestamp && rtpTimestamp <= r.lastSpeakerRtpTimestamp {
		return false
	}
	device := r.ByDemuxId(demuxId)
	if device == nil {
		return false
	}
	r.hasLastSpeakerTimestamp = true
	r.lastSpeakerRtpTimestamp = rtpTimestamp
	device.HasSpeakerTime = true
	device.SpeakerTime = now
	return true
}

// SortedBySpeaker orders devices by speakerTime desc (absent last), then
// addedTime asc, then demuxId asc.
func (r *Roster) SortedBySpeaker() []*RemoteDeviceState {
	out := append([]*RemoteDeviceState(nil), r.devices...)
	sortBySpeaker(out)
	return out
}

func sortBySpeaker(devices []*RemoteDeviceState) {
	less := func(i, j int) bool {
		a, b := devices[i], devices[j]
		if a.HasSpeakerTime != b.HasSpeakerTime {
			return a.HasSpeakerTime // devices with a speaker time sort first
		}
		if a.HasSpeakerTime && b.HasSpeakerTime && !a.SpeakerTime.Equal(b.SpeakerTime) {
			return a.SpeakerTime.After(b.SpeakerTime) // desc
		}
		if !a.AddedTime.Equal(b.AddedTime) {
			return a.AddedTime.Before(b.AddedTime) // asc
		}
		return a.DemuxId < b.DemuxId // asc
	}
	insertionSort(devices, less)
}

func insertionSort(s []*RemoteDeviceState, less func(i, j int) bool) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// ApplyForwardingVideo processes an in-band RTP CurrentDevices notification.
// allocatedHeights maps demux ids
// currently forwarding video to the server-allocated height; any known
// device absent from the map is not currently forwarded. Returns true if
// the forwarding set changed.
func (r *Roster) ApplyForwardingVideo(allocatedHeights map[ids.DemuxId]uint32) bool {
	changed := false
	for _, d := range r.devices {
		height, forwarding := allocatedHeights[d.DemuxId]
		if forwarding != d.ForwardingVideo {
			changed = true
		}
		d.ForwardingVideo = forwarding
		if forwarding {
			d.ServerAllocatedHeight = height
		} else {
			d.ServerAllocatedHeight = 0
			d.ClientDecodedHeight = 0
		}
	}
	return changed
}

// ApplyHeartbeat processes a decrypted peer Heartbeat. Returns (known,
// timestampAccepted, stateChanged, videoMutedNewly).
func (r *Roster) ApplyHeartbeat(demuxId ids.DemuxId, rtpTimestamp uint32, state HeartbeatState) (known, accepted, changed, videoMutedNewly bool) {
	device := r.ByDemuxId(demuxId)
	if device == nil {
		log.Debug("ignoring heartbeat from unknown demux %d", demuxId)
		return false, false, false, false
	}
	if device.HasHeartbeatTimestamp && rtpTimestamp <= device.HeartbeatRtpTimestamp {
		return true, false, false, false
	}
	device.HasHeartbeatTimestamp = true
	device.HeartbeatRtpTimestamp = rtpTimestamp

	changed = !device.Heartbeat.Equal(state)
	wasVideoMuted := device.Heartbeat.VideoMuted != nil && *device.Heartbeat.VideoMuted
	nowVideoMuted := state.VideoMuted != nil && *state.VideoMuted
	if !wasVideoMuted && nowVideoMuted {
		device.ClientDecodedHeight = 0
		videoMutedNewly = true
	}
	device.Heartbeat = state
	return true, true, changed, videoMutedNewly
}

// MarkMediaKeyReceived flips mediaKeysReceived for a device that matches
// both demuxId and userId. Returns (matched, forged) where forged is true if
// demuxId is known but bound to a different user (a forgery attempt, which
// callers must drop with a warning rather than install the key).
func (r *Roster) MarkMediaKeyReceived(demuxId ids.DemuxId, userId ids.UserId) (matched, forged bool) {
	device := r.ByDemuxId(demuxId)
	if device == nil {
		return false, false
	}
	if device.UserId != userId {
		return false, true
	}
	device.MediaKeysReceived = true
	return true, false
}

// SetClientDecodedHeight records the locally-decoded resolution for a
// device, used to drive HigherResolutionPendingChanged.
func (r *Roster) SetClientDecodedHeight(demuxId ids.DemuxId, height uint32) (changed bool) {
	device := r.ByDemuxId(demuxId)
	if device == nil {
		return false
	}
	before := device.IsHigherResolutionPending()
	device.ClientDecodedHeight = height
	return before != device.IsHigherResolutionPending()
}
