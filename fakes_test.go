// Copyright 2019 Lanikai Labs. All rights reserved.

package ringrtc

import (
	"context"
	"sync"
)

// fakeMediaEngine records every call made to it for test assertions; it
// performs no real transport or media work.
type fakeMediaEngine struct {
	mu sync.Mutex

	localDescriptions  []string
	remoteDescriptions []string
	candidates         []IceCandidate
	sentRtp            []RtpPacket

	minKbps, startKbps, maxKbps int
	audioRecordingEnabled       bool
	audioPlayoutEnabled         bool
	outgoingMediaEnabled        bool

	encryptFrame FrameEncryptFunc
	decryptFrame FrameDecryptFunc
}

func newFakeMediaEngine() *fakeMediaEngine { return &fakeMediaEngine{} }

func (m *fakeMediaEngine) SetLocalDescription(sdp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.localDescriptions = append(m.localDescriptions, sdp)
	return nil
}

func (m *fakeMediaEngine) SetRemoteDescription(sdp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remoteDescriptions = append(m.remoteDescriptions, sdp)
	return nil
}

func (m *fakeMediaEngine) AddRemoteCandidate(candidate IceCandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates = append(m.candidates, candidate)
	return nil
}

func (m *fakeMediaEngine) SendRtp(packet RtpPacket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentRtp = append(m.sentRtp, packet)
	return nil
}

func (m *fakeMediaEngine) SetSendBitrateKbps(min, start, max int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.minKbps, m.startKbps, m.maxKbps = min, start, max
}

func (m *fakeMediaEngine) SetAudioRecordingEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audioRecordingEnabled = enabled
}

func (m *fakeMediaEngine) SetAudioPlayoutEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audioPlayoutEnabled = enabled
}

func (m *fakeMediaEngine) SetOutgoingMediaEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outgoingMediaEnabled = enabled
}

func (m *fakeMediaEngine) Stats() MediaStats { return MediaStats{} }

func (m *fakeMediaEngine) GetAudioLevels() (uint16, map[DemuxId]uint16) { return 0, nil }

func (m *fakeMediaEngine) SetEncryptFrame(fn FrameEncryptFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.encryptFrame = fn
}

func (m *fakeMediaEngine) SetDecryptFrame(fn FrameDecryptFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decryptFrame = fn
}

// fakeSfuClient is a scriptable SfuClient: tests push exactly the
// JoinResult/PeekResult each call should yield before triggering it.
type fakeSfuClient struct {
	mu sync.Mutex

	joinResults []JoinResult
	peekResults []PeekResult

	proof   []byte
	members []GroupMember
}

func newFakeSfuClient() *fakeSfuClient { return &fakeSfuClient{} }

func (c *fakeSfuClient) Join(ctx context.Context, ufrag string, clientPublicKey [32]byte) (<-chan JoinResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan JoinResult, 1)
	if len(c.joinResults) == 0 {
		ch <- JoinResult{}
	} else {
		result := c.joinResults[0]
		c.joinResults = c.joinResults[1:]
		ch <- result
	}
	close(ch)
	return ch, nil
}

func (c *fakeSfuClient) Peek(ctx context.Context) (<-chan PeekResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan PeekResult, 1)
	if len(c.peekResults) == 0 {
		ch <- PeekResult{}
	} else {
		result := c.peekResults[0]
		c.peekResults = c.peekResults[1:]
		ch <- result
	}
	close(ch)
	return ch, nil
}

func (c *fakeSfuClient) SetMembershipProof(proof []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.proof = proof
}

func (c *fakeSfuClient) SetGroupMembers(members []GroupMember) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members = members
}

// fakeObserver records every callback it receives for test assertions.
type fakeObserver struct {
	mu sync.Mutex

	connectionStates []ConnectionState
	joinStates       []JoinState
	sendRates        []SendRates
	peeks            []PeekInfo
	endReasons       []EndReason
	groupMessages    []CallMessage
	messages         []CallMessage
	remoteChanges    []RemoteDevicesChangedReason
}

func newFakeObserver() *fakeObserver { return &fakeObserver{} }

func (o *fakeObserver) RequestMembershipProof() {}
func (o *fakeObserver) RequestGroupMembers()    {}

func (o *fakeObserver) HandleConnectionStateChanged(state ConnectionState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.connectionStates = append(o.connectionStates, state)
}

func (o *fakeObserver) HandleJoinStateChanged(state JoinState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.joinStates = append(o.joinStates, state)
}

func (o *fakeObserver) HandleNetworkRouteChanged() {}

func (o *fakeObserver) HandleSendRatesChanged(rates SendRates) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sendRates = append(o.sendRates, rates)
}

func (o *fakeObserver) HandleRemoteDevicesChanged(devices []*RemoteDeviceState, reason RemoteDevicesChangedReason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.remoteChanges = append(o.remoteChanges, reason)
}

func (o *fakeObserver) HandlePeekChanged(peek PeekInfo, joinedUserIds []UserId) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.peeks = append(o.peeks, peek)
}

func (o *fakeObserver) HandleIncomingVideoTrack(demuxId DemuxId) {}

func (o *fakeObserver) HandleAudioLevels(localLevel uint16, remoteLevels map[DemuxId]uint16) {}

func (o *fakeObserver) HandleEnded(reason EndReason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.endReasons = append(o.endReasons, reason)
}

func (o *fakeObserver) SendSignalingMessageToGroup(message CallMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.groupMessages = append(o.groupMessages, message)
}

func (o *fakeObserver) SendSignalingMessage(message CallMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, message)
}
