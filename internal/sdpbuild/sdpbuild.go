// Copyright 2019 Lanikai Labs. All rights reserved.

// Package sdpbuild constructs the local and remote session descriptions
// exchanged during the Join flow, on top of the internal/sdp model
// (Session/Media/Attribute).
package sdpbuild

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/bihovi584om/ringrtc/internal/dhekeys"
	"github.com/bihovi584om/ringrtc/internal/ids"
	"github.com/bihovi584om/ringrtc/internal/sdp"
)

const (
	ufragLen = 4
	pwdLen   = 22
)

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateUfrag returns a fresh 4-character alphanumeric ICE username
// fragment.
func GenerateUfrag() (string, error) { return randomAlphanumeric(ufragLen) }

// GeneratePwd returns a fresh 22-character alphanumeric ICE password.
func GeneratePwd() (string, error) { return randomAlphanumeric(pwdLen) }

func randomAlphanumeric(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range raw {
		out[i] = alphanumeric[int(b)%len(alphanumeric)]
	}
	return string(out), nil
}

// IceCandidate is one ICE candidate line to embed in the media section.
type IceCandidate struct {
	Foundation string
	Component  int
	Transport  string // "udp" or "tcp"
	Priority   uint32
	Address    string
	Port       int
	Type       string // "host", "srflx", "relay", ...
}

func (c IceCandidate) attributeValue() string {
	return fmt.Sprintf("%s %d %s %d %s %d typ %s",
		c.Foundation, c.Component, c.Transport, c.Priority, c.Address, c.Port, c.Type)
}

// LocalParams describes this device's half of the Join-flow SDP exchange.
type LocalParams struct {
	Ufrag        string
	Pwd          string
	ClientKey    dhekeys.KeySalt
	LocalDemuxId ids.DemuxId
}

// RemoteParams describes the SFU's half, as returned by the join response.
type RemoteParams struct {
	Ufrag          string
	Pwd            string
	ServerKey      dhekeys.KeySalt
	RemoteDemuxIds []ids.DemuxId
	Candidates     []IceCandidate
}

// BuildLocal builds the local session description: ufrag, pwd, the client
// SRTP key/salt, and the local demux id as an a=ssrc-like custom attribute.
func BuildLocal(p LocalParams) sdp.Session {
	media := sdp.NewControlChannelMedia(
		sdp.Attribute{Key: "ice-ufrag", Value: p.Ufrag},
		sdp.Attribute{Key: "ice-pwd", Value: p.Pwd},
		sdp.Attribute{Key: "setup", Value: "actpass"},
		sdp.Attribute{Key: "rtcp-mux"},
		sdp.Attribute{Key: "ringrtc-demux-id", Value: fmt.Sprintf("%d", p.LocalDemuxId)},
		sdp.Attribute{Key: "crypto", Value: cryptoLine(p.ClientKey)},
	)
	return sdp.Session{
		Version: 0,
		Origin:  localOrigin(),
		Name:    "-",
		Media:   []sdp.Media{media},
	}
}

// BuildRemote builds the remote session description: server ufrag, pwd, the
// server SRTP key/salt, the current remote demux list, and ICE candidates.
// Called again with an updated RemoteDemuxIds whenever the roster's demux
// id set changes.
func BuildRemote(p RemoteParams) sdp.Session {
	attrs := []sdp.Attribute{
		{Key: "ice-ufrag", Value: p.Ufrag},
		{Key: "ice-pwd", Value: p.Pwd},
		{Key: "setup", Value: "active"},
		{Key: "rtcp-mux"},
		{Key: "crypto", Value: cryptoLine(p.ServerKey)},
	}
	for _, demuxId := range p.RemoteDemuxIds {
		attrs = append(attrs, sdp.Attribute{Key: "ringrtc-remote-demux-id", Value: fmt.Sprintf("%d", demuxId)})
	}
	for _, c := range p.Candidates {
		attrs = append(attrs, sdp.Attribute{Key: "candidate", Value: c.attributeValue()})
	}

	media := sdp.NewControlChannelMedia(attrs...)
	return sdp.Session{
		Version: 0,
		Origin:  localOrigin(),
		Name:    "-",
		Media:   []sdp.Media{media},
	}
}

func cryptoLine(ks dhekeys.KeySalt) string {
	material := append(append([]byte{}, ks.Key[:]...), ks.Salt[:]...)
	return "1 AES_CM_128_HMAC_SHA1_80 inline:" + base64.StdEncoding.EncodeToString(material)
}

func localOrigin() sdp.Origin {
	return sdp.Origin{
		Username:       "-",
		SessionId:      "0",
		SessionVersion: 0,
		NetworkType:    "IN",
		AddressType:    "IP4",
		Address:        "0.0.0.0",
	}
}

// RemoteDemuxIdsChanged reports whether the set of remote demux ids embedded
// in session differs from current, ignoring order.
func RemoteDemuxIdsChanged(session sdp.Session, current []ids.DemuxId) bool {
	embedded := extractRemoteDemuxIds(session)
	if len(embedded) != len(current) {
		return true
	}
	set := make(map[ids.DemuxId]bool, len(current))
	for _, id := range current {
		set[id] = true
	}
	for _, id := range embedded {
		if !set[id] {
			return true
		}
	}
	return false
}

func extractRemoteDemuxIds(session sdp.Session) []ids.DemuxId {
	var out []ids.DemuxId
	for _, m := range session.Media {
		for _, value := range m.GetAttrValues("ringrtc-remote-demux-id") {
			var v uint32
			if _, err := fmt.Sscanf(value, "%d", &v); err == nil {
				out = append(out, ids.DemuxId(v))
			}
		}
	}
	return out
}

