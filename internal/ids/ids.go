// Copyright 2019 Lanikai Labs. All rights reserved.

// Package ids defines the opaque identifier types shared by the root
// ringrtc package and its internal collaborators (roster, framecrypto,
// rtpcontrol). Keeping them in their own leaf package avoids an import
// cycle between those collaborators and the root package.
package ids

import (
	"crypto/sha256"
	"encoding/binary"
	"strconv"
)

// ClientId is an opaque, application-assigned identifier for a Call. Zero is
// reserved as an invalid value.
type ClientId uint32

// Valid reports whether id is usable (non-zero).
func (id ClientId) Valid() bool { return id != 0 }

// DemuxId is the SFU-assigned per-device identifier used to route media RTP
// and to key per-sender frame-crypto state.
type DemuxId uint32

// DataSsrcOffset is added to a DemuxId to get the SSRC used for that
// device's broadcast DeviceToDevice channel.
const DataSsrcOffset DemuxId = 0xD

// DataSsrc returns the SSRC this device broadcasts DeviceToDevice data on.
func (id DemuxId) DataSsrc() uint32 { return uint32(id) + uint32(DataSsrcOffset) }

// DemuxIdFromDataSsrc recovers the sender's DemuxId from an inbound data SSRC.
func DemuxIdFromDataSsrc(ssrc uint32) DemuxId {
	if ssrc < uint32(DataSsrcOffset) {
		return 0
	}
	return DemuxId(ssrc - uint32(DataSsrcOffset))
}

// UserId is an opaque, application-defined identifier for a group member.
type UserId string

// GroupId is an opaque, application-defined identifier for a group.
type GroupId string

// EraId is an SFU-assigned opaque string identifying a particular call
// instance; it's the raw material for RingId derivation.
type EraId string

// RingId is a 64-bit identifier for an outgoing ring intention, derived from
// an EraId. See FromEra.
type RingId int64

// FromEra derives a RingId from an era id string:
//
//   - If the string is exactly 16 hex digits, parse it as an unsigned 64-bit
//     big-endian number and reinterpret the bits as signed. Zero is remapped
//     to -1, preserving zero as a distinct "no ring" sentinel elsewhere.
//   - Otherwise, take the first 8 bytes of SHA-256(eraId), interpreted as a
//     little-endian signed 64-bit integer.
func FromEra(era EraId) RingId {
	s := string(era)
	if len(s) == 16 {
		if v, err := strconv.ParseUint(s, 16, 64); err == nil {
			if v == 0 {
				return RingId(-1)
			}
			return RingId(int64(v))
		}
	}

	sum := sha256.Sum256([]byte(s))
	return RingId(int64(binary.LittleEndian.Uint64(sum[:8])))
}

func (id RingId) String() string {
	return strconv.FormatInt(int64(id), 10)
}
