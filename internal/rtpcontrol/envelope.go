// Copyright 2019 Lanikai Labs. All rights reserved.

// Package rtpcontrol implements the device-to-SFU, SFU-to-device, and
// device-to-device control protocols, framed as RTP packets with a fixed
// payload type and a small SSRC scheme rather than a full media transport.
//
// Built on the internal/packet.{Reader,Writer} binary codec, following the
// same flat, tag-prefixed message layout used elsewhere in this module;
// there is no protocol-buffer generator available, so messages use a
// hand-rolled tag/length encoding instead of a generated one.
package rtpcontrol

import (
	"golang.org/x/xerrors"

	"github.com/bihovi584om/ringrtc/internal/ids"
	"github.com/bihovi584om/ringrtc/internal/packet"
)

const (
	// ControlPayloadType is the fixed RTP payload type used for every
	// control-plane packet, whether addressed to the SFU or broadcast to
	// peers.
	ControlPayloadType = 101

	// SfuControlSsrc is the fixed SSRC used for device-to-SFU and
	// SFU-to-device control messages.
	SfuControlSsrc = 1

	rtpHeaderLen = 12
)

// Header is the minimal fixed RTP header this protocol relies on: version 2,
// no padding/extension/CSRCs, payload type 101, and the caller-supplied
// sequence number, timestamp, and SSRC.
type Header struct {
	SequenceNumber uint16
	Timestamp      uint32
	Ssrc           uint32
}

// DataSsrcForDemuxId returns the SSRC a device broadcasts DeviceToDevice
// control messages on.
func DataSsrcForDemuxId(demuxId ids.DemuxId) uint32 {
	return demuxId.DataSsrc()
}

// DemuxIdForDataSsrc recovers the sending device's demux id from an inbound
// DeviceToDevice SSRC.
func DemuxIdForDataSsrc(ssrc uint32) ids.DemuxId {
	return ids.DemuxIdFromDataSsrc(ssrc)
}

func writeHeader(w *packet.Writer, h Header) {
	w.WriteByte(0x80) // version 2, no padding, no extension, CC=0
	w.WriteByte(ControlPayloadType)
	w.WriteUint16(h.SequenceNumber)
	w.WriteUint32(h.Timestamp)
	w.WriteUint32(h.Ssrc)
}

func readHeader(r *packet.Reader) (Header, error) {
	if err := r.CheckRemaining(rtpHeaderLen); err != nil {
		return Header{}, xerrors.Errorf("rtpcontrol: short packet: %w", err)
	}
	versionAndFlags := r.ReadByte()
	payloadType := r.ReadByte()
	if payloadType != ControlPayloadType {
		return Header{}, xerrors.Errorf("rtpcontrol: unexpected payload type %d", payloadType)
	}
	if versionAndFlags>>6 != 2 {
		return Header{}, xerrors.Errorf("rtpcontrol: unexpected RTP version byte 0x%02x", versionAndFlags)
	}
	seq := r.ReadUint16()
	ts := r.ReadUint32()
	ssrc := r.ReadUint32()
	return Header{SequenceNumber: seq, Timestamp: ts, Ssrc: ssrc}, nil
}

// Envelope is a decoded control-plane RTP packet with its payload left
// unparsed, for the caller to demultiplex by (payloadType, SSRC) before
// choosing which message type to unmarshal.
type Envelope struct {
	Header  Header
	Payload []byte
}

// WrapToSfu builds an RTP packet carrying payload addressed to the SFU's
// fixed control SSRC.
func WrapToSfu(seq uint16, timestamp uint32, payload []byte) []byte {
	return wrap(Header{SequenceNumber: seq, Timestamp: timestamp, Ssrc: SfuControlSsrc}, payload)
}

// WrapBroadcast builds an RTP packet carrying payload broadcast on the
// sending device's data SSRC.
func WrapBroadcast(seq uint16, timestamp uint32, localDemuxId ids.DemuxId, payload []byte) []byte {
	return wrap(Header{SequenceNumber: seq, Timestamp: timestamp, Ssrc: DataSsrcForDemuxId(localDemuxId)}, payload)
}

func wrap(h Header, payload []byte) []byte {
	w := packet.NewWriterSize(rtpHeaderLen + len(payload))
	writeHeader(w, h)
	w.WriteSlice(payload)
	return w.Bytes()
}

// Unwrap parses the fixed RTP header and returns the envelope. The caller
// demultiplexes on Header.Ssrc: SfuControlSsrc carries SfuToDevice;
// everything else carries an encrypted DeviceToDevice whose sender demux id
// is DemuxIdForDataSsrc(Header.Ssrc).
func Unwrap(raw []byte) (Envelope, error) {
	r := packet.NewReader(raw)
	h, err := readHeader(r)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Header: h, Payload: r.ReadRemaining()}, nil
}
