// Copyright 2019 Lanikai Labs. All rights reserved.

package ringrtc

// computeSendRates is a pure function of the joined member count and
// whether this device is sharing its screen. It has no dependency on Call
// state beyond its two arguments, so it's trivially testable and reusable
// from an override hook for tests that want to force a specific rate.
func computeSendRates(joinedMemberCount int, sharingScreen bool) SendRates {
	switch {
	case sharingScreen && joinedMemberCount > 0:
		return SendRates{MinKbps: 2000, StartKbps: 2000, MaxKbps: 5000}
	case joinedMemberCount == 0 && !sharingScreen:
		return SendRates{MaxKbps: 1}
	case joinedMemberCount >= 1 && joinedMemberCount <= 7:
		return SendRates{MaxKbps: 1000}
	default: // joinedMemberCount >= 8, not sharing
		return SendRates{MaxKbps: 671}
	}
}

// maxReceiveRateKbps returns the ceiling on aggregate incoming video
// bitrate for the given DataMode.
func maxReceiveRateKbps(mode DataMode) int {
	switch mode {
	case DataModeLow:
		return 500
	default:
		return 20000
	}
}

// applySendRates pushes rates into engine: when the
// computed max is the degenerate 1kbps floor (no other participants, not
// sharing), outgoing audio/video capture and playout are disabled entirely
// rather than attempting to encode at an unusable bitrate.
func applySendRates(engine MediaEngine, rates SendRates) {
	engine.SetSendBitrateKbps(rates.MinKbps, rates.StartKbps, rates.MaxKbps)

	degenerate := rates.MaxKbps <= 1
	engine.SetAudioRecordingEnabled(!degenerate)
	engine.SetAudioPlayoutEnabled(!degenerate)
	engine.SetOutgoingMediaEnabled(!degenerate)
}
