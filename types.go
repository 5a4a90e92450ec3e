// Copyright 2019 Lanikai Labs. All rights reserved.

package ringrtc

import "github.com/bihovi584om/ringrtc/internal/roster"

// Roster types re-exported from internal/roster so callers never need to
// import it directly.
type (
	HeartbeatState    = roster.HeartbeatState
	RemoteDeviceState = roster.RemoteDeviceState
	PeekDevice        = roster.PeekDevice
	PeekInfo          = roster.PeekInfo
)

// DataMode selects a ceiling on the receive bitrate, trading video quality
// for data usage.
type DataMode int

const (
	DataModeNormal DataMode = iota
	DataModeLow
)

func (m DataMode) String() string {
	switch m {
	case DataModeNormal:
		return "Normal"
	case DataModeLow:
		return "Low"
	default:
		return "Unknown"
	}
}

// VideoRequest is a caller-supplied request for one remote device's video,
// expressed in the dimensions the renderer actually wants; ResolvedHeight
// collapses Width/Height to the single value the SFU's protocol carries.
type VideoRequest struct {
	DemuxId   DemuxId
	Width     uint32
	Height    uint32
	Framerate *uint16
}

// ResolvedHeight is the value sent to the SFU for this request: the smaller
// of Width and Height, since the control protocol only negotiates a single
// dimension.
func (v VideoRequest) ResolvedHeight() uint32 {
	if v.Width < v.Height {
		return v.Width
	}
	return v.Height
}

// SendRates is the outcome of the bandwidth policy, applied to the media
// engine and reported via Observer.HandleSendRatesChanged.
type SendRates struct {
	MinKbps   int
	StartKbps int
	MaxKbps   int
}
