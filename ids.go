// Copyright 2019 Lanikai Labs. All rights reserved.

package ringrtc

import "github.com/bihovi584om/ringrtc/internal/ids"

// Identifier types re-exported from internal/ids so that internal
// collaborators (internal/roster, internal/framecrypto, internal/rtpcontrol)
// can share them without importing the root package (which would create an
// import cycle, since they're imported BY the root package).
type (
	ClientId = ids.ClientId
	DemuxId  = ids.DemuxId
	UserId   = ids.UserId
	GroupId  = ids.GroupId
	EraId    = ids.EraId
	RingId   = ids.RingId
)

// DataSsrcOffset is added to a DemuxId to get the SSRC used for that
// device's broadcast DeviceToDevice channel.
const DataSsrcOffset = ids.DataSsrcOffset

// RingIdFromEra derives a RingId from an era id string. See ids.FromEra.
func RingIdFromEra(era EraId) RingId { return ids.FromEra(era) }
