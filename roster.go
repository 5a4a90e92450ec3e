// Copyright 2019 Lanikai Labs. All rights reserved.

package ringrtc

import "github.com/bihovi584om/ringrtc/internal/roster"

// notifyRosterResult maps one internal/roster.Result into the distinct
// Observer.HandleRemoteDevicesChanged/HandlePeekChanged calls it implies.
// Each trigger reason fires its own call rather than being coalesced, so an
// observer that only cares about one kind of change doesn't have to diff
// the roster itself.
func notifyRosterResult(observer Observer, devices []*RemoteDeviceState, peek PeekInfo, result roster.Result) {
	if result.DemuxIdsChanged {
		observer.HandleRemoteDevicesChanged(devices, RemoteDevicesChangedDemuxIdsChanged)
	}
	if result.PeekChanged {
		observer.HandlePeekChanged(peek, result.JoinedUserIds)
	}
}
