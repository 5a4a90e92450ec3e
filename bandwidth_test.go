// Copyright 2019 Lanikai Labs. All rights reserved.

package ringrtc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeSendRatesAlone(t *testing.T) {
	require.Equal(t, SendRates{MaxKbps: 1}, computeSendRates(0, false))
}

func TestComputeSendRatesSharingScreenDominates(t *testing.T) {
	require.Equal(t, SendRates{MinKbps: 2000, StartKbps: 2000, MaxKbps: 5000}, computeSendRates(1, true))
	require.Equal(t, SendRates{MinKbps: 2000, StartKbps: 2000, MaxKbps: 5000}, computeSendRates(20, true))
}

func TestComputeSendRatesSmallGroup(t *testing.T) {
	require.Equal(t, SendRates{MaxKbps: 1000}, computeSendRates(1, false))
	require.Equal(t, SendRates{MaxKbps: 1000}, computeSendRates(7, false))
}

func TestComputeSendRatesLargeGroup(t *testing.T) {
	require.Equal(t, SendRates{MaxKbps: 671}, computeSendRates(8, false))
	require.Equal(t, SendRates{MaxKbps: 671}, computeSendRates(50, false))
}

func TestComputeSendRatesIsPure(t *testing.T) {
	for i := 0; i < 100; i++ {
		require.Equal(t, computeSendRates(4, false), computeSendRates(4, false))
	}
}

func TestMaxReceiveRateKbps(t *testing.T) {
	require.Equal(t, 500, maxReceiveRateKbps(DataModeLow))
	require.Equal(t, 20000, maxReceiveRateKbps(DataModeNormal))
}

func TestApplySendRatesDisablesMediaAtDegenerateFloor(t *testing.T) {
	engine := newFakeMediaEngine()
	applySendRates(engine, computeSendRates(0, false))
	require.False(t, engine.audioRecordingEnabled)
	require.False(t, engine.audioPlayoutEnabled)
	require.False(t, engine.outgoingMediaEnabled)
	require.Equal(t, 1, engine.maxKbps)
}

func TestApplySendRatesEnablesMediaOtherwise(t *testing.T) {
	engine := newFakeMediaEngine()
	applySendRates(engine, computeSendRates(3, false))
	require.True(t, engine.audioRecordingEnabled)
	require.True(t, engine.audioPlayoutEnabled)
	require.True(t, engine.outgoingMediaEnabled)
	require.Equal(t, 1000, engine.maxKbps)
}
