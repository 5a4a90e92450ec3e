// Copyright 2019 Lanikai Labs. All rights reserved.

package ringrtc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bihovi584om/ringrtc/internal/dhekeys"
)

func TestStartDheProducesWaitingState(t *testing.T) {
	s, err := startDhe()
	require.NoError(t, err)
	require.Equal(t, DheWaitingForServerPublicKey, s.Kind)
	require.NotEqual(t, [32]byte{}, s.KeyPair.Public)
}

func TestCompleteDheYieldsNegotiatedState(t *testing.T) {
	client, err := startDhe()
	require.NoError(t, err)
	server, err := dhekeys.GenerateKeyPair()
	require.NoError(t, err)

	negotiated, err := client.completeDhe(server.Public, nil)
	require.NoError(t, err)
	require.Equal(t, DheNegotiated, negotiated.Kind)
	require.NotEqual(t, dhekeys.SrtpKeys{}, negotiated.Keys)
}
