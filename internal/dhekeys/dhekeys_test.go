// Copyright 2019 Lanikai Labs. All rights reserved.

package dhekeys

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromMasterKeyMaterialSplitsFields(t *testing.T) {
	var material [56]byte
	for i := range material {
		material[i] = byte(i + 1)
	}

	keys := FromMasterKeyMaterial(material)

	require.Equal(t, [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}, keys.Client.Key)
	require.Equal(t, [12]byte{17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28}, keys.Client.Salt)
	require.Equal(t, [16]byte{29, 30, 31, 32, 33, 34, 35, 36, 37, 38, 39, 40, 41, 42, 43, 44}, keys.Server.Key)
	require.Equal(t, [12]byte{45, 46, 47, 48, 49, 50, 51, 52, 53, 54, 55, 56}, keys.Server.Salt)
}

func TestNegotiateIsSymmetricBetweenPeers(t *testing.T) {
	a, err := GenerateKeyPair()
	require.NoError(t, err)
	b, err := GenerateKeyPair()
	require.NoError(t, err)

	extra := []byte("server-extra-info")

	aKeys, err := Negotiate(a.Secret, b.Public, extra)
	require.NoError(t, err)
	bKeys, err := Negotiate(b.Secret, a.Public, extra)
	require.NoError(t, err)

	require.Equal(t, aKeys, bKeys)
}

func TestNegotiateDiffersWithExtraInfo(t *testing.T) {
	a, err := GenerateKeyPair()
	require.NoError(t, err)
	b, err := GenerateKeyPair()
	require.NoError(t, err)

	k1, err := Negotiate(a.Secret, b.Public, []byte("one"))
	require.NoError(t, err)
	k2, err := Negotiate(a.Secret, b.Public, []byte("two"))
	require.NoError(t, err)

	require.NotEqual(t, k1, k2)
}
