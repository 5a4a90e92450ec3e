// Copyright 2019 Lanikai Labs. All rights reserved.

package ringrtc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyRotatorSendsAndSchedulesOnFirstRemoval(t *testing.T) {
	k := newKeyRotator()
	secret := [32]byte{9}

	sent, schedule := k.onUsersRemoved(secret)
	require.True(t, schedule)
	require.Equal(t, secret, sent)
	require.Equal(t, KeyRotationPending, k.state.Kind)
}

func TestKeyRotatorCoalescesRemovalWhilePending(t *testing.T) {
	k := newKeyRotator()
	k.onUsersRemoved([32]byte{1})

	_, schedule := k.onUsersRemoved([32]byte{2})
	require.False(t, schedule)
	require.True(t, k.state.NeedsAnotherRotation)
}

func TestKeyRotatorApplyReturnsPendingSecretAndResets(t *testing.T) {
	k := newKeyRotator()
	secret := [32]byte{7}
	k.onUsersRemoved(secret)

	applied, needsAnother := k.onApply()
	require.Equal(t, secret, applied)
	require.False(t, needsAnother)
	require.Equal(t, KeyRotationApplied, k.state.Kind)
}

func TestKeyRotatorApplyReportsNeedsAnotherRotation(t *testing.T) {
	k := newKeyRotator()
	k.onUsersRemoved([32]byte{1})
	k.onUsersRemoved([32]byte{2})

	_, needsAnother := k.onApply()
	require.True(t, needsAnother)
}
