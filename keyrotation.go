// Copyright 2019 Lanikai Labs. All rights reserved.

package ringrtc

import "crypto/rand"

// randomSecret draws a fresh 32-byte media send-key secret.
func randomSecret() ([32]byte, error) {
	var secret [32]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

// KeyRotationStateKind tags the media-send-key rotation state.
type KeyRotationStateKind int

const (
	KeyRotationApplied KeyRotationStateKind = iota
	KeyRotationPending
)

// KeyRotationState is Applied (nothing in flight) or Pending a secret that
// has been sent to remaining participants but not yet applied locally.
type KeyRotationState struct {
	Kind                 KeyRotationStateKind
	PendingSecret        [32]byte
	NeedsAnotherRotation bool
}

// keyRotator owns the media-send-key rotation state machine triggered by a
// participant leaving: only one rotation is ever in flight, so a removal
// that arrives while one is already pending just marks it for re-trigger
// rather than starting a second, overlapping rotation.
type keyRotator struct {
	state KeyRotationState
}

func newKeyRotator() *keyRotator {
	return &keyRotator{state: KeyRotationState{Kind: KeyRotationApplied}}
}

// onUsersRemoved reports that one or more participants just left. If no
// rotation is in flight, newSecret becomes the pending secret to send
// immediately (with ratchetCounter 0) and schedule for delayed apply;
// shouldSchedule is true in that case. If a rotation is already pending,
// this removal is folded into it via NeedsAnotherRotation instead.
func (k *keyRotator) onUsersRemoved(newSecret [32]byte) (secretToSend [32]byte, shouldSchedule bool) {
	if k.state.Kind == KeyRotationPending {
		k.state.NeedsAnotherRotation = true
		return [32]byte{}, false
	}
	k.state = KeyRotationState{Kind: KeyRotationPending, PendingSecret: newSecret}
	return newSecret, true
}

// onApply completes the pending rotation, returning the secret the send
// ratchet should actually be reset to and whether a removal arrived during
// the pending window that requires triggering another rotation immediately.
func (k *keyRotator) onApply() (secret [32]byte, needsAnother bool) {
	secret = k.state.PendingSecret
	needsAnother = k.state.NeedsAnotherRotation
	k.state = KeyRotationState{Kind: KeyRotationApplied}
	return secret, needsAnother
}
