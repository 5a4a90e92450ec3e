// Copyright 2019 Lanikai Labs. All rights reserved.

package ringrtc

import "github.com/bihovi584om/ringrtc/internal/dhekeys"

// DheStateKind tags the DheState variant.
type DheStateKind int

const (
	DheNotYetStarted DheStateKind = iota
	DheWaitingForServerPublicKey
	DheNegotiated
)

// DheState is a tagged union mirroring the three stages of the one-shot DHE:
// no key pair generated yet, an ephemeral key pair generated and the public
// half sent but no answer received, and a completed negotiation with
// derived SRTP keys in hand.
type DheState struct {
	Kind DheStateKind

	// KeyPair is valid for Kind == DheWaitingForServerPublicKey: the
	// secret must be discarded immediately once Negotiate consumes it.
	KeyPair dhekeys.KeyPair

	// Keys is valid for Kind == DheNegotiated.
	Keys dhekeys.SrtpKeys
}

func dheNotYetStarted() DheState {
	return DheState{Kind: DheNotYetStarted}
}

func dheWaitingForServerPublicKey(kp dhekeys.KeyPair) DheState {
	return DheState{Kind: DheWaitingForServerPublicKey, KeyPair: kp}
}

func dheNegotiated(keys dhekeys.SrtpKeys) DheState {
	return DheState{Kind: DheNegotiated, Keys: keys}
}

// startDhe generates a fresh ephemeral key pair for the Join flow, per the
// Join step that creates an ephemeral X25519 secret before contacting the
// SFU.
func startDhe() (DheState, error) {
	kp, err := dhekeys.GenerateKeyPair()
	if err != nil {
		return DheState{}, err
	}
	return dheWaitingForServerPublicKey(kp), nil
}

// completeDhe finishes a pending negotiation against the SFU's public key
// and any server-supplied KDF extra info.
func (s DheState) completeDhe(serverPublicKey [32]byte, serverExtraInfo []byte) (DheState, error) {
	keys, err := dhekeys.Negotiate(s.KeyPair.Secret, serverPublicKey, serverExtraInfo)
	if err != nil {
		return DheState{}, err
	}
	return dheNegotiated(keys), nil
}
