// Copyright 2019 Lanikai Labs. All rights reserved.

// Package dhekeys implements the one-shot X25519 DHE and HKDF-SHA256 key
// schedule used to derive client/server SRTP master keys for the signaling
// channel with the SFU.
//
// Grounded on the internal/srtp key-derivation pattern (a KDF taking a
// master secret and producing split key/salt pairs), but using HKDF-SHA256
// over golang.org/x/crypto/hkdf and golang.org/x/crypto/curve25519 instead of
// the RFC 3711 AES-CM KDF, since this protocol fixes that exact KDF by name.
package dhekeys

import (
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// kdfLabel is the literal HKDF info-prefix label.
	kdfLabel = "Signal_Group_Call_20211105_SignallingDH_SRTPKey_KDF"

	keyLen  = 16
	saltLen = 12

	masterKeyMaterialLen = 2 * (keyLen + saltLen) // 56
)

// KeyPair is an ephemeral X25519 key pair. Secret is consumed by Negotiate
// (which does not zero it); callers must treat it as single-use.
type KeyPair struct {
	Secret [32]byte
	Public [32]byte
}

// GenerateKeyPair creates a fresh ephemeral X25519 key pair using a
// cryptographic RNG.
func GenerateKeyPair() (KeyPair, error) {
	var kp KeyPair
	if _, err := io.ReadFull(rand.Reader, kp.Secret[:]); err != nil {
		return KeyPair{}, err
	}
	pub, err := curve25519.X25519(kp.Secret[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, err
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// KeySalt is an AEAD-AES-128-GCM key/salt pair.
type KeySalt struct {
	Key  [keyLen]byte
	Salt [saltLen]byte
}

// SrtpKeys holds the client- and server-direction SRTP key material derived
// from the DHE shared secret.
type SrtpKeys struct {
	Client KeySalt
	Server KeySalt
}

// FromMasterKeyMaterial splits 56 bytes of key material into
// client.key | client.salt | server.key | server.salt. It performs no
// derivation of its own.
func FromMasterKeyMaterial(material [masterKeyMaterialLen]byte) SrtpKeys {
	var out SrtpKeys
	off := 0
	copy(out.Client.Key[:], material[off:off+keyLen])
	off += keyLen
	copy(out.Client.Salt[:], material[off:off+saltLen])
	off += saltLen
	copy(out.Server.Key[:], material[off:off+keyLen])
	off += keyLen
	copy(out.Server.Salt[:], material[off:off+saltLen])
	return out
}

// Negotiate completes the DHE: it consumes localSecret (the caller must
// discard it after this call), computes the X25519 shared secret with
// remotePublicKey, and derives SrtpKeys via HKDF-SHA256 with a 32-zero-byte
// salt, IKM = the shared secret, and info = kdfLabel || serverExtraInfo.
func Negotiate(localSecret [32]byte, remotePublicKey [32]byte, serverExtraInfo []byte) (SrtpKeys, error) {
	shared, err := curve25519.X25519(localSecret[:], remotePublicKey[:])
	if err != nil {
		return SrtpKeys{}, err
	}

	salt := make([]byte, 32) // 32 zero bytes
	info := append([]byte(kdfLabel), serverExtraInfo...)

	reader := hkdf.New(sha256.New, shared, salt, info)
	var material [masterKeyMaterialLen]byte
	if _, err := io.ReadFull(reader, material[:]); err != nil {
		return SrtpKeys{}, err
	}

	return FromMasterKeyMaterial(material), nil
}
