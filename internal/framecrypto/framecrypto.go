// Copyright 2019 Lanikai Labs. All rights reserved.

// Package framecrypto implements end-to-end ratcheting media frame
// encryption: a send ratchet advanced on membership change, per-sender
// (DemuxId-keyed) receive state supporting out-of-order key delivery, and
// AES-128-GCM per-frame encrypt/decrypt with a fixed 21-byte trailer.
//
// Context is the one object shared between the Call actor and the media
// engine's synchronous encrypt/decrypt callback: all exported
// methods take Context's mutex internally and release it before returning,
// so callers must not hold any other lock across a call into this package.
//
// Grounded on the internal/srtp per-SSRC ssrcStates map pattern
// (internal/srtp/srtp.go's Context.getSSRCState), generalized from SSRC to
// DemuxId and from RFC 3711 AES-CM to AES-128-GCM (see DESIGN.md for why the
// latter uses the standard library rather than a pack dependency).
package framecrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"

	"github.com/bihovi584om/ringrtc/internal/ids"
	"github.com/bihovi584om/ringrtc/internal/logging"
)

var log = logging.DefaultLogger.WithTag("framecrypto")

const (
	// FooterLen is the trailer appended after ciphertext: 1 byte ratchet
	// counter + 4 bytes big-endian frame counter + 16 byte GCM tag.
	FooterLen = 1 + 4 + 16

	macLen    = 16
	aesKeyLen = 16

	maxFrameCounter = ^uint32(0)
)

// UnencryptedHeaderLen returns the number of leading plaintext bytes left in
// the clear: 1 for audio (Opus TOC byte), 10 for video (VP8-like headers).
func UnencryptedHeaderLen(isAudio bool) int {
	if isAudio {
		return 1
	}
	return 10
}

type receiveKey struct {
	demuxId        ids.DemuxId
	ratchetCounter uint8
}

// Context is the ratcheting frame-crypto state for a single Call.
type Context struct {
	mu sync.Mutex

	sendSecret         [32]byte
	sendRatchetCounter uint8
	sendFrameCounter   uint32

	receive map[receiveKey][32]byte
}

// New seeds a Context with an existing secret, e.g. one received over
// signaling. Most callers want NewWithRandomSecret.
func New(initialSecret [32]byte) *Context {
	return &Context{
		sendSecret: initialSecret,
		receive:    make(map[receiveKey][32]byte),
	}
}

// NewWithRandomSecret seeds a Context with a fresh 32-byte secret from a
// cryptographic RNG,4 "On initial construction".
func NewWithRandomSecret() (*Context, error) {
	var secret [32]byte
	if _, err := io.ReadFull(rand.Reader, secret[:]); err != nil {
		return nil, err
	}
	return New(secret), nil
}

// AdvanceSendRatchet advances the send ratchet by one step") and returns the new (ratchetCounter, secret) to be
// sent to affected users.
func (c *Context) AdvanceSendRatchet() (uint8, [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sendRatchetCounter++
	c.sendSecret = deriveNextRatchetSecret(c.sendSecret)
	return c.sendRatchetCounter, c.sendSecret
}

// SendState returns the current (ratchetCounter, secret) without advancing,
// for resending to newly-added users alongside a pending rotation.
func (c *Context) SendState() (uint8, [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendRatchetCounter, c.sendSecret
}

// ResetSendRatchet replaces the send secret outright and resets the ratchet
// counter to 0, used by the delayed key-rotation apply").
func (c *Context) ResetSendRatchet(secret [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendRatchetCounter = 0
	c.sendSecret = secret
	c.sendFrameCounter = 0
}

// AddReceiveSecret installs a secret received from demuxId at the given
// ratchet counter, enabling decryption of frames from that sender at that
// epoch. Decrypt looks secrets up by exact counter only: frames at a later
// counter are not decrypted from this secret until that counter's own
// secret is installed.
func (c *Context) AddReceiveSecret(demuxId ids.DemuxId, ratchetCounter uint8, secret [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receive[receiveKey{demuxId, ratchetCounter}] = secret
}

// Encrypt encrypts frame in place semantics (Go idiom: returns a new slice),
// appending the FooterLen-byte trailer. aad is typically the unencrypted
// header bytes. Returns the ratchet counter and frame counter used, for
// callers that want to log or test against them.
func (c *Context) Encrypt(unencryptedHeaderLen int, frame []byte) (out []byte, ratchetCounter uint8, frameCounter uint32, err error) {
	if unencryptedHeaderLen > len(frame) {
		return nil, 0, 0, fmt.Errorf("framecrypto: header length %d exceeds frame length %d", unencryptedHeaderLen, len(frame))
	}

	c.mu.Lock()
	if c.sendFrameCounter == maxFrameCounter {
		c.mu.Unlock()
		return nil, 0, 0, fmt.Errorf("framecrypto: frame counter exhausted")
	}
	c.sendFrameCounter++
	frameCounter = c.sendFrameCounter
	ratchetCounter = c.sendRatchetCounter
	secret := c.sendSecret
	c.mu.Unlock()

	header := frame[:unencryptedHeaderLen]
	plaintext := frame[unencryptedHeaderLen:]

	gcm, err := newGCM(secret, ratchetCounter)
	if err != nil {
		return nil, 0, 0, err
	}
	nonce := frameNonce(frameCounter)

	sealed := gcm.Seal(nil, nonce, plaintext, header)
	ciphertext, mac := sealed[:len(plaintext)], sealed[len(plaintext):]

	out = make([]byte, 0, len(frame)+FooterLen)
	out = append(out, header...)
	out = append(out, ciphertext...)
	out = append(out, ratchetCounter)
	out = binary.BigEndian.AppendUint32(out, frameCounter)
	out = append(out, mac...)
	return out, ratchetCounter, frameCounter, nil
}

// Decrypt reverses Encrypt. demuxId identifies the sender, used to look up
// the installed receive secret for the frame's ratchet counter.
func (c *Context) Decrypt(demuxId ids.DemuxId, unencryptedHeaderLen int, frame []byte) ([]byte, error) {
	if len(frame) < unencryptedHeaderLen+FooterLen {
		return nil, fmt.Errorf("framecrypto: frame too short (%d bytes)", len(frame))
	}

	footerStart := len(frame) - FooterLen
	ratchetCounter := frame[footerStart]
	frameCounter := binary.BigEndian.Uint32(frame[footerStart+1 : footerStart+5])
	mac := frame[footerStart+5:]

	header := frame[:unencryptedHeaderLen]
	ciphertext := frame[unencryptedHeaderLen:footerStart]

	c.mu.Lock()
	secret, ok := c.receive[receiveKey{demuxId, ratchetCounter}]
	c.mu.Unlock()
	if !ok {
		log.Debug("no receive secret yet for demuxId=%d ratchetCounter=%d", demuxId, ratchetCounter)
		return nil, fmt.Errorf("framecrypto: no receive secret for demuxId=%d ratchetCounter=%d", demuxId, ratchetCounter)
	}

	gcm, err := newGCM(secret, ratchetCounter)
	if err != nil {
		return nil, err
	}
	nonce := frameNonce(frameCounter)

	sealed := append(append([]byte{}, ciphertext...), mac...)
	plaintext, err := gcm.Open(nil, nonce, sealed, header)
	if err != nil {
		log.Warn("MAC verification failed for frame from demuxId=%d", demuxId)
		return nil, fmt.Errorf("framecrypto: MAC verification failed: %w", err)
	}

	out := make([]byte, 0, len(header)+len(plaintext))
	out = append(out, header...)
	out = append(out, plaintext...)
	return out, nil
}

func newGCM(secret [32]byte, ratchetCounter uint8) (cipher.AEAD, error) {
	key := deriveFrameKey(secret, ratchetCounter)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithTagSize(block, macLen)
}

// deriveFrameKey derives the AES-128 key used for a given ratchet epoch from
// the epoch's secret, via HKDF-SHA256.
func deriveFrameKey(secret [32]byte, ratchetCounter uint8) [aesKeyLen]byte {
	info := []byte{'f', 'r', 'a', 'm', 'e', ratchetCounter}
	reader := hkdf.New(sha256.New, secret[:], nil, info)
	var key [aesKeyLen]byte
	io.ReadFull(reader, key[:])
	return key
}

// deriveNextRatchetSecret advances the one-way ratchet: the next secret is
// derived from the current one via HKDF, so holding secret N+1 never
// reveals secret N.
func deriveNextRatchetSecret(secret [32]byte) [32]byte {
	reader := hkdf.New(sha256.New, secret[:], nil, []byte("ratchet"))
	var next [32]byte
	io.ReadFull(reader, next[:])
	return next
}

// frameNonce builds a 12-byte GCM nonce from the 32-bit frame counter. The
// frame counter is unique per (secret, ratchetCounter) epoch since it only
// ever increases and a fresh secret always resets it (ResetSendRatchet),
// so nonce reuse under a fixed key cannot occur.
func frameNonce(frameCounter uint32) []byte {
	nonce := make([]byte, 12)
	binary.BigEndian.PutUint32(nonce[8:], frameCounter)
	return nonce
}
