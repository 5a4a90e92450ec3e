// Command ringrtc-demo runs two in-process group-call devices against a
// local relay standing in for a real SFU/signaling service, to walk through
// the encrypt/decrypt media key exchange end to end: two devices join,
// discover each other via peek, and exchange frame-crypto keys over
// signaling before either can decrypt the other's media.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"

	"github.com/bihovi584om/ringrtc"
)

var (
	flagAddress string
	flagHelp    bool
)

func init() {
	flag.StringVarP(&flagAddress, "address", "a", "127.0.0.1:0", "Relay listen address")
	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
}

const helpString = `Two-party group-call demonstration for the ringrtc package

Usage: ringrtc-demo [OPTION]...

  -a, --address=HOST:PORT  Relay listen address (default: 127.0.0.1:0)
  -h, --help                Print this help message and exit
`

func help() {
	color.New(color.FgCyan).Println(helpString)
}

func main() {
	flag.Parse()
	if flagHelp {
		help()
		os.Exit(0)
	}

	listener, err := net.Listen("tcp", flagAddress)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	r := newRelay()
	server := &http.Server{Handler: r}
	go server.Serve(listener)
	defer server.Close()

	status := color.New(color.FgGreen)
	warn := color.New(color.FgYellow)
	fail := color.New(color.FgRed)

	status.Printf("relay listening on %s\n", listener.Addr())

	alice, err := newParticipant(listener.Addr().String(), "1", "Alice", status)
	must(err, fail)
	bob, err := newParticipant(listener.Addr().String(), "2", "Bob", status)
	must(err, fail)

	ctx := context.Background()
	alice.call.Connect(ctx)
	bob.call.Connect(ctx)

	alice.call.Join(ctx)
	bob.call.Join(ctx)
	waitForJoin(alice)
	waitForJoin(bob)

	// Force a fresh peek on each device now that both have joined, so each
	// discovers the other and, for the newly-added remote user, unicasts
	// its current media send key over signaling.
	alice.call.SetMembershipProof([]byte("alice-proof-v2"))
	bob.call.SetMembershipProof([]byte("bob-proof-v2"))

	plaintext := []byte("Fake Audio")

	// Before the media key has had a chance to arrive, Bob cannot decrypt
	// anything claiming to be from Alice's demux id.
	ciphertext, err := alice.device.encrypt(true, plaintext)
	must(err, fail)
	if _, err := bob.device.decrypt(alice.demuxId(), true, ciphertext); err != nil {
		warn.Printf("Bob failed to decrypt Alice's frame before learning her key (expected): %v\n", err)
	} else {
		fail.Println("Bob decrypted Alice's frame before the key exchange; that should not happen")
	}

	// Give the asynchronous signaling roundtrip (peek -> roster reconcile
	// -> unicast media key -> apply) a moment to land.
	time.Sleep(300 * time.Millisecond)

	ciphertext, err = alice.device.encrypt(true, plaintext)
	must(err, fail)
	recovered, err := bob.device.decrypt(alice.demuxId(), true, ciphertext)
	must(err, fail)
	status.Printf("Bob decrypted Alice's frame: %q\n", recovered)

	alice.call.Leave()
	bob.call.Leave()
	alice.call.Disconnect()
	bob.call.Disconnect()
}

func must(err error, fail *color.Color) {
	if err != nil {
		fail.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// participant pairs one device (the demo's Observer/SfuClient/MediaEngine)
// with the Call it drives.
type participant struct {
	device       *device
	call         *ringrtc.Call
	localDemuxId ringrtc.DemuxId
}

func newParticipant(relayAddr string, userId ringrtc.UserId, label string, status *color.Color) (*participant, error) {
	d, err := dialDevice(relayAddr, userId, label, status)
	if err != nil {
		return nil, err
	}
	cfg := ringrtc.DefaultConfig()
	cfg.LocalUserId = userId
	cfg.TickInterval = 20 * time.Millisecond
	cfg.KeyRotationApplyDelay = 200 * time.Millisecond
	call := ringrtc.NewCall(cfg, d, d, d)
	d.call = call
	return &participant{device: d, call: call}, nil
}

func (p *participant) demuxId() ringrtc.DemuxId {
	return p.localDemuxId
}

// waitForJoin blocks until p's call has joined and installed its
// frame-crypto hooks, recording the assigned local demux id on p.
func waitForJoin(p *participant) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if id, ok := p.device.joinedDemuxId(); ok && p.device.ready() {
			p.localDemuxId = id
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}
