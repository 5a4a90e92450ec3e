package main

import (
	"crypto/rand"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// envelope is the only wire message shape the demo relay understands: a
// kind tag, an optional sender/recipient user id, and an opaque payload.
// "join" and "peek" stand in for the real SFU's HTTP API; "signal" and
// "groupSignal" stand in for the application's own signaling transport that
// carries DeviceToDevice control messages (including media keys) between
// devices, point-to-point or to every other device on the call.
type envelope struct {
	Kind    string          `json:"kind"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const demoEraId = "demo-era-0000000"

// relay plays both the SFU (join/peek) and the signaling server (message
// relay) for the two devices in this demonstration. It is not a general
// SFU: it exists solely to give the demo's two ringrtc.Call instances
// something real to talk to over an actual network socket.
type relay struct {
	mu      sync.Mutex
	conns   map[string]*websocket.Conn // userId -> connection
	order   []string                   // join order, first entry is Creator
	upgrade websocket.Upgrader
}

func newRelay() *relay {
	return &relay{conns: map[string]*websocket.Conn{}}
}

func (r *relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrade.Upgrade(w, req, nil)
	if err != nil {
		log.Printf("relay: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var userId string
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			r.forget(userId)
			return
		}
		switch env.Kind {
		case "join":
			userId = env.From
			r.register(userId, conn)
			r.reply(conn, r.joinResult(userId))
		case "peek":
			r.reply(conn, r.peekResult())
		case "signal":
			r.forward(env.To, env)
		case "groupSignal":
			r.broadcast(env.From, env)
		}
	}
}

func (r *relay) register(userId string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[userId]; !ok {
		r.order = append(r.order, userId)
	}
	r.conns[userId] = conn
}

func (r *relay) forget(userId string) {
	if userId == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, userId)
}

func (r *relay) joinResult(userId string) envelope {
	r.mu.Lock()
	demuxId := uint32(0)
	for i, u := range r.order {
		if u == userId {
			demuxId = uint32(i + 1)
		}
	}
	r.mu.Unlock()

	// A real SFU negotiates its own X25519 key pair per device; here a fresh
	// random key stands in for it so DheState.completeDhe has a valid curve
	// point to multiply against.
	var serverKey [32]byte
	_, _ = rand.Read(serverKey[:])

	payload, _ := json.Marshal(demoJoinResult{LocalDemuxId: demuxId, ServerKey: serverKey[:]})
	return envelope{Kind: "joinResult", To: userId, Payload: payload}
}

func (r *relay) peekResult() envelope {
	r.mu.Lock()
	devices := make([]demoPeekDevice, 0, len(r.order))
	for i, u := range r.order {
		devices = append(devices, demoPeekDevice{DemuxId: uint32(i + 1), UserId: u})
	}
	creator := ""
	if len(r.order) > 0 {
		creator = r.order[0]
	}
	r.mu.Unlock()

	payload, _ := json.Marshal(demoPeekResult{Devices: devices, Creator: creator, EraId: demoEraId})
	return envelope{Kind: "peekResult", Payload: payload}
}

func (r *relay) reply(conn *websocket.Conn, env envelope) {
	if err := conn.WriteJSON(env); err != nil {
		log.Printf("relay: reply failed: %v", err)
	}
}

func (r *relay) forward(to string, env envelope) {
	r.mu.Lock()
	conn := r.conns[to]
	r.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.WriteJSON(env); err != nil {
		log.Printf("relay: forward to %s failed: %v", to, err)
	}
}

func (r *relay) broadcast(from string, env envelope) {
	r.mu.Lock()
	targets := make([]*websocket.Conn, 0, len(r.conns))
	for u, c := range r.conns {
		if u != from {
			targets = append(targets, c)
		}
	}
	r.mu.Unlock()
	for _, c := range targets {
		if err := c.WriteJSON(env); err != nil {
			log.Printf("relay: broadcast failed: %v", err)
		}
	}
}

// demoJoinResult/demoPeekDevice/demoPeekResult are the relay's wire shapes
// for the subset of JoinResult/PeekInfo this demonstration needs; the real
// wire format is the application's own concern (spec.md §3 Non-goals).
type demoJoinResult struct {
	LocalDemuxId uint32 `json:"localDemuxId"`
	ServerKey    []byte `json:"serverKey"`
}

type demoPeekDevice struct {
	DemuxId uint32 `json:"demuxId"`
	UserId  string `json:"userId"`
}

type demoPeekResult struct {
	Devices []demoPeekDevice `json:"devices"`
	Creator string           `json:"creator"`
	EraId   string           `json:"eraId"`
}
