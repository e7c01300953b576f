// Package signal implements SignalRelay, Doorway's authenticated
// pubkey-to-pubkey WebRTC signal relay (spec.md §4.12), grounded on
// gorilla/websocket (the only WS library attested anywhere in the example
// pack) and crypto/ed25519 (stdlib — no third-party Ed25519 library appears
// in the pack, see DESIGN.md).
package signal

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"sync"
	"time"

	"github.com/ethosengine/doorway/internal/config"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	pubKeyLen        = 32
	nonceLen         = 32
	maxMessageBytes  = 20_000
	destinationBytes = 32
)

// reservedCommandPrefix is the 28-byte value a connecting pubkey must not
// start with; it is set aside for relay-internal signaling, so such a key
// is never registered and never reachable as a forwarding destination
// (spec.md §4.12).
var reservedCommandPrefix = make([]byte, 28)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  maxMessageBytes,
	WriteBufferSize: maxMessageBytes,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Relay holds the pubkey->connection routing table and capacity limit.
type Relay struct {
	cfg config.SignalConfig

	mu      sync.RWMutex
	sinks   map[string]*sink // raw 32-byte pubkey (as string) -> sink
}

type sink struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes
}

func (s *sink) writeBinary(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// NewRelay builds a Relay from signal configuration.
func NewRelay(cfg config.SignalConfig) *Relay {
	return &Relay{cfg: cfg, sinks: make(map[string]*sink)}
}

// ClientCount reports the number of currently registered sinks.
func (r *Relay) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}

// ServeHTTP upgrades a request at /signal/{pubkey} and runs the connection
// lifecycle described in spec.md §4.12.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request, pubKeyPathSegment string) {
	rawKey, err := base64.RawURLEncoding.DecodeString(pubKeyPathSegment)
	if err != nil || len(rawKey) != pubKeyLen {
		http.Error(w, "invalid pubkey", http.StatusBadRequest)
		return
	}
	if hasReservedPrefix(rawKey) {
		http.Error(w, "pubkey uses reserved prefix", http.StatusBadRequest)
		return
	}
	if r.ClientCount() >= r.cfg.MaxClients {
		http.Error(w, "relay at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Warn().Err(err).Msg("signal relay: upgrade failed")
		return
	}

	r.handleConnection(conn, rawKey)
}

func hasReservedPrefix(key []byte) bool {
	if len(key) < len(reservedCommandPrefix) {
		return false
	}
	for i, b := range reservedCommandPrefix {
		if key[i] != b {
			return false
		}
	}
	return true
}

// handleConnection runs the full handshake then the forwarding loop.
func (r *Relay) handleConnection(conn *websocket.Conn, pubKey []byte) {
	defer conn.Close()

	idleTimeout := time.Duration(r.cfg.IdleTimeoutMS) * time.Millisecond
	rateLimiter := newByteRateLimiter(r.cfg.RateLimitKbps)

	if err := sendFrame(conn, "lbrt", rateLimiter.byteNanos()); err != nil {
		return
	}
	if err := sendFrame(conn, "lidl", idleMSBytes(r.cfg.IdleTimeoutMS)); err != nil {
		return
	}

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		log.Error().Err(err).Msg("signal relay: nonce generation failed")
		return
	}
	if err := sendFrame(conn, "areq", nonce); err != nil {
		return
	}

	conn.SetReadDeadline(time.Now().Add(idleTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return
	}
	tag, payload := splitFrame(data)
	if tag != "ares" {
		log.Warn().Str("tag", tag).Msg("signal relay: expected ares, closing")
		return
	}
	if !ed25519.Verify(pubKey, nonce, payload) {
		log.Warn().Msg("signal relay: bad ares signature, closing")
		return
	}

	if err := sendFrame(conn, "srdy", nil); err != nil {
		return
	}

	s := &sink{conn: conn}
	key := string(pubKey)
	r.mu.Lock()
	r.sinks[key] = s
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.sinks, key)
		r.mu.Unlock()
	}()

	r.forwardLoop(conn, pubKey, idleTimeout, rateLimiter)
}

func (r *Relay) forwardLoop(conn *websocket.Conn, senderKey []byte, idleTimeout time.Duration, limiter *byteRateLimiter) {
	for {
		conn.SetReadDeadline(time.Now().Add(idleTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if len(data) > maxMessageBytes {
			log.Warn().Int("size", len(data)).Msg("signal relay: message exceeds max size, closing")
			return
		}
		if !limiter.allow(len(data)) {
			log.Warn().Msg("signal relay: byte rate exceeded, closing")
			return
		}

		tag, payload := splitFrame(data)
		switch tag {
		case "keep":
			continue
		case "ares":
			log.Warn().Msg("signal relay: unexpected ares after auth, closing")
			return
		default:
			// Untagged data frame: treat the whole message as the payload.
			payload = data
		}

		if len(payload) < destinationBytes {
			continue
		}
		destKey := string(payload[:destinationBytes])
		rewritten := make([]byte, len(payload))
		copy(rewritten, senderKey)
		copy(rewritten[destinationBytes:], payload[destinationBytes:])

		r.mu.RLock()
		dest, ok := r.sinks[destKey]
		r.mu.RUnlock()
		if ok {
			_ = dest.writeBinary(rewritten)
		}
	}
}

// sendFrame writes a tagged control frame: 4 ASCII bytes + payload.
func sendFrame(conn *websocket.Conn, tag string, payload []byte) error {
	frame := make([]byte, 0, 4+len(payload))
	frame = append(frame, []byte(tag)...)
	frame = append(frame, payload...)
	return conn.WriteMessage(websocket.BinaryMessage, frame)
}

func splitFrame(data []byte) (tag string, payload []byte) {
	if len(data) < 4 {
		return "", data
	}
	possibleTag := string(data[:4])
	for _, known := range []string{"lbrt", "lidl", "areq", "ares", "srdy", "keep"} {
		if possibleTag == known {
			return known, data[4:]
		}
	}
	return "", data
}

func idleMSBytes(ms int) []byte {
	return uint32ToBytes(uint32(ms))
}

func uint32ToBytes(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// byteRateLimiter implements the "byte-nanos" token bucket named in
// spec.md §4.12: byte_nanos = 8_000_000 / kbps.
type byteRateLimiter struct {
	limiter *rate.Limiter
	nanos   int64
}

func newByteRateLimiter(kbps int) *byteRateLimiter {
	if kbps <= 0 {
		kbps = 1
	}
	bytesPerSec := float64(kbps) * 1000 / 8
	return &byteRateLimiter{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), int(bytesPerSec)+maxMessageBytes),
		nanos:   8_000_000 / int64(kbps),
	}
}

func (b *byteRateLimiter) byteNanos() []byte {
	return uint32ToBytes(uint32(b.nanos))
}

func (b *byteRateLimiter) allow(n int) bool {
	return b.limiter.AllowN(time.Now(), n)
}
