// Package transport implements the framed binary WebSocket protocol
// Doorway speaks to a conductor's admin and app interfaces (spec.md §4.1).
package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Kind distinguishes the three envelope roles on the wire.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindError    Kind = "error"
)

// Envelope is the self-describing frame: {id, type, data}. data carries a
// msgpack-encoded inner map with its own "type"/"value" discriminator; this
// package only concerns itself with the outer envelope and leaves decoding
// of data to the caller (Session for zome calls, admin client for admin
// requests).
type Envelope struct {
	ID   uint64 `msgpack:"id"`
	Type Kind   `msgpack:"type"`
	Data []byte `msgpack:"data"`
}

// InnerPayload is the {type, value} shape carried inside Envelope.Data.
type InnerPayload struct {
	Type  string      `msgpack:"type"`
	Value interface{} `msgpack:"value"`
}

// EncodeInner msgpack-encodes an InnerPayload for use as an Envelope's Data.
func EncodeInner(typ string, value interface{}) ([]byte, error) {
	return msgpack.Marshal(InnerPayload{Type: typ, Value: value})
}

// DecodeInner decodes an Envelope's Data back into the given target for
// its Value field.
func DecodeInner(data []byte, target interface{}) (string, error) {
	var raw struct {
		Type  string          `msgpack:"type"`
		Value msgpack.RawMessage `msgpack:"value"`
	}
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return "", fmt.Errorf("decode inner envelope: %w", err)
	}
	if target != nil {
		if err := msgpack.Unmarshal(raw.Value, target); err != nil {
			return raw.Type, fmt.Errorf("decode inner value: %w", err)
		}
	}
	return raw.Type, nil
}

// Conn wraps a *websocket.Conn with envelope framing and a monotonic id
// allocator. Writes are serialised with a mutex since gorilla/websocket
// connections are not safe for concurrent writers.
type Conn struct {
	ws     *websocket.Conn
	nextID uint64
	wmu    sync.Mutex
}

// Dial opens a WebSocket to url and wraps it for envelope framing.
func Dial(ctx context.Context, url string) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Conn{ws: ws}, nil
}

// NewConn wraps an already-established *websocket.Conn (used in tests).
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// NextID allocates the next monotonically increasing request id.
func (c *Conn) NextID() uint64 {
	return atomic.AddUint64(&c.nextID, 1)
}

// Send writes one envelope as a binary WebSocket message.
func (c *Conn) Send(env Envelope) error {
	raw, err := msgpack.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, raw)
}

// Recv blocks for the next incoming envelope.
func (c *Conn) Recv() (Envelope, error) {
	var env Envelope
	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		return env, err
	}
	if err := msgpack.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}
