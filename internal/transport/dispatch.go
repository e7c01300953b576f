package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethosengine/doorway/internal/apperr"
)

// Dispatcher correlates requests and responses over a Conn by envelope id.
// It is the shared machinery behind both ConductorSession.call_zome and the
// admin-interface client (spec.md §4.1's "receiver that decodes responses
// and routes them into per-request completion channels keyed by id").
type Dispatcher struct {
	conn *Conn

	mu      sync.Mutex
	pending map[uint64]chan Envelope
	closed  bool
	closeErr error
}

// NewDispatcher builds a Dispatcher over conn; it starts no goroutine. Call
// Run in a goroutine; Dispatcher is usable for Call as soon as it is constructed.
func NewDispatcher(conn *Conn) *Dispatcher {
	return &Dispatcher{
		conn:    conn,
		pending: make(map[uint64]chan Envelope),
	}
}

// Run is the receiver loop: decode incoming envelopes and route them to the
// waiting Call by id. Returns when the connection errors or closes; the
// caller should treat that as session termination.
func (d *Dispatcher) Run() error {
	for {
		env, err := d.conn.Recv()
		if err != nil {
			d.terminate(err)
			return err
		}
		d.mu.Lock()
		ch, ok := d.pending[env.ID]
		if ok {
			delete(d.pending, env.ID)
		}
		d.mu.Unlock()
		if ok {
			ch <- env
		}
		// Unmatched envelopes (signals, late responses past timeout) are
		// dropped; signals are delivered out-of-band via the app interface's
		// own message type, not through this request/response path.
	}
}

// terminate fails every pending completion with a "session closed" error.
func (d *Dispatcher) terminate(cause error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.closeErr = cause
	for id, ch := range d.pending {
		delete(d.pending, id)
		close(ch)
	}
}

// Call sends a request envelope and waits for its correlated response,
// honoring ctx's deadline. On timeout the pending completion is removed
// (spec.md §4.1).
func (d *Dispatcher) Call(ctx context.Context, innerType string, value interface{}) (Envelope, error) {
	data, err := EncodeInner(innerType, value)
	if err != nil {
		return Envelope{}, apperr.Wrap(apperr.Internal, "ENCODE_FAILED", "encode request", err)
	}

	id := d.conn.NextID()
	ch := make(chan Envelope, 1)

	d.mu.Lock()
	if d.closed {
		cause := d.closeErr
		d.mu.Unlock()
		return Envelope{}, apperr.Wrap(apperr.Unavailable, "SESSION_CLOSED", "session closed", cause)
	}
	d.pending[id] = ch
	d.mu.Unlock()

	if err := d.conn.Send(Envelope{ID: id, Type: KindRequest, Data: data}); err != nil {
		d.mu.Lock()
		delete(d.pending, id)
		d.mu.Unlock()
		return Envelope{}, apperr.Wrap(apperr.Backend, "SEND_FAILED", "send request", err)
	}

	select {
	case env, ok := <-ch:
		if !ok {
			return Envelope{}, apperr.New(apperr.Unavailable, "session closed while awaiting response")
		}
		if env.Type == KindError {
			return env, apperr.New(apperr.Backend, fmt.Sprintf("conductor error response for request %d", id))
		}
		return env, nil
	case <-ctx.Done():
		d.mu.Lock()
		delete(d.pending, id)
		d.mu.Unlock()
		return Envelope{}, apperr.Wrap(apperr.Timeout, "CALL_TIMEOUT", "zome call timed out", ctx.Err())
	}
}

// WithTimeout is a convenience for building a per-request deadline context.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, d)
}
