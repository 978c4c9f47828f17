package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/niomon/niomon-go/internal/logx"
	"github.com/niomon/niomon-go/internal/metrics"
	"github.com/niomon/niomon-go/wire"
)

// NotificationHandler receives notifications dispatched by a bridge. Exactly
// one handler is registered per bridge; registering another replaces it.
// For the generic *_event notification the bridge unwraps the envelope, so
// method is the real event name and params are its arguments.
type NotificationHandler func(method string, params []json.RawMessage)

// notifyHook lets a bridge variant intercept a vocabulary method before it
// reaches the registered handler. Returning true consumes the notification.
type notifyHook func(method string, params []json.RawMessage) bool

// Core implements the behavior shared by both bridge variants:
// request/response correlation, the inbound intake pipeline, readiness
// handshaking, and notification dispatch.
type Core struct {
	family wire.Family
	ch     Channel
	source string
	origin string

	pending *pendingTable

	readyOnce sync.Once
	readyCh   chan struct{}

	mu      sync.Mutex
	handler NotificationHandler
	hook    notifyHook

	log zerolog.Logger
}

func newCore(family wire.Family, ch Channel, source, origin string) *Core {
	return &Core{
		family:  family,
		ch:      ch,
		source:  source,
		origin:  origin,
		pending: newPendingTable(),
		readyCh: make(chan struct{}),
		log:     logx.With("bridge").With().Str("family", string(family)).Logger(),
	}
}

// start launches the intake pump. Called once by the variant constructor
// after its hook is in place.
func (c *Core) start() {
	go func() {
		for in := range c.ch.Inbound() {
			c.handle(in)
		}
	}()
}

// handle runs the intake pipeline on one inbound message. Each step is a
// hard filter: no match means the message is fully ignored.
func (c *Core) handle(in Inbound) {
	// 1. Source identity. A compromised or unrelated sender must not be
	// able to forward fake bridge traffic.
	if in.Source != c.source {
		metrics.RecordDropped(string(c.family), "foreign_source")
		c.log.Debug().Str("source", in.Source).Msg("dropping message from unknown source")
		return
	}
	if c.origin != "" && in.Origin != "" && in.Origin != c.origin {
		metrics.RecordDropped(string(c.family), "foreign_origin")
		c.log.Debug().Str("origin", in.Origin).Msg("dropping message from unknown origin")
		return
	}

	// 2. Envelope tag.
	env, err := wire.DecodeEnvelope(in.Data, c.family)
	if err != nil {
		if errors.Is(err, wire.ErrForeignMessage) {
			metrics.RecordDropped(string(c.family), "foreign_tag")
			c.log.Debug().Msg("dropping message with foreign channel tag")
		} else {
			metrics.RecordDropped(string(c.family), "malformed")
			c.log.Warn().Err(err).Msg("dropping malformed message")
		}
		return
	}
	p, err := wire.DecodePayload(env)
	if err != nil {
		if errors.Is(err, wire.ErrMissingID) {
			metrics.RecordDropped(string(c.family), "missing_id")
			c.log.Warn().Msg("dropping response payload without id")
		} else {
			metrics.RecordDropped(string(c.family), "malformed")
			c.log.Warn().Err(err).Msg("dropping malformed rpc payload")
		}
		return
	}

	// 3. Notification dispatch.
	if p.IsNotification() {
		c.dispatchNotification(p)
		return
	}

	// 4. Response dispatch. DecodePayload guarantees an id is present.
	if p.IsResponse() {
		if !c.pending.resolve(*p.ID, p.Error, p.Result) {
			metrics.RecordDropped(string(c.family), "stale_response")
			c.log.Warn().Uint64("id", *p.ID).Msg("dropping response with no pending request")
		}
		return
	}

	// The remote never issues requests toward the host.
	metrics.RecordDropped(string(c.family), "unexpected_request")
	c.log.Warn().Str("method", p.Method).Msg("dropping unexpected inbound request")
}

func (c *Core) dispatchNotification(p *wire.RPCPayload) {
	params, err := wire.PositionalParams(p.Params)
	if err != nil {
		metrics.RecordDropped(string(c.family), "malformed")
		c.log.Warn().Str("method", p.Method).Msg("dropping notification with malformed params")
		return
	}
	// Counted only once a notification is actually consumed or delivered,
	// so an unknown method shows up solely as a drop.
	switch p.Method {
	case c.family.Ready():
		metrics.RecordNotification(string(c.family), p.Method)
		// Idempotent: repeated ready notifications are no-ops.
		c.readyOnce.Do(func() { close(c.readyCh) })
		return
	case c.family.Event():
		// Generic envelope: params[0] is the real event name, the rest are
		// its arguments. Lets the remote emit arbitrary named events
		// without widening the vocabulary.
		if len(params) == 0 {
			c.log.Warn().Msg("dropping event notification without a name")
			return
		}
		var name string
		if err := json.Unmarshal(params[0], &name); err != nil {
			c.log.Warn().Msg("dropping event notification with non-string name")
			return
		}
		metrics.RecordNotification(string(c.family), p.Method)
		c.deliver(name, params[1:])
		return
	}

	c.mu.Lock()
	hook := c.hook
	c.mu.Unlock()
	if hook != nil && hook(p.Method, params) {
		metrics.RecordNotification(string(c.family), p.Method)
		return
	}
	if c.inVocabulary(p.Method) {
		metrics.RecordNotification(string(c.family), p.Method)
		c.deliver(p.Method, params)
		return
	}
	metrics.RecordDropped(string(c.family), "unknown_notification")
	c.log.Warn().Str("method", p.Method).Msg("dropping unknown notification")
}

func (c *Core) inVocabulary(method string) bool {
	switch c.family {
	case wire.FamilyWidget:
		return method == c.family.DidLogout() || method == c.family.Mode()
	default:
		return false
	}
}

func (c *Core) deliver(method string, params []json.RawMessage) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(method, params)
	}
}

// Request sends an RPC request to the remote context and waits for the
// matching response. Concurrent requests are independent and may complete
// out of send order. A remote error object rejects the call verbatim as a
// *wire.RPCError. Cancelling ctx abandons the wait and removes the pending
// entry; a response arriving afterwards is treated as stale.
func (c *Core) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id, respCh := c.pending.add()
	data, err := wire.EncodeRequest(c.family, id, method, params)
	if err != nil {
		c.pending.drop(id)
		return nil, err
	}
	start := time.Now()
	if err := c.ch.Send(ctx, data); err != nil {
		c.pending.drop(id)
		metrics.RecordBridgeRequest(string(c.family), false)
		return nil, err
	}
	select {
	case out := <-respCh:
		metrics.RecordBridgeRequest(string(c.family), out.err == nil)
		metrics.ObserveRequestDuration(string(c.family), method, time.Since(start))
		if out.err != nil {
			return nil, out.err
		}
		return out.result, nil
	case <-ctx.Done():
		c.pending.drop(id)
		metrics.RecordBridgeRequest(string(c.family), false)
		return nil, ctx.Err()
	}
}

// OnNotification registers the bridge's single notification handler.
// Re-registration replaces the previous handler; it does not accumulate.
func (c *Core) OnNotification(h NotificationHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// AwaitReady blocks until the remote's ready notification has been observed
// or ctx is cancelled. Readiness never regresses once signalled.
func (c *Core) AwaitReady(ctx context.Context) error {
	select {
	case <-c.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether the remote's ready notification has been observed.
func (c *Core) Ready() bool {
	select {
	case <-c.readyCh:
		return true
	default:
		return false
	}
}

// Logout sends a logout request to the remote context. On the widget
// variant the remote additionally acknowledges via the *_did_logout
// notification, which the owning facade reacts to.
func (c *Core) Logout(ctx context.Context) error {
	_, err := c.Request(ctx, "logout", nil)
	return err
}

// Family returns the bridge's protocol family.
func (c *Core) Family() wire.Family { return c.family }

// InFlight returns the number of requests awaiting a response.
func (c *Core) InFlight() int { return c.pending.size() }

// Close tears down the underlying channel.
func (c *Core) Close() error { return c.ch.Close() }

func (c *Core) setHook(h notifyHook) {
	c.mu.Lock()
	c.hook = h
	c.mu.Unlock()
}
