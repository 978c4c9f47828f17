package bridge

import (
	"context"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/niomon/niomon-go/internal/logx"
)

// WSChannel is a Channel over a single WebSocket connection. Every inbound
// message is tagged with the connection's source identity, so traffic
// injected by anything other than the dialed peer never matches a bridge's
// registered remote.
type WSChannel struct {
	conn    *websocket.Conn
	source  string
	origin  string
	inbound chan Inbound

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// DialChannel connects to the remote context's WebSocket endpoint.
func DialChannel(ctx context.Context, rawURL string) (*WSChannel, error) {
	conn, _, err := websocket.Dial(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	readCtx, cancel := context.WithCancel(context.Background())
	c := &WSChannel{
		conn:    conn,
		source:  uuid.NewString(),
		origin:  originOf(rawURL),
		inbound: make(chan Inbound, 16),
		cancel:  cancel,
	}
	go c.readLoop(readCtx)
	return c, nil
}

func (c *WSChannel) readLoop(ctx context.Context) {
	defer close(c.inbound)
	for {
		// No read deadline: a hung remote stalls in-flight requests, it
		// does not tear down the channel.
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			logx.Log.Debug().Err(err).Msg("ws channel closed")
			return
		}
		c.inbound <- Inbound{Source: c.source, Origin: c.origin, Data: data}
	}
}

// Send writes data to the peer.
func (c *WSChannel) Send(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Inbound returns the stream of messages from the peer.
func (c *WSChannel) Inbound() <-chan Inbound { return c.inbound }

// Source returns the identity tagged onto every inbound message.
func (c *WSChannel) Source() string { return c.source }

// Close tears down the connection.
func (c *WSChannel) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.Close(websocket.StatusNormalClosure, "closing")
	})
	return nil
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	scheme := u.Scheme
	switch scheme {
	case "ws":
		scheme = "http"
	case "wss":
		scheme = "https"
	}
	return scheme + "://" + u.Host
}

// WSRenderer attaches widget contexts over WebSocket. Visibility changes
// are rendered as log lines only; embedding hosts supply their own
// presentation by implementing Renderer.
type WSRenderer struct {
	mu   sync.Mutex
	prev Channel
}

// CreateContext dials the widget endpoint, replacing any context this
// renderer attached before.
func (r *WSRenderer) CreateContext(ctx context.Context, rawURL string) (ContextHandle, Channel, error) {
	ch, err := DialChannel(ctx, rawURL)
	if err != nil {
		return ContextHandle{}, nil, err
	}
	r.mu.Lock()
	prev := r.prev
	r.prev = ch
	r.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	return ContextHandle{ID: ch.Source(), URL: rawURL}, ch, nil
}

// Render logs the visibility change.
func (r *WSRenderer) Render(h ContextHandle, mode Mode) error {
	logx.Log.Debug().Str("context", h.ID).Str("mode", string(mode)).Msg("widget mode rendered")
	return nil
}
