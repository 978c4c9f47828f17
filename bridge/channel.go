package bridge

import "context"

// Inbound is one raw message received from the channel together with the
// identity of its sender. Source identifies the sending execution context;
// Origin identifies where that context was loaded from.
type Inbound struct {
	Source string
	Origin string
	Data   []byte
}

// Channel is the untyped, unordered, possibly-delayed messaging surface
// between the host and one remote execution context. Implementations make
// no delivery or ordering guarantees; correlation is the bridge's job.
// The channel is shared with unrelated traffic, so everything read from it
// is untrusted until it passes the intake pipeline.
type Channel interface {
	// Send queues data for delivery to the remote context.
	Send(ctx context.Context, data []byte) error

	// Inbound returns the stream of messages arriving on the channel.
	// The implementation closes it when the transport shuts down.
	Inbound() <-chan Inbound

	// Close tears down the transport.
	Close() error
}
