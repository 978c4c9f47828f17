package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/niomon/niomon-go/wire"
)

// fakeChannel lets tests inject inbound traffic with arbitrary sources and
// capture everything the bridge sends.
type fakeChannel struct {
	inbound chan Inbound
	sent    chan []byte
	once    sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{inbound: make(chan Inbound, 32), sent: make(chan []byte, 32)}
}

func (f *fakeChannel) Send(_ context.Context, data []byte) error {
	f.sent <- data
	return nil
}

func (f *fakeChannel) Inbound() <-chan Inbound { return f.inbound }

func (f *fakeChannel) Close() error {
	f.once.Do(func() { close(f.inbound) })
	return nil
}

func (f *fakeChannel) inject(source string, data []byte) {
	f.inbound <- Inbound{Source: source, Data: data}
}

// sentRequest decodes the next frame the bridge sent.
func sentRequest(t *testing.T, f *fakeChannel, family wire.Family) *wire.RPCPayload {
	t.Helper()
	select {
	case data := <-f.sent:
		env, err := wire.DecodeEnvelope(data, family)
		if err != nil {
			t.Fatalf("sent envelope: %v", err)
		}
		p, err := wire.DecodePayload(env)
		if err != nil {
			t.Fatalf("sent payload: %v", err)
		}
		return p
	case <-time.After(2 * time.Second):
		t.Fatalf("bridge sent nothing")
		return nil
	}
}

func mustEncode(t *testing.T) func(data []byte, err error) []byte {
	return func(data []byte, err error) []byte {
		t.Helper()
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		return data
	}
}

func TestRequestCorrelationUnderPermutedResponses(t *testing.T) {
	const n = 8
	ch := newFakeChannel()
	b := NewProviderBridge(ch, "remote")

	type res struct {
		i      int
		result string
		err    error
	}
	results := make(chan res, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			raw, err := b.Request(context.Background(), fmt.Sprintf("method_%d", i), nil)
			var got string
			if err == nil {
				_ = json.Unmarshal(raw, &got)
			}
			results <- res{i: i, result: got, err: err}
		}(i)
	}

	// Collect the issued ids in send order, then respond in reverse.
	idByMethod := make(map[uint64]string, n)
	ids := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		p := sentRequest(t, ch, wire.FamilyProvider)
		idByMethod[*p.ID] = p.Method
		ids = append(ids, *p.ID)
	}
	for i := len(ids) - 1; i >= 0; i-- {
		id := ids[i]
		ch.inject("remote", mustEncode(t)(wire.EncodeResult(wire.FamilyProvider, id, "result_for_"+idByMethod[id])))
	}

	for i := 0; i < n; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("request %d: %v", r.i, r.err)
		}
		want := fmt.Sprintf("result_for_method_%d", r.i)
		if r.result != want {
			t.Fatalf("request %d got %q, want %q", r.i, r.result, want)
		}
	}
}

func TestStaleAndForeignResponsesAreDropped(t *testing.T) {
	ch := newFakeChannel()
	b := NewProviderBridge(ch, "remote")

	done := make(chan struct{})
	go func() {
		defer close(done)
		raw, err := b.Request(context.Background(), "ping", nil)
		if err != nil {
			t.Errorf("request: %v", err)
			return
		}
		var got string
		_ = json.Unmarshal(raw, &got)
		if got != "pong" {
			t.Errorf("got %q", got)
		}
	}()

	p := sentRequest(t, ch, wire.FamilyProvider)
	id := *p.ID

	// Never-issued id: no observable effect.
	ch.inject("remote", mustEncode(t)(wire.EncodeResult(wire.FamilyProvider, id+100, "stray")))
	// Wrong channelType: ignored.
	ch.inject("remote", mustEncode(t)(wire.EncodeResult(wire.FamilyWidget, id, "wrong_family")))
	// Wrong source: ignored.
	ch.inject("intruder", mustEncode(t)(wire.EncodeResult(wire.FamilyProvider, id, "spoofed")))
	// Response without an id: protocol violation, dropped.
	noID, _ := json.Marshal(wire.Envelope{
		ChannelType: wire.FamilyProvider.ChannelType(),
		Method:      wire.FamilyProvider.RequestMethod(),
		Payload:     json.RawMessage(`{"jsonrpc":"2.0","result":"anonymous"}`),
	})
	ch.inject("remote", noID)

	select {
	case <-done:
		t.Fatalf("request settled before the real response")
	case <-time.After(50 * time.Millisecond):
	}

	ch.inject("remote", mustEncode(t)(wire.EncodeResult(wire.FamilyProvider, id, "pong")))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("request never settled")
	}

	// The id was consumed; a duplicate response is a no-op.
	ch.inject("remote", mustEncode(t)(wire.EncodeResult(wire.FamilyProvider, id, "duplicate")))
	time.Sleep(20 * time.Millisecond)
	if got := b.InFlight(); got != 0 {
		t.Fatalf("in flight: %d", got)
	}
}

func TestRequestRejectsWithRemoteErrorVerbatim(t *testing.T) {
	ch := newFakeChannel()
	b := NewProviderBridge(ch, "remote")

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Request(context.Background(), "eth_sign", []string{"0xabc", "hello"})
		errCh <- err
	}()

	p := sentRequest(t, ch, wire.FamilyProvider)
	ch.inject("remote", mustEncode(t)(wire.EncodeError(wire.FamilyProvider, *p.ID, &wire.RPCError{Code: wire.CodeUserRejected, Message: "user rejected request"})))

	err := <-errCh
	var rpcErr *wire.RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *wire.RPCError, got %T %v", err, err)
	}
	if rpcErr.Code != 4001 || rpcErr.Message != "user rejected request" {
		t.Fatalf("error not propagated verbatim: %+v", rpcErr)
	}
}

func TestRequestContextCancellationRemovesPendingEntry(t *testing.T) {
	ch := newFakeChannel()
	b := NewProviderBridge(ch, "remote")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := b.Request(ctx, "ping", nil)
		errCh <- err
	}()
	p := sentRequest(t, ch, wire.FamilyProvider)
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := b.InFlight(); got != 0 {
		t.Fatalf("in flight after cancel: %d", got)
	}

	// A late response for the cancelled id is stale, not a crash.
	ch.inject("remote", mustEncode(t)(wire.EncodeResult(wire.FamilyProvider, *p.ID, "late")))
	time.Sleep(20 * time.Millisecond)
}

func TestAwaitReadyResolvesExactlyOnce(t *testing.T) {
	ch := newFakeChannel()
	b := NewProviderBridge(ch, "remote")

	if b.Ready() {
		t.Fatalf("fresh bridge reports ready")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := b.AwaitReady(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected pending readiness, got %v", err)
	}

	ready := mustEncode(t)(wire.EncodeNotification(wire.FamilyProvider, wire.FamilyProvider.Ready()))
	ch.inject("remote", ready)
	ch.inject("remote", ready)
	ch.inject("remote", ready)

	if err := b.AwaitReady(context.Background()); err != nil {
		t.Fatalf("await ready: %v", err)
	}
	if !b.Ready() {
		t.Fatalf("readiness regressed")
	}
}

func TestGenericEventUnwrapsName(t *testing.T) {
	ch := newFakeChannel()
	b := NewProviderBridge(ch, "remote")

	got := make(chan string, 2)
	var gotArgs []json.RawMessage
	b.OnNotification(func(method string, params []json.RawMessage) {
		gotArgs = params
		got <- method
	})

	ch.inject("remote", mustEncode(t)(wire.EncodeNotification(wire.FamilyProvider, wire.FamilyProvider.Event(), "chainChanged", "0x1")))
	select {
	case name := <-got:
		if name != "chainChanged" {
			t.Fatalf("event name: %s", name)
		}
		if len(gotArgs) != 1 || string(gotArgs[0]) != `"0x1"` {
			t.Fatalf("event args: %v", gotArgs)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("event not delivered")
	}
}

func TestOnNotificationReplacesHandler(t *testing.T) {
	ch := newFakeChannel()
	b := NewProviderBridge(ch, "remote")

	first := make(chan string, 1)
	second := make(chan string, 1)
	b.OnNotification(func(method string, _ []json.RawMessage) { first <- method })
	b.OnNotification(func(method string, _ []json.RawMessage) { second <- method })

	ch.inject("remote", mustEncode(t)(wire.EncodeNotification(wire.FamilyProvider, wire.FamilyProvider.Event(), "connect")))
	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatalf("replacement handler not invoked")
	}
	select {
	case m := <-first:
		t.Fatalf("replaced handler still invoked: %s", m)
	default:
	}
}

// End-to-end mock-remote scenario from the protocol contract: a ping whose
// reply only counts once the envelope tag, source, and id all line up.
func TestEndToEndMockRemote(t *testing.T) {
	ch := newFakeChannel()
	b := NewProviderBridge(ch, "remote")

	resCh := make(chan string, 1)
	go func() {
		raw, err := b.Request(context.Background(), "ping", map[string]any{})
		if err != nil {
			t.Errorf("request: %v", err)
			resCh <- ""
			return
		}
		var s string
		_ = json.Unmarshal(raw, &s)
		resCh <- s
	}()

	p := sentRequest(t, ch, wire.FamilyProvider)
	ch.inject("remote", mustEncode(t)(wire.EncodeResult(wire.FamilyWidget, *p.ID, "pong")))
	ch.inject("someone-else", mustEncode(t)(wire.EncodeResult(wire.FamilyProvider, *p.ID, "pong")))
	select {
	case s := <-resCh:
		t.Fatalf("resolved early with %q", s)
	case <-time.After(50 * time.Millisecond):
	}
	ch.inject("remote", mustEncode(t)(wire.EncodeResult(wire.FamilyProvider, *p.ID, "pong")))
	select {
	case s := <-resCh:
		if s != "pong" {
			t.Fatalf("got %q", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("never resolved")
	}
}
