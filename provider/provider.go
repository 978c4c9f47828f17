package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/niomon/niomon-go/internal/logx"
	"github.com/niomon/niomon-go/session"
	"github.com/niomon/niomon-go/wire"
)

// Provider is the caller-facing request/event surface.
type Provider interface {
	// Request issues one RPC call, routed to the bridge or the direct
	// endpoint depending on method.
	Request(ctx context.Context, method string, params any) (json.RawMessage, error)
	// Subscribe returns a stream of lifecycle events and a cancel func.
	Subscribe() (<-chan Event, func())
}

// Session is the slice of the session manager the façade consumes.
// *session.Manager satisfies it.
type Session interface {
	Status(ctx context.Context) (*session.Status, error)
	LoginWithPopup(ctx context.Context) (*session.TokenResponse, error)
	Logout(ctx context.Context) error
}

// SessionBridge is the slice of a bridge the façade consumes. Both bridge
// flavors satisfy it.
type SessionBridge interface {
	Request(ctx context.Context, method string, params any) (json.RawMessage, error)
	Close() error
}

// BridgeFactory constructs a bridge on first use. Construction typically
// attaches the remote context and awaits its ready signal, so it is
// deferred until a call actually needs the bridge.
type BridgeFactory func(ctx context.Context) (SessionBridge, error)

// bridgedMethods always route through the bridge: account and signing
// operations must be mediated by the authenticated session.
var bridgedMethods = map[string]bool{
	"eth_accounts":        true,
	"eth_requestAccounts": true,
	"eth_sign":            true,
	"personal_sign":       true,
	"eth_sendTransaction": true,
	"eth_signTransaction": true,
}

// initSessionMethod hands the widget the caller's access token after login.
const initSessionMethod = "niomon_initSession"

// Config configures a NiomonProvider.
type Config struct {
	// Endpoint is the direct JSON-RPC URL for generic chain calls.
	Endpoint string
	// Session drives login, token state, and logout.
	Session Session
	// Bridge constructs the widget bridge on demand.
	Bridge BridgeFactory
}

type bridgeState int

const (
	bridgeUnstarted bridgeState = iota
	bridgeConstructing
	bridgeReady
)

// NiomonProvider multiplexes a direct JSON-RPC endpoint and the widget
// bridge behind one Provider surface.
type NiomonProvider struct {
	cfg Config
	rpc *rpcClient
	ev  *emitter
	log zerolog.Logger

	mu     sync.Mutex
	bstate bridgeState
	bridge SessionBridge
	berr   error
	bdone  chan struct{}

	accounts     []string
	accountsSeen bool
	connected    bool
}

// New returns a NiomonProvider for cfg.
func New(cfg Config) (*NiomonProvider, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("provider: Endpoint is required")
	}
	if cfg.Session == nil {
		return nil, errors.New("provider: Session is required")
	}
	if cfg.Bridge == nil {
		return nil, errors.New("provider: Bridge factory is required")
	}
	log := logx.With("provider")
	return &NiomonProvider{
		cfg: cfg,
		rpc: newRPCClient(cfg.Endpoint),
		ev:  newEmitter(log),
		log: log,
	}, nil
}

// Subscribe returns a stream of lifecycle events.
func (p *NiomonProvider) Subscribe() (<-chan Event, func()) {
	return p.ev.subscribe()
}

// Request routes method to the bridge or the direct endpoint.
func (p *NiomonProvider) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	switch {
	case method == "eth_requestAccounts":
		return p.requestAccounts(ctx)
	case method == "eth_accounts":
		return p.ethAccounts(ctx)
	case bridgedMethods[method]:
		return p.bridged(ctx, method, params)
	default:
		return p.rpc.Call(ctx, method, params)
	}
}

// ethAccounts short-circuits to the cached list when one was observed this
// session.
func (p *NiomonProvider) ethAccounts(ctx context.Context) (json.RawMessage, error) {
	p.mu.Lock()
	if p.accountsSeen {
		cached := slices.Clone(p.accounts)
		p.mu.Unlock()
		return json.Marshal(cached)
	}
	p.mu.Unlock()

	accounts, err := p.fetchAccounts(ctx)
	if err != nil {
		return nil, err
	}
	p.setAccounts(accounts)
	return json.Marshal(accounts)
}

// requestAccounts drives the interactive connect flow: silent token check,
// popup login if anonymous, bridged accounts fetch, session handoff, cache.
func (p *NiomonProvider) requestAccounts(ctx context.Context) (json.RawMessage, error) {
	st, err := p.cfg.Session.Status(ctx)
	if err != nil {
		return nil, p.connectFailed(err)
	}
	if st == nil || st.Expired {
		if _, err := p.cfg.Session.LoginWithPopup(ctx); err != nil {
			return nil, p.connectFailed(err)
		}
		if st, err = p.cfg.Session.Status(ctx); err != nil || st == nil {
			return nil, p.connectFailed(fmt.Errorf("no session after login: %w", err))
		}
	}

	accounts, err := p.fetchAccounts(ctx)
	if err != nil {
		return nil, p.connectFailed(err)
	}
	br, err := p.getBridge(ctx)
	if err != nil {
		return nil, p.connectFailed(err)
	}
	if _, err := br.Request(ctx, initSessionMethod, []any{st.AccessToken}); err != nil {
		return nil, p.connectFailed(err)
	}

	p.setAccounts(accounts)
	p.markConnected(ctx)
	return json.Marshal(accounts)
}

// bridged forwards a signing-class call through the bridge, converting
// failures to the conventional user-rejected shape.
func (p *NiomonProvider) bridged(ctx context.Context, method string, params any) (json.RawMessage, error) {
	st, err := p.cfg.Session.Status(ctx)
	if err != nil {
		return nil, userRejected(err)
	}
	if st == nil {
		return nil, userRejected(session.ErrNotAuthenticated)
	}
	if st.Expired {
		// Status already attempted the one silent refresh. A still-expired
		// token on a bridged call ends the session.
		if err := p.cfg.Session.Logout(ctx); err != nil {
			p.log.Warn().Err(err).Msg("logout after failed refresh")
		}
		return nil, userRejected(fmt.Errorf("%w: token expired", session.ErrNotAuthenticated))
	}

	br, err := p.getBridge(ctx)
	if err != nil {
		return nil, userRejected(err)
	}
	result, err := br.Request(ctx, method, params)
	if err != nil {
		return nil, userRejected(err)
	}
	return result, nil
}

// fetchAccounts performs the bridged accounts call and decodes the list.
func (p *NiomonProvider) fetchAccounts(ctx context.Context) ([]string, error) {
	br, err := p.getBridge(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := br.Request(ctx, "eth_accounts", nil)
	if err != nil {
		return nil, err
	}
	var accounts []string
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	return accounts, nil
}

// setAccounts caches the list and emits AccountsChanged only when the value
// actually changed. The first observation sets the baseline silently.
func (p *NiomonProvider) setAccounts(accounts []string) {
	p.mu.Lock()
	seen := p.accountsSeen
	changed := !slices.Equal(p.accounts, accounts)
	p.accounts = slices.Clone(accounts)
	p.accountsSeen = true
	p.mu.Unlock()

	if seen && changed {
		p.ev.emit(AccountsChanged{Accounts: slices.Clone(accounts)})
	}
}

// markConnected emits Connected once, with the chain id from the direct
// endpoint when it answers.
func (p *NiomonProvider) markConnected(ctx context.Context) {
	p.mu.Lock()
	if p.connected {
		p.mu.Unlock()
		return
	}
	p.connected = true
	p.mu.Unlock()

	var chainID string
	if raw, err := p.rpc.Call(ctx, "eth_chainId", nil); err != nil {
		p.log.Warn().Err(err).Msg("chain id lookup failed")
	} else if err := json.Unmarshal(raw, &chainID); err != nil {
		p.log.Warn().Err(err).Msg("chain id is not a string")
	}
	p.ev.emit(Connected{ChainID: chainID})
}

// connectFailed emits Close so host UI can drop any "connecting" state, then
// returns the user-rejected shape.
func (p *NiomonProvider) connectFailed(err error) error {
	p.log.Warn().Err(err).Msg("connect flow failed")
	p.ev.emit(Close{})
	return userRejected(err)
}

// userRejected converts err to the conventional {code:4001} shape, keeping
// an explicit remote RPC error verbatim.
func userRejected(err error) error {
	var rpcErr *wire.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return &wire.RPCError{Code: wire.CodeUserRejected, Message: err.Error()}
}

// getBridge returns the bridge, constructing it on first use. Concurrent
// callers during construction await the same attempt; a failed attempt
// resets to unstarted so a later call can retry.
func (p *NiomonProvider) getBridge(ctx context.Context) (SessionBridge, error) {
	p.mu.Lock()
	switch p.bstate {
	case bridgeReady:
		br := p.bridge
		p.mu.Unlock()
		return br, nil
	case bridgeConstructing:
		done := p.bdone
		p.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-done:
		}
		p.mu.Lock()
		br, err := p.bridge, p.berr
		p.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return br, nil
	}

	p.bstate = bridgeConstructing
	p.bdone = make(chan struct{})
	done := p.bdone
	p.mu.Unlock()

	br, err := p.cfg.Bridge(ctx)

	p.mu.Lock()
	if err != nil {
		p.bstate = bridgeUnstarted
		p.berr = err
	} else {
		p.bstate = bridgeReady
		p.bridge = br
		p.berr = nil
	}
	close(done)
	p.mu.Unlock()
	return br, err
}

// HandleBridgeEvent maps a bridge notification onto the façade's event
// stream. Hosts install it as the bridge's notification handler.
func (p *NiomonProvider) HandleBridgeEvent(method string, params []json.RawMessage) {
	switch method {
	case "accountsChanged":
		if len(params) != 1 {
			p.log.Warn().Str("method", method).Msg("malformed accountsChanged notification")
			return
		}
		var accounts []string
		if err := json.Unmarshal(params[0], &accounts); err != nil {
			p.log.Warn().Err(err).Msg("malformed accountsChanged payload")
			return
		}
		p.setAccounts(accounts)
	case "message":
		if len(params) != 1 {
			p.log.Warn().Str("method", method).Msg("malformed message notification")
			return
		}
		p.ev.emit(Message{Subscription: params[0]})
	case "close":
		p.ev.emit(Close{})
	default:
		p.log.Debug().Str("method", method).Msg("unhandled bridge event")
	}
}

// Close releases the bridge if one was constructed and emits Close.
func (p *NiomonProvider) Close() error {
	p.mu.Lock()
	br := p.bridge
	p.bridge = nil
	p.bstate = bridgeUnstarted
	p.connected = false
	p.mu.Unlock()

	p.ev.emit(Close{})
	if br != nil {
		return br.Close()
	}
	return nil
}
