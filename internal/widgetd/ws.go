package widgetd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/niomon/niomon-go/internal/logx"
	"github.com/niomon/niomon-go/wire"
)

// WSHandler accepts SDK connections and speaks the widget wire protocol:
// ready on attach, request/response envelopes, did_logout on logout.
func WSHandler(fx Fixtures) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
		if err != nil {
			return
		}
		ctx := r.Context()
		sess := &wsSession{
			conn: c,
			fx:   fx,
			log:  logx.With("widgetd").With().Str("session", uuid.NewString()[:8]).Logger(),
		}
		sess.run(ctx)
	}
}

// wsSession is one attached SDK client.
type wsSession struct {
	conn  *websocket.Conn
	fx    Fixtures
	log   zerolog.Logger
	token string
}

func (s *wsSession) run(ctx context.Context) {
	defer func() { _ = s.conn.Close(websocket.StatusNormalClosure, "closing") }()

	if err := s.notify(ctx, wire.FamilyWidget.Ready()); err != nil {
		s.log.Debug().Err(err).Msg("ready send failed")
		return
	}
	s.log.Info().Msg("widget session attached")

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			s.log.Debug().Err(err).Msg("widget session detached")
			return
		}
		s.handle(ctx, data)
	}
}

func (s *wsSession) handle(ctx context.Context, data []byte) {
	env, err := wire.DecodeEnvelope(data, wire.FamilyWidget)
	if err != nil {
		if !errors.Is(err, wire.ErrForeignMessage) {
			s.log.Debug().Err(err).Msg("dropping malformed message")
		}
		return
	}
	p, err := wire.DecodePayload(env)
	if err != nil {
		s.log.Debug().Err(err).Msg("dropping malformed payload")
		return
	}
	if p.IsResponse() || p.Method == "" {
		s.log.Debug().Msg("dropping unexpected message kind")
		return
	}
	if p.ID == nil {
		s.log.Debug().Str("method", p.Method).Msg("dropping request without id")
		return
	}
	s.serve(ctx, *p.ID, p.Method, p.Params)
}

func (s *wsSession) serve(ctx context.Context, id uint64, method string, params []byte) {
	s.log.Debug().Uint64("id", id).Str("method", method).Msg("serving request")
	switch method {
	case "eth_accounts":
		s.result(ctx, id, s.fx.Accounts)
	case "eth_chainId":
		s.result(ctx, id, s.fx.ChainID)
	case "eth_sign", "personal_sign", "eth_signTransaction":
		s.result(ctx, id, s.fx.Signature)
	case "eth_sendTransaction":
		s.result(ctx, id, s.fx.TxHash)
	case "niomon_initSession":
		items, err := wire.PositionalParams(params)
		if err != nil || len(items) != 1 {
			s.fail(ctx, id, &wire.RPCError{Code: -32602, Message: "initSession expects [token]"})
			return
		}
		var token string
		if err := json.Unmarshal(items[0], &token); err != nil || token == "" {
			s.fail(ctx, id, &wire.RPCError{Code: -32602, Message: "initSession token must be a string"})
			return
		}
		s.token = token
		s.log.Info().Msg("session initialized")
		s.result(ctx, id, true)
	case "logout":
		s.token = ""
		s.result(ctx, id, true)
		if err := s.notify(ctx, wire.FamilyWidget.DidLogout()); err != nil {
			s.log.Debug().Err(err).Msg("did_logout send failed")
		}
	default:
		s.fail(ctx, id, &wire.RPCError{Code: -32601, Message: "method not found: " + method})
	}
}

func (s *wsSession) result(ctx context.Context, id uint64, result any) {
	frame, err := wire.EncodeResult(wire.FamilyWidget, id, result)
	if err != nil {
		s.log.Warn().Err(err).Msg("encode result failed")
		return
	}
	s.send(ctx, frame)
}

func (s *wsSession) fail(ctx context.Context, id uint64, rpcErr *wire.RPCError) {
	frame, err := wire.EncodeError(wire.FamilyWidget, id, rpcErr)
	if err != nil {
		s.log.Warn().Err(err).Msg("encode error failed")
		return
	}
	s.send(ctx, frame)
}

func (s *wsSession) notify(ctx context.Context, method string, params ...any) error {
	frame, err := wire.EncodeNotification(wire.FamilyWidget, method, params...)
	if err != nil {
		return err
	}
	return s.conn.Write(ctx, websocket.MessageText, frame)
}

func (s *wsSession) send(ctx context.Context, frame []byte) {
	if err := s.conn.Write(ctx, websocket.MessageText, frame); err != nil {
		s.log.Debug().Err(err).Msg("write failed")
	}
}
