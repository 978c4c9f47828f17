package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/niomon/niomon-go/internal/metrics"
	"github.com/niomon/niomon-go/wire"
)

var (
	// ErrPopupClosed signals that the user closed the authorization popup
	// before completing the login.
	ErrPopupClosed = errors.New("login popup closed by user")

	// ErrPopupBlocked signals that the popup could not be opened at all.
	ErrPopupBlocked = errors.New("login popup could not be opened")
)

// PopupMessage is one message posted by the popup to its opener, tagged
// with the posting document's origin.
type PopupMessage struct {
	Origin string
	Data   []byte
}

// Popup is one opened authorization window. Messages delivers only traffic
// posted by this popup, so the source identity check is structural.
type Popup interface {
	Messages() <-chan PopupMessage
	// Closed reports whether the user has closed the window. There is no
	// close event in this model, so the login flow polls it.
	Closed() bool
	Close() error
}

// Opener opens authorization popups. It is a thin transport collaborator;
// hosts supply an implementation appropriate to their embedding.
type Opener interface {
	Open(ctx context.Context, url string) (Popup, error)
}

// LoginWithPopup drives the popup PKCE flow: build a web_message
// authorization URL, open the popup, accept exactly one
// authorization_response message from exactly that popup and exactly the
// companion app origin, then exchange the code.
func (m *Manager) LoginWithPopup(ctx context.Context) (*TokenResponse, error) {
	if m.cfg.Opener == nil {
		return nil, errors.New("session: no popup Opener configured")
	}
	authURL, st, err := m.buildAuthURL(ctx, true)
	if err != nil {
		return nil, err
	}
	popup, err := m.cfg.Opener.Open(ctx, authURL)
	if err != nil {
		metrics.RecordLogin("popup", false)
		return nil, fmt.Errorf("%w: %v", ErrPopupBlocked, err)
	}
	defer func() { _ = popup.Close() }()

	expectedOrigin := CompanionOrigin(m.cfg.BaseURL)
	ticker := time.NewTicker(m.cfg.PopupPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if popup.Closed() {
				metrics.RecordLogin("popup", false)
				return nil, ErrPopupClosed
			}
		case msg, ok := <-popup.Messages():
			if !ok {
				metrics.RecordLogin("popup", false)
				return nil, ErrPopupClosed
			}
			if msg.Origin != expectedOrigin {
				m.log.Debug().Str("origin", msg.Origin).Msg("ignoring popup message from unexpected origin")
				continue
			}
			var am wire.AuthorizationMessage
			if err := json.Unmarshal(msg.Data, &am); err != nil || am.Type != wire.AuthorizationMessageType {
				m.log.Debug().Msg("ignoring non-authorization popup message")
				continue
			}
			_ = popup.Close()

			resp := am.Response
			if resp.Error != "" {
				metrics.RecordLogin("popup", false)
				return nil, &AuthorizationError{Code: resp.Error, Description: resp.ErrorDescription}
			}
			if resp.State != st.State {
				metrics.RecordLogin("popup", false)
				return nil, ErrStateMismatch
			}
			tr, err := m.ExchangeAuthCode(ctx, resp.Code, st.CodeVerifier)
			metrics.RecordLogin("popup", err == nil)
			return tr, err
		}
	}
}

// CompanionOrigin derives the origin of the auth service's companion app
// from the base URL: the leftmost host label becomes "app" (or "app." is
// prefixed when the host has no subdomain). The popup's
// authorization_response must be posted from this origin.
func CompanionOrigin(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	labels := strings.Split(host, ".")
	if len(labels) > 2 {
		labels[0] = "app"
		host = strings.Join(labels, ".")
	} else {
		host = "app." + host
	}
	if port := u.Port(); port != "" {
		host += ":" + port
	}
	return u.Scheme + "://" + host
}
