package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/niomon/niomon-go/internal/logx"
	"github.com/niomon/niomon-go/internal/metrics"
)

const (
	// DefaultRefreshLookahead is how long before expiry a token counts as
	// expiring soon. A product decision, not a protocol one, hence
	// configurable.
	DefaultRefreshLookahead = time.Hour

	// DefaultPopupPollInterval is how often the popup flow checks whether
	// the user closed the popup. "Window closed" has no event in this
	// model, so this is the one legitimate time-based poll in the SDK.
	DefaultPopupPollInterval = time.Second

	// DefaultScope is requested when the config does not name scopes.
	DefaultScope = "openid profile email"
)

var (
	// ErrAuthStateNotFound signals a code exchange invoked without a
	// matching BuildAuthURL in the same session.
	ErrAuthStateNotFound = errors.New("auth state cannot be found")

	// ErrNotAuthenticated signals an operation that requires a live token.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrStateMismatch signals an authorization response whose state does
	// not match the persisted auth state.
	ErrStateMismatch = errors.New("authorization state mismatch")
)

// AuthorizationError is the error parameter the authorization server
// returned instead of a code.
type AuthorizationError struct {
	Code        string
	Description string
}

func (e *AuthorizationError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("authorization failed: %s (%s)", e.Code, e.Description)
	}
	return fmt.Sprintf("authorization failed: %s", e.Code)
}

// Config configures a session Manager.
type Config struct {
	// BaseURL is the auth service root, e.g. https://auth.niomon.io.
	BaseURL string
	// ClientID scopes the persisted keys and identifies the OAuth client.
	ClientID string
	// RedirectURI is where the redirect flow returns to.
	RedirectURI string
	// Scope defaults to DefaultScope.
	Scope string

	// Tokens is the long-lived store holding the token record.
	Tokens Store
	// AuthState is the short-lived store holding per-login PKCE state.
	// Defaults to an in-process MemoryStore.
	AuthState Store
	// HTTP defaults to a client rooted at BaseURL.
	HTTP HTTPClient
	// Opener opens authorization popups; required for LoginWithPopup.
	Opener Opener

	// RefreshLookahead defaults to DefaultRefreshLookahead.
	RefreshLookahead time.Duration
	// PopupPollInterval defaults to DefaultPopupPollInterval.
	PopupPollInterval time.Duration

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

// Manager owns the PKCE login flows, token persistence, expiry tracking,
// and silent refresh. It is independent of the bridge.
type Manager struct {
	cfg  Config
	http HTTPClient
	now  func() time.Time
	log  zerolog.Logger
}

// New validates cfg, fills defaults, and returns a Manager.
func New(cfg Config) (*Manager, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("session: BaseURL is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("session: ClientID is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("session: Tokens store is required")
	}
	if cfg.AuthState == nil {
		cfg.AuthState = NewMemoryStore()
	}
	if cfg.Scope == "" {
		cfg.Scope = DefaultScope
	}
	if cfg.RefreshLookahead <= 0 {
		cfg.RefreshLookahead = DefaultRefreshLookahead
	}
	if cfg.PopupPollInterval <= 0 {
		cfg.PopupPollInterval = DefaultPopupPollInterval
	}
	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = NewHTTPClient(cfg.BaseURL)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		cfg:  cfg,
		http: httpClient,
		now:  now,
		log:  logx.With("session").With().Str("client_id", cfg.ClientID).Logger(),
	}, nil
}

// key returns the client-scoped storage key for field.
func (m *Manager) key(field string) string {
	return "niomon:" + m.cfg.ClientID + ":" + field
}

const (
	fieldAuthState   = "auth_state"
	fieldAccessToken = "access_token"
	fieldTokenRecord = "token_record"
	fieldExpiresAt   = "expires_at"
)

// BuildAuthURL generates fresh PKCE auth state, persists it to the
// short-lived store, and returns the authorization URL for the redirect
// flow.
func (m *Manager) BuildAuthURL(ctx context.Context) (string, error) {
	authURL, _, err := m.buildAuthURL(ctx, false)
	return authURL, err
}

func (m *Manager) buildAuthURL(ctx context.Context, webMessage bool) (string, *AuthState, error) {
	st, err := GenerateAuthState()
	if err != nil {
		return "", nil, err
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return "", nil, err
	}
	if err := m.cfg.AuthState.Set(ctx, m.key(fieldAuthState), string(raw)); err != nil {
		return "", nil, fmt.Errorf("persist auth state: %w", err)
	}

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", m.cfg.ClientID)
	q.Set("redirect_uri", m.cfg.RedirectURI)
	q.Set("scope", m.cfg.Scope)
	q.Set("state", st.State)
	q.Set("code_challenge", st.CodeChallenge)
	q.Set("code_challenge_method", "S256")
	if webMessage {
		q.Set("response_mode", "web_message")
	}
	return m.cfg.BaseURL + "/authorize?" + q.Encode(), st, nil
}

// loadAuthState reads the persisted PKCE material for the login attempt in
// flight.
func (m *Manager) loadAuthState(ctx context.Context) (*AuthState, error) {
	raw, err := m.cfg.AuthState.Get(ctx, m.key(fieldAuthState))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrAuthStateNotFound
		}
		return nil, err
	}
	var st AuthState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, ErrAuthStateNotFound
	}
	return &st, nil
}

// ExchangeAuthCode exchanges an authorization code for tokens. When
// verifier is empty it is recovered from the persisted auth state; the
// state record is consumed either way, so it can never back two exchanges.
func (m *Manager) ExchangeAuthCode(ctx context.Context, code, verifier string) (*TokenResponse, error) {
	if verifier == "" {
		st, err := m.loadAuthState(ctx)
		if err != nil {
			return nil, err
		}
		verifier = st.CodeVerifier
	}
	defer func() {
		if err := m.cfg.AuthState.Delete(ctx, m.key(fieldAuthState)); err != nil {
			m.log.Warn().Err(err).Msg("failed to clear auth state")
		}
	}()

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("code_verifier", verifier)
	form.Set("client_id", m.cfg.ClientID)
	form.Set("redirect_uri", m.cfg.RedirectURI)

	tr, err := m.tokenEndpoint(ctx, form)
	if err != nil {
		return nil, err
	}
	if err := m.HandleTokenResponse(ctx, tr); err != nil {
		return nil, err
	}
	return tr, nil
}

// HandleAuthCallback completes the redirect flow from the callback URL the
// authorization server returned the user to. An error parameter aborts the
// run.
func (m *Manager) HandleAuthCallback(ctx context.Context, callbackURL string) (*TokenResponse, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return nil, fmt.Errorf("parse callback url: %w", err)
	}
	q := u.Query()
	if e := q.Get("error"); e != "" {
		metrics.RecordLogin("redirect", false)
		return nil, &AuthorizationError{Code: e, Description: q.Get("error_description")}
	}
	code := q.Get("code")
	if code == "" {
		metrics.RecordLogin("redirect", false)
		return nil, errors.New("callback url carries no authorization code")
	}
	if state := q.Get("state"); state != "" {
		st, err := m.loadAuthState(ctx)
		if err != nil {
			return nil, err
		}
		if st.State != state {
			metrics.RecordLogin("redirect", false)
			return nil, ErrStateMismatch
		}
	}
	tr, err := m.ExchangeAuthCode(ctx, code, "")
	metrics.RecordLogin("redirect", err == nil)
	return tr, err
}

// tokenEndpoint posts form to the token endpoint and decodes the response.
func (m *Manager) tokenEndpoint(ctx context.Context, form url.Values) (*TokenResponse, error) {
	body, status, err := m.http.PostForm(ctx, "/oauth/token", form, nil)
	if err != nil {
		return nil, fmt.Errorf("token endpoint: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned %d: %s", status, truncate(body, 256))
	}
	var tr TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, errors.New("token response carries no access token")
	}
	return &tr, nil
}

// HandleTokenResponse persists a token response as the current record,
// computing the absolute expiry at receipt time. Both acquisition flows and
// the refresh path converge here.
func (m *Manager) HandleTokenResponse(ctx context.Context, tr *TokenResponse) error {
	rec := TokenRecord{
		AccessToken:  tr.AccessToken,
		TokenType:    tr.TokenType,
		RefreshToken: tr.RefreshToken,
		IDToken:      tr.IDToken,
		Scope:        tr.Scope,
		ExpiresAt:    m.now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}
	raw, err := json.Marshal(&rec)
	if err != nil {
		return err
	}
	if err := m.cfg.Tokens.Set(ctx, m.key(fieldAccessToken), rec.AccessToken); err != nil {
		return fmt.Errorf("persist access token: %w", err)
	}
	if err := m.cfg.Tokens.Set(ctx, m.key(fieldTokenRecord), string(raw)); err != nil {
		return fmt.Errorf("persist token record: %w", err)
	}
	if err := m.cfg.Tokens.Set(ctx, m.key(fieldExpiresAt), strconv.FormatInt(rec.ExpiresAt.Unix(), 10)); err != nil {
		return fmt.Errorf("persist expiry: %w", err)
	}
	return nil
}

// tokenRecord loads the persisted record. Absent or corrupt records read as
// anonymous rather than erroring: a logically anonymous user should not see
// an exception exposing persistence internals.
func (m *Manager) tokenRecord(ctx context.Context) (*TokenRecord, error) {
	raw, err := m.cfg.Tokens.Get(ctx, m.key(fieldTokenRecord))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var rec TokenRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		m.log.Warn().Err(err).Msg("stored token record is corrupt; treating as anonymous")
		return nil, nil
	}
	if rec.AccessToken == "" {
		return nil, nil
	}
	return &rec, nil
}

// Status derives the authentication status, attempting exactly one silent
// refresh when the token is inside the refresh lookahead window and a
// refresh token is present. Anonymous sessions return (nil, nil).
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	return m.status(ctx, true)
}

// PeekStatus derives the status without attempting a refresh.
func (m *Manager) PeekStatus(ctx context.Context) (*Status, error) {
	return m.status(ctx, false)
}

func (m *Manager) status(ctx context.Context, refreshIfNeeded bool) (*Status, error) {
	rec, err := m.tokenRecord(ctx)
	if err != nil || rec == nil {
		return nil, err
	}
	now := m.now()
	if refreshIfNeeded && rec.RefreshToken != "" && now.After(rec.ExpiresAt.Add(-m.cfg.RefreshLookahead)) {
		if err := m.refresh(ctx, rec.RefreshToken); err != nil {
			// Refresh failure is not a logout: the consumer decides.
			m.log.Warn().Err(err).Msg("silent token refresh failed")
		} else {
			// One re-entrant pass to compute the now-current status.
			return m.status(ctx, false)
		}
	}
	return &Status{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		IDToken:      rec.IDToken,
		Expired:      rec.ExpiresAt.Before(now),
	}, nil
}

// Refresh exchanges the stored refresh token for a fresh record.
func (m *Manager) Refresh(ctx context.Context) error {
	rec, err := m.tokenRecord(ctx)
	if err != nil {
		return err
	}
	if rec == nil || rec.RefreshToken == "" {
		return fmt.Errorf("%w: no refresh token", ErrNotAuthenticated)
	}
	return m.refresh(ctx, rec.RefreshToken)
}

func (m *Manager) refresh(ctx context.Context, refreshToken string) error {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", m.cfg.ClientID)

	tr, err := m.tokenEndpoint(ctx, form)
	if err != nil {
		metrics.RecordRefresh(false)
		return err
	}
	if tr.RefreshToken == "" {
		// Servers may omit the refresh token on rotation-free grants.
		tr.RefreshToken = refreshToken
	}
	if err := m.HandleTokenResponse(ctx, tr); err != nil {
		metrics.RecordRefresh(false)
		return err
	}
	metrics.RecordRefresh(true)
	return nil
}

// AuthenticatedHTTP returns an HTTP client that injects the current access
// token, refreshing it first if needed. Expired and unrefreshable sessions
// fail here rather than on the downstream request.
func (m *Manager) AuthenticatedHTTP(ctx context.Context) (HTTPClient, error) {
	st, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, ErrNotAuthenticated
	}
	if st.Expired {
		return nil, fmt.Errorf("%w: token expired", ErrNotAuthenticated)
	}
	return &bearerClient{inner: m.http, token: st.AccessToken}, nil
}

// Userinfo fetches the OIDC userinfo document for the current session.
func (m *Manager) Userinfo(ctx context.Context) (map[string]any, error) {
	hc, err := m.AuthenticatedHTTP(ctx)
	if err != nil {
		return nil, err
	}
	body, status, err := hc.Get(ctx, "/userinfo", nil)
	if err != nil {
		return nil, fmt.Errorf("userinfo: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("userinfo returned %d", status)
	}
	var claims map[string]any
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	return claims, nil
}

// IDTokenClaims parses the stored id_token without verification, for login
// hints.
func (m *Manager) IDTokenClaims(ctx context.Context) (map[string]any, error) {
	rec, err := m.tokenRecord(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.IDToken == "" {
		return nil, ErrNotAuthenticated
	}
	claims, err := rec.IDTokenClaims()
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// Logout clears the persisted access token and token record. A subsequent
// status query reads as anonymous.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.cfg.Tokens.Delete(ctx, m.key(fieldAccessToken)); err != nil {
		return err
	}
	return m.cfg.Tokens.Delete(ctx, m.key(fieldTokenRecord))
}

// ClearClient removes every key in this client's namespace from both
// stores.
func (m *Manager) ClearClient(ctx context.Context) error {
	prefix := "niomon:" + m.cfg.ClientID + ":"
	for _, store := range []Store{m.cfg.Tokens, m.cfg.AuthState} {
		keys, err := store.Keys(ctx, prefix)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := store.Delete(ctx, k); err != nil {
				return err
			}
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
