package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// TokenResponse is the body returned by the token endpoint for both the
// authorization-code and refresh grants.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// TokenRecord is the persisted form of a token response, with the absolute
// expiry computed at receipt time. A present access token always implies a
// present expiry.
type TokenRecord struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Token converts the record to an oauth2 token, carrying the id_token as
// extra data the way golang.org/x/oauth2 delivers it.
func (r *TokenRecord) Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  r.AccessToken,
		TokenType:    r.TokenType,
		RefreshToken: r.RefreshToken,
		Expiry:       r.ExpiresAt,
	}
	if r.IDToken != "" {
		tok = tok.WithExtra(map[string]any{"id_token": r.IDToken})
	}
	return tok
}

// IDTokenClaims parses the record's id_token without verifying its
// signature. Client-side only, for login hints; never use these claims for
// authorization decisions.
func (r *TokenRecord) IDTokenClaims() (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(r.IDToken, claims)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// Status is the externally observable authentication state, derived on
// demand from the token record and the current time, never stored.
type Status struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	Expired      bool
}
