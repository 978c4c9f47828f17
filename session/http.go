package session

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// defaultHTTPTimeout bounds requests to the auth service.
const defaultHTTPTimeout = 30 * time.Second

// HTTPClient is the HTTP surface the session manager calls the OAuth token
// and userinfo endpoints through. Paths are relative to the auth service
// base URL.
type HTTPClient interface {
	PostForm(ctx context.Context, path string, form url.Values, header http.Header) (body []byte, status int, err error)
	Get(ctx context.Context, path string, header http.Header) (body []byte, status int, err error)
}

// NewHTTPClient returns the default HTTPClient rooted at baseURL.
func NewHTTPClient(baseURL string) HTTPClient {
	return &baseClient{
		base: strings.TrimSuffix(baseURL, "/"),
		hc:   &http.Client{Timeout: defaultHTTPTimeout},
	}
}

type baseClient struct {
	base string
	hc   *http.Client
}

func (c *baseClient) PostForm(ctx context.Context, path string, form url.Values, header http.Header) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, err
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *baseClient) Get(ctx context.Context, path string, header http.Header) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, 0, err
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	return c.do(req)
}

func (c *baseClient) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}
	return body, resp.StatusCode, nil
}

// bearerClient wraps an HTTPClient, injecting the access token on every
// request.
type bearerClient struct {
	inner HTTPClient
	token string
}

func (c *bearerClient) PostForm(ctx context.Context, path string, form url.Values, header http.Header) ([]byte, int, error) {
	return c.inner.PostForm(ctx, path, form, c.withBearer(header))
}

func (c *bearerClient) Get(ctx context.Context, path string, header http.Header) ([]byte, int, error) {
	return c.inner.Get(ctx, path, c.withBearer(header))
}

func (c *bearerClient) withBearer(header http.Header) http.Header {
	h := http.Header{}
	for k, vs := range header {
		h[k] = vs
	}
	h.Set("Authorization", "Bearer "+c.token)
	return h
}
