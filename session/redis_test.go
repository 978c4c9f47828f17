package session

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	if _, err := s.Get(ctx, "niomon:c:access_token"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Set(ctx, "niomon:c:access_token", "A"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := s.Get(ctx, "niomon:c:access_token")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "A" {
		t.Fatalf("Get = %q, want %q", v, "A")
	}
	if err := s.Delete(ctx, "niomon:c:access_token"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "niomon:c:access_token"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestRedisStoreKeysScopedByPrefix(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	for _, k := range []string{
		"niomon:c1:access_token",
		"niomon:c1:token_record",
		"niomon:c2:access_token",
	} {
		if err := s.Set(ctx, k, "x"); err != nil {
			t.Fatalf("Set(%q): %v", k, err)
		}
	}
	keys, err := s.Keys(ctx, "niomon:c1:")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	sort.Strings(keys)
	want := []string{"niomon:c1:access_token", "niomon:c1:token_record"}
	if len(keys) != len(want) {
		t.Fatalf("Keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("Keys = %v, want %v", keys, want)
		}
	}
}

func TestRedisStoreBacksManager(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	m, err := New(Config{
		BaseURL:  "https://auth.niomon.io",
		ClientID: "client-1",
		Tokens:   s,
		HTTP:     &fakeHTTP{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.HandleTokenResponse(ctx, &TokenResponse{
		AccessToken: "A", TokenType: "Bearer", ExpiresIn: 3600,
	}); err != nil {
		t.Fatalf("HandleTokenResponse: %v", err)
	}
	st, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st == nil || st.AccessToken != "A" || st.Expired {
		t.Fatalf("Status = %+v, want live token A", st)
	}
}

func TestParseRedisURL(t *testing.T) {
	cases := []struct {
		name    string
		addr    string
		wantErr bool
		check   func(t *testing.T, addrs []string, db int, master string)
	}{
		{
			name: "bare host port",
			addr: "localhost:6379",
			check: func(t *testing.T, addrs []string, db int, master string) {
				if len(addrs) != 1 || addrs[0] != "localhost:6379" {
					t.Fatalf("addrs = %v", addrs)
				}
			},
		},
		{
			name: "redis scheme with db path",
			addr: "redis://localhost:6379/2",
			check: func(t *testing.T, addrs []string, db int, master string) {
				if db != 2 {
					t.Fatalf("db = %d, want 2", db)
				}
			},
		},
		{
			name: "sentinel with master",
			addr: "redis-sentinel://localhost:26379/mymaster?db=1",
			check: func(t *testing.T, addrs []string, db int, master string) {
				if master != "mymaster" || db != 1 {
					t.Fatalf("master = %q db = %d", master, db)
				}
			},
		},
		{
			name:    "unknown scheme",
			addr:    "http://localhost:6379",
			wantErr: true,
		},
		{
			name:    "bad db",
			addr:    "redis://localhost:6379/notanumber",
			wantErr: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts, err := parseRedisURL(tc.addr)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseRedisURL: %v", err)
			}
			if tc.check != nil {
				tc.check(t, opts.Addrs, opts.DB, opts.MasterName)
			}
		})
	}
}
