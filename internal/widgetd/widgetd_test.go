package widgetd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/niomon/niomon-go/bridge"
	"github.com/niomon/niomon-go/internal/config"
	"github.com/niomon/niomon-go/wire"
)

func startWidgetd(t *testing.T, fx Fixtures) string {
	t.Helper()
	cfg := config.WidgetdConfig{WSPath: "/widget"}
	ts := httptest.NewServer(New(cfg, fx))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/widget"
}

func TestWidgetSessionEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fx := DefaultFixtures()
	fx.Accounts = []string{"0xabc"}
	url := startWidgetd(t, fx)

	wb, err := bridge.NewWidgetBridge(ctx, &bridge.WSRenderer{}, url)
	if err != nil {
		t.Fatalf("NewWidgetBridge: %v", err)
	}
	defer func() { _ = wb.Close() }()
	if _, err := wb.AwaitReady(ctx); err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}

	raw, err := wb.Request(ctx, "eth_accounts", nil)
	if err != nil {
		t.Fatalf("eth_accounts: %v", err)
	}
	var accounts []string
	if err := json.Unmarshal(raw, &accounts); err != nil {
		t.Fatalf("decode accounts: %v", err)
	}
	if len(accounts) != 1 || accounts[0] != "0xabc" {
		t.Fatalf("accounts = %v", accounts)
	}

	raw, err = wb.Request(ctx, "personal_sign", []any{"0xdeadbeef", "0xabc"})
	if err != nil {
		t.Fatalf("personal_sign: %v", err)
	}
	if string(raw) != `"`+fx.Signature+`"` {
		t.Fatalf("signature = %s", raw)
	}
}

func TestWidgetSessionUnknownMethod(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := startWidgetd(t, DefaultFixtures())

	wb, err := bridge.NewWidgetBridge(ctx, &bridge.WSRenderer{}, url)
	if err != nil {
		t.Fatalf("NewWidgetBridge: %v", err)
	}
	defer func() { _ = wb.Close() }()
	if _, err := wb.AwaitReady(ctx); err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}

	_, err = wb.Request(ctx, "eth_mint", nil)
	rpcErr, ok := err.(*wire.RPCError)
	if !ok {
		t.Fatalf("expected RPCError, got %v", err)
	}
	if rpcErr.Code != -32601 {
		t.Fatalf("code = %d, want -32601", rpcErr.Code)
	}
}

func TestWidgetSessionLogoutEmitsDidLogout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := startWidgetd(t, DefaultFixtures())

	wb, err := bridge.NewWidgetBridge(ctx, &bridge.WSRenderer{}, url)
	if err != nil {
		t.Fatalf("NewWidgetBridge: %v", err)
	}
	defer func() { _ = wb.Close() }()
	if _, err := wb.AwaitReady(ctx); err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}

	notified := make(chan string, 1)
	wb.OnNotification(func(method string, _ []json.RawMessage) {
		select {
		case notified <- method:
		default:
		}
	})

	if err := wb.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	select {
	case method := <-notified:
		if method != wire.FamilyWidget.DidLogout() {
			t.Fatalf("notification = %q", method)
		}
	case <-ctx.Done():
		t.Fatal("did_logout not received")
	}
}

func TestLoadFixtures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	data := "accounts:\n  - \"0x111\"\nchain_id: \"0x5\"\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	fx, err := LoadFixtures(path)
	if err != nil {
		t.Fatalf("LoadFixtures: %v", err)
	}
	if len(fx.Accounts) != 1 || fx.Accounts[0] != "0x111" {
		t.Fatalf("accounts = %v", fx.Accounts)
	}
	if fx.ChainID != "0x5" {
		t.Fatalf("chain_id = %q", fx.ChainID)
	}
	if fx.Signature != DefaultFixtures().Signature {
		t.Fatalf("signature default not preserved: %q", fx.Signature)
	}

	if _, err := LoadFixtures(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestMetricsAddr(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.WidgetdConfig
		want string
	}{
		{"shared port", config.WidgetdConfig{Port: 8091, MetricsPort: 8091}, ""},
		{"unset", config.WidgetdConfig{Port: 8091}, ""},
		{"separate port", config.WidgetdConfig{Port: 8091, MetricsPort: 9091}, ":9091"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MetricsAddr(tt.cfg); got != tt.want {
				t.Errorf("MetricsAddr = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMetricsHandlerServesScrapeEndpoint(t *testing.T) {
	ts := httptest.NewServer(MetricsHandler())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get /metrics: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/widget")
	if err != nil {
		t.Fatalf("get /widget: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("metrics listener must serve only /metrics, got %d", resp.StatusCode)
	}
}

func TestLoadFixturesEmptyPathUsesDefaults(t *testing.T) {
	fx, err := LoadFixtures("")
	if err != nil {
		t.Fatalf("LoadFixtures: %v", err)
	}
	if len(fx.Accounts) == 0 || fx.ChainID == "" {
		t.Fatalf("defaults incomplete: %+v", fx)
	}
}
