package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/niomon/niomon-go/wire"
)

// Mode is the remote context's presentation state.
type Mode string

const (
	ModeHidden    Mode = "hidden"
	ModeMinimized Mode = "minimized"
	ModeFocused   Mode = "focused"
)

func (m Mode) valid() bool {
	switch m {
	case ModeHidden, ModeMinimized, ModeFocused:
		return true
	}
	return false
}

// ContextHandle identifies one attached remote execution context.
type ContextHandle struct {
	ID  string
	URL string
}

// Renderer attaches isolated remote contexts and applies their visibility
// presentation. Attaching a context at a URL removes any pre-existing one
// with the same well-known identifier. Render applies the mode-specific
// presentation, including focus when focused and blur otherwise.
type Renderer interface {
	CreateContext(ctx context.Context, url string) (ContextHandle, Channel, error)
	Render(h ContextHandle, mode Mode) error
}

// WidgetBridge bridges to an embedded authentication widget. It owns the
// widget's identity, its readiness signal, and its visibility state.
type WidgetBridge struct {
	*Core

	renderer Renderer
	handle   ContextHandle

	modeMu sync.Mutex
	mode   Mode
}

// NewWidgetBridge attaches the widget at url and begins listening for
// messages from that context only.
func NewWidgetBridge(ctx context.Context, renderer Renderer, url string) (*WidgetBridge, error) {
	handle, ch, err := renderer.CreateContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("attach widget context: %w", err)
	}
	b := &WidgetBridge{
		Core:     newCore(wire.FamilyWidget, ch, handle.ID, ""),
		renderer: renderer,
		handle:   handle,
		mode:     ModeHidden,
	}
	b.setHook(b.handleNotification)
	b.start()
	return b, nil
}

// AwaitReady blocks until the widget's ready notification has been observed
// and then returns the bridge itself, enabling self-referential chaining.
func (b *WidgetBridge) AwaitReady(ctx context.Context) (*WidgetBridge, error) {
	if err := b.Core.AwaitReady(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// handleNotification intercepts the widget-pushed mode change. Everything
// else falls through to the registered handler.
func (b *WidgetBridge) handleNotification(method string, params []json.RawMessage) bool {
	if method != wire.FamilyWidget.Mode() {
		return false
	}
	if len(params) != 1 {
		b.log.Warn().Int("params", len(params)).Msg("ignoring mode notification with unexpected params")
		return true
	}
	var m string
	if err := json.Unmarshal(params[0], &m); err != nil {
		b.log.Warn().Msg("ignoring mode notification with non-string mode")
		return true
	}
	b.SetMode(Mode(m))
	return true
}

// SetMode updates the widget's visibility mode. Invalid modes are rejected
// with a warning and leave state and presentation unchanged. Local and
// remote mode changes both funnel through here so rendering stays
// consistent.
func (b *WidgetBridge) SetMode(m Mode) {
	if !m.valid() {
		b.log.Warn().Str("mode", string(m)).Msg("ignoring invalid widget mode")
		return
	}
	b.modeMu.Lock()
	b.mode = m
	b.modeMu.Unlock()
	if err := b.renderer.Render(b.handle, m); err != nil {
		b.log.Warn().Err(err).Str("mode", string(m)).Msg("widget render failed")
	}
}

// Mode returns the widget's current visibility mode.
func (b *WidgetBridge) Mode() Mode {
	b.modeMu.Lock()
	defer b.modeMu.Unlock()
	return b.mode
}

// Handle returns the attached context's identity.
func (b *WidgetBridge) Handle() ContextHandle { return b.handle }
