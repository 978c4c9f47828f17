package bridge

import "github.com/niomon/niomon-go/wire"

// ProviderBridge bridges to a generic external provider context, e.g.
// injected native code rather than an embedded document. The whole channel
// is the remote identity, and the notification vocabulary is reduced to the
// ready signal and generic events.
type ProviderBridge struct {
	*Core
}

// NewProviderBridge wraps an already-established channel to the provider
// context. source is the channel's peer identity; inbound messages from any
// other source are ignored.
func NewProviderBridge(ch Channel, source string) *ProviderBridge {
	b := &ProviderBridge{Core: newCore(wire.FamilyProvider, ch, source, "")}
	b.start()
	return b
}
