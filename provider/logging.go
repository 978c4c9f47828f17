package provider

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/niomon/niomon-go/internal/logx"
)

// LoggingProvider wraps a Provider and logs every request and event. It is
// an explicit decorator composed at setup time.
type LoggingProvider struct {
	inner Provider
	log   zerolog.Logger
}

// WithLogging wraps p in a LoggingProvider.
func WithLogging(p Provider) *LoggingProvider {
	return &LoggingProvider{inner: p, log: logx.With("provider.debug")}
}

func (l *LoggingProvider) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	start := time.Now()
	result, err := l.inner.Request(ctx, method, params)
	ev := l.log.Debug().Str("method", method).Dur("duration", time.Since(start))
	if err != nil {
		ev.Err(err).Msg("request failed")
		return nil, err
	}
	ev.Int("result_bytes", len(result)).Msg("request ok")
	return result, nil
}

// Subscribe relays the inner event stream, logging each event as it passes.
func (l *LoggingProvider) Subscribe() (<-chan Event, func()) {
	inner, cancel := l.inner.Subscribe()
	out := make(chan Event, eventBuffer)
	go func() {
		defer close(out)
		for ev := range inner {
			l.log.Debug().Type("event", ev).Msg("event")
			select {
			case out <- ev:
			default:
				l.log.Warn().Type("event", ev).Msg("dropping event for slow subscriber")
			}
		}
	}()
	return out, cancel
}
