package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes capture events to an slog.Logger at Debug level.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("conn_id", event.ConnectionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
		slog.String("role", event.LocalRole.String()),
	}
	if event.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote", event.RemoteAddr))
	}
	if event.UDN != "" {
		attrs = append(attrs, slog.String("udn", event.UDN))
	}
	if event.SID != "" {
		attrs = append(attrs, slog.String("sid", event.SID))
	}

	switch {
	case event.Datagram != nil:
		attrs = append(attrs,
			slog.Int("size", event.Datagram.Size),
			slog.Bool("multicast", event.Datagram.Multicast),
			slog.Bool("truncated", event.Datagram.Truncated),
		)
	case event.Message != nil:
		m := event.Message
		attrs = append(attrs, slog.String("msg_type", m.Type.String()))
		if m.Method != "" {
			attrs = append(attrs, slog.String("method", m.Method), slog.String("target", m.Target))
		}
		if m.Status != 0 {
			attrs = append(attrs, slog.Int("status", m.Status))
		}
		for _, h := range []string{"NT", "NTS", "ST", "USN", "SID", "SEQ"} {
			if v, ok := m.Headers[h]; ok {
				attrs = append(attrs, slog.String(h, v))
			}
		}
		if m.ProcessingTime != nil {
			attrs = append(attrs, slog.Duration("processing_time", *m.ProcessingTime))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
		if event.Error.Code != nil {
			attrs = append(attrs, slog.Int("error_code", *event.Error.Code))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "protocol", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
