// Package events is the structured audit sink the engine reports to.
// Payloads are attributes only; the engine never formats prose for it.
package events

import (
	"context"
	"log/slog"
	"sync"
)

// Channels used by the engine.
const (
	ChannelTokenRefresh = "token_refresh"
	ChannelHealth       = "connection_health"
	ChannelErrors       = "provider_errors"
	ChannelAlerts       = "alerts"
)

// Sink receives structured events.
type Sink interface {
	Emit(ctx context.Context, channel string, level slog.Level, attrs ...slog.Attr)
}

// LogSink writes events through slog.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink writing to logger (slog.Default when nil).
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, channel string, level slog.Level, attrs ...slog.Attr) {
	s.logger.LogAttrs(ctx, level, channel, append([]slog.Attr{slog.String("channel", channel)}, attrs...)...)
}

// Event is one emitted event, kept by Recorder.
type Event struct {
	Channel string
	Level   slog.Level
	Attrs   map[string]slog.Value
}

// Recorder keeps emitted events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(ctx context.Context, channel string, level slog.Level, attrs ...slog.Attr) {
	ev := Event{Channel: channel, Level: level, Attrs: make(map[string]slog.Value, len(attrs))}
	for _, a := range attrs {
		ev.Attrs[a.Key] = a.Value
	}
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns the events emitted on channel, or all events when channel is empty.
func (r *Recorder) Events(channel string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if channel == "" || ev.Channel == channel {
			out = append(out, ev)
		}
	}
	return out
}
