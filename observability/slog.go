package observability

import (
	"context"
	"log/slog"
)

// SlogObserver emits events to a slog.Logger. Event levels are mapped via
// SlogLevel, the event type becomes the log message, and Data keys are
// flattened as top-level slog attributes. Events below the observer's minimum
// level are dropped before reaching the logger, which is how the relay's
// verbosity switch is applied.
type SlogObserver struct {
	logger *slog.Logger
	min    Level
}

// NewSlogObserver creates a SlogObserver that emits every event to the given
// logger, leaving filtering to the logger's handler.
func NewSlogObserver(logger *slog.Logger) *SlogObserver {
	return NewSlogObserverWithLevel(logger, LevelVerbose)
}

// NewSlogObserverWithLevel creates a SlogObserver that drops events below min.
func NewSlogObserverWithLevel(logger *slog.Logger, min Level) *SlogObserver {
	return &SlogObserver{logger: logger, min: min}
}

func (o *SlogObserver) OnEvent(ctx context.Context, event Event) {
	if event.Level < o.min {
		return
	}

	attrs := make([]slog.Attr, 0, len(event.Data)+2)
	attrs = append(attrs, slog.String("source", event.Source))
	if event.Session != "" {
		attrs = append(attrs, slog.String("session", event.Session))
	}
	for k, v := range event.Data {
		attrs = append(attrs, slog.Any(k, v))
	}

	o.logger.LogAttrs(ctx, event.Level.SlogLevel(), string(event.Type), attrs...)
}
