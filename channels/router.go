package channels

import (
	"context"
	"log/slog"
)

// Router fans a message out to all configured sinks. One sink error does
// not block the others: errors are logged and the first one is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router delivering to all sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

// Len returns the number of sinks.
func (r *Router) Len() int { return len(r.sinks) }

func (r *Router) Send(ctx context.Context, msg Message) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Send(ctx, msg); err != nil {
			r.logger.Warn("sink: send failed", "channel", msg.ChannelID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
