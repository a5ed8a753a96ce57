package notify

import (
	"context"
	"log/slog"

	"github.com/utafrali/authority/pkg/logger"
)

// LogDispatcher writes messages to the log instead of delivering them. The
// body, which carries the code or link, is only logged at debug level.
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher creates a dispatcher for local development.
func NewLogDispatcher(l *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: l}
}

// Name returns the transport name.
func (d *LogDispatcher) Name() string { return "log" }

// Send logs msg.
func (d *LogDispatcher) Send(ctx context.Context, msg Message) error {
	d.logger.InfoContext(ctx, "notification dispatched",
		slog.String("transport", d.Name()),
		slog.String("to", logger.MaskEmail(msg.To)),
		slog.String("subject", msg.Subject),
		slog.String("purpose", string(msg.Purpose)),
	)
	d.logger.DebugContext(ctx, "notification body",
		slog.String("principal_id", msg.PrincipalID),
		slog.String("body", msg.Body),
	)
	return nil
}
