package logsink

import (
	"context"
	"log/slog"

	"github.com/go-trustgate/internal/domain"
)

// Dispatcher records deliveries in the log instead of sending them. Only
// the destination and subject are logged, never the body.
type Dispatcher struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger}
}

func (d *Dispatcher) Send(ctx context.Context, msg domain.Message) error {
	d.logger.InfoContext(ctx, "message dispatched to log backend", "to", msg.To, "subject", msg.Subject)
	return nil
}
