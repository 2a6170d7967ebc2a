package notification

import (
	"context"
	"log/slog"
)

const (
	// KindTransferReceived tells an in-directory receiver that funds arrived.
	KindTransferReceived = "transfer_received"
	// KindWithdrawalCompleted tells an account holder a withdrawal was paid out.
	KindWithdrawalCompleted = "withdrawal_completed"
)

// Message describes a notification payload.
type Message struct {
	Kind          string
	Destination   string
	ReferenceCode string
	AmountMinor   int64
	Body          string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("kind", message.Kind),
		slog.String("destination", message.Destination),
		slog.String("reference_code", message.ReferenceCode),
		slog.Int64("amount", message.AmountMinor),
		slog.String("body", message.Body))
	return nil
}
