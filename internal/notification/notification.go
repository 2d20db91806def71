package notification

import (
	"context"
	"errors"
	"log/slog"
)

const (
	// KindSMSReply marks a reply to an inbound text message.
	KindSMSReply = "sms_reply"
)

// ErrRecipientUnreachable reports that the provider refused delivery because
// the recipient unsubscribed or cannot receive messages. Callers treat it as
// non-fatal.
var ErrRecipientUnreachable = errors.New("recipient unreachable")

// Message describes an outbound text message.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Sender delivers text messages to phone numbers.
type Sender interface {
	Send(ctx context.Context, message Message) error
}

// LoggerSender writes messages to the structured logger instead of delivering them.
type LoggerSender struct {
	logger *slog.Logger
}

// NewLoggerSender constructs a logging sender for development.
func NewLoggerSender(logger *slog.Logger) *LoggerSender {
	return &LoggerSender{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerSender) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("outbound sms", "kind", message.Kind, "destination", message.Destination, "body", message.Body)
	return nil
}
