package authcore

import (
	"context"

	"go.uber.org/zap"
)

// Channel names the delivery medium of a [Message].
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Message is an outbound notification carrying a challenge code.
type Message struct {
	Channel   Channel
	Recipient string
	Subject   string
	Body      string
}

// Notifier delivers messages. Delivery is best effort: a failed Send is
// logged and counted but never fails the flow that triggered it.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a function to [Notifier].
type NotifierFunc func(ctx context.Context, msg Message) error

func (f NotifierFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// LogNotifier writes messages to a logger instead of delivering them.
// The body, and so the code, is logged at debug level only. Use it in
// development.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notifier")}
}

func (n *LogNotifier) Send(_ context.Context, msg Message) error {
	n.logger.Info("notification",
		zap.String("channel", string(msg.Channel)),
		zap.String("recipient", msg.Recipient),
		zap.String("subject", msg.Subject))
	n.logger.Debug("notification body",
		zap.String("recipient", msg.Recipient),
		zap.String("body", msg.Body))
	return nil
}
