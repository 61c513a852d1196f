package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vishnandaman/road-assist/internal/roadside/domain"
)

// Sender delivers one notification to its transport.
type Sender interface {
	Send(ctx context.Context, n domain.Notification) error
}

// NATSSender publishes notifications to a NATS subject for downstream
// push delivery.
type NATSSender struct {
	conn    *nats.Conn
	subject string
}

// NewNATSSender builds a sender on the provided connection.
func NewNATSSender(conn *nats.Conn, subject string) *NATSSender {
	if subject == "" {
		subject = "push.notifications"
	}
	return &NATSSender{conn: conn, subject: subject}
}

// Send publishes the notification as JSON.
func (s *NATSSender) Send(ctx context.Context, n domain.Notification) error {
	if s == nil || s.conn == nil {
		return nil
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return s.conn.PublishMsg(&nats.Msg{Subject: s.subject, Data: payload, Header: map[string][]string{
		"x-trace-id": {traceIDFromContext(ctx)},
		"x-user-id":  {n.UserID.String()},
	}})
}

func traceIDFromContext(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// LogSender writes notifications to the log. Used when no push transport
// is configured.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender builds a sender that only logs.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send logs the notification.
func (s *LogSender) Send(_ context.Context, n domain.Notification) error {
	s.logger.Info("notification",
		zap.String("user_id", n.UserID.String()),
		zap.String("title", n.Title),
		zap.String("body", n.Body))
	return nil
}
