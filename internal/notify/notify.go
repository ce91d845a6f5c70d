// Package notify hands issued magic links off for out-of-band delivery.
// Delivery is best-effort from the API's point of view: a failing notifier is
// logged for operators but never aborts session issuance.
package notify

import (
	"context"
	"log/slog"

	"github.com/bridgecall/bridgecall/internal/queue"
)

// Notifier delivers a magic link to a user out-of-band.
type Notifier interface {
	Notify(ctx context.Context, email, link string, ttlMinutes int) error
}

// LogNotifier is the development notifier: no mail infrastructure, delivery
// is a log line. The link only appears at debug level.
type LogNotifier struct{}

// Notify records the issuance; operators running with debug logging can copy
// the link locally.
func (LogNotifier) Notify(ctx context.Context, email, link string, ttlMinutes int) error {
	slog.Info("magic link issued", "email", email, "ttl_minutes", ttlMinutes)
	slog.Debug("magic link", "email", email, "link", link)
	return nil
}

// QueueNotifier publishes delivery jobs to the mail queue; the mailer worker
// consumes them and sends the actual email.
type QueueNotifier struct {
	producer *queue.Producer
}

// NewQueueNotifier creates a notifier backed by the given queue connection.
func NewQueueNotifier(conn *queue.Connection) *QueueNotifier {
	return &QueueNotifier{producer: queue.NewProducer(conn)}
}

// Notify enqueues a mail job for the delivery worker.
func (n *QueueNotifier) Notify(ctx context.Context, email, link string, ttlMinutes int) error {
	return n.producer.PublishMailJob(ctx, &queue.MailJob{
		Email:      email,
		Link:       link,
		TTLMinutes: ttlMinutes,
	})
}
