package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Producer publishes mail jobs to the queue
type Producer struct {
	conn *Connection
}

// NewProducer creates a new queue producer
func NewProducer(conn *Connection) *Producer {
	return &Producer{conn: conn}
}

// PublishMailJob publishes a magic-link delivery job to the queue. The link
// itself is never logged.
func (p *Producer) PublishMailJob(ctx context.Context, job *MailJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	if err := p.conn.PublishJSON(ctx, MailQueueName, job); err != nil {
		return fmt.Errorf("failed to publish mail job: %w", err)
	}

	slog.Info("published mail job",
		"job_id", job.ID,
		"email", job.Email,
		"ttl_minutes", job.TTLMinutes,
	)

	return nil
}
