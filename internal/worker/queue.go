// Package worker consumes inbound message jobs and drives the dialogue.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-concierge/internal/messaging"
)

// Queue is the job transport between the webhook and the workers.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
	// Redelivers reports whether an undeleted message comes back later.
	Redelivers() bool
}

type QueueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// Job is one inbound message waiting to be processed.
type Job struct {
	ID         string            `json:"id"`
	Message    messaging.Inbound `json:"message"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

// Publisher encodes jobs onto a queue.
type Publisher struct {
	queue Queue
	now   func() time.Time
}

func NewPublisher(queue Queue) *Publisher {
	if queue == nil {
		panic("worker: queue cannot be nil")
	}
	return &Publisher{queue: queue, now: time.Now}
}

// Enqueue publishes one job per inbound message.
func (p *Publisher) Enqueue(ctx context.Context, msg messaging.Inbound) (string, error) {
	job := Job{ID: uuid.NewString(), Message: msg, EnqueuedAt: p.now().UTC()}
	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("worker: encode job: %w", err)
	}
	if err := p.queue.Send(ctx, string(body)); err != nil {
		return "", fmt.Errorf("worker: enqueue job: %w", err)
	}
	return job.ID, nil
}

func decodeJob(body string) (Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return Job{}, fmt.Errorf("worker: decode job: %w", err)
	}
	return job, nil
}
