package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/clinic-concierge/internal/dialogue"
	"github.com/wolfman30/clinic-concierge/internal/messaging"
	"github.com/wolfman30/clinic-concierge/internal/observability/metrics"
	"github.com/wolfman30/clinic-concierge/internal/session"
	"github.com/wolfman30/clinic-concierge/pkg/logging"
)

// Processor runs one dialogue turn.
type Processor interface {
	Process(ctx context.Context, in dialogue.Inbound) (dialogue.Reply, error)
}

// Replier delivers a reply, possibly as several paced messages.
type Replier interface {
	Send(ctx context.Context, phoneNumberID, to, reply string) int
}

// MediaFetcher downloads an inbound attachment.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, mediaID string) ([]byte, string, error)
}

// Transcriber turns a voice note into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	defaultJobTimeout    = 2 * time.Minute
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	jobTimeout       time.Duration
	humanPhone       string
	media            MediaFetcher
	transcriber      Transcriber
	metrics          *metrics.MessagingMetrics
}

// Option customizes worker behavior.
type Option func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) Option {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) Option {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) Option {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithJobTimeout bounds the time spent on a single message.
func WithJobTimeout(d time.Duration) Option {
	return func(cfg *workerConfig) {
		if d > 0 {
			cfg.jobTimeout = d
		}
	}
}

// WithHumanPhone sets the number quoted when the assistant cannot answer.
func WithHumanPhone(phone string) Option {
	return func(cfg *workerConfig) {
		cfg.humanPhone = strings.TrimSpace(phone)
	}
}

// WithVoiceNotes enables transcription of audio messages.
func WithVoiceNotes(media MediaFetcher, transcriber Transcriber) Option {
	return func(cfg *workerConfig) {
		cfg.media = media
		cfg.transcriber = transcriber
	}
}

func WithMetrics(m *metrics.MessagingMetrics) Option {
	return func(cfg *workerConfig) {
		cfg.metrics = m
	}
}

// Worker consumes inbound message jobs, runs the dialogue and sends replies.
type Worker struct {
	processor Processor
	queue     Queue
	replier   Replier
	logger    *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

func New(processor Processor, queue Queue, replier Replier, logger *logging.Logger, opts ...Option) *Worker {
	if processor == nil {
		panic("worker: processor cannot be nil")
	}
	if queue == nil {
		panic("worker: queue cannot be nil")
	}
	if replier == nil {
		panic("worker: replier cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		jobTimeout:       defaultJobTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{
		processor: processor,
		queue:     queue,
		replier:   replier,
		logger:    logger.Component("worker"),
		cfg:       cfg,
	}
}

// Start launches the consumer goroutines. They exit when ctx is done.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("message worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("message worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive message jobs", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg QueueMessage) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("message job panicked", "panic", fmt.Sprint(r), "msg_id", msg.ID, "stack", string(debug.Stack()))
			w.deleteMessage(context.Background(), msg.ReceiptHandle)
		}
	}()

	job, err := decodeJob(msg.Body)
	if err != nil {
		w.logger.Error("failed to decode message job", "error", err)
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}
	in := job.Message
	log := w.logger.With("job_id", job.ID, "from", in.From, "message_id", in.ID)

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.jobTimeout)
	defer cancel()

	text := in.Text
	if in.IsAudio() {
		transcript, err := w.transcribe(jobCtx, in)
		if err != nil {
			log.Warn("voice note transcription failed", "error", err)
			w.cfg.metrics.ObserveInbound(in.Type, "transcription_failed")
			w.replier.Send(jobCtx, in.TenantKey, in.From, dialogue.TranscriptionFailedReply())
			w.deleteMessage(context.Background(), msg.ReceiptHandle)
			return
		}
		text = transcript
	}

	reply, err := w.processor.Process(jobCtx, dialogue.Inbound{
		Identity:  in.From,
		TenantKey: in.TenantKey,
		Text:      text,
		MessageID: in.ID,
		At:        in.ReceivedAt,
	})
	if err != nil {
		if errors.Is(err, session.ErrUnavailable) && w.queue.Redelivers() {
			// Leave the message on the queue; it comes back after the visibility timeout.
			log.Error("session store unavailable, job left for redelivery", "error", err)
			w.cfg.metrics.ObserveInbound(in.Type, "retry")
			return
		}
		log.Error("dialogue turn failed", "error", err)
		w.cfg.metrics.ObserveInbound(in.Type, "error")
		w.replier.Send(jobCtx, in.TenantKey, in.From, dialogue.UnavailableReply(w.cfg.humanPhone))
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}

	if reply.Suppressed || strings.TrimSpace(reply.Text) == "" {
		log.Info("reply suppressed", "outcome", reply.Outcome, "stage", reply.Stage)
		w.cfg.metrics.ObserveInbound(in.Type, "suppressed")
	} else {
		sent := w.replier.Send(jobCtx, in.TenantKey, in.From, reply.Text)
		log.Info("reply sent", "outcome", reply.Outcome, "stage", reply.Stage, "intent", reply.Intent, "parts", sent)
		w.cfg.metrics.ObserveInbound(in.Type, "processed")
	}
	w.deleteMessage(context.Background(), msg.ReceiptHandle)
}

func (w *Worker) transcribe(ctx context.Context, in messaging.Inbound) (string, error) {
	if w.cfg.media == nil || w.cfg.transcriber == nil {
		return "", errors.New("worker: voice notes not configured")
	}
	audio, mimeType, err := w.cfg.media.FetchMedia(ctx, in.MediaID)
	if err != nil {
		return "", err
	}
	if mimeType == "" {
		mimeType = in.MimeType
	}
	text, err := w.cfg.transcriber.Transcribe(ctx, audio, mimeType)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("worker: empty transcript")
	}
	return text, nil
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}

	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()

	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete message job", "error", err)
	}
}
