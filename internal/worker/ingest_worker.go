package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"textbook-rag/internal/app"
	"textbook-rag/internal/model"
	"textbook-rag/internal/platform/rabbitmq"
)

type Ingester interface {
	Ingest(ctx context.Context, in app.IngestInput) (*app.IngestResult, error)
}

type Requeuer interface {
	Publish(ctx context.Context, job model.IngestJob, attempt int) error
}

type Options struct {
	Prefetch    int
	MaxRequeues int
	RequeueWait time.Duration
}

// IngestWorker consumes queued ingestion jobs. Content errors are dropped,
// transient upstream failures are republished with a bumped attempt count
// until MaxRequeues is reached.
type IngestWorker struct {
	conn      *amqp.Connection
	ingest    Ingester
	requeue   Requeuer
	queueName string
	opts      Options
	logger    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestWorker(conn *amqp.Connection, ingest Ingester, requeue Requeuer, queueName string, opts Options, logger *slog.Logger) *IngestWorker {
	if opts.Prefetch <= 0 {
		opts.Prefetch = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestWorker{
		conn:      conn,
		ingest:    ingest,
		requeue:   requeue,
		queueName: queueName,
		opts:      opts,
		logger:    logger.With("component", "ingest_worker"),
	}
}

func (w *IngestWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if _, err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}
	// Prefetch bounds in-flight jobs per consumer, so a backlog stays queued.
	if err := ch.Qos(w.opts.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	for i := 0; i < w.opts.Prefetch; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					w.settle(d, w.handle(workerCtx, d.Body, rabbitmq.Attempt(d.Headers)))
				}
			}
		}()
	}

	go func() {
		w.wg.Wait()
		_ = ch.Close()
	}()
	return nil
}

func (w *IngestWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeDrop
	outcomeRetry
)

func (w *IngestWorker) settle(d amqp.Delivery, o outcome) {
	var err error
	switch o {
	case outcomeAck:
		err = d.Ack(false)
	case outcomeDrop:
		err = d.Nack(false, false)
	case outcomeRetry:
		err = d.Nack(false, true)
	}
	if err != nil {
		w.logger.Error("settle delivery failed", "err", err)
	}
}

func (w *IngestWorker) handle(ctx context.Context, body []byte, attempt int) outcome {
	var job model.IngestJob
	if err := json.Unmarshal(body, &job); err != nil {
		w.logger.Error("decode ingest job failed", "err", err)
		return outcomeDrop
	}
	log := w.logger.With("job_id", job.JobID, "source_id", job.SourceID, "attempt", attempt)

	res, err := w.ingest.Ingest(ctx, app.IngestInput{
		SourceID: job.SourceID,
		Text:     job.Text,
		Language: job.Language,
		Sections: job.Sections,
	})
	switch {
	case err == nil:
		log.Info("ingest job done", "chunks", res.ChunksWritten)
		return outcomeAck
	case ctx.Err() != nil:
		// Shutting down; let the broker redeliver.
		return outcomeRetry
	case errors.Is(err, app.ErrContent):
		log.Warn("ingest job rejected", "err", err)
		return outcomeAck
	case app.IsTransient(err):
		if attempt > w.opts.MaxRequeues {
			log.Error("ingest job gave up", "err", err)
			return outcomeDrop
		}
		if err := sleep(ctx, w.opts.RequeueWait); err != nil {
			return outcomeRetry
		}
		if pubErr := w.requeue.Publish(ctx, job, attempt+1); pubErr != nil {
			log.Error("requeue ingest job failed", "err", pubErr)
			return outcomeRetry
		}
		log.Warn("ingest job requeued", "err", err)
		return outcomeAck
	default:
		log.Error("ingest job failed", "err", err)
		return outcomeDrop
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
