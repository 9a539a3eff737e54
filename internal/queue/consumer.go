package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/schedule-notify/pkg/logging"
)

// Handler processes one message body. Errors are logged by the Consumer and the
// message is still deleted; handlers own their own retry semantics.
type Handler func(ctx context.Context, msg Message) error

// Consumer polls a Client with a pool of goroutines.
type Consumer struct {
	name    string
	queue   Client
	handler Handler
	logger  *logging.Logger

	cfg consumerConfig
	wg  sync.WaitGroup
}

type consumerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
}

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

// ConsumerOption customizes consumer behavior.
type ConsumerOption func(*consumerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) ConsumerOption {
	return func(cfg *consumerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) ConsumerOption {
	return func(cfg *consumerConfig) {
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
func WithReceiveBatchSize(size int) ConsumerOption {
	return func(cfg *consumerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// NewConsumer wires handler to queue.
func NewConsumer(name string, queue Client, handler Handler, logger *logging.Logger, opts ...ConsumerOption) *Consumer {
	if queue == nil {
		panic("queue: consumer queue cannot be nil")
	}
	if handler == nil {
		panic("queue: consumer handler cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := consumerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Consumer{
		name:    name,
		queue:   queue,
		handler: handler,
		logger:  logger.With("consumer", name),
		cfg:     cfg,
	}
}

// Start launches the worker goroutines; they stop when ctx is canceled.
func (c *Consumer) Start(ctx context.Context) {
	for i := 0; i < c.cfg.workers; i++ {
		c.wg.Add(1)
		go c.run(ctx, i+1)
	}
}

// Wait blocks until every worker goroutine has returned.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) run(ctx context.Context, workerID int) {
	defer c.wg.Done()
	c.logger.Debug("queue consumer started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("queue consumer stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := c.queue.Receive(ctx, c.cfg.receiveBatchSize, c.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			c.logger.Error("failed to receive queue messages", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			c.HandleMessage(ctx, msg)
		}
	}
}

// HandleMessage runs the handler for one message and deletes it afterwards.
func (c *Consumer) HandleMessage(ctx context.Context, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("queue handler panicked", "message_id", msg.ID, "panic", r)
			c.deleteMessage(ctx, msg.ReceiptHandle)
		}
	}()
	if err := c.handler(ctx, msg); err != nil {
		c.logger.Error("queue handler failed", "message_id", msg.ID, "error", err)
	}
	c.deleteMessage(ctx, msg.ReceiptHandle)
}

func (c *Consumer) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := c.queue.Delete(deleteCtx, receiptHandle); err != nil {
		c.logger.Error("failed to delete queue message", "error", err)
	}
}
