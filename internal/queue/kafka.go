package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaReader is the subset of *kafka.Reader used by KafkaQueue.
type KafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaWriter is the subset of *kafka.Writer used by KafkaQueue.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaQueue adapts a consumer-group topic to Client. Messages are committed on Delete.
type KafkaQueue struct {
	reader KafkaReader
	writer KafkaWriter

	mu      sync.Mutex
	pending map[string]kafka.Message
}

// NewKafkaQueue builds a reader and writer for topic using the given consumer group.
func NewKafkaQueue(brokers []string, topic, groupID string) *KafkaQueue {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	return newKafkaQueue(reader, writer)
}

func newKafkaQueue(reader KafkaReader, writer KafkaWriter) *KafkaQueue {
	return &KafkaQueue{
		reader:  reader,
		writer:  writer,
		pending: make(map[string]kafka.Message),
	}
}

func (q *KafkaQueue) Send(ctx context.Context, body string) error {
	if q.writer == nil {
		return errors.New("queue: kafka writer not configured")
	}
	if err := q.writer.WriteMessages(ctx, kafka.Message{Value: []byte(body)}); err != nil {
		return fmt.Errorf("queue: failed to write kafka message: %w", err)
	}
	return nil
}

// Receive fetches up to maxMessages, waiting at most waitSeconds for the first one.
func (q *KafkaQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	fetchCtx := ctx
	if waitSeconds > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, time.Duration(waitSeconds)*time.Second)
		defer cancel()
	}

	messages := make([]Message, 0, maxMessages)
	for len(messages) < maxMessages {
		km, err := q.reader.FetchMessage(fetchCtx)
		if err != nil {
			if ctx.Err() != nil {
				return messages, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return messages, nil
			}
			return messages, fmt.Errorf("queue: failed to fetch kafka message: %w", err)
		}
		handle := receiptHandle(km)
		q.mu.Lock()
		q.pending[handle] = km
		q.mu.Unlock()
		messages = append(messages, Message{
			ID:            handle,
			Body:          string(km.Value),
			ReceiptHandle: handle,
		})
	}
	return messages, nil
}

func (q *KafkaQueue) Delete(ctx context.Context, handle string) error {
	q.mu.Lock()
	km, ok := q.pending[handle]
	delete(q.pending, handle)
	q.mu.Unlock()
	if !ok {
		return nil
	}
	if err := q.reader.CommitMessages(ctx, km); err != nil {
		return fmt.Errorf("queue: failed to commit kafka message: %w", err)
	}
	return nil
}

// Close releases the reader and writer.
func (q *KafkaQueue) Close() error {
	var errs []error
	if q.reader != nil {
		errs = append(errs, q.reader.Close())
	}
	if q.writer != nil {
		errs = append(errs, q.writer.Close())
	}
	return errors.Join(errs...)
}

func receiptHandle(m kafka.Message) string {
	return strings.Join([]string{m.Topic, strconv.Itoa(m.Partition), strconv.FormatInt(m.Offset, 10)}, ":")
}
