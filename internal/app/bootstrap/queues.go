package bootstrap

import (
	"errors"
	"fmt"

	appconfig "github.com/wolfman30/schedule-notify/internal/config"
	"github.com/wolfman30/schedule-notify/internal/queue"
)

const memoryQueueBuffer = 256

// Queues groups the four queues the services exchange work through.
// ChannelEventsSource labels dedup rows for events read from ChannelEvents.
type Queues struct {
	Extract             queue.Client
	Send                queue.Client
	ActiveSchedule      queue.Client
	ChannelEvents       queue.Client
	ChannelEventsSource string
	Memory              bool
}

// BuildQueues selects in-memory, SQS or Kafka transports from cfg. The SQS
// client may be nil when every queue is in memory or on Kafka.
func BuildQueues(cfg *appconfig.Config, sqsClient queue.SQSAPI) (Queues, error) {
	if cfg == nil {
		return Queues{}, errors.New("bootstrap: config is required")
	}
	if cfg.UseMemoryQueue {
		return Queues{
			Extract:             queue.NewMemoryQueue(memoryQueueBuffer),
			Send:                queue.NewMemoryQueue(memoryQueueBuffer),
			ActiveSchedule:      queue.NewMemoryQueue(memoryQueueBuffer),
			ChannelEvents:       queue.NewMemoryQueue(memoryQueueBuffer),
			ChannelEventsSource: "memory",
			Memory:              true,
		}, nil
	}
	if sqsClient == nil {
		return Queues{}, errors.New("bootstrap: sqs client is required when memory queues are disabled")
	}

	q := Queues{}
	var err error
	if q.Extract, err = sqsQueue(sqsClient, "EXTRACT_QUEUE_URL", cfg.ExtractQueueURL); err != nil {
		return Queues{}, err
	}
	if q.Send, err = sqsQueue(sqsClient, "SEND_QUEUE_URL", cfg.SendQueueURL); err != nil {
		return Queues{}, err
	}
	if q.ActiveSchedule, err = sqsQueue(sqsClient, "ACTIVE_SCHEDULE_QUEUE_URL", cfg.ActiveScheduleQueueURL); err != nil {
		return Queues{}, err
	}

	switch cfg.ChannelEventsSource {
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return Queues{}, errors.New("bootstrap: KAFKA_BROKERS is required for kafka channel events")
		}
		q.ChannelEvents = queue.NewKafkaQueue(cfg.KafkaBrokers, cfg.KafkaChannelEventsTopic, cfg.KafkaGroupID)
		q.ChannelEventsSource = "kafka"
	case "", "sqs":
		if q.ChannelEvents, err = sqsQueue(sqsClient, "CHANNEL_EVENTS_QUEUE_URL", cfg.ChannelEventsQueueURL); err != nil {
			return Queues{}, err
		}
		q.ChannelEventsSource = "sqs"
	default:
		return Queues{}, fmt.Errorf("bootstrap: unknown channel events source %q", cfg.ChannelEventsSource)
	}
	return q, nil
}

func sqsQueue(client queue.SQSAPI, name, url string) (queue.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("bootstrap: %s is required", name)
	}
	return queue.NewSQSQueue(client, url), nil
}
