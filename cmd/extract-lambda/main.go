package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/schedule-notify/cmd/mainconfig"
	"github.com/wolfman30/schedule-notify/internal/app/bootstrap"
	appconfig "github.com/wolfman30/schedule-notify/internal/config"
	"github.com/wolfman30/schedule-notify/internal/queue"
	"github.com/wolfman30/schedule-notify/pkg/logging"
)

// handlerSet maps a queue name to its handler.
type handlerSet struct {
	extract        queue.Handler
	activeSchedule queue.Handler
	channelEvents  queue.Handler
}

func (h handlerSet) forQueue(name string) (queue.Handler, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "extract":
		return h.extract, nil
	case "active-schedule":
		return h.activeSchedule, nil
	case "channel-events":
		return h.channelEvents, nil
	default:
		return nil, fmt.Errorf("unknown LAMBDA_QUEUE %q", name)
	}
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx := context.Background()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		panic(err)
	}
	rt, err := bootstrap.Open(ctx, cfg, logger, &awsCfg, prometheus.NewRegistry())
	if err != nil {
		panic(err)
	}

	handlers := handlerSet{
		extract:        rt.Runner.Handle,
		activeSchedule: rt.Runner.HandleActiveSchedule,
		channelEvents:  rt.Dispatcher.QueueHandler("sqs"),
	}
	handler, err := handlers.forQueue(os.Getenv("LAMBDA_QUEUE"))
	if err != nil {
		panic(err)
	}

	lambda.Start(func(ctx context.Context, evt events.SQSEvent) (events.SQSEventResponse, error) {
		return handle(ctx, handler, logger, evt), nil
	})
}

// handle runs every record through handler and reports failed records so SQS
// redelivers only those.
func handle(ctx context.Context, handler queue.Handler, logger *logging.Logger, evt events.SQSEvent) events.SQSEventResponse {
	resp := events.SQSEventResponse{}
	for _, record := range evt.Records {
		msg := queue.Message{
			ID:            record.MessageId,
			Body:          record.Body,
			ReceiptHandle: record.ReceiptHandle,
		}
		if err := handler(ctx, msg); err != nil {
			logger.Error("lambda record failed", "message_id", record.MessageId, "error", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
		}
	}
	return resp
}
