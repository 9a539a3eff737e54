package extract

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wolfman30/schedule-notify/internal/queue"
)

// QueuePublisher publishes extraction jobs as JSON onto the extraction queue.
type QueuePublisher struct {
	publisher *queue.Publisher
}

// NewQueuePublisher wraps a queue client.
func NewQueuePublisher(client queue.Client) *QueuePublisher {
	return &QueuePublisher{publisher: queue.NewPublisher(client)}
}

func (p *QueuePublisher) PublishExtract(ctx context.Context, job Job) error {
	return p.publisher.Publish(ctx, job)
}

// DecodeJob parses a queue message body into a Job.
func DecodeJob(body string) (Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return Job{}, fmt.Errorf("extract: decode job: %w", err)
	}
	return job, nil
}

// mergeErpParams overlays the send-setting parameters on the setting parameters.
// Non-object values are ignored; the overlay wins on key conflicts.
func mergeErpParams(base, overlay json.RawMessage) json.RawMessage {
	merged := map[string]any{}
	for _, raw := range []json.RawMessage{base, overlay} {
		if len(raw) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		for k, v := range m {
			merged[k] = v
		}
	}
	if len(merged) == 0 {
		return nil
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil
	}
	return out
}
