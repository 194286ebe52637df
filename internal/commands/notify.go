// ABOUTME: Processor decorator posting conversion outcomes back to the channel
// ABOUTME: Success and terminal failure post a message; retried attempts stay silent

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/harborbot/harbor/internal/store"
	"github.com/harborbot/harbor/internal/workers"
)

// Messenger posts a plain text message to a channel. *api.Client satisfies it.
type Messenger interface {
	SendMessage(ctx context.Context, channelID, content string) error
}

// ResultNotifier wraps a conversion processor and reports the outcome to the
// channel that asked for the job. A success posts one message carrying the
// converter's note; a failure posts only once the job is out of retries, so
// a flaky attempt does not spam the channel. Posting is best-effort: a failed
// notification is logged and never changes the job's outcome.
type ResultNotifier struct {
	inner     workers.Processor
	messenger Messenger
	logger    *slog.Logger
}

// NewResultNotifier wraps inner so conversion outcomes reach the channel
// named in the job payload.
func NewResultNotifier(inner workers.Processor, messenger Messenger, logger *slog.Logger) *ResultNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultNotifier{
		inner:     inner,
		messenger: messenger,
		logger:    logger.With("component", "notifier"),
	}
}

func (n *ResultNotifier) Process(ctx context.Context, job *store.Job) (string, error) {
	note, err := n.inner.Process(ctx, job)

	var payload ConvertPayload
	if decodeErr := json.Unmarshal(job.Payload, &payload); decodeErr != nil || payload.ChannelID == "" {
		return note, err
	}

	switch {
	case err == nil:
		content := fmt.Sprintf("Done! Your %s conversion finished.", payload.Target)
		if note != "" {
			content = fmt.Sprintf("Done! Your %s conversion finished: %s", payload.Target, note)
		}
		n.post(ctx, job.ID, payload.ChannelID, content)
	case job.RetryCount+1 >= store.MaxJobRetries:
		n.post(ctx, job.ID, payload.ChannelID,
			fmt.Sprintf("Sorry, your %s conversion failed and won't be retried.", payload.Target))
	}
	return note, err
}

func (n *ResultNotifier) post(ctx context.Context, jobID, channelID, content string) {
	if err := n.messenger.SendMessage(ctx, channelID, content); err != nil {
		n.logger.Warn("posting conversion result failed",
			"job_id", jobID, "channel_id", channelID, "error", err)
	}
}
