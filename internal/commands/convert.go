// ABOUTME: Image conversion commands that enqueue jobs for the worker pools
// ABOUTME: blp/png share the converter queue; rembg has its own

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harborbot/harbor/internal/api"
	"github.com/harborbot/harbor/internal/store"
)

// Job kinds, matched by the worker pools.
const (
	JobKindBLP   = "blp"
	JobKindRembg = "rembg"
)

// ConvertPayload is the job payload the image processors consume.
type ConvertPayload struct {
	URL       string `json:"url"`
	Target    string `json:"target"` // "blp", "png", or "rembg"
	ChannelID string `json:"channel_id"`
	User      string `json:"user,omitempty"`
}

// ConvertCommand enqueues an image conversion and acknowledges immediately;
// a worker picks the job up and posts the result when done.
type ConvertCommand struct {
	name        string
	description string
	kind        string
	target      string

	jobs store.JobStore
}

// NewBLPCommand converts an image to the BLP texture format.
func NewBLPCommand(jobs store.JobStore) *ConvertCommand {
	return &ConvertCommand{
		name:        "blp",
		description: "Convert an image to BLP",
		kind:        JobKindBLP,
		target:      "blp",
		jobs:        jobs,
	}
}

// NewPNGCommand converts a BLP texture back to PNG.
func NewPNGCommand(jobs store.JobStore) *ConvertCommand {
	return &ConvertCommand{
		name:        "png",
		description: "Convert a BLP texture to PNG",
		kind:        JobKindBLP,
		target:      "png",
		jobs:        jobs,
	}
}

// NewRembgCommand removes the background from an image.
func NewRembgCommand(jobs store.JobStore) *ConvertCommand {
	return &ConvertCommand{
		name:        "rembg",
		description: "Remove the background from an image",
		kind:        JobKindRembg,
		target:      "rembg",
		jobs:        jobs,
	}
}

func (c *ConvertCommand) Definition() api.CommandDefinition {
	return api.CommandDefinition{
		Name:        c.name,
		Description: c.description,
		Options: []api.CommandOption{
			{
				Type:        3, // string
				Name:        "url",
				Description: "Link to the image to convert",
				Required:    true,
			},
		},
	}
}

func (c *ConvertCommand) Handle(ctx context.Context, inter *Interaction) (string, error) {
	url, ok := inter.StringOption("url")
	if !ok || url == "" {
		return "Give me a link to the image, like /" + c.name + " url:<link>", nil
	}

	payload, err := json.Marshal(ConvertPayload{
		URL:       url,
		Target:    c.target,
		ChannelID: inter.ChannelID,
		User:      inter.Username(),
	})
	if err != nil {
		return "", fmt.Errorf("marshaling %s payload: %w", c.name, err)
	}

	job := &store.Job{
		ID:        uuid.New().String(),
		Kind:      c.kind,
		Payload:   payload,
		Status:    store.JobStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.jobs.EnqueueJob(ctx, job); err != nil {
		return "", fmt.Errorf("enqueueing %s job: %w", c.name, err)
	}

	return fmt.Sprintf("On it! Your %s conversion is queued.", c.target), nil
}
