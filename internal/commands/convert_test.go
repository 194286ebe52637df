// ABOUTME: Tests for the conversion commands and their job payloads

package commands

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborbot/harbor/internal/store"
)

func convertInteraction(name, url string) *Interaction {
	raw := `{
		"id": "i-1",
		"type": 2,
		"token": "tok-i",
		"channel_id": "chan-1",
		"data": {
			"name": "` + name + `",
			"options": [{"name": "url", "value": "` + url + `"}]
		},
		"member": {"user": {"id": "u1", "username": "cap"}}
	}`
	var inter Interaction
	if err := json.Unmarshal([]byte(raw), &inter); err != nil {
		panic(err)
	}
	return &inter
}

func TestBLPCommandEnqueuesJob(t *testing.T) {
	ctx := context.Background()
	st := store.NewMockStore()
	cmd := NewBLPCommand(st)

	reply, err := cmd.Handle(ctx, convertInteraction("blp", "https://example.com/i.png"))
	require.NoError(t, err)
	assert.Contains(t, reply, "queued")

	job, err := st.ClaimNextJob(ctx, JobKindBLP, "w-test")
	require.NoError(t, err)

	var payload ConvertPayload
	require.NoError(t, json.Unmarshal(job.Payload, &payload))
	assert.Equal(t, "https://example.com/i.png", payload.URL)
	assert.Equal(t, "blp", payload.Target)
	assert.Equal(t, "chan-1", payload.ChannelID)
	assert.Equal(t, "cap", payload.User)
}

func TestPNGCommandSharesConverterQueue(t *testing.T) {
	ctx := context.Background()
	st := store.NewMockStore()
	cmd := NewPNGCommand(st)

	_, err := cmd.Handle(ctx, convertInteraction("png", "https://example.com/t.blp"))
	require.NoError(t, err)

	// png jobs ride the blp queue; the target field tells them apart.
	job, err := st.ClaimNextJob(ctx, JobKindBLP, "w-test")
	require.NoError(t, err)

	var payload ConvertPayload
	require.NoError(t, json.Unmarshal(job.Payload, &payload))
	assert.Equal(t, "png", payload.Target)
}

func TestRembgCommandUsesOwnQueue(t *testing.T) {
	ctx := context.Background()
	st := store.NewMockStore()
	cmd := NewRembgCommand(st)

	_, err := cmd.Handle(ctx, convertInteraction("rembg", "https://example.com/i.png"))
	require.NoError(t, err)

	_, err = st.ClaimNextJob(ctx, JobKindBLP, "w-test")
	assert.ErrorIs(t, err, store.ErrNotFound)

	job, err := st.ClaimNextJob(ctx, JobKindRembg, "w-test")
	require.NoError(t, err)
	assert.Equal(t, JobKindRembg, job.Kind)
}

func TestConvertCommandWithoutURLPrompts(t *testing.T) {
	ctx := context.Background()
	st := store.NewMockStore()
	cmd := NewBLPCommand(st)

	inter := convertInteraction("blp", "x")
	inter.Data.Options = nil

	reply, err := cmd.Handle(ctx, inter)
	require.NoError(t, err)
	assert.Contains(t, reply, "link")

	count, err := st.CountJobs(ctx, JobKindBLP, store.JobStatusPending)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestConvertCommandDefinitionRequiresURL(t *testing.T) {
	cmd := NewBLPCommand(store.NewMockStore())
	def := cmd.Definition()

	assert.Equal(t, "blp", def.Name)
	require.Len(t, def.Options, 1)
	assert.Equal(t, "url", def.Options[0].Name)
	assert.True(t, def.Options[0].Required)
}
