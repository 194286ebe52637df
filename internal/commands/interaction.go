// ABOUTME: Decoded slash command invocation payloads
// ABOUTME: Only the fields the handlers need; everything else stays on the floor

package commands

import "encoding/json"

// Interaction type tags from the platform.
const (
	interactionPing           = 1
	interactionApplicationCmd = 2
)

// InteractionOption is one argument the user supplied.
type InteractionOption struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

// Interaction is an INTERACTION_CREATE payload, trimmed to what the command
// handlers consume.
type Interaction struct {
	ID        string `json:"id"`
	Type      int    `json:"type"`
	Token     string `json:"token"`
	ChannelID string `json:"channel_id"`
	Data      struct {
		Name    string              `json:"name"`
		Options []InteractionOption `json:"options"`
	} `json:"data"`
	Member *struct {
		User struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"user"`
	} `json:"member"`
}

// StringOption returns the named option decoded as a string.
func (i *Interaction) StringOption(name string) (string, bool) {
	for _, opt := range i.Data.Options {
		if opt.Name != name {
			continue
		}
		var s string
		if err := json.Unmarshal(opt.Value, &s); err != nil {
			return "", false
		}
		return s, true
	}
	return "", false
}

// Username returns the invoking user's name, if the payload carried one.
func (i *Interaction) Username() string {
	if i.Member == nil {
		return ""
	}
	return i.Member.User.Username
}
