// ABOUTME: The ahoy command, a liveness check that replies immediately

package commands

import (
	"context"

	"github.com/harborbot/harbor/internal/api"
)

// AhoyCommand replies with a greeting. Useful for checking the bot is alive
// end to end without queueing any work.
type AhoyCommand struct{}

func (AhoyCommand) Definition() api.CommandDefinition {
	return api.CommandDefinition{
		Name:        "ahoy",
		Description: "Check that the bot is awake",
	}
}

func (AhoyCommand) Handle(ctx context.Context, inter *Interaction) (string, error) {
	if name := inter.Username(); name != "" {
		return "Ahoy, " + name + "!", nil
	}
	return "Ahoy!", nil
}
