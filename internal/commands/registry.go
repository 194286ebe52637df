// ABOUTME: Slash command registry: routes interactions to handlers
// ABOUTME: Implements the gateway's EventHandler so it can sit behind the dispatcher

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/harborbot/harbor/internal/api"
)

// Handler is one slash command: its registration payload and its behavior.
type Handler interface {
	Definition() api.CommandDefinition
	Handle(ctx context.Context, inter *Interaction) (reply string, err error)
}

// Responder is the REST surface the registry needs. *api.Client satisfies it.
type Responder interface {
	RespondToInteraction(ctx context.Context, interactionID, interactionToken, content string) error
	ApplicationID(ctx context.Context) (string, error)
	RegisterCommands(ctx context.Context, appID string, commands []api.CommandDefinition) error
}

// Registry holds the command set and dispatches INTERACTION_CREATE events to
// the matching handler.
type Registry struct {
	responder Responder
	logger    *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry(responder Responder, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		responder: responder,
		logger:    logger.With("component", "commands"),
		handlers:  make(map[string]Handler),
	}
}

// Register adds a handler, replacing any previous one with the same name.
func (r *Registry) Register(h Handler) {
	def := h.Definition()
	r.mu.Lock()
	r.handlers[def.Name] = h
	r.mu.Unlock()
}

// Definitions returns the registration payloads, sorted by name.
func (r *Registry) Definitions() []api.CommandDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]api.CommandDefinition, 0, len(r.handlers))
	for _, h := range r.handlers {
		defs = append(defs, h.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Resync replaces the application's registered command set with the current
// handlers.
func (r *Registry) Resync(ctx context.Context) error {
	appID, err := r.responder.ApplicationID(ctx)
	if err != nil {
		return fmt.Errorf("resolving application id: %w", err)
	}

	defs := r.Definitions()
	if err := r.responder.RegisterCommands(ctx, appID, defs); err != nil {
		return err
	}
	r.logger.Info("command set synced", "count", len(defs))
	return nil
}

// HandleEvent routes gateway events. Only INTERACTION_CREATE is interpreted;
// everything else is ignored.
func (r *Registry) HandleEvent(ctx context.Context, eventType string, data json.RawMessage) error {
	if eventType != "INTERACTION_CREATE" {
		return nil
	}

	var inter Interaction
	if err := json.Unmarshal(data, &inter); err != nil {
		return fmt.Errorf("decoding interaction: %w", err)
	}
	if inter.Type != interactionApplicationCmd {
		return nil
	}

	name := inter.Data.Name
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn("interaction for unregistered command", "command", name)
		return r.respond(ctx, &inter, fmt.Sprintf("Unknown command: %s", name))
	}

	r.logger.Info("command invoked", "command", name, "user", inter.Username())

	reply, err := h.Handle(ctx, &inter)
	if err != nil {
		r.logger.Error("command failed", "command", name, "error", err)
		if respondErr := r.respond(ctx, &inter, "Something went wrong, try again later."); respondErr != nil {
			return respondErr
		}
		return err
	}
	return r.respond(ctx, &inter, reply)
}

func (r *Registry) respond(ctx context.Context, inter *Interaction, content string) error {
	if err := r.responder.RespondToInteraction(ctx, inter.ID, inter.Token, content); err != nil {
		return fmt.Errorf("responding to interaction %s: %w", inter.ID, err)
	}
	return nil
}
