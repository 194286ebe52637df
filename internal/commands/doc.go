// ABOUTME: Package documentation for the slash command registry

// Package commands implements the bot's slash commands.
//
// The Registry is the bridge between the gateway and the REST API: it
// satisfies the gateway's EventHandler interface, decodes INTERACTION_CREATE
// payloads, and routes them to the Handler registered under the command's
// name. Handlers reply with a string that the registry sends back through the
// interaction callback; conversion commands additionally enqueue a job for
// the worker pools and reply before the work happens. The ResultNotifier
// closes the loop on the worker side, posting each job's outcome back to the
// channel named in its payload.
package commands
