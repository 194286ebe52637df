// ABOUTME: Package documentation for the gateway engine
// ABOUTME: Explains the supervisor, session, heartbeat, and dispatch split

// Package gateway maintains the bot's persistent socket connection to the
// chat platform.
//
// The package splits the connection lifecycle into four cooperating pieces:
//
//   - Supervisor owns the outer loop: resolve the socket URL, dial, run the
//     handshake, and on any teardown retry with capped exponential backoff.
//     The backoff resets only after a connection has stayed up past a grace
//     window, so a flapping link keeps escalating. The single fatal condition
//     is an authentication rejection (ErrAuth); everything else reconnects.
//
//   - Session is the state machine: the connection phase plus the durable
//     session identity (session id and last-seen sequence). The identity is
//     persisted through a store.SessionStore so a restarted process can
//     resume instead of re-identifying. Persistence is best-effort: a failing
//     store degrades the session to memory-only tracking and never tears the
//     connection down.
//
//   - heartbeater sends a liveness beat at the server-announced interval and
//     watches for acknowledgements. A beat left unacknowledged past the
//     tolerance window declares the connection dead, exactly once, and the
//     supervisor reconnects with the session still resumable.
//
//   - dispatcher routes inbound frames by opcode: advancing the sequence,
//     feeding acks and beat requests to the heartbeater, translating
//     RECONNECT and INVALID_SESSION into teardown decisions, and forwarding
//     business events to an EventHandler. Handler failures are logged and
//     never reach the connection loop; unrecognized opcodes and event types
//     are ignored.
//
// Wire format: every frame is a JSON envelope {"op", "d", "s", "t"}. The
// engine interprets only the envelope and the handshake/session payloads; all
// other payloads pass through as raw JSON.
package gateway
