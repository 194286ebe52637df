// ABOUTME: Frame dispatcher: decodes inbound frames by type tag and routes them
// ABOUTME: Advances the sequence, feeds the heartbeater, and forwards business events

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/harborbot/harbor/internal/store"
)

// EventHandler receives decoded business event payloads. Implementations are
// external collaborators (the command registry); their failures are logged
// and never propagate into the connection loop.
type EventHandler interface {
	HandleEvent(ctx context.Context, eventType string, data json.RawMessage) error
}

// Teardown-control sentinels returned by dispatch. The supervisor inspects
// these to classify how the connection should end.
var (
	errReconnectRequested = errors.New("server requested reconnect")
	errSessionInvalidated = errors.New("server invalidated session")
)

// dispatcher routes one connection's inbound frames.
type dispatcher struct {
	session *Session
	hb      *heartbeater
	handler EventHandler
	logger  *slog.Logger
}

// dispatch processes one frame. A non-nil return means the connection must be
// torn down: either a protocol error or one of the teardown sentinels.
func (d *dispatcher) dispatch(ctx context.Context, f *Frame) error {
	switch f.Op {
	case OpDispatch:
		return d.dispatchEvent(ctx, f)

	case OpHeartbeat:
		// Server asked for an immediate beat, outside the normal cycle.
		d.hb.requestBeat()
		return nil

	case OpReconnect:
		// Server wants us to drop and resume elsewhere.
		d.session.MarkResumable(true)
		return errReconnectRequested

	case OpInvalidSession:
		return d.invalidSession(ctx, f)

	case OpHello:
		// Hello is only valid as the first frame; the supervisor consumes
		// it before this dispatcher sees any traffic.
		return engineErr(ErrProtocol, d.session.Phase(), "dispatch",
			errors.New("unexpected HELLO after handshake"))

	case OpHeartbeatAck:
		d.hb.ack()
		return nil

	default:
		// Unrecognized tags are logged and ignored, never fatal.
		d.logger.Debug("ignoring unrecognized frame", "op", int(f.Op))
		return nil
	}
}

// dispatchEvent handles an event-carrying frame: advance and persist the
// sequence, then route the payload.
func (d *dispatcher) dispatchEvent(ctx context.Context, f *Frame) error {
	if f.S != nil {
		if err := d.session.UpdateSequence(ctx, *f.S); err != nil {
			return err
		}
	}

	switch f.T {
	case EventReady:
		var ready readyData
		if err := json.Unmarshal(f.D, &ready); err != nil {
			return engineErr(ErrProtocol, d.session.Phase(), "decode READY", err)
		}
		if ready.SessionID == "" {
			return engineErr(ErrProtocol, d.session.Phase(), "decode READY",
				errors.New("missing session_id"))
		}
		d.session.HandleReady(ctx, ready.SessionID, f.S)
		return nil

	case EventResumed:
		d.session.HandleResumed(ctx)
		return nil

	default:
		d.logger.Debug("event received", "type", f.T, "seq", f.S)
		if d.handler == nil {
			return nil
		}
		if err := d.handler.HandleEvent(ctx, f.T, f.D); err != nil {
			// Collaborator failures never reach the connection loop.
			d.logger.Error("event handler failed", "type", f.T, "error", err)
		}
		return nil
	}
}

// invalidSession handles OpInvalidSession: the payload is a bool saying
// whether the session may still be resumed.
func (d *dispatcher) invalidSession(ctx context.Context, f *Frame) error {
	var resumable bool
	if err := json.Unmarshal(f.D, &resumable); err != nil {
		return engineErr(ErrProtocol, d.session.Phase(), "decode INVALID_SESSION", err)
	}

	d.session.AppendEvent(ctx, store.SessionEventInvalidSession)
	d.session.MarkResumable(resumable)
	if !resumable {
		d.session.Clear(ctx)
	}

	return fmt.Errorf("%w (resumable=%t)", errSessionInvalidated, resumable)
}
