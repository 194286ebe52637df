// ABOUTME: Wire frame types and codecs for the gateway socket protocol
// ABOUTME: Opcodes, the envelope shape, and identify/resume/heartbeat payload builders

package gateway

import (
	"encoding/json"
	"fmt"
)

// Opcode is the numeric frame type tag. Values match the platform's
// documented gateway contract and must not be renumbered.
type Opcode int

const (
	OpDispatch       Opcode = 0  // event frame carrying a sequence number
	OpHeartbeat      Opcode = 1  // client beat, or server requesting one
	OpIdentify       Opcode = 2  // fresh authentication
	OpResume         Opcode = 6  // continue a prior session
	OpReconnect      Opcode = 7  // server asks us to reconnect and resume
	OpInvalidSession Opcode = 9  // session rejected; d says whether resumable
	OpHello          Opcode = 10 // first server frame, announces heartbeat interval
	OpHeartbeatAck   Opcode = 11 // acknowledges a client heartbeat
)

// String returns the opcode's protocol name.
func (o Opcode) String() string {
	switch o {
	case OpDispatch:
		return "DISPATCH"
	case OpHeartbeat:
		return "HEARTBEAT"
	case OpIdentify:
		return "IDENTIFY"
	case OpResume:
		return "RESUME"
	case OpReconnect:
		return "RECONNECT"
	case OpInvalidSession:
		return "INVALID_SESSION"
	case OpHello:
		return "HELLO"
	case OpHeartbeatAck:
		return "HEARTBEAT_ACK"
	default:
		return fmt.Sprintf("OPCODE(%d)", int(o))
	}
}

// Dispatch event types the engine interprets. Every other event type is
// forwarded opaquely to the event handler.
const (
	EventReady   = "READY"
	EventResumed = "RESUMED"
)

// Frame is one gateway message in either direction:
//
//	{"op": 0, "d": {...}, "s": 42, "t": "MESSAGE_CREATE"}
//
// The payload stays raw: its shape belongs to the platform, not to us.
type Frame struct {
	Op Opcode          `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

// helloData is the OpHello payload.
type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"` // milliseconds
}

// readyData is the READY dispatch payload subset the engine needs.
type readyData struct {
	SessionID string `json:"session_id"`
	User      struct {
		ID string `json:"id"`
	} `json:"user"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type identifyData struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties identifyProperties `json:"properties"`
}

type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// identifyFrame builds an OpIdentify frame for fresh authentication.
func identifyFrame(token string, intents int) (*Frame, error) {
	d, err := json.Marshal(identifyData{
		Token:   token,
		Intents: intents,
		Properties: identifyProperties{
			OS:      "linux",
			Browser: "harbor-bot",
			Device:  "harbor-bot",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling identify payload: %w", err)
	}
	return &Frame{Op: OpIdentify, D: d}, nil
}

// resumeFrame builds an OpResume frame continuing a prior session.
func resumeFrame(token, sessionID string, seq int64) (*Frame, error) {
	d, err := json.Marshal(resumeData{
		Token:     token,
		SessionID: sessionID,
		Seq:       seq,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling resume payload: %w", err)
	}
	return &Frame{Op: OpResume, D: d}, nil
}

// heartbeatFrame builds an OpHeartbeat frame carrying the last-seen sequence,
// or a JSON null before any event has arrived.
func heartbeatFrame(seq *int64) *Frame {
	d := json.RawMessage("null")
	if seq != nil {
		d, _ = json.Marshal(*seq)
	}
	return &Frame{Op: OpHeartbeat, D: d}
}

// resumableCloseCode reports whether a server close code permits resuming the
// session, per the platform's close-code table. Code 4004 is an
// authentication rejection and is handled separately as fatal.
func resumableCloseCode(code int) bool {
	switch code {
	case 4000, 4001, 4002, 4003, 4005, 4007, 4008, 4009:
		return true
	case 4004, 4010, 4011, 4012, 4013, 4014:
		return false
	default:
		// Unknown and standard websocket close codes: try to resume.
		return true
	}
}
