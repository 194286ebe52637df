// ABOUTME: Connection supervisor: owns the outer connect/retry loop and backoff
// ABOUTME: Drives identify/resume selection and watches the control channel

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harborbot/harbor/internal/control"
	"github.com/harborbot/harbor/internal/store"
)

const (
	defaultHelloTimeout   = 15 * time.Second
	defaultConnectedGrace = time.Minute
	writeTimeout          = 10 * time.Second
)

// Options configures a Supervisor.
type Options struct {
	Token   string
	Intents int

	// GatewayURL resolves the socket URL before each attempt.
	GatewayURL func(ctx context.Context) (string, error)

	Session *Session
	Handler EventHandler

	// Store records heartbeat counts; may be nil.
	Store store.SessionStore

	// Control delivers administrative requests; may be nil.
	Control     <-chan control.Request
	OnResync    func(ctx context.Context) error
	OnProvision func(ctx context.Context) error

	BackoffBase        time.Duration
	BackoffMax         time.Duration
	ConnectedGrace     time.Duration
	HeartbeatTolerance float64
	HelloTimeout       time.Duration

	Dialer *websocket.Dialer
	Logger *slog.Logger
}

// Supervisor runs the connection lifecycle: connect, handshake, identify or
// resume, dispatch frames, and retry with capped exponential backoff. The
// only condition it treats as fatal is a persistent authentication rejection.
type Supervisor struct {
	token   string
	intents int

	gatewayURL func(ctx context.Context) (string, error)
	session    *Session
	handler    EventHandler
	store      store.SessionStore

	control     <-chan control.Request
	onResync    func(ctx context.Context) error
	onProvision func(ctx context.Context) error

	backoff            Backoff
	connectedGrace     time.Duration
	heartbeatTolerance float64
	helloTimeout       time.Duration

	dialer *websocket.Dialer
	logger *slog.Logger
}

// New creates a Supervisor from options, applying defaults for anything
// unset.
func New(opts Options) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	helloTimeout := opts.HelloTimeout
	if helloTimeout <= 0 {
		helloTimeout = defaultHelloTimeout
	}
	backoffBase := opts.BackoffBase
	if backoffBase <= 0 {
		backoffBase = time.Second
	}
	backoffMax := opts.BackoffMax
	if backoffMax <= 0 {
		backoffMax = 30 * time.Second
	}
	connectedGrace := opts.ConnectedGrace
	if connectedGrace <= 0 {
		connectedGrace = defaultConnectedGrace
	}

	return &Supervisor{
		token:              opts.Token,
		intents:            opts.Intents,
		gatewayURL:         opts.GatewayURL,
		session:            opts.Session,
		handler:            opts.Handler,
		store:              opts.Store,
		control:            opts.Control,
		onResync:           opts.OnResync,
		onProvision:        opts.OnProvision,
		backoff:            Backoff{Base: backoffBase, Max: backoffMax},
		connectedGrace:     connectedGrace,
		heartbeatTolerance: opts.HeartbeatTolerance,
		helloTimeout:       helloTimeout,
		dialer:             dialer,
		logger:             logger.With("component", "supervisor"),
	}
}

// Run connects and reconnects until ctx is cancelled or authentication is
// rejected. Returns nil on clean shutdown.
func (s *Supervisor) Run(ctx context.Context) error {
	s.session.Load(ctx)

	if s.control != nil {
		go s.controlLoop(ctx)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		connectedFor, err := s.connectOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrAuth) {
			s.logger.Error("authentication rejected, halting",
				"phase", s.session.Phase().String(), "error", err)
			return err
		}

		// A connection that stayed up past the grace window earns a
		// backoff reset; a flap does not.
		if connectedFor >= s.connectedGrace {
			s.backoff.Reset()
		}

		delay := s.backoff.Next()
		s.logger.Warn("connection ended, reconnecting",
			"delay", delay,
			"attempt", s.backoff.Attempts(),
			"connected_for", connectedFor,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// controlLoop forwards administrative requests to their collaborators. These
// are observed outside the protocol state machine and never touch it.
func (s *Supervisor) controlLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-s.control:
			if !ok {
				return
			}
			s.handleControl(ctx, req)
		}
	}
}

func (s *Supervisor) handleControl(ctx context.Context, req control.Request) {
	s.logger.Info("control request received", "request", req.String())

	var fn func(context.Context) error
	switch req {
	case control.ResyncCommands:
		fn = s.onResync
	case control.ProvisionAssets:
		fn = s.onProvision
	default:
		s.logger.Warn("unknown control request", "request", int(req))
		return
	}

	if fn == nil {
		s.logger.Warn("no collaborator registered for control request", "request", req.String())
		return
	}
	if err := fn(ctx); err != nil {
		s.logger.Error("control request failed", "request", req.String(), "error", err)
	}
}

// connectOnce runs a single connection from dial to teardown. It returns how
// long the connection stayed Connected (zero if it never got there) and the
// error that ended it (nil on ctx cancellation).
func (s *Supervisor) connectOnce(ctx context.Context) (connectedFor time.Duration, runErr error) {
	sess := s.session
	sess.SetPhase(PhaseConnecting)
	defer func() {
		sess.SetPhase(PhaseClosing)
		sess.SetPhase(PhaseDisconnected)
	}()

	url, err := s.gatewayURL(ctx)
	if err != nil {
		return 0, engineErr(ErrNetwork, PhaseConnecting, "resolve gateway url", err)
	}

	conn, _, err := s.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return 0, engineErr(ErrNetwork, PhaseConnecting, "dial", err)
	}
	defer conn.Close()

	sess.SetPhase(PhaseAwaitingHello)

	interval, err := s.readHello(conn)
	if err != nil {
		return 0, err
	}

	// Writes come from two places (heartbeater, this goroutine) and the
	// socket allows one writer at a time.
	var writeMu sync.Mutex
	writeFrame := func(f *Frame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteJSON(f)
	}

	dead := make(chan struct{})
	var deadOnce sync.Once

	hb := newHeartbeater(interval, s.heartbeatTolerance, s.logger)
	hb.send = func(seq *int64) error { return writeFrame(heartbeatFrame(seq)) }
	hb.seq = sess.Sequence
	hb.onDead = func() { deadOnce.Do(func() { close(dead) }) }
	hb.onBeat = func() { s.recordHeartbeat(ctx) }

	hbCtx, cancelHB := context.WithCancel(ctx)
	defer cancelHB()
	go hb.run(hbCtx)

	if err := s.authenticate(ctx, sess, writeFrame); err != nil {
		return 0, err
	}

	frames := make(chan *Frame)
	readErrCh := make(chan error, 1)
	readDone := make(chan struct{})
	defer close(readDone)
	go readLoop(conn, frames, readErrCh, readDone)

	d := &dispatcher{session: sess, hb: hb, handler: s.handler, logger: s.logger}

	var connectedAt time.Time
	uptime := func() time.Duration {
		if connectedAt.IsZero() {
			return 0
		}
		return time.Since(connectedAt)
	}

	for {
		select {
		case <-ctx.Done():
			// Cooperative shutdown: close politely and keep the session
			// resumable for the next process run.
			sess.MarkResumable(true)
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				deadline)
			return uptime(), nil

		case <-dead:
			sess.MarkResumable(true)
			return uptime(), engineErr(ErrNetwork, sess.Phase(), "heartbeat",
				errors.New("ack timeout, connection presumed dead"))

		case err := <-readErrCh:
			return uptime(), s.classifyReadError(sess, err)

		case f := <-frames:
			if err := d.dispatch(ctx, f); err != nil {
				return uptime(), err
			}
			if connectedAt.IsZero() && sess.Phase() == PhaseConnected {
				connectedAt = time.Now()
			}
		}
	}
}

// readHello consumes the server's first frame, which must be the handshake
// announcing the heartbeat interval.
func (s *Supervisor) readHello(conn *websocket.Conn) (time.Duration, error) {
	conn.SetReadDeadline(time.Now().Add(s.helloTimeout))
	defer conn.SetReadDeadline(time.Time{})

	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		return 0, engineErr(ErrNetwork, PhaseAwaitingHello, "read handshake", err)
	}
	if f.Op != OpHello {
		return 0, engineErr(ErrProtocol, PhaseAwaitingHello, "handshake",
			fmt.Errorf("expected HELLO, got %s", f.Op))
	}

	var hello helloData
	if err := json.Unmarshal(f.D, &hello); err != nil {
		return 0, engineErr(ErrProtocol, PhaseAwaitingHello, "decode handshake", err)
	}
	if hello.HeartbeatInterval <= 0 {
		return 0, engineErr(ErrProtocol, PhaseAwaitingHello, "handshake",
			fmt.Errorf("invalid heartbeat interval %dms", hello.HeartbeatInterval))
	}

	interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
	s.logger.Info("handshake received", "heartbeat_interval", interval)
	return interval, nil
}

// authenticate selects Resume when a full session identity survives and the
// prior disconnect was resumable; otherwise it identifies from scratch.
func (s *Supervisor) authenticate(ctx context.Context, sess *Session, writeFrame func(*Frame) error) error {
	if sess.CanResume() {
		sessionID, seq, _ := sess.Snapshot()
		sess.SetPhase(PhaseResuming)
		sess.AppendEvent(ctx, store.SessionEventResume)

		f, err := resumeFrame(s.token, sessionID, seq)
		if err != nil {
			return engineErr(ErrProtocol, PhaseResuming, "build resume", err)
		}
		if err := writeFrame(f); err != nil {
			return engineErr(ErrNetwork, PhaseResuming, "send resume", err)
		}
		s.logger.Info("resuming session", "session_id", sessionID, "seq", seq)
		return nil
	}

	sess.SetPhase(PhaseIdentifying)
	sess.AppendEvent(ctx, store.SessionEventIdentify)

	f, err := identifyFrame(s.token, s.intents)
	if err != nil {
		return engineErr(ErrProtocol, PhaseIdentifying, "build identify", err)
	}
	if err := writeFrame(f); err != nil {
		return engineErr(ErrNetwork, PhaseIdentifying, "send identify", err)
	}
	s.logger.Info("identifying")
	return nil
}

// readLoop feeds decoded frames to the connection loop until the socket
// errors or the connection is being torn down.
func readLoop(conn *websocket.Conn, frames chan<- *Frame, errCh chan<- error, done <-chan struct{}) {
	for {
		f := new(Frame)
		if err := conn.ReadJSON(f); err != nil {
			select {
			case errCh <- err:
			case <-done:
			}
			return
		}
		select {
		case frames <- f:
		case <-done:
			return
		}
	}
}

// classifyReadError maps a socket read failure onto the error taxonomy and
// records whether the disconnect permits resuming.
func (s *Supervisor) classifyReadError(sess *Session, err error) error {
	phase := sess.Phase()

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Code == 4004 {
			sess.MarkResumable(false)
			return engineErr(ErrAuth, phase, "read", err)
		}
		sess.MarkResumable(resumableCloseCode(closeErr.Code))
		return engineErr(ErrNetwork, phase, "read", err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		sess.MarkResumable(true)
		return engineErr(ErrProtocol, phase, "decode frame", err)
	}

	sess.MarkResumable(true)
	return engineErr(ErrNetwork, phase, "read", err)
}

// recordHeartbeat bumps the observability counter, best-effort.
func (s *Supervisor) recordHeartbeat(ctx context.Context) {
	if s.store == nil {
		return
	}

	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if _, err := s.store.IncrementHeartbeat(hctx); err != nil {
		s.logger.Warn("heartbeat counter update failed", "error", err)
	}
}
