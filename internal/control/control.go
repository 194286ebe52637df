// ABOUTME: Out-of-band administrative requests delivered over process signals
// ABOUTME: Maps SIGUSR1/SIGUSR2 onto typed requests for the supervisor

package control

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// Request is an administrative action asked of the running bot. Requests
// arrive outside the gateway protocol and never touch connection state.
type Request int

const (
	// ResyncCommands re-registers the slash command set with the platform.
	ResyncCommands Request = iota
	// ProvisionAssets downloads any missing model files.
	ProvisionAssets
)

// String returns the request name.
func (r Request) String() string {
	switch r {
	case ResyncCommands:
		return "resync-commands"
	case ProvisionAssets:
		return "provision-assets"
	default:
		return fmt.Sprintf("request(%d)", int(r))
	}
}

// FromSignal maps a process signal onto its request, if any.
func FromSignal(sig os.Signal) (Request, bool) {
	switch sig {
	case syscall.SIGUSR1:
		return ResyncCommands, true
	case syscall.SIGUSR2:
		return ProvisionAssets, true
	default:
		return 0, false
	}
}

// Signals returns a channel of requests driven by SIGUSR1 and SIGUSR2. The
// channel closes when ctx is cancelled. While the consumer is busy, one
// request of each kind is held; a duplicate of a kind already pending is
// dropped with a warning, but distinct kinds never displace each other.
func Signals(ctx context.Context, logger *slog.Logger) <-chan Request {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2)

	out := make(chan Request)
	go func() {
		defer signal.Stop(sigCh)
		pump(ctx, sigCh, out, logger)
	}()
	return out
}

// pump forwards mapped signals to out in arrival order, holding at most one
// pending request per kind. Closes out when ctx is cancelled.
func pump(ctx context.Context, sigCh <-chan os.Signal, out chan<- Request, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "control")

	defer close(out)

	var queue []Request
	pending := func(req Request) bool {
		for _, q := range queue {
			if q == req {
				return true
			}
		}
		return false
	}

	for {
		var sendCh chan<- Request
		var next Request
		if len(queue) > 0 {
			sendCh = out
			next = queue[0]
		}

		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			req, ok := FromSignal(sig)
			if !ok {
				continue
			}
			if pending(req) {
				logger.Warn("dropping control request, same one already pending",
					"request", req.String())
				continue
			}
			queue = append(queue, req)
		case sendCh <- next:
			queue = queue[1:]
		}
	}
}
