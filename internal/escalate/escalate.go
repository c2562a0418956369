// Package escalate turns a cancel request into an emergency stop when the
// daemon does not confirm the cancel within a grace window. It consumes only
// the transport's public surface.
package escalate

import (
	"log/slog"
	"sync"
	"time"

	"github.com/printforge/moonbridge/internal/rpc"
)

const handlerName = "escalation-policy"

const (
	methodKlippyReady    = "notify_klippy_ready"
	methodKlippyShutdown = "notify_klippy_shutdown"
	methodPrintCancel    = "printer.print.cancel"
	methodEmergencyStop  = "printer.emergency_stop"
)

// Transport is the slice of the RPC client the policy needs.
type Transport interface {
	Send(method string, params any, onResult rpc.ResponseFunc, onError rpc.ErrorFunc, timeout time.Duration) uint64
	RegisterMethodHandler(method, name string, fn rpc.NotificationFunc)
	UnregisterMethodHandler(method, name string) bool
}

// Config controls escalation behavior.
type Config struct {
	// GraceWindow is how long to wait for the daemon to acknowledge a print
	// cancel before escalating to an emergency stop.
	GraceWindow time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{GraceWindow: 10 * time.Second}
}

// Policy watches firmware readiness and escalates unacknowledged cancels.
type Policy struct {
	transport Transport
	cfg       Config
	logger    *slog.Logger

	mu      sync.Mutex
	ready   bool
	pending bool
	timer   *time.Timer
}

// NewPolicy creates an escalation policy bound to a transport. Start must be
// called to begin watching firmware readiness.
func NewPolicy(transport Transport, cfg Config, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = DefaultConfig().GraceWindow
	}
	return &Policy{
		transport: transport,
		cfg:       cfg,
		logger:    logger,
	}
}

// Start registers the firmware readiness handlers.
func (p *Policy) Start() {
	p.transport.RegisterMethodHandler(methodKlippyReady, handlerName, p.onKlippyReady)
	p.transport.RegisterMethodHandler(methodKlippyShutdown, handlerName, p.onKlippyShutdown)
}

// Stop unregisters the handlers and disarms any pending escalation.
func (p *Policy) Stop() {
	p.transport.UnregisterMethodHandler(methodKlippyReady, handlerName)
	p.transport.UnregisterMethodHandler(methodKlippyShutdown, handlerName)
	p.disarm()
}

// Ready reports whether the firmware last announced itself ready.
func (p *Policy) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// CancelPrint issues a print cancel and arms the grace timer. If the daemon
// does not acknowledge the cancel before the window elapses, or rejects it,
// the policy escalates to an emergency stop. Concurrent calls while an
// escalation is already armed are ignored.
func (p *Policy) CancelPrint() {
	p.mu.Lock()
	if p.pending {
		p.mu.Unlock()
		p.logger.Debug("cancel already in flight, ignoring")
		return
	}
	p.pending = true
	p.timer = time.AfterFunc(p.cfg.GraceWindow, p.onGraceExpired)
	p.mu.Unlock()

	p.logger.Info("cancelling print", "grace_window", p.cfg.GraceWindow)

	p.transport.Send(methodPrintCancel, nil,
		func(*rpc.Response) {
			p.logger.Info("print cancel acknowledged")
			p.disarm()
		},
		func(err *rpc.RPCError) {
			p.logger.Warn("print cancel rejected", "error", err)
			p.escalate("cancel rejected: " + err.Message)
		},
		p.cfg.GraceWindow)
}

func (p *Policy) onKlippyReady(*rpc.Notification) {
	p.mu.Lock()
	p.ready = true
	p.mu.Unlock()
	p.logger.Info("firmware ready")
}

func (p *Policy) onKlippyShutdown(*rpc.Notification) {
	p.mu.Lock()
	p.ready = false
	p.mu.Unlock()
	p.logger.Warn("firmware shutdown")

	// The machine is already halted; escalating now would be redundant.
	p.disarm()
}

func (p *Policy) onGraceExpired() {
	p.escalate("grace window elapsed without acknowledgment")
}

// escalate fires the emergency stop at most once per armed cancel.
func (p *Policy) escalate(reason string) {
	p.mu.Lock()
	if !p.pending {
		p.mu.Unlock()
		return
	}
	p.pending = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()

	p.logger.Error("escalating to emergency stop", "reason", reason)

	p.transport.Send(methodEmergencyStop, nil,
		func(*rpc.Response) { p.logger.Info("emergency stop acknowledged") },
		func(err *rpc.RPCError) { p.logger.Error("emergency stop failed", "error", err) },
		0)
}

func (p *Policy) disarm() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
