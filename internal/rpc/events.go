package rpc

import (
	"log/slog"
	"sync"
)

// EventKind identifies a transport condition.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventReconnectFailed
	EventRequestTimeout
	EventOversizedFrame
	EventRPCError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventReconnectFailed:
		return "reconnect_failed"
	case EventRequestTimeout:
		return "request_timeout"
	case EventOversizedFrame:
		return "oversized_frame"
	case EventRPCError:
		return "rpc_error"
	default:
		return "unknown"
	}
}

// Event is an ephemeral transport condition handed to the registered sink.
type Event struct {
	Kind    EventKind
	Message string
	IsError bool
	Detail  string
}

// Emitter delivers transport events to at most one registered sink. With no
// sink registered, events only reach the log. Repeated disconnects during a
// reconnect loop are deduplicated so the sink is not flooded; the dedup flag
// resets on the next successful connection.
type Emitter struct {
	logger *slog.Logger

	mu                 sync.Mutex
	sink               func(Event)
	disconnectReported bool
}

func NewEmitter(logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{logger: logger}
}

// RegisterHandler installs the event sink, replacing any previous one.
func (e *Emitter) RegisterHandler(fn func(Event)) {
	e.mu.Lock()
	e.sink = fn
	e.mu.Unlock()
}

// Emit constructs and delivers a transport event.
func (e *Emitter) Emit(kind EventKind, message string, isError bool, detail string) {
	e.deliver(Event{Kind: kind, Message: message, IsError: isError, Detail: detail})
}

func (e *Emitter) deliver(ev Event) {
	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()

	if ev.IsError {
		e.logger.Warn("transport event", "kind", ev.Kind, "message", ev.Message, "detail", ev.Detail)
	} else {
		e.logger.Info("transport event", "kind", ev.Kind, "message", ev.Message, "detail", ev.Detail)
	}

	if sink != nil {
		sink(ev)
	}
}

// emitDisconnect reports a connection loss at most once per connected period.
func (e *Emitter) emitDisconnect(detail string) {
	e.mu.Lock()
	reported := e.disconnectReported
	e.disconnectReported = true
	e.mu.Unlock()

	if reported {
		e.logger.Debug("suppressing repeated disconnect event", "detail", detail)
		return
	}
	e.Emit(EventDisconnected, "connection lost", true, detail)
}

// connectionRestored rearms disconnect reporting.
func (e *Emitter) connectionRestored() {
	e.mu.Lock()
	e.disconnectReported = false
	e.mu.Unlock()
}
