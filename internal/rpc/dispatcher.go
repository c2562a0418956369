package rpc

import (
	"log/slog"
	"sync"
)

// NotificationFunc receives a server-pushed notification.
type NotificationFunc func(*Notification)

// Dispatcher fans unsolicited daemon messages out to two registries: an
// anonymous multi-subscriber list for the high-frequency status-update
// stream, and a named per-method handler table for discrete events. The
// named table permits multiple independent handlers per method, each
// individually removable.
type Dispatcher struct {
	logger *slog.Logger

	// statusMethod is the notification method delivered to anonymous
	// subscribers.
	statusMethod string

	mu       sync.Mutex
	nextSub  uint64
	subs     map[uint64]NotificationFunc
	handlers map[string]map[string]NotificationFunc
}

func NewDispatcher(statusMethod string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger:       logger,
		statusMethod: statusMethod,
		subs:         make(map[uint64]NotificationFunc),
		handlers:     make(map[string]map[string]NotificationFunc),
	}
}

// Subscribe registers an anonymous callback for status updates and returns
// its subscription id.
func (d *Dispatcher) Subscribe(fn NotificationFunc) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextSub++
	d.subs[d.nextSub] = fn
	return d.nextSub
}

// Unsubscribe removes an anonymous subscription. Returns false if the id is
// not registered.
func (d *Dispatcher) Unsubscribe(id uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.subs[id]
	if ok {
		delete(d.subs, id)
	}
	return ok
}

// RegisterMethodHandler installs a named handler for a notification method.
// Registering the same method+name pair again overwrites the previous
// handler and logs a warning.
func (d *Dispatcher) RegisterMethodHandler(method, name string, fn NotificationFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()

	byName, ok := d.handlers[method]
	if !ok {
		byName = make(map[string]NotificationFunc)
		d.handlers[method] = byName
	}
	if _, exists := byName[name]; exists {
		d.logger.Warn("overwriting notification handler", "method", method, "handler", name)
	}
	byName[name] = fn
}

// UnregisterMethodHandler removes a named handler. Removing the last handler
// for a method drops the method entry entirely. Returns false if the pair is
// not registered.
func (d *Dispatcher) UnregisterMethodHandler(method, name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	byName, ok := d.handlers[method]
	if !ok {
		return false
	}
	if _, exists := byName[name]; !exists {
		return false
	}
	delete(byName, name)
	if len(byName) == 0 {
		delete(d.handlers, method)
	}
	return true
}

// HandlerCount reports the number of named handlers for a method.
func (d *Dispatcher) HandlerCount(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers[method])
}

// Dispatch fans a notification out to every matching callback. The callback
// set is copied under the lock and invoked outside it; a callback may itself
// register or remove handlers.
func (d *Dispatcher) Dispatch(n *Notification) {
	var callbacks []NotificationFunc

	d.mu.Lock()
	if n.Method == d.statusMethod {
		for _, fn := range d.subs {
			callbacks = append(callbacks, fn)
		}
	}
	for _, fn := range d.handlers[n.Method] {
		callbacks = append(callbacks, fn)
	}
	d.mu.Unlock()

	for _, fn := range callbacks {
		d.deliver(fn, n)
	}
}

// deliver contains per-callback panics so one failing listener cannot block
// the rest or unwind the network read loop.
func (d *Dispatcher) deliver(fn NotificationFunc, n *Notification) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic in notification callback", "method", n.Method, "panic", r)
		}
	}()
	fn(n)
}
