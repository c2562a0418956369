package rpc

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ResponseFunc receives the full response for a completed request.
type ResponseFunc func(*Response)

// ErrorFunc receives the classified failure for a request.
type ErrorFunc func(*RPCError)

// pendingRequest is owned exclusively by the tracker from registration until
// removal. Its continuations fire at most once, never both.
type pendingRequest struct {
	id       uint64
	method   string
	onResult ResponseFunc
	onError  ErrorFunc
	issuedAt time.Time
	timeout  time.Duration
	silent   bool
}

// Tracker issues request ids and correlates outgoing requests with
// asynchronous responses. Continuations are always invoked outside the
// tracker's own lock: a continuation may itself register new requests.
type Tracker struct {
	logger  *slog.Logger
	emitter *Emitter

	// Ids start above zero; 0 is reserved as "no request".
	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]*pendingRequest
}

func NewTracker(logger *slog.Logger, emitter *Emitter) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		logger:  logger,
		emitter: emitter,
		pending: make(map[uint64]*pendingRequest),
	}
}

// AllocID returns the next request id. Ids are strictly increasing and never
// zero, safe under concurrent callers.
func (t *Tracker) AllocID() uint64 {
	return t.nextID.Add(1)
}

// Register allocates an id and records the request's continuations with its
// timeout. The caller transmits the envelope after registration and rolls
// back with Cancel if the write fails.
func (t *Tracker) Register(method string, onResult ResponseFunc, onError ErrorFunc, timeout time.Duration, silent bool) uint64 {
	pr := &pendingRequest{
		id:       t.AllocID(),
		method:   method,
		onResult: onResult,
		onError:  onError,
		issuedAt: time.Now(),
		timeout:  timeout,
		silent:   silent,
	}

	t.mu.Lock()
	t.pending[pr.id] = pr
	t.mu.Unlock()

	return pr.id
}

// Route matches a response to its pending request and invokes exactly one of
// the error continuation (after classification) or the success continuation.
// Returns false when no request with that id is pending.
func (t *Tracker) Route(resp *Response) bool {
	t.mu.Lock()
	pr, ok := t.pending[resp.ID]
	if ok {
		delete(t.pending, resp.ID)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}

	if resp.Error != nil {
		rpcErr := classifyError(pr.method, resp.Error)
		if !pr.silent && t.emitter != nil {
			t.emitter.Emit(EventRPCError, rpcErr.Message, true, pr.method)
		}
		t.fail(pr, rpcErr)
		return true
	}

	t.succeed(pr, resp)
	return true
}

// CheckTimeouts sweeps expired requests. Two-phase: collect and remove under
// the lock, then emit events and invoke error continuations outside it, so a
// continuation that calls Send again cannot deadlock.
func (t *Tracker) CheckTimeouts() {
	now := time.Now()

	var expired []*pendingRequest
	t.mu.Lock()
	for id, pr := range t.pending {
		if now.Sub(pr.issuedAt) > pr.timeout {
			delete(t.pending, id)
			expired = append(expired, pr)
		}
	}
	t.mu.Unlock()

	for _, pr := range expired {
		if !pr.silent && t.emitter != nil {
			t.emitter.Emit(EventRequestTimeout, "request timed out", true, pr.method)
		}
		t.fail(pr, timeoutError(pr.method))
	}
}

// Cancel removes a pending request without invoking any continuation.
// Returns false if the id is not pending.
func (t *Tracker) Cancel(id uint64) bool {
	t.mu.Lock()
	_, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()
	return ok
}

// CleanupAll drains every pending request and invokes each error continuation
// with a connection-lost failure, outside the lock.
func (t *Tracker) CleanupAll() {
	t.mu.Lock()
	drained := make([]*pendingRequest, 0, len(t.pending))
	for _, pr := range t.pending {
		drained = append(drained, pr)
	}
	t.pending = make(map[uint64]*pendingRequest)
	t.mu.Unlock()

	for _, pr := range drained {
		t.fail(pr, connectionLostError(pr.method))
	}
}

// PendingCount reports the number of in-flight requests.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// succeed and fail contain continuation panics: an escaping panic at this
// boundary would corrupt the network read loop.

func (t *Tracker) succeed(pr *pendingRequest, resp *Response) {
	if pr.onResult == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in response continuation", "method", pr.method, "panic", r)
		}
	}()
	pr.onResult(resp)
}

func (t *Tracker) fail(pr *pendingRequest, rpcErr *RPCError) {
	if pr.onError == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in error continuation", "method", pr.method, "panic", r)
		}
	}()
	pr.onError(rpcErr)
}
