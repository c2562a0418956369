package rpc

import (
	"sync"
	"testing"
	"time"
)

func TestTracker_IDsIncreasingNonZero(t *testing.T) {
	tr := NewTracker(nil, nil)

	var last uint64
	for i := 0; i < 100; i++ {
		id := tr.Register("printer.info", nil, nil, time.Second, false)
		if id == 0 {
			t.Fatal("request id must never be zero")
		}
		if id <= last {
			t.Fatalf("id %d not greater than previous %d", id, last)
		}
		last = id
	}
}

func TestTracker_IDsIncreasingConcurrent(t *testing.T) {
	tr := NewTracker(nil, nil)

	var wg sync.WaitGroup
	ids := make(chan uint64, 1000)
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				ids <- tr.Register("home_axes", nil, nil, time.Second, false)
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool)
	for id := range ids {
		if id == 0 {
			t.Fatal("zero id allocated")
		}
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
	if len(seen) != 1000 {
		t.Fatalf("expected 1000 unique ids, got %d", len(seen))
	}
}

func TestTracker_RouteSuccess(t *testing.T) {
	tr := NewTracker(nil, nil)

	var gotResult, gotError int
	id := tr.Register("printer.info", func(resp *Response) {
		gotResult++
		if resp.ID != 1 {
			t.Errorf("resp.ID = %d, want 1", resp.ID)
		}
	}, func(*RPCError) {
		gotError++
	}, time.Second, false)

	if !tr.Route(&Response{ID: id, Result: []byte(`{"state":"ready"}`)}) {
		t.Fatal("Route returned false for pending id")
	}
	if gotResult != 1 || gotError != 0 {
		t.Fatalf("gotResult=%d gotError=%d, want 1/0", gotResult, gotError)
	}

	// A second response for the same id must not match.
	if tr.Route(&Response{ID: id}) {
		t.Fatal("Route matched an already-completed id")
	}
	if gotResult != 1 {
		t.Fatalf("continuation fired %d times, want exactly once", gotResult)
	}
}

func TestTracker_RouteError(t *testing.T) {
	tr := NewTracker(nil, nil)

	var gotResult int
	var gotErr *RPCError
	id := tr.Register("printer.print.start", func(*Response) {
		gotResult++
	}, func(err *RPCError) {
		gotErr = err
	}, time.Second, false)

	tr.Route(&Response{ID: id, Error: &ErrorObject{Code: -32601, Message: "Method not found"}})

	if gotResult != 0 {
		t.Fatal("success continuation fired on error response")
	}
	if gotErr == nil {
		t.Fatal("error continuation did not fire")
	}
	if gotErr.Type != ErrValidation {
		t.Errorf("error type = %s, want validation_error", gotErr.Type)
	}
	if gotErr.Method != "printer.print.start" {
		t.Errorf("error method = %s", gotErr.Method)
	}
}

func TestTracker_RouteDistinctRequests(t *testing.T) {
	tr := NewTracker(nil, nil)

	var first, second int
	id1 := tr.Register("home_axes", func(*Response) { first++ }, nil, time.Second, false)
	id2 := tr.Register("home_axes", func(*Response) { second++ }, nil, time.Second, false)

	if id2 <= id1 {
		t.Fatalf("ids not increasing: %d then %d", id1, id2)
	}

	tr.Route(&Response{ID: id2})
	if first != 0 || second != 1 {
		t.Fatalf("responding to second id resolved first=%d second=%d", first, second)
	}
	if tr.PendingCount() != 1 {
		t.Fatalf("pending = %d, want 1", tr.PendingCount())
	}
}

func TestTracker_CheckTimeouts(t *testing.T) {
	tr := NewTracker(nil, nil)

	var gotErr *RPCError
	tr.Register("printer.info", nil, func(err *RPCError) { gotErr = err }, 10*time.Millisecond, false)
	tr.Register("server.info", nil, nil, time.Minute, false)

	time.Sleep(30 * time.Millisecond)
	tr.CheckTimeouts()

	if gotErr == nil {
		t.Fatal("expired request's error continuation did not fire")
	}
	if gotErr.Type != ErrTimeout {
		t.Errorf("error type = %s, want timeout", gotErr.Type)
	}
	if gotErr.Method != "printer.info" {
		t.Errorf("error method = %s, want printer.info", gotErr.Method)
	}
	if tr.PendingCount() != 1 {
		t.Fatalf("pending = %d, want 1 (the long-timeout request)", tr.PendingCount())
	}
}

func TestTracker_TimeoutContinuationMaySend(t *testing.T) {
	tr := NewTracker(nil, nil)

	var retryID uint64
	tr.Register("printer.info", nil, func(*RPCError) {
		// Re-issuing from inside the continuation must not deadlock.
		retryID = tr.Register("printer.info", nil, nil, time.Minute, false)
	}, time.Millisecond, false)

	time.Sleep(10 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		tr.CheckTimeouts()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("CheckTimeouts deadlocked against a re-entrant Register")
	}

	if retryID == 0 {
		t.Fatal("re-entrant Register did not run")
	}
}

func TestTracker_Cancel(t *testing.T) {
	tr := NewTracker(nil, nil)

	var fired int
	id := tr.Register("printer.info", func(*Response) { fired++ }, func(*RPCError) { fired++ }, time.Second, false)

	if !tr.Cancel(id) {
		t.Fatal("Cancel returned false for pending id")
	}
	if tr.Cancel(id) {
		t.Fatal("second Cancel on same id returned true")
	}
	if fired != 0 {
		t.Fatal("cancelled request's continuation fired")
	}
	if tr.Route(&Response{ID: id}) {
		t.Fatal("cancelled request still routable")
	}
}

func TestTracker_CleanupAll(t *testing.T) {
	tr := NewTracker(nil, nil)

	var errs []*RPCError
	for i := 0; i < 5; i++ {
		tr.Register("printer.info", nil, func(err *RPCError) { errs = append(errs, err) }, time.Minute, false)
	}

	tr.CleanupAll()

	if len(errs) != 5 {
		t.Fatalf("got %d error continuations, want 5", len(errs))
	}
	for _, err := range errs {
		if err.Type != ErrConnectionLost {
			t.Errorf("error type = %s, want connection_lost", err.Type)
		}
	}
	if tr.PendingCount() != 0 {
		t.Fatalf("pending = %d after CleanupAll, want 0", tr.PendingCount())
	}
}

func TestTracker_ContinuationPanicContained(t *testing.T) {
	tr := NewTracker(nil, nil)

	id := tr.Register("printer.info", func(*Response) {
		panic("listener bug")
	}, nil, time.Second, false)

	// Must not propagate into the caller (the network read loop).
	tr.Route(&Response{ID: id})

	if tr.PendingCount() != 0 {
		t.Fatal("request still pending after panicking continuation")
	}
}
