package rpc

import "sync/atomic"

// liveness is a revocable token shared between the client and every callback
// scheduled on the network goroutine. Callbacks resolve it at entry; once
// revoked, resolution fails and the callback returns without touching client
// state. Revocation is the very first step of Close, before any other
// teardown. A callback already past its entry check is unaffected.
type liveness struct {
	alive atomic.Bool
}

func newLiveness() *liveness {
	l := &liveness{}
	l.alive.Store(true)
	return l
}

func (l *liveness) resolve() bool {
	return l.alive.Load()
}

func (l *liveness) revoke() {
	l.alive.Store(false)
}
