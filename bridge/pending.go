package bridge

import (
	"encoding/json"
	"sync"

	"github.com/niomon/niomon-go/wire"
)

// outcome is the settled result of one pending request.
type outcome struct {
	result json.RawMessage
	err    *wire.RPCError
}

// pendingTable correlates request ids with their waiting callers. Ids are
// assigned from 1 by plain increment and never reused within a bridge's
// lifetime, so a response can never be attributed to the wrong caller even
// under unbounded concurrency.
type pendingTable struct {
	mu      sync.Mutex
	nextID  uint64
	waiters map[uint64]chan outcome
}

func newPendingTable() *pendingTable {
	return &pendingTable{waiters: make(map[uint64]chan outcome)}
}

// add registers a new waiter and returns its id and settlement channel.
func (t *pendingTable) add() (uint64, chan outcome) {
	ch := make(chan outcome, 1)
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.waiters[id] = ch
	t.mu.Unlock()
	return id, ch
}

// resolve settles the waiter for id exactly once and reports whether a
// waiter existed. Stale, duplicate, or never-issued ids are a no-op.
func (t *pendingTable) resolve(id uint64, rpcErr *wire.RPCError, result json.RawMessage) bool {
	t.mu.Lock()
	ch, ok := t.waiters[id]
	if ok {
		delete(t.waiters, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	ch <- outcome{result: result, err: rpcErr}
	return true
}

// drop removes a waiter without settling it. Used when the caller gives up
// before a response arrives.
func (t *pendingTable) drop(id uint64) {
	t.mu.Lock()
	delete(t.waiters, id)
	t.mu.Unlock()
}

// size returns the number of in-flight requests.
func (t *pendingTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters)
}
