package flower

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

const DefaultTableShards = 64

// FlowHandle is a counted reference to a resident payload. The payload
// buffers stay valid until the last handle is released, even if the flow
// was removed from the table meanwhile.
type FlowHandle struct {
	payload *FlowPayload
	refs    *atomic.Int32
	onFree  func(*FlowPayload)
}

func (h *FlowHandle) Payload() *FlowPayload { return h.payload }

// Release drops the reference. It must be called exactly once.
func (h *FlowHandle) Release() {
	if h.refs.Add(-1) == 0 && h.onFree != nil {
		h.onFree(h.payload)
	}
}

type tableEntry struct {
	payload *FlowPayload
	refs    atomic.Int32
}

type tableShard struct {
	mu    sync.RWMutex
	flows map[uint64]map[int]*tableEntry
}

// FlowTable maps (cookie, ingress) to resident payloads. Lookups take a
// shard read lock only, so the stats path never waits behind a long write.
type FlowTable struct {
	shards   []*tableShard
	capacity int64
	size     atomic.Int64
	onFree   func(*FlowPayload)
}

// NewFlowTable creates a table holding at most capacity flows, zero means
// unlimited. onFree runs when the last reference to a removed payload goes.
func NewFlowTable(shards int, capacity int, onFree func(*FlowPayload)) *FlowTable {
	if shards <= 0 {
		shards = DefaultTableShards
	}
	t := &FlowTable{
		shards:   make([]*tableShard, shards),
		capacity: int64(capacity),
		onFree:   onFree,
	}
	for i := range t.shards {
		t.shards[i] = &tableShard{flows: make(map[uint64]map[int]*tableEntry)}
	}
	return t
}

func (t *FlowTable) shard(cookie uint64) *tableShard {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], cookie)
	return t.shards[xxhash.Sum64(b[:])%uint64(len(t.shards))]
}

func (t *FlowTable) handle(e *tableEntry) *FlowHandle {
	e.refs.Add(1)
	return &FlowHandle{payload: e.payload, refs: &e.refs, onFree: t.onFree}
}

// Insert takes ownership of p.
func (t *FlowTable) Insert(p *FlowPayload) error {
	if n := t.size.Add(1); t.capacity > 0 && n > t.capacity {
		t.size.Add(-1)
		return ErrTableFull
	}

	s := t.shard(p.Cookie)
	s.mu.Lock()
	defer s.mu.Unlock()

	byIngress := s.flows[p.Cookie]
	if _, ok := byIngress[p.Ingress]; ok {
		t.size.Add(-1)
		return ErrFlowExists
	}
	if byIngress == nil {
		byIngress = make(map[int]*tableEntry)
		s.flows[p.Cookie] = byIngress
	}
	e := &tableEntry{payload: p}
	e.refs.Store(1)
	byIngress[p.Ingress] = e
	return nil
}

// Lookup returns a handle on the flow, the caller must Release it.
func (t *FlowTable) Lookup(cookie uint64, ingress int) (*FlowHandle, bool) {
	s := t.shard(cookie)
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.flows[cookie][ingress]
	if !ok {
		return nil, false
	}
	return t.handle(e), true
}

// LookupCookie returns a handle on any flow carrying cookie.
func (t *FlowTable) LookupCookie(cookie uint64) (*FlowHandle, bool) {
	s := t.shard(cookie)
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.flows[cookie] {
		return t.handle(e), true
	}
	return nil, false
}

// Remove unlinks the flow. The table's own reference is handed to the
// caller as the returned handle.
func (t *FlowTable) Remove(cookie uint64, ingress int) (*FlowHandle, bool) {
	s := t.shard(cookie)
	s.mu.Lock()
	defer s.mu.Unlock()

	byIngress := s.flows[cookie]
	e, ok := byIngress[ingress]
	if !ok {
		return nil, false
	}
	delete(byIngress, ingress)
	if len(byIngress) == 0 {
		delete(s.flows, cookie)
	}
	t.size.Add(-1)
	return &FlowHandle{payload: e.payload, refs: &e.refs, onFree: t.onFree}, true
}

func (t *FlowTable) Len() int {
	return int(t.size.Load())
}

// Range calls fn on a snapshot of resident payloads until fn returns false.
func (t *FlowTable) Range(fn func(*FlowPayload) bool) {
	for _, s := range t.shards {
		s.mu.RLock()
		var snap []*FlowPayload
		for _, byIngress := range s.flows {
			for _, e := range byIngress {
				snap = append(snap, e.payload)
			}
		}
		s.mu.RUnlock()

		for _, p := range snap {
			if !fn(p) {
				return
			}
		}
	}
}
