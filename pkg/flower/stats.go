package flower

import (
	"sync"
	"time"
)

// FlowStats is the traffic seen by one offloaded flow since the last read.
type FlowStats struct {
	Bytes uint64    `json:"bytes"`
	Pkts  uint64    `json:"pkts"`
	Used  time.Time `json:"used"`
}

// statsTable holds the per context counters and the context id allocator.
// One mutex guards the whole array.
type statsTable struct {
	mu     sync.Mutex
	stats  []FlowStats
	active []bool
	free   []uint32
	now    func() time.Time
}

func newStatsTable(n int) *statsTable {
	st := &statsTable{
		stats:  make([]FlowStats, n),
		active: make([]bool, n),
		free:   make([]uint32, 0, n),
		now:    time.Now,
	}
	for i := n - 1; i >= 0; i-- {
		st.free = append(st.free, uint32(i))
	}
	return st
}

func (st *statsTable) alloc() (uint32, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if len(st.free) == 0 {
		return 0, ErrNoIDs
	}
	id := st.free[len(st.free)-1]
	st.free = st.free[:len(st.free)-1]
	st.stats[id] = FlowStats{}
	st.active[id] = true
	return id, nil
}

func (st *statsTable) release(id uint32) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if int(id) >= len(st.active) || !st.active[id] {
		return
	}
	st.active[id] = false
	st.stats[id] = FlowStats{}
	st.free = append(st.free, id)
}

// update accumulates a firmware stats frame. Frames for inactive contexts
// are dropped and reported as such.
func (st *statsTable) update(id uint32, pkts uint32, bytes uint64) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	if int(id) >= len(st.active) || !st.active[id] {
		return false
	}
	s := &st.stats[id]
	s.Pkts += uint64(pkts)
	s.Bytes += bytes
	s.Used = st.now()
	return true
}

// take returns the counters of id and zeroes them.
func (st *statsTable) take(id uint32) FlowStats {
	st.mu.Lock()
	defer st.mu.Unlock()

	if int(id) >= len(st.active) {
		return FlowStats{}
	}
	s := st.stats[id]
	st.stats[id] = FlowStats{Used: s.Used}
	return s
}

func (st *statsTable) inUse() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.active) - len(st.free)
}

// peek returns the counters of id without resetting them.
func (st *statsTable) peek(id uint32) FlowStats {
	st.mu.Lock()
	defer st.mu.Unlock()

	if int(id) >= len(st.stats) {
		return FlowStats{}
	}
	return st.stats[id]
}
