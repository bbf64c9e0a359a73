package flower

import (
	"bytes"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const (
	maskIDMax = 255
	maskIDMin = 1
)

type maskEntry struct {
	id   uint8
	mask []byte
	refs int
}

// maskTable hands out firmware mask ids. Flows sharing identical mask bytes
// share one id; the id returns to the pool with its last user.
type maskTable struct {
	mu      sync.Mutex
	byHash  map[uint64][]*maskEntry
	byID    map[uint8]*maskEntry
	freeIDs []uint8
}

func newMaskTable() *maskTable {
	t := &maskTable{
		byHash: make(map[uint64][]*maskEntry),
		byID:   make(map[uint8]*maskEntry),
	}
	for id := maskIDMin; id <= maskIDMax; id++ {
		t.freeIDs = append(t.freeIDs, uint8(id))
	}
	return t
}

// get takes a reference on the id of mask. first is true when the firmware
// has not seen the mask yet.
func (t *maskTable) get(mask []byte) (id uint8, first bool, err error) {
	h := xxhash.Sum64(mask)

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.byHash[h] {
		if bytes.Equal(e.mask, mask) {
			e.refs++
			return e.id, false, nil
		}
	}
	if len(t.freeIDs) == 0 {
		return 0, false, ErrNoMaskIDs
	}
	id = t.freeIDs[len(t.freeIDs)-1]
	t.freeIDs = t.freeIDs[:len(t.freeIDs)-1]

	e := &maskEntry{id: id, mask: bytes.Clone(mask), refs: 1}
	t.byHash[h] = append(t.byHash[h], e)
	t.byID[id] = e
	return id, true, nil
}

// put drops a reference. last is true when the firmware may forget the mask.
func (t *maskTable) put(id uint8) (last bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byID[id]
	if !ok {
		return false
	}
	if e.refs--; e.refs > 0 {
		return false
	}

	h := xxhash.Sum64(e.mask)
	list := t.byHash[h]
	for i := range list {
		if list[i] == e {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(t.byHash, h)
	} else {
		t.byHash[h] = list
	}
	delete(t.byID, id)
	t.freeIDs = append(t.freeIDs, id)
	return true
}

func (t *maskTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}
