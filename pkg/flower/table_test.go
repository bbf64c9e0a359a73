package flower

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowTableInsertLookup(t *testing.T) {
	table := NewFlowTable(4, 0, nil)

	require.NoError(t, table.Insert(&FlowPayload{Cookie: 1, Ingress: 10}))
	require.NoError(t, table.Insert(&FlowPayload{Cookie: 1, Ingress: 11}))
	require.NoError(t, table.Insert(&FlowPayload{Cookie: 2, Ingress: 10}))
	assert.ErrorIs(t, table.Insert(&FlowPayload{Cookie: 1, Ingress: 10}), ErrFlowExists)
	assert.Equal(t, 3, table.Len())

	h, ok := table.Lookup(1, 11)
	require.True(t, ok)
	assert.Equal(t, 11, h.Payload().Ingress)
	h.Release()

	_, ok = table.Lookup(1, 12)
	assert.False(t, ok)

	h, ok = table.LookupCookie(2)
	require.True(t, ok)
	assert.Equal(t, uint64(2), h.Payload().Cookie)
	h.Release()

	_, ok = table.LookupCookie(3)
	assert.False(t, ok)

	var cookies []uint64
	table.Range(func(p *FlowPayload) bool {
		cookies = append(cookies, p.Cookie)
		return true
	})
	assert.ElementsMatch(t, []uint64{1, 1, 2}, cookies)
}

func TestFlowTableCapacity(t *testing.T) {
	table := NewFlowTable(0, 2, nil)
	require.NoError(t, table.Insert(&FlowPayload{Cookie: 1}))
	require.NoError(t, table.Insert(&FlowPayload{Cookie: 2}))

	err := table.Insert(&FlowPayload{Cookie: 3})
	assert.ErrorIs(t, err, ErrTableFull)
	assert.ErrorIs(t, err, ErrResourceExhausted)
	assert.Equal(t, 2, table.Len())

	h, ok := table.Remove(1, 0)
	require.True(t, ok)
	h.Release()
	assert.NoError(t, table.Insert(&FlowPayload{Cookie: 3}))
}

func TestFlowTableRemoveWithReader(t *testing.T) {
	var freed []*FlowPayload
	table := NewFlowTable(1, 0, func(p *FlowPayload) { freed = append(freed, p) })

	p := &FlowPayload{Cookie: 7, Ingress: 1, Key: []byte{1, 2, 3, 4}}
	require.NoError(t, table.Insert(p))

	reader, ok := table.Lookup(7, 1)
	require.True(t, ok)

	h, ok := table.Remove(7, 1)
	require.True(t, ok)
	h.Release()

	_, ok = table.Lookup(7, 1)
	assert.False(t, ok)
	assert.Zero(t, table.Len())
	assert.Empty(t, freed)
	assert.Equal(t, []byte{1, 2, 3, 4}, reader.Payload().Key)

	reader.Release()
	assert.Equal(t, []*FlowPayload{p}, freed)

	_, ok = table.Remove(7, 1)
	assert.False(t, ok)
}

func TestFlowTableConcurrent(t *testing.T) {
	var mu sync.Mutex
	freed := 0
	table := NewFlowTable(8, 0, func(*FlowPayload) {
		mu.Lock()
		freed++
		mu.Unlock()
	})

	const workers, flows = 8, 200
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < flows; i++ {
				cookie := uint64(w*flows + i)
				if err := table.Insert(&FlowPayload{Cookie: cookie, Ingress: w}); err != nil {
					t.Errorf("insert %d: %v", cookie, err)
					return
				}
				if h, ok := table.Lookup(cookie, w); ok {
					h.Release()
				} else {
					t.Errorf("lookup %d failed", cookie)
				}
			}
			for i := 0; i < flows; i++ {
				h, ok := table.Remove(uint64(w*flows+i), w)
				if !ok {
					t.Errorf("remove %d failed", w*flows+i)
					continue
				}
				h.Release()
			}
		}(w)
	}
	wg.Wait()

	assert.Zero(t, table.Len())
	assert.Equal(t, workers*flows, freed)
}
