package flower

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskTableSharing(t *testing.T) {
	mt := newMaskTable()
	a := []byte{0xff, 0xff, 0, 0}
	b := []byte{0xff, 0, 0, 0}

	id1, first, err := mt.get(a)
	require.NoError(t, err)
	assert.True(t, first)
	assert.Equal(t, uint8(maskIDMax), id1)

	id2, first, err := mt.get(append([]byte(nil), a...))
	require.NoError(t, err)
	assert.False(t, first)
	assert.Equal(t, id1, id2)

	id3, first, err := mt.get(b)
	require.NoError(t, err)
	assert.True(t, first)
	assert.NotEqual(t, id1, id3)
	assert.Equal(t, 2, mt.len())

	assert.False(t, mt.put(id1))
	assert.True(t, mt.put(id1))
	assert.False(t, mt.put(id1), "unknown id")
	assert.True(t, mt.put(id3))
	assert.Zero(t, mt.len())
}

func TestMaskTableExhaustion(t *testing.T) {
	mt := newMaskTable()
	seen := make(map[uint8]bool)
	for i := 0; i < maskIDMax; i++ {
		id, first, err := mt.get([]byte{byte(i), 1})
		require.NoError(t, err)
		require.True(t, first)
		require.False(t, seen[id], "id %d handed out twice", id)
		require.NotZero(t, id)
		seen[id] = true
	}

	_, _, err := mt.get([]byte{0, 2})
	assert.ErrorIs(t, err, ErrNoMaskIDs)
	assert.ErrorIs(t, err, ErrResourceExhausted)

	assert.True(t, mt.put(7))
	id, first, err := mt.get([]byte{0, 2})
	require.NoError(t, err)
	assert.True(t, first)
	assert.Equal(t, uint8(7), id)
}
