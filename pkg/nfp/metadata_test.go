package nfp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToLongWords(t *testing.T) {
	tests := []struct {
		n       int
		want    uint8
		wantErr bool
	}{
		{0, 0, false},
		{4, 1, false},
		{40, 10, false},
		{MaxLongWords << NFP_FL_LW_SIZ, MaxLongWords, false},
		{3, 0, true},
		{42, 0, true},
		{-4, 0, true},
		{(MaxLongWords + 1) << NFP_FL_LW_SIZ, 0, true},
	}
	for _, tt := range tests {
		lw, err := ToLongWords(tt.n)
		if tt.wantErr {
			assert.Error(t, err, "length %d", tt.n)
			continue
		}
		require.NoError(t, err, "length %d", tt.n)
		assert.Equal(t, tt.want, lw)
		assert.Equal(t, tt.n, FromLongWords(lw))
	}
}

func TestRuleMetadata(t *testing.T) {
	meta := RuleMetadata{
		KeyLen:      40,
		MaskLen:     40,
		ActLen:      16,
		Flags:       NFP_FL_META_FLAG_MANAGE_MASK,
		HostCtxID:   9,
		HostCookie:  0x0001000200030004,
		FlowVersion: 3,
	}
	buf, err := meta.Append(nil)
	require.NoError(t, err)
	require.Len(t, buf, RuleMetadataSize)
	assert.Equal(t, []byte{10, 10, 4, 0x80, 0, 0, 0, 9}, buf[:8])

	got, err := DecodeRuleMetadata(buf)
	require.NoError(t, err)
	assert.Equal(t, meta, got)

	_, err = DecodeRuleMetadata(buf[:RuleMetadataSize-1])
	assert.Error(t, err)
}

func TestRuleMetadataRejectsUnalignedLength(t *testing.T) {
	tests := map[string]RuleMetadata{
		"key":     {KeyLen: 6},
		"mask":    {MaskLen: 2048},
		"actions": {ActLen: 10},
	}
	for name, meta := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := meta.Append(nil)
			assert.ErrorContains(t, err, name)
		})
	}
}
