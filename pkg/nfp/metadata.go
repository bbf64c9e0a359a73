package nfp

import (
	"encoding/binary"
	"fmt"
)

const RuleMetadataSize = 28

// RuleMetadata prefixes key, mask and actions in a flow control message.
// In memory the three lengths are bytes; on the wire they are long words.
type RuleMetadata struct {
	KeyLen      int    `json:"keyLen"`
	MaskLen     int    `json:"maskLen"`
	ActLen      int    `json:"actLen"`
	Flags       uint8  `json:"flags"`
	HostCtxID   uint32 `json:"hostCtxId"`
	HostCookie  uint64 `json:"hostCookie"`
	FlowVersion uint64 `json:"flowVersion"`
	Shortcut    uint32 `json:"shortcut"`
}

// Append writes the metadata with its lengths converted to long words.
func (m *RuleMetadata) Append(b []byte) ([]byte, error) {
	keyLw, err := ToLongWords(m.KeyLen)
	if err != nil {
		return nil, fmt.Errorf("key: %w", err)
	}
	maskLw, err := ToLongWords(m.MaskLen)
	if err != nil {
		return nil, fmt.Errorf("mask: %w", err)
	}
	actLw, err := ToLongWords(m.ActLen)
	if err != nil {
		return nil, fmt.Errorf("actions: %w", err)
	}

	b = append(b, keyLw, maskLw, actLw, m.Flags)
	b = binary.BigEndian.AppendUint32(b, m.HostCtxID)
	b = binary.BigEndian.AppendUint64(b, m.HostCookie)
	b = binary.BigEndian.AppendUint64(b, m.FlowVersion)
	return binary.BigEndian.AppendUint32(b, m.Shortcut), nil
}

// DecodeRuleMetadata reads a wire metadata block and restores byte units.
func DecodeRuleMetadata(b []byte) (RuleMetadata, error) {
	if len(b) < RuleMetadataSize {
		return RuleMetadata{}, fmt.Errorf("rule metadata too short: %d bytes", len(b))
	}
	return RuleMetadata{
		KeyLen:      FromLongWords(b[0]),
		MaskLen:     FromLongWords(b[1]),
		ActLen:      FromLongWords(b[2]),
		Flags:       b[3],
		HostCtxID:   binary.BigEndian.Uint32(b[4:]),
		HostCookie:  binary.BigEndian.Uint64(b[8:]),
		FlowVersion: binary.BigEndian.Uint64(b[16:]),
		Shortcut:    binary.BigEndian.Uint32(b[24:]),
	}, nil
}
