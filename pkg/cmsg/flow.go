package cmsg

import (
	"fmt"

	"github.com/corigine/flower-offload/pkg/flower"
	"github.com/corigine/flower-offload/pkg/nfp"
)

var flowOpTypes = map[flower.FlowOp]uint8{
	flower.FlowAdd: NFP_FLOWER_CMSG_TYPE_FLOW_ADD,
	flower.FlowDel: NFP_FLOWER_CMSG_TYPE_FLOW_DEL,
}

// EncodeFlow builds a flow message: header, rule metadata with lengths in
// long words, key, mask and actions. The payload is not modified.
func EncodeFlow(p *flower.FlowPayload, op flower.FlowOp) ([]byte, error) {
	t, ok := flowOpTypes[op]
	if !ok {
		return nil, fmt.Errorf("unknown flow op %d", op)
	}

	meta := p.Meta
	meta.KeyLen = len(p.Key)
	meta.MaskLen = len(p.Mask)
	meta.ActLen = len(p.Actions)

	size := HeaderSize + nfp.RuleMetadataSize + len(p.Key) + len(p.Mask) + len(p.Actions)
	b := make([]byte, 0, size)
	b = Header{Type: t, Version: NFP_FLOWER_CMSG_VER1}.Append(b)
	b, err := meta.Append(b)
	if err != nil {
		return nil, fmt.Errorf("flow %x: %w", p.Cookie, err)
	}
	b = append(b, p.Key...)
	b = append(b, p.Mask...)
	return append(b, p.Actions...), nil
}

// FlowMessage is a decoded flow message.
type FlowMessage struct {
	Type    uint8
	Meta    nfp.RuleMetadata
	Key     []byte
	Mask    []byte
	Actions []byte
}

// DecodeFlow splits a flow message back into its parts, lengths in bytes.
func DecodeFlow(msg []byte) (*FlowMessage, error) {
	h, err := ParseHeader(msg)
	if err != nil {
		return nil, err
	}
	switch h.Type {
	case NFP_FLOWER_CMSG_TYPE_FLOW_ADD, NFP_FLOWER_CMSG_TYPE_FLOW_MOD, NFP_FLOWER_CMSG_TYPE_FLOW_DEL:
	default:
		return nil, fmt.Errorf("not a flow message: %s", TypeName(h.Type))
	}
	body := msg[HeaderSize:]
	meta, err := nfp.DecodeRuleMetadata(body)
	if err != nil {
		return nil, err
	}
	body = body[nfp.RuleMetadataSize:]
	if len(body) != meta.KeyLen+meta.MaskLen+meta.ActLen {
		return nil, fmt.Errorf("flow message body is %d bytes, metadata says %d",
			len(body), meta.KeyLen+meta.MaskLen+meta.ActLen)
	}
	return &FlowMessage{
		Type:    h.Type,
		Meta:    meta,
		Key:     body[:meta.KeyLen],
		Mask:    body[meta.KeyLen : meta.KeyLen+meta.MaskLen],
		Actions: body[meta.KeyLen+meta.MaskLen:],
	}, nil
}
