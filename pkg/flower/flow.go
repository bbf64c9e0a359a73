package flower

import (
	"bytes"
	"net/netip"

	"github.com/corigine/flower-offload/pkg/nfp"
)

// FlowPayload is a compiled flow: the wire buffers and the host side state
// needed to delete it again.
type FlowPayload struct {
	Cookie    uint64
	HostCtxID uint32
	Ingress   int
	Key       []byte
	Mask      []byte
	Actions   []byte
	MaskID    uint8
	Meta      nfp.RuleMetadata

	// TunnelIPv4 is valid once a decap endpoint was registered for the flow.
	TunnelIPv4 netip.Addr
}

// BuildPayload allocates and fills the key, mask and action buffers of a
// rule classified as kl.
func BuildPayload(kl KeyLayers, rule *Rule, maskID uint8) (*FlowPayload, error) {
	acts, shortcut, err := CompileActions(rule)
	if err != nil {
		return nil, err
	}
	key, mask := encodeMatch(kl, rule, maskID)

	return &FlowPayload{
		Cookie:  rule.Cookie,
		Ingress: rule.Ingress.Index,
		Key:     key,
		Mask:    mask,
		Actions: acts,
		MaskID:  maskID,
		Meta: nfp.RuleMetadata{
			KeyLen:     len(key),
			MaskLen:    len(mask),
			ActLen:     len(acts),
			HostCookie: rule.Cookie,
			Shortcut:   shortcut,
		},
	}, nil
}

// SetMaskID stamps the allocated mask id into the key.
func (p *FlowPayload) SetMaskID(id uint8) {
	p.MaskID = id
	p.Key[1] = id
}

// SameMatch reports whether two payloads program the same key, mask and
// actions into the firmware. The mask id byte of the keys is not compared.
func (p *FlowPayload) SameMatch(o *FlowPayload) bool {
	if len(p.Key) != len(o.Key) || len(p.Key) < nfp.MetaTciSize {
		return false
	}
	return p.Key[0] == o.Key[0] && bytes.Equal(p.Key[2:], o.Key[2:]) &&
		bytes.Equal(p.Mask, o.Mask) && bytes.Equal(p.Actions, o.Actions) &&
		p.Meta.Shortcut == o.Meta.Shortcut
}

// Entry decodes the payload into its structured form.
func (p *FlowPayload) Entry(names func(uint32) string) (*nfp.FlowEntry, error) {
	return nfp.DecodeFlowEntry(p.Meta, p.Key, p.Mask, p.Actions, names)
}
