package flower

import (
	"encoding/binary"

	"github.com/google/gopacket/layers"

	"github.com/corigine/flower-offload/pkg/nfp"
)

const (
	defaultTunnelTTL = 64
	ethPTeb          = 0x6558
)

// maxActionBytes is the largest action list the u8 act_len metadata field
// can describe.
const maxActionBytes = min(nfp.MaxActionSize, nfp.MaxLongWords<<nfp.NFP_FL_LW_SIZ)

type actionBuilder struct {
	buf      []byte
	lastOut  int
	tunnel   TunnelType
	preTun   bool
	shortcut uint32
}

func (ab *actionBuilder) grow(b []byte) error {
	if len(b) > maxActionBytes {
		return ErrActionsTooLarge
	}
	ab.buf = b
	return nil
}

func (ab *actionBuilder) output(a Action) error {
	port := a.Dev.PortID
	if ab.tunnel != TunnelNone {
		port = nfp.TunnelPort(uint8(ab.tunnel))
		ab.tunnel = TunnelNone
	} else if port == 0 {
		return unsupported("redirect to %s which is not an offloaded port", a.Dev.Name)
	}
	ab.lastOut = len(ab.buf)
	return ab.grow(nfp.AppendOutput(ab.buf, port, false))
}

// preTunnel puts the pre-tunnel action in front of the list. The firmware
// only looks for it in the first slot.
func (ab *actionBuilder) preTunnel(dst [4]byte) error {
	pre := nfp.AppendPreTunnel(make([]byte, 0, nfp.PreTunnelActSize+len(ab.buf)), nfp.ActionPreTunnel{IPv4Dst: dst})
	if ab.lastOut >= 0 {
		ab.lastOut += nfp.PreTunnelActSize
	}
	ab.preTun = true
	return ab.grow(append(pre, ab.buf...))
}

func (ab *actionBuilder) encap(t TunnelKey) error {
	if t.Type != TunnelVXLAN && t.Type != TunnelGENEVE {
		return unsupported("tunnel encap type %d", t.Type)
	}
	if !t.Dst.Is4() {
		return unsupported("only IPv4 tunnel encap is supported")
	}
	if ab.preTun {
		return unsupported("only one tunnel encap per flow")
	}
	if err := ab.preTunnel(t.Dst.As4()); err != nil {
		return err
	}

	set := nfp.ActionSetTunnel{
		TunID:   uint64(t.VNI),
		TunType: uint8(t.Type),
		Ttl:     t.TTL,
		Tos:     t.TOS,
	}
	if set.Ttl == 0 {
		set.Ttl = defaultTunnelTTL
	}
	if t.Type == TunnelGENEVE {
		set.TunProto = ethPTeb
	}
	ab.tunnel = t.Type
	return ab.grow(nfp.AppendSetTunnel(ab.buf, set))
}

// CompileActions serialises the action list of rule. A drop is expressed
// through the returned shortcut and adds no action bytes.
func CompileActions(rule *Rule) ([]byte, uint32, error) {
	ab := &actionBuilder{lastOut: -1, shortcut: nfp.NFP_FL_SC_ACT_NULL}

	for _, a := range rule.Actions {
		var err error
		switch a.Kind {
		case ActionRedirect:
			err = ab.output(a)
		case ActionDrop:
			ab.shortcut = nfp.NFP_FL_SC_ACT_DROP
		case ActionVLANPush:
			tpid := a.VLANProto
			if tpid == 0 {
				tpid = uint16(layers.EthernetTypeDot1Q)
			}
			err = ab.grow(nfp.AppendPushVlan(ab.buf, nfp.ActionPushVlan{
				Tpid: tpid,
				Tci: uint16(a.VLANPrio)<<13&nfp.NFP_FLOWER_MASK_VLAN_PRIO |
					a.VLANID&nfp.NFP_FLOWER_MASK_VLAN_VID,
			}))
		case ActionVLANPop:
			err = ab.grow(nfp.AppendPopVlan(ab.buf))
		case ActionMangleEth:
			err = ab.grow(nfp.AppendSetEth(ab.buf, nfp.ActionSetEth{
				DstMask: a.EthMask.Dst,
				SrcMask: a.EthMask.Src,
				Dst:     a.Eth.Dst,
				Src:     a.Eth.Src,
			}))
		case ActionTunnelEncap:
			err = ab.encap(a.Tunnel)
		case ActionTunnelDecap:
			if !rule.Used.Has(KeyEncControl) {
				return nil, 0, unsupported("tunnel decap without a tunnel match")
			}
		default:
			return nil, 0, unsupported("action kind %d", a.Kind)
		}
		if err != nil {
			return nil, 0, err
		}
	}

	if ab.tunnel != TunnelNone {
		return nil, 0, unsupported("tunnel encap without an egress port")
	}
	if len(ab.buf) == 0 && ab.shortcut != nfp.NFP_FL_SC_ACT_DROP {
		return nil, 0, unsupported("flow has no offloadable action")
	}
	if ab.lastOut >= 0 {
		flags := binary.BigEndian.Uint16(ab.buf[ab.lastOut+2:])
		binary.BigEndian.PutUint16(ab.buf[ab.lastOut+2:], flags|nfp.NFP_FL_OUT_FLAGS_LAST)
	}
	return ab.buf, ab.shortcut, nil
}
