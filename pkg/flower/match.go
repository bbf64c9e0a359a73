package flower

import (
	"github.com/google/gopacket/layers"

	"github.com/corigine/flower-offload/pkg/nfp"
	"github.com/corigine/flower-offload/pkg/util"
)

// compileMatch fills the key and mask structures of the layers in kl.
func compileMatch(kl KeyLayers, rule *Rule, maskID uint8) (key, mask nfp.FlowKey) {
	key.Meta = nfp.MetaTci{KeyLayer: kl.Layer, MaskID: maskID}
	mask.Meta = nfp.MetaTci{KeyLayer: kl.Layer, MaskID: 0xFF}
	if rule.Used.Has(KeyVLAN) {
		key.Meta.Tci, mask.Meta.Tci = compileVLAN(rule.VLAN)
	}
	key.Ext.KeyLayer2 = kl.Layer2
	mask.Ext.KeyLayer2 = kl.Layer2

	key.Port.Port = rule.Ingress.PortID
	if tt := kl.TunnelType(); tt != TunnelNone {
		key.Port.Port = nfp.TunnelPort(uint8(tt))
	}
	mask.Port.Port = 0xFFFFFFFF

	if kl.Layer&nfp.NFP_FLOWER_LAYER_MAC != 0 {
		key.Mac, mask.Mac = compileMac(rule)
	}
	if kl.Layer&nfp.NFP_FLOWER_LAYER_TP != 0 && rule.Used.Has(KeyPorts) {
		key.Tp = nfp.TpPorts{Src: rule.Ports.Key.Src, Dst: rule.Ports.Key.Dst}
		mask.Tp = nfp.TpPorts{Src: rule.Ports.Mask.Src, Dst: rule.Ports.Mask.Dst}
	}
	if kl.Layer&nfp.NFP_FLOWER_LAYER_IPV4 != 0 {
		key.IPv4.IPExt, mask.IPv4.IPExt = compileIPExt(rule)
		if rule.Used.Has(KeyIPv4Addrs) {
			key.IPv4.Src, key.IPv4.Dst = rule.IPv4.Key.Src, rule.IPv4.Key.Dst
			mask.IPv4.Src, mask.IPv4.Dst = rule.IPv4.Mask.Src, rule.IPv4.Mask.Dst
		}
	}
	if kl.Layer&nfp.NFP_FLOWER_LAYER_IPV6 != 0 {
		key.IPv6.IPExt, mask.IPv6.IPExt = compileIPExt(rule)
		if rule.Used.Has(KeyIPv6Addrs) {
			key.IPv6.Src, key.IPv6.Dst = rule.IPv6.Key.Src, rule.IPv6.Key.Dst
			mask.IPv6.Src, mask.IPv6.Dst = rule.IPv6.Mask.Src, rule.IPv6.Mask.Dst
		}
	}
	if kl.TunnelType() != TunnelNone {
		key.Tun, mask.Tun = compileTunnel(rule)
	}
	if kl.Layer2&nfp.NFP_FLOWER_LAYER2_GENEVE_OP != 0 {
		copy(key.Geneve.Data[:], rule.EncOpts.Key.Data)
		copy(mask.Geneve.Data[:], rule.EncOpts.Mask.Data)
	}
	return key, mask
}

func compileVLAN(m Match[VLAN]) (key, mask uint16) {
	key = nfp.NFP_FLOWER_MASK_VLAN_PRESENT |
		uint16(m.Key.Priority)<<13&nfp.NFP_FLOWER_MASK_VLAN_PRIO |
		m.Key.ID&nfp.NFP_FLOWER_MASK_VLAN_VID
	mask = nfp.NFP_FLOWER_MASK_VLAN_PRESENT |
		uint16(m.Mask.Priority)<<13&nfp.NFP_FLOWER_MASK_VLAN_PRIO |
		m.Mask.ID&nfp.NFP_FLOWER_MASK_VLAN_VID
	return key, mask
}

func mplsLse(m MPLS) uint32 {
	return m.Label<<12&nfp.NFP_FLOWER_MASK_MPLS_LB |
		uint32(m.TC)<<9&nfp.NFP_FLOWER_MASK_MPLS_TC |
		uint32(m.BOS)<<8&nfp.NFP_FLOWER_MASK_MPLS_BOS |
		nfp.NFP_FLOWER_MASK_MPLS_Q
}

func compileMac(rule *Rule) (key, mask nfp.MacMpls) {
	if rule.Used.Has(KeyEthAddrs) {
		key.Dst, key.Src = rule.Eth.Key.Dst, rule.Eth.Key.Src
		mask.Dst, mask.Src = rule.Eth.Mask.Dst, rule.Eth.Mask.Src
	}
	switch {
	case rule.Used.Has(KeyMPLS):
		key.MplsLse = mplsLse(rule.MPLS.Key)
		mask.MplsLse = mplsLse(rule.MPLS.Mask)
	case isMPLS(rule.Basic.Key.NProto) && rule.Basic.Mask.NProto != 0:
		// Any MPLS packet: only the present bit is matched.
		key.MplsLse = nfp.NFP_FLOWER_MASK_MPLS_Q
		mask.MplsLse = nfp.NFP_FLOWER_MASK_MPLS_Q
	}
	return key, mask
}

func isMPLS(nproto uint16) bool {
	return layers.EthernetType(nproto) == layers.EthernetTypeMPLSUnicast ||
		layers.EthernetType(nproto) == layers.EthernetTypeMPLSMulticast
}

func tcpFlags(flags uint16) uint8 {
	out := uint8(flags & (TCPFlagFIN | TCPFlagSYN | TCPFlagRST | TCPFlagPSH))
	if flags&TCPFlagURG != 0 {
		out |= nfp.NFP_FL_TCP_FLAG_URG
	}
	return out
}

func fragFlags(flags uint32) uint8 {
	var out uint8
	if flags&ControlIsFragment != 0 {
		out |= nfp.NFP_FL_IP_FRAGMENTED
	}
	if flags&ControlFirstFrag != 0 {
		out |= nfp.NFP_FL_IP_FRAG_FIRST
	}
	return out
}

func compileIPExt(rule *Rule) (key, mask nfp.IPExt) {
	if rule.Used.Has(KeyBasic) {
		key.Proto, mask.Proto = rule.Basic.Key.IPProto, rule.Basic.Mask.IPProto
	}
	if rule.Used.Has(KeyIP) {
		key.Tos, key.Ttl = rule.IP.Key.TOS, rule.IP.Key.TTL
		mask.Tos, mask.Ttl = rule.IP.Mask.TOS, rule.IP.Mask.TTL
	}
	if rule.Used.Has(KeyTCP) {
		key.Flags |= tcpFlags(rule.TCP.Key.Flags)
		mask.Flags |= tcpFlags(rule.TCP.Mask.Flags)
	}
	if rule.Used.Has(KeyControl) {
		key.Flags |= fragFlags(rule.Control.Key.Flags)
		mask.Flags |= fragFlags(rule.Control.Mask.Flags)
	}
	return key, mask
}

func compileTunnel(rule *Rule) (key, mask nfp.UDPTun) {
	key.Src, key.Dst = rule.EncIPv4.Key.Src, rule.EncIPv4.Key.Dst
	mask.Src, mask.Dst = rule.EncIPv4.Mask.Src, rule.EncIPv4.Mask.Dst
	if rule.Used.Has(KeyEncIP) {
		key.Tos, key.Ttl = rule.EncIP.Key.TOS, rule.EncIP.Key.TTL
		mask.Tos, mask.Ttl = rule.EncIP.Mask.TOS, rule.EncIP.Mask.TTL
	}
	if rule.Used.Has(KeyEncKeyID) {
		key.TunID = rule.EncKeyID.Key.ID << nfp.NFP_FL_TUN_VNI_OFFSET
		mask.TunID = rule.EncKeyID.Mask.ID << nfp.NFP_FL_TUN_VNI_OFFSET
	}
	return key, mask
}

// encodeMatch serialises key and mask. Key bits outside the mask are
// cleared so equal matches always produce equal key bytes.
func encodeMatch(kl KeyLayers, rule *Rule, maskID uint8) (keyBuf, maskBuf []byte) {
	key, mask := compileMatch(kl, rule, maskID)
	maskBuf = mask.Encode()
	keyBuf = util.MaskApply(key.Encode(), maskBuf)
	return keyBuf, maskBuf
}
