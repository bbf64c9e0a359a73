package nfp

import (
	"encoding/binary"
)

// MetaTci is the first word of every key and mask.
type MetaTci struct {
	KeyLayer uint8  `json:"keyLayer"`
	MaskID   uint8  `json:"maskId"`
	Tci      uint16 `json:"tci"`
}

func (m MetaTci) Append(b []byte) []byte {
	b = append(b, m.KeyLayer, m.MaskID)
	return binary.BigEndian.AppendUint16(b, m.Tci)
}

// ExtMeta follows MetaTci when NFP_FLOWER_LAYER_EXT_META is set.
type ExtMeta struct {
	KeyLayer2 uint32 `json:"keyLayer2"`
}

func (e ExtMeta) Append(b []byte) []byte {
	return binary.BigEndian.AppendUint32(b, e.KeyLayer2)
}

type InPort struct {
	Port uint32 `json:"port"`
}

func (p InPort) Append(b []byte) []byte {
	return binary.BigEndian.AppendUint32(b, p.Port)
}

type MacMpls struct {
	Dst     [6]byte `json:"dst"`
	Src     [6]byte `json:"src"`
	MplsLse uint32  `json:"mplsLse"`
}

func (m MacMpls) Append(b []byte) []byte {
	b = append(b, m.Dst[:]...)
	b = append(b, m.Src[:]...)
	return binary.BigEndian.AppendUint32(b, m.MplsLse)
}

type TpPorts struct {
	Src uint16 `json:"src"`
	Dst uint16 `json:"dst"`
}

func (t TpPorts) Append(b []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, t.Src)
	return binary.BigEndian.AppendUint16(b, t.Dst)
}

// IPExt is shared by the IPv4 and IPv6 layers. Flags carries the TCP flag
// and fragmentation bits.
type IPExt struct {
	Tos   uint8 `json:"tos"`
	Proto uint8 `json:"proto"`
	Ttl   uint8 `json:"ttl"`
	Flags uint8 `json:"flags"`
}

func (e IPExt) Append(b []byte) []byte {
	return append(b, e.Tos, e.Proto, e.Ttl, e.Flags)
}

type IPv4 struct {
	IPExt
	Src [4]byte `json:"src"`
	Dst [4]byte `json:"dst"`
}

func (ip IPv4) Append(b []byte) []byte {
	b = ip.IPExt.Append(b)
	b = append(b, ip.Src[:]...)
	return append(b, ip.Dst[:]...)
}

type IPv6 struct {
	IPExt
	FlowLabelExthdr uint32   `json:"flowLabelExthdr"`
	Src             [16]byte `json:"src"`
	Dst             [16]byte `json:"dst"`
}

func (ip IPv6) Append(b []byte) []byte {
	b = ip.IPExt.Append(b)
	b = binary.BigEndian.AppendUint32(b, ip.FlowLabelExthdr)
	b = append(b, ip.Src[:]...)
	return append(b, ip.Dst[:]...)
}

// UDPTun is the outer header match of a VXLAN or GENEVE flow. TunID holds
// the VNI shifted by NFP_FL_TUN_VNI_OFFSET.
type UDPTun struct {
	Src   [4]byte `json:"src"`
	Dst   [4]byte `json:"dst"`
	Tos   uint8   `json:"tos"`
	Ttl   uint8   `json:"ttl"`
	TunID uint32  `json:"tunId"`
}

func (t UDPTun) Append(b []byte) []byte {
	b = append(b, t.Src[:]...)
	b = append(b, t.Dst[:]...)
	b = append(b, t.Tos, t.Ttl)
	b = append(b, 0, 0, 0, 0, 0, 0)
	return binary.BigEndian.AppendUint32(b, t.TunID)
}

// VNI returns the 24 bit virtual network identifier.
func (t UDPTun) VNI() uint32 {
	return t.TunID >> NFP_FL_TUN_VNI_OFFSET
}

type GeneveOpts struct {
	Data [GeneveOptsSize]byte `json:"data"`
}

func (g GeneveOpts) Append(b []byte) []byte {
	return append(b, g.Data[:]...)
}

// FlowKey is the structured form of a key or a mask buffer. Which members
// are meaningful is given by Meta.KeyLayer and Ext.KeyLayer2.
type FlowKey struct {
	Meta   MetaTci    `json:"meta"`
	Ext    ExtMeta    `json:"ext"`
	Port   InPort     `json:"port"`
	Mac    MacMpls    `json:"mac"`
	Tp     TpPorts    `json:"tp"`
	IPv4   IPv4       `json:"ipv4"`
	IPv6   IPv6       `json:"ipv6"`
	Tun    UDPTun     `json:"tun"`
	Geneve GeneveOpts `json:"geneve"`
}

// Layers returns the mandatory and the second level layer flags.
func (k *FlowKey) Layers() (uint8, uint32) {
	return k.Meta.KeyLayer, k.Ext.KeyLayer2
}

// HasTunnel reports whether the key carries an IPv4 UDP tunnel header.
func (k *FlowKey) HasTunnel() bool {
	return k.Meta.KeyLayer&NFP_FLOWER_LAYER_VXLAN != 0 ||
		k.Ext.KeyLayer2&NFP_FLOWER_LAYER2_GENEVE != 0
}

// KeySize returns the serialised size implied by the layer flags.
func KeySize(layer uint8, layer2 uint32) int {
	size := MetaTciSize + InPortSize
	if layer&NFP_FLOWER_LAYER_EXT_META != 0 {
		size += ExtMetaSize
	}
	if layer&NFP_FLOWER_LAYER_MAC != 0 {
		size += MacMplsSize
	}
	if layer&NFP_FLOWER_LAYER_TP != 0 {
		size += TpPortsSize
	}
	if layer&NFP_FLOWER_LAYER_IPV4 != 0 {
		size += IPv4Size
	}
	if layer&NFP_FLOWER_LAYER_IPV6 != 0 {
		size += IPv6Size
	}
	if layer&NFP_FLOWER_LAYER_VXLAN != 0 || layer2&NFP_FLOWER_LAYER2_GENEVE != 0 {
		size += UDPTunSize
	}
	if layer2&NFP_FLOWER_LAYER2_GENEVE_OP != 0 {
		size += GeneveOptsSize
	}
	return size
}

// Encode writes the layers selected by the meta words in firmware order:
// meta_tci, ext_meta, in_port, mac_mpls, tp_ports, ipv4, ipv6, udp tunnel,
// geneve options. The result is exactly KeySize bytes long.
func (k *FlowKey) Encode() []byte {
	layer, layer2 := k.Layers()
	b := make([]byte, 0, KeySize(layer, layer2))

	b = k.Meta.Append(b)
	if layer&NFP_FLOWER_LAYER_EXT_META != 0 {
		b = k.Ext.Append(b)
	}
	b = k.Port.Append(b)
	if layer&NFP_FLOWER_LAYER_MAC != 0 {
		b = k.Mac.Append(b)
	}
	if layer&NFP_FLOWER_LAYER_TP != 0 {
		b = k.Tp.Append(b)
	}
	if layer&NFP_FLOWER_LAYER_IPV4 != 0 {
		b = k.IPv4.Append(b)
	}
	if layer&NFP_FLOWER_LAYER_IPV6 != 0 {
		b = k.IPv6.Append(b)
	}
	if k.HasTunnel() {
		b = k.Tun.Append(b)
	}
	if layer2&NFP_FLOWER_LAYER2_GENEVE_OP != 0 {
		b = k.Geneve.Append(b)
	}
	return b
}
