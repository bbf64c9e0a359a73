package nfp

import (
	"encoding/binary"
	"fmt"
)

type keyReader struct {
	buf []byte
	off int
}

func (r *keyReader) next(n int, layer string) ([]byte, error) {
	if r.off+n > len(r.buf) {
		return nil, fmt.Errorf("Flow key too short for %s layer at offset %d", layer, r.off)
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// DecodeKey parses a key or mask buffer produced by FlowKey.Encode. The
// walk follows the layer flags carried in the leading meta words.
func DecodeKey(buf []byte) (*FlowKey, error) {
	var key FlowKey
	r := &keyReader{buf: buf}

	b, err := r.next(MetaTciSize, "meta")
	if err != nil {
		return nil, err
	}
	key.Meta.KeyLayer = b[0]
	key.Meta.MaskID = b[1]
	key.Meta.Tci = binary.BigEndian.Uint16(b[2:])
	layers := key.Meta.KeyLayer

	if layers&NFP_FLOWER_LAYER_EXT_META != 0 {
		if b, err = r.next(ExtMetaSize, "ext meta"); err != nil {
			return nil, err
		}
		key.Ext.KeyLayer2 = binary.BigEndian.Uint32(b)
	}
	extLayers := key.Ext.KeyLayer2

	if b, err = r.next(InPortSize, "port"); err != nil {
		return nil, err
	}
	key.Port.Port = binary.BigEndian.Uint32(b)

	if layers&NFP_FLOWER_LAYER_MAC != 0 {
		if b, err = r.next(MacMplsSize, "mac"); err != nil {
			return nil, err
		}
		copy(key.Mac.Dst[:], b[0:6])
		copy(key.Mac.Src[:], b[6:12])
		key.Mac.MplsLse = binary.BigEndian.Uint32(b[12:])
	}
	if layers&NFP_FLOWER_LAYER_TP != 0 {
		if b, err = r.next(TpPortsSize, "tp"); err != nil {
			return nil, err
		}
		key.Tp.Src = binary.BigEndian.Uint16(b[0:])
		key.Tp.Dst = binary.BigEndian.Uint16(b[2:])
	}
	if layers&NFP_FLOWER_LAYER_IPV4 != 0 {
		if b, err = r.next(IPv4Size, "ipv4"); err != nil {
			return nil, err
		}
		key.IPv4.IPExt = decodeIPExt(b)
		copy(key.IPv4.Src[:], b[4:8])
		copy(key.IPv4.Dst[:], b[8:12])
	}
	if layers&NFP_FLOWER_LAYER_IPV6 != 0 {
		if b, err = r.next(IPv6Size, "ipv6"); err != nil {
			return nil, err
		}
		key.IPv6.IPExt = decodeIPExt(b)
		key.IPv6.FlowLabelExthdr = binary.BigEndian.Uint32(b[4:])
		copy(key.IPv6.Src[:], b[8:24])
		copy(key.IPv6.Dst[:], b[24:40])
	}
	if key.HasTunnel() {
		if extLayers&NFP_FLOWER_LAYER2_TUN_IPV6 != 0 {
			return nil, fmt.Errorf("Flow key ipv6 tunnel layer is not supported")
		}
		if b, err = r.next(UDPTunSize, "tunnel"); err != nil {
			return nil, err
		}
		copy(key.Tun.Src[:], b[0:4])
		copy(key.Tun.Dst[:], b[4:8])
		key.Tun.Tos = b[8]
		key.Tun.Ttl = b[9]
		key.Tun.TunID = binary.BigEndian.Uint32(b[16:])
	}
	if extLayers&NFP_FLOWER_LAYER2_GENEVE_OP != 0 {
		if b, err = r.next(GeneveOptsSize, "geneve options"); err != nil {
			return nil, err
		}
		copy(key.Geneve.Data[:], b)
	}
	if r.off != len(buf) {
		return nil, fmt.Errorf("Flow key has %d trailing bytes", len(buf)-r.off)
	}
	return &key, nil
}

func decodeIPExt(b []byte) IPExt {
	return IPExt{Tos: b[0], Proto: b[1], Ttl: b[2], Flags: b[3]}
}
