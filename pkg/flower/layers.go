package flower

import (
	"fmt"
	"strings"

	"github.com/google/gopacket/layers"

	"github.com/corigine/flower-offload/pkg/nfp"
)

// Capabilities is the feature set advertised by the firmware at attach.
type Capabilities uint64

const (
	CapVLANPCP Capabilities = 1 << iota
	CapGeneve
	CapGeneveOpt
)

var capabilityNames = map[string]Capabilities{
	"vlan_pcp":   CapVLANPCP,
	"geneve":     CapGeneve,
	"geneve_opt": CapGeneveOpt,
}

func (c Capabilities) Has(f Capabilities) bool { return c&f == f }

// ParseCapabilities turns names such as "geneve,vlan_pcp" into a bitmask.
func ParseCapabilities(names []string) (Capabilities, error) {
	var caps Capabilities
	for _, name := range names {
		name = strings.TrimSpace(strings.ToLower(name))
		if name == "" {
			continue
		}
		c, ok := capabilityNames[name]
		if !ok {
			return 0, fmt.Errorf("unknown firmware capability %q", name)
		}
		caps |= c
	}
	return caps, nil
}

// KeyLayers is the set of wire layers a rule needs and the size of its key.
type KeyLayers struct {
	Layer   uint8
	Layer2  uint32
	KeySize int
}

const (
	VXLANPort  = 4789
	GENEVEPort = 6081

	// Flow dissector control flags.
	ControlIsFragment = 1 << 0
	ControlFirstFrag  = 1 << 1

	// TCP header flag bits as seen by the classifier.
	TCPFlagFIN = 0x01
	TCPFlagSYN = 0x02
	TCPFlagRST = 0x04
	TCPFlagPSH = 0x08
	TCPFlagURG = 0x20
)

var (
	supportedKeys = NewKeySet(
		KeyControl, KeyBasic, KeyIPv4Addrs, KeyIPv6Addrs, KeyPorts, KeyTCP,
		KeyEthAddrs, KeyVLAN, KeyMPLS, KeyIP,
		KeyEncKeyID, KeyEncIPv4Addrs, KeyEncIPv6Addrs, KeyEncControl,
		KeyEncPorts, KeyEncOpts, KeyEncIP,
	)
	tunnelKeys = NewKeySet(
		KeyEncKeyID, KeyEncIPv4Addrs, KeyEncIPv6Addrs, KeyEncControl,
		KeyEncPorts, KeyEncOpts, KeyEncIP,
	)
	tunnelRequiredKeys = NewKeySet(KeyEncControl, KeyEncIPv4Addrs, KeyEncPorts)
	higherThanMacKeys  = NewKeySet(KeyIPv4Addrs, KeyIPv6Addrs, KeyPorts, KeyIP)

	supportedTCPFlags = uint16(TCPFlagFIN | TCPFlagSYN | TCPFlagRST | TCPFlagPSH | TCPFlagURG)
	supportedCtlFlags = uint32(ControlIsFragment | ControlFirstFrag)
)

func (l *KeyLayers) add(layer uint8, size int) {
	l.Layer |= layer
	l.KeySize += size
}

func (l *KeyLayers) add2(layer2 uint32, size int) {
	if l.Layer&nfp.NFP_FLOWER_LAYER_EXT_META == 0 {
		l.add(nfp.NFP_FLOWER_LAYER_EXT_META, nfp.ExtMetaSize)
	}
	l.Layer2 |= layer2
	l.KeySize += size
}

// CalculateKeyLayers decides whether the firmware can match on rule and
// which key layers it needs. Rejections wrap ErrUnsupported.
func CalculateKeyLayers(rule *Rule, caps Capabilities) (KeyLayers, error) {
	used := rule.Used
	if extra := used &^ supportedKeys; extra != 0 {
		return KeyLayers{}, unsupported("match on %s is not supported", extra.First())
	}
	if used&tunnelKeys != 0 && used&tunnelRequiredKeys != tunnelRequiredKeys {
		return KeyLayers{}, unsupported("tunnel match requires enc_control, enc_ipv4_addrs and enc_ports")
	}

	kl := KeyLayers{
		Layer:   nfp.NFP_FLOWER_LAYER_PORT,
		KeySize: nfp.MetaTciSize + nfp.InPortSize,
	}

	if used.Has(KeyEthAddrs) || used.Has(KeyMPLS) {
		kl.add(nfp.NFP_FLOWER_LAYER_MAC, nfp.MacMplsSize)
	}

	if used.Has(KeyVLAN) && rule.VLAN.Mask.Priority != 0 && !caps.Has(CapVLANPCP) {
		return KeyLayers{}, unsupported("vlan priority match requires firmware vlan pcp support")
	}

	if used.Has(KeyEncControl) {
		if err := tunnelLayers(rule, caps, &kl); err != nil {
			return KeyLayers{}, err
		}
	}

	var nproto uint16
	if used.Has(KeyBasic) && rule.Basic.Mask.NProto != 0 {
		nproto = rule.Basic.Key.NProto
		switch layers.EthernetType(nproto) {
		case layers.EthernetTypeIPv4:
			kl.add(nfp.NFP_FLOWER_LAYER_IPV4, nfp.IPv4Size)
		case layers.EthernetTypeIPv6:
			kl.add(nfp.NFP_FLOWER_LAYER_IPV6, nfp.IPv6Size)
		case layers.EthernetTypeARP:
			return KeyLayers{}, unsupported("ARP is not supported")
		case layers.EthernetTypeMPLSUnicast, layers.EthernetTypeMPLSMulticast:
			if kl.Layer&nfp.NFP_FLOWER_LAYER_MAC == 0 {
				kl.add(nfp.NFP_FLOWER_LAYER_MAC, nfp.MacMplsSize)
			}
		case layers.EthernetTypeDot1Q:
		default:
			if used&higherThanMacKeys != 0 {
				return KeyLayers{}, unsupported("ethertype 0x%04x with L3/L4 match", nproto)
			}
		}
	} else if used&higherThanMacKeys != 0 {
		return KeyLayers{}, unsupported("L3/L4 match without an IPv4 or IPv6 ethertype")
	}

	if used.Has(KeyBasic) && rule.Basic.Mask.IPProto != 0 {
		switch layers.IPProtocol(rule.Basic.Key.IPProto) {
		case layers.IPProtocolTCP, layers.IPProtocolUDP, layers.IPProtocolSCTP,
			layers.IPProtocolICMPv4, layers.IPProtocolICMPv6:
			kl.add(nfp.NFP_FLOWER_LAYER_TP, nfp.TpPortsSize)
		default:
			if used.Has(KeyPorts) || used.Has(KeyTCP) {
				return KeyLayers{}, unsupported("ip_proto %d with transport match", rule.Basic.Key.IPProto)
			}
		}
	}
	if used.Has(KeyPorts) && kl.Layer&nfp.NFP_FLOWER_LAYER_TP == 0 {
		return KeyLayers{}, unsupported("transport port match without a transport ip_proto")
	}

	if used.Has(KeyTCP) {
		flags := rule.TCP.Key.Flags
		if flags&^supportedTCPFlags != 0 {
			return KeyLayers{}, unsupported("tcp flags 0x%x not supported", flags)
		}
		if flags&(TCPFlagPSH|TCPFlagURG) != 0 && flags&(TCPFlagFIN|TCPFlagSYN|TCPFlagRST) == 0 {
			return KeyLayers{}, unsupported("PSH and URG are only supported with FIN, SYN or RST")
		}
		if !used.Has(KeyBasic) {
			return KeyLayers{}, unsupported("tcp flags match requires a preceding ip_proto match")
		}
		if kl.Layer&nfp.NFP_FLOWER_LAYER_TP == 0 {
			kl.add(nfp.NFP_FLOWER_LAYER_TP, nfp.TpPortsSize)
		}
		switch layers.EthernetType(nproto) {
		case layers.EthernetTypeIPv4:
			if kl.Layer&nfp.NFP_FLOWER_LAYER_IPV4 == 0 {
				kl.add(nfp.NFP_FLOWER_LAYER_IPV4, nfp.IPv4Size)
			}
		case layers.EthernetTypeIPv6:
			if kl.Layer&nfp.NFP_FLOWER_LAYER_IPV6 == 0 {
				kl.add(nfp.NFP_FLOWER_LAYER_IPV6, nfp.IPv6Size)
			}
		default:
			return KeyLayers{}, unsupported("tcp flags match requires an IPv4 or IPv6 ethertype")
		}
	}

	if used.Has(KeyControl) && rule.Control.Key.Flags&^supportedCtlFlags != 0 {
		return KeyLayers{}, unsupported("control flags 0x%x not supported", rule.Control.Key.Flags)
	}

	if kl.KeySize > nfp.MaxKeySize {
		return KeyLayers{}, unsupported("key size %d exceeds %d", kl.KeySize, nfp.MaxKeySize)
	}
	return kl, nil
}

// tunnelLayers adds the outer header layers of a VXLAN or GENEVE match.
func tunnelLayers(rule *Rule, caps Capabilities, kl *KeyLayers) error {
	enc := rule.EncControl
	if enc.Mask.AddrType != 0xffff || enc.Key.AddrType != uint16(KeyIPv4Addrs) {
		return unsupported("only IPv4 tunnels are supported")
	}
	if rule.EncIPv4.Mask.Dst != [4]byte{0xff, 0xff, 0xff, 0xff} {
		return unsupported("tunnel destination address must be an exact match")
	}
	if rule.EncPorts.Mask.Dst != 0xffff {
		return unsupported("tunnel destination port must be an exact match")
	}

	switch rule.EncPorts.Key.Dst {
	case VXLANPort:
		if rule.Used.Has(KeyEncOpts) {
			return unsupported("tunnel options are not supported on VXLAN")
		}
		kl.add(nfp.NFP_FLOWER_LAYER_VXLAN, nfp.UDPTunSize)
	case GENEVEPort:
		if !caps.Has(CapGeneve) {
			return unsupported("firmware does not support GENEVE")
		}
		kl.add2(nfp.NFP_FLOWER_LAYER2_GENEVE, nfp.UDPTunSize)
		if !rule.Used.Has(KeyEncOpts) {
			return nil
		}
		if !caps.Has(CapGeneveOpt) {
			return unsupported("firmware does not support GENEVE options")
		}
		if len(rule.EncOpts.Key.Data) > nfp.MaxGeneveOptKey {
			return unsupported("GENEVE options of %d bytes exceed %d", len(rule.EncOpts.Key.Data), nfp.MaxGeneveOptKey)
		}
		kl.add2(nfp.NFP_FLOWER_LAYER2_GENEVE_OP, nfp.GeneveOptsSize)
	default:
		return unsupported("tunnel port %d is not a known tunnel type", rule.EncPorts.Key.Dst)
	}
	return nil
}

// TunnelType returns the tunnel type selected by the layer flags.
func (l KeyLayers) TunnelType() TunnelType {
	switch {
	case l.Layer&nfp.NFP_FLOWER_LAYER_VXLAN != 0:
		return TunnelVXLAN
	case l.Layer2&nfp.NFP_FLOWER_LAYER2_GENEVE != 0:
		return TunnelGENEVE
	}
	return TunnelNone
}
