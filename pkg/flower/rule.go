package flower

import (
	"math/bits"
	"net/netip"
)

// DissectorKey names one kind of packet field a classifier rule can match.
type DissectorKey uint

const (
	KeyControl DissectorKey = iota
	KeyBasic
	KeyIPv4Addrs
	KeyIPv6Addrs
	KeyPorts
	KeyICMP
	KeyEthAddrs
	KeyTCP
	KeyIP
	KeyVLAN
	KeyCVLAN
	KeyMPLS
	KeyARP
	KeyEncKeyID
	KeyEncIPv4Addrs
	KeyEncIPv6Addrs
	KeyEncControl
	KeyEncPorts
	KeyEncIP
	KeyEncOpts
	KeyCT
	keyMax
)

var dissectorKeyNames = [keyMax]string{
	"control", "basic", "ipv4_addrs", "ipv6_addrs", "ports", "icmp",
	"eth_addrs", "tcp", "ip", "vlan", "cvlan", "mpls", "arp",
	"enc_keyid", "enc_ipv4_addrs", "enc_ipv6_addrs", "enc_control",
	"enc_ports", "enc_ip", "enc_opts", "ct",
}

func (k DissectorKey) String() string {
	if k < keyMax {
		return dissectorKeyNames[k]
	}
	return "unknown"
}

// KeySet is the set of dissector keys a rule uses.
type KeySet uint64

func NewKeySet(keys ...DissectorKey) KeySet {
	var s KeySet
	for _, k := range keys {
		s |= 1 << k
	}
	return s
}

func (s KeySet) Has(k DissectorKey) bool { return s&(1<<k) != 0 }

func (s *KeySet) Add(k DissectorKey) { *s |= 1 << k }

// First returns the lowest key of the set, used to name offending kinds.
func (s KeySet) First() DissectorKey { return DissectorKey(bits.TrailingZeros64(uint64(s))) }

// Match pairs the exact-match value of a field with its wildcard mask.
type Match[T any] struct {
	Key  T
	Mask T
}

type Control struct {
	AddrType uint16
	Flags    uint32
}

type Basic struct {
	NProto  uint16
	IPProto uint8
}

type IPv4Addrs struct {
	Src [4]byte
	Dst [4]byte
}

type IPv6Addrs struct {
	Src [16]byte
	Dst [16]byte
}

type Ports struct {
	Src uint16
	Dst uint16
}

type ICMP struct {
	Type uint8
	Code uint8
}

type EthAddrs struct {
	Dst [6]byte
	Src [6]byte
}

type TCP struct {
	Flags uint16
}

type IP struct {
	TOS uint8
	TTL uint8
}

type VLAN struct {
	ID       uint16
	Priority uint8
}

type MPLS struct {
	Label uint32
	TC    uint8
	BOS   uint8
	TTL   uint8
}

type KeyID struct {
	ID uint32
}

// EncOpts carries raw tunnel (GENEVE) option TLVs.
type EncOpts struct {
	Data []byte
}

// Netdev identifies the device a rule is bound to or redirects to.
type Netdev struct {
	Name   string
	Index  int
	PortID uint32
}

// Rule is one classifier rule as delivered by the rule source.
type Rule struct {
	Cookie  uint64
	Ingress Netdev
	Used    KeySet

	Control    Match[Control]
	Basic      Match[Basic]
	IPv4       Match[IPv4Addrs]
	IPv6       Match[IPv6Addrs]
	Ports      Match[Ports]
	ICMP       Match[ICMP]
	Eth        Match[EthAddrs]
	TCP        Match[TCP]
	IP         Match[IP]
	VLAN       Match[VLAN]
	MPLS       Match[MPLS]
	EncKeyID   Match[KeyID]
	EncIPv4    Match[IPv4Addrs]
	EncIPv6    Match[IPv6Addrs]
	EncControl Match[Control]
	EncPorts   Match[Ports]
	EncIP      Match[IP]
	EncOpts    Match[EncOpts]

	Actions []Action
}

type ActionKind int

const (
	ActionRedirect ActionKind = iota
	ActionDrop
	ActionVLANPush
	ActionVLANPop
	ActionMangleEth
	ActionTunnelEncap
	ActionTunnelDecap
)

type TunnelType uint8

const (
	TunnelNone   TunnelType = 0
	TunnelVXLAN  TunnelType = 2
	TunnelGENEVE TunnelType = 4
)

// TunnelKey describes the outer header of an encapsulation action.
type TunnelKey struct {
	Type TunnelType
	VNI  uint32
	Src  netip.Addr
	Dst  netip.Addr
	TOS  uint8
	TTL  uint8
}

// Action is one entry of a rule's action list.
type Action struct {
	Kind ActionKind

	// Redirect / TunnelEncap egress.
	Dev Netdev

	// VLANPush.
	VLANProto uint16
	VLANID    uint16
	VLANPrio  uint8

	// MangleEth.
	Eth     EthAddrs
	EthMask EthAddrs

	// TunnelEncap.
	Tunnel TunnelKey
}
