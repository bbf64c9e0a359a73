//go:build linux

// Package tcsource turns TC flower filters installed on representor
// netdevs into offload rules and keeps the engine in step with them.
package tcsource

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/corigine/flower-offload/pkg/flower"
)

// Resolver maps an ifindex to a netdev of the card.
type Resolver interface {
	ResolveIndex(ifindex int) (flower.Netdev, bool)
}

// Cookie identifies a filter independently of the netdev it is bound to.
func Cookie(f *netlink.Flower) uint64 {
	attrs := f.Attrs()
	return uint64(attrs.Priority)<<32 | uint64(attrs.Handle)
}

func ipv4Match(ip net.IP, mask net.IPMask) (key, m [4]byte, ok bool) {
	ip4 := ip.To4()
	if ip4 == nil {
		return key, m, false
	}
	copy(key[:], ip4)
	if len(mask) == net.IPv4len {
		copy(m[:], mask)
	} else if len(mask) == net.IPv6len {
		copy(m[:], mask[12:])
	} else {
		m = [4]byte{0xff, 0xff, 0xff, 0xff}
	}
	for i := range key {
		key[i] &= m[i]
	}
	return key, m, true
}

func ipv6Match(ip net.IP, mask net.IPMask) (key, m [16]byte) {
	copy(key[:], ip.To16())
	if len(mask) == net.IPv6len {
		copy(m[:], mask)
	} else {
		for i := range m {
			m[i] = 0xff
		}
	}
	return key, m
}

// RuleFromFlower converts one flower filter bound to ingress.
func RuleFromFlower(f *netlink.Flower, ingress flower.Netdev, ports Resolver) (*flower.Rule, error) {
	rule := &flower.Rule{
		Cookie:  Cookie(f),
		Ingress: ingress,
		// Flower always dissects control, basic and Ethernet addresses.
		Used: flower.NewKeySet(flower.KeyControl, flower.KeyBasic, flower.KeyEthAddrs),
	}

	if f.EthType != 0 && f.EthType != unix.ETH_P_ALL {
		rule.Basic.Key.NProto = f.EthType
		rule.Basic.Mask.NProto = 0xffff
	}
	if f.IPProto != nil {
		rule.Basic.Key.IPProto = uint8(*f.IPProto)
		rule.Basic.Mask.IPProto = 0xff
	}

	if len(f.DestMac) == 6 {
		copy(rule.Eth.Key.Dst[:], f.DestMac)
		rule.Eth.Mask.Dst = [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	}
	if len(f.SrcMac) == 6 {
		copy(rule.Eth.Key.Src[:], f.SrcMac)
		rule.Eth.Mask.Src = [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	}

	if f.VlanId != 0 {
		rule.Used.Add(flower.KeyVLAN)
		rule.VLAN.Key.ID = f.VlanId
		rule.VLAN.Mask.ID = 0x0fff
	}

	addIPs(rule, f)

	if f.SrcPort != 0 || f.DestPort != 0 {
		rule.Used.Add(flower.KeyPorts)
		rule.Ports.Key = flower.Ports{Src: f.SrcPort, Dst: f.DestPort}
		if f.SrcPort != 0 {
			rule.Ports.Mask.Src = 0xffff
		}
		if f.DestPort != 0 {
			rule.Ports.Mask.Dst = 0xffff
		}
	}

	addTunnelMatch(rule, f)

	for _, a := range f.Actions {
		act, err := convertAction(a, ports)
		if err != nil {
			return nil, err
		}
		rule.Actions = append(rule.Actions, act)
	}
	return rule, nil
}

func addIPs(rule *flower.Rule, f *netlink.Flower) {
	if f.SrcIP == nil && f.DestIP == nil {
		return
	}
	v4 := (f.SrcIP == nil || f.SrcIP.To4() != nil) && (f.DestIP == nil || f.DestIP.To4() != nil)
	if v4 {
		rule.Used.Add(flower.KeyIPv4Addrs)
		if k, m, ok := ipv4Match(f.SrcIP, f.SrcIPMask); ok {
			rule.IPv4.Key.Src, rule.IPv4.Mask.Src = k, m
		}
		if k, m, ok := ipv4Match(f.DestIP, f.DestIPMask); ok {
			rule.IPv4.Key.Dst, rule.IPv4.Mask.Dst = k, m
		}
		return
	}
	rule.Used.Add(flower.KeyIPv6Addrs)
	if f.SrcIP != nil {
		rule.IPv6.Key.Src, rule.IPv6.Mask.Src = ipv6Match(f.SrcIP, f.SrcIPMask)
	}
	if f.DestIP != nil {
		rule.IPv6.Key.Dst, rule.IPv6.Mask.Dst = ipv6Match(f.DestIP, f.DestIPMask)
	}
}

func addTunnelMatch(rule *flower.Rule, f *netlink.Flower) {
	if f.EncDestIP == nil && f.EncSrcIP == nil && f.EncDestPort == 0 && f.EncKeyId == 0 {
		return
	}
	rule.Used.Add(flower.KeyEncControl)
	rule.EncControl.Mask.AddrType = 0xffff

	if f.EncDestIP.To4() != nil || (f.EncDestIP == nil && f.EncSrcIP.To4() != nil) {
		rule.Used.Add(flower.KeyEncIPv4Addrs)
		rule.EncControl.Key.AddrType = uint16(flower.KeyIPv4Addrs)
		if k, m, ok := ipv4Match(f.EncDestIP, f.EncDestIPMask); ok {
			rule.EncIPv4.Key.Dst, rule.EncIPv4.Mask.Dst = k, m
		}
		if k, m, ok := ipv4Match(f.EncSrcIP, f.EncSrcIPMask); ok {
			rule.EncIPv4.Key.Src, rule.EncIPv4.Mask.Src = k, m
		}
	} else if f.EncDestIP != nil || f.EncSrcIP != nil {
		rule.Used.Add(flower.KeyEncIPv6Addrs)
		rule.EncControl.Key.AddrType = uint16(flower.KeyIPv6Addrs)
		if f.EncDestIP != nil {
			rule.EncIPv6.Key.Dst, rule.EncIPv6.Mask.Dst = ipv6Match(f.EncDestIP, f.EncDestIPMask)
		}
		if f.EncSrcIP != nil {
			rule.EncIPv6.Key.Src, rule.EncIPv6.Mask.Src = ipv6Match(f.EncSrcIP, f.EncSrcIPMask)
		}
	}
	if f.EncDestPort != 0 {
		rule.Used.Add(flower.KeyEncPorts)
		rule.EncPorts.Key.Dst = f.EncDestPort
		rule.EncPorts.Mask.Dst = 0xffff
	}
	if f.EncKeyId != 0 {
		rule.Used.Add(flower.KeyEncKeyID)
		rule.EncKeyID.Key.ID = f.EncKeyId
		rule.EncKeyID.Mask.ID = 0xffffff
	}
}

func convertAction(a netlink.Action, ports Resolver) (flower.Action, error) {
	switch act := a.(type) {
	case *netlink.MirredAction:
		if act.MirredAction != netlink.TCA_EGRESS_REDIR && act.MirredAction != netlink.TCA_EGRESS_MIRROR {
			return flower.Action{}, fmt.Errorf("%w: mirred action %d", flower.ErrUnsupported, act.MirredAction)
		}
		dev, _ := ports.ResolveIndex(act.Ifindex)
		return flower.Action{Kind: flower.ActionRedirect, Dev: dev}, nil
	case *netlink.TunnelKeyAction:
		if act.Action == netlink.TCA_TUNNEL_KEY_UNSET {
			return flower.Action{Kind: flower.ActionTunnelDecap}, nil
		}
		tun := flower.TunnelKey{Type: flower.TunnelVXLAN, VNI: act.KeyID}
		if act.DestPort == flower.GENEVEPort {
			tun.Type = flower.TunnelGENEVE
		}
		tun.Src, _ = netip.AddrFromSlice(act.SrcAddr.To4())
		tun.Dst, _ = netip.AddrFromSlice(act.DstAddr.To4())
		return flower.Action{Kind: flower.ActionTunnelEncap, Tunnel: tun}, nil
	case *netlink.GenericAction:
		if act.Attrs().Action == netlink.TC_ACT_SHOT {
			return flower.Action{Kind: flower.ActionDrop}, nil
		}
	}
	return flower.Action{}, fmt.Errorf("%w: action %s", flower.ErrUnsupported, a.Type())
}
