//go:build linux

package tcsource

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netlink/nl"
	"golang.org/x/sys/unix"

	"github.com/corigine/flower-offload/pkg/flower"
	"github.com/corigine/flower-offload/pkg/nfp"
	"github.com/corigine/flower-offload/pkg/portmap"
)

func testPorts() *portmap.Table {
	ports := portmap.New()
	ports.Add(portmap.Port{Name: "p0", Index: 2, ID: nfp.PhysPort(0)})
	ports.Add(portmap.Port{Name: "pf0vf1", Index: 10, ID: nfp.PCIePort(0, nfp.NFP_FLOWER_PORT_VNIC_TYPE_VF, 1, 0)})
	return ports
}

func tcpFilter(prio uint16, handle uint32, dport uint16) *netlink.Flower {
	proto := nl.IPProto(unix.IPPROTO_TCP)
	return &netlink.Flower{
		FilterAttrs: netlink.FilterAttrs{LinkIndex: 10, Priority: prio, Handle: handle},
		EthType:     unix.ETH_P_IP,
		IPProto:     &proto,
		SrcIP:       net.ParseIP("10.0.0.1"),
		DestIP:      net.ParseIP("10.0.0.77"),
		DestIPMask:  net.CIDRMask(24, 32),
		DestPort:    dport,
		Actions:     []netlink.Action{netlink.NewMirredAction(2)},
	}
}

func TestCookie(t *testing.T) {
	assert.Equal(t, uint64(0x0000000300000007), Cookie(tcpFilter(3, 7, 80)))
}

func TestRuleFromFlower(t *testing.T) {
	ports := testPorts()
	ingress, ok := ports.ResolveIndex(10)
	require.True(t, ok)

	rule, err := RuleFromFlower(tcpFilter(1, 1, 80), ingress, ports)
	require.NoError(t, err)

	assert.Equal(t, uint64(1)<<32|1, rule.Cookie)
	assert.True(t, rule.Used.Has(flower.KeyIPv4Addrs))
	assert.True(t, rule.Used.Has(flower.KeyPorts))
	assert.False(t, rule.Used.Has(flower.KeyIPv6Addrs))
	assert.Equal(t, uint16(unix.ETH_P_IP), rule.Basic.Key.NProto)
	assert.Equal(t, uint8(unix.IPPROTO_TCP), rule.Basic.Key.IPProto)
	assert.Equal(t, [4]byte{10, 0, 0, 1}, rule.IPv4.Key.Src)
	assert.Equal(t, [4]byte{0xff, 0xff, 0xff, 0xff}, rule.IPv4.Mask.Src)
	assert.Equal(t, [4]byte{10, 0, 0, 0}, rule.IPv4.Key.Dst)
	assert.Equal(t, [4]byte{0xff, 0xff, 0xff, 0}, rule.IPv4.Mask.Dst)
	assert.Equal(t, flower.Ports{Dst: 80}, rule.Ports.Key)
	assert.Equal(t, flower.Ports{Dst: 0xffff}, rule.Ports.Mask)

	require.Len(t, rule.Actions, 1)
	assert.Equal(t, flower.ActionRedirect, rule.Actions[0].Kind)
	assert.Equal(t, nfp.PhysPort(0), rule.Actions[0].Dev.PortID)

	kl, err := flower.CalculateKeyLayers(rule, 0)
	require.NoError(t, err)
	assert.Equal(t, 40, kl.KeySize)
}

func TestRuleFromFlowerIPv6AndVLAN(t *testing.T) {
	ports := testPorts()
	f := &netlink.Flower{
		EthType: unix.ETH_P_IPV6,
		DestIP:  net.ParseIP("fd00::2"),
		VlanId:  100,
		DestMac: net.HardwareAddr{0, 0x15, 0x4d, 0, 0, 1},
		Actions: []netlink.Action{&netlink.GenericAction{ActionAttrs: netlink.ActionAttrs{Action: netlink.TC_ACT_SHOT}}},
	}
	rule, err := RuleFromFlower(f, flower.Netdev{Name: "p0", Index: 2}, ports)
	require.NoError(t, err)

	assert.True(t, rule.Used.Has(flower.KeyIPv6Addrs))
	assert.True(t, rule.Used.Has(flower.KeyVLAN))
	assert.Equal(t, uint16(100), rule.VLAN.Key.ID)
	assert.Equal(t, [6]byte{0, 0x15, 0x4d, 0, 0, 1}, rule.Eth.Key.Dst)
	assert.Equal(t, byte(0xff), rule.IPv6.Mask.Dst[15])
	require.Len(t, rule.Actions, 1)
	assert.Equal(t, flower.ActionDrop, rule.Actions[0].Kind)
}

func TestRuleFromFlowerTunnel(t *testing.T) {
	ports := testPorts()

	decap := &netlink.Flower{
		EncDestIP:   net.ParseIP("10.0.0.1"),
		EncSrcIP:    net.ParseIP("10.0.0.9"),
		EncDestPort: 4789,
		EncKeyId:    100,
		Actions: []netlink.Action{
			&netlink.TunnelKeyAction{Action: netlink.TCA_TUNNEL_KEY_UNSET},
			netlink.NewMirredAction(10),
		},
	}
	rule, err := RuleFromFlower(decap, flower.Netdev{Name: "vxlan0", Index: 30}, ports)
	require.NoError(t, err)
	assert.True(t, rule.Used.Has(flower.KeyEncControl))
	assert.True(t, rule.Used.Has(flower.KeyEncIPv4Addrs))
	assert.Equal(t, uint16(flower.KeyIPv4Addrs), rule.EncControl.Key.AddrType)
	assert.Equal(t, [4]byte{10, 0, 0, 1}, rule.EncIPv4.Key.Dst)
	assert.Equal(t, uint32(100), rule.EncKeyID.Key.ID)
	assert.Equal(t, flower.ActionTunnelDecap, rule.Actions[0].Kind)

	kl, err := flower.CalculateKeyLayers(rule, 0)
	require.NoError(t, err)
	assert.Equal(t, flower.TunnelVXLAN, kl.TunnelType())

	encap := netlink.NewTunnelKeyAction()
	encap.Action = netlink.TCA_TUNNEL_KEY_SET
	encap.SrcAddr = net.IPv4(10, 10, 10, 1)
	encap.DstAddr = net.IPv4(10, 10, 10, 2)
	encap.KeyID = 7
	encap.DestPort = 6081
	f := &netlink.Flower{Actions: []netlink.Action{encap, netlink.NewMirredAction(2)}}
	rule, err = RuleFromFlower(f, flower.Netdev{Name: "pf0vf1", Index: 10}, ports)
	require.NoError(t, err)
	require.Len(t, rule.Actions, 2)
	tun := rule.Actions[0].Tunnel
	assert.Equal(t, flower.TunnelGENEVE, tun.Type)
	assert.Equal(t, uint32(7), tun.VNI)
	assert.Equal(t, netip.MustParseAddr("10.10.10.2"), tun.Dst)
}

func TestRuleFromFlowerUnsupportedAction(t *testing.T) {
	f := &netlink.Flower{
		Actions: []netlink.Action{&netlink.BpfAction{Fd: 3, Name: "prog"}},
	}
	_, err := RuleFromFlower(f, flower.Netdev{Name: "p0", Index: 2}, testPorts())
	assert.ErrorIs(t, err, flower.ErrUnsupported)

	mirror := netlink.NewMirredAction(2)
	mirror.MirredAction = netlink.TCA_INGRESS_REDIR
	f.Actions = []netlink.Action{mirror}
	_, err = RuleFromFlower(f, flower.Netdev{Name: "p0", Index: 2}, testPorts())
	assert.ErrorIs(t, err, flower.ErrUnsupported)
}
