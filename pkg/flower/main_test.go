package flower

import (
	"flag"
	"os"
	"testing"

	"k8s.io/klog/v2"

	"github.com/corigine/flower-offload/pkg/nfp"
)

func TestMain(m *testing.M) {
	klog.InitFlags(nil)
	_ = flag.Set("v", "5")
	_ = flag.Set("logtostderr", "true")

	exitCode := m.Run()
	klog.Flush()
	os.Exit(exitCode)
}

var (
	exact4  = [4]byte{0xff, 0xff, 0xff, 0xff}
	vfPort  = nfp.PCIePort(0, nfp.NFP_FLOWER_PORT_VNIC_TYPE_VF, 1, 0)
	uplink  = Netdev{Name: "p0", Index: 2, PortID: nfp.PhysPort(0)}
	uplink1 = Netdev{Name: "p1", Index: 3, PortID: nfp.PhysPort(1)}
)

// tcpRule matches an IPv4 TCP 5-tuple arriving on a VF representor and
// redirects it to the first uplink.
func tcpRule(cookie uint64, dport uint16) *Rule {
	r := &Rule{
		Cookie:  cookie,
		Ingress: Netdev{Name: "pf0vf1", Index: 10, PortID: vfPort},
		Used:    NewKeySet(KeyControl, KeyBasic, KeyEthAddrs, KeyIPv4Addrs, KeyPorts),
		Actions: []Action{{Kind: ActionRedirect, Dev: uplink}},
	}
	r.Basic.Key = Basic{NProto: 0x0800, IPProto: 6}
	r.Basic.Mask = Basic{NProto: 0xffff, IPProto: 0xff}
	r.IPv4.Key = IPv4Addrs{Src: [4]byte{10, 0, 0, 1}, Dst: [4]byte{10, 0, 0, 2}}
	r.IPv4.Mask = IPv4Addrs{Src: exact4, Dst: exact4}
	r.Ports.Key = Ports{Src: 4000, Dst: dport}
	r.Ports.Mask = Ports{Src: 0xffff, Dst: 0xffff}
	return r
}

// decapRule matches VXLAN traffic for VNI 100 sent to 10.0.0.1 and
// redirects the inner packet to a VF.
func decapRule(cookie uint64, ingress int) *Rule {
	r := &Rule{
		Cookie:  cookie,
		Ingress: Netdev{Name: "vxlan0", Index: ingress},
		Used: NewKeySet(KeyControl, KeyBasic, KeyEthAddrs,
			KeyEncControl, KeyEncIPv4Addrs, KeyEncPorts, KeyEncKeyID),
		Actions: []Action{
			{Kind: ActionTunnelDecap},
			{Kind: ActionRedirect, Dev: Netdev{Name: "pf0vf1", Index: 10, PortID: vfPort}},
		},
	}
	r.EncControl.Key = Control{AddrType: uint16(KeyIPv4Addrs)}
	r.EncControl.Mask = Control{AddrType: 0xffff}
	r.EncIPv4.Key = IPv4Addrs{Src: [4]byte{10, 0, 0, 9}, Dst: [4]byte{10, 0, 0, 1}}
	r.EncIPv4.Mask = IPv4Addrs{Src: exact4, Dst: exact4}
	r.EncPorts.Key = Ports{Dst: VXLANPort}
	r.EncPorts.Mask = Ports{Dst: 0xffff}
	r.EncKeyID.Key = KeyID{ID: 100}
	r.EncKeyID.Mask = KeyID{ID: 0xffffff}
	return r
}

func geneveRule(cookie uint64, opts []byte) *Rule {
	r := decapRule(cookie, 20)
	r.EncPorts.Key.Dst = GENEVEPort
	if opts != nil {
		r.Used.Add(KeyEncOpts)
		r.EncOpts.Key = EncOpts{Data: opts}
		mask := make([]byte, len(opts))
		for i := range mask {
			mask[i] = 0xff
		}
		r.EncOpts.Mask = EncOpts{Data: mask}
	}
	return r
}
