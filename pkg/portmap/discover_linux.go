//go:build linux

package portmap

import (
	"fmt"
	"strings"

	"github.com/k8snetworkplumbingwg/sriovnet"
	"github.com/vishvananda/netlink"
	"k8s.io/klog/v2"

	"github.com/corigine/flower-offload/pkg/nfp"
	"github.com/corigine/flower-offload/pkg/util"
)

// Discover adds the physical port, PF and VF representors of the card at
// pci. Representors that cannot be resolved are skipped.
func (t *Table) Discover(pci string) error {
	netDevs, err := sriovnet.GetNetDevicesFromPci(pci)
	if err != nil {
		return fmt.Errorf("Get the device %s devs error: %w", pci, err)
	}

	var uplink string
	for _, netDev := range netDevs {
		netDev = strings.TrimSpace(netDev)
		physPortName, err := util.GetPhysPortName(netDev)
		if err != nil {
			continue
		}
		id, err := PortIDFromPhysPortName(physPortName)
		if err != nil {
			klog.V(2).Infof("skip %s: %v", netDev, err)
			continue
		}
		if uplink == "" && physPortNameRe.MatchString(physPortName) {
			uplink = netDev
		}
		t.addLink(netDev, id)
	}
	if uplink == "" {
		return fmt.Errorf("Can not find the phys port on %s", pci)
	}

	numVfs, err := util.GetSriovNumVfs(uplink)
	if err != nil {
		klog.V(2).Infof("no sriov vfs behind %s: %v", uplink, err)
		return nil
	}
	for vf := 0; vf < numVfs; vf++ {
		rep, err := sriovnet.GetVfRepresentor(uplink, vf)
		if err != nil {
			klog.Warningf("Get vf %d representor of %s error: %v", vf, uplink, err)
			continue
		}
		t.addLink(rep, nfp.PCIePort(0, nfp.NFP_FLOWER_PORT_VNIC_TYPE_VF, uint8(vf), 0))
	}
	return nil
}

func (t *Table) addLink(name string, id uint32) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		klog.Warningf("failed to get %s netlink info: %v", name, err)
		return
	}
	t.Add(Port{Name: name, Index: link.Attrs().Index, ID: id})
	klog.V(2).Infof("port %s ifindex %d id 0x%x", name, link.Attrs().Index, id)
}

// PciOfNetdev returns the PCI address of the card behind a netdev.
func PciOfNetdev(name string) (string, error) {
	return sriovnet.GetPciFromNetDevice(name)
}
