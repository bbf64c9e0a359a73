package util

import (
	"path/filepath"
	"strings"

	utilfs "github.com/k8snetworkplumbingwg/sriovnet/pkg/utils/filesystem"
	"k8s.io/klog/v2"
)

const (
	PciSysDir       = "/sys/bus/pci/devices"
	CorigineVendor  = "0x1da8"
	NetronomeVendor = "0x19ee"
	NFP4000         = "0x4000"
	NFP6000         = "0x6000"
)

func readPciAttr(device, attr string) string {
	value, err := utilfs.Fs.ReadFile(filepath.Join(PciSysDir, device, attr))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(value))
}

// GetCorigineNicDevice lists the PCI addresses of the NFP cards in the host.
func GetCorigineNicDevice() []string {
	var corigineNicDevices []string
	devices, err := utilfs.Fs.ReadDir(PciSysDir)
	if err != nil {
		klog.Warningf("Can not open the pci sys dir\n")
	}
	for _, device := range devices {
		vendor := readPciAttr(device.Name(), "vendor")
		if vendor != CorigineVendor && vendor != NetronomeVendor {
			continue
		}
		id := readPciAttr(device.Name(), "device")
		if id != NFP4000 && id != NFP6000 {
			continue
		}
		corigineNicDevices = append(corigineNicDevices, device.Name())
	}
	return corigineNicDevices
}
