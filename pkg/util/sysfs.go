package util

import (
	"path/filepath"
	"strconv"
	"strings"

	utilfs "github.com/k8snetworkplumbingwg/sriovnet/pkg/utils/filesystem"
)

const (
	NetSysDir          = "/sys/class/net"
	NetdevPhysPortName = "phys_port_name"
	NetdevSriovNumVfs  = "device/sriov_numvfs"
)

func readNetdevAttr(ifname, attr string) (string, error) {
	value, err := utilfs.Fs.ReadFile(filepath.Join(NetSysDir, ifname, attr))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(value)), nil
}

// GetPhysPortName returns the phys_port_name of a representor, e.g. p0 or pf0vf3.
func GetPhysPortName(ifname string) (string, error) {
	return readNetdevAttr(ifname, NetdevPhysPortName)
}

// GetSriovNumVfs returns the number of VFs enabled behind a PF netdev.
func GetSriovNumVfs(ifname string) (int, error) {
	value, err := readNetdevAttr(ifname, NetdevSriovNumVfs)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(value)
}
