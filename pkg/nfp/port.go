package nfp

import (
	"fmt"
)

const (
	NFP_FLOWER_CMSG_PORT_TYPE          = 0xF0000000
	NFP_FLOWER_CMSG_PORT_PCI           = 0x0000C000
	NFP_FLOWER_CMSG_PORT_VNIC_TYPE     = 0x00003000
	NFP_FLOWER_CMSG_PORT_VNIC          = 0x00000FC0
	NFP_FLOWER_CMSG_PORT_PCIE_Q        = 0x0000003F
	NFP_FLOWER_CMSG_PORT_PHYS_PORT_NUM = 0x000000FF

	NFP_FLOWER_PORT_TYPE_PHYS_PORT = 0x1
	NFP_FLOWER_PORT_TYPE_PCIE_PORT = 0x2

	NFP_FLOWER_PORT_VNIC_TYPE_VF   = 0
	NFP_FLOWER_PORT_VNIC_TYPE_PF   = 1
	NFP_FLOWER_PORT_VNIC_TYPE_CTRL = 2

	NFP_FL_PORT_TYPE_TUN = 0x50000000
)

// PhysPort encodes the port id of physical port n.
func PhysPort(n uint8) uint32 {
	return uint32(n) | NFP_FLOWER_PORT_TYPE_PHYS_PORT<<28
}

// PCIePort encodes the port id of a PCIe vNIC (VF or PF).
func PCIePort(pcie uint8, vnicType uint8, vnic uint8, queue uint8) uint32 {
	return uint32(pcie)<<14&NFP_FLOWER_CMSG_PORT_PCI |
		uint32(vnicType)<<12&NFP_FLOWER_CMSG_PORT_VNIC_TYPE |
		uint32(vnic)<<6&NFP_FLOWER_CMSG_PORT_VNIC |
		uint32(queue)&NFP_FLOWER_CMSG_PORT_PCIE_Q |
		NFP_FLOWER_PORT_TYPE_PCIE_PORT<<28
}

// TunnelPort is the ingress port id the firmware uses for decapsulated traffic.
func TunnelPort(tunType uint8) uint32 {
	return NFP_FL_PORT_TYPE_TUN | uint32(tunType)
}

// PortKind classifies a port id.
type PortKind int

const (
	PortUnknown PortKind = iota
	PortPhys
	PortVF
	PortPF
	PortTunnel
)

// ParsePort splits a port id into its kind and index: the physical port
// number, the vNIC number or the tunnel type.
func ParsePort(port uint32) (PortKind, uint32, error) {
	if port&0xFFFFFFF0 == NFP_FL_PORT_TYPE_TUN {
		switch port & 0xF {
		case NFP_FLOWER_TUNNEL_GRE, NFP_FLOWER_TUNNEL_VXLAN, NFP_FLOWER_TUNNEL_GENVE:
			return PortTunnel, port & 0xF, nil
		}
		return PortUnknown, 0, fmt.Errorf("Can not parse the tunnel port %x", port)
	}

	switch port >> 28 & 0xF {
	case NFP_FLOWER_PORT_TYPE_PHYS_PORT:
		return PortPhys, port & NFP_FLOWER_CMSG_PORT_PHYS_PORT_NUM, nil
	case NFP_FLOWER_PORT_TYPE_PCIE_PORT:
		vnic := port & NFP_FLOWER_CMSG_PORT_VNIC >> 6
		if port&NFP_FLOWER_CMSG_PORT_VNIC_TYPE>>12 == NFP_FLOWER_PORT_VNIC_TYPE_PF {
			return PortPF, vnic, nil
		}
		return PortVF, vnic, nil
	}
	return PortUnknown, 0, fmt.Errorf("Can not parse the flow port %x", port)
}

// TunnelName returns the display name of a tunnel port type.
func TunnelName(tunType uint32) string {
	switch tunType {
	case NFP_FLOWER_TUNNEL_GENVE:
		return TUNNEL_GENVE
	case NFP_FLOWER_TUNNEL_VXLAN:
		return TUNNEL_VXLAN
	case NFP_FLOWER_TUNNEL_GRE:
		return TUNNEL_GRE
	}
	return NonPortName
}

const (
	TUNNEL_VXLAN = "Vxlan"
	TUNNEL_GRE   = "Gre"
	TUNNEL_GENVE = "Genve"
	NonPortName  = "Other"
)
