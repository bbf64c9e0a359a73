package nfp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePort(t *testing.T) {
	tests := []struct {
		name    string
		port    uint32
		kind    PortKind
		index   uint32
		wantErr bool
	}{
		{"phys 0", PhysPort(0), PortPhys, 0, false},
		{"phys 1", 0x10000001, PortPhys, 1, false},
		{"vf 5", PCIePort(0, NFP_FLOWER_PORT_VNIC_TYPE_VF, 5, 0), PortVF, 5, false},
		{"pf 0", PCIePort(0, NFP_FLOWER_PORT_VNIC_TYPE_PF, 0, 0), PortPF, 0, false},
		{"vxlan", TunnelPort(NFP_FLOWER_TUNNEL_VXLAN), PortTunnel, NFP_FLOWER_TUNNEL_VXLAN, false},
		{"geneve", 0x50000004, PortTunnel, NFP_FLOWER_TUNNEL_GENVE, false},
		{"bad tunnel", 0x5000000f, PortUnknown, 0, true},
		{"unknown type", 0x30000000, PortUnknown, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, index, err := ParsePort(tt.port)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.index, index)
		})
	}
}

func TestTunnelName(t *testing.T) {
	assert.Equal(t, TUNNEL_VXLAN, TunnelName(NFP_FLOWER_TUNNEL_VXLAN))
	assert.Equal(t, TUNNEL_GENVE, TunnelName(NFP_FLOWER_TUNNEL_GENVE))
	assert.Equal(t, NonPortName, TunnelName(9))
}
