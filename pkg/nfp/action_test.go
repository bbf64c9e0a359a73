package nfp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendActionSizes(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		size int
	}{
		{"output", AppendOutput(nil, PhysPort(0), true), OutputActSize},
		{"push vlan", AppendPushVlan(nil, ActionPushVlan{Tpid: 0x8100, Tci: 10}), PushVlanActSize},
		{"pop vlan", AppendPopVlan(nil), PopVlanActSize},
		{"set eth", AppendSetEth(nil, ActionSetEth{}), SetEthActSize},
		{"pre tunnel", AppendPreTunnel(nil, ActionPreTunnel{}), PreTunnelActSize},
		{"set tunnel", AppendSetTunnel(nil, ActionSetTunnel{}), SetTunnelActSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Len(t, tt.buf, tt.size)
			assert.Equal(t, uint8(tt.size>>NFP_FL_LW_SIZ), tt.buf[1])
		})
	}
}

func TestAppendOutputLastFlag(t *testing.T) {
	buf := AppendOutput(nil, 0x10000002, true)
	assert.Equal(t, []byte{NFP_FLOWER_ACTION_OPCODE_OUTPUT, 2, 0x80, 0, 0x10, 0, 0, 2}, buf)

	buf = AppendOutput(nil, 0x10000002, false)
	assert.Equal(t, []byte{0, 0}, buf[2:4])
}

func TestDecodeActions(t *testing.T) {
	pre := ActionPreTunnel{IPv4Dst: [4]byte{10, 1, 1, 2}}
	tun := ActionSetTunnel{
		TunID:    42 << NFP_FL_TUN_VNI_OFFSET,
		TunType:  NFP_FLOWER_TUNNEL_GENVE,
		Ttl:      64,
		Tos:      4,
		TunProto: 0x6558,
	}
	eth := ActionSetEth{
		DstMask: [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		Dst:     [6]byte{0, 0x15, 0x4d, 0, 0, 1},
	}
	push := ActionPushVlan{Tpid: 0x8100, Tci: 0x2064}

	var buf []byte
	buf = AppendPreTunnel(buf, pre)
	buf = AppendSetTunnel(buf, tun)
	buf = AppendSetEth(buf, eth)
	buf = AppendPopVlan(buf)
	buf = AppendPushVlan(buf, push)
	buf = AppendOutput(buf, PhysPort(1), false)
	buf = AppendOutput(buf, TunnelPort(NFP_FLOWER_TUNNEL_GENVE), true)

	set, err := DecodeActions(buf)
	require.NoError(t, err)
	assert.Equal(t, &pre, set.PreTunnel)
	assert.Equal(t, &tun, set.SetTunnel)
	assert.Equal(t, &eth, set.SetEth)
	assert.Equal(t, &push, set.PushVlan)
	assert.True(t, set.PopVlan)
	assert.Equal(t, []ActionOutput{
		{Port: PhysPort(1)},
		{Flags: NFP_FL_OUT_FLAGS_LAST, Port: TunnelPort(NFP_FLOWER_TUNNEL_GENVE)},
	}, set.Outputs)
}

func TestDecodeActionsErrors(t *testing.T) {
	out := AppendOutput(nil, PhysPort(0), true)

	tests := []struct {
		name string
		buf  []byte
	}{
		{"truncated head", append(out, NFP_FLOWER_ACTION_OPCODE_OUTPUT)},
		{"zero length", []byte{NFP_FLOWER_ACTION_OPCODE_OUTPUT, 0, 0, 0}},
		{"overrun", out[:6]},
		{"bad output size", []byte{NFP_FLOWER_ACTION_OPCODE_OUTPUT, 1, 0, 0}},
		{"bad pop size", []byte{NFP_FLOWER_ACTION_OPCODE_POP_VLAN, 2, 0, 0, 0, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeActions(tt.buf)
			assert.Error(t, err)
		})
	}
}

func TestDecodeActionsSkipsUnknown(t *testing.T) {
	buf := []byte{0x7f, 1, 0, 0}
	buf = AppendOutput(buf, PhysPort(2), true)

	set, err := DecodeActions(buf)
	require.NoError(t, err)
	require.Len(t, set.Outputs, 1)
	assert.Equal(t, PhysPort(2), set.Outputs[0].Port)
}
