// Package nfp holds the flower firmware ABI: layer flags, the fixed layout
// of every match sub-structure, the action list encoding and the rule
// metadata carried in flow control messages. Everything is big endian.
package nfp

import (
	"fmt"
)

const (
	NFP_FLOWER_LAYER_EXT_META = (1 << 0)
	NFP_FLOWER_LAYER_PORT     = (1 << 1)
	NFP_FLOWER_LAYER_MAC      = (1 << 2)
	NFP_FLOWER_LAYER_TP       = (1 << 3)
	NFP_FLOWER_LAYER_IPV4     = (1 << 4)
	NFP_FLOWER_LAYER_IPV6     = (1 << 5)
	NFP_FLOWER_LAYER_CT       = (1 << 6)
	NFP_FLOWER_LAYER_VXLAN    = (1 << 7)

	NFP_FLOWER_LAYER2_GRE       = (1 << 0)
	NFP_FLOWER_LAYER2_QINQ      = (1 << 4)
	NFP_FLOWER_LAYER2_GENEVE    = (1 << 5)
	NFP_FLOWER_LAYER2_GENEVE_OP = (1 << 6)
	NFP_FLOWER_LAYER2_TUN_IPV6  = (1 << 7)

	NFP_FLOWER_TUNNEL_NONE  = 0x0
	NFP_FLOWER_TUNNEL_GRE   = 0x1
	NFP_FLOWER_TUNNEL_VXLAN = 0x2
	NFP_FLOWER_TUNNEL_GENVE = 0x4

	NFP_FLOWER_ACTION_OPCODE_OUTPUT          = 0
	NFP_FLOWER_ACTION_OPCODE_PUSH_VLAN       = 1
	NFP_FLOWER_ACTION_OPCODE_POP_VLAN        = 2
	NFP_FLOWER_ACTION_OPCODE_PUSH_MPLS       = 3
	NFP_FLOWER_ACTION_OPCODE_POP_MPLS        = 4
	NFP_FLOWER_ACTION_OPCODE_SET_TUN_KEY     = 6
	NFP_FLOWER_ACTION_OPCODE_SET_ETH_ADDRS   = 7
	NFP_FLOWER_ACTION_OPCODE_SET_MPLS        = 8
	NFP_FLOWER_ACTION_OPCODE_SET_IPV4_ADDRS  = 9
	NFP_FLOWER_ACTION_OPCODE_SET_IPV4_FIELDS = 10
	NFP_FLOWER_ACTION_OPCODE_SET_IPV6_SRC    = 11
	NFP_FLOWER_ACTION_OPCODE_SET_IPV6_DST    = 12
	NFP_FLOWER_ACTION_OPCODE_SET_IPV6_FIELDS = 13
	NFP_FLOWER_ACTION_OPCODE_SET_UDP         = 14
	NFP_FLOWER_ACTION_OPCODE_SET_TCP         = 15
	NFP_FLOWER_ACTION_OPCODE_PRE_LAG         = 16
	NFP_FLOWER_ACTION_OPCODE_PRE_TUNNEL      = 17
	NFP_FLOWER_ACTION_OPCODE_PUSH_GENEVE     = 26

	// Bits of the VLAN TCI word in the meta_tci sub-structure.
	NFP_FLOWER_MASK_VLAN_PRIO    = 0xE000
	NFP_FLOWER_MASK_VLAN_PRESENT = 0x1000
	NFP_FLOWER_MASK_VLAN_VID     = 0x0FFF

	NFP_FLOWER_MASK_MPLS_LB  = 0xFFFFF000
	NFP_FLOWER_MASK_MPLS_TC  = 0x00000E00
	NFP_FLOWER_MASK_MPLS_BOS = 0x00000100
	NFP_FLOWER_MASK_MPLS_Q   = 0x00000001

	NFP_FL_TCP_FLAG_FIN   = (1 << 0)
	NFP_FL_TCP_FLAG_SYN   = (1 << 1)
	NFP_FL_TCP_FLAG_RST   = (1 << 2)
	NFP_FL_TCP_FLAG_PSH   = (1 << 3)
	NFP_FL_TCP_FLAG_URG   = (1 << 4)
	NFP_FL_IP_FRAG_FIRST  = (1 << 6)
	NFP_FL_IP_FRAGMENTED  = (1 << 7)
	NFP_FL_TUN_VNI_OFFSET = 8

	NFP_FL_OUT_FLAGS_LAST        = (1 << 15)
	NFP_FL_META_FLAG_MANAGE_MASK = (1 << 7)
	NFP_FL_SC_ACT_DROP           = 0x80000000
	NFP_FL_SC_ACT_NULL           = 0x00000000

	// Firmware lengths are expressed in long words of 4 bytes.
	NFP_FL_LW_SIZ = 2
)

const (
	MetaTciSize    = 4
	ExtMetaSize    = 4
	InPortSize     = 4
	MacMplsSize    = 16
	TpPortsSize    = 4
	IPExtSize      = 4
	IPv4Size       = 12
	IPv6Size       = 40
	UDPTunSize     = 20
	GeneveOptsSize = 32

	MaxGeneveOptKey = GeneveOptsSize
	// MaxKeySize is the largest match key the firmware accepts.
	MaxKeySize = 256
	// MaxActionSize bounds the serialised action list.
	MaxActionSize = 1216
	// MaxLongWords is the largest length a u8 metadata field can carry.
	MaxLongWords = 0xFF
)

// ToLongWords converts a byte length into firmware long words. Lengths that
// are not a multiple of the word size, or that do not fit the u8 metadata
// field, are rejected.
func ToLongWords(n int) (uint8, error) {
	if n < 0 || n&((1<<NFP_FL_LW_SIZ)-1) != 0 {
		return 0, fmt.Errorf("length %d is not a multiple of %d bytes", n, 1<<NFP_FL_LW_SIZ)
	}
	lw := n >> NFP_FL_LW_SIZ
	if lw > MaxLongWords {
		return 0, fmt.Errorf("length %d exceeds %d long words", n, MaxLongWords)
	}
	return uint8(lw), nil
}

// FromLongWords converts a firmware long-word count back into bytes.
func FromLongWords(lw uint8) int {
	return int(lw) << NFP_FL_LW_SIZ
}
