package nfp

import (
	"encoding/binary"
	"fmt"

	"k8s.io/klog/v2"
)

const (
	OutputActSize    = 8
	PushVlanActSize  = 8
	PopVlanActSize   = 4
	SetEthActSize    = 28
	PreTunnelActSize = 20
	SetTunnelActSize = 28

	// tun_type_index of the set tunnel action.
	NFP_FL_IPV4_TUNNEL_TYPE   = 0xF0
	NFP_FL_IPV4_PRE_TUN_INDEX = 0x07
	NFP_FL_TUNNEL_TYPE_SHIFT  = 4
)

type ActionOutput struct {
	Flags uint16 `json:"flags"`
	Port  uint32 `json:"port"`
}

type ActionPushVlan struct {
	Tpid uint16 `json:"tpid"`
	Tci  uint16 `json:"tci"`
}

type ActionSetEth struct {
	DstMask [6]byte `json:"dstMask"`
	SrcMask [6]byte `json:"srcMask"`
	Dst     [6]byte `json:"dst"`
	Src     [6]byte `json:"src"`
}

type ActionPreTunnel struct {
	Flags   uint16  `json:"flags"`
	IPv4Dst [4]byte `json:"ipv4Dst"`
}

type ActionSetTunnel struct {
	TunID    uint64 `json:"tunId"`
	TunType  uint8  `json:"tunType"`
	TunFlags uint16 `json:"tunFlags"`
	Ttl      uint8  `json:"ttl"`
	Tos      uint8  `json:"tos"`
	TunLen   uint8  `json:"tunLen"`
	TunProto uint16 `json:"tunProto"`
}

// ActionSet is the structured form of a serialised action list.
type ActionSet struct {
	Outputs   []ActionOutput   `json:"outputs,omitempty"`
	PushVlan  *ActionPushVlan  `json:"pushVlan,omitempty"`
	PopVlan   bool             `json:"popVlan,omitempty"`
	SetEth    *ActionSetEth    `json:"setEth,omitempty"`
	PreTunnel *ActionPreTunnel `json:"preTunnel,omitempty"`
	SetTunnel *ActionSetTunnel `json:"setTunnel,omitempty"`
}

func appendActHead(b []byte, opcode uint8, size int) []byte {
	return append(b, opcode, uint8(size>>NFP_FL_LW_SIZ))
}

func AppendOutput(b []byte, port uint32, last bool) []byte {
	var flags uint16
	if last {
		flags |= NFP_FL_OUT_FLAGS_LAST
	}
	b = appendActHead(b, NFP_FLOWER_ACTION_OPCODE_OUTPUT, OutputActSize)
	b = binary.BigEndian.AppendUint16(b, flags)
	return binary.BigEndian.AppendUint32(b, port)
}

func AppendPushVlan(b []byte, a ActionPushVlan) []byte {
	b = appendActHead(b, NFP_FLOWER_ACTION_OPCODE_PUSH_VLAN, PushVlanActSize)
	b = append(b, 0, 0)
	b = binary.BigEndian.AppendUint16(b, a.Tpid)
	return binary.BigEndian.AppendUint16(b, a.Tci)
}

func AppendPopVlan(b []byte) []byte {
	b = appendActHead(b, NFP_FLOWER_ACTION_OPCODE_POP_VLAN, PopVlanActSize)
	return append(b, 0, 0)
}

func AppendSetEth(b []byte, a ActionSetEth) []byte {
	b = appendActHead(b, NFP_FLOWER_ACTION_OPCODE_SET_ETH_ADDRS, SetEthActSize)
	b = append(b, 0, 0)
	b = append(b, a.DstMask[:]...)
	b = append(b, a.SrcMask[:]...)
	b = append(b, a.Dst[:]...)
	return append(b, a.Src[:]...)
}

func AppendPreTunnel(b []byte, a ActionPreTunnel) []byte {
	b = appendActHead(b, NFP_FLOWER_ACTION_OPCODE_PRE_TUNNEL, PreTunnelActSize)
	b = binary.BigEndian.AppendUint16(b, a.Flags)
	b = append(b, a.IPv4Dst[:]...)
	return append(b, make([]byte, 12)...)
}

func AppendSetTunnel(b []byte, a ActionSetTunnel) []byte {
	b = appendActHead(b, NFP_FLOWER_ACTION_OPCODE_SET_TUN_KEY, SetTunnelActSize)
	b = append(b, 0, 0)
	b = binary.BigEndian.AppendUint64(b, a.TunID)
	b = binary.BigEndian.AppendUint32(b, uint32(a.TunType)<<NFP_FL_TUNNEL_TYPE_SHIFT&NFP_FL_IPV4_TUNNEL_TYPE)
	b = binary.BigEndian.AppendUint16(b, a.TunFlags)
	b = append(b, a.Ttl, a.Tos)
	b = append(b, 0, 0, 0, 0)
	b = append(b, a.TunLen, 0)
	return binary.BigEndian.AppendUint16(b, a.TunProto)
}

func (set *ActionSet) parseOutPort(act []byte) {
	set.Outputs = append(set.Outputs, ActionOutput{
		Flags: binary.BigEndian.Uint16(act[2:]),
		Port:  binary.BigEndian.Uint32(act[4:]),
	})
}

func (set *ActionSet) parseSetEthAddress(act []byte) {
	var eth ActionSetEth
	copy(eth.DstMask[:], act[4:10])
	copy(eth.SrcMask[:], act[10:16])
	copy(eth.Dst[:], act[16:22])
	copy(eth.Src[:], act[22:28])
	set.SetEth = &eth
}

func (set *ActionSet) parseSetTunnel(act []byte) {
	set.SetTunnel = &ActionSetTunnel{
		TunID:    binary.BigEndian.Uint64(act[4:]),
		TunType:  uint8(binary.BigEndian.Uint32(act[12:]) & NFP_FL_IPV4_TUNNEL_TYPE >> NFP_FL_TUNNEL_TYPE_SHIFT),
		TunFlags: binary.BigEndian.Uint16(act[16:]),
		Ttl:      act[18],
		Tos:      act[19],
		TunLen:   act[24],
		TunProto: binary.BigEndian.Uint16(act[26:]),
	}
}

func (set *ActionSet) parsePreTunnel(act []byte) {
	pre := ActionPreTunnel{Flags: binary.BigEndian.Uint16(act[2:])}
	copy(pre.IPv4Dst[:], act[4:8])
	set.PreTunnel = &pre
}

// DecodeActions walks an action list. Each action starts with its opcode
// and its length in long words.
func DecodeActions(buf []byte) (*ActionSet, error) {
	var set ActionSet
	i := 0

	for i < len(buf) {
		if len(buf)-i < 2 {
			return nil, fmt.Errorf("Flow entry parse truncated action head at %d", i)
		}
		opCode := buf[i]
		actLen := FromLongWords(buf[i+1])
		if actLen == 0 {
			return nil, fmt.Errorf("Flow entry parse invalid action len")
		}
		if i+actLen > len(buf) {
			return nil, fmt.Errorf("Flow entry parse action %d overruns the list", opCode)
		}
		act := buf[i : i+actLen]

		switch opCode {
		case NFP_FLOWER_ACTION_OPCODE_OUTPUT:
			if actLen != OutputActSize {
				return nil, fmt.Errorf("Flow entry parse invalid output action")
			}
			set.parseOutPort(act)
		case NFP_FLOWER_ACTION_OPCODE_PUSH_VLAN:
			if actLen != PushVlanActSize {
				return nil, fmt.Errorf("Flow entry parse invalid push vlan action")
			}
			set.PushVlan = &ActionPushVlan{
				Tpid: binary.BigEndian.Uint16(act[4:]),
				Tci:  binary.BigEndian.Uint16(act[6:]),
			}
		case NFP_FLOWER_ACTION_OPCODE_POP_VLAN:
			if actLen != PopVlanActSize {
				return nil, fmt.Errorf("Flow entry parse invalid pop vlan action")
			}
			set.PopVlan = true
		case NFP_FLOWER_ACTION_OPCODE_SET_ETH_ADDRS:
			if actLen != SetEthActSize {
				return nil, fmt.Errorf("Flow entry parse invalid set eth address action")
			}
			set.parseSetEthAddress(act)
		case NFP_FLOWER_ACTION_OPCODE_SET_TUN_KEY:
			if actLen != SetTunnelActSize {
				return nil, fmt.Errorf("Flow entry parse invalid set tunnel action")
			}
			set.parseSetTunnel(act)
		case NFP_FLOWER_ACTION_OPCODE_PRE_TUNNEL:
			if actLen != PreTunnelActSize {
				return nil, fmt.Errorf("Flow entry parse invalid pre tunnel action")
			}
			set.parsePreTunnel(act)
		default:
			klog.Warningf("Flow entry can not support parse %d action", opCode)
		}
		i += actLen
	}

	return &set, nil
}
