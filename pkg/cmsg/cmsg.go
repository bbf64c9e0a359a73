// Package cmsg carries flower control messages between the host and the
// firmware: flow add and delete requests out, flow statistics in.
package cmsg

import (
	"errors"
	"fmt"

	"github.com/google/nftables/binaryutil"
)

const (
	NFP_FLOWER_CMSG_TYPE_FLOW_ADD   = 0
	NFP_FLOWER_CMSG_TYPE_FLOW_MOD   = 1
	NFP_FLOWER_CMSG_TYPE_FLOW_DEL   = 2
	NFP_FLOWER_CMSG_TYPE_TUN_IPS    = 14
	NFP_FLOWER_CMSG_TYPE_FLOW_STATS = 15

	NFP_FLOWER_CMSG_VER1 = 1

	HeaderSize = 4
)

var (
	// ErrChannelDown is returned when the control channel is closed or not
	// yet connected. Sends are not retried.
	ErrChannelDown = errors.New("control channel down")
	// ErrNoMemory is returned when a message does not fit the channel.
	ErrNoMemory = errors.New("control message too large")
)

// Header is the common prefix of every control message.
type Header struct {
	Type    uint8
	Version uint8
}

func (h Header) Append(b []byte) []byte {
	b = append(b, binaryutil.BigEndian.PutUint16(0)...)
	return append(b, h.Type, h.Version)
}

func ParseHeader(msg []byte) (Header, error) {
	if len(msg) < HeaderSize {
		return Header{}, fmt.Errorf("control message too short: %d bytes", len(msg))
	}
	h := Header{Type: msg[2], Version: msg[3]}
	if h.Version != NFP_FLOWER_CMSG_VER1 {
		return h, fmt.Errorf("control message version %d not supported", h.Version)
	}
	return h, nil
}

// TypeName returns a printable name of a message type.
func TypeName(t uint8) string {
	switch t {
	case NFP_FLOWER_CMSG_TYPE_FLOW_ADD:
		return "flow_add"
	case NFP_FLOWER_CMSG_TYPE_FLOW_MOD:
		return "flow_mod"
	case NFP_FLOWER_CMSG_TYPE_FLOW_DEL:
		return "flow_del"
	case NFP_FLOWER_CMSG_TYPE_TUN_IPS:
		return "tun_ips"
	case NFP_FLOWER_CMSG_TYPE_FLOW_STATS:
		return "flow_stats"
	}
	return fmt.Sprintf("type_%d", t)
}
