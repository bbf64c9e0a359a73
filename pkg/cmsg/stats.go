package cmsg

import (
	"fmt"

	"github.com/google/nftables/binaryutil"
)

const StatsFrameSize = 24

// StatsFrame is one per-flow counter update pushed by the firmware.
type StatsFrame struct {
	HostCtxID uint32
	Pkts      uint32
	Bytes     uint64
	Cookie    uint64
}

func (f StatsFrame) Append(b []byte) []byte {
	b = append(b, binaryutil.BigEndian.PutUint32(f.HostCtxID)...)
	b = append(b, binaryutil.BigEndian.PutUint32(f.Pkts)...)
	b = append(b, binaryutil.BigEndian.PutUint64(f.Bytes)...)
	return append(b, binaryutil.BigEndian.PutUint64(f.Cookie)...)
}

// ParseStats reads the frames of a FLOW_STATS message body.
func ParseStats(body []byte) ([]StatsFrame, error) {
	if len(body)%StatsFrameSize != 0 {
		return nil, fmt.Errorf("stats message body of %d bytes is not a multiple of %d", len(body), StatsFrameSize)
	}
	frames := make([]StatsFrame, 0, len(body)/StatsFrameSize)
	for off := 0; off < len(body); off += StatsFrameSize {
		f := body[off : off+StatsFrameSize]
		frames = append(frames, StatsFrame{
			HostCtxID: binaryutil.BigEndian.Uint32(f[0:4]),
			Pkts:      binaryutil.BigEndian.Uint32(f[4:8]),
			Bytes:     binaryutil.BigEndian.Uint64(f[8:16]),
			Cookie:    binaryutil.BigEndian.Uint64(f[16:24]),
		})
	}
	return frames, nil
}

// EncodeStats builds a FLOW_STATS message, used by firmware emulators and tests.
func EncodeStats(frames []StatsFrame) []byte {
	b := make([]byte, 0, HeaderSize+len(frames)*StatsFrameSize)
	b = Header{Type: NFP_FLOWER_CMSG_TYPE_FLOW_STATS, Version: NFP_FLOWER_CMSG_VER1}.Append(b)
	for _, f := range frames {
		b = f.Append(b)
	}
	return b
}
