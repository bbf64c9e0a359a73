package cmsg

import (
	"fmt"
	"net/netip"

	"github.com/google/nftables/binaryutil"
)

// NFP_FL_IPV4_ADDRS_MAX is the size of the firmware decap address table.
const NFP_FL_IPV4_ADDRS_MAX = 32

// EncodeTunIPs builds the TUN_IPS message that replaces the firmware list
// of IPv4 addresses it terminates tunnels for.
func EncodeTunIPs(addrs []netip.Addr) ([]byte, error) {
	if len(addrs) > NFP_FL_IPV4_ADDRS_MAX {
		return nil, fmt.Errorf("%d tunnel endpoints exceed %d", len(addrs), NFP_FL_IPV4_ADDRS_MAX)
	}
	b := make([]byte, 0, HeaderSize+4+4*NFP_FL_IPV4_ADDRS_MAX)
	b = Header{Type: NFP_FLOWER_CMSG_TYPE_TUN_IPS, Version: NFP_FLOWER_CMSG_VER1}.Append(b)
	b = append(b, binaryutil.BigEndian.PutUint32(uint32(len(addrs)))...)

	var table [NFP_FL_IPV4_ADDRS_MAX * 4]byte
	for i, addr := range addrs {
		if !addr.Is4() {
			return nil, fmt.Errorf("tunnel endpoint %s is not IPv4", addr)
		}
		a := addr.As4()
		copy(table[i*4:], a[:])
	}
	return append(b, table[:]...), nil
}

// DecodeTunIPs reads the address list of a TUN_IPS message body.
func DecodeTunIPs(body []byte) ([]netip.Addr, error) {
	if len(body) != 4+4*NFP_FL_IPV4_ADDRS_MAX {
		return nil, fmt.Errorf("tun_ips body of %d bytes", len(body))
	}
	n := binaryutil.BigEndian.Uint32(body[:4])
	if n > NFP_FL_IPV4_ADDRS_MAX {
		return nil, fmt.Errorf("tun_ips count %d exceeds %d", n, NFP_FL_IPV4_ADDRS_MAX)
	}
	addrs := make([]netip.Addr, 0, n)
	for i := 0; i < int(n); i++ {
		off := 4 + i*4
		addrs = append(addrs, netip.AddrFrom4([4]byte(body[off:off+4])))
	}
	return addrs, nil
}
