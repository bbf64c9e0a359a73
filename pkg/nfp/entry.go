package nfp

import (
	"fmt"
	"io"
	"net"

	"github.com/corigine/flower-offload/pkg/util"
)

// FlowEntry is a resident flow decoded back from its wire buffers.
type FlowEntry struct {
	Cookie    uint64       `json:"cookie"`
	DevName   string       `json:"devName"`
	OutDevs   []string     `json:"outDevs,omitempty"`
	Meta      RuleMetadata `json:"meta"`
	Key       FlowKey      `json:"key"`
	Mask      FlowKey      `json:"mask"`
	Actions   ActionSet    `json:"actions"`
	PktCount  uint64       `json:"pktCount"`
	ByteCount uint64       `json:"byteCount"`
}

type FlowFilter struct {
	DevName   string
	SrcIp     string
	DstIp     string
	L4SrcPort uint16
	L4DstPort uint16
}

// DecodeFlowEntry rebuilds the structured entry from key, mask and action
// buffers. Port names are resolved through names, which may be nil.
func DecodeFlowEntry(meta RuleMetadata, key, mask, actions []byte, names func(uint32) string) (*FlowEntry, error) {
	k, err := DecodeKey(key)
	if err != nil {
		return nil, err
	}
	m, err := DecodeKey(mask)
	if err != nil {
		return nil, fmt.Errorf("mask: %w", err)
	}
	if len(key) != len(mask) {
		return nil, fmt.Errorf("Flow key and mask length differ: %d != %d", len(key), len(mask))
	}
	acts, err := DecodeActions(actions)
	if err != nil {
		return nil, err
	}

	flow := &FlowEntry{
		Cookie:  meta.HostCookie,
		Meta:    meta,
		Key:     *k,
		Mask:    *m,
		Actions: *acts,
	}
	if names != nil {
		flow.DevName = names(k.Port.Port)
		for _, out := range acts.Outputs {
			flow.OutDevs = append(flow.OutDevs, names(out.Port))
		}
	}
	return flow, nil
}

// Match applies the filter the same way the dump command does.
func (filter *FlowFilter) Match(flow *FlowEntry) error {
	if filter == nil {
		return nil
	}
	if filter.DevName != "" {
		out := false
		for _, dev := range flow.OutDevs {
			out = out || dev == filter.DevName
		}
		if filter.DevName != flow.DevName && !out {
			return fmt.Errorf("Flow filter devname  %s not match", filter.DevName)
		}
	}
	if filter.L4DstPort != 0 && flow.Key.Tp.Dst != filter.L4DstPort {
		return fmt.Errorf("Flow filter L4 Dst Port  %d not match", filter.L4DstPort)
	}
	if filter.L4SrcPort != 0 && flow.Key.Tp.Src != filter.L4SrcPort {
		return fmt.Errorf("Flow filter L4 Src Port  %d not match", filter.L4SrcPort)
	}
	if filter.SrcIp != "" && filter.SrcIp != net.IP(flow.Key.IPv4.Src[:]).String() {
		return fmt.Errorf("Flow filter L4 Src IP  %s not match", filter.SrcIp)
	}
	if filter.DstIp != "" && filter.DstIp != net.IP(flow.Key.IPv4.Dst[:]).String() {
		return fmt.Errorf("Flow filter L4 Dst IP  %s not match", filter.DstIp)
	}
	return nil
}

func printMasked(w io.Writer, name string, val, mask []byte, format func([]byte) string) {
	if util.MaskIsMaskAll(mask) {
		fmt.Fprintf(w, "  %-16s%s\n", name, format(val))
	} else if !util.MaskIsMaskNone(mask) {
		fmt.Fprintf(w, "  %-16s%s/%s\n", name, format(val), format(mask))
	}
}

func printMasked16(w io.Writer, name string, val, mask uint16) {
	if mask == 0xFFFF {
		fmt.Fprintf(w, "  %-16s%d\n", name, val)
	} else if mask != 0 {
		fmt.Fprintf(w, "  %-16s%d/0x%x\n", name, val, mask)
	}
}

func macString(b []byte) string { return net.HardwareAddr(b).String() }
func ipString(b []byte) string  { return net.IP(b).String() }

func (flow *FlowEntry) PrintEntryInfo(w io.Writer) {
	layers, extLayers := flow.Key.Layers()

	fmt.Fprintln(w, "Key:")
	if layers&NFP_FLOWER_LAYER_PORT != 0 {
		fmt.Fprintf(w, "  %-16s%s\n", "Port:", flow.DevName)
	}
	if flow.Mask.Meta.Tci&NFP_FLOWER_MASK_VLAN_PRESENT != 0 {
		fmt.Fprintf(w, "  %-16s%d\n", "Vlan Id:", flow.Key.Meta.Tci&NFP_FLOWER_MASK_VLAN_VID)
	}
	if layers&NFP_FLOWER_LAYER_MAC != 0 {
		printMasked(w, "Dst Mac:", flow.Key.Mac.Dst[:], flow.Mask.Mac.Dst[:], macString)
		printMasked(w, "Src Mac:", flow.Key.Mac.Src[:], flow.Mask.Mac.Src[:], macString)
	}
	if layers&NFP_FLOWER_LAYER_IPV4 != 0 {
		if flow.Key.IPv4.Proto != 0 {
			fmt.Fprintf(w, "  %-16s%d\n", "IP proto:", flow.Key.IPv4.Proto)
		}
		printMasked(w, "Src IP:", flow.Key.IPv4.Src[:], flow.Mask.IPv4.Src[:], ipString)
		printMasked(w, "Dst IP:", flow.Key.IPv4.Dst[:], flow.Mask.IPv4.Dst[:], ipString)
	}
	if layers&NFP_FLOWER_LAYER_IPV6 != 0 {
		if flow.Key.IPv6.Proto != 0 {
			fmt.Fprintf(w, "  %-16s%d\n", "IP proto:", flow.Key.IPv6.Proto)
		}
		printMasked(w, "Src IP:", flow.Key.IPv6.Src[:], flow.Mask.IPv6.Src[:], ipString)
		printMasked(w, "Dst IP:", flow.Key.IPv6.Dst[:], flow.Mask.IPv6.Dst[:], ipString)
	}
	if layers&NFP_FLOWER_LAYER_TP != 0 {
		printMasked16(w, "L4 Src Port:", flow.Key.Tp.Src, flow.Mask.Tp.Src)
		printMasked16(w, "L4 Dst Port:", flow.Key.Tp.Dst, flow.Mask.Tp.Dst)
	}
	if flow.Key.HasTunnel() {
		name := TUNNEL_VXLAN
		if extLayers&NFP_FLOWER_LAYER2_GENEVE != 0 {
			name = TUNNEL_GENVE
		}
		fmt.Fprintf(w, "  %-16s%s\n", "Tunnel:", name)
		fmt.Fprintf(w, "  %-16s%s\n", "Tunnel Src IP:", ipString(flow.Key.Tun.Src[:]))
		fmt.Fprintf(w, "  %-16s%s\n", "Tunnel Dst IP:", ipString(flow.Key.Tun.Dst[:]))
		fmt.Fprintf(w, "  %-16s%d\n", "Tunnel Id:", flow.Key.Tun.VNI())
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Action:")
	if flow.Meta.Shortcut == NFP_FL_SC_ACT_DROP {
		fmt.Fprintf(w, "  %-16s\n", "Drop")
	}
	if flow.Key.HasTunnel() && len(flow.OutDevs) > 0 {
		fmt.Fprintf(w, "  %-16s\n", "Tunnel Decap")
	}
	for i, out := range flow.Actions.Outputs {
		name := fmt.Sprintf("0x%x", out.Port)
		if i < len(flow.OutDevs) {
			name = flow.OutDevs[i]
		}
		fmt.Fprintf(w, "  %-16s%s\n", "Redirect Port:", name)
	}
	if flow.Actions.PopVlan {
		fmt.Fprintf(w, "  %-16s\n", "Pop Vlan")
	}
	if flow.Actions.PushVlan != nil {
		fmt.Fprintf(w, "  %-16s%d\n", "Push Vlan:", flow.Actions.PushVlan.Tci&NFP_FLOWER_MASK_VLAN_VID)
	}
	if tun := flow.Actions.SetTunnel; tun != nil {
		fmt.Fprintf(w, "  %-16s%s\n", "Tunnel Encap:", TunnelName(uint32(tun.TunType)))
		if pre := flow.Actions.PreTunnel; pre != nil {
			fmt.Fprintf(w, "  %-16s%s\n", "  Dst IP:", ipString(pre.IPv4Dst[:]))
		}
		fmt.Fprintf(w, "  %-16s%d\n", "  Tunnel Id:", tun.TunID)
		fmt.Fprintf(w, "  %-16s%d\n", "  Ttl:", tun.Ttl)
	}
	if eth := flow.Actions.SetEth; eth != nil {
		printMasked(w, "Set Dst Mac:", eth.Dst[:], eth.DstMask[:], macString)
		printMasked(w, "Set Src Mac:", eth.Src[:], eth.SrcMask[:], macString)
	}
	fmt.Fprintf(w, "  %-16s%d\n", "Packets:", flow.PktCount)
	fmt.Fprintf(w, "  %-16s%d\n", "Bytes:", flow.ByteCount)
}
