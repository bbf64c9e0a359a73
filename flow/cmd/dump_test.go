package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corigine/flower-offload/pkg/nfp"
)

func testFlow(t *testing.T, cookie uint64, dport uint16) *nfp.FlowEntry {
	t.Helper()
	layer := uint8(nfp.NFP_FLOWER_LAYER_PORT | nfp.NFP_FLOWER_LAYER_IPV4 | nfp.NFP_FLOWER_LAYER_TP)
	key := nfp.FlowKey{
		Meta: nfp.MetaTci{KeyLayer: layer, MaskID: 1},
		Port: nfp.InPort{Port: nfp.PhysPort(0)},
		Tp:   nfp.TpPorts{Dst: dport},
		IPv4: nfp.IPv4{Dst: [4]byte{10, 0, 0, 2}},
	}
	mask := nfp.FlowKey{
		Meta: nfp.MetaTci{KeyLayer: layer, MaskID: 0xff},
		Port: nfp.InPort{Port: 0xffffffff},
		Tp:   nfp.TpPorts{Dst: 0xffff},
		IPv4: nfp.IPv4{Dst: [4]byte{0xff, 0xff, 0xff, 0xff}},
	}
	acts := nfp.AppendOutput(nil, nfp.PhysPort(1), true)
	k, m := key.Encode(), mask.Encode()
	meta := nfp.RuleMetadata{KeyLen: len(k), MaskLen: len(m), ActLen: len(acts), HostCookie: cookie}
	flow, err := nfp.DecodeFlowEntry(meta, k, m, acts, func(port uint32) string {
		if port == nfp.PhysPort(0) {
			return "p0"
		}
		return "p1"
	})
	require.NoError(t, err)
	return flow
}

func TestDumpFlows(t *testing.T) {
	flows := []*nfp.FlowEntry{testFlow(t, 1, 80), testFlow(t, 2, 443)}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/flows", r.URL.Path)
		assert.NoError(t, json.NewEncoder(w).Encode(flows))
	}))
	defer ts.Close()

	saved := server
	server = ts.URL
	defer func() { server = saved }()

	var got []*nfp.FlowEntry
	require.NoError(t, getJSON("/flows", &got))
	require.Len(t, got, 2)
	assert.Equal(t, flows[0].Key, got[0].Key)

	var out bytes.Buffer
	displayFlowEntry(&out, got, &nfp.FlowFilter{L4DstPort: 443})
	assert.Contains(t, out.String(), "Flow 2 (ctx 0):")
	assert.NotContains(t, out.String(), "Flow 1 ")
	assert.Contains(t, out.String(), "Total flow num: 1\n")

	out.Reset()
	displayFlowEntry(&out, got, &nfp.FlowFilter{DevName: "p1"})
	assert.Contains(t, out.String(), "Total flow num: 2\n")
}

func TestGetJSONStatus(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	saved := server
	server = ts.URL
	defer func() { server = saved }()

	var result map[string]int
	assert.Error(t, getJSON("/stats", &result))
}
