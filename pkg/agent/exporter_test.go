//go:build linux

package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corigine/flower-offload/pkg/cmsg"
	"github.com/corigine/flower-offload/pkg/flower"
	"github.com/corigine/flower-offload/pkg/nfp"
	"github.com/corigine/flower-offload/pkg/portmap"
	"github.com/corigine/flower-offload/pkg/tunnel"
)

type discardChannel struct{}

func (discardChannel) Send(context.Context, []byte) error { return nil }
func (discardChannel) MaxMessageSize() int                { return cmsg.DefaultMaxMessageSize }

func newTestExporter(t *testing.T) *Exporter {
	t.Helper()
	ports := portmap.New()
	ports.Add(portmap.Port{Name: "p0", Index: 2, ID: nfp.PhysPort(0)})
	ports.Add(portmap.Port{Name: "p1", Index: 3, ID: nfp.PhysPort(1)})

	transport := cmsg.NewTransport(discardChannel{})
	e := &Exporter{
		cfg:       &Configuration{MetricsPath: "/metrics"},
		pciDevice: "0000:01:00.0",
		ports:     ports,
		transport: transport,
		tunnels:   tunnel.NewEndpoints(transport),
	}
	engine, err := flower.NewEngine(flower.Config{Transport: transport, Tunnels: e.tunnels, Ports: ports})
	require.NoError(t, err)
	e.engine = engine
	return e
}

func TestExporterHandler(t *testing.T) {
	e := newTestExporter(t)
	rule := &flower.Rule{
		Cookie:  1,
		Ingress: flower.Netdev{Name: "p0", Index: 2, PortID: nfp.PhysPort(0)},
		Used:    flower.NewKeySet(flower.KeyControl, flower.KeyBasic, flower.KeyEthAddrs),
		Actions: []flower.Action{{Kind: flower.ActionRedirect, Dev: flower.Netdev{Name: "p1", Index: 3, PortID: nfp.PhysPort(1)}}},
	}
	require.NoError(t, e.engine.AddFlow(context.Background(), rule))

	ts := httptest.NewServer(e.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + FlowsPath)
	require.NoError(t, err)
	var flows []*nfp.FlowEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&flows))
	resp.Body.Close()
	require.Len(t, flows, 1)
	assert.Equal(t, "p0", flows[0].DevName)
	assert.Equal(t, []string{"p1"}, flows[0].OutDevs)

	resp, err = http.Get(ts.URL + StatsPath)
	require.NoError(t, err)
	var counts map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&counts))
	resp.Body.Close()
	assert.Equal(t, map[string]int{"p0": 1}, counts)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestExporterFlowsReportAccumulatedStats(t *testing.T) {
	e := newTestExporter(t)
	ingress := flower.Netdev{Name: "p0", Index: 2, PortID: nfp.PhysPort(0)}
	rule := &flower.Rule{
		Cookie:  7,
		Ingress: ingress,
		Used:    flower.NewKeySet(flower.KeyControl, flower.KeyBasic, flower.KeyEthAddrs),
		Actions: []flower.Action{{Kind: flower.ActionDrop}},
	}
	require.NoError(t, e.engine.AddFlow(context.Background(), rule))
	e.totals = func(cookie uint64, ingress int) (flower.FlowStats, bool) {
		if cookie != 7 || ingress != 2 {
			return flower.FlowStats{}, false
		}
		return flower.FlowStats{Pkts: 40, Bytes: 4000}, true
	}

	resident := e.engine.Flows(nil, nil)
	require.Len(t, resident, 1)
	e.engine.UpdateStats(resident[0].Meta.HostCtxID, 2, 128)

	ts := httptest.NewServer(e.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + FlowsPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	var flows []*nfp.FlowEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&flows))
	require.Len(t, flows, 1)
	assert.Equal(t, uint64(42), flows[0].PktCount)
	assert.Equal(t, uint64(4128), flows[0].ByteCount)
}

func TestExporterCloseRefusesNewFlows(t *testing.T) {
	e := newTestExporter(t)
	ctx := context.Background()
	rule := &flower.Rule{
		Cookie:  1,
		Ingress: flower.Netdev{Name: "p0", Index: 2, PortID: nfp.PhysPort(0)},
		Used:    flower.NewKeySet(flower.KeyControl, flower.KeyBasic, flower.KeyEthAddrs),
		Actions: []flower.Action{{Kind: flower.ActionDrop}},
	}
	require.NoError(t, e.engine.AddFlow(ctx, rule))
	require.NoError(t, e.Close(ctx))
	assert.Zero(t, e.engine.Len())

	assert.ErrorIs(t, e.engine.Replace(ctx, rule), flower.ErrClosed)
	assert.Zero(t, e.engine.Len())
	assert.Equal(t, map[string]int{}, e.ports.Counts())
}
