//go:build linux

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"github.com/corigine/flower-offload/pkg/cmsg"
	"github.com/corigine/flower-offload/pkg/flower"
	"github.com/corigine/flower-offload/pkg/portmap"
	"github.com/corigine/flower-offload/pkg/tcsource"
	"github.com/corigine/flower-offload/pkg/tunnel"
	"github.com/corigine/flower-offload/pkg/util"
)

const (
	FlowsPath = "/flows"
	StatsPath = "/stats"
)

// Exporter wires one card: port map, control channel, engine and the tc
// filter source. It also serves the flow dump and the metrics.
type Exporter struct {
	cfg       *Configuration
	Hostname  string
	pciDevice string

	ports     *portmap.Table
	channel   *cmsg.ConnChannel
	transport *cmsg.Transport
	tunnels   *tunnel.Endpoints
	engine    *flower.Engine
	syncer    *tcsource.Syncer
	totals    flower.StatsTotals
	channelUp atomic.Bool
	stopRead  context.CancelFunc
}

var registerMetricsOnce sync.Once

// NewExporter returns an initialized Exporter.
func NewExporter(ctx context.Context, cfg *Configuration) (*Exporter, error) {
	e := &Exporter{
		cfg:       cfg,
		Hostname:  os.Getenv("NODE_NAME"),
		pciDevice: cfg.PciDevice,
		ports:     portmap.New(),
	}
	if e.pciDevice == "" && len(cfg.Devs) > 0 {
		pci, err := portmap.PciOfNetdev(cfg.Devs[0])
		if err != nil {
			return nil, fmt.Errorf("find the card of %s: %w", cfg.Devs[0], err)
		}
		e.pciDevice = pci
	}
	if e.pciDevice == "" {
		devices := util.GetCorigineNicDevice()
		if len(devices) == 0 {
			return nil, fmt.Errorf("no corigine nic found")
		}
		e.pciDevice = devices[0]
	}
	if err := e.ports.Discover(e.pciDevice); err != nil {
		return nil, err
	}

	channel, err := cmsg.DialChannel(ctx, "unix", cfg.ChannelSocket, cfg.ChannelMaxMsg)
	if err != nil {
		return nil, err
	}
	e.channel = channel
	e.transport = cmsg.NewTransport(channel)
	e.tunnels = tunnel.NewEndpoints(e.transport)

	ecfg := cfg.engineConfig()
	ecfg.Transport = e.transport
	ecfg.Tunnels = e.tunnels
	ecfg.Ports = e.ports
	if e.engine, err = flower.NewEngine(ecfg); err != nil {
		channel.Close()
		return nil, err
	}
	e.transport.HandleStats(func(f cmsg.StatsFrame) {
		e.engine.UpdateStats(f.HostCtxID, f.Pkts, f.Bytes)
	})

	devs := cfg.Devs
	if len(devs) == 0 {
		for _, p := range e.ports.Ports() {
			devs = append(devs, p.Name)
		}
	}
	e.syncer = tcsource.NewSyncer(e.engine, e.ports, devs, cfg.SyncInterval)
	e.totals = e.syncer.Totals
	return e, nil
}

// Start runs the channel reader, the filter sync and the metric updates.
// The filter sync and the metrics stop with stopCh; the channel reader keeps
// running until Close so that teardown can still reach the firmware.
func (e *Exporter) Start(stopCh <-chan struct{}) {
	registerMetricsOnce.Do(func() {
		registerAgentMetrics()
		flower.RegisterMetrics()
	})

	var readCtx context.Context
	readCtx, e.stopRead = context.WithCancel(context.Background())
	e.channelUp.Store(true)
	go func() {
		defer utilruntime.HandleCrash()
		err := e.channel.Run(readCtx, e.transport.Receive)
		e.channelUp.Store(false)
		klog.Errorf("control channel of %s stopped: %v", e.pciDevice, err)
	}()
	go e.syncer.Run(stopCh)
	go wait.Until(e.exportGauge, e.cfg.ExportInterval, stopCh)
}

func (e *Exporter) exportGauge() {
	defer utilruntime.HandleCrash()

	metricPortOffload.Reset()
	for dev, n := range e.ports.Counts() {
		metricPortOffload.WithLabelValues(e.Hostname, e.pciDevice, dev).Set(float64(n))
	}
	metricTunnelEndpoints.WithLabelValues(e.Hostname, e.pciDevice).Set(float64(len(e.tunnels.List())))
	up := 0.0
	if e.channelUp.Load() {
		up = 1
	}
	metricChannelStatus.WithLabelValues(e.Hostname, e.pciDevice).Set(up)
}

// Handler serves the metrics, the flow dump and the per device counts.
func (e *Exporter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(e.cfg.MetricsPath, promhttp.Handler())
	mux.HandleFunc(FlowsPath, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, e.engine.Flows(e.ports.Name, e.totals))
	})
	mux.HandleFunc(StatsPath, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, e.ports.Counts())
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		klog.Errorf("failed to write response: %v", err)
	}
}

// Close removes every offloaded flow and closes the channel. The filter
// sync must be stopped first.
func (e *Exporter) Close(ctx context.Context) error {
	err := e.engine.Close(ctx)
	if e.stopRead != nil {
		e.stopRead()
	}
	if e.channel != nil {
		e.channel.Close()
	}
	return err
}
