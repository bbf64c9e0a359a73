package agent

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"github.com/corigine/flower-offload/pkg/cmsg"
	"github.com/corigine/flower-offload/pkg/flower"
)

// Configuration contains parameters information.
type Configuration struct {
	ListenPort     int
	MetricsPath    string
	ChannelSocket  string
	ChannelMaxMsg  int
	PciDevice      string
	Capabilities   flower.Capabilities
	TableCapacity  int
	StatsContexts  int
	Devs           []string
	SyncInterval   time.Duration
	ExportInterval time.Duration
}

// ParseFlags get parameters information.
func ParseFlags() (*Configuration, error) {
	return parseFlags(pflag.CommandLine, os.Args[1:])
}

func parseFlags(fs *pflag.FlagSet, args []string) (*Configuration, error) {
	var (
		argListenPort     = fs.Int("listen-port", 10770, "Tcp port to listen on for web interface and telemetry.")
		argMetricsPath    = fs.String("telemetry-path", "/metrics", "Path under which to expose metrics.")
		argChannelSocket  = fs.String("cmsg-socket", "/var/run/nfp/cmsg.sock", "Unix socket of the firmware control message channel.")
		argChannelMaxMsg  = fs.Int("cmsg-max-size", cmsg.DefaultMaxMessageSize, "Largest control message the channel accepts.")
		argPciDevice      = fs.String("pci", "", "PCI address of the card. If not set use the card of --devs, or the first NFP card found.")
		argCapabilities   = fs.StringSlice("caps", nil, "Firmware capabilities: vlan_pcp, geneve, geneve_opt.")
		argTableCapacity  = fs.Int("max-flows", 0, "Maximum number of offloaded flows, 0 for no limit.")
		argStatsContexts  = fs.Int("stats-contexts", flower.DefaultStatsContexts, "Number of firmware stats contexts.")
		argDevs           = fs.StringSlice("devs", nil, "Representor netdevs whose flower filters are offloaded. If not set use every port of the card.")
		argSyncInterval   = fs.Int("interval", 5, "The minimum interval (in seconds) between filter syncs.")
		argExportInterval = fs.Int("stat-interval", 15, "The minimum interval (in seconds) between metric updates.")
	)

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	fs.AddGoFlagSet(klogFlags)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	caps, err := flower.ParseCapabilities(*argCapabilities)
	if err != nil {
		return nil, err
	}
	if *argSyncInterval <= 0 || *argExportInterval <= 0 {
		return nil, fmt.Errorf("intervals must be positive")
	}

	config := &Configuration{
		ListenPort:     *argListenPort,
		MetricsPath:    *argMetricsPath,
		ChannelSocket:  *argChannelSocket,
		ChannelMaxMsg:  *argChannelMaxMsg,
		PciDevice:      *argPciDevice,
		Capabilities:   caps,
		TableCapacity:  *argTableCapacity,
		StatsContexts:  *argStatsContexts,
		Devs:           *argDevs,
		SyncInterval:   time.Duration(*argSyncInterval) * time.Second,
		ExportInterval: time.Duration(*argExportInterval) * time.Second,
	}
	klog.Infof("flower offload config is %+v", config)
	return config, nil
}

func (config *Configuration) engineConfig() flower.Config {
	return flower.Config{
		Caps:          config.Capabilities,
		TableCapacity: config.TableCapacity,
		StatsContexts: config.StatsContexts,
	}
}
