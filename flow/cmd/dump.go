package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/corigine/flower-offload/pkg/nfp"
)

var dumpCmd = &cobra.Command{
	Use:     "dump",
	Aliases: []string{"d"},
	Short:   "Dump corigine nic offloaded flow entrys",
	RunE: func(cmd *cobra.Command, args []string) error {
		var flows []*nfp.FlowEntry
		if err := getJSON("/flows", &flows); err != nil {
			return err
		}
		displayFlowEntry(os.Stdout, flows, &filter)
		return nil
	},
}

var filter nfp.FlowFilter

func init() {
	rootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().StringVar(&filter.SrcIp, "srcip", "", "Filter by src ip")
	dumpCmd.Flags().StringVar(&filter.DstIp, "dstip", "", "Filter by dst ip")
	dumpCmd.Flags().StringVar(&filter.DevName, "devname", "", "Filter by dev name")
	dumpCmd.Flags().Uint16VarP(&filter.L4SrcPort, "l4srcport", "", 0, "Filter by L4 src port")
	dumpCmd.Flags().Uint16VarP(&filter.L4DstPort, "l4dstport", "", 0, "Filter by L4 dst port")
}

func displayFlowEntry(w io.Writer, flows []*nfp.FlowEntry, filter *nfp.FlowFilter) {
	var totalNum uint32
	for _, flow := range flows {
		if err := filter.Match(flow); err != nil {
			klog.V(4).Info(err)
			continue
		}
		totalNum++
		fmt.Fprintf(w, "Flow %x (ctx %d):\n", flow.Cookie, flow.Meta.HostCtxID)
		flow.PrintEntryInfo(w)
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "Total flow num: %d\n", totalNum)
}
