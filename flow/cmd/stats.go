package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:     "stats",
	Aliases: []string{"s"},
	Short:   "Statistic corigine nic offloaded flow entrys by devname",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(time.Now())
		result := map[string]int{}
		if err := getJSON("/stats", &result); err != nil {
			return err
		}
		names := make([]string, 0, len(result))
		for devname := range result {
			names = append(names, devname)
		}
		sort.Strings(names)

		var total int
		fmt.Printf("%-16s %s\n", "Name", "Counter")
		fmt.Println("========================================")
		for _, devname := range names {
			fmt.Printf("%-16s %d\n", devname, result[devname])
			total += result[devname]
		}
		fmt.Println("========================================")
		fmt.Printf("%-16s %d\n", "total", total)
		fmt.Println(time.Now())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
