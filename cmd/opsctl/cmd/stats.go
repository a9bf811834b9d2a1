package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-status job counts",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(viper.GetString("url"))
		stats, err := client.Stats(viper.GetInt64("user"))
		if err != nil {
			cmd.Printf("Failed to fetch statistics: %v\n", err)
			return
		}

		cmd.Printf("%sJob Statistics%s\n", colorBold, colorReset)
		cmd.Println("──────────────────────────────")
		cmd.Printf("%sTotal:%s      %d\n", colorDim, colorReset, stats.Total)
		cmd.Printf("%sPending:%s    %d\n", colorDim, colorReset, stats.Pending)
		cmd.Printf("%sRunning:%s    %d\n", colorDim, colorReset, stats.Running)
		cmd.Printf("%sSuccess:%s    %s%d%s\n", colorDim, colorReset, colorGreen, stats.Success, colorReset)
		cmd.Printf("%sFailed:%s     %s%d%s\n", colorDim, colorReset, colorRed, stats.Failed, colorReset)
		cmd.Printf("%sCancelled:%s  %d\n", colorDim, colorReset, stats.Cancelled)
		cmd.Printf("%sSuccess %%:%s  %.1f\n", colorDim, colorReset, stats.SuccessRate)
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
