package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var logsCmd = &cobra.Command{
	Use:   "logs [job_id]",
	Short: "Fetch the captured output of a job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jobID := args[0]
		follow, _ := cmd.Flags().GetBool("follow")

		client := NewClient(viper.GetString("url"))

		startLine := 0
		for {
			resp, err := client.GetLogs(jobID, startLine)
			if err != nil {
				cmd.Printf("Failed to fetch logs: %v\n", err)
				return
			}

			for _, entry := range resp.Logs {
				cmd.Printf("%s%4d%s [%s] %s\n", colorDim, entry.LineNumber, colorReset,
					colorizeLevel(entry.Level), entry.Content)
				startLine = entry.LineNumber + 1
			}

			if !follow {
				return
			}

			job, err := client.GetJob(jobID)
			if err == nil && isTerminal(job.Status) {
				cmd.Printf("\n%sJob %s%s\n", colorDim, job.Status, colorReset)
				return
			}
			time.Sleep(2 * time.Second)
		}
	},
}

func isTerminal(status string) bool {
	return status == "success" || status == "failed" || status == "cancelled"
}

func colorizeLevel(level string) string {
	switch level {
	case "ERROR":
		return colorRed + level + colorReset
	case "WARNING":
		return colorYellow + level + colorReset
	case "DEBUG":
		return colorDim + level + colorReset
	default:
		return level
	}
}

func init() {
	logsCmd.Flags().BoolP("follow", "f", false, "Poll for new lines until the job reaches a terminal status")
	rootCmd.AddCommand(logsCmd)
}
