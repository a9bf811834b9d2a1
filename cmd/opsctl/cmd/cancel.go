package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel [job_id]",
	Short: "Cancel a pending or running job",
	Long: `Request cooperative cancellation of a job. A pending job is cancelled
immediately; a running job is signalled and reaches the cancelled state
once its execution observes the request. Batch parents cancel their
unstarted children as well.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(viper.GetString("url"))
		job, err := client.CancelJob(args[0])
		if err != nil {
			cmd.Printf("Failed to cancel job: %v\n", err)
			return
		}
		cmd.Printf("Cancellation requested for %s (status: %s)\n", job.JobID, job.Status)
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}
