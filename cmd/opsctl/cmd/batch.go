package cmd

import (
	"encoding/json"
	"strconv"
	"strings"

	"opsplane/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run a playbook across multiple servers as one batch",
	Long: `Fan a playbook out across a fleet of servers. Children run in windows of
--limit concurrent executions (or strictly one at a time with
--strategy sequential). With --stop-on-failure, a failed child cancels
every sibling that has not started yet.`,
	Run: func(cmd *cobra.Command, args []string) {
		playbookID, _ := cmd.Flags().GetInt64("playbook")
		serversCSV, _ := cmd.Flags().GetString("servers")
		limit, _ := cmd.Flags().GetInt("limit")
		stopOnFailure, _ := cmd.Flags().GetBool("stop-on-failure")
		strategy, _ := cmd.Flags().GetString("strategy")
		varsJSON, _ := cmd.Flags().GetString("extra-vars")

		if playbookID == 0 || serversCSV == "" {
			cmd.Println("Both --playbook and --servers are required")
			return
		}

		var serverIDs []int64
		for _, part := range strings.Split(serversCSV, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				cmd.Printf("Invalid server id %q\n", part)
				return
			}
			serverIDs = append(serverIDs, id)
		}

		var extraVars map[string]any
		if varsJSON != "" {
			if err := json.Unmarshal([]byte(varsJSON), &extraVars); err != nil {
				cmd.Printf("Invalid --extra-vars JSON: %v\n", err)
				return
			}
		}

		client := NewClient(viper.GetString("url"))
		job, err := client.RunBatch(api.RunBatchRequest{
			PlaybookID:        playbookID,
			ServerIDs:         serverIDs,
			UserID:            viper.GetInt64("user"),
			ExtraVars:         extraVars,
			ConcurrentLimit:   limit,
			StopOnFailure:     stopOnFailure,
			ExecutionStrategy: strategy,
		})
		if err != nil {
			cmd.Printf("Failed to run batch: %v\n", err)
			return
		}

		cmd.Printf("🚀 Batch submitted!\nID: %s\nTargets: %d\n", job.JobID, len(serverIDs))
	},
}

func init() {
	batchCmd.Flags().Int64("playbook", 0, "Playbook ID to execute")
	batchCmd.Flags().String("servers", "", "Comma-separated server IDs (at least 2)")
	batchCmd.Flags().Int("limit", 0, "Max concurrent child executions (default: server-side default)")
	batchCmd.Flags().Bool("stop-on-failure", false, "Cancel unstarted children after the first failure")
	batchCmd.Flags().String("strategy", "", "Execution strategy: parallel or sequential")
	batchCmd.Flags().String("extra-vars", "", "Extra variables as a JSON object")
	rootCmd.AddCommand(batchCmd)
}
