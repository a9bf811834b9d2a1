package cmd

import (
	"encoding/json"

	"opsplane/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a playbook on a single server",
	Run: func(cmd *cobra.Command, args []string) {
		playbookID, _ := cmd.Flags().GetInt64("playbook")
		serverID, _ := cmd.Flags().GetInt64("server")
		varsJSON, _ := cmd.Flags().GetString("extra-vars")

		if playbookID == 0 || serverID == 0 {
			cmd.Println("Both --playbook and --server are required")
			return
		}

		var extraVars map[string]any
		if varsJSON != "" {
			if err := json.Unmarshal([]byte(varsJSON), &extraVars); err != nil {
				cmd.Printf("Invalid --extra-vars JSON: %v\n", err)
				return
			}
		}

		client := NewClient(viper.GetString("url"))
		job, err := client.RunPlaybook(api.RunPlaybookRequest{
			PlaybookID: playbookID,
			ServerID:   serverID,
			UserID:     viper.GetInt64("user"),
			ExtraVars:  extraVars,
		})
		if err != nil {
			cmd.Printf("Failed to run playbook: %v\n", err)
			return
		}

		cmd.Printf("🚀 Job submitted!\nID: %s\n", job.JobID)
	},
}

func init() {
	runCmd.Flags().Int64("playbook", 0, "Playbook ID to execute")
	runCmd.Flags().Int64("server", 0, "Server ID to execute against")
	runCmd.Flags().String("extra-vars", "", "Extra variables as a JSON object")
	rootCmd.AddCommand(runCmd)
}
