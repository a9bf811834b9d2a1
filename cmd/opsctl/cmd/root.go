package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "opsctl",
	Short: "Opsctl is a command line tool for interacting with the opsplane orchestration engine",
	Long: `opsctl is the command-line interface for the opsplane playbook orchestration engine.

opsplane executes configuration playbooks against inventory servers, either one
at a time or as a batch fanned out across many targets with a concurrency limit
and an optional stop-on-failure policy.

Common workflows:

  Run a playbook on one server:
    opsctl run --playbook 3 --server 12

  Fan out across a fleet:
    opsctl batch --playbook 3 --servers 12,13,14,15 --limit 2 --stop-on-failure

  Check a job:
    opsctl status <job-id>

  Fetch its output:
    opsctl logs <job-id>

  Cancel a running job:
    opsctl cancel <job-id>

Configuration:
  Set the API endpoint via environment variables or a config file:
    OPSPLANE_URL    API endpoint (default: http://localhost:8080)`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".opsctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".opsctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "OPSPLANE_VARNAME"
	viper.SetEnvPrefix("OPSPLANE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.opsctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:8080", "opsplane server URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().Int64("user", 0, "User ID recorded on submitted jobs")
	viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
}
