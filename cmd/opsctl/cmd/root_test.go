package cmd

import (
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func TestRootCommand_DefaultURL(t *testing.T) {
	resetViper()

	cmd := &cobra.Command{}
	cmd.PersistentFlags().String("url", "http://localhost:8080", "opsplane server URL")
	viper.BindPFlag("url", cmd.PersistentFlags().Lookup("url"))

	if url := viper.GetString("url"); url != "http://localhost:8080" {
		t.Errorf("expected default url http://localhost:8080, got: %s", url)
	}
}

func TestRootCommand_EnvVarBinding(t *testing.T) {
	resetViper()

	t.Setenv("OPSPLANE_URL", "http://custom-url:9090")
	t.Setenv("OPSPLANE_USER", "42")

	if url := viper.GetString("url"); url != "http://custom-url:9090" {
		t.Errorf("expected url from env var, got: %s", url)
	}
	if user := viper.GetInt64("user"); user != 42 {
		t.Errorf("expected user from env var, got: %d", user)
	}
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	for _, want := range []string{"run", "batch", "status [job_id]", "logs [job_id]", "cancel [job_id]", "stats"} {
		found := false
		for _, cmd := range rootCmd.Commands() {
			if cmd.Use == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected %q subcommand to be registered", want)
		}
	}
}

func TestExecute_ReturnsError(t *testing.T) {
	resetViper()

	rootCmd.SetArgs([]string{"unknown-command-xyz"})

	if err := Execute(); err == nil {
		t.Error("expected error for unknown command")
	}
}

func TestRootCommand_CustomConfigFile(t *testing.T) {
	resetViper()

	tmpFile, err := os.CreateTemp("", "opsctl-test-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	tmpFile.WriteString("url: http://custom-from-config:9999\nuser: 7\n")
	tmpFile.Close()

	cfgFile = tmpFile.Name()
	initConfig()

	if url := viper.GetString("url"); url != "http://custom-from-config:9999" {
		t.Errorf("expected url from config file, got: %s", url)
	}
	if user := viper.GetInt64("user"); user != 7 {
		t.Errorf("expected user from config file, got: %d", user)
	}

	cfgFile = ""
}
