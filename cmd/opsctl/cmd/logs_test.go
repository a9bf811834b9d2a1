package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"opsplane/pkg/api"

	"github.com/spf13/viper"
)

func TestLogsCommand_PrintsNumberedLines(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/logs") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(api.GetLogsResponse{
			JobID: "0c9a4b6e-6e2f-4f8e-9a33-666666666666",
			Total: 3,
			Logs: []api.LogEntry{
				{LineNumber: 1, Content: "PLAY [all]", Level: "INFO", Timestamp: time.Now()},
				{LineNumber: 2, Content: "ok: [web-01]", Level: "INFO", Timestamp: time.Now()},
				{LineNumber: 3, Content: "fatal: [web-01]: FAILED!", Level: "ERROR", Timestamp: time.Now()},
			},
		})
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"logs", "0c9a4b6e-6e2f-4f8e-9a33-666666666666"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	for _, want := range []string{"PLAY [all]", "ok: [web-01]", "fatal: [web-01]: FAILED!", "ERROR"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, status := range []string{"success", "failed", "cancelled"} {
		if !isTerminal(status) {
			t.Errorf("%s should be terminal", status)
		}
	}
	for _, status := range []string{"pending", "running", ""} {
		if isTerminal(status) {
			t.Errorf("%s should not be terminal", status)
		}
	}
}
