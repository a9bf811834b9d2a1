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

func TestStatusCommand_Success(t *testing.T) {
	resetViper()

	startTime := time.Now().Add(-10 * time.Minute)
	endTime := time.Now().Add(-9 * time.Minute)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET method, got %s", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/jobs/0c9a4b6e-6e2f-4f8e-9a33-222222222222") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		json.NewEncoder(w).Encode(api.JobResponse{
			JobID:       "0c9a4b6e-6e2f-4f8e-9a33-222222222222",
			Status:      "success",
			PlaybookID:  3,
			ServerID:    12,
			StartedAt:   &startTime,
			CompletedAt: &endTime,
		})
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"status", "0c9a4b6e-6e2f-4f8e-9a33-222222222222"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "success") {
		t.Errorf("expected status in output, got: %s", output)
	}
	if !strings.Contains(output, "Server:") {
		t.Errorf("expected server line for a single job, got: %s", output)
	}
}

func TestStatusCommand_BatchShowsChildren(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.JobResponse{
			JobID:      "0c9a4b6e-6e2f-4f8e-9a33-333333333333",
			Status:     "failed",
			PlaybookID: 3,
			IsBatchJob: true,
			BatchConfig: &api.BatchConfigResponse{
				ConcurrentLimit:   2,
				ExecutionStrategy: "parallel",
				TotalServers:      2,
				ServerIDs:         []int64{12, 13},
			},
			ChildJobs: []api.JobResponse{
				{JobID: "child-1", Status: "success", ServerID: 12},
				{JobID: "child-2", Status: "failed", ServerID: 13},
			},
		})
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"status", "0c9a4b6e-6e2f-4f8e-9a33-333333333333"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "Children:") {
		t.Errorf("expected child listing, got: %s", output)
	}
	if !strings.Contains(output, "child-1") || !strings.Contains(output, "child-2") {
		t.Errorf("expected both children, got: %s", output)
	}
	if !strings.Contains(output, "parallel, limit 2, 2 targets") {
		t.Errorf("expected batch summary, got: %s", output)
	}
}

func TestStatusCommand_NotFound(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "Job not found"})
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"status", "0c9a4b6e-6e2f-4f8e-9a33-444444444444"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout.String(), "Job not found") {
		t.Errorf("expected not-found message, got: %s", stdout.String())
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Millisecond, "500ms"},
		{3500 * time.Millisecond, "3.5s"},
		{90 * time.Second, "1m 30s"},
		{2*time.Hour + 5*time.Minute, "2h 5m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
