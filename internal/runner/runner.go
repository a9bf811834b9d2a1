// Package runner provides the Runner interface for playbook execution
// backends. Implementations include raw process execution and Docker.
package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Status is the terminal outcome a runner reports for one invocation.
type Status string

const (
	StatusSuccessful Status = "successful"
	StatusFailed     Status = "failed"
)

// Host describes the single target of one playbook run.
type Host struct {
	Hostname   string
	IPAddress  string
	SSHUser    string
	SSHPort    int
	SSHKeyPath string
}

// RunSpec contains the parameters for one playbook invocation.
// WorkingDir is the bundle root for multi-file playbooks; EntryFile is
// resolved relative to it.
type RunSpec struct {
	WorkingDir string
	EntryFile  string
	Host       Host
	ExtraVars  map[string]any
}

// Result is the terminal result of a completed invocation. RawOutput
// holds the combined stdout/stderr stream.
type Result struct {
	Status     Status
	ReturnCode int
	RawOutput  string
}

// Runner executes one playbook against one host, synchronously.
// A non-nil error means the invocation itself could not run or was
// interrupted; a playbook that ran and failed is a Result with
// StatusFailed, not an error.
type Runner interface {
	Run(ctx context.Context, spec RunSpec) (*Result, error)
}

// EntryPath resolves the playbook file to execute.
func (s RunSpec) EntryPath() string {
	if s.EntryFile == "" {
		return s.WorkingDir
	}
	return filepath.Join(s.WorkingDir, s.EntryFile)
}

// InventoryLine renders the single-host inventory entry for the target.
func (h Host) InventoryLine() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s ansible_host=%s ansible_user=%s ansible_port=%d", h.Hostname, h.IPAddress, h.SSHUser, h.SSHPort)
	if h.SSHKeyPath != "" {
		fmt.Fprintf(&b, " ansible_ssh_private_key_file=%s", h.SSHKeyPath)
	}
	return b.String()
}
