package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// ExecRunner invokes ansible-playbook as a local OS process.
type ExecRunner struct {
	// Binary overrides the executable name. Defaults to "ansible-playbook".
	Binary string
}

// NewExecRunner creates a process-based runner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{Binary: "ansible-playbook"}
}

// Run executes the playbook entry file against the spec's host. It writes
// a single-host inventory to a temp file, runs from the bundle root, and
// captures combined output. Context cancellation kills the process.
func (e *ExecRunner) Run(ctx context.Context, spec RunSpec) (*Result, error) {
	binary := e.Binary
	if binary == "" {
		binary = "ansible-playbook"
	}

	invFile, err := writeInventory(spec.Host)
	if err != nil {
		return nil, err
	}
	defer os.Remove(invFile)

	args := []string{spec.EntryPath(), "-i", invFile}
	if len(spec.ExtraVars) > 0 {
		varsJSON, err := json.Marshal(spec.ExtraVars)
		if err != nil {
			return nil, fmt.Errorf("failed to encode extra vars: %w", err)
		}
		args = append(args, "--extra-vars", string(varsJSON))
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = spec.WorkingDir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	runErr := cmd.Run()
	result := &Result{
		Status:    StatusSuccessful,
		RawOutput: out.String(),
	}

	if runErr != nil {
		// Cancellation is reported to the caller, with whatever output
		// was captured so far.
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.Status = StatusFailed
			result.ReturnCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("failed to start %s: %w", binary, runErr)
	}

	return result, nil
}

func writeInventory(h Host) (string, error) {
	f, err := os.CreateTemp("", "opsplane-inventory-*")
	if err != nil {
		return "", fmt.Errorf("failed to create inventory file: %w", err)
	}
	if _, err := f.WriteString(h.InventoryLine() + "\n"); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write inventory: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return filepath.Clean(f.Name()), nil
}
