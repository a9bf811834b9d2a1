package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
)

const (
	containerPlaybookDir = "/opt/playbook"
	containerInventory   = "/opt/inventory"
	containerSSHKey      = "/opt/ssh_key"
)

// DockerRunner executes ansible-playbook inside a container, keeping the
// control host free of an Ansible installation. The playbook bundle and
// inventory are bind-mounted read-only.
type DockerRunner struct {
	client *client.Client
	image  string
}

// NewDockerRunner creates a Docker-based runner using the given image.
// The client initializes from standard environment variables (DOCKER_HOST, etc.).
func NewDockerRunner(imageRef string) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &DockerRunner{client: cli, image: imageRef}, nil
}

// Run implements Runner using a one-shot container per invocation.
func (d *DockerRunner) Run(ctx context.Context, spec RunSpec) (*Result, error) {
	if err := d.ensureImage(ctx); err != nil {
		return nil, err
	}

	invFile, err := writeInventory(spec.Host)
	if err != nil {
		return nil, err
	}
	defer os.Remove(invFile)

	cmd := []string{"ansible-playbook", containerPlaybookDir + "/" + spec.EntryFile, "-i", containerInventory}
	if len(spec.ExtraVars) > 0 {
		varsJSON, err := json.Marshal(spec.ExtraVars)
		if err != nil {
			return nil, fmt.Errorf("failed to encode extra vars: %w", err)
		}
		cmd = append(cmd, "--extra-vars", string(varsJSON))
	}

	mounts := []mount.Mount{
		{Type: mount.TypeBind, Source: spec.WorkingDir, Target: containerPlaybookDir, ReadOnly: true},
		{Type: mount.TypeBind, Source: invFile, Target: containerInventory, ReadOnly: true},
	}
	if spec.Host.SSHKeyPath != "" {
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: spec.Host.SSHKeyPath, Target: containerSSHKey, ReadOnly: true})
	}

	created, err := d.client.ContainerCreate(ctx,
		&container.Config{
			Image:      d.image,
			Cmd:        cmd,
			WorkingDir: containerPlaybookDir,
			Tty:        true,
		},
		&container.HostConfig{Mounts: mounts},
		nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	defer func() {
		// Best-effort cleanup, detached from the (possibly cancelled) ctx.
		d.client.ContainerRemove(context.WithoutCancel(ctx), created.ID, container.RemoveOptions{Force: true})
	}()

	if err := d.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	exitCode, waitErr := d.wait(ctx, created.ID)
	output := d.collectLogs(ctx, created.ID)

	if waitErr != nil {
		return &Result{Status: StatusFailed, ReturnCode: exitCode, RawOutput: output}, waitErr
	}

	result := &Result{ReturnCode: exitCode, RawOutput: output}
	if exitCode == 0 {
		result.Status = StatusSuccessful
	} else {
		result.Status = StatusFailed
	}
	return result, nil
}

func (d *DockerRunner) ensureImage(ctx context.Context) error {
	// Check locally first to save a registry round trip.
	if _, err := d.client.ImageInspect(ctx, d.image); err == nil {
		return nil
	}
	reader, err := d.client.ImagePull(ctx, d.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", d.image, err)
	}
	defer reader.Close()
	io.Copy(io.Discard, reader)
	return nil
}

func (d *DockerRunner) wait(ctx context.Context, containerID string) (int, error) {
	statusCh, errCh := d.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, err
	case status := <-statusCh:
		if status.Error != nil {
			return int(status.StatusCode), fmt.Errorf("%s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func (d *DockerRunner) collectLogs(ctx context.Context, containerID string) string {
	rc, err := d.client.ContainerLogs(context.WithoutCancel(ctx), containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return ""
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	return string(data)
}
