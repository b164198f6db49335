package worker

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nick-boey/homespun/internal/common/config"
	"github.com/nick-boey/homespun/internal/common/logger"
)

// workerPort is the HTTP port the worker image listens on inside the
// container.
const workerPort = "8090"

// stopGrace is how long a worker container gets to shut down cleanly.
const stopGrace = 10 * time.Second

// Runner launches and tears down worker containers through the Docker
// SDK.
type Runner struct {
	cli    *client.Client
	cfg    config.WorkerConfig
	paths  *PathTranslator
	logger *logger.Logger
}

// NewRunner creates a runner against the configured Docker socket.
func NewRunner(cfg config.WorkerConfig, log *logger.Logger) (*Runner, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.DockerSocketPath != "" {
		opts = append(opts, client.WithHost("unix://"+cfg.DockerSocketPath))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &Runner{
		cli:    cli,
		cfg:    cfg,
		paths:  NewPathTranslator(cfg.DataVolumePath, cfg.HostDataPath),
		logger: log.WithFields(zap.String("component", "worker-runner")),
	}, nil
}

// Close releases the Docker client.
func (r *Runner) Close() error {
	return r.cli.Close()
}

// Launch pulls the worker image, creates a container with the data
// volume bound, and starts it. Returns the container ID and the base
// URL to reach the worker on.
func (r *Runner) Launch(ctx context.Context, workingDirectory string) (string, string, error) {
	if err := r.pullImage(ctx); err != nil {
		return "", "", err
	}

	hostPath := r.paths.Translate(workingDirectory)
	name := "homespun-worker-" + uuid.New().String()[:8]

	containerCfg := &container.Config{
		Image: r.cfg.Image,
		Env: []string{
			"HOMESPUN_WORKER_PORT=" + workerPort,
			"HOMESPUN_WORKER_DATA=" + r.cfg.DataVolumePath,
		},
		ExposedPorts: nat.PortSet{nat.Port(workerPort + "/tcp"): {}},
		Labels:       map[string]string{"homespun.role": "worker"},
	}

	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: hostPath,
			Target: r.cfg.DataVolumePath,
		}},
		Resources: container.Resources{
			Memory:   r.cfg.MemoryLimitBytes,
			NanoCPUs: int64(r.cfg.CPULimit * 1e9),
		},
	}
	if r.cfg.NetworkName != "" {
		hostCfg.NetworkMode = container.NetworkMode(r.cfg.NetworkName)
	}
	if identity := UserIdentity(); identity != "" {
		containerCfg.User = identity
	}

	resp, err := r.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", "", fmt.Errorf("failed to create worker container: %w", err)
	}

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = r.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", "", fmt.Errorf("failed to start worker container: %w", err)
	}

	baseURL, err := r.resolveBaseURL(ctx, resp.ID)
	if err != nil {
		_ = r.Teardown(ctx, resp.ID)
		return "", "", err
	}

	r.logger.Info("worker container started",
		zap.String("container_id", resp.ID),
		zap.String("name", name),
		zap.String("base_url", baseURL))
	return resp.ID, baseURL, nil
}

func (r *Runner) pullImage(ctx context.Context) error {
	reader, err := r.cli.ImagePull(ctx, r.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull worker image %s: %w", r.cfg.Image, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to read image pull output: %w", err)
	}
	return nil
}

// resolveBaseURL inspects the container for its address on the
// configured network.
func (r *Runner) resolveBaseURL(ctx context.Context, containerID string) (string, error) {
	info, err := r.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", fmt.Errorf("failed to inspect worker container: %w", err)
	}

	if r.cfg.NetworkName != "" {
		if net, ok := info.NetworkSettings.Networks[r.cfg.NetworkName]; ok && net.IPAddress != "" {
			return fmt.Sprintf("http://%s:%s", net.IPAddress, workerPort), nil
		}
	}
	if info.NetworkSettings.IPAddress != "" {
		return fmt.Sprintf("http://%s:%s", info.NetworkSettings.IPAddress, workerPort), nil
	}
	return "", fmt.Errorf("worker container %s has no reachable address", containerID)
}

// Teardown stops and removes a worker container.
func (r *Runner) Teardown(ctx context.Context, containerID string) error {
	timeout := int(stopGrace.Seconds())
	if err := r.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		r.logger.Warn("failed to stop worker container",
			zap.String("container_id", containerID),
			zap.Error(err))
	}
	if err := r.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		return fmt.Errorf("failed to remove worker container: %w", err)
	}
	r.logger.Info("worker container removed", zap.String("container_id", containerID))
	return nil
}
