package sandbox

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/moby/moby/api/types/container"
	dockerclient "github.com/moby/moby/client"

	"github.com/nightshift-run/nightshift/internal/logger"
)

// DockerConfig configures containerized command execution.
type DockerConfig struct {
	Image       string  `toml:"image"`
	MemoryLimit int64   `toml:"memory_limit"`
	CPULimit    float64 `toml:"cpu_limit"`
	PidsLimit   int64   `toml:"pids_limit"`
	Network     string  `toml:"network"`
}

// DockerRunner runs each command in a fresh container that is removed when
// the command finishes. Containers get no-new-privileges, a pids limit, and
// a tmpfs /tmp.
type DockerRunner struct {
	client *dockerclient.Client
	cfg    DockerConfig
	log    *logger.Logger
}

// NewDockerRunner connects to the Docker daemon and verifies it responds.
func NewDockerRunner(cfg DockerConfig, log *logger.Logger) (*DockerRunner, error) {
	if cfg.Image == "" {
		cfg.Image = "alpine:3.20"
	}
	if cfg.MemoryLimit == 0 {
		cfg.MemoryLimit = 128 * 1024 * 1024
	}
	if cfg.CPULimit == 0 {
		cfg.CPULimit = 0.5
	}
	if cfg.PidsLimit == 0 {
		cfg.PidsLimit = 64
	}

	cli, err := dockerclient.New(dockerclient.WithAPIVersionNegotiation(), dockerclient.FromEnv)
	if err != nil {
		return nil, fmt.Errorf("connect to docker: %w", err)
	}
	if _, err := cli.Ping(context.Background(), dockerclient.PingOptions{NegotiateAPIVersion: true}); err != nil {
		cli.Close()
		return nil, fmt.Errorf("docker daemon not available: %w", err)
	}
	return &DockerRunner{client: cli, cfg: cfg, log: log}, nil
}

// Close releases the Docker client.
func (r *DockerRunner) Close() error {
	return r.client.Close()
}

// Run implements Runner. The command runs as sh -c inside an ephemeral
// container; output is read until the container exits.
func (r *DockerRunner) Run(ctx context.Context, command, workDir string) (string, error) {
	pidsLimit := r.cfg.PidsLimit

	created, err := r.client.ContainerCreate(ctx, dockerclient.ContainerCreateOptions{
		Config: &container.Config{
			Image:      r.cfg.Image,
			Cmd:        []string{"/bin/sh", "-c", command},
			WorkingDir: workDir,
		},
		HostConfig: &container.HostConfig{
			Resources: container.Resources{
				Memory:    r.cfg.MemoryLimit,
				NanoCPUs:  int64(r.cfg.CPULimit * 1e9),
				PidsLimit: &pidsLimit,
			},
			SecurityOpt: []string{"no-new-privileges"},
			Tmpfs:       map[string]string{"/tmp": "rw,size=50m"},
		},
	})
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	id := created.ID
	defer func() {
		_, _ = r.client.ContainerRemove(context.Background(), id, dockerclient.ContainerRemoveOptions{Force: true})
	}()

	attach, err := r.client.ContainerAttach(ctx, id, dockerclient.ContainerAttachOptions{
		Stream: true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("attach container: %w", err)
	}
	hijack := attach.HijackedResponse
	defer hijack.Close()

	if _, err := r.client.ContainerStart(ctx, id, dockerclient.ContainerStartOptions{}); err != nil {
		return "", fmt.Errorf("start container: %w", err)
	}

	output, readErr := readAttached(ctx, hijack.Reader)

	inspect, err := r.client.ContainerInspect(ctx, id, dockerclient.ContainerInspectOptions{})
	if err != nil {
		return output, fmt.Errorf("inspect container: %w", err)
	}
	if readErr != nil && readErr != io.EOF {
		return output, fmt.Errorf("read container output: %w", readErr)
	}

	if state := inspect.Container.State; state != nil && state.ExitCode != 0 {
		return output, fmt.Errorf("command failed: exit code %d", state.ExitCode)
	}
	return output, nil
}

// readAttached drains the attach stream, stripping the 8-byte multiplexing
// headers Docker prefixes to each frame when the container has no TTY.
func readAttached(ctx context.Context, reader *bufio.Reader) (string, error) {
	var b strings.Builder
	header := make([]byte, 8)

	for {
		if err := ctx.Err(); err != nil {
			return truncateOutput(b.String()), err
		}
		if _, err := io.ReadFull(reader, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return truncateOutput(b.String()), nil
			}
			return truncateOutput(b.String()), err
		}

		size := int(header[4])<<24 | int(header[5])<<16 | int(header[6])<<8 | int(header[7])
		if size <= 0 {
			continue
		}
		frame := make([]byte, size)
		if _, err := io.ReadFull(reader, frame); err != nil {
			return truncateOutput(b.String()), err
		}
		if b.Len() < MaxOutputSize {
			b.Write(frame)
		}
	}
}
