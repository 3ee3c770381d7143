package docker

import (
	"context"
	"time"

	cerr "github.com/cockroachdb/errors"
	"github.com/docker/docker/client"
)

const defaultTimeout = 5 * time.Second

// DaemonInfo is what forge reports about a running container daemon.
type DaemonInfo struct {
	Version    string
	APIVersion string
	OS         string
	Arch       string
}

// Prober checks that the container daemon answers on its control socket.
type Prober interface {
	Probe(ctx context.Context) (DaemonInfo, error)
}

// APIProber talks to the daemon through the Docker Engine API.
type APIProber struct {
	// Host overrides DOCKER_HOST, e.g. "unix:///var/run/docker.sock".
	Host string
}

// New establishes a Docker client using environment configuration with API version negotiation enabled.
func (p APIProber) New() (*client.Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if p.Host != "" {
		opts = append(opts, client.WithHost(p.Host))
	}
	return client.NewClientWithOpts(opts...)
}

// Probe pings the daemon and reads its version within a short timeout window.
func (p APIProber) Probe(ctx context.Context) (DaemonInfo, error) {
	cli, err := p.New()
	if err != nil {
		return DaemonInfo{}, cerr.Wrap(err, "create docker client")
	}
	defer func() { _ = cli.Close() }()

	probeCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if _, err := cli.Ping(probeCtx); err != nil {
		return DaemonInfo{}, cerr.Wrap(err, "ping docker daemon")
	}
	v, err := cli.ServerVersion(probeCtx)
	if err != nil {
		return DaemonInfo{}, cerr.Wrap(err, "read docker server version")
	}
	return DaemonInfo{
		Version:    v.Version,
		APIVersion: v.APIVersion,
		OS:         v.Os,
		Arch:       v.Arch,
	}, nil
}
