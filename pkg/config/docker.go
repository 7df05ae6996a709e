package config

import (
	"net"
	"net/url"
	"os"
	"sync"
)

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// dockerHostAlias reaches the host machine from inside a container.
const dockerHostAlias = "host.docker.internal"

// IsRunningInDocker returns true if the application is running inside a Docker container.
// Detection is based on the presence of /.dockerenv file which exists in all Docker containers.
// The result is cached after the first call.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// ResolveHostForDocker returns host.docker.internal for loopback hosts when
// running in Docker, so that services on the host machine stay reachable.
// Otherwise, returns the original host unchanged.
func ResolveHostForDocker(host string) string {
	return resolveHost(host, IsRunningInDocker())
}

func resolveHost(host string, inDocker bool) string {
	if !inDocker {
		return host
	}
	if host == "localhost" || host == "127.0.0.1" {
		return dockerHostAlias
	}
	return host
}

// resolveHostPort rewrites the host of a host:port pair.
func resolveHostPort(hostport string, inDocker bool) string {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return resolveHost(hostport, inDocker)
	}
	return net.JoinHostPort(resolveHost(host, inDocker), port)
}

// resolveURL rewrites the host of an absolute URL.
func resolveURL(raw string, inDocker bool) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Host = resolveHostPort(u.Host, inDocker)
	return u.String()
}

// applyDockerHosts points every backing service configured on a loopback
// address at the Docker host instead.
func (c *Config) applyDockerHosts(inDocker bool) {
	c.Database.Host = resolveHost(c.Database.Host, inDocker)
	c.Redis.Host = resolveHost(c.Redis.Host, inDocker)
	c.Artifacts.MinIO.Endpoint = resolveHostPort(c.Artifacts.MinIO.Endpoint, inDocker)
	c.OCR.Endpoint = resolveURL(c.OCR.Endpoint, inDocker)
}
