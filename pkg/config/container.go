package config

import (
	"net"
	"net/url"
	"os"
	"sync"
)

// dockerEnvFile exists in every Docker container.
var dockerEnvFile = "/.dockerenv"

// dockerHostGateway reaches services published on the Docker host.
const dockerHostGateway = "host.docker.internal"

var (
	inContainerOnce sync.Once
	inContainer     bool
)

// InContainer reports whether the process runs inside a Docker container.
// The result is cached after the first call.
func InContainer() bool {
	inContainerOnce.Do(func() {
		_, err := os.Stat(dockerEnvFile)
		inContainer = err == nil
	})
	return inContainer
}

// loopbackToGateway maps a loopback host to the Docker host gateway.
// Any other host is returned unchanged.
func loopbackToGateway(host string) string {
	if host == "localhost" {
		return dockerHostGateway
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return dockerHostGateway
	}
	return host
}

// loopbackURLToGateway rewrites the host of a URL pointing at the loopback interface.
// Unparseable values are returned unchanged.
func loopbackURLToGateway(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	host, port := u.Hostname(), u.Port()
	mapped := loopbackToGateway(host)
	if mapped == host {
		return raw
	}
	if port != "" {
		u.Host = net.JoinHostPort(mapped, port)
	} else {
		u.Host = mapped
	}
	return u.String()
}

// resolveContainerHosts points the database and JWKS endpoints configured as
// localhost at the Docker host, so a containerized server reaches services
// running beside it on a developer machine.
func (c *Config) resolveContainerHosts() {
	c.Database.Host = loopbackToGateway(c.Database.Host)
	for issuer, endpoint := range c.Auth.JWKSEndpoints {
		c.Auth.JWKSEndpoints[issuer] = loopbackURLToGateway(endpoint)
	}
}
