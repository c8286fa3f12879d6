// Package hypervisor owns the libvirt connection and the host
// capability probe used to default instance specifications.
package hypervisor

import (
	"fmt"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket/dialers"
)

// DefaultSocketPath is the qemu:///system unix socket.
const DefaultSocketPath = "/var/run/libvirt/libvirt-sock"

// DefaultConnectTimeout bounds the initial dial.
const DefaultConnectTimeout = 5 * time.Second

// Client is an established connection to the local libvirt daemon.
// Only this package dials; every other package receives the handle.
type Client struct {
	socketPath string
	libvirt    *libvirt.Libvirt
}

// Connect dials the libvirt unix socket. Zero values select
// DefaultSocketPath and DefaultConnectTimeout. The caller owns the
// connection and releases it with Close.
func Connect(socketPath string, timeout time.Duration) (*Client, error) {
	c := &Client{socketPath: socketPath}
	if c.socketPath == "" {
		c.socketPath = DefaultSocketPath
	}
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	c.libvirt = libvirt.NewWithDialer(dialers.NewLocal(
		dialers.WithSocket(c.socketPath),
		dialers.WithLocalTimeout(timeout),
	))
	if err := c.libvirt.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt at %s: %w", c.socketPath, err)
	}
	return c, nil
}

// Libvirt returns the underlying go-libvirt handle.
func (c *Client) Libvirt() *libvirt.Libvirt { return c.libvirt }

// Ping checks the connection with a version query.
func (c *Client) Ping() error {
	if c.libvirt == nil {
		return fmt.Errorf("not connected to %s", c.socketPath)
	}
	if _, err := c.libvirt.ConnectGetLibVersion(); err != nil {
		return fmt.Errorf("connection to %s is dead: %w", c.socketPath, err)
	}
	return nil
}

// Close disconnects from the daemon. Closing twice is a no-op.
func (c *Client) Close() error {
	if c.libvirt == nil {
		return nil
	}
	err := c.libvirt.Disconnect()
	c.libvirt = nil
	if err != nil {
		return fmt.Errorf("failed to disconnect from libvirt: %w", err)
	}
	return nil
}
