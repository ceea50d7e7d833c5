package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
)

const (
	// ServiceType is announced by listeners reachable over a UDP link.
	ServiceType   = "_grillo._udp"
	DefaultDomain = "local"
)

// ErrNoPeer is returned when browsing ends before any listener is found.
var ErrNoPeer = errors.New("no listener found")

type ServiceInfo struct {
	Name   string // instance name
	Type   string // service type, e.g., "_grillo._udp"
	Domain string // domain, e.g., "local"
	Addr   net.IP
	Port   int
	Text   map[string]string
}

// HostPort returns the address a UDP link should send to.
func (s ServiceInfo) HostPort() string {
	host := ""
	if s.Addr != nil {
		host = s.Addr.String()
	}
	return net.JoinHostPort(host, strconv.Itoa(s.Port))
}

// ServiceName returns the fully qualified name browsed for serviceType.
func ServiceName(serviceType, domain string) string {
	return fmt.Sprintf("%s.%s.", serviceType, domain)
}

// DiscoveryResult contains either a snapshot of services or an error.
type DiscoveryResult struct {
	Services []ServiceInfo
	Error    error
}

type Adapter interface {
	Announce(ctx context.Context, service ServiceInfo) error
	Discover(ctx context.Context, service string) <-chan DiscoveryResult
}

// FirstPeer browses until a listener shows up or ctx is done.
func FirstPeer(ctx context.Context, adapter Adapter, service string) (ServiceInfo, error) {
	for result := range adapter.Discover(ctx, service) {
		if result.Error != nil {
			return ServiceInfo{}, result.Error
		}
		for _, s := range result.Services {
			if s.Addr != nil {
				return s, nil
			}
		}
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return ServiceInfo{}, err
	}
	return ServiceInfo{}, ErrNoPeer
}
