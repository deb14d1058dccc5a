// Package discovery advertises a hub on the local network over mDNS and lets
// devices find it without configuration.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the DNS-SD service type of a klipy hub.
	ServiceType = "_klipy._tcp"
	// Domain is the mDNS browse domain.
	Domain = "local."
)

// ErrNotFound is returned when browsing ends without finding a hub.
var ErrNotFound = errors.New("no hub found on the local network")

// Advertiser keeps a hub registered until Shutdown.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers the hub under instance on port. path is the session
// endpoint, published in the TXT record so clients build the right URL.
func Advertise(instance string, port int, path string) (*Advertiser, error) {
	txt := []string{"txtv=1", "path=" + path}
	server, err := zeroconf.Register(instance, ServiceType, Domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mdns service: %w", err)
	}
	return &Advertiser{server: server}, nil
}

// Shutdown withdraws the advertisement.
func (a *Advertiser) Shutdown() {
	a.server.Shutdown()
}

// Hub is a discovered hub.
type Hub struct {
	Instance string
	Host     string
	Addrs    []net.IP
	Port     int
	Path     string
}

// URL returns the WebSocket address of the hub, preferring IPv4.
func (h Hub) URL() string {
	host := strings.TrimSuffix(h.Host, ".")
	if len(h.Addrs) > 0 {
		host = h.Addrs[0].String()
	}
	u := "ws://" + net.JoinHostPort(host, strconv.Itoa(h.Port))
	return u + h.Path
}

func fromEntry(e *zeroconf.ServiceEntry) Hub {
	h := Hub{
		Instance: e.Instance,
		Host:     e.HostName,
		Port:     e.Port,
	}
	h.Addrs = append(h.Addrs, e.AddrIPv4...)
	h.Addrs = append(h.Addrs, e.AddrIPv6...)
	for _, kv := range e.Text {
		if v, ok := strings.CutPrefix(kv, "path="); ok {
			h.Path = v
		}
	}
	return h
}

// Browse collects hubs until ctx is done.
func Browse(ctx context.Context) ([]Hub, error) {
	var hubs []Hub
	err := browse(ctx, func(h Hub) bool {
		hubs = append(hubs, h)
		return true
	})
	return hubs, err
}

// First returns the first hub that answers before ctx is done.
func First(ctx context.Context) (Hub, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var found *Hub
	err := browse(ctx, func(h Hub) bool {
		found = &h
		return false
	})
	if err != nil {
		return Hub{}, err
	}
	if found == nil {
		return Hub{}, ErrNotFound
	}
	return *found, nil
}

// browse feeds resolved entries to fn until fn returns false or ctx ends.
func browse(ctx context.Context, fn func(Hub) bool) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("initialize mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 8)
	if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return fmt.Errorf("browse mdns: %w", err)
	}

	for {
		select {
		case e, ok := <-entries:
			if !ok {
				return nil
			}
			if e == nil || e.Port == 0 {
				continue
			}
			if !fn(fromEntry(e)) {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}
