package server

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

// Service is a tagd instance found on the local network.
type Service struct {
	Instance string
	Host     string
	Port     int
	Addrs    []net.IP
	Text     map[string]string
}

// URL returns the WebSocket URL of the service.
func (s Service) URL() string {
	host := s.Host
	if len(s.Addrs) > 0 {
		host = s.Addrs[0].String()
	}
	path := s.Text["path"]
	if path == "" {
		path = WebSocketPath
	}
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(s.Port)) + path
}

// Browse lists tagd services announced on the local network until ctx is
// done.
func Browse(ctx context.Context) ([]Service, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var found []Service
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			found = append(found, serviceFromEntry(entry))
		}
	}()

	if err := resolver.Browse(ctx, MDNSServiceType, MDNSDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse %s: %w", MDNSServiceType, err)
	}
	<-ctx.Done()
	<-done
	return found, nil
}

func serviceFromEntry(entry *zeroconf.ServiceEntry) Service {
	svc := Service{
		Instance: entry.Instance,
		Host:     strings.TrimSuffix(entry.HostName, "."),
		Port:     entry.Port,
		Text:     parseText(entry.Text),
	}
	svc.Addrs = append(svc.Addrs, entry.AddrIPv4...)
	svc.Addrs = append(svc.Addrs, entry.AddrIPv6...)
	return svc
}

func parseText(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, rec := range records {
		key, value, _ := strings.Cut(rec, "=")
		out[key] = value
	}
	return out
}
