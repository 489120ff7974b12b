// Package discovery advertises the field station on the local network over
// mDNS so a phone on the same Wi-Fi can find it without typing an address,
// and browses for other stations.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service type of a station.
const ServiceType = "_itr-station._tcp"

// Domain is the mDNS domain.
const Domain = "local."

// Config describes one advertisement.
type Config struct {
	Instance string
	Port     int
	// Text is extra TXT records; see TXT.
	Text   []string
	Logger *slog.Logger
}

// Advertiser holds a running mDNS registration.
type Advertiser struct {
	server *zeroconf.Server
	logger *slog.Logger
}

// Advertise registers the station on every multicast-capable interface.
func Advertise(cfg Config) (*Advertiser, error) {
	if cfg.Instance == "" {
		return nil, errors.New("discovery: instance name is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("discovery: invalid port %d", cfg.Port)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	server, err := zeroconf.Register(cfg.Instance, ServiceType, Domain, cfg.Port, cfg.Text, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: register: %w", err)
	}
	cfg.Logger.Info("discovery: advertising", "instance", cfg.Instance, "service", ServiceType, "port", cfg.Port)
	return &Advertiser{server: server, logger: cfg.Logger}, nil
}

// Shutdown withdraws the advertisement.
func (a *Advertiser) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	a.logger.Info("discovery: advertisement withdrawn")
}

// TXT builds the TXT records of a station.
func TXT(version string, mcp bool) []string {
	return []string{
		"txtv=1",
		"version=" + version,
		"api=/api",
		"ws=/ws",
		"mcp=" + strconv.FormatBool(mcp),
	}
}

// Peer is a station found on the network.
type Peer struct {
	Instance string   `json:"instance"`
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Addrs    []string `json:"addrs"`
	Text     []string `json:"text"`
}

func peerOf(e *zeroconf.ServiceEntry) Peer {
	p := Peer{Instance: e.Instance, Host: e.HostName, Port: e.Port, Text: e.Text}
	for _, ip := range e.AddrIPv4 {
		p.Addrs = append(p.Addrs, ip.String())
	}
	for _, ip := range e.AddrIPv6 {
		p.Addrs = append(p.Addrs, ip.String())
	}
	return p
}

// Browse collects the stations that answer within timeout. The resolver
// closes entries once ctx is done.
func Browse(ctx context.Context, timeout time.Duration) ([]Peer, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: resolver: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan []Peer)
	go func() {
		var peers []Peer
		for e := range entries {
			peers = append(peers, peerOf(e))
		}
		done <- peers
	}()

	if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		close(entries)
		<-done
		return nil, fmt.Errorf("discovery: browse: %w", err)
	}
	<-ctx.Done()
	return <-done, nil
}

// PortOf extracts the numeric port of a listen address such as ":8480".
func PortOf(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("discovery: listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return 0, fmt.Errorf("discovery: listen port %q: %w", p, err)
	}
	return port, nil
}
