package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/mdns"

	"github.com/paulthery/IINA-Cast-Plugin/internal/domain"
)

const (
	serviceChromecast = "_googlecast._tcp"
	serviceAirPlay    = "_airplay._tcp"

	mdnsResolveTimeout = 5 * time.Second
)

// MDNSDiscoverer browses the two §4.2.1 service types and resolves each
// hit into a Device.
type MDNSDiscoverer struct {
	logger *slog.Logger
}

// NewMDNSDiscoverer returns an MDNSDiscoverer. A nil logger falls back to
// slog.Default().
func NewMDNSDiscoverer(logger *slog.Logger) *MDNSDiscoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &MDNSDiscoverer{logger: logger}
}

// Discover browses both service types one after the other, invoking onDevice for
// each resolved endpoint. Each browse call is bounded by
// mdnsResolveTimeout so a peer that never responds doesn't hang discovery.
func (m *MDNSDiscoverer) Discover(ctx context.Context, onDevice func(domain.Device)) error {
	m.browse(ctx, serviceChromecast, domain.ProtocolChromecast, 8009, onDevice)
	m.browse(ctx, serviceAirPlay, domain.ProtocolAirPlay, 7000, onDevice)
	return nil
}

func (m *MDNSDiscoverer) browse(ctx context.Context, service string, protocol domain.Protocol, defaultPort int, onDevice func(domain.Device)) {
	m.logger.Debug("mdns_browse_started", slog.String("component", "mdns"), slog.String("service", service))

	entriesCh := make(chan *mdns.ServiceEntry, 16)
	done := make(chan struct{})
	found := 0

	go func() {
		defer close(done)
		for entry := range entriesCh {
			device := m.deviceFromEntry(entry, protocol, defaultPort)
			found++
			onDevice(device)
		}
	}()

	params := mdns.DefaultParams(service)
	params.Entries = entriesCh
	params.Timeout = mdnsResolveTimeout
	params.DisableIPv6 = true

	if err := mdns.Query(params); err != nil {
		// entry callbacks are best-effort; query errors are non-fatal per
		// §4.2.1, but still worth a log line since a broken query otherwise
		// looks identical to "no devices on the LAN".
		m.logger.Warn("mdns_query_failed", slog.String("component", "mdns"), slog.String("service", service), slog.String("error", err.Error()))
	}
	close(entriesCh)
	<-done

	m.logger.Debug("mdns_browse_stopped", slog.String("component", "mdns"), slog.String("service", service), slog.Int("found", found))
}

func (m *MDNSDiscoverer) deviceFromEntry(entry *mdns.ServiceEntry, protocol domain.Protocol, defaultPort int) domain.Device {
	port := entry.Port
	if port == 0 {
		port = defaultPort
	}
	address := entry.AddrV4.String()
	if address == "" || address == "<nil>" {
		address = entry.Host
	}
	name := strings.TrimSuffix(entry.Name, fmt.Sprintf(".%s.local.", serviceSuffix(protocol)))
	deviceID := fmt.Sprintf("%s-%s", protocol, stableHash(entry.Name))

	m.logger.Debug("mdns_device_resolved",
		slog.String("component", "mdns"),
		slog.String("deviceId", deviceID),
		slog.String("name", name),
	)

	return domain.Device{
		ID:           deviceID,
		Name:         name,
		Protocol:     protocol,
		Address:      address,
		Port:         port,
		Capabilities: domain.DefaultCapabilities(protocol),
	}
}

func serviceSuffix(protocol domain.Protocol) string {
	if protocol == domain.ProtocolAirPlay {
		return serviceAirPlay
	}
	return serviceChromecast
}
