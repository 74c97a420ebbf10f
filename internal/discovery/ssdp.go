package discovery

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/saintfish/chardet"
	"golang.org/x/net/ipv4"

	"github.com/paulthery/IINA-Cast-Plugin/internal/domain"
	"github.com/paulthery/IINA-Cast-Plugin/internal/xmlutil"
)

const (
	ssdpMulticastAddr = "239.255.255.250:1900"
	ssdpSearchTarget  = "urn:schemas-upnp-org:device:MediaRenderer:1"
	ssdpRecvTimeout   = 5 * time.Second
)

var mSearchDatagram = "M-SEARCH * HTTP/1.1\r\n" +
	"HOST: 239.255.255.250:1900\r\n" +
	"MAN: \"ssdp:discover\"\r\n" +
	"MX: 3\r\n" +
	"ST: " + ssdpSearchTarget + "\r\n\r\n"

// SSDPDiscoverer drives one M-SEARCH round and resolves responses into
// Devices, per §4.2.2. Seen LOCATIONs persist across Discover calls within one
// discovery run so a failed description fetch isn't retried until the
// caller clears state (Reset) on the next refresh.
type SSDPDiscoverer struct {
	httpClient *http.Client
	logger     *slog.Logger

	seen map[string]struct{}
}

// NewSSDPDiscoverer builds a discoverer with a 30s HTTP client for
// description fetches, per §5's cancellation policy.
func NewSSDPDiscoverer(logger *slog.Logger) *SSDPDiscoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SSDPDiscoverer{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		seen:       make(map[string]struct{}),
	}
}

// Reset clears the seen-LOCATION set; called at the start of a refresh.
func (d *SSDPDiscoverer) Reset() {
	d.seen = make(map[string]struct{})
}

// Discover opens a UDP socket, sends one M-SEARCH datagram, and receives
// responses until ctx is cancelled, invoking onDevice for each resolved
// MediaRenderer. Each read waits at most ssdpRecvTimeout; a timeout only
// starts the next read, so cancellation is noticed within that window.
func (d *SSDPDiscoverer) Discover(ctx context.Context, onDevice func(domain.Device)) error {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return domain.WrapError(domain.ErrConnectionFailed, "open ssdp socket", err)
	}
	defer conn.Close()

	if err := setReuseAddr(conn); err != nil {
		d.logger.Warn("ssdp: SO_REUSEADDR not set", "error", err)
	}

	pconn := ipv4.NewPacketConn(conn)
	_ = pconn.SetMulticastTTL(4)

	dst, err := net.ResolveUDPAddr("udp4", ssdpMulticastAddr)
	if err != nil {
		return domain.WrapError(domain.ErrInvalidAddress, "resolve multicast address", err)
	}
	if _, err := conn.WriteTo([]byte(mSearchDatagram), dst); err != nil {
		return domain.WrapError(domain.ErrConnectionFailed, "send M-SEARCH", err)
	}

	buf := make([]byte, 8192)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(ssdpRecvTimeout))
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return nil
		}
		d.handleResponse(ctx, buf[:n], onDevice)
	}
}

func (d *SSDPDiscoverer) handleResponse(ctx context.Context, datagram []byte, onDevice func(domain.Device)) {
	location, ok := extractLocation(string(datagram))
	if !ok {
		return
	}
	if _, dup := d.seen[location]; dup {
		return
	}
	d.seen[location] = struct{}{}

	device, err := d.resolveDescription(ctx, location)
	if err != nil {
		d.logger.Warn("ssdp: description fetch failed", "location", location, "error", err)
		return
	}
	if device == nil {
		return
	}
	onDevice(*device)
}

// extractLocation finds the LOCATION: header, case-insensitively, among
// CRLF-terminated header lines.
func extractLocation(datagram string) (string, bool) {
	lines := strings.Split(datagram, "\r\n")
	for _, line := range lines {
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(line[:idx]), "LOCATION") {
			return strings.TrimSpace(line[idx+1:]), true
		}
	}
	return "", false
}

func (d *SSDPDiscoverer) resolveDescription(ctx context.Context, location string) (*domain.Device, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	// Sanity-check the declared charset before treating the body as UTF-8
	// tag-scoped text; devices occasionally mislabel legacy encodings.
	if result, err := chardet.NewTextDetector().DetectBest(raw); err == nil && result != nil {
		if !strings.EqualFold(result.Charset, "UTF-8") && !strings.EqualFold(result.Charset, "ASCII") {
			d.logger.Debug("ssdp: description charset is not UTF-8/ASCII", "location", location, "charset", result.Charset)
		}
	}

	doc := string(raw)
	friendlyName, hasName := xmlutil.TextBetween(doc, "friendlyName")
	udn, hasUDN := xmlutil.TextBetween(doc, "UDN")
	if !hasName || !hasUDN {
		return nil, nil // silently skip per §4.2.2
	}

	base, port, err := baseURLAndPort(location)
	if err != nil {
		return nil, err
	}

	avTransportURL := resolveControlURL(doc, base, "AVTransport:1")
	renderingControlURL := resolveControlURL(doc, base, "RenderingControl:1")

	return &domain.Device{
		ID:                    fmt.Sprintf("dlna-%s", stableHash(udn)),
		Name:                  friendlyName,
		Protocol:              domain.ProtocolDLNA,
		Address:               base,
		Port:                  port,
		Capabilities:          domain.DefaultCapabilities(domain.ProtocolDLNA),
		AVTransportControlURL: avTransportURL,
		RenderingControlURL:   renderingControlURL,
		DescriptionLocation:   location,
	}, nil
}

// baseURLAndPort strips the last path component from the description URL
// (§4.2.2's "base URL of the description document"), and returns the
// port, defaulting to 80.
func baseURLAndPort(location string) (string, int, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", 0, err
	}
	port := 80
	if p := u.Port(); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil {
			port = parsed
		}
	}
	idx := strings.LastIndexByte(u.Path, '/')
	basePath := ""
	if idx >= 0 {
		basePath = u.Path[:idx]
	}
	base := fmt.Sprintf("%s://%s%s", u.Scheme, u.Host, basePath)
	return base, port, nil
}

// resolveControlURL scans each <service>...</service> block in doc for one
// whose serviceType contains want, and resolves its controlURL against
// base. Device-description service lists are small and flat enough that
// tag-scoped block extraction (rather than a DOM walk) is sufficient.
func resolveControlURL(doc, base, want string) string {
	for _, block := range splitServiceBlocks(doc) {
		serviceType, ok := xmlutil.TextBetween(block, "serviceType")
		if !ok || !strings.Contains(serviceType, want) {
			continue
		}
		controlPath, ok := xmlutil.TextBetween(block, "controlURL")
		if !ok {
			continue
		}
		if strings.HasPrefix(controlPath, "http://") || strings.HasPrefix(controlPath, "https://") {
			return controlPath
		}
		if !strings.HasPrefix(controlPath, "/") {
			controlPath = "/" + controlPath
		}
		return base + controlPath
	}
	return ""
}

func splitServiceBlocks(doc string) []string {
	var blocks []string
	rest := doc
	for {
		start := strings.Index(rest, "<service>")
		if start < 0 {
			return blocks
		}
		end := strings.Index(rest[start:], "</service>")
		if end < 0 {
			return blocks
		}
		blocks = append(blocks, rest[start:start+end+len("</service>")])
		rest = rest[start+end+len("</service>"):]
	}
}

// stableHash is the non-cryptographic hash the spec's open question
// resolves to: FNV-1a over the UDN/service name, truncated to 8 hex
// characters for a readable id. Collisions are possible but unlikely,
// matching the spec's explicit tolerance for this.
func stableHash(s string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return fmt.Sprintf("%08x", h.Sum64()&0xffffffff)
}
