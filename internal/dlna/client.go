// Package dlna implements the UPnP AV control client: stateless SOAP POSTs
// to a device's AVTransport and RenderingControl control URLs, per §4.3.2.
// Grounded on dmitriid-mop__upnp.go's SOAP envelope shape and tag-scoped
// response scanning, using internal/xmlutil instead of a DOM parser since
// the response schema is fixed and narrow (per the spec's design note).
package dlna

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/paulthery/IINA-Cast-Plugin/internal/domain"
	"github.com/paulthery/IINA-Cast-Plugin/internal/xmlutil"
)

const soapEnvelopeTemplate = `<?xml version="1.0" encoding="utf-8"?>` +
	`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">` +
	`<s:Body><u:%s xmlns:u="urn:schemas-upnp-org:service:%s:1">%s</u:%s></s:Body></s:Envelope>`

// Client drives one device's AVTransport/RenderingControl control URLs.
// It holds no persistent channel: every call is an independent SOAP POST,
// per the spec's DLNASession substate note.
type Client struct {
	AVTransportURL      string
	RenderingControlURL string

	httpClient *retryablehttp.Client
}

// New builds a DLNA client for a device whose control URLs were already
// extracted from its description XML by the discovery layer.
func New(avTransportURL, renderingControlURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = cleanhttp.DefaultPooledClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 500 * time.Millisecond
	rc.Logger = nil
	return &Client{
		AVTransportURL:      avTransportURL,
		RenderingControlURL: renderingControlURL,
		httpClient:          rc,
	}
}

// formatTime renders d as HH:MM:SS, zero-padded, integer-second precision
// (§4.3.2's time format).
func formatTime(d time.Duration) string {
	total := int64(d.Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func (c *Client) soapCall(ctx context.Context, service, action, controlURL, argsXML string) (string, error) {
	body := fmt.Sprintf(soapEnvelopeTemplate, action, service, argsXML, action)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, controlURL, strings.NewReader(body))
	if err != nil {
		return "", domain.WrapError(domain.ErrDLNA, "build SOAP request", err)
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPACTION", fmt.Sprintf(`"urn:schemas-upnp-org:service:%s:1#%s"`, service, action))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", domain.WrapError(domain.ErrDLNA, fmt.Sprintf("%s request failed", action), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", domain.WrapError(domain.ErrDLNA, "read SOAP response", err)
	}
	respBody := string(raw)
	if resp.StatusCode != http.StatusOK {
		return "", domain.NewError(domain.ErrDLNA, fmt.Sprintf("%s returned HTTP %d: %s", action, resp.StatusCode, respBody))
	}
	return respBody, nil
}

// SetAVTransportURI issues SetAVTransportURI with the given media URL and
// escaped DIDL-Lite metadata (§4.3.2, S8).
func (c *Client) SetAVTransportURI(ctx context.Context, mediaURL, mimeType, title string) error {
	metadata, err := EscapedDIDLLite(title, mediaURL, mimeType)
	if err != nil {
		return domain.WrapError(domain.ErrDLNA, "build DIDL-Lite metadata", err)
	}
	args := fmt.Sprintf(
		"<InstanceID>0</InstanceID><CurrentURI>%s</CurrentURI><CurrentURIMetaData>%s</CurrentURIMetaData>",
		xmlutil.EscapeText(mediaURL), metadata,
	)
	_, err = c.soapCall(ctx, "AVTransport", "SetAVTransportURI", c.AVTransportURL, args)
	return err
}

// Play issues Play(Speed=1).
func (c *Client) Play(ctx context.Context) error {
	args := "<InstanceID>0</InstanceID><Speed>1</Speed>"
	_, err := c.soapCall(ctx, "AVTransport", "Play", c.AVTransportURL, args)
	return err
}

// Pause issues Pause.
func (c *Client) Pause(ctx context.Context) error {
	args := "<InstanceID>0</InstanceID>"
	_, err := c.soapCall(ctx, "AVTransport", "Pause", c.AVTransportURL, args)
	return err
}

// Stop issues Stop.
func (c *Client) Stop(ctx context.Context) error {
	args := "<InstanceID>0</InstanceID>"
	_, err := c.soapCall(ctx, "AVTransport", "Stop", c.AVTransportURL, args)
	return err
}

// Seek issues Seek(Unit=REL_TIME, Target=HH:MM:SS).
func (c *Client) Seek(ctx context.Context, position time.Duration) error {
	args := fmt.Sprintf(
		"<InstanceID>0</InstanceID><Unit>REL_TIME</Unit><Target>%s</Target>",
		formatTime(position),
	)
	_, err := c.soapCall(ctx, "AVTransport", "Seek", c.AVTransportURL, args)
	return err
}

// SetVolume issues SetVolume(Channel=Master, DesiredVolume=0..100).
func (c *Client) SetVolume(ctx context.Context, volume int) error {
	args := fmt.Sprintf(
		"<InstanceID>0</InstanceID><Channel>Master</Channel><DesiredVolume>%d</DesiredVolume>",
		volume,
	)
	_, err := c.soapCall(ctx, "RenderingControl", "SetVolume", c.RenderingControlURL, args)
	return err
}

// SetMute issues SetMute(Channel=Master, DesiredMute=0|1).
func (c *Client) SetMute(ctx context.Context, mute bool) error {
	val := 0
	if mute {
		val = 1
	}
	args := fmt.Sprintf(
		"<InstanceID>0</InstanceID><Channel>Master</Channel><DesiredMute>%d</DesiredMute>",
		val,
	)
	_, err := c.soapCall(ctx, "RenderingControl", "SetMute", c.RenderingControlURL, args)
	return err
}

// GetVolume issues GetVolume(Channel=Master) and returns the current volume.
func (c *Client) GetVolume(ctx context.Context) (int, error) {
	args := "<InstanceID>0</InstanceID><Channel>Master</Channel>"
	resp, err := c.soapCall(ctx, "RenderingControl", "GetVolume", c.RenderingControlURL, args)
	if err != nil {
		return 0, err
	}
	raw, ok := xmlutil.TextBetween(resp, "CurrentVolume")
	if !ok {
		return 0, domain.NewError(domain.ErrDLNA, "GetVolume response missing CurrentVolume")
	}
	vol, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.WrapError(domain.ErrDLNA, "parse CurrentVolume", err)
	}
	return vol, nil
}

// TransportInfo is the parsed GetTransportInfo response.
type TransportInfo struct {
	CurrentTransportState  string
	CurrentTransportStatus string
}

// GetTransportInfo issues GetTransportInfo.
func (c *Client) GetTransportInfo(ctx context.Context) (TransportInfo, error) {
	args := "<InstanceID>0</InstanceID>"
	resp, err := c.soapCall(ctx, "AVTransport", "GetTransportInfo", c.AVTransportURL, args)
	if err != nil {
		return TransportInfo{}, err
	}
	state, _ := xmlutil.TextBetween(resp, "CurrentTransportState")
	status, _ := xmlutil.TextBetween(resp, "CurrentTransportStatus")
	return TransportInfo{CurrentTransportState: state, CurrentTransportStatus: status}, nil
}

// PositionInfo is the parsed GetPositionInfo response.
type PositionInfo struct {
	Track         string
	TrackDuration string
	RelTime       string
}

// GetPositionInfo issues GetPositionInfo.
func (c *Client) GetPositionInfo(ctx context.Context) (PositionInfo, error) {
	args := "<InstanceID>0</InstanceID>"
	resp, err := c.soapCall(ctx, "AVTransport", "GetPositionInfo", c.AVTransportURL, args)
	if err != nil {
		return PositionInfo{}, err
	}
	track, _ := xmlutil.TextBetween(resp, "Track")
	duration, _ := xmlutil.TextBetween(resp, "TrackDuration")
	relTime, _ := xmlutil.TextBetween(resp, "RelTime")
	return PositionInfo{Track: track, TrackDuration: duration, RelTime: relTime}, nil
}
