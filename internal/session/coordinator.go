// Package session implements the Session Coordinator: the single owner of
// the at-most-one active cast session, per §4.4. It serializes every
// session-modifying operation through one mutex-protected actor, the same
// "linearizable owner" idiom internal/directory uses for the Device
// Directory — grounded on the teacher's manager.go, but stripped of its
// multi-session bookkeeping and retry/backoff machinery: invariant I2
// allows at most one live session, and §7 specifies no automatic retry.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/paulthery/IINA-Cast-Plugin/internal/airplay"
	"github.com/paulthery/IINA-Cast-Plugin/internal/castv2"
	"github.com/paulthery/IINA-Cast-Plugin/internal/dlna"
	"github.com/paulthery/IINA-Cast-Plugin/internal/domain"
)

// notCastingMessage is the literal text scenario S2 requires every
// no-active-session control error to carry.
const notCastingMessage = "Not currently casting"

// Directory is the subset of internal/directory.Directory the coordinator
// needs to look up a device by id.
type Directory interface {
	Get(id string) (domain.Device, bool)
}

// clientHandle is the tagged variant of §9's "Polymorphism across protocol
// clients" resolution: one coordinator-held union instead of an
// inheritance hierarchy; exactly one field is set, and each call site
// switches on which one is non-nil.
type clientHandle struct {
	chromecast *castv2.Client
	dlna       *dlna.Client
	airplay    *airplay.Client
}

// session is the coordinator's private record of the one live cast.
type session struct {
	device   domain.Device
	client   clientHandle
	state    domain.SessionState
	position float64
	duration float64
	paused   bool

	cancelBackground func()
}

// Coordinator owns the single active Session and the Device Directory
// lookup it needs to start one.
type Coordinator struct {
	directory Directory
	logger    *slog.Logger

	mu      sync.Mutex
	current *session
}

// New builds a Coordinator backed by dir for device lookups. logger is
// passed down to the protocol clients it constructs (component=castv2,
// component=airplay) so their background tasks log under this process's
// handler; a nil logger falls back to slog.Default().
func New(dir Directory, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{directory: dir, logger: logger}
}

// Start implements §4.4's start logic: stop any prior session first,
// resolve the device, build the matching client, and drive it through its
// load sequence. On any failure from step 3 onward, the client is torn
// down and no session is left live.
func (co *Coordinator) Start(ctx context.Context, deviceID, mediaURL string, startPosition float64) (domain.CastStatus, error) {
	co.mu.Lock()
	defer co.mu.Unlock()

	co.stopLocked()

	device, ok := co.directory.Get(deviceID)
	if !ok {
		return domain.CastStatus{}, domain.NewError(domain.ErrDeviceNotFound, fmt.Sprintf("no device with id %q", deviceID))
	}

	handle, err := co.buildClient(device)
	if err != nil {
		return domain.CastStatus{}, err
	}

	backgroundCtx, cancel := context.WithCancel(context.Background())
	sess := &session{device: device, client: handle, state: domain.SessionConnecting, cancelBackground: cancel}

	if err := co.loadLocked(ctx, sess, mediaURL, startPosition); err != nil {
		cancel()
		co.teardownClient(handle)
		return domain.CastStatus{}, err
	}

	co.current = sess
	co.startBackgroundTasks(backgroundCtx, sess)
	return co.statusLocked(), nil
}

func (co *Coordinator) buildClient(device domain.Device) (clientHandle, error) {
	switch device.Protocol {
	case domain.ProtocolChromecast:
		c := castv2.NewClient(device.Address, device.ID, co.logger)
		if err := c.Connect(); err != nil {
			return clientHandle{}, err
		}
		return clientHandle{chromecast: c}, nil
	case domain.ProtocolDLNA:
		if device.AVTransportControlURL == "" {
			return clientHandle{}, domain.NewError(domain.ErrInvalidAddress, "device has no AVTransport control URL")
		}
		return clientHandle{dlna: dlna.New(device.AVTransportControlURL, device.RenderingControlURL)}, nil
	case domain.ProtocolAirPlay:
		return clientHandle{airplay: airplay.New(device.Address, device.Port, co.logger)}, nil
	default:
		return clientHandle{}, domain.NewError(domain.ErrUnsupportedProtocol, string(device.Protocol))
	}
}

// loadLocked drives the new client's LOAD sequence; §4.3.2 specifies the
// DLNA sequence explicitly (SetAVTransportURI → Play → Seek if start>0),
// and the other two protocols follow the same shape.
func (co *Coordinator) loadLocked(ctx context.Context, sess *session, mediaURL string, startPosition float64) error {
	switch {
	case sess.client.chromecast != nil:
		if err := sess.client.chromecast.LoadMedia(mediaURL, startPosition); err != nil {
			return err
		}
	case sess.client.dlna != nil:
		d := sess.client.dlna
		if err := d.SetAVTransportURI(ctx, mediaURL, "video/mp4", deriveTitle(mediaURL)); err != nil {
			return err
		}
		if err := d.Play(ctx); err != nil {
			return err
		}
		if startPosition > 0 {
			if err := d.Seek(ctx, time.Duration(startPosition*float64(time.Second))); err != nil {
				return err
			}
		}
	case sess.client.airplay != nil:
		a := sess.client.airplay
		// §9: Start-Position is a fraction of duration, not startPosition/100;
		// no duration is known before playback starts, so this is always 0
		// and startPosition is not applied to AirPlay sessions.
		if err := a.Play(ctx, mediaURL, 0); err != nil {
			return err
		}
	}
	sess.state = domain.SessionBuffering
	return nil
}

func deriveTitle(mediaURL string) string {
	for i := len(mediaURL) - 1; i >= 0; i-- {
		if mediaURL[i] == '/' {
			return mediaURL[i+1:]
		}
	}
	return mediaURL
}

// startBackgroundTasks launches the protocol-specific long-lived activity
// for the new session (AirPlay status polling; CASTV2 already runs its own
// heartbeat goroutine from Connect).
func (co *Coordinator) startBackgroundTasks(ctx context.Context, sess *session) {
	if sess.client.airplay != nil {
		sess.client.airplay.StartStatusPolling(ctx)
	}
}

// Control implements §4.4's control operation: route a uniform action to
// whichever client is live.
func (co *Coordinator) Control(ctx context.Context, action domain.ControlAction, value *float64) (domain.CastStatus, error) {
	co.mu.Lock()
	defer co.mu.Unlock()

	if co.current == nil {
		return domain.CastStatus{}, domain.NewError(domain.ErrNotCasting, notCastingMessage)
	}
	sess := co.current

	switch action {
	case domain.ActionPlay:
		if err := co.dispatchSimple(ctx, sess, func(c *castv2.Client) error { return c.Play() },
			func(d *dlna.Client) error { return d.Play(ctx) },
			func(a *airplay.Client) error { return a.Rate(ctx, true) }); err != nil {
			return domain.CastStatus{}, err
		}
		sess.state = domain.SessionPlaying
		sess.paused = false

	case domain.ActionPause:
		if err := co.dispatchSimple(ctx, sess, func(c *castv2.Client) error { return c.Pause() },
			func(d *dlna.Client) error { return d.Pause(ctx) },
			func(a *airplay.Client) error { return a.Rate(ctx, false) }); err != nil {
			return domain.CastStatus{}, err
		}
		sess.state = domain.SessionPaused
		sess.paused = true

	case domain.ActionStop:
		co.stopLocked()
		return domain.CastStatus{Casting: false}, nil

	case domain.ActionSeek:
		if value == nil {
			return domain.CastStatus{}, domain.NewError(domain.ErrUnknownAction, "seek requires a numeric value")
		}
		if err := co.seekLocked(ctx, sess, *value); err != nil {
			return domain.CastStatus{}, err
		}
		sess.position = *value

	case domain.ActionVolume:
		if value == nil {
			return domain.CastStatus{}, domain.NewError(domain.ErrUnknownAction, "volume requires a numeric value")
		}
		if err := co.volumeLocked(ctx, sess, *value); err != nil {
			return domain.CastStatus{}, err
		}

	default:
		return domain.CastStatus{}, domain.NewError(domain.ErrUnknownAction, string(action))
	}

	return co.statusLocked(), nil
}

func (co *Coordinator) dispatchSimple(
	ctx context.Context,
	sess *session,
	onChromecast func(*castv2.Client) error,
	onDLNA func(*dlna.Client) error,
	onAirPlay func(*airplay.Client) error,
) error {
	switch {
	case sess.client.chromecast != nil:
		return onChromecast(sess.client.chromecast)
	case sess.client.dlna != nil:
		return onDLNA(sess.client.dlna)
	case sess.client.airplay != nil:
		return onAirPlay(sess.client.airplay)
	default:
		return domain.NewError(domain.ErrNotCasting, notCastingMessage)
	}
}

func (co *Coordinator) seekLocked(ctx context.Context, sess *session, positionSeconds float64) error {
	switch {
	case sess.client.chromecast != nil:
		return sess.client.chromecast.Seek(positionSeconds)
	case sess.client.dlna != nil:
		return sess.client.dlna.Seek(ctx, time.Duration(positionSeconds*float64(time.Second)))
	case sess.client.airplay != nil:
		return sess.client.airplay.Seek(ctx, positionSeconds)
	default:
		return domain.NewError(domain.ErrNotCasting, notCastingMessage)
	}
}

// volumeLocked implements §4.4's volume mapping: 0..100 uniform value maps
// to 0..1 for CASTV2, rounded integer 0..100 for DLNA, and is a no-op
// (accepted, not forwarded) for AirPlay.
func (co *Coordinator) volumeLocked(ctx context.Context, sess *session, value float64) error {
	switch {
	case sess.client.chromecast != nil:
		return sess.client.chromecast.SetVolume(value / 100.0)
	case sess.client.dlna != nil:
		return sess.client.dlna.SetVolume(ctx, int(math.Round(value)))
	case sess.client.airplay != nil:
		return nil // accepted, no-op per §4.4
	default:
		return domain.NewError(domain.ErrNotCasting, notCastingMessage)
	}
}

// Stop implements §4.4's idempotent stop: state is cleared even if
// per-protocol teardown fails; teardownClient logs such failures and they
// are never returned.
func (co *Coordinator) Stop() domain.CastStatus {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.stopLocked()
	return domain.CastStatus{Casting: false, State: domain.SessionStopped}
}

func (co *Coordinator) stopLocked() {
	if co.current == nil {
		return
	}
	sess := co.current
	co.current = nil
	if sess.cancelBackground != nil {
		sess.cancelBackground()
	}
	co.teardownClient(sess.client)
}

func (co *Coordinator) teardownClient(h clientHandle) {
	switch {
	case h.chromecast != nil:
		_ = h.chromecast.Disconnect()
	case h.dlna != nil:
		// stateless SOAP client; nothing to tear down.
	case h.airplay != nil:
		h.airplay.StopStatusPolling()
		if err := h.airplay.Stop(context.Background()); err != nil {
			co.logger.Warn("teardown_failed", slog.String("component", "airplay"), slog.String("error", err.Error()))
		}
	}
}

// Status implements §4.4's status operation: a snapshot that never fails.
func (co *Coordinator) Status() domain.CastStatus {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.statusLocked()
}

func (co *Coordinator) statusLocked() domain.CastStatus {
	if co.current == nil {
		return domain.CastStatus{Casting: false, State: domain.SessionStopped}
	}
	sess := co.current

	if sess.client.airplay != nil {
		latest := sess.client.airplay.LatestStatus()
		sess.position = latest.Position
		sess.duration = latest.Duration
		sess.paused = latest.Paused
	}

	return domain.CastStatus{
		Casting:    true,
		DeviceID:   sess.device.ID,
		DeviceName: sess.device.Name,
		Position:   sess.position,
		Duration:   sess.duration,
		Paused:     sess.paused,
		State:      sess.state,
	}
}
