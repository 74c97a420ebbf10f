package airplay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse test server port: %v", err)
	}
	return New(u.Hostname(), port, nil)
}

func TestPlaySendsSessionIDAndBinaryPlistBody(t *testing.T) {
	var gotSessionID, gotContentType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSessionID = r.Header.Get("X-Apple-Session-ID")
		gotContentType = r.Header.Get("Content-Type")
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = buf
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	if err := c.Play(context.Background(), "http://host/media/movie.mp4", 0.25); err != nil {
		t.Fatalf("play: %v", err)
	}
	if gotSessionID == "" {
		t.Fatal("expected a non-empty X-Apple-Session-ID header")
	}
	if gotContentType != "application/x-apple-binary-plist" {
		t.Fatalf("Content-Type = %q", gotContentType)
	}
	decoded, err := decodeBinaryPlist(gotBody)
	if err != nil {
		t.Fatalf("decode request body: %v", err)
	}
	if decoded["Content-Location"] != "http://host/media/movie.mp4" {
		t.Fatalf("Content-Location = %v", decoded["Content-Location"])
	}
	if decoded["Start-Position"] != 0.25 {
		t.Fatalf("Start-Position = %v, want 0.25 (fraction, not startPosition/100)", decoded["Start-Position"])
	}
}

func TestSeekUsesQueryParameter(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	if err := c.Seek(context.Background(), 42); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if gotPath != "/scrub?position=42" {
		t.Fatalf("path = %q, want /scrub?position=42", gotPath)
	}
}

func TestRateMapsPauseAndResumeToZeroAndOne(t *testing.T) {
	var gotPaths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPaths = append(gotPaths, r.URL.RequestURI())
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	if err := c.Rate(context.Background(), false); err != nil {
		t.Fatalf("rate pause: %v", err)
	}
	if err := c.Rate(context.Background(), true); err != nil {
		t.Fatalf("rate resume: %v", err)
	}
	if gotPaths[0] != "/rate?value=0" || gotPaths[1] != "/rate?value=1" {
		t.Fatalf("unexpected rate paths: %v", gotPaths)
	}
}

func TestPlaybackInfoDerivesPausedFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := encodeBinaryPlist(map[string]plistValue{
			"rate":     float64(0),
			"position": 12.5,
			"duration": 100.0,
		})
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	status, err := c.PlaybackInfo(context.Background())
	if err != nil {
		t.Fatalf("playback-info: %v", err)
	}
	if !status.Paused {
		t.Fatalf("expected paused=true for rate=0, duration>0, got %+v", status)
	}
}

func TestStatusPollingRefreshesLatestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := encodeBinaryPlist(map[string]plistValue{
			"rate":     float64(1),
			"position": 5.0,
			"duration": 60.0,
		})
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	ctx, cancel := context.WithCancel(context.Background())
	c.StartStatusPolling(ctx)
	defer func() {
		cancel()
		c.StopStatusPolling()
	}()

	deadline := time.After(2 * time.Second)
	for {
		if c.LatestStatus().Duration == 60.0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected polling to populate LatestStatus")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
