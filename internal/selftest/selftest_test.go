package selftest

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
)

func TestRunAllOKForWritableDirsAndOpenSockets(t *testing.T) {
	mediaRoot := t.TempDir()
	subtitlesRoot := t.TempDir()

	report := Run(mediaRoot, subtitlesRoot, 0)
	if !report.MediaRoot.Readable || !report.SubtitlesRoot.Readable {
		t.Fatalf("expected both roots readable, got %+v / %+v", report.MediaRoot, report.SubtitlesRoot)
	}
	if !report.ControlPort.Available || !report.DiscoverySocket.Available {
		t.Fatalf("expected both sockets available, got %+v / %+v", report.ControlPort, report.DiscoverySocket)
	}
	if !report.AllOK {
		t.Fatalf("expected AllOK=true, got %+v", report)
	}
}

func TestRunFlagsMissingMediaRoot(t *testing.T) {
	report := Run(filepath.Join(t.TempDir(), "does-not-exist"), t.TempDir(), 0)
	if report.MediaRoot.Exists || report.MediaRoot.Readable {
		t.Fatalf("expected missing media root to be neither existing nor readable, got %+v", report.MediaRoot)
	}
	if report.AllOK {
		t.Fatal("expected AllOK=false when media root is missing")
	}
}

func TestRunFlagsFileInPlaceOfDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	status := checkPath(file)
	if !status.Exists || status.IsDir || status.Readable {
		t.Fatalf("expected exists=true, isDir=false, readable=false for a plain file, got %+v", status)
	}
}

func TestRunSurfacesSocketErrors(t *testing.T) {
	orig := listenTCP
	t.Cleanup(func() { listenTCP = orig })
	listenTCP = func(network, address string) (net.Listener, error) {
		return nil, errors.New("port already in use")
	}

	report := Run(t.TempDir(), t.TempDir(), 9876)
	if report.ControlPort.Available {
		t.Fatal("expected ControlPort.Available=false")
	}
	if report.ControlPort.Error == "" {
		t.Fatal("expected a non-empty error message")
	}
	if report.AllOK {
		t.Fatal("expected AllOK=false when the control port can't be bound")
	}
}

func TestRunSurfacesUDPSocketErrors(t *testing.T) {
	orig := listenUDP4
	t.Cleanup(func() { listenUDP4 = orig })
	listenUDP4 = func() (net.PacketConn, error) {
		return nil, errors.New("no unprivileged UDP sockets available")
	}

	report := Run(t.TempDir(), t.TempDir(), 0)
	if report.DiscoverySocket.Available {
		t.Fatal("expected DiscoverySocket.Available=false")
	}
	if report.AllOK {
		t.Fatal("expected AllOK=false when the discovery socket can't be opened")
	}
}
