// Package selftest implements the -self-test diagnostic: a dependency-free
// check of the preconditions this helper needs to start cleanly, grounded
// on the teacher's own internal/diagnostics package (DependencyReport,
// injectable package-level lookup var, exported Report/Run shape) but
// scoped to what this helper actually touches. It does not probe for
// ffmpeg/ffprobe: transcoding is an explicit Non-goal, so there is nothing
// here for such a check to gate.
package selftest

import (
	"net"
	"os"
	"strconv"
)

// PathStatus reports whether a configured root directory exists and can be
// listed; the media/subtitle servers only ever read from these roots.
type PathStatus struct {
	Path     string `json:"path"`
	Exists   bool   `json:"exists"`
	IsDir    bool   `json:"isDir"`
	Readable bool   `json:"readable"`
}

// SocketStatus reports whether a socket of the relevant kind could be
// opened on this host.
type SocketStatus struct {
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

// Report is the full -self-test diagnostic output.
type Report struct {
	MediaRoot       PathStatus   `json:"mediaRoot"`
	SubtitlesRoot   PathStatus   `json:"subtitlesRoot"`
	ControlPort     SocketStatus `json:"controlPort"`
	DiscoverySocket SocketStatus `json:"discoverySocket"`
	AllOK           bool         `json:"allOk"`
}

// listenTCP/listenUDP4 are package-level vars so tests can inject failures
// without binding real sockets, matching the teacher's lookPath seam.
var (
	listenTCP  = net.Listen
	listenUDP4 = func() (net.PacketConn, error) { return net.ListenPacket("udp4", ":0") }
)

// Run checks mediaRoot/subtitlesRoot accessibility, whether controlPort can
// be bound on loopback, and whether an unprivileged UDP4 socket can be
// opened — the shared precondition for both mDNS browsing and the SSDP
// M-SEARCH sender (internal/discovery).
func Run(mediaRoot, subtitlesRoot string, controlPort int) Report {
	r := Report{
		MediaRoot:       checkPath(mediaRoot),
		SubtitlesRoot:   checkPath(subtitlesRoot),
		ControlPort:     checkTCP(controlPort),
		DiscoverySocket: checkUDP4(),
	}
	r.AllOK = r.MediaRoot.Readable && r.SubtitlesRoot.Readable &&
		r.ControlPort.Available && r.DiscoverySocket.Available
	return r
}

func checkPath(path string) PathStatus {
	status := PathStatus{Path: path}
	info, err := os.Stat(path)
	if err != nil {
		return status
	}
	status.Exists = true
	status.IsDir = info.IsDir()
	if !status.IsDir {
		return status
	}
	if _, err := os.ReadDir(path); err == nil {
		status.Readable = true
	}
	return status
}

func checkTCP(port int) SocketStatus {
	ln, err := listenTCP("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return SocketStatus{Error: err.Error()}
	}
	ln.Close()
	return SocketStatus{Available: true}
}

func checkUDP4() SocketStatus {
	conn, err := listenUDP4()
	if err != nil {
		return SocketStatus{Error: err.Error()}
	}
	conn.Close()
	return SocketStatus{Available: true}
}
