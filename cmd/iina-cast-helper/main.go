// Command iina-cast-helper is the background casting process: it discovers
// Chromecast/DLNA/AirPlay endpoints on the LAN, serves local media over
// HTTP, and exposes a loopback control plane (and, optionally, a stdio
// bridge) a desktop video player drives to start/control/stop a cast.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	homedir "github.com/mitchellh/go-homedir"

	"github.com/paulthery/IINA-Cast-Plugin/internal/buildinfo"
	"github.com/paulthery/IINA-Cast-Plugin/internal/controlapi"
	"github.com/paulthery/IINA-Cast-Plugin/internal/directory"
	"github.com/paulthery/IINA-Cast-Plugin/internal/discovery"
	"github.com/paulthery/IINA-Cast-Plugin/internal/ipc"
	"github.com/paulthery/IINA-Cast-Plugin/internal/lifecycle"
	"github.com/paulthery/IINA-Cast-Plugin/internal/mediaserver"
	"github.com/paulthery/IINA-Cast-Plugin/internal/selftest"
	"github.com/paulthery/IINA-Cast-Plugin/internal/session"
)

const serverName = "iina-cast-helper"

func main() {
	portFlag := flag.Int("port", 0, "control/media loopback port (default 9876; env PORT)")
	mediaRootFlag := flag.String("media-root", "", "allow-listed media root directory (env IINA_MEDIA_ROOT)")
	subtitlesRootFlag := flag.String("subtitles-root", "", "allow-listed subtitles directory (env IINA_SUBTITLES_ROOT)")
	stdioBridge := flag.Bool("stdio-bridge", false, "also expose the coordinator over a stdio JSON-RPC bridge on stdin/stdout")
	showVersion := flag.Bool("version", false, "print version and exit")
	selfTest := flag.Bool("self-test", false, "check media/subtitle root accessibility and discovery/control socket availability, then exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(buildinfo.Version)
		return
	}
	if err := buildinfo.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	port := resolvePort(*portFlag)
	mediaRoot := resolvePath(*mediaRootFlag, "IINA_MEDIA_ROOT", ".")
	subtitlesRoot := resolvePath(*subtitlesRootFlag, "IINA_SUBTITLES_ROOT", ".")

	if *selfTest {
		report := selftest.Run(mediaRoot, subtitlesRoot, port)
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(report); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if !report.AllOK {
			os.Exit(1)
		}
		return
	}

	logger := newLogger(parseLogLevel(os.Getenv("IINA_CAST_LOG_LEVEL")))
	logger.Info("startup",
		slog.String("server", serverName),
		slog.String("version", buildinfo.Version),
		slog.Int("port", port),
		slog.String("media_root", mediaRoot),
		slog.String("subtitles_root", subtitlesRoot),
	)

	runCtx, stopSignals := signal.NotifyContext(context.Background(), lifecycle.TerminationSignals()...)
	defer stopSignals()

	dir := directory.New()
	disc := discovery.New(dir, logger)
	coord := session.New(dir, logger)
	media := mediaserver.New(mediaRoot, subtitlesRoot, logger)

	shutdownCh := make(chan struct{})
	// controlapi already waits ≈100ms after answering /shutdown before it
	// calls this, so the exit is signalled at once here.
	shutdown := func() {
		close(shutdownCh)
	}

	ctrl := controlapi.New(dir, coord, disc, buildinfo.Version, logger, shutdown)

	mux := http.NewServeMux()
	mux.Handle("/media/", media.Handler())
	mux.Handle("/subtitles/", media.Handler())
	mux.Handle("/", ctrl.Handler())

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	httpSrv := &http.Server{Addr: addr, Handler: mux}

	disc.Refresh()

	if *stdioBridge {
		bridge := ipc.New(os.Stdin, os.Stdout, ipc.Config{
			Directory:   dir,
			Coordinator: coord,
			Logger:      logger,
		})
		go func() {
			if err := bridge.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("stdio_bridge_stopped", slog.String("error", err.Error()))
			}
		}()
	}

	serveErrCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", addr))
		serveErrCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-runCtx.Done():
		logger.Info("signal_received")
	case <-shutdownCh:
		logger.Info("shutdown_requested")
	case err := <-serveErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen_failed", slog.String("error", err.Error()))
		}
	}

	disc.Stop()
	coord.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolvePort(flagValue int) int {
	if flagValue != 0 {
		return flagValue
	}
	if raw := strings.TrimSpace(os.Getenv("PORT")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			return parsed
		}
	}
	return 9876
}

func resolvePath(flagValue, envVar, fallback string) string {
	raw := strings.TrimSpace(flagValue)
	if raw == "" {
		raw = strings.TrimSpace(os.Getenv(envVar))
	}
	if raw == "" {
		raw = fallback
	}
	expanded, err := homedir.Expand(raw)
	if err != nil {
		expanded = raw
	}
	// mediaserver.New requires absolute roots.
	if abs, err := filepath.Abs(expanded); err == nil {
		return abs
	}
	return expanded
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		fmt.Fprintf(os.Stderr, "invalid IINA_CAST_LOG_LEVEL=%q; defaulting to info\n", raw)
		return slog.LevelInfo
	}
}

// newLogger writes to stderr: slog text format through a colorable writer
// when attached to a terminal, and JSON otherwise (e.g. when the host
// player pipes stderr to a file).
func newLogger(level slog.Level) *slog.Logger {
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		out := colorable.NewColorableStderr()
		return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
