// Package mediaserver implements the range-capable HTTP file server that
// cast endpoints pull media bytes from, per §4.5. Grounded on the
// teacher's HTTP-handler style (internal/mcpserver) for structure, with
// h2non/filetype as a MIME-sniffing fallback for extensions the fixed
// table doesn't cover.
package mediaserver

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/h2non/filetype"
)

// Server serves files under MediaRoot at /media/<path...> and WebVTT
// sidecars under SubtitleRoot at /subtitles/<id>.vtt.
type Server struct {
	MediaRoot    string
	SubtitleRoot string
	Logger       *slog.Logger
}

// New builds a Server rooted at mediaRoot/subtitleRoot. Both must be
// absolute, allow-listed directories; the server never escapes them.
func New(mediaRoot, subtitleRoot string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{MediaRoot: mediaRoot, SubtitleRoot: subtitleRoot, Logger: logger}
}

// Handler returns the http.Handler implementing §4.5's routes. Routing is by
// prefix rather than through http.ServeMux, whose path cleaning would answer
// a "../" request with a redirect before the root check could refuse it.
func (s *Server) Handler() http.Handler {
	return withCORSPreflight(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/media/"):
			s.handleMedia(w, r)
		case strings.HasPrefix(r.URL.Path, "/subtitles/"):
			s.handleSubtitle(w, r)
		default:
			http.NotFound(w, r)
		}
	}))
}

func withCORSPreflight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			setCORSHeaders(w)
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func setCORSHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Range, Content-Type")
	h.Set("Access-Control-Expose-Headers", "Content-Range, Content-Length, Accept-Ranges")
}

var extToMIME = map[string]string{
	".mp4":  "video/mp4",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".ts":   "video/mp2t",
	".m2ts": "video/mp2t",
	".mov":  "video/quicktime",
	".mp3":  "audio/mpeg",
	".aac":  "audio/aac",
	".flac": "audio/flac",
}

var extToDLNAProfile = map[string]string{
	".mp4": "AVC_MP4_HP_HD_AAC",
	".mkv": "MATROSKA",
}

const defaultDLNAProfile = "AVC_MP4_HP_HD_AAC"

func contentTypeForPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if mt, ok := extToMIME[ext]; ok {
		return mt
	}
	// Fall back to content sniffing for extensions the fixed table omits.
	if f, err := os.Open(path); err == nil {
		defer f.Close()
		head := make([]byte, 261)
		n, _ := f.Read(head)
		if kind, err := filetype.Match(head[:n]); err == nil && kind != filetype.Unknown {
			return kind.MIME.Value
		}
	}
	return "application/octet-stream"
}

func dlnaProfileForPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if p, ok := extToDLNAProfile[ext]; ok {
		return p
	}
	return defaultDLNAProfile
}

// resolveWithinRoot resolves a URL path segment against root, rejecting
// any absolute path or relative normalization that escapes root.
func resolveWithinRoot(root, rawPath string) (string, bool) {
	decoded, err := url.PathUnescape(rawPath)
	if err != nil {
		return "", false
	}
	if filepath.IsAbs(decoded) {
		decoded = strings.TrimPrefix(decoded, string(filepath.Separator))
	}
	joined := filepath.Join(root, decoded)
	rootWithSep := root
	if !strings.HasSuffix(rootWithSep, string(filepath.Separator)) {
		rootWithSep += string(filepath.Separator)
	}
	if joined != root && !strings.HasPrefix(joined, rootWithSep) {
		return "", false
	}
	return joined, true
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	rawPath := strings.TrimPrefix(r.URL.Path, "/media/")
	if _, err := url.PathUnescape(rawPath); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	path, ok := resolveWithinRoot(s.MediaRoot, rawPath)
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	s.serveFile(w, r, f, info.Size(), path)
}

func (s *Server) handleSubtitle(w http.ResponseWriter, r *http.Request) {
	rawName := strings.TrimPrefix(r.URL.Path, "/subtitles/")
	if !strings.HasSuffix(rawName, ".vtt") {
		http.NotFound(w, r)
		return
	}
	path, ok := resolveWithinRoot(s.SubtitleRoot, rawName)
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "text/vtt; charset=utf-8")
	setCORSHeaders(w)
	io.Copy(w, f)
}

// serveFile implements the §4.5 header set and range semantics common to
// media responses.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, f *os.File, size int64, path string) {
	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", contentTypeForPath(path))
	h.Set("Cache-Control", "no-cache")
	h.Set("transferMode.dlna.org", "Streaming")
	h.Set("contentFeatures.dlna.org", fmt.Sprintf("DLNA.ORG_PN=%s;DLNA.ORG_FLAGS=01700000000000000000000000000000", dlnaProfileForPath(path)))
	setCORSHeaders(w)

	rangeHeader := r.Header.Get("Range")
	start, end, parsed, satisfiable := parseRange(rangeHeader, size)
	if !parsed {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			io.Copy(w, f)
		}
		return
	}
	if !satisfiable {
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	length := end - start + 1
	h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	h.Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		s.Logger.Error("seek failed serving range", "path", path, "error", err)
		return
	}
	io.CopyN(w, f, length)
}

// parseRange implements §4.5's three accepted forms. A missing header,
// one that doesn't start with "bytes=", or a multi-range request
// (containing a comma) is "not parsed" and the caller treats the request
// as if no Range header were present. A parsed range with start>end or
// start>=size is "not satisfiable" and the caller responds 416.
func parseRange(header string, size int64) (start, end int64, parsed, satisfiable bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, false, false
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return 0, 0, false, false
	}

	dash := strings.IndexByte(spec, '-')
	if dash < 0 {
		return 0, 0, false, false
	}
	startStr, endStr := spec[:dash], spec[dash+1:]

	switch {
	case startStr == "" && endStr != "":
		// bytes=-N
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false, false
		}
		start = size - n
		if start < 0 {
			start = 0
		}
		end = size - 1
	case startStr != "" && endStr == "":
		// bytes=S-
		s, err := strconv.ParseInt(startStr, 10, 64)
		if err != nil {
			return 0, 0, false, false
		}
		start = s
		end = size - 1
	case startStr != "" && endStr != "":
		// bytes=S-E
		s, err1 := strconv.ParseInt(startStr, 10, 64)
		e, err2 := strconv.ParseInt(endStr, 10, 64)
		if err1 != nil || err2 != nil {
			return 0, 0, false, false
		}
		start = s
		end = e
		if end > size-1 {
			end = size - 1
		}
	default:
		return 0, 0, false, false
	}

	if start > end || start >= size {
		return start, end, true, false
	}
	return start, end, true, true
}
