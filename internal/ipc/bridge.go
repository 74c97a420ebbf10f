// Package ipc adapts the framing and JSON-RPC envelope style of a stdio
// control channel (§10.4) into a second, optional transport for the same
// five coordinator operations the loopback HTTP control plane exposes
// (§6.1): devices, cast, control, status, stop. It runs alongside, never
// instead of, the HTTP control plane.
//
// Unlike the teacher's strictly request/response stdio protocol, a session
// here is long-lived and its state can change out from under the caller
// (a CASTV2 heartbeat loss, an AirPlay poll discovering a paused receiver),
// so the bridge also pushes unsolicited "statusChanged" notifications
// (no "id", per JSON-RPC 2.0 notification semantics) after every call that
// mutates session state, instead of making the host player poll "status".
package ipc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/paulthery/IINA-Cast-Plugin/internal/domain"
)

// Directory is the subset of internal/directory.Directory the bridge needs.
type Directory interface {
	List() []domain.Device
}

// Coordinator is the subset of internal/session.Coordinator the bridge
// drives.
type Coordinator interface {
	Start(ctx context.Context, deviceID, mediaURL string, startPosition float64) (domain.CastStatus, error)
	Control(ctx context.Context, action domain.ControlAction, value *float64) (domain.CastStatus, error)
	Stop() domain.CastStatus
	Status() domain.CastStatus
}

// Bridge is a stdio JSON-RPC-style server exposing the same coordinator
// operations as the HTTP control plane, plus unsolicited status-change
// notifications.
type Bridge struct {
	in          *bufio.Reader
	out         *bufio.Writer
	directory   Directory
	coordinator Coordinator
	logger      *slog.Logger

	useJSONLineOutput bool
	outputModeLocked  bool
}

// Config configures a Bridge.
type Config struct {
	Directory   Directory
	Coordinator Coordinator
	Logger      *slog.Logger
}

// New builds a Bridge reading requests from in and writing responses to out.
func New(in io.Reader, out io.Writer, cfg Config) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		in:          bufio.NewReader(in),
		out:         bufio.NewWriter(out),
		directory:   cfg.Directory,
		coordinator: cfg.Coordinator,
		logger:      logger,
	}
}

// Run reads and dispatches requests until ctx is cancelled or the input
// stream reaches EOF.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		payload, jsonLineInput, err := readMessage(b.in)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if !b.outputModeLocked {
			b.useJSONLineOutput = jsonLineInput
			b.outputModeLocked = true
		}

		if err := b.handle(ctx, payload); err != nil {
			b.logger.Error("ipc_handle_error", "error", err)
			return err
		}
	}
}

func (b *Bridge) handle(ctx context.Context, payload []byte) error {
	var req request
	if err := json.Unmarshal(payload, &req); err != nil {
		return b.sendMessage(response{
			JSONRPC: "2.0",
			Error:   &responseError{Code: -32700, Message: "parse error"},
		})
	}
	if len(req.ID) == 0 {
		return nil
	}

	switch req.Method {
	case "devices":
		return b.handleDevices(req.ID)
	case "cast":
		return b.handleCast(ctx, req.ID, req.Params)
	case "control":
		return b.handleControl(ctx, req.ID, req.Params)
	case "status":
		return b.handleStatus(req.ID)
	case "stop":
		return b.handleStop(req.ID)
	default:
		return b.sendMessage(response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &responseError{Code: -32601, Message: "method not found"},
		})
	}
}

func (b *Bridge) handleDevices(id json.RawMessage) error {
	return b.sendMessage(response{JSONRPC: "2.0", ID: id, Result: b.directory.List()})
}

func (b *Bridge) handleCast(ctx context.Context, id json.RawMessage, raw json.RawMessage) error {
	var params castParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return b.sendInvalidParams(id)
	}
	status, err := b.coordinator.Start(ctx, params.DeviceID, params.MediaURL, params.Position)
	if err != nil {
		return b.sendDomainError(id, err)
	}
	return b.respondAndNotify(id, status)
}

func (b *Bridge) handleControl(ctx context.Context, id json.RawMessage, raw json.RawMessage) error {
	var params controlParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return b.sendInvalidParams(id)
	}
	status, err := b.coordinator.Control(ctx, domain.ControlAction(params.Action), params.Value)
	if err != nil {
		return b.sendDomainError(id, err)
	}
	return b.respondAndNotify(id, status)
}

func (b *Bridge) handleStatus(id json.RawMessage) error {
	return b.sendMessage(response{JSONRPC: "2.0", ID: id, Result: b.coordinator.Status()})
}

func (b *Bridge) handleStop(id json.RawMessage) error {
	return b.respondAndNotify(id, b.coordinator.Stop())
}

// respondAndNotify answers the originating request, then pushes the same
// status as an unsolicited "statusChanged" notification — a host player
// that only reads notifications (rather than correlating every response by
// id) still sees the session's state settle.
func (b *Bridge) respondAndNotify(id json.RawMessage, status domain.CastStatus) error {
	if err := b.sendMessage(response{JSONRPC: "2.0", ID: id, Result: status}); err != nil {
		return err
	}
	return b.notify("statusChanged", status)
}

func (b *Bridge) notify(method string, params any) error {
	return b.sendMessage(notification{JSONRPC: "2.0", Method: method, Params: params})
}

func (b *Bridge) sendInvalidParams(id json.RawMessage) error {
	return b.sendMessage(response{JSONRPC: "2.0", ID: id, Error: &responseError{Code: -32602, Message: "invalid params"}})
}

func (b *Bridge) sendDomainError(id json.RawMessage, err error) error {
	message := err.Error()
	if _, ok := domain.KindOf(err); ok {
		return b.sendMessage(response{JSONRPC: "2.0", ID: id, Error: &responseError{Code: -32000, Message: message}})
	}
	return b.sendMessage(response{JSONRPC: "2.0", ID: id, Error: &responseError{Code: -32603, Message: message}})
}

// sendMessage marshals any JSON-RPC envelope (response or notification) and
// writes it framed the same way the matching request arrived.
func (b *Bridge) sendMessage(v any) error {
	encoded, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if b.useJSONLineOutput {
		return writeJSONLineMessage(b.out, encoded)
	}
	return writeFramedMessage(b.out, encoded)
}

// readMessage auto-detects between a bare JSON line (one JSON value per
// line, newline-delimited) and an LSP-style Content-Length-framed message,
// since a host player embedding this as a child process may speak either
// depending on how its own stdio plumbing is built. It reports which form
// it read so the bridge answers (and later notifies) in the same style.
func readMessage(r *bufio.Reader) ([]byte, bool, error) {
	firstLine, err := r.ReadString('\n')
	if err != nil {
		if err == io.EOF && firstLine == "" {
			return nil, false, io.EOF
		}
		return nil, false, err
	}

	if payload, ok, err := tryReadJSONLineMessage(r, firstLine); ok || err != nil {
		return payload, ok, err
	}

	contentLength := -1
	sawHeader := false
	line := firstLine

	for {
		if line == "\r\n" {
			if !sawHeader {
				if line, err = r.ReadString('\n'); err != nil {
					if err == io.EOF && !sawHeader {
						return nil, false, io.EOF
					}
					return nil, false, err
				}
				continue
			}
			break
		}

		sawHeader = true
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			break
		}

		key, value, ok := strings.Cut(trimmed, ":")
		if !ok {
			continue
		}

		if strings.EqualFold(key, "Content-Length") {
			parsed, parseErr := strconv.Atoi(strings.TrimSpace(value))
			if parseErr != nil {
				return nil, false, fmt.Errorf("invalid Content-Length: %w", parseErr)
			}
			contentLength = parsed
		}

		line, err = r.ReadString('\n')
		if err != nil {
			if err == io.EOF && !sawHeader {
				return nil, false, io.EOF
			}
			return nil, false, err
		}
	}

	if contentLength < 0 {
		return nil, false, fmt.Errorf("missing Content-Length header")
	}

	payload := make([]byte, contentLength)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, false, err
	}

	return payload, false, nil
}

func tryReadJSONLineMessage(r *bufio.Reader, firstLine string) ([]byte, bool, error) {
	trimmed := strings.TrimSpace(firstLine)
	if trimmed == "" {
		return nil, false, nil
	}
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return nil, false, nil
	}

	buf := bytes.NewBufferString(firstLine)
	if json.Valid(bytes.TrimSpace(buf.Bytes())) {
		return bytes.TrimSpace(buf.Bytes()), true, nil
	}

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, true, err
		}
		buf.WriteString(line)
		if json.Valid(bytes.TrimSpace(buf.Bytes())) {
			return bytes.TrimSpace(buf.Bytes()), true, nil
		}
	}
}

func writeFramedMessage(w *bufio.Writer, payload []byte) error {
	if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(payload)); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return w.Flush()
}

func writeJSONLineMessage(w *bufio.Writer, payload []byte) error {
	if _, err := w.Write(payload); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}
