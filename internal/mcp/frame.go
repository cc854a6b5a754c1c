package mcp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"toolfab/internal/fault"
)

// Frame format: "Content-Length: N\r\n\r\n" followed by exactly N bytes of
// UTF-8 JSON. The reader additionally accepts one bare JSON object per
// newline for non-compliant peers.

// writeFrame emits one framed message.
func writeFrame(w io.Writer, payload []byte) error {
	if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(payload)); err != nil {
		return fault.Wrap(fault.ProtocolIO, err, "failed to write frame header")
	}
	if _, err := w.Write(payload); err != nil {
		return fault.Wrap(fault.ProtocolIO, err, "failed to write frame body")
	}
	return nil
}

// readMessage reads one message, auto-detecting framed vs line mode. Zero
// bytes mid-message surfaces PROTOCOL_EOF.
func readMessage(r *bufio.Reader) ([]byte, error) {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if line == "" && errors.Is(err, io.EOF) {
				return nil, fault.Wrap(fault.ProtocolEOF, err, "stream closed")
			}
			return nil, eofOrIO(err, "failed to read message header")
		}

		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			// Stray blank line between messages.
			continue
		}

		// Line-mode fallback: a bare JSON object on one line.
		if strings.HasPrefix(trimmed, "{") {
			return []byte(trimmed), nil
		}

		if n, ok := contentLength(trimmed); ok {
			return readFramedBody(r, n)
		}

		// Unknown chatter (a peer logging to stdout); skip it.
	}
}

// readFramedBody consumes remaining header lines and then exactly n bytes.
func readFramedBody(r *bufio.Reader, n int) ([]byte, error) {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, eofOrIO(err, "failed to read frame headers")
		}
		if strings.TrimRight(line, "\r\n") == "" {
			break
		}
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, eofOrIO(err, "failed to read frame body (%d bytes)", n)
	}
	return body, nil
}

// contentLength parses a "Content-Length: N" header line.
func contentLength(line string) (int, bool) {
	key, value, found := strings.Cut(line, ":")
	if !found || !strings.EqualFold(strings.TrimSpace(key), "Content-Length") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// eofOrIO classifies a read error: short reads are PROTOCOL_EOF, anything
// else is PROTOCOL_IO.
func eofOrIO(err error, format string, args ...any) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
		return fault.Wrap(fault.ProtocolEOF, err, format, args...)
	}
	return fault.Wrap(fault.ProtocolIO, err, format, args...)
}
