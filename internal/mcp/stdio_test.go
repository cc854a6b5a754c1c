package mcp

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"toolfab/internal/fault"
)

// catOptions spawns cat, which echoes every frame straight back. The echo
// carries the request id, so the session treats it as a well-formed
// response with an empty result.
func catOptions() StdioOptions {
	return StdioOptions{
		Command:          "cat",
		HandshakeTimeout: 5 * time.Second,
		Logger:           zap.NewNop(),
	}
}

func TestDialStdioEchoHandshake(t *testing.T) {
	defer goleak.VerifyNone(t)

	session, err := DialStdio(context.Background(), catOptions())
	if err != nil {
		t.Fatalf("DialStdio failed: %v", err)
	}
	defer session.Close()

	result, err := session.CallTool(context.Background(), "echo", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if result != nil {
		t.Errorf("echoed request has no result member, got %s", result)
	}
}

func TestDialStdioEOF(t *testing.T) {
	defer goleak.VerifyNone(t)

	// true exits immediately without answering the handshake.
	opts := StdioOptions{Command: "true", HandshakeTimeout: 5 * time.Second}
	_, err := DialStdio(context.Background(), opts)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	// Depending on timing the write can see a broken pipe before the
	// reader sees EOF; both classify as transport faults.
	if code := fault.CodeOf(err); code != fault.ProtocolEOF && code != fault.ProtocolIO {
		t.Errorf("code = %s, want PROTOCOL_EOF or PROTOCOL_IO", code)
	}
}

func TestDialStdioTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	// sleep never answers; the handshake deadline must fire and the
	// child must be reaped on the error path.
	opts := StdioOptions{Command: "sleep", Args: []string{"30"}, HandshakeTimeout: 200 * time.Millisecond}
	start := time.Now()
	_, err := DialStdio(context.Background(), opts)
	if err == nil {
		t.Fatal("expected handshake timeout")
	}
	if code := fault.CodeOf(err); code != fault.ProtocolTimeout {
		t.Errorf("code = %s, want PROTOCOL_TIMEOUT", code)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("teardown took %v, child was not reaped promptly", elapsed)
	}
}

func TestDialStdioStartFailed(t *testing.T) {
	defer goleak.VerifyNone(t)

	opts := StdioOptions{Command: "/nonexistent/binary-xyz", HandshakeTimeout: time.Second}
	_, err := DialStdio(context.Background(), opts)
	if err == nil {
		t.Fatal("expected start failure")
	}
	if code := fault.CodeOf(err); code != fault.ProtocolStartFailed {
		t.Errorf("code = %s, want PROTOCOL_START_FAILED", code)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	session, err := DialStdio(context.Background(), catOptions())
	if err != nil {
		t.Fatalf("DialStdio failed: %v", err)
	}
	session.Close()
	session.Close()
}
