package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"toolfab/internal/fault"
)

// killGrace is how long a child gets between SIGTERM and SIGKILL.
const killGrace = 2 * time.Second

// StdioOptions configures one stdio session.
type StdioOptions struct {
	Command string
	Args    []string

	// Env entries are appended to the inherited process environment.
	Env map[string]string

	// HandshakeTimeout bounds the initialize exchange.
	HandshakeTimeout time.Duration

	Logger *zap.Logger
}

// StdioSession is one live subprocess speaking framed JSON-RPC on stdio.
// Sessions are single-use: one Dial, a handful of calls, one Close. There
// is no pooling; every protocol call chain gets a fresh child process.
type StdioSession struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *zap.Logger

	// incoming carries decoded responses from the reader goroutine;
	// readErr carries its terminal error. done releases a reader blocked
	// on delivery during Close.
	incoming chan *response
	readErr  chan error
	done     chan struct{}

	nextID    int64
	writeMu   sync.Mutex
	closeOnce sync.Once
	readerWG  sync.WaitGroup
}

// DialStdio spawns the command and runs the protocol handshake. On any
// error the child is already reaped when DialStdio returns.
func DialStdio(ctx context.Context, opts StdioOptions) (*StdioSession, error) {
	if opts.Command == "" {
		return nil, fault.New(fault.ProtocolStartFailed, "stdio transport requires a command")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 15 * time.Second
	}

	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Env = os.Environ()
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fault.Wrap(fault.ProtocolStartFailed, err, "failed to open stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fault.Wrap(fault.ProtocolStartFailed, err, "failed to open stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fault.Wrap(fault.ProtocolStartFailed, err, "failed to open stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, fault.Wrap(fault.ProtocolStartFailed, err, "failed to start %q", opts.Command)
	}

	s := &StdioSession{
		cmd:      cmd,
		stdin:    stdin,
		logger:   opts.Logger,
		incoming: make(chan *response, 8),
		readErr:  make(chan error, 1),
		done:     make(chan struct{}),
	}

	s.readerWG.Add(2)
	go s.readLoop(stdout)
	go s.drainStderr(stderr)

	if err := s.initialize(ctx, opts.HandshakeTimeout); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// readLoop decodes messages off stdout until the stream ends. Server
// notifications and requests are dropped; only responses are delivered.
func (s *StdioSession) readLoop(stdout io.Reader) {
	defer s.readerWG.Done()
	r := bufio.NewReader(stdout)
	for {
		msg, err := readMessage(r)
		if err != nil {
			s.readErr <- err
			return
		}

		var resp response
		if err := json.Unmarshal(msg, &resp); err != nil {
			s.logger.Warn("discarding unparsable message", zap.Error(err))
			continue
		}
		if resp.ID == 0 && resp.Result == nil && resp.Error == nil {
			// Notification or server-initiated request, not ours to answer.
			continue
		}
		select {
		case s.incoming <- &resp:
		case <-s.done:
			return
		}
	}
}

// drainStderr keeps the child from blocking on a full stderr pipe and
// surfaces its chatter at debug level.
func (s *StdioSession) drainStderr(stderr io.Reader) {
	defer s.readerWG.Done()
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		s.logger.Debug("server stderr", zap.String("line", scanner.Text()))
	}
}

// initialize runs the handshake: initialize request, then the initialized
// notification.
func (s *StdioSession) initialize(ctx context.Context, timeout time.Duration) error {
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := s.Call(hctx, MethodInitialize, newInitializeParams()); err != nil {
		return err
	}
	return s.notify(MethodInitialized, nil)
}

// Call sends one request and waits for its response, bounded by ctx.
// Responses for other ids (stale or out of order) are discarded.
func (s *StdioSession) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	s.writeMu.Lock()
	s.nextID++
	id := s.nextID
	payload, err := json.Marshal(request{JSONRPC: "2.0", ID: &id, Method: method, Params: params})
	if err != nil {
		s.writeMu.Unlock()
		return nil, fault.Wrap(fault.ProtocolIO, err, "failed to marshal %s request", method)
	}
	err = writeFrame(s.stdin, payload)
	s.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	for {
		select {
		case resp := <-s.incoming:
			if resp.ID != id {
				s.logger.Debug("dropping response for stale id", zap.Int64("id", resp.ID))
				continue
			}
			if resp.Error != nil {
				return nil, fault.New(fault.ProtocolRPCError, "%s failed: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
			}
			return resp.Result, nil
		case err := <-s.readErr:
			// Put it back for any later caller, then fail this one.
			s.readErr <- err
			return nil, err
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fault.Wrap(fault.ProtocolTimeout, ctx.Err(), "%s did not answer in time", method)
			}
			return nil, fault.Wrap(fault.ProtocolIO, ctx.Err(), "%s aborted", method)
		}
	}
}

// notify sends a notification; no response is expected.
func (s *StdioSession) notify(method string, params any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	payload, err := json.Marshal(request{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return fault.Wrap(fault.ProtocolIO, err, "failed to marshal %s notification", method)
	}
	return writeFrame(s.stdin, payload)
}

// ListTools fetches the server's tool catalog.
func (s *StdioSession) ListTools(ctx context.Context) ([]ToolInfo, error) {
	raw, err := s.Call(ctx, MethodToolsList, nil)
	if err != nil {
		return nil, err
	}
	var result toolsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fault.Wrap(fault.ProtocolRPCError, err, "malformed tools/list result")
	}
	return result.Tools, nil
}

// CallTool invokes one tool and returns the raw result payload.
func (s *StdioSession) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	return s.Call(ctx, MethodToolsCall, callToolParams{Name: name, Arguments: args})
}

// Close terminates the child on every exit path: close stdin, SIGTERM,
// short grace, SIGKILL, then reap the reader goroutines. Safe to call
// more than once.
func (s *StdioSession) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.stdin.Close()

		waited := make(chan struct{})
		go func() {
			_ = s.cmd.Wait()
			close(waited)
		}()

		if s.cmd.Process != nil {
			_ = s.cmd.Process.Signal(syscall.SIGTERM)
		}
		select {
		case <-waited:
		case <-time.After(killGrace):
			if s.cmd.Process != nil {
				_ = s.cmd.Process.Kill()
			}
			<-waited
		}

		s.readerWG.Wait()
		// Unblock any call still parked on readErr.
		select {
		case s.readErr <- fault.New(fault.ProtocolEOF, "session closed"):
		default:
		}
	})
}

// String describes the session for diagnostics.
func (s *StdioSession) String() string {
	return fmt.Sprintf("stdio:%s pid=%d", s.cmd.Path, s.cmd.Process.Pid)
}
