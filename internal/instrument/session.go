package instrument

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

const errorQueueReadSize = 128

const (
	// resyncTimeouts is how many read timeouts a resync tolerates while the
	// counter is still flushing late replies.
	resyncTimeouts = 5
	resyncMaxLines = 64
)

// Session owns the connection to one counter for the lifetime of a run.
type Session struct {
	conn *Conn

	configured bool
	started    bool
	// stale is set when a reply timed out and may still arrive.
	stale bool

	closeOnce sync.Once
	closeErr  error
	closed    bool
}

// Dial connects to the counter at address:port. Connection failures are
// returned as *ConnectError and are not retried.
func Dial(ctx context.Context, address string, port int, timeout time.Duration) (*Session, error) {
	target := net.JoinHostPort(address, strconv.Itoa(port))

	d := net.Dialer{Timeout: timeout}
	raw, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, &ConnectError{Address: target, Kind: classifyDialError(err), Err: err}
	}
	return NewSession(raw, timeout), nil
}

// NewSession wraps an established connection. timeout bounds every read and
// write on it.
func NewSession(raw net.Conn, timeout time.Duration) *Session {
	return &Session{conn: NewConn(raw, timeout)}
}

func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Configured reports whether Configure completed.
func (s *Session) Configured() bool {
	return s.configured
}

// Configure resets the counter and arms continuous frequency measurement.
// Commands are not acknowledged. Calling it again resets the counter and
// discards any acquisition in progress.
func (s *Session) Configure(ctx context.Context, settings Settings) error {
	if s.closed {
		return ErrStopped
	}
	cmds, err := ConfigureCommands(settings)
	if err != nil {
		return err
	}
	defer s.watch(ctx)()
	for _, cmd := range cmds {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.conn.Send(cmd); err != nil {
			return fmt.Errorf("configure: %w", err)
		}
	}
	s.configured = true
	return nil
}

// Start triggers immediate acquisition. Once started, the counter keeps
// filling its memory until reset.
func (s *Session) Start(ctx context.Context) error {
	switch {
	case s.closed:
		return ErrStopped
	case !s.configured:
		return ErrNotConfigured
	case s.started:
		return nil
	}
	defer s.watch(ctx)()
	if err := s.conn.Send(CmdStart); err != nil {
		return fmt.Errorf("start acquisition: %w", err)
	}
	s.started = true
	return nil
}

// Query sends cmd and returns the newline terminated reply.
func (s *Session) Query(ctx context.Context, cmd string) (string, error) {
	if s.closed {
		return "", ErrStopped
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	defer s.watch(ctx)()
	if err := s.resync(); err != nil {
		return "", err
	}
	if err := s.conn.Send(cmd); err != nil {
		return "", err
	}
	return s.observe(s.conn.ReadLine())
}

// QueryBounded is Query with a limit on the reply size.
func (s *Session) QueryBounded(ctx context.Context, cmd string, max int) (string, error) {
	if s.closed {
		return "", ErrStopped
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	defer s.watch(ctx)()
	if err := s.resync(); err != nil {
		return "", err
	}
	if err := s.conn.Send(cmd); err != nil {
		return "", err
	}
	return s.observe(s.conn.ReadBounded(max))
}

// Identify returns the *IDN? string of the counter.
func (s *Session) Identify(ctx context.Context) (string, error) {
	resp, err := s.Query(ctx, CmdIdentify)
	if err != nil {
		return "", fmt.Errorf("identify: %w", err)
	}
	return strings.TrimRight(resp, "\r\n"), nil
}

// CheckError pops one entry of the counter's error queue. A counter that does
// not answer within the socket timeout is treated as having no error; a late
// answer is discarded before the next query.
func (s *Session) CheckError(ctx context.Context) (string, error) {
	if s.closed {
		return "", ErrStopped
	}
	defer s.watch(ctx)()
	if err := s.resync(); err != nil {
		return "", fmt.Errorf("check error: %w", err)
	}
	if err := s.conn.Send(CmdSystemError); err != nil {
		return "", fmt.Errorf("check error: %w", err)
	}
	resp, err := s.observe(s.conn.ReadBounded(errorQueueReadSize))
	if err != nil {
		if errors.Is(err, ErrTimeout) && ctx.Err() == nil {
			return "", nil
		}
		return "", fmt.Errorf("check error: %w", err)
	}
	return strings.TrimRight(resp, "\r\n"), nil
}

// observe marks the session stale when a reply timed out.
func (s *Session) observe(resp string, err error) (string, error) {
	if errors.Is(err, ErrTimeout) {
		s.stale = true
	}
	return resp, err
}

// resync realigns the reply stream after a timeout. It asks for an operation
// complete marker and discards every line up to it, so late replies to
// earlier queries are never taken as answers to new ones.
func (s *Session) resync() error {
	if !s.stale {
		return nil
	}
	if err := s.conn.Send(CmdSync); err != nil {
		return fmt.Errorf("resync: %w", err)
	}
	timeouts, discarded := 0, 0
	for discarded < resyncMaxLines {
		line, err := s.conn.ReadLine()
		switch {
		case errors.Is(err, ErrTimeout) && s.conn.interrupted.Load():
			return fmt.Errorf("resync: %w", err)
		case errors.Is(err, ErrTimeout):
			timeouts++
			if timeouts >= resyncTimeouts {
				return fmt.Errorf("%w: no reply to %s", ErrDesync, CmdSync)
			}
			continue
		case err != nil:
			return fmt.Errorf("resync: %w", err)
		}
		if strings.TrimSpace(line) == "1" {
			s.stale = false
			return nil
		}
		discarded++
	}
	return fmt.Errorf("%w: %d stray replies", ErrDesync, discarded)
}

// Close releases the socket. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed = true
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// watch interrupts blocked socket I/O when ctx is cancelled. The returned
// func detaches the watcher.
func (s *Session) watch(ctx context.Context) func() {
	stop := context.AfterFunc(ctx, s.conn.Interrupt)
	return func() { stop() }
}
