package instrument

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"syscall"
	"time"
)

// Conn wraps the counter's TCP socket with a buffered reader and per-operation
// deadlines. It is not safe for concurrent use except for Interrupt.
type Conn struct {
	raw     net.Conn
	reader  *bufio.Reader
	timeout time.Duration

	// bytes of a line cut short by a timeout, returned ahead of the rest
	pending  []byte
	overflow bool

	interrupted atomic.Bool
}

// NewConn wraps c. Every read and write is bounded by timeout; zero disables
// deadlines.
func NewConn(c net.Conn, timeout time.Duration) *Conn {
	return &Conn{
		raw:     c,
		reader:  bufio.NewReader(c),
		timeout: timeout,
	}
}

// Send writes cmd terminated by a newline.
func (c *Conn) Send(cmd string) error {
	if err := c.raw.SetWriteDeadline(c.deadline()); err != nil {
		return c.mapErr("set write deadline", err)
	}
	if _, err := io.WriteString(c.raw, cmd+"\n"); err != nil {
		return c.mapErr(fmt.Sprintf("send %q", cmd), err)
	}
	return nil
}

// ReadLine returns the next response including its trailing newline. A line
// interrupted by a timeout is kept and completed by the next read.
func (c *Conn) ReadLine() (string, error) {
	if err := c.raw.SetReadDeadline(c.deadline()); err != nil {
		return "", c.mapErr("set read deadline", err)
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		c.pending = append(c.pending, line...)
		return "", c.mapErr("read response", err)
	}
	if len(c.pending) > 0 {
		line = string(c.pending) + line
		c.pending = nil
	}
	c.overflow = false
	return line, nil
}

// ReadBounded is ReadLine with an upper bound on the response size, newline
// included. Oversized responses are consumed through their terminator so the
// stream stays aligned, then reported as ErrResponseTooLong.
func (c *Conn) ReadBounded(max int) (string, error) {
	if err := c.raw.SetReadDeadline(c.deadline()); err != nil {
		return "", c.mapErr("set read deadline", err)
	}
	buf, overflow := c.pending, c.overflow
	c.pending, c.overflow = nil, false
	if buf == nil {
		buf = make([]byte, 0, max)
	}
	for {
		b, err := c.reader.ReadByte()
		if err != nil {
			c.pending, c.overflow = buf, overflow
			return "", c.mapErr("read response", err)
		}
		if len(buf) < max {
			buf = append(buf, b)
		} else {
			overflow = true
		}
		if b == '\n' {
			break
		}
	}
	if overflow || len(buf) > max {
		return "", fmt.Errorf("%w: more than %d bytes", ErrResponseTooLong, max)
	}
	return string(buf), nil
}

// Interrupt expires all pending and future deadlines so a blocked read
// returns immediately. Safe to call from another goroutine.
func (c *Conn) Interrupt() {
	c.interrupted.Store(true)
	_ = c.raw.SetDeadline(time.Now())
}

func (c *Conn) Close() error {
	return c.raw.Close()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

func (c *Conn) deadline() time.Time {
	if c.interrupted.Load() {
		return time.Now()
	}
	if c.timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.timeout)
}

func (c *Conn) mapErr(op string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return fmt.Errorf("%s: %w", op, ErrClosed)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
