package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pingsantohq/ag53230a/internal/instrument"
)

// idleCounter is a TCP counter whose memory never fills. It reports the first
// poll on polled and closes hungUp once the client has closed the socket.
type idleCounter struct {
	ln     net.Listener
	polled chan struct{}
	hungUp chan struct{}
}

func newIdleCounter(t *testing.T) *idleCounter {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	c := &idleCounter{ln: ln, polled: make(chan struct{}), hungUp: make(chan struct{})}
	go c.serve()
	t.Cleanup(func() { ln.Close() })
	return c
}

func (c *idleCounter) serve() {
	conn, err := c.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	defer close(c.hungUp)
	var once sync.Once
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		switch strings.TrimSuffix(line, "\n") {
		case instrument.CmdDataPoints:
			once.Do(func() { close(c.polled) })
			if _, err := conn.Write([]byte("+0\n")); err != nil {
				return
			}
		case instrument.CmdSync:
			if _, err := conn.Write([]byte("1\n")); err != nil {
				return
			}
		}
	}
}

func (c *idleCounter) port() string {
	return strconv.Itoa(c.ln.Addr().(*net.TCPAddr).Port)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConsole(answer string, out io.Writer) console {
	return console{
		in:     strings.NewReader(answer),
		out:    out,
		err:    io.Discard,
		logger: log.New(io.Discard, "", 0),
	}
}

func TestRunInterruptedDuringEmptyWait(t *testing.T) {
	t.Setenv("AG53230A_CONFIG", "")
	counter := newIdleCounter(t)
	dir := t.TempDir()
	out := &lockedBuffer{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		args := []string{"-ip", "127.0.0.1", "-p", counter.port(), "-dir", dir, "-t", "0.1", "-metrics", ""}
		errc <- runAcquisition(ctx, args, testConsole("n\n", out))
	}()

	select {
	case <-counter.polled:
	case err := <-errc:
		t.Fatalf("run ended before polling: %v (output %q)", err, out.String())
	case <-time.After(5 * time.Second):
		t.Fatalf("counter never polled")
	}
	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("interrupted run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop after interrupt")
	}
	select {
	case <-counter.hungUp:
	case <-time.After(2 * time.Second):
		t.Fatalf("socket left open after the run")
	}

	text := out.String()
	for _, want := range []string{"Connected to", "Disconnected", "keep this datafile", "removed", "program ending"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in output, got %q", want, text)
		}
	}
	if strings.Index(text, "Disconnected") > strings.Index(text, "keep this datafile") {
		t.Fatalf("prompt shown before disconnect: %q", text)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected the empty data file removed, found %d entries", len(entries))
	}
}

func TestRunKeepsDataFileOnYes(t *testing.T) {
	t.Setenv("AG53230A_CONFIG", "")
	counter := newIdleCounter(t)
	dir := t.TempDir()
	out := &lockedBuffer{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-counter.polled
		cancel()
	}()

	args := []string{"-ip", "127.0.0.1", "-p", counter.port(), "-dir", dir, "-o", "maser", "-t", "0.1", "-metrics", ""}
	if err := runAcquisition(ctx, args, testConsole("y\n", out)); err != nil {
		t.Fatalf("run: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || !strings.HasPrefix(entries[0].Name(), "maser-") {
		t.Fatalf("expected one kept data file, got %v", entries)
	}
	if !strings.Contains(out.String(), "saved (0 samples)") {
		t.Fatalf("expected saved message, got %q", out.String())
	}
}

func TestRunRefusedCreatesNoDataFile(t *testing.T) {
	t.Setenv("AG53230A_CONFIG", "")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)
	ln.Close()

	dir := t.TempDir()
	out := &lockedBuffer{}
	args := []string{"-ip", "127.0.0.1", "-p", port, "-dir", dir, "-metrics", ""}
	err = runAcquisition(context.Background(), args, testConsole("", out))

	var connErr *instrument.ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectError, got %v", err)
	}
	if !strings.Contains(out.String(), "Not connected") {
		t.Fatalf("expected not connected banner, got %q", out.String())
	}
	if strings.Contains(out.String(), "keep this datafile") {
		t.Fatalf("prompt shown without a data file: %q", out.String())
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no data file, found %v", entries)
	}
}
