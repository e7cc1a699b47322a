package acquire

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pingsantohq/ag53230a/internal/instrument"
	"github.com/pingsantohq/ag53230a/pkg/types"
)

// lateCounter is a TCP counter that always holds one reading. Its first
// DATA:POIN? answer arrives after lag.
type lateCounter struct {
	ln  net.Listener
	lag time.Duration

	mu   sync.Mutex
	cmds []string
	done chan struct{}
}

func newLateCounter(t *testing.T, lag time.Duration) *lateCounter {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	c := &lateCounter{ln: ln, lag: lag, done: make(chan struct{})}
	go c.serve()
	t.Cleanup(func() {
		ln.Close()
		<-c.done
	})
	return c
}

func (c *lateCounter) serve() {
	defer close(c.done)
	conn, err := c.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	r := bufio.NewReader(conn)
	polls := 0
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimSuffix(line, "\n")
		c.mu.Lock()
		c.cmds = append(c.cmds, cmd)
		c.mu.Unlock()

		var resp string
		switch cmd {
		case instrument.CmdDataPoints:
			polls++
			if polls == 1 {
				time.Sleep(c.lag)
			}
			resp = "+1\n"
		case instrument.CmdRemoveSample:
			resp = "+1.000000E+07\n"
		case instrument.CmdSync:
			resp = "1\n"
		default:
			continue
		}
		if _, err := conn.Write([]byte(resp)); err != nil {
			return
		}
	}
}

func (c *lateCounter) commands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.cmds...)
}

func TestLoopRealignsAfterLateCountReply(t *testing.T) {
	counter := newLateCounter(t, 250*time.Millisecond)

	raw, err := net.Dial("tcp", counter.ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	sess := instrument.NewSession(raw, 100*time.Millisecond)
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sess.Configure(ctx, instrument.Settings{Channel: "1", Coupling: "AC", Impedance: "50", GateTime: 0.01}); err != nil {
		t.Fatalf("configure: %v", err)
	}

	var (
		mu      sync.Mutex
		samples []types.Sample
	)
	record := EmitterFunc(func(s types.Sample) error {
		mu.Lock()
		defer mu.Unlock()
		samples = append(samples, s)
		if len(samples) == 4 {
			cancel()
		}
		return nil
	})

	loop := New(sess, 10*time.Millisecond, WithEmitters(record))
	if err := loop.Run(ctx); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if ctx.Err() == context.DeadlineExceeded {
		t.Fatalf("loop never recovered, commands %q", counter.commands())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(samples) < 4 {
		t.Fatalf("expected 4 samples, got %d", len(samples))
	}
	for i, s := range samples {
		if s.Frequency != "1.000000e+07" || s.Hz != 1e7 {
			t.Fatalf("sample %d is not a frequency reading: %q (%g Hz)", i, s.Frequency, s.Hz)
		}
	}
	if got := loop.Failures(); got != 1 {
		t.Fatalf("expected only the timed out count to fail, got %d failures", got)
	}
}

func TestLoopStopsWhenRepliesCannotBeRealigned(t *testing.T) {
	counter := &scriptedCounter{
		configured: true,
		counts:     []reply{{resp: "+0\n"}, {err: instrument.ErrDesync}},
		exhausted:  func() {},
	}
	loop := New(counter, time.Second, WithSleep((&sleepRecorder{}).sleep))

	if err := loop.Run(context.Background()); !errors.Is(err, instrument.ErrDesync) {
		t.Fatalf("expected desync to end the run, got %v", err)
	}
}
