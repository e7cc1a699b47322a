package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pingsantohq/ag53230a/internal/config"
	"github.com/pingsantohq/ag53230a/internal/datafile"
	"github.com/pingsantohq/ag53230a/internal/display"
	"github.com/pingsantohq/ag53230a/internal/health"
	"github.com/pingsantohq/ag53230a/internal/instrument"
	"github.com/pingsantohq/ag53230a/internal/logging"
	"github.com/pingsantohq/ag53230a/internal/metrics"
	"github.com/pingsantohq/ag53230a/internal/runtime"
	"github.com/pingsantohq/ag53230a/internal/sink"
	"github.com/pingsantohq/ag53230a/internal/status"
)

func main() {
	ctx := context.Background()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = run(ctx, os.Args[2:])
	case "check":
		err = check(ctx, os.Args[2:])
	case "config":
		err = writeConfig(os.Args[2:])
	case "-h", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "command %s failed: %v\n", cmd, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("AG53230A continuous frequency acquisition")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  ag53230a run [-o prefix] [-c AC|DC] [-i 50|1M] [-t gate_s] [-ip addr] [-p port] [-ch 1|2|3]")
	fmt.Println("               [-dir outdir] [-y] [-syserr] [-metrics addr] [-config file]")
	fmt.Println("  ag53230a check [-ip addr] [-p port] [-config file]")
	fmt.Println("  ag53230a config [-path /etc/ag53230a/ag53230a.yaml]")
}

// console is the operator's terminal.
type console struct {
	in     io.Reader
	out    io.Writer
	err    io.Writer
	logger *log.Logger
}

func run(ctx context.Context, args []string) error {
	return runAcquisition(ctx, args, console{
		in:     os.Stdin,
		out:    os.Stdout,
		err:    os.Stderr,
		logger: logging.New(),
	})
}

func runAcquisition(ctx context.Context, args []string, con console) error {
	cfg, err := parseRunFlags(args, con.err)
	if err != nil {
		return err
	}

	logger := con.logger
	in := cfg.Instrument

	sess, err := dial(ctx, in, con.out)
	if err != nil {
		return err
	}
	defer sess.Close()

	file, err := datafile.Create(cfg.Output.Dir, cfg.Output.Prefix, time.Now())
	if err != nil {
		return err
	}
	defer file.Close()

	runErr := acquire(ctx, cfg, sess, file, con.out, logger)

	sess.Close()
	display.Banner(con.out, "Disconnected")
	if err := file.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("close data file: %w", err)
	}

	if err := finishDataFile(file, cfg.Output.KeepFile, con.in, con.out); err != nil && runErr == nil {
		runErr = err
	}
	fmt.Fprintln(con.out, "program ending")
	return runErr
}

func dial(ctx context.Context, in config.InstrumentConfig, out io.Writer) (*instrument.Session, error) {
	sess, err := instrument.Dial(ctx, in.Address, in.Port, in.DialTimeout)
	if err != nil {
		var ce *instrument.ConnectError
		if errors.As(err, &ce) {
			fmt.Fprintln(out, ce.Hint())
		}
		display.Banner(out, "Not connected")
		return nil, err
	}
	display.Banner(out, fmt.Sprintf("Connected to %s", sess.RemoteAddr()))
	return sess, nil
}

// acquire configures the counter and polls it until interrupted or until the
// connection is lost. Live samples are shown on out.
func acquire(ctx context.Context, cfg config.Config, sess *instrument.Session, file *datafile.Writer, out io.Writer, logger *log.Logger) error {
	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	in := cfg.Instrument
	settings := instrument.Settings{
		Channel:   in.Channel,
		Coupling:  in.Coupling,
		Impedance: in.Impedance,
		GateTime:  in.GateTime,
	}
	if err := sess.Configure(runCtx, settings); err != nil {
		if runCtx.Err() != nil {
			return nil
		}
		return fmt.Errorf("configure counter: %w", err)
	}
	if in.CheckErrors {
		msg, err := sess.CheckError(runCtx)
		if err != nil {
			return err
		}
		if msg != "" {
			logger.Printf("counter error queue: %s", msg)
		}
	}

	metricsStore := metrics.NewStore()
	gate := in.GateDuration()
	checker := health.NewChecker(metricsStore, cfg.Queue.MemItemsCap, health.StaleAfterForGate(gate))
	checker.ObserveConfigured(sess.Configured())

	sinks, err := sink.Open(runCtx, cfg.Sinks, metricsStore.SinkRecorder(), logger)
	if err != nil {
		return err
	}
	defer sinks.Close()

	opts := []runtime.Option{
		runtime.WithLogger(logger),
		runtime.WithMetricsStore(metricsStore),
		runtime.WithChecker(checker),
		runtime.WithQueueCapacity(cfg.Queue.MemItemsCap),
		runtime.WithEmitters(file, display.NewStatus(out)),
	}
	if sinks.Len() > 0 {
		opts = append(opts, runtime.WithSink(sinks))
	}
	rt := runtime.New(sess, gate, opts...)
	logger.Printf("run %s writing %s (gate=%gs, channel=%s, %s, %s)",
		rt.Loop().RunID(), file.Path(), in.GateTime, in.Channel, in.Coupling, in.Impedance)

	grp, groupCtx := errgroup.WithContext(runCtx)
	monitorCtx, stopMonitor := context.WithCancel(groupCtx)
	defer stopMonitor()

	grp.Go(func() error {
		defer stopMonitor()
		return rt.Run(groupCtx)
	})

	if addr := cfg.Monitoring.Addr; addr != "" {
		srv := status.New(status.Config{Addr: addr}, status.Dependencies{
			Logger:  logger,
			Metrics: metricsStore,
			Checker: checker,
			RunID:   rt.Loop().RunID(),
		})
		grp.Go(func() error {
			if err := srv.Serve(monitorCtx); err != nil {
				logger.Printf("monitoring disabled: %v", err)
			}
			return nil
		})
	}

	err = grp.Wait()
	logger.Printf("run %s stopped after %d samples (%d recoverable failures)",
		rt.Loop().RunID(), rt.Loop().Samples(), rt.Loop().Failures())
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// finishDataFile keeps or removes the data file after the run.
func finishDataFile(file *datafile.Writer, keep bool, in io.Reader, out io.Writer) error {
	if !keep {
		var err error
		keep, err = display.AskKeep(in, out, file.Path())
		if err != nil {
			return fmt.Errorf("keep prompt: %w", err)
		}
	}
	if keep {
		fmt.Fprintf(out, "%s saved (%d samples)\n", file.Path(), file.Lines())
		return nil
	}
	if err := file.Remove(); err != nil {
		return fmt.Errorf("remove data file: %w", err)
	}
	fmt.Fprintf(out, "%s removed\n", file.Path())
	return nil
}

func check(ctx context.Context, args []string) error {
	cfg, err := parseCheckFlags(args, os.Stderr)
	if err != nil {
		return err
	}
	sess, err := dial(ctx, cfg.Instrument, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		sess.Close()
		display.Banner(os.Stdout, "Disconnected")
	}()

	idn, err := sess.Identify(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("identity: %s\n", idn)

	msg, err := sess.CheckError(ctx)
	if err != nil {
		return err
	}
	if msg == "" {
		msg = "no reply (no error)"
	}
	fmt.Printf("error queue: %s\n", msg)
	return nil
}

func writeConfig(args []string) error {
	path, err := parseConfigFlags(args, os.Stderr)
	if err != nil {
		return err
	}
	if err := config.WriteDefault(path); err != nil {
		return err
	}
	fmt.Printf("default configuration written to %s\n", path)
	return nil
}
