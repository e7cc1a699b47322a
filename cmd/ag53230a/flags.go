package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/pingsantohq/ag53230a/internal/config"
)

func baseConfig(path string) (config.Config, error) {
	cfg, err := config.LoadOptional(context.Background(), path)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// parseRunFlags builds the run configuration. Flags given on the command line
// win over the config file, which wins over the defaults.
func parseRunFlags(args []string, stderr io.Writer) (config.Config, error) {
	def := config.Default()
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to an optional YAML configuration file")
	prefix := fs.String("o", "", "Prefix for the output data file name")
	coupling := fs.String("c", def.Instrument.Coupling, "Input coupling: AC or DC")
	impedance := fs.String("i", def.Instrument.Impedance, "Input impedance: 50 or 1M")
	gate := fs.Float64("t", def.Instrument.GateTime, "Gate time in seconds")
	address := fs.String("ip", def.Instrument.Address, "Counter address")
	port := fs.Int("p", def.Instrument.Port, "Counter SCPI port")
	channel := fs.String("ch", def.Instrument.Channel, "Input channel: 1, 2 or 3")
	dir := fs.String("dir", def.Output.Dir, "Directory for the data file")
	keep := fs.Bool("y", false, "Keep the data file without prompting")
	sysErr := fs.Bool("syserr", false, "Read SYST:ERR? once after configuring")
	metricsAddr := fs.String("metrics", def.Monitoring.Addr, "Monitoring listen address (empty disables)")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}
	if fs.NArg() > 0 {
		return config.Config{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg, err := baseConfig(*configPath)
	if err != nil {
		return config.Config{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "o":
			cfg.Output.Prefix = *prefix
		case "c":
			cfg.Instrument.Coupling = *coupling
		case "i":
			cfg.Instrument.Impedance = *impedance
		case "t":
			cfg.Instrument.GateTime = *gate
		case "ip":
			cfg.Instrument.Address = *address
		case "p":
			cfg.Instrument.Port = *port
		case "ch":
			cfg.Instrument.Channel = *channel
		case "dir":
			cfg.Output.Dir = *dir
		case "y":
			cfg.Output.KeepFile = *keep
		case "syserr":
			cfg.Instrument.CheckErrors = *sysErr
		case "metrics":
			cfg.Monitoring.Addr = *metricsAddr
		}
	})

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func parseCheckFlags(args []string, stderr io.Writer) (config.Config, error) {
	def := config.Default()
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to an optional YAML configuration file")
	address := fs.String("ip", def.Instrument.Address, "Counter address")
	port := fs.Int("p", def.Instrument.Port, "Counter SCPI port")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}
	cfg, err := baseConfig(*configPath)
	if err != nil {
		return config.Config{}, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "ip":
			cfg.Instrument.Address = *address
		case "p":
			cfg.Instrument.Port = *port
		}
	})
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func parseConfigFlags(args []string, stderr io.Writer) (string, error) {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("path", config.DefaultConfigPath, "Where to write the default configuration")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	return *path, nil
}
