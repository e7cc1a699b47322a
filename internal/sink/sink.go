// Package sink delivers recorded samples to optional downstream stores. The
// data file stays the primary record; sinks only mirror it.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/pingsantohq/ag53230a/internal/config"
	"github.com/pingsantohq/ag53230a/internal/metrics"
	"github.com/pingsantohq/ag53230a/pkg/types"
)

// Named is a closable destination for sample batches.
type Named interface {
	Name() string
	Send(ctx context.Context, samples []types.Sample) error
	Close() error
}

// Multi fans a batch out to every configured sink. A batch is reported as
// failed when any sink fails so the transmitter requeues it; sinks must
// therefore tolerate seeing the same sample twice.
type Multi struct {
	sinks   []Named
	metrics metrics.SinkRecorder
}

func NewMulti(rec metrics.SinkRecorder, sinks ...Named) *Multi {
	if rec == nil {
		rec = metrics.NoopSinkRecorder{}
	}
	return &Multi{sinks: sinks, metrics: rec}
}

func (m *Multi) Len() int {
	return len(m.sinks)
}

func (m *Multi) Names() []string {
	names := make([]string, 0, len(m.sinks))
	for _, s := range m.sinks {
		names = append(names, s.Name())
	}
	return names
}

func (m *Multi) Send(ctx context.Context, samples []types.Sample) error {
	var errs []error
	for _, s := range m.sinks {
		err := s.Send(ctx, samples)
		m.metrics.ObserveSinkWrite(s.Name(), len(samples), err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Open connects every sink enabled in cfg. Sinks opened before a failure are
// closed again. An empty Multi is returned when no sink is configured.
func Open(ctx context.Context, cfg config.SinksConfig, rec metrics.SinkRecorder, logger *log.Logger) (*Multi, error) {
	var opened []Named
	fail := func(err error) (*Multi, error) {
		for _, s := range opened {
			_ = s.Close()
		}
		return nil, err
	}

	if cfg.Redis != nil {
		s, err := NewRedis(ctx, *cfg.Redis)
		if err != nil {
			return fail(fmt.Errorf("redis sink: %w", err))
		}
		opened = append(opened, s)
	}
	if cfg.Postgres != nil {
		s, err := NewPostgres(ctx, cfg.Postgres.DSN)
		if err != nil {
			return fail(fmt.Errorf("postgres sink: %w", err))
		}
		opened = append(opened, s)
	}
	if cfg.SQLite != nil {
		s, err := NewSQLite(ctx, cfg.SQLite.Path)
		if err != nil {
			return fail(fmt.Errorf("sqlite sink: %w", err))
		}
		opened = append(opened, s)
	}

	m := NewMulti(rec, opened...)
	if logger != nil && m.Len() > 0 {
		logger.Printf("sinks enabled: %v", m.Names())
	}
	return m, nil
}
