// Package run supervises a process's long-running servers and its ordered
// shutdown.
package run

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Service blocks until it stops. http.ErrServerClosed counts as a clean stop.
type Service func(ctx context.Context) error

type Runner struct {
	Logger          *zap.Logger
	ShutdownTimeout time.Duration
}

func New(log *zap.Logger) *Runner {
	return &Runner{Logger: log, ShutdownTimeout: 10 * time.Second}
}

// WithSignals runs every service until SIGINT/SIGTERM or until the first one
// returns, and reports the process exit code.
func (r *Runner) WithSignals(services ...Service) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return r.run(ctx, services...)
}

func (r *Runner) run(ctx context.Context, services ...Service) int {
	if len(services) == 0 {
		return 0
	}
	first := make(chan error, len(services))
	for _, svc := range services {
		go func() { first <- svc(ctx) }()
	}

	select {
	case <-ctx.Done():
		r.Logger.Info("shutdown signal received")
		return 0
	case err := <-first:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			r.Logger.Info("service stopped")
			return 0
		}
		r.Logger.Error("service exited with error", zap.Error(err))
		return 1
	}
}

// Graceful runs every shutdown step in order under one deadline. Failures are
// logged and do not stop later steps.
func (r *Runner) Graceful(steps ...func(context.Context) error) {
	c, cancel := context.WithTimeout(context.Background(), r.ShutdownTimeout)
	defer cancel()
	for i, step := range steps {
		if err := step(c); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.Logger.Warn("shutdown step failed", zap.Int("step", i), zap.Error(err))
		}
	}
}

func Exit(code int) {
	os.Exit(code)
}
