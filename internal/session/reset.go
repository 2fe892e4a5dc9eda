// Package session coordinates the single reset path shared by every
// surface: local teardown first, then a best-effort re-prime of the
// remote analysis service so the next session does not stall on a
// cold or idled-out server.
package session

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/emolens/emolens/internal/analysis"
	"github.com/emolens/emolens/internal/model"
)

const defaultRemoteTimeout = 10 * time.Second

// Resettable is the local side of a reset. flow.Controller satisfies it.
type Resettable interface {
	Reset()
}

// RemoteService is the maintenance surface of the analysis backend.
type RemoteService interface {
	Ping(ctx context.Context) error
	ClearCache(ctx context.Context) (int, error)
	ServiceHealth(ctx context.Context) (analysis.Health, error)
}

// Report describes what a reset accomplished. Local teardown always
// happens; the remote fields are best-effort.
type Report struct {
	ServerReachable bool
	CacheCleared    int
	Health          *analysis.Health
	Code            string
}

// Ready reports whether the remote side answered and claims to be healthy.
func (r Report) Ready() bool {
	return r.ServerReachable && r.Health != nil && r.Health.Healthy()
}

// Coordinator owns the reset sequence. Auxiliary handles registered via
// Attach (the gaze client, for one) are closed on every reset.
type Coordinator struct {
	flow    Resettable
	svc     RemoteService
	timeout time.Duration
	closers []io.Closer
}

func NewCoordinator(flow Resettable, svc RemoteService) *Coordinator {
	return &Coordinator{flow: flow, svc: svc, timeout: defaultRemoteTimeout}
}

func (c *Coordinator) WithTimeout(d time.Duration) *Coordinator {
	if d > 0 {
		c.timeout = d
	}
	return c
}

// Attach registers a handle to close on every reset. Not safe to call
// concurrently with Reset.
func (c *Coordinator) Attach(closer io.Closer) {
	if closer != nil {
		c.closers = append(c.closers, closer)
	}
}

// Reset tears the local session down, closes attached handles, and
// re-primes the remote service. Remote failures never undo the local
// reset; they are reported and logged only.
func (c *Coordinator) Reset(ctx context.Context) Report {
	if c.flow != nil {
		c.flow.Reset()
	}
	for _, closer := range c.closers {
		if err := closer.Close(); err != nil {
			slog.Warn("reset close failed", "error", err)
		}
	}
	c.closers = nil

	var report Report
	if c.svc == nil {
		return report
	}
	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.svc.Ping(rctx); err != nil {
		slog.Warn("analysis service unreachable after reset", "error", err)
		report.Code = model.ErrTargetUnreachable
		return report
	}
	report.ServerReachable = true

	cleared, err := c.svc.ClearCache(rctx)
	if err != nil {
		slog.Warn("cache clear failed", "error", err)
	} else {
		report.CacheCleared = cleared
	}

	health, err := c.svc.ServiceHealth(rctx)
	if err != nil {
		slog.Warn("health check failed", "error", err)
		return report
	}
	report.Health = &health
	if !health.Healthy() {
		slog.Warn("analysis service degraded after reset", "status", health.Status)
	}
	return report
}
