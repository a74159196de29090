package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/topi314/tint"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mrajeshsfdc/sfdoc/internal/ports"
)

const instrumentationName = "github.com/mrajeshsfdc/sfdoc/internal/infrastructure/worker"

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("worker pool closed")

// Handler executes one unit of work.
type Handler interface {
	Handle(ctx context.Context, unit ports.Unit) error
}

var _ ports.JobQueue = (*Pool)(nil)

// Pool is an in-process job queue drained by a fixed number of workers.
// The backlog is unbounded so handlers can enqueue follow-up units without
// blocking on their own workers.
type Pool struct {
	workers int
	logger  *slog.Logger
	tracer  trace.Tracer
	handled metric.Int64Counter

	handler Handler

	mu      sync.Mutex
	pending []ports.Unit
	active  int
	closed  bool
	timers  map[*time.Timer]struct{}
	notify  chan struct{}
}

// New returns a pool with the given number of workers (at least one).
func New(workers int, logger *slog.Logger) (*Pool, error) {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	handled, err := otel.Meter(instrumentationName).Int64Counter("sfdoc.units.handled",
		metric.WithDescription("Units of work handled, by kind and result"),
	)
	if err != nil {
		return nil, fmt.Errorf("create handled counter: %w", err)
	}

	return &Pool{
		workers: workers,
		logger:  logger.With("component", "worker"),
		tracer:  otel.Tracer(instrumentationName),
		handled: handled,
		timers:  map[*time.Timer]struct{}{},
		notify:  make(chan struct{}, 1),
	}, nil
}

// SetHandler sets the handler units are dispatched to. It must be called
// before Run; the handler usually depends on the pool itself.
func (p *Pool) SetHandler(h Handler) {
	p.handler = h
}

func (p *Pool) Enqueue(ctx context.Context, unit ports.Unit) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.pending = append(p.pending, unit)
	p.mu.Unlock()

	p.logger.DebugContext(ctx, "enqueued unit", unitAttrs(unit)...)
	p.wake()
	return nil
}

func (p *Pool) ScheduleAfter(d time.Duration, unit ports.Unit) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		p.mu.Lock()
		delete(p.timers, timer)
		p.mu.Unlock()
		if err := p.Enqueue(context.Background(), unit); err != nil && !errors.Is(err, ErrClosed) {
			p.logger.Error("failed to enqueue scheduled unit", tint.Err(err))
		}
	})
	p.timers[timer] = struct{}{}
}

// Pending reports the number of queued units not yet picked up.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Close rejects further units and cancels scheduled ones.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for timer := range p.timers {
		timer.Stop()
	}
	clear(p.timers)
	p.wakeLocked()
}

// Run works units until ctx is cancelled or the pool is closed and drained.
func (p *Pool) Run(ctx context.Context) error {
	return p.run(ctx, false)
}

// RunUntilIdle works units until nothing is queued or running. Scheduled
// units that have not fired yet are not waited for.
func (p *Pool) RunUntilIdle(ctx context.Context) error {
	return p.run(ctx, true)
}

func (p *Pool) run(ctx context.Context, untilIdle bool) error {
	if p.handler == nil {
		return errors.New("worker pool has no handler")
	}

	g, gctx := errgroup.WithContext(ctx)
	for range p.workers {
		g.Go(func() error {
			for {
				unit, ok := p.next(gctx, untilIdle)
				if !ok {
					return nil
				}
				p.handle(gctx, unit)
				p.done()
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if untilIdle {
		return nil
	}
	return ctx.Err()
}

// next blocks until a unit is available. It returns false when ctx is done,
// the pool is closed and empty, or untilIdle is set and nothing is running.
func (p *Pool) next(ctx context.Context, untilIdle bool) (ports.Unit, bool) {
	for {
		p.mu.Lock()
		if len(p.pending) > 0 {
			unit := p.pending[0]
			p.pending = p.pending[1:]
			p.active++
			more := len(p.pending) > 0
			p.mu.Unlock()
			if more {
				p.wake()
			}
			return unit, true
		}
		if p.closed || (untilIdle && p.active == 0) {
			p.mu.Unlock()
			// let the other workers observe the same state
			p.wake()
			return ports.Unit{}, false
		}
		p.mu.Unlock()

		select {
		case <-p.notify:
		case <-ctx.Done():
			return ports.Unit{}, false
		}
	}
}

func (p *Pool) done() {
	p.mu.Lock()
	p.active--
	p.mu.Unlock()
	p.wake()
}

func (p *Pool) wake() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wakeLocked()
}

func (p *Pool) wakeLocked() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *Pool) handle(ctx context.Context, unit ports.Unit) {
	ctx, span := p.tracer.Start(ctx, "unit "+string(unit.Kind), trace.WithAttributes(
		attribute.String("unit.kind", string(unit.Kind)),
		attribute.Int64("bundle.id", unit.BundleID),
		attribute.Int64("webhook.id", unit.WebhookID),
	))
	defer span.End()

	start := time.Now()
	err := p.safeHandle(ctx, unit)

	result := "ok"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.ErrorContext(ctx, "unit failed", append(unitAttrs(unit), tint.Err(err))...)
	} else {
		p.logger.DebugContext(ctx, "unit done", append(unitAttrs(unit), slog.Duration("took", time.Since(start)))...)
	}
	p.handled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(unit.Kind)),
		attribute.String("result", result),
	))
}

func (p *Pool) safeHandle(ctx context.Context, unit ports.Unit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.handler.Handle(ctx, unit)
}

func unitAttrs(unit ports.Unit) []any {
	attrs := []any{slog.String("kind", string(unit.Kind))}
	if unit.BundleID != 0 {
		attrs = append(attrs, slog.Int64("bundle_id", unit.BundleID))
	}
	if unit.WebhookID != 0 {
		attrs = append(attrs, slog.Int64("webhook_id", unit.WebhookID))
	}
	return attrs
}
