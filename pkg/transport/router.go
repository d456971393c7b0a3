package transport

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"router-fleet/pkg/model"
)

// RouterConfig tunes retry and concurrency behavior.
type RouterConfig struct {
	MaxRetries     int           // retries after the first attempt, transient kinds only
	InitialBackoff time.Duration // doubled per retry
	PerDeviceLimit int64         // max in-flight operations per device
}

// DefaultRouterConfig mirrors the deployment defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{MaxRetries: 2, InitialBackoff: 200 * time.Millisecond, PerDeviceLimit: 2}
}

// Router is the single entry point for device operations. It retries transient
// primary failures with backoff, falls back to the command channel for
// eligible reads, and enforces the per-device in-flight cap.
type Router struct {
	primary  Channel
	fallback Channel
	cfg      RouterConfig

	mu       sync.Mutex
	limiters map[string]*semaphore.Weighted
}

// NewRouter wires both channels behind one contract.
func NewRouter(primary, fallback Channel, cfg RouterConfig) *Router {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.PerDeviceLimit < 1 {
		cfg.PerDeviceLimit = 2
	}
	return &Router{
		primary:  primary,
		fallback: fallback,
		cfg:      cfg,
		limiters: map[string]*semaphore.Weighted{},
	}
}

func (r *Router) limiter(deviceID string) *semaphore.Weighted {
	r.mu.Lock()
	defer r.mu.Unlock()
	sem, ok := r.limiters[deviceID]
	if !ok {
		sem = semaphore.NewWeighted(r.cfg.PerDeviceLimit)
		r.limiters[deviceID] = sem
	}
	return sem
}

// Execute runs the operation against the device. Mutations are served by the
// primary channel only; that is an invariant, not a tunable.
func (r *Router) Execute(ctx context.Context, device model.Device, op Operation) (Result, error) {
	sem := r.limiter(device.ID)
	if err := sem.Acquire(ctx, 1); err != nil {
		return Result{}, newError(KindTimeout, "router", op.Name, err)
	}
	defer sem.Release(1)

	res, err := r.executePrimary(ctx, device, op)
	if err == nil {
		return res, nil
	}

	var terr *Error
	if !errors.As(err, &terr) {
		return Result{}, err
	}
	if op.Kind == OpMutate || r.fallback == nil || !fallbackEligible(terr.Kind) {
		return Result{}, err
	}

	log.Printf("router: device=%s op=%s primary failed kind=%s; trying fallback", device.ID, op.Name, terr.Kind)
	fres, ferr := r.fallback.Execute(ctx, device, op)
	if ferr != nil {
		// Both channels exhausted: the device is unreachable for this read.
		return Result{}, newError(KindUnreachable, "router", op.Name, errors.Join(err, ferr))
	}
	return fres, nil
}

// executePrimary retries transient kinds with bounded exponential backoff.
// Permanent kinds surface immediately.
func (r *Router) executePrimary(ctx context.Context, device model.Device, op Operation) (Result, error) {
	backoff := r.cfg.InitialBackoff
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Result{}, newError(KindTimeout, "router", op.Name, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		res, err := r.primary.Execute(ctx, device, op)
		if err == nil {
			return res, nil
		}
		lastErr = err
		var terr *Error
		if !errors.As(err, &terr) || !terr.Retryable {
			return Result{}, err
		}
		log.Printf("router: device=%s op=%s attempt=%d kind=%s retryable", device.ID, op.Name, attempt+1, terr.Kind)
	}
	return Result{}, lastErr
}
