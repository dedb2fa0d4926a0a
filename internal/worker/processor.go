package worker

import (
	"context"
	"log"
	"time"

	"creative-matrix/internal/config"
	"creative-matrix/internal/queue"
	"creative-matrix/internal/render"
	"creative-matrix/internal/telemetry"
)

// Processor drives the render dispatch loop: it leases queued render
// requests and submits them to the external render backend. The backend
// reports progress and completion straight to the API process, so the
// processor never touches combination state.
type Processor struct {
	cfg     config.Config
	queue   *queue.Dispatch
	backend render.Backend
}

// NewProcessor wires a dispatch processor.
func NewProcessor(cfg config.Config, q *queue.Dispatch, backend render.Backend) *Processor {
	return &Processor{cfg: cfg, queue: q, backend: backend}
}

// Run processes the dispatch queue until context cancellation. Submit
// failures leave the lease in place; the request is redelivered once the
// lease expires, which the coordinator's callback handling tolerates.
func (p *Processor) Run(ctx context.Context) error {
	poll := p.cfg.DispatchPollInterval
	if poll == 0 {
		poll = time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if reclaimed, _ := p.queue.RequeueExpired(ctx, time.Now(), 100); len(reclaimed) > 0 {
			log.Printf("reclaimed %d expired dispatch leases", len(reclaimed))
		}
		if depth, err := p.queue.Depth(ctx); err == nil {
			telemetry.DispatchDepth.Set(float64(depth))
		}

		req, ok, err := p.queue.DequeueWithLease(ctx)
		if err != nil {
			log.Printf("dequeue: %v", err)
			sleep(ctx, poll)
			continue
		}
		if !ok {
			sleep(ctx, poll)
			continue
		}

		if err := p.backend.Submit(ctx, req); err != nil {
			log.Printf("submit render for %s: %v", req.CombinationID, err)
			// No ack: the lease expires and the request is retried.
			continue
		}
		if err := p.queue.Ack(ctx, req.CombinationID); err != nil {
			log.Printf("ack %s: %v", req.CombinationID, err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
