package generate

import (
	"context"
	"fmt"
	"log"

	"creative-matrix/internal/matrix"
	"creative-matrix/internal/models"
	"creative-matrix/internal/render"
	"creative-matrix/internal/telemetry"
)

// RenderQueue hands render requests to the dispatcher process.
type RenderQueue interface {
	Enqueue(ctx context.Context, req render.Request) error
}

// History mirrors lifecycle changes into durable storage. All calls are
// best-effort; persistence failures never block a transition.
type History interface {
	SaveLifecycle(ctx context.Context, id, status string, progress float64, previewURL, failReason string) error
	AppendEvent(ctx context.Context, id, event, detail string) error
}

// Coordinator orchestrates generate requests against the render backend and
// maps its asynchronous callbacks onto combination state transitions. The
// collection's generating state is the per-id writer lock; the coordinator
// never retries on its own, regeneration is always user-initiated.
type Coordinator struct {
	col                 *matrix.Collection
	queue               RenderQueue
	history             History
	callbackBase        string
	regenerateCompleted bool
}

// New wires a coordinator. history may be nil when running without Postgres.
func New(col *matrix.Collection, queue RenderQueue, history History, callbackBase string, regenerateCompleted bool) *Coordinator {
	return &Coordinator{
		col:                 col,
		queue:               queue,
		history:             history,
		callbackBase:        callbackBase,
		regenerateCompleted: regenerateCompleted,
	}
}

// Outcome is the per-combination result of a batch generate call.
type Outcome struct {
	CombinationID string `json:"combination_id"`
	Dispatched    bool   `json:"dispatched"`
	Skipped       string `json:"skipped,omitempty"`
	Error         string `json:"error,omitempty"`
}

// GenerateOne moves a combination into generating and queues a render
// request. Legal from pending, failed, and completed (re-render); returns
// ConflictError while an attempt is already in flight.
func (g *Coordinator) GenerateOne(ctx context.Context, id string) error {
	combo, err := g.col.BeginGeneration(id)
	if err != nil {
		return err
	}

	req := render.Request{
		CombinationID: combo.ID,
		Assets:        combo.Assets,
		CallbackURL:   fmt.Sprintf("%s/callbacks/render/%s", g.callbackBase, combo.ID),
	}
	if err := g.queue.Enqueue(ctx, req); err != nil {
		// The attempt never reached the dispatch queue; release the writer
		// lock so the user can retry.
		_, _ = g.col.FailGeneration(id, "dispatch failed: "+err.Error())
		g.persist(ctx, id)
		return fmt.Errorf("queue render request: %w", err)
	}

	telemetry.RendersStarted.Inc()
	telemetry.InFlightGauge.Inc()
	g.persist(ctx, id)
	g.event(ctx, id, "generation_started", "render request queued")
	return nil
}

// GenerateAll fires GenerateOne for every eligible combination. It is not
// atomic: each item is dispatched independently and one failure never blocks
// or rolls back the others. Combinations already generating are reported as
// skipped; completed ones are skipped unless re-rendering is enabled.
func (g *Coordinator) GenerateAll(ctx context.Context) []Outcome {
	snapshot := g.col.Snapshot()
	outcomes := make([]Outcome, 0, len(snapshot))
	for _, combo := range snapshot {
		out := Outcome{CombinationID: combo.ID}
		switch {
		case combo.Status == models.StatusGenerating:
			out.Skipped = "already generating"
		case combo.Status == models.StatusCompleted && !g.regenerateCompleted:
			out.Skipped = "already completed"
		default:
			if err := g.GenerateOne(ctx, combo.ID); err != nil {
				out.Error = err.Error()
			} else {
				out.Dispatched = true
			}
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// HandleProgress applies a render progress callback. Stale and duplicate
// deliveries are ignored, not errored; the backend delivers at-least-once.
func (g *Coordinator) HandleProgress(ctx context.Context, id string, pct float64) error {
	applied, err := g.col.RecordProgress(id, pct)
	if err != nil {
		return err
	}
	if !applied {
		telemetry.StaleCallbacks.Inc()
		return nil
	}
	g.persist(ctx, id)
	return nil
}

// HandleComplete applies a render completion callback. Duplicate delivery
// against a non-generating combination is a warned no-op.
func (g *Coordinator) HandleComplete(ctx context.Context, id, previewURL string) error {
	applied, err := g.col.CompleteGeneration(id, previewURL)
	if err != nil {
		return err
	}
	if !applied {
		log.Printf("ignoring completion for %s: not generating", id)
		telemetry.StaleCallbacks.Inc()
		return nil
	}
	telemetry.RendersCompleted.Inc()
	telemetry.InFlightGauge.Dec()
	g.persist(ctx, id)
	g.event(ctx, id, "generation_completed", previewURL)
	return nil
}

// HandleFail applies a render failure callback.
func (g *Coordinator) HandleFail(ctx context.Context, id, reason string) error {
	applied, err := g.col.FailGeneration(id, reason)
	if err != nil {
		return err
	}
	if !applied {
		log.Printf("ignoring failure for %s: not generating", id)
		telemetry.StaleCallbacks.Inc()
		return nil
	}
	telemetry.RendersFailed.Inc()
	telemetry.InFlightGauge.Dec()
	g.persist(ctx, id)
	g.event(ctx, id, "generation_failed", reason)
	return nil
}

// ForceTimeout pushes a combination whose render never called back from
// generating to failed, on an external timeout signal.
func (g *Coordinator) ForceTimeout(ctx context.Context, id string) error {
	return g.HandleFail(ctx, id, "render timed out")
}

func (g *Coordinator) persist(ctx context.Context, id string) {
	if g.history == nil {
		return
	}
	combo, err := g.col.Get(id)
	if err != nil {
		return
	}
	if err := g.history.SaveLifecycle(ctx, id, combo.Status, combo.Progress, combo.PreviewURL, combo.FailReason); err != nil {
		log.Printf("persist lifecycle for %s: %v", id, err)
	}
}

func (g *Coordinator) event(ctx context.Context, id, event, detail string) {
	if g.history == nil {
		return
	}
	if err := g.history.AppendEvent(ctx, id, event, detail); err != nil {
		log.Printf("append event for %s: %v", id, err)
	}
}
