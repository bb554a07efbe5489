// Package autopilot drives the end-to-end run state machine. The heavy
// lifting (generation, QC, publishing) happens in an external worker; this
// package creates runs, binds items, nudges the worker, and observes
// status transitions.
package autopilot

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/thriftstack/listing-cli/internal/model"
	"github.com/thriftstack/listing-cli/internal/store"
	"github.com/thriftstack/listing-cli/pkg/dispatch"
)

// DefaultPollInterval is how often Poll re-reads the run record.
const DefaultPollInterval = 5 * time.Second

// StopReason is recorded on the run when a user stops it.
const StopReason = "stopped by user"

// Config holds the runner knobs.
type Config struct {
	PollInterval time.Duration
}

// Runner manages autopilot runs.
type Runner struct {
	store    store.Store
	notifier dispatch.Notifier
	poll     time.Duration
}

func NewRunner(st store.Store, notifier dispatch.Notifier, cfg Config) *Runner {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Runner{store: st, notifier: notifier, poll: poll}
}

// Start creates a run over the selected items, or resumes the existing
// running run if one exists (idempotent). Items are bound to the run in
// draft QC state and the worker is nudged fire-and-forget; a dispatch
// failure is logged, never surfaced as a start failure.
func (r *Runner) Start(ctx context.Context, selection []string) (*model.AutopilotRun, error) {
	if active, err := r.store.GetActiveRun(ctx); err != nil {
		return nil, eris.Wrap(err, "autopilot: check active run")
	} else if active != nil {
		zap.L().Info("autopilot: resuming existing run",
			zap.String("run", active.ID),
			zap.Int("processed", active.ProcessedCards),
			zap.Int("total", active.TotalCards),
		)
		return active, nil
	}

	items, err := r.eligibleItems(ctx, selection)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, eris.New("autopilot: no eligible items to run")
	}

	run, err := r.store.CreateRun(ctx, len(items))
	if err != nil {
		return nil, eris.Wrap(err, "autopilot: create run")
	}

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	if err := r.store.BindItemsToRun(ctx, run.ID, ids); err != nil {
		return nil, eris.Wrapf(err, "autopilot: bind items to run %s", run.ID)
	}

	go func() {
		dctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := r.notifier.Advance(dctx, run.ID); err != nil {
			zap.L().Warn("autopilot: worker dispatch failed, run stays pending",
				zap.String("run", run.ID),
				zap.Error(err),
			)
		}
	}()

	zap.L().Info("autopilot: run started",
		zap.String("run", run.ID),
		zap.Int("total", run.TotalCards),
	)
	return run, nil
}

func (r *Runner) eligibleItems(ctx context.Context, selection []string) ([]model.WorkItem, error) {
	filter := store.ItemFilter{}
	if len(selection) > 0 {
		filter.IDs = selection
	} else {
		filter.Status = model.ItemStatusNew
	}
	items, err := r.store.ListItems(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "autopilot: list eligible items")
	}
	return items, nil
}

// Poll watches the run until it leaves the running state and returns the
// final observed run. An awaiting-QC transition is called out since that
// is the point where a human takes over.
func (r *Runner) Poll(ctx context.Context, runID string) (*model.AutopilotRun, error) {
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		run, err := r.store.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.Status != model.RunStatusRunning {
			if run.Status == model.RunStatusAwaitingQC {
				zap.L().Info("autopilot: run awaiting QC review",
					zap.String("run", run.ID),
					zap.Int("processed", run.ProcessedCards),
				)
			}
			return run, nil
		}

		select {
		case <-ctx.Done():
			return run, eris.Wrap(ctx.Err(), "autopilot: poll canceled")
		case <-ticker.C:
		}
	}
}

// Stop marks the run failed with the user-stop reason and reverts every
// item still generating back to draft. This is a compensating write, not
// a cancellation of in-flight worker calls.
func (r *Runner) Stop(ctx context.Context, runID string) error {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if !run.Status.CanTransition(model.RunStatusFailed) {
		return eris.Errorf("autopilot: run %s is already %s", runID, run.Status)
	}

	if err := r.store.UpdateRunStatus(ctx, runID, model.RunStatusFailed, StopReason); err != nil {
		return err
	}

	stuck, err := r.store.ListItems(ctx, store.ItemFilter{
		RunID:    runID,
		QCStatus: model.QCStatusGenerating,
	})
	if err != nil {
		return eris.Wrapf(err, "autopilot: list generating items for run %s", runID)
	}
	if len(stuck) > 0 {
		ids := make([]string, len(stuck))
		for i, item := range stuck {
			ids[i] = item.ID
		}
		n, err := r.store.SetQCStatus(ctx, ids, model.QCStatusDraft, true)
		if err != nil {
			return eris.Wrapf(err, "autopilot: revert generating items for run %s", runID)
		}
		zap.L().Info("autopilot: reverted mid-flight items to draft",
			zap.String("run", runID),
			zap.Int("reverted", n),
		)
	}
	return nil
}

// Approve marks exactly the given items approved. The run record is not
// touched; the worker advances it when it observes the QC state.
func (r *Runner) Approve(ctx context.Context, ids []string) (int, error) {
	n, err := r.store.SetQCStatus(ctx, ids, model.QCStatusApproved, false)
	return n, eris.Wrap(err, "autopilot: approve items")
}

// SendToDraft returns items to draft, clearing confidence and flags.
func (r *Runner) SendToDraft(ctx context.Context, ids []string) (int, error) {
	n, err := r.store.SetQCStatus(ctx, ids, model.QCStatusDraft, true)
	return n, eris.Wrap(err, "autopilot: send items to draft")
}
