// Package reconcile re-drives failed stage pushes. The state machine never
// blocks a commit on the system of record, so a sync outage leaves audit
// events with synced=false; a cron job replays them oldest-first until the
// ATS catches up.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"zodiac/pipeline-service/internal/metrics"
	"zodiac/pipeline-service/internal/pipeline"
)

// DefaultBatchSize bounds one reconciliation pass.
const DefaultBatchSize = 100

// Reconciler replays unsynced audit events to the system of record.
type Reconciler struct {
	store   pipeline.Store
	sync    pipeline.StageSyncer
	metrics *metrics.Collector
	logger  *slog.Logger

	cron *cron.Cron
	spec string
}

// New returns a Reconciler firing on the given cron spec (e.g. "@every 5m").
func New(store pipeline.Store, sync pipeline.StageSyncer, m *metrics.Collector, logger *slog.Logger, spec string) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:   store,
		sync:    sync,
		metrics: m,
		logger:  logger,
		cron:    cron.New(),
		spec:    spec,
	}
}

// Start registers the cron job and starts the scheduler.
func (r *Reconciler) Start(ctx context.Context) error {
	_, err := r.cron.AddFunc(r.spec, func() {
		if err := r.Run(ctx); err != nil {
			r.logger.Error("reconciliation pass failed", "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}
	r.cron.Start()
	r.logger.Info("reconciler started", "spec", r.spec)
	return nil
}

// Stop shuts the scheduler down.
func (r *Reconciler) Stop() {
	r.cron.Stop()
}

// Run executes one reconciliation pass: replay up to DefaultBatchSize
// unsynced events in commit order. Events are pushed individually so the ATS
// sees the same sequence the ledger recorded; at-least-once is acceptable,
// the stage converges to the newest event.
func (r *Reconciler) Run(ctx context.Context) error {
	events, err := r.store.ListUnsyncedEvents(ctx, DefaultBatchSize)
	if err != nil {
		return fmt.Errorf("list unsynced events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}
	r.logger.Info("reconciling unsynced events", "count", len(events))

	var failed int
	for _, ev := range events {
		if err := r.replay(ctx, ev); err != nil {
			failed++
			r.logger.Warn("replay failed",
				"eventId", ev.ID, "jobId", ev.JobID, "candidateId", ev.CandidateID, "err", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d/%d events still unsynced", failed, len(events))
	}
	return nil
}

func (r *Reconciler) replay(ctx context.Context, ev pipeline.Event) error {
	rec, err := r.store.Get(ctx, ev.JobID, ev.CandidateID)
	if err != nil {
		return err
	}
	// Records that lost (or never had) external refs have nothing to push.
	if rec.LocalOnly() {
		return r.store.MarkEventSynced(ctx, ev.ID)
	}

	note := ev.Notes
	if note != "" {
		note = fmt.Sprintf("[%s] %s", ev.TriggeredBy, note)
	}
	if err := r.sync.PushStage(ctx, rec.ExternalJobRef, rec.ExternalCandidateRef, ev.ToState, note); err != nil {
		r.metrics.SyncFailure()
		return err
	}
	r.metrics.SyncReplayed()
	return r.store.MarkEventSynced(ctx, ev.ID)
}
