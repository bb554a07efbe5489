// Package enrich implements the bulk generation core: eligibility
// filtering, chunked bounded-concurrency orchestration, field merge and
// sanitization, and failure tracking with retry.
package enrich

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/thriftstack/listing-cli/internal/locks"
	"github.com/thriftstack/listing-cli/internal/model"
	"github.com/thriftstack/listing-cli/internal/resilience"
	"github.com/thriftstack/listing-cli/internal/store"
	"github.com/thriftstack/listing-cli/internal/tagrules"
	"github.com/thriftstack/listing-cli/pkg/genai"
	"github.com/thriftstack/listing-cli/pkg/images"
	"github.com/thriftstack/listing-cli/pkg/pricing"
	"github.com/thriftstack/listing-cli/pkg/skugen"
)

// Failure reason labels recorded in the tracker.
const (
	ReasonNoImages = "noImages"
)

// allowedBatchSizes are the batch sizes callers may configure.
var allowedBatchSizes = map[int]bool{10: true, 20: true, 50: true}

// Config holds the orchestration knobs.
type Config struct {
	BatchSize        int           // items per call, one of 10/20/50
	ConcurrencyWidth int           // in-flight generation calls per chunk
	ChunkDelay       time.Duration // fixed pause between chunks
	RetryAttempts    int
	RetryDelay       time.Duration
}

func (c Config) withDefaults() Config {
	if !allowedBatchSizes[c.BatchSize] {
		c.BatchSize = 20
	}
	if c.ConcurrencyWidth <= 0 {
		c.ConcurrencyWidth = 3
	}
	if c.ChunkDelay <= 0 {
		c.ChunkDelay = 500 * time.Millisecond
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 2
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	return c
}

// SnapshotRecorder is the undo capture surface the orchestrator uses
// before mutating items.
type SnapshotRecorder interface {
	CaptureItem(item model.WorkItem)
	CaptureBulk(label string, items []model.WorkItem)
}

// BulkOptions selects what a GenerateBulk call processes. An explicit
// Selection forces regeneration of exactly those items; otherwise one
// batch of new items is processed per call.
type BulkOptions struct {
	Selection []string

	retry bool
}

// BulkResult summarizes one bulk generation call.
type BulkResult struct {
	AlreadyRunning bool
	SuccessCount   int
	ErrorCount     int
	SkippedCount   int
	// Remaining counts eligible items left unprocessed; the caller loops
	// until it reaches zero.
	Remaining    int
	ProcessedIDs []string
	Failures     []model.FailureRecord
	// Halted is set when a fatal provider error stopped scheduling.
	// Items never attempted are not marked failed.
	Halted     bool
	HaltReason string
}

// Orchestrator runs chunked bulk generation over work items.
type Orchestrator struct {
	store    store.Store
	images   images.Store
	client   genai.Client
	pricer   pricing.Policy
	skus     skugen.Generator
	rules    *tagrules.Rules
	guard    *locks.Guard
	tracker  *FailureTracker
	enriched *Membership
	snaps    SnapshotRecorder
	cfg      Config
}

func NewOrchestrator(
	st store.Store,
	imgs images.Store,
	client genai.Client,
	pricer pricing.Policy,
	skus skugen.Generator,
	rules *tagrules.Rules,
	guard *locks.Guard,
	tracker *FailureTracker,
	enriched *Membership,
	snaps SnapshotRecorder,
	cfg Config,
) *Orchestrator {
	if rules == nil {
		rules = tagrules.Empty()
	}
	return &Orchestrator{
		store:    st,
		images:   imgs,
		client:   client,
		pricer:   pricer,
		skus:     skus,
		rules:    rules,
		guard:    guard,
		tracker:  tracker,
		enriched: enriched,
		snaps:    snaps,
		cfg:      cfg.withDefaults(),
	}
}

// Guard exposes the lock structure for UI snapshots.
func (o *Orchestrator) Guard() *locks.Guard { return o.guard }

// Tracker exposes the failure tracker for reporting.
func (o *Orchestrator) Tracker() *FailureTracker { return o.tracker }

// GenerateBulk processes at most one batch of eligible items. A second
// call while one is running returns AlreadyRunning with zero processed
// items. A fatal provider error halts scheduling of remaining chunks.
func (o *Orchestrator) GenerateBulk(ctx context.Context, opts BulkOptions) (*BulkResult, error) {
	if !o.guard.TryAcquireBatch() {
		zap.L().Warn("enrich: bulk generation already in progress")
		return &BulkResult{AlreadyRunning: true}, nil
	}
	defer o.guard.ReleaseBatch()

	if !opts.retry {
		o.tracker.Reset()
	}

	candidates, err := o.loadCandidates(ctx, opts.Selection)
	if err != nil {
		return nil, err
	}

	elig := Filter(candidates, opts.Selection, o.guard, o.enriched)
	eligibleCount := len(elig.Items)

	chosen := elig.Items
	if len(chosen) > o.cfg.BatchSize {
		chosen = chosen[:o.cfg.BatchSize]
	}

	result := &BulkResult{}
	if len(chosen) == 0 {
		if elig.ExcludedEnriched > 0 {
			zap.L().Info("enrich: nothing to generate, all candidates already enriched",
				zap.Int("excluded", elig.ExcludedEnriched))
		}
		return result, nil
	}

	o.snaps.CaptureBulk("bulk generation", chosen)

	imagesByItem, chosen := o.prefilterImages(ctx, chosen, result)

	run := &bulkRun{orch: o, images: imagesByItem, result: result}
	for start := 0; start < len(chosen); start += o.cfg.ConcurrencyWidth {
		if run.halted() {
			break
		}
		if start > 0 {
			select {
			case <-ctx.Done():
				result.Remaining = eligibleCount - result.SuccessCount - result.ErrorCount
				return result, eris.Wrap(ctx.Err(), "enrich: bulk generation canceled")
			case <-time.After(o.cfg.ChunkDelay):
			}
		}

		end := start + o.cfg.ConcurrencyWidth
		if end > len(chosen) {
			end = len(chosen)
		}
		run.processChunk(ctx, chosen[start:end], start/o.cfg.ConcurrencyWidth+1)
	}

	// Skipped and never-attempted items stay in the remaining count so a
	// caller looping until zero picks them up.
	result.Remaining = eligibleCount - result.SuccessCount - result.ErrorCount
	result.Failures = o.tracker.Records()
	zap.L().Info("enrich: bulk generation finished",
		zap.Int("success", result.SuccessCount),
		zap.Int("errors", result.ErrorCount),
		zap.Int("skipped", result.SkippedCount),
		zap.Int("remaining", result.Remaining),
		zap.Bool("halted", result.Halted),
	)
	return result, nil
}

// RetryFailed re-runs exactly the tracked failed items through the same
// chunked algorithm. Success removes a record, renewed failure replaces it.
func (o *Orchestrator) RetryFailed(ctx context.Context) (*BulkResult, error) {
	ids := o.tracker.IDs()
	if len(ids) == 0 {
		return &BulkResult{}, nil
	}
	return o.GenerateBulk(ctx, BulkOptions{Selection: ids, retry: true})
}

func (o *Orchestrator) loadCandidates(ctx context.Context, selection []string) ([]model.WorkItem, error) {
	filter := store.ItemFilter{}
	if len(selection) > 0 {
		filter.IDs = selection
	} else {
		filter.Status = model.ItemStatusNew
	}
	items, err := o.store.ListItems(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: load candidates")
	}
	return items, nil
}

// prefilterImages fetches image sets for the whole batch concurrently and
// drops zero-image items as noImages failures before any provider call.
// A failed fetch is recorded under the fetch error, not as noImages.
func (o *Orchestrator) prefilterImages(ctx context.Context, items []model.WorkItem, result *BulkResult) (map[string][]images.Image, []model.WorkItem) {
	var mu sync.Mutex
	byItem := make(map[string][]images.Image, len(items))
	fetchErrs := make(map[string]error, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.ConcurrencyWidth)
	for _, item := range items {
		item := item
		g.Go(func() error {
			imgs, err := o.images.FetchImages(gctx, item.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				zap.L().Warn("enrich: image fetch failed",
					zap.String("item", item.ID),
					zap.Error(err),
				)
				fetchErrs[item.ID] = err
				return nil
			}
			byItem[item.ID] = imgs
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors

	var kept []model.WorkItem
	for _, item := range items {
		if err := fetchErrs[item.ID]; err != nil {
			o.tracker.Record(model.FailureRecord{
				ItemID: item.ID,
				Label:  item.Label(),
				Reason: eris.Cause(err).Error(),
			})
			result.ErrorCount++
			continue
		}
		urls := make([]string, 0, len(byItem[item.ID]))
		for _, img := range byItem[item.ID] {
			urls = append(urls, img.URL)
		}
		if len(genai.FilterImageURLs(urls)) == 0 {
			o.tracker.Record(model.FailureRecord{
				ItemID: item.ID,
				Label:  item.Label(),
				Reason: ReasonNoImages,
			})
			result.ErrorCount++
			continue
		}
		kept = append(kept, item)
	}
	return byItem, kept
}

// bulkRun carries the shared mutable state of one GenerateBulk call.
type bulkRun struct {
	orch   *Orchestrator
	images map[string][]images.Image

	mu     sync.Mutex
	result *BulkResult
	fatal  error
}

func (r *bulkRun) halted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatal != nil
}

func (r *bulkRun) recordFatal(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fatal == nil {
		r.fatal = err
		r.result.Halted = true
		r.result.HaltReason = err.Error()
	}
}

// processChunk acquires item locks, fans out one worker per item, and
// settles all workers before returning. Lock-contended items are skipped,
// not failed. One aggregated progress line is logged per chunk.
func (r *bulkRun) processChunk(ctx context.Context, chunk []model.WorkItem, chunkNum int) {
	o := r.orch
	var success, failed, skipped int

	g := new(errgroup.Group)
	var mu sync.Mutex
	for _, item := range chunk {
		item := item
		if !o.guard.TryAcquireItem(item.ID) {
			mu.Lock()
			skipped++
			r.result.SkippedCount++
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			defer o.guard.ReleaseItem(item.ID)

			err := o.generateOne(ctx, &item, r.images[item.ID])
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				r.result.ErrorCount++
				o.tracker.Record(model.FailureRecord{
					ItemID: item.ID,
					Label:  item.Label(),
					Reason: eris.Cause(err).Error(),
				})
				if resilience.IsFatal(err) {
					r.recordFatal(err)
				}
				return nil
			}
			success++
			r.result.SuccessCount++
			r.result.ProcessedIDs = append(r.result.ProcessedIDs, item.ID)
			o.tracker.Resolve(item.ID)
			o.enriched.Add(item.ID)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers settle, never propagate

	zap.L().Info("enrich: chunk processed",
		zap.Int("chunk", chunkNum),
		zap.Int("size", len(chunk)),
		zap.Int("success", success),
		zap.Int("failed", failed),
		zap.Int("skipped", skipped),
	)
}

// generateOne runs the full per-item pipeline: image filtering, the
// retried provider call, merge and sanitization, and persistence.
func (o *Orchestrator) generateOne(ctx context.Context, item *model.WorkItem, imgs []images.Image) error {
	urls := make([]string, 0, len(imgs))
	for _, img := range imgs {
		urls = append(urls, img.URL)
	}
	urls = genai.FilterImageURLs(urls)
	if len(urls) == 0 {
		return eris.New(ReasonNoImages)
	}

	o.snaps.CaptureItem(*item)

	payload, err := resilience.DoVal(ctx, resilience.RetryConfig{
		MaxAttempts: o.cfg.RetryAttempts,
		Delay:       o.cfg.RetryDelay,
		ShouldRetry: resilience.IsTransient,
		OnRetry: func(attempt int, err error) {
			zap.L().Warn("enrich: generation retry",
				zap.String("item", item.ID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		},
	}, func(ctx context.Context) (*genai.GeneratedFields, error) {
		return o.client.Generate(ctx, genai.Request{
			ItemID:    item.ID,
			Attrs:     itemAttrs(item),
			ImageURLs: urls,
		})
	})
	if err != nil {
		return err
	}

	fields := Merge(ctx, item, payload, o.rules, o.pricer, o.skus)
	fields["status"] = string(model.ItemStatusGenerated)

	if err := o.store.UpdateItemFields(ctx, item.ID, fields); err != nil {
		zap.L().Error("enrich: persist failed",
			zap.String("item", item.ID),
			zap.Error(err),
		)
		// Best-effort status flip; the batch continues either way.
		if serr := o.store.UpdateItemFields(ctx, item.ID, model.Fields{
			"status": string(model.ItemStatusError),
		}); serr != nil {
			zap.L().Error("enrich: error-status write failed",
				zap.String("item", item.ID),
				zap.Error(serr),
			)
		}
		return eris.Wrap(err, "persist generated fields")
	}
	return nil
}

// itemAttrs renders the item's confirmed attributes for the provider
// prompt.
func itemAttrs(item *model.WorkItem) map[string]string {
	attrs := map[string]string{
		"brand":        item.Brand,
		"material":     item.Material,
		"size":         item.Size,
		"garment_type": item.GarmentType,
		"department":   item.Department,
	}
	for k, v := range attrs {
		if v == "" {
			delete(attrs, k)
		}
	}
	return attrs
}
