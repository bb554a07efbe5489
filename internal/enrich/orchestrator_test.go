package enrich

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/thriftstack/listing-cli/internal/locks"
	"github.com/thriftstack/listing-cli/internal/model"
	"github.com/thriftstack/listing-cli/internal/resilience"
	"github.com/thriftstack/listing-cli/internal/tagrules"
	"github.com/thriftstack/listing-cli/pkg/genai"
	"github.com/thriftstack/listing-cli/pkg/images"
)

type orchFixture struct {
	store  *mockStore
	images *mockImages
	client *mockGenAI
	snaps  *mockSnaps
	guard  *locks.Guard
	orch   *Orchestrator
}

func newOrchFixture(t *testing.T, cfg Config) *orchFixture {
	t.Helper()
	if cfg.ChunkDelay == 0 {
		cfg.ChunkDelay = time.Millisecond
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}

	f := &orchFixture{
		store:  new(mockStore),
		images: new(mockImages),
		client: new(mockGenAI),
		snaps:  new(mockSnaps),
		guard:  locks.NewGuard(),
	}
	f.orch = NewOrchestrator(
		f.store, f.images, f.client, nil, nil, tagrules.Empty(),
		f.guard, NewFailureTracker(), NewMembership(), f.snaps, cfg,
	)
	return f
}

func newItems(n int) []model.WorkItem {
	items := make([]model.WorkItem, n)
	for i := range items {
		items[i] = model.WorkItem{
			ID:     string(rune('a' + i)),
			Title:  "Item",
			Status: model.ItemStatusNew,
		}
	}
	return items
}

func photos() []images.Image {
	return []images.Image{{URL: "https://cdn.example.com/1.jpg", Position: 0}}
}

func payload() *genai.GeneratedFields {
	return &genai.GeneratedFields{Title: "Generated", Confidence: 0.9}
}

func TestGenerateBulk_AlreadyRunning(t *testing.T) {
	f := newOrchFixture(t, Config{})
	require.True(t, f.guard.TryAcquireBatch())
	defer f.guard.ReleaseBatch()

	res, err := f.orch.GenerateBulk(context.Background(), BulkOptions{})
	require.NoError(t, err)
	assert.True(t, res.AlreadyRunning)
	assert.Zero(t, res.SuccessCount)
	f.client.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestGenerateBulk_ProcessesAllInChunks(t *testing.T) {
	f := newOrchFixture(t, Config{ConcurrencyWidth: 3})
	items := newItems(7)

	f.store.On("ListItems", mock.Anything, mock.Anything).Return(items, nil)
	f.store.On("UpdateItemFields", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.images.On("FetchImages", mock.Anything, mock.Anything).Return(photos(), nil)
	f.client.On("Generate", mock.Anything, mock.Anything).Return(payload(), nil)
	f.snaps.On("CaptureBulk", mock.Anything, mock.Anything).Return()
	f.snaps.On("CaptureItem", mock.Anything).Return()

	res, err := f.orch.GenerateBulk(context.Background(), BulkOptions{})
	require.NoError(t, err)

	assert.Equal(t, 7, res.SuccessCount)
	assert.Zero(t, res.ErrorCount)
	assert.Zero(t, res.SkippedCount)
	assert.Zero(t, res.Remaining)
	assert.Len(t, res.ProcessedIDs, 7)
	assert.Empty(t, res.Failures)
	assert.Zero(t, f.orch.Tracker().Len())
	assert.False(t, f.guard.BatchHeld())
	f.client.AssertNumberOfCalls(t, "Generate", 7)
	f.snaps.AssertCalled(t, "CaptureBulk", "bulk generation", mock.Anything)
}

func TestGenerateBulk_InFlightNeverExceedsWidth(t *testing.T) {
	f := newOrchFixture(t, Config{ConcurrencyWidth: 3})
	items := newItems(7)

	var inFlight, maxInFlight int32
	f.store.On("ListItems", mock.Anything, mock.Anything).Return(items, nil)
	f.store.On("UpdateItemFields", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.images.On("FetchImages", mock.Anything, mock.Anything).Return(photos(), nil)
	f.client.On("Generate", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			max := atomic.LoadInt32(&maxInFlight)
			if cur <= max || atomic.CompareAndSwapInt32(&maxInFlight, max, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
	}).Return(payload(), nil)
	f.snaps.On("CaptureBulk", mock.Anything, mock.Anything).Return()
	f.snaps.On("CaptureItem", mock.Anything).Return()

	res, err := f.orch.GenerateBulk(context.Background(), BulkOptions{})
	require.NoError(t, err)

	assert.Equal(t, 7, res.SuccessCount)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(3))
}

func TestGenerateBulk_BoundedMode(t *testing.T) {
	f := newOrchFixture(t, Config{BatchSize: 10})
	items := newItems(12)

	f.store.On("ListItems", mock.Anything, mock.Anything).Return(items, nil)
	f.store.On("UpdateItemFields", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.images.On("FetchImages", mock.Anything, mock.Anything).Return(photos(), nil)
	f.client.On("Generate", mock.Anything, mock.Anything).Return(payload(), nil)
	f.snaps.On("CaptureBulk", mock.Anything, mock.Anything).Return()
	f.snaps.On("CaptureItem", mock.Anything).Return()

	res, err := f.orch.GenerateBulk(context.Background(), BulkOptions{})
	require.NoError(t, err)

	assert.Equal(t, 10, res.SuccessCount)
	assert.Equal(t, 2, res.Remaining)
	f.client.AssertNumberOfCalls(t, "Generate", 10)
}

func TestGenerateBulk_ZeroImageItemsNeverCallProvider(t *testing.T) {
	f := newOrchFixture(t, Config{})
	items := newItems(2)

	f.store.On("ListItems", mock.Anything, mock.Anything).Return(items, nil)
	f.store.On("UpdateItemFields", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.images.On("FetchImages", mock.Anything, "a").Return([]images.Image{}, nil)
	f.images.On("FetchImages", mock.Anything, "b").Return(photos(), nil)
	f.client.On("Generate", mock.Anything, mock.MatchedBy(func(req genai.Request) bool {
		return req.ItemID == "b"
	})).Return(payload(), nil)
	f.snaps.On("CaptureBulk", mock.Anything, mock.Anything).Return()
	f.snaps.On("CaptureItem", mock.Anything).Return()

	res, err := f.orch.GenerateBulk(context.Background(), BulkOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 1, res.ErrorCount)
	f.client.AssertNumberOfCalls(t, "Generate", 1)

	rec, ok := f.orch.Tracker().Get("a")
	require.True(t, ok)
	assert.Equal(t, ReasonNoImages, rec.Reason)
}

func TestGenerateBulk_NonHTTPImagesFiltered(t *testing.T) {
	f := newOrchFixture(t, Config{})
	items := newItems(1)

	f.store.On("ListItems", mock.Anything, mock.Anything).Return(items, nil)
	f.images.On("FetchImages", mock.Anything, "a").Return([]images.Image{
		{URL: "file:///tmp/photo.jpg"},
		{URL: "ftp://cdn/photo.jpg"},
	}, nil)
	f.snaps.On("CaptureBulk", mock.Anything, mock.Anything).Return()

	res, err := f.orch.GenerateBulk(context.Background(), BulkOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.ErrorCount)
	f.client.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestGenerateBulk_TransientErrorRetriedThenSucceeds(t *testing.T) {
	f := newOrchFixture(t, Config{})
	items := newItems(1)

	f.store.On("ListItems", mock.Anything, mock.Anything).Return(items, nil)
	f.store.On("UpdateItemFields", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.images.On("FetchImages", mock.Anything, mock.Anything).Return(photos(), nil)
	f.snaps.On("CaptureBulk", mock.Anything, mock.Anything).Return()
	f.snaps.On("CaptureItem", mock.Anything).Return()

	transient := resilience.NewTransientError(eris.New("overloaded"), 529)
	f.client.On("Generate", mock.Anything, mock.Anything).Return(nil, transient).Once()
	f.client.On("Generate", mock.Anything, mock.Anything).Return(payload(), nil).Once()

	res, err := f.orch.GenerateBulk(context.Background(), BulkOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.SuccessCount)
	assert.Zero(t, res.ErrorCount)
	f.client.AssertNumberOfCalls(t, "Generate", 2)
}

func TestGenerateBulk_FatalErrorHaltsScheduling(t *testing.T) {
	f := newOrchFixture(t, Config{ConcurrencyWidth: 1})
	items := newItems(3)

	f.store.On("ListItems", mock.Anything, mock.Anything).Return(items, nil)
	f.images.On("FetchImages", mock.Anything, mock.Anything).Return(photos(), nil)
	f.snaps.On("CaptureBulk", mock.Anything, mock.Anything).Return()
	f.snaps.On("CaptureItem", mock.Anything).Return()

	fatal := resilience.NewFatalError(eris.New("credit balance too low"), "quota")
	f.client.On("Generate", mock.Anything, mock.Anything).Return(nil, fatal)

	res, err := f.orch.GenerateBulk(context.Background(), BulkOptions{})
	require.NoError(t, err)

	assert.True(t, res.Halted)
	assert.Equal(t, 1, res.ErrorCount)
	assert.Zero(t, res.SuccessCount)
	// Unattempted items are not marked failed but stay in the remaining
	// count for the next call.
	assert.Equal(t, 1, f.orch.Tracker().Len())
	assert.Equal(t, 2, res.Remaining)
	f.client.AssertNumberOfCalls(t, "Generate", 1)
}

func TestGenerateBulk_LockedItemsSkipped(t *testing.T) {
	f := newOrchFixture(t, Config{})
	items := newItems(2)
	selection := []string{"a", "b"}
	require.True(t, f.guard.TryAcquireItem("a"))
	defer f.guard.ReleaseItem("a")

	f.store.On("ListItems", mock.Anything, mock.Anything).Return(items, nil)
	f.store.On("UpdateItemFields", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.images.On("FetchImages", mock.Anything, mock.Anything).Return(photos(), nil)
	f.client.On("Generate", mock.Anything, mock.Anything).Return(payload(), nil)
	f.snaps.On("CaptureBulk", mock.Anything, mock.Anything).Return()
	f.snaps.On("CaptureItem", mock.Anything).Return()

	res, err := f.orch.GenerateBulk(context.Background(), BulkOptions{Selection: selection})
	require.NoError(t, err)

	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 1, res.SkippedCount)
	assert.Zero(t, res.ErrorCount)
	// A skipped item is still work left for the caller.
	assert.Equal(t, 1, res.Remaining)
}

func TestGenerateBulk_ImageFetchErrorKeepsReason(t *testing.T) {
	f := newOrchFixture(t, Config{})
	items := newItems(2)

	f.store.On("ListItems", mock.Anything, mock.Anything).Return(items, nil)
	f.store.On("UpdateItemFields", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.images.On("FetchImages", mock.Anything, "a").Return(nil, eris.New("image service unavailable"))
	f.images.On("FetchImages", mock.Anything, "b").Return(photos(), nil)
	f.client.On("Generate", mock.Anything, mock.MatchedBy(func(req genai.Request) bool {
		return req.ItemID == "b"
	})).Return(payload(), nil)
	f.snaps.On("CaptureBulk", mock.Anything, mock.Anything).Return()
	f.snaps.On("CaptureItem", mock.Anything).Return()

	res, err := f.orch.GenerateBulk(context.Background(), BulkOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 1, res.ErrorCount)
	f.client.AssertNumberOfCalls(t, "Generate", 1)

	rec, ok := f.orch.Tracker().Get("a")
	require.True(t, ok)
	assert.Equal(t, "image service unavailable", rec.Reason)
	assert.NotEqual(t, ReasonNoImages, rec.Reason)
}

func TestGenerateBulk_PersistFailureMarksError(t *testing.T) {
	f := newOrchFixture(t, Config{})
	items := newItems(1)

	f.store.On("ListItems", mock.Anything, mock.Anything).Return(items, nil)
	f.store.On("UpdateItemFields", mock.Anything, "a", mock.MatchedBy(func(fields model.Fields) bool {
		return fields["status"] == string(model.ItemStatusGenerated)
	})).Return(eris.New("disk full"))
	f.store.On("UpdateItemFields", mock.Anything, "a", model.Fields{
		"status": string(model.ItemStatusError),
	}).Return(nil)
	f.images.On("FetchImages", mock.Anything, mock.Anything).Return(photos(), nil)
	f.client.On("Generate", mock.Anything, mock.Anything).Return(payload(), nil)
	f.snaps.On("CaptureBulk", mock.Anything, mock.Anything).Return()
	f.snaps.On("CaptureItem", mock.Anything).Return()

	res, err := f.orch.GenerateBulk(context.Background(), BulkOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.ErrorCount)
	f.store.AssertExpectations(t)
}

func TestRetryFailed(t *testing.T) {
	f := newOrchFixture(t, Config{})
	f.orch.Tracker().Record(model.FailureRecord{ItemID: "a", Label: "Item", Reason: "overloaded"})

	f.store.On("ListItems", mock.Anything, mock.MatchedBy(func(filter interface{}) bool {
		return true
	})).Return(newItems(1), nil)
	f.store.On("UpdateItemFields", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.images.On("FetchImages", mock.Anything, mock.Anything).Return(photos(), nil)
	f.client.On("Generate", mock.Anything, mock.Anything).Return(payload(), nil)
	f.snaps.On("CaptureBulk", mock.Anything, mock.Anything).Return()
	f.snaps.On("CaptureItem", mock.Anything).Return()

	res, err := f.orch.RetryFailed(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.SuccessCount)
	assert.Zero(t, f.orch.Tracker().Len(), "success removes the failure record")
}

func TestRetryFailed_NothingTracked(t *testing.T) {
	f := newOrchFixture(t, Config{})

	res, err := f.orch.RetryFailed(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.SuccessCount)
	f.store.AssertNotCalled(t, "ListItems", mock.Anything, mock.Anything)
}
