package enrich

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/thriftstack/listing-cli/internal/model"
	"github.com/thriftstack/listing-cli/internal/store"
	"github.com/thriftstack/listing-cli/pkg/genai"
	"github.com/thriftstack/listing-cli/pkg/images"
	"github.com/thriftstack/listing-cli/pkg/pricing"
)

// --- GenAI Mock ---

type mockGenAI struct {
	mock.Mock
}

func (m *mockGenAI) Generate(ctx context.Context, req genai.Request) (*genai.GeneratedFields, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*genai.GeneratedFields), args.Error(1)
}

// --- Image Store Mock ---

type mockImages struct {
	mock.Mock
}

func (m *mockImages) FetchImages(ctx context.Context, itemID string) ([]images.Image, error) {
	args := m.Called(ctx, itemID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]images.Image), args.Error(1)
}

// --- Pricing Mock ---

type mockPricer struct {
	mock.Mock
}

func (m *mockPricer) SuggestPrice(ctx context.Context, garmentType string, in pricing.Inputs) (float64, error) {
	args := m.Called(ctx, garmentType, in)
	return args.Get(0).(float64), args.Error(1)
}

// --- SKU Generator Mock ---

type mockSKUGen struct {
	mock.Mock
}

func (m *mockSKUGen) Generate(ctx context.Context, category, size, era, labelSize string) (string, error) {
	args := m.Called(ctx, category, size, era, labelSize)
	return args.String(0), args.Error(1)
}

// --- Snapshot Recorder Mock ---

type mockSnaps struct {
	mock.Mock
}

func (m *mockSnaps) CaptureItem(item model.WorkItem) {
	m.Called(item)
}

func (m *mockSnaps) CaptureBulk(label string, items []model.WorkItem) {
	m.Called(label, items)
}

// --- Store Mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateItem(ctx context.Context, item *model.WorkItem) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *mockStore) GetItem(ctx context.Context, id string) (*model.WorkItem, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WorkItem), args.Error(1)
}

func (m *mockStore) ListItems(ctx context.Context, filter store.ItemFilter) ([]model.WorkItem, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.WorkItem), args.Error(1)
}

func (m *mockStore) UpdateItemFields(ctx context.Context, id string, fields model.Fields) error {
	args := m.Called(ctx, id, fields)
	return args.Error(0)
}

func (m *mockStore) SetQCStatus(ctx context.Context, ids []string, qc model.QCStatus, clearReview bool) (int, error) {
	args := m.Called(ctx, ids, qc, clearReview)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) BindItemsToRun(ctx context.Context, runID string, ids []string) error {
	args := m.Called(ctx, runID, ids)
	return args.Error(0)
}

func (m *mockStore) GetImagePlacement(ctx context.Context, imageID string) (string, int, error) {
	args := m.Called(ctx, imageID)
	return args.String(0), args.Int(1), args.Error(2)
}

func (m *mockStore) ReassignImage(ctx context.Context, imageID, parentID string, position int) error {
	args := m.Called(ctx, imageID, parentID, position)
	return args.Error(0)
}

func (m *mockStore) CreateRun(ctx context.Context, totalCards int) (*model.AutopilotRun, error) {
	args := m.Called(ctx, totalCards)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AutopilotRun), args.Error(1)
}

func (m *mockStore) GetRun(ctx context.Context, runID string) (*model.AutopilotRun, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AutopilotRun), args.Error(1)
}

func (m *mockStore) GetActiveRun(ctx context.Context) (*model.AutopilotRun, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AutopilotRun), args.Error(1)
}

func (m *mockStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, lastError string) error {
	args := m.Called(ctx, runID, status, lastError)
	return args.Error(0)
}

func (m *mockStore) UpdateRunProgress(ctx context.Context, runID string, processedCards, currentBatch int) error {
	args := m.Called(ctx, runID, processedCards, currentBatch)
	return args.Error(0)
}

func (m *mockStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.AutopilotRun, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.AutopilotRun), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
