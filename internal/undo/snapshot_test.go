package undo

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/thriftstack/listing-cli/internal/model"
	"github.com/thriftstack/listing-cli/internal/store"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateItem(ctx context.Context, item *model.WorkItem) error {
	return m.Called(ctx, item).Error(0)
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
	return m.Called(ctx, id, fields).Error(0)
}

func (m *mockStore) SetQCStatus(ctx context.Context, ids []string, qc model.QCStatus, clearReview bool) (int, error) {
	args := m.Called(ctx, ids, qc, clearReview)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) BindItemsToRun(ctx context.Context, runID string, ids []string) error {
	return m.Called(ctx, runID, ids).Error(0)
}

func (m *mockStore) GetImagePlacement(ctx context.Context, imageID string) (string, int, error) {
	args := m.Called(ctx, imageID)
	return args.String(0), args.Int(1), args.Error(2)
}

func (m *mockStore) ReassignImage(ctx context.Context, imageID, parentID string, position int) error {
	return m.Called(ctx, imageID, parentID, position).Error(0)
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
	return m.Called(ctx, runID, status, lastError).Error(0)
}

func (m *mockStore) UpdateRunProgress(ctx context.Context, runID string, processedCards, currentBatch int) error {
	return m.Called(ctx, runID, processedCards, currentBatch).Error(0)
}

func (m *mockStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.AutopilotRun, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.AutopilotRun), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *mockStore) Close() error                      { return m.Called().Error(0) }

func TestUndoItem_RestoresCapturedFields(t *testing.T) {
	st := new(mockStore)
	var restored []string
	mgr := NewManager(st, Config{OnRestore: func(id string) { restored = append(restored, id) }})

	item := model.WorkItem{ID: "a", Title: "Before", Status: model.ItemStatusNew}
	mgr.CaptureItem(item)

	st.On("UpdateItemFields", mock.Anything, "a", mock.MatchedBy(func(fields model.Fields) bool {
		return fields["title"] == "Before"
	})).Return(nil)

	require.NoError(t, mgr.UndoItem(context.Background(), "a"))
	assert.Equal(t, []string{"a"}, restored)

	// Snapshot is single-use.
	err := mgr.UndoItem(context.Background(), "a")
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestUndoItem_NoSnapshot(t *testing.T) {
	mgr := NewManager(new(mockStore), Config{})
	err := mgr.UndoItem(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestUndoItem_Expired(t *testing.T) {
	st := new(mockStore)
	mgr := NewManager(st, Config{TTL: 10 * time.Millisecond})

	mgr.CaptureItem(model.WorkItem{ID: "a", Title: "Before"})
	time.Sleep(50 * time.Millisecond)

	err := mgr.UndoItem(context.Background(), "a")
	assert.ErrorIs(t, err, ErrSnapshotExpired)
	st.AssertNotCalled(t, "UpdateItemFields", mock.Anything, mock.Anything, mock.Anything)
}

func TestCaptureItem_SupersedesPrevious(t *testing.T) {
	st := new(mockStore)
	mgr := NewManager(st, Config{})

	mgr.CaptureItem(model.WorkItem{ID: "a", Title: "First"})
	mgr.CaptureItem(model.WorkItem{ID: "a", Title: "Second"})

	st.On("UpdateItemFields", mock.Anything, "a", mock.MatchedBy(func(fields model.Fields) bool {
		return fields["title"] == "Second"
	})).Return(nil)

	require.NoError(t, mgr.UndoItem(context.Background(), "a"))
	st.AssertExpectations(t)
}

func TestUndoBulk_ParallelRestoreToleratesFailures(t *testing.T) {
	st := new(mockStore)
	mgr := NewManager(st, Config{Width: 2})

	items := []model.WorkItem{
		{ID: "a", Title: "A"},
		{ID: "b", Title: "B"},
		{ID: "c", Title: "C"},
	}
	mgr.CaptureBulk("bulk generation", items)

	st.On("UpdateItemFields", mock.Anything, "a", mock.Anything).Return(nil)
	st.On("UpdateItemFields", mock.Anything, "b", mock.Anything).Return(eris.New("row gone"))
	st.On("UpdateItemFields", mock.Anything, "c", mock.Anything).Return(nil)

	res, err := mgr.UndoBulk(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Restored)
	assert.Equal(t, 1, res.Failed)

	// Discarded after the restore attempt.
	_, err = mgr.UndoBulk(context.Background())
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestUndoBulk_Expired(t *testing.T) {
	mgr := NewManager(new(mockStore), Config{TTL: 10 * time.Millisecond})
	mgr.CaptureBulk("bulk generation", []model.WorkItem{{ID: "a"}})
	time.Sleep(50 * time.Millisecond)

	_, err := mgr.UndoBulk(context.Background())
	assert.ErrorIs(t, err, ErrSnapshotExpired)
}

func TestUndoStructural_WritesTuplesBack(t *testing.T) {
	st := new(mockStore)
	mgr := NewManager(st, Config{})

	mgr.CaptureStructural([]Move{
		{EntityID: "img-1", PrevParentID: "item-a", PrevPosition: 0},
		{EntityID: "img-2", PrevParentID: "item-b", PrevPosition: 3},
	})

	st.On("ReassignImage", mock.Anything, "img-1", "item-a", 0).Return(nil)
	st.On("ReassignImage", mock.Anything, "img-2", "item-b", 3).Return(nil)

	res, err := mgr.UndoStructural(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Restored)
	assert.Zero(t, res.Failed)
	st.AssertExpectations(t)
}

func TestUndoStructural_NoSnapshot(t *testing.T) {
	mgr := NewManager(new(mockStore), Config{})
	_, err := mgr.UndoStructural(context.Background())
	assert.ErrorIs(t, err, ErrNoSnapshot)
}
