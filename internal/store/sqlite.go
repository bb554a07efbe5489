package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/thriftstack/listing-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS items (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	brand        TEXT NOT NULL DEFAULT '',
	material     TEXT NOT NULL DEFAULT '',
	condition    TEXT NOT NULL DEFAULT '',
	flaws        TEXT NOT NULL DEFAULT '',
	era          TEXT NOT NULL DEFAULT '',
	department   TEXT NOT NULL DEFAULT '',
	garment_type TEXT NOT NULL DEFAULT '',
	size         TEXT NOT NULL DEFAULT '',
	label_size   TEXT NOT NULL DEFAULT '',
	style        TEXT NOT NULL DEFAULT '',
	notes        TEXT NOT NULL DEFAULT '',
	sku          TEXT NOT NULL DEFAULT '',
	tags         TEXT NOT NULL DEFAULT '[]',
	price        REAL NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'new',
	qc_status    TEXT NOT NULL DEFAULT '',
	confidence   REAL NOT NULL DEFAULT 0,
	flags        TEXT NOT NULL DEFAULT '[]',
	run_id       TEXT NOT NULL DEFAULT '',
	batch_number INTEGER NOT NULL DEFAULT 0,
	deleted      INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	status          TEXT NOT NULL DEFAULT 'running',
	total_cards     INTEGER NOT NULL DEFAULT 0,
	processed_cards INTEGER NOT NULL DEFAULT 0,
	current_batch   INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS item_images (
	id        TEXT PRIMARY KEY,
	item_id   TEXT NOT NULL REFERENCES items(id),
	position  INTEGER NOT NULL DEFAULT 0,
	url       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_items_status ON items(status);
CREATE INDEX IF NOT EXISTS idx_items_run_id ON items(run_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_item_images_item_id ON item_images(item_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Items ---

const itemSelectColumns = `id, title, description, brand, material, condition, flaws, era,
	department, garment_type, size, label_size, style, notes, sku, tags, price,
	status, qc_status, confidence, flags, run_id, batch_number, deleted,
	created_at, updated_at`

func (s *SQLiteStore) CreateItem(ctx context.Context, item *model.WorkItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Status == "" {
		item.Status = model.ItemStatusNew
	}
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now

	tagsJSON, err := json.Marshal(item.Tags)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal tags")
	}
	flagsJSON, err := json.Marshal(item.Flags)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal flags")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO items (id, title, description, brand, material, condition, flaws, era,
			department, garment_type, size, label_size, style, notes, sku, tags, price,
			status, qc_status, confidence, flags, run_id, batch_number, deleted, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Title, item.Description, item.Brand, item.Material, item.Condition,
		item.Flaws, item.Era, item.Department, item.GarmentType, item.Size, item.LabelSize,
		item.Style, item.Notes, item.SKU, string(tagsJSON), item.Price, string(item.Status),
		string(item.QCStatus), item.Confidence, string(flagsJSON), item.RunID,
		item.BatchNumber, boolToInt(item.Deleted), now, now,
	)
	return eris.Wrapf(err, "sqlite: insert item %s", item.ID)
}

func (s *SQLiteStore) GetItem(ctx context.Context, id string) (*model.WorkItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemSelectColumns+` FROM items WHERE id = ?`, id)
	return scanItem(row)
}

func (s *SQLiteStore) ListItems(ctx context.Context, filter ItemFilter) ([]model.WorkItem, error) {
	query := `SELECT ` + itemSelectColumns + ` FROM items WHERE 1=1`
	var args []any

	if len(filter.IDs) > 0 {
		query += ` AND id IN (` + placeholders(len(filter.IDs)) + `)`
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.QCStatus != "" {
		query += ` AND qc_status = ?`
		args = append(args, string(filter.QCStatus))
	}
	if !filter.IncludeDeleted {
		query += ` AND deleted = 0`
	}
	query += ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list items")
	}
	defer rows.Close()

	var items []model.WorkItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list items iterate")
}

func (s *SQLiteStore) UpdateItemFields(ctx context.Context, id string, fields model.Fields) error {
	if len(fields) == 0 {
		return nil
	}

	setClauses, args, err := buildItemUpdate(fields, false)
	if err != nil {
		return err
	}
	args = append(args, time.Now().UTC(), id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET `+strings.Join(setClauses, ", ")+`, updated_at = ? WHERE id = ?`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update item %s", id)
	}
	return checkRowsAffected(res, "item", id)
}

func (s *SQLiteStore) SetQCStatus(ctx context.Context, ids []string, qc model.QCStatus, clearReview bool) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `UPDATE items SET qc_status = ?, updated_at = ?`
	args := []any{string(qc), time.Now().UTC()}
	if clearReview {
		query += `, confidence = 0, flags = '[]'`
	}
	query += ` WHERE id IN (` + placeholders(len(ids)) + `)`
	for _, id := range ids {
		args = append(args, id)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: set qc status")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) BindItemsToRun(ctx context.Context, runID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	query := `UPDATE items SET run_id = ?, qc_status = ?, confidence = 0, flags = '[]',
		batch_number = 0, updated_at = ? WHERE id IN (` + placeholders(len(ids)) + `)`
	args := []any{runID, string(model.QCStatusDraft), time.Now().UTC()}
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := s.db.ExecContext(ctx, query, args...)
	return eris.Wrapf(err, "sqlite: bind items to run %s", runID)
}

func (s *SQLiteStore) GetImagePlacement(ctx context.Context, imageID string) (string, int, error) {
	var parentID string
	var position int
	err := s.db.QueryRowContext(ctx,
		`SELECT item_id, position FROM item_images WHERE id = ?`, imageID,
	).Scan(&parentID, &position)
	if err == sql.ErrNoRows {
		return "", 0, eris.Errorf("image not found: %s", imageID)
	}
	if err != nil {
		return "", 0, eris.Wrapf(err, "sqlite: get image placement %s", imageID)
	}
	return parentID, position, nil
}

func (s *SQLiteStore) ReassignImage(ctx context.Context, imageID, parentID string, position int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE item_images SET item_id = ?, position = ? WHERE id = ?`,
		parentID, position, imageID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: reassign image %s", imageID)
	}
	return checkRowsAffected(res, "image", imageID)
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, totalCards int) (*model.AutopilotRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, total_cards, processed_cards, current_batch, created_at, updated_at)
		 VALUES (?, ?, ?, 0, 0, ?, ?)`,
		id, string(model.RunStatusRunning), totalCards, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.AutopilotRun{
		ID:         id,
		Status:     model.RunStatusRunning,
		TotalCards: totalCards,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.AutopilotRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, total_cards, processed_cards, current_batch, last_error, created_at, updated_at
		 FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("run not found: %s", runID)
	}
	return run, err
}

func (s *SQLiteStore) GetActiveRun(ctx context.Context) (*model.AutopilotRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, total_cards, processed_cards, current_batch, last_error, created_at, updated_at
		 FROM runs WHERE status = ? ORDER BY created_at DESC LIMIT 1`,
		string(model.RunStatusRunning))
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, lastError string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		string(status), lastError, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunProgress(ctx context.Context, runID string, processedCards, currentBatch int) error {
	// processed_cards never decreases and never exceeds total_cards.
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET
			processed_cards = MIN(total_cards, MAX(processed_cards, ?)),
			current_batch = ?,
			updated_at = ?
		 WHERE id = ?`,
		processedCards, currentBatch, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run progress %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.AutopilotRun, error) {
	query := `SELECT id, status, total_cards, processed_cards, current_batch, last_error, created_at, updated_at
		FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.AutopilotRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// --- helpers ---

// buildItemUpdate turns a partial field map into SET clauses and args,
// rejecting unknown fields. Iteration is sorted for deterministic SQL.
// With pg set, clauses use $1..$N positional placeholders.
func buildItemUpdate(fields model.Fields, pg bool) ([]string, []any, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var setClauses []string
	var args []any
	for i, name := range names {
		col, ok := itemColumns[name]
		if !ok {
			return nil, nil, eris.Errorf("store: unknown item field %q", name)
		}
		val := fields[name]
		if col.json {
			data, err := json.Marshal(val)
			if err != nil {
				return nil, nil, eris.Wrapf(err, "store: marshal field %s", name)
			}
			val = string(data)
		}
		ph := "?"
		if pg {
			ph = fmt.Sprintf("$%d", i+1)
		}
		setClauses = append(setClauses, col.column+" = "+ph)
		args = append(args, val)
	}
	return setClauses, args, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanItem(row scannable) (*model.WorkItem, error) {
	var it model.WorkItem
	var tagsJSON, flagsJSON string
	var deleted int

	err := row.Scan(&it.ID, &it.Title, &it.Description, &it.Brand, &it.Material,
		&it.Condition, &it.Flaws, &it.Era, &it.Department, &it.GarmentType,
		&it.Size, &it.LabelSize, &it.Style, &it.Notes, &it.SKU, &tagsJSON,
		&it.Price, &it.Status, &it.QCStatus, &it.Confidence, &flagsJSON,
		&it.RunID, &it.BatchNumber, &deleted, &it.CreatedAt, &it.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("item not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan item")
	}

	if err := json.Unmarshal([]byte(tagsJSON), &it.Tags); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal tags")
	}
	if err := json.Unmarshal([]byte(flagsJSON), &it.Flags); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal flags")
	}
	it.Deleted = deleted != 0
	return &it, nil
}

func scanRun(row scannable) (*model.AutopilotRun, error) {
	var r model.AutopilotRun
	err := row.Scan(&r.ID, &r.Status, &r.TotalCards, &r.ProcessedCards,
		&r.CurrentBatch, &r.LastError, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	return &r, nil
}
