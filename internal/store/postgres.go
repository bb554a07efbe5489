package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/thriftstack/listing-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it
// for tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool, used by tests.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
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
	tags         JSONB NOT NULL DEFAULT '[]',
	price        DOUBLE PRECISION NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'new',
	qc_status    TEXT NOT NULL DEFAULT '',
	confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
	flags        JSONB NOT NULL DEFAULT '[]',
	run_id       TEXT NOT NULL DEFAULT '',
	batch_number INTEGER NOT NULL DEFAULT 0,
	deleted      BOOLEAN NOT NULL DEFAULT false,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	status          TEXT NOT NULL DEFAULT 'running',
	total_cards     INTEGER NOT NULL DEFAULT 0,
	processed_cards INTEGER NOT NULL DEFAULT 0,
	current_batch   INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
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

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- Items ---

func (s *PostgresStore) CreateItem(ctx context.Context, item *model.WorkItem) error {
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
		return eris.Wrap(err, "postgres: marshal tags")
	}
	flagsJSON, err := json.Marshal(item.Flags)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal flags")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO items (id, title, description, brand, material, condition, flaws, era,
			department, garment_type, size, label_size, style, notes, sku, tags, price,
			status, qc_status, confidence, flags, run_id, batch_number, deleted, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23, $24, $25, $26)`,
		item.ID, item.Title, item.Description, item.Brand, item.Material, item.Condition,
		item.Flaws, item.Era, item.Department, item.GarmentType, item.Size, item.LabelSize,
		item.Style, item.Notes, item.SKU, string(tagsJSON), item.Price, string(item.Status),
		string(item.QCStatus), item.Confidence, string(flagsJSON), item.RunID,
		item.BatchNumber, item.Deleted, now, now,
	)
	return eris.Wrapf(err, "postgres: insert item %s", item.ID)
}

func (s *PostgresStore) GetItem(ctx context.Context, id string) (*model.WorkItem, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+itemSelectColumns+` FROM items WHERE id = $1`, id)
	return scanItemPg(row)
}

func (s *PostgresStore) ListItems(ctx context.Context, filter ItemFilter) ([]model.WorkItem, error) {
	query := `SELECT ` + itemSelectColumns + ` FROM items WHERE 1=1`
	var args []any

	if len(filter.IDs) > 0 {
		query += fmt.Sprintf(` AND id = ANY($%d)`, len(args)+1)
		args = append(args, filter.IDs)
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, len(args)+1)
		args = append(args, string(filter.Status))
	}
	if filter.RunID != "" {
		query += fmt.Sprintf(` AND run_id = $%d`, len(args)+1)
		args = append(args, filter.RunID)
	}
	if filter.QCStatus != "" {
		query += fmt.Sprintf(` AND qc_status = $%d`, len(args)+1)
		args = append(args, string(filter.QCStatus))
	}
	if !filter.IncludeDeleted {
		query += ` AND deleted = false`
	}
	query += ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list items")
	}
	defer rows.Close()

	var items []model.WorkItem
	for rows.Next() {
		it, err := scanItemPg(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list items iterate")
}

func (s *PostgresStore) UpdateItemFields(ctx context.Context, id string, fields model.Fields) error {
	if len(fields) == 0 {
		return nil
	}

	setClauses, args, err := buildItemUpdate(fields, true)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE items SET %s, updated_at = $%d WHERE id = $%d`,
		strings.Join(setClauses, ", "), len(args)+1, len(args)+2)
	args = append(args, time.Now().UTC(), id)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update item %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("item not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) SetQCStatus(ctx context.Context, ids []string, qc model.QCStatus, clearReview bool) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `UPDATE items SET qc_status = $1, updated_at = $2`
	if clearReview {
		query += `, confidence = 0, flags = '[]'`
	}
	query += ` WHERE id = ANY($3)`

	tag, err := s.pool.Exec(ctx, query, string(qc), time.Now().UTC(), ids)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: set qc status")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) BindItemsToRun(ctx context.Context, runID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := s.pool.Exec(ctx,
		`UPDATE items SET run_id = $1, qc_status = $2, confidence = 0, flags = '[]',
			batch_number = 0, updated_at = $3 WHERE id = ANY($4)`,
		runID, string(model.QCStatusDraft), time.Now().UTC(), ids,
	)
	return eris.Wrapf(err, "postgres: bind items to run %s", runID)
}

func (s *PostgresStore) GetImagePlacement(ctx context.Context, imageID string) (string, int, error) {
	var parentID string
	var position int
	err := s.pool.QueryRow(ctx,
		`SELECT item_id, position FROM item_images WHERE id = $1`, imageID,
	).Scan(&parentID, &position)
	if err == pgx.ErrNoRows {
		return "", 0, eris.Errorf("image not found: %s", imageID)
	}
	if err != nil {
		return "", 0, eris.Wrapf(err, "postgres: get image placement %s", imageID)
	}
	return parentID, position, nil
}

func (s *PostgresStore) ReassignImage(ctx context.Context, imageID, parentID string, position int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE item_images SET item_id = $1, position = $2 WHERE id = $3`,
		parentID, position, imageID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: reassign image %s", imageID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("image not found: %s", imageID)
	}
	return nil
}

// --- Runs ---

func (s *PostgresStore) CreateRun(ctx context.Context, totalCards int) (*model.AutopilotRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, total_cards, processed_cards, current_batch, created_at, updated_at)
		 VALUES ($1, $2, $3, 0, 0, $4, $5)`,
		id, string(model.RunStatusRunning), totalCards, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.AutopilotRun{
		ID:         id,
		Status:     model.RunStatusRunning,
		TotalCards: totalCards,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.AutopilotRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, status, total_cards, processed_cards, current_batch, last_error, created_at, updated_at
		 FROM runs WHERE id = $1`, runID)

	run, err := scanRunPg(row)
	if err == pgx.ErrNoRows {
		return nil, eris.Errorf("run not found: %s", runID)
	}
	return run, err
}

func (s *PostgresStore) GetActiveRun(ctx context.Context) (*model.AutopilotRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, status, total_cards, processed_cards, current_batch, last_error, created_at, updated_at
		 FROM runs WHERE status = $1 ORDER BY created_at DESC LIMIT 1`,
		string(model.RunStatusRunning))

	run, err := scanRunPg(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, lastError string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, last_error = $2, updated_at = $3 WHERE id = $4`,
		string(status), lastError, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunProgress(ctx context.Context, runID string, processedCards, currentBatch int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET
			processed_cards = LEAST(total_cards, GREATEST(processed_cards, $1)),
			current_batch = $2,
			updated_at = $3
		 WHERE id = $4`,
		processedCards, currentBatch, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run progress %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.AutopilotRun, error) {
	query := `SELECT id, status, total_cards, processed_cards, current_batch, last_error, created_at, updated_at
		FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, len(args)+1)
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, len(args)+1)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.AutopilotRun
	for rows.Next() {
		r, err := scanRunPg(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// --- scan helpers ---

func scanItemPg(row scannable) (*model.WorkItem, error) {
	var it model.WorkItem
	var tagsJSON, flagsJSON []byte

	err := row.Scan(&it.ID, &it.Title, &it.Description, &it.Brand, &it.Material,
		&it.Condition, &it.Flaws, &it.Era, &it.Department, &it.GarmentType,
		&it.Size, &it.LabelSize, &it.Style, &it.Notes, &it.SKU, &tagsJSON,
		&it.Price, &it.Status, &it.QCStatus, &it.Confidence, &flagsJSON,
		&it.RunID, &it.BatchNumber, &it.Deleted, &it.CreatedAt, &it.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, eris.New("item not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan item")
	}

	if err := json.Unmarshal(tagsJSON, &it.Tags); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal tags")
	}
	if err := json.Unmarshal(flagsJSON, &it.Flags); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal flags")
	}
	return &it, nil
}

func scanRunPg(row scannable) (*model.AutopilotRun, error) {
	var r model.AutopilotRun
	err := row.Scan(&r.ID, &r.Status, &r.TotalCards, &r.ProcessedCards,
		&r.CurrentBatch, &r.LastError, &r.CreatedAt, &r.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}
	return &r, nil
}
