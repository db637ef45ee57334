package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/user/stow/internal/model"
)

// dsnOptions enables WAL and makes every transaction take the write lock at
// BEGIN, so a read-compare-write inside one transaction cannot interleave
// with another writer.
const dsnOptions = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate"

var baseCols = []string{"id", "hash", "created_at", "created_by", "updated_at", "updated_by"}

// SQLite holds the authoritative copy of every record.
type SQLite struct {
	db      *sql.DB
	dbPath  string
	baseDir string
}

// NewSQLite opens (creating if needed) the database under baseDir.
func NewSQLite(baseDir string) (*SQLite, error) {
	dbPath := filepath.Join(baseDir, "stow.db")

	db, err := sql.Open("sqlite3", dbPath+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLite{
		db:      db,
		dbPath:  dbPath,
		baseDir: baseDir,
	}

	if err := s.initMetaTable(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (c *SQLite) initMetaTable() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS _stow_meta (
			stash_name TEXT PRIMARY KEY,
			prefix TEXT,
			config_json TEXT,
			updated_at TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create meta table: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (c *SQLite) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// sanitizeTableName converts stash name to a safe table name.
func sanitizeTableName(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

func quote(cols []string) []string {
	out := make([]string, len(cols))
	for i, col := range cols {
		out[i] = fmt.Sprintf(`"%s"`, col)
	}
	return out
}

// CreateStashTable creates the table for a stash and records its metadata.
func (c *SQLite) CreateStashTable(stash *model.Stash) error {
	tableName := sanitizeTableName(stash.Name)

	createSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s" (
			id TEXT PRIMARY KEY,
			hash TEXT NOT NULL,
			created_at TEXT NOT NULL,
			created_by TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			updated_by TEXT NOT NULL
		)
	`, tableName)
	if _, err := c.db.Exec(createSQL); err != nil {
		return fmt.Errorf("failed to create stash table: %w", err)
	}

	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS "idx_%s_updated" ON "%s"(updated_at)`, tableName, tableName)
	if _, err := c.db.Exec(idx); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	for _, col := range stash.Columns {
		if err := c.AddColumn(stash.Name, col.Name); err != nil {
			return err
		}
	}

	configJSON, err := json.Marshal(stash)
	if err != nil {
		return fmt.Errorf("failed to marshal stash config: %w", err)
	}
	_, err = c.db.Exec(`
		INSERT OR REPLACE INTO _stow_meta (stash_name, prefix, config_json, updated_at)
		VALUES (?, ?, ?, ?)
	`, stash.Name, stash.Prefix, string(configJSON), time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to store stash metadata: %w", err)
	}
	return nil
}

// DropStashTable drops the table for a stash.
func (c *SQLite) DropStashTable(stashName string) error {
	tableName := sanitizeTableName(stashName)

	if _, err := c.db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS "%s"`, tableName)); err != nil {
		return fmt.Errorf("failed to drop stash table: %w", err)
	}
	if _, err := c.db.Exec(`DELETE FROM _stow_meta WHERE stash_name = ?`, stashName); err != nil {
		return fmt.Errorf("failed to delete stash metadata: %w", err)
	}
	return nil
}

// AddColumn adds a TEXT column to a stash table if it is missing.
func (c *SQLite) AddColumn(stashName, columnName string) error {
	tableName := sanitizeTableName(stashName)

	if containsFold(baseCols, columnName) {
		return fmt.Errorf("%w: %s", model.ErrReservedColumn, columnName)
	}

	// SQLite ALTER TABLE has no IF NOT EXISTS for columns.
	exists, err := c.columnExists(tableName, columnName)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	alterSQL := fmt.Sprintf(`ALTER TABLE "%s" ADD COLUMN "%s" TEXT`, tableName, columnName)
	if _, err := c.db.Exec(alterSQL); err != nil {
		return fmt.Errorf("failed to add column %s: %w", columnName, err)
	}
	return nil
}

func (c *SQLite) columnExists(tableName, columnName string) (bool, error) {
	rows, err := c.db.Query(fmt.Sprintf(`PRAGMA table_info("%s")`, tableName))
	if err != nil {
		return false, fmt.Errorf("failed to get table info: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if strings.EqualFold(name, columnName) {
			return true, nil
		}
	}
	return false, rows.Err()
}

// GetStash retrieves stash configuration from metadata.
func (c *SQLite) GetStash(name string) (*model.Stash, error) {
	var configJSON string
	err := c.db.QueryRow(`SELECT config_json FROM _stow_meta WHERE stash_name = ?`, name).Scan(&configJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrStashNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stash: %w", err)
	}

	var stash model.Stash
	if err := json.Unmarshal([]byte(configJSON), &stash); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stash config: %w", err)
	}
	return &stash, nil
}

// UpdateStashConfig updates the stash configuration in metadata.
func (c *SQLite) UpdateStashConfig(stash *model.Stash) error {
	configJSON, err := json.Marshal(stash)
	if err != nil {
		return fmt.Errorf("failed to marshal stash config: %w", err)
	}

	result, err := c.db.Exec(`
		UPDATE _stow_meta SET config_json = ?, updated_at = ? WHERE stash_name = ?
	`, string(configJSON), time.Now().Format(time.RFC3339), stash.Name)
	if err != nil {
		return fmt.Errorf("failed to update stash config: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return model.ErrStashNotFound
	}
	return nil
}

// ListStashes returns all stash configurations.
func (c *SQLite) ListStashes() ([]*model.Stash, error) {
	rows, err := c.db.Query(`SELECT config_json FROM _stow_meta ORDER BY stash_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stashes: %w", err)
	}
	defer rows.Close()

	var stashes []*model.Stash
	for rows.Next() {
		var configJSON string
		if err := rows.Scan(&configJSON); err != nil {
			return nil, err
		}
		var stash model.Stash
		if err := json.Unmarshal([]byte(configJSON), &stash); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stash config: %w", err)
		}
		stashes = append(stashes, &stash)
	}
	return stashes, rows.Err()
}

// InsertRecord inserts a new row. An existing ID is an error.
func (c *SQLite) InsertRecord(ctx context.Context, stashName string, record *model.Record, columns []string) error {
	tableName := sanitizeTableName(stashName)
	allCols := append(append([]string{}, baseCols...), columns...)

	placeholders := make([]string, len(allCols))
	for i := range placeholders {
		placeholders[i] = "?"
	}

	values := []interface{}{
		record.ID,
		record.Hash,
		record.CreatedAt.Format(time.RFC3339Nano),
		record.CreatedBy,
		record.UpdatedAt.Format(time.RFC3339Nano),
		record.UpdatedBy,
	}
	for _, col := range columns {
		values = append(values, nullString(record.Fields[col]))
	}

	query := fmt.Sprintf(`INSERT INTO "%s" (%s) VALUES (%s)`,
		tableName, strings.Join(quote(allCols), ", "), strings.Join(placeholders, ", "))
	if _, err := c.db.ExecContext(ctx, query, values...); err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

// UpdateFunc receives the committed column values of a row and returns the
// columns to change. Returning an error rolls the transaction back.
type UpdateFunc func(fresh map[string]string) (map[string]string, error)

// UpdateRecord runs fn against the current row inside a write transaction
// and writes what it returns together with a new hash and update stamp.
// The updated record is returned; when fn returns no changes nothing is
// written and the current record is returned.
func (c *SQLite) UpdateRecord(ctx context.Context, stashName, id, actor string, columns []string, fn UpdateFunc) (*model.Record, bool, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	record, err := c.getRecord(ctx, tx, stashName, id, columns)
	if err != nil {
		return nil, false, err
	}

	updates, err := fn(copyFields(record.Fields))
	if err != nil {
		return nil, false, err
	}
	changed := make([]string, 0, len(updates))
	for col, v := range updates {
		if !containsFold(columns, col) {
			return nil, false, fmt.Errorf("%w: %s", model.ErrColumnNotFound, col)
		}
		if record.Fields[col] != v {
			changed = append(changed, col)
		}
		record.Set(col, v)
	}
	if len(changed) == 0 {
		return record, false, tx.Commit()
	}
	sort.Strings(changed)

	record.Hash = record.CalculateHash()
	record.UpdatedAt = time.Now().UTC()
	record.UpdatedBy = actor

	sets := []string{`"hash" = ?`, `"updated_at" = ?`, `"updated_by" = ?`}
	args := []interface{}{record.Hash, record.UpdatedAt.Format(time.RFC3339Nano), actor}
	for _, col := range changed {
		sets = append(sets, fmt.Sprintf(`"%s" = ?`, col))
		args = append(args, nullString(record.Fields[col]))
	}
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE "%s" SET %s WHERE id = ?`, sanitizeTableName(stashName), strings.Join(sets, ", "))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, false, fmt.Errorf("failed to update record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit: %w", err)
	}
	return record, true, nil
}

// GetRecord retrieves a record.
func (c *SQLite) GetRecord(ctx context.Context, stashName, id string, columns []string) (*model.Record, error) {
	return c.getRecord(ctx, c.db, stashName, id, columns)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (c *SQLite) getRecord(ctx context.Context, q queryer, stashName, id string, columns []string) (*model.Record, error) {
	allCols := append(append([]string{}, baseCols...), columns...)
	query := fmt.Sprintf(`SELECT %s FROM "%s" WHERE id = ?`,
		strings.Join(quote(allCols), ", "), sanitizeTableName(stashName))

	record, err := scanRecord(q.QueryRowContext(ctx, query, id), columns)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return record, nil
}

// DeleteRecord removes a row and returns its state at deletion, read in
// the same write transaction.
func (c *SQLite) DeleteRecord(ctx context.Context, stashName, id string, columns []string) (*model.Record, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	record, err := c.getRecord(ctx, tx, stashName, id, columns)
	if err != nil {
		return nil, err
	}
	tableName := sanitizeTableName(stashName)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM "%s" WHERE id = ?`, tableName), id); err != nil {
		return nil, fmt.Errorf("failed to delete record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return record, nil
}

// ListRecords lists records with filtering options.
func (c *SQLite) ListRecords(ctx context.Context, stashName string, columns []string, opts ListOptions) ([]*model.Record, error) {
	tableName := sanitizeTableName(stashName)
	allCols := append(append([]string{}, baseCols...), columns...)

	var conditions []string
	var args []interface{}
	for _, w := range opts.Where {
		fieldName := resolveColumnName(w.Field, columns)
		if fieldName == "" {
			return nil, fmt.Errorf("%w: %s", model.ErrColumnNotFound, w.Field)
		}
		switch w.Operator {
		case "=":
			conditions = append(conditions, fmt.Sprintf(`"%s" = ?`, fieldName))
			args = append(args, w.Value)
		case "!=", "<>":
			conditions = append(conditions, fmt.Sprintf(`"%s" != ?`, fieldName))
			args = append(args, w.Value)
		case "LIKE":
			conditions = append(conditions, fmt.Sprintf(`"%s" LIKE ?`, fieldName))
			args = append(args, w.Value)
		case "IS NULL":
			conditions = append(conditions, fmt.Sprintf(`"%s" IS NULL`, fieldName))
		case "IS NOT NULL":
			conditions = append(conditions, fmt.Sprintf(`"%s" IS NOT NULL`, fieldName))
		default:
			return nil, fmt.Errorf("unsupported operator %q", w.Operator)
		}
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	orderBy := "updated_at"
	if opts.OrderBy != "" {
		if resolved := resolveColumnName(opts.OrderBy, columns); resolved != "" {
			orderBy = resolved
		}
	}
	orderDir := "ASC"
	if opts.Descending {
		orderDir = "DESC"
	}

	query := fmt.Sprintf(`SELECT %s FROM "%s" %s ORDER BY "%s" %s`,
		strings.Join(quote(allCols), ", "), tableName, whereClause, orderBy, orderDir)
	// SQLite requires LIMIT before OFFSET.
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
		if opts.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", opts.Offset)
		}
	} else if opts.Offset > 0 {
		query += fmt.Sprintf(" LIMIT -1 OFFSET %d", opts.Offset)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []*model.Record
	for rows.Next() {
		record, err := scanRecord(rows, columns)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// CountRecords returns the number of records in a stash.
func (c *SQLite) CountRecords(stashName string) (int, error) {
	var count int
	err := c.db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, sanitizeTableName(stashName))).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// ClearTable removes all records from a stash table.
func (c *SQLite) ClearTable(stashName string) error {
	_, err := c.db.Exec(fmt.Sprintf(`DELETE FROM "%s"`, sanitizeTableName(stashName)))
	if err != nil {
		return fmt.Errorf("failed to clear table: %w", err)
	}
	return nil
}

// resolveColumnName finds the actual column name case-insensitively.
func resolveColumnName(fieldName string, columns []string) string {
	for _, col := range baseCols {
		if strings.EqualFold(col, fieldName) {
			return col
		}
	}
	for _, col := range columns {
		if strings.EqualFold(col, fieldName) {
			return col
		}
	}
	return ""
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner, columns []string) (*model.Record, error) {
	var id, hash, createdAt, createdBy, updatedAt, updatedBy string

	userVals := make([]sql.NullString, len(columns))
	dests := []interface{}{&id, &hash, &createdAt, &createdBy, &updatedAt, &updatedBy}
	for i := range userVals {
		dests = append(dests, &userVals[i])
	}
	if err := row.Scan(dests...); err != nil {
		return nil, err
	}

	record := &model.Record{
		ID:        id,
		Hash:      hash,
		CreatedBy: createdBy,
		UpdatedBy: updatedBy,
		Fields:    make(map[string]string),
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		record.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		record.UpdatedAt = t
	}
	for i, col := range columns {
		if userVals[i].Valid && userVals[i].String != "" {
			record.Fields[col] = userVals[i].String
		}
	}
	return record, nil
}

// nullString stores empty strings as NULL.
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func copyFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
