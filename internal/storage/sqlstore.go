package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Dialect selects the SQL flavour a store and its migrations use.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

var placeholderPattern = regexp.MustCompile(`\$[0-9]+`)

// rebind rewrites $n placeholders for drivers that only take '?'. Arguments
// are always passed in placeholder order.
func (d Dialect) rebind(query string) string {
	if d == DialectSQLite {
		return placeholderPattern.ReplaceAllString(query, "?")
	}
	return query
}

// SQLRecordStore is a RecordStore over database/sql. One physical table,
// config_records, holds every logical config table.
type SQLRecordStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewSQLRecordStore wraps an open database. The schema must already exist;
// see Migrator.
func NewSQLRecordStore(db *sql.DB, dialect Dialect) *SQLRecordStore {
	return &SQLRecordStore{db: db, dialect: dialect, now: time.Now}
}

// DB returns the underlying database handle.
func (s *SQLRecordStore) DB() *sql.DB {
	return s.db
}

func (s *SQLRecordStore) Dialect() Dialect {
	return s.dialect
}

func (s *SQLRecordStore) Get(ctx context.Context, table, name string, id int64) (*Record, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT info, data, updated_at FROM config_records
		 WHERE table_name = $1 AND cfg_name = $2 AND cfg_id = $3`),
		table, name, id)

	var info, data []byte
	var updatedAt time.Time
	if err := row.Scan(&info, &data, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get config record: %w", err)
	}
	record := &Record{Table: table, Name: name, ID: id, UpdatedAt: updatedAt}
	if err := decodeDocument(record, info, data); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *SQLRecordStore) Put(ctx context.Context, record *Record) error {
	if err := record.validate(); err != nil {
		return err
	}
	info, data, err := encodeDocument(record)
	if err != nil {
		return err
	}
	updatedAt := s.now().UTC()
	_, err = s.db.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO config_records (table_name, cfg_name, cfg_id, info, data, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (table_name, cfg_name, cfg_id)
		 DO UPDATE SET info = excluded.info, data = excluded.data, updated_at = excluded.updated_at`),
		record.Table,
		record.Name,
		record.ID,
		string(info),
		string(data),
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("put config record: %w", err)
	}
	record.UpdatedAt = updatedAt
	return nil
}

func (s *SQLRecordStore) Delete(ctx context.Context, table, name string, id int64) error {
	result, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`DELETE FROM config_records WHERE table_name = $1 AND cfg_name = $2 AND cfg_id = $3`),
		table, name, id)
	if err != nil {
		return fmt.Errorf("delete config record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete config record: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLRecordStore) List(ctx context.Context, table, name string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		`SELECT cfg_id, info, data, updated_at FROM config_records
		 WHERE table_name = $1 AND cfg_name = $2 ORDER BY cfg_id`),
		table, name)
	if err != nil {
		return nil, fmt.Errorf("list config records: %w", err)
	}
	defer rows.Close()

	records := []*Record{}
	for rows.Next() {
		record := &Record{Table: table, Name: name}
		var info, data []byte
		if err := rows.Scan(&record.ID, &info, &data, &record.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan config record: %w", err)
		}
		if err := decodeDocument(record, info, data); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list config records: %w", err)
	}
	return records, nil
}

// Ping checks connectivity.
func (s *SQLRecordStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLRecordStore) Close() error {
	return s.db.Close()
}

func encodeDocument(record *Record) ([]byte, []byte, error) {
	info := record.Info
	if info == nil {
		info = map[string]any{}
	}
	data := record.Data
	if data == nil {
		data = map[string]json.RawMessage{}
	}
	infoJSON, err := json.Marshal(info)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal record info: %w", err)
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal record data: %w", err)
	}
	return infoJSON, dataJSON, nil
}

func decodeDocument(record *Record, info, data []byte) error {
	if err := ValidateDocument(info, data); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, record.Key(), err)
	}
	record.Data = map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &record.Data); err != nil {
		return fmt.Errorf("%w: %s: decode data: %v", ErrInvalid, record.Key(), err)
	}
	dec := json.NewDecoder(bytes.NewReader(info))
	dec.UseNumber()
	record.Info = map[string]any{}
	if err := dec.Decode(&record.Info); err != nil {
		return fmt.Errorf("%w: %s: decode info: %v", ErrInvalid, record.Key(), err)
	}
	normalizeInfo(record.Info)
	return nil
}

// normalizeInfo turns integral json.Number values into int64.
func normalizeInfo(info map[string]any) {
	for k, v := range info {
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				info[k] = i
			}
		}
	}
}

// SchemaVersion reads the schema_version info entry written by the config
// engine. It returns 0 when the entry is missing.
func SchemaVersion(info map[string]any) int {
	switch v := info["schema_version"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}
