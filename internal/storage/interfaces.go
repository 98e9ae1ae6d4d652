package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid record")
)

// Record is one persisted configuration row. Records are partitioned by
// Table (the physical config table a schema is stored in) and keyed by the
// schema Name and the scope ID.
type Record struct {
	Table     string
	Name      string
	ID        int64
	Data      map[string]json.RawMessage
	Info      map[string]any
	UpdatedAt time.Time
}

// Key identifies a record for logging and error messages.
func (r *Record) Key() string {
	if r == nil {
		return ""
	}
	return recordKey(r.Table, r.Name, r.ID)
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := &Record{
		Table:     r.Table,
		Name:      r.Name,
		ID:        r.ID,
		UpdatedAt: r.UpdatedAt,
		Data:      make(map[string]json.RawMessage, len(r.Data)),
		Info:      make(map[string]any, len(r.Info)),
	}
	for k, v := range r.Data {
		if v == nil {
			out.Data[k] = nil
			continue
		}
		copied := make([]byte, len(v))
		copy(copied, v)
		out.Data[k] = copied
	}
	for k, v := range r.Info {
		out.Info[k] = v
	}
	return out
}

func (r *Record) validate() error {
	if r == nil {
		return errors.Join(ErrInvalid, errors.New("record is required"))
	}
	if r.Table == "" || r.Name == "" {
		return errors.Join(ErrInvalid, errors.New("record table and name are required"))
	}
	return nil
}

// RecordStore persists configuration records. Each call is atomic for a
// single record; no cross-record transactions are offered.
type RecordStore interface {
	Get(ctx context.Context, table, name string, id int64) (*Record, error)
	Put(ctx context.Context, record *Record) error
	Delete(ctx context.Context, table, name string, id int64) error
	List(ctx context.Context, table, name string) ([]*Record, error)
	Close() error
}
