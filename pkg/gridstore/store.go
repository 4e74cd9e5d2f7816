// Package gridstore abstracts the remote tabular record store. The core
// addresses fields by logical name only; the schema resolver binds those
// names to store field ids once at startup.
package gridstore

import (
	"context"
	"errors"
)

// ErrTransient marks store failures that are retryable from the caller's
// point of view (timeouts, rate limits, 5xx). The triggering action should
// be reported and skipped, never silently swallowed.
var ErrTransient = errors.New("transient store error")

// IsTransient reports whether err is a transient store failure
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// FieldMeta describes one field of a table's schema
type FieldMeta struct {
	ID   string `json:"field_id"`
	Name string `json:"field_name"`
	Type int    `json:"type"`
}

// Record is one table row. Fields are keyed by store field id; values keep
// the store's loose typing (numbers, strings, person lists).
type Record struct {
	ID     string                 `json:"record_id"`
	Fields map[string]interface{} `json:"fields"`
}

// Store is the capability interface over the tabular store. ListRecords must
// return rows in stable append order: duplicate resolution depends on it.
type Store interface {
	ListFields(ctx context.Context, tableID string) ([]FieldMeta, error)
	ListRecords(ctx context.Context, tableID string) ([]Record, error)
	CreateRecord(ctx context.Context, tableID string, fields map[string]interface{}) (string, error)
	UpdateRecord(ctx context.Context, tableID string, recordID string, fields map[string]interface{}) error
}
