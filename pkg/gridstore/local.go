package gridstore

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"

	"github.com/mealrota/canteenbot/pkg/config"
	"github.com/mealrota/canteenbot/pkg/logger"
)

// Local is a BadgerDB-backed Store used by the development mode and offline
// verification. Rows are kept under monotonically numbered keys so that
// ListRecords preserves append order, exactly like the remote store does.
// The schema is declared at construction: field ids are the field names.
type Local struct {
	db     *badger.DB
	fields map[string][]string
	logger *logger.Logger

	mu   sync.Mutex
	seqs map[string]*badger.Sequence
}

// LocalFieldsFromConfig derives the per-table field declarations the local
// store announces through ListFields.
func LocalFieldsFromConfig(cfg *config.Config) map[string][]string {
	fields := make(map[string][]string)
	for _, alias := range config.TableAliases() {
		tableID := cfg.Tables[alias]
		for _, logical := range config.RequiredFields(alias) {
			fields[tableID] = append(fields[tableID], cfg.FieldNames[alias][logical])
		}
	}
	return fields
}

// NewLocal opens a local store in dataDir
func NewLocal(dataDir string, fields map[string][]string) (*Local, error) {
	absPath, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	opts := badger.DefaultOptions(absPath)
	opts.Logger = nil // Disable Badger's internal logger

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	log := logger.New("localstore")
	log.Info("BadgerDB opened at %s", absPath)
	return &Local{
		db:     db,
		fields: fields,
		logger: log,
		seqs:   make(map[string]*badger.Sequence),
	}, nil
}

// Close releases sequences and closes the database
func (l *Local) Close() error {
	l.mu.Lock()
	for _, seq := range l.seqs {
		seq.Release()
	}
	l.seqs = make(map[string]*badger.Sequence)
	l.mu.Unlock()

	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// ListFields returns the declared schema of a table, field id = field name
func (l *Local) ListFields(_ context.Context, tableID string) ([]FieldMeta, error) {
	names, ok := l.fields[tableID]
	if !ok {
		return nil, fmt.Errorf("unknown table %s", tableID)
	}
	metas := make([]FieldMeta, 0, len(names))
	for _, name := range names {
		metas = append(metas, FieldMeta{ID: name, Name: name})
	}
	return metas, nil
}

// ListRecords returns all rows of a table in append order
func (l *Local) ListRecords(_ context.Context, tableID string) ([]Record, error) {
	var records []Record
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(recordPrefix(tableID))
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var record Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			})
			if err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list records of %s: %w", tableID, err)
	}
	return records, nil
}

// CreateRecord appends a row and returns its record id
func (l *Local) CreateRecord(_ context.Context, tableID string, fields map[string]interface{}) (string, error) {
	seq, err := l.nextSeq(tableID)
	if err != nil {
		return "", err
	}

	record := Record{ID: uuid.NewString(), Fields: fields}
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}

	key := recordKey(tableID, seq)
	err = l.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(key), data); err != nil {
			return err
		}
		return txn.Set([]byte(indexKey(tableID, record.ID)), []byte(key))
	})
	if err != nil {
		return "", fmt.Errorf("failed to create record in %s: %w", tableID, err)
	}
	return record.ID, nil
}

// UpdateRecord rewrites the given fields of an existing row in place
func (l *Local) UpdateRecord(_ context.Context, tableID string, recordID string, fields map[string]interface{}) error {
	err := l.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(indexKey(tableID, recordID)))
		if err != nil {
			return err
		}
		var key []byte
		if err := item.Value(func(val []byte) error {
			key = append([]byte{}, val...)
			return nil
		}); err != nil {
			return err
		}

		item, err = txn.Get(key)
		if err != nil {
			return err
		}
		var record Record
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		}); err != nil {
			return err
		}

		for id, value := range fields {
			record.Fields[id] = value
		}
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	if err == badger.ErrKeyNotFound {
		return fmt.Errorf("record %s not found in %s", recordID, tableID)
	}
	if err != nil {
		return fmt.Errorf("failed to update record %s in %s: %w", recordID, tableID, err)
	}
	return nil
}

// StartGCRoutine starts a goroutine that periodically runs value-log GC
func (l *Local) StartGCRoutine(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for range ticker.C {
			err := l.db.RunValueLogGC(0.5)
			if err != nil && err != badger.ErrNoRewrite {
				l.logger.Error("BadgerDB GC error: %v", err)
			}
		}
	}()
	l.logger.Info("Started BadgerDB GC routine with interval %v", interval)
}

func (l *Local) nextSeq(tableID string) (uint64, error) {
	l.mu.Lock()
	seq, ok := l.seqs[tableID]
	if !ok {
		var err error
		seq, err = l.db.GetSequence([]byte("seq:"+tableID), 100)
		if err != nil {
			l.mu.Unlock()
			return 0, fmt.Errorf("failed to open sequence for %s: %w", tableID, err)
		}
		l.seqs[tableID] = seq
	}
	l.mu.Unlock()

	n, err := seq.Next()
	if err != nil {
		return 0, fmt.Errorf("failed to advance sequence for %s: %w", tableID, err)
	}
	return n, nil
}

func recordPrefix(tableID string) string {
	return fmt.Sprintf("rec:%s:", tableID)
}

func recordKey(tableID string, seq uint64) string {
	return fmt.Sprintf("rec:%s:%020d", tableID, seq)
}

func indexKey(tableID, recordID string) string {
	return fmt.Sprintf("idx:%s:%s", tableID, recordID)
}
