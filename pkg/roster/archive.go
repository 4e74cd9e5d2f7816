package roster

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mealrota/canteenbot/pkg/config"
	"github.com/mealrota/canteenbot/pkg/models"
)

// ListArchiveEntries returns all fee-archive rows
func (s *Service) ListArchiveEntries(ctx context.Context) ([]models.FeeArchiveEntry, error) {
	mapping := s.schema.Table(config.TableFeeArchive)
	records, err := s.store.ListRecords(ctx, mapping.TableID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fee archive entries: %w", err)
	}

	var entries []models.FeeArchiveEntry
	for _, record := range records {
		personID := extractPersonID(record.Fields[mapping.FieldID("user")])
		if personID == "" {
			continue
		}
		start, okStart := toDate(record.Fields[mapping.FieldID("window_start")], s.loc)
		end, okEnd := toDate(record.Fields[mapping.FieldID("window_end")], s.loc)
		if !okStart || !okEnd {
			continue
		}
		entries = append(entries, models.FeeArchiveEntry{
			RecordID:    record.ID,
			PersonID:    personID,
			WindowStart: start,
			WindowEnd:   end,
			Total:       toDecimal(record.Fields[mapping.FieldID("total")]),
		})
	}
	return entries, nil
}

// UpsertArchiveEntry writes one person's total for a window. Re-running the
// archive on the same day finds the existing row and overwrites it, so the
// write path never accumulates.
func (s *Service) UpsertArchiveEntry(ctx context.Context, personID string, windowStart, windowEnd models.Date, total decimal.Decimal) error {
	entries, err := s.ListArchiveEntries(ctx)
	if err != nil {
		return err
	}

	mapping := s.schema.Table(config.TableFeeArchive)
	fields := map[string]interface{}{
		mapping.FieldID("user"):         []map[string]interface{}{{"id": personID}},
		mapping.FieldID("window_start"): dateToMillis(windowStart, s.loc),
		mapping.FieldID("window_end"):   dateToMillis(windowEnd, s.loc),
		mapping.FieldID("total"):        formatDecimal(total),
	}

	for _, entry := range entries {
		if entry.PersonID == personID && entry.WindowStart == windowStart && entry.WindowEnd == windowEnd {
			if err := s.store.UpdateRecord(ctx, mapping.TableID, entry.RecordID, fields); err != nil {
				return fmt.Errorf("failed to overwrite fee archive entry %s: %w", entry.RecordID, err)
			}
			return nil
		}
	}

	if _, err := s.store.CreateRecord(ctx, mapping.TableID, fields); err != nil {
		return fmt.Errorf("failed to create fee archive entry: %w", err)
	}
	return nil
}
