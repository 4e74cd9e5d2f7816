package roster

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mealrota/canteenbot/pkg/config"
	"github.com/mealrota/canteenbot/pkg/models"
)

// ListDayRows returns every meal record for the date, in store append order
func (s *Service) ListDayRows(ctx context.Context, date models.Date) ([]models.RecordRow, error) {
	return s.listRows(ctx, func(d models.Date) bool { return d == date }, "")
}

// ListPersonRows returns the date's meal records for one person, in store
// append order
func (s *Service) ListPersonRows(ctx context.Context, date models.Date, personID string) ([]models.RecordRow, error) {
	return s.listRows(ctx, func(d models.Date) bool { return d == date }, personID)
}

// ListRangeRows returns every meal record with a date inside the closed
// interval [start, end], in store append order
func (s *Service) ListRangeRows(ctx context.Context, start, end models.Date) ([]models.RecordRow, error) {
	return s.listRows(ctx, func(d models.Date) bool { return !d.Before(start) && !d.After(end) }, "")
}

func (s *Service) listRows(ctx context.Context, includeDate func(models.Date) bool, personID string) ([]models.RecordRow, error) {
	mapping := s.schema.Table(config.TableRecords)
	records, err := s.store.ListRecords(ctx, mapping.TableID)
	if err != nil {
		return nil, fmt.Errorf("failed to list meal records: %w", err)
	}

	var rows []models.RecordRow
	for seq, record := range records {
		recordDate, ok := toDate(record.Fields[mapping.FieldID("date")], s.loc)
		if !ok || !includeDate(recordDate) {
			continue
		}
		rowPersonID := extractPersonID(record.Fields[mapping.FieldID("user")])
		if rowPersonID == "" {
			continue
		}
		if personID != "" && rowPersonID != personID {
			continue
		}
		meal, ok := models.ParseMeal(toString(record.Fields[mapping.FieldID("meal_type")]))
		if !ok {
			continue
		}
		rows = append(rows, models.RecordRow{
			RecordID: record.ID,
			Date:     recordDate,
			PersonID: rowPersonID,
			Meal:     meal,
			Status:   toStatus(record.Fields[mapping.FieldID("status")]),
			Price:    toDecimal(record.Fields[mapping.FieldID("price")]),
			Seq:      seq,
		})
	}
	return rows, nil
}

// ActiveByMeal resolves rows for one (date, person) down to the authoritative
// row per meal. When the store holds duplicates for a key, the most recently
// appended row wins; earlier ones are ignored for reads but never deleted.
func (s *Service) ActiveByMeal(rows []models.RecordRow) map[models.Meal]models.RecordRow {
	active := make(map[models.Meal]models.RecordRow)
	for _, row := range rows {
		prev, exists := active[row.Meal]
		if exists {
			s.logger.Warn("duplicate meal records for date=%s person=%s meal=%s: keeping %s, ignoring %s",
				row.Date, row.PersonID, row.Meal, laterOf(prev, row).RecordID, earlierOf(prev, row).RecordID)
		}
		if !exists || row.Seq > prev.Seq {
			active[row.Meal] = row
		}
	}
	return active
}

func laterOf(a, b models.RecordRow) models.RecordRow {
	if a.Seq > b.Seq {
		return a
	}
	return b
}

func earlierOf(a, b models.RecordRow) models.RecordRow {
	if a.Seq > b.Seq {
		return b
	}
	return a
}

// CreateMealRecord appends a new record with a full field payload, including
// the price snapshot, and returns its record id.
func (s *Service) CreateMealRecord(ctx context.Context, date models.Date, personID string, meal models.Meal, status models.ReservationStatus, price decimal.Decimal) (string, error) {
	mapping := s.schema.Table(config.TableRecords)
	fields := map[string]interface{}{
		mapping.FieldID("date"):      dateToMillis(date, s.loc),
		mapping.FieldID("user"):      []map[string]interface{}{{"id": personID}},
		mapping.FieldID("meal_type"): string(meal),
		mapping.FieldID("status"):    string(status),
		mapping.FieldID("price"):     formatDecimal(price),
	}
	recordID, err := s.store.CreateRecord(ctx, mapping.TableID, fields)
	if err != nil {
		return "", fmt.Errorf("failed to create meal record: %w", err)
	}
	return recordID, nil
}

// UpdateMealStatus rewrites only the reservation status of an existing
// record. The price field is left untouched: it is a historical snapshot.
func (s *Service) UpdateMealStatus(ctx context.Context, recordID string, status models.ReservationStatus) error {
	mapping := s.schema.Table(config.TableRecords)
	fields := map[string]interface{}{
		mapping.FieldID("status"): string(status),
	}
	if err := s.store.UpdateRecord(ctx, mapping.TableID, recordID, fields); err != nil {
		return fmt.Errorf("failed to update meal record %s: %w", recordID, err)
	}
	return nil
}

// UpdateMealStatusAndPrice rewrites status and price together, used when a
// cancelled record is re-confirmed and the price snapshot must be retaken.
func (s *Service) UpdateMealStatusAndPrice(ctx context.Context, recordID string, status models.ReservationStatus, price decimal.Decimal) error {
	mapping := s.schema.Table(config.TableRecords)
	fields := map[string]interface{}{
		mapping.FieldID("status"): string(status),
		mapping.FieldID("price"):  formatDecimal(price),
	}
	if err := s.store.UpdateRecord(ctx, mapping.TableID, recordID, fields); err != nil {
		return fmt.Errorf("failed to update meal record %s: %w", recordID, err)
	}
	return nil
}
