// Package roster is the repository layer between the domain services and the
// grid store: it decodes table rows into domain models, caches the slow-moving
// roster and override tables with a TTL, and owns the write payloads for meal
// records and fee-archive entries.
package roster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mealrota/canteenbot/pkg/config"
	"github.com/mealrota/canteenbot/pkg/gridstore"
	"github.com/mealrota/canteenbot/pkg/logger"
	"github.com/mealrota/canteenbot/pkg/models"
)

// Service reads and writes the five application tables
type Service struct {
	store  gridstore.Store
	schema gridstore.Schema
	loc    *time.Location
	ttl    time.Duration
	now    func() time.Time
	logger *logger.Logger

	mu               sync.Mutex
	people           []models.Person
	peopleFetchedAt  time.Time
	overrides        []models.ScheduleOverride
	overridesFetched time.Time
}

// New creates a roster service. now is injected so cache expiry is testable.
func New(store gridstore.Store, schema gridstore.Schema, cfg *config.Config, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:  store,
		schema: schema,
		loc:    cfg.Location(),
		ttl:    cfg.CacheTTL(),
		now:    now,
		logger: logger.New("roster"),
	}
}

// Refresh reloads the people and override caches. force bypasses the TTL and
// is invoked once per day immediately before card issuance.
func (s *Service) Refresh(ctx context.Context, force bool) error {
	if _, err := s.People(ctx, force); err != nil {
		return err
	}
	if _, err := s.Overrides(ctx, force); err != nil {
		return err
	}
	return nil
}

// People returns the roster, served from cache within the TTL
func (s *Service) People(ctx context.Context, force bool) ([]models.Person, error) {
	s.mu.Lock()
	if !force && s.people != nil && s.now().Sub(s.peopleFetchedAt) < s.ttl {
		people := s.people
		s.mu.Unlock()
		return people, nil
	}
	s.mu.Unlock()

	people, err := s.loadPeople(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.people = people
	s.peopleFetchedAt = s.now()
	s.mu.Unlock()
	s.logger.Debug("people cache refreshed: %d entries, force=%v", len(people), force)
	return people, nil
}

// Person looks up one roster entry by id
func (s *Service) Person(ctx context.Context, personID string) (models.Person, bool, error) {
	people, err := s.People(ctx, false)
	if err != nil {
		return models.Person{}, false, err
	}
	for _, person := range people {
		if person.ID == personID {
			return person, true, nil
		}
	}
	return models.Person{}, false, nil
}

// Overrides returns the schedule override table with ranks assigned in read
// order, served from cache within the TTL
func (s *Service) Overrides(ctx context.Context, force bool) ([]models.ScheduleOverride, error) {
	s.mu.Lock()
	if !force && s.overrides != nil && s.now().Sub(s.overridesFetched) < s.ttl {
		overrides := s.overrides
		s.mu.Unlock()
		return overrides, nil
	}
	s.mu.Unlock()

	overrides, err := s.loadOverrides(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.overrides = overrides
	s.overridesFetched = s.now()
	s.mu.Unlock()
	s.logger.Debug("override cache refreshed: %d entries, force=%v", len(overrides), force)
	return overrides, nil
}

// StatsRecipients returns the recipient roster, deduplicated, in table order
func (s *Service) StatsRecipients(ctx context.Context) ([]string, error) {
	mapping := s.schema.Table(config.TableStatsRecipients)
	records, err := s.store.ListRecords(ctx, mapping.TableID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stats recipients: %w", err)
	}

	var ids []string
	seen := make(map[string]bool)
	for _, record := range records {
		id := extractPersonID(record.Fields[mapping.FieldID("user")])
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Service) loadPeople(ctx context.Context) ([]models.Person, error) {
	mapping := s.schema.Table(config.TablePeople)
	records, err := s.store.ListRecords(ctx, mapping.TableID)
	if err != nil {
		return nil, fmt.Errorf("failed to list people: %w", err)
	}

	var people []models.Person
	seen := make(map[string]bool)
	for _, record := range records {
		personValue := record.Fields[mapping.FieldID("user")]
		id := extractPersonID(personValue)
		if id == "" {
			continue
		}
		if seen[id] {
			// One person, one reservation identity: keep the first row.
			s.logger.Warn("duplicate roster row for person %s ignored (record %s)", id, record.ID)
			continue
		}
		seen[id] = true

		name := extractPersonName(record.Fields[mapping.FieldID("display_name")])
		if name == "" {
			name = extractPersonName(personValue)
		}
		if name == "" {
			name = id
		}

		people = append(people, models.Person{
			ID:          id,
			DisplayName: name,
			Enabled:     toBool(record.Fields[mapping.FieldID("enabled")]),
			LunchPrice:  toDecimal(record.Fields[mapping.FieldID("lunch_price")]),
			DinnerPrice: toDecimal(record.Fields[mapping.FieldID("dinner_price")]),
			Preferences: toMeals(record.Fields[mapping.FieldID("meal_preference")]),
		})
	}
	return people, nil
}

func (s *Service) loadOverrides(ctx context.Context) ([]models.ScheduleOverride, error) {
	mapping := s.schema.Table(config.TableOverrides)
	records, err := s.store.ListRecords(ctx, mapping.TableID)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedule overrides: %w", err)
	}

	var overrides []models.ScheduleOverride
	for _, record := range records {
		start, okStart := toDate(record.Fields[mapping.FieldID("start_date")], s.loc)
		end, okEnd := toDate(record.Fields[mapping.FieldID("end_date")], s.loc)
		if !okStart || !okEnd {
			continue
		}
		if end.Before(start) {
			s.logger.Warn("override record %s has end before start, skipped", record.ID)
			continue
		}
		overrides = append(overrides, models.ScheduleOverride{
			Start:  start,
			End:    end,
			Meals:  toMeals(record.Fields[mapping.FieldID("meals")]),
			Remark: toString(record.Fields[mapping.FieldID("remark")]),
			// Rank is assigned from read order, never trusted from the
			// store's native response shape.
			Rank: len(overrides),
		})
	}
	return overrides, nil
}
