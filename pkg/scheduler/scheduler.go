package scheduler

import (
	"context"
	"time"

	"github.com/mealrota/canteenbot/pkg/dispatch"
	"github.com/mealrota/canteenbot/pkg/logger"
)

// tickInterval is how often the loop checks for due actions. Dispatch is
// window-based, so a longer interval only delays actions, never drops them.
const tickInterval = 30 * time.Second

// Service drives the dispatcher from the wall clock
type Service struct {
	dispatcher *dispatch.Dispatcher
	now        func() time.Time
	logger     *logger.Logger
	stopChan   chan struct{}
}

// New creates a new scheduler service
func New(dispatcher *dispatch.Dispatcher, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		dispatcher: dispatcher,
		now:        now,
		logger:     logger.New("scheduler"),
		stopChan:   make(chan struct{}),
	}
}

// Start starts the trigger loop
func (s *Service) Start() {
	s.logger.Info("Starting trigger loop (interval %s)", tickInterval)
	go s.run()
}

// Stop stops the trigger loop
func (s *Service) Stop() {
	s.logger.Info("Stopping trigger loop")
	close(s.stopChan)
}

func (s *Service) run() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	// Actions due before startup are considered missed, not pending:
	// replaying an old card cycle hours late would only confuse people.
	mark := s.now()

	for {
		select {
		case <-ticker.C:
			now := s.now()
			if !now.After(mark) {
				continue
			}
			s.runWindow(mark, now)
			mark = now
		case <-s.stopChan:
			s.logger.Info("Trigger loop stopped")
			return
		}
	}
}

func (s *Service) runWindow(from, to time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	results := s.dispatcher.Run(ctx, from, to, true)
	for _, result := range results {
		if result.Err != nil {
			s.logger.Error("scheduled action %s failed: %v", result.Action, result.Err)
		}
	}
}
