// Package dispatch computes and executes the scheduled actions that fall due
// inside a time window. "Now" never comes from the system clock here: the
// live scheduler and the dry-run verification tool feed the same window
// logic, so a given [from, to) window always yields the same ordered plan.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mealrota/canteenbot/pkg/config"
	"github.com/mealrota/canteenbot/pkg/gridstore"
	"github.com/mealrota/canteenbot/pkg/logger"
	"github.com/mealrota/canteenbot/pkg/models"
)

// Kind identifies a scheduled action type
type Kind string

const (
	KindSendCards      Kind = "send_cards"
	KindLunchDeadline  Kind = "lunch_deadline"
	KindLunchStats     Kind = "lunch_stats"
	KindDinnerDeadline Kind = "dinner_deadline"
	KindDinnerStats    Kind = "dinner_stats"
	KindArchiveCheck   Kind = "archive_check"
)

// phaseOrder fixes the per-day sequence used to break timestamp ties, so a
// day always advances cards -> lunch deadline -> lunch stats -> dinner
// deadline -> dinner stats -> archive check.
var phaseOrder = map[Kind]int{
	KindSendCards:      0,
	KindLunchDeadline:  1,
	KindLunchStats:     2,
	KindDinnerDeadline: 3,
	KindDinnerStats:    4,
	KindArchiveCheck:   5,
}

// Action is one due trigger: what to do, for which business date, and when
type Action struct {
	At   time.Time
	Kind Kind
	Date models.Date
	Meal models.Meal
}

// String formats the action for dry-run output
func (a Action) String() string {
	return fmt.Sprintf("%s %s (date %s)", a.At.Format(time.RFC3339), a.Kind, a.Date)
}

// Result records the outcome of one dispatched action
type Result struct {
	Action   Action
	Executed bool
	Err      error
}

// Executor performs a due action. Implementations bind the action kinds to
// the card, statistics and archive services.
type Executor interface {
	Execute(ctx context.Context, action Action) error
}

// Plan returns the time-ordered actions whose trigger instant falls in
// [from, to), across however many days the window spans. The plan is a pure
// function of the window and the configured times.
func Plan(from, to time.Time, cfg *config.Config) []Action {
	loc := cfg.Location()
	var actions []Action

	// Stats offsets can push an action past midnight, so start scanning one
	// day early to catch spillover into the window.
	day := models.DateOf(from.In(loc)).AddDays(-1)
	lastDay := models.DateOf(to.In(loc))

	for ; !day.After(lastDay); day = day.AddDays(1) {
		send := cfg.SendTime()
		lunch := cfg.LunchDeadline()
		dinner := cfg.DinnerDeadline()
		check := cfg.ArchiveCheckTime()

		candidates := []Action{
			{At: day.At(send.Hour, send.Minute, loc), Kind: KindSendCards, Date: day},
			{At: day.At(lunch.Hour, lunch.Minute, loc), Kind: KindLunchDeadline, Date: day, Meal: models.MealLunch},
			{At: day.At(lunch.Hour, lunch.Minute, loc).Add(cfg.StatsOffset()), Kind: KindLunchStats, Date: day, Meal: models.MealLunch},
			{At: day.At(dinner.Hour, dinner.Minute, loc), Kind: KindDinnerDeadline, Date: day, Meal: models.MealDinner},
			{At: day.At(dinner.Hour, dinner.Minute, loc).Add(cfg.StatsOffset()), Kind: KindDinnerStats, Date: day, Meal: models.MealDinner},
			{At: day.At(check.Hour, check.Minute, loc), Kind: KindArchiveCheck, Date: day},
		}
		for _, action := range candidates {
			if !action.At.Before(from) && action.At.Before(to) {
				actions = append(actions, action)
			}
		}
	}

	sort.SliceStable(actions, func(i, j int) bool {
		if !actions[i].At.Equal(actions[j].At) {
			return actions[i].At.Before(actions[j].At)
		}
		return phaseOrder[actions[i].Kind] < phaseOrder[actions[j].Kind]
	})
	return actions
}

// Dispatcher runs windows of due actions
type Dispatcher struct {
	cfg    *config.Config
	exec   Executor
	logger *logger.Logger
}

// New creates a dispatcher
func New(cfg *config.Config, exec Executor) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		exec:   exec,
		logger: logger.New("dispatch"),
	}
}

// Run computes the window's plan and, in execute mode, invokes the actions
// strictly in timestamp order. A failing action is reported and skipped;
// subsequent independent actions in the window still run.
func (d *Dispatcher) Run(ctx context.Context, from, to time.Time, execute bool) []Result {
	actions := Plan(from, to, d.cfg)
	results := make([]Result, 0, len(actions))

	for _, action := range actions {
		result := Result{Action: action, Executed: execute}
		if execute {
			if err := d.exec.Execute(ctx, action); err != nil {
				result.Err = err
				if gridstore.IsTransient(err) {
					d.logger.Error("action %s failed transiently: %v", action, err)
				} else {
					d.logger.Error("action %s failed: %v", action, err)
				}
			} else {
				d.logger.Info("executed %s", action)
			}
		}
		results = append(results, result)
	}
	return results
}
