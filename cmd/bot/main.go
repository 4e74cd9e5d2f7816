package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/pflag"

	"github.com/mealrota/canteenbot/pkg/booking"
	"github.com/mealrota/canteenbot/pkg/bot"
	"github.com/mealrota/canteenbot/pkg/config"
	"github.com/mealrota/canteenbot/pkg/deadline"
	"github.com/mealrota/canteenbot/pkg/dispatch"
	"github.com/mealrota/canteenbot/pkg/feearchive"
	"github.com/mealrota/canteenbot/pkg/gridstore"
	"github.com/mealrota/canteenbot/pkg/logger"
	"github.com/mealrota/canteenbot/pkg/models"
	"github.com/mealrota/canteenbot/pkg/roster"
	"github.com/mealrota/canteenbot/pkg/scheduler"
	"github.com/mealrota/canteenbot/pkg/stats"
	"github.com/mealrota/canteenbot/pkg/telegram"
)

func main() {
	log := logger.Global

	var (
		configPath = pflag.String("config", "config.yaml", "path to the YAML configuration file")
		check      = pflag.Bool("check", false, "validate configuration and table schemas, then exit")
		daemon     = pflag.Bool("daemon", false, "run the bot with the live trigger loop")
		listen     = pflag.Bool("listen", false, "run the bot without the trigger loop")
		sendToday  = pflag.Bool("send-today", false, "run one card cycle and exit")
		sendStats  = pflag.Bool("send-stats", false, "send one statistics summary and exit")
		verify     = pflag.Bool("verify", false, "print the trigger plan for a time window")
		execute    = pflag.Bool("execute", false, "with --verify, execute the planned actions")
		dateFlag   = pflag.String("date", "", "business date (YYYY-MM-DD), defaults to today")
		mealFlag   = pflag.String("meal", "", "meal for --send-stats: lunch or dinner")
		nowFlag    = pflag.String("now", "", "virtual current time (RFC3339), defaults to the wall clock")
		fromFlag   = pflag.String("from", "", "window start for --verify (RFC3339)")
		toFlag     = pflag.String("to", "", "window end for --verify (RFC3339)")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	log.Debug("Configuration loaded: %+v", cfg.Redacted())

	now, err := clockFrom(*nowFlag)
	if err != nil {
		log.Error("Invalid --now value: %v", err)
		os.Exit(1)
	}

	// Remote store when a grid API is configured, embedded store otherwise
	var store gridstore.Store
	if cfg.GridBaseURL != "" {
		store = gridstore.NewClient(cfg.GridBaseURL, cfg.GridAPIToken)
		log.Info("Using remote grid store at %s", cfg.GridBaseURL)
	} else {
		local, err := gridstore.NewLocal(cfg.DataDir, gridstore.LocalFieldsFromConfig(cfg))
		if err != nil {
			log.Error("Failed to open local store: %v", err)
			os.Exit(1)
		}
		defer local.Close()
		local.StartGCRoutine(10 * time.Minute)
		store = local
		log.Info("Using local store in %s", cfg.DataDir)
	}

	ctx := context.Background()
	schema, err := gridstore.ResolveSchema(ctx, store, cfg)
	if err != nil {
		log.Error("Failed to resolve table schemas: %v", err)
		os.Exit(1)
	}

	if *check {
		log.Info("Configuration and table schemas are valid")
		fmt.Println("OK")
		return
	}

	tgBot, err := telegram.New(cfg.BotToken)
	if err != nil {
		log.Error("Failed to initialize Telegram bot: %v", err)
		os.Exit(1)
	}

	rosterService := roster.New(store, schema, cfg, now)
	gate := deadline.NewGate(cfg)
	bookingService := booking.New(rosterService, gate)
	statsService := stats.New(rosterService, tgBot)
	archiveService := feearchive.New(rosterService, tgBot, cfg)
	app := bot.New(cfg, rosterService, bookingService, statsService, archiveService, tgBot, now)
	dispatcher := dispatch.New(cfg, app)

	switch {
	case *sendToday:
		date, err := dateFrom(*dateFlag, now, cfg)
		if err != nil {
			log.Error("Invalid --date value: %v", err)
			os.Exit(1)
		}
		if err := app.SendDailyCards(ctx, date); err != nil {
			log.Error("Card cycle failed: %v", err)
			os.Exit(1)
		}

	case *sendStats:
		date, err := dateFrom(*dateFlag, now, cfg)
		if err != nil {
			log.Error("Invalid --date value: %v", err)
			os.Exit(1)
		}
		meal, ok := models.ParseMeal(*mealFlag)
		if !ok {
			log.Error("Invalid --meal value %q: want lunch or dinner", *mealFlag)
			os.Exit(1)
		}
		if err := statsService.Send(ctx, date, meal); err != nil {
			log.Error("Statistics send failed: %v", err)
			os.Exit(1)
		}

	case *verify:
		from, to, err := windowFrom(*fromFlag, *toFlag)
		if err != nil {
			log.Error("Invalid --verify window: %v", err)
			os.Exit(1)
		}
		results := dispatcher.Run(ctx, from, to, *execute)
		for _, result := range results {
			status := "planned"
			if result.Executed {
				status = "executed"
			}
			if result.Err != nil {
				status = "failed: " + result.Err.Error()
			}
			fmt.Printf("%s  %s\n", result.Action, status)
		}
		for _, result := range results {
			if result.Err != nil {
				os.Exit(1)
			}
		}

	case *daemon, *listen:
		if *daemon {
			sched := scheduler.New(dispatcher, now)
			sched.Start()
			defer sched.Stop()
		}
		runBot(tgBot, app, log)

	default:
		pflag.Usage()
		os.Exit(2)
	}
}

// runBot runs the interactive update loop until the process is signalled
func runBot(tgBot *telegram.Bot, app *bot.Service, log *logger.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("Shutting down...")
		os.Exit(0)
	}()

	commandHandlers := map[string]telegram.CommandHandler{
		"start": func(message *tgbotapi.Message) {
			app.SendWelcome(fmt.Sprint(message.From.ID))
		},
		"today": func(message *tgbotapi.Message) {
			app.SendRequestedCard(fmt.Sprint(message.From.ID))
		},
	}

	log.Info("Bot is now running. Press CTRL-C to exit.")
	if err := tgBot.Start(commandHandlers, app.HandleCallback, app.HandleMessage); err != nil {
		log.Error("Error running bot: %v", err)
		os.Exit(1)
	}
}

// clockFrom builds the application clock. With --now the clock starts at the
// given instant and advances at wall-clock rate.
func clockFrom(value string) (func() time.Time, error) {
	if value == "" {
		return time.Now, nil
	}
	base, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, err
	}
	offset := base.Sub(time.Now())
	return func() time.Time { return time.Now().Add(offset) }, nil
}

func dateFrom(value string, now func() time.Time, cfg *config.Config) (models.Date, error) {
	if value == "" {
		return models.DateOf(now().In(cfg.Location())), nil
	}
	return models.ParseDate(value)
}

func windowFrom(fromValue, toValue string) (time.Time, time.Time, error) {
	if fromValue == "" || toValue == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("--from and --to are required")
	}
	from, err := time.Parse(time.RFC3339, fromValue)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--from: %w", err)
	}
	to, err := time.Parse(time.RFC3339, toValue)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--to: %w", err)
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("--to must be after --from")
	}
	return from, to, nil
}
