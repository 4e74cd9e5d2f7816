package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Table aliases used throughout the application. The YAML config maps each
// alias to a table id in the remote store.
const (
	TablePeople          = "people"
	TableOverrides       = "overrides"
	TableRecords         = "records"
	TableStatsRecipients = "stats_recipients"
	TableFeeArchive      = "fee_archive"
)

// requiredFields lists the logical field keys every table mapping must name
var requiredFields = map[string][]string{
	TablePeople:          {"user", "display_name", "meal_preference", "lunch_price", "dinner_price", "enabled"},
	TableOverrides:       {"start_date", "end_date", "meals", "remark"},
	TableRecords:         {"date", "user", "meal_type", "status", "price"},
	TableStatsRecipients: {"user"},
	TableFeeArchive:      {"user", "window_start", "window_end", "total"},
}

// RequiredFields returns the logical field keys a table mapping must define
func RequiredFields(table string) []string {
	return requiredFields[table]
}

// TableAliases returns all known table aliases
func TableAliases() []string {
	return []string{TablePeople, TableOverrides, TableRecords, TableStatsRecipients, TableFeeArchive}
}

// Clock is a wall-clock time of day in the business timezone
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses an HH:MM string
func ParseClock(value string) (Clock, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return Clock{}, fmt.Errorf("invalid time %q: want HH:MM", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return Clock{}, fmt.Errorf("invalid time %q: %w", value, err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return Clock{}, fmt.Errorf("invalid time %q: %w", value, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return Clock{}, fmt.Errorf("time %q out of range", value)
	}
	return Clock{Hour: hour, Minute: minute}, nil
}

// String formats the clock as HH:MM
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// ScheduleConfig holds the daily trigger times
type ScheduleConfig struct {
	SendTime           string `yaml:"send_time"`
	LunchDeadline      string `yaml:"lunch_deadline"`
	DinnerDeadline     string `yaml:"dinner_deadline"`
	StatsOffsetMinutes int    `yaml:"stats_offset_minutes"`
	CacheTTLMinutes    int    `yaml:"cache_ttl_minutes"`
}

// ArchiveConfig holds the monthly fee-archival settings
type ArchiveConfig struct {
	DayOfMonth int    `yaml:"day_of_month"`
	CheckTime  string `yaml:"check_time"`
}

// Config holds all configuration for the application. Structure comes from a
// YAML file, secrets from the environment (optionally via a .env file).
type Config struct {
	Timezone   string                       `yaml:"timezone"`
	Schedule   ScheduleConfig               `yaml:"schedule"`
	Archive    ArchiveConfig                `yaml:"archive"`
	Tables     map[string]string            `yaml:"tables"`
	FieldNames map[string]map[string]string `yaml:"field_names"`

	// Secrets, never read from the YAML file
	BotToken     string `yaml:"-"`
	GridBaseURL  string `yaml:"-"`
	GridAPIToken string `yaml:"-"`
	DataDir      string `yaml:"-"`

	location *time.Location

	sendTime       Clock
	lunchDeadline  Clock
	dinnerDeadline Clock
	archiveCheck   Clock
}

// Load reads the YAML config at path, merges environment secrets and
// validates the result. Any error it returns is fatal for startup.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: error loading .env file: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := &Config{
		Timezone: "Asia/Shanghai",
		Schedule: ScheduleConfig{
			SendTime:           "09:00",
			LunchDeadline:      "10:30",
			DinnerDeadline:     "16:30",
			StatsOffsetMinutes: 5,
			CacheTTLMinutes:    10,
		},
		Archive: ArchiveConfig{
			DayOfMonth: 31,
			CheckTime:  "20:00",
		},
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.BotToken = os.Getenv("BOT_TOKEN")
	cfg.GridBaseURL = os.Getenv("GRID_BASE_URL")
	cfg.GridAPIToken = os.Getenv("GRID_API_TOKEN")
	cfg.DataDir = envWithDefault("DATA_DIR", "data")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	c.location = loc

	if c.sendTime, err = ParseClock(c.Schedule.SendTime); err != nil {
		return fmt.Errorf("schedule.send_time: %w", err)
	}
	if c.lunchDeadline, err = ParseClock(c.Schedule.LunchDeadline); err != nil {
		return fmt.Errorf("schedule.lunch_deadline: %w", err)
	}
	if c.dinnerDeadline, err = ParseClock(c.Schedule.DinnerDeadline); err != nil {
		return fmt.Errorf("schedule.dinner_deadline: %w", err)
	}
	if c.archiveCheck, err = ParseClock(c.Archive.CheckTime); err != nil {
		return fmt.Errorf("archive.check_time: %w", err)
	}
	if c.Schedule.StatsOffsetMinutes < 0 {
		return fmt.Errorf("schedule.stats_offset_minutes must not be negative")
	}
	if c.Schedule.CacheTTLMinutes <= 0 {
		return fmt.Errorf("schedule.cache_ttl_minutes must be positive")
	}
	if c.Archive.DayOfMonth < 1 || c.Archive.DayOfMonth > 31 {
		return fmt.Errorf("archive.day_of_month must be between 1 and 31")
	}

	for _, alias := range TableAliases() {
		if c.Tables[alias] == "" {
			return fmt.Errorf("tables.%s is missing", alias)
		}
		mapping := c.FieldNames[alias]
		if mapping == nil {
			return fmt.Errorf("field_names.%s is missing", alias)
		}
		seen := make(map[string]string)
		for _, key := range requiredFields[alias] {
			name := mapping[key]
			if name == "" {
				return fmt.Errorf("field_names.%s.%s is missing", alias, key)
			}
			if prev, dup := seen[name]; dup {
				return fmt.Errorf("field_names.%s: field name %q used by both %s and %s", alias, name, prev, key)
			}
			seen[name] = key
		}
	}

	if c.GridBaseURL != "" && c.GridAPIToken == "" {
		return fmt.Errorf("GRID_API_TOKEN is required when GRID_BASE_URL is set")
	}

	return nil
}

// Location returns the business timezone
func (c *Config) Location() *time.Location {
	return c.location
}

// SendTime returns the daily card-send time of day
func (c *Config) SendTime() Clock {
	return c.sendTime
}

// Deadline returns the per-meal deadline time of day
func (c *Config) Deadline(meal string) Clock {
	if meal == "dinner" {
		return c.dinnerDeadline
	}
	return c.lunchDeadline
}

// LunchDeadline returns the lunch selection deadline time of day
func (c *Config) LunchDeadline() Clock {
	return c.lunchDeadline
}

// DinnerDeadline returns the dinner selection deadline time of day
func (c *Config) DinnerDeadline() Clock {
	return c.dinnerDeadline
}

// ArchiveCheckTime returns the archive-check time of day
func (c *Config) ArchiveCheckTime() Clock {
	return c.archiveCheck
}

// StatsOffset returns the delay between a deadline and its statistics send
func (c *Config) StatsOffset() time.Duration {
	return time.Duration(c.Schedule.StatsOffsetMinutes) * time.Minute
}

// CacheTTL returns how long roster and override reads may be served stale
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Schedule.CacheTTLMinutes) * time.Minute
}

// Redacted returns a copy safe for logging
func (c *Config) Redacted() Config {
	out := *c
	out.BotToken = redact(c.BotToken)
	out.GridAPIToken = redact(c.GridAPIToken)
	return out
}

func redact(secret string) string {
	if len(secret) > 8 {
		return secret[:8] + "...REDACTED..."
	}
	if secret != "" {
		return "...REDACTED..."
	}
	return ""
}

// envWithDefault returns the value of the environment variable or the default value
func envWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
