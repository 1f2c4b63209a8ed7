// Package config loads the immutable, process-wide configuration snapshot
// from the environment, per spec §6.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ScheduleSlot is one configured wall-clock delivery time, already
// converted to UTC hour/minute at load time.
type ScheduleSlot struct {
	// Local is the HH:MM string as configured, in the operator's timezone.
	Local string
	// UTCHour and UTCMinute are Local converted to UTC.
	UTCHour, UTCMinute int
}

// Key returns the wall-clock key used to build a lease name for this slot
// on a given date, per spec §4.8 ("schedule:{HH:MM}:{YYYY-MM-DD}").
func (s ScheduleSlot) Key() string {
	return fmt.Sprintf("%02d:%02d", s.UTCHour, s.UTCMinute)
}

// Config is the typed snapshot of every environment-derived setting.
// Loaded once at start; every field is read-only thereafter.
type Config struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"UTC"`
	Port   int    `envconfig:"PORT" default:"8080"`

	Telegram struct {
		BotToken      string `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
		WebhookSecret string `envconfig:"TELEGRAM_WEBHOOK_SECRET" required:"true"`
		AdminChatID   int64  `envconfig:"TELEGRAM_CHAT_ID" required:"true"`
	} `envconfig:""`

	OpenAI struct {
		APIKey string `envconfig:"OPENAI_API_KEY" required:"true"`
		Model  string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	} `envconfig:""`

	Nitter struct {
		Instance string `envconfig:"NITTER_INSTANCE" required:"true"`
		APIKey   string `envconfig:"NITTER_API_KEY"`
	} `envconfig:""`

	AdminAPIKey string `envconfig:"API_KEY" required:"true"`
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	MaxTweets     int    `envconfig:"MAX_TWEETS" default:"50"`
	HoursLookback int    `envconfig:"HOURS_LOOKBACK" default:"12"`
	ScheduleTimes string `envconfig:"SCHEDULE_TIMES" default:"08:00,20:00"`
	UsernamesFile string `envconfig:"USERNAMES_FILE" default:"data/usernames.txt"`
	BaseLanguage  string `envconfig:"BASE_LANGUAGE" default:"en"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	Queue struct {
		// Backend selects the Delivery Orchestrator's fan-out transport:
		// "" (default) uses the in-process bounded-concurrency semaphore of
		// spec §4.6; "redis" or "rabbitmq" route jobs through a durable
		// DeliveryQueue for horizontally-scaled deployments.
		Backend   string `envconfig:"DELIVERY_QUEUE_BACKEND" default:""`
		RabbitURL string `envconfig:"RABBITMQ_URL"`
		QueueName string `envconfig:"DELIVERY_QUEUE_KEY" default:"delivery_jobs"`
	} `envconfig:""`

	Schedule []ScheduleSlot
}

// Load reads Config from the environment, validating and deriving the
// fields that need more than a single envconfig tag (the schedule list).
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("configuration-invalid: %w", err)
	}

	loc, err := loadLocation(cfg.TZ)
	if err != nil {
		return Config{}, fmt.Errorf("configuration-invalid: invalid TZ %q: %w", cfg.TZ, err)
	}

	slots, err := parseSchedule(cfg.ScheduleTimes, loc)
	if err != nil {
		return Config{}, fmt.Errorf("configuration-invalid: %w", err)
	}
	cfg.Schedule = slots

	if cfg.HoursLookback < 1 {
		return Config{}, fmt.Errorf("configuration-invalid: HOURS_LOOKBACK must be >= 1")
	}
	if cfg.MaxTweets < 1 {
		return Config{}, fmt.Errorf("configuration-invalid: MAX_TWEETS must be >= 1")
	}

	return cfg, nil
}

func parseSchedule(raw string, loc *time.Location) ([]ScheduleSlot, error) {
	parts := strings.Split(raw, ",")
	slots := make([]ScheduleSlot, 0, len(parts))
	for _, part := range parts {
		local := strings.TrimSpace(part)
		if local == "" {
			continue
		}
		hh, mm, err := parseHHMM(local)
		if err != nil {
			return nil, fmt.Errorf("invalid SCHEDULE_TIMES entry %q: %w", local, err)
		}
		// Anchor to a fixed reference date purely to compute the UTC
		// offset; the date itself is irrelevant because the slot key is
		// recomputed daily from wall-clock time in Scheduler.
		anchor := time.Date(2000, 1, 1, hh, mm, 0, 0, loc).UTC()
		slots = append(slots, ScheduleSlot{Local: local, UTCHour: anchor.Hour(), UTCMinute: anchor.Minute()})
	}
	if len(slots) == 0 {
		return nil, fmt.Errorf("SCHEDULE_TIMES must name at least one HH:MM slot")
	}
	return slots, nil
}

// loadLocation resolves a TZ database name, tolerating the case and
// spacing variants operators tend to type ("new york" / "New_York").
func loadLocation(raw string) (*time.Location, error) {
	candidate := strings.ReplaceAll(strings.TrimSpace(raw), " ", "_")
	if loc, err := time.LoadLocation(candidate); err == nil {
		return loc, nil
	}

	parts := strings.Split(strings.ToLower(candidate), "/")
	for i, part := range parts {
		segments := strings.Split(part, "_")
		for j, segment := range segments {
			if segment == "" {
				continue
			}
			segments[j] = strings.ToUpper(segment[:1]) + segment[1:]
		}
		parts[i] = strings.Join(segments, "_")
	}
	return time.LoadLocation(strings.Join(parts, "/"))
}

func parseHHMM(s string) (int, int, error) {
	pieces := strings.SplitN(s, ":", 2)
	if len(pieces) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM")
	}
	hh, err := strconv.Atoi(pieces[0])
	if err != nil || hh < 0 || hh > 23 {
		return 0, 0, fmt.Errorf("invalid hour")
	}
	mm, err := strconv.Atoi(pieces[1])
	if err != nil || mm < 0 || mm > 59 {
		return 0, 0, fmt.Errorf("invalid minute")
	}
	return hh, mm, nil
}
