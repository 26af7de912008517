// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAvailabilityTTL   = 30 * time.Second
	DefaultInitialDays       = 14
	DefaultPrefetchOffset    = 3
	DefaultPrefetchDays      = 7
	DefaultRefreshInterval   = time.Minute
	DefaultClubTimeout       = 10 * time.Second
	DefaultSimulatorPort     = 8081
	DefaultBookingLimit      = 2
	DefaultShortNoticeWindow = 2 * time.Hour
	DefaultSimulatorCourts   = 4
	DefaultOpenHour          = 7
	DefaultCloseHour         = 22
)

var ErrMissingToken = errors.New("CLUB_API_TOKEN is required")

type ClubConfig struct {
	BaseURL  string        `yaml:"base_url" validate:"required,url"`
	Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`
	Timezone string        `yaml:"timezone"`
	Token    string        `yaml:"-"` // Loaded from environment

	// Opening hours bound the rows of the availability grid.
	OpenHour  int `yaml:"open_hour" validate:"gte=0,lte=23"`
	CloseHour int `yaml:"close_hour" validate:"gte=0,lte=24"`
}

type AvailabilityConfig struct {
	TTL             time.Duration `yaml:"ttl" validate:"gte=0"`
	InitialDays     int           `yaml:"initial_days" validate:"gte=0,lte=60"`
	PrefetchOffset  int           `yaml:"prefetch_offset" validate:"gte=0"`
	PrefetchDays    int           `yaml:"prefetch_days" validate:"gte=0,lte=31"`
	RefreshInterval time.Duration `yaml:"refresh_interval" validate:"gte=0"`
}

// SimulatorMember seeds a member into the club simulator. Token is the bearer token
// that authenticates as this member.
type SimulatorMember struct {
	ID        int64   `yaml:"id" validate:"gt=0"`
	FirstName string  `yaml:"first_name" validate:"required"`
	LastName  string  `yaml:"last_name"`
	Email     string  `yaml:"email" validate:"omitempty,email"`
	Phone     string  `yaml:"phone"`
	Token     string  `yaml:"token" validate:"required"`
	Favorites []int64 `yaml:"favorites" validate:"dive,gt=0"`
}

type SimulatorConfig struct {
	Port              int               `yaml:"port" validate:"gte=0,lte=65535"`
	Courts            int               `yaml:"courts" validate:"gte=0,lte=50"`
	OpenHour          int               `yaml:"open_hour" validate:"gte=0,lte=23"`
	CloseHour         int               `yaml:"close_hour" validate:"gte=0,lte=24"`
	BookingLimit      int               `yaml:"booking_limit" validate:"gte=0"`
	ShortNoticeWindow time.Duration     `yaml:"short_notice_window" validate:"gte=0"`
	Members           []SimulatorMember `yaml:"members" validate:"dive"`
	RateLimit         RateLimitConfig   `yaml:"rate_limit"`
}

// RateLimitConfig throttles simulator member search and reservation writes. Zero
// limits fall back to the limiter defaults; Disabled turns throttling off.
type RateLimitConfig struct {
	Disabled          bool `yaml:"disabled"`
	TrustProxy        bool `yaml:"trust_proxy"`
	SearchPerMinute   int  `yaml:"search_per_minute" validate:"gte=0"`
	SearchIPPerMinute int  `yaml:"search_ip_per_minute" validate:"gte=0"`
	WritesPerHour     int  `yaml:"writes_per_hour" validate:"gte=0"`
	WritesIPPerHour   int  `yaml:"writes_ip_per_hour" validate:"gte=0"`
}

type Config struct {
	App struct {
		Name        string `yaml:"name" validate:"required"`
		Environment string `yaml:"environment" validate:"omitempty,oneof=development staging production test"`
	} `yaml:"app"`

	Club         ClubConfig         `yaml:"club"`
	Availability AvailabilityConfig `yaml:"availability"`
	Simulator    SimulatorConfig    `yaml:"simulator"`

	Features struct {
		EnableDebug bool `yaml:"enable_debug"`
	} `yaml:"features"`
}

// Load loads both .env and yaml configuration
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, fills defaults and secrets, and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Load sensitive values from environment
	cfg.Club.Token = strings.TrimSpace(os.Getenv("CLUB_API_TOKEN"))

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.App.Environment == "" {
		c.App.Environment = "development"
	}
	if c.Club.Timeout == 0 {
		c.Club.Timeout = DefaultClubTimeout
	}
	if c.Availability.TTL == 0 {
		c.Availability.TTL = DefaultAvailabilityTTL
	}
	if c.Availability.InitialDays == 0 {
		c.Availability.InitialDays = DefaultInitialDays
	}
	if c.Availability.PrefetchOffset == 0 {
		c.Availability.PrefetchOffset = DefaultPrefetchOffset
	}
	if c.Availability.PrefetchDays == 0 {
		c.Availability.PrefetchDays = DefaultPrefetchDays
	}
	if c.Availability.RefreshInterval == 0 {
		c.Availability.RefreshInterval = DefaultRefreshInterval
	}
	if c.Simulator.Port == 0 {
		c.Simulator.Port = DefaultSimulatorPort
	}
	if c.Simulator.Courts == 0 {
		c.Simulator.Courts = DefaultSimulatorCourts
	}
	if c.Club.OpenHour == 0 && c.Club.CloseHour == 0 {
		c.Club.OpenHour = DefaultOpenHour
		c.Club.CloseHour = DefaultCloseHour
	}
	// The simulator keeps the club's hours unless told otherwise.
	if c.Simulator.OpenHour == 0 && c.Simulator.CloseHour == 0 {
		c.Simulator.OpenHour = c.Club.OpenHour
		c.Simulator.CloseHour = c.Club.CloseHour
	}
	if c.Simulator.BookingLimit == 0 {
		c.Simulator.BookingLimit = DefaultBookingLimit
	}
	if c.Simulator.ShortNoticeWindow == 0 {
		c.Simulator.ShortNoticeWindow = DefaultShortNoticeWindow
	}
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%s failed %q validation", fe.Namespace(), fe.Tag())
		}
		return err
	}

	if c.Club.Timezone != "" {
		if _, err := time.LoadLocation(c.Club.Timezone); err != nil {
			return fmt.Errorf("club timezone %q: %w", c.Club.Timezone, err)
		}
	}
	if c.Club.CloseHour <= c.Club.OpenHour {
		return fmt.Errorf("club close_hour (%d) must be after open_hour (%d)", c.Club.CloseHour, c.Club.OpenHour)
	}
	if c.Simulator.CloseHour <= c.Simulator.OpenHour {
		return fmt.Errorf("simulator close_hour (%d) must be after open_hour (%d)", c.Simulator.CloseHour, c.Simulator.OpenHour)
	}

	ids := make(map[int64]struct{}, len(c.Simulator.Members))
	tokens := make(map[string]struct{}, len(c.Simulator.Members))
	for _, m := range c.Simulator.Members {
		if _, dup := ids[m.ID]; dup {
			return fmt.Errorf("duplicate simulator member id %d", m.ID)
		}
		if _, dup := tokens[m.Token]; dup {
			return fmt.Errorf("duplicate simulator token for member %d", m.ID)
		}
		ids[m.ID] = struct{}{}
		tokens[m.Token] = struct{}{}
	}
	return nil
}

// RequireToken reports ErrMissingToken when no club API token was provided.
func (c *Config) RequireToken() error {
	if c.Club.Token == "" {
		return ErrMissingToken
	}
	return nil
}

// Location is the club's timezone, defaulting to the local zone.
func (c *Config) Location() *time.Location {
	if c.Club.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Club.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

var validate = validator.New(validator.WithRequiredStructEnabled())
