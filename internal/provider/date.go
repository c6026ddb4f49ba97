package provider

import (
	"context"
	"fmt"
	"time"
)

// DateOutput is the date provider payload.
type DateOutput struct {
	Formatted string `json:"formatted"`
	ISO       string `json:"iso"`
	Unix      int64  `json:"unix"`
	Timezone  string `json:"timezone"`
}

type dateConfig struct {
	BaseConfig `mapstructure:",squash"`
	// Formatting is a Go time layout.
	Formatting string `mapstructure:"formatting"`
	// Timezone is an IANA zone name; empty or "local" uses the local zone.
	Timezone string `mapstructure:"timezone"`
}

// Date reports the current time in a configured layout and zone.
type Date struct {
	cfg dateConfig
	loc *time.Location
	now func() time.Time
}

// NewDate builds a date provider.
func NewDate(raw map[string]any) (Provider, error) {
	cfg := dateConfig{Formatting: "15:04"}
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}

	loc := time.Local
	if cfg.Timezone != "" && cfg.Timezone != "local" {
		var err error
		if loc, err = time.LoadLocation(cfg.Timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
		}
	}
	return &Date{cfg: cfg, loc: loc, now: time.Now}, nil
}

// Interval implements Provider.
func (d *Date) Interval() time.Duration { return d.cfg.interval(time.Second) }

// Sample implements Provider.
func (d *Date) Sample(ctx context.Context) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := d.now().In(d.loc)
	return DateOutput{
		Formatted: now.Format(d.cfg.Formatting),
		ISO:       now.Format(time.RFC3339),
		Unix:      now.UnixMilli(),
		Timezone:  d.loc.String(),
	}, nil
}
