package semantic

import "github.com/pkg/errors"

type Config struct {
	AmountBandRatio      float64 `mapstructure:"amount_band_ratio"`
	DateWindowDays       int     `mapstructure:"date_window_days"`
	MaxCandidates        int     `mapstructure:"max_candidates"`
	PerItemMinConfidence float64 `mapstructure:"per_item_min_confidence"`
	GlobalMinConfidence  float64 `mapstructure:"global_min_confidence"`
	ProgressEvery        int     `mapstructure:"progress_every"`
	Temperature          float64 `mapstructure:"temperature"`
	GlobalPass           bool    `mapstructure:"global_pass"`
	MaxGlobalRecords     int     `mapstructure:"max_global_records"`
}

func DefaultConfig() Config {
	return Config{
		AmountBandRatio:      0.10,
		DateWindowDays:       30,
		MaxCandidates:        5,
		PerItemMinConfidence: 0.7,
		GlobalMinConfidence:  0.8,
		ProgressEvery:        5,
		Temperature:          0.1,
		GlobalPass:           true,
		MaxGlobalRecords:     200,
	}
}

func (c Config) Validate() error {
	switch {
	case c.AmountBandRatio < 0:
		return errors.New("amount_band_ratio must not be negative")
	case c.DateWindowDays < 0:
		return errors.New("date_window_days must not be negative")
	case c.MaxCandidates < 1:
		return errors.New("max_candidates must be at least 1")
	case c.PerItemMinConfidence < 0 || c.PerItemMinConfidence >= 1:
		return errors.New("per_item_min_confidence must be in [0, 1)")
	case c.GlobalMinConfidence < 0 || c.GlobalMinConfidence >= 1:
		return errors.New("global_min_confidence must be in [0, 1)")
	case c.ProgressEvery < 1:
		return errors.New("progress_every must be at least 1")
	case c.Temperature < 0 || c.Temperature > 2:
		return errors.New("temperature must be in [0, 2]")
	case c.MaxGlobalRecords < 1:
		return errors.New("max_global_records must be at least 1")
	}
	return nil
}
