package matching

import (
	"github.com/pkg/errors"
)

// Config holds the rule tier thresholds. Amounts are in currency units.
type Config struct {
	PerfectEpsilon      float64 `mapstructure:"perfect_epsilon"`
	ToleranceAbsolute   float64 `mapstructure:"tolerance_absolute"`
	TolerancePercent    float64 `mapstructure:"tolerance_percent"`
	NegligibleDiff      float64 `mapstructure:"negligible_diff"`
	ToleranceConfidence float64 `mapstructure:"tolerance_confidence"`
	ProxyAbsolute       float64 `mapstructure:"proxy_absolute"`
	ProxyPercent        float64 `mapstructure:"proxy_percent"`
	ProxyDateWindowDays int     `mapstructure:"proxy_date_window_days"`
	ProxyConfidence     float64 `mapstructure:"proxy_confidence"`
	ProgressEvery       int     `mapstructure:"progress_every"`
}

func DefaultConfig() Config {
	return Config{
		PerfectEpsilon:      0.01,
		ToleranceAbsolute:   20,
		TolerancePercent:    0,
		NegligibleDiff:      1,
		ToleranceConfidence: 0.95,
		ProxyAbsolute:       20,
		ProxyPercent:        0,
		ProxyDateWindowDays: 30,
		ProxyConfidence:     0.9,
		ProgressEvery:       100,
	}
}

func (c Config) Validate() error {
	switch {
	case c.PerfectEpsilon < 0:
		return errors.New("perfect_epsilon must not be negative")
	case c.ToleranceAbsolute < 0 || c.TolerancePercent < 0:
		return errors.New("tolerance band must not be negative")
	case c.ProxyAbsolute < 0 || c.ProxyPercent < 0:
		return errors.New("proxy band must not be negative")
	case c.NegligibleDiff < 0:
		return errors.New("negligible_diff must not be negative")
	case c.ProxyDateWindowDays < 0:
		return errors.New("proxy_date_window_days must not be negative")
	case !unit(c.ToleranceConfidence) || !unit(c.ProxyConfidence):
		return errors.New("confidences must be in (0, 1]")
	case c.ProgressEvery < 1:
		return errors.New("progress_every must be at least 1")
	}
	return nil
}

func unit(v float64) bool {
	return v > 0 && v <= 1
}
