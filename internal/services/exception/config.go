package exception

type Config struct {
	MediumAmount              float64 `mapstructure:"medium_amount"`
	DuplicateWindowDays       int     `mapstructure:"duplicate_window_days"`
	DuplicateNameSimilarity   float64 `mapstructure:"duplicate_name_similarity"`
	MismatchThreshold         float64 `mapstructure:"mismatch_threshold"`
	MismatchMedium            float64 `mapstructure:"mismatch_medium"`
	MismatchHigh              float64 `mapstructure:"mismatch_high"`
	SuspiciousProxyConfidence float64 `mapstructure:"suspicious_proxy_confidence"`
	DiagnoseLimit             int     `mapstructure:"diagnose_limit"`
	DiagnoseTemperature       float64 `mapstructure:"diagnose_temperature"`
}

func DefaultConfig() Config {
	return Config{
		MediumAmount:              1000,
		DuplicateWindowDays:       7,
		DuplicateNameSimilarity:   0.9,
		MismatchThreshold:         100,
		MismatchMedium:            200,
		MismatchHigh:              500,
		SuspiciousProxyConfidence: 0.85,
		DiagnoseLimit:             50,
		DiagnoseTemperature:       0.3,
	}
}
