package signal

// Config holds pattern, gate and scoring thresholds for the detector.
type Config struct {
	MinBars int `yaml:"min_bars" validate:"gte=30"`

	ShadowBodyRatio   float64 `yaml:"shadow_body_ratio" validate:"gte=1"`
	OppositeShadowMax float64 `yaml:"opposite_shadow_max" validate:"gte=0,lt=0.5"`
	MaxBodyRatio      float64 `yaml:"max_body_ratio" validate:"gt=0,lte=0.5"`
	MinCandleSizePct  float64 `yaml:"min_candle_size_pct" validate:"gte=0"`
	MinTrendDeviation float64 `yaml:"min_trend_deviation" validate:"gte=0,lt=0.5"`

	RSIOversold   float64 `yaml:"rsi_oversold" validate:"gt=0,lt=50"`
	RSIOverbought float64 `yaml:"rsi_overbought" validate:"gt=50,lt=100"`
	VolumeSurge   float64 `yaml:"volume_surge" validate:"gt=0"`
	BollingerEdge float64 `yaml:"bollinger_edge" validate:"gt=0,lte=0.5"`

	LevelProximityPct float64 `yaml:"level_proximity_pct" validate:"gt=0,lt=0.1"`
	PivotLookback     int     `yaml:"pivot_lookback" validate:"gte=2"`
	LevelLifetime     int     `yaml:"level_lifetime" validate:"gte=1"`

	ZoneMaxADX           float64 `yaml:"zone_max_adx" validate:"gt=0"`
	ZoneMaxATRPercentile float64 `yaml:"zone_max_atr_percentile" validate:"gt=0,lte=100"`
	ZoneMaxVolumeRatio   float64 `yaml:"zone_max_volume_ratio" validate:"gt=0"`
	ZoneMinBars          int     `yaml:"zone_min_bars" validate:"gte=2"`
	LargeMovePct         float64 `yaml:"large_move_pct" validate:"gt=0"`
	LargeMoveExcludeBars int     `yaml:"large_move_exclude_bars" validate:"gte=0"`
	BreakoutWindow       int     `yaml:"breakout_window" validate:"gte=1"`
	BreakoutPct          float64 `yaml:"breakout_pct" validate:"gte=0"`
	FakeBreakoutBars     int     `yaml:"fake_breakout_bars" validate:"gte=1"`

	MinScore    int       `yaml:"min_score" validate:"gte=1"`
	StopATRMult float64   `yaml:"stop_atr_mult" validate:"gte=0"`
	TargetRR    []float64 `yaml:"target_rr" validate:"len=3,dive,gt=0"`
}

func DefaultConfig() Config {
	return Config{
		MinBars:              60,
		ShadowBodyRatio:      2.0,
		OppositeShadowMax:    0.2,
		MaxBodyRatio:         0.3,
		MinCandleSizePct:     0.001,
		MinTrendDeviation:    0.01,
		RSIOversold:          35,
		RSIOverbought:        65,
		VolumeSurge:          1.3,
		BollingerEdge:        0.2,
		LevelProximityPct:    0.005,
		PivotLookback:        10,
		LevelLifetime:        50,
		ZoneMaxADX:           20,
		ZoneMaxATRPercentile: 25,
		ZoneMaxVolumeRatio:   0.8,
		ZoneMinBars:          10,
		LargeMovePct:         0.05,
		LargeMoveExcludeBars: 3,
		BreakoutWindow:       10,
		BreakoutPct:          0.002,
		FakeBreakoutBars:     3,
		MinScore:             3,
		StopATRMult:          0.5,
		TargetRR:             []float64{1.5, 2.5, 4.0},
	}
}
