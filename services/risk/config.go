package risk

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"pinbar-backtest/services/engine"
)

// PartialStep closes Fraction of the original size once unrealized profit
// reaches ProfitPct.
type PartialStep struct {
	ProfitPct float64 `yaml:"profit_pct" validate:"gt=0,lt=1"`
	Fraction  float64 `yaml:"fraction" validate:"gt=0,lt=1"`
}

// Config holds every sizing, leverage, exit and accounting parameter of one
// run. Percentages are fractions (0.02 == 2%).
type Config struct {
	InitialCash float64 `yaml:"initial_cash" validate:"gt=0"`

	RiskPerTrade         float64 `yaml:"risk_per_trade" validate:"gt=0,lte=0.1"`
	BaseLeverage         float64 `yaml:"base_leverage" validate:"gte=1,lte=125"`
	MinLeverage          float64 `yaml:"min_leverage" validate:"gte=1,ltefield=BaseLeverage"`
	MaxLeverageMult      float64 `yaml:"max_leverage_mult" validate:"gte=1,lte=3"`
	MarginSafetyFactor   float64 `yaml:"margin_safety_factor" validate:"gt=0,lte=1"`
	MaxMarginPerTradePct float64 `yaml:"max_margin_per_trade_pct" validate:"gt=0,lte=1"`
	MaxTotalMargin       float64 `yaml:"max_total_margin" validate:"gt=0,lte=1"`
	MaxOpenPositions     int     `yaml:"max_open_positions" validate:"gte=1,lte=50"`

	TakerFee             float64 `yaml:"taker_fee" validate:"gte=0,lt=0.01"`
	MakerFee             float64 `yaml:"maker_fee" validate:"gte=0,lt=0.01"`
	FundingRate          float64 `yaml:"funding_rate" validate:"gte=0,lt=0.01"`
	FundingIntervalHours float64 `yaml:"funding_interval_hours" validate:"gt=0"`

	LossBreakerPct float64 `yaml:"loss_breaker_pct" validate:"gt=0,lt=1"`

	StopLossPct        float64       `yaml:"stop_loss_pct" validate:"gt=0,lt=0.5"`
	TakeProfitPct      float64       `yaml:"take_profit_pct" validate:"gtfield=StopLossPct,lt=1"`
	TrailActivationPct float64       `yaml:"trail_activation_pct" validate:"gt=0,lt=1"`
	PartialLadder      []PartialStep `yaml:"partial_ladder" validate:"max=2,dive"`
	RunnerMinTier      int           `yaml:"runner_min_tier" validate:"gte=1,lte=5"`
	MaxHoldingBars     int           `yaml:"max_holding_bars" validate:"gte=0"`

	ConfirmBarsStrong int `yaml:"confirm_bars_strong" validate:"gte=1,ltefield=ConfirmBarsWeak"`
	ConfirmBarsWeak   int `yaml:"confirm_bars_weak" validate:"gte=1,lte=5"`

	InvariantTolerance float64 `yaml:"invariant_tolerance" validate:"gt=0,lt=0.01"`
}

func DefaultConfig() Config {
	return Config{
		InitialCash:          20000,
		RiskPerTrade:         0.005,
		BaseLeverage:         5,
		MinLeverage:          1,
		MaxLeverageMult:      1.5,
		MarginSafetyFactor:   0.9,
		MaxMarginPerTradePct: 0.12,
		MaxTotalMargin:       0.5,
		MaxOpenPositions:     3,
		TakerFee:             0.00075,
		MakerFee:             0.0002,
		FundingRate:          0.0001,
		FundingIntervalHours: 8,
		LossBreakerPct:       0.2,
		StopLossPct:          0.02,
		TakeProfitPct:        0.04,
		TrailActivationPct:   0.015,
		PartialLadder: []PartialStep{
			{ProfitPct: 0.02, Fraction: 0.4},
			{ProfitPct: 0.05, Fraction: 0.3},
		},
		RunnerMinTier:      4,
		MaxHoldingBars:     50,
		ConfirmBarsStrong:  1,
		ConfirmBarsWeak:    2,
		InvariantTolerance: 1e-9,
	}
}

// Validate checks field ranges and the cross-field rules (take profit beyond
// stop loss, min leverage at or below base, ladder fractions below one).
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("risk config: %w", engine.DescribeValidation(err))
	}
	total := 0.0
	for i, s := range c.PartialLadder {
		total += s.Fraction
		if i > 0 && s.ProfitPct <= c.PartialLadder[i-1].ProfitPct {
			return errors.New("risk config: partial_ladder thresholds must increase")
		}
	}
	if total >= 1 {
		return fmt.Errorf("risk config: partial_ladder fractions sum to %.2f, must leave a runner", total)
	}
	return nil
}

// MaxLeverage is the upper clamp for dynamic leverage.
func (c Config) MaxLeverage() float64 { return c.BaseLeverage * c.MaxLeverageMult }
