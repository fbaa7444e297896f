package market

import "math"

// AnnotatorConfig fixes the indicator periods attached to each candle.
type AnnotatorConfig struct {
	SMAFast     int     `yaml:"sma_fast" validate:"gt=0"`
	SMASlow     int     `yaml:"sma_slow" validate:"gt=0"`
	SMATrend    int     `yaml:"sma_trend" validate:"gt=0"`
	EMAFast     int     `yaml:"ema_fast" validate:"gt=0"`
	EMASlow     int     `yaml:"ema_slow" validate:"gtfield=EMAFast"`
	RSI         int     `yaml:"rsi" validate:"gt=0"`
	ATR         int     `yaml:"atr" validate:"gt=0"`
	ADX         int     `yaml:"adx" validate:"gt=0"`
	Bollinger   int     `yaml:"bollinger" validate:"gt=1"`
	BollingerK  float64 `yaml:"bollinger_k" validate:"gt=0"`
	VolumeMA    int     `yaml:"volume_ma" validate:"gt=0"`
	ROC         int     `yaml:"roc" validate:"gt=0"`
	Momentum    int     `yaml:"momentum" validate:"gt=0"`
	MACDFast    int     `yaml:"macd_fast" validate:"gt=0"`
	MACDSlow    int     `yaml:"macd_slow" validate:"gtfield=MACDFast"`
	ATRRankBars int     `yaml:"atr_rank_bars" validate:"gt=1"`
}

func DefaultAnnotatorConfig() AnnotatorConfig {
	return AnnotatorConfig{
		SMAFast:     20,
		SMASlow:     50,
		SMATrend:    50,
		EMAFast:     8,
		EMASlow:     21,
		RSI:         14,
		ATR:         14,
		ADX:         14,
		Bollinger:   20,
		BollingerK:  2.0,
		VolumeMA:    20,
		ROC:         10,
		Momentum:    14,
		MACDFast:    12,
		MACDSlow:    26,
		ATRRankBars: 50,
	}
}

// WarmupBars is how many leading candles have at least one undefined indicator.
func (c AnnotatorConfig) WarmupBars() int {
	w := 0
	for _, p := range []int{c.SMAFast, c.SMASlow, c.SMATrend, c.EMASlow, c.RSI + 1, c.ATR + c.ATRRankBars, 2*c.ADX + 1, c.Bollinger, c.VolumeMA, c.ROC + 1, c.Momentum + 1, c.MACDSlow} {
		if p > w {
			w = p
		}
	}
	return w
}

// Annotate returns copies of cs with every indicator computed from data up to
// and including each candle, so there is no look-ahead. Values that are not yet
// defined are left out of the map.
func Annotate(cs []Candle, cfg AnnotatorConfig) []Candle {
	closes := make([]float64, len(cs))
	volumes := make([]float64, len(cs))
	for i, c := range cs {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}

	atr := ATRSeries(cs, cfg.ATR)
	adx, pdi, mdi := DirectionalSeries(cs, cfg.ADX)
	bbU, bbM, bbL := BollingerSeries(closes, cfg.Bollinger, cfg.BollingerK)
	volMA := SMASeries(volumes, cfg.VolumeMA)
	macdFast := EMASeries(closes, cfg.MACDFast)
	macdSlow := EMASeries(closes, cfg.MACDSlow)

	series := map[string][]float64{
		SMAFast:       SMASeries(closes, cfg.SMAFast),
		SMASlow:       SMASeries(closes, cfg.SMASlow),
		SMATrend:      SMASeries(closes, cfg.SMATrend),
		EMAFast:       EMASeries(closes, cfg.EMAFast),
		EMASlow:       EMASeries(closes, cfg.EMASlow),
		RSI:           RSISeries(closes, cfg.RSI),
		ATR:           atr,
		ADX:           adx,
		PlusDI:        pdi,
		MinusDI:       mdi,
		BBUpper:       bbU,
		BBMiddle:      bbM,
		BBLower:       bbL,
		ATRPercentile: PercentileRank(atr, cfg.ATRRankBars),
		VolumeRatio:   nanSeries(len(cs)),
		ROC:           nanSeries(len(cs)),
		Momentum:      nanSeries(len(cs)),
		MACD:          nanSeries(len(cs)),
	}
	for i := range cs {
		if volMA[i] > 0 {
			series[VolumeRatio][i] = volumes[i] / volMA[i]
		}
		if i >= cfg.ROC && closes[i-cfg.ROC] != 0 {
			series[ROC][i] = (closes[i]/closes[i-cfg.ROC] - 1) * 100
		}
		if i >= cfg.Momentum {
			series[Momentum][i] = closes[i] - closes[i-cfg.Momentum]
		}
		series[MACD][i] = macdFast[i] - macdSlow[i]
	}

	out := make([]Candle, len(cs))
	for i, c := range cs {
		ind := make(map[string]float64, len(series)+len(c.Indicators))
		for k, v := range c.Indicators {
			ind[k] = v
		}
		for name, s := range series {
			if !math.IsNaN(s[i]) {
				ind[name] = s[i]
			}
		}
		c.Indicators = ind
		out[i] = c
	}
	return out
}
