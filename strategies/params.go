package strategies

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"pinbar-backtest/services/engine"
	"pinbar-backtest/services/market"
	"pinbar-backtest/services/risk"
	"pinbar-backtest/services/signal"
	"pinbar-backtest/services/trend"
)

var ErrUnknownParam = errors.New("unknown parameter")

// Params is the full, immutable configuration of one symbol run.
type Params struct {
	Symbol       string                 `yaml:"symbol" validate:"required"`
	CursorMode   market.CursorMode      `yaml:"cursor_mode"`
	WindowSize   int                    `yaml:"window_size" validate:"gte=100,lte=100000"`
	Annotate     bool                   `yaml:"annotate"`
	Indicators   market.AnnotatorConfig `yaml:"indicators"`
	Signal       signal.Config          `yaml:"signal"`
	Trend        trend.Config           `yaml:"trend"`
	Risk         risk.Config            `yaml:"risk"`
	Filters      engine.SymbolFilters   `yaml:"filters"`
	SlippageRate float64                `yaml:"slippage_rate" validate:"gte=0,lt=0.01"`
	// SlippageTicks, when positive, replaces SlippageRate with a fixed
	// number of price ticks against the order.
	SlippageTicks float64 `yaml:"slippage_ticks" validate:"gte=0"`
}

// Broker builds the simulated broker described by the params.
func (p Params) Broker() *engine.SimBroker {
	b := engine.NewSimBroker(p.Filters, p.SlippageRate)
	if p.SlippageTicks > 0 {
		b.Slippage = engine.FixedTicksSlippage{Ticks: p.SlippageTicks * p.Filters.PriceTick}
	}
	return b
}

func DefaultParams() Params {
	return Params{
		Symbol:       "BTCUSDT",
		CursorMode:   market.CursorBacktest,
		WindowSize:   market.DefaultWindowSize,
		Annotate:     true,
		Indicators:   market.DefaultAnnotatorConfig(),
		Signal:       signal.DefaultConfig(),
		Trend:        trend.DefaultConfig(),
		Risk:         risk.DefaultConfig(),
		Filters:      engine.SymbolFilters{PriceTick: 0.01, QtyStep: 0.00001, NotionalMin: 10},
		SlippageRate: 0.0005,
	}
}

// Validate checks every section, including cross-field rules.
func (p Params) Validate() error {
	if err := validator.New().Struct(p); err != nil {
		return engine.DescribeValidation(err)
	}
	if err := p.Risk.Validate(); err != nil {
		return err
	}
	if p.Signal.MinBars > p.WindowSize || p.Trend.MinBars > p.WindowSize {
		return fmt.Errorf("invalid config: window_size %d smaller than detector or trend min_bars", p.WindowSize)
	}
	return nil
}

// ParamsFromMap applies flat dotted overrides such as "risk.risk_per_trade"
// or "signal.target_rr" to base. Values are YAML scalars or flow sequences.
// Unknown keys, bad values and invalid ranges are errors.
func ParamsFromMap(base Params, kv map[string]string) (Params, error) {
	tree, err := toTree(base)
	if err != nil {
		return Params{}, err
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := setPath(tree, k, kv[k]); err != nil {
			return Params{}, err
		}
	}

	raw, err := yaml.Marshal(tree)
	if err != nil {
		return Params{}, fmt.Errorf("encode params: %w", err)
	}
	var out Params
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&out); err != nil {
		return Params{}, fmt.Errorf("decode params: %w", err)
	}
	if err := out.Validate(); err != nil {
		return Params{}, err
	}
	return out, nil
}

// Flatten renders p as dotted key/value pairs for config snapshots.
func (p Params) Flatten() map[string]string {
	out := map[string]string{}
	tree, err := toTree(p)
	if err != nil {
		return out
	}
	flattenInto(out, "", tree)
	return out
}

func toTree(p Params) (map[string]any, error) {
	raw, err := yaml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	tree := map[string]any{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	return tree, nil
}

func setPath(tree map[string]any, key, raw string) error {
	path := strings.Split(key, ".")
	node := tree
	for i, part := range path {
		cur, ok := node[part]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownParam, key)
		}
		if i < len(path)-1 {
			next, ok := cur.(map[string]any)
			if !ok {
				return fmt.Errorf("%w: %s", ErrUnknownParam, key)
			}
			node = next
			continue
		}
		if _, isSection := cur.(map[string]any); isSection {
			return fmt.Errorf("parameter %s is a section, not a value", key)
		}
		var val any
		if err := yaml.Unmarshal([]byte(raw), &val); err != nil {
			return fmt.Errorf("parameter %s: %w", key, err)
		}
		node[part] = val
	}
	return nil
}

func flattenInto(out map[string]string, prefix string, tree map[string]any) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			flattenInto(out, key, sub)
			continue
		}
		out[key] = fmt.Sprint(v)
	}
}
