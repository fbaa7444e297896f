package market

import (
	"fmt"
	"strings"
)

// CursorMode selects which retained candle counts as the newest closed bar.
type CursorMode int

const (
	// CursorBacktest evaluates the newest candle; every appended bar is closed.
	CursorBacktest CursorMode = iota
	// CursorLive skips the newest candle, which is still forming.
	CursorLive
)

// Index returns the window index to evaluate, or -1 when there is none.
func (m CursorMode) Index(w *Window) int {
	i := w.Len() - 1
	if m == CursorLive {
		i--
	}
	if i < 0 {
		return -1
	}
	return i
}

func (m CursorMode) String() string {
	if m == CursorLive {
		return "live"
	}
	return "backtest"
}

func (m CursorMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *CursorMode) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "", "backtest":
		*m = CursorBacktest
	case "live":
		*m = CursorLive
	default:
		return fmt.Errorf("unknown cursor mode %q", string(b))
	}
	return nil
}
