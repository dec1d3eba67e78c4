// Package market implements the price simulation engine, the trading-window
// state machine, and the news event layer that feeds one-time shocks into
// prices.
package market

import (
	"fmt"
	"strings"
	"time"
)

// window is one intraday trading window in minutes since midnight,
// half-open: open <= t < close.
type window struct {
	open  int
	close int
}

// State is the trading-window state machine. Whether the market is open is a
// pure function of wall-clock time and the configured schedule; plants are
// exempt from the gate entirely.
type State struct {
	windows []window
}

// ParseWindows builds a State from "HH:MM-HH:MM" ranges.
func ParseWindows(specs []string) (*State, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("market: at least one trading window required")
	}

	windows := make([]window, 0, len(specs))
	for _, spec := range specs {
		parts := strings.SplitN(spec, "-", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("market: invalid window %q (expected HH:MM-HH:MM)", spec)
		}
		open, err := parseMinutes(parts[0])
		if err != nil {
			return nil, fmt.Errorf("market: invalid window %q: %w", spec, err)
		}
		close, err := parseMinutes(parts[1])
		if err != nil {
			return nil, fmt.Errorf("market: invalid window %q: %w", spec, err)
		}
		if close <= open {
			return nil, fmt.Errorf("market: window %q closes before it opens", spec)
		}
		windows = append(windows, window{open: open, close: close})
	}
	return &State{windows: windows}, nil
}

// IsOpen reports whether stock trading is permitted at now.
func (s *State) IsOpen(now time.Time) bool {
	minutes := now.Hour()*60 + now.Minute()
	for _, w := range s.windows {
		if minutes >= w.open && minutes < w.close {
			return true
		}
	}
	return false
}

func parseMinutes(v string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
