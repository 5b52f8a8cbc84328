package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/halsaram/mission-pipeline/internal/capture"
)

// parseCoord accepts decimal degrees ("37.5048") or colon-separated
// degrees:minutes:seconds:hemisphere ("37:30:17:N").
func parseCoord(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return v, nil
	}

	parts := strings.Split(raw, ":")
	if len(parts) != 4 {
		return 0, fmt.Errorf("coordinate %q is neither decimal degrees nor deg:min:sec:REF", raw)
	}
	deg, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, fmt.Errorf("degrees %q: %w", parts[0], err)
	}
	min, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, fmt.Errorf("minutes %q: %w", parts[1], err)
	}
	sec, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, fmt.Errorf("seconds %q: %w", parts[2], err)
	}
	ref := strings.ToUpper(strings.TrimSpace(parts[3]))
	switch ref {
	case "N", "S", "E", "W":
	default:
		return 0, fmt.Errorf("hemisphere %q must be one of N, S, E, W", parts[3])
	}
	return capture.DMSToDecimal(deg, min, sec, ref), nil
}
