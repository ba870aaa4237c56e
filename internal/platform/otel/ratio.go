package otel

import "strconv"

func parseRatio(s string) (float64, bool) {
	r, err := strconv.ParseFloat(s, 64)
	if err != nil || r < 0 || r > 1 {
		return 0, false
	}
	return r, true
}
