package query

import (
	"regexp"
	"strconv"
	"strings"
)

var secondsPerUnit = map[string]float64{
	"sec":   1,
	"min":   60,
	"hour":  60 * 60,
	"day":   24 * 60 * 60,
	"week":  7 * 24 * 60 * 60,
	"month": 30 * 24 * 60 * 60,
	"year":  365 * 24 * 60 * 60,
}

var sincePattern = regexp.MustCompile(`^(\d+)(sec|min|hour|day|week|month|year)?$`)

// ParseSince converts "<number><unit>" into seconds. The unit defaults to
// seconds.
func ParseSince(value string) (float64, bool) {
	match := sincePattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(value)))
	if match == nil {
		return 0, false
	}
	amount, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, false
	}
	unit := match[2]
	if unit == "" {
		unit = "sec"
	}
	return amount * secondsPerUnit[unit], true
}
