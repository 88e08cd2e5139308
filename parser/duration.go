// Package parser turns page text fragments into typed values.
package parser

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedDuration is returned for text that is not 1 to 3 colon-separated numbers.
var ErrMalformedDuration = errors.New("parser: malformed duration")

// ParseDuration reads "S", "M:S" or "H:M:S". Groups are not range checked,
// but a total beyond what time.Duration holds is rejected.
func ParseDuration(text string) (time.Duration, error) {
	groups := strings.Split(strings.TrimSpace(text), ":")
	if len(groups) < 1 || len(groups) > 3 {
		return 0, fmt.Errorf("%w: %q has %d groups", ErrMalformedDuration, text, len(groups))
	}

	units := []time.Duration{time.Second, time.Minute, time.Hour}
	var total time.Duration
	for i := range groups {
		group := groups[len(groups)-1-i]
		n, err := strconv.Atoi(group)
		if err != nil || !isDigits(group) {
			return 0, fmt.Errorf("%w: %q", ErrMalformedDuration, text)
		}
		if int64(n) > (math.MaxInt64-int64(total))/int64(units[i]) {
			return 0, fmt.Errorf("%w: %q overflows", ErrMalformedDuration, text)
		}
		total += time.Duration(n) * units[i]
	}
	return total, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
