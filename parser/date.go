package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// ErrUnknownMonth is returned when a month token is not in the month table.
var ErrUnknownMonth = errors.New("parser: unknown month")

// ErrMalformedDate is returned for text that is not 1 to 3 tokens.
var ErrMalformedDate = errors.New("parser: malformed date")

// FallbackReleaseDate replaces dates the source does not publish.
var FallbackReleaseDate = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// months maps folded month names to month numbers. Russian pages use the
// nominative form standing alone and the genitive form after a day.
var months = buildMonthTable(map[time.Month][]string{
	time.January:   {"январь", "января", "january", "jan"},
	time.February:  {"февраль", "февраля", "february", "feb"},
	time.March:     {"март", "марта", "march", "mar"},
	time.April:     {"апрель", "апреля", "april", "apr"},
	time.May:       {"май", "мая", "may"},
	time.June:      {"июнь", "июня", "june", "jun"},
	time.July:      {"июль", "июля", "july", "jul"},
	time.August:    {"август", "августа", "august", "aug"},
	time.September: {"сентябрь", "сентября", "september", "sep", "sept"},
	time.October:   {"октябрь", "октября", "october", "oct"},
	time.November:  {"ноябрь", "ноября", "november", "nov"},
	time.December:  {"декабрь", "декабря", "december", "dec"},
})

func buildMonthTable(names map[time.Month][]string) map[string]time.Month {
	table := make(map[string]time.Month)
	for month, forms := range names {
		for _, form := range forms {
			table[foldName(form)] = month
		}
	}
	return table
}

// foldName builds a new Caser per call; a Caser must not be shared.
func foldName(s string) string {
	return cases.Fold().String(s)
}

// LookupMonth resolves a month name case-insensitively.
func LookupMonth(token string) (time.Month, error) {
	month, ok := months[foldName(strings.Trim(token, " ,."))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownMonth, token)
	}
	return month, nil
}

// ParseDate reads "YYYY", "Month YYYY" or "D Month YYYY".
func ParseDate(text string) (time.Time, error) {
	tokens := strings.Fields(text)
	day, month := 1, time.January

	var yearToken string
	switch len(tokens) {
	case 1:
		yearToken = tokens[0]
	case 2:
		m, err := LookupMonth(tokens[0])
		if err != nil {
			return time.Time{}, err
		}
		month, yearToken = m, tokens[1]
	case 3:
		d, err := strconv.Atoi(strings.TrimSuffix(tokens[0], "."))
		if err != nil || d < 1 || d > 31 {
			return time.Time{}, fmt.Errorf("%w: day %q", ErrMalformedDate, tokens[0])
		}
		m, err := LookupMonth(tokens[1])
		if err != nil {
			return time.Time{}, err
		}
		day, month, yearToken = d, m, tokens[2]
	default:
		return time.Time{}, fmt.Errorf("%w: %q has %d tokens", ErrMalformedDate, text, len(tokens))
	}

	year, err := strconv.Atoi(strings.TrimSuffix(yearToken, "г."))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: year %q", ErrMalformedDate, yearToken)
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || t.Month() != month {
		return time.Time{}, fmt.Errorf("%w: %s has no day %d", ErrMalformedDate, month, day)
	}
	return t, nil
}
