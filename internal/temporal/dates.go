package temporal

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/clinical-timeline/internal/model"
)

const monthPattern = `(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\b\.?`

var (
	isoDateRe      = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	slashDateRe    = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{4}|\d{2}))?\b`)
	monthDayRe     = regexp.MustCompile(`(?i)\b` + monthPattern + `\s+(\d{1,2})(?:st|nd|rd|th)?\b(?:,?\s+(\d{4})\b)?`)
	dayMonthYearRe = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+` + monthPattern + `,?\s+(\d{4})\b`)
)

var monthIndex = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

// dateMatch is a calendar date found in text with its byte span.
type dateMatch struct {
	date       time.Time
	start, end int
}

// findDates returns every unambiguous calendar date in s. Dates written
// without a year take yearHint; when yearHint is 0 they are skipped.
func findDates(s string, yearHint int) []dateMatch {
	var out []dateMatch
	taken := func(start, end int) bool {
		for _, m := range out {
			if start < m.end && end > m.start {
				return true
			}
		}
		return false
	}

	for _, loc := range isoDateRe.FindAllStringSubmatchIndex(s, -1) {
		y, m, d := atoi(s, loc, 1), atoi(s, loc, 2), atoi(s, loc, 3)
		if t, ok := civilDate(y, m, d); ok {
			out = append(out, dateMatch{t, loc[0], loc[1]})
		}
	}
	for _, loc := range dayMonthYearRe.FindAllStringSubmatchIndex(s, -1) {
		if taken(loc[0], loc[1]) {
			continue
		}
		d, y := atoi(s, loc, 1), atoi(s, loc, 3)
		m := monthIndex[strings.ToLower(s[loc[4]:loc[4]+3])]
		if t, ok := civilDate(y, int(m), d); ok {
			out = append(out, dateMatch{t, loc[0], loc[1]})
		}
	}
	for _, loc := range monthDayRe.FindAllStringSubmatchIndex(s, -1) {
		if taken(loc[0], loc[1]) {
			continue
		}
		m := monthIndex[strings.ToLower(s[loc[2]:loc[2]+3])]
		d := atoi(s, loc, 2)
		y := yearHint
		if loc[6] >= 0 {
			y = atoi(s, loc, 3)
		}
		if y == 0 {
			continue
		}
		if t, ok := civilDate(y, int(m), d); ok {
			out = append(out, dateMatch{t, loc[0], loc[1]})
		}
	}
	for _, loc := range slashDateRe.FindAllStringSubmatchIndex(s, -1) {
		if taken(loc[0], loc[1]) {
			continue
		}
		m, d := atoi(s, loc, 1), atoi(s, loc, 2)
		y := yearHint
		if loc[6] >= 0 {
			y = atoi(s, loc, 3)
			if loc[7]-loc[6] == 2 {
				y += 2000
			}
		}
		if y == 0 {
			continue
		}
		if t, ok := civilDate(y, m, d); ok {
			out = append(out, dateMatch{t, loc[0], loc[1]})
		}
	}
	return out
}

// ParseDate parses a single date string, returning nil when s holds no
// unambiguous calendar date.
func ParseDate(s string, yearHint int) *time.Time {
	matches := findDates(s, yearHint)
	if len(matches) == 0 {
		return nil
	}
	first := matches[0]
	for _, m := range matches[1:] {
		if m.start < first.start {
			first = m
		}
	}
	return model.DatePtr(first.date)
}

// nearestDate returns the date in s closest to the span [from, to).
func nearestDate(s string, from, to, yearHint int) *time.Time {
	var (
		best     dateMatch
		bestDist = -1
	)
	for _, m := range findDates(s, yearHint) {
		dist := spanDistance(m.start, m.end, from, to)
		if bestDist < 0 || dist < bestDist || (dist == bestDist && m.start < best.start) {
			best, bestDist = m, dist
		}
	}
	if bestDist < 0 {
		return nil
	}
	return model.DatePtr(best.date)
}

func civilDate(y, m, d int) (time.Time, bool) {
	if y < 1900 || y > 2200 || m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := model.Day(y, time.Month(m), d)
	// Reject rollovers such as Feb 30 -> Mar 2.
	if t.Day() != d || int(t.Month()) != m {
		return time.Time{}, false
	}
	return t, true
}

func atoi(s string, loc []int, group int) int {
	start, end := loc[2*group], loc[2*group+1]
	if start < 0 {
		return 0
	}
	n, err := strconv.Atoi(s[start:end])
	if err != nil {
		return 0
	}
	return n
}

// spanDistance is the byte gap between two spans, 0 when they overlap.
func spanDistance(aStart, aEnd, bStart, bEnd int) int {
	switch {
	case aEnd <= bStart:
		return bStart - aEnd
	case bEnd <= aStart:
		return aStart - bEnd
	default:
		return 0
	}
}
