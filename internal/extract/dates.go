package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const monthPattern = `(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)`

// datePattern matches the date shapes ParseDate understands, ISO first so
// "2025-03-01" is not read as a day/month/year triple.
const datePattern = `(?:\d{4}-\d{1,2}-\d{1,2}` +
	`|\d{1,2}[/.\-]\d{1,2}[/.\-]\d{2,4}` +
	`|\d{1,2}(?:st|nd|rd|th)?\s+(?:of\s+)?` + monthPattern + `,?\s+\d{4}` +
	`|` + monthPattern + `\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4})`

var (
	ordinalSuffix  = regexp.MustCompile(`(\d{1,2})(?:st|nd|rd|th)\b`)
	isoDate        = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)
	numericDate    = regexp.MustCompile(`^(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{2,4})$`)
	dayMonthYear   = regexp.MustCompile(`^(\d{1,2}) ([a-z]+) (\d{4})$`)
	monthDayYear   = regexp.MustCompile(`^([a-z]+) (\d{1,2}) (\d{4})$`)
	dateRange      = regexp.MustCompile(`(?i)(` + datePattern + `)\s*(?:-|–|—|to|until|till)\s*(` + datePattern + `)`)
	endDateMention = regexp.MustCompile(`(?i)(?:ends?|ending|until|till|expires?|valid\s+(?:until|to)|closing\s+date:?|offer\s+ends:?)\s+(?:on\s+)?(` + datePattern + `)`)
	fromDateStart  = regexp.MustCompile(`(?i)(?:from|starts?|starting|valid\s+from)\s+(?:on\s+)?(` + datePattern + `)`)
)

var months = []string{
	"january", "february", "march", "april", "may", "june",
	"july", "august", "september", "october", "november", "december",
}

// ParseDate reads day/month/year numeric dates (with /, - or . separators),
// ISO dates, and written dates such as "31st March 2025" or "March 31, 2025".
// The result is midnight UTC. Unparseable input reports false.
func ParseDate(s string) (time.Time, bool) {
	s = strings.ToLower(clean(s))
	if s == "" {
		return time.Time{}, false
	}
	if len(s) > 10 && s[4] == '-' && s[7] == '-' {
		// ISO timestamps such as 2025-03-31T23:59:00Z keep only the date.
		s = s[:10]
	}
	if m := isoDate.FindStringSubmatch(s); m != nil {
		return dateOnly(atoi(m[1]), atoi(m[2]), atoi(m[3]))
	}
	if m := numericDate.FindStringSubmatch(s); m != nil {
		year := atoi(m[3])
		if len(m[3]) == 2 {
			year += 2000
		}
		return dateOnly(year, atoi(m[2]), atoi(m[1]))
	}

	s = ordinalSuffix.ReplaceAllString(s, "$1")
	s = strings.ReplaceAll(s, ",", " ")
	s = strings.ReplaceAll(s, " of ", " ")
	s = clean(s)
	if m := dayMonthYear.FindStringSubmatch(s); m != nil {
		if month := monthNumber(m[2]); month > 0 {
			return dateOnly(atoi(m[3]), month, atoi(m[1]))
		}
	}
	if m := monthDayYear.FindStringSubmatch(s); m != nil {
		if month := monthNumber(m[1]); month > 0 {
			return dateOnly(atoi(m[3]), month, atoi(m[2]))
		}
	}
	return time.Time{}, false
}

// DateRange finds an offer validity window in free text. Either end may be
// absent.
func DateRange(text string) (start, end *time.Time) {
	if m := dateRange.FindStringSubmatch(text); m != nil {
		start = datePtr(m[1])
		end = datePtr(m[2])
		if start != nil && end != nil {
			return start, end
		}
	}
	if end == nil {
		if m := endDateMention.FindStringSubmatch(text); m != nil {
			end = datePtr(m[1])
		}
	}
	if start == nil {
		if m := fromDateStart.FindStringSubmatch(text); m != nil {
			start = datePtr(m[1])
		}
	}
	return start, end
}

func datePtr(s string) *time.Time {
	t, ok := ParseDate(s)
	if !ok {
		return nil
	}
	return &t
}

func monthNumber(token string) int {
	if len(token) < 3 {
		return 0
	}
	for i, name := range months {
		if strings.HasPrefix(name, token) {
			return i + 1
		}
	}
	return 0
}

func dateOnly(year, month, day int) (time.Time, bool) {
	if year < 1900 || month < 1 || month > 12 || day < 1 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes overflow (31 Feb -> 3 Mar); reject it instead.
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
