// Package timeparse resolves the date, time and duration expressions people
// type into chat ("tomorrow at 9am", "next friday", "for 30 minutes") into
// absolute values relative to a reference instant and time zone.
package timeparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultHour is used when an expression names a day but no time of day.
const DefaultHour = 9

const tonightHour = 20

// Match is a resolved date/time expression.
type Match struct {
	Time    time.Time
	HasDate bool
	HasTime bool
	// Phrases are the normalized fragments of the input that produced the
	// match, so callers can strip them from free text.
	Phrases []string
}

var (
	reRelative  = regexp.MustCompile(`\bin\s+(\d+|an?|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve)\s+(minutes?|mins?|hours?|hrs?|days?|weeks?)\b`)
	reDayAfter  = regexp.MustCompile(`\bday after tomorrow\b`)
	reToday     = regexp.MustCompile(`\btoday\b`)
	reTonight   = regexp.MustCompile(`\btonight\b`)
	reTomorrow  = regexp.MustCompile(`\b(?:tomorrow|tmrw)\b`)
	reYesterday = regexp.MustCompile(`\byesterday\b`)
	reWeekday   = regexp.MustCompile(`\b(?:(next|this|on)\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	reISODate   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	reMonthDay  = regexp.MustCompile(`\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s+(\d{4}))?\b`)
	reDayMonth  = regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\b(?:\s+(\d{4}))?`)
	reClock     = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\s*(am|pm)?\b`)
	reMeridiem  = regexp.MustCompile(`\b(\d{1,2})\s*(am|pm)\b`)
	reAtHour    = regexp.MustCompile(`\bat\s+(\d{1,2})(?:\s*o'?clock)?\b`)
	reNoon      = regexp.MustCompile(`\b(?:at\s+)?noon\b`)
	reMidnight  = regexp.MustCompile(`\b(?:at\s+)?midnight\b`)
	// One-letter units only follow digits: "2h", "90m". Otherwise "9 am"
	// would read as "a" + "m".
	reDurHours   = regexp.MustCompile(`\b(?:(\d+(?:\.\d+)?|an?|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve)\s*(?:hours?|hrs?)|(\d+(?:\.\d+)?)\s*h)\b`)
	reDurMinutes = regexp.MustCompile(`\b(?:(\d+|a|one|two|three|four|five|ten|fifteen|twenty|thirty|forty|forty-five|fifty|sixty|ninety)\s*(?:minutes?|mins?)|(\d+)\s*m)\b`)
	reHalfHour   = regexp.MustCompile(`\bhalf (?:an )?hour\b`)
	reDurDays    = regexp.MustCompile(`\b(\d+|a|one|two|three)\s*(?:days?)\b`)
)

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
}

var wordNumbers = map[string]float64{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
	"fifteen": 15, "twenty": 20, "thirty": 30, "forty": 40, "forty-five": 45,
	"fifty": 50, "sixty": 60, "ninety": 90,
}

// Normalize lowercases text and rewrites punctuation the matchers do not
// care about. It is exported so extractors can strip Match.Phrases from
// the same representation.
func Normalize(text string) string {
	s := strings.ToLower(text)
	s = strings.NewReplacer("a.m.", "am", "p.m.", "pm", ",", " ", "!", " ", "?", " ", ";", " ", "\n", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

func number(s string) (float64, bool) {
	if n, ok := wordNumbers[s]; ok {
		return n, true
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

type dateHit struct {
	y           int
	m           time.Month
	d           int
	phrase      string
	defaultHour int // overrides DefaultHour ("tonight")
}

type timeHit struct {
	h, min int
	phrase string
}

// Extract finds the first date and/or time expression in text and resolves
// it against now in loc. It reports false when nothing parseable is found.
func Extract(text string, now time.Time, loc *time.Location) (Match, bool) {
	if loc == nil {
		loc = time.UTC
	}
	s := Normalize(text)
	nowL := now.In(loc)

	if m := reRelative.FindStringSubmatch(s); m != nil {
		if n, ok := number(m[1]); ok {
			unit := m[2]
			switch {
			case strings.HasPrefix(unit, "min"):
				t := nowL.Add(time.Duration(n * float64(time.Minute)))
				return Match{Time: t, HasDate: true, HasTime: true, Phrases: []string{m[0]}}, true
			case strings.HasPrefix(unit, "h"):
				t := nowL.Add(time.Duration(n * float64(time.Hour)))
				return Match{Time: t, HasDate: true, HasTime: true, Phrases: []string{m[0]}}, true
			case strings.HasPrefix(unit, "day"), strings.HasPrefix(unit, "week"):
				days := int(n)
				if strings.HasPrefix(unit, "week") {
					days *= 7
				}
				d := nowL.AddDate(0, 0, days)
				hit := &dateHit{y: d.Year(), m: d.Month(), d: d.Day(), phrase: m[0]}
				return combine(hit, findTime(s), nowL, loc), true
			}
		}
	}

	date := findDate(s, nowL)
	tm := findTime(s)
	if date == nil && tm == nil {
		return Match{}, false
	}
	return combine(date, tm, nowL, loc), true
}

func combine(date *dateHit, tm *timeHit, nowL time.Time, loc *time.Location) Match {
	var out Match
	switch {
	case date != nil && tm != nil:
		out.Time = time.Date(date.y, date.m, date.d, tm.h, tm.min, 0, 0, loc)
		out.HasDate, out.HasTime = true, true
		out.Phrases = []string{date.phrase, tm.phrase}
	case date != nil:
		hour := DefaultHour
		if date.defaultHour > 0 {
			hour = date.defaultHour
		}
		out.Time = time.Date(date.y, date.m, date.d, hour, 0, 0, 0, loc)
		out.HasDate = true
		out.Phrases = []string{date.phrase}
	default:
		t := time.Date(nowL.Year(), nowL.Month(), nowL.Day(), tm.h, tm.min, 0, 0, loc)
		if t.Before(nowL) {
			t = t.AddDate(0, 0, 1)
		}
		out.Time = t
		out.HasTime = true
		out.Phrases = []string{tm.phrase}
	}
	return out
}

func findDate(s string, nowL time.Time) *dateHit {
	day := func(offset int, phrase string) *dateHit {
		d := nowL.AddDate(0, 0, offset)
		return &dateHit{y: d.Year(), m: d.Month(), d: d.Day(), phrase: phrase}
	}

	if m := reDayAfter.FindString(s); m != "" {
		return day(2, m)
	}
	if m := reTomorrow.FindString(s); m != "" {
		return day(1, m)
	}
	if m := reTonight.FindString(s); m != "" {
		hit := day(0, m)
		hit.defaultHour = tonightHour
		return hit
	}
	if m := reToday.FindString(s); m != "" {
		return day(0, m)
	}
	if m := reYesterday.FindString(s); m != "" {
		return day(-1, m)
	}
	if m := reISODate.FindStringSubmatch(s); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		if validDate(y, time.Month(mo), d) {
			return &dateHit{y: y, m: time.Month(mo), d: d, phrase: m[0]}
		}
	}
	if m := reMonthDay.FindStringSubmatch(s); m != nil {
		if hit := monthDay(m[1], m[2], m[3], m[0], nowL); hit != nil {
			return hit
		}
	}
	if m := reDayMonth.FindStringSubmatch(s); m != nil {
		if hit := monthDay(m[2], m[1], m[3], m[0], nowL); hit != nil {
			return hit
		}
	}
	if m := reWeekday.FindStringSubmatch(s); m != nil {
		target := weekdays[m[2]]
		diff := (int(target) - int(nowL.Weekday()) + 7) % 7
		if diff == 0 && m[1] != "this" {
			diff = 7
		}
		return day(diff, m[0])
	}
	return nil
}

func monthDay(monthStr, dayStr, yearStr, phrase string, nowL time.Time) *dateHit {
	mo, ok := months[monthStr[:3]]
	if !ok {
		return nil
	}
	d, err := strconv.Atoi(dayStr)
	if err != nil {
		return nil
	}
	y := nowL.Year()
	explicitYear := false
	if yearStr != "" {
		if parsed, err := strconv.Atoi(yearStr); err == nil {
			y = parsed
			explicitYear = true
		}
	}
	if !validDate(y, mo, d) {
		return nil
	}
	if !explicitYear {
		today := time.Date(nowL.Year(), nowL.Month(), nowL.Day(), 0, 0, 0, 0, nowL.Location())
		if time.Date(y, mo, d, 0, 0, 0, 0, nowL.Location()).Before(today) {
			y++
		}
	}
	return &dateHit{y: y, m: mo, d: d, phrase: phrase}
}

func validDate(y int, m time.Month, d int) bool {
	if m < time.January || m > time.December || d < 1 || d > 31 {
		return false
	}
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return t.Month() == m && t.Day() == d
}

func findTime(s string) *timeHit {
	if m := reClock.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		if h, ok := applyMeridiem(h, m[3]); ok && min < 60 {
			return &timeHit{h: h, min: min, phrase: m[0]}
		}
	}
	if m := reMeridiem.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		if h, ok := applyMeridiem(h, m[2]); ok {
			return &timeHit{h: h, phrase: m[0]}
		}
	}
	if m := reNoon.FindString(s); m != "" {
		return &timeHit{h: 12, phrase: m}
	}
	if m := reMidnight.FindString(s); m != "" {
		return &timeHit{h: 0, phrase: m}
	}
	if m := reAtHour.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		if h >= 0 && h < 24 {
			// A bare "at 3" almost always means the afternoon.
			if h >= 1 && h <= 7 {
				h += 12
			}
			return &timeHit{h: h, phrase: m[0]}
		}
	}
	return nil
}

func applyMeridiem(h int, meridiem string) (int, bool) {
	switch meridiem {
	case "am":
		if h < 1 || h > 12 {
			return 0, false
		}
		if h == 12 {
			return 0, true
		}
		return h, true
	case "pm":
		if h < 1 || h > 12 {
			return 0, false
		}
		if h == 12 {
			return 12, true
		}
		return h + 12, true
	default:
		if h < 0 || h > 23 {
			return 0, false
		}
		return h, true
	}
}

// ParseDuration finds a length-of-time expression ("for 30 minutes",
// "1.5 hours", "an hour and a half", "2h") in text. Relative offsets such
// as "in 2 hours" are ignored because they describe a start, not a length.
func ParseDuration(text string) (time.Duration, bool) {
	s := reRelative.ReplaceAllString(Normalize(text), " ")

	var total time.Duration
	found := false
	if reHalfHour.MatchString(s) {
		total += 30 * time.Minute
		found = true
		s = reHalfHour.ReplaceAllString(s, " ")
	}
	if m := reDurHours.FindStringSubmatch(s); m != nil {
		if n, ok := number(firstGroup(m)); ok && n > 0 {
			total += time.Duration(n * float64(time.Hour))
			found = true
			if strings.Contains(s, m[0]+" and a half") {
				total += 30 * time.Minute
			}
		}
	}
	if m := reDurMinutes.FindStringSubmatch(s); m != nil {
		if n, ok := number(firstGroup(m)); ok && n > 0 {
			total += time.Duration(n * float64(time.Minute))
			found = true
		}
	}
	if !found {
		if m := reDurDays.FindStringSubmatch(s); m != nil {
			if n, ok := number(m[1]); ok && n > 0 {
				total += time.Duration(n) * 24 * time.Hour
				found = true
			}
		}
	}
	if !found || total <= 0 {
		return 0, false
	}
	return total, true
}

// firstGroup returns the first non-empty capture of a match whose
// alternatives each capture the number.
func firstGroup(m []string) string {
	for _, g := range m[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}
