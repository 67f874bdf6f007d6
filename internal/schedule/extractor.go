// Package schedule extracts the confirmed interview slot from call
// transcripts.
//
// The conversation script makes the agent restate any agreed slot in the
// fixed "MM-DD-YYYY at HH:MM AM/PM" template, so the standardized pattern is
// checked first. Older transcripts and off-script confirmations fall back to
// loose date/time phrase matching, and optionally to an LLM pass when regex
// finds nothing.
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Slot is an extracted interview date and time.
type Slot struct {
	// Date is the interview date at midnight local time.
	Date time.Time

	// FormattedDate is DD-MM-YYYY.
	FormattedDate string

	// FormattedTime is HH:MM in 24-hour form.
	FormattedTime string

	// RawDate and RawTime are the matched transcript fragments.
	RawDate string
	RawTime string

	// Method records how the slot was found: "standardized", "legacy" or "llm".
	Method string
}

// Standardized confirmation emitted by the scripted agent.
var standardizedPattern = regexp.MustCompile(
	`(?is)confirm.*?interview.*?on\s*(\d{2}-\d{2}-\d{4})\s*at\s*(\d{1,2}:\d{2}\s*(?:AM|PM))`)

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)([A-Za-z]+\s+\d{1,2}(?:st|nd|rd|th)?)`),   // June 29th
	regexp.MustCompile(`(?i)(\d{1,2}(?:st|nd|rd|th)?\s+[A-Za-z]+)`),   // 29th June
	regexp.MustCompile(`(\d{1,2}[-/]\d{1,2}[-/]\d{4})`),               // 29-06-2025
	regexp.MustCompile(`(\d{4}[-/]\d{1,2}[-/]\d{1,2})`),               // 2025-06-29
	regexp.MustCompile(`(?i)(tomorrow|today|next\s+week)`),            // relative
}

var timePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\d{1,2}[:.]?\d{0,2}\s*(?:AM|PM))`), // 4:30 PM, 4PM
	regexp.MustCompile(`(?i)(morning|afternoon|evening)`),
}

var monthNames = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June, "july": time.July,
	"august": time.August, "september": time.September, "october": time.October,
	"november": time.November, "december": time.December,
}

var ordinalSuffix = regexp.MustCompile(`(?i)(\d{1,2})(?:st|nd|rd|th)`)

// Extractor parses transcripts for a confirmed slot. The zero value uses
// time.Now as the reference clock for relative dates and year inference.
type Extractor struct {
	// Now overrides the reference clock, for tests.
	Now func() time.Time
}

func (e *Extractor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Extract scans transcript content for the confirmed interview slot.
// Returns false when no slot can be found.
func (e *Extractor) Extract(content string) (Slot, bool) {
	if m := standardizedPattern.FindStringSubmatch(content); m != nil {
		if slot, ok := e.fromStandardized(m[1], m[2]); ok {
			return slot, true
		}
	}

	var dates, times []string
	for _, re := range datePatterns {
		dates = append(dates, re.FindAllString(content, -1)...)
	}
	for _, re := range timePatterns {
		times = append(times, re.FindAllString(content, -1)...)
	}
	if len(dates) == 0 || len(times) == 0 {
		return Slot{}, false
	}

	// The last mention is most likely the confirmed one; the loose patterns
	// also pick up fragments like "at 4", so walk backwards until something
	// actually parses.
	var (
		rawDate string
		date    time.Time
	)
	for i := len(dates) - 1; i >= 0; i-- {
		if d, ok := e.parseDate(strings.TrimSpace(dates[i])); ok {
			rawDate = strings.TrimSpace(dates[i])
			date = d
			break
		}
	}
	if rawDate == "" {
		return Slot{}, false
	}

	var rawTime, clock string
	for i := len(times) - 1; i >= 0; i-- {
		if c, ok := parseClock(strings.TrimSpace(times[i])); ok {
			rawTime = strings.TrimSpace(times[i])
			clock = c
			break
		}
	}
	if rawTime == "" {
		return Slot{}, false
	}

	return Slot{
		Date:          date,
		FormattedDate: date.Format("02-01-2006"),
		FormattedTime: clock,
		RawDate:       rawDate,
		RawTime:       rawTime,
		Method:        "legacy",
	}, true
}

func (e *Extractor) fromStandardized(dateText, timeText string) (Slot, bool) {
	date, err := time.ParseInLocation("01-02-2006", dateText, time.Local)
	if err != nil {
		return Slot{}, false
	}
	clock, ok := parseClock(timeText)
	if !ok {
		return Slot{}, false
	}
	return Slot{
		Date:          date,
		FormattedDate: date.Format("02-01-2006"),
		FormattedTime: clock,
		RawDate:       dateText,
		RawTime:       timeText,
		Method:        "standardized",
	}, true
}

// parseDate handles relative phrases, month-name forms and numeric forms.
// Month-name dates without a year assume the current year, or the next one
// if the date has already passed.
func (e *Extractor) parseDate(text string) (time.Time, bool) {
	now := e.now()
	lower := strings.ToLower(strings.TrimSpace(text))

	switch {
	case strings.Contains(lower, "tomorrow"):
		return midnight(now.AddDate(0, 0, 1)), true
	case strings.Contains(lower, "today"):
		return midnight(now), true
	case strings.Contains(lower, "next week"):
		return midnight(now.AddDate(0, 0, 7)), true
	}

	text = ordinalSuffix.ReplaceAllString(text, "$1")

	// Numeric forms.
	for _, layout := range []string{"2-1-2006", "2/1/2006", "2006-1-2", "2006/1/2"} {
		if d, err := time.ParseInLocation(layout, text, time.Local); err == nil {
			return d, true
		}
	}

	// Month-name forms: "June 29" or "29 June".
	fields := strings.Fields(text)
	if len(fields) == 2 {
		var month time.Month
		var day int
		if m, ok := monthNames[strings.ToLower(fields[0])]; ok {
			month = m
			day, _ = strconv.Atoi(fields[1])
		} else if m, ok := monthNames[strings.ToLower(fields[1])]; ok {
			month = m
			day, _ = strconv.Atoi(fields[0])
		}
		if month != 0 && day >= 1 && day <= 31 {
			d := time.Date(now.Year(), month, day, 0, 0, 0, 0, time.Local)
			if d.Before(midnight(now)) {
				d = d.AddDate(1, 0, 0)
			}
			return d, true
		}
	}

	return time.Time{}, false
}

// parseClock normalizes a spoken time to HH:MM 24-hour form.
func parseClock(text string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))

	switch {
	case strings.Contains(lower, "morning"):
		return "09:00", true
	case strings.Contains(lower, "afternoon"):
		return "14:00", true
	case strings.Contains(lower, "evening"):
		return "18:00", true
	}

	pm := strings.Contains(lower, "pm")
	am := strings.Contains(lower, "am")

	m := regexp.MustCompile(`(\d{1,2})[:.](\d{2})`).FindStringSubmatch(lower)
	var hours, minutes int
	if m != nil {
		hours, _ = strconv.Atoi(m[1])
		minutes, _ = strconv.Atoi(m[2])
	} else {
		m = regexp.MustCompile(`(\d{1,2})`).FindStringSubmatch(lower)
		if m == nil {
			return "", false
		}
		hours, _ = strconv.Atoi(m[1])
	}
	if hours > 23 || minutes > 59 {
		return "", false
	}

	if pm && hours != 12 {
		hours += 12
	} else if am && hours == 12 {
		hours = 0
	}

	return fmt.Sprintf("%02d:%02d", hours, minutes), true
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
