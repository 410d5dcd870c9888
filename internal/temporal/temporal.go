package temporal

import (
	"fmt"
	"strings"
	"time"
)

// DTDC packs dates as DDMMYYYY and times as HHMM, with no separators.
// Malformed tokens always normalize to nil: callers treat nil as "unknown",
// never as an error.

const (
	dateTokenLen = 8
	timeTokenLen = 4
)

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseDate parses a DDMMYYYY token into a UTC-midnight date.
func ParseDate(token string) *time.Time {
	token = strings.TrimSpace(token)
	if len(token) != dateTokenLen || !allDigits(token) {
		return nil
	}
	d, err := time.ParseInLocation("02012006", token, time.UTC)
	if err != nil {
		return nil
	}
	return &d
}

// ParseTimeOfDay parses an HHMM token.
func ParseTimeOfDay(token string) *TimeOfDay {
	token = strings.TrimSpace(token)
	if len(token) != timeTokenLen || !allDigits(token) {
		return nil
	}
	h := int(token[0]-'0')*10 + int(token[1]-'0')
	m := int(token[2]-'0')*10 + int(token[3]-'0')
	if h > 23 || m > 59 {
		return nil
	}
	return &TimeOfDay{Hour: h, Minute: m}
}

// ParseClock parses a stored "HH:MM" string back into a TimeOfDay.
// Exactly five characters, both halves zero-padded digits.
func ParseClock(s string) *TimeOfDay {
	if len(s) != 5 || s[2] != ':' || !allDigits(s[:2]) || !allDigits(s[3:]) {
		return nil
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if h > 23 || m > 59 {
		return nil
	}
	return &TimeOfDay{Hour: h, Minute: m}
}

// Combine merges a date and an optional time-of-day into one timestamp.
// A nil time degrades to midnight; a nil date yields nil.
func Combine(date *time.Time, tod *TimeOfDay) *time.Time {
	if date == nil {
		return nil
	}
	ts := *date
	if tod != nil {
		ts = time.Date(ts.Year(), ts.Month(), ts.Day(), tod.Hour, tod.Minute, 0, 0, time.UTC)
	}
	return &ts
}

// ParseStamp parses a combined date-time token: DDMMYYYYHHMM, or DDMMYYYY
// alone, tolerating a single space between the two halves.
func ParseStamp(token string) *time.Time {
	token = strings.ReplaceAll(strings.TrimSpace(token), " ", "")
	switch len(token) {
	case dateTokenLen:
		return ParseDate(token)
	case dateTokenLen + timeTokenLen:
		return Combine(ParseDate(token[:dateTokenLen]), ParseTimeOfDay(token[dateTokenLen:]))
	default:
		return nil
	}
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
