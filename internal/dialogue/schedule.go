package dialogue

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	morningHour   = 9
	afternoonHour = 14
	eveningHour   = 18
	defaultHour   = 10
)

var weekdayWords = map[string]time.Weekday{
	"domingo": time.Sunday, "segunda": time.Monday, "terca": time.Tuesday, "quarta": time.Wednesday,
	"quinta": time.Thursday, "sexta": time.Friday, "sabado": time.Saturday,
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
}

var (
	explicitDate = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})\b`)
	explicitHour = regexp.MustCompile(`\b(?:as |at )?(\d{1,2})(?:h(\d{2})?|:(\d{2})| ?horas?| ?hrs?| ?am| ?pm)\b`)
)

// Preference is a resolved scheduling request.
type Preference struct {
	Start   time.Time
	Matched bool // false when nothing in the text named a day or time
}

// ParsePreference resolves free text such as "amanhã de manhã", "sexta à
// tarde" or "10/06 às 15h" to a start time in loc. Without a day it picks
// the next day; without a period it picks 10:00.
func ParsePreference(text string, now time.Time, loc *time.Location) Preference {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	m := newMatcher(text)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	day := today.AddDate(0, 0, 1)
	matched := false

	switch {
	case m.has("depois de amanha", "day after tomorrow"):
		day, matched = today.AddDate(0, 0, 2), true
	case m.has("amanha", "tomorrow"):
		day, matched = today.AddDate(0, 0, 1), true
	case m.has("hoje", "today"):
		day, matched = today, true
	default:
		for _, w := range m.words {
			if wd, ok := weekdayWords[w]; ok {
				ahead := (int(wd) - int(today.Weekday()) + 7) % 7
				if ahead == 0 {
					ahead = 7
				}
				day, matched = today.AddDate(0, 0, ahead), true
				break
			}
		}
	}
	if d := explicitDate.FindStringSubmatch(text); d != nil {
		dd, _ := strconv.Atoi(d[1])
		mm, _ := strconv.Atoi(d[2])
		if mm >= 1 && mm <= 12 && dd >= 1 && dd <= 31 {
			candidate := time.Date(today.Year(), time.Month(mm), dd, 0, 0, 0, 0, loc)
			if candidate.Before(today) {
				candidate = candidate.AddDate(1, 0, 0)
			}
			day, matched = candidate, true
		}
	}

	hour, minute := defaultHour, 0
	switch {
	case m.has("manha", "morning", "cedo"):
		hour, matched = morningHour, true
	case m.has("tarde", "afternoon"):
		hour, matched = afternoonHour, true
	case m.has("noite", "evening", "night"):
		hour, matched = eveningHour, true
	}
	if h := explicitHour.FindStringSubmatch(strings.ToLower(text)); h != nil {
		if v, err := strconv.Atoi(h[1]); err == nil && v >= 0 && v <= 23 {
			hour, minute, matched = v, 0, true
			if mins := firstNonEmpty(h[2], h[3]); mins != "" {
				if mv, err := strconv.Atoi(mins); err == nil && mv < 60 {
					minute = mv
				}
			}
			if hour < 12 && m.has("pm") {
				hour += 12
			}
		}
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
	if !start.After(now) {
		start = start.AddDate(0, 0, 1)
	}
	return Preference{Start: start, Matched: matched}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var weekdayNamesPT = [...]string{"domingo", "segunda-feira", "terça-feira", "quarta-feira", "quinta-feira", "sexta-feira", "sábado"}

// FormatSlot renders t for a confirmation message.
func FormatSlot(t time.Time) string {
	return fmt.Sprintf("%s, %s às %s", weekdayNamesPT[t.Weekday()], t.Format("02/01"), t.Format("15:04"))
}
