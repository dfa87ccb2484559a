package scheduler

import (
	"fmt"
	"strings"
	"time"

	rrule "github.com/teambition/rrule-go"
)

// nextFire returns the first occurrence of the schedule's calendar
// strictly after the given time, or the zero time when the calendar is
// exhausted. Times without an explicit zone are read in the schedule's
// timezone; an empty timezone means UTC.
func nextFire(ical, timezone string, after time.Time) (time.Time, error) {
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("schedule timezone %q: %w", timezone, err)
		}
		loc = l
	}
	src := normalizeVEvent(ical)
	if src == "" {
		return time.Time{}, fmt.Errorf("schedule calendar has no recurrence lines")
	}
	set, err := rrule.StrSliceToRRuleSetInLoc(strings.Split(src, "\n"), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse schedule calendar: %w", err)
	}
	// A bare DTSTART is a single occurrence. The rrule set treats it
	// only as the recurrence anchor, so promote it to an RDATE.
	if set.GetRRule() == nil && len(set.GetRDate()) == 0 {
		set.RDate(set.GetDTStart())
	}
	return set.After(after, false), nil
}

// normalizeVEvent reduces an iCalendar VEVENT block to the recurrence
// lines the rrule parser understands: folded lines are joined, and
// everything but DTSTART, RRULE, RDATE, EXDATE and EXRULE is dropped.
func normalizeVEvent(ical string) string {
	unfolded := strings.ReplaceAll(ical, "\r\n", "\n")
	unfolded = strings.ReplaceAll(unfolded, "\n ", "")
	unfolded = strings.ReplaceAll(unfolded, "\n\t", "")

	var keep []string
	for _, line := range strings.Split(unfolded, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name := line
		if i := strings.IndexAny(line, ":;"); i >= 0 {
			name = line[:i]
		}
		switch strings.ToUpper(name) {
		case "DTSTART", "RRULE", "RDATE", "EXDATE", "EXRULE":
			keep = append(keep, line)
		}
	}
	return strings.Join(keep, "\n")
}
